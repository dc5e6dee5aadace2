package basket

import "errors"

var (
	errNoLegs       = errors.New("basket needs at least one leg")
	errEmptySymbol  = errors.New("symbol cannot be empty")
	errInvalidSide  = errors.New("side must be BUY or SELL")
	errInvalidQty   = errors.New("quantity must be positive")
	errInvalidPrice = errors.New("limit price must be positive")
)
