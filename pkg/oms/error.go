package oms

import (
	"errors"

	"github.com/joripage/matchcore/pkg/instrument"
)

var (
	// ErrValidation wraps every synchronous rejection of a malformed request.
	ErrValidation = errors.New("invalid order")
	// ErrLimitExceeded is returned for baskets and composites with more than
	// three constituents.
	ErrLimitExceeded = instrument.ErrLimitExceeded
	// ErrOrderNotFound is returned by status queries for unknown ids.
	ErrOrderNotFound = errors.New("order not found")

	errNilRequest        = errors.New("request cannot be nil")
	errEmptySymbol       = errors.New("symbol cannot be empty")
	errInvalidSide       = errors.New("side must be BUY or SELL")
	errInvalidQuantity   = errors.New("quantity must be positive")
	errInvalidPrice      = errors.New("limit price must be positive")
	errDuplicateOrder    = errors.New("duplicate order id")
	errNotConstituent    = errors.New("leg symbol is not a constituent of the basket")
	errCompositePriceSet = errors.New("composite prices are derived from constituents")
	errUnknownRequest    = errors.New("unknown request type")
)
