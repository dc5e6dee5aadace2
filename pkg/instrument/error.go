package instrument

import "errors"

var (
	// ErrLimitExceeded is returned when a composite or basket names more than
	// MaxConstituents instruments.
	ErrLimitExceeded = errors.New("cannot add more than 3 underlying instruments")

	errEmptySymbol       = errors.New("symbol cannot be empty")
	errNoConstituents    = errors.New("composite needs at least one constituent")
	errDuplicateSymbol   = errors.New("symbol already registered")
	errSelfReference     = errors.New("composite cannot reference itself")
	errCompositeNotPlain = errors.New("constituent is a composite instrument")
)
