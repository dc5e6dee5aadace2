package orderbook

import "errors"

var (
	// ErrManagerStopped is returned for commands issued after Stop.
	ErrManagerStopped = errors.New("order book manager stopped")

	errUnknownCommand = errors.New("unknown command")
	errDuplicateOrder = errors.New("duplicate order id")
	errInvalidOrder   = errors.New("invalid order")
)
