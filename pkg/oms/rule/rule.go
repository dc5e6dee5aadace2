package rule

import (
	"errors"

	"github.com/joripage/matchcore/pkg/orderbook"
)

var (
	errCompositeSymbol = errors.New("orders cannot target a composite instrument")
	errInvalidTickSize = errors.New("invalid tick size")
)

// Rule checks an order before it is routed to its book. A non-nil error
// rejects the request synchronously.
type Rule interface {
	Check(order *orderbook.Order) error
}

// Chain runs rules in order and stops at the first failure.
type Chain []Rule

func (c Chain) Check(order *orderbook.Order) error {
	for _, r := range c {
		if err := r.Check(order); err != nil {
			return err
		}
	}
	return nil
}
