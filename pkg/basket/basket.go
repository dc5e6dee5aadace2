// Package basket turns one basket request into independent leg orders that
// share a correlation id.
package basket

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/joripage/matchcore/pkg/instrument"
	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/shopspring/decimal"
)

// MaxLegs is fixed. It follows the composite constituent limit.
const MaxLegs = instrument.MaxConstituents

type Leg struct {
	Symbol   string
	Side     orderbook.Side
	Price    decimal.NullDecimal
	Quantity int64
}

type Request struct {
	// ID becomes the correlation id of every leg; generated when empty.
	ID       string
	TraderID string
	// Symbol optionally names the composite the basket trades.
	Symbol string
	Legs   []Leg
}

type Expander struct {
	newID func() string
}

// NewExpander returns an Expander using newID for basket ids, uuid when nil.
func NewExpander(newID func() string) *Expander {
	if newID == nil {
		newID = uuid.NewString
	}
	return &Expander{newID: newID}
}

// Expand validates every leg before producing any order. A request with more
// than MaxLegs legs fails with instrument.ErrLimitExceeded.
func (x *Expander) Expand(req *Request) ([]*orderbook.Order, error) {
	if req == nil || len(req.Legs) == 0 {
		return nil, errNoLegs
	}
	if len(req.Legs) > MaxLegs {
		return nil, fmt.Errorf("%w: basket has %d legs", instrument.ErrLimitExceeded, len(req.Legs))
	}
	for i, leg := range req.Legs {
		if err := validateLeg(leg); err != nil {
			return nil, fmt.Errorf("leg %d: %w", i, err)
		}
	}

	basketID := req.ID
	if basketID == "" {
		basketID = x.newID()
	}

	orders := make([]*orderbook.Order, 0, len(req.Legs))
	for i, leg := range req.Legs {
		orders = append(orders, &orderbook.Order{
			ID:       LegID(basketID, i),
			TraderID: req.TraderID,
			Side:     leg.Side,
			Symbol:   leg.Symbol,
			Price:    leg.Price,
			Quantity: leg.Quantity,
			BasketID: basketID,
			LegIndex: i,
		})
	}
	return orders, nil
}

// LegID is the order id of leg i of a basket.
func LegID(basketID string, i int) string {
	return fmt.Sprintf("%s-%d", basketID, i)
}

func validateLeg(leg Leg) error {
	switch {
	case leg.Symbol == "":
		return errEmptySymbol
	case !leg.Side.Valid():
		return errInvalidSide
	case leg.Quantity <= 0:
		return errInvalidQty
	case leg.Price.Valid && !leg.Price.Decimal.IsPositive():
		return errInvalidPrice
	}
	return nil
}
