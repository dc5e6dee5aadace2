package oms

import (
	"fmt"

	"github.com/joripage/matchcore/pkg/orderbook"
)

// orderRef locates an id. Order ids and basket ids share one namespace so a
// cancel can tell them apart.
type orderRef struct {
	symbol string
	basket bool
}

func (s *OMS) reserve(id string, ref orderRef) error {
	if _, loaded := s.orderIDMapping.LoadOrStore(id, ref); loaded {
		return validationError(fmt.Errorf("%w: %s", errDuplicateOrder, id))
	}
	return nil
}

// reserveBasket claims the basket id and every leg id, or none of them.
func (s *OMS) reserveBasket(basketID string, legs []*orderbook.Order) error {
	if err := s.reserve(basketID, orderRef{basket: true}); err != nil {
		return err
	}
	for i, leg := range legs {
		if err := s.reserve(leg.ID, orderRef{symbol: leg.Symbol}); err != nil {
			for _, done := range legs[:i] {
				s.release(done.ID)
			}
			s.release(basketID)
			return err
		}
	}
	for _, leg := range legs {
		s.eventstore.TrackBasket(basketID, leg.ID)
	}
	return nil
}

func (s *OMS) lookup(id string) (orderRef, bool) {
	v, ok := s.orderIDMapping.Load(id)
	if !ok {
		return orderRef{}, false
	}
	return v.(orderRef), true
}

func (s *OMS) release(id string) {
	s.orderIDMapping.Delete(id)
}
