package eventstore

import (
	"sync"

	"github.com/joripage/matchcore/pkg/oms/model"
)

type InMemoryEventStore struct {
	mu      sync.RWMutex
	orders  map[string][]*model.OrderEvent
	baskets map[string][]string // BasketID -> leg OrderIDs
	// event ids already stored, so a replayed event is kept once
	seen map[string]struct{}
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		orders:  make(map[string][]*model.OrderEvent),
		baskets: make(map[string][]string),
		seen:    make(map[string]struct{}),
	}
}

func (s *InMemoryEventStore) AddEvent(ev *model.OrderEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[ev.EventID]; ok {
		return
	}
	s.seen[ev.EventID] = struct{}{}
	s.orders[ev.OrderID] = append(s.orders[ev.OrderID], ev)
}

// GetEvents returns the events of orderID oldest first.
func (s *InMemoryEventStore) GetEvents(orderID string) []*model.OrderEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.orders[orderID]
	out := make([]*model.OrderEvent, len(events))
	copy(out, events)
	return out
}

func (s *InMemoryEventStore) GetLatestEvent(orderID string) *model.OrderEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.orders[orderID]
	if len(events) == 0 {
		return nil
	}
	return events[len(events)-1]
}

func (s *InMemoryEventStore) TrackBasket(basketID, orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.baskets[basketID] = append(s.baskets[basketID], orderID)
}

func (s *InMemoryEventStore) GetBasketOrders(basketID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string(nil), s.baskets[basketID]...)
}
