package eventstore

import "github.com/joripage/matchcore/pkg/oms/model"

type EventStore interface {
	AddEvent(ev *model.OrderEvent)
	GetEvents(orderID string) []*model.OrderEvent
	GetLatestEvent(orderID string) *model.OrderEvent
	// TrackBasket links a leg order to its basket correlation id.
	TrackBasket(basketID, orderID string)
	GetBasketOrders(basketID string) []string
}
