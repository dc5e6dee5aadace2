package model

import (
	"fmt"
	"time"

	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/shopspring/decimal"
)

// OrderEvent is one entry of an order's audit trail.
type OrderEvent struct {
	EventID  string
	OrderID  string
	BasketID string
	TraderID string
	Symbol   string
	Side     OrderSide
	ExecType OrderExecType
	Status   orderbook.Status

	Price     decimal.NullDecimal
	Quantity  int64
	CumQty    int64
	LeavesQty int64

	// set on trades
	TradeSeq       uint64
	LastQty        int64
	LastPx         decimal.Decimal
	CounterOrderID string

	Text      string
	Timestamp time.Time
}

func NewOrderEvent(ex orderbook.Execution, ts time.Time) *OrderEvent {
	o := ex.Order
	ev := newEvent(o, execTypeMapping[ex.Kind], ts)
	if ex.Trade != nil {
		ev.TradeSeq = ex.Trade.Seq
		ev.LastQty = ex.Trade.Qty
		ev.LastPx = ex.Trade.Price
		ev.CounterOrderID = ex.Trade.SellOrderID
		if o.ID == ex.Trade.SellOrderID {
			ev.CounterOrderID = ex.Trade.BuyOrderID
		}
		ev.Timestamp = ex.Trade.Time
	}
	ev.EventID = NewEventID(o.ID, ev.ExecType, ev.TradeSeq)
	return ev
}

// NewOrderEventDeferred records that order crossed counterOrderID but no
// price was available.
func NewOrderEventDeferred(o orderbook.Order, counterOrderID string, ts time.Time) *OrderEvent {
	ev := newEvent(o, ExecTypeDeferred, ts)
	ev.CounterOrderID = counterOrderID
	ev.Text = "pricing unavailable"
	ev.EventID = fmt.Sprintf("%s-%s-%s", o.ID, ExecTypeDeferred, counterOrderID)
	return ev
}

func newEvent(o orderbook.Order, execType OrderExecType, ts time.Time) *OrderEvent {
	return &OrderEvent{
		OrderID:   o.ID,
		BasketID:  o.BasketID,
		TraderID:  o.TraderID,
		Symbol:    o.Symbol,
		Side:      OrderSide(o.Side),
		ExecType:  execType,
		Status:    o.Status,
		Price:     o.Price,
		Quantity:  o.Quantity,
		CumQty:    o.Quantity - o.Remaining,
		LeavesQty: leaves(o),
		Timestamp: ts,
	}
}

// leaves is zero once an order can no longer trade.
func leaves(o orderbook.Order) int64 {
	if o.Status.Terminal() {
		return 0
	}
	return o.Remaining
}

func NewEventID(orderID string, execType OrderExecType, seq uint64) string {
	if seq == 0 {
		return fmt.Sprintf("%s-%s", orderID, execType)
	}
	return fmt.Sprintf("%s-%s-%d", orderID, execType, seq)
}
