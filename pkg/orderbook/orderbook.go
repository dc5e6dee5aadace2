package orderbook

import (
	"github.com/google/btree"
)

const bookDegree = 32

// orderBook holds the live orders of one symbol.
//
// Each side is a btree keyed by (price, arrival seq). Market orders sort ahead
// of every priced order on their side. A partial fill never changes the key,
// so an order keeps its place in line.
type orderBook struct {
	symbol string

	bids *btree.BTreeG[*Order]
	asks *btree.BTreeG[*Order]

	ordersByID map[string]*Order
}

func newOrderBook(symbol string) *orderBook {
	return &orderBook{
		symbol:     symbol,
		bids:       btree.NewG(bookDegree, bidLess),
		asks:       btree.NewG(bookDegree, askLess),
		ordersByID: make(map[string]*Order),
	}
}

// comparePrice returns <0 when a is more aggressive than b on price alone.
// Market orders are the most aggressive on both sides.
func comparePrice(a, b *Order, descending bool) int {
	switch {
	case a.IsMarket() && b.IsMarket():
		return 0
	case a.IsMarket():
		return -1
	case b.IsMarket():
		return 1
	}
	c := a.Price.Decimal.Cmp(b.Price.Decimal)
	if descending {
		return -c
	}
	return c
}

func bidLess(a, b *Order) bool {
	if c := comparePrice(a, b, true); c != 0 {
		return c < 0
	}
	return a.Seq < b.Seq
}

func askLess(a, b *Order) bool {
	if c := comparePrice(a, b, false); c != 0 {
		return c < 0
	}
	return a.Seq < b.Seq
}

func (ob *orderBook) side(s Side) *btree.BTreeG[*Order] {
	if s == BUY {
		return ob.bids
	}
	return ob.asks
}

func (ob *orderBook) insert(order *Order) {
	ob.side(order.Side).ReplaceOrInsert(order)
	ob.ordersByID[order.ID] = order
}

func (ob *orderBook) bestBid() (*Order, bool) {
	return ob.bids.Min()
}

func (ob *orderBook) bestAsk() (*Order, bool) {
	return ob.asks.Min()
}

func (ob *orderBook) remove(orderID string) (*Order, bool) {
	order, ok := ob.ordersByID[orderID]
	if !ok {
		return nil, false
	}
	delete(ob.ordersByID, orderID)
	ob.side(order.Side).Delete(order)
	return order, true
}

func (ob *orderBook) get(orderID string) (*Order, bool) {
	order, ok := ob.ordersByID[orderID]
	return order, ok
}

func (ob *orderBook) len() int {
	return len(ob.ordersByID)
}

// Depth is a point-in-time copy of one book, best first on each side.
type Depth struct {
	Symbol string
	Bids   []Order
	Asks   []Order
}

func (ob *orderBook) depth() Depth {
	d := Depth{
		Symbol: ob.symbol,
		Bids:   make([]Order, 0, ob.bids.Len()),
		Asks:   make([]Order, 0, ob.asks.Len()),
	}
	ob.bids.Ascend(func(o *Order) bool {
		d.Bids = append(d.Bids, *o)
		return true
	})
	ob.asks.Ascend(func(o *Order) bool {
		d.Asks = append(d.Asks, *o)
		return true
	})
	return d
}
