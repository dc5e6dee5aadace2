package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one execution between a bid and an ask of the same symbol.
type Trade struct {
	Seq          uint64          `json:"seq"`
	Symbol       string          `json:"symbol"`
	BuyOrderID   string          `json:"buy_order_id"`
	SellOrderID  string          `json:"sell_order_id"`
	MakerOrderID string          `json:"maker_order_id"`
	Qty          int64           `json:"qty"`
	Price        decimal.Decimal `json:"price"`
	Time         time.Time       `json:"time"`
}

// Deferral records a crossing pair that could not trade because no price was
// available: neither order has a limit and the symbol has no reference price.
// Matching for the symbol resumes on the next price update or order arrival.
type Deferral struct {
	Symbol string
	// best bid and best ask at the time of the deferral
	Bid Order
	Ask Order
}

func (d *Deferral) samePair(o *Deferral) bool {
	return d.Bid.ID == o.Bid.ID && d.Ask.ID == o.Ask.ID
}

// PriceBook is the view of the instrument registry a matching engine needs.
type PriceBook interface {
	ReferencePrice(symbol string) (decimal.Decimal, bool)
	UpdatePrice(symbol string, price decimal.Decimal)
}

func crosses(bid, ask *Order) bool {
	if bid.IsMarket() || ask.IsMarket() {
		return true
	}
	return bid.Price.Decimal.GreaterThanOrEqual(ask.Price.Decimal)
}

// makerTaker orders a crossing pair by arrival: the earlier order is the maker.
func makerTaker(bid, ask *Order) (maker, taker *Order) {
	if ask.Seq < bid.Seq {
		return ask, bid
	}
	return bid, ask
}

// tradePrice picks the maker limit, then the taker limit, then the
// reference price of the symbol.
func tradePrice(maker, taker *Order, prices PriceBook) (decimal.Decimal, bool) {
	if !maker.IsMarket() {
		return maker.Price.Decimal, true
	}
	if !taker.IsMarket() {
		return taker.Price.Decimal, true
	}
	return prices.ReferencePrice(maker.Symbol)
}
