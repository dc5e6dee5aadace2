package orderbook

import (
	"github.com/shopspring/decimal"
)

type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

func (s Side) Valid() bool {
	return s == BUY || s == SELL
}

type Status string

const (
	Placed            Status = "PLACED"
	PartiallyExecuted Status = "PARTIALLY_EXECUTED"
	Executed          Status = "EXECUTED"
	Cancelled         Status = "CANCELLED"
	Rejected          Status = "REJECTED"
)

// Live reports whether an order with this status may rest in a book.
func (s Status) Live() bool {
	return s == Placed || s == PartiallyExecuted
}

func (s Status) Terminal() bool {
	return s == Executed || s == Cancelled || s == Rejected
}

type Order struct {
	ID       string
	TraderID string
	Side     Side
	Symbol   string
	// invalid Price means a market order
	Price     decimal.NullDecimal
	Quantity  int64
	Remaining int64
	Status    Status
	// arrival sequence, assigned at admission
	Seq uint64

	BasketID string
	LegIndex int
}

func (o *Order) IsMarket() bool {
	return !o.Price.Valid
}

// fill decrements the remaining quantity and moves the status forward.
func (o *Order) fill(qty int64) {
	o.Remaining -= qty
	if o.Remaining == 0 {
		o.Status = Executed
		return
	}
	o.Status = PartiallyExecuted
}

// cancel marks a live order as cancelled. Terminal orders are left untouched.
func (o *Order) cancel() bool {
	if !o.Status.Live() {
		return false
	}
	o.Status = Cancelled
	return true
}
