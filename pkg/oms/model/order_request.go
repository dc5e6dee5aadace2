package model

import (
	"github.com/shopspring/decimal"
)

// OrderRequest is either a *SimpleOrderRequest or a *BasketOrderRequest.
type OrderRequest interface {
	isOrderRequest()
}

type SimpleOrderRequest struct {
	// ID is the order id; generated when empty.
	ID       string
	TraderID string
	Symbol   string
	Side     OrderSide
	// invalid Price means a market order
	Price    decimal.NullDecimal
	Quantity int64
}

type BasketLeg struct {
	Symbol   string
	Side     OrderSide
	Price    decimal.NullDecimal
	Quantity int64
}

type BasketOrderRequest struct {
	// ID is the basket correlation id; generated when empty.
	ID       string
	TraderID string
	// Symbol optionally names the composite instrument the basket trades.
	// When it is a registered composite, every leg must be one of its
	// constituents.
	Symbol string
	Legs   []BasketLeg
}

func (*SimpleOrderRequest) isOrderRequest() {}
func (*BasketOrderRequest) isOrderRequest() {}
