package model

import "github.com/joripage/matchcore/pkg/orderbook"

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

func (s OrderSide) ToBook() orderbook.Side {
	return orderbook.Side(s)
}

type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

type OrderExecType string

const (
	ExecTypeNew      OrderExecType = "New"
	ExecTypeTrade    OrderExecType = "Trade"
	ExecTypeCanceled OrderExecType = "Canceled"
	ExecTypeRejected OrderExecType = "Rejected"
	// ExecTypeDeferred marks a crossing that waits for a reference price.
	ExecTypeDeferred OrderExecType = "Deferred"
)

var execTypeMapping = map[orderbook.ExecKind]OrderExecType{
	orderbook.ExecNew:      ExecTypeNew,
	orderbook.ExecTrade:    ExecTypeTrade,
	orderbook.ExecCanceled: ExecTypeCanceled,
	orderbook.ExecRejected: ExecTypeRejected,
}
