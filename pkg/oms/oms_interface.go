package oms

import (
	"context"

	"github.com/joripage/matchcore/pkg/oms/model"
	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/shopspring/decimal"
)

// IOMS is what gateways and adapters need from the OMS.
type IOMS interface {
	Submit(ctx context.Context, req model.OrderRequest) (*SubmitResult, error)
	SubmitOrder(ctx context.Context, req *model.SimpleOrderRequest) (*SubmitResult, error)
	SubmitBasket(ctx context.Context, req *model.BasketOrderRequest) (*SubmitResult, error)
	CancelOrder(ctx context.Context, id string) (*CancelReport, error)
	GetOrderStatus(ctx context.Context, id string) (orderbook.Order, error)
	UpdateReferencePrice(ctx context.Context, symbol string, price decimal.Decimal) ([]orderbook.Trade, error)
}

var _ IOMS = (*OMS)(nil)
