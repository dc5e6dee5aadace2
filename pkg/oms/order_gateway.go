package oms

import (
	"context"

	"github.com/joripage/matchcore/pkg/oms/model"
)

// OrderGateway is a transport that feeds requests into the OMS and receives
// every order event back.
type OrderGateway interface {
	Start(ctx context.Context) error

	// oms to client. Called on the symbol's actor goroutine; must not block.
	OnOrderReport(ctx context.Context, ev *model.OrderEvent)
}
