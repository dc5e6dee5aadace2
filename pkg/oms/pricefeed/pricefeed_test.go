package pricefeed

import (
	"context"
	"testing"

	kafkawrapper "github.com/joripage/matchcore/pkg/kafka_wrapper"
	"github.com/joripage/matchcore/pkg/logging"
	"github.com/joripage/matchcore/pkg/oms"
	"github.com/joripage/matchcore/pkg/oms/model"
	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func msg(v string) kafkawrapper.Message {
	return kafkawrapper.Message{Value: []byte(v)}
}

func TestPriceReleasesDeferredMatch(t *testing.T) {
	s := oms.NewOMS(&oms.Config{WorkerConcurrency: 2, QueueSize: 64, AutoRegisterSymbols: true}, nil)
	t.Cleanup(s.Stop)
	ctx := context.Background()

	_, err := s.SubmitOrder(ctx, &model.SimpleOrderRequest{ID: "S1", Symbol: "AAPL", Side: model.OrderSideSell, Quantity: 10})
	require.NoError(t, err)
	_, err = s.SubmitOrder(ctx, &model.SimpleOrderRequest{ID: "B1", Symbol: "AAPL", Side: model.OrderSideBuy, Quantity: 10})
	require.NoError(t, err)

	core, logs := observer.New(zap.InfoLevel)
	h := NewHandler(s, logging.Wrap(zap.New(core)))
	require.NoError(t, h.HandleBatch(ctx, []kafkawrapper.Message{
		msg(`{"symbol":"AAPL","price":"95"}`),
	}))

	o, err := s.GetOrderStatus(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, orderbook.Executed, o.Status)
	assert.Equal(t, 1, logs.FilterMessage("reference price released trades").Len())

	p, ok := s.Registry().GetPrice("AAPL")
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(95)))
}

func TestBadPricesAreSkipped(t *testing.T) {
	s := oms.NewOMS(&oms.Config{WorkerConcurrency: 2, QueueSize: 64, AutoRegisterSymbols: true}, nil)
	t.Cleanup(s.Stop)
	require.NoError(t, s.RegisterComposite("BASKET", []string{"AAPL"}))

	core, logs := observer.New(zap.WarnLevel)
	h := NewHandler(s, nil)
	ctx := logging.WithLogger(context.Background(), logging.Wrap(zap.New(core)))
	err := h.HandleBatch(ctx, []kafkawrapper.Message{
		msg(`not json`),
		msg(`{"symbol":"BASKET","price":"10"}`),
		msg(`{"symbol":"AAPL","price":"-1"}`),
		msg(`{"symbol":"AAPL","price":"12.5"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("drop undecodable price").Len())
	assert.Equal(t, 2, logs.FilterMessage("drop invalid price").Len())
	p, _ := s.Registry().GetPrice("AAPL")
	assert.True(t, p.Equal(decimal.RequireFromString("12.5")))
}

func TestStoppedEngineFailsBatch(t *testing.T) {
	s := oms.NewOMS(nil, nil)
	s.Stop()
	h := NewHandler(s, nil)
	err := h.HandleBatch(context.Background(), []kafkawrapper.Message{msg(`{"symbol":"AAPL","price":"1"}`)})
	assert.ErrorIs(t, err, orderbook.ErrManagerStopped)
}
