package oms

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/joripage/matchcore/pkg/oms/model"
	"github.com/joripage/matchcore/pkg/oms/rule"
	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOMS(t *testing.T, cfg *Config) *OMS {
	t.Helper()
	if cfg == nil {
		cfg = &Config{WorkerConcurrency: 4, QueueSize: 1024, AutoRegisterSymbols: true}
	}
	s := NewOMS(cfg, nil)
	t.Cleanup(s.Stop)
	return s
}

func px(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(v))
}

func buy(id, symbol string, price decimal.NullDecimal, qty int64) *model.SimpleOrderRequest {
	return &model.SimpleOrderRequest{ID: id, TraderID: "t1", Symbol: symbol, Side: model.OrderSideBuy, Price: price, Quantity: qty}
}

func sell(id, symbol string, price decimal.NullDecimal, qty int64) *model.SimpleOrderRequest {
	return &model.SimpleOrderRequest{ID: id, TraderID: "t2", Symbol: symbol, Side: model.OrderSideSell, Price: price, Quantity: qty}
}

func status(t *testing.T, s *OMS, id string) orderbook.Order {
	t.Helper()
	o, err := s.GetOrderStatus(context.Background(), id)
	require.NoError(t, err)
	return o
}

func TestFullMatch(t *testing.T) {
	s := newTestOMS(t, nil)
	ctx := context.Background()

	_, err := s.SubmitOrder(ctx, buy("B1", "AAPL", px("100"), 10))
	require.NoError(t, err)
	res, err := s.SubmitOrder(ctx, sell("S1", "AAPL", px("100"), 10))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, int64(10), res.Trades[0].Qty)
	assert.True(t, res.Trades[0].Price.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, orderbook.Executed, status(t, s, "B1").Status)
	assert.Equal(t, orderbook.Executed, status(t, s, "S1").Status)

	d, err := s.Depth(ctx, "AAPL")
	require.NoError(t, err)
	assert.Empty(t, d.Bids)
	assert.Empty(t, d.Asks)
}

func TestMakerPriceWins(t *testing.T) {
	s := newTestOMS(t, nil)
	ctx := context.Background()

	s.SubmitOrder(ctx, buy("B1", "AAPL", px("100"), 10))
	res, err := s.SubmitOrder(ctx, sell("S1", "AAPL", px("99"), 10))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Price.Equal(decimal.NewFromInt(100)), "resting buy sets the price")
	assert.Equal(t, "B1", res.Trades[0].MakerOrderID)
}

func TestPartialFillKeepsPlace(t *testing.T) {
	s := newTestOMS(t, nil)
	ctx := context.Background()

	first, err := s.SubmitOrder(ctx, buy("B1", "AAPL", px("100"), 5))
	require.NoError(t, err)
	res, err := s.SubmitOrder(ctx, sell("S1", "AAPL", px("100"), 3))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, int64(3), res.Trades[0].Qty)
	assert.Equal(t, orderbook.Executed, status(t, s, "S1").Status)

	b := status(t, s, "B1")
	assert.Equal(t, orderbook.PartiallyExecuted, b.Status)
	assert.Equal(t, int64(2), b.Remaining)
	assert.Equal(t, first.Orders[0].Seq, b.Seq)

	d, _ := s.Depth(ctx, "AAPL")
	require.Len(t, d.Bids, 1)
	assert.Equal(t, "B1", d.Bids[0].ID)
	assert.Empty(t, d.Asks)
}

func TestMarketSellTradesAtBuyLimit(t *testing.T) {
	s := newTestOMS(t, nil)
	ctx := context.Background()

	s.SubmitOrder(ctx, sell("S1", "AAPL", decimal.NullDecimal{}, 10))
	res, err := s.SubmitOrder(ctx, buy("B1", "AAPL", px("100"), 10))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Price.Equal(decimal.NewFromInt(100)))
}

func TestMarketOrdersWaitForReferencePrice(t *testing.T) {
	s := newTestOMS(t, nil)
	ctx := context.Background()

	_, err := s.SubmitOrder(ctx, sell("S1", "AAPL", decimal.NullDecimal{}, 10))
	require.NoError(t, err)
	res, err := s.SubmitOrder(ctx, buy("B1", "AAPL", decimal.NullDecimal{}, 10))
	require.NoError(t, err, "pricing unavailable is not a caller error")
	assert.Empty(t, res.Trades)
	assert.Equal(t, orderbook.Placed, status(t, s, "B1").Status)

	events := s.Events("B1")
	require.NotEmpty(t, events)
	assert.Equal(t, model.ExecTypeDeferred, events[len(events)-1].ExecType)
	assert.Equal(t, "S1", events[len(events)-1].CounterOrderID)

	trades, err := s.UpdateReferencePrice(ctx, "AAPL", decimal.NewFromInt(95))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(10), trades[0].Qty)
	assert.True(t, trades[0].Price.Equal(decimal.NewFromInt(95)))
	assert.Equal(t, orderbook.Executed, status(t, s, "B1").Status)
	assert.Equal(t, orderbook.Executed, status(t, s, "S1").Status)
}

func TestRegisterInstrumentResumesDeferredMatch(t *testing.T) {
	s := newTestOMS(t, nil)
	ctx := context.Background()

	s.SubmitOrder(ctx, sell("S1", "AAPL", decimal.NullDecimal{}, 10))
	s.SubmitOrder(ctx, buy("B1", "AAPL", decimal.NullDecimal{}, 10))

	require.NoError(t, s.RegisterInstrument("AAPL", px("95")))
	assert.Equal(t, orderbook.Executed, status(t, s, "B1").Status)
}

func TestCompositePriceFollowsTrades(t *testing.T) {
	s := newTestOMS(t, nil)
	ctx := context.Background()
	require.NoError(t, s.RegisterComposite("BASKET", []string{"AAPL", "MSFT"}))

	s.SubmitOrder(ctx, buy("B1", "AAPL", px("100"), 1))
	s.SubmitOrder(ctx, sell("S1", "AAPL", px("100"), 1))
	_, err := s.UpdateReferencePrice(ctx, "MSFT", decimal.NewFromInt(50))
	require.NoError(t, err)

	got, ok := s.Registry().GetPrice("BASKET")
	require.True(t, ok)
	assert.True(t, got.Equal(decimal.NewFromInt(150)), "got %s", got)
}

func TestRegisterCompositeLimit(t *testing.T) {
	s := newTestOMS(t, nil)
	err := s.RegisterComposite("BIG", []string{"A", "B", "C", "D"})
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.NotErrorIs(t, err, ErrValidation)

	assert.ErrorIs(t, s.RegisterComposite("", []string{"A"}), ErrValidation)
}

func TestValidation(t *testing.T) {
	s := newTestOMS(t, nil)
	ctx := context.Background()
	require.NoError(t, s.RegisterComposite("BASKET", []string{"AAPL"}))

	_, err := s.SubmitOrder(ctx, buy("", "", px("1"), 1))
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "symbol cannot be empty")

	for name, req := range map[string]model.OrderRequest{
		"nil":         nil,
		"nil simple":  (*model.SimpleOrderRequest)(nil),
		"nil basket":  (*model.BasketOrderRequest)(nil),
		"zero qty":    buy("", "AAPL", px("1"), 0),
		"bad side":    &model.SimpleOrderRequest{Symbol: "AAPL", Side: "HOLD", Quantity: 1},
		"zero price":  buy("", "AAPL", px("0"), 1),
		"composite":   buy("", "BASKET", px("1"), 1),
		"empty basket": &model.BasketOrderRequest{TraderID: "t"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Submit(ctx, req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	d, _ := s.Depth(ctx, "AAPL")
	assert.Empty(t, d.Bids, "no state mutated")
}

func TestDuplicateOrderID(t *testing.T) {
	s := newTestOMS(t, nil)
	ctx := context.Background()

	_, err := s.SubmitOrder(ctx, buy("X", "AAPL", px("100"), 1))
	require.NoError(t, err)
	_, err = s.SubmitOrder(ctx, sell("X", "AAPL", px("100"), 1))
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, orderbook.Placed, status(t, s, "X").Status)
}

func TestGeneratedOrderIDs(t *testing.T) {
	s := newTestOMS(t, nil)
	a, err := s.SubmitOrder(context.Background(), buy("", "AAPL", px("100"), 1))
	require.NoError(t, err)
	b, err := s.SubmitOrder(context.Background(), buy("", "AAPL", px("100"), 1))
	require.NoError(t, err)
	assert.NotEmpty(t, a.OrderID)
	assert.NotEqual(t, a.OrderID, b.OrderID)
}

func TestCancel(t *testing.T) {
	s := newTestOMS(t, nil)
	ctx := context.Background()

	s.SubmitOrder(ctx, buy("B1", "AAPL", px("100"), 10))
	report, err := s.CancelOrder(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, orderbook.CancelOK, report.Outcome)
	assert.Equal(t, orderbook.Cancelled, status(t, s, "B1").Status)

	report, err = s.CancelOrder(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, orderbook.CancelAlreadyTerminal, report.Outcome)

	report, err = s.CancelOrder(ctx, "nope")
	require.NoError(t, err)
	assert.Equal(t, orderbook.CancelNotFound, report.Outcome)
}

func TestCancelExecutedOrderIsNoop(t *testing.T) {
	s := newTestOMS(t, nil)
	ctx := context.Background()

	s.SubmitOrder(ctx, buy("B1", "AAPL", px("100"), 10))
	s.SubmitOrder(ctx, sell("S1", "AAPL", px("100"), 10))
	s.SubmitOrder(ctx, buy("B2", "AAPL", px("90"), 1))

	report, err := s.CancelOrder(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, orderbook.CancelAlreadyTerminal, report.Outcome)
	assert.Equal(t, orderbook.Executed, status(t, s, "B1").Status)

	d, _ := s.Depth(ctx, "AAPL")
	require.Len(t, d.Bids, 1)
	assert.Equal(t, "B2", d.Bids[0].ID)
}

func TestGetOrderStatusNotFound(t *testing.T) {
	s := newTestOMS(t, nil)
	_, err := s.GetOrderStatus(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestBasketLegs(t *testing.T) {
	s := newTestOMS(t, nil)
	ctx := context.Background()
	require.NoError(t, s.RegisterComposite("BASKET", []string{"AAPL", "MSFT"}))

	s.SubmitOrder(ctx, sell("S1", "MSFT", px("50"), 5))
	res, err := s.SubmitBasket(ctx, &model.BasketOrderRequest{
		ID:       "BK",
		TraderID: "t9",
		Symbol:   "BASKET",
		Legs: []model.BasketLeg{
			{Symbol: "AAPL", Side: model.OrderSideBuy, Price: px("100"), Quantity: 10},
			{Symbol: "MSFT", Side: model.OrderSideBuy, Price: px("50"), Quantity: 5},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "BK", res.BasketID)
	require.Len(t, res.Orders, 2)
	require.Len(t, res.Trades, 1)

	for i, o := range res.Orders {
		assert.Equal(t, "BK", o.BasketID)
		assert.Equal(t, i, o.LegIndex)
		assert.Equal(t, "t9", o.TraderID)
	}

	legs, err := s.GetBasketStatus(ctx, "BK")
	require.NoError(t, err)
	require.Len(t, legs, 2)
	assert.Equal(t, orderbook.Placed, legs[0].Status)
	assert.Equal(t, orderbook.Executed, legs[1].Status)

	report, err := s.CancelOrder(ctx, "BK")
	require.NoError(t, err)
	assert.True(t, report.Basket)
	assert.Equal(t, orderbook.CancelOK, report.Outcome)
	require.Len(t, report.Legs, 2)
	assert.Equal(t, orderbook.CancelOK, report.Legs[0].Outcome)
	assert.Equal(t, orderbook.CancelAlreadyTerminal, report.Legs[1].Outcome)
	assert.Equal(t, orderbook.Executed, status(t, s, res.Orders[1].ID).Status, "filled leg untouched")

	// a single leg can be cancelled on its own
	report, err = s.CancelOrder(ctx, res.Orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, orderbook.CancelAlreadyTerminal, report.Outcome)
}

func TestBasketLimitExceededRoutesNothing(t *testing.T) {
	s := newTestOMS(t, nil)
	ctx := context.Background()

	var legs []model.BasketLeg
	for _, sym := range []string{"A", "B", "C", "D"} {
		legs = append(legs, model.BasketLeg{Symbol: sym, Side: model.OrderSideBuy, Price: px("1"), Quantity: 1})
	}
	res, err := s.SubmitBasket(ctx, &model.BasketOrderRequest{ID: "BK", Legs: legs})
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.Nil(t, res)

	for _, sym := range []string{"A", "B", "C", "D"} {
		d, err := s.Depth(ctx, sym)
		require.NoError(t, err)
		assert.Empty(t, d.Bids)
	}
	report, _ := s.CancelOrder(ctx, "BK")
	assert.Equal(t, orderbook.CancelNotFound, report.Outcome)
}

func TestBasketValidatesAllLegsFirst(t *testing.T) {
	s := newTestOMS(t, nil)
	ctx := context.Background()

	_, err := s.SubmitBasket(ctx, &model.BasketOrderRequest{ID: "BK", Legs: []model.BasketLeg{
		{Symbol: "A", Side: model.OrderSideBuy, Price: px("1"), Quantity: 1},
		{Symbol: "B", Side: model.OrderSideBuy, Price: px("1"), Quantity: 0},
	}})
	require.ErrorIs(t, err, ErrValidation)

	d, _ := s.Depth(ctx, "A")
	assert.Empty(t, d.Bids)

	// the basket id was not claimed
	_, err = s.SubmitBasket(ctx, &model.BasketOrderRequest{ID: "BK", Legs: []model.BasketLeg{
		{Symbol: "A", Side: model.OrderSideBuy, Price: px("1"), Quantity: 1},
	}})
	assert.NoError(t, err)
}

func TestBasketLegsMustBeConstituents(t *testing.T) {
	s := newTestOMS(t, nil)
	require.NoError(t, s.RegisterComposite("BASKET", []string{"AAPL", "MSFT"}))

	_, err := s.SubmitBasket(context.Background(), &model.BasketOrderRequest{
		Symbol: "BASKET",
		Legs:   []model.BasketLeg{{Symbol: "GOOG", Side: model.OrderSideBuy, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRejectedWithoutAutoRegister(t *testing.T) {
	s := newTestOMS(t, &Config{WorkerConcurrency: 2, QueueSize: 16})
	ctx := context.Background()
	require.NoError(t, s.RegisterInstrument("AAPL", decimal.NullDecimal{}))

	res, err := s.SubmitOrder(ctx, buy("B1", "TSLA", px("100"), 1))
	require.NoError(t, err)
	assert.Equal(t, orderbook.Rejected, res.Orders[0].Status)
	assert.Equal(t, orderbook.Rejected, status(t, s, "B1").Status)

	events := s.Events("B1")
	require.Len(t, events, 1)
	assert.Equal(t, model.ExecTypeRejected, events[0].ExecType)

	res, err = s.SubmitOrder(ctx, buy("B2", "AAPL", px("100"), 1))
	require.NoError(t, err)
	assert.Equal(t, orderbook.Placed, res.Orders[0].Status)
}

func TestUpdateReferencePriceValidation(t *testing.T) {
	s := newTestOMS(t, nil)
	require.NoError(t, s.RegisterComposite("BASKET", []string{"AAPL"}))
	ctx := context.Background()

	_, err := s.UpdateReferencePrice(ctx, "BASKET", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.UpdateReferencePrice(ctx, "", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.UpdateReferencePrice(ctx, "AAPL", decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTickSizeRule(t *testing.T) {
	s := newTestOMS(t, nil)
	tick, err := rule.NewTickSizeRule([]byte(`{"*": [{"maxPrice": 0, "step": 0.5}]}`))
	require.NoError(t, err)
	s.AddRules(tick)

	_, err = s.SubmitOrder(context.Background(), buy("", "AAPL", px("100.25"), 1))
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.SubmitOrder(context.Background(), buy("", "AAPL", px("100.5"), 1))
	assert.NoError(t, err)
}

func TestEventsAuditTrail(t *testing.T) {
	s := newTestOMS(t, nil)
	ctx := context.Background()

	s.SubmitOrder(ctx, sell("S1", "AAPL", px("100"), 10))
	s.SubmitOrder(ctx, buy("B1", "AAPL", px("100"), 4))
	s.CancelOrder(ctx, "S1")

	events := s.Events("S1")
	require.Len(t, events, 3)
	assert.Equal(t, model.ExecTypeNew, events[0].ExecType)

	trade := events[1]
	assert.Equal(t, model.ExecTypeTrade, trade.ExecType)
	assert.Equal(t, int64(4), trade.LastQty)
	assert.Equal(t, int64(4), trade.CumQty)
	assert.Equal(t, int64(6), trade.LeavesQty)
	assert.Equal(t, "B1", trade.CounterOrderID)
	assert.True(t, trade.LastPx.Equal(decimal.NewFromInt(100)))

	assert.Equal(t, model.ExecTypeCanceled, events[2].ExecType)
	assert.Equal(t, int64(0), events[2].LeavesQty)
}

type recordingGateway struct {
	mu     sync.Mutex
	events []*model.OrderEvent
}

func (g *recordingGateway) Start(ctx context.Context) error { return nil }

func (g *recordingGateway) OnOrderReport(ctx context.Context, ev *model.OrderEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, ev)
}

func TestOrderGatewayReports(t *testing.T) {
	s := newTestOMS(t, nil)
	gw := &recordingGateway{}
	s.SetOrderGateway(gw)
	require.NoError(t, s.Start(context.Background()))

	s.SubmitOrder(context.Background(), sell("S1", "AAPL", px("100"), 1))
	s.SubmitOrder(context.Background(), buy("B1", "AAPL", px("100"), 1))

	gw.mu.Lock()
	defer gw.mu.Unlock()
	var kinds []model.OrderExecType
	for _, ev := range gw.events {
		kinds = append(kinds, ev.ExecType)
	}
	assert.Equal(t, []model.OrderExecType{
		model.ExecTypeNew, model.ExecTypeNew, model.ExecTypeTrade, model.ExecTypeTrade,
	}, kinds)
}

func TestSubscribeTrades(t *testing.T) {
	s := newTestOMS(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	trades := s.SubscribeTrades(ctx)

	s.SubmitOrder(ctx, sell("S1", "AAPL", px("100"), 2))
	s.SubmitOrder(ctx, buy("B1", "AAPL", px("100"), 1))
	s.SubmitOrder(ctx, buy("B2", "AAPL", px("100"), 1))

	for _, want := range []string{"B1", "B2"} {
		select {
		case tr := <-trades:
			assert.Equal(t, want, tr.BuyOrderID)
		case <-time.After(time.Second):
			t.Fatalf("no trade for %s", want)
		}
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-trades:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestStopClosesSubscriptions(t *testing.T) {
	s := newTestOMS(t, nil)
	trades := s.SubscribeTrades(context.Background())
	s.Stop()

	select {
	case _, ok := <-trades:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}

	_, err := s.SubmitOrder(context.Background(), buy("B1", "AAPL", px("1"), 1))
	assert.ErrorIs(t, err, orderbook.ErrManagerStopped)
	_, ok := <-s.SubscribeTrades(context.Background())
	assert.False(t, ok, "subscribing after stop returns a closed channel")
}

func TestConcurrentSubmitAndCancel(t *testing.T) {
	s := newTestOMS(t, nil)
	ctx := context.Background()
	symbols := []string{"AAPL", "MSFT", "GOOG"}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				sym := symbols[(w+i)%len(symbols)]
				id := fmt.Sprintf("w%d-%d", w, i)
				req := buy(id, sym, px(fmt.Sprintf("%d", 95+i%10)), int64(1+i%5))
				if w%2 == 1 {
					req = sell(id, sym, px(fmt.Sprintf("%d", 95+i%10)), int64(1+i%5))
				}
				if _, err := s.SubmitOrder(ctx, req); err != nil {
					t.Errorf("submit %s: %v", id, err)
				}
				if i%7 == 0 {
					s.CancelOrder(ctx, id)
				}
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < 8; w++ {
		for i := 0; i < 200; i++ {
			o := status(t, s, fmt.Sprintf("w%d-%d", w, i))
			assert.GreaterOrEqual(t, o.Remaining, int64(0))
			assert.LessOrEqual(t, o.Remaining, o.Quantity)
		}
	}
	for _, sym := range symbols {
		d, err := s.Depth(ctx, sym)
		require.NoError(t, err)
		if len(d.Bids) > 0 && len(d.Asks) > 0 {
			assert.True(t, d.Bids[0].Price.Decimal.LessThan(d.Asks[0].Price.Decimal), "%s left crossed", sym)
		}
	}
}
