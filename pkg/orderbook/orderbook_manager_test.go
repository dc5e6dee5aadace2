package orderbook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/joripage/matchcore/pkg/instrument"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestManager(t *testing.T, logger *zap.Logger) (*OrderBookManager, *instrument.Registry) {
	t.Helper()
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := instrument.NewRegistry(logger)
	m := NewOrderBookManager(&OrderBookManagerConfig{WorkerConcurrency: 4, QueueSize: 1024}, reg, logger)
	t.Cleanup(m.Stop)
	return m, reg
}

func onSymbol(o *Order, symbol string) *Order {
	o.Symbol = symbol
	return o
}

func TestManagerRoutesBySymbol(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	if _, err := m.AddOrder(ctx, onSymbol(limit("S1", SELL, "100", 10), "AAA")); err != nil {
		t.Fatal(err)
	}
	res, err := m.AddOrder(ctx, onSymbol(limit("B1", BUY, "100", 10), "BBB"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) != 0 {
		t.Fatalf("orders of different symbols must never match, got %+v", res.Trades)
	}

	if got := m.Symbols(); len(got) != 2 || got[0] != "AAA" || got[1] != "BBB" {
		t.Fatalf("expected books AAA and BBB, got %v", got)
	}
}

func TestManagerCallbacks(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		trades  []Trade
		updates []Execution
	)
	m.RegisterTradeCallback(func(ts []Trade) {
		mu.Lock()
		defer mu.Unlock()
		trades = append(trades, ts...)
	})
	m.RegisterExecutionCallback(func(es []Execution) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, es...)
	})

	m.AddOrder(ctx, limit("S1", SELL, "99", 10))
	m.AddOrder(ctx, limit("B1", BUY, "100", 4))

	mu.Lock()
	defer mu.Unlock()
	if len(trades) != 1 || trades[0].Qty != 4 {
		t.Fatalf("expected one trade of 4, got %+v", trades)
	}
	// S1 admitted, B1 admitted, then B1 and S1 after the fill
	if len(updates) != 4 {
		t.Fatalf("expected 4 executions, got %+v", updates)
	}
	if updates[0].Kind != ExecNew || updates[1].Kind != ExecNew || updates[1].Order.ID != "B1" {
		t.Fatalf("expected admissions first, got %+v", updates[:2])
	}
	buy, sell := updates[2], updates[3]
	if buy.Kind != ExecTrade || buy.Order.Status != Executed || buy.Trade == nil || buy.Trade.Qty != 4 {
		t.Fatalf("unexpected buy execution %+v", buy)
	}
	if sell.Order.ID != "S1" || sell.Order.Status != PartiallyExecuted || sell.Order.Remaining != 6 {
		t.Fatalf("unexpected sell execution %+v", sell)
	}
}

func TestManagerCancelAndStatus(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	m.AddOrder(ctx, limit("B1", BUY, "100", 10))

	res, err := m.CancelOrder(ctx, "ABC", "B1")
	if err != nil || res.Outcome != CancelOK {
		t.Fatalf("expected cancel ok, got %v %v", res.Outcome, err)
	}
	o, found, err := m.GetOrder(ctx, "ABC", "B1")
	if err != nil || !found || o.Status != Cancelled {
		t.Fatalf("expected cancelled order, got %+v found=%v err=%v", o, found, err)
	}

	res, err = m.CancelOrder(ctx, "NOBOOK", "B1")
	if err != nil || res.Outcome != CancelNotFound {
		t.Fatalf("expected not found for unknown book, got %v %v", res.Outcome, err)
	}
	if _, found, _ := m.GetOrder(ctx, "NOBOOK", "B1"); found {
		t.Fatalf("expected no order on unknown book")
	}
	if len(m.Symbols()) != 1 {
		t.Fatalf("queries must not create books, got %v", m.Symbols())
	}
}

func TestManagerUpdatePriceReleasesDeferral(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m, reg := newTestManager(t, zap.New(core))
	ctx := context.Background()

	var deferrals []Deferral
	m.RegisterDeferralCallback(func(d Deferral) { deferrals = append(deferrals, d) })

	m.AddOrder(ctx, market("S1", SELL, 10))
	m.AddOrder(ctx, market("B1", BUY, 10))

	if len(deferrals) != 1 {
		t.Fatalf("expected one deferral, got %d", len(deferrals))
	}
	if n := logs.FilterMessage("match deferred, pricing unavailable").Len(); n != 1 {
		t.Fatalf("expected one deferral log entry, got %d", n)
	}

	res, err := m.UpdatePrice(ctx, "ABC", decimal.NewFromInt(95))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) != 1 || !res.Trades[0].Price.Equal(decimal.NewFromInt(95)) {
		t.Fatalf("expected trade at 95, got %+v", res.Trades)
	}
	if p, _ := reg.GetPrice("ABC"); !p.Equal(decimal.NewFromInt(95)) {
		t.Fatalf("expected reference 95, got %s", p)
	}
}

func TestManagerDepth(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	m.AddOrder(ctx, limit("B1", BUY, "99", 1))
	m.AddOrder(ctx, limit("B2", BUY, "100", 1))
	m.AddOrder(ctx, market("B3", BUY, 1))
	m.AddOrder(ctx, limit("S1", SELL, "102", 1))
	m.AddOrder(ctx, limit("S2", SELL, "101", 1))

	d, err := m.GetDepth(ctx, "ABC")
	if err != nil {
		t.Fatal(err)
	}
	// the market bid takes S1 at its limit, S2 rests above the best bid
	wantBids, wantAsks := []string{"B2", "B1"}, []string{"S2"}
	if len(d.Bids) != len(wantBids) || len(d.Asks) != len(wantAsks) {
		t.Fatalf("unexpected depth %+v", d)
	}
	for i, id := range wantBids {
		if d.Bids[i].ID != id {
			t.Fatalf("bid %d: want %s got %s", i, id, d.Bids[i].ID)
		}
	}
	if d.Asks[0].ID != wantAsks[0] {
		t.Fatalf("ask 0: want %s got %s", wantAsks[0], d.Asks[0].ID)
	}
}

func TestManagerRejectsInvalidOrder(t *testing.T) {
	m, _ := newTestManager(t, nil)

	for _, o := range []*Order{
		nil,
		{ID: "", Symbol: "ABC", Side: BUY, Quantity: 1},
		{ID: "x", Symbol: "", Side: BUY, Quantity: 1},
		{ID: "x", Symbol: "ABC", Side: "HOLD", Quantity: 1},
		{ID: "x", Symbol: "ABC", Side: BUY, Quantity: 0},
	} {
		if _, err := m.AddOrder(context.Background(), o); !errors.Is(err, errInvalidOrder) {
			t.Fatalf("expected invalid order for %+v, got %v", o, err)
		}
	}
}

func TestManagerStopped(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.Stop()

	if _, err := m.AddOrder(context.Background(), limit("B1", BUY, "100", 1)); !errors.Is(err, ErrManagerStopped) {
		t.Fatalf("expected ErrManagerStopped, got %v", err)
	}
}

func TestManagerContextCancelled(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// either the reply or the done context may win the select
	_, err := m.AddOrder(ctx, limit("B1", BUY, "100", 1))
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestConcurrentOrders(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		traded int64
	)
	m.RegisterTradeCallback(func(ts []Trade) {
		mu.Lock()
		defer mu.Unlock()
		for _, tr := range ts {
			traded += tr.Qty
		}
	})

	addOrder := func(id int, side Side, symbol string) {
		defer wg.Done()
		o := onSymbol(limit(fmt.Sprintf("%s-%s-%d", symbol, side, id), side, "100", 10), symbol)
		if _, err := m.AddOrder(ctx, o); err != nil {
			t.Errorf("add %s: %v", o.ID, err)
		}
	}

	n := 1000
	symbols := []string{"AAA", "BBB", "CCC"}
	for i := 0; i < n; i++ {
		sym := symbols[i%len(symbols)]
		wg.Add(2)
		go addOrder(i, BUY, sym)
		go addOrder(i, SELL, sym)
	}
	wg.Wait()

	if traded != int64(n*10) {
		t.Fatalf("expected %d traded, got %d", n*10, traded)
	}
	for _, sym := range symbols {
		d, _ := m.GetDepth(ctx, sym)
		if len(d.Bids) != 0 || len(d.Asks) != 0 {
			t.Fatalf("%s: expected empty book, got %d bids %d asks", sym, len(d.Bids), len(d.Asks))
		}
	}
}
