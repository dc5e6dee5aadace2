package orderbook

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/joripage/go_util/pkg/shardqueue"
	"github.com/joripage/matchcore/pkg/sequence"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultWorkerConcurrency = 16
	defaultQueueSize         = 100_000
)

type OrderBookManagerConfig struct {
	// number of shards draining symbol queues; throughput only
	WorkerConcurrency int
	// buffered commands per shard
	QueueSize int
}

// OrderBookManager owns one matching engine per symbol and serializes every
// command of a symbol onto the same shard, in the order the shard accepts
// them. Commands of different symbols have no ordering between them.
type OrderBookManager struct {
	books  sync.Map // symbol -> *engine
	queue  *shardqueue.Shardqueue
	prices PriceBook

	arrivals *sequence.Sequencer
	tradeSeq *sequence.Sequencer

	mu                 sync.RWMutex
	tradeCallbacks     []func([]Trade)
	executionCallbacks []func([]Execution)
	deferralCallbacks  []func(Deferral)

	stopped atomic.Bool
	cfg     *OrderBookManagerConfig
	logger  *zap.Logger
}

type commandKind int

const (
	cmdSubmit commandKind = iota
	cmdCancel
	cmdPrice
	cmdStatus
	cmdDepth
	cmdMatch
)

type command struct {
	kind    commandKind
	symbol  string
	order   *Order
	orderID string
	price   decimal.Decimal
	reply   chan reply
}

type reply struct {
	submit SubmitResult
	cancel CancelResult
	order  Order
	found  bool
	depth  Depth
	err    error
}

func NewOrderBookManager(cfg *OrderBookManagerConfig, prices PriceBook, logger *zap.Logger) *OrderBookManager {
	if cfg == nil {
		cfg = &OrderBookManagerConfig{}
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = defaultWorkerConcurrency
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &OrderBookManager{
		prices:   prices,
		arrivals: sequence.New(0),
		tradeSeq: sequence.New(0),
		cfg:      cfg,
		logger:   logger,
	}
	m.queue = shardqueue.NewShardQueue(cfg.WorkerConcurrency, cfg.QueueSize)
	m.queue.Start(m.handle)

	return m
}

// RegisterTradeCallback adds fn to the trade observers. Callbacks run on the
// symbol's shard goroutine and must not block.
func (s *OrderBookManager) RegisterTradeCallback(fn func([]Trade)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradeCallbacks = append(s.tradeCallbacks, fn)
}

// RegisterExecutionCallback adds fn to the order state observers. Same rules
// as RegisterTradeCallback.
func (s *OrderBookManager) RegisterExecutionCallback(fn func([]Execution)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executionCallbacks = append(s.executionCallbacks, fn)
}

func (s *OrderBookManager) RegisterDeferralCallback(fn func(Deferral)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deferralCallbacks = append(s.deferralCallbacks, fn)
}

// AddOrder admits order into its symbol's book and runs matching. The
// manager takes ownership of order; the returned result holds copies.
func (s *OrderBookManager) AddOrder(ctx context.Context, order *Order) (SubmitResult, error) {
	if order == nil || order.ID == "" || order.Symbol == "" || !order.Side.Valid() || order.Quantity <= 0 {
		return SubmitResult{}, errInvalidOrder
	}
	r, err := s.dispatch(ctx, &command{kind: cmdSubmit, symbol: order.Symbol, order: order})
	if err != nil {
		return SubmitResult{}, err
	}
	return r.submit, r.err
}

// CancelOrder cancels a live order. Unknown and terminal orders are reported
// through the outcome, not as errors.
func (s *OrderBookManager) CancelOrder(ctx context.Context, symbol, orderID string) (CancelResult, error) {
	r, err := s.dispatch(ctx, &command{kind: cmdCancel, symbol: symbol, orderID: orderID})
	if err != nil {
		return CancelResult{}, err
	}
	return r.cancel, nil
}

// UpdatePrice applies an external reference price to symbol through its
// queue, so deferred matches of that symbol are retried in order.
func (s *OrderBookManager) UpdatePrice(ctx context.Context, symbol string, price decimal.Decimal) (SubmitResult, error) {
	r, err := s.dispatch(ctx, &command{kind: cmdPrice, symbol: symbol, price: price})
	if err != nil {
		return SubmitResult{}, err
	}
	return r.submit, nil
}

// Rematch runs the matching loop of symbol without any new input, for example
// after its reference price was set outside the queue.
func (s *OrderBookManager) Rematch(ctx context.Context, symbol string) (SubmitResult, error) {
	r, err := s.dispatch(ctx, &command{kind: cmdMatch, symbol: symbol})
	if err != nil {
		return SubmitResult{}, err
	}
	return r.submit, nil
}

func (s *OrderBookManager) GetOrder(ctx context.Context, symbol, orderID string) (Order, bool, error) {
	r, err := s.dispatch(ctx, &command{kind: cmdStatus, symbol: symbol, orderID: orderID})
	if err != nil {
		return Order{}, false, err
	}
	return r.order, r.found, nil
}

func (s *OrderBookManager) GetDepth(ctx context.Context, symbol string) (Depth, error) {
	r, err := s.dispatch(ctx, &command{kind: cmdDepth, symbol: symbol})
	if err != nil {
		return Depth{}, err
	}
	return r.depth, nil
}

func (s *OrderBookManager) Symbols() []string {
	var out []string
	s.books.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

// Stop rejects new commands. Commands already accepted still complete.
func (s *OrderBookManager) Stop() {
	s.stopped.Store(true)
}

// dispatch enqueues cmd on its symbol's shard and waits for the reply. A done
// ctx stops the wait only; an accepted command still runs.
func (s *OrderBookManager) dispatch(ctx context.Context, cmd *command) (reply, error) {
	if s.stopped.Load() {
		return reply{}, ErrManagerStopped
	}
	cmd.reply = make(chan reply, 1)
	s.queue.Shard(cmd.symbol, cmd)

	select {
	case r := <-cmd.reply:
		return r, nil
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

func (s *OrderBookManager) handle(msg interface{}) error {
	cmd, ok := msg.(*command)
	if !ok {
		s.logger.Error("unexpected message on shard queue", zap.Any("msg", msg))
		return errUnknownCommand
	}

	r := s.execute(cmd)
	s.publish(r)
	cmd.reply <- r
	return nil
}

func (s *OrderBookManager) execute(cmd *command) (r reply) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("command panicked",
				zap.String("symbol", cmd.symbol),
				zap.Any("panic", p))
			r = reply{err: fmt.Errorf("%s: command panicked: %v", cmd.symbol, p)}
		}
	}()

	switch cmd.kind {
	case cmdSubmit:
		book := s.getOrCreateBook(cmd.symbol)
		r.submit, r.err = book.submit(cmd.order)
	case cmdPrice:
		book := s.getOrCreateBook(cmd.symbol)
		r.submit = book.applyPrice(cmd.price)
	case cmdCancel:
		book, ok := s.getBook(cmd.symbol)
		if !ok {
			r.cancel = CancelResult{OrderID: cmd.orderID, Outcome: CancelNotFound}
			return r
		}
		r.cancel = book.cancel(cmd.orderID)
	case cmdStatus:
		if book, ok := s.getBook(cmd.symbol); ok {
			r.order, r.found = book.status(cmd.orderID)
		}
	case cmdMatch:
		if book, ok := s.getBook(cmd.symbol); ok {
			r.submit = book.rematch()
		}
	case cmdDepth:
		if book, ok := s.getBook(cmd.symbol); ok {
			r.depth = book.book.depth()
		} else {
			r.depth = Depth{Symbol: cmd.symbol}
		}
	default:
		r.err = errUnknownCommand
	}
	return r
}

func (s *OrderBookManager) publish(r reply) {
	trades, execs, deferral := r.submit.Trades, r.submit.Executions, r.submit.Deferral
	if r.cancel.OrderID != "" {
		trades, execs, deferral = r.cancel.Trades, r.cancel.Executions, r.cancel.Deferral
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(execs) > 0 {
		for _, cb := range s.executionCallbacks {
			cb(execs)
		}
	}
	if len(trades) > 0 {
		for _, cb := range s.tradeCallbacks {
			cb(trades)
		}
	}
	if deferral != nil {
		for _, cb := range s.deferralCallbacks {
			cb(*deferral)
		}
	}
}

func (s *OrderBookManager) getBook(symbol string) (*engine, bool) {
	if val, ok := s.books.Load(symbol); ok {
		return val.(*engine), true
	}
	return nil, false
}

func (s *OrderBookManager) getOrCreateBook(symbol string) *engine {
	if val, ok := s.books.Load(symbol); ok {
		return val.(*engine)
	}
	book := newEngine(symbol, s.prices, s.arrivals, s.tradeSeq, s.logger)
	actual, _ := s.books.LoadOrStore(symbol, book)
	return actual.(*engine)
}
