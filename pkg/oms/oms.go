package oms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joripage/matchcore/pkg/basket"
	"github.com/joripage/matchcore/pkg/instrument"
	eventstore "github.com/joripage/matchcore/pkg/oms/event_store"
	"github.com/joripage/matchcore/pkg/oms/model"
	"github.com/joripage/matchcore/pkg/oms/rule"
	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const matchLogInterval = 10_000

type Config struct {
	WorkerConcurrency int
	QueueSize         int
	// When false, orders for symbols never registered are admitted as
	// Rejected instead of registering the symbol.
	AutoRegisterSymbols bool
}

// OMS is the entry point of the engine: it validates requests, expands
// baskets, routes orders to their symbol queue and fans results out to the
// event store, the trade feed and the order gateway.
type OMS struct {
	cfg              *Config
	orderGateway     OrderGateway
	registry         *instrument.Registry
	orderbookManager *orderbook.OrderBookManager
	expander         *basket.Expander
	eventstore       eventstore.EventStore
	feed             *tradeFeed

	orderIDMapping sync.Map // order or basket id -> orderRef

	rules rule.Chain
	newID func() string

	matchQty   atomic.Int64
	matchCount atomic.Int64

	stopOnce sync.Once
	logger   *zap.Logger
}

type SubmitResult struct {
	// OrderID is the order id, or the basket id for a basket.
	OrderID  string
	BasketID string
	// Orders holds the state of every routed order right after its own
	// matching pass, legs in leg order.
	Orders []orderbook.Order
	Trades []orderbook.Trade
}

type LegCancel struct {
	OrderID string
	Outcome orderbook.CancelOutcome
	Order   orderbook.Order
}

type CancelReport struct {
	ID     string
	Basket bool
	// Outcome is CancelOK when at least one order was cancelled,
	// CancelNotFound when nothing was known, CancelAlreadyTerminal otherwise.
	Outcome orderbook.CancelOutcome
	Legs    []LegCancel
	// trades released by the cancel on the remaining book
	Trades []orderbook.Trade
}

func NewOMS(cfg *Config, logger *zap.Logger) *OMS {
	if cfg == nil {
		cfg = &Config{AutoRegisterSymbols: true}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := instrument.NewRegistry(logger.Named("registry"))
	orderbookManager := orderbook.NewOrderBookManager(&orderbook.OrderBookManagerConfig{
		WorkerConcurrency: cfg.WorkerConcurrency,
		QueueSize:         cfg.QueueSize,
	}, registry, logger.Named("orderbook"))

	oms := &OMS{
		cfg:              cfg,
		registry:         registry,
		orderbookManager: orderbookManager,
		expander:         basket.NewExpander(uuid.NewString),
		eventstore:       eventstore.NewInMemoryEventStore(),
		feed:             newTradeFeed(),
		rules:            rule.Chain{rule.NewCompositeSymbolRule(registry)},
		newID:            uuid.NewString,
		logger:           logger,
	}

	orderbookManager.RegisterExecutionCallback(oms.onExecutions)
	orderbookManager.RegisterTradeCallback(oms.onTrades)
	orderbookManager.RegisterDeferralCallback(oms.onDeferral)

	return oms
}

// SetOrderGateway attaches the transport reporting order events. Call it
// before Start.
func (s *OMS) SetOrderGateway(g OrderGateway) {
	s.orderGateway = g
}

// AddRules appends validation rules run on every order and basket leg.
func (s *OMS) AddRules(rules ...rule.Rule) {
	s.rules = append(s.rules, rules...)
}

func (s *OMS) Registry() *instrument.Registry {
	return s.registry
}

func (s *OMS) Start(ctx context.Context) error {
	if s.orderGateway == nil {
		return nil
	}
	return s.orderGateway.Start(ctx)
}

// Stop refuses new commands and closes every trade subscription.
func (s *OMS) Stop() {
	s.stopOnce.Do(func() {
		s.orderbookManager.Stop()
		s.feed.close()
	})
}

func (s *OMS) Submit(ctx context.Context, req model.OrderRequest) (*SubmitResult, error) {
	switch r := req.(type) {
	case *model.SimpleOrderRequest:
		return s.SubmitOrder(ctx, r)
	case *model.BasketOrderRequest:
		return s.SubmitBasket(ctx, r)
	case nil:
		return nil, validationError(errNilRequest)
	default:
		return nil, validationError(fmt.Errorf("%w: %T", errUnknownRequest, req))
	}
}

func (s *OMS) SubmitOrder(ctx context.Context, req *model.SimpleOrderRequest) (*SubmitResult, error) {
	if req == nil {
		return nil, validationError(errNilRequest)
	}

	order := &orderbook.Order{
		ID:       req.ID,
		TraderID: req.TraderID,
		Side:     req.Side.ToBook(),
		Symbol:   req.Symbol,
		Price:    req.Price,
		Quantity: req.Quantity,
	}
	if order.ID == "" {
		order.ID = s.newID()
	}
	if err := s.validate(order); err != nil {
		return nil, err
	}
	if err := s.reserve(order.ID, orderRef{symbol: order.Symbol}); err != nil {
		return nil, err
	}

	res, err := s.route(ctx, order)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{
		OrderID: order.ID,
		Orders:  []orderbook.Order{res.Order},
		Trades:  res.Trades,
	}, nil
}

// SubmitBasket validates every leg before any leg is routed. Legs are then
// routed one by one; an error while routing returns the legs routed so far.
func (s *OMS) SubmitBasket(ctx context.Context, req *model.BasketOrderRequest) (*SubmitResult, error) {
	if req == nil {
		return nil, validationError(errNilRequest)
	}

	breq := &basket.Request{ID: req.ID, TraderID: req.TraderID, Symbol: req.Symbol}
	for _, leg := range req.Legs {
		breq.Legs = append(breq.Legs, basket.Leg{
			Symbol:   leg.Symbol,
			Side:     leg.Side.ToBook(),
			Price:    leg.Price,
			Quantity: leg.Quantity,
		})
	}
	legs, err := s.expander.Expand(breq)
	if err != nil {
		if errors.Is(err, ErrLimitExceeded) {
			return nil, err
		}
		return nil, validationError(err)
	}

	if c, ok := s.registry.Composite(req.Symbol); ok {
		for _, leg := range legs {
			if !contains(c.Constituents, leg.Symbol) {
				return nil, validationError(fmt.Errorf("%w: %s not in %s", errNotConstituent, leg.Symbol, c.Symbol))
			}
		}
	}
	for _, leg := range legs {
		if err := s.validate(leg); err != nil {
			return nil, err
		}
	}

	basketID := legs[0].BasketID
	if err := s.reserveBasket(basketID, legs); err != nil {
		return nil, err
	}

	result := &SubmitResult{OrderID: basketID, BasketID: basketID}
	for _, leg := range legs {
		res, err := s.route(ctx, leg)
		if err != nil {
			return result, err
		}
		result.Orders = append(result.Orders, res.Order)
		result.Trades = append(result.Trades, res.Trades...)
	}
	return result, nil
}

// CancelOrder cancels an order, or every leg of a basket id. Unknown ids are
// reported as CancelNotFound, not as an error.
func (s *OMS) CancelOrder(ctx context.Context, id string) (*CancelReport, error) {
	ref, ok := s.lookup(id)
	if !ok {
		s.logger.Warn("cancel of unknown order", zap.String("order_id", id))
		return &CancelReport{ID: id, Outcome: orderbook.CancelNotFound}, nil
	}

	report := &CancelReport{ID: id, Basket: ref.basket}
	legIDs := []string{id}
	if ref.basket {
		legIDs = s.eventstore.GetBasketOrders(id)
	}

	for _, legID := range legIDs {
		legRef, ok := s.lookup(legID)
		if !ok {
			report.Legs = append(report.Legs, LegCancel{OrderID: legID, Outcome: orderbook.CancelNotFound})
			continue
		}
		res, err := s.orderbookManager.CancelOrder(ctx, legRef.symbol, legID)
		if err != nil {
			report.Outcome = aggregateOutcome(report.Legs)
			return report, err
		}
		report.Legs = append(report.Legs, LegCancel{OrderID: legID, Outcome: res.Outcome, Order: res.Order})
		report.Trades = append(report.Trades, res.Trades...)
	}
	report.Outcome = aggregateOutcome(report.Legs)
	return report, nil
}

func (s *OMS) GetOrderStatus(ctx context.Context, id string) (orderbook.Order, error) {
	ref, ok := s.lookup(id)
	if !ok || ref.basket {
		return orderbook.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	order, found, err := s.orderbookManager.GetOrder(ctx, ref.symbol, id)
	if err != nil {
		return orderbook.Order{}, err
	}
	if !found {
		return orderbook.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return order, nil
}

// GetBasketStatus returns the state of every leg of a basket, in leg order.
func (s *OMS) GetBasketStatus(ctx context.Context, basketID string) ([]orderbook.Order, error) {
	ref, ok := s.lookup(basketID)
	if !ok || !ref.basket {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, basketID)
	}
	var legs []orderbook.Order
	for _, legID := range s.eventstore.GetBasketOrders(basketID) {
		order, err := s.GetOrderStatus(ctx, legID)
		if err != nil {
			return legs, err
		}
		legs = append(legs, order)
	}
	return legs, nil
}

// RegisterInstrument registers a plain instrument. An initial price on a
// symbol that already has orders resumes any match waiting for a price.
func (s *OMS) RegisterInstrument(symbol string, initial decimal.NullDecimal) error {
	if err := s.registry.RegisterInstrument(symbol, initial); err != nil {
		return validationError(err)
	}
	if !initial.Valid {
		return nil
	}
	_, err := s.orderbookManager.Rematch(context.Background(), symbol)
	return err
}

func (s *OMS) RegisterComposite(symbol string, constituents []string) error {
	err := s.registry.RegisterComposite(symbol, constituents)
	if err != nil && !errors.Is(err, ErrLimitExceeded) {
		return validationError(err)
	}
	return err
}

// UpdateReferencePrice applies an external price for a plain symbol through
// its queue and returns the trades it released.
func (s *OMS) UpdateReferencePrice(ctx context.Context, symbol string, price decimal.Decimal) ([]orderbook.Trade, error) {
	switch {
	case symbol == "":
		return nil, validationError(errEmptySymbol)
	case !price.IsPositive():
		return nil, validationError(errInvalidPrice)
	case s.registry.IsComposite(symbol):
		return nil, validationError(fmt.Errorf("%w: %s", errCompositePriceSet, symbol))
	}

	res, err := s.orderbookManager.UpdatePrice(ctx, symbol, price)
	if err != nil {
		return nil, err
	}
	return res.Trades, nil
}

// SubscribeTrades returns every trade executed after the call, in execution
// order per symbol. The channel closes when ctx is done or the OMS stops.
func (s *OMS) SubscribeTrades(ctx context.Context) <-chan orderbook.Trade {
	return s.feed.subscribe(ctx)
}

// Events returns the audit trail of an order, oldest first.
func (s *OMS) Events(orderID string) []*model.OrderEvent {
	return s.eventstore.GetEvents(orderID)
}

func (s *OMS) Depth(ctx context.Context, symbol string) (orderbook.Depth, error) {
	return s.orderbookManager.GetDepth(ctx, symbol)
}

func (s *OMS) validate(order *orderbook.Order) error {
	switch {
	case order.Symbol == "":
		return validationError(errEmptySymbol)
	case !order.Side.Valid():
		return validationError(errInvalidSide)
	case order.Quantity <= 0:
		return validationError(errInvalidQuantity)
	case order.Price.Valid && !order.Price.Decimal.IsPositive():
		return validationError(errInvalidPrice)
	}
	if err := s.rules.Check(order); err != nil {
		return validationError(err)
	}
	return nil
}

// route admits order into its symbol's book.
func (s *OMS) route(ctx context.Context, order *orderbook.Order) (orderbook.SubmitResult, error) {
	if !s.registry.IsRegistered(order.Symbol) {
		if s.cfg.AutoRegisterSymbols {
			if err := s.registry.RegisterInstrument(order.Symbol, decimal.NullDecimal{}); err != nil {
				return orderbook.SubmitResult{}, validationError(err)
			}
		} else {
			order.Status = orderbook.Rejected
		}
	}

	res, err := s.orderbookManager.AddOrder(ctx, order)
	if errors.Is(err, orderbook.ErrManagerStopped) {
		// never admitted, the id can be reused
		s.release(order.ID)
	}
	return res, err
}

func (s *OMS) onExecutions(execs []orderbook.Execution) {
	now := time.Now()
	for _, ex := range execs {
		ev := model.NewOrderEvent(ex, now)
		s.eventstore.AddEvent(ev)
		if s.orderGateway != nil {
			s.orderGateway.OnOrderReport(context.Background(), ev)
		}
	}
}

func (s *OMS) onTrades(trades []orderbook.Trade) {
	for _, t := range trades {
		s.matchQty.Add(t.Qty)
		if n := s.matchCount.Add(1); n%matchLogInterval == 0 {
			s.logger.Info("match progress",
				zap.Int64("total_match_count", n),
				zap.Int64("total_match_qty", s.matchQty.Load()))
		}
	}
	s.feed.publish(trades)
}

func (s *OMS) onDeferral(d orderbook.Deferral) {
	now := time.Now()
	for _, ev := range []*model.OrderEvent{
		model.NewOrderEventDeferred(d.Bid, d.Ask.ID, now),
		model.NewOrderEventDeferred(d.Ask, d.Bid.ID, now),
	} {
		s.eventstore.AddEvent(ev)
	}
}

func validationError(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

func aggregateOutcome(legs []LegCancel) orderbook.CancelOutcome {
	outcome := orderbook.CancelNotFound
	for _, l := range legs {
		switch l.Outcome {
		case orderbook.CancelOK:
			return orderbook.CancelOK
		case orderbook.CancelAlreadyTerminal:
			outcome = orderbook.CancelAlreadyTerminal
		}
	}
	return outcome
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
