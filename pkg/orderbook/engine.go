package orderbook

import (
	"fmt"
	"time"

	"github.com/joripage/matchcore/pkg/sequence"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CancelOutcome string

const (
	CancelOK              CancelOutcome = "CANCELLED"
	CancelNotFound        CancelOutcome = "NOT_FOUND"
	CancelAlreadyTerminal CancelOutcome = "ALREADY_TERMINAL"
)

type ExecKind string

const (
	ExecNew      ExecKind = "NEW"
	ExecTrade    ExecKind = "TRADE"
	ExecCanceled ExecKind = "CANCELED"
	ExecRejected ExecKind = "REJECTED"
)

// Execution is one state change of one order, with the order as it was right
// after the change. A trade yields two executions, buy side first.
type Execution struct {
	Kind  ExecKind
	Order Order
	Trade *Trade
}

type SubmitResult struct {
	Order      Order
	Trades     []Trade
	Executions []Execution
	Deferral   *Deferral
}

type CancelResult struct {
	OrderID string
	Outcome CancelOutcome
	// Order is the order state after the cancel, zero when not found.
	Order      Order
	Trades     []Trade
	Executions []Execution
	Deferral   *Deferral
}

type matchOutcome struct {
	trades     []Trade
	executions []Execution
	deferral   *Deferral
}

// engine is the matching state of a single symbol. It is not safe for
// concurrent use: the manager runs every command of a symbol on one shard.
type engine struct {
	symbol string
	book   *orderBook
	// every admitted order, live or terminal
	orders map[string]*Order

	prices   PriceBook
	arrivals *sequence.Sequencer
	tradeSeq *sequence.Sequencer
	now      func() time.Time

	// last reported deferral, so a stuck pair is reported once
	deferred *Deferral

	logger *zap.Logger
}

func newEngine(symbol string, prices PriceBook, arrivals, tradeSeq *sequence.Sequencer, logger *zap.Logger) *engine {
	return &engine{
		symbol:   symbol,
		book:     newOrderBook(symbol),
		orders:   make(map[string]*Order),
		prices:   prices,
		arrivals: arrivals,
		tradeSeq: tradeSeq,
		now:      time.Now,
		logger:   logger.With(zap.String("symbol", symbol)),
	}
}

func (e *engine) submit(order *Order) (SubmitResult, error) {
	if _, ok := e.orders[order.ID]; ok {
		return SubmitResult{}, fmt.Errorf("%w: %s", errDuplicateOrder, order.ID)
	}

	order.Seq = e.arrivals.Next()
	order.Remaining = order.Quantity
	e.orders[order.ID] = order

	if order.Status == Rejected {
		e.logger.Warn("order rejected at admission", zap.String("order_id", order.ID))
		return SubmitResult{
			Order:      *order,
			Executions: []Execution{{Kind: ExecRejected, Order: *order}},
		}, nil
	}

	order.Status = Placed
	e.book.insert(order)
	admitted := Execution{Kind: ExecNew, Order: *order}

	out := e.match()
	return SubmitResult{
		Order:      *order,
		Trades:     out.trades,
		Executions: append([]Execution{admitted}, out.executions...),
		Deferral:   out.deferral,
	}, nil
}

func (e *engine) cancel(orderID string) CancelResult {
	order, ok := e.orders[orderID]
	if !ok {
		return CancelResult{OrderID: orderID, Outcome: CancelNotFound}
	}
	if !order.Status.Live() {
		return CancelResult{OrderID: orderID, Outcome: CancelAlreadyTerminal, Order: *order}
	}

	e.book.remove(orderID)
	order.cancel()
	cancelled := Execution{Kind: ExecCanceled, Order: *order}
	e.logger.Debug("order cancelled", zap.String("order_id", orderID), zap.Int64("remaining", order.Remaining))

	// the cancelled order may have been the head of a deferred pair
	out := e.match()
	return CancelResult{
		OrderID:    orderID,
		Outcome:    CancelOK,
		Order:      *order,
		Trades:     out.trades,
		Executions: append([]Execution{cancelled}, out.executions...),
		Deferral:   out.deferral,
	}
}

// applyPrice records an external reference price for the symbol and resumes
// matching.
func (e *engine) applyPrice(price decimal.Decimal) SubmitResult {
	e.prices.UpdatePrice(e.symbol, price)
	return e.rematch()
}

func (e *engine) rematch() SubmitResult {
	out := e.match()
	return SubmitResult{
		Trades:     out.trades,
		Executions: out.executions,
		Deferral:   out.deferral,
	}
}

func (e *engine) status(orderID string) (Order, bool) {
	order, ok := e.orders[orderID]
	if !ok {
		return Order{}, false
	}
	return *order, true
}

func (e *engine) match() matchOutcome {
	var out matchOutcome
	for {
		bid, okBid := e.book.bestBid()
		ask, okAsk := e.book.bestAsk()
		if !okBid || !okAsk || !crosses(bid, ask) {
			e.deferred = nil
			return out
		}

		maker, taker := makerTaker(bid, ask)
		price, ok := tradePrice(maker, taker, e.prices)
		if !ok {
			d := Deferral{Symbol: e.symbol, Bid: *bid, Ask: *ask}
			if e.deferred == nil || !e.deferred.samePair(&d) {
				e.deferred = &d
				out.deferral = &d
				e.logger.Info("match deferred, pricing unavailable",
					zap.String("bid_order_id", bid.ID),
					zap.String("ask_order_id", ask.ID))
			}
			return out
		}
		e.deferred = nil

		qty := min(bid.Remaining, ask.Remaining)
		bid.fill(qty)
		ask.fill(qty)

		trade := Trade{
			Seq:          e.tradeSeq.Next(),
			Symbol:       e.symbol,
			BuyOrderID:   bid.ID,
			SellOrderID:  ask.ID,
			MakerOrderID: maker.ID,
			Qty:          qty,
			Price:        price,
			Time:         e.now(),
		}
		out.trades = append(out.trades, trade)
		out.executions = append(out.executions,
			Execution{Kind: ExecTrade, Order: *bid, Trade: &trade},
			Execution{Kind: ExecTrade, Order: *ask, Trade: &trade},
		)

		if bid.Status == Executed {
			e.book.remove(bid.ID)
		}
		if ask.Status == Executed {
			e.book.remove(ask.ID)
		}

		e.prices.UpdatePrice(e.symbol, price)

		e.logger.Debug("trade executed",
			zap.Uint64("seq", trade.Seq),
			zap.String("buy_order_id", trade.BuyOrderID),
			zap.String("sell_order_id", trade.SellOrderID),
			zap.Int64("qty", qty),
			zap.String("price", price.String()))
	}
}
