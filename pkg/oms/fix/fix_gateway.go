package fixgateway

import (
	"context"
	"errors"
	"sync"

	"github.com/joripage/matchcore/pkg/oms"
	"github.com/joripage/matchcore/pkg/oms/model"
	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/quickfix"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var errSessionNotFound = errors.New("session not found")

// FixGateway accepts FIX 4.4 order flow and reports every order event of
// the orders it submitted back to the originating session. ClOrdID is used
// as the order id.
type FixGateway struct {
	cfg         *FixGatewayConfig
	app         *Application
	omsInstance oms.IOMS

	// order or basket id -> quickfix.SessionID
	sessionMapping sync.Map

	send   func(quickfix.Messagable, quickfix.SessionID) error
	logger *zap.Logger
}

type FixGatewayConfig struct {
	ConfigFilepath string
	App            AppConfig
}

func NewFixGateway(cfg *FixGatewayConfig, logger *zap.Logger) *FixGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FixGateway{
		cfg:    cfg,
		send:   quickfix.SendToTarget,
		logger: logger,
	}
}

func (s *FixGateway) AddOmsInstance(o oms.IOMS) {
	s.omsInstance = o
}

func (s *FixGateway) Start(ctx context.Context) error {
	app, err := startApp(s.cfg.ConfigFilepath, s.cfg.App, s, s.logger)
	if err != nil {
		s.logger.Error("start fix app", zap.Error(err))
		return err
	}
	s.app = app
	go func() {
		<-ctx.Done()
		app.stop()
	}()
	return nil
}

func (s *FixGateway) AddOrder(nos *NewOrderSingle) {
	req := toOrderRequest(nos)

	s.sessionMapping.Store(nos.ClOrdID, nos.SessionID)
	if _, err := s.omsInstance.SubmitOrder(context.Background(), req); err != nil {
		s.sessionMapping.Delete(nos.ClOrdID)
		s.logger.Warn("order refused", zap.String("cl_ord_id", nos.ClOrdID), zap.Error(err))
		s.sendMessage(orderRejectToExecutionReport(nos, err.Error()), nos.SessionID)
	}
}

func (s *FixGateway) CancelOrder(req *OrderCancelRequest) {
	report, err := s.omsInstance.CancelOrder(context.Background(), req.OrigClOrdID)
	if err != nil {
		s.logger.Warn("cancel failed", zap.String("orig_cl_ord_id", req.OrigClOrdID), zap.Error(err))
		s.sendMessage(cancelReject(req, enum.OrdStatus_REJECTED, enum.CxlRejReason_OTHER, err.Error()), req.SessionID)
		return
	}

	switch report.Outcome {
	case orderbook.CancelNotFound:
		s.sendMessage(cancelReject(req, enum.OrdStatus_REJECTED, enum.CxlRejReason_UNKNOWN_ORDER, "unknown order"), req.SessionID)
	case orderbook.CancelAlreadyTerminal:
		status := enum.OrdStatus_FILLED
		if len(report.Legs) == 1 {
			status = ordStatusMapping[report.Legs[0].Order.Status]
		}
		s.sendMessage(cancelReject(req, status, enum.CxlRejReason_TOO_LATE_TO_CANCEL, "order already terminal"), req.SessionID)
	}
	// CancelOK is reported by the Canceled execution report of each order
}

func (s *FixGateway) OnOrderReport(ctx context.Context, ev *model.OrderEvent) {
	sessionID, err := s.sessionFor(ev)
	if err != nil {
		s.logger.Debug("no session for order report", zap.String("order_id", ev.OrderID))
		return
	}
	s.sendMessage(orderEventToExecutionReport(ev), sessionID)
}

func (s *FixGateway) sessionFor(ev *model.OrderEvent) (quickfix.SessionID, error) {
	for _, id := range []string{ev.OrderID, ev.BasketID} {
		if id == "" {
			continue
		}
		if v, ok := s.sessionMapping.Load(id); ok {
			return v.(quickfix.SessionID), nil
		}
	}
	return quickfix.SessionID{}, errSessionNotFound
}

func (s *FixGateway) sendMessage(msg quickfix.Messagable, sessionID quickfix.SessionID) {
	if err := s.send(msg, sessionID); err != nil {
		s.logger.Warn("send error", zap.String("session", sessionID.String()), zap.Error(err))
	}
}

// toOrderRequest maps a NewOrderSingle; market orders carry no price.
func toOrderRequest(nos *NewOrderSingle) *model.SimpleOrderRequest {
	req := &model.SimpleOrderRequest{
		ID:       nos.ClOrdID,
		TraderID: nos.Account,
		Symbol:   nos.Symbol,
		Side:     sideMapping[nos.Side],
		Quantity: nos.OrderQty.IntPart(),
	}
	if nos.OrdType != enum.OrdType_MARKET && !nos.Price.IsZero() {
		req.Price = decimal.NewNullDecimal(nos.Price)
	}
	return req
}
