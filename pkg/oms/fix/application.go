package fixgateway

import (
	"bytes"
	"fmt"
	"os"

	"github.com/joripage/go_util/pkg/shardqueue"
	"github.com/quickfixgo/fix44/newordersingle"
	"github.com/quickfixgo/fix44/ordercancelreplacerequest"
	"github.com/quickfixgo/fix44/ordercancelrequest"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/quickfix/log/file"
	"github.com/quickfixgo/tag"
	"go.uber.org/zap"
)

// Application implements the quickfix.Application interface
type Application struct {
	*quickfix.MessageRouter
	cfg        AppConfig
	quit       chan struct{}
	dispatcher chan *inboundMsg
	shardQueue *shardqueue.Shardqueue

	gateway *FixGateway
	logger  *zap.Logger
}

type AppConfig struct {
	EnableQueue      bool
	EnableShardQueue bool
	NumShards        int
	QueueSize        int
}

type inboundMsg struct {
	msg       *quickfix.Message
	sessionID quickfix.SessionID
}

const (
	defaultNumShards = 16
	defaultQueueSize = 100_000
)

func newApplication(cfg AppConfig, gateway *FixGateway, logger *zap.Logger) *Application {
	if cfg.NumShards <= 0 {
		cfg.NumShards = defaultNumShards
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	app := &Application{
		MessageRouter: quickfix.NewMessageRouter(),
		cfg:           cfg,
		quit:          make(chan struct{}),
		gateway:       gateway,
		logger:        logger,
	}

	app.AddRoute(newordersingle.Route(app.onNewOrderSingle))
	app.AddRoute(ordercancelrequest.Route(app.onOrderCancelRequest))
	app.AddRoute(ordercancelreplacerequest.Route(app.onOrderCancelReplaceRequest))

	if app.cfg.EnableShardQueue {
		app.shardQueue = shardqueue.NewShardQueue(cfg.NumShards, cfg.QueueSize)
		app.shardQueue.Start(func(msg interface{}) error {
			if v, ok := msg.(*inboundMsg); ok {
				app.route(v)
			}
			return nil
		})
	} else if app.cfg.EnableQueue {
		app.dispatcher = make(chan *inboundMsg, cfg.QueueSize)
		go app.runDispatcher()
	}

	return app
}

func startApp(configFilepath string, cfg AppConfig, gateway *FixGateway, logger *zap.Logger) (*Application, error) {
	data, err := os.ReadFile(configFilepath)
	if err != nil {
		return nil, fmt.Errorf("error reading cfg %s: %w", configFilepath, err)
	}

	appSettings, err := quickfix.ParseSettings(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing cfg: %w", err)
	}

	app := newApplication(cfg, gateway, logger)

	logFactory, err := file.NewLogFactory(appSettings)
	if err != nil {
		return nil, fmt.Errorf("unable to create log factory: %w", err)
	}
	acceptor, err := quickfix.NewAcceptor(app, quickfix.NewMemoryStoreFactory(), appSettings, logFactory)
	if err != nil {
		return nil, fmt.Errorf("unable to create acceptor: %w", err)
	}

	if err := acceptor.Start(); err != nil {
		return nil, fmt.Errorf("unable to start FIX acceptor: %w", err)
	}

	go func() {
		<-app.quit
		acceptor.Stop()
	}()

	return app, nil
}

func (a *Application) stop() {
	select {
	case <-a.quit:
	default:
		close(a.quit)
	}
}

// OnCreate implemented as part of Application interface
func (a *Application) OnCreate(sessionID quickfix.SessionID) {}

// OnLogon implemented as part of Application interface
func (a *Application) OnLogon(sessionID quickfix.SessionID) {
	a.logger.Info("fix logon", zap.String("session", sessionID.String()))
}

// OnLogout implemented as part of Application interface
func (a *Application) OnLogout(sessionID quickfix.SessionID) {
	a.logger.Info("fix logout", zap.String("session", sessionID.String()))
}

// ToAdmin implemented as part of Application interface
func (a *Application) ToAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) {}

// ToApp implemented as part of Application interface
func (a *Application) ToApp(msg *quickfix.Message, sessionID quickfix.SessionID) error {
	return nil
}

// FromAdmin implemented as part of Application interface
func (a *Application) FromAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return nil
}

// FromApp implemented as part of Application interface, uses Router on incoming application messages
func (a *Application) FromApp(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	if a.cfg.EnableShardQueue {
		a.shardQueue.Shard(getRoutingKey(msg, sessionID), &inboundMsg{msg, sessionID})
		return nil
	} else if a.cfg.EnableQueue {
		a.dispatcher <- &inboundMsg{msg, sessionID}
		return nil
	}

	return a.Route(msg, sessionID)
}

// getRoutingKey keeps every message of one symbol on one shard, so a cancel
// never overtakes the order it targets.
func getRoutingKey(msg *quickfix.Message, sessionID quickfix.SessionID) string {
	if symbol, err := msg.Body.GetString(tag.Symbol); err == nil && symbol != "" {
		return symbol
	}

	if msgType, err := msg.Header.GetString(tag.MsgType); err == nil {
		return "MSGTYPE:" + msgType
	}

	return sessionID.String()
}

func (a *Application) runDispatcher() {
	for {
		select {
		case msg := <-a.dispatcher:
			a.route(msg)
		case <-a.quit:
			return
		}
	}
}

func (a *Application) route(in *inboundMsg) {
	if err := a.Route(in.msg, in.sessionID); err != nil {
		a.logger.Warn("route error", zap.String("session", in.sessionID.String()), zap.Error(err))
	}
}

func (a *Application) onNewOrderSingle(msg newordersingle.NewOrderSingle, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	clOrdID, err := msg.GetClOrdID()
	if err != nil {
		return err
	}
	symbol, _ := msg.GetSymbol()
	side, _ := msg.GetSide()
	ordType, _ := msg.GetOrdType()
	price, _ := msg.GetPrice()
	orderQty, _ := msg.GetOrderQty()
	account, _ := msg.GetAccount()
	transactTime, _ := msg.GetTransactTime()

	a.gateway.AddOrder(&NewOrderSingle{
		SessionID:    sessionID,
		Account:      account,
		ClOrdID:      clOrdID,
		Symbol:       symbol,
		OrdType:      ordType,
		Price:        price,
		Side:         side,
		TransactTime: transactTime,
		OrderQty:     orderQty,
	})
	return nil
}

func (a *Application) onOrderCancelRequest(msg ordercancelrequest.OrderCancelRequest, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	origClOrdID, err := msg.GetOrigClOrdID()
	if err != nil {
		return err
	}
	clOrdID, _ := msg.GetClOrdID()
	symbol, _ := msg.GetSymbol()
	side, _ := msg.GetSide()
	account, _ := msg.GetAccount()
	transactTime, _ := msg.GetTransactTime()

	a.gateway.CancelOrder(&OrderCancelRequest{
		SessionID:    sessionID,
		OrigClOrdID:  origClOrdID,
		ClOrdID:      clOrdID,
		Account:      account,
		Symbol:       symbol,
		Side:         side,
		TransactTime: transactTime,
	})
	return nil
}

// Orders cannot be amended; clients cancel and resubmit.
func (a *Application) onOrderCancelReplaceRequest(msg ordercancelreplacerequest.OrderCancelReplaceRequest, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return quickfix.UnsupportedMessageType()
}
