// Package tradeexport publishes every executed trade to a Kafka topic.
package tradeexport

import (
	"context"

	kafkawrapper "github.com/joripage/matchcore/pkg/kafka_wrapper"
	"github.com/joripage/matchcore/pkg/oms/model"
	"github.com/joripage/matchcore/pkg/orderbook"
	"go.uber.org/zap"
)

// TradeSource is satisfied by *oms.OMS.
type TradeSource interface {
	SubscribeTrades(ctx context.Context) <-chan orderbook.Trade
}

type Config struct {
	Topic    string
	EngineID string
}

// Exporter relays trades to the topic keyed by symbol, so the per-symbol
// execution order is kept within a partition.
type Exporter struct {
	cfg       Config
	publisher kafkawrapper.Publisher
	logger    *zap.Logger
}

func NewExporter(cfg Config, publisher kafkawrapper.Publisher, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{cfg: cfg, publisher: publisher, logger: logger}
}

// Run subscribes to src and publishes until the subscription closes. It
// returns the number of trades published.
func (e *Exporter) Run(ctx context.Context, src TradeSource) int {
	return e.Relay(ctx, src.SubscribeTrades(ctx))
}

// Relay publishes trades until the channel closes.
func (e *Exporter) Relay(ctx context.Context, trades <-chan orderbook.Trade) int {
	var published int
	for t := range trades {
		msg := model.TradeMessage{EngineID: e.cfg.EngineID, Trade: t}
		if err := e.publisher.PublishJSON(context.WithoutCancel(ctx), e.cfg.Topic, t.Symbol, msg, nil); err != nil {
			e.logger.Error("publish trade",
				zap.String("symbol", t.Symbol), zap.Uint64("seq", t.Seq), zap.Error(err))
			continue
		}
		published++
	}
	e.logger.Info("trade export stopped", zap.Int("published", published))
	return published
}
