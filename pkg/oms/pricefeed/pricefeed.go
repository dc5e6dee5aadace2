// Package pricefeed applies external reference prices read from Kafka.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"

	kafkawrapper "github.com/joripage/matchcore/pkg/kafka_wrapper"
	"github.com/joripage/matchcore/pkg/logging"
	"github.com/joripage/matchcore/pkg/oms"
	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceUpdater is satisfied by *oms.OMS.
type PriceUpdater interface {
	UpdateReferencePrice(ctx context.Context, symbol string, price decimal.Decimal) ([]orderbook.Trade, error)
}

// PriceMessage is the payload of the price topic.
type PriceMessage struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

type Handler struct {
	updater PriceUpdater
	logger  *logging.Logger
}

func NewHandler(updater PriceUpdater, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Wrap(nil)
	}
	return &Handler{updater: updater, logger: logger}
}

// HandleBatch applies prices in message order. A logger stored in ctx
// with logging.WithLogger takes precedence over the handler's own. Malformed or invalid prices
// are logged and skipped; only a stopped engine fails the batch.
func (h *Handler) HandleBatch(ctx context.Context, msgs []kafkawrapper.Message) error {
	ctx = logging.NewRequestContext(ctx)
	log := logging.FromContext(ctx, h.logger)

	for _, msg := range msgs {
		var pm PriceMessage
		if err := json.Unmarshal(msg.Value, &pm); err != nil {
			log.Warn(ctx, "drop undecodable price", zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}

		trades, err := h.updater.UpdateReferencePrice(ctx, pm.Symbol, pm.Price)
		switch {
		case errors.Is(err, oms.ErrValidation):
			log.Warn(ctx, "drop invalid price", zap.String("symbol", pm.Symbol), zap.Error(err))
		case err != nil:
			return err
		case len(trades) > 0:
			log.Info(ctx, "reference price released trades",
				zap.String("symbol", pm.Symbol), zap.String("price", pm.Price.String()), zap.Int("trades", len(trades)))
		}
	}
	return nil
}
