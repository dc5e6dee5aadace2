package worker

import (
	"context"
	"encoding/json"

	kafkawrapper "github.com/joripage/matchcore/pkg/kafka_wrapper"
	"github.com/joripage/matchcore/pkg/logging"
	"github.com/joripage/matchcore/pkg/oms/model"
	"github.com/joripage/matchcore/pkg/oms/repo"
	"go.uber.org/zap"
)

// Worker persists trades read from the trade topic.
type Worker struct {
	trade  repo.ITrade
	logger *logging.Logger
}

func NewWorker(r repo.IRepo, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Wrap(nil)
	}
	return &Worker{
		trade:  r.Trade(),
		logger: logger,
	}
}

// Start consumes until ctx is done.
func (w *Worker) Start(ctx context.Context, consumer *kafkawrapper.ConsumerGroup) error {
	return consumer.Run(ctx, w.HandleBatch)
}

// HandleBatch stores every decodable trade of a batch in one insert. A
// logger stored in ctx with logging.WithLogger takes precedence.
// Undecodable messages are logged and dropped; a store error fails the batch
// so it is retried.
func (w *Worker) HandleBatch(ctx context.Context, msgs []kafkawrapper.Message) error {
	ctx = logging.NewRequestContext(ctx)
	log := logging.FromContext(ctx, w.logger)

	records := make([]*model.TradeRecord, 0, len(msgs))
	for _, msg := range msgs {
		var tm model.TradeMessage
		if err := json.Unmarshal(msg.Value, &tm); err != nil {
			log.Warn(ctx, "drop undecodable trade",
				zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}
		records = append(records, tm.Record())
	}

	if err := w.trade.BulkCreate(ctx, records); err != nil {
		log.Error(ctx, "store trades", zap.Int("count", len(records)), zap.Error(err))
		return err
	}
	log.Debug(ctx, "trades stored", zap.Int("count", len(records)))
	return nil
}
