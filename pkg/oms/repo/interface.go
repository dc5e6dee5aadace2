package repo

import (
	"context"

	"github.com/joripage/matchcore/pkg/oms/model"
)

type ITrade interface {
	// BulkCreate inserts records, skipping those already stored.
	BulkCreate(ctx context.Context, records []*model.TradeRecord) error
	ListBySymbol(ctx context.Context, symbol string, limit int) ([]*model.TradeRecord, error)
}
