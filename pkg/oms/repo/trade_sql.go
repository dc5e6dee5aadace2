package repo

import (
	"context"

	"github.com/joripage/matchcore/pkg/oms/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const bulkInsertBatchSize = 500

type TradeSQLRepo struct {
	db *gorm.DB
}

func NewTradeSQLRepo(db *gorm.DB) *TradeSQLRepo {
	return &TradeSQLRepo{
		db: db,
	}
}

func (s *TradeSQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// BulkCreate is idempotent: redelivered trades hit the primary key and are
// skipped.
func (r *TradeSQLRepo) BulkCreate(ctx context.Context, records []*model.TradeRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.dbWithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(records, bulkInsertBatchSize).Error
}

func (r *TradeSQLRepo) ListBySymbol(ctx context.Context, symbol string, limit int) ([]*model.TradeRecord, error) {
	var out []*model.TradeRecord
	err := r.dbWithContext(ctx).
		Where("symbol = ?", symbol).
		Order("executed_at, seq").
		Limit(limit).
		Find(&out).Error
	return out, err
}
