package model

import (
	"time"

	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/shopspring/decimal"
)

// TradeMessage is a trade as published on the trade topic. Seq is unique
// per engine run, so EngineID is part of the identity.
type TradeMessage struct {
	EngineID string `json:"engine_id"`
	orderbook.Trade
}

// TradeRecord is the persisted form of a trade.
type TradeRecord struct {
	EngineID     string          `gorm:"column:engine_id;primaryKey"`
	Seq          uint64          `gorm:"column:seq;primaryKey;autoIncrement:false"`
	Symbol       string          `gorm:"column:symbol"`
	BuyOrderID   string          `gorm:"column:buy_order_id"`
	SellOrderID  string          `gorm:"column:sell_order_id"`
	MakerOrderID string          `gorm:"column:maker_order_id"`
	Qty          int64           `gorm:"column:qty"`
	Price        decimal.Decimal `gorm:"column:price;type:numeric(38,8)"`
	ExecutedAt   time.Time       `gorm:"column:executed_at"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (TradeRecord) TableName() string {
	return "trades"
}

func (m *TradeMessage) Record() *TradeRecord {
	return &TradeRecord{
		EngineID:     m.EngineID,
		Seq:          m.Seq,
		Symbol:       m.Symbol,
		BuyOrderID:   m.BuyOrderID,
		SellOrderID:  m.SellOrderID,
		MakerOrderID: m.MakerOrderID,
		Qty:          m.Qty,
		Price:        m.Price,
		ExecutedAt:   m.Time,
	}
}
