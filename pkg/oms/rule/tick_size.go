package rule

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/shopspring/decimal"
)

// DefaultTickSizeKey holds the bands of symbols without their own entry.
const DefaultTickSizeKey = "*"

type tickSizeConfig struct {
	MaxPrice decimal.Decimal `json:"maxPrice"` // 0 = no limit
	Step     decimal.Decimal `json:"step"`
}

// TickSizeRule holds price bands per symbol. Bands are checked in order and
// the first band whose MaxPrice covers the price decides the step.
type TickSizeRule struct {
	Config map[string][]tickSizeConfig
}

func NewTickSizeRuleFromFile(path string) (*TickSizeRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewTickSizeRule(data)
}

func NewTickSizeRule(data []byte) (*TickSizeRule, error) {
	var cfg map[string][]tickSizeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse tick size config: %w", err)
	}
	for symbol, bands := range cfg {
		for _, b := range bands {
			if !b.Step.IsPositive() {
				return nil, fmt.Errorf("tick size config %s: step must be positive", symbol)
			}
		}
	}
	return &TickSizeRule{Config: cfg}, nil
}

func (r *TickSizeRule) Check(order *orderbook.Order) error {
	if order.IsMarket() {
		return nil
	}
	bands, ok := r.Config[order.Symbol]
	if !ok {
		bands, ok = r.Config[DefaultTickSizeKey]
	}
	if !ok { // no config -> no rule
		return nil
	}

	price := order.Price.Decimal
	for _, band := range bands {
		if band.MaxPrice.IsZero() || price.LessThanOrEqual(band.MaxPrice) {
			if !price.Mod(band.Step).IsZero() {
				return fmt.Errorf("%w: %s is not a multiple of %s", errInvalidTickSize, price, band.Step)
			}
			return nil
		}
	}
	return nil
}
