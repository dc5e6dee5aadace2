package rule

import (
	"fmt"

	"github.com/joripage/matchcore/pkg/orderbook"
)

type compositeLookup interface {
	IsComposite(symbol string) bool
}

// CompositeSymbolRule rejects orders on composite symbols, whose price is
// derived from constituents and never traded directly.
type CompositeSymbolRule struct {
	registry compositeLookup
}

func NewCompositeSymbolRule(registry compositeLookup) *CompositeSymbolRule {
	return &CompositeSymbolRule{registry: registry}
}

func (r *CompositeSymbolRule) Check(order *orderbook.Order) error {
	if r.registry.IsComposite(order.Symbol) {
		return fmt.Errorf("%w: %s", errCompositeSymbol, order.Symbol)
	}
	return nil
}
