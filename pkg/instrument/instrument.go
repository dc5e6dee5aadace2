package instrument

import "github.com/shopspring/decimal"

// MaxConstituents is the fixed upper bound on composite constituents and
// basket legs. It is not configurable.
const MaxConstituents = 3

// Instrument is a plain tradable instrument. Price is invalid until the first
// trade or an explicit initial price.
type Instrument struct {
	Symbol  string
	Price   decimal.NullDecimal
	Version uint64
}

// Composite is a basket instrument priced as the sum of its constituents.
type Composite struct {
	Symbol       string
	Constituents []string
	Price        decimal.Decimal
	Version      uint64
}

// PriceChange is delivered to listeners after a committed price update.
type PriceChange struct {
	Symbol    string
	Price     decimal.Decimal
	Version   uint64
	Composite bool
}

func (c *Composite) recompute(plain map[string]*Instrument) {
	sum := decimal.Zero
	for _, s := range c.Constituents {
		if in, ok := plain[s]; ok && in.Price.Valid {
			sum = sum.Add(in.Price.Decimal)
		}
	}
	c.Price = sum
	c.Version++
}

func (c *Composite) clone() Composite {
	out := *c
	out.Constituents = append([]string(nil), c.Constituents...)
	return out
}
