package instrument

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Registry holds reference prices of plain and composite instruments.
//
// The registry has its own lock and never calls into a matching engine, so
// engines of different symbols can update prices concurrently without any
// lock ordering between them. Listeners run after the lock is released.
type Registry struct {
	mu         sync.RWMutex
	plain      map[string]*Instrument
	composites map[string]*Composite
	// constituent symbol -> composites that list it
	dependents map[string][]*Composite

	lmu       sync.RWMutex
	listeners []func(PriceChange)

	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		plain:      make(map[string]*Instrument),
		composites: make(map[string]*Composite),
		dependents: make(map[string][]*Composite),
		logger:     logger,
	}
}

// OnPriceChange registers fn to be called after every committed update.
// fn must not block.
func (r *Registry) OnPriceChange(fn func(PriceChange)) {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// RegisterInstrument adds a plain instrument. Registering an existing symbol
// is a no-op, except that an initial price fills a still unset price.
func (r *Registry) RegisterInstrument(symbol string, initial decimal.NullDecimal) error {
	if symbol == "" {
		return errEmptySymbol
	}

	r.mu.Lock()
	if _, ok := r.composites[symbol]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s is a composite", errDuplicateSymbol, symbol)
	}
	in, ok := r.plain[symbol]
	if !ok {
		in = &Instrument{Symbol: symbol}
		r.plain[symbol] = in
	}
	if in.Price.Valid || !initial.Valid {
		r.mu.Unlock()
		return nil
	}
	changes := r.setPriceLocked(in, initial.Decimal)
	r.mu.Unlock()

	r.notify(changes)
	return nil
}

// RegisterComposite adds a composite instrument over 1..MaxConstituents plain
// symbols. Constituents that are not registered yet count as zero.
func (r *Registry) RegisterComposite(symbol string, constituents []string) error {
	if symbol == "" {
		return errEmptySymbol
	}
	if len(constituents) > MaxConstituents {
		return fmt.Errorf("%w: %s has %d", ErrLimitExceeded, symbol, len(constituents))
	}
	if len(constituents) == 0 {
		return errNoConstituents
	}
	for _, s := range constituents {
		if s == "" {
			return errEmptySymbol
		}
		if s == symbol {
			return errSelfReference
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.composites[symbol]; ok {
		return fmt.Errorf("%w: %s", errDuplicateSymbol, symbol)
	}
	if _, ok := r.plain[symbol]; ok {
		return fmt.Errorf("%w: %s is a plain instrument", errDuplicateSymbol, symbol)
	}
	for _, s := range constituents {
		if _, ok := r.composites[s]; ok {
			return fmt.Errorf("%w: %s", errCompositeNotPlain, s)
		}
	}

	c := &Composite{
		Symbol:       symbol,
		Constituents: append([]string(nil), constituents...),
	}
	c.recompute(r.plain)
	r.composites[symbol] = c

	seen := make(map[string]bool, len(constituents))
	for _, s := range c.Constituents {
		if seen[s] {
			continue
		}
		seen[s] = true
		r.dependents[s] = append(r.dependents[s], c)
	}

	r.logger.Info("composite registered",
		zap.String("symbol", symbol),
		zap.Strings("constituents", c.Constituents),
		zap.String("price", c.Price.String()))
	return nil
}

// UpdatePrice sets the reference price of a plain instrument and recomputes
// every composite that lists it. Unknown symbols are registered on the fly.
func (r *Registry) UpdatePrice(symbol string, price decimal.Decimal) {
	r.mu.Lock()
	in, ok := r.plain[symbol]
	if !ok {
		in = &Instrument{Symbol: symbol}
		r.plain[symbol] = in
	}
	changes := r.setPriceLocked(in, price)
	r.mu.Unlock()

	r.notify(changes)
}

func (r *Registry) setPriceLocked(in *Instrument, price decimal.Decimal) []PriceChange {
	in.Price = decimal.NewNullDecimal(price)
	in.Version++

	changes := make([]PriceChange, 0, 1+len(r.dependents[in.Symbol]))
	changes = append(changes, PriceChange{Symbol: in.Symbol, Price: price, Version: in.Version})

	for _, c := range r.dependents[in.Symbol] {
		c.recompute(r.plain)
		changes = append(changes, PriceChange{
			Symbol:    c.Symbol,
			Price:     c.Price,
			Version:   c.Version,
			Composite: true,
		})
	}
	return changes
}

func (r *Registry) notify(changes []PriceChange) {
	r.lmu.RLock()
	listeners := r.listeners
	r.lmu.RUnlock()

	for _, ch := range changes {
		r.logger.Debug("reference price updated",
			zap.String("symbol", ch.Symbol),
			zap.String("price", ch.Price.String()),
			zap.Uint64("version", ch.Version),
			zap.Bool("composite", ch.Composite))
		for _, fn := range listeners {
			fn(ch)
		}
	}
}

// GetPrice returns the current price of a plain or composite instrument.
// The bool is false while a plain instrument has no price yet.
func (r *Registry) GetPrice(symbol string) (decimal.Decimal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if in, ok := r.plain[symbol]; ok {
		return in.Price.Decimal, in.Price.Valid
	}
	if c, ok := r.composites[symbol]; ok {
		return c.Price, true
	}
	return decimal.Zero, false
}

// ReferencePrice is GetPrice restricted to plain instruments.
func (r *Registry) ReferencePrice(symbol string) (decimal.Decimal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if in, ok := r.plain[symbol]; ok {
		return in.Price.Decimal, in.Price.Valid
	}
	return decimal.Zero, false
}

func (r *Registry) Instrument(symbol string) (Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	in, ok := r.plain[symbol]
	if !ok {
		return Instrument{}, false
	}
	return *in, true
}

func (r *Registry) Composite(symbol string) (Composite, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.composites[symbol]
	if !ok {
		return Composite{}, false
	}
	return c.clone(), true
}

func (r *Registry) IsComposite(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.composites[symbol]
	return ok
}

func (r *Registry) IsRegistered(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plain[symbol]
	return ok
}
