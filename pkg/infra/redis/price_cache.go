package redis_wrapper

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/joripage/matchcore/pkg/instrument"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultKeyPrefix = "matchcore:price:"

// setIfNewer writes price and version only when version is newer than the
// stored one, so a lagging writer never overwrites a fresher price.
var setIfNewer = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'version') or '0')
if tonumber(ARGV[2]) > cur then
  redis.call('HSET', KEYS[1], 'price', ARGV[1], 'version', ARGV[2], 'composite', ARGV[3])
  return 1
end
return 0
`)

// PriceCache mirrors reference prices into Redis hashes. Changes are
// coalesced per symbol, latest version wins, and flushed from a single
// goroutine so the registry listener never blocks.
type PriceCache struct {
	prefix string
	write  func(ctx context.Context, changes []instrument.PriceChange) error

	mu      sync.Mutex
	pending map[string]instrument.PriceChange
	notify  chan struct{}

	logger *zap.Logger
}

func NewPriceCache(client redis.Scripter, prefix string, logger *zap.Logger) *PriceCache {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &PriceCache{
		prefix:  prefix,
		pending: make(map[string]instrument.PriceChange),
		notify:  make(chan struct{}, 1),
		logger:  logger,
	}
	c.write = func(ctx context.Context, changes []instrument.PriceChange) error {
		return c.writeRedis(ctx, client, changes)
	}
	return c
}

// Attach subscribes the cache to every price change of r.
func (c *PriceCache) Attach(r *instrument.Registry) {
	r.OnPriceChange(c.OnPriceChange)
}

func (c *PriceCache) OnPriceChange(pc instrument.PriceChange) {
	c.mu.Lock()
	if cur, ok := c.pending[pc.Symbol]; !ok || pc.Version > cur.Version {
		c.pending[pc.Symbol] = pc
	}
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Run flushes pending changes until ctx is done, then flushes once more.
func (c *PriceCache) Run(ctx context.Context) {
	for {
		select {
		case <-c.notify:
			c.flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			c.flush(flushCtx)
			cancel()
			return
		}
	}
}

func (c *PriceCache) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	changes := make([]instrument.PriceChange, 0, len(c.pending))
	for _, pc := range c.pending {
		changes = append(changes, pc)
	}
	c.pending = make(map[string]instrument.PriceChange)
	c.mu.Unlock()

	if err := c.write(ctx, changes); err != nil {
		c.logger.Warn("price cache write failed", zap.Int("changes", len(changes)), zap.Error(err))
		// put back what was not superseded meanwhile
		c.mu.Lock()
		for _, pc := range changes {
			if cur, ok := c.pending[pc.Symbol]; !ok || pc.Version > cur.Version {
				c.pending[pc.Symbol] = pc
			}
		}
		c.mu.Unlock()
	}
}

func (c *PriceCache) key(symbol string) string {
	return c.prefix + symbol
}

func (c *PriceCache) writeRedis(ctx context.Context, client redis.Scripter, changes []instrument.PriceChange) error {
	for _, pc := range changes {
		err := setIfNewer.Run(ctx, client, []string{c.key(pc.Symbol)},
			pc.Price.String(), strconv.FormatUint(pc.Version, 10), strconv.FormatBool(pc.Composite)).Err()
		if err != nil {
			return err
		}
	}
	return nil
}
