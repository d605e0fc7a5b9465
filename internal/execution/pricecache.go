package execution

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// priceKeyPrefix namespaces the mirrored quotes in Redis.
const priceKeyPrefix = "titan:price:"

// priceTTL bounds how long a mirrored quote survives without refresh.
const priceTTL = 5 * time.Minute

// PriceCache holds the latest trade price per symbol. An optional Redis
// client mirrors every update so dashboards and other processes can
// read quotes without a bus subscription; mirror failures are logged
// and never affect the in-memory cache.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]float64

	rdb *redis.Client
	log zerolog.Logger
}

// NewPriceCache creates a price cache. rdb may be nil to disable the
// Redis mirror.
func NewPriceCache(rdb *redis.Client, log zerolog.Logger) *PriceCache {
	return &PriceCache{
		prices: make(map[string]float64),
		rdb:    rdb,
		log:    log.With().Str("component", "price_cache").Logger(),
	}
}

// Set stores the latest price for a symbol. Non-positive prices are
// ignored.
func (c *PriceCache) Set(ctx context.Context, symbol string, price float64) {
	if symbol == "" || price <= 0 {
		return
	}

	c.mu.Lock()
	c.prices[symbol] = price
	c.mu.Unlock()

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, priceKeyPrefix+symbol, price, priceTTL).Err(); err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to mirror price to Redis")
		}
	}
}

// Get returns the latest price for a symbol, falling back to the Redis
// mirror on a local miss.
func (c *PriceCache) Get(ctx context.Context, symbol string) (float64, bool) {
	c.mu.RLock()
	price, ok := c.prices[symbol]
	c.mu.RUnlock()
	if ok {
		return price, true
	}

	if c.rdb == nil {
		return 0, false
	}

	val, err := c.rdb.Get(ctx, priceKeyPrefix+symbol).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to read price from Redis")
		}
		return 0, false
	}

	price, perr := strconv.ParseFloat(val, 64)
	if perr != nil || price <= 0 {
		return 0, false
	}

	c.mu.Lock()
	c.prices[symbol] = price
	c.mu.Unlock()
	return price, true
}

// Snapshot returns a copy of all cached prices.
func (c *PriceCache) Snapshot() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]float64, len(c.prices))
	for k, v := range c.prices {
		out[k] = v
	}
	return out
}
