// Package pricing resolves current prices through a TTL cache fed by the
// WebSocket pool, falling back to a REST ticker fetch when the cache misses
// or is stale.
package pricing

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/pkg/cache"
	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// Source identifies where a resolved price came from.
type Source string

const (
	SourceCache   Source = "cache"
	SourceGateway Source = "gateway"
)

// Detail is a resolved price with provenance, for diagnostics endpoints.
type Detail struct {
	Price  decimal.Decimal
	Source Source
	Age    time.Duration
}

// TickerFetcher is the REST fallback, usually an exchange adapter.
type TickerFetcher interface {
	FetchTicker(ctx context.Context, symbol string) (common.Ticker, error)
}

// Service is the shared price resolver.
type Service struct {
	cache *cache.ShardedPriceCache
	ttl   time.Duration
}

// New creates a price service; ttl bounds how stale a cached price may be
// before the gateway fallback kicks in.
func New(ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Service{
		cache: cache.NewShardedPriceCache(),
		ttl:   ttl,
	}
}

// Key composes the cache key for one instrument on one venue segment.
func Key(exchange common.ExchangeName, market common.MarketType, symbol string) string {
	return string(exchange) + ":" + string(market) + ":" + symbol
}

// Update stores a fresh price, normally called from the WebSocket pool.
func (s *Service) Update(exchange common.ExchangeName, market common.MarketType, symbol string, price decimal.Decimal) {
	s.cache.Set(Key(exchange, market, symbol), price)
}

// GetPrice resolves a price, preferring the cache while fresh.
func (s *Service) GetPrice(ctx context.Context, gw TickerFetcher, exchange common.ExchangeName, market common.MarketType, symbol string) (decimal.Decimal, error) {
	d, err := s.GetDetail(ctx, gw, exchange, market, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Price, nil
}

// GetDetail resolves a price and reports its source and age.
func (s *Service) GetDetail(ctx context.Context, gw TickerFetcher, exchange common.ExchangeName, market common.MarketType, symbol string) (Detail, error) {
	key := Key(exchange, market, symbol)
	if price, age, ok := s.cache.GetWithAge(key); ok && age <= s.ttl {
		return Detail{Price: price, Source: SourceCache, Age: age}, nil
	}

	if gw == nil {
		return Detail{}, fmt.Errorf("no price for %s and no gateway to fetch from", key)
	}
	ticker, err := gw.FetchTicker(ctx, symbol)
	if err != nil {
		// A stale cached price beats nothing when the venue is unreachable.
		if price, age, ok := s.cache.GetWithAge(key); ok {
			log.Printf("pricing: ticker fetch failed for %s, serving stale cache (age %s): %v", key, age, err)
			return Detail{Price: price, Source: SourceCache, Age: age}, nil
		}
		return Detail{}, fmt.Errorf("fetch ticker %s: %w", symbol, err)
	}

	s.cache.Set(key, ticker.Price)
	return Detail{Price: ticker.Price, Source: SourceGateway, Age: 0}, nil
}

// Cleanup drops entries older than maxAge; wired to a periodic job.
func (s *Service) Cleanup(maxAge time.Duration) int {
	return s.cache.Cleanup(maxAge)
}

// Len reports cached instrument count.
func (s *Service) Len() int { return s.cache.Len() }
