// Package marketdata wraps a MarketDataPort with the shared rate limiter, a
// last-good cache and bounded parallel fetching.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/irfndi/neuratrade-intraday/internal/ratelimit"
	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const universeKey = "universe"

// Gateway implements interfaces.MarketDataPort on top of another port.
// While the limiter is backing off, callers get the last good value for the
// same request instead of blocking.
type Gateway struct {
	port        interfaces.MarketDataPort
	limiter     *ratelimit.Limiter
	concurrency int
	logger      *zap.Logger

	universe  *lastGood[[]string]
	bars      *lastGood[[]interfaces.Bar]
	snapshots *lastGood[*interfaces.Snapshot]

	statsMu sync.Mutex
	stats   CacheStats
}

var _ interfaces.MarketDataPort = (*Gateway)(nil)

func NewGateway(port interfaces.MarketDataPort, limiter *ratelimit.Limiter, concurrency int, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = ratelimit.NewLimiter(ratelimit.DefaultConfig(), logger)
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Gateway{
		port:        port,
		limiter:     limiter,
		concurrency: concurrency,
		logger:      logger,
		universe:    newLastGood[[]string](),
		bars:        newLastGood[[]interfaces.Bar](),
		snapshots:   newLastGood[*interfaces.Snapshot](),
	}
}

func (g *Gateway) count(f func(*CacheStats)) {
	g.statsMu.Lock()
	defer g.statsMu.Unlock()
	f(&g.stats)
}

// Stats returns cache usage counters.
func (g *Gateway) Stats() CacheStats {
	g.statsMu.Lock()
	defer g.statsMu.Unlock()
	return g.stats
}

// Limiter exposes the shared limiter for status reporting.
func (g *Gateway) Limiter() *ratelimit.Limiter { return g.limiter }

func fetch[T any](ctx context.Context, g *Gateway, cache *lastGood[T], key string, call func(context.Context) (T, error)) (T, error) {
	fallback := func(cause error) (T, error) {
		if v, _, ok := cache.get(key); ok {
			g.count(func(s *CacheStats) { s.Cached++ })
			return v, nil
		}
		g.count(func(s *CacheStats) { s.Unavailable++ })
		var zero T
		return zero, fmt.Errorf("%s: %w", key, cause)
	}

	if err := g.limiter.Wait(ctx); err != nil {
		if errors.Is(err, ratelimit.ErrBackingOff) {
			return fallback(err)
		}
		var zero T
		return zero, err
	}

	v, err := call(ctx)
	if err != nil {
		if errors.Is(err, interfaces.ErrRateLimited) {
			g.limiter.RecordRateLimited()
			return fallback(err)
		}
		var zero T
		return zero, fmt.Errorf("%s: %w", key, err)
	}

	g.limiter.RecordSuccess()
	cache.put(key, v)
	g.count(func(s *CacheStats) { s.Live++ })
	return v, nil
}

func (g *Gateway) GetUniverse(ctx context.Context) ([]string, error) {
	return fetch(ctx, g, g.universe, universeKey, g.port.GetUniverse)
}

func (g *Gateway) GetHistoricalBars(ctx context.Context, symbol, duration, barSize string) ([]interfaces.Bar, error) {
	key := symbol + "|" + duration + "|" + barSize
	return fetch(ctx, g, g.bars, key, func(ctx context.Context) ([]interfaces.Bar, error) {
		return g.port.GetHistoricalBars(ctx, symbol, duration, barSize)
	})
}

func (g *Gateway) GetMarketSnapshot(ctx context.Context, symbol string) (*interfaces.Snapshot, error) {
	return fetch(ctx, g, g.snapshots, symbol, func(ctx context.Context) (*interfaces.Snapshot, error) {
		return g.port.GetMarketSnapshot(ctx, symbol)
	})
}

// GetBatchSnapshots makes one vendor call and refreshes the per-symbol cache.
// During backoff it returns whatever cached snapshots exist.
func (g *Gateway) GetBatchSnapshots(ctx context.Context, symbols []string) (map[string]*interfaces.Snapshot, error) {
	fromCache := func(cause error) (map[string]*interfaces.Snapshot, error) {
		out := make(map[string]*interfaces.Snapshot, len(symbols))
		for _, s := range symbols {
			if snap, _, ok := g.snapshots.get(s); ok {
				out[s] = snap
			}
		}
		if len(out) == 0 {
			g.count(func(s *CacheStats) { s.Unavailable++ })
			return nil, fmt.Errorf("batch snapshots: %w", cause)
		}
		g.count(func(s *CacheStats) { s.Cached++ })
		return out, nil
	}

	if err := g.limiter.Wait(ctx); err != nil {
		if errors.Is(err, ratelimit.ErrBackingOff) {
			return fromCache(err)
		}
		return nil, err
	}
	snaps, err := g.port.GetBatchSnapshots(ctx, symbols)
	if err != nil {
		if errors.Is(err, interfaces.ErrRateLimited) {
			g.limiter.RecordRateLimited()
			return fromCache(err)
		}
		return nil, fmt.Errorf("batch snapshots: %w", err)
	}
	g.limiter.RecordSuccess()
	for s, snap := range snaps {
		if snap != nil {
			g.snapshots.put(s, snap)
		}
	}
	g.count(func(s *CacheStats) { s.Live++ })
	return snaps, nil
}

// BarsResult holds per-symbol bars and per-symbol failures of a batch fetch.
type BarsResult struct {
	Bars   map[string][]interfaces.Bar
	Errors map[string]error
}

// FetchBars loads bars for every symbol with at most the configured number
// of requests in flight. A failing symbol never aborts the others.
func (g *Gateway) FetchBars(ctx context.Context, symbols []string, duration, barSize string) BarsResult {
	res := BarsResult{
		Bars:   make(map[string][]interfaces.Bar, len(symbols)),
		Errors: make(map[string]error),
	}
	var mu sync.Mutex

	var eg errgroup.Group
	eg.SetLimit(g.concurrency)
	for _, symbol := range symbols {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				res.Errors[symbol] = err
				mu.Unlock()
				return nil
			}
			bars, err := g.GetHistoricalBars(ctx, symbol, duration, barSize)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errors[symbol] = err
				return nil
			}
			res.Bars[symbol] = bars
			return nil
		})
	}
	_ = eg.Wait()

	if len(res.Errors) > 0 {
		g.logger.Debug("Some bar fetches failed",
			zap.Int("failed", len(res.Errors)),
			zap.Int("requested", len(symbols)))
	}
	return res
}
