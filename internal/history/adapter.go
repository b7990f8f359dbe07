// Package history wraps the external historical-statistics source, turning
// its raw per-product stats into normalized PriceBounds. One call covers one
// condition mode; the refresh cycle issues two calls when it needs both.
package history

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dropwatch/dropwatch/internal/model"
	"github.com/dropwatch/dropwatch/internal/resilience"
)

// maxBatchIDs is the upstream hard limit on product ids per call.
const maxBatchIDs = 100

// RawStats is the upstream wire shape for one product: integer minor units
// (cents), where any value at or below zero is the documented "no data"
// sentinel. Fields are independent: min may be known while max is not.
type RawStats struct {
	MinCents     int64 `json:"min"`
	MaxCents     int64 `json:"max"`
	CurrentCents int64 `json:"current"`
}

// Source is the inbound historical-statistics collaborator. A single call
// returns stats for one condition mode across a batch of ids on one domain.
type Source interface {
	Stats(ctx context.Context, productIDs []string, domain string, mode model.ConditionMode) (map[string]RawStats, error)
}

// Options tunes the adapter.
type Options struct {
	// BatchSize caps ids per upstream call. Clamped to the upstream limit.
	BatchSize int
	// RatePerSec throttles upstream calls across all domains. Zero disables.
	RatePerSec float64
	// CacheTTL keeps batch responses warm between closely spaced passes.
	// Zero disables caching.
	CacheTTL time.Duration
	// Retry is the retry policy for each upstream call.
	Retry resilience.RetryConfig
}

// Adapter normalizes the historical source: sentinel mapping, batching,
// retry, circuit breaking, rate limiting, and short-TTL response caching.
type Adapter struct {
	source  Source
	opts    Options
	breaker *resilience.Breaker
	limiter *rate.Limiter
	cache   *responseCache
}

// NewAdapter wraps source with the given options.
func NewAdapter(source Source, opts Options) *Adapter {
	if opts.BatchSize <= 0 || opts.BatchSize > maxBatchIDs {
		opts.BatchSize = maxBatchIDs
	}
	a := &Adapter{
		source:  source,
		opts:    opts,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerConfig()),
	}
	if opts.RatePerSec > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), 1)
	}
	if opts.CacheTTL > 0 {
		a.cache = newResponseCache(opts.CacheTTL)
	}
	return a
}

// Bounds returns normalized bounds for every requested id in one condition
// mode. Ids the upstream has no data for map to empty bounds. On upstream
// failure every id maps to empty bounds and the error is returned so the
// caller can count it; the refresh cycle proceeds either way.
func (a *Adapter) Bounds(ctx context.Context, productIDs []string, domain string, mode model.ConditionMode) (map[string]model.PriceBounds, error) {
	out := make(map[string]model.PriceBounds, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	var firstErr error
	for _, chunk := range chunkIDs(productIDs, a.opts.BatchSize) {
		stats, err := a.fetchChunk(ctx, chunk, domain, mode)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			zap.L().Warn("history: batch lookup failed",
				zap.String("domain", domain),
				zap.String("mode", string(mode)),
				zap.Int("ids", len(chunk)),
				zap.Error(err),
			)
			for _, id := range chunk {
				out[id] = model.PriceBounds{}
			}
			continue
		}
		for _, id := range chunk {
			out[id] = Normalize(stats[id])
		}
	}

	return out, firstErr
}

// Invalidate drops any cached response covering the given batch so the next
// Bounds call hits the upstream.
func (a *Adapter) Invalidate(productIDs []string, domain string, mode model.ConditionMode) {
	if a.cache == nil {
		return
	}
	for _, chunk := range chunkIDs(productIDs, a.opts.BatchSize) {
		a.cache.delete(cacheKey(chunk, domain, mode))
	}
}

func (a *Adapter) fetchChunk(ctx context.Context, ids []string, domain string, mode model.ConditionMode) (map[string]RawStats, error) {
	key := cacheKey(ids, domain, mode)
	if a.cache != nil {
		if stats, ok := a.cache.get(key); ok {
			zap.L().Debug("history: cache hit",
				zap.String("domain", domain),
				zap.String("mode", string(mode)),
				zap.Int("ids", len(ids)),
			)
			return stats, nil
		}
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "history: rate limiter")
		}
	}

	retry := a.opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("history", "stats")
	}

	stats, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (map[string]RawStats, error) {
		return resilience.ExecuteVal(ctx, a.breaker, func(ctx context.Context) (map[string]RawStats, error) {
			return a.source.Stats(ctx, ids, domain, mode)
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "history: stats lookup")
	}

	if a.cache != nil {
		a.cache.set(key, stats)
	}
	return stats, nil
}

// Normalize maps raw upstream stats to PriceBounds, converting minor units
// and treating any value at or below zero as absent. A known current price
// backfills a missing min or max so a freshly listed product still gets
// usable bounds.
func Normalize(raw RawStats) model.PriceBounds {
	var b model.PriceBounds
	if raw.CurrentCents > 0 {
		b.Current = model.Float(fromCents(raw.CurrentCents))
	}
	if raw.MinCents > 0 {
		b.Min = model.Float(fromCents(raw.MinCents))
	} else if b.Current != nil {
		b.Min = b.Current
	}
	if raw.MaxCents > 0 {
		b.Max = model.Float(fromCents(raw.MaxCents))
	} else if b.Current != nil {
		b.Max = b.Current
	}
	return b
}

func fromCents(cents int64) float64 {
	return float64(cents) / 100
}

func chunkIDs(ids []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

func cacheKey(ids []string, domain string, mode model.ConditionMode) string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	return domain + "|" + string(mode) + "|" + strings.Join(sorted, ",")
}
