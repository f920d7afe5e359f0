// Package feed merges the per-source event reads into one
// chronologically ordered activity timeline.
package feed

import (
	"context"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"example.com/activityfeed/internal/domain"
	"example.com/activityfeed/internal/observability"
	"example.com/activityfeed/internal/source"
)

// Option configures optional behaviour for the Aggregator.
type Option func(*Aggregator)

// WithLogger overrides the logger used to report source failures.
func WithLogger(logger *log.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// Aggregator fans out across all sources, merges their events into a
// single descending timeline, and caches the result until invalidated.
type Aggregator struct {
	sources []source.Source
	logger  *log.Logger

	mu       sync.Mutex
	cached   []domain.ActivityEvent
	cacheKey string
	fresh    bool
	gen      uint64
}

// NewAggregator constructs an Aggregator over the provided sources.
// Source order is significant: it is the tie-break order for events
// with identical timestamps.
func NewAggregator(sources []source.Source, opts ...Option) *Aggregator {
	a := &Aggregator{
		sources: sources,
		logger:  log.New(log.Writer(), "[feed] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate returns up to limit events for the given projects, sorted
// non-increasing by canonical timestamp. Each source's fetch is
// best-effort: a failing source is logged and contributes nothing, the
// merge proceeds with the rest. The result is cached until
// Invalidate is called or the query changes.
func (a *Aggregator) Aggregate(ctx context.Context, projectIDs []string, limit int) ([]domain.ActivityEvent, error) {
	key := cacheKey(projectIDs, limit)

	a.mu.Lock()
	if a.fresh && a.cacheKey == key {
		cached := append([]domain.ActivityEvent(nil), a.cached...)
		a.mu.Unlock()
		return cached, nil
	}
	gen := a.gen
	a.mu.Unlock()

	start := time.Now()
	merged := a.fetchAll(ctx, projectIDs, limit)

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}

	aggregateDuration.Observe(time.Since(start).Seconds())
	observability.RecordFeedRefreshed(time.Now().UTC())

	// An Invalidate that landed while the fetch was in flight bumped
	// the generation; the result is still returned but not cached as
	// fresh, so the next read re-fetches.
	a.mu.Lock()
	a.cached = merged
	a.cacheKey = key
	a.fresh = a.gen == gen
	a.mu.Unlock()

	return append([]domain.ActivityEvent(nil), merged...), nil
}

// Invalidate marks the cached result stale. The next Aggregate call
// re-fetches from every source.
func (a *Aggregator) Invalidate() {
	a.mu.Lock()
	a.fresh = false
	a.gen++
	a.mu.Unlock()
}

// fetchAll issues one fetch per source concurrently and joins the
// results at a single merge point, concatenated in fixed source order.
func (a *Aggregator) fetchAll(ctx context.Context, projectIDs []string, limit int) []domain.ActivityEvent {
	results := make([][]domain.ActivityEvent, len(a.sources))

	var wg sync.WaitGroup
	for i, src := range a.sources {
		wg.Add(1)
		go func(i int, src source.Source) {
			defer wg.Done()
			events, err := src.Fetch(ctx, projectIDs, limit)
			if err != nil {
				a.logger.Printf("source %s fetch failed: %v", src.Name(), err)
				sourceErrorCounter.WithLabelValues(string(src.Name())).Inc()
				return
			}
			results[i] = events
		}(i, src)
	}
	wg.Wait()

	merged := make([]domain.ActivityEvent, 0, limit*len(a.sources))
	for _, events := range results {
		merged = append(merged, events...)
	}
	return merged
}

func cacheKey(projectIDs []string, limit int) string {
	sorted := append([]string(nil), projectIDs...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",") + "|" + strconv.Itoa(limit)
}
