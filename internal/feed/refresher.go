package feed

import (
	"context"
	"errors"
	"log"
	"time"
)

// Refresher periodically re-runs the aggregate as a fallback against
// push notifications missed while the channel was down.
type Refresher struct {
	aggregator       *Aggregator
	watchSet         func() []string
	interval         time.Duration
	limit            int
	logger           *log.Logger
	shutdownComplete chan struct{}
}

// NewRefresher constructs a Refresher. watchSet is consulted on every
// tick so watch-set changes take effect without restarting the loop.
func NewRefresher(aggregator *Aggregator, watchSet func() []string, interval time.Duration, limit int) *Refresher {
	return &Refresher{
		aggregator:       aggregator,
		watchSet:         watchSet,
		interval:         interval,
		limit:            limit,
		logger:           log.New(log.Writer(), "[refresher] ", log.LstdFlags),
		shutdownComplete: make(chan struct{}),
	}
}

// Start launches the refresh loop. It should be called in a goroutine.
// A refresh runs to completion before the loop waits for the next
// tick, so refreshes never stack.
func (r *Refresher) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer func() {
		ticker.Stop()
		close(r.shutdownComplete)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := r.refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Printf("refresh error: %v", err)
		}
	}
}

// Wait blocks until the refresh loop has exited.
func (r *Refresher) Wait() {
	<-r.shutdownComplete
}

func (r *Refresher) refresh(ctx context.Context) error {
	projectIDs := r.watchSet()
	if len(projectIDs) == 0 {
		return nil
	}

	r.aggregator.Invalidate()
	if _, err := r.aggregator.Aggregate(ctx, projectIDs, r.limit); err != nil {
		return err
	}
	refreshCounter.Inc()
	return nil
}
