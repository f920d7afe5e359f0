// Package push keeps the aggregated feed fresh between full fetches by
// consuming insert notifications for the raw record tables.
package push

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"example.com/activityfeed/internal/domain"
	"example.com/activityfeed/internal/observability"
	"example.com/activityfeed/internal/source"
)

const (
	defaultBufferSize = 10
	defaultSeenSize   = 256
)

// Reader exposes the minimal kafka.Reader surface needed by the listener.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// ReaderFactory opens the underlying push channel for one subscription.
type ReaderFactory func() Reader

// Invalidator marks a cached aggregate stale.
type Invalidator interface {
	Invalidate()
}

// Subscription is one open push channel: the watched project set, the
// bounded recently-seen id set, and the connection handle.
type Subscription struct {
	id       string
	watchKey string
	watched  map[string]struct{}
	seen     *seenSet
	reader   Reader
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option configures optional behaviour for the Listener.
type Option func(*Listener)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(l *Listener) {
		l.logger = logger
	}
}

// WithBufferSize overrides the new-events ring capacity.
func WithBufferSize(n int) Option {
	return func(l *Listener) {
		l.bufferSize = n
	}
}

// Listener maintains one logical subscription per active watch-set,
// converts inserted raw records to canonical events, deduplicates by
// id, and invalidates the aggregator's cached result.
type Listener struct {
	newReader  ReaderFactory
	cache      Invalidator
	logger     *log.Logger
	bufferSize int

	mu     sync.Mutex
	sub    *Subscription
	buffer *eventRing
	err    error
}

// NewListener constructs a Listener. The factory is invoked once per
// subscription so each watch-set change gets a fresh channel.
func NewListener(newReader ReaderFactory, cache Invalidator, opts ...Option) *Listener {
	l := &Listener{
		newReader:  newReader,
		cache:      cache,
		logger:     log.New(log.Writer(), "[push] ", log.LstdFlags|log.Lshortfile),
		bufferSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.buffer = newEventRing(l.bufferSize)
	return l
}

// Open ensures a subscription exists for the given watch-set.
// Re-opening with an unchanged set is a no-op; a changed set tears the
// old subscription down first; an empty set only tears down.
func (l *Listener) Open(ctx context.Context, projectIDs []string) {
	key := watchKey(projectIDs)

	l.mu.Lock()
	if l.sub != nil && l.sub.watchKey == key {
		l.mu.Unlock()
		return
	}
	old := l.sub
	l.sub = nil
	// Events buffered for the previous watch-set must not leak into
	// the new one.
	l.buffer = newEventRing(l.bufferSize)
	l.mu.Unlock()
	l.teardown(old)

	if len(projectIDs) == 0 {
		return
	}

	watched := make(map[string]struct{}, len(projectIDs))
	for _, id := range projectIDs {
		watched[id] = struct{}{}
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		id:       uuid.NewString(),
		watchKey: key,
		watched:  watched,
		seen:     newSeenSet(defaultSeenSize),
		reader:   l.newReader(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	l.mu.Lock()
	l.sub = sub
	l.err = nil
	l.mu.Unlock()

	go l.run(runCtx, sub)
}

// Close tears down the current subscription, releasing the underlying
// channel. It is idempotent and safe to call from any state.
func (l *Listener) Close() {
	l.mu.Lock()
	old := l.sub
	l.sub = nil
	l.mu.Unlock()
	l.teardown(old)
}

// teardown releases the subscription's channel and waits for its loop
// to exit, so a message arriving mid-teardown never mutates state
// afterwards.
func (l *Listener) teardown(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.cancel()
	if err := sub.reader.Close(); err != nil {
		l.logger.Printf("reader close error: %v", err)
	}
	<-sub.done
}

// Recent returns the buffered new events, newest first.
func (l *Listener) Recent() []domain.ActivityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buffer.snapshot()
}

// Err reports the last subscription error, if any. The error state is
// recoverable: the next Open clears it.
func (l *Listener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// run is the subscription loop. All seen-set and buffer mutations
// happen here, serialized per subscription.
func (l *Listener) run(ctx context.Context, sub *Subscription) {
	defer close(sub.done)

	for {
		msg, err := sub.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				return
			}
			l.logger.Printf("subscription %s dropped: %v", sub.id, err)
			l.mu.Lock()
			l.err = err
			l.mu.Unlock()
			return
		}

		l.handle(sub, msg)

		if err := sub.reader.CommitMessages(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Printf("commit error: %v", err)
		}
	}
}

func (l *Listener) handle(sub *Subscription, msg kafka.Message) {
	kind, ok := headerValue(msg, "source_kind")
	if !ok {
		l.logger.Printf("message without source_kind header (topic=%s offset=%d)", msg.Topic, msg.Offset)
		recordDecodeError(msg.Topic)
		return
	}
	projectID, _ := headerValue(msg, "project_id")
	if _, watched := sub.watched[string(projectID)]; !watched {
		recordSkipped()
		return
	}

	event, mapped, err := source.Decode(source.Kind(kind), msg.Value)
	if err != nil {
		// One malformed record never fails the stream.
		l.logger.Printf("decode error (kind=%s offset=%d): %v", kind, msg.Offset, err)
		recordDecodeError(msg.Topic)
		return
	}
	if !mapped {
		return
	}

	l.mu.Lock()
	if l.sub != sub {
		// Subscription replaced while this message was in flight.
		l.mu.Unlock()
		return
	}
	if !sub.seen.add(event.ID) {
		l.mu.Unlock()
		recordDuplicate()
		return
	}
	l.buffer.prepend(event)
	l.mu.Unlock()

	l.cache.Invalidate()
	recordAccepted(string(kind))
	observability.RecordPushEvent(time.Now().UTC())
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}

func watchKey(projectIDs []string) string {
	sorted := append([]string(nil), projectIDs...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
