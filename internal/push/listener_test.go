package push

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func message(kind, projectID, payload string, offset int64) kafka.Message {
	return kafka.Message{
		Topic:  "activity_log_inserts",
		Offset: offset,
		Value:  []byte(payload),
		Headers: []kafka.Header{
			{Key: "source_kind", Value: []byte(kind)},
			{Key: "project_id", Value: []byte(projectID)},
		},
	}
}

type stubReader struct {
	mu       sync.Mutex
	messages []kafka.Message
	index    int
	commits  atomic.Int32
	closed   atomic.Bool
}

func (r *stubReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.index < len(r.messages) {
		msg := r.messages[r.index]
		r.index++
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *stubReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.commits.Add(int32(len(msgs)))
	return nil
}

func (r *stubReader) Close() error {
	r.closed.Store(true)
	return nil
}

type stubCache struct {
	invalidations atomic.Int32
}

func (c *stubCache) Invalidate() { c.invalidations.Add(1) }

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}

func newTestListener(t *testing.T, reader *stubReader, cache *stubCache, opts ...Option) *Listener {
	t.Helper()
	opts = append(opts, WithLogger(log.New(testWriter{t}, "", 0)))
	return NewListener(func() Reader { return reader }, cache, opts...)
}

func waitForCommits(t *testing.T, reader *stubReader, want int32) {
	t.Helper()
	require.Eventually(t, func() bool { return reader.commits.Load() >= want }, time.Second, 5*time.Millisecond)
}

const runPayload = `{"id":"r-1","name":"Checkout flow","status":"passed","total_tests":10,"completed_at":"2024-01-01T00:00:10Z","project_id":"p-1"}`

func TestListenerBuffersWatchedEvents(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{
		message("test_runs", "p-1", runPayload, 1),
		message("audit_logs", "p-1", `{"id":"a-1","action":"created","resource_type":"test","resource_name":"Checkout","created_at":"2024-01-02T00:00:00Z"}`, 2),
	}}
	cache := &stubCache{}
	listener := newTestListener(t, reader, cache)
	defer listener.Close()

	listener.Open(context.Background(), []string{"p-1"})
	waitForCommits(t, reader, 2)

	recent := listener.Recent()
	require.Len(t, recent, 2)
	require.Equal(t, "audit:a-1", recent[0].ID)
	require.Equal(t, "run:r-1", recent[1].ID)
	require.Equal(t, int32(2), cache.invalidations.Load())
	require.NoError(t, listener.Err())
}

func TestListenerDeduplicatesById(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{
		message("test_runs", "p-1", runPayload, 1),
		message("test_runs", "p-1", runPayload, 2),
	}}
	cache := &stubCache{}
	listener := newTestListener(t, reader, cache)
	defer listener.Close()

	before := counterValue(t, duplicateCounter)

	listener.Open(context.Background(), []string{"p-1"})
	waitForCommits(t, reader, 2)

	require.Len(t, listener.Recent(), 1)
	require.Equal(t, int32(1), cache.invalidations.Load())
	require.Equal(t, before+1, counterValue(t, duplicateCounter))
}

func TestListenerSkipsUnwatchedProjects(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{
		message("test_runs", "p-other", runPayload, 1),
	}}
	cache := &stubCache{}
	listener := newTestListener(t, reader, cache)
	defer listener.Close()

	listener.Open(context.Background(), []string{"p-1"})
	waitForCommits(t, reader, 1)

	require.Empty(t, listener.Recent())
	require.Zero(t, cache.invalidations.Load())
}

func TestListenerSurvivesMalformedPayload(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{
		message("test_runs", "p-1", `{"total_tests":"not a number"}`, 1),
		message("test_runs", "p-1", runPayload, 2),
	}}
	cache := &stubCache{}
	listener := newTestListener(t, reader, cache)
	defer listener.Close()

	listener.Open(context.Background(), []string{"p-1"})
	waitForCommits(t, reader, 2)

	recent := listener.Recent()
	require.Len(t, recent, 1)
	require.Equal(t, "run:r-1", recent[0].ID)
}

func TestListenerSkipsOrphanScheduleTriggers(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{
		message("schedule_triggers", "p-1", `{"id":"s-1","schedule_id":"","project_id":"p-1"}`, 1),
	}}
	cache := &stubCache{}
	listener := newTestListener(t, reader, cache)
	defer listener.Close()

	listener.Open(context.Background(), []string{"p-1"})
	waitForCommits(t, reader, 1)

	require.Empty(t, listener.Recent())
	require.Zero(t, cache.invalidations.Load())
}

func TestListenerOpenIsIdempotentForSameWatchSet(t *testing.T) {
	var created atomic.Int32
	factory := func() Reader {
		created.Add(1)
		return &stubReader{}
	}
	listener := NewListener(factory, &stubCache{}, WithLogger(log.New(testWriter{t}, "", 0)))
	defer listener.Close()

	listener.Open(context.Background(), []string{"p-1", "p-2"})
	listener.Open(context.Background(), []string{"p-2", "p-1"}) // same set, different order
	require.Equal(t, int32(1), created.Load())

	listener.Open(context.Background(), []string{"p-3"})
	require.Equal(t, int32(2), created.Load())
}

func TestListenerWatchSetChangeClearsBuffer(t *testing.T) {
	first := &stubReader{messages: []kafka.Message{
		message("test_runs", "p-1", runPayload, 1),
	}}
	second := &stubReader{}
	readers := []*stubReader{first, second}
	var created atomic.Int32
	factory := func() Reader { return readers[created.Add(1)-1] }
	listener := NewListener(factory, &stubCache{}, WithLogger(log.New(testWriter{t}, "", 0)))
	defer listener.Close()

	listener.Open(context.Background(), []string{"p-1"})
	waitForCommits(t, first, 1)
	require.Len(t, listener.Recent(), 1)

	listener.Open(context.Background(), []string{"p-2"})
	require.Empty(t, listener.Recent())
}

func TestListenerEmptyWatchSetTearsDown(t *testing.T) {
	reader := &stubReader{}
	listener := newTestListener(t, reader, &stubCache{})

	listener.Open(context.Background(), []string{"p-1"})
	listener.Open(context.Background(), nil)

	require.True(t, reader.closed.Load())
}

func TestListenerCloseIsIdempotent(t *testing.T) {
	reader := &stubReader{}
	listener := newTestListener(t, reader, &stubCache{})

	listener.Open(context.Background(), []string{"p-1"})
	listener.Close()
	listener.Close()

	require.True(t, reader.closed.Load())
}

func TestListenerBufferDropsOldestWhenFull(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{
		message("audit_logs", "p-1", `{"id":"a-1","action":"created","resource_type":"test","resource_name":"One","created_at":"2024-01-01T00:00:00Z"}`, 1),
		message("audit_logs", "p-1", `{"id":"a-2","action":"created","resource_type":"test","resource_name":"Two","created_at":"2024-01-02T00:00:00Z"}`, 2),
		message("audit_logs", "p-1", `{"id":"a-3","action":"created","resource_type":"test","resource_name":"Three","created_at":"2024-01-03T00:00:00Z"}`, 3),
	}}
	listener := newTestListener(t, reader, &stubCache{}, WithBufferSize(2))
	defer listener.Close()

	listener.Open(context.Background(), []string{"p-1"})
	waitForCommits(t, reader, 3)

	recent := listener.Recent()
	require.Len(t, recent, 2)
	require.Equal(t, "audit:a-3", recent[0].ID)
	require.Equal(t, "audit:a-2", recent[1].ID)
}

func counterValue(t *testing.T, counter interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, counter.Write(&metric))
	return metric.GetCounter().GetValue()
}
