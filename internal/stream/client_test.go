package stream

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/activityfeed/internal/domain"
)

// recorder collects everything the client reports, safely across
// goroutines.
type recorder struct {
	mu        sync.Mutex
	states    []State
	events    []domain.RunStreamEvent
	completes int
	errors    []error
}

func (r *recorder) onState(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recorder) onEvent(event domain.RunStreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) onComplete(domain.RunStreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completes++
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *recorder) snapshot() (states []State, events []domain.RunStreamEvent, completes int, errs []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...), append([]domain.RunStreamEvent(nil), r.events...), r.completes, append([]error(nil), r.errors...)
}

// sseServer streams the given frames and then returns, closing the
// connection. Each frame is one SSE data payload.
func sseServer(t *testing.T, frames []string, gotURL *atomic.Value) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotURL != nil {
			gotURL.Store(r.URL.String())
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		}
	}))
}

func newTestClient(server *httptest.Server, rec *recorder, opts ...Option) *Client {
	opts = append(opts,
		WithStateListener(rec.onState),
		WithEventListener(rec.onEvent),
		WithLogger(log.New(discard{}, "", 0)),
	)
	return NewClient(server.URL, "sekret", rec.onComplete, rec.onError, opts...)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func waitForState(t *testing.T, client *Client, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return client.State() == want }, time.Second, 5*time.Millisecond)
}

func TestConnectRequiresBothIDs(t *testing.T) {
	client := NewClient("http://localhost", "", nil, nil)
	require.Error(t, client.Connect(context.Background(), "", "run-1"))
	require.Error(t, client.Connect(context.Background(), "sch-1", ""))
	require.Equal(t, StateDisconnected, client.State())
}

func TestHappyPathRunCompletes(t *testing.T) {
	frames := []string{
		`{"type":"run_started"}`,
		`{"type":"step_started"}`,
		`{"type":"step_completed"}`,
		`{"type":"test_completed"}`,
		`{"type":"run_completed"}`,
	}
	var gotURL atomic.Value
	server := sseServer(t, frames, &gotURL)
	defer server.Close()

	rec := &recorder{}
	client := newTestClient(server, rec)

	require.NoError(t, client.Connect(context.Background(), "sch-1", "run-1"))
	waitForState(t, client, StateCompleted)

	states, events, completes, errs := rec.snapshot()
	require.Equal(t, []State{StateConnecting, StateConnected, StateCompleted}, states)
	require.Len(t, events, 5)
	require.Equal(t, 1, completes)
	require.Empty(t, errs)
	require.NoError(t, client.Err())

	require.Equal(t, "/schedules/sch-1/runs/run-1/stream?token=sekret", gotURL.Load().(string))
}

func TestMalformedPayloadKeepsConnectionOpen(t *testing.T) {
	frames := []string{
		`{"type":"step_completed"}`,
		`{not json`,
		`{"type":"step_completed"}`,
		`{"type":"run_completed"}`,
	}
	server := sseServer(t, frames, nil)
	defer server.Close()

	rec := &recorder{}
	client := newTestClient(server, rec)

	require.NoError(t, client.Connect(context.Background(), "sch-1", "run-1"))
	waitForState(t, client, StateCompleted)

	_, events, completes, errs := rec.snapshot()
	// The bad payload is discarded; both valid step events and the
	// terminal event come through.
	require.Len(t, events, 3)
	require.Equal(t, domain.StreamStepCompleted, events[0].Type)
	require.Equal(t, domain.StreamStepCompleted, events[1].Type)
	require.Equal(t, 1, completes)
	require.Empty(t, errs)
}

func TestServerErrorEventFailsOnce(t *testing.T) {
	frames := []string{
		`{"type":"run_started"}`,
		`{"type":"error","data":{"message":"browser crashed"}}`,
		`{"type":"step_completed"}`,
	}
	server := sseServer(t, frames, nil)
	defer server.Close()

	rec := &recorder{}
	client := newTestClient(server, rec)

	require.NoError(t, client.Connect(context.Background(), "sch-1", "run-1"))
	waitForState(t, client, StateFailed)

	_, _, completes, errs := rec.snapshot()
	require.Zero(t, completes)
	require.Len(t, errs, 1)
	require.ErrorContains(t, errs[0], "browser crashed")
	require.ErrorContains(t, client.Err(), "browser crashed")
}

func TestTimeoutEventFails(t *testing.T) {
	server := sseServer(t, []string{`{"type":"timeout"}`}, nil)
	defer server.Close()

	rec := &recorder{}
	client := newTestClient(server, rec)

	require.NoError(t, client.Connect(context.Background(), "sch-1", "run-1"))
	waitForState(t, client, StateFailed)

	_, _, completes, errs := rec.snapshot()
	require.Zero(t, completes)
	require.Len(t, errs, 1)
	require.ErrorContains(t, errs[0], "timed out")
}

func TestRunAlreadyCompletedIsTerminal(t *testing.T) {
	server := sseServer(t, []string{`{"type":"run_already_completed"}`}, nil)
	defer server.Close()

	rec := &recorder{}
	client := newTestClient(server, rec)

	require.NoError(t, client.Connect(context.Background(), "sch-1", "run-1"))
	waitForState(t, client, StateCompleted)

	_, _, completes, errs := rec.snapshot()
	require.Equal(t, 1, completes)
	require.Empty(t, errs)
}

func TestPostTerminalMessagesDoNotMutateState(t *testing.T) {
	frames := []string{
		`{"type":"run_completed"}`,
		`{"type":"error","data":{"message":"late"}}`,
		`{"type":"step_completed"}`,
	}
	server := sseServer(t, frames, nil)
	defer server.Close()

	rec := &recorder{}
	client := newTestClient(server, rec)

	require.NoError(t, client.Connect(context.Background(), "sch-1", "run-1"))
	waitForState(t, client, StateCompleted)

	// Give any stray late frame a chance to be (wrongly) applied.
	time.Sleep(20 * time.Millisecond)

	_, _, completes, errs := rec.snapshot()
	require.Equal(t, StateCompleted, client.State())
	require.Equal(t, 1, completes)
	require.Empty(t, errs)
}

func TestTransportFailureSurfacesOnce(t *testing.T) {
	// Server sends one progress frame and closes without a terminal
	// event.
	server := sseServer(t, []string{`{"type":"progress","data":{"tests_total":3,"tests_completed":1}}`}, nil)
	defer server.Close()

	rec := &recorder{}
	client := newTestClient(server, rec)

	require.NoError(t, client.Connect(context.Background(), "sch-1", "run-1"))
	waitForState(t, client, StateDisconnected)

	_, _, completes, errs := rec.snapshot()
	require.Zero(t, completes)
	require.Len(t, errs, 1)
	require.Error(t, client.Err())
}

func TestConnectWhileOpenIsRejected(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"heartbeat\"}\n\n")
		w.(http.Flusher).Flush()
		<-block
	}))
	defer server.Close()
	defer close(block)

	rec := &recorder{}
	client := newTestClient(server, rec)

	require.NoError(t, client.Connect(context.Background(), "sch-1", "run-1"))
	require.ErrorIs(t, client.Connect(context.Background(), "sch-1", "run-1"), ErrAlreadyConnected)

	client.Disconnect()
}

func TestDisconnectIsIdempotentAndSilent(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"heartbeat\"}\n\n")
		w.(http.Flusher).Flush()
		<-block
	}))
	defer server.Close()
	defer close(block)

	rec := &recorder{}
	client := newTestClient(server, rec)

	require.NoError(t, client.Connect(context.Background(), "sch-1", "run-1"))
	client.Disconnect()
	client.Disconnect()

	require.Equal(t, StateDisconnected, client.State())

	_, _, completes, errs := rec.snapshot()
	require.Zero(t, completes)
	require.Empty(t, errs)
}

func TestConnectBadStatusFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such run", http.StatusNotFound)
	}))
	defer server.Close()

	rec := &recorder{}
	client := newTestClient(server, rec)

	err := client.Connect(context.Background(), "sch-1", "run-404")
	require.Error(t, err)
	require.Equal(t, StateDisconnected, client.State())
}

type stubInvalidator struct {
	calls atomic.Int32
}

func (s *stubInvalidator) Invalidate() { s.calls.Add(1) }

func TestCompletionInvalidatesFeedCache(t *testing.T) {
	for _, terminal := range []string{"run_completed", "run_already_completed"} {
		t.Run(terminal, func(t *testing.T) {
			server := sseServer(t, []string{fmt.Sprintf(`{"type":%q}`, terminal)}, nil)
			defer server.Close()

			rec := &recorder{}
			cache := &stubInvalidator{}
			client := newTestClient(server, rec, WithInvalidator(cache))

			require.NoError(t, client.Connect(context.Background(), "sch-1", "run-1"))
			waitForState(t, client, StateCompleted)

			require.Equal(t, int32(1), cache.calls.Load())
		})
	}
}

func TestFailureDoesNotInvalidateFeedCache(t *testing.T) {
	for _, terminal := range []string{"error", "timeout"} {
		t.Run(terminal, func(t *testing.T) {
			server := sseServer(t, []string{fmt.Sprintf(`{"type":%q}`, terminal)}, nil)
			defer server.Close()

			rec := &recorder{}
			cache := &stubInvalidator{}
			client := newTestClient(server, rec, WithInvalidator(cache))

			require.NoError(t, client.Connect(context.Background(), "sch-1", "run-1"))
			waitForState(t, client, StateFailed)

			require.Zero(t, cache.calls.Load())
		})
	}
}

func TestDecodeProgress(t *testing.T) {
	event := domain.RunStreamEvent{
		Type: domain.StreamProgress,
		Data: []byte(`{"tests_total":5,"tests_completed":2,"current_test":"Checkout"}`),
	}

	progress, ok := DecodeProgress(event)
	require.True(t, ok)
	require.Equal(t, 5, progress.TestsTotal)
	require.Equal(t, 2, progress.TestsCompleted)
	require.Equal(t, "Checkout", progress.CurrentTest)

	_, ok = DecodeProgress(domain.RunStreamEvent{Type: domain.StreamHeartbeat})
	require.False(t, ok)
}
