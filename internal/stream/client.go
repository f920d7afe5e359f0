// Package stream follows the step-level progress of one in-flight
// scheduled run over a server-sent-event connection.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"example.com/activityfeed/internal/domain"
)

// State is the connection lifecycle position of a Client.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// ErrAlreadyConnected is returned when Connect is called while a
// stream is still open.
var ErrAlreadyConnected = errors.New("run stream already open")

// Invalidator marks a cached aggregate stale.
type Invalidator interface {
	Invalidate()
}

// Option configures optional behaviour for the Client.
type Option func(*Client)

// WithLogger overrides the logger used to report protocol errors.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient overrides the HTTP client used to open the stream.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithInvalidator wires the feed cache to invalidate when a followed
// run completes, so the next read reflects the finished run.
func WithInvalidator(cache Invalidator) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithStateListener registers a callback invoked on every state
// transition, in transition order.
func WithStateListener(fn func(State)) Option {
	return func(c *Client) {
		c.onState = fn
	}
}

// WithEventListener registers a callback invoked for every decoded
// event, terminal ones included, before it is applied.
func WithEventListener(fn func(domain.RunStreamEvent)) Option {
	return func(c *Client) {
		c.onEvent = fn
	}
}

// Client decodes one run's progress stream and drives the
// Disconnected/Connecting/Connected/Completed/Failed state machine.
// Exactly one of onComplete or onError fires once a terminal message
// arrives; messages after that point never mutate state.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *log.Logger
	cache      Invalidator

	onComplete func(domain.RunStreamEvent)
	onError    func(error)
	onState    func(State)
	onEvent    func(domain.RunStreamEvent)

	mu       sync.Mutex
	state    State
	lastErr  error
	terminal bool
	body     io.ReadCloser
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewClient constructs a Client for the given API base URL. The bearer
// token is carried as a query parameter on the stream URL because the
// EventSource transport cannot set request headers.
func NewClient(baseURL, token string, onComplete func(domain.RunStreamEvent), onError func(error), opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
		logger:     log.New(log.Writer(), "[stream] ", log.LstdFlags|log.Lshortfile),
		onComplete: onComplete,
		onError:    onError,
		state:      StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State reports the current lifecycle position.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err reports the last surfaced error, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connect opens the progress stream for one scheduled run. Both ids
// are required. On success the client is Connected and a background
// loop consumes events until a terminal message or Disconnect.
func (c *Client) Connect(ctx context.Context, scheduleID, runID string) error {
	if scheduleID == "" || runID == "" {
		return errors.New("schedule id and run id are required")
	}

	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.transitionLocked(StateConnecting)
	c.terminal = false
	c.mu.Unlock()

	streamURL := fmt.Sprintf("%s/schedules/%s/runs/%s/stream", c.baseURL, url.PathEscape(scheduleID), url.PathEscape(runID))
	if c.token != "" {
		streamURL += "?token=" + url.QueryEscape(c.token)
	}

	runCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(runCtx, http.MethodGet, streamURL, nil)
	if err != nil {
		cancel()
		c.failConnect(err)
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		err = fmt.Errorf("open run stream: %w", err)
		c.failConnect(err)
		return err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		err = fmt.Errorf("open run stream: unexpected status %d", resp.StatusCode)
		c.failConnect(err)
		return err
	}

	done := make(chan struct{})

	c.mu.Lock()
	c.transitionLocked(StateConnected)
	c.lastErr = nil
	c.body = resp.Body
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.readLoop(resp.Body, done)
	return nil
}

// Disconnect closes the underlying connection immediately if open. It
// is idempotent and safe to call in any state.
func (c *Client) Disconnect() {
	c.mu.Lock()
	body := c.body
	cancel := c.cancel
	done := c.done
	c.body = nil
	c.cancel = nil
	c.done = nil
	if c.state == StateConnecting || c.state == StateConnected {
		c.transitionLocked(StateDisconnected)
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if body != nil {
		body.Close()
	}
	if done != nil {
		<-done
	}
}

// failConnect records a connection-establishment failure and returns
// the client to Disconnected.
func (c *Client) failConnect(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.transitionLocked(StateDisconnected)
	c.mu.Unlock()
}

// readLoop decodes SSE frames until the stream ends. All state
// transitions after connect happen here, serialized on one goroutine.
func (c *Client) readLoop(body io.ReadCloser, done chan struct{}) {
	defer close(done)

	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			c.transportFailure(err)
			return
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var event domain.RunStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			// A single malformed payload never drops the connection.
			c.logger.Printf("malformed stream payload, discarding: %v", err)
			recordProtocolError()
			continue
		}

		if c.onEvent != nil {
			c.onEvent(event)
		}

		if c.dispatch(event) {
			return
		}
	}
}

// dispatch applies one decoded event and reports whether the stream is
// finished.
func (c *Client) dispatch(event domain.RunStreamEvent) bool {
	if !event.Terminal() {
		// Heartbeats and progress events carry no state meaning.
		return false
	}

	c.mu.Lock()
	if c.terminal {
		c.mu.Unlock()
		return true
	}
	c.terminal = true
	body := c.body
	cancel := c.cancel
	c.body = nil
	c.cancel = nil
	c.done = nil

	var callback func()
	if event.Failure() {
		err := terminalError(event)
		c.lastErr = err
		c.transitionLocked(StateFailed)
		if c.onError != nil {
			callback = func() { c.onError(err) }
		}
	} else {
		c.transitionLocked(StateCompleted)
		if c.onComplete != nil {
			callback = func() { c.onComplete(event) }
		}
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if body != nil {
		body.Close()
	}

	recordTerminal(string(event.Type))
	if !event.Failure() && c.cache != nil {
		c.cache.Invalidate()
	}
	if callback != nil {
		callback()
	}
	return true
}

// transportFailure handles the stream ending without a terminal
// message. Teardown-initiated closes are not surfaced.
func (c *Client) transportFailure(err error) {
	c.mu.Lock()
	if c.terminal || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	if errors.Is(err, context.Canceled) {
		// Caller-initiated teardown, not a failure.
		c.terminal = true
		c.transitionLocked(StateDisconnected)
		body := c.body
		c.body = nil
		c.cancel = nil
		c.done = nil
		c.mu.Unlock()
		if body != nil {
			body.Close()
		}
		return
	}
	c.terminal = true
	failure := err
	if errors.Is(err, io.EOF) {
		failure = errors.New("run stream closed before a terminal event")
	}
	c.lastErr = failure
	c.transitionLocked(StateDisconnected)
	body := c.body
	cancel := c.cancel
	c.body = nil
	c.cancel = nil
	c.done = nil
	onError := c.onError
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if body != nil {
		body.Close()
	}

	recordTransportFailure()
	c.logger.Printf("run stream transport failure: %v", failure)
	if onError != nil {
		onError(failure)
	}
}

// transitionLocked requires c.mu to be held.
func (c *Client) transitionLocked(next State) {
	c.state = next
	if c.onState != nil {
		c.onState(next)
	}
}

func terminalError(event domain.RunStreamEvent) error {
	message := serverMessage(event.Data)
	if event.Type == domain.StreamTimeout {
		if message == "" {
			message = "run timed out"
		}
		return fmt.Errorf("run stream timeout: %s", message)
	}
	if message == "" {
		message = "run failed"
	}
	return fmt.Errorf("run stream error: %s", message)
}

func serverMessage(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	return payload.Message
}

// Progress is the decoded data payload of progress-class events.
type Progress struct {
	TestsTotal     int       `json:"tests_total"`
	TestsCompleted int       `json:"tests_completed"`
	CurrentTest    string    `json:"current_test"`
	CurrentStep    string    `json:"current_step"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DecodeProgress extracts the progress payload from an event, when
// present.
func DecodeProgress(event domain.RunStreamEvent) (Progress, bool) {
	if len(event.Data) == 0 {
		return Progress{}, false
	}
	var p Progress
	if err := json.Unmarshal(event.Data, &p); err != nil {
		return Progress{}, false
	}
	return p, true
}
