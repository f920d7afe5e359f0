package domain

import (
	"encoding/json"
	"time"
)

// StreamEventType tags a message delivered on a run progress stream.
type StreamEventType string

const (
	StreamRunStarted          StreamEventType = "run_started"
	StreamTestsFetched        StreamEventType = "tests_fetched"
	StreamTestStarted         StreamEventType = "test_started"
	StreamStepStarted         StreamEventType = "step_started"
	StreamStepCompleted       StreamEventType = "step_completed"
	StreamStepFailed          StreamEventType = "step_failed"
	StreamTestCompleted       StreamEventType = "test_completed"
	StreamTestFailed          StreamEventType = "test_failed"
	StreamProgress            StreamEventType = "progress"
	StreamRunCompleted        StreamEventType = "run_completed"
	StreamRunAlreadyCompleted StreamEventType = "run_already_completed"
	StreamHeartbeat           StreamEventType = "heartbeat"
	StreamTimeout             StreamEventType = "timeout"
	StreamError               StreamEventType = "error"
)

// RunStreamEvent is one decoded message from a run progress stream.
// Events are consumed exactly once per delivery and never persisted by
// this subsystem.
type RunStreamEvent struct {
	Type      StreamEventType `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// Terminal reports whether the event ends the run's lifecycle, either
// successfully or with a failure.
func (e RunStreamEvent) Terminal() bool {
	switch e.Type {
	case StreamRunCompleted, StreamRunAlreadyCompleted, StreamTimeout, StreamError:
		return true
	}
	return false
}

// Failure reports whether a terminal event represents a failed run.
func (e RunStreamEvent) Failure() bool {
	return e.Type == StreamTimeout || e.Type == StreamError
}
