// Package domain defines the canonical event model for the activity feed.
package domain

import "time"

// EventType is the closed set of canonical activity event kinds.
type EventType string

const (
	EventTestRunStarted     EventType = "test_run_started"
	EventTestPassed         EventType = "test_passed"
	EventTestFailed         EventType = "test_failed"
	EventTestCreated        EventType = "test_created"
	EventTestUpdated        EventType = "test_updated"
	EventTestDeleted        EventType = "test_deleted"
	EventDiscoveryStarted   EventType = "discovery_started"
	EventDiscoveryCompleted EventType = "discovery_completed"
	EventHealingApplied     EventType = "healing_applied"
	EventScheduleTriggered  EventType = "schedule_triggered"
	EventVisualDiffDetected EventType = "visual_diff_detected"
	EventAuditAction        EventType = "audit_action"
	EventOther              EventType = "other"
)

// Metadata carries cross-references attached to an event. It is never
// load-bearing for ordering or identity.
type Metadata struct {
	ProjectID   string `json:"project_id,omitempty"`
	ProjectName string `json:"project_name,omitempty"`
	TestID      string `json:"test_id,omitempty"`
	DurationSec int    `json:"duration_sec,omitempty"`
	Link        string `json:"link,omitempty"`
}

// ActivityEvent is the source-agnostic record of something that
// happened, used to build the unified timeline. IDs are prefixed with
// the originating source so they never collide across sources.
type ActivityEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	Actor       string    `json:"actor,omitempty"`
	Metadata    Metadata  `json:"metadata"`
}

// CanonicalTimestamp picks the event time via the fallback chain:
// completion time, else start time, else creation time. The raw
// creation time is never preferred when a more specific time exists.
func CanonicalTimestamp(completedAt, startedAt, createdAt time.Time) time.Time {
	if !completedAt.IsZero() {
		return completedAt
	}
	if !startedAt.IsZero() {
		return startedAt
	}
	return createdAt
}
