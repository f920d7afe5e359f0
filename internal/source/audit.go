package source

import (
	"fmt"
	"time"

	"example.com/activityfeed/internal/domain"
)

// AuditLogRecord is the raw shape of one generic activity-log row.
type AuditLogRecord struct {
	ID           string    `json:"id"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceName string    `json:"resource_name"`
	Actor        string    `json:"actor"`
	ProjectID    string    `json:"project_id"`
	ProjectName  string    `json:"project_name"`
	CreatedAt    time.Time `json:"created_at"`
}

// MapAuditLog converts a raw audit row into a canonical event. Actions
// on tests map to the dedicated test lifecycle types; visual checkpoint
// diffs get their own type; anything else stays a generic audit action.
func MapAuditLog(raw AuditLogRecord) domain.ActivityEvent {
	event := domain.ActivityEvent{
		ID:        "audit:" + raw.ID,
		Timestamp: raw.CreatedAt,
		Actor:     raw.Actor,
		Metadata: domain.Metadata{
			ProjectID:   raw.ProjectID,
			ProjectName: raw.ProjectName,
		},
	}

	switch {
	case raw.ResourceType == "test" && raw.Action == "created":
		event.Type = domain.EventTestCreated
		event.Title = "Test created"
		event.Description = fmt.Sprintf("%s was created", raw.ResourceName)
	case raw.ResourceType == "test" && raw.Action == "updated":
		event.Type = domain.EventTestUpdated
		event.Title = "Test updated"
		event.Description = fmt.Sprintf("%s was updated", raw.ResourceName)
	case raw.ResourceType == "test" && raw.Action == "deleted":
		event.Type = domain.EventTestDeleted
		event.Title = "Test deleted"
		event.Description = fmt.Sprintf("%s was deleted", raw.ResourceName)
	case raw.ResourceType == "visual_checkpoint" && raw.Action == "diff_detected":
		event.Type = domain.EventVisualDiffDetected
		event.Title = "Visual difference detected"
		event.Description = fmt.Sprintf("%s no longer matches its baseline", raw.ResourceName)
	case raw.Action != "":
		event.Type = domain.EventAuditAction
		event.Title = "Activity recorded"
		event.Description = fmt.Sprintf("%s %s %s", raw.Actor, raw.Action, raw.ResourceName)
	default:
		event.Type = domain.EventOther
		event.Title = "Activity recorded"
		event.Description = raw.ResourceName
	}
	return event
}
