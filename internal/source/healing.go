package source

import (
	"fmt"
	"time"

	"example.com/activityfeed/internal/domain"
)

// HealingFixRecord is the raw shape of one self-healing selector fix.
type HealingFixRecord struct {
	ID          string    `json:"id"`
	TestID      string    `json:"test_id"`
	TestName    string    `json:"test_name"`
	Strategy    string    `json:"strategy"`
	OldSelector string    `json:"old_selector"`
	NewSelector string    `json:"new_selector"`
	ProjectID   string    `json:"project_id"`
	ProjectName string    `json:"project_name"`
	AppliedAt   time.Time `json:"applied_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// MapHealingFix converts a raw healing fix into a canonical event.
func MapHealingFix(raw HealingFixRecord) domain.ActivityEvent {
	description := fmt.Sprintf("Repaired a broken selector in %s", raw.TestName)
	if raw.Strategy != "" {
		description = fmt.Sprintf("Repaired a broken selector in %s using %s", raw.TestName, raw.Strategy)
	}
	return domain.ActivityEvent{
		ID:          "healing:" + raw.ID,
		Type:        domain.EventHealingApplied,
		Title:       "Self-healing fix applied",
		Description: description,
		Timestamp:   domain.CanonicalTimestamp(raw.AppliedAt, time.Time{}, raw.CreatedAt),
		Metadata: domain.Metadata{
			ProjectID:   raw.ProjectID,
			ProjectName: raw.ProjectName,
			TestID:      raw.TestID,
			Link:        "/tests/" + raw.TestID,
		},
	}
}
