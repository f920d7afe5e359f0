package source

import (
	"fmt"
	"time"

	"example.com/activityfeed/internal/domain"
)

// ScheduleTriggerRecord is the raw shape of one scheduled-run trigger.
type ScheduleTriggerRecord struct {
	ID           string    `json:"id"`
	ScheduleID   string    `json:"schedule_id"`
	ScheduleName string    `json:"schedule_name"`
	Status       string    `json:"status"`
	ProjectID    string    `json:"project_id"`
	ProjectName  string    `json:"project_name"`
	TriggeredAt  time.Time `json:"triggered_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// MapScheduleTrigger converts a raw trigger into a canonical event.
// Records without a parent schedule reference cannot produce a
// meaningful event and are skipped (ok=false); this is not an error.
func MapScheduleTrigger(raw ScheduleTriggerRecord) (domain.ActivityEvent, bool) {
	if raw.ScheduleID == "" {
		return domain.ActivityEvent{}, false
	}

	name := raw.ScheduleName
	if name == "" {
		name = raw.ScheduleID
	}

	return domain.ActivityEvent{
		ID:          "schedule:" + raw.ID,
		Type:        domain.EventScheduleTriggered,
		Title:       "Scheduled run triggered",
		Description: fmt.Sprintf("Schedule %s triggered a run", name),
		Timestamp:   domain.CanonicalTimestamp(time.Time{}, raw.TriggeredAt, raw.CreatedAt),
		Metadata: domain.Metadata{
			ProjectID:   raw.ProjectID,
			ProjectName: raw.ProjectName,
			Link:        "/schedules/" + raw.ScheduleID,
		},
	}, true
}
