package source

import (
	"fmt"
	"time"

	"example.com/activityfeed/internal/domain"
)

// TestRunRecord is the raw shape returned by the test-run endpoint and
// carried on test-run insert notifications.
type TestRunRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	TotalTests  int       `json:"total_tests"`
	FailedTests int       `json:"failed_tests"`
	TriggeredBy string    `json:"triggered_by"`
	ProjectID   string    `json:"project_id"`
	ProjectName string    `json:"project_name"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// MapTestRun converts a raw test run into a canonical event. It never
// fails: a status outside the known set degrades to EventOther.
func MapTestRun(raw TestRunRecord) domain.ActivityEvent {
	event := domain.ActivityEvent{
		ID:        "run:" + raw.ID,
		Timestamp: domain.CanonicalTimestamp(raw.CompletedAt, raw.StartedAt, raw.CreatedAt),
		Actor:     raw.TriggeredBy,
		Metadata: domain.Metadata{
			ProjectID:   raw.ProjectID,
			ProjectName: raw.ProjectName,
			Link:        "/runs/" + raw.ID,
		},
	}
	if !raw.CompletedAt.IsZero() && !raw.StartedAt.IsZero() {
		event.Metadata.DurationSec = int(raw.CompletedAt.Sub(raw.StartedAt) / time.Second)
	}

	switch raw.Status {
	case "passed":
		event.Type = domain.EventTestPassed
		event.Title = "Test run completed successfully"
		event.Description = fmt.Sprintf("%s passed all %d tests", raw.Name, raw.TotalTests)
	case "failed":
		event.Type = domain.EventTestFailed
		event.Title = "Test run failed"
		event.Description = fmt.Sprintf("%s failed %d of %d tests", raw.Name, raw.FailedTests, raw.TotalTests)
	case "running":
		event.Type = domain.EventTestRunStarted
		event.Title = "Test run started"
		event.Description = fmt.Sprintf("%s is running %d tests", raw.Name, raw.TotalTests)
	default:
		event.Type = domain.EventOther
		event.Title = "Test run activity"
		event.Description = raw.Name
	}
	return event
}
