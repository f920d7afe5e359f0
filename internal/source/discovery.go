package source

import (
	"fmt"
	"time"

	"example.com/activityfeed/internal/domain"
)

// DiscoverySessionRecord is the raw shape of one crawl/discovery session.
type DiscoverySessionRecord struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	BaseURL        string    `json:"base_url"`
	PagesCrawled   int       `json:"pages_crawled"`
	TestsGenerated int       `json:"tests_generated"`
	StartedBy      string    `json:"started_by"`
	ProjectID      string    `json:"project_id"`
	ProjectName    string    `json:"project_name"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// MapDiscoverySession converts a raw discovery session into a
// canonical event.
func MapDiscoverySession(raw DiscoverySessionRecord) domain.ActivityEvent {
	event := domain.ActivityEvent{
		ID:        "discovery:" + raw.ID,
		Timestamp: domain.CanonicalTimestamp(raw.CompletedAt, raw.StartedAt, raw.CreatedAt),
		Actor:     raw.StartedBy,
		Metadata: domain.Metadata{
			ProjectID:   raw.ProjectID,
			ProjectName: raw.ProjectName,
			Link:        "/discovery/" + raw.ID,
		},
	}

	switch raw.Status {
	case "completed":
		event.Type = domain.EventDiscoveryCompleted
		event.Title = "Discovery completed"
		event.Description = fmt.Sprintf("Crawled %d pages and generated %d tests for %s", raw.PagesCrawled, raw.TestsGenerated, raw.BaseURL)
	case "running":
		event.Type = domain.EventDiscoveryStarted
		event.Title = "Discovery started"
		event.Description = fmt.Sprintf("Crawling %s", raw.BaseURL)
	default:
		event.Type = domain.EventOther
		event.Title = "Discovery activity"
		event.Description = raw.BaseURL
	}
	return event
}
