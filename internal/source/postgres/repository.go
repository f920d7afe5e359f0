// Package postgres implements the per-source read endpoints against
// the backing Postgres database.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/activityfeed/internal/domain"
	"example.com/activityfeed/internal/source"
)

// Repository provides Postgres-backed readers for the five raw record
// tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Sources returns one Source per raw table, in the fixed merge order
// used by the aggregator.
func (r *Repository) Sources() []source.Source {
	return []source.Source{
		reader{source.KindTestRuns, r.fetchTestRuns},
		reader{source.KindDiscoverySessions, r.fetchDiscoverySessions},
		reader{source.KindHealingFixes, r.fetchHealingFixes},
		reader{source.KindScheduleTriggers, r.fetchScheduleTriggers},
		reader{source.KindAuditLogs, r.fetchAuditLogs},
	}
}

type fetchFunc func(ctx context.Context, projectIDs []string, limit int) ([]domain.ActivityEvent, error)

type reader struct {
	kind  source.Kind
	fetch fetchFunc
}

func (s reader) Name() source.Kind { return s.kind }

func (s reader) Fetch(ctx context.Context, projectIDs []string, limit int) ([]domain.ActivityEvent, error) {
	return s.fetch(ctx, projectIDs, limit)
}

func (r *Repository) fetchTestRuns(ctx context.Context, projectIDs []string, limit int) ([]domain.ActivityEvent, error) {
	const query = `SELECT run_id, name, status, total_tests, failed_tests, triggered_by, project_id, project_name, started_at, completed_at, created_at
        FROM test_runs WHERE project_id = ANY($1)
        ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, projectIDs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.ActivityEvent, 0, limit)
	for rows.Next() {
		var raw source.TestRunRecord
		var startedAt, completedAt *time.Time
		if err := rows.Scan(&raw.ID, &raw.Name, &raw.Status, &raw.TotalTests, &raw.FailedTests, &raw.TriggeredBy, &raw.ProjectID, &raw.ProjectName, &startedAt, &completedAt, &raw.CreatedAt); err != nil {
			return nil, err
		}
		raw.StartedAt = deref(startedAt)
		raw.CompletedAt = deref(completedAt)
		events = append(events, source.MapTestRun(raw))
	}
	return events, rows.Err()
}

func (r *Repository) fetchDiscoverySessions(ctx context.Context, projectIDs []string, limit int) ([]domain.ActivityEvent, error) {
	const query = `SELECT session_id, status, base_url, pages_crawled, tests_generated, started_by, project_id, project_name, started_at, completed_at, created_at
        FROM discovery_sessions WHERE project_id = ANY($1)
        ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, projectIDs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.ActivityEvent, 0, limit)
	for rows.Next() {
		var raw source.DiscoverySessionRecord
		var startedAt, completedAt *time.Time
		if err := rows.Scan(&raw.ID, &raw.Status, &raw.BaseURL, &raw.PagesCrawled, &raw.TestsGenerated, &raw.StartedBy, &raw.ProjectID, &raw.ProjectName, &startedAt, &completedAt, &raw.CreatedAt); err != nil {
			return nil, err
		}
		raw.StartedAt = deref(startedAt)
		raw.CompletedAt = deref(completedAt)
		events = append(events, source.MapDiscoverySession(raw))
	}
	return events, rows.Err()
}

func (r *Repository) fetchHealingFixes(ctx context.Context, projectIDs []string, limit int) ([]domain.ActivityEvent, error) {
	const query = `SELECT fix_id, test_id, test_name, strategy, old_selector, new_selector, project_id, project_name, applied_at, created_at
        FROM healing_fixes WHERE project_id = ANY($1)
        ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, projectIDs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.ActivityEvent, 0, limit)
	for rows.Next() {
		var raw source.HealingFixRecord
		var appliedAt *time.Time
		if err := rows.Scan(&raw.ID, &raw.TestID, &raw.TestName, &raw.Strategy, &raw.OldSelector, &raw.NewSelector, &raw.ProjectID, &raw.ProjectName, &appliedAt, &raw.CreatedAt); err != nil {
			return nil, err
		}
		raw.AppliedAt = deref(appliedAt)
		events = append(events, source.MapHealingFix(raw))
	}
	return events, rows.Err()
}

func (r *Repository) fetchScheduleTriggers(ctx context.Context, projectIDs []string, limit int) ([]domain.ActivityEvent, error) {
	const query = `SELECT trigger_id, COALESCE(schedule_id, ''), COALESCE(schedule_name, ''), status, project_id, project_name, triggered_at, created_at
        FROM schedule_triggers WHERE project_id = ANY($1)
        ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, projectIDs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.ActivityEvent, 0, limit)
	for rows.Next() {
		var raw source.ScheduleTriggerRecord
		var triggeredAt *time.Time
		if err := rows.Scan(&raw.ID, &raw.ScheduleID, &raw.ScheduleName, &raw.Status, &raw.ProjectID, &raw.ProjectName, &triggeredAt, &raw.CreatedAt); err != nil {
			return nil, err
		}
		raw.TriggeredAt = deref(triggeredAt)
		if event, ok := source.MapScheduleTrigger(raw); ok {
			events = append(events, event)
		}
	}
	return events, rows.Err()
}

func (r *Repository) fetchAuditLogs(ctx context.Context, projectIDs []string, limit int) ([]domain.ActivityEvent, error) {
	const query = `SELECT log_id, action, resource_type, resource_name, actor, project_id, project_name, created_at
        FROM activity_logs WHERE project_id = ANY($1)
        ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, projectIDs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.ActivityEvent, 0, limit)
	for rows.Next() {
		var raw source.AuditLogRecord
		if err := rows.Scan(&raw.ID, &raw.Action, &raw.ResourceType, &raw.ResourceName, &raw.Actor, &raw.ProjectID, &raw.ProjectName, &raw.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, source.MapAuditLog(raw))
	}
	return events, rows.Err()
}

func deref(ts *time.Time) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return *ts
}
