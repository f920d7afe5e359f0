// Package source defines the raw backend record shapes and the pure
// adapters that map each of them onto the canonical ActivityEvent.
package source

import (
	"context"
	"encoding/json"
	"fmt"

	"example.com/activityfeed/internal/domain"
)

// Kind names one raw record shape. It doubles as the source
// discriminator carried on push-channel messages.
type Kind string

const (
	KindTestRuns          Kind = "test_runs"
	KindDiscoverySessions Kind = "discovery_sessions"
	KindHealingFixes      Kind = "healing_fixes"
	KindScheduleTriggers  Kind = "schedule_triggers"
	KindAuditLogs         Kind = "audit_logs"
)

// Source reads raw records scoped to a project set and returns them
// already mapped to canonical events, in the backend's native order.
type Source interface {
	Name() Kind
	Fetch(ctx context.Context, projectIDs []string, limit int) ([]domain.ActivityEvent, error)
}

// Decode unmarshals one raw record of the given kind and maps it
// through the matching adapter. The ok result is false when the
// adapter deliberately skips the record (for example a schedule
// trigger with no parent schedule); an error means the payload did not
// fit the declared shape at all.
func Decode(kind Kind, payload []byte) (domain.ActivityEvent, bool, error) {
	switch kind {
	case KindTestRuns:
		var raw TestRunRecord
		if err := json.Unmarshal(payload, &raw); err != nil {
			return domain.ActivityEvent{}, false, fmt.Errorf("decode test run: %w", err)
		}
		return MapTestRun(raw), true, nil
	case KindDiscoverySessions:
		var raw DiscoverySessionRecord
		if err := json.Unmarshal(payload, &raw); err != nil {
			return domain.ActivityEvent{}, false, fmt.Errorf("decode discovery session: %w", err)
		}
		return MapDiscoverySession(raw), true, nil
	case KindHealingFixes:
		var raw HealingFixRecord
		if err := json.Unmarshal(payload, &raw); err != nil {
			return domain.ActivityEvent{}, false, fmt.Errorf("decode healing fix: %w", err)
		}
		return MapHealingFix(raw), true, nil
	case KindScheduleTriggers:
		var raw ScheduleTriggerRecord
		if err := json.Unmarshal(payload, &raw); err != nil {
			return domain.ActivityEvent{}, false, fmt.Errorf("decode schedule trigger: %w", err)
		}
		event, ok := MapScheduleTrigger(raw)
		return event, ok, nil
	case KindAuditLogs:
		var raw AuditLogRecord
		if err := json.Unmarshal(payload, &raw); err != nil {
			return domain.ActivityEvent{}, false, fmt.Errorf("decode audit log: %w", err)
		}
		return MapAuditLog(raw), true, nil
	}
	return domain.ActivityEvent{}, false, fmt.Errorf("unknown source kind: %s", kind)
}
