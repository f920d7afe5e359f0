package push

import "example.com/activityfeed/internal/domain"

// eventRing is a fixed-capacity buffer of freshly pushed events,
// newest first. When full, the oldest entry is dropped.
type eventRing struct {
	capacity int
	events   []domain.ActivityEvent
}

func newEventRing(capacity int) *eventRing {
	return &eventRing{capacity: capacity}
}

func (r *eventRing) prepend(event domain.ActivityEvent) {
	r.events = append([]domain.ActivityEvent{event}, r.events...)
	if len(r.events) > r.capacity {
		r.events = r.events[:r.capacity]
	}
}

func (r *eventRing) snapshot() []domain.ActivityEvent {
	return append([]domain.ActivityEvent(nil), r.events...)
}

// seenSet remembers recently observed event ids with FIFO eviction, so
// a second delivery of the same record is suppressed without the set
// growing without bound.
type seenSet struct {
	capacity int
	ids      map[string]struct{}
	order    []string
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{
		capacity: capacity,
		ids:      make(map[string]struct{}, capacity),
	}
}

// add records the id and reports whether it was previously unseen.
func (s *seenSet) add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	if len(s.order) == s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.ids, oldest)
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}
