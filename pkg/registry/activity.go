package registry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/NicolasHaas/gowarden/pkg/model"
)

// DefaultActivityCapacity is the number of events kept by NewActivityLog(0).
const DefaultActivityCapacity = 200

// ActivityLog is a bounded ring of recent events, oldest overwritten first.
type ActivityLog struct {
	mu     sync.Mutex
	events []model.ActivityEvent
	next   int
	full   bool
}

// NewActivityLog creates a log holding up to capacity events.
func NewActivityLog(capacity int) *ActivityLog {
	if capacity <= 0 {
		capacity = DefaultActivityCapacity
	}
	return &ActivityLog{events: make([]model.ActivityEvent, capacity)}
}

// Record appends an event and returns it.
func (l *ActivityLog) Record(typ model.ActivityType, details string, ts int64) model.ActivityEvent {
	ev := model.ActivityEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		Details:   details,
		Timestamp: ts,
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[l.next] = ev
	l.next = (l.next + 1) % len(l.events)
	if l.next == 0 {
		l.full = true
	}
	return ev
}

// Recent returns up to limit events, newest first. limit <= 0 returns all.
func (l *ActivityLog) Recent(limit int) []model.ActivityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.full {
		size = len(l.events)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]model.ActivityEvent, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.next - i + len(l.events)) % len(l.events)
		out = append(out, l.events[idx])
	}
	return out
}
