package manager

import (
	"time"

	"github.com/dataanalyst/sandboxpool/internal/container"
	"github.com/dataanalyst/sandboxpool/internal/state"
)

// TrackedSandbox is the manager's internal record for one pool slot. It is
// never handed to callers directly; Handle wraps the id and talks back to
// the Manager for every operation so the manager's lock is always the one
// doing the bookkeeping.
type TrackedSandbox struct {
	ID             string
	Container      container.Ref
	State          state.State
	SessionID      string // empty when not bound to a session
	CreatedAt      time.Time
	LastUsedAt     time.Time
	HealthFailures int
}

func (t *TrackedSandbox) idleFor(now time.Time) time.Duration {
	return now.Sub(t.LastUsedAt)
}
