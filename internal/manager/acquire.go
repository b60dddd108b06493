package manager

import (
	"context"
	"time"

	"github.com/dataanalyst/sandboxpool/internal/state"
)

// Acquire hands out a sandbox for exclusive use. It lazy-initializes the
// manager on first call and rejects once shutdownRequested is set. If
// sessionID is non-empty and a sandbox already bound to that session is
// still alive, it is resumed rather than handing out a different one —
// the session-resume path supplementing the base acquire flow. Otherwise
// the ready queue is popped FIFO; if it's empty and the pool has room, a
// fresh sandbox is created; if the pool is already at maxTotal, Acquire
// backs off and retries up to acquireMaxRetries times before giving up
// with a *PoolExhaustedError.
func (m *Manager) Acquire(ctx context.Context, sessionID string) (*Handle, error) {
	m.mu.Lock()
	shuttingDown := m.shutdownRequested
	m.mu.Unlock()
	if shuttingDown {
		return nil, &SandboxUnavailableError{Reason: "pool is shutting down"}
	}

	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}

	if sessionID != "" {
		if t := m.resumeSession(sessionID); t != nil {
			return &Handle{manager: m, id: t.ID}, nil
		}
	}

	for attempt := 0; ; attempt++ {
		t, full, err := m.tryAcquireFromReady(sessionID)
		if err != nil {
			return nil, err
		}
		if t != nil {
			return &Handle{manager: m, id: t.ID}, nil
		}

		if !full {
			t, err := m.createFreshSandbox(ctx)
			if err != nil {
				return nil, err
			}
			if claimed := m.claim(t.ID, sessionID); claimed {
				return &Handle{manager: m, id: t.ID}, nil
			}
			// someone else claimed it between create and claim; fall
			// through to retry the ready queue.
		}

		if attempt >= acquireMaxRetries {
			return nil, &PoolExhaustedError{MaxTotal: m.cfg.Pool.MaxTotal}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquireRetryInterval):
		}
	}
}

func (m *Manager) resumeSession(sessionID string) *TrackedSandbox {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.sandboxes {
		if t.SessionID != sessionID {
			continue
		}
		switch t.State {
		case state.Ready:
			// already stepping toward Executing below
		case state.Idle:
			if m.transitionLocked(t, state.Ready) != nil {
				continue
			}
		case state.Suspended:
			if m.transitionLocked(t, state.Initializing) != nil {
				continue
			}
			if m.transitionLocked(t, state.Ready) != nil {
				continue
			}
		default:
			continue
		}
		if m.transitionLocked(t, state.Executing) != nil {
			continue
		}
		t.LastUsedAt = time.Now()
		m.ready = removeID(m.ready, t.ID)
		return t
	}
	return nil
}

// tryAcquireFromReady pops the front of the ready queue. The queue is only
// ever supposed to hold ids whose record is Ready (§3's ready-queue
// consistency invariant), but a dequeued id may have been destroyed in the
// window between enqueue and dequeue, so every pop re-validates state ==
// Ready before handing it out rather than trusting the queue blindly. full
// reports whether the pool is at capacity, so the caller knows whether
// creating a fresh sandbox is even worth attempting.
func (m *Manager) tryAcquireFromReady(sessionID string) (t *TrackedSandbox, full bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.ready) > 0 {
		id := m.ready[0]
		m.ready = m.ready[1:]
		cand, ok := m.sandboxes[id]
		if !ok || cand.State != state.Ready {
			continue
		}
		if terr := m.transitionLocked(cand, state.Executing); terr != nil {
			continue
		}
		cand.SessionID = sessionID
		cand.LastUsedAt = time.Now()
		return cand, false, nil
	}

	return nil, len(m.sandboxes) >= m.cfg.Pool.MaxTotal, nil
}

func (m *Manager) claim(id, sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.sandboxes[id]
	if !ok || t.State != state.Ready {
		return false
	}
	if m.transitionLocked(t, state.Executing) != nil {
		return false
	}
	t.SessionID = sessionID
	t.LastUsedAt = time.Now()
	m.ready = removeID(m.ready, id)
	return true
}

// Release moves a sandbox Executing -> Idle. If the warm pool has room
// below minWarm, it is promoted straight back Idle -> Ready and pushed
// onto the ready queue; otherwise it is left Idle for the TTL reaper to
// eventually collect, per spec.md §4.4 — an Idle sandbox that isn't
// promoted is not handed out by a plain Acquire again, only resumed by a
// matching sessionID or reclaimed once it ages past maxIdleMs. Callers
// reach this through Handle.Release rather than calling it directly.
// Unknown id is a silent no-op, matching spec.md's release() contract.
func (m *Manager) Release(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.sandboxes[id]
	if !ok {
		return nil
	}
	if err := m.transitionLocked(t, state.Idle); err != nil {
		return err
	}
	t.LastUsedAt = time.Now()

	if m.readyCountLocked() < m.cfg.Pool.MinWarm {
		if m.transitionLocked(t, state.Ready) == nil {
			m.ready = append(m.ready, id)
		}
	}
	return nil
}

func (m *Manager) readyCountLocked() int {
	n := 0
	for _, t := range m.sandboxes {
		if t.State == state.Ready {
			n++
		}
	}
	return n
}
