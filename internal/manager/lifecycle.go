package manager

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dataanalyst/sandboxpool/internal/state"
)

// WarmUp brings n additional sandboxes up to Ready in parallel, for
// operators who want to manually top up the pool (cmd/sandboxctl's `warm`
// command) outside of the automatic warm-up Initialize already performs.
func (m *Manager) WarmUp(ctx context.Context, n int) error {
	return m.warmUp(ctx, n)
}

// warmUp creates n new Ready sandboxes in addition to any already tracked,
// all in parallel (an errgroup with no worker limit — the container engine
// itself is the limiting resource).
func (m *Manager) warmUp(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := m.createFreshSandbox(gctx)
			return err
		})
	}
	return g.Wait()
}

// createFreshSandbox brings up exactly one new sandbox through
// Creating -> Initializing -> Ready, registers it in the pool and the
// ready queue, and emits created + state-change events along the way.
// A failure anywhere before Ready is retried exactly once with a brand
// new id; a second failure gives up and returns SandboxUnavailableError.
func (m *Manager) createFreshSandbox(ctx context.Context) (*TrackedSandbox, error) {
	t, err := m.tryCreateOnce(ctx)
	if err == nil {
		return t, nil
	}
	m.log.Warn("sandbox creation failed, retrying once", "error", err)
	t, err = m.tryCreateOnce(ctx)
	if err != nil {
		return nil, &SandboxUnavailableError{Reason: err.Error()}
	}
	return t, nil
}

func (m *Manager) tryCreateOnce(ctx context.Context) (*TrackedSandbox, error) {
	id := newSandboxID()
	t := &TrackedSandbox{ID: id, State: state.Creating}

	m.mu.Lock()
	m.sandboxes[id] = t
	m.mu.Unlock()
	m.bus.emit(Event{Type: EventCreated, SandboxID: id, To: state.Creating})

	ref, err := m.engine.CreateContainer(ctx, m.cfg, id)
	if err != nil {
		m.failAndForget(id, err)
		return nil, fmt.Errorf("create container: %w", err)
	}
	t.Container = ref

	m.mu.Lock()
	terr := m.transitionLocked(t, state.Initializing)
	m.mu.Unlock()
	if terr != nil {
		m.failAndForget(id, terr)
		return nil, terr
	}

	if err := m.engine.StartContainer(ctx, ref); err != nil {
		m.failAndForget(id, err)
		return nil, fmt.Errorf("start container: %w", err)
	}

	if err := m.engine.InitContainerPython(ctx, ref, m.cfg.InitTimeout()); err != nil {
		m.failAndForget(id, err)
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	now := time.Now()
	m.mu.Lock()
	terr = m.transitionLocked(t, state.Ready)
	if terr == nil {
		t.CreatedAt = now
		t.LastUsedAt = now
		m.ready = append(m.ready, id)
	}
	m.mu.Unlock()
	if terr != nil {
		m.failAndForget(id, terr)
		return nil, terr
	}

	return t, nil
}

// failAndForget moves a sandbox straight to Error and then to Destroyed,
// cleaning up whatever the container engine already has for it. It never
// returns an error itself — cleanup best-effort, the caller's error is
// what gets surfaced.
func (m *Manager) failAndForget(id string, cause error) {
	m.mu.Lock()
	t, ok := m.sandboxes[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	_ = m.transitionLocked(t, state.Error)
	m.mu.Unlock()

	m.bus.emit(Event{Type: EventError, SandboxID: id, Err: cause})
	m.destroy(context.Background(), id, "create-failed")
}

// destroy tears a sandbox down unconditionally: the state machine's
// teardown bypass lets any state go directly to Destroyed. Stop/remove
// errors are logged, never returned — destroy always removes the
// bookkeeping so the slot is free again.
func (m *Manager) destroy(ctx context.Context, id, reason string) {
	m.mu.Lock()
	t, ok := m.sandboxes[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	from := t.State
	t.State = state.Destroyed
	delete(m.sandboxes, id)
	m.ready = removeID(m.ready, id)
	m.mu.Unlock()

	if err := m.engine.StopContainer(ctx, t.Container, containerStopGraceSec); err != nil {
		m.log.Warn("stop failed during destroy", "sandbox", id, "error", err)
	}
	if err := m.engine.RemoveContainer(ctx, t.Container); err != nil {
		m.log.Warn("remove failed during destroy", "sandbox", id, "error", err)
	}

	m.bus.emit(Event{Type: EventStateChange, SandboxID: id, From: from, To: state.Destroyed})
	m.bus.emit(Event{Type: EventDestroyed, SandboxID: id, Reason: reason})
	m.log.Info("sandbox destroyed", "sandbox", id, "reason", reason)
}

func (m *Manager) destroyMany(ctx context.Context, ids []string, reason string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			m.destroy(gctx, id, reason)
			return nil
		})
	}
	return g.Wait()
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
