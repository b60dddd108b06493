package manager

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dataanalyst/sandboxpool/internal/state"
)

// healthCheckTick probes every Ready/Idle sandbox with a trivial python3
// call. A sandbox that fails cfg.HealthCheck.MaxFailures consecutive
// probes is evicted; a replacement is warmed up only if the eviction
// dropped the Ready count below minWarm, matching Release's own
// promotion gate.
func (m *Manager) healthCheckTick(ctx context.Context) {
	m.mu.Lock()
	candidates := make([]*TrackedSandbox, 0, len(m.sandboxes))
	for _, t := range m.sandboxes {
		if t.State == state.Ready || t.State == state.Idle {
			candidates = append(candidates, t)
		}
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, t := range candidates {
		t := t
		g.Go(func() error {
			m.probeOne(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) probeOne(ctx context.Context, t *TrackedSandbox) {
	res, err := m.engine.ExecInContainer(ctx, t.Container, healthProbeCmd, healthProbeTimeout)
	failed := err != nil || res.ExitCode != 0

	m.mu.Lock()
	cur, ok := m.sandboxes[t.ID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if failed {
		cur.HealthFailures++
	} else {
		cur.HealthFailures = 0
	}
	failures := cur.HealthFailures
	evict := failures >= m.cfg.HealthCheck.MaxFailures
	m.mu.Unlock()

	if !evict {
		return
	}

	m.bus.emit(Event{Type: EventHealthCheckFailed, SandboxID: t.ID, Err: err, Count: failures})
	m.destroy(ctx, t.ID, "health-check-failure")

	m.mu.Lock()
	belowMinWarm := m.readyCountLocked() < m.cfg.Pool.MinWarm
	m.mu.Unlock()
	if !belowMinWarm {
		return
	}
	if _, werr := m.createFreshSandbox(ctx); werr != nil {
		m.log.Warn("replacement warm-up failed after eviction", "error", werr)
	}
}

// cleanupTick evicts Idle sandboxes that have sat unused past
// cfg.Pool.MaxIdleMs.
func (m *Manager) cleanupTick(ctx context.Context) {
	now := time.Now()
	maxIdle := m.cfg.MaxIdle()

	m.mu.Lock()
	var stale []string
	for id, t := range m.sandboxes {
		if t.State == state.Idle && t.idleFor(now) > maxIdle {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.destroy(ctx, id, "idle-timeout")
	}
}
