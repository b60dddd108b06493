// Package manager implements the sandbox pool (C4): the process-wide
// owner of a bounded set of tracked sandboxes, their lifecycle state, the
// warm-pool ready queue, the health-check and idle-cleanup background
// loops, and the event bus callers subscribe to. It is grounded on
// open-lambda's worker-side SandboxPool plus its boss/event dispatch, now
// generalized from "one container per lambda invocation" to "one
// container checked out for the life of an agent session".
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dataanalyst/sandboxpool/internal/config"
	"github.com/dataanalyst/sandboxpool/internal/logging"
	"github.com/dataanalyst/sandboxpool/internal/state"
)

// Retry policy for Acquire when the pool is at capacity. These are fixed
// constants, not config, matching spec.md's ACQUIRE_MAX_RETRIES /
// ACQUIRE_RETRY_INTERVAL_MS.
const (
	acquireMaxRetries     = 3
	acquireRetryInterval  = 2000 * time.Millisecond
	healthProbeTimeout    = 5 * time.Second
	healthProbeCmd        = "python3 -c 'print(1)'"
	containerStopGraceSec = 5
)

// Stats is the snapshot returned by GetStats.
type Stats struct {
	Total     int
	Ready     int
	Executing int
	Idle      int
	Suspended int
	Error     int
}

// Manager owns every tracked sandbox for the process. A single instance
// is normally wrapped by pkg/sandboxpool as a lazy singleton; tests
// construct Manager directly against a fake Engine.
type Manager struct {
	cfg    config.SandboxConfig
	engine Engine
	log    *slog.Logger

	mu        sync.Mutex
	sandboxes map[string]*TrackedSandbox
	ready     []string // FIFO of ids currently Ready and unclaimed

	bus *eventBus

	cron           *cron.Cron
	healthEntry    cron.EntryID
	cleanupEntry   cron.EntryID

	initialized       bool
	shutdownRequested bool
}

// NewManager constructs a Manager bound to engine with cfg. It does not
// contact the engine; Initialize does, either when called directly or
// lazily on the first Acquire.
func NewManager(cfg config.SandboxConfig, engine Engine) *Manager {
	log := logging.For("manager")
	return &Manager{
		cfg:       cfg,
		engine:    engine,
		log:       log,
		sandboxes: make(map[string]*TrackedSandbox),
		bus:       newEventBus(log),
		cron:      cron.New(),
	}
}

// Initialize pings the engine, warms the pool up to cfg.Pool.MinWarm, and
// starts the health-check and idle-cleanup background loops. Calling it a
// second time is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.engine.Ping(ctx); err != nil {
		return &SandboxUnavailableError{Reason: err.Error()}
	}
	if err := m.engine.EnsureImage(ctx, m.cfg.Image); err != nil {
		return &SandboxUnavailableError{Reason: err.Error()}
	}

	if err := m.warmUp(ctx, m.cfg.Pool.MinWarm); err != nil {
		m.log.Warn("warm-up did not fully complete", "error", err)
	}

	healthSpec := fmt.Sprintf("@every %dms", m.cfg.HealthCheck.IntervalMs)
	healthEntry, err := m.cron.AddFunc(healthSpec, func() { m.healthCheckTick(context.Background()) })
	if err != nil {
		return fmt.Errorf("manager: schedule health check: %w", err)
	}
	cleanupSpec := fmt.Sprintf("@every %dms", m.cfg.HealthCheck.IntervalMs)
	cleanupEntry, err := m.cron.AddFunc(cleanupSpec, func() { m.cleanupTick(context.Background()) })
	if err != nil {
		return fmt.Errorf("manager: schedule idle cleanup: %w", err)
	}
	m.cron.Start()

	m.mu.Lock()
	m.healthEntry = healthEntry
	m.cleanupEntry = cleanupEntry
	m.initialized = true
	m.mu.Unlock()

	return nil
}

// Shutdown stops the background loops, waits out a single blanket grace
// period if anything is still Executing, then destroys every tracked
// sandbox in parallel and returns once they are all gone (or the context
// expires first).
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdownRequested {
		m.mu.Unlock()
		return nil
	}
	m.shutdownRequested = true
	ids := make([]string, 0, len(m.sandboxes))
	draining := false
	for id, t := range m.sandboxes {
		ids = append(ids, id)
		if t.State == state.Executing {
			draining = true
		}
	}
	m.mu.Unlock()

	stopCtx := m.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}

	if draining {
		m.log.Info("shutdown: sandboxes still executing, waiting out grace period",
			"graceMs", m.cfg.Timeouts.ShutdownGraceMs)
		select {
		case <-time.After(m.cfg.ShutdownGrace()):
		case <-ctx.Done():
		}
	}

	err := m.destroyMany(ctx, ids, "shutdown")

	m.mu.Lock()
	m.initialized = false
	m.mu.Unlock()

	return err
}

// GetStats returns a point-in-time count of sandboxes by state.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Stats
	for _, t := range m.sandboxes {
		s.Total++
		switch t.State {
		case state.Ready:
			s.Ready++
		case state.Executing:
			s.Executing++
		case state.Idle:
			s.Idle++
		case state.Suspended:
			s.Suspended++
		case state.Error:
			s.Error++
		}
	}
	return s
}

// On registers a listener for pool events and returns a function that
// unregisters it.
func (m *Manager) On(l Listener) Unregister {
	return m.bus.on(l)
}

func newSandboxID() string {
	return uuid.NewString()
}

func (m *Manager) transitionLocked(t *TrackedSandbox, to state.State) error {
	from := t.State
	next, err := state.Transition(from, to)
	if err != nil {
		return err
	}
	t.State = next
	m.bus.emit(Event{Type: EventStateChange, SandboxID: t.ID, From: from, To: next})
	return nil
}
