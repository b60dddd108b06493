// Package sandboxpool is the public façade (C5): a process-wide lazy
// singleton over the sandbox manager, plus the external-collaborator
// helpers the agent loop and query tools actually import. It is grounded
// on open-lambda's worker/sandbox-manager singleton pattern (one
// SandboxPool per process, constructed on first use) and its
// server/server.go handler wiring for the HTTP surface.
package sandboxpool

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dataanalyst/sandboxpool/internal/config"
	"github.com/dataanalyst/sandboxpool/internal/container"
	"github.com/dataanalyst/sandboxpool/internal/manager"
)

// Handle, Event, Listener and Unregister are re-exported so callers never
// need to import internal/manager directly.
type (
	Handle     = manager.Handle
	Event      = manager.Event
	EventType  = manager.EventType
	Listener   = manager.Listener
	Unregister = manager.Unregister
	Stats      = manager.Stats
)

// Pool bundles the manager (C4) with the concrete container driver (C3)
// it was constructed against, so the façade can re-export driver-level
// operations like ExecInContainer without forcing callers to reach past
// the singleton.
type Pool struct {
	Manager *manager.Manager
	driver  *container.Driver
	metrics *poolMetrics
}

var (
	singletonMu sync.Mutex
	singleton   *Pool
)

// Get returns the process-wide Pool, constructing and initializing it on
// first call. Subsequent calls ignore overrides — the first caller's
// configuration wins, matching spec.md §4.5's "further calls ignore the
// config argument." In a multithreaded runtime construction is guarded by
// singletonMu rather than a once-primitive so Get can return an error
// without poisoning future attempts.
func Get(overrides *config.Overrides) (*Pool, error) {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil {
		return singleton, nil
	}

	p, err := newPool(overrides)
	if err != nil {
		return nil, err
	}
	singleton = p
	return singleton, nil
}

// Reset tears down and forgets the process-wide singleton. Test-only: it
// lets a test suite get pool isolation between cases without restarting
// the process, per spec.md §9's "Singleton access" design note.
func Reset() {
	singletonMu.Lock()
	p := singleton
	singleton = nil
	singletonMu.Unlock()

	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.Manager.Shutdown(ctx)
}

func newPool(overrides *config.Overrides) (*Pool, error) {
	cfg, err := config.Load(os.Getenv("SANDBOX_CONFIG_FILE"), overrides)
	if err != nil {
		return nil, fmt.Errorf("sandboxpool: %w", err)
	}

	driver, err := container.NewDriver()
	if err != nil {
		return nil, fmt.Errorf("sandboxpool: %w", err)
	}

	m := manager.NewManager(cfg, driver)
	if err := m.Initialize(context.Background()); err != nil {
		return nil, fmt.Errorf("sandboxpool: %w", err)
	}

	p := &Pool{Manager: m, driver: driver, metrics: newPoolMetrics()}
	m.On(p.metrics.observe)
	return p, nil
}

// CreateSandbox is the backwards-compatible helper spec.md §4.4 calls out:
// it acquires a sandbox with no session binding and returns a handle whose
// Stop releases it back to the pool.
func (p *Pool) CreateSandbox(ctx context.Context) (container *Handle, stop func(), err error) {
	h, err := p.Manager.Acquire(ctx, "")
	if err != nil {
		return nil, nil, err
	}
	return h, func() { _ = h.Release() }, nil
}

// Acquire hands out a sandbox, optionally resuming one already bound to
// sessionID.
func (p *Pool) Acquire(ctx context.Context, sessionID string) (*Handle, error) {
	return p.Manager.Acquire(ctx, sessionID)
}

// ExecInContainer re-exports C3's exec operation unchanged, for callers
// that already hold a bare container.Ref rather than a live Handle.
func (p *Pool) ExecInContainer(ctx context.Context, ref container.Ref, cmd string, timeout time.Duration) (container.ExecResult, error) {
	return p.driver.ExecInContainer(ctx, ref, cmd, timeout)
}

// On subscribes to pool lifecycle events.
func (p *Pool) On(l Listener) Unregister {
	return p.Manager.On(l)
}

// GetStats returns a point-in-time snapshot of the pool.
func (p *Pool) GetStats() Stats {
	return p.Manager.GetStats()
}

// MetricsHandler returns an http.Handler serving the pool's Prometheus
// metrics, meant to be mounted at /metrics by cmd/sandboxctl.
func (p *Pool) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.metrics.registry, promhttp.HandlerOpts{})
}

// poolMetrics mirrors the pool's event stream into Prometheus gauges and
// counters, the instrumentation spec.md's Non-goals exclude *building* a
// backend for but not emitting data for one (§3 of SPEC_FULL.md).
type poolMetrics struct {
	registry *prometheus.Registry

	created         prometheus.Counter
	destroyed       *prometheus.CounterVec
	healthEvictions prometheus.Counter
	active          *prometheus.GaugeVec

	mu     sync.Mutex
	states map[string]string // sandboxID -> last-known state label
}

func newPoolMetrics() *poolMetrics {
	reg := prometheus.NewRegistry()
	m := &poolMetrics{
		registry: reg,
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandboxpool_sandboxes_created_total",
			Help: "Sandboxes created since process start.",
		}),
		destroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandboxpool_sandboxes_destroyed_total",
			Help: "Sandboxes destroyed since process start, labeled by reason.",
		}, []string{"reason"}),
		healthEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandboxpool_health_evictions_total",
			Help: "Sandboxes evicted for failing consecutive health probes.",
		}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sandboxpool_sandboxes_active",
			Help: "Tracked sandboxes by lifecycle state.",
		}, []string{"state"}),
		states: make(map[string]string),
	}
	reg.MustRegister(m.created, m.destroyed, m.healthEvictions, m.active)
	return m
}

func (m *poolMetrics) observe(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Type {
	case manager.EventCreated:
		m.created.Inc()
		m.setState(ev.SandboxID, ev.To)
	case manager.EventStateChange:
		m.setState(ev.SandboxID, ev.To)
	case manager.EventHealthCheckFailed:
		m.healthEvictions.Inc()
	case manager.EventDestroyed:
		reason := ev.Reason
		if reason == "" {
			reason = "unknown"
		}
		m.destroyed.WithLabelValues(reason).Inc()
		if s, ok := m.states[ev.SandboxID]; ok {
			m.active.WithLabelValues(s).Dec()
			delete(m.states, ev.SandboxID)
		}
	}
}

func (m *poolMetrics) setState(id string, to fmt.Stringer) {
	label := to.String()
	if prev, ok := m.states[id]; ok {
		if prev == label {
			return
		}
		m.active.WithLabelValues(prev).Dec()
	}
	m.states[id] = label
	m.active.WithLabelValues(label).Inc()
}
