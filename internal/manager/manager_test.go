package manager

import (
	"context"
	"testing"
	"time"

	"github.com/dataanalyst/sandboxpool/internal/state"
)

func newTestManager(t *testing.T, engine *fakeEngine) *Manager {
	t.Helper()
	m := NewManager(testConfig(), engine)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func TestAcquireCreatesFreshSandboxWhenPoolEmpty(t *testing.T) {
	m := newTestManager(t, newFakeEngine())

	h, err := m.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	st, err := h.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if st != state.Executing {
		t.Errorf("state = %s, want executing", st)
	}
}

func TestReleaseBelowMinWarmPromotesBackToReady(t *testing.T) {
	eng := newFakeEngine()
	cfg := testConfig()
	cfg.Pool.MinWarm = 1
	cfg.Pool.MaxTotal = 2
	m := NewManager(cfg, eng)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	h, err := m.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	m.mu.Lock()
	t2, ok := m.sandboxes[h.ID()]
	inQueue := false
	for _, id := range m.ready {
		if id == h.ID() {
			inQueue = true
		}
	}
	m.mu.Unlock()
	if !ok {
		t.Fatal("sandbox disappeared after release")
	}
	if t2.State != state.Ready {
		t.Errorf("state after release below minWarm = %s, want ready", t2.State)
	}
	if !inQueue {
		t.Error("expected sandbox to be back on the ready queue")
	}

	h2, err := m.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if h2.ID() != h.ID() {
		t.Errorf("expected the promoted sandbox to be reused, got a different id")
	}
}

func TestReleaseAtMinWarmStaysIdleAndIsNotReused(t *testing.T) {
	m := newTestManager(t, newFakeEngine()) // testConfig: minWarm=0, maxTotal=2

	h, err := m.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	m.mu.Lock()
	t2, ok := m.sandboxes[h.ID()]
	queueLen := len(m.ready)
	m.mu.Unlock()
	if !ok {
		t.Fatal("sandbox disappeared after release")
	}
	if t2.State != state.Idle {
		t.Errorf("state after release = %s, want idle", t2.State)
	}
	if queueLen != 0 {
		t.Errorf("ready queue len = %d, want 0 (idle sandbox should not be queued)", queueLen)
	}

	// Acquire should create a fresh sandbox rather than hand back the
	// un-queued Idle one, since Idle sandboxes outside the ready queue
	// are only reachable again via session resume or the TTL reaper.
	h2, err := m.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if h2.ID() == h.ID() {
		t.Errorf("expected a fresh sandbox, got the idle one reused without a session match")
	}
}

func TestAcquirePoolExhaustedAfterRetries(t *testing.T) {
	eng := newFakeEngine()
	cfg := testConfig()
	cfg.Pool.MaxTotal = 1
	m := NewManager(cfg, eng)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	}()

	if _, err := m.Acquire(context.Background(), ""); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	start := time.Now()
	_, err := m.Acquire(context.Background(), "")
	elapsed := time.Since(start)
	if err == nil {
		t.Fatal("expected PoolExhaustedError")
	}
	if _, ok := err.(*PoolExhaustedError); !ok {
		t.Errorf("err = %v (%T), want *PoolExhaustedError", err, err)
	}
	if elapsed < acquireRetryInterval*acquireMaxRetries {
		t.Errorf("expected Acquire to have backed off through all retries, elapsed = %v", elapsed)
	}
}

func TestAcquireForSessionResumesBoundSandbox(t *testing.T) {
	m := newTestManager(t, newFakeEngine())

	h, err := m.Acquire(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	h2, err := m.Acquire(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("resume Acquire: %v", err)
	}
	if h2.ID() != h.ID() {
		t.Errorf("expected session resume to return the same sandbox")
	}
}

func TestHealthCheckEvictsAfterMaxFailures(t *testing.T) {
	eng := newFakeEngine()
	eng.failEvery = 1 // every probe fails
	cfg := testConfig()
	cfg.HealthCheck.MaxFailures = 2
	m := NewManager(cfg, eng)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	}()

	h, err := m.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	ctx := context.Background()
	m.healthCheckTick(ctx)
	m.healthCheckTick(ctx)

	m.mu.Lock()
	_, stillThere := m.sandboxes[h.ID()]
	m.mu.Unlock()
	if stillThere {
		t.Error("expected sandbox to be evicted after max consecutive health failures")
	}
}

func TestCleanupTickEvictsIdleSandboxPastTTL(t *testing.T) {
	eng := newFakeEngine()
	cfg := testConfig()
	cfg.Pool.MaxIdleMs = 1
	m := NewManager(cfg, eng)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	}()

	h, err := m.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	m.cleanupTick(context.Background())

	m.mu.Lock()
	_, stillThere := m.sandboxes[h.ID()]
	m.mu.Unlock()
	if stillThere {
		t.Error("expected idle sandbox past max_idle_ms to be evicted")
	}
}

func TestEventOrderingCreatedThenStateChangeThenDestroyed(t *testing.T) {
	eng := newFakeEngine()
	m := NewManager(testConfig(), eng)

	var seq []EventType
	unregister := m.On(func(ev Event) {
		seq = append(seq, ev.Type)
	})
	defer unregister()

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	h, err := m.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	h.Destroy(context.Background())

	if len(seq) == 0 {
		t.Fatal("expected at least one event")
	}
	if seq[0] != EventCreated {
		t.Errorf("first event = %s, want created", seq[0])
	}
	lastTwo := seq[len(seq)-2:]
	if lastTwo[0] != EventStateChange || lastTwo[1] != EventDestroyed {
		t.Errorf("last two events = %v, want [state-change destroyed]", lastTwo)
	}
}

func TestListenerPanicDoesNotBreakDelivery(t *testing.T) {
	eng := newFakeEngine()
	m := NewManager(testConfig(), eng)

	var secondSaw int
	m.On(func(ev Event) { panic("boom") })
	m.On(func(ev Event) { secondSaw++ })

	m.bus.emit(Event{Type: EventCreated, SandboxID: "x"})

	if secondSaw != 1 {
		t.Errorf("second listener saw %d events, want 1", secondSaw)
	}
}
