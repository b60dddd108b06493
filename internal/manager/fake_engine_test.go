package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dataanalyst/sandboxpool/internal/config"
	"github.com/dataanalyst/sandboxpool/internal/container"
)

// fakeEngine is a hand-rolled in-memory stand-in for the container engine,
// letting manager tests exercise pool behavior without a real container
// runtime, the same way open-lambda's own pool tests swap in a fake
// SandboxPool.
type fakeEngine struct {
	mu        sync.Mutex
	created   int
	running   map[string]bool
	execFunc  func(ref container.Ref, cmd string) (container.ExecResult, error)
	failEvery int32
	calls     atomic.Int32
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{running: make(map[string]bool)}
}

func (f *fakeEngine) Ping(ctx context.Context) error { return nil }

func (f *fakeEngine) EnsureImage(ctx context.Context, image string) error { return nil }

func (f *fakeEngine) CreateContainer(ctx context.Context, cfg config.SandboxConfig, id string) (container.Ref, error) {
	f.mu.Lock()
	f.created++
	f.mu.Unlock()
	return container.Ref{}, nil
}

func (f *fakeEngine) StartContainer(ctx context.Context, ref container.Ref) error {
	f.mu.Lock()
	f.running[ref.String()] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) StopContainer(ctx context.Context, ref container.Ref, graceSec uint) error {
	f.mu.Lock()
	delete(f.running, ref.String())
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) RemoveContainer(ctx context.Context, ref container.Ref) error {
	return nil
}

func (f *fakeEngine) ExecInContainer(ctx context.Context, ref container.Ref, cmd string, timeout time.Duration) (container.ExecResult, error) {
	if f.failEvery > 0 && f.calls.Add(1)%f.failEvery == 0 {
		return container.ExecResult{}, &container.TimeoutError{Op: "exec", TimeoutMs: int(timeout / time.Millisecond)}
	}
	if f.execFunc != nil {
		return f.execFunc(ref, cmd)
	}
	return container.ExecResult{Stdout: "1", ExitCode: 0}, nil
}

func (f *fakeEngine) WriteToContainer(ctx context.Context, ref container.Ref, path string, data []byte) error {
	return nil
}

func (f *fakeEngine) IsContainerRunning(ctx context.Context, ref container.Ref) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[ref.String()]
}

func (f *fakeEngine) InitContainerPython(ctx context.Context, ref container.Ref, timeout time.Duration) error {
	return nil
}

func testConfig() config.SandboxConfig {
	cfg, err := config.Load("", &config.Overrides{})
	if err != nil {
		panic(err)
	}
	cfg.Pool.MaxTotal = 2
	cfg.Pool.MinWarm = 0
	cfg.HealthCheck.IntervalMs = 3_600_000 // tests drive ticks manually
	return cfg
}
