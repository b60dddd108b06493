package manager

import (
	"context"
	"time"

	"github.com/dataanalyst/sandboxpool/internal/container"
	"github.com/dataanalyst/sandboxpool/internal/state"
)

// Handle is the capability a caller actually holds after Acquire. It
// carries no container reference of its own — every call goes back
// through the Manager and looks the id up afresh, so once the sandbox has
// been destroyed State, Exec, ExecWithTimeout and WriteFile fail with
// *NotFoundError. Release does not invalidate a handle: until the sandbox
// is destroyed, calls through it still reach the same container.
type Handle struct {
	manager *Manager
	id      string
}

// ID returns the tracked sandbox's identifier.
func (h *Handle) ID() string { return h.id }

func (h *Handle) lookup() (*TrackedSandbox, error) {
	h.manager.mu.Lock()
	defer h.manager.mu.Unlock()
	t, ok := h.manager.sandboxes[h.id]
	if !ok {
		return nil, &NotFoundError{ID: h.id}
	}
	return t, nil
}

// State returns the sandbox's current lifecycle state.
func (h *Handle) State() (state.State, error) {
	t, err := h.lookup()
	if err != nil {
		return 0, err
	}
	return t.State, nil
}

// Exec runs cmd inside the sandbox's container, applying the manager's
// configured timeouts.execMs per spec.md §4.4's exec(cmd) contract.
func (h *Handle) Exec(ctx context.Context, cmd string) (container.ExecResult, error) {
	return h.ExecWithTimeout(ctx, cmd, h.manager.cfg.ExecTimeout())
}

// ExecWithTimeout runs cmd with an explicit timeout instead of the
// manager's configured default, for callers that need a shorter or
// longer bound than timeouts.execMs.
func (h *Handle) ExecWithTimeout(ctx context.Context, cmd string, timeout time.Duration) (container.ExecResult, error) {
	t, err := h.lookup()
	if err != nil {
		return container.ExecResult{}, err
	}
	return h.manager.engine.ExecInContainer(ctx, t.Container, cmd, timeout)
}

// WriteFile writes data to path inside the sandbox's container.
func (h *Handle) WriteFile(ctx context.Context, path string, data []byte) error {
	t, err := h.lookup()
	if err != nil {
		return err
	}
	return h.manager.engine.WriteToContainer(ctx, t.Container, path, data)
}

// Release hands the sandbox back to the manager (see Manager.Release): it
// goes back on the ready queue only while the pool's Ready count is below
// minWarm; otherwise it stays Idle until resumed by its session or reaped.
func (h *Handle) Release() error {
	return h.manager.Release(h.id)
}

// Destroy tears the sandbox down immediately instead of returning it to
// the pool, e.g. after a session decides its container is unusable.
func (h *Handle) Destroy(ctx context.Context) {
	h.manager.destroy(ctx, h.id, "caller-requested")
}
