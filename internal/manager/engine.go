package manager

import (
	"context"
	"time"

	"github.com/dataanalyst/sandboxpool/internal/config"
	"github.com/dataanalyst/sandboxpool/internal/container"
)

// Engine is the subset of the container driver (C3) the manager depends
// on. Defining it here — rather than importing *container.Driver directly
// — lets tests substitute a fake engine without touching a real container
// runtime, the same separation open-lambda draws between its SandboxPool
// interface and the concrete DockerPool.
type Engine interface {
	Ping(ctx context.Context) error
	EnsureImage(ctx context.Context, image string) error
	CreateContainer(ctx context.Context, cfg config.SandboxConfig, id string) (container.Ref, error)
	StartContainer(ctx context.Context, ref container.Ref) error
	StopContainer(ctx context.Context, ref container.Ref, graceSec uint) error
	RemoveContainer(ctx context.Context, ref container.Ref) error
	ExecInContainer(ctx context.Context, ref container.Ref, cmd string, timeout time.Duration) (container.ExecResult, error)
	WriteToContainer(ctx context.Context, ref container.Ref, path string, data []byte) error
	IsContainerRunning(ctx context.Context, ref container.Ref) bool
	InitContainerPython(ctx context.Context, ref container.Ref, timeout time.Duration) error
}
