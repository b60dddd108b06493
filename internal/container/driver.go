// Package container is the narrow adapter over the external container
// engine (C3). It knows nothing about pools, health checks, or lifecycle
// states — only how to ensure an image, create/start/stop/remove a
// container, run a command inside one, and write a file into one. It is
// grounded on open-lambda's sandbox/docker.go, dockerPool.go, and
// dockerutil.go, generalized from "one lambda handler per container" to
// "one short-lived shell/Python session per container".
package container

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	docker "github.com/fsouza/go-dockerclient"

	"github.com/dataanalyst/sandboxpool/internal/config"
	"github.com/dataanalyst/sandboxpool/internal/logging"
)

var safePathRe = regexp.MustCompile(`^[A-Za-z0-9/_.\-]+$`)

// Ref is the opaque handle C4 carries around for a sandbox's underlying
// container. Callers outside this package never reach into its fields.
type Ref struct {
	dockerID string
	name     string
}

func (r Ref) String() string { return r.name }

// ExecResult is the trimmed stdout/stderr/exit-code triple returned by
// ExecInContainer, matching spec.md's data model.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Driver wraps a *docker.Client with the operations C4 needs. It holds no
// pool state of its own; TrackedSandbox bookkeeping lives entirely in the
// manager package.
type Driver struct {
	client       *docker.Client
	semanticHost string // host path bound read-only into every container at /app/semantic
	log          *slog.Logger
}

// NewDriver constructs a Driver talking to the container engine over its
// local control socket (DOCKER_HOST / the platform default, exactly as
// docker.NewClientFromEnv resolves it).
func NewDriver() (*Driver, error) {
	client, err := docker.NewClientFromEnv()
	if err != nil {
		return nil, fmt.Errorf("container: connect to engine: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("container: resolve cwd: %w", err)
	}
	return &Driver{
		client:       client,
		semanticHost: filepath.Join(cwd, "src", "semantic"),
		log:          logging.For("container"),
	}, nil
}

// Ping checks the engine is reachable, used by the manager at initialize()
// to fail fast with SandboxUnavailable rather than timing out on the first
// container create.
func (d *Driver) Ping(ctx context.Context) error {
	if err := d.client.PingWithContext(ctx); err != nil {
		return fmt.Errorf("container: engine ping failed: %w", err)
	}
	return nil
}

// EnsureImage pulls the image if it isn't already present locally,
// blocking until the pull stream reports completion.
func (d *Driver) EnsureImage(ctx context.Context, image string) error {
	_, err := d.client.InspectImage(image)
	if err == nil {
		return nil
	}
	if err != docker.ErrNoSuchImage {
		return fmt.Errorf("container: inspect image %s: %w", image, err)
	}

	d.log.Info("pulling image", "image", image)
	repo, tag := splitImageRef(image)
	return d.client.PullImage(docker.PullImageOptions{
		Repository:   repo,
		Tag:          tag,
		Context:      ctx,
		OutputStream: io.Discard,
	}, docker.AuthConfiguration{})
}

func splitImageRef(image string) (repo, tag string) {
	if i := strings.LastIndex(image, ":"); i > strings.LastIndex(image, "/") {
		return image[:i], image[i+1:]
	}
	return image, "latest"
}

// CreateContainer creates (but does not start) a container named
// sandbox-<id> with the resource limits, security flags, and mounts
// spec.md §4.3 requires.
func (d *Driver) CreateContainer(ctx context.Context, cfg config.SandboxConfig, id string) (Ref, error) {
	name := "sandbox-" + id

	hostConfig := &docker.HostConfig{
		Memory:     cfg.ResourceLimits.MemoryBytes,
		NanoCPUs:   cfg.ResourceLimits.NanoCPUs,
		PidsLimit:  &cfg.ResourceLimits.PidsLimit,
		SecurityOpt: []string{"no-new-privileges"},
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=67108864",
		},
		Binds: []string{
			fmt.Sprintf("%s:/app/semantic:ro", d.semanticHost),
		},
	}

	c, err := d.client.CreateContainer(docker.CreateContainerOptions{
		Name: name,
		Config: &docker.Config{
			Image:      cfg.Image,
			Cmd:        []string{"sleep", "infinity"},
			WorkingDir: "/app",
		},
		HostConfig: hostConfig,
		Context:    ctx,
	})
	if err != nil {
		return Ref{}, fmt.Errorf("container: create %s: %w", name, err)
	}

	return Ref{dockerID: c.ID, name: name}, nil
}

// StartContainer starts a previously created container.
func (d *Driver) StartContainer(ctx context.Context, ref Ref) error {
	if err := d.client.StartContainerWithContext(ref.dockerID, nil, ctx); err != nil {
		return fmt.Errorf("container: start %s: %w", ref, err)
	}
	return nil
}

// StopContainer requests a graceful stop; a container that is already
// stopped is treated as success.
func (d *Driver) StopContainer(ctx context.Context, ref Ref, graceSec uint) error {
	err := d.client.StopContainerWithContext(ref.dockerID, graceSec, ctx)
	if err == nil || isAlreadyStopped(err) {
		return nil
	}
	return fmt.Errorf("container: stop %s: %w", ref, err)
}

// RemoveContainer force-removes a container; one that is already gone is
// treated as success.
func (d *Driver) RemoveContainer(ctx context.Context, ref Ref) error {
	err := d.client.RemoveContainer(docker.RemoveContainerOptions{
		ID:      ref.dockerID,
		Force:   true,
		Context: ctx,
	})
	if err == nil || isNoSuchContainer(err) {
		return nil
	}
	return fmt.Errorf("container: remove %s: %w", ref, err)
}

func isNoSuchContainer(err error) bool {
	_, ok := err.(*docker.NoSuchContainer)
	return ok
}

func isAlreadyStopped(err error) bool {
	if isNoSuchContainer(err) {
		return true
	}
	if _, ok := err.(*docker.ContainerNotRunning); ok {
		return true
	}
	return strings.Contains(err.Error(), "is not running")
}

// IsContainerRunning inspects the container; any inspection error is
// treated as "not running" per spec.
func (d *Driver) IsContainerRunning(ctx context.Context, ref Ref) bool {
	c, err := d.client.InspectContainerWithContext(ref.dockerID, ctx)
	if err != nil {
		return false
	}
	return c.State.Running
}

// ExecInContainer runs cmd under /bin/bash -lc inside the container,
// demultiplexing the engine's framed stdout/stderr stream itself (see
// stream.go) rather than relying on the client library's own splitting.
// If timeout is non-zero and elapses first, the stream is torn down and
// ExecInContainer returns a *TimeoutError.
func (d *Driver) ExecInContainer(ctx context.Context, ref Ref, cmd string, timeout time.Duration) (ExecResult, error) {
	exec, err := d.client.CreateExec(docker.CreateExecOptions{
		Container:    ref.dockerID,
		Cmd:          []string{"/bin/bash", "-lc", cmd},
		AttachStdout: true,
		AttachStderr: true,
		Context:      ctx,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("container: create exec on %s: %w", ref, err)
	}

	pr, pw := io.Pipe()

	type runOutcome struct {
		err error
	}
	done := make(chan runOutcome, 1)

	go func() {
		// RawTerminal tells the client library not to demux the
		// stream itself; we get the raw framed bytes and parse them
		// in demux() below, exactly as the wire protocol is laid out.
		startErr := d.client.StartExec(exec.ID, docker.StartExecOptions{
			OutputStream: pw,
			RawTerminal:  true,
			Context:      ctx,
		})
		pw.CloseWithError(startErr)
		done <- runOutcome{err: startErr}
	}()

	var stdout, stderr bytes.Buffer
	demuxErr := make(chan error, 1)
	go func() {
		demuxErr <- demux(pr, &stdout, &stderr)
	}()

	var settled sync.Once
	settledCh := make(chan struct{})
	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() {
			settled.Do(func() {
				pr.Close()
				pw.Close()
				close(settledCh)
			})
		})
	}

	select {
	case outcome := <-done:
		if timer != nil {
			timer.Stop()
		}
		settled.Do(func() { close(settledCh) })
		if outcome.err != nil {
			return ExecResult{}, fmt.Errorf("container: exec on %s: %w", ref, outcome.err)
		}
	case <-settledCh:
		return ExecResult{}, &TimeoutError{Op: "exec", TimeoutMs: int(timeout / time.Millisecond)}
	}

	<-demuxErr // StartExec returned, so the pipe is closed and demux has finished or will finish immediately

	inspect, err := d.client.InspectExec(exec.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("container: inspect exec on %s: %w", ref, err)
	}

	return ExecResult{
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		ExitCode: inspect.ExitCode,
	}, nil
}

// WriteToContainer base64-encodes data and pipes it through `base64 -d`
// into path inside the container. path must match the safe-path pattern;
// unsafe paths fail fast without ever reaching the container.
func (d *Driver) WriteToContainer(ctx context.Context, ref Ref, path string, data []byte) error {
	if !safePathRe.MatchString(path) {
		return &UnsafePathError{Path: path}
	}

	encoded := b64Encode(data)
	cmd := fmt.Sprintf("echo '%s' | base64 -d > %s", encoded, path)

	res, err := d.ExecInContainer(ctx, ref, cmd, 30*time.Second)
	if err != nil {
		return fmt.Errorf("container: write %s on %s: %w", path, ref, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("container: write %s on %s: exit %d: %s", path, ref, res.ExitCode, res.Stderr)
	}
	return nil
}

func b64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// InitContainerPython installs the base data-science stack the first time
// a sandbox is created. If python3 already works (a pre-baked image), the
// install is skipped entirely, per spec.md §9's bootstrap-coupling note.
func (d *Driver) InitContainerPython(ctx context.Context, ref Ref, timeout time.Duration) error {
	precheck, err := d.ExecInContainer(ctx, ref, "python3 --version", 10*time.Second)
	if err == nil && precheck.ExitCode == 0 {
		return nil
	}

	cmd := "apt-get update && apt-get install -y python3-pip python3-dev && pip3 install pandas numpy scipy"
	res, err := d.ExecInContainer(ctx, ref, cmd, timeout)
	if err != nil {
		return fmt.Errorf("container: python bootstrap on %s: %w", ref, err)
	}
	if res.ExitCode != 0 {
		return &PythonSetupFailedError{Stderr: res.Stderr}
	}
	return nil
}
