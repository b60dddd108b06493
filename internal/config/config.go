// Package config implements the sandbox pool's configuration loader (C1):
// a pure function merging built-in defaults, an optional YAML override
// file, environment variables, and caller overrides into one immutable
// SandboxConfig. Precedence follows open-lambda's common/config.go layering,
// generalized to the env-var-first scheme this pool uses.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// PoolConfig bounds the warm pool and the idle-TTL reaper.
type PoolConfig struct {
	MinWarm   int `yaml:"min_warm"`
	MaxTotal  int `yaml:"max_total"`
	MaxIdleMs int `yaml:"max_idle_ms"`
}

// ResourceLimits are applied per-container via the engine's cgroup backing.
type ResourceLimits struct {
	MemoryBytes int64 `yaml:"memory_bytes"`
	NanoCPUs    int64 `yaml:"nano_cpus"`
	PidsLimit   int64 `yaml:"pids_limit"`
}

// HealthCheckConfig governs the liveness-probe loop.
type HealthCheckConfig struct {
	IntervalMs  int `yaml:"interval_ms"`
	MaxFailures int `yaml:"max_failures"`
}

// Timeouts bounds blocking operations against the container engine.
type Timeouts struct {
	ExecMs          int `yaml:"exec_ms"`
	InitMs          int `yaml:"init_ms"`
	ShutdownGraceMs int `yaml:"shutdown_grace_ms"`
}

// SandboxConfig is the immutable configuration resolved at manager
// construction. Once loaded it is never mutated; callers that want a
// different configuration construct a new manager.
type SandboxConfig struct {
	Image          string            `yaml:"image"`
	Pool           PoolConfig        `yaml:"pool"`
	ResourceLimits ResourceLimits    `yaml:"resource_limits"`
	HealthCheck    HealthCheckConfig `yaml:"health_check"`
	Timeouts       Timeouts          `yaml:"timeouts"`
}

// Overrides carries caller-supplied values; a zero value for any field
// means "not overridden" and defers to the next precedence layer. Pointers
// distinguish "not set" from "explicitly set to zero".
type Overrides struct {
	Image          *string
	MinWarm        *int
	MaxTotal       *int
	MaxIdleMs      *int
	MemoryBytes    *int64
}

func defaults() SandboxConfig {
	return SandboxConfig{
		Image: "ubuntu:22.04",
		Pool: PoolConfig{
			MinWarm:   0,
			MaxTotal:  5,
			MaxIdleMs: 300_000,
		},
		ResourceLimits: ResourceLimits{
			MemoryBytes: 536_870_912,
			NanoCPUs:    1_000_000_000,
			PidsLimit:   256,
		},
		HealthCheck: HealthCheckConfig{
			IntervalMs:  30_000,
			MaxFailures: 3,
		},
		Timeouts: Timeouts{
			ExecMs:          60_000,
			InitMs:          120_000,
			ShutdownGraceMs: 10_000,
		},
	}
}

// fileLayer reads a YAML file into a SandboxConfig holding only the file's
// own values; applyFileLayer then layers its non-zero fields on top of the
// built-in defaults, under caller overrides and environment variables.
// A missing file is not an error: it simply contributes nothing.
func fileLayer(path string) (SandboxConfig, error) {
	cfg := SandboxConfig{}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func mergeNonZeroString(base *string, layer string) {
	if layer != "" {
		*base = layer
	}
}

func mergeNonZeroInt(base *int, layer int) {
	if layer != 0 {
		*base = layer
	}
}

func mergeNonZeroInt64(base *int64, layer int64) {
	if layer != 0 {
		*base = layer
	}
}

func applyFileLayer(cfg *SandboxConfig, file SandboxConfig) {
	mergeNonZeroString(&cfg.Image, file.Image)
	mergeNonZeroInt(&cfg.Pool.MinWarm, file.Pool.MinWarm)
	mergeNonZeroInt(&cfg.Pool.MaxTotal, file.Pool.MaxTotal)
	mergeNonZeroInt(&cfg.Pool.MaxIdleMs, file.Pool.MaxIdleMs)
	mergeNonZeroInt64(&cfg.ResourceLimits.MemoryBytes, file.ResourceLimits.MemoryBytes)
	mergeNonZeroInt64(&cfg.ResourceLimits.NanoCPUs, file.ResourceLimits.NanoCPUs)
	mergeNonZeroInt64(&cfg.ResourceLimits.PidsLimit, file.ResourceLimits.PidsLimit)
	mergeNonZeroInt(&cfg.HealthCheck.IntervalMs, file.HealthCheck.IntervalMs)
	mergeNonZeroInt(&cfg.HealthCheck.MaxFailures, file.HealthCheck.MaxFailures)
	mergeNonZeroInt(&cfg.Timeouts.ExecMs, file.Timeouts.ExecMs)
	mergeNonZeroInt(&cfg.Timeouts.InitMs, file.Timeouts.InitMs)
	mergeNonZeroInt(&cfg.Timeouts.ShutdownGraceMs, file.Timeouts.ShutdownGraceMs)
}

// envInt parses the named environment variable as an int. Per spec, a
// parse failure must not abort startup — it just falls through, leaving
// the value already resolved by the prior layer untouched.
func envInt(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}

func envInt64(name string, dst *int64) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return
	}
	*dst = n
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

// Load resolves a SandboxConfig following the precedence chain (lowest to
// highest): built-in default -> YAML override file (if yamlPath is
// non-empty and exists) -> caller override -> environment variable.
// overrides may be nil.
func Load(yamlPath string, overrides *Overrides) (SandboxConfig, error) {
	cfg := defaults()

	if yamlPath != "" {
		file, err := fileLayer(yamlPath)
		if err != nil {
			return cfg, err
		}
		applyFileLayer(&cfg, file)
	}

	if overrides != nil {
		if overrides.Image != nil {
			cfg.Image = *overrides.Image
		}
		if overrides.MinWarm != nil {
			cfg.Pool.MinWarm = *overrides.MinWarm
		}
		if overrides.MaxTotal != nil {
			cfg.Pool.MaxTotal = *overrides.MaxTotal
		}
		if overrides.MaxIdleMs != nil {
			cfg.Pool.MaxIdleMs = *overrides.MaxIdleMs
		}
		if overrides.MemoryBytes != nil {
			cfg.ResourceLimits.MemoryBytes = *overrides.MemoryBytes
		}
	}

	// Environment variables are applied last: spec.md ranks them above
	// caller overrides, so a set env var must win even if a caller also
	// passed an explicit override for the same field.
	envString("SANDBOX_IMAGE", &cfg.Image)
	envInt("SANDBOX_POOL_MIN_WARM", &cfg.Pool.MinWarm)
	envInt("SANDBOX_POOL_MAX_TOTAL", &cfg.Pool.MaxTotal)
	envInt("SANDBOX_POOL_MAX_IDLE_MS", &cfg.Pool.MaxIdleMs)
	envInt64("SANDBOX_MEMORY_BYTES", &cfg.ResourceLimits.MemoryBytes)

	return cfg, validate(cfg)
}

func validate(cfg SandboxConfig) error {
	if cfg.Pool.MinWarm < 0 || cfg.Pool.MinWarm > cfg.Pool.MaxTotal {
		return &InvalidConfigError{Reason: "0 <= pool.min_warm <= pool.max_total must hold"}
	}
	if cfg.Pool.MaxIdleMs <= 0 {
		return &InvalidConfigError{Reason: "pool.max_idle_ms must be positive"}
	}
	if cfg.ResourceLimits.MemoryBytes <= 0 || cfg.ResourceLimits.NanoCPUs <= 0 || cfg.ResourceLimits.PidsLimit <= 0 {
		return &InvalidConfigError{Reason: "resource_limits fields must be positive"}
	}
	if cfg.HealthCheck.IntervalMs <= 0 || cfg.HealthCheck.MaxFailures <= 0 {
		return &InvalidConfigError{Reason: "health_check fields must be positive"}
	}
	if cfg.Timeouts.ExecMs <= 0 || cfg.Timeouts.InitMs <= 0 || cfg.Timeouts.ShutdownGraceMs <= 0 {
		return &InvalidConfigError{Reason: "timeouts fields must be positive"}
	}
	return nil
}

// InvalidConfigError reports a SandboxConfig that violates one of the
// invariants in spec.md's data model section.
type InvalidConfigError struct {
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return "invalid sandbox config: " + e.Reason
}

// ExecTimeout returns Timeouts.ExecMs as a time.Duration, for callers that
// want to hand it straight to a context deadline.
func (c SandboxConfig) ExecTimeout() time.Duration {
	return time.Duration(c.Timeouts.ExecMs) * time.Millisecond
}

// InitTimeout returns Timeouts.InitMs as a time.Duration.
func (c SandboxConfig) InitTimeout() time.Duration {
	return time.Duration(c.Timeouts.InitMs) * time.Millisecond
}

// ShutdownGrace returns Timeouts.ShutdownGraceMs as a time.Duration.
func (c SandboxConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.Timeouts.ShutdownGraceMs) * time.Millisecond
}

// HealthInterval returns HealthCheck.IntervalMs as a time.Duration.
func (c SandboxConfig) HealthInterval() time.Duration {
	return time.Duration(c.HealthCheck.IntervalMs) * time.Millisecond
}

// MaxIdle returns Pool.MaxIdleMs as a time.Duration.
func (c SandboxConfig) MaxIdle() time.Duration {
	return time.Duration(c.Pool.MaxIdleMs) * time.Millisecond
}
