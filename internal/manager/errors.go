package manager

import "fmt"

// PoolExhaustedError reports that acquire() gave up after exhausting its
// retry budget with no sandbox becoming available, with the pool already
// at maxTotal.
type PoolExhaustedError struct {
	MaxTotal int
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("sandbox pool exhausted (maxTotal=%d)", e.MaxTotal)
}

// SandboxUnavailableError reports that the container engine itself could
// not be reached, or a fresh sandbox could not be brought up even after
// the one permitted retry.
type SandboxUnavailableError struct {
	Reason string
}

func (e *SandboxUnavailableError) Error() string {
	return fmt.Sprintf("sandbox unavailable: %s", e.Reason)
}

// NotFoundError reports a state, exec or write-file call through a Handle
// whose id the manager no longer tracks, e.g. after the sandbox was
// destroyed. Release and destroy of an unknown id are silent no-ops.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("sandbox not found: %s", e.ID)
}
