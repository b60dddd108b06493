package container

import "fmt"

// TimeoutError reports that a blocking container-engine call (currently
// only exec) exceeded its deadline. The sandbox itself remains usable; a
// subsequent health probe is what decides whether it gets quarantined.
type TimeoutError struct {
	Op        string
	TimeoutMs int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("sandbox timeout: %s exceeded %dms", e.Op, e.TimeoutMs)
}

// PythonSetupFailedError reports a non-zero exit from the first-time
// package bootstrap.
type PythonSetupFailedError struct {
	Stderr string
}

func (e *PythonSetupFailedError) Error() string {
	return fmt.Sprintf("python bootstrap failed: %s", e.Stderr)
}

// UnsafePathError reports a write-file path outside the allowed character
// set, rejected before ever reaching the container.
type UnsafePathError struct {
	Path string
}

func (e *UnsafePathError) Error() string {
	return fmt.Sprintf("unsafe path rejected: %q", e.Path)
}
