package proc

import (
	"errors"
	"fmt"
	"io"
)

// SignalMode selects how a running process is asked to terminate
type SignalMode int

const (
	// SignalGraceful sends the platform's cooperative termination signal
	SignalGraceful SignalMode = iota

	// SignalForce kills the process unconditionally
	SignalForce
)

// ErrBinaryNotFound is returned by Spawn when the executable path does not
// resolve to a runnable file
var ErrBinaryNotFound = errors.New("executable not found")

// SpawnError wraps an OS-level spawn failure (permissions, resource
// exhaustion) that is not a missing binary.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn failed: %v", e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Handle controls one spawned process. Stdout/Stderr are readable until the
// process exits; Wait must be called exactly once.
type Handle interface {
	// Stdout returns the process standard output stream
	Stdout() io.Reader

	// Stderr returns the process standard error stream
	Stderr() io.Reader

	// Signal delivers a termination request
	Signal(mode SignalMode) error

	// Wait blocks until the process exits and returns its exit code.
	// A nonzero exit code is not an error; err is set only when waiting
	// itself failed.
	Wait() (int, error)
}

// Controller spawns external executables. It exists as an interface so the
// runner can be tested against a fake process without touching the OS.
type Controller interface {
	Spawn(path string, args []string, env []string) (Handle, error)
}
