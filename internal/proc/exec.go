package proc

import (
	"errors"
	"io"
	"io/fs"
	"os/exec"
)

// ExecController spawns real OS processes via os/exec
type ExecController struct{}

// NewExecController creates the default process controller
func NewExecController() *ExecController {
	return &ExecController{}
}

// Spawn starts the executable with piped stdout/stderr. It fails with
// ErrBinaryNotFound when the path does not resolve and with *SpawnError for
// any other OS-level start failure; in both cases no process is running.
func (c *ExecController) Spawn(path string, args []string, env []string) (Handle, error) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, ErrBinaryNotFound
	}

	cmd := exec.Command(resolved, args...)
	if len(env) > 0 {
		cmd.Env = env
	}
	setProcAttrs(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Err: err}
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrBinaryNotFound
		}
		return nil, &SpawnError{Err: err}
	}

	return &execHandle{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type execHandle struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (h *execHandle) Stdout() io.Reader {
	return h.stdout
}

func (h *execHandle) Stderr() io.Reader {
	return h.stderr
}

// Signal delivers the platform-specific termination request
func (h *execHandle) Signal(mode SignalMode) error {
	return signalProcess(h.cmd, mode)
}

// Wait blocks until exit. Nonzero exit codes are returned as values, not
// errors, so the runner can distinguish tool failure from wait failure.
func (h *execHandle) Wait() (int, error) {
	err := h.cmd.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
