//go:build windows

package proc

import (
	"os/exec"
)

// setProcAttrs is a no-op on Windows
func setProcAttrs(cmd *exec.Cmd) {}

// signalProcess kills the process for both modes: Windows has no cooperative
// termination signal that console tools reliably handle.
func signalProcess(cmd *exec.Cmd, mode SignalMode) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
