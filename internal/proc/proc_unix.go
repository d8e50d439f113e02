//go:build !windows

package proc

import (
	"os/exec"
	"syscall"
)

// setProcAttrs places the child in its own process group so termination
// signals reach the whole tree (yt-dlp forks ffmpeg for merging).
func setProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalProcess sends SIGTERM for graceful shutdown and SIGKILL for force.
// Signals target the negative pgid to cover the full child tree.
func signalProcess(cmd *exec.Cmd, mode SignalMode) error {
	if cmd.Process == nil {
		return nil
	}

	sig := syscall.SIGTERM
	if mode == SignalForce {
		sig = syscall.SIGKILL
	}

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err == nil && pgid == cmd.Process.Pid {
		return syscall.Kill(-pgid, sig)
	}
	return cmd.Process.Signal(sig)
}
