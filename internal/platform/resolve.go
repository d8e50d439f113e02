package platform

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
)

// Executable defaults
const (
	DefaultExecutableName = "yt-dlp"
	DefaultDirPermissions = 0o755
)

// ErrExecutableNotFound is returned when no downloader binary can be located
var ErrExecutableNotFound = errors.New("downloader executable not found")

// ResolveExecutablePath locates the downloader binary. An explicit override
// wins; otherwise the default name is looked up on PATH.
func ResolveExecutablePath(override string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err == nil {
			return override, nil
		}
		if path, err := exec.LookPath(override); err == nil {
			return path, nil
		}
		return "", ErrExecutableNotFound
	}

	path, err := exec.LookPath(DefaultExecutableName)
	if err != nil {
		return "", ErrExecutableNotFound
	}
	return path, nil
}

// BuildDownloadArgs assembles the downloader command line for one job.
// --newline forces line-buffered progress output the parser can consume.
func BuildDownloadArgs(targetID, workDir, username, secret string) []string {
	args := []string{
		"--newline",
		"--no-playlist",
		"--restrict-filenames",
		"-o", filepath.Join(workDir, "%(title)s.%(ext)s"),
	}
	if username != "" {
		args = append(args, "--username", username, "--password", secret)
	}
	return append(args, targetID)
}

// EnsureDir creates the directory if it does not exist
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, DefaultDirPermissions)
	}
	return nil
}

// DefaultSaveRoot returns the user's Downloads directory, falling back to a
// temp location when the home directory cannot be determined.
func DefaultSaveRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "downloads")
	}
	return filepath.Join(home, "Downloads")
}
