//go:build !windows

package update

import (
	"os/exec"
	"path/filepath"
	"syscall"
)

// launchDetached starts path in a new session and releases it. The caller
// keeps no handle and never learns the exit code.
func launchDetached(path string, args []string) error {
	cmd := exec.Command(path, args...)
	cmd.Dir = filepath.Dir(path)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
