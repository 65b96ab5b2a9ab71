//go:build !windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"unity-references/src/internal/common"
)

func configureSysProcAttr(cmd *exec.Cmd) {}

// terminate sends SIGTERM and escalates to SIGKILL after timeout.
func terminate(info *ProcessInfo, timeout time.Duration) error {
	if err := info.Cmd.Process.Signal(syscall.SIGTERM); err != nil && !isProcessGone(err) {
		common.ServerLogger.Debug("Failed to signal server %s: %v", info.Name, err)
	}

	select {
	case <-info.done:
		return nil
	case <-time.After(timeout):
	}

	common.ServerLogger.Debug("Server %s did not exit within %v, force killing", info.Name, timeout)
	if err := info.Cmd.Process.Kill(); err != nil && !isProcessGone(err) {
		return err
	}
	<-info.done
	return nil
}

func isProcessGone(err error) bool {
	if errors.Is(err, os.ErrProcessDone) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.ESRCH || errno == syscall.ECHILD
	}
	return false
}
