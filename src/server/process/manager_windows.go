//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"unity-references/src/internal/common"
)

func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// terminate kills immediately; Windows has no signal another process can
// catch for a graceful exit.
func terminate(info *ProcessInfo, timeout time.Duration) error {
	if err := info.Cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		common.ServerLogger.Debug("Process kill for %s returned: %v", info.Name, err)
	}

	select {
	case <-info.done:
	case <-time.After(timeout):
		common.ServerLogger.Debug("Server %s process did not terminate after kill", info.Name)
	}
	return nil
}
