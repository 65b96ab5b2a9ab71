// Package process spawns reference server subprocesses and turns their
// output streams into lines and log records.
package process

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"unity-references/src/internal/common"
	"unity-references/src/internal/constants"
)

// DefaultShutdownTimeout is how long a terminated server gets before it is
// killed.
const DefaultShutdownTimeout = constants.ProcessShutdownTimeout

// outputDrainDelay bounds how long Wait keeps copying output after exit.
const outputDrainDelay = constants.OutputDrainDelay

// Config describes a server process to start.
type Config struct {
	Command string
	Args    []string
	Dir     string
	Name    string // used in log messages

	// Stdout and Stderr receive the process output. They are written from
	// separate goroutines.
	Stdout io.Writer
	Stderr io.Writer

	// OnExit is called once after the process has exited and its output has
	// been drained.
	OnExit func(err error)
}

// ProcessInfo holds information about a running server process
type ProcessInfo struct {
	Cmd  *exec.Cmd
	Name string

	done            chan struct{}
	exitErr         error
	intentionalStop atomic.Bool
	stopOnce        sync.Once
}

// Done is closed once the process has exited.
func (info *ProcessInfo) Done() <-chan struct{} {
	return info.done
}

// Exited reports whether the process has exited.
func (info *ProcessInfo) Exited() bool {
	select {
	case <-info.done:
		return true
	default:
		return false
	}
}

// ExitErr is the result of Wait. Only meaningful after Done is closed.
func (info *ProcessInfo) ExitErr() error {
	<-info.done
	return info.exitErr
}

// IntentionalStop reports whether StopProcess was called.
func (info *ProcessInfo) IntentionalStop() bool {
	return info.intentionalStop.Load()
}

// ProcessManager interface for server process lifecycle management
type ProcessManager interface {
	StartProcess(config Config) (*ProcessInfo, error)
	StopProcess(info *ProcessInfo, timeout time.Duration) error
}

// ServerProcessManager implements ProcessManager with os/exec.
type ServerProcessManager struct{}

// NewServerProcessManager creates a new process manager
func NewServerProcessManager() *ServerProcessManager {
	return &ServerProcessManager{}
}

// StartProcess starts the process and a goroutine that waits for it.
func (pm *ServerProcessManager) StartProcess(config Config) (*ProcessInfo, error) {
	cmd := exec.Command(config.Command, config.Args...)
	cmd.Dir = config.Dir
	cmd.Stdout = config.Stdout
	cmd.Stderr = config.Stderr
	cmd.WaitDelay = outputDrainDelay
	configureSysProcAttr(cmd)

	info := &ProcessInfo{
		Cmd:  cmd,
		Name: config.Name,
		done: make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start server process: %w", err)
	}

	common.ServerLogger.Info("Started server process for %s: PID %d", config.Name, cmd.Process.Pid)
	go pm.monitorProcess(info, config.OnExit)
	return info, nil
}

// monitorProcess waits for the process and reports how it ended.
func (pm *ServerProcessManager) monitorProcess(info *ProcessInfo, onExit func(error)) {
	err := info.Cmd.Wait()
	info.exitErr = err

	switch {
	case info.IntentionalStop():
		common.ServerLogger.Debug("Server %s stopped: %v", info.Name, describeExit(info.Cmd, err))
	case err != nil:
		common.ServerLogger.Warn("Server %s exited unexpectedly: %v", info.Name, describeExit(info.Cmd, err))
	default:
		common.ServerLogger.Info("Server %s exited: %v", info.Name, describeExit(info.Cmd, err))
	}

	close(info.done)

	if onExit != nil {
		onExit(err)
	}
}

// StopProcess ends the process and waits for it to exit. Calling it again, or
// after the process already exited, is a no-op.
func (pm *ServerProcessManager) StopProcess(info *ProcessInfo, timeout time.Duration) error {
	if info == nil || info.Cmd == nil || info.Cmd.Process == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	var err error
	info.stopOnce.Do(func() {
		info.intentionalStop.Store(true)
		if info.Exited() {
			return
		}
		err = terminate(info, timeout)
	})
	return err
}

func describeExit(cmd *exec.Cmd, err error) string {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.String()
	}
	if err != nil {
		return err.Error()
	}
	return "unknown exit status"
}
