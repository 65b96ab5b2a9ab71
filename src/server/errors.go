package server

import (
	"errors"
	"fmt"
)

var (
	// ErrExecutableNotSet means no server executable path is configured.
	ErrExecutableNotSet = errors.New("server executable not set")

	// ErrMissingExecutable means the configured executable does not exist.
	ErrMissingExecutable = errors.New("server executable does not exist")

	// ErrDisposed is returned by calls on a disposed server.
	ErrDisposed = errors.New("server disposed")

	// ErrNotReady is returned by calls issued before the connection is up.
	ErrNotReady = errors.New("server not ready")

	// ErrNoPort means the process ended or timed out before announcing its port.
	ErrNoPort = errors.New("server did not announce a port")
)

// StartError wraps every failure of Start with the workspace it was for.
type StartError struct {
	Workspace string
	Err       error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start reference server for %s: %v", e.Workspace, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}
