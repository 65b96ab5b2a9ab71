package workspace

import (
	"context"
	"path/filepath"
	"time"

	"unity-references/src/internal/common"
	"unity-references/src/server"
)

// Server is the part of a reference server the registry and its callers use.
type Server interface {
	Status(ctx context.Context) (server.Status, error)
	Method(ctx context.Context, query server.MethodQuery) ([]server.Reference, error)
	Done() <-chan struct{}
	Dispose() error
}

// Launcher starts the server for a workspace. onExit must be called with the
// returned server if it later exits without being disposed.
type Launcher interface {
	Launch(ctx context.Context, folder Folder, onExit func(Server)) (Server, error)
}

// ExecutableResolver returns the server executable to run. It may install the
// server first.
type ExecutableResolver func(ctx context.Context) (string, error)

// ServerLauncher starts real reference server processes.
type ServerLauncher struct {
	ResolveExecutable ExecutableResolver
	LogDir            string // per-workspace log files; empty logs nowhere

	StartTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

// Launch implements Launcher.
func (l *ServerLauncher) Launch(ctx context.Context, folder Folder, onExit func(Server)) (Server, error) {
	executable := ""
	if l.ResolveExecutable != nil {
		exe, err := l.ResolveExecutable(ctx)
		if err != nil {
			return nil, err
		}
		executable = exe
	}

	var sink *common.LogSink
	if l.LogDir != "" {
		s, err := common.OpenLogSink(l.LogDir, folder.Name)
		if err != nil {
			common.WorkspaceLogger.Warn("Server logs for %s will be discarded: %v", folder.Name, err)
		} else {
			sink = s
			common.WorkspaceLogger.Debug("Server logs for %s go to %s", folder.Name,
				filepath.Join(l.LogDir, common.SanitizeFileName(folder.Name)+".log"))
		}
	}

	srv, err := server.Start(ctx, server.Options{
		Executable:      executable,
		WorkspaceRoot:   folder.Path(),
		WorkspaceName:   folder.Name,
		Sink:            sink,
		StartTimeout:    l.StartTimeout,
		ShutdownTimeout: l.ShutdownTimeout,
		RequestTimeout:  l.RequestTimeout,
		OnExit: func(exited *server.Server, _ error) {
			if onExit != nil {
				onExit(exited)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return srv, nil
}
