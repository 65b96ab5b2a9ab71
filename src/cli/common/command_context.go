package common

import (
	"context"
	"fmt"
	"sync"
	"time"

	"unity-references/src/config"
	"unity-references/src/internal/common"
	"unity-references/src/internal/installer"
	"unity-references/src/internal/state"
	"unity-references/src/workspace"
)

// progressInterval throttles download progress logging.
const progressInterval = 2 * time.Second

// CommandContext encapsulates common CLI command lifecycle components
type CommandContext struct {
	Config  *config.Config
	Paths   config.Paths
	Context context.Context
	Cancel  context.CancelFunc

	updateMu sync.Mutex
	updated  bool
}

// NewCommandContext loads configuration and creates the command context. A
// zero timeout means the context only ends with Cleanup.
func NewCommandContext(configPath string, timeout time.Duration) (*CommandContext, error) {
	cfg, err := LoadConfigForCLI(configPath)
	if err != nil {
		return nil, err
	}

	paths, err := cfg.ResolvePaths()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}

	ctx, cancel := common.WithOptionalTimeout(context.Background(), timeout)
	return &CommandContext{
		Config:  cfg,
		Paths:   paths,
		Context: ctx,
		Cancel:  cancel,
	}, nil
}

// UpdateServer runs the update pipeline once against the state database. The
// database is only held open for the duration of the call so other
// invocations can use it.
func (c *CommandContext) UpdateServer(ctx context.Context, force bool) (installer.UpdateResult, error) {
	store, err := state.Open(c.Paths.StateFile)
	if err != nil {
		return installer.UpdateResult{}, err
	}
	defer func() { _ = store.Close() }()

	locator := installer.NewReleaseLocator(installer.LocatorOptions{FeedURL: c.Config.FeedURL()})
	inst := installer.NewInstaller(
		installer.NewFileDownloader(nil),
		installer.WithProgress(ProgressLogger(common.UpdateLogger, progressInterval)),
	)
	updater := installer.NewUpdater(store, locator, inst, c.Paths.InstallDir)

	return updater.EnsureLatest(ctx, force)
}

// ResolveExecutable returns the server to run. A custom server path is used
// as-is; otherwise the default installation is brought up to date first.
// Update failures are logged and the existing installation is used.
func (c *CommandContext) ResolveExecutable(ctx context.Context) (string, error) {
	custom, err := c.Config.ServerPath()
	if err != nil {
		return "", err
	}
	if custom != "" {
		return custom, nil
	}

	c.updateMu.Lock()
	defer c.updateMu.Unlock()
	if !c.updated {
		result, err := c.UpdateServer(ctx, false)
		if err != nil {
			common.UpdateLogger.Error("Could not update the reference server: %v", err)
		} else {
			c.updated = true
			logUpdateResult(result)
		}
	}
	return c.Paths.Executable, nil
}

func logUpdateResult(result installer.UpdateResult) {
	switch result.Action {
	case installer.ActionInstalled:
		common.UpdateLogger.Info("Successfully installed server version %s", result.Latest)
	case installer.ActionUpToDate:
		common.UpdateLogger.Debug("Server %s already up to date", result.Installed)
	case installer.ActionNoRelease:
		common.UpdateLogger.Warn("Could not fetch latest server release. Not updating.")
	}
}

// NewLauncher creates a launcher using the configured timeouts.
func (c *CommandContext) NewLauncher() *workspace.ServerLauncher {
	return &workspace.ServerLauncher{
		ResolveExecutable: c.ResolveExecutable,
		LogDir:            c.Paths.LogDir,
		StartTimeout:      c.Config.Server.StartTimeout,
		ShutdownTimeout:   c.Config.Server.ShutdownTimeout,
		RequestTimeout:    c.Config.Server.RequestTimeout,
	}
}

// NewRegistry creates a workspace registry backed by NewLauncher.
func (c *CommandContext) NewRegistry(watchProjects bool) (*workspace.Registry, error) {
	return workspace.NewRegistry(workspace.Options{
		Launcher:      c.NewLauncher(),
		WatchProjects: watchProjects,
	})
}

// Cleanup releases the context.
func (c *CommandContext) Cleanup() {
	if c.Cancel != nil {
		c.Cancel()
	}
}
