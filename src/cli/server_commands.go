package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.lsp.dev/uri"

	"unity-references/src/bridge"
	clicommon "unity-references/src/cli/common"
	"unity-references/src/internal/common"
	"unity-references/src/internal/installer"
	"unity-references/src/internal/project"
	"unity-references/src/internal/state"
	"unity-references/src/server"
	"unity-references/src/workspace"
)

// RunServe serves editor requests over stdio until the editor exits or a
// signal arrives.
func RunServe(configPath string, input io.Reader, output io.Writer) error {
	cmdCtx, err := clicommon.NewCommandContext(configPath, 0)
	if err != nil {
		return err
	}
	defer cmdCtx.Cleanup()

	registry, err := cmdCtx.NewRegistry(cmdCtx.Config.WatchProjects)
	if err != nil {
		return fmt.Errorf("failed to create workspace registry: %w", err)
	}
	defer func() { _ = registry.Close() }()

	common.CLILogger.Info("Serving Unity references over stdio (data dir %s)", cmdCtx.Paths.DataDir)

	done := make(chan error, 1)
	go func() {
		done <- bridge.New(registry).Run(input, output)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-done:
		return err
	case sig := <-sigChan:
		common.CLILogger.Info("Received %s, stopping servers", sig)
		return nil
	}
}

// StatusOptions selects what ShowStatus inspects.
type StatusOptions struct {
	CheckFeed bool
	Workspace string
}

// ShowStatus prints the installation state and, optionally, the latest
// release and the live status of one workspace.
func ShowStatus(out io.Writer, configPath string, opts StatusOptions) error {
	cmdCtx, err := clicommon.NewCommandContext(configPath, 0)
	if err != nil {
		return err
	}
	defer cmdCtx.Cleanup()

	report := StatusReport{DataDir: cmdCtx.Paths.DataDir}

	custom, err := cmdCtx.Config.ServerPath()
	if err != nil {
		return err
	}
	report.Executable = cmdCtx.Paths.Executable
	if custom != "" {
		report.Executable = custom
		report.Custom = true
	}
	report.ExecutableState = common.CheckPath(report.Executable).String()

	if tag, err := readInstalledTag(cmdCtx.Paths.StateFile); err != nil {
		common.CLILogger.Warn("Could not read installed version: %v", err)
	} else {
		report.InstalledTag = tag
	}

	if opts.CheckFeed {
		locator := installer.NewReleaseLocator(installer.LocatorOptions{FeedURL: cmdCtx.Config.FeedURL()})
		release, err := locator.Latest(cmdCtx.Context)
		switch {
		case err == nil:
			report.LatestTag = release.Tag
			report.LatestAsset = release.AssetName
		case errors.Is(err, installer.ErrNoRelease):
			report.LatestTag = "unavailable"
		default:
			return err
		}
	}

	if opts.Workspace != "" {
		ws, err := workspaceStatus(cmdCtx, opts.Workspace)
		if err != nil {
			return err
		}
		report.Workspace = ws
	}

	displayStatus(out, report)
	return nil
}

func readInstalledTag(stateFile string) (string, error) {
	if !common.FileExists(stateFile) {
		return "", nil
	}
	store, err := state.Open(stateFile)
	if err != nil {
		return "", err
	}
	defer func() { _ = store.Close() }()

	tag, err := store.Get(state.KeyServerTag)
	if errors.Is(err, state.ErrNoValue) {
		return "", nil
	}
	return tag, err
}

func workspaceStatus(cmdCtx *clicommon.CommandContext, dir string) (*WorkspaceReport, error) {
	folder, err := workspace.NewFolder(dir, "")
	if err != nil {
		return nil, err
	}
	report := &WorkspaceReport{Name: folder.Name, Path: folder.Path()}

	report.Unity = project.DetectUnityProject(folder.Path()).String()
	solution, err := project.FindSolutionFile(folder.Path())
	if err != nil {
		return nil, err
	}
	report.Solution = solution
	if report.Unity != common.PathExists.String() || solution == "" {
		return report, nil
	}

	registry, err := cmdCtx.NewRegistry(false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = registry.Close() }()

	if err := registry.Activate(cmdCtx.Context, folder); err != nil {
		report.Error = err.Error()
		return report, nil
	}
	for _, entry := range registry.Entries() {
		report.Projects = len(entry.Index.Projects)
		report.Files = entry.Index.FileCount()
		status, err := entry.Server.Status(cmdCtx.Context)
		if err != nil {
			report.Error = err.Error()
		} else {
			report.ServerStatus = string(status)
		}
	}
	return report, nil
}

// ReferencesOptions identifies the method to look up.
type ReferencesOptions struct {
	File     string
	TypeName string
	Method   string
	Assembly string // overrides the assembly resolved from File
	JSON     bool
}

// FindReferences starts the server for the file's Unity project and prints
// the files referencing the method.
func FindReferences(out io.Writer, configPath string, opts ReferencesOptions) error {
	cmdCtx, err := clicommon.NewCommandContext(configPath, 0)
	if err != nil {
		return err
	}
	defer cmdCtx.Cleanup()

	root, err := clicommon.FindWorkspaceRoot(opts.File)
	if err != nil {
		return err
	}
	folder, err := workspace.NewFolder(root, "")
	if err != nil {
		return err
	}

	registry, err := cmdCtx.NewRegistry(false)
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	if err := registry.Activate(cmdCtx.Context, folder); err != nil {
		return err
	}

	refs, err := queryReferences(cmdCtx.Context, registry, opts)
	if err != nil {
		return err
	}
	return displayReferences(out, refs, opts.JSON)
}

func queryReferences(ctx context.Context, registry *workspace.Registry, opts ReferencesOptions) ([]server.Reference, error) {
	abs, err := filepath.Abs(opts.File)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", opts.File, err)
	}
	fileURI := uri.File(abs)

	srv, ok := registry.ResolveServer(fileURI)
	if !ok {
		return nil, fmt.Errorf("no active Unity workspace for %s", opts.File)
	}

	assembly := opts.Assembly
	if assembly == "" {
		assembly, ok = registry.ResolveAssembly(fileURI)
		if !ok {
			return nil, fmt.Errorf("%s is not compiled by any project of the solution", opts.File)
		}
	}

	return srv.Method(ctx, server.MethodQuery{
		Assembly: assembly,
		Name:     opts.Method,
		TypeName: opts.TypeName,
	})
}
