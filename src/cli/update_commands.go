package cli

import (
	"fmt"
	"io"

	clicommon "unity-references/src/cli/common"
	"unity-references/src/internal/common"
	"unity-references/src/internal/installer"
)

// RunUpdate installs the newest compatible server release into the data
// directory. force reinstalls even when the installed tag is current.
func RunUpdate(out io.Writer, configPath string, force bool) error {
	cmdCtx, err := clicommon.NewCommandContext(configPath, 0)
	if err != nil {
		return err
	}
	defer cmdCtx.Cleanup()

	if custom, _ := cmdCtx.Config.ServerPath(); custom != "" {
		common.CLILogger.Warn("custom_server_path is set to %s; the updated server will not be used", custom)
	}

	result, err := cmdCtx.UpdateServer(cmdCtx.Context, force)
	if err != nil {
		return fmt.Errorf("update failed: %w", err)
	}

	switch result.Action {
	case installer.ActionInstalled:
		_, _ = fmt.Fprintf(out, "Installed server %s into %s\n", result.Latest, cmdCtx.Paths.InstallDir)
	case installer.ActionUpToDate:
		_, _ = fmt.Fprintf(out, "Server %s is up to date\n", displayTag(result.Installed))
	case installer.ActionNoRelease:
		_, _ = fmt.Fprintln(out, "No compatible server release found; nothing updated")
	}
	return nil
}
