package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"unity-references/src/bridge"
	"unity-references/src/server"
)

// StatusReport is what the status command prints.
type StatusReport struct {
	DataDir         string
	Executable      string
	ExecutableState string
	Custom          bool
	InstalledTag    string
	LatestTag       string
	LatestAsset     string
	Workspace       *WorkspaceReport
}

// WorkspaceReport describes one inspected workspace.
type WorkspaceReport struct {
	Name         string
	Path         string
	Unity        string
	Solution     string
	Projects     int
	Files        int
	ServerStatus string
	Error        string
}

func displayTag(tag string) string {
	if tag == "" {
		return "(none)"
	}
	return tag
}

func displayStatus(out io.Writer, r StatusReport) {
	source := "installed"
	if r.Custom {
		source = "custom"
	}

	_, _ = fmt.Fprintln(out, "Unity References Status")
	_, _ = fmt.Fprintln(out, strings.Repeat("=", 50))
	_, _ = fmt.Fprintf(out, "Data directory:   %s\n", r.DataDir)
	_, _ = fmt.Fprintf(out, "Server (%s): %s [%s]\n", source, r.Executable, r.ExecutableState)
	_, _ = fmt.Fprintf(out, "Installed tag:    %s\n", displayTag(r.InstalledTag))
	if r.LatestTag != "" {
		_, _ = fmt.Fprintf(out, "Latest release:   %s %s\n", r.LatestTag, r.LatestAsset)
	}

	ws := r.Workspace
	if ws == nil {
		return
	}
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintf(out, "Workspace %s (%s)\n", ws.Name, ws.Path)
	_, _ = fmt.Fprintf(out, "  Unity project: %s\n", ws.Unity)
	if ws.Solution == "" {
		_, _ = fmt.Fprintln(out, "  Solution:      (none)")
		return
	}
	_, _ = fmt.Fprintf(out, "  Solution:      %s\n", ws.Solution)
	if ws.ServerStatus != "" {
		_, _ = fmt.Fprintf(out, "  Projects:      %d (%d files)\n", ws.Projects, ws.Files)
		_, _ = fmt.Fprintf(out, "  Server status: %s\n", ws.ServerStatus)
	}
	if ws.Error != "" {
		_, _ = fmt.Fprintf(out, "  Error:         %s\n", ws.Error)
	}
}

func displayReferences(out io.Writer, refs []server.Reference, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Kind       string             `json:"kind"`
			References []server.Reference `json:"references"`
		}{Kind: bridge.ReferenceKind, References: refs})
	}

	_, _ = fmt.Fprintf(out, "%d editor references\n", len(refs))
	for _, ref := range refs {
		_, _ = fmt.Fprintf(out, "  %s\n", ref.File)
	}
	return nil
}
