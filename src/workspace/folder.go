package workspace

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// Folder is a workspace root as the editor names it. Folders are compared by
// URI.
type Folder struct {
	URI  uri.URI
	Name string
}

// NewFolder creates a folder for a local path. An empty name defaults to the
// last path element.
func NewFolder(path, name string) (Folder, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Folder{}, fmt.Errorf("failed to resolve workspace path %s: %w", path, err)
	}
	if name == "" {
		name = filepath.Base(abs)
	}
	return Folder{URI: uri.File(abs), Name: name}, nil
}

// FolderFromProtocol converts an LSP workspace folder.
func FolderFromProtocol(f protocol.WorkspaceFolder) (Folder, error) {
	u, err := uri.Parse(f.URI)
	if err != nil {
		return Folder{}, fmt.Errorf("invalid workspace folder uri %q: %w", f.URI, err)
	}
	path, ok := localPath(u)
	if !ok {
		return Folder{}, fmt.Errorf("workspace folder %q is not a local path", f.URI)
	}
	name := f.Name
	if name == "" {
		name = filepath.Base(path)
	}
	return Folder{URI: u, Name: name}, nil
}

// FoldersFromProtocol converts a list, failing on the first invalid entry.
func FoldersFromProtocol(folders []protocol.WorkspaceFolder) ([]Folder, error) {
	out := make([]Folder, 0, len(folders))
	for _, f := range folders {
		folder, err := FolderFromProtocol(f)
		if err != nil {
			return nil, err
		}
		out = append(out, folder)
	}
	return out, nil
}

// Path returns the local filesystem path of the folder.
func (f Folder) Path() string {
	return f.URI.Filename()
}

// localPath returns the filesystem path of a file URI. Filename panics on
// other schemes, so they are rejected first.
func localPath(u uri.URI) (path string, ok bool) {
	if !strings.HasPrefix(string(u), uri.FileScheme+"://") {
		return "", false
	}
	defer func() {
		if recover() != nil {
			path, ok = "", false
		}
	}()
	return u.Filename(), true
}

func (f Folder) key() string {
	return string(f.URI)
}

// Protocol converts back to the LSP shape.
func (f Folder) Protocol() protocol.WorkspaceFolder {
	return protocol.WorkspaceFolder{URI: string(f.URI), Name: f.Name}
}

func (f Folder) String() string {
	return f.Name
}
