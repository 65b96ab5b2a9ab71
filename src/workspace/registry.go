// Package workspace tracks which editor workspaces have a running reference
// server and resolves files to their server and assembly.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"golang.org/x/sync/errgroup"

	"unity-references/src/internal/common"
	"unity-references/src/internal/project"
	"unity-references/src/server/watcher"
)

// ErrAlreadyActive is returned when activating a workspace twice. It signals
// a caller bug.
var ErrAlreadyActive = errors.New("workspace already active")

// ErrServerExited is returned when the server died while its workspace was
// being activated.
var ErrServerExited = errors.New("server exited during activation")

// ErrActivationCancelled is returned when the workspace was removed or the
// registry disposed while its activation was still running.
var ErrActivationCancelled = errors.New("workspace activation cancelled")

// Entry is one active workspace.
type Entry struct {
	Folder Folder
	Server Server
	Index  *project.Index
}

// Options configures a Registry.
type Options struct {
	Launcher Launcher

	// WatchProjects re-reads a workspace's solution when .sln or .csproj files
	// in its root change.
	WatchProjects bool
}

// activation is an Activate call that has not committed yet. cancelled is
// guarded by Registry.mu.
type activation struct {
	cancel    context.CancelFunc
	cancelled bool
}

// Registry owns the active workspaces. The map is only changed in short
// critical sections; starts and parses happen outside the lock.
type Registry struct {
	launcher Launcher

	mu       sync.RWMutex
	entries  map[string]*Entry
	pending  map[string]*activation
	folders  map[string]Folder
	owners   *PathTrie
	watcher  *watcher.FileWatcher
	disposed bool

	closeOnce sync.Once
	closeErr  error
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.Launcher == nil {
		return nil, errors.New("workspace registry requires a launcher")
	}

	r := &Registry{
		launcher: opts.Launcher,
		entries:  make(map[string]*Entry),
		pending:  make(map[string]*activation),
		folders:  make(map[string]Folder),
		owners:   NewPathTrie(),
	}

	if opts.WatchProjects {
		fw, err := watcher.NewFileWatcher([]string{".sln", ".csproj"}, r.onProjectFilesChanged)
		if err != nil {
			return nil, fmt.Errorf("failed to create project watcher: %w", err)
		}
		fw.Start()
		r.watcher = fw
	}
	return r, nil
}

// track makes folder known for file ownership and restarts.
func (r *Registry) track(folder Folder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.folders[folder.key()] = folder
	r.owners.Insert(folder.Path(), folder.key())
}

func (r *Registry) untrack(folder Folder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.folders, folder.key())
	r.owners.Remove(folder.Path())
}

// Activate starts the server for folder and reads its solution. A folder
// without a solution file is skipped with a warning. The entry is committed
// only if both the start and the parse succeed.
func (r *Registry) Activate(ctx context.Context, folder Folder) error {
	r.track(folder)

	solution, err := project.FindSolutionFile(folder.Path())
	if err != nil {
		return err
	}
	if solution == "" {
		common.WorkspaceLogger.Warn("Unity workspace %s does not have a solution file. Its files will not be scanned for Unity references", folder.Name)
		return nil
	}

	key := folder.key()
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return fmt.Errorf("workspace registry is disposed")
	}
	if _, active := r.entries[key]; active {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyActive, folder.Name)
	}
	if _, starting := r.pending[key]; starting {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyActive, folder.Name)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	act := &activation{cancel: cancel}
	r.pending[key] = act
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		if r.pending[key] == act {
			delete(r.pending, key)
		}
		r.mu.Unlock()
	}()

	var (
		srv   Server
		index *project.Index
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := r.launcher.Launch(gctx, folder, func(exited Server) { r.handleServerExit(key, exited) })
		if err != nil {
			return err
		}
		srv = s
		return nil
	})
	g.Go(func() error {
		idx, err := project.ParseSolution(gctx, solution)
		if err != nil {
			return err
		}
		index = idx
		return nil
	})
	if err := g.Wait(); err != nil {
		if srv != nil {
			_ = srv.Dispose()
		}
		if r.isCancelled(act) {
			return fmt.Errorf("%w: %s", ErrActivationCancelled, folder.Name)
		}
		return fmt.Errorf("failed to activate workspace %s: %w", folder.Name, err)
	}

	entry := &Entry{Folder: folder, Server: srv, Index: index}

	r.mu.Lock()
	if act.cancelled || r.disposed {
		r.mu.Unlock()
		_ = srv.Dispose()
		return fmt.Errorf("%w: %s", ErrActivationCancelled, folder.Name)
	}
	r.entries[key] = entry
	delete(r.pending, key)
	r.mu.Unlock()

	select {
	case <-srv.Done():
		r.removeEntry(key, srv)
		return fmt.Errorf("failed to activate workspace %s: %w", folder.Name, ErrServerExited)
	default:
	}

	r.watchEntry(entry)
	common.WorkspaceLogger.Info("Activated workspace %s (%d projects, %d files)", folder.Name, len(index.Projects), index.FileCount())
	return nil
}

func (r *Registry) isCancelled(act *activation) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return act.cancelled
}

// cancelPendingLocked cancels the running activation of key, if any. The key
// is released at once so the folder can be activated again. r.mu must be
// held.
func (r *Registry) cancelPendingLocked(key string) {
	act, ok := r.pending[key]
	if !ok {
		return
	}
	act.cancelled = true
	act.cancel()
	delete(r.pending, key)
}

// ActivateAll activates every folder that holds a Unity project, in parallel.
// One folder failing does not stop the others; the failures are joined.
func (r *Registry) ActivateAll(ctx context.Context, folders []Folder) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)

	for _, folder := range folders {
		r.track(folder)
		g.Go(func() error {
			switch state := project.DetectUnityProject(folder.Path()); state {
			case common.PathExists:
			case common.PathInaccessible:
				common.WorkspaceLogger.Warn("Could not inspect workspace %s for a Unity project", folder.Name)
				return nil
			default:
				common.WorkspaceLogger.Info("Workspace %s does not have a unity project", folder.Name)
				return nil
			}

			if err := r.Activate(ctx, folder); err != nil {
				if errors.Is(err, ErrActivationCancelled) {
					common.WorkspaceLogger.Info("%v", err)
					return nil
				}
				common.WorkspaceLogger.Error("%v", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Remove disposes the folder's server and forgets the folder. A running
// activation of the folder is cancelled and its server disposed instead of
// committed. Removing an inactive folder only forgets it.
func (r *Registry) Remove(folder Folder) {
	r.untrack(folder)

	r.mu.Lock()
	r.cancelPendingLocked(folder.key())
	entry, ok := r.entries[folder.key()]
	delete(r.entries, folder.key())
	r.mu.Unlock()

	if ok {
		r.disposeEntry(entry)
		common.WorkspaceLogger.Info("Removed workspace %s", folder.Name)
	}
}

// OnWorkspaceFoldersChanged removes the removed folders, then activates the
// added ones. Folders are handled independently.
func (r *Registry) OnWorkspaceFoldersChanged(ctx context.Context, event protocol.WorkspaceFoldersChangeEvent) error {
	removed, err := FoldersFromProtocol(event.Removed)
	if err != nil {
		return err
	}
	added, err := FoldersFromProtocol(event.Added)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for _, folder := range removed {
		g.Go(func() error {
			r.Remove(folder)
			return nil
		})
	}
	_ = g.Wait()

	var (
		add  errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, folder := range added {
		add.Go(func() error {
			if err := r.Activate(ctx, folder); err != nil && !errors.Is(err, ErrActivationCancelled) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = add.Wait()
	return errors.Join(errs...)
}

// DisposeAll disposes every server, cancels running activations and clears
// the map. Known folders are kept so Restart can bring them back.
func (r *Registry) DisposeAll() {
	r.mu.Lock()
	for key := range r.pending {
		r.cancelPendingLocked(key)
	}
	entries := r.entries
	r.entries = make(map[string]*Entry)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.disposeEntry(entry)
		}()
	}
	wg.Wait()
}

// Restart disposes everything and activates the known folders again.
func (r *Registry) Restart(ctx context.Context) error {
	r.DisposeAll()
	return r.ActivateAll(ctx, r.Folders())
}

// Close disposes all servers and stops the watcher. Later activations fail.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.disposed = true
		r.mu.Unlock()

		r.DisposeAll()
		if r.watcher != nil {
			r.closeErr = r.watcher.Stop()
		}
	})
	return r.closeErr
}

// Folders returns the known folders sorted by name.
func (r *Registry) Folders() []Folder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	folders := make([]Folder, 0, len(r.folders))
	for _, f := range r.folders {
		folders = append(folders, f)
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })
	return folders
}

// Entries returns a snapshot of the active workspaces sorted by name.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Folder.Name < entries[j].Folder.Name })
	return entries
}

// IsActive reports whether folder has a committed entry.
func (r *Registry) IsActive(folder Folder) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[folder.key()]
	return ok
}

// ResolveServer returns the server of the active workspace that owns file.
func (r *Registry) ResolveServer(file uri.URI) (Server, bool) {
	entry, ok := r.resolveEntry(file)
	if !ok {
		return nil, false
	}
	return entry.Server, true
}

// ResolveAssembly returns the assembly file is compiled into.
func (r *Registry) ResolveAssembly(file uri.URI) (string, bool) {
	entry, ok := r.resolveEntry(file)
	if !ok {
		return "", false
	}

	path, _ := localPath(file)
	assembly, ok := entry.Index.AssemblyFor(path)
	if !ok {
		common.WorkspaceLogger.Debug("Unknown file in workspace %s: %s", entry.Folder.Name, path)
	}
	return assembly, ok
}

func (r *Registry) resolveEntry(file uri.URI) (*Entry, bool) {
	path, ok := localPath(file)
	if !ok {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.owners.FindLongestMatch(path)
	if !ok {
		common.WorkspaceLogger.Debug("File %s does not have a workspace", path)
		return nil, false
	}
	entry, ok := r.entries[key]
	if !ok {
		common.WorkspaceLogger.Debug("Workspace for file %s not active", path)
		return nil, false
	}
	return entry, true
}

// RefreshProjects re-reads the solution of an active folder.
func (r *Registry) RefreshProjects(ctx context.Context, folder Folder) error {
	key := folder.key()

	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	solution, err := project.FindSolutionFile(folder.Path())
	if err != nil {
		return err
	}
	if solution == "" {
		common.WorkspaceLogger.Warn("Solution file of %s disappeared; keeping the previous project list", folder.Name)
		return nil
	}
	index, err := project.ParseSolution(ctx, solution)
	if err != nil {
		return fmt.Errorf("failed to refresh projects of %s: %w", folder.Name, err)
	}

	r.mu.Lock()
	if current, ok := r.entries[key]; ok && current.Server == entry.Server {
		updated := *current
		updated.Index = index
		r.entries[key] = &updated
	}
	r.mu.Unlock()

	common.WorkspaceLogger.Info("Refreshed projects of %s (%d files)", folder.Name, index.FileCount())
	return nil
}

// handleServerExit drops the entry of key if it still holds the exited
// server. Exits of replaced or never committed servers are ignored.
func (r *Registry) handleServerExit(key string, exited Server) {
	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok || entry.Server != exited {
		return
	}

	common.WorkspaceLogger.Warn("Reference server for %s exited; workspace deactivated until restart", entry.Folder.Name)
	r.removeEntry(key, exited)
}

// removeEntry deletes key only if it still holds srv.
func (r *Registry) removeEntry(key string, srv Server) {
	r.mu.Lock()
	entry, ok := r.entries[key]
	if !ok || entry.Server != srv {
		r.mu.Unlock()
		return
	}
	delete(r.entries, key)
	r.mu.Unlock()

	r.disposeEntry(entry)
}

func (r *Registry) disposeEntry(entry *Entry) {
	r.unwatchEntry(entry)
	if err := entry.Server.Dispose(); err != nil {
		common.WorkspaceLogger.Warn("Failed to dispose server for %s: %v", entry.Folder.Name, err)
	}
}

func projectDirs(entry *Entry) []string {
	seen := map[string]struct{}{entry.Folder.Path(): {}}
	dirs := []string{entry.Folder.Path()}
	if entry.Index == nil {
		return dirs
	}
	for _, p := range entry.Index.Projects {
		dir := filepath.Dir(p.MetaFile)
		if _, ok := seen[dir]; !ok {
			seen[dir] = struct{}{}
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

func (r *Registry) watchEntry(entry *Entry) {
	if r.watcher == nil {
		return
	}
	for _, dir := range projectDirs(entry) {
		if err := r.watcher.AddPath(dir); err != nil {
			common.WorkspaceLogger.Warn("Cannot watch %s for project changes: %v", dir, err)
		}
	}
}

func (r *Registry) unwatchEntry(entry *Entry) {
	if r.watcher == nil {
		return
	}
	for _, dir := range projectDirs(entry) {
		r.watcher.RemovePath(dir)
	}
}

func (r *Registry) onProjectFilesChanged(events []watcher.FileChangeEvent) {
	affected := make(map[string]struct{})
	r.mu.RLock()
	for _, e := range events {
		if key, ok := r.owners.FindLongestMatch(e.Path); ok {
			affected[key] = struct{}{}
		}
	}
	folders := make([]Folder, 0, len(affected))
	for key := range affected {
		if f, ok := r.folders[key]; ok {
			folders = append(folders, f)
		}
	}
	r.mu.RUnlock()

	for _, folder := range folders {
		if err := r.RefreshProjects(context.Background(), folder); err != nil {
			common.WorkspaceLogger.Warn("%v", err)
		}
	}
}
