package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"unity-references/src/internal/testutil"
	"unity-references/src/internal/testutil/fakeserver"
	"unity-references/src/server"
)

type fakeServer struct {
	folder   Folder
	done     chan struct{}
	doneOnce sync.Once
	disposed atomic.Int32
	onExit   func(Server)
}

func (s *fakeServer) Status(context.Context) (server.Status, error) {
	return server.StatusReady, nil
}

func (s *fakeServer) Method(context.Context, server.MethodQuery) ([]server.Reference, error) {
	return []server.Reference{{File: filepath.Join(s.folder.Path(), "Assets", "Caller.cs")}}, nil
}

func (s *fakeServer) Done() <-chan struct{} { return s.done }

func (s *fakeServer) Dispose() error {
	s.disposed.Add(1)
	s.doneOnce.Do(func() { close(s.done) })
	return nil
}

// crash simulates the process exiting on its own.
func (s *fakeServer) crash() {
	s.doneOnce.Do(func() { close(s.done) })
	s.onExit(s)
}

type fakeLauncher struct {
	mu       sync.Mutex
	fail     map[string]error
	dead     map[string]bool
	delay    time.Duration
	launched []*fakeServer

	// entered receives the folder name once a server is created; Launch then
	// waits for block to close, ignoring cancellation.
	entered chan string
	block   chan struct{}
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{fail: map[string]error{}, dead: map[string]bool{}}
}

func (l *fakeLauncher) Launch(ctx context.Context, folder Folder, onExit func(Server)) (Server, error) {
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	if err := l.fail[folder.Name]; err != nil {
		l.mu.Unlock()
		return nil, err
	}
	srv := &fakeServer{folder: folder, done: make(chan struct{}), onExit: onExit}
	if l.dead[folder.Name] {
		srv.doneOnce.Do(func() { close(srv.done) })
	}
	l.launched = append(l.launched, srv)
	l.mu.Unlock()

	if l.entered != nil {
		l.entered <- folder.Name
	}
	if l.block != nil {
		<-l.block
	}
	return srv, nil
}

func (l *fakeLauncher) blockLaunches() {
	l.entered = make(chan string, 4)
	l.block = make(chan struct{})
}

func (l *fakeLauncher) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-l.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("launch did not start")
	}
}

func (l *fakeLauncher) servers() []*fakeServer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*fakeServer(nil), l.launched...)
}

func newRegistry(t *testing.T, launcher Launcher) *Registry {
	t.Helper()
	r, err := NewRegistry(Options{Launcher: launcher})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func folderAt(t *testing.T, root, name string) Folder {
	t.Helper()
	f, err := NewFolder(root, name)
	require.NoError(t, err)
	return f
}

func fileURI(root, rel string) uri.URI {
	return uri.File(filepath.Join(root, filepath.FromSlash(rel)))
}

func TestNewRegistryRequiresLauncher(t *testing.T) {
	_, err := NewRegistry(Options{})
	assert.Error(t, err)
}

func TestActivateAllSkipsNonUnityFolders(t *testing.T) {
	launcher := newFakeLauncher()
	r := newRegistry(t, launcher)

	game := folderAt(t, testutil.NewUnityProject(t), "game")
	plain := folderAt(t, t.TempDir(), "plain")

	require.NoError(t, r.ActivateAll(context.Background(), []Folder{game, plain}))

	assert.True(t, r.IsActive(game))
	assert.False(t, r.IsActive(plain))
	assert.Len(t, launcher.servers(), 1)
	assert.Equal(t, []Folder{game, plain}, r.Folders())

	entries := r.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].Index.FileCount())
}

func TestActivateWithoutSolution(t *testing.T) {
	launcher := newFakeLauncher()
	r := newRegistry(t, launcher)
	folder := folderAt(t, testutil.NewUnityMarkers(t), "nosln")

	require.NoError(t, r.Activate(context.Background(), folder))
	assert.False(t, r.IsActive(folder))
	assert.Empty(t, launcher.servers())
}

func TestActivateTwice(t *testing.T) {
	r := newRegistry(t, newFakeLauncher())
	folder := folderAt(t, testutil.NewUnityProject(t), "game")

	require.NoError(t, r.Activate(context.Background(), folder))
	err := r.Activate(context.Background(), folder)
	assert.ErrorIs(t, err, ErrAlreadyActive)
}

func TestActivateConcurrentlyStartsOneServer(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.delay = 50 * time.Millisecond
	r := newRegistry(t, launcher)
	folder := folderAt(t, testutil.NewUnityProject(t), "game")

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- r.Activate(context.Background(), folder) }()
	}
	first, second := <-errs, <-errs

	failures := 0
	for _, err := range []error{first, second} {
		if err != nil {
			assert.ErrorIs(t, err, ErrAlreadyActive)
			failures++
		}
	}
	assert.Equal(t, 1, failures)
	assert.Len(t, launcher.servers(), 1)
}

func TestActivateAllIsolatesFailures(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.fail["broken"] = errors.New("boom")
	r := newRegistry(t, launcher)

	good := folderAt(t, testutil.NewUnityProject(t), "good")
	broken := folderAt(t, testutil.NewUnityProject(t), "broken")

	err := r.ActivateAll(context.Background(), []Folder{good, broken})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	assert.True(t, r.IsActive(good))
	assert.False(t, r.IsActive(broken))
}

func TestActivateParseFailureDisposesServer(t *testing.T) {
	launcher := newFakeLauncher()
	r := newRegistry(t, launcher)
	root := testutil.NewUnityProject(t)
	testutil.RemoveProject(t, root, testutil.EditorAssembly)
	folder := folderAt(t, root, "game")

	err := r.Activate(context.Background(), folder)
	require.Error(t, err)
	assert.False(t, r.IsActive(folder))

	for _, srv := range launcher.servers() {
		assert.Equal(t, int32(1), srv.disposed.Load())
	}
}

func TestActivateServerDiedBeforeCommit(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.dead["game"] = true
	r := newRegistry(t, launcher)
	folder := folderAt(t, testutil.NewUnityProject(t), "game")

	err := r.Activate(context.Background(), folder)
	assert.ErrorIs(t, err, ErrServerExited)
	assert.False(t, r.IsActive(folder))
}

func TestServerCrashDeactivatesWorkspace(t *testing.T) {
	launcher := newFakeLauncher()
	r := newRegistry(t, launcher)
	folder := folderAt(t, testutil.NewUnityProject(t), "game")
	require.NoError(t, r.Activate(context.Background(), folder))

	srv := launcher.servers()[0]
	srv.crash()

	assert.False(t, r.IsActive(folder))
	_, ok := r.ResolveServer(fileURI(folder.Path(), testutil.RuntimeSources[0]))
	assert.False(t, ok)

	// Known folders survive so a restart brings the workspace back.
	require.NoError(t, r.Restart(context.Background()))
	assert.True(t, r.IsActive(folder))
	assert.Len(t, launcher.servers(), 2)
}

func TestLateExitOfReplacedServerIsIgnored(t *testing.T) {
	launcher := newFakeLauncher()
	r := newRegistry(t, launcher)
	folder := folderAt(t, testutil.NewUnityProject(t), "game")

	require.NoError(t, r.Activate(context.Background(), folder))
	require.NoError(t, r.Restart(context.Background()))

	servers := launcher.servers()
	require.Len(t, servers, 2)
	servers[0].crash()

	assert.True(t, r.IsActive(folder))
	assert.Equal(t, int32(0), servers[1].disposed.Load())
	got, ok := r.ResolveServer(fileURI(folder.Path(), testutil.RuntimeSources[0]))
	require.True(t, ok)
	assert.Same(t, servers[1], got)
}

func TestRemoveDuringActivationDisposesServer(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.blockLaunches()
	r := newRegistry(t, launcher)
	folder := folderAt(t, testutil.NewUnityProject(t), "game")

	errs := make(chan error, 1)
	go func() { errs <- r.Activate(context.Background(), folder) }()
	launcher.waitEntered(t)

	r.Remove(folder)
	close(launcher.block)

	assert.ErrorIs(t, <-errs, ErrActivationCancelled)
	assert.False(t, r.IsActive(folder))
	assert.Empty(t, r.Entries())
	assert.Empty(t, r.Folders())

	servers := launcher.servers()
	require.Len(t, servers, 1)
	assert.Equal(t, int32(1), servers[0].disposed.Load())
}

func TestRemoveCancelsRunningLaunch(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.delay = time.Minute
	r := newRegistry(t, launcher)
	folder := folderAt(t, testutil.NewUnityProject(t), "game")

	errs := make(chan error, 1)
	go func() { errs <- r.Activate(context.Background(), folder) }()
	require.Eventually(t, func() bool {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return len(r.pending) == 1
	}, 5*time.Second, 10*time.Millisecond)

	r.Remove(folder)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrActivationCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("activation was not cancelled")
	}
	assert.False(t, r.IsActive(folder))
	assert.Empty(t, launcher.servers())
}

func TestRestartDuringActivation(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.blockLaunches()
	r := newRegistry(t, launcher)
	folder := folderAt(t, testutil.NewUnityProject(t), "game")

	activated := make(chan error, 1)
	go func() { activated <- r.Activate(context.Background(), folder) }()
	launcher.waitEntered(t)

	restarted := make(chan error, 1)
	go func() { restarted <- r.Restart(context.Background()) }()
	launcher.waitEntered(t)
	close(launcher.block)

	assert.ErrorIs(t, <-activated, ErrActivationCancelled)
	require.NoError(t, <-restarted)
	assert.True(t, r.IsActive(folder))

	servers := launcher.servers()
	require.Len(t, servers, 2)
	assert.Equal(t, int32(1), servers[0].disposed.Load())
	assert.Equal(t, int32(0), servers[1].disposed.Load())

	entries := r.Entries()
	require.Len(t, entries, 1)
	assert.Same(t, servers[1], entries[0].Server)
}

func TestResolve(t *testing.T) {
	r := newRegistry(t, newFakeLauncher())
	root := testutil.NewUnityProject(t)
	folder := folderAt(t, root, "game")
	require.NoError(t, r.Activate(context.Background(), folder))

	tests := []struct {
		name     string
		file     uri.URI
		server   bool
		assembly string
	}{
		{"runtime", fileURI(root, testutil.RuntimeSources[1]), true, testutil.RuntimeAssembly},
		{"editor", fileURI(root, testutil.EditorSources[0]), true, testutil.EditorAssembly},
		{"unlisted", fileURI(root, "Assets/Other.cs"), true, ""},
		{"outside", fileURI(t.TempDir(), "Assets/Scripts/Player.cs"), false, ""},
		{"remote", uri.URI("https://example.com/Player.cs"), false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := r.ResolveServer(tt.file)
			assert.Equal(t, tt.server, ok)

			assembly, ok := r.ResolveAssembly(tt.file)
			assert.Equal(t, tt.assembly != "", ok)
			assert.Equal(t, tt.assembly, assembly)
		})
	}
}

func TestResolveNestedWorkspaces(t *testing.T) {
	launcher := newFakeLauncher()
	r := newRegistry(t, launcher)

	outer := testutil.NewUnityProject(t)
	innerRoot := filepath.Join(outer, "Packages", "inner")
	require.NoError(t, os.MkdirAll(filepath.Dir(innerRoot), 0755))
	require.NoError(t, os.Rename(testutil.NewUnityProject(t), innerRoot))

	outerFolder := folderAt(t, outer, "outer")
	innerFolder := folderAt(t, innerRoot, "inner")
	require.NoError(t, r.ActivateAll(context.Background(), []Folder{outerFolder, innerFolder}))

	srv, ok := r.ResolveServer(fileURI(innerRoot, testutil.RuntimeSources[0]))
	require.True(t, ok)
	assert.Equal(t, innerFolder, srv.(*fakeServer).folder)

	srv, ok = r.ResolveServer(fileURI(outer, testutil.RuntimeSources[0]))
	require.True(t, ok)
	assert.Equal(t, outerFolder, srv.(*fakeServer).folder)
}

func TestWorkspaceFoldersChanged(t *testing.T) {
	launcher := newFakeLauncher()
	r := newRegistry(t, launcher)

	first := folderAt(t, testutil.NewUnityProject(t), "first")
	second := folderAt(t, testutil.NewUnityProject(t), "second")
	require.NoError(t, r.ActivateAll(context.Background(), []Folder{first}))

	err := r.OnWorkspaceFoldersChanged(context.Background(), protocol.WorkspaceFoldersChangeEvent{
		Added:   []protocol.WorkspaceFolder{second.Protocol()},
		Removed: []protocol.WorkspaceFolder{first.Protocol()},
	})
	require.NoError(t, err)

	assert.False(t, r.IsActive(first))
	assert.True(t, r.IsActive(second))
	assert.Equal(t, int32(1), launcher.servers()[0].disposed.Load())
	assert.Equal(t, []Folder{second}, r.Folders())
}

func TestWorkspaceFoldersChangedSameFolder(t *testing.T) {
	launcher := newFakeLauncher()
	r := newRegistry(t, launcher)
	folder := folderAt(t, testutil.NewUnityProject(t), "game")
	require.NoError(t, r.Activate(context.Background(), folder))

	err := r.OnWorkspaceFoldersChanged(context.Background(), protocol.WorkspaceFoldersChangeEvent{
		Added:   []protocol.WorkspaceFolder{folder.Protocol()},
		Removed: []protocol.WorkspaceFolder{folder.Protocol()},
	})
	require.NoError(t, err)
	assert.True(t, r.IsActive(folder))
	assert.Len(t, launcher.servers(), 2)
}

func TestWorkspaceFoldersChangedInvalidURI(t *testing.T) {
	r := newRegistry(t, newFakeLauncher())
	err := r.OnWorkspaceFoldersChanged(context.Background(), protocol.WorkspaceFoldersChangeEvent{
		Added: []protocol.WorkspaceFolder{{URI: "https://example.com/game", Name: "remote"}},
	})
	assert.Error(t, err)
}

func TestDisposeAll(t *testing.T) {
	launcher := newFakeLauncher()
	r := newRegistry(t, launcher)
	a := folderAt(t, testutil.NewUnityProject(t), "a")
	b := folderAt(t, testutil.NewUnityProject(t), "b")
	require.NoError(t, r.ActivateAll(context.Background(), []Folder{a, b}))

	r.DisposeAll()
	assert.Empty(t, r.Entries())
	for _, srv := range launcher.servers() {
		assert.Equal(t, int32(1), srv.disposed.Load())
	}
}

func TestCloseRejectsActivation(t *testing.T) {
	r := newRegistry(t, newFakeLauncher())
	require.NoError(t, r.Close())

	err := r.Activate(context.Background(), folderAt(t, testutil.NewUnityProject(t), "game"))
	assert.Error(t, err)
}

func TestRefreshProjects(t *testing.T) {
	r := newRegistry(t, newFakeLauncher())
	root := testutil.NewUnityProject(t)
	folder := folderAt(t, root, "game")
	require.NoError(t, r.Activate(context.Background(), folder))

	added := "Assets/Scripts/Boss.cs"
	_, ok := r.ResolveAssembly(fileURI(root, added))
	assert.False(t, ok)

	testutil.WriteFile(t, filepath.Join(root, testutil.RuntimeAssembly+".csproj"), `<Project>
  <ItemGroup>
    <Compile Include="Assets\Scripts\Boss.cs" />
  </ItemGroup>
</Project>
`)
	require.NoError(t, r.RefreshProjects(context.Background(), folder))

	assembly, ok := r.ResolveAssembly(fileURI(root, added))
	assert.True(t, ok)
	assert.Equal(t, testutil.RuntimeAssembly, assembly)
}

func TestWatcherRefreshesProjects(t *testing.T) {
	r, err := NewRegistry(Options{Launcher: newFakeLauncher(), WatchProjects: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	r.watcher.SetDebounceDelay(20 * time.Millisecond)

	root := testutil.NewUnityProject(t)
	folder := folderAt(t, root, "game")
	require.NoError(t, r.Activate(context.Background(), folder))

	testutil.WriteFile(t, filepath.Join(root, testutil.RuntimeAssembly+".csproj"), `<Project>
  <ItemGroup>
    <Compile Include="Assets\Scripts\Boss.cs" />
  </ItemGroup>
</Project>
`)

	assert.Eventually(t, func() bool {
		assembly, ok := r.ResolveAssembly(fileURI(root, "Assets/Scripts/Boss.cs"))
		return ok && assembly == testutil.RuntimeAssembly
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServerLauncherWithFakeServer(t *testing.T) {
	fakeserver.Enable(t, fakeserver.ModeServe)

	logDir := t.TempDir()
	launcher := &ServerLauncher{
		ResolveExecutable: func(context.Context) (string, error) { return os.Args[0], nil },
		LogDir:            logDir,
		StartTimeout:      10 * time.Second,
	}
	r := newRegistry(t, launcher)

	root := testutil.NewUnityProject(t)
	folder := folderAt(t, root, "game")
	require.NoError(t, r.Activate(context.Background(), folder))

	srv, ok := r.ResolveServer(fileURI(root, testutil.RuntimeSources[0]))
	require.True(t, ok)

	status, err := srv.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, server.StatusReady, status)

	refs, err := srv.Method(context.Background(), server.MethodQuery{
		Assembly: testutil.RuntimeAssembly, Name: "Update", TypeName: "Player",
	})
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	r.DisposeAll()
	_, err = os.Stat(filepath.Join(logDir, "game.log"))
	assert.NoError(t, err)
}

func TestServerLauncherResolveError(t *testing.T) {
	launcher := &ServerLauncher{
		ResolveExecutable: func(context.Context) (string, error) { return "", errors.New("no server") },
	}
	_, err := launcher.Launch(context.Background(), Folder{Name: "game"}, nil)
	assert.EqualError(t, err, "no server")
}
