package server

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unity-references/src/internal/common"
	"unity-references/src/internal/testutil/fakeserver"
	"unity-references/src/server/process"
	"unity-references/src/server/protocol"
)

// syncBuffer is a goroutine-safe sink destination.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// countingManager records whether a process was ever spawned.
type countingManager struct {
	*process.ServerProcessManager
	mu     sync.Mutex
	starts int
}

func (c *countingManager) StartProcess(config process.Config) (*process.ProcessInfo, error) {
	c.mu.Lock()
	c.starts++
	c.mu.Unlock()
	return c.ServerProcessManager.StartProcess(config)
}

func testExecutable(t *testing.T) string {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return exe
}

func startFake(t *testing.T, mode string, opts Options) (*Server, *syncBuffer, error) {
	t.Helper()
	fakeserver.Enable(t, mode)

	logs := &syncBuffer{}
	if opts.Executable == "" {
		opts.Executable = testExecutable(t)
	}
	if opts.WorkspaceRoot == "" {
		opts.WorkspaceRoot = t.TempDir()
	}
	if opts.WorkspaceName == "" {
		opts.WorkspaceName = "Game"
	}
	opts.Sink = common.NewLogSink(opts.WorkspaceName, logs)
	if opts.StartTimeout == 0 {
		opts.StartTimeout = 10 * time.Second
	}
	opts.ShutdownTimeout = 2 * time.Second

	s, err := Start(context.Background(), opts)
	if s != nil {
		t.Cleanup(func() { _ = s.Dispose() })
	}
	return s, logs, err
}

func TestStartExecutableNotSet(t *testing.T) {
	pm := &countingManager{ServerProcessManager: process.NewServerProcessManager()}

	for _, exe := range []string{"", "   "} {
		_, err := Start(context.Background(), Options{
			Executable:     exe,
			WorkspaceRoot:  t.TempDir(),
			ProcessManager: pm,
		})
		assert.ErrorIs(t, err, ErrExecutableNotSet)

		var startErr *StartError
		assert.ErrorAs(t, err, &startErr)
	}
	assert.Zero(t, pm.starts)
}

func TestStartMissingExecutable(t *testing.T) {
	pm := &countingManager{ServerProcessManager: process.NewServerProcessManager()}
	logs := &syncBuffer{}
	sink := common.NewLogSink("Game", logs)

	_, err := Start(context.Background(), Options{
		Executable:     filepath.Join(t.TempDir(), "unity-reference-server"),
		WorkspaceRoot:  t.TempDir(),
		WorkspaceName:  "Game",
		Sink:           sink,
		ProcessManager: pm,
	})
	assert.ErrorIs(t, err, ErrMissingExecutable)
	assert.Zero(t, pm.starts)

	// The sink belongs to Start and is closed on failure.
	sink.Log(common.LogError, "after close")
	assert.Empty(t, logs.String())
}

func TestStartAndQuery(t *testing.T) {
	root := t.TempDir()
	s, logs, err := startFake(t, fakeserver.ModeServe, Options{WorkspaceRoot: root})
	require.NoError(t, err)

	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, "Game", s.Name())
	assert.Equal(t, root, s.Root())
	assert.Greater(t, s.Port(), 0)

	status, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusReady, status)

	refs, err := s.Method(context.Background(), MethodQuery{
		Assembly: "Assembly-CSharp",
		Name:     "TakeDamage",
		TypeName: "Player",
	})
	require.NoError(t, err)
	assert.Equal(t, []Reference{
		{File: filepath.Join(root, "Assets", "Scripts", "Player.cs")},
		{File: filepath.Join(root, "Assets", "Scripts", "Caller.cs")},
	}, refs)

	refs, err = s.Method(context.Background(), MethodQuery{Assembly: "Assembly-CSharp", Name: "Unused", TypeName: "Player"})
	require.NoError(t, err)
	assert.NotNil(t, refs)
	assert.Empty(t, refs)

	assert.Eventually(t, func() bool {
		out := logs.String()
		return strings.Contains(out, "unparsable log") &&
			strings.Contains(out, "level=TRACE") &&
			strings.Contains(out, "listening")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStatusRejectsUnknownLiteral(t *testing.T) {
	t.Setenv(fakeserver.EnvStatus, "Sleeping")
	s, _, err := startFake(t, fakeserver.ModeServe, Options{})
	require.NoError(t, err)

	_, err = s.Status(context.Background())
	var protoErr *protocol.ProtocolError
	assert.ErrorAs(t, err, &protoErr)
}

func TestRPCErrorSurfaces(t *testing.T) {
	s, _, err := startFake(t, fakeserver.ModeServe, Options{})
	require.NoError(t, err)

	_, err = s.call(context.Background(), "unknown", nil)
	var rpcErr *protocol.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, protocol.MethodNotFound, rpcErr.Code)
	assert.JSONEq(t, `"UnknownMethod"`, string(rpcErr.Data))
}

func TestStartFailures(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		timeout time.Duration
	}{
		{name: "exits before port", mode: fakeserver.ModeExit, timeout: 10 * time.Second},
		{name: "never announces", mode: fakeserver.ModeNoPort, timeout: 300 * time.Millisecond},
		{name: "garbage port", mode: fakeserver.ModeBadPort, timeout: 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, err := startFake(t, tt.mode, Options{StartTimeout: tt.timeout})
			assert.Nil(t, s)
			assert.ErrorIs(t, err, ErrNoPort)

			var startErr *StartError
			require.ErrorAs(t, err, &startErr)
			assert.Equal(t, "Game", startErr.Workspace)
		})
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	s, logs, err := startFake(t, fakeserver.ModeServe, Options{})
	require.NoError(t, err)

	require.NoError(t, s.Dispose())
	assert.Equal(t, StateDisposed, s.State())

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process still running after Dispose")
	}

	assert.NoError(t, s.Dispose())

	_, err = s.Status(context.Background())
	assert.ErrorIs(t, err, ErrDisposed)

	before := logs.String()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, logs.String(), "sink must be closed after Dispose")
}

func TestOnExitReportsCrash(t *testing.T) {
	exited := make(chan *Server, 1)
	s, _, err := startFake(t, fakeserver.ModeServe, Options{
		OnExit: func(s *Server, err error) { exited <- s },
	})
	require.NoError(t, err)

	_, err = s.call(context.Background(), fakeserver.CrashMethod, nil)
	assert.Error(t, err)

	select {
	case got := <-exited:
		assert.Same(t, s, got)
	case <-time.After(5 * time.Second):
		t.Fatal("OnExit was not called after crash")
	}
}

func TestOnExitNotCalledOnDispose(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	s, _, err := startFake(t, fakeserver.ModeServe, Options{
		OnExit: func(s *Server, err error) {
			mu.Lock()
			calls++
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	require.NoError(t, s.Dispose())
	<-s.Done()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

func TestParseStatus(t *testing.T) {
	for _, valid := range []string{"Inactive", "Initializing", "Ready"} {
		status, ok := ParseStatus(valid)
		assert.True(t, ok)
		assert.Equal(t, Status(valid), status)
	}
	for _, invalid := range []string{"", "ready", "READY", "Done"} {
		_, ok := ParseStatus(invalid)
		assert.False(t, ok, invalid)
	}
}

func TestStartErrorUnwrap(t *testing.T) {
	err := &StartError{Workspace: "Game", Err: ErrMissingExecutable}
	assert.True(t, errors.Is(err, ErrMissingExecutable))
	assert.Contains(t, err.Error(), "Game")
}
