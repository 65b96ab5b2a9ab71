// Package server manages one reference server per workspace: the subprocess,
// the port handshake, the JSON-RPC connection and log forwarding.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"unity-references/src/internal/common"
	"unity-references/src/internal/constants"
	"unity-references/src/server/process"
	"unity-references/src/server/protocol"
	"unity-references/src/server/transport"
)

// Default timeouts
const (
	DefaultStartTimeout   = constants.ProcessStartTimeout
	DefaultRequestTimeout = constants.DefaultRequestTimeout
)

// JSON-RPC methods served by the reference server
const (
	MethodStatus = "status"
	MethodMethod = "method"
)

const jsonLogsFlag = "--json-logs"

// State is the lifecycle position of a Server.
type State int32

const (
	StateStarting State = iota
	StateConnecting
	StateReady
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Status is the indexing state the server reports.
type Status string

const (
	StatusInactive     Status = "Inactive"
	StatusInitializing Status = "Initializing"
	StatusReady        Status = "Ready"
)

// ParseStatus accepts exactly the three literal states.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusInactive, StatusInitializing, StatusReady:
		return Status(s), true
	default:
		return "", false
	}
}

// MethodQuery identifies a method by assembly, declaring type and name.
type MethodQuery struct {
	Assembly string `json:"method_assembly"`
	Name     string `json:"method_name"`
	TypeName string `json:"method_typename"`
}

// Reference is a file that references the queried method.
type Reference struct {
	File string `json:"file"`
}

// Options configures Start.
type Options struct {
	Executable    string
	WorkspaceRoot string
	WorkspaceName string

	// Sink receives the server's log records. Start takes ownership: the
	// sink is closed on start failure and by Dispose.
	Sink *common.LogSink

	StartTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration

	ProcessManager process.ProcessManager

	// OnExit is called when a started server's process exits without
	// Dispose having been called.
	OnExit func(s *Server, err error)
}

// Server is a running reference server bound to one workspace.
type Server struct {
	name string
	root string

	state  atomic.Int32
	sink   *common.LogSink
	pm     process.ProcessManager
	info   *process.ProcessInfo
	client *transport.Client
	port   int

	requestTimeout  time.Duration
	shutdownTimeout time.Duration

	started    atomic.Bool
	onExit     func(*Server, error)
	exitOnce   sync.Once
	disposeMu  sync.Mutex
	disposeErr error
}

// Start spawns the server for a workspace, waits for its port announcement
// and connects. Every failure is a *StartError; missing configuration is
// reported before any process is spawned.
func Start(ctx context.Context, opts Options) (*Server, error) {
	name := opts.WorkspaceName
	if name == "" {
		name = opts.WorkspaceRoot
	}

	fail := func(err error) (*Server, error) {
		_ = opts.Sink.Close()
		return nil, &StartError{Workspace: name, Err: err}
	}

	executable := strings.TrimSpace(opts.Executable)
	if executable == "" {
		return fail(ErrExecutableNotSet)
	}
	switch common.CheckPath(executable) {
	case common.PathAbsent:
		return fail(fmt.Errorf("%w: %s", ErrMissingExecutable, executable))
	case common.PathInaccessible:
		return fail(fmt.Errorf("%w: %s is not accessible", ErrMissingExecutable, executable))
	}

	s := &Server{
		name:            name,
		root:            opts.WorkspaceRoot,
		sink:            opts.Sink,
		pm:              opts.ProcessManager,
		requestTimeout:  opts.RequestTimeout,
		shutdownTimeout: opts.ShutdownTimeout,
		onExit:          opts.OnExit,
	}
	if s.pm == nil {
		s.pm = process.NewServerProcessManager()
	}
	if s.requestTimeout == 0 {
		s.requestTimeout = DefaultRequestTimeout
	}
	s.state.Store(int32(StateStarting))

	portCh := make(chan string, 1)
	var announced atomic.Bool
	stdout := process.NewLineWriter(func(line string) {
		if announced.CompareAndSwap(false, true) {
			portCh <- line
			return
		}
		s.sink.Log(common.LogDebug, line, slog.String("stream", "stdout"))
	})
	stderr := process.NewLineWriter(func(line string) {
		process.ForwardLogLine(s.sink, line)
	})

	info, err := s.pm.StartProcess(process.Config{
		Command: executable,
		Args:    []string{opts.WorkspaceRoot, jsonLogsFlag},
		Dir:     opts.WorkspaceRoot,
		Name:    name,
		Stdout:  stdout,
		Stderr:  stderr,
		OnExit: func(err error) {
			stdout.Flush()
			stderr.Flush()
			s.handleExit(err)
		},
	})
	if err != nil {
		return fail(err)
	}
	s.info = info

	startTimeout := opts.StartTimeout
	if startTimeout == 0 {
		startTimeout = DefaultStartTimeout
	}
	startCtx, cancel := common.WithOptionalTimeout(ctx, startTimeout)
	defer cancel()

	port, err := s.awaitPort(startCtx, portCh)
	if err != nil {
		return s.abortStart(err)
	}
	s.port = port

	s.state.Store(int32(StateConnecting))
	client, err := transport.Dial(startCtx, fmt.Sprintf("ws://127.0.0.1:%d", port))
	if err != nil {
		return s.abortStart(err)
	}
	s.client = client

	s.state.Store(int32(StateReady))
	s.started.Store(true)
	common.ServerLogger.Info("Reference server for %s ready on port %d", name, port)

	// The process may have died between the handshake and now.
	if info.Exited() {
		s.notifyExit(info.ExitErr())
	}
	return s, nil
}

func (s *Server) awaitPort(ctx context.Context, portCh <-chan string) (int, error) {
	select {
	case line := <-portCh:
		port, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || port <= 0 || port > 65535 {
			return 0, fmt.Errorf("%w: invalid port announcement %q", ErrNoPort, line)
		}
		return port, nil
	case <-s.info.Done():
		return 0, fmt.Errorf("%w: process exited (%v)", ErrNoPort, s.info.ExitErr())
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %v", ErrNoPort, ctx.Err())
	}
}

func (s *Server) abortStart(cause error) (*Server, error) {
	s.state.Store(int32(StateDisposed))
	if err := s.pm.StopProcess(s.info, s.shutdownTimeout); err != nil {
		common.ServerLogger.Warn("Failed to stop server for %s: %v", s.name, err)
	}
	_ = s.sink.Close()
	return nil, &StartError{Workspace: s.name, Err: cause}
}

func (s *Server) handleExit(err error) {
	if s.State() == StateDisposed {
		return
	}
	s.sink.Log(common.LogInfo, "server process exited", slog.String("status", exitStatus(err)))
	if s.started.Load() {
		s.notifyExit(err)
	}
}

func (s *Server) notifyExit(err error) {
	if s.State() == StateDisposed {
		return
	}
	s.exitOnce.Do(func() {
		common.ServerLogger.Warn("Reference server for %s exited: %s", s.name, exitStatus(err))
		if s.onExit != nil {
			s.onExit(s, err)
		}
	})
}

func exitStatus(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}

// Name returns the workspace display name.
func (s *Server) Name() string { return s.name }

// Root returns the workspace root path the server was started with.
func (s *Server) Root() string { return s.root }

// Port returns the announced TCP port.
func (s *Server) Port() int { return s.port }

// State returns the current lifecycle state.
func (s *Server) State() State { return State(s.state.Load()) }

// Done is closed when the server process has exited.
func (s *Server) Done() <-chan struct{} { return s.info.Done() }

// Status asks the server for its indexing state. Anything other than the
// three known literals is a *protocol.ProtocolError.
func (s *Server) Status(ctx context.Context) (Status, error) {
	result, err := s.call(ctx, MethodStatus, nil)
	if err != nil {
		return "", err
	}

	var raw string
	if err := json.Unmarshal(result, &raw); err != nil {
		return "", &protocol.ProtocolError{Reason: fmt.Sprintf("unexpected status result %s", result)}
	}
	status, ok := ParseStatus(raw)
	if !ok {
		return "", &protocol.ProtocolError{Reason: fmt.Sprintf("unknown status %q", raw)}
	}
	return status, nil
}

// Method returns the files referencing the queried method. No references is
// an empty slice, not an error.
func (s *Server) Method(ctx context.Context, query MethodQuery) ([]Reference, error) {
	result, err := s.call(ctx, MethodMethod, query)
	if err != nil {
		return nil, err
	}

	var refs []Reference
	if err := json.Unmarshal(result, &refs); err != nil {
		return nil, &protocol.ProtocolError{Reason: fmt.Sprintf("unexpected method result: %v", err)}
	}
	if refs == nil {
		refs = []Reference{}
	}
	return refs, nil
}

func (s *Server) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	switch s.State() {
	case StateReady:
	case StateDisposed:
		return nil, ErrDisposed
	default:
		return nil, ErrNotReady
	}

	ctx, cancel := common.WithOptionalTimeout(ctx, s.requestTimeout)
	defer cancel()

	result, err := s.client.Call(ctx, method, params)
	if err != nil {
		common.ServerLogger.Debug("Request %s to %s failed: %v", method, s.name, err)
		return nil, err
	}
	return result, nil
}

// Dispose closes the connection, terminates the process if it is still
// running and closes the log sink. Later calls return the first result.
func (s *Server) Dispose() error {
	s.disposeMu.Lock()
	defer s.disposeMu.Unlock()

	if State(s.state.Swap(int32(StateDisposed))) == StateDisposed {
		return s.disposeErr
	}

	if s.client != nil {
		_ = s.client.Close()
	}
	if err := s.pm.StopProcess(s.info, s.shutdownTimeout); err != nil {
		s.disposeErr = fmt.Errorf("failed to stop server for %s: %w", s.name, err)
	}
	if err := s.sink.Close(); err != nil && s.disposeErr == nil {
		s.disposeErr = err
	}

	common.ServerLogger.Debug("Disposed reference server for %s", s.name)
	return s.disposeErr
}
