// Package bridge serves the workspace registry to an editor over stdio using
// Content-Length framed JSON-RPC, the transport language servers use.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"golang.org/x/sync/errgroup"

	"unity-references/src/internal/common"
	"unity-references/src/internal/version"
	"unity-references/src/server"
	"unity-references/src/server/protocol"
	"unity-references/src/workspace"
)

// ServerName is reported in the initialize result.
const ServerName = "unity-references"

// Workspaces is the registry surface the bridge drives.
type Workspaces interface {
	ActivateAll(ctx context.Context, folders []workspace.Folder) error
	OnWorkspaceFoldersChanged(ctx context.Context, event lsp.WorkspaceFoldersChangeEvent) error
	ResolveServer(file uri.URI) (workspace.Server, bool)
	ResolveAssembly(file uri.URI) (string, bool)
	Restart(ctx context.Context) error
	Entries() []workspace.Entry
	Close() error
}

// Bridge handles one editor session.
type Bridge struct {
	workspaces Workspaces

	writeMu sync.Mutex
	output  io.Writer

	ctx        context.Context
	cancel     context.CancelFunc
	background sync.WaitGroup

	initialized  atomic.Bool
	shuttingDown atomic.Bool
}

// New creates a bridge over workspaces. The bridge closes workspaces when the
// session ends.
func New(workspaces Workspaces) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		workspaces: workspaces,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run serves requests from input until the exit notification or end of input.
// All servers are disposed before it returns.
func (b *Bridge) Run(input io.Reader, output io.Writer) error {
	b.output = output
	defer b.close()

	reader := bufio.NewReader(input)
	for {
		data, err := protocol.ReadFramed(reader)
		if errors.Is(err, io.EOF) {
			common.BridgeLogger.Info("Input closed, shutting down")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			common.BridgeLogger.Error("decode error: %v", err)
			b.reply(protocol.NewErrorResponse(nil, protocol.NewRPCError(protocol.ParseError, err.Error())))
			continue
		}

		switch {
		case msg.IsRequest():
			b.goBackground(func() { b.reply(b.safeHandleRequest(&msg)) })
		case msg.IsNotification():
			if msg.Method == lsp.MethodExit {
				if !b.shuttingDown.Load() {
					common.BridgeLogger.Warn("Exit received without shutdown")
				}
				return nil
			}
			b.handleNotification(&msg)
		default:
			common.BridgeLogger.Debug("Ignoring message without method (id %s)", string(msg.ID))
		}
	}
}

func (b *Bridge) close() {
	b.cancel()
	b.background.Wait()
	if err := b.workspaces.Close(); err != nil {
		common.BridgeLogger.Warn("Failed to close workspaces: %v", err)
	}
}

func (b *Bridge) goBackground(fn func()) {
	b.background.Add(1)
	go func() {
		defer b.background.Done()
		fn()
	}()
}

// safeHandleRequest turns a panicking handler into an internal error response.
func (b *Bridge) safeHandleRequest(msg *protocol.Message) (resp protocol.ResponseMessage) {
	defer func() {
		if r := recover(); r != nil {
			common.BridgeLogger.Error("Panic while handling %s: %v", msg.Method, r)
			resp = protocol.NewErrorResponse(msg.ID, protocol.NewInternalError(fmt.Errorf("%v", r)))
		}
	}()
	return b.handleRequest(msg)
}

func (b *Bridge) handleRequest(msg *protocol.Message) protocol.ResponseMessage {
	if msg.JSONRPC != protocol.JSONRPCVersion {
		return protocol.NewErrorResponse(msg.ID, protocol.NewRPCError(protocol.InvalidRequest, "jsonrpc must be 2.0"))
	}

	if msg.Method != lsp.MethodInitialize && !b.initialized.Load() {
		return protocol.NewErrorResponse(msg.ID, protocol.NewRPCError(CodeServerNotInitialized, "server not initialized"))
	}
	if msg.Method != lsp.MethodShutdown && b.shuttingDown.Load() {
		return protocol.NewErrorResponse(msg.ID, protocol.NewRPCError(protocol.InvalidRequest, "server is shutting down"))
	}

	var (
		result interface{}
		rpcErr *protocol.RPCError
	)
	switch msg.Method {
	case lsp.MethodInitialize:
		result, rpcErr = b.handleInitialize(msg.Params)
	case lsp.MethodShutdown:
		b.shuttingDown.Store(true)
	case MethodUnityStatus:
		result = b.handleStatus()
	case MethodUnityReferences:
		result, rpcErr = b.handleReferences(msg.Params)
	case MethodUnityRestart:
		rpcErr = b.handleRestart()
	default:
		rpcErr = protocol.NewMethodNotFoundError(msg.Method)
	}

	if rpcErr != nil {
		return protocol.NewErrorResponse(msg.ID, rpcErr)
	}
	return protocol.NewResult(msg.ID, result)
}

func (b *Bridge) handleNotification(msg *protocol.Message) {
	switch msg.Method {
	case lsp.MethodInitialized:
	case lsp.MethodWorkspaceDidChangeWorkspaceFolders:
		var params lsp.DidChangeWorkspaceFoldersParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			common.BridgeLogger.Error("Invalid %s params: %v", msg.Method, err)
			return
		}
		b.goBackground(func() {
			if err := b.workspaces.OnWorkspaceFoldersChanged(b.ctx, params.Event); err != nil {
				b.showMessage(lsp.MessageTypeError, err.Error())
			}
		})
	default:
		common.BridgeLogger.Debug("Ignoring notification %s", msg.Method)
	}
}

func (b *Bridge) handleInitialize(raw json.RawMessage) (interface{}, *protocol.RPCError) {
	if b.initialized.Load() {
		return nil, protocol.NewRPCError(protocol.InvalidRequest, "already initialized")
	}

	var params lsp.InitializeParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, protocol.NewInvalidParamsError(err.Error())
		}
	}

	protoFolders := params.WorkspaceFolders
	if len(protoFolders) == 0 && params.RootURI != "" {
		protoFolders = []lsp.WorkspaceFolder{{URI: string(params.RootURI)}}
	}
	folders, err := workspace.FoldersFromProtocol(protoFolders)
	if err != nil {
		return nil, protocol.NewInvalidParamsError(err.Error())
	}

	if !b.initialized.CompareAndSwap(false, true) {
		return nil, protocol.NewRPCError(protocol.InvalidRequest, "already initialized")
	}

	b.goBackground(func() {
		if err := b.workspaces.ActivateAll(b.ctx, folders); err != nil {
			b.showMessage(lsp.MessageTypeError, err.Error())
		}
	})

	return lsp.InitializeResult{
		Capabilities: lsp.ServerCapabilities{
			Workspace: &lsp.ServerCapabilitiesWorkspace{
				WorkspaceFolders: &lsp.ServerCapabilitiesWorkspaceFolders{
					Supported:           true,
					ChangeNotifications: true,
				},
			},
		},
		ServerInfo: &lsp.ServerInfo{Name: ServerName, Version: version.GetVersion()},
	}, nil
}

func (b *Bridge) handleStatus() StatusResult {
	entries := b.workspaces.Entries()
	statuses := make([]WorkspaceStatus, len(entries))

	var g errgroup.Group
	for i, entry := range entries {
		g.Go(func() error {
			st := WorkspaceStatus{
				Name:  entry.Folder.Name,
				URI:   string(entry.Folder.URI),
				Files: entry.Index.FileCount(),
			}
			status, err := entry.Server.Status(b.ctx)
			if err != nil {
				st.Error = err.Error()
			} else {
				st.Status = string(status)
			}
			statuses[i] = st
			return nil
		})
	}
	_ = g.Wait()
	return StatusResult{Workspaces: statuses}
}

// handleReferences returns a null result when the document is not part of an
// active Unity workspace.
func (b *Bridge) handleReferences(raw json.RawMessage) (interface{}, *protocol.RPCError) {
	var params ReferencesParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, protocol.NewInvalidParamsError(err.Error())
	}
	doc := params.TextDocument.URI
	if doc == "" {
		return nil, protocol.NewInvalidParamsError("textDocument.uri is required")
	}

	srv, ok := b.workspaces.ResolveServer(doc)
	if !ok {
		common.BridgeLogger.Debug("Could not find server for file %s", doc)
		return nil, nil
	}
	assembly, ok := b.workspaces.ResolveAssembly(doc)
	if !ok {
		common.BridgeLogger.Debug("Could not find assembly for file %s", doc)
		return nil, nil
	}

	methods := make([]MethodReferences, len(params.Methods))
	g, ctx := errgroup.WithContext(b.ctx)
	for i, m := range params.Methods {
		g.Go(func() error {
			refs, err := srv.Method(ctx, server.MethodQuery{
				Assembly: assembly,
				Name:     m.Name,
				TypeName: m.TypeName,
			})
			if err != nil {
				return fmt.Errorf("method %s.%s: %w", m.TypeName, m.Name, err)
			}
			methods[i] = newMethodReferences(m, refs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		common.BridgeLogger.Error("Reference query failed: %v", err)
		return nil, protocol.NewRPCError(CodeRequestFailed, err.Error())
	}

	return ReferencesResult{Assembly: assembly, Methods: methods}, nil
}

func newMethodReferences(m MethodSymbol, refs []server.Reference) MethodReferences {
	locations := make([]lsp.Location, len(refs))
	for i, ref := range refs {
		locations[i] = lsp.Location{URI: uri.File(ref.File)}
	}
	return MethodReferences{
		Method:     m,
		Title:      fmt.Sprintf("%d editor references", len(refs)),
		Kind:       ReferenceKind,
		References: refs,
		Locations:  locations,
	}
}

func (b *Bridge) handleRestart() *protocol.RPCError {
	if err := b.workspaces.Restart(b.ctx); err != nil {
		return protocol.NewRPCError(CodeRequestFailed, err.Error())
	}
	return nil
}

func (b *Bridge) showMessage(kind lsp.MessageType, message string) {
	b.write(protocol.NewRequest(lsp.MethodWindowShowMessage, nil, lsp.ShowMessageParams{
		Type:    kind,
		Message: message,
	}))
}

func (b *Bridge) reply(resp protocol.ResponseMessage) {
	b.write(resp)
}

func (b *Bridge) write(v interface{}) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := protocol.WriteFramed(b.output, v); err != nil {
		common.BridgeLogger.Error("write error: %v", err)
	}
}
