package bridge

import (
	"go.lsp.dev/protocol"

	"unity-references/src/server"
)

// Methods served in addition to the LSP lifecycle.
const (
	MethodUnityStatus     = "unity/status"
	MethodUnityReferences = "unity/references"
	MethodUnityRestart    = "unity/restart"
)

// Error codes beyond the JSON-RPC base set, as LSP defines them.
const (
	CodeServerNotInitialized = -32002
	CodeRequestFailed        = -32803
)

// ReferenceKind tags a show-references payload.
const ReferenceKind = "method"

// WorkspaceStatus is one active workspace as reported by unity/status.
type WorkspaceStatus struct {
	Name   string `json:"name"`
	URI    string `json:"uri"`
	Status string `json:"status,omitempty"`
	Files  int    `json:"files"`
	Error  string `json:"error,omitempty"`
}

// StatusResult is the result of unity/status.
type StatusResult struct {
	Workspaces []WorkspaceStatus `json:"workspaces"`
}

// MethodSymbol names a method declared in a document.
type MethodSymbol struct {
	Name     string          `json:"name"`
	TypeName string          `json:"typeName"`
	Range    *protocol.Range `json:"range,omitempty"`
}

// ReferencesParams asks for the editor references of methods in one document.
type ReferencesParams struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	Methods      []MethodSymbol                  `json:"methods"`
}

// MethodReferences is the show-references payload for one method. Title is
// ready to be used as a code lens label.
type MethodReferences struct {
	Method     MethodSymbol        `json:"method"`
	Title      string              `json:"title"`
	Kind       string              `json:"kind"`
	References []server.Reference  `json:"references"`
	Locations  []protocol.Location `json:"locations"`
}

// ReferencesResult is the result of unity/references.
type ReferencesResult struct {
	Assembly string             `json:"assembly"`
	Methods  []MethodReferences `json:"methods"`
}
