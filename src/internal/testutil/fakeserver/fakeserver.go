// Package fakeserver lets a test binary double as a reference server. Tests
// point the server executable at os.Args[0] and call RunIfRequested from
// TestMain.
package fakeserver

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
)

// Environment variables read by the fake server.
const (
	EnvMode   = "UNITY_REFERENCES_FAKE_SERVER"
	EnvStatus = "UNITY_REFERENCES_FAKE_STATUS"
)

// Modes
const (
	ModeServe   = "serve"    // announce a port and answer requests
	ModeNoPort  = "no-port"  // never print anything
	ModeExit    = "exit"     // exit with status 3 right away
	ModeBadPort = "bad-port" // announce garbage instead of a port
)

// CrashMethod makes a serving fake exit with status 1.
const CrashMethod = "crash"

// RunIfRequested turns the process into a fake server when EnvMode is set and
// never returns in that case.
func RunIfRequested() {
	mode := os.Getenv(EnvMode)
	if mode == "" {
		return
	}
	os.Exit(run(mode, os.Args[1:]))
}

// Enable configures the environment so children of the test run as a fake
// server in the given mode.
func Enable(t interface{ Setenv(key, value string) }, mode string) {
	t.Setenv(EnvMode, mode)
}

func run(mode string, args []string) int {
	switch mode {
	case ModeNoPort:
		time.Sleep(time.Hour)
		return 0
	case ModeExit:
		fmt.Fprintln(os.Stderr, `{"level":"error","timestamp":"0","message":"cannot open project"}`)
		return 3
	case ModeBadPort:
		fmt.Println("not-a-port")
		time.Sleep(time.Hour)
		return 0
	case ModeServe:
		if len(args) != 2 || args[1] != "--json-logs" {
			fmt.Fprintf(os.Stderr, "unexpected arguments %q\n", args)
			return 2
		}
		return serve(args[0])
	default:
		fmt.Fprintf(os.Stderr, "unknown fake server mode %q\n", mode)
		return 2
	}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type methodParams struct {
	Assembly string `json:"method_assembly"`
	Name     string `json:"method_name"`
	TypeName string `json:"method_typename"`
}

func serve(root string) int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen: %v\n", err)
		return 1
	}

	fmt.Println(listener.Addr().(*net.TCPAddr).Port)
	fmt.Println("listening")
	fmt.Fprintln(os.Stderr, `{"level":"info","timestamp":"1","message":"indexing `+filepath.Base(root)+`"}`)
	fmt.Fprintln(os.Stderr, `{"level":"trace","timestamp":"2","message":"tick","file":"main.rs","line":7}`)
	fmt.Fprintln(os.Stderr, `garbage`)

	status := os.Getenv(EnvStatus)
	if status == "" {
		status = "Ready"
	}

	upgrader := websocket.Upgrader{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		for {
			var req request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}

			var reply map[string]interface{}
			switch req.Method {
			case "status":
				reply = result(req.ID, status)
			case "method":
				var p methodParams
				_ = json.Unmarshal(req.Params, &p)
				reply = result(req.ID, references(root, p))
			case CrashMethod:
				os.Exit(1)
			default:
				reply = map[string]interface{}{
					"jsonrpc": "2.0",
					"id":      req.ID,
					"error":   map[string]interface{}{"code": -32601, "message": "Method not found", "data": "UnknownMethod"},
				}
			}
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	})

	_ = http.Serve(listener, handler)
	return 0
}

func result(id json.RawMessage, value interface{}) map[string]interface{} {
	return map[string]interface{}{"jsonrpc": "2.0", "id": id, "result": value}
}

func references(root string, p methodParams) []map[string]string {
	if p.Name == "Unused" {
		return []map[string]string{}
	}
	return []map[string]string{
		{"file": filepath.Join(root, "Assets", "Scripts", p.TypeName+".cs")},
		{"file": filepath.Join(root, "Assets", "Scripts", "Caller.cs")},
	}
}
