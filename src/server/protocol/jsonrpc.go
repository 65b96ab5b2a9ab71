package protocol

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC protocol constants
const (
	JSONRPCVersion = "2.0"
)

// JSON-RPC error codes
const (
	ParseError     = -32700 // Invalid JSON was received by the server
	InvalidRequest = -32600 // The JSON sent is not a valid Request object
	MethodNotFound = -32601 // The method does not exist / is not available
	InvalidParams  = -32602 // Invalid method parameter(s)
	InternalError  = -32603 // Internal JSON-RPC error
)

// Request is an outgoing JSON-RPC 2.0 request. A nil ID makes it a
// notification.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Message is an incoming JSON-RPC message of any kind. IDs and payloads stay
// raw so they can be echoed back or decoded later.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IsRequest reports whether m carries a method and an id.
func (m *Message) IsRequest() bool { return m.Method != "" && len(m.ID) > 0 }

// IsNotification reports whether m carries a method but no id.
func (m *Message) IsNotification() bool { return m.Method != "" && len(m.ID) == 0 }

// ResponseMessage is an outgoing JSON-RPC 2.0 response.
type ResponseMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ProtocolError is returned for responses that are not valid JSON-RPC 2.0.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// Response is a validated JSON-RPC 2.0 response: exactly one of Result and
// Error is set.
type Response struct {
	ID     json.RawMessage
	Result json.RawMessage
	Error  *RPCError
}

// Err returns the response error as an error value, or nil.
func (r *Response) Err() error {
	if r.Error != nil {
		return r.Error
	}
	return nil
}

// DecodeResponse validates framing once. Anything but a well-formed 2.0
// response, including 1.0 framing and a missing version marker, yields a
// *ProtocolError.
func DecodeResponse(data []byte) (*Response, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	rawVersion, ok := fields["jsonrpc"]
	if !ok {
		return nil, &ProtocolError{Reason: "missing jsonrpc version"}
	}
	var version string
	if err := json.Unmarshal(rawVersion, &version); err != nil || version != JSONRPCVersion {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unsupported jsonrpc version %s", rawVersion)}
	}

	resp := &Response{ID: fields["id"]}
	if len(resp.ID) == 0 {
		return nil, &ProtocolError{Reason: "response has no id"}
	}

	rawResult, hasResult := fields["result"]
	rawError, hasError := fields["error"]

	switch {
	case hasResult && hasError:
		return nil, &ProtocolError{Reason: "response has both result and error"}
	case hasError:
		var rpcErr RPCError
		if err := json.Unmarshal(rawError, &rpcErr); err != nil || string(rawError) == "null" {
			return nil, &ProtocolError{Reason: fmt.Sprintf("malformed error object %s", rawError)}
		}
		resp.Error = &rpcErr
	case hasResult:
		resp.Result = rawResult
	default:
		return nil, &ProtocolError{Reason: "response has neither result nor error"}
	}

	return resp, nil
}

// NewRequest creates a request with the specified parameters
func NewRequest(method string, id interface{}, params interface{}) Request {
	return Request{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// NewResult creates a success response
func NewResult(id json.RawMessage, result interface{}) ResponseMessage {
	if result == nil {
		result = json.RawMessage("null")
	}
	return ResponseMessage{JSONRPC: JSONRPCVersion, ID: id, Result: result}
}

// NewErrorResponse creates an error response
func NewErrorResponse(id json.RawMessage, err *RPCError) ResponseMessage {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return ResponseMessage{JSONRPC: JSONRPCVersion, ID: id, Error: err}
}

// NewRPCError creates a new RPCError with the specified code and message
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

// NewMethodNotFoundError creates a method not found error (-32601)
func NewMethodNotFoundError(method string) *RPCError {
	return NewRPCError(MethodNotFound, "Method not found: "+method)
}

// NewInvalidParamsError creates an invalid params error (-32602)
func NewInvalidParamsError(reason string) *RPCError {
	return NewRPCError(InvalidParams, "Invalid params: "+reason)
}

// NewInternalError creates an internal error (-32603)
func NewInternalError(err error) *RPCError {
	return NewRPCError(InternalError, err.Error())
}
