package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResponseResult(t *testing.T) {
	resp, err := DecodeResponse([]byte(`{"jsonrpc":"2.0","id":3,"result":"Ready"}`))
	require.NoError(t, err)
	assert.Nil(t, resp.Error)
	assert.NoError(t, resp.Err())
	assert.JSONEq(t, `"Ready"`, string(resp.Result))
	assert.Equal(t, "3", string(resp.ID))
}

func TestDecodeResponseNullResult(t *testing.T) {
	resp, err := DecodeResponse([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
	require.NoError(t, err)
	assert.Equal(t, "null", string(resp.Result))
}

func TestDecodeResponseError(t *testing.T) {
	resp, err := DecodeResponse([]byte(`{"jsonrpc":"2.0","id":4,"error":{"code":-32000,"message":"boom","data":{"kind":"NotReady"}}}`))
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32000, resp.Error.Code)
	assert.Equal(t, "boom", resp.Error.Message)
	assert.JSONEq(t, `{"kind":"NotReady"}`, string(resp.Error.Data))

	var rpcErr *RPCError
	require.ErrorAs(t, resp.Err(), &rpcErr)
	assert.Contains(t, rpcErr.Error(), "boom")
}

func TestDecodeResponseProtocolErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing version", `{"id":1,"result":"Ready"}`},
		{"version 1.0 framing", `{"id":1,"result":"Ready","error":null}`},
		{"explicit 1.0", `{"jsonrpc":"1.0","id":1,"result":"Ready"}`},
		{"numeric version", `{"jsonrpc":2,"id":1,"result":"Ready"}`},
		{"both result and error", `{"jsonrpc":"2.0","id":1,"result":1,"error":{"code":1,"message":"x"}}`},
		{"neither", `{"jsonrpc":"2.0","id":1}`},
		{"null error", `{"jsonrpc":"2.0","id":1,"error":null}`},
		{"no id", `{"jsonrpc":"2.0","result":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResponse([]byte(tt.body))
			var protoErr *ProtocolError
			assert.ErrorAs(t, err, &protoErr)
		})
	}
}

func TestFramingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFramed(&buf, NewRequest("unity/status", 1, nil)))
	require.NoError(t, WriteFramed(&buf, NewResult(json.RawMessage("7"), []string{"a"})))
	assert.True(t, strings.HasPrefix(buf.String(), "Content-Length: "))

	reader := bufio.NewReader(&buf)

	first, err := ReadFramed(reader)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(first, &msg))
	assert.Equal(t, "unity/status", msg.Method)
	assert.True(t, msg.IsRequest())

	second, err := ReadFramed(reader)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"result":["a"]}`, string(second))

	_, err = ReadFramed(reader)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFramedExtraHeaders(t *testing.T) {
	body := `{"jsonrpc":"2.0","method":"exit"}`
	input := "Content-Type: application/vscode-jsonrpc; charset=utf-8\r\ncontent-length: " +
		"33\r\n\r\n" + body

	got, err := ReadFramed(bufio.NewReader(strings.NewReader(input)))
	require.NoError(t, err)
	assert.Equal(t, body, string(got))

	var msg Message
	require.NoError(t, json.Unmarshal(got, &msg))
	assert.True(t, msg.IsNotification())
}

func TestReadFramedErrors(t *testing.T) {
	_, err := ReadFramed(bufio.NewReader(strings.NewReader("Content-Length: abc\r\n\r\n{}")))
	assert.Error(t, err)

	_, err = ReadFramed(bufio.NewReader(strings.NewReader("Content-Length: 10\r\n\r\n{}")))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}

func TestErrorResponses(t *testing.T) {
	resp := NewErrorResponse(nil, NewMethodNotFoundError("nope"))
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32601,"message":"Method not found: nope"}}`, string(data))

	data, err = json.Marshal(NewResult(json.RawMessage(`"abc"`), nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"abc","result":null}`, string(data))
}
