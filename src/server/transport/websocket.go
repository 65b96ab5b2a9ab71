// Package transport carries JSON-RPC 2.0 calls to a reference server over a
// WebSocket.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"unity-references/src/internal/common"
	"unity-references/src/internal/constants"
	"unity-references/src/server/protocol"
)

// ErrClosed is returned for calls on, or pending during, a closed connection.
var ErrClosed = errors.New("connection closed")

const closeGracePeriod = constants.CloseGracePeriod

type callResult struct {
	resp *protocol.Response
	err  error
}

// Client is a JSON-RPC client over one WebSocket connection. Calls may be
// issued concurrently; responses are matched by id.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan callResult
	nextID  atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Dial opens a connection to url and starts reading responses.
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: constants.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake with %s failed (HTTP %d): %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	return newClient(conn), nil
}

func newClient(conn *websocket.Conn) *Client {
	c := &Client{
		conn:    conn,
		pending: make(map[string]chan callResult),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Call sends method with params and waits for the matching response. An error
// response is returned as *protocol.RPCError, bad framing as
// *protocol.ProtocolError.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}

	id := c.nextID.Add(1)
	key := strconv.FormatInt(id, 10)
	ch := make(chan callResult, 1)

	c.mu.Lock()
	c.pending[key] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(protocol.NewRequest(method, id, params))
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send request %s: %w", method, err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if err := res.resp.Err(); err != nil {
			return nil, err
		}
		return res.resp.Result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("request %s: %w", method, ctx.Err())
	case <-c.done:
		return nil, ErrClosed
	}
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and tears the connection down. Pending calls fail
// with ErrClosed. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	<-c.done
	return c.closeErr
}

func (c *Client) readLoop() {
	defer c.failPending()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				common.ServerLogger.Debug("Websocket read ended: %v", err)
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var envelope struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		common.ServerLogger.Warn("Dropping unparsable message: %v", err)
		return
	}
	if envelope.Method != "" {
		common.ServerLogger.Debug("Ignoring server-initiated message %s", envelope.Method)
		return
	}

	key := string(envelope.ID)
	c.mu.Lock()
	ch, ok := c.pending[key]
	c.mu.Unlock()
	if !ok {
		common.ServerLogger.Warn("No matching request found for response: id=%s", key)
		return
	}

	resp, err := protocol.DecodeResponse(data)
	select {
	case ch <- callResult{resp: resp, err: err}:
	default:
		common.ServerLogger.Warn("Duplicate response for request id=%s", key)
	}
}

func (c *Client) failPending() {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	close(c.done)
}
