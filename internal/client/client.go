package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/scienceol/barista/internal/power"
	"github.com/scienceol/barista/internal/protocol"
)

const writeTimeout = 10 * time.Second

// ErrClosed is returned by calls on a closed or disconnected client.
var ErrClosed = errors.New("control connection closed")

// Client talks to a running barista over its control websocket.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.Response
	err     error

	events chan protocol.StatusPayload
	done   chan struct{}
}

// Dial connects to the control endpoint at url (ws://host:port/ws).
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	c := &Client{
		conn:    conn,
		pending: make(map[string]chan protocol.Response),
		events:  make(chan protocol.StatusPayload, 1),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers pushed status updates. Only the latest unread update is
// kept. The channel is never closed; use Done.
func (c *Client) Events() <-chan protocol.StatusPayload {
	return c.events
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Status fetches the current status.
func (c *Client) Status(ctx context.Context) (protocol.StatusPayload, error) {
	return c.call(ctx, protocol.TypeStatus, nil)
}

// SetEnabled requests the helper on or off and returns the status right
// after the request was applied.
func (c *Client) SetEnabled(ctx context.Context, enabled bool) (protocol.StatusPayload, error) {
	return c.call(ctx, protocol.TypeSetEnabled, protocol.SetEnabledPayload{Enabled: enabled})
}

// SetOptions sets the options for the next helper spawn.
func (c *Client) SetOptions(ctx context.Context, opts power.Options) (protocol.StatusPayload, error) {
	return c.call(ctx, protocol.TypeSetOptions, protocol.SetOptionsPayload{Options: opts})
}

func (c *Client) call(ctx context.Context, typ string, payload any) (protocol.StatusPayload, error) {
	var st protocol.StatusPayload

	req := protocol.Request{ID: uuid.NewString(), Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return st, err
		}
		req.Payload = raw
	}

	ch := make(chan protocol.Response, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return st, c.err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if err := c.write(req); err != nil {
		return st, fmt.Errorf("send %s: %w", typ, err)
	}

	var resp protocol.Response
	select {
	case resp = <-ch:
	case <-c.done:
		return st, c.Err()
	case <-ctx.Done():
		return st, ctx.Err()
	}

	if !resp.Success {
		var e protocol.ErrorPayload
		if err := json.Unmarshal(resp.Payload, &e); err != nil {
			return st, fmt.Errorf("%s failed", typ)
		}
		return st, fmt.Errorf("%s failed: %s", typ, e.Error)
	}
	if err := json.Unmarshal(resp.Payload, &st); err != nil {
		return st, fmt.Errorf("decode %s: %w", resp.Type, err)
	}
	return st, nil
}

func (c *Client) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *Client) readLoop() {
	var err error
	defer func() {
		c.mu.Lock()
		c.err = fmt.Errorf("%w: %v", ErrClosed, err)
		c.mu.Unlock()
		close(c.done)
	}()

	for {
		var resp protocol.Response
		if err = c.conn.ReadJSON(&resp); err != nil {
			return
		}

		switch {
		case resp.Type == protocol.TypePing:
			_ = c.write(protocol.Request{Type: protocol.TypePong})
		case resp.ID == "" && resp.Type == protocol.TypeStatus:
			var st protocol.StatusPayload
			if json.Unmarshal(resp.Payload, &st) == nil {
				c.publish(st)
			}
		default:
			c.mu.Lock()
			ch := c.pending[resp.ID]
			c.mu.Unlock()
			if ch != nil {
				ch <- resp
			}
		}
	}
}

// publish keeps only the newest event; readLoop is the only sender.
func (c *Client) publish(st protocol.StatusPayload) {
	select {
	case <-c.events:
	default:
	}
	c.events <- st
}

// Watch calls fn with every status update from url until ctx is done,
// reconnecting with backoff whenever the connection drops. onDisconnect,
// if set, is called with the reason each time.
func Watch(ctx context.Context, url string, fn func(protocol.StatusPayload), onDisconnect func(error)) error {
	r := NewReconnector()
	for {
		err := watchOnce(ctx, url, fn, r)
		if ctx.Err() != nil {
			return nil
		}
		if onDisconnect != nil {
			onDisconnect(err)
		}
		if !r.Wait(ctx) {
			return nil
		}
	}
}

func watchOnce(ctx context.Context, url string, fn func(protocol.StatusPayload), r *Reconnector) error {
	c, err := Dial(ctx, url)
	if err != nil {
		return err
	}
	defer c.Close()

	// Successful handshake — reset backoff for next disconnect
	r.Reset()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.Done():
			return c.Err()
		case st := <-c.Events():
			fn(st)
		}
	}
}
