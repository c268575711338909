// Package client speaks the sync protocol from the editor side.
//
// Calls are correlated by id, so a Client can be shared by goroutines.
// Subscribers are invoked on the connection's read goroutine and must not
// block or make calls on the same Client.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pagesync/pkg/protocol"

	"github.com/gorilla/websocket"
)

var (
	// ErrClosed is returned by calls made on, or pending when, the connection closes.
	ErrClosed = errors.New("client closed")
	// ErrRejected is returned when the server answers with a failure result.
	ErrRejected = errors.New("request rejected by server")
)

// EventHandler receives newEvent notifications.
type EventHandler func(workspaceID, pageID string, event json.RawMessage)

type subscribers struct {
	next int
	fns  map[int]EventHandler
}

func (s *subscribers) add(fn EventHandler) int {
	if s.fns == nil {
		s.fns = make(map[int]EventHandler)
	}
	s.next++
	s.fns[s.next] = fn
	return s.next
}

func (s *subscribers) list() []EventHandler {
	out := make([]EventHandler, 0, len(s.fns))
	for _, fn := range s.fns {
		out = append(out, fn)
	}
	return out
}

type Client struct {
	conn *websocket.Conn
	id   string

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu       sync.Mutex
	pending  map[uint64]chan json.RawMessage
	all      subscribers
	own      subscribers
	external subscribers
	closed   bool
	done     chan struct{}
	err      error
}

// Dial connects to the sync endpoint at url (ws://host/ws) and waits for the
// server's welcome frame.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	}
	var welcome protocol.Frame
	if err := conn.ReadJSON(&welcome); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	if welcome.Type != protocol.TypeWelcome || welcome.ConnectionID == "" {
		conn.Close()
		return nil, fmt.Errorf("unexpected first frame %q", welcome.Type)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:    conn,
		id:      welcome.ConnectionID,
		pending: make(map[uint64]chan json.RawMessage),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// ConnectionID is the id the server tags this connection's events with.
func (c *Client) ConnectionID() string {
	return c.id
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts the connection and fails pending calls with ErrClosed.
func (c *Client) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.shutdown(ErrClosed)
	return c.conn.Close()
}

func (c *Client) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	c.pending = make(map[uint64]chan json.RawMessage)
	close(c.done)
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case protocol.TypeResponse:
			c.mu.Lock()
			ch, ok := c.pending[frame.ID]
			delete(c.pending, frame.ID)
			c.mu.Unlock()
			if ok {
				ch <- frame.Result
			}
		case protocol.TypeNewEvent:
			c.notify(frame)
		}
	}
}

func (c *Client) notify(frame protocol.Frame) {
	c.mu.Lock()
	fns := c.all.list()
	if frame.ConnectionID == c.id {
		fns = append(fns, c.own.list()...)
	} else {
		fns = append(fns, c.external.list()...)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(frame.WorkspaceID, frame.PageID, frame.Event)
	}
}

func (c *Client) subscribe(set *subscribers, fn EventHandler) func() {
	c.mu.Lock()
	id := set.add(fn)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(set.fns, id)
		c.mu.Unlock()
	}
}

// Subscribe registers fn for every newEvent notification. The returned func
// unsubscribes.
func (c *Client) Subscribe(fn EventHandler) func() {
	return c.subscribe(&c.all, fn)
}

// SubscribeOwn registers fn for the echoes of events this connection posted.
func (c *Client) SubscribeOwn(fn EventHandler) func() {
	return c.subscribe(&c.own, fn)
}

// SubscribeExternal registers fn for events posted by other connections.
func (c *Client) SubscribeExternal(fn EventHandler) func() {
	return c.subscribe(&c.external, fn)
}

func (c *Client) call(ctx context.Context, method, workspaceID string, params any, out any) error {
	var raw json.RawMessage
	if params != nil {
		var err error
		if raw, err = json.Marshal(params); err != nil {
			return err
		}
	}

	id := c.nextID.Add(1)
	ch := make(chan json.RawMessage, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(protocol.Request{ID: id, Method: method, WorkspaceID: workspaceID, Params: raw})
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return fmt.Errorf("%s: %w", method, err)
	}

	select {
	case result := <-ch:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// callBool runs a mutation and maps a false result to ErrRejected.
func (c *Client) callBool(ctx context.Context, method, workspaceID string, params any) error {
	var ok bool
	if err := c.call(ctx, method, workspaceID, params, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", method, ErrRejected)
	}
	return nil
}
