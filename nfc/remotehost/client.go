package remotehost

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nedpals/davi-nfc-session/nfc"
	"github.com/nedpals/davi-nfc-session/protocol"
)

// client is one registered websocket connection.
type client struct {
	id   string
	info protocol.RegisterPayload
	conn *websocket.Conn

	writeMu sync.Mutex // gorilla/websocket allows one concurrent writer

	mu         sync.Mutex
	pending    map[string]chan protocol.ResponsePayload
	permission nfc.PermissionState
	closed     chan struct{}
	closeOnce  sync.Once
}

func newClient(conn *websocket.Conn, info protocol.RegisterPayload) *client {
	permission := nfc.PermissionState(info.Permission)
	if permission == "" {
		permission = nfc.PermissionPrompt
	}
	return &client{
		id:         uuid.NewString(),
		info:       info,
		conn:       conn,
		pending:    make(map[string]chan protocol.ResponsePayload),
		permission: permission,
		closed:     make(chan struct{}),
	}
}

func (c *client) send(env protocol.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

func (c *client) sendMessage(id, msgType string, payload any) error {
	env, err := protocol.NewEnvelope(id, msgType, payload)
	if err != nil {
		return err
	}
	return c.send(env)
}

// call sends a command and waits for its response. When ctx ends first the
// client is told to abort the command.
func (c *client) call(ctx context.Context, msgType string, payload any) error {
	id := uuid.NewString()
	respCh := make(chan protocol.ResponsePayload, 1)

	c.mu.Lock()
	c.pending[id] = respCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.sendMessage(id, msgType, payload); err != nil {
		return nfc.NewHostError(nfc.HostErrNetwork, "send "+msgType+": "+err.Error())
	}

	select {
	case resp := <-respCh:
		if !resp.Success {
			return toHostError(resp.Error)
		}
		return nil
	case <-ctx.Done():
		_ = c.sendMessage(id, protocol.TypeAbort, nil)
		return ctx.Err()
	case <-c.closed:
		return nfc.NewHostError(nfc.HostErrNetwork, "remote client disconnected")
	}
}

// resolve hands a response to the command waiting for it.
func (c *client) resolve(id string, resp protocol.ResponsePayload) bool {
	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- resp:
	default:
	}
	return true
}

func (c *client) setPermission(state nfc.PermissionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.permission = state
}

func (c *client) getPermission() nfc.PermissionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.permission
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}
