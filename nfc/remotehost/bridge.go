// Package remotehost implements the nfc host capability on top of a remote
// Web NFC client (a browser page or phone app) connected over a websocket.
//
// The client registers, then executes scan, write, makeReadOnly and abort
// commands sent by the bridge and pushes every tag it reads back as a
// reading event.
package remotehost

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/nedpals/davi-nfc-session/buildinfo"
	"github.com/nedpals/davi-nfc-session/nfc"
	"github.com/nedpals/davi-nfc-session/protocol"
	"github.com/rs/zerolog"
)

// ReadingErrorName is the host error name used for tags the client could not
// read.
const ReadingErrorName = "NotReadableError"

// ClientInfo describes the registered client.
type ClientInfo struct {
	ID              string
	Name            string
	Platform        string
	CanMakeReadOnly bool
}

// Bridge is an nfc.HostProvider and http.Handler. One client is served at a
// time; a newly registered client replaces the previous one.
type Bridge struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	client *client
	host   *Host // host of the latest session, receives readings
}

// NewBridge creates a bridge logging through logger.
func NewBridge(logger zerolog.Logger) *Bridge {
	return &Bridge{
		log: logger.With().Str("component", "remotehost").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
	}
}

// Available reports whether a client is registered.
func (b *Bridge) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client != nil
}

// NewHost returns a host bound to the registered client.
func (b *Bridge) NewHost() (nfc.Host, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return nil, nfc.NewHostError(nfc.HostErrNotSupported, "no remote NFC client connected")
	}
	h := newHost(b.client)
	b.host = h
	if b.client.info.CanMakeReadOnly {
		return &readOnlyHost{Host: h}, nil
	}
	return h, nil
}

// QueryPermission returns the permission state last reported by the client.
func (b *Bridge) QueryPermission(ctx context.Context) (nfc.PermissionState, error) {
	b.mu.Lock()
	c := b.client
	b.mu.Unlock()

	if c == nil {
		return nfc.PermissionDenied, fmt.Errorf("no remote NFC client connected")
	}
	return c.getPermission(), nil
}

// Client returns the registered client, if any.
func (b *Bridge) Client() (ClientInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return ClientInfo{}, false
	}
	return ClientInfo{
		ID:              b.client.id,
		Name:            b.client.info.Name,
		Platform:        b.client.info.Platform,
		CanMakeReadOnly: b.client.info.CanMakeReadOnly,
	}, true
}

// Close disconnects the registered client.
func (b *Bridge) Close() {
	b.mu.Lock()
	c := b.client
	b.mu.Unlock()

	if c != nil {
		c.close()
	}
}

// ServeHTTP upgrades the request and serves one client until it disconnects.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	b.log.Debug().Str("remote", r.RemoteAddr).Msg("websocket connected")

	c, err := b.register(conn)
	if err != nil {
		b.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("registration failed")
		conn.Close()
		return
	}
	defer b.disconnect(c)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			b.log.Debug().Err(err).Str("client", c.id).Msg("failed to parse message")
			b.sendError(c, "", protocol.ErrCodeParse, "Invalid message format")
			continue
		}
		b.route(c, env)
	}
}

// register waits for the register message and makes the client current.
func (b *Bridge) register(conn *websocket.Conn) (*client, error) {
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read registration: %w", err)
	}
	if messageType != websocket.TextMessage {
		return nil, fmt.Errorf("expected text message, got type %d", messageType)
	}

	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		writeClientError(conn, "", protocol.ErrCodeParse, "Invalid message format")
		return nil, fmt.Errorf("parse registration: %w", err)
	}
	if env.Type != protocol.TypeRegister {
		writeClientError(conn, env.ID, protocol.ErrCodeInvalidMessageType, fmt.Sprintf("Expected '%s' message", protocol.TypeRegister))
		return nil, fmt.Errorf("expected %q, got %q", protocol.TypeRegister, env.Type)
	}

	var info protocol.RegisterPayload
	if err := env.Decode(&info); err != nil {
		writeClientError(conn, env.ID, protocol.ErrCodeInvalidPayload, "Invalid registration payload")
		return nil, err
	}
	if info.Name == "" {
		writeClientError(conn, env.ID, protocol.ErrCodeInvalidPayload, "Client name is required")
		return nil, fmt.Errorf("client name is required")
	}

	c := newClient(conn, info)

	b.mu.Lock()
	prev := b.client
	b.client = c
	b.mu.Unlock()

	if prev != nil {
		b.log.Info().Str("client", prev.id).Msg("client replaced by a new registration")
		prev.close()
	}

	if err := c.sendMessage(env.ID, protocol.TypeRegistered, protocol.RegisteredPayload{
		ClientID: c.id,
		ServerInfo: protocol.ServerInfo{
			Name:    buildinfo.Name,
			Version: buildinfo.Version,
		},
	}); err != nil {
		b.disconnect(c)
		return nil, fmt.Errorf("send registration response: %w", err)
	}
	b.log.Info().
		Str("client", c.id).
		Str("name", info.Name).
		Str("platform", info.Platform).
		Bool("canMakeReadOnly", info.CanMakeReadOnly).
		Msg("client registered")
	return c, nil
}

func (b *Bridge) disconnect(c *client) {
	c.close()

	b.mu.Lock()
	var h *Host
	if b.client == c {
		b.client = nil
	}
	if b.host != nil && b.host.client == c {
		h = b.host
		b.host = nil
	}
	b.mu.Unlock()

	if h != nil {
		h.fail(nfc.NewHostError(nfc.HostErrNetwork, "remote client disconnected"))
	}
	b.log.Info().Str("client", c.id).Msg("client disconnected")
}

func (b *Bridge) route(c *client, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeResponse:
		var resp protocol.ResponsePayload
		if err := env.Decode(&resp); err != nil {
			b.sendError(c, env.ID, protocol.ErrCodeInvalidPayload, err.Error())
			return
		}
		if !c.resolve(env.ID, resp) {
			b.log.Debug().Str("client", c.id).Str("id", env.ID).Msg("response for unknown request")
			b.sendError(c, env.ID, protocol.ErrCodeUnknownRequest, "No pending request with this id")
		}

	case protocol.TypeReading:
		var data protocol.ReadingPayload
		if err := env.Decode(&data); err != nil {
			b.sendError(c, env.ID, protocol.ErrCodeInvalidPayload, err.Error())
			return
		}
		ev, err := FromReadingPayload(data)
		if err != nil {
			b.sendError(c, env.ID, protocol.ErrCodeInvalidPayload, err.Error())
			return
		}
		if h := b.hostFor(c); h == nil || !h.deliver(ev) {
			b.log.Debug().Str("client", c.id).Str("serial", ev.SerialNumber).Msg("reading dropped, no active session")
		}

	case protocol.TypeReadingError:
		var data protocol.ReadingErrorPayload
		if err := env.Decode(&data); err != nil {
			data.Message = "tag could not be read"
		}
		if h := b.hostFor(c); h == nil || !h.fail(nfc.NewHostError(ReadingErrorName, data.Message)) {
			b.log.Debug().Str("client", c.id).Msg("reading error dropped, no active session")
		}

	case protocol.TypePermission:
		var data protocol.PermissionPayload
		if err := env.Decode(&data); err != nil {
			b.sendError(c, env.ID, protocol.ErrCodeInvalidPayload, err.Error())
			return
		}
		c.setPermission(nfc.PermissionState(data.State))
		b.log.Debug().Str("client", c.id).Str("state", data.State).Msg("permission state changed")

	default:
		b.log.Debug().Str("client", c.id).Str("type", env.Type).Msg("unknown message type")
		b.sendError(c, env.ID, protocol.ErrCodeUnknownType, fmt.Sprintf("Unknown message type: %s", env.Type))
	}
}

func (b *Bridge) hostFor(c *client) *Host {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.host == nil || b.host.client != c {
		return nil
	}
	return b.host
}

func (b *Bridge) sendError(c *client, id, code, message string) {
	if err := c.sendMessage(id, protocol.TypeError, protocol.ClientErrorPayload{Code: code, Message: message}); err != nil {
		b.log.Debug().Err(err).Str("client", c.id).Msg("failed to send error")
	}
}

// writeClientError is used before the connection is wrapped in a client.
func writeClientError(conn *websocket.Conn, id, code, message string) {
	env, err := protocol.NewEnvelope(id, protocol.TypeError, protocol.ClientErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	_ = conn.WriteJSON(env)
}
