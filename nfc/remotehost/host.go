package remotehost

import (
	"context"
	"sync"

	"github.com/nedpals/davi-nfc-session/nfc"
	"github.com/nedpals/davi-nfc-session/protocol"
)

// Host is the nfc.Host for one session, bound to the client that was
// connected when it was created.
type Host struct {
	client *client

	mu        sync.Mutex
	onReading func(nfc.ReadingEvent)
	onError   func(error)
	stopAbort func() bool
}

// readOnlyHost is returned for clients that can lock tags.
type readOnlyHost struct {
	*Host
}

func newHost(c *client) *Host {
	return &Host{client: c}
}

// Scan asks the client to start scanning. Once started, cancelling ctx tells
// the client to stop.
func (h *Host) Scan(ctx context.Context) error {
	if err := h.client.call(ctx, protocol.TypeScan, nil); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = h.client.sendMessage("", protocol.TypeAbort, nil)
	})

	h.mu.Lock()
	if h.stopAbort != nil {
		h.stopAbort()
	}
	h.stopAbort = stop
	h.mu.Unlock()
	return nil
}

func (h *Host) Write(ctx context.Context, msg nfc.Message) error {
	return h.client.call(ctx, protocol.TypeWrite, protocol.WritePayload{Message: ToMessagePayload(msg)})
}

func (h *Host) SetReadingHandler(fn func(nfc.ReadingEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onReading = fn
}

func (h *Host) SetErrorHandler(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = fn
}

func (h *Host) deliver(ev nfc.ReadingEvent) bool {
	h.mu.Lock()
	fn := h.onReading
	h.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(ev)
	return true
}

func (h *Host) fail(err error) bool {
	h.mu.Lock()
	fn := h.onError
	h.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(err)
	return true
}

func (h *readOnlyHost) MakeReadOnly(ctx context.Context) error {
	return h.client.call(ctx, protocol.TypeMakeReadOnly, nil)
}
