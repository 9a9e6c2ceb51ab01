package nfc

import (
	"context"
	"fmt"
	"sync"
)

// MockHost is a test implementation of Host that fires readings and read
// errors on demand.
//
// Example:
//
//	host := nfc.NewMockHost()
//	host.ScanFunc = func(ctx context.Context) error {
//	    host.EmitReading(nfc.ReadingEvent{SerialNumber: "04:A1:B2:C3"})
//	    return nil
//	}
type MockHost struct {
	// ScanFunc allows custom Scan behavior. If nil, Scan returns ScanError.
	ScanFunc func(ctx context.Context) error

	// ScanError, if set, will be returned by Scan()
	ScanError error

	// WriteFunc allows custom Write behavior. If nil, Write records the
	// message and returns WriteError.
	WriteFunc func(ctx context.Context, msg Message) error

	// WriteError, if set, will be returned by Write()
	WriteError error

	// Written collects every message passed to Write
	Written []Message

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	mu             sync.Mutex
	readingHandler func(ReadingEvent)
	errorHandler   func(error)
	lastCtx        context.Context
}

// NewMockHost creates a new MockHost with default values.
func NewMockHost() *MockHost {
	return &MockHost{CallLog: make([]string, 0)}
}

func (h *MockHost) Scan(ctx context.Context) error {
	h.mu.Lock()
	h.CallLog = append(h.CallLog, "Scan")
	h.lastCtx = ctx
	fn := h.ScanFunc
	scanErr := h.ScanError
	h.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return scanErr
}

func (h *MockHost) Write(ctx context.Context, msg Message) error {
	h.mu.Lock()
	h.CallLog = append(h.CallLog, fmt.Sprintf("Write(%d records)", len(msg.Records)))
	h.lastCtx = ctx
	fn := h.WriteFunc
	h.mu.Unlock()

	if fn != nil {
		return fn(ctx, msg)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.WriteError != nil {
		return h.WriteError
	}
	h.Written = append(h.Written, msg)
	return nil
}

func (h *MockHost) SetReadingHandler(fn func(ReadingEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readingHandler = fn
}

func (h *MockHost) SetErrorHandler(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errorHandler = fn
}

// EmitReading delivers ev to the attached reading handler. It reports false
// when no handler is attached.
func (h *MockHost) EmitReading(ev ReadingEvent) bool {
	h.mu.Lock()
	fn := h.readingHandler
	h.mu.Unlock()

	if fn == nil {
		return false
	}
	fn(ev)
	return true
}

// EmitError delivers err to the attached error handler. It reports false when
// no handler is attached.
func (h *MockHost) EmitError(err error) bool {
	h.mu.Lock()
	fn := h.errorHandler
	h.mu.Unlock()

	if fn == nil {
		return false
	}
	fn(err)
	return true
}

// Attached reports whether both sinks are attached.
func (h *MockHost) Attached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readingHandler != nil && h.errorHandler != nil
}

// LastContext returns the context passed to the most recent host call.
func (h *MockHost) LastContext() context.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastCtx
}

// GetCallLog returns a copy of the call log for verification.
func (h *MockHost) GetCallLog() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	logCopy := make([]string, len(h.CallLog))
	copy(logCopy, h.CallLog)
	return logCopy
}

// MockReadOnlyHost is a MockHost that can also make tags read-only.
type MockReadOnlyHost struct {
	*MockHost

	// MakeReadOnlyError, if set, will be returned by MakeReadOnly()
	MakeReadOnlyError error

	// Locked is set after a successful MakeReadOnly
	Locked bool
}

// NewMockReadOnlyHost creates a new MockReadOnlyHost.
func NewMockReadOnlyHost() *MockReadOnlyHost {
	return &MockReadOnlyHost{MockHost: NewMockHost()}
}

func (h *MockReadOnlyHost) MakeReadOnly(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallLog = append(h.CallLog, "MakeReadOnly")
	h.lastCtx = ctx
	if h.MakeReadOnlyError != nil {
		return h.MakeReadOnlyError
	}
	h.Locked = true
	return nil
}

// MockProvider is a test implementation of HostProvider.
type MockProvider struct {
	// Supported is returned by Available()
	Supported bool

	// Hosts are handed out by NewHost in order; the last one is reused.
	Hosts []Host

	// NewHostError, if set, will be returned by NewHost()
	NewHostError error

	// Permission and PermissionError are returned by QueryPermission()
	Permission      PermissionState
	PermissionError error

	mu      sync.Mutex
	created int
}

// NewMockProvider creates a supported provider handing out hosts.
func NewMockProvider(hosts ...Host) *MockProvider {
	return &MockProvider{
		Supported:  true,
		Hosts:      hosts,
		Permission: PermissionGranted,
	}
}

func (p *MockProvider) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Supported
}

func (p *MockProvider) NewHost() (Host, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.NewHostError != nil {
		return nil, p.NewHostError
	}
	if len(p.Hosts) == 0 {
		return nil, fmt.Errorf("mock provider has no hosts")
	}
	idx := p.created
	if idx >= len(p.Hosts) {
		idx = len(p.Hosts) - 1
	}
	p.created++
	return p.Hosts[idx], nil
}

func (p *MockProvider) QueryPermission(ctx context.Context) (PermissionState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Permission, p.PermissionError
}

// SetSupported toggles Available().
func (p *MockProvider) SetSupported(supported bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Supported = supported
}

// Created returns how many hosts NewHost handed out.
func (p *MockProvider) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}
