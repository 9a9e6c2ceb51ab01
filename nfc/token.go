package nfc

import (
	"context"
	"sync"
)

// CancelToken signals abort to every operation started during one session.
//
// It is a flag plus a registry of dependents. The context returned by
// Context is handed to host calls and is cancelled together with the token.
type CancelToken struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	cancelled  bool
	nextID     int
	dependents map[int]func()
}

// NewCancelToken creates a live token.
func NewCancelToken() *CancelToken {
	ctx, cancel := context.WithCancel(context.Background())
	return &CancelToken{
		ctx:        ctx,
		cancel:     cancel,
		dependents: make(map[int]func()),
	}
}

// Context returns the context observed by host calls.
func (t *CancelToken) Context() context.Context {
	return t.ctx
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Cancel invalidates the token and runs registered dependents. It returns
// true only for the call that actually cancelled the token.
func (t *CancelToken) Cancel() bool {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return false
	}
	t.cancelled = true
	deps := t.dependents
	t.dependents = nil
	t.mu.Unlock()

	t.cancel()
	for _, fn := range deps {
		fn()
	}
	return true
}

// OnCancel registers fn to run when the token is cancelled. If the token is
// already cancelled fn runs immediately. The returned stop func unregisters
// fn and reports whether it was still pending.
func (t *CancelToken) OnCancel(fn func()) (stop func() bool) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		fn()
		return func() bool { return false }
	}
	id := t.nextID
	t.nextID++
	t.dependents[id] = fn
	t.mu.Unlock()

	return func() bool {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.dependents == nil {
			return false
		}
		_, ok := t.dependents[id]
		delete(t.dependents, id)
		return ok
	}
}
