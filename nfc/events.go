package nfc

import (
	"context"
	"sync"
	"time"
)

// EventType names an event delivered by an Emitter.
type EventType string

const (
	EventScanStarted     EventType = "scanStarted"
	EventReadSuccess     EventType = "readSuccess"
	EventError           EventType = "error"
	EventAbort           EventType = "abort"
	EventTimeout         EventType = "timeout"
	EventWriteSuccess    EventType = "writeSuccess"
	EventReadOnlySuccess EventType = "readOnlySuccess"
)

// Event is delivered to subscribers of an Emitter.
type Event struct {
	Type      EventType
	SessionID string
	Reading   *ReadingEvent // set for EventReadSuccess
	Err       *NFCError     // set for EventError
}

// Emitter is the push-style adapter over a Manager: callers subscribe to
// events instead of waiting on results.
//
// Events are emitted for sessions started through Start. Handlers run on the
// goroutine that produced the event and must not block.
//
// Example:
//
//	em := nfc.NewEmitter(manager)
//	em.On(nfc.EventReadSuccess, func(ev nfc.Event) {
//		fmt.Println(ev.Reading.SerialNumber)
//	})
//	err := em.Start(30 * time.Second)
type Emitter struct {
	manager *Manager

	mu       sync.RWMutex
	nextID   int
	handlers map[EventType][]subscription
	pumps    sync.WaitGroup
}

type subscription struct {
	id   int
	once bool
	fn   func(Event)
}

// NewEmitter creates an Emitter bound to m.
func NewEmitter(m *Manager) *Emitter {
	return &Emitter{
		manager:  m,
		handlers: make(map[EventType][]subscription),
	}
}

// On subscribes fn to events of type t. The returned func unsubscribes it.
func (e *Emitter) On(t EventType, fn func(Event)) (off func()) {
	return e.subscribe(t, fn, false)
}

// Once subscribes fn for the next event of type t only.
func (e *Emitter) Once(t EventType, fn func(Event)) (off func()) {
	return e.subscribe(t, fn, true)
}

func (e *Emitter) subscribe(t EventType, fn func(Event), once bool) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.handlers[t] = append(e.handlers[t], subscription{id: id, once: once, fn: fn})
	e.mu.Unlock()

	return func() { e.off(t, id) }
}

func (e *Emitter) off(t EventType, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.handlers[t]
	for i, sub := range subs {
		if sub.id == id {
			e.handlers[t] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (e *Emitter) emit(ev Event) {
	e.mu.Lock()
	subs := e.handlers[ev.Type]
	kept := make([]subscription, 0, len(subs))
	for _, sub := range subs {
		if !sub.once {
			kept = append(kept, sub)
		}
	}
	e.handlers[ev.Type] = kept
	e.mu.Unlock()

	for _, sub := range subs {
		sub.fn(ev)
	}
}

// Start opens a session that lasts at most timeout and emits readSuccess for
// every reading until the session ends. A zero timeout uses
// Options.DefaultTimeout.
//
// The session ends with abort+timeout when the duration elapses, with
// error+abort on a read error, and with abort when aborted or superseded.
func (e *Emitter) Start(timeout time.Duration) error {
	const op = "Start"
	m := e.manager

	s, err := m.open(op)
	if err != nil {
		e.emit(Event{Type: EventError, Err: err})
		return m.fail(err)
	}

	timeout = m.timeoutOrDefault(timeout)
	s.armTimeout(m.clock, timeout, func() {
		m.endSession(s, Errorf(ErrCodeTimeout, op, "scan session exceeded %s", timeout))
	})

	if err := m.start(context.Background(), s, op); err != nil {
		e.emit(Event{Type: EventError, SessionID: s.id, Err: err})
		return m.fail(err)
	}

	e.emit(Event{Type: EventScanStarted, SessionID: s.id})

	e.pumps.Add(1)
	go e.pump(s)
	return nil
}

func (e *Emitter) pump(s *scanSession) {
	defer e.pumps.Done()
	m := e.manager

	for {
		ev, err := m.waitReading(context.Background(), s, nil, "Start", 0)
		if err != nil {
			switch err.Code {
			case ErrCodeTimeout:
				e.emit(Event{Type: EventAbort, SessionID: s.id})
				e.emit(Event{Type: EventTimeout, SessionID: s.id})
			case ErrCodeAbort:
				e.emit(Event{Type: EventAbort, SessionID: s.id})
			default:
				m.fail(err)
				e.emit(Event{Type: EventError, SessionID: s.id, Err: err})
				e.emit(Event{Type: EventAbort, SessionID: s.id})
			}
			return
		}
		m.accept(s, ev)
		e.emit(Event{Type: EventReadSuccess, SessionID: s.id, Reading: &ev})
	}
}

// Write writes msg and emits writeSuccess or error.
func (e *Emitter) Write(ctx context.Context, msg Message) error {
	sessionID := e.manager.SessionID()
	if err := e.manager.Write(ctx, msg); err != nil {
		e.emit(Event{Type: EventError, SessionID: sessionID, Err: Normalize("Write", err)})
		return err
	}
	e.emit(Event{Type: EventWriteSuccess, SessionID: sessionID})
	return nil
}

// MakeReadOnly locks the tag and emits readOnlySuccess or error.
func (e *Emitter) MakeReadOnly(ctx context.Context) error {
	sessionID := e.manager.SessionID()
	if err := e.manager.MakeReadOnly(ctx); err != nil {
		e.emit(Event{Type: EventError, SessionID: sessionID, Err: Normalize("MakeReadOnly", err)})
		return err
	}
	e.emit(Event{Type: EventReadOnlySuccess, SessionID: sessionID})
	return nil
}

// Abort aborts the active session. The abort event is emitted by the session
// that was started through Start.
func (e *Emitter) Abort() {
	e.manager.Abort()
}

// Wait blocks until every session started through Start has ended and its
// final events have been emitted.
func (e *Emitter) Wait() {
	e.pumps.Wait()
}
