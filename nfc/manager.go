package nfc

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Manager owns the lifecycle of a single scan session on top of a Host.
//
// At most one session is active at a time. Starting a new scan while one is
// active aborts the old session first.
//
// Example:
//
//	manager := nfc.NewManager(provider, nfc.Options{})
//	reading, err := manager.Scan(ctx, 10*time.Second)
//	if err != nil {
//		return err
//	}
//	defer manager.Abort()
//	text, _ := reading.Message.Text()
type Manager struct {
	provider HostProvider
	opts     Options
	log      zerolog.Logger
	clock    Clock

	mu      sync.Mutex
	session *scanSession
}

// NewManager creates a Manager that obtains hosts from provider.
func NewManager(provider HostProvider, opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		provider: provider,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "nfc").Logger(),
		clock:    opts.Clock,
	}
}

// scanSession is the live state of one active scan.
type scanSession struct {
	id    string
	token *CancelToken
	host  Host

	// notify holds at most one wake-up; latest holds at most one reading.
	notify chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	latest  *ReadingEvent
	timeout *pendingTimeout
	expired bool
	closed  bool
	reason  *NFCError // valid once done is closed
}

type pendingTimeout struct {
	timer Timer
	stop  chan struct{}
}

func (pt *pendingTimeout) disarm() {
	pt.timer.Stop()
	close(pt.stop)
}

func newScanSession(host Host) *scanSession {
	return &scanSession{
		id:     uuid.NewString(),
		token:  NewCancelToken(),
		host:   host,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// deliver buffers a reading, replacing any unconsumed one.
func (s *scanSession) deliver(ev ReadingEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.latest = &ev
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *scanSession) take() *ReadingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	ev := s.latest
	s.latest = nil
	return ev
}

func (s *scanSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// armTimeout replaces the session's pending timeout. expire runs at most once
// and never after disarmTimeout succeeded.
func (s *scanSession) armTimeout(clock Clock, d time.Duration, expire func()) {
	pt := &pendingTimeout{timer: clock.NewTimer(d), stop: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		pt.timer.Stop()
		return
	}
	old := s.timeout
	s.timeout = pt
	s.mu.Unlock()

	if old != nil {
		old.disarm()
	}

	go func() {
		select {
		case <-pt.timer.C():
		case <-pt.stop:
			return
		}
		s.mu.Lock()
		if s.timeout != pt {
			s.mu.Unlock()
			return
		}
		s.timeout = nil
		s.expired = true
		s.mu.Unlock()
		expire()
	}()
}

// disarmTimeout clears the pending timeout. It returns false when the session
// is already closed or its timeout has already fired.
func (s *scanSession) disarmTimeout() bool {
	s.mu.Lock()
	if s.closed || s.expired {
		s.mu.Unlock()
		return false
	}
	pt := s.timeout
	s.timeout = nil
	s.mu.Unlock()

	if pt != nil {
		pt.disarm()
	}
	return true
}

// close tears the session down: cancels the token, detaches the host sinks and
// clears the timer. Only the first call has any effect.
func (s *scanSession) close(reason *NFCError) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.reason = reason
	s.latest = nil
	pt := s.timeout
	s.timeout = nil
	s.mu.Unlock()

	s.token.Cancel()
	s.host.SetReadingHandler(nil)
	s.host.SetErrorHandler(nil)
	if pt != nil {
		pt.disarm()
	}
	close(s.done)
	return true
}

// callContext derives the context for a host call: cancelled by the session
// token and by the caller's ctx.
func (s *scanSession) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	callCtx, cancel := context.WithCancel(s.token.Context())
	stop := context.AfterFunc(ctx, cancel)
	return callCtx, func() {
		stop()
		cancel()
	}
}

// IsScanning reports whether a session is active.
func (m *Manager) IsScanning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// SessionID returns the ID of the active session, or "" when idle.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.id
}

func (m *Manager) current() *scanSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Abort ends the active session. It is safe to call at any time and does
// nothing when idle.
func (m *Manager) Abort() {
	m.abort("Abort")
}

func (m *Manager) abort(op string) bool {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.mu.Unlock()

	if s == nil {
		return false
	}
	return m.endSession(s, NewError(ErrCodeAbort, op, "scan session aborted"))
}

// endSession closes s and, if it is still the active session, returns the
// manager to idle.
func (m *Manager) endSession(s *scanSession, reason *NFCError) bool {
	m.mu.Lock()
	if m.session == s {
		m.session = nil
	}
	m.mu.Unlock()

	if !s.close(reason) {
		return false
	}
	m.log.Debug().
		Str("session", s.id).
		Str("code", string(reason.Code)).
		Msg("scan session ended")
	return true
}

// fail reports err through OnError and returns it.
func (m *Manager) fail(err *NFCError) *NFCError {
	m.log.Debug().Err(err).Str("code", string(err.Code)).Msg("operation failed")
	if m.opts.OnError != nil {
		m.opts.OnError(err)
	}
	return err
}

func (m *Manager) timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return m.opts.DefaultTimeout
	}
	return d
}

// accept hands an accepted reading to OnTagDetected.
func (m *Manager) accept(s *scanSession, ev ReadingEvent) {
	m.log.Info().
		Str("session", s.id).
		Str("serial", ev.SerialNumber).
		Int("records", len(ev.Message.Records)).
		Msg("tag detected")
	if m.opts.OnTagDetected != nil {
		m.opts.OnTagDetected(ev.SerialNumber)
	}
}

// open supersedes any active session and starts a new one whose sinks are
// attached but whose host scan has not been started yet.
func (m *Manager) open(op string) (*scanSession, *NFCError) {
	if !m.IsSupported() {
		return nil, NewError(ErrCodeNotSupported, op, "NFC is not supported on this host")
	}

	m.abort(op)

	host, err := m.provider.NewHost()
	if err != nil {
		return nil, Normalize(op, err)
	}

	s := newScanSession(host)
	host.SetReadingHandler(s.deliver)
	host.SetErrorHandler(func(err error) {
		m.log.Warn().Err(err).Str("session", s.id).Msg("read error occurred")
		m.endSession(s, WrapError(ErrCodeInvalidTarget, op, "read error occurred", err))
	})

	m.mu.Lock()
	prev := m.session
	m.session = s
	m.mu.Unlock()
	if prev != nil {
		m.endSession(prev, NewError(ErrCodeAbort, op, "superseded by a new scan"))
	}

	m.log.Info().Str("session", s.id).Msg("scan session started")
	return s, nil
}

// start runs the host-level scan for a freshly opened session. Cancelling ctx
// while the host is still starting ends the session with ctx's error.
func (m *Manager) start(ctx context.Context, s *scanSession, op string) *NFCError {
	stop := context.AfterFunc(ctx, func() {
		m.endSession(s, Normalize(op, ctx.Err()))
	})
	defer stop()

	if err := s.host.Scan(s.token.Context()); err != nil {
		nerr := Normalize(op, err)
		if s.isClosed() {
			<-s.done
			nerr = s.reason
		}
		m.endSession(s, nerr)
		return nerr
	}
	return nil
}

// waitReading blocks until s delivers a reading, s ends, timerC fires or ctx
// is done. It never ends the session itself.
func (m *Manager) waitReading(ctx context.Context, s *scanSession, timerC <-chan time.Time, op string, timeout time.Duration) (ReadingEvent, *NFCError) {
	for {
		if s.isClosed() {
			<-s.done
			return ReadingEvent{}, s.reason
		}
		if ev := s.take(); ev != nil {
			return *ev, nil
		}
		select {
		case <-s.notify:
		case <-s.done:
		case <-timerC:
			return ReadingEvent{}, Errorf(ErrCodeTimeout, op, "no tag detected within %s", timeout)
		case <-ctx.Done():
			return ReadingEvent{}, Normalize(op, ctx.Err())
		}
	}
}

// Scan starts a new session and waits for the first reading.
//
// The session stays open after a reading so that it can be written to or
// iterated with WaitForNext; call Abort when done. On timeout, read error or
// ctx cancellation the session is aborted. A zero timeout uses
// Options.DefaultTimeout.
func (m *Manager) Scan(ctx context.Context, timeout time.Duration) (ReadingEvent, error) {
	_, ev, err := m.scan(ctx, timeout, "Scan")
	if err != nil {
		return ReadingEvent{}, m.fail(err)
	}
	return ev, nil
}

func (m *Manager) scan(ctx context.Context, timeout time.Duration, op string) (*scanSession, ReadingEvent, *NFCError) {
	s, err := m.open(op)
	if err != nil {
		return nil, ReadingEvent{}, err
	}

	timeout = m.timeoutOrDefault(timeout)
	s.armTimeout(m.clock, timeout, func() {
		m.endSession(s, Errorf(ErrCodeTimeout, op, "no tag detected within %s", timeout))
	})

	if err := m.start(ctx, s, op); err != nil {
		return nil, ReadingEvent{}, err
	}

	ev, err := m.waitReading(ctx, s, nil, op, timeout)
	if err != nil {
		m.endSession(s, err)
		return nil, ReadingEvent{}, err
	}
	if !s.disarmTimeout() {
		// The timeout won the race against this reading.
		<-s.done
		return nil, ReadingEvent{}, s.reason
	}

	m.accept(s, ev)
	return s, ev, nil
}

// WaitForNext waits for the next reading of the active session.
//
// A timeout does not abort the session, so the caller decides whether it ends
// an iteration or is an error. A zero timeout uses Options.DefaultTimeout.
func (m *Manager) WaitForNext(ctx context.Context, timeout time.Duration) (ReadingEvent, error) {
	const op = "WaitForNext"
	s, err := m.ready(op)
	if err != nil {
		return ReadingEvent{}, m.fail(err)
	}
	ev, err := m.waitForNext(ctx, s, timeout, op)
	if err != nil {
		return ReadingEvent{}, m.fail(err)
	}
	return ev, nil
}

func (m *Manager) waitForNext(ctx context.Context, s *scanSession, timeout time.Duration, op string) (ReadingEvent, *NFCError) {
	timeout = m.timeoutOrDefault(timeout)
	timer := m.clock.NewTimer(timeout)
	defer timer.Stop()

	ev, err := m.waitReading(ctx, s, timer.C(), op, timeout)
	if err != nil {
		return ReadingEvent{}, err
	}
	m.accept(s, ev)
	return ev, nil
}

// ready checks the preconditions shared by operations that need an active
// session.
func (m *Manager) ready(op string) (*scanSession, *NFCError) {
	if !m.IsSupported() {
		return nil, NewError(ErrCodeNotSupported, op, "NFC is not supported on this host")
	}
	s := m.current()
	if s == nil {
		return nil, NewError(ErrCodeReaderNotStarted, op, "reader not started")
	}
	return s, nil
}

// Write writes msg to the tag in range of the active session.
func (m *Manager) Write(ctx context.Context, msg Message) error {
	const op = "Write"
	s, err := m.ready(op)
	if err != nil {
		return m.fail(err)
	}
	if err := m.write(ctx, s, msg, op); err != nil {
		return m.fail(err)
	}
	return nil
}

func (m *Manager) write(ctx context.Context, s *scanSession, msg Message, op string) *NFCError {
	if len(msg.Records) == 0 {
		return NewError(ErrCodeNoData, op, "no data to write")
	}
	if err := msg.Validate(); err != nil {
		invalid := *Normalize(op, err)
		invalid.Op = op
		return &invalid
	}
	if s.isClosed() {
		return NewError(ErrCodeReaderNotStarted, op, "reader not started")
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	if err := s.host.Write(callCtx, msg); err != nil {
		return Normalize(op, err)
	}
	m.log.Info().Str("session", s.id).Int("records", len(msg.Records)).Msg("message written")
	return nil
}

// MakeReadOnly permanently locks the tag in range of the active session.
func (m *Manager) MakeReadOnly(ctx context.Context) error {
	const op = "MakeReadOnly"
	s, err := m.ready(op)
	if err != nil {
		return m.fail(err)
	}
	maker, ok := s.host.(ReadOnlyMaker)
	if !ok {
		return m.fail(NewError(ErrCodeUnsupportedOperation, op, "host cannot make tags read-only"))
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	if err := maker.MakeReadOnly(callCtx); err != nil {
		return m.fail(Normalize(op, err))
	}
	m.log.Info().Str("session", s.id).Msg("tag made read-only")
	return nil
}

// DecodeRecordData decodes a record's payload to text. See DecodeRecord.
func (m *Manager) DecodeRecordData(r Record) (string, error) {
	text, err := DecodeRecord(r)
	if err != nil {
		return "", m.fail(Normalize("DecodeRecordData", err))
	}
	return text, nil
}
