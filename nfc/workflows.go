package nfc

import (
	"context"
	"iter"
	"time"
)

// ScanAndWrite scans for a tag, writes msg to it and ends the session.
//
// The session is aborted on every path, including when the write fails.
func (m *Manager) ScanAndWrite(ctx context.Context, msg Message, timeout time.Duration) error {
	const op = "ScanAndWrite"
	s, _, err := m.scan(ctx, timeout, op)
	if err != nil {
		return m.fail(err)
	}
	defer m.endSession(s, NewError(ErrCodeAbort, op, "scan session completed"))

	if err := m.write(ctx, s, msg, op); err != nil {
		return m.fail(err)
	}
	return nil
}

// ScanAndRead scans for a tag, applies processor to the reading, ends the
// session and returns the processor's result. Processor errors are
// normalized like host errors, keeping the original as Cause.
func ScanAndRead[T any](ctx context.Context, m *Manager, timeout time.Duration, processor func(ReadingEvent) (T, error)) (T, error) {
	const op = "ScanAndRead"
	var zero T

	s, ev, err := m.scan(ctx, timeout, op)
	if err != nil {
		return zero, m.fail(err)
	}
	defer m.endSession(s, NewError(ErrCodeAbort, op, "scan session completed"))

	result, perr := processor(ev)
	if perr != nil {
		return zero, m.fail(Normalize(op, perr))
	}
	return result, nil
}

// ScanMultiple returns a sequence of readings from one session.
//
// The sequence starts with a Scan and continues with WaitForNext until a wait
// times out, which ends the sequence without an error. Any other failure is
// yielded once as the final element. The session is aborted when the
// sequence ends, including when the consumer stops early. Readings that
// arrive faster than the consumer pulls them are buffered one deep, keeping
// only the latest.
//
// Example:
//
//	for reading, err := range manager.ScanMultiple(ctx, 5*time.Second) {
//		if err != nil {
//			return err
//		}
//		fmt.Println(reading.SerialNumber)
//	}
func (m *Manager) ScanMultiple(ctx context.Context, timeout time.Duration) iter.Seq2[ReadingEvent, error] {
	const op = "ScanMultiple"
	return func(yield func(ReadingEvent, error) bool) {
		s, ev, err := m.scan(ctx, timeout, op)
		if err != nil {
			yield(ReadingEvent{}, m.fail(err))
			return
		}
		defer m.endSession(s, NewError(ErrCodeAbort, op, "reading sequence ended"))

		if !yield(ev, nil) {
			return
		}
		for {
			ev, err := m.waitForNext(ctx, s, timeout, op)
			if err != nil {
				if err.Code == ErrCodeTimeout {
					m.log.Debug().Str("session", s.id).Msg("no further tags, ending reading sequence")
					return
				}
				yield(ReadingEvent{}, m.fail(err))
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}
