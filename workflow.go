package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/nedpals/davi-nfc-session/nfc"
	"github.com/rs/zerolog/log"
)

// runWorkflow runs the workflow named by cfg.Mode against m and prints what
// it reads to out.
func runWorkflow(ctx context.Context, m *nfc.Manager, cfg Config, out io.Writer) error {
	switch cfg.Mode {
	case ModeScan:
		report, err := nfc.ScanAndRead(ctx, m, cfg.Timeout, func(ev nfc.ReadingEvent) (string, error) {
			if len(ev.Message.Records) == 0 {
				return "", nfc.NewError(nfc.ErrCodeNoData, "scan", "tag "+ev.SerialNumber+" holds no records")
			}
			return formatReading(m, ev), nil
		})
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, report)
		return err

	case ModeBatch:
		count := 0
		for ev, err := range m.ScanMultiple(ctx, cfg.Timeout) {
			if err != nil {
				return err
			}
			count++
			io.WriteString(out, formatReading(m, ev))
		}
		fmt.Fprintf(out, "%d tag(s) read\n", count)
		return nil

	case ModeWrite:
		msg := nfc.NewMessage(nfc.NewTextRecord(cfg.Text, cfg.Lang))
		if err := m.ScanAndWrite(ctx, msg, cfg.Timeout); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %q\n", cfg.Text)
		return nil

	case ModeLock:
		return lockTag(ctx, m, cfg, out)

	case ModeWatch:
		return watchTags(ctx, m, cfg, out)
	}
	return fmt.Errorf("unknown mode %q", cfg.Mode)
}

// lockTag scans one tag and makes it permanently read-only.
func lockTag(ctx context.Context, m *nfc.Manager, cfg Config, out io.Writer) error {
	ev, err := m.Scan(ctx, cfg.Timeout)
	if err != nil {
		return err
	}
	defer m.Abort()

	if err := m.MakeReadOnly(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "tag %s is now read-only\n", ev.SerialNumber)
	return nil
}

// watchTags prints every tag presented until the scan window elapses or ctx
// is cancelled.
func watchTags(ctx context.Context, m *nfc.Manager, cfg Config, out io.Writer) error {
	em := nfc.NewEmitter(m)

	var (
		mu      sync.Mutex
		failure error
	)
	em.On(nfc.EventScanStarted, func(ev nfc.Event) {
		log.Info().Str("session", ev.SessionID).Msg("watching for tags")
	})
	em.On(nfc.EventReadSuccess, func(ev nfc.Event) {
		mu.Lock()
		defer mu.Unlock()
		io.WriteString(out, formatReading(m, *ev.Reading))
	})
	em.On(nfc.EventError, func(ev nfc.Event) {
		if ev.Err == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		failure = ev.Err
	})
	em.Once(nfc.EventTimeout, func(ev nfc.Event) {
		log.Info().Str("session", ev.SessionID).Msg("scan window elapsed")
	})

	if err := em.Start(cfg.Timeout); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, em.Abort)
	defer stop()
	em.Wait()

	mu.Lock()
	defer mu.Unlock()
	return failure
}

// formatReading renders a reading with every record decoded to text.
func formatReading(m *nfc.Manager, ev nfc.ReadingEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tag %s\n", ev.SerialNumber)
	for i, r := range ev.Message.Records {
		label := string(r.RecordType)
		switch {
		case r.MediaType != "":
			label += " " + r.MediaType
		case r.Lang != "":
			label += " (" + r.Lang + ")"
		}

		text, err := m.DecodeRecordData(r)
		switch {
		case err == nil:
			fmt.Fprintf(&b, "  [%d] %s: %s\n", i, label, text)
		case errors.Is(err, nfc.ErrNoData):
			fmt.Fprintf(&b, "  [%d] %s: <empty>\n", i, label)
		default:
			fmt.Fprintf(&b, "  [%d] %s: <%s>\n", i, label, nfc.GetErrorCode(err))
		}
	}
	return b.String()
}
