package filehost

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nedpals/davi-nfc-session/nfc"
	"github.com/rs/zerolog"
)

func newTestManager(t *testing.T, dir string) *nfc.Manager {
	t.Helper()
	provider := NewProvider(dir, zerolog.Nop())
	provider.SettleDelay = 10 * time.Millisecond
	nop := zerolog.Nop()
	return nfc.NewManager(provider, nfc.Options{Logger: &nop})
}

// scanWhileDropping runs a scan and keeps rewriting the tag file until the
// scan returns, since the watcher may not be installed yet on the first drop.
func scanWhileDropping(t *testing.T, m *nfc.Manager, path string, content []byte) (nfc.ReadingEvent, error) {
	t.Helper()
	type result struct {
		ev  nfc.ReadingEvent
		err error
	}
	done := make(chan result, 1)
	go func() {
		ev, err := m.Scan(context.Background(), 3*time.Second)
		done <- result{ev, err}
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case r := <-done:
			return r.ev, r.err
		case <-ticker.C:
			if err := os.WriteFile(path, content, 0o644); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
		}
	}
}

func tagJSON(t *testing.T, tag TagFile) []byte {
	t.Helper()
	data, err := json.Marshal(tag)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return data
}

func TestFileHost_ReadWriteLock(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir)
	defer m.Abort()

	content := tagJSON(t, TagFile{
		SerialNumber: "04a1b2",
		Message:      nfc.NewMessage(nfc.NewTextRecord("hello", "en")),
	})
	ev, err := scanWhileDropping(t, m, filepath.Join(dir, "card.json"), content)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if ev.SerialNumber != "04:A1:B2" {
		t.Errorf("SerialNumber = %q, want %q", ev.SerialNumber, "04:A1:B2")
	}
	if text, err := ev.Message.Text(); err != nil || text != "hello" {
		t.Errorf("Message.Text() = %q, %v, want hello", text, err)
	}

	if err := m.Write(context.Background(), nfc.NewMessage(nfc.NewURLRecord("https://example.com"))); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, WrittenDir, "04A1B2.json"))
	if err != nil {
		t.Fatalf("written file missing: %v", err)
	}
	var written TagFile
	if err := json.Unmarshal(data, &written); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if written.SerialNumber != "04:A1:B2" || len(written.Message.Records) != 1 || written.Message.Records[0].Text != "https://example.com" {
		t.Errorf("written tag = %+v", written)
	}

	if err := m.MakeReadOnly(context.Background()); err != nil {
		t.Fatalf("MakeReadOnly() error = %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, "card.json"))
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm()&0o200 != 0 {
		t.Errorf("tag file mode = %v, want read-only", info.Mode().Perm())
	}

	err = m.Write(context.Background(), nfc.NewMessage(nfc.NewTextRecord("again", "")))
	if nfc.GetErrorCode(err) != nfc.ErrCodeInvalidTarget {
		t.Errorf("Write() to a locked tag code = %q, want INVALID_TARGET", nfc.GetErrorCode(err))
	}
}

func TestFileHost_WriteKeepsEmptyPayload(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir)
	defer m.Abort()

	content := tagJSON(t, TagFile{SerialNumber: "0102", Message: nfc.NewMessage(nfc.NewTextRecord("x", "en"))})
	if _, err := scanWhileDropping(t, m, filepath.Join(dir, "blank.json"), content); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if err := m.Write(context.Background(), nfc.NewMessage(nfc.NewMimeRecord("application/octet-stream", nil))); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, WrittenDir, "0102.json"))
	if err != nil {
		t.Fatalf("written file missing: %v", err)
	}
	var written TagFile
	if err := json.Unmarshal(data, &written); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(written.Message.Records) != 1 || written.Message.Records[0].Raw == nil {
		t.Fatalf("written tag = %s, want an empty raw payload", data)
	}
	if text, err := nfc.DecodeRecord(written.Message.Records[0]); err != nil || text != "" {
		t.Errorf("DecodeRecord() = %q, %v, want empty text", text, err)
	}
}

func TestFileHost_SerialFromFileName(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir)
	defer m.Abort()

	content := tagJSON(t, TagFile{Message: nfc.NewMessage(nfc.NewTextRecord("x", ""))})
	ev, err := scanWhileDropping(t, m, filepath.Join(dir, "lobby-badge.json"), content)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if ev.SerialNumber != "lobby-badge" {
		t.Errorf("SerialNumber = %q, want %q", ev.SerialNumber, "lobby-badge")
	}
}

func TestFileHost_MalformedTagIsReadError(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir)

	_, err := scanWhileDropping(t, m, filepath.Join(dir, "broken.json"), []byte("{not json"))
	if nfc.GetErrorCode(err) != nfc.ErrCodeInvalidTarget {
		t.Fatalf("Scan() code = %q, want INVALID_TARGET (err: %v)", nfc.GetErrorCode(err), err)
	}
	if m.IsScanning() {
		t.Error("IsScanning() should be false after a read error")
	}
}

func TestFileHost_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir)

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Scan(context.Background(), 300*time.Millisecond)
		errCh <- err
	}()
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a tag"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	err := <-errCh
	if nfc.GetErrorCode(err) != nfc.ErrCodeTimeout {
		t.Errorf("Scan() code = %q, want TIMEOUT", nfc.GetErrorCode(err))
	}
}

func TestFileHost_MissingDirectory(t *testing.T) {
	m := newTestManager(t, filepath.Join(t.TempDir(), "missing"))

	if m.IsSupported() {
		t.Error("IsSupported() should be false for a missing directory")
	}
	_, err := m.Scan(context.Background(), time.Second)
	if nfc.GetErrorCode(err) != nfc.ErrCodeNotSupported {
		t.Errorf("Scan() code = %q, want NOT_SUPPORTED", nfc.GetErrorCode(err))
	}
	if state := m.CheckPermission(context.Background()); state != nfc.PermissionDenied {
		t.Errorf("CheckPermission() = %q, want denied", state)
	}
}

func TestHost_NoTagInRange(t *testing.T) {
	host, err := NewProvider(t.TempDir(), zerolog.Nop()).NewHost()
	if err != nil {
		t.Fatalf("NewHost() error = %v", err)
	}

	var hostErr nfc.HostError
	err = host.Write(context.Background(), nfc.NewMessage(nfc.NewTextRecord("x", "")))
	if !errors.As(err, &hostErr) || hostErr.Name() != nfc.HostErrInvalidTarget {
		t.Errorf("Write() error = %v, want %s", err, nfc.HostErrInvalidTarget)
	}

	locker, ok := host.(nfc.ReadOnlyMaker)
	if !ok {
		t.Fatal("file host should support MakeReadOnly")
	}
	if err := locker.MakeReadOnly(context.Background()); !errors.As(err, &hostErr) {
		t.Errorf("MakeReadOnly() error = %v, want a host error", err)
	}
}
