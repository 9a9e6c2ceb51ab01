// Package filehost implements the nfc host capability on top of a directory
// of virtual tags.
//
// Every JSON file dropped into the directory while a session is scanning is
// read as one tag:
//
//	{"serialNumber": "04:A1:B2:C3", "message": {"records": [
//	    {"recordType": "text", "text": "hello", "lang": "en"}
//	]}}
//
// The serial number defaults to the file name without extension. Messages
// written to a tag are stored under written/<serial>.json, and locking a tag
// makes its file read-only.
package filehost

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nedpals/davi-nfc-session/nfc"
	"github.com/nedpals/davi-nfc-session/protocol"
	"github.com/rs/zerolog"
)

// DefaultSettleDelay is how long a file must stay unchanged before it is
// read. fsnotify reports partial writes as separate events.
const DefaultSettleDelay = 100 * time.Millisecond

// WrittenDir is the subdirectory receiving written messages.
const WrittenDir = "written"

// TagFile is the on-disk form of a virtual tag.
type TagFile struct {
	SerialNumber string      `json:"serialNumber,omitempty"`
	Message      nfc.Message `json:"message"`
}

// Provider hands out hosts watching Dir.
type Provider struct {
	Dir         string
	SettleDelay time.Duration

	log zerolog.Logger
}

// NewProvider creates a provider for dir.
func NewProvider(dir string, logger zerolog.Logger) *Provider {
	return &Provider{
		Dir:         dir,
		SettleDelay: DefaultSettleDelay,
		log:         logger.With().Str("component", "filehost").Str("dir", dir).Logger(),
	}
}

// Available reports whether the tag directory exists.
func (p *Provider) Available() bool {
	info, err := os.Stat(p.Dir)
	return err == nil && info.IsDir()
}

func (p *Provider) NewHost() (nfc.Host, error) {
	settle := p.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Host{dir: p.Dir, settle: settle, log: p.log}, nil
}

// QueryPermission always grants access; the directory is local.
func (p *Provider) QueryPermission(ctx context.Context) (nfc.PermissionState, error) {
	if !p.Available() {
		return nfc.PermissionDenied, fmt.Errorf("tag directory %s does not exist", p.Dir)
	}
	return nfc.PermissionGranted, nil
}

// Host watches the tag directory for one session.
type Host struct {
	dir    string
	settle time.Duration
	log    zerolog.Logger

	mu        sync.Mutex
	onReading func(nfc.ReadingEvent)
	onError   func(error)
	last      *lastTag
	pending   map[string]*time.Timer
}

type lastTag struct {
	serial string
	path   string
}

// Scan starts watching the directory. Watching stops when ctx is cancelled.
func (h *Host) Scan(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nfc.NewHostError(nfc.HostErrNotSupported, fmt.Sprintf("create watcher: %v", err))
	}
	if err := watcher.Add(h.dir); err != nil {
		watcher.Close()
		return nfc.NewHostError(nfc.HostErrNotSupported, fmt.Sprintf("watch %s: %v", h.dir, err))
	}
	h.log.Debug().Msg("watching for virtual tags")

	go h.watch(ctx, watcher)
	return nil
}

func (h *Host) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() {
		watcher.Close()
		h.mu.Lock()
		for _, t := range h.pending {
			t.Stop()
		}
		h.pending = nil
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".json") {
				continue
			}
			h.schedule(ctx, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

// schedule reads path once it has settled, restarting the delay on every
// new event for the same file.
func (h *Host) schedule(ctx context.Context, path string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pending == nil {
		h.pending = make(map[string]*time.Timer)
	}
	if t, ok := h.pending[path]; ok {
		t.Reset(h.settle)
		return
	}
	h.pending[path] = time.AfterFunc(h.settle, func() {
		h.mu.Lock()
		delete(h.pending, path)
		h.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		h.read(path)
	})
}

func (h *Host) read(path string) {
	ev, err := readTagFile(path)
	if err != nil {
		h.log.Warn().Err(err).Str("file", filepath.Base(path)).Msg("unreadable virtual tag")
		h.fail(nfc.NewHostError(nfc.HostErrInvalidTarget, err.Error()))
		return
	}

	h.mu.Lock()
	h.last = &lastTag{serial: ev.SerialNumber, path: path}
	fn := h.onReading
	h.mu.Unlock()

	if fn != nil {
		fn(ev)
	}
}

func (h *Host) fail(err error) {
	h.mu.Lock()
	fn := h.onError
	h.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}

// Write stores msg for the last tag read.
func (h *Host) Write(ctx context.Context, msg nfc.Message) error {
	tag, err := h.lastTag()
	if err != nil {
		return err
	}
	if readOnly(tag.path) {
		return nfc.NewHostError(nfc.HostErrInvalidTarget, fmt.Sprintf("tag %s is read-only", tag.serial))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Join(h.dir, WrittenDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(TagFile{SerialNumber: tag.serial, Message: msg}, "", "  ")
	if err != nil {
		return nfc.NewHostError(nfc.HostErrSyntax, err.Error())
	}
	out := filepath.Join(dir, WrittenFileName(tag.serial))
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	h.log.Debug().Str("serial", tag.serial).Str("file", out).Msg("virtual tag written")
	return nil
}

// MakeReadOnly removes write permission from the last tag's file.
func (h *Host) MakeReadOnly(ctx context.Context) error {
	tag, err := h.lastTag()
	if err != nil {
		return err
	}
	if err := os.Chmod(tag.path, 0o444); err != nil {
		return fmt.Errorf("lock %s: %w", tag.path, err)
	}
	return nil
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

func (h *Host) lastTag() (lastTag, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return lastTag{}, nfc.NewHostError(nfc.HostErrInvalidTarget, "no tag in range")
	}
	return *h.last, nil
}

func readTagFile(path string) (nfc.ReadingEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nfc.ReadingEvent{}, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	var tag TagFile
	if err := json.Unmarshal(data, &tag); err != nil {
		return nfc.ReadingEvent{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	serial := tag.SerialNumber
	if serial == "" {
		serial = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return nfc.ReadingEvent{
		SerialNumber: protocol.NormalizeSerial(serial),
		Message:      tag.Message,
	}, nil
}

// WrittenFileName is the file name a message written to serial is stored
// under.
func WrittenFileName(serial string) string {
	return strings.ReplaceAll(serial, ":", "") + ".json"
}

func readOnly(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().Perm()&0o200 == 0
}
