package remotehost

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nedpals/davi-nfc-session/nfc"
	"github.com/nedpals/davi-nfc-session/protocol"
	"github.com/rs/zerolog"
)

// fakeClient plays the browser side of the bridge protocol.
type fakeClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialBridge(t *testing.T, srv *httptest.Server) *fakeClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &fakeClient{t: t, conn: conn}
}

func (f *fakeClient) send(id, msgType string, payload any) {
	env, err := protocol.NewEnvelope(id, msgType, payload)
	if err != nil {
		f.t.Errorf("NewEnvelope() error = %v", err)
		return
	}
	if err := f.conn.WriteJSON(env); err != nil {
		f.t.Errorf("WriteJSON() error = %v", err)
	}
}

func (f *fakeClient) read() (protocol.Envelope, error) {
	var env protocol.Envelope
	f.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	err := f.conn.ReadJSON(&env)
	return env, err
}

func (f *fakeClient) register(payload protocol.RegisterPayload) protocol.RegisteredPayload {
	f.t.Helper()
	f.send("reg-1", protocol.TypeRegister, payload)
	env, err := f.read()
	if err != nil {
		f.t.Fatalf("read registration response: %v", err)
	}
	if env.Type != protocol.TypeRegistered || env.ID != "reg-1" {
		f.t.Fatalf("registration response = %+v", env)
	}
	var registered protocol.RegisteredPayload
	if err := env.Decode(&registered); err != nil {
		f.t.Fatalf("Decode() error = %v", err)
	}
	return registered
}

func (f *fakeClient) respond(id string, errPayload *protocol.ErrorPayload) {
	f.send(id, protocol.TypeResponse, protocol.ResponsePayload{Success: errPayload == nil, Error: errPayload})
}

func newTestBridge(t *testing.T) (*Bridge, *httptest.Server, *nfc.Manager) {
	t.Helper()
	bridge := NewBridge(zerolog.Nop())
	srv := httptest.NewServer(bridge)
	t.Cleanup(srv.Close)

	nop := zerolog.Nop()
	return bridge, srv, nfc.NewManager(bridge, nfc.Options{Logger: &nop})
}

func TestBridge_RoundTrip(t *testing.T) {
	bridge, srv, m := newTestBridge(t)

	if m.IsSupported() {
		t.Fatal("IsSupported() should be false before a client registers")
	}

	client := dialBridge(t, srv)
	registered := client.register(protocol.RegisterPayload{
		Name:            "kiosk",
		Platform:        "web",
		CanMakeReadOnly: true,
		Permission:      "granted",
	})
	if registered.ClientID == "" {
		t.Error("registration response should carry a client ID")
	}
	if !m.IsSupported() {
		t.Fatal("IsSupported() should be true once a client is registered")
	}
	if info, ok := bridge.Client(); !ok || info.Name != "kiosk" || info.ID != registered.ClientID {
		t.Errorf("Client() = %+v, %v", info, ok)
	}
	if state := m.CheckPermission(context.Background()); state != nfc.PermissionGranted {
		t.Errorf("CheckPermission() = %q, want granted", state)
	}

	written := make(chan protocol.WritePayload, 1)
	aborted := make(chan struct{}, 1)
	go func() {
		for {
			env, err := client.read()
			if err != nil {
				return
			}
			switch env.Type {
			case protocol.TypeScan:
				client.respond(env.ID, nil)
				client.send("", protocol.TypeReading, protocol.ReadingPayload{
					SerialNumber: "04a1b2c3",
					Message: protocol.MessagePayload{Records: []protocol.RecordPayload{
						{RecordType: "text", Bytes: []byte("hello"), Encoding: "utf-8", Lang: "en"},
					}},
				})
			case protocol.TypeWrite:
				var payload protocol.WritePayload
				if err := env.Decode(&payload); err != nil {
					t.Errorf("Decode(write) error = %v", err)
				}
				written <- payload
				client.respond(env.ID, nil)
			case protocol.TypeMakeReadOnly:
				client.respond(env.ID, &protocol.ErrorPayload{Name: nfc.HostErrSecurity, Message: "user declined"})
			case protocol.TypeAbort:
				select {
				case aborted <- struct{}{}:
				default:
				}
			}
		}
	}()

	ev, err := m.Scan(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if ev.SerialNumber != "04:A1:B2:C3" {
		t.Errorf("SerialNumber = %q, want %q", ev.SerialNumber, "04:A1:B2:C3")
	}
	if text, err := ev.Message.Text(); err != nil || text != "hello" {
		t.Errorf("Message.Text() = %q, %v, want hello", text, err)
	}

	msg := nfc.NewMessage(nfc.NewTextRecord("updated", "en"))
	if err := m.Write(context.Background(), msg); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	select {
	case payload := <-written:
		if len(payload.Message.Records) != 1 || payload.Message.Records[0].Data != "updated" {
			t.Errorf("client received %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("client never received the write")
	}

	err = m.MakeReadOnly(context.Background())
	if nfc.GetErrorCode(err) != nfc.ErrCodePermissionDenied {
		t.Errorf("MakeReadOnly() code = %q, want PERMISSION_DENIED", nfc.GetErrorCode(err))
	}

	m.Abort()
	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("client was not told to abort")
	}
}

func TestBridge_ScanRejectedByClient(t *testing.T) {
	_, srv, m := newTestBridge(t)

	client := dialBridge(t, srv)
	client.register(protocol.RegisterPayload{Name: "phone", Platform: "android"})

	go func() {
		env, err := client.read()
		if err != nil || env.Type != protocol.TypeScan {
			return
		}
		client.respond(env.ID, &protocol.ErrorPayload{Name: nfc.HostErrNotSupported, Message: "NFC disabled"})
	}()

	_, err := m.Scan(context.Background(), 2*time.Second)
	if nfc.GetErrorCode(err) != nfc.ErrCodeNotSupported {
		t.Fatalf("Scan() code = %q, want NOT_SUPPORTED (err: %v)", nfc.GetErrorCode(err), err)
	}
	if m.IsScanning() {
		t.Error("IsScanning() should be false after a rejected scan")
	}
}

func TestBridge_MakeReadOnlyNeedsCapableClient(t *testing.T) {
	_, srv, m := newTestBridge(t)

	client := dialBridge(t, srv)
	client.register(protocol.RegisterPayload{Name: "phone", Platform: "android"})

	go func() {
		env, err := client.read()
		if err != nil {
			return
		}
		client.respond(env.ID, nil)
		client.send("", protocol.TypeReading, protocol.ReadingPayload{SerialNumber: "virtual"})
	}()

	if _, err := m.Scan(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	err := m.MakeReadOnly(context.Background())
	if nfc.GetErrorCode(err) != nfc.ErrCodeUnsupportedOperation {
		t.Errorf("MakeReadOnly() code = %q, want UNSUPPORTED_OPERATION", nfc.GetErrorCode(err))
	}
	m.Abort()
}

func TestBridge_DisconnectEndsSession(t *testing.T) {
	bridge, srv, m := newTestBridge(t)

	client := dialBridge(t, srv)
	client.register(protocol.RegisterPayload{Name: "phone", Platform: "android"})

	go func() {
		env, err := client.read()
		if err != nil {
			return
		}
		client.respond(env.ID, nil)
		client.send("", protocol.TypeReading, protocol.ReadingPayload{SerialNumber: "04:01"})
	}()

	if _, err := m.Scan(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	time.AfterFunc(20*time.Millisecond, func() { client.conn.Close() })
	_, err := m.WaitForNext(context.Background(), 2*time.Second)
	if nfc.GetErrorCode(err) != nfc.ErrCodeInvalidTarget {
		t.Errorf("WaitForNext() code = %q, want INVALID_TARGET (err: %v)", nfc.GetErrorCode(err), err)
	}
	if m.IsScanning() {
		t.Error("the session should end when the client disconnects")
	}

	deadline := time.Now().Add(time.Second)
	for bridge.Available() {
		if time.Now().After(deadline) {
			t.Fatal("bridge still reports a client after disconnect")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBridge_ReadingErrorIsReadError(t *testing.T) {
	_, srv, m := newTestBridge(t)

	client := dialBridge(t, srv)
	client.register(protocol.RegisterPayload{Name: "phone", Platform: "android"})

	go func() {
		env, err := client.read()
		if err != nil {
			return
		}
		client.respond(env.ID, nil)
		client.send("", protocol.TypeReadingError, protocol.ReadingErrorPayload{Message: "tag moved"})
	}()

	_, err := m.Scan(context.Background(), 2*time.Second)
	if nfc.GetErrorCode(err) != nfc.ErrCodeInvalidTarget {
		t.Errorf("Scan() code = %q, want INVALID_TARGET (err: %v)", nfc.GetErrorCode(err), err)
	}
}

func TestBridge_PermissionUpdates(t *testing.T) {
	bridge, srv, m := newTestBridge(t)

	if state := m.CheckPermission(context.Background()); state != nfc.PermissionDenied {
		t.Errorf("CheckPermission() without client = %q, want denied", state)
	}

	client := dialBridge(t, srv)
	client.register(protocol.RegisterPayload{Name: "phone", Platform: "android"})
	if state, _ := bridge.QueryPermission(context.Background()); state != nfc.PermissionPrompt {
		t.Errorf("initial permission = %q, want prompt", state)
	}

	client.send("", protocol.TypePermission, protocol.PermissionPayload{State: "denied"})
	deadline := time.Now().Add(time.Second)
	for {
		if state, _ := bridge.QueryPermission(context.Background()); state == nfc.PermissionDenied {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("permission update was not applied")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBridge_RejectsBadRegistration(t *testing.T) {
	tests := []struct {
		name    string
		msgType string
		payload any
		code    string
	}{
		{"wrong type", protocol.TypeReading, protocol.ReadingPayload{SerialNumber: "x"}, protocol.ErrCodeInvalidMessageType},
		{"missing name", protocol.TypeRegister, protocol.RegisterPayload{Platform: "web"}, protocol.ErrCodeInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge, srv, _ := newTestBridge(t)
			client := dialBridge(t, srv)

			client.send("reg-1", tt.msgType, tt.payload)
			env, err := client.read()
			if err != nil {
				t.Fatalf("read() error = %v", err)
			}
			if env.Type != protocol.TypeError {
				t.Fatalf("response type = %q, want error", env.Type)
			}
			var payload protocol.ClientErrorPayload
			if err := env.Decode(&payload); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if payload.Code != tt.code {
				t.Errorf("error code = %q, want %q", payload.Code, tt.code)
			}
			if bridge.Available() {
				t.Error("a rejected client should not be registered")
			}
		})
	}
}

func TestBridge_NewClientReplacesOld(t *testing.T) {
	bridge, srv, _ := newTestBridge(t)

	first := dialBridge(t, srv)
	firstID := first.register(protocol.RegisterPayload{Name: "first", Platform: "web"}).ClientID

	second := dialBridge(t, srv)
	secondID := second.register(protocol.RegisterPayload{Name: "second", Platform: "web"}).ClientID

	info, ok := bridge.Client()
	if !ok || info.ID != secondID || info.ID == firstID {
		t.Errorf("Client() = %+v, want the second client", info)
	}

	if _, err := first.read(); err == nil {
		t.Error("the replaced client connection should be closed")
	}
}
