package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nedpals/davi-nfc-session/buildinfo"
	"github.com/nedpals/davi-nfc-session/certs"
	"github.com/nedpals/davi-nfc-session/nfc/remotehost"
	"github.com/nedpals/davi-nfc-session/protocol"
	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) (*remotehost.Bridge, *httptest.Server) {
	t.Helper()
	bridge := remotehost.NewBridge(zerolog.Nop())
	s := New(Config{Bridge: bridge, Logger: zerolog.Nop()})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return bridge, srv
}

func getHealth(t *testing.T, srv *httptest.Server) protocol.HealthResponse {
	t.Helper()
	resp, err := http.Get(srv.URL + RouteHealth)
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var health protocol.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	return health
}

func TestHealthCheck(t *testing.T) {
	_, srv := newTestServer(t)

	health := getHealth(t, srv)
	if health.Status != "ok" {
		t.Errorf("Status = %q, want ok", health.Status)
	}
	if health.Connected {
		t.Error("Connected should be false without a client")
	}
	if health.Version != buildinfo.FullVersion() {
		t.Errorf("Version = %q, want %q", health.Version, buildinfo.FullVersion())
	}
}

func TestHealthCheck_ReportsClient(t *testing.T) {
	_, srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + RouteWebSocket
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	env, _ := protocol.NewEnvelope("reg-1", protocol.TypeRegister, protocol.RegisterPayload{Name: "kiosk", Platform: "web"})
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var registered protocol.Envelope
	if err := conn.ReadJSON(&registered); err != nil || registered.Type != protocol.TypeRegistered {
		t.Fatalf("registration response = %+v, %v", registered, err)
	}

	health := getHealth(t, srv)
	if !health.Connected || health.Client != "kiosk" {
		t.Errorf("health = %+v, want connected client kiosk", health)
	}
}

func TestHealthCheck_MethodNotAllowed(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+RouteHealth, "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST /health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	_, srv := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+RouteHealth, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /health error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != CORSAllowOrigin {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, CORSAllowOrigin)
	}
}

func TestWebSocketWithoutBridge(t *testing.T) {
	s := New(Config{Logger: zerolog.Nop()})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteWebSocket, nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	s := New(Config{Port: freePort(t), Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() error = %v, want nil on cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	return srv.Listener.Addr().(*net.TCPAddr).Port
}

func TestStartServesCABootstrap(t *testing.T) {
	store := certs.NewStore(t.TempDir(), zerolog.Nop())
	port := freePort(t)
	s := New(Config{Port: freePort(t), Certs: store, BootstrapPort: port, Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	var resp *http.Response
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/", port))
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET bootstrap page error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("bootstrap page status = %d, want 200", resp.StatusCode)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Start() error = %v", err)
	}
}
