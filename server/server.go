// Package server provides the HTTP and WebSocket endpoint remote NFC clients
// connect to, and advertises it on the local network.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/nedpals/davi-nfc-session/buildinfo"
	"github.com/nedpals/davi-nfc-session/certs"
	"github.com/nedpals/davi-nfc-session/nfc/remotehost"
	"github.com/nedpals/davi-nfc-session/protocol"
	"github.com/rs/zerolog"
)

// Config holds the server configuration
type Config struct {
	Port       int
	Bridge     *remotehost.Bridge
	EnableMDNS bool
	Logger     zerolog.Logger

	// TLS, when set, serves https and wss with this certificate.
	TLS *certs.Pair

	// Certs and BootstrapPort enable a plain HTTP listener that hands out
	// the CA certificate to devices that don't trust it yet.
	Certs         *certs.Store
	BootstrapPort int
}

// Server manages the HTTP server and its mDNS advertisement
type Server struct {
	config Config
	log    zerolog.Logger

	mu              sync.Mutex
	httpServer      *http.Server
	bootstrapServer *http.Server
	mdnsServer      *zeroconf.Server
}

// New creates a new server instance
func New(config Config) *Server {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	return &Server{
		config: config,
		log:    config.Logger.With().Str("component", "server").Logger(),
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(RouteHealth, enableCORS(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleHealthCheck(w, r)
	}))

	mux.HandleFunc(RouteWebSocket, func(w http.ResponseWriter, r *http.Request) {
		if s.config.Bridge == nil {
			http.Error(w, "Remote NFC bridge is not enabled", http.StatusServiceUnavailable)
			return
		}
		s.config.Bridge.ServeHTTP(w, r)
	})

	mux.HandleFunc("/", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(buildinfo.DisplayName + " running"))
	}))

	return mux
}

// enableCORS is a middleware that adds CORS headers to responses
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// Start serves until ctx is cancelled or the listener fails. A cancelled ctx
// is a clean shutdown and returns nil.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if tls := s.config.TLS; tls != nil {
			s.log.Info().Str("addr", httpServer.Addr).Msg("starting server with TLS")
			errCh <- httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			return
		}
		s.log.Info().Str("addr", httpServer.Addr).Msg("starting server")
		errCh <- httpServer.ListenAndServe()
	}()

	if s.config.Certs != nil && s.config.BootstrapPort > 0 {
		bootstrap := &http.Server{
			Addr:              fmt.Sprintf(":%d", s.config.BootstrapPort),
			Handler:           certs.BootstrapHandler(s.config.Certs, s.config.BootstrapPort, s.config.Logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		s.mu.Lock()
		s.bootstrapServer = bootstrap
		s.mu.Unlock()
		go func() {
			s.log.Info().Str("addr", bootstrap.Addr).Msg("serving CA certificate")
			if err := bootstrap.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Warn().Err(err).Msg("CA bootstrap server stopped")
			}
		}()
	}

	if s.config.EnableMDNS {
		if err := s.startMDNS(); err != nil {
			s.log.Warn().Err(err).Msg("mDNS unavailable, auto-discovery disabled")
		}
	}

	select {
	case <-ctx.Done():
		s.Stop()
		<-errCh
		return nil
	case err := <-errCh:
		s.Stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop() {
	s.mu.Lock()
	mdnsServer := s.mdnsServer
	httpServer := s.httpServer
	bootstrapServer := s.bootstrapServer
	s.mdnsServer = nil
	s.httpServer = nil
	s.bootstrapServer = nil
	s.mu.Unlock()

	if mdnsServer != nil {
		mdnsServer.Shutdown()
		s.log.Debug().Msg("mDNS service stopped")
	}

	if s.config.Bridge != nil {
		s.config.Bridge.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range []*http.Server{httpServer, bootstrapServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			s.log.Warn().Err(err).Str("addr", srv.Addr).Msg("server shutdown error")
		}
	}
}

// startMDNS registers the bridge as an mDNS service so that clients on the
// local network can discover it.
func (s *Server) startMDNS() error {
	txtRecords := []string{
		"version=" + buildinfo.Version,
		"protocol=websocket",
		"path=" + RouteWebSocket,
		fmt.Sprintf("tls=%t", s.config.TLS != nil),
	}

	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, s.config.Port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mu.Lock()
	s.mdnsServer = server
	s.mu.Unlock()

	s.log.Info().Str("service", MDNSServiceType).Int("port", s.config.Port).Msg("mDNS service registered")
	return nil
}

// handleHealthCheck provides a health check endpoint (GET /health)
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := protocol.HealthResponse{
		Status:    "ok",
		Version:   buildinfo.FullVersion(),
		Timestamp: time.Now().UTC(),
	}
	if s.config.Bridge != nil {
		if info, ok := s.config.Bridge.Client(); ok {
			resp.Connected = true
			resp.Client = info.Name
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Debug().Err(err).Msg("failed to write health response")
	}
}
