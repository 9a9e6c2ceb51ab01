package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nedpals/davi-nfc-session/certs"
	"github.com/nedpals/davi-nfc-session/nfc"
	"github.com/nedpals/davi-nfc-session/nfc/filehost"
	"github.com/nedpals/davi-nfc-session/nfc/remotehost"
	"github.com/nedpals/davi-nfc-session/server"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// hostPollInterval is how often Run checks whether the host became available.
const hostPollInterval = 250 * time.Millisecond

// Agent ties the session manager to the host it drives and, for the remote
// host, the server remote clients connect to.
type Agent struct {
	Manager *nfc.Manager

	cfg    Config
	log    zerolog.Logger
	server *server.Server
}

// NewAgent builds the host provider and session manager described by cfg.
func NewAgent(cfg Config, logger zerolog.Logger) (*Agent, error) {
	a := &Agent{
		cfg: cfg,
		log: logger.With().Str("component", "agent").Logger(),
	}

	opts, err := nfc.LoadOptionsFromEnv()
	if err != nil {
		a.log.Warn().Err(err).Msg("ignoring invalid environment, using default timeout")
	}
	if cfg.Timeout > 0 {
		opts.DefaultTimeout = cfg.Timeout
	}
	opts.Logger = &logger
	opts.OnError = func(err *nfc.NFCError) {
		switch err.Code {
		case nfc.ErrCodeAbort, nfc.ErrCodeTimeout, nfc.ErrCodeNoData:
			return
		}
		a.log.Warn().Str("code", string(err.Code)).Str("op", err.Op).Msg(err.Message)
	}

	var provider nfc.HostProvider
	switch cfg.Host {
	case HostFile:
		provider = filehost.NewProvider(cfg.Dir, logger)
	case HostRemote:
		bridge := remotehost.NewBridge(logger)
		srvCfg, err := a.serverConfig(bridge, logger)
		if err != nil {
			return nil, err
		}
		a.server = server.New(srvCfg)
		provider = bridge
	default:
		return nil, fmt.Errorf("unknown host %q", cfg.Host)
	}

	a.Manager = nfc.NewManager(provider, opts)
	return a, nil
}

func (a *Agent) serverConfig(bridge *remotehost.Bridge, logger zerolog.Logger) (server.Config, error) {
	srvCfg := server.Config{
		Port:       a.cfg.Port,
		Bridge:     bridge,
		EnableMDNS: a.cfg.MDNS,
		Logger:     logger,
	}
	if !a.cfg.TLS {
		return srvCfg, nil
	}

	hosts, err := certs.Hosts()
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to list LAN addresses, certificate covers localhost only")
	}
	store := certs.NewStore(a.cfg.CertDir, logger)
	pair, err := store.Ensure(hosts)
	if err != nil {
		return server.Config{}, fmt.Errorf("prepare TLS certificate: %w", err)
	}
	srvCfg.TLS = &pair
	srvCfg.Certs = store
	srvCfg.BootstrapPort = a.cfg.BootstrapPort
	return srvCfg, nil
}

// Run serves remote clients (for the remote host), waits until the host is
// available and runs workflow. The server stops once workflow returns.
func (a *Agent) Run(ctx context.Context, workflow func(ctx context.Context, m *nfc.Manager) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if a.server != nil {
		g.Go(func() error { return a.server.Start(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		if err := a.waitForHost(gctx); err != nil {
			return err
		}
		return workflow(gctx, a.Manager)
	})

	err := g.Wait()
	a.Manager.Abort()
	return err
}

func (a *Agent) waitForHost(ctx context.Context) error {
	if a.Manager.IsSupported() {
		return nil
	}
	switch a.cfg.Host {
	case HostRemote:
		a.log.Info().Int("port", a.cfg.Port).Msg("waiting for a Web NFC client to connect")
	case HostFile:
		a.log.Info().Str("dir", a.cfg.Dir).Msg("waiting for the tag directory")
	}

	ticker := time.NewTicker(hostPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if a.Manager.IsSupported() {
				return nil
			}
		}
	}
}
