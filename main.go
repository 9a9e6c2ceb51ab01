// Command davi-nfc-session runs NFC scan sessions against a Web NFC client
// connected over a websocket, or against a directory of virtual tags.
//
// Usage:
//
//	davi-nfc-session -mode watch
//	davi-nfc-session -mode write -text "hello"
//	davi-nfc-session -host file -dir ./tags -mode scan -timeout 10s
//	davi-nfc-session -version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nedpals/davi-nfc-session/buildinfo"
	"github.com/nedpals/davi-nfc-session/nfc"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", buildinfo.Name, err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}
	if cfg.ShowVersion {
		fmt.Fprintln(stdout, buildinfo.BuildInfo())
		return nil
	}

	logger, closeLog, err := initLogging(cfg, stderr)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closeLog()

	logger.Info().
		Str("version", buildinfo.FullVersion()).
		Str("host", cfg.Host).
		Str("mode", cfg.Mode).
		Msg("starting " + buildinfo.DisplayName)

	agent, err := NewAgent(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = agent.Run(ctx, func(ctx context.Context, m *nfc.Manager) error {
		return runWorkflow(ctx, m, cfg, stdout)
	})
	if interrupted(ctx, err) {
		logger.Info().Msg("interrupted")
		return nil
	}
	return err
}

// interrupted reports whether err is only the consequence of a shutdown
// signal.
func interrupted(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || nfc.IsAbortError(err)
}
