package nfc

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultScanTimeout applies to Scan and WaitForNext calls that don't
// override it.
const DefaultScanTimeout = 30 * time.Second

// Options configures a Manager.
type Options struct {
	// DefaultTimeout is used when an operation is called with a zero timeout.
	DefaultTimeout time.Duration

	// OnError is invoked with every error an operation returns, before it is
	// returned. Used for telemetry only.
	OnError func(err *NFCError)

	// OnTagDetected is invoked with the serial number of every accepted
	// reading.
	OnTagDetected func(serialNumber string)

	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger

	// Clock defaults to the real clock.
	Clock Clock
}

type envOptions struct {
	DefaultTimeout time.Duration `env:"DAVI_NFC_DEFAULT_TIMEOUT" envDefault:"30s"`
}

// LoadOptionsFromEnv returns Options with DefaultTimeout read from
// DAVI_NFC_DEFAULT_TIMEOUT (a Go duration, e.g. "15s").
func LoadOptionsFromEnv() (Options, error) {
	var cfg envOptions
	if err := env.Parse(&cfg); err != nil {
		return Options{DefaultTimeout: DefaultScanTimeout}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DefaultTimeout <= 0 {
		return Options{DefaultTimeout: DefaultScanTimeout}, fmt.Errorf("parse env: DAVI_NFC_DEFAULT_TIMEOUT must be positive, got %s", cfg.DefaultTimeout)
	}
	return Options{DefaultTimeout: cfg.DefaultTimeout}, nil
}

func (o Options) withDefaults() Options {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultScanTimeout
	}
	if o.Logger == nil {
		l := log.Logger
		o.Logger = &l
	}
	if o.Clock == nil {
		o.Clock = NewRealClock()
	}
	return o
}
