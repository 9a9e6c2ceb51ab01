package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/nedpals/davi-nfc-session/server"
)

// Host kinds
const (
	HostRemote = "remote"
	HostFile   = "file"
)

// Workflow modes
const (
	ModeScan  = "scan"
	ModeBatch = "batch"
	ModeWrite = "write"
	ModeLock  = "lock"
	ModeWatch = "watch"
)

// Config is the resolved command configuration: defaults, then the TOML
// file, then flags.
type Config struct {
	Host          string
	Dir           string
	Port          int
	MDNS          bool
	TLS           bool
	CertDir       string
	BootstrapPort int
	Timeout       time.Duration
	Debug         bool
	LogFile       string
	Mode          string
	Text          string
	Lang          string

	// ShowVersion prints build information instead of running a workflow.
	ShowVersion bool
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Host:          HostRemote,
		Dir:           "tags",
		Port:          server.DefaultPort,
		MDNS:          true,
		CertDir:       ".davi-nfc",
		BootstrapPort: server.DefaultPort + 1,
		Mode:          ModeWatch,
		Lang:          "en",
	}
}

// config.toml keys
type fileConfig struct {
	Host          string `toml:"host"`
	Dir           string `toml:"dir"`
	Port          int    `toml:"port"`
	MDNS          bool   `toml:"mdns"`
	TLS           bool   `toml:"tls"`
	CertDir       string `toml:"cert_dir"`
	BootstrapPort int    `toml:"bootstrap_port"`
	Timeout       string `toml:"timeout"`
	Debug         bool   `toml:"debug"`
	LogFile       string `toml:"log_file"`
	Mode          string `toml:"mode"`
	Text          string `toml:"text"`
	Lang          string `toml:"lang"`
}

// loadConfig overlays the TOML file at path on cfg. Keys missing from the
// file keep their value in cfg.
func loadConfig(path string, cfg Config) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("dir") {
		cfg.Dir = strings.TrimSpace(raw.Dir)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("mdns") {
		cfg.MDNS = raw.MDNS
	}
	if meta.IsDefined("tls") {
		cfg.TLS = raw.TLS
	}
	if meta.IsDefined("cert_dir") {
		cfg.CertDir = strings.TrimSpace(raw.CertDir)
	}
	if meta.IsDefined("bootstrap_port") {
		cfg.BootstrapPort = raw.BootstrapPort
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return Config{}, fmt.Errorf("load config: timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if meta.IsDefined("debug") {
		cfg.Debug = raw.Debug
	}
	if meta.IsDefined("log_file") {
		cfg.LogFile = strings.TrimSpace(raw.LogFile)
	}
	if meta.IsDefined("mode") {
		cfg.Mode = strings.TrimSpace(raw.Mode)
	}
	if meta.IsDefined("text") {
		cfg.Text = raw.Text
	}
	if meta.IsDefined("lang") {
		cfg.Lang = strings.TrimSpace(raw.Lang)
	}
	return cfg, nil
}

// flagValues holds the parsed command line. Only flags that were actually
// passed override the configuration.
type flagValues struct {
	config        string
	host          string
	dir           string
	port          int
	mdns          bool
	tls           bool
	certDir       string
	bootstrapPort int
	timeout       time.Duration
	debug         bool
	logFile       string
	mode          string
	text          string
	lang          string
	version       bool
}

func newFlagSet(name string, fv *flagValues) *flag.FlagSet {
	def := DefaultConfig()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&fv.config, "config", "", "Path to a TOML config file")
	fs.StringVar(&fv.host, "host", def.Host, "NFC host: remote (Web NFC client over websocket) or file (virtual tag directory)")
	fs.StringVar(&fv.dir, "dir", def.Dir, "Virtual tag directory for -host file")
	fs.IntVar(&fv.port, "port", def.Port, "Port the remote bridge listens on")
	fs.BoolVar(&fv.mdns, "mdns", def.MDNS, "Advertise the remote bridge over mDNS")
	fs.BoolVar(&fv.tls, "tls", def.TLS, "Serve the remote bridge over TLS with a locally trusted certificate")
	fs.StringVar(&fv.certDir, "cert-dir", def.CertDir, "Directory holding the local CA and server certificate")
	fs.IntVar(&fv.bootstrapPort, "bootstrap-port", def.BootstrapPort, "Plain HTTP port serving the CA certificate when -tls is set (0 disables)")
	fs.DurationVar(&fv.timeout, "timeout", def.Timeout, "Scan timeout (default from DAVI_NFC_DEFAULT_TIMEOUT or 30s)")
	fs.BoolVar(&fv.debug, "debug", def.Debug, "Enable debug logging")
	fs.StringVar(&fv.logFile, "log-file", def.LogFile, "Also write logs to this file, rotated")
	fs.StringVar(&fv.mode, "mode", def.Mode, "Workflow: scan, batch, write, lock or watch")
	fs.StringVar(&fv.text, "text", def.Text, "Text record to write in -mode write")
	fs.StringVar(&fv.lang, "lang", def.Lang, "Language of the written text record")
	fs.BoolVar(&fv.version, "version", false, "Print version information and exit")
	return fs
}

// applyFlags copies the flags that were set on fs into cfg.
func applyFlags(cfg Config, fs *flag.FlagSet, fv flagValues) Config {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = fv.host
		case "dir":
			cfg.Dir = fv.dir
		case "port":
			cfg.Port = fv.port
		case "mdns":
			cfg.MDNS = fv.mdns
		case "tls":
			cfg.TLS = fv.tls
		case "cert-dir":
			cfg.CertDir = fv.certDir
		case "bootstrap-port":
			cfg.BootstrapPort = fv.bootstrapPort
		case "timeout":
			cfg.Timeout = fv.timeout
		case "debug":
			cfg.Debug = fv.debug
		case "log-file":
			cfg.LogFile = fv.logFile
		case "mode":
			cfg.Mode = fv.mode
		case "text":
			cfg.Text = fv.text
		case "lang":
			cfg.Lang = fv.lang
		}
	})
	return cfg
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Host {
	case HostRemote:
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("invalid port %d", c.Port)
		}
	case HostFile:
		if c.Dir == "" {
			return fmt.Errorf("host %q requires a tag directory", HostFile)
		}
	default:
		return fmt.Errorf("unknown host %q (expected %s or %s)", c.Host, HostRemote, HostFile)
	}

	switch c.Mode {
	case ModeScan, ModeBatch, ModeLock, ModeWatch:
	case ModeWrite:
		if c.Text == "" {
			return fmt.Errorf("mode %q requires -text", ModeWrite)
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	return nil
}

// parseConfig resolves the configuration from args.
func parseConfig(args []string) (Config, error) {
	var fv flagValues
	fs := newFlagSet("davi-nfc-session", &fv)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fv.version {
		return Config{ShowVersion: true}, nil
	}

	cfg := DefaultConfig()
	if fv.config != "" {
		var err error
		if cfg, err = loadConfig(fv.config, cfg); err != nil {
			return Config{}, err
		}
	}
	cfg = applyFlags(cfg, fs, fv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
