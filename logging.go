package main

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nedpals/davi-nfc-session/buildinfo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// initLogging configures the global logger: a console writer on stderr and,
// when cfg.LogFile is set, a rotated JSON log file. The returned function
// closes the log file.
func initLogging(cfg Config, console io.Writer) (zerolog.Logger, func() error, error) {
	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}}
	closeFn := func() error { return nil }

	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return zerolog.Nop(), closeFn, err
		}
		file := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    1,
			MaxBackups: 2,
		}
		writers = append(writers, file)
		closeFn = file.Close
	}

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("app", buildinfo.Name).
		Logger()
	log.Logger = logger
	return logger, closeFn, nil
}
