// Package logging wires zerolog the way adred-codev-ws_poc's ws module does
// (component-scoped sub-loggers, plain console vs. raw JSON lines), with the
// level/format/file/dir knobs from the original datacat service's
// logging_utils.py carried over as environment variables (spec.md §6.3).
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/datacat-io/ingest/internal/config"
)

// New builds the process-wide base logger from cfg. Callers derive
// component loggers with base.With().Str("component", name).Logger().
func New(cfg *config.Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	switch cfg.LogFormat {
	case "json":
		writers = append(writers, os.Stdout)
	default:
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"})
	}

	if cfg.LogFile != "" {
		path := cfg.LogFile
		if cfg.LogDir != "" && !filepath.IsAbs(path) {
			path = filepath.Join(cfg.LogDir, path)
			if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
				return zerolog.Logger{}, err
			}
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Logger{}, err
		}
		if cfg.LogFormat == "json" {
			writers = append(writers, f)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{Out: f, NoColor: true, TimeFormat: "15:04:05"})
		}
	}

	w := zerolog.MultiLevelWriter(writers...)
	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return logger, nil
}

// Component returns a sub-logger tagged with the given component name,
// mirroring the original service's per-module logger adapters.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
