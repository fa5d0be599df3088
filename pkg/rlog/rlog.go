// Package rlog provides reconsync's structured logging wrapper around
// zerolog: a process-global logger, component-scoped child loggers,
// and a small set of package-level helpers for the common case.
package rlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, configured by Init.
var Logger zerolog.Logger

// Level is a logging verbosity level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger from cfg. Safe to call again to
// reconfigure (e.g. after flags are parsed).
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

func init() {
	Init(Config{Level: InfoLevel})
}

// WithComponent returns a child logger tagged with a component name,
// e.g. "lock", "replicator", "publisher".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTenant returns a child logger tagged with a tenant id.
func WithTenant(tenantID string) zerolog.Logger {
	return Logger.With().Str("tenant", tenantID).Logger()
}

// WithTable returns a child logger tagged with a table name.
func WithTable(table string) zerolog.Logger {
	return Logger.With().Str("table", table).Logger()
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(msg string, err error) { Logger.Error().Err(err).Msg(msg) }
