// Package logging configures the process logger. Output always goes to
// stderr because stdout carries the MCP protocol.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options selects the log level and output encoding.
type Options struct {
	Level string
	JSON  bool
	Out   io.Writer
}

// New builds a zerolog logger from Options. Unknown levels fall back to info.
func New(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	if !opts.JSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.DateTime,
			NoColor:    true,
		}
	}

	return zerolog.New(out).
		Level(ParseLevel(opts.Level)).
		With().
		Timestamp().
		Str("name", "moodle_mcp").
		Logger()
}

// ParseLevel maps LOG_LEVEL style names (including WARNING) onto zerolog levels.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

// Redact keeps the first keep characters of a secret and elides the rest.
func Redact(value string, keep int) string {
	if value == "" {
		return ""
	}
	r := []rune(value)
	if len(r) > keep {
		return string(r[:keep]) + "…"
	}
	return "…"
}
