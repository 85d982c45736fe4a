// Package logging configures the broker's structured logger and the
// plain-text diagnostic stream the protocol's operator interface requires.
package logging

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog's levels under names the config package accepts.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the rendering used for structured output. All three
// values currently produce the same stderr rendering: every diagnostic
// line must be "[DEBUG] <message>" (the broker's external contract makes
// no exception for a colorized/pretty dev variant), so Format only exists
// to keep the config surface compatible with formats a future writer could
// support without widening the external contract.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
	FormatText   Format = "text"
)

// Config holds logger construction parameters.
type Config struct {
	Level  Level
	Format Format
}

// debugWriter renders every record as a single "[DEBUG] <message>" line on
// stderr, regardless of its zerolog level. The broker's diagnostic contract
// is a line format, not a severity filter, so this writer ignores the
// structured fields and keeps only the message.
type debugWriter struct {
	out io.Writer
}

func (w debugWriter) Write(p []byte) (int, error) {
	msg := extractMessage(p)
	if _, err := fmt.Fprintf(w.out, "[DEBUG] %s\n", msg); err != nil {
		return 0, err
	}
	return len(p), nil
}

// extractMessage pulls the "message" field out of a zerolog JSON record.
// Falls back to the raw bytes if the record isn't recognizable JSON, which
// keeps this resilient to format changes without ever panicking.
func extractMessage(p []byte) string {
	const key = `"message":"`
	start := indexOf(p, key)
	if start < 0 {
		return string(p)
	}
	start += len(key)
	end := start
	for end < len(p) && p[end] != '"' {
		if p[end] == '\\' {
			end++
		}
		end++
	}
	if end > len(p) {
		end = len(p)
	}
	return string(p[start:end])
}

func indexOf(haystack []byte, needle string) int {
	n := len(needle)
	for i := 0; i+n <= len(haystack); i++ {
		if string(haystack[i:i+n]) == needle {
			return i
		}
	}
	return -1
}

// New builds the broker's diagnostic logger. All records go to stderr via
// debugWriter, the broker's single diagnostic stream; the three
// operator-facing protocol lines (connect/reject/disconnect) are never
// routed through this logger and are written directly to stdout by callers.
func New(cfg Config) zerolog.Logger {
	var level zerolog.Level
	switch cfg.Level {
	case LevelDebug:
		level = zerolog.DebugLevel
	case LevelInfo:
		level = zerolog.InfoLevel
	case LevelWarn:
		level = zerolog.WarnLevel
	case LevelError:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// debugWriter always reduces a record to "[DEBUG] <message>", so there
	// is no ConsoleWriter branch here: feeding debugWriter's plain-text
	// output into zerolog.ConsoleWriter would hand it non-JSON input it
	// cannot parse, producing a decode-error line instead of a pretty one.
	out := debugWriter{out: os.Stderr}

	return zerolog.New(out).With().Timestamp().Str("service", "topicbroker").Logger()
}

// LogError logs an error with context fields.
func LogError(logger zerolog.Logger, err error, msg string, fields map[string]interface{}) {
	event := logger.Error().Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// LogPanic logs a recovered panic with a stack trace. Used only by
// background monitoring goroutines; the core broker loop never recovers
// panics (a core bug should crash loudly, not be papered over).
func LogPanic(logger zerolog.Logger, panicValue interface{}, msg string) {
	logger.Error().
		Interface("panic_value", panicValue).
		Str("stack_trace", string(debug.Stack())).
		Msg(msg)
}
