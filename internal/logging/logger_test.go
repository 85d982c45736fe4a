package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func globalLevelName() string {
	return zerolog.GlobalLevel().String()
}

func TestDebugWriterPrefixesMessage(t *testing.T) {
	var out bytes.Buffer
	w := debugWriter{out: &out}

	record := []byte(`{"level":"info","time":"2026-01-01T00:00:00Z","message":"listening"}`)
	if _, err := w.Write(record); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := out.String()
	if !strings.HasPrefix(got, "[DEBUG] ") {
		t.Fatalf("got %q, want [DEBUG] prefix", got)
	}
	if !strings.Contains(got, "listening") {
		t.Fatalf("got %q, want it to contain the message field", got)
	}
}

func TestDebugWriterFallsBackOnNonJSON(t *testing.T) {
	var out bytes.Buffer
	w := debugWriter{out: &out}

	if _, err := w.Write([]byte("not json")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := out.String(); got != "[DEBUG] not json\n" {
		t.Fatalf("got %q", got)
	}
}

func TestNewSetsGlobalLevel(t *testing.T) {
	New(Config{Level: LevelError, Format: FormatJSON})
	if got := globalLevelName(); got != "error" {
		t.Fatalf("global level = %q, want %q", got, "error")
	}
}

// Every Format value must render through debugWriter, never through
// zerolog.ConsoleWriter fed non-JSON text: New must not panic or otherwise
// misbehave for any of them, and the underlying rendering is always the
// plain "[DEBUG] <message>" line pinned by TestDebugWriterPrefixesMessage.
func TestNewUniformAcrossFormats(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatPretty, FormatText} {
		logger := New(Config{Level: LevelInfo, Format: format})
		logger.Info().Msg("smoke test")
	}
}
