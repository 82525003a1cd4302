package logx

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWritesJSONWithService(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(&buf, Config{Service: "svc"})
	logger.Debug().Msg("hidden")
	logger.Info().Str("session_id", "s1").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "svc" || entry["session_id"] != "s1" || entry["message"] != "hello" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewDebugLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(&buf, Config{Debug: true})
	logger.Debug().Msg("visible")

	if !bytes.Contains(buf.Bytes(), []byte("visible")) {
		t.Fatalf("debug entry missing: %q", buf.String())
	}
}
