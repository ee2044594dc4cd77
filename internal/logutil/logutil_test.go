package logutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestStructuredHelpers(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger()
	t.Cleanup(func() {
		mu.Lock()
		logger = prev
		mu.Unlock()
	})
	SetupWriter(&buf, "debug", "json")

	Info("started", map[string]interface{}{"port": "8080"})
	Error("failed", errors.New("boom"), map[string]interface{}{"function": "greet"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines got %d: %q", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &entry); err != nil {
		t.Fatalf("invalid json %q: %v", lines[1], err)
	}
	if entry["level"] != "error" || entry["error"] != "boom" || entry["function"] != "greet" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger()
	t.Cleanup(func() {
		mu.Lock()
		logger = prev
		mu.Unlock()
	})
	l := SetupWriter(&buf, "chatty", "json")
	if l.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info level, got %s", l.GetLevel())
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	attached := zerolog.New(&buf).With().Str("request_id", "req-1").Logger()
	ctx := WithContext(context.Background(), attached)

	l := FromContextOr(ctx, zerolog.Nop())
	l.Info().Msg("hello")
	if !strings.Contains(buf.String(), `"request_id":"req-1"`) {
		t.Fatalf("context logger not used: %q", buf.String())
	}

	fallback := FromContextOr(context.Background(), zerolog.Nop())
	if fallback.GetLevel() != zerolog.Disabled {
		t.Fatal("expected the fallback logger")
	}
}
