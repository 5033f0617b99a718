package runtime

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-speaker/internal/config"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(config.TelemetryConfig{LogFormat: "json", LogLevel: "warn"}, &buf)
	log.Info("hidden")
	log.Warn("shown", "component", "test")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("expected json output: %v", err)
	}
	if rec["msg"] != "shown" || rec["component"] != "test" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(config.TelemetryConfig{LogFormat: "text", LogLevel: "debug"}, &buf)
	log.Debug("tts model loaded", "load_count", 2)
	if out := buf.String(); !strings.Contains(out, "tts model loaded") || !strings.Contains(out, "load_count=2") {
		t.Fatalf("unexpected text output %q", out)
	}
}
