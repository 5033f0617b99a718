package mcp

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-speaker/internal/audio"
	"github.com/loqalabs/loqa-speaker/internal/config"
	"github.com/loqalabs/loqa-speaker/internal/journal"
	"github.com/loqalabs/loqa-speaker/internal/speech"
	"github.com/loqalabs/loqa-speaker/internal/tts"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	j, err := journal.Open(context.Background(), config.JournalConfig{
		Path:          filepath.Join(t.TempDir(), "journal.db"),
		RetentionMode: "persistent",
		RetentionDays: 7,
		MaxEntries:    100,
	}, log)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	provider := speech.NewProvider(func() (*speech.Pipeline, error) {
		return speech.New(speech.Options{
			Loader:       tts.NewMockLoader(8000, 10*time.Millisecond, 0),
			Sink:         audio.NewNullSink(false),
			Logger:       log,
			PollInterval: 5 * time.Millisecond,
			Listeners:    []speech.Listener{j.HandleOutcome},
		})
	})
	t.Cleanup(provider.Shutdown)
	return NewServer(Config{ServerName: "speaker-test", ServerVersion: "test", MaxWait: 5}, provider, j, log)
}

func resultText(res *sdk.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*sdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func TestSpeakWaitHistory(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, _, err := s.handleSpeak(ctx, nil, SpeakArgs{Text: "The build finished without any errors."})
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	if res.IsError || !strings.HasPrefix(resultText(res), "Queued ") {
		t.Fatalf("unexpected speak result %q", resultText(res))
	}

	res, _, err = s.handleWait(ctx, nil, WaitArgs{TimeoutSeconds: 5})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.IsError {
		t.Fatalf("wait timed out: %q", resultText(res))
	}

	res, _, err = s.handleStatus(ctx, nil, StatusArgs{})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if text := resultText(res); !strings.Contains(text, `"processed": 1`) || !strings.Contains(text, `"model_state": "loaded"`) {
		t.Fatalf("unexpected status %q", text)
	}

	res, _, err = s.handleHistory(ctx, nil, HistoryArgs{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if text := resultText(res); !strings.Contains(text, "[played]") || !strings.Contains(text, "build finished") {
		t.Fatalf("unexpected history %q", text)
	}
}

func TestSpeakRejectsCodeOnly(t *testing.T) {
	s := newTestServer(t)
	res, _, err := s.handleSpeak(context.Background(), nil, SpeakArgs{Text: "```go\nfmt.Println(1)\n```"})
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected rejection, got %q", resultText(res))
	}
}

func TestWaitAndStatusBeforeStart(t *testing.T) {
	s := newTestServer(t)
	res, _, err := s.handleWait(context.Background(), nil, WaitArgs{})
	if err != nil || resultText(res) != "Nothing queued." {
		t.Fatalf("unexpected wait result %v %q", err, resultText(res))
	}
	res, _, err = s.handleStatus(context.Background(), nil, StatusArgs{})
	if err != nil || !strings.Contains(resultText(res), "not started") {
		t.Fatalf("unexpected status result %v %q", err, resultText(res))
	}
}
