package speech

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-speaker/internal/audio"
	"github.com/loqalabs/loqa-speaker/internal/tts"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLoader struct {
	loads   atomic.Int32
	closes  atomic.Int32
	err     error
	blockOn string
}

func (l *fakeLoader) Load(ctx context.Context, modelID string) (tts.Model, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.loads.Add(1)
	return &fakeModel{loader: l}, nil
}

// fakeModel emits one 10ms chunk per word. Text containing "explode" fails;
// text containing the loader's blockOn word blocks until ctx is cancelled.
type fakeModel struct {
	loader *fakeLoader
	closed atomic.Bool
}

func (m *fakeModel) SampleRate() int { return 8000 }

func (m *fakeModel) Close() error {
	if m.closed.CompareAndSwap(false, true) {
		m.loader.closes.Add(1)
	}
	return nil
}

func (m *fakeModel) Synthesize(ctx context.Context, req tts.SynthRequest) (<-chan tts.SynthChunk, <-chan error) {
	chunks := make(chan tts.SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if strings.Contains(req.Text, "explode") {
			errs <- errors.New("synthesis exploded")
			return
		}
		if m.loader.blockOn != "" && strings.Contains(req.Text, m.loader.blockOn) {
			<-ctx.Done()
			errs <- ctx.Err()
			return
		}
		words := strings.Fields(req.Text)
		for i := range words {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case chunks <- tts.SynthChunk{RequestID: req.ID, Sequence: i, SampleRate: 8000, PCM: make([]byte, 160), Final: i == len(words)-1}:
			}
		}
	}()
	return chunks, errs
}

// recordingSink records clip ids in play order. When gate is set, every Play
// signals started and then waits for one value on gate.
type recordingSink struct {
	mu      sync.Mutex
	played  []audio.Clip
	gate    chan struct{}
	started chan string
	panicOn string
}

func (s *recordingSink) Play(ctx context.Context, clip audio.Clip) error {
	if s.panicOn != "" && clip.ID == s.panicOn {
		panic("device went away")
	}
	if s.started != nil {
		s.started <- clip.ID
	}
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = append(s.played, audio.Clip{ID: clip.ID, PCM: append([]byte(nil), clip.PCM...), SampleRate: clip.SampleRate})
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.played))
	for _, c := range s.played {
		out = append(out, c.ID)
	}
	return out
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *outcomeRecorder) listen(out Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, out)
}

func (r *outcomeRecorder) statuses() map[string]OutcomeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := make(map[string]OutcomeStatus, len(r.outcomes))
	for _, o := range r.outcomes {
		m[o.Request.ID] = o.Status
	}
	return m
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestPipeline(t *testing.T, loader *fakeLoader, sink audio.Sink, mutate func(*Options)) (*Pipeline, *outcomeRecorder) {
	t.Helper()
	rec := &outcomeRecorder{}
	opts := Options{
		Loader:           loader,
		Sink:             sink,
		Logger:           discardLogger(),
		IdleTimeout:      time.Hour,
		IdlePollInterval: time.Hour,
		PollInterval:     5 * time.Millisecond,
		StopTimeout:      2 * time.Second,
		Listeners:        []Listener{rec.listen},
	}
	if mutate != nil {
		mutate(&opts)
	}
	p, err := New(opts)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	t.Cleanup(p.Stop)
	return p, rec
}

func waitDone(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.WaitUntilDone(ctx); err != nil {
		t.Fatalf("wait until done: %v", err)
	}
}

func mustQueue(t *testing.T, p *Pipeline, text string) string {
	t.Helper()
	id, ok := p.QueueText(text, "", 0)
	if !ok {
		t.Fatalf("expected %q to be queued", text)
	}
	return id
}
