package intake

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-speaker/internal/bus"
	"github.com/loqalabs/loqa-speaker/internal/config"
	"github.com/loqalabs/loqa-speaker/internal/natsserver"
	"github.com/loqalabs/loqa-speaker/internal/protocol"
	"github.com/loqalabs/loqa-speaker/internal/speech"
	"github.com/nats-io/nats.go"
)

type fakeQueuer struct {
	mu     sync.Mutex
	texts  []string
	reject bool
}

func (f *fakeQueuer) QueueText(text, voice string, speed float64) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return "", false
	}
	f.texts = append(f.texts, text)
	return "req-" + text, true
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, log)
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), "intake-test", config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func newService(t *testing.T, client *bus.Client, q *fakeQueuer, cfg config.IntakeConfig) *Service {
	t.Helper()
	cfg.Enabled = true
	svc := NewService(cfg, client, func() (Queuer, error) { return q, nil }, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := svc.Start(); err != nil {
		t.Fatalf("start intake: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func say(t *testing.T, client *bus.Client, req protocol.SayRequest) protocol.SayAck {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var ack protocol.SayAck
	if err := client.RequestJSON(ctx, protocol.SubjectSay, req, &ack); err != nil {
		t.Fatalf("say request: %v", err)
	}
	return ack
}

func TestSayRequestQueuesAndPublishesDone(t *testing.T) {
	client := startBus(t)
	q := &fakeQueuer{}
	svc := newService(t, client, q, config.IntakeConfig{})

	done := make(chan *nats.Msg, 1)
	sub, err := client.Conn().ChanSubscribe(protocol.SubjectDone, done)
	if err != nil {
		t.Fatalf("subscribe done: %v", err)
	}
	defer sub.Unsubscribe()

	ack := say(t, client, protocol.SayRequest{SessionID: "s-1", Text: "hello from the bus"})
	if !ack.Accepted || ack.RequestID != "req-hello from the bus" {
		t.Fatalf("unexpected ack %+v", ack)
	}

	svc.HandleOutcome(speech.Outcome{
		Request:    speech.Request{ID: ack.RequestID},
		Status:     speech.StatusPlayed,
		Samples:    2400,
		PlayTime:   100 * time.Millisecond,
		FinishedAt: time.Now(),
	})

	select {
	case msg := <-done:
		var evt protocol.SpeechDone
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			t.Fatalf("decode done: %v", err)
		}
		if evt.SessionID != "s-1" || evt.Status != "played" || evt.Samples != 2400 || evt.DurationMS != 100 {
			t.Fatalf("unexpected done event %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no done event published")
	}
}

func TestSayRequestRejected(t *testing.T) {
	client := startBus(t)
	newService(t, client, &fakeQueuer{reject: true}, config.IntakeConfig{})

	ack := say(t, client, protocol.SayRequest{Text: "tiny"})
	if ack.Accepted || ack.Reason != "text rejected" {
		t.Fatalf("expected rejection, got %+v", ack)
	}
}

func TestSayRequestRateLimited(t *testing.T) {
	client := startBus(t)
	q := &fakeQueuer{}
	newService(t, client, q, config.IntakeConfig{RatePerSecond: 0.001, Burst: 1})

	if ack := say(t, client, protocol.SayRequest{Text: "first request passes"}); !ack.Accepted {
		t.Fatalf("expected first request accepted, got %+v", ack)
	}
	if ack := say(t, client, protocol.SayRequest{Text: "second request throttled"}); ack.Accepted || ack.Reason != "rate limited" {
		t.Fatalf("expected rate limit, got %+v", ack)
	}
	if len(q.texts) != 1 {
		t.Fatalf("expected one queued text, got %v", q.texts)
	}
}

func TestInvalidPayload(t *testing.T) {
	client := startBus(t)
	newService(t, client, &fakeQueuer{}, config.IntakeConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := client.Conn().RequestWithContext(ctx, protocol.SubjectSay, []byte("{not json"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var ack protocol.SayAck
	if err := json.Unmarshal(msg.Data, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Accepted || ack.Reason != "invalid payload" {
		t.Fatalf("unexpected ack %+v", ack)
	}
}

func TestCloseDrainsSubscription(t *testing.T) {
	client := startBus(t)
	q := &fakeQueuer{}
	svc := newService(t, client, q, config.IntakeConfig{})
	if !svc.Healthy() {
		t.Fatal("expected healthy intake while subscribed")
	}

	if err := client.Conn().Publish(protocol.SubjectSay, []byte(`{"text":"sent right before close"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	svc.Close()

	if svc.Healthy() {
		t.Fatal("expected intake unhealthy once drained")
	}
	if sayAnswered(t, client) {
		t.Fatal("expected no responder after close")
	}
}

func TestSayRequestPipelineUnavailable(t *testing.T) {
	client := startBus(t)
	svc := NewService(config.IntakeConfig{Enabled: true}, client, func() (Queuer, error) {
		return nil, errors.New("shutting down")
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := svc.Start(); err != nil {
		t.Fatalf("start intake: %v", err)
	}
	t.Cleanup(svc.Close)

	if ack := say(t, client, protocol.SayRequest{Text: "nobody is listening"}); ack.Accepted || ack.Reason != "pipeline unavailable" {
		t.Fatalf("expected pipeline unavailable, got %+v", ack)
	}
}

// sayAnswered reports whether anyone answered a say request.
func sayAnswered(t *testing.T, client *bus.Client) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	var ack protocol.SayAck
	return client.RequestJSON(ctx, protocol.SubjectSay, protocol.SayRequest{Text: "after close"}, &ack) == nil
}
