// Package intake feeds speech requests from the bus into the pipeline and
// reports their outcomes back.
package intake

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-speaker/internal/bus"
	"github.com/loqalabs/loqa-speaker/internal/config"
	"github.com/loqalabs/loqa-speaker/internal/protocol"
	"github.com/loqalabs/loqa-speaker/internal/speech"
	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"
)

const drainTimeout = 2 * time.Second

// Queuer accepts text for playback.
type Queuer interface {
	QueueText(text, voice string, speed float64) (string, bool)
}

type Service struct {
	cfg     config.IntakeConfig
	bus     *bus.Client
	target  func() (Queuer, error)
	limiter *rate.Limiter
	sub     *nats.Subscription
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]string
}

func NewService(cfg config.IntakeConfig, busClient *bus.Client, target func() (Queuer, error), log *slog.Logger) *Service {
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if cfg.Subject == "" {
		cfg.Subject = protocol.SubjectSay
	}
	if cfg.DoneSubject == "" {
		cfg.DoneSubject = protocol.SubjectDone
	}
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		target:   target,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   log.With(slog.String("component", "speech-intake")),
		sessions: make(map[string]string),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(s.cfg.Subject, s.handleSay)
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("listening for speech requests", slog.String("subject", s.cfg.Subject))
	return nil
}

// Close stops taking requests and waits, up to drainTimeout, for messages
// already delivered to the subscription to be handed to the pipeline.
func (s *Service) Close() {
	if s.sub == nil {
		return
	}
	if err := s.sub.Drain(); err != nil {
		s.logger.Warn("failed to drain say subscription", slogError(err))
		return
	}
	deadline := time.Now().Add(drainTimeout)
	for s.sub.IsValid() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || (s.sub != nil && s.sub.IsValid()) }

func (s *Service) handleSay(msg *nats.Msg) {
	var req protocol.SayRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode say request", slogError(err))
		s.reply(msg, protocol.SayAck{Reason: "invalid payload"})
		return
	}
	if !s.limiter.Allow() {
		s.logger.Warn("say request rate limited", slog.String("session_id", req.SessionID))
		s.reply(msg, protocol.SayAck{Reason: "rate limited"})
		return
	}
	target, err := s.target()
	if err != nil {
		s.logger.Error("speech pipeline unavailable", slogError(err))
		s.reply(msg, protocol.SayAck{Reason: "pipeline unavailable"})
		return
	}

	// Held across QueueText so the outcome cannot be reported before the
	// session is known.
	s.mu.Lock()
	id, ok := target.QueueText(req.Text, req.Voice, req.Speed)
	if ok && req.SessionID != "" {
		s.sessions[id] = req.SessionID
	}
	s.mu.Unlock()

	if !ok {
		s.reply(msg, protocol.SayAck{Reason: "text rejected"})
		return
	}
	s.logger.Debug("say request queued", slog.String("request_id", id), slog.String("session_id", req.SessionID))
	s.reply(msg, protocol.SayAck{RequestID: id, Accepted: true})
}

func (s *Service) reply(msg *nats.Msg, ack protocol.SayAck) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(ack)
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		s.logger.Warn("failed to reply to say request", slogError(err))
	}
}

// HandleOutcome publishes a done event for every pipeline outcome. It is
// meant to be registered as a pipeline listener.
func (s *Service) HandleOutcome(out speech.Outcome) {
	s.mu.Lock()
	session := s.sessions[out.Request.ID]
	delete(s.sessions, out.Request.ID)
	s.mu.Unlock()

	if s.bus == nil || !s.bus.Healthy() {
		return
	}
	done := protocol.SpeechDone{
		RequestID:  out.Request.ID,
		SessionID:  session,
		Status:     string(out.Status),
		Samples:    out.Samples,
		DurationMS: out.PlayMillis(),
		Timestamp:  out.FinishedAt.UTC(),
	}
	if out.Err != nil {
		done.Error = out.Err.Error()
	}
	if err := s.bus.PublishJSON(s.cfg.DoneSubject, done); err != nil {
		s.logger.Warn("failed to publish speech done", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
