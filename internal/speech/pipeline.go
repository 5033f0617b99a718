// Package speech runs queued text through a synthesis model and plays the
// result, one utterance at a time, unloading the model when it sits idle.
package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-speaker/internal/audio"
	"github.com/loqalabs/loqa-speaker/internal/sanitize"
	"github.com/loqalabs/loqa-speaker/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultModelID          = "prince-canuma/Kokoro-82M"
	DefaultVoice            = "af_heart"
	DefaultSpeed            = 1.1
	DefaultIdleTimeout      = 300 * time.Second
	DefaultIdlePollInterval = 30 * time.Second
	DefaultPollInterval     = 50 * time.Millisecond
	DefaultStopTimeout      = 2 * time.Second
)

type Options struct {
	Loader tts.Loader
	// Sink belongs to the pipeline from New on; it is closed once the
	// worker has exited.
	Sink   audio.Sink
	Logger *slog.Logger

	ModelID      string
	DefaultVoice string
	DefaultSpeed float64

	IdleTimeout      time.Duration
	IdlePollInterval time.Duration
	PollInterval     time.Duration
	StopTimeout      time.Duration

	Listeners []Listener

	// Clock defaults to time.Now.
	Clock  func() time.Time
	Meter  metric.Meter
	Tracer trace.Tracer
}

// Pipeline is the facade producers talk to. It owns exactly one worker and
// one idle monitor goroutine for its lifetime.
type Pipeline struct {
	opts    Options
	logger  *slog.Logger
	queue   *workQueue
	models  *ModelManager
	sink    audio.Sink
	metrics *pipelineMetrics
	tracer  trace.Tracer
	clock   func() time.Time
	buffers sync.Pool

	lastActivity atomic.Int64
	stopping     atomic.Bool
	processed    atomic.Int64

	genCtx    context.Context
	genCancel context.CancelFunc

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	monitorStop chan struct{}
	workerDone  chan struct{}
	monitorDone chan struct{}

	listenersMu sync.RWMutex
	listeners   []Listener
}

func New(opts Options) (*Pipeline, error) {
	if opts.Loader == nil {
		return nil, errors.New("speech: loader is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("speech: sink is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ModelID == "" {
		opts.ModelID = DefaultModelID
	}
	if opts.DefaultVoice == "" {
		opts.DefaultVoice = DefaultVoice
	}
	if opts.DefaultSpeed <= 0 {
		opts.DefaultSpeed = DefaultSpeed
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.IdlePollInterval <= 0 {
		opts.IdlePollInterval = DefaultIdlePollInterval
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(instrumentationName)
	}

	logger := opts.Logger.With(slog.String("component", "speech-pipeline"))
	metrics := newPipelineMetrics(opts.Meter, logger)
	genCtx, genCancel := context.WithCancel(context.Background())
	p := &Pipeline{
		opts:        opts,
		logger:      logger,
		queue:       newWorkQueue(),
		models:      newModelManager(opts.Loader, opts.ModelID, logger, metrics),
		sink:        opts.Sink,
		metrics:     metrics,
		tracer:      opts.Tracer,
		clock:       opts.Clock,
		genCtx:      genCtx,
		genCancel:   genCancel,
		monitorStop: make(chan struct{}),
		workerDone:  make(chan struct{}),
		monitorDone: make(chan struct{}),
		listeners:   append([]Listener(nil), opts.Listeners...),
	}
	p.touch(opts.Clock())
	if err := metrics.observeQueue(opts.Meter, p.queue); err != nil {
		logger.Warn("failed to register queue gauge", slogError(err))
	}
	return p, nil
}

// QueueText sanitizes text and enqueues it for playback. Text that is too
// short after sanitizing, or that arrives after Stop, is dropped and ok is
// false. Empty voice and non-positive speed fall back to the defaults.
func (p *Pipeline) QueueText(text, voice string, speed float64) (id string, ok bool) {
	if p.stopping.Load() {
		p.logger.Debug("pipeline stopped, dropping text")
		return "", false
	}
	cleaned := sanitize.Text(text)
	if !sanitize.Queueable(cleaned) {
		p.logger.Debug("text too short after sanitizing, dropping", slog.Int("length", len(cleaned)))
		return "", false
	}
	if voice == "" {
		voice = p.opts.DefaultVoice
	}
	if speed <= 0 {
		speed = p.opts.DefaultSpeed
	}
	now := p.clock()
	req := Request{
		ID:       uuid.NewString(),
		Text:     cleaned,
		Voice:    voice,
		Speed:    speed,
		QueuedAt: now,
	}
	if !p.queue.put(req) {
		p.logger.Debug("queue closed, dropping text")
		return "", false
	}
	p.touch(now)
	p.logger.Debug("text queued", slog.String("request_id", req.ID), slog.Int("length", len(cleaned)))
	return req.ID, true
}

// Start spawns the worker and idle monitor. Calling it again is a no-op, as
// is calling it after Stop.
func (p *Pipeline) Start() {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	if p.stopped {
		p.logger.Warn("start called on stopped pipeline")
		return
	}
	if p.started {
		return
	}
	p.started = true
	go p.runWorker()
	go p.runIdleMonitor()
	p.logger.Info("speech pipeline started",
		slog.String("model", p.opts.ModelID),
		slog.Duration("idle_timeout", p.opts.IdleTimeout))
}

// Stop aborts in-flight generation, lets any in-flight playback finish, and
// waits up to the stop timeout for both goroutines. Requests still queued
// are discarded. Safe to call more than once and before Start.
func (p *Pipeline) Stop() {
	p.lifecycleMu.Lock()
	if p.stopped {
		p.lifecycleMu.Unlock()
		return
	}
	p.stopped = true
	started := p.started
	p.lifecycleMu.Unlock()

	p.logger.Info("stopping speech pipeline")
	p.stopping.Store(true)
	p.genCancel()
	p.queue.putSentinel()
	close(p.monitorStop)
	defer p.metrics.unregister()

	if !started {
		p.discard(p.queue.close())
		p.closeSink()
		return
	}

	timer := time.NewTimer(p.opts.StopTimeout)
	defer timer.Stop()
	for _, done := range []chan struct{}{p.workerDone, p.monitorDone} {
		select {
		case <-done:
		case <-timer.C:
			p.logger.Warn("speech pipeline did not stop within timeout", slog.Duration("timeout", p.opts.StopTimeout))
			return
		}
	}
	p.logger.Info("speech pipeline stopped")
}

// WaitUntilDone blocks until every queued request has been completed, or
// ctx ends.
func (p *Pipeline) WaitUntilDone(ctx context.Context) error {
	return p.queue.wait(ctx)
}

func (p *Pipeline) AddListener(l Listener) {
	if l == nil {
		return
	}
	p.listenersMu.Lock()
	p.listeners = append(p.listeners, l)
	p.listenersMu.Unlock()
}

func (p *Pipeline) Status() Status {
	p.lifecycleMu.Lock()
	running := p.started && !p.stopped
	p.lifecycleMu.Unlock()
	return Status{
		ModelID:      p.opts.ModelID,
		ModelState:   p.models.State().String(),
		Loads:        p.models.Loads(),
		Unloads:      p.models.Unloads(),
		QueueDepth:   p.queue.depth(),
		Outstanding:  p.queue.outstanding(),
		Processed:    p.processed.Load(),
		LastActivity: p.LastActivity(),
		Running:      running,
	}
}

// Models exposes the lifecycle manager for diagnostics and explicit unloads.
func (p *Pipeline) Models() *ModelManager { return p.models }

func (p *Pipeline) LastActivity() time.Time {
	return time.Unix(0, p.lastActivity.Load())
}

// touch moves lastActivity forward to t; it never moves backwards.
func (p *Pipeline) touch(t time.Time) {
	next := t.UnixNano()
	for {
		cur := p.lastActivity.Load()
		if next <= cur || p.lastActivity.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (p *Pipeline) notify(out Outcome) {
	p.metrics.recordOutcome(out)
	p.listenersMu.RLock()
	listeners := p.listeners
	p.listenersMu.RUnlock()
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("outcome listener panicked", slog.Any("panic", r))
				}
			}()
			l(out)
		}()
	}
}

// complete publishes the outcome and then releases the request's slot in the
// join barrier.
func (p *Pipeline) complete(out Outcome) {
	if out.FinishedAt.IsZero() {
		out.FinishedAt = p.clock()
	}
	p.processed.Add(1)
	p.notify(out)
	p.queue.done()
}

func (p *Pipeline) closeSink() {
	if err := p.sink.Close(); err != nil {
		p.logger.Warn("failed to close audio sink", slogError(err))
	}
}

func (p *Pipeline) discard(reqs []Request) {
	if len(reqs) > 0 {
		p.logger.Info("discarding queued requests", slog.Int("count", len(reqs)))
	}
	for _, req := range reqs {
		p.complete(Outcome{Request: req, Status: StatusDiscarded})
	}
}
