package speech

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-speaker/internal/speech"

type pipelineMetrics struct {
	requests     metric.Int64Counter
	loads        metric.Int64Counter
	unloads      metric.Int64Counter
	loadDuration metric.Float64Histogram
	generate     metric.Float64Histogram
	play         metric.Float64Histogram
	registration metric.Registration
}

// newPipelineMetrics never fails; instruments that cannot be created fall
// back to no-ops so the pipeline keeps running.
func newPipelineMetrics(meter metric.Meter, log *slog.Logger) *pipelineMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	m := &pipelineMetrics{}
	var err error
	warn := func(name string, err error) {
		log.Warn("failed to initialize metric", slog.String("metric", name), slogError(err))
	}
	if m.requests, err = meter.Int64Counter("speaker.requests", metric.WithDescription("Requests leaving the pipeline by status")); err != nil {
		warn("speaker.requests", err)
	}
	if m.loads, err = meter.Int64Counter("speaker.model.loads", metric.WithDescription("Synthesis model loads")); err != nil {
		warn("speaker.model.loads", err)
	}
	if m.unloads, err = meter.Int64Counter("speaker.model.unloads", metric.WithDescription("Synthesis model unloads by reason")); err != nil {
		warn("speaker.model.unloads", err)
	}
	if m.loadDuration, err = meter.Float64Histogram("speaker.model.load.duration", metric.WithUnit("s")); err != nil {
		warn("speaker.model.load.duration", err)
	}
	if m.generate, err = meter.Float64Histogram("speaker.generate.duration", metric.WithUnit("s")); err != nil {
		warn("speaker.generate.duration", err)
	}
	if m.play, err = meter.Float64Histogram("speaker.play.duration", metric.WithUnit("s")); err != nil {
		warn("speaker.play.duration", err)
	}
	return m
}

// observeQueue registers the queue depth gauge for one pipeline.
func (m *pipelineMetrics) observeQueue(meter metric.Meter, q *workQueue) error {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	gauge, err := meter.Int64ObservableGauge("speaker.queue.depth", metric.WithDescription("Requests waiting for synthesis"))
	if err != nil {
		return err
	}
	m.registration, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, int64(q.depth()))
		return nil
	}, gauge)
	return err
}

func (m *pipelineMetrics) unregister() {
	if m.registration != nil {
		_ = m.registration.Unregister()
	}
}

func (m *pipelineMetrics) recordOutcome(out Outcome) {
	ctx := context.Background()
	if m.requests != nil {
		m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(out.Status))))
	}
	if m.generate != nil && out.GenerateTime > 0 {
		m.generate.Record(ctx, out.GenerateTime.Seconds())
	}
	if m.play != nil && out.PlayTime > 0 {
		m.play.Record(ctx, out.PlayTime.Seconds())
	}
}

func (m *pipelineMetrics) recordLoad(d time.Duration) {
	ctx := context.Background()
	if m.loads != nil {
		m.loads.Add(ctx, 1)
	}
	if m.loadDuration != nil {
		m.loadDuration.Record(ctx, d.Seconds())
	}
}

func (m *pipelineMetrics) recordUnload(reason string) {
	if m.unloads != nil {
		m.unloads.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
