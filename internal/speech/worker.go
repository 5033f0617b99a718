package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/loqalabs/loqa-speaker/internal/audio"
	"github.com/loqalabs/loqa-speaker/internal/sanitize"
	"github.com/loqalabs/loqa-speaker/internal/tts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errAborted = errors.New("generation aborted by shutdown")

func (p *Pipeline) runWorker() {
	defer close(p.workerDone)
	p.logger.Debug("speech worker started")
	defer func() {
		p.discard(p.queue.close())
		if err := p.models.unload(unloadShutdown); err != nil {
			p.logger.Warn("failed to unload model on shutdown", slogError(err))
		}
		p.closeSink()
		p.logger.Debug("speech worker stopped")
	}()

	for !p.stopping.Load() {
		item, ok := p.queue.get(p.opts.PollInterval)
		if !ok {
			continue
		}
		if item.sentinel {
			return
		}
		p.complete(p.process(item.req))
	}
}

// process runs one request end to end. It never panics and always returns
// an outcome for the request.
func (p *Pipeline) process(req Request) (out Outcome) {
	out = Outcome{Request: req}
	ctx, span := p.tracer.Start(context.Background(), "speech.request",
		trace.WithAttributes(
			attribute.String("speech.request_id", req.ID),
			attribute.String("speech.voice", req.Voice),
			attribute.Float64("speech.speed", req.Speed),
			attribute.Int("speech.text_length", len(req.Text)),
		))
	log := p.logger.With(slog.String("request_id", req.ID))
	defer func() {
		if r := recover(); r != nil {
			out.Status = StatusFailed
			out.Err = fmt.Errorf("panic: %v", r)
			log.Error("speech worker recovered from panic", slog.Any("panic", r))
		}
		out.FinishedAt = p.clock()
		span.SetAttributes(attribute.String("speech.status", string(out.Status)))
		if out.Err != nil && out.Status == StatusFailed {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Err.Error())
		}
		span.End()
	}()

	if utf8.RuneCountInString(req.Text) < sanitize.MinSpeakLength {
		out.Status = StatusDiscarded
		return out
	}

	genCtx := trace.ContextWithSpan(p.genCtx, span)
	model, err := p.models.EnsureLoaded(genCtx)
	if err != nil {
		if p.stopping.Load() {
			out.Status = StatusAborted
			return out
		}
		out.Status, out.Err = StatusFailed, err
		log.Warn("failed to load tts model", slogError(err))
		return out
	}
	p.touch(p.clock())

	start := time.Now()
	buf, err := p.generate(genCtx, model, req)
	out.GenerateTime = time.Since(start)
	if err != nil {
		if errors.Is(err, errAborted) {
			out.Status = StatusAborted
			log.Debug("generation aborted")
			return out
		}
		if errors.Is(err, tts.ErrModelClosed) {
			if uerr := p.models.unload(unloadFailure); uerr != nil {
				log.Warn("failed to release dead model", slogError(uerr))
			}
		}
		out.Status, out.Err = StatusFailed, err
		log.Warn("tts generation failed", slogError(err))
		return out
	}
	defer p.releaseBuffer(buf)

	clip := audio.Clip{ID: req.ID, PCM: *buf, SampleRate: model.SampleRate()}
	out.Samples = clip.Samples()

	// Playback is never cut short by shutdown.
	playCtx, playSpan := p.tracer.Start(ctx, "speech.play")
	start = time.Now()
	err = p.sink.Play(playCtx, clip)
	out.PlayTime = time.Since(start)
	playSpan.End()
	if err != nil {
		out.Status, out.Err = StatusFailed, fmt.Errorf("play: %w", err)
		log.Warn("audio playback failed", slogError(err))
		return out
	}

	out.Status = StatusPlayed
	log.Debug("utterance played",
		slog.String("audio", humanize.Bytes(uint64(len(clip.PCM)))),
		slog.Duration("generate", out.GenerateTime),
		slog.Duration("play", out.PlayTime))
	return out
}

// generate collects all chunks for req into one pooled buffer. Partial
// output is dropped when shutdown is requested.
func (p *Pipeline) generate(ctx context.Context, model tts.Model, req Request) (*[]byte, error) {
	ctx, span := p.tracer.Start(ctx, "speech.generate")
	defer span.End()

	chunks, errs := model.Synthesize(ctx, tts.SynthRequest{
		ID:    req.ID,
		Text:  req.Text,
		Voice: req.Voice,
		Speed: req.Speed,
	})

	var (
		parts [][]byte
		total int
		err   error
	)
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if p.stopping.Load() {
				continue
			}
			parts = append(parts, chunk.PCM)
			total += len(chunk.PCM)
		case e, ok := <-errs:
			if ok && e != nil {
				err = e
			}
			errs = nil
		}
	}

	if p.stopping.Load() {
		return nil, errAborted
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if total == 0 {
		return nil, errors.New("tts model produced no audio")
	}

	buf := p.acquireBuffer(total)
	for _, part := range parts {
		*buf = append(*buf, part...)
	}
	clear(parts)
	span.SetAttributes(attribute.Int("speech.chunks", len(parts)), attribute.Int("speech.bytes", total))
	return buf, nil
}

func (p *Pipeline) acquireBuffer(size int) *[]byte {
	if v, ok := p.buffers.Get().(*[]byte); ok && cap(*v) >= size {
		*v = (*v)[:0]
		return v
	}
	b := make([]byte, 0, size)
	return &b
}

func (p *Pipeline) releaseBuffer(buf *[]byte) {
	*buf = (*buf)[:0]
	p.buffers.Put(buf)
}
