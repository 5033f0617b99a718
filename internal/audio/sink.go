// Package audio plays mono signed 16-bit little-endian PCM clips to
// completion on a local device or a stand-in.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-speaker/internal/config"
)

var ErrUnsupportedBackend = errors.New("unsupported audio backend")

// Clip is one utterance of PCM ready for playback.
type Clip struct {
	ID         string
	PCM        []byte
	SampleRate int
}

// Samples returns the number of 16-bit samples in the clip.
func (c Clip) Samples() int { return len(c.PCM) / 2 }

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Samples()) * time.Second / time.Duration(c.SampleRate)
}

// Sink blocks in Play until the clip has been fully rendered.
type Sink interface {
	Play(ctx context.Context, clip Clip) error
	Close() error
}

// New builds the sink selected by cfg.Backend.
func New(cfg config.AudioConfig, sampleRate int, log *slog.Logger) (Sink, error) {
	log = log.With(slog.String("component", "audio"), slog.String("backend", cfg.Backend))
	bufferSize := time.Duration(cfg.BufferMS) * time.Millisecond
	switch cfg.Backend {
	case "oto":
		return NewOtoSink(sampleRate, bufferSize, log)
	case "malgo":
		return NewMalgoSink(sampleRate, log)
	case "wav":
		return NewWavSink(cfg.WavDir, log)
	case "null":
		return NewNullSink(true), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Backend)
	}
}

func checkRate(want int, clip Clip) error {
	if clip.SampleRate != want {
		return fmt.Errorf("clip sample rate %d does not match device rate %d", clip.SampleRate, want)
	}
	if len(clip.PCM)%2 != 0 {
		return errors.New("pcm payload not aligned")
	}
	return nil
}
