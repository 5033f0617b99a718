//go:build !nocgo

package audio

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// oto allows a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoRate int
	otoErr  error
)

const otoReadyTimeout = 5 * time.Second

// OtoSink plays through the platform mixer via oto.
type OtoSink struct {
	ctx        *oto.Context
	sampleRate int
	logger     *slog.Logger
}

func NewOtoSink(sampleRate int, bufferSize time.Duration, log *slog.Logger) (*OtoSink, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   bufferSize,
		})
		if err != nil {
			otoErr = fmt.Errorf("failed to create audio context: %w", err)
			return
		}
		select {
		case <-ready:
			otoCtx, otoRate = ctx, sampleRate
		case <-time.After(otoReadyTimeout):
			otoErr = fmt.Errorf("audio context initialization timeout after %v", otoReadyTimeout)
		}
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoRate != sampleRate {
		return nil, fmt.Errorf("audio context already running at %d Hz", otoRate)
	}
	log.Debug("oto audio context ready", slog.Int("sample_rate", sampleRate), slog.Duration("buffer", bufferSize))
	return &OtoSink{ctx: otoCtx, sampleRate: sampleRate, logger: log}, nil
}

func (s *OtoSink) Play(ctx context.Context, clip Clip) error {
	if err := checkRate(s.sampleRate, clip); err != nil {
		return err
	}
	player := s.ctx.NewPlayer(bytes.NewReader(clip.PCM))
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	if err := player.Err(); err != nil {
		return fmt.Errorf("oto playback: %w", err)
	}
	return nil
}

// Close leaves the shared context running; oto v3 cannot tear it down.
func (s *OtoSink) Close() error { return nil }
