//go:build nocgo

package audio

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type OtoSink struct{}

func NewOtoSink(sampleRate int, bufferSize time.Duration, log *slog.Logger) (*OtoSink, error) {
	return nil, errors.New("oto audio not available in nocgo build")
}

func (s *OtoSink) Play(ctx context.Context, clip Clip) error {
	return errors.New("oto audio not available in nocgo build")
}

func (s *OtoSink) Close() error { return nil }
