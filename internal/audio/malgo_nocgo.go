//go:build nocgo

package audio

import (
	"context"
	"errors"
	"log/slog"
)

type MalgoSink struct{}

func NewMalgoSink(sampleRate int, log *slog.Logger) (*MalgoSink, error) {
	return nil, errors.New("malgo audio not available in nocgo build")
}

func (m *MalgoSink) Play(ctx context.Context, clip Clip) error {
	return errors.New("malgo audio not available in nocgo build")
}

func (m *MalgoSink) Close() error { return nil }
