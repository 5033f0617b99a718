package tts

import (
	"context"
	"errors"
)

// ErrModelClosed is returned when a model is used after Close or its backing
// process has gone away.
var ErrModelClosed = errors.New("tts model closed")

// SynthRequest contains parameters to synthesize one utterance.
type SynthRequest struct {
	ID    string
	Text  string
	Voice string
	Speed float64
}

// SynthChunk contains signed 16-bit little-endian mono PCM.
type SynthChunk struct {
	RequestID  string
	Sequence   int
	SampleRate int
	PCM        []byte
	Final      bool
}

// Model is a loaded synthesis model. Only one Synthesize call runs at a time.
type Model interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
	SampleRate() int
	// Close releases everything the model holds. Safe to call more than once.
	Close() error
}

// Loader materializes a Model from an identifier.
type Loader interface {
	Load(ctx context.Context, modelID string) (Model, error)
}
