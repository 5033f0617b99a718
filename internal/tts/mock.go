package tts

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"sync/atomic"
	"time"
)

const mockWordsPerChunk = 6

// MockLoader produces models that render a quiet tone per chunk of words.
// It stands in for a real engine in development and tests.
type MockLoader struct {
	SampleRate    int
	ChunkDuration time.Duration
	LoadDelay     time.Duration
}

func NewMockLoader(sampleRate int, chunkDuration, loadDelay time.Duration) *MockLoader {
	return &MockLoader{SampleRate: sampleRate, ChunkDuration: chunkDuration, LoadDelay: loadDelay}
}

func (l *MockLoader) Load(ctx context.Context, modelID string) (Model, error) {
	if l.LoadDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.LoadDelay):
		}
	}
	rate := l.SampleRate
	if rate <= 0 {
		rate = 24000
	}
	chunk := l.ChunkDuration
	if chunk <= 0 {
		chunk = 400 * time.Millisecond
	}
	return &mockModel{sampleRate: rate, chunkDuration: chunk}, nil
}

type mockModel struct {
	sampleRate    int
	chunkDuration time.Duration
	closed        atomic.Bool
}

func (m *mockModel) SampleRate() int { return m.sampleRate }

func (m *mockModel) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *mockModel) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if m.closed.Load() {
			errs <- ErrModelClosed
			return
		}

		words := strings.Fields(req.Text)
		total := (len(words) + mockWordsPerChunk - 1) / mockWordsPerChunk
		if total == 0 {
			total = 1
		}
		speed := req.Speed
		if speed <= 0 {
			speed = 1
		}
		duration := time.Duration(float64(m.chunkDuration) / speed)
		for seq := 0; seq < total; seq++ {
			// Generation runs well ahead of real time.
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case <-time.After(duration / 10):
			}
			chunk := SynthChunk{
				RequestID:  req.ID,
				Sequence:   seq,
				SampleRate: m.sampleRate,
				PCM:        tone(m.sampleRate, duration, 220+float64(seq%4)*55),
				Final:      seq == total-1,
			}
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case chunks <- chunk:
			}
		}
	}()
	return chunks, errs
}

func tone(sampleRate int, d time.Duration, freq float64) []byte {
	n := int(float64(sampleRate) * d.Seconds())
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := 0.1 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*math.MaxInt16)))
	}
	return pcm
}
