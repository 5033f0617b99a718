package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WavSink writes each clip to its own WAV file instead of a device.
type WavSink struct {
	dir    string
	clock  func() time.Time
	logger *slog.Logger
}

func NewWavSink(dir string, log *slog.Logger) (*WavSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create wav dir: %w", err)
	}
	return &WavSink{dir: dir, clock: time.Now, logger: log}, nil
}

// Path returns the file a clip with the given id is written to at t.
func (w *WavSink) Path(id string, t time.Time) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.wav", t.UTC().Format("20060102T150405.000"), id))
}

func (w *WavSink) Play(ctx context.Context, clip Clip) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(clip.PCM)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	path := w.Path(clip.ID, w.clock())
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	defer file.Close()

	if err := writePCMToWav(file, clip.PCM, clip.SampleRate); err != nil {
		return err
	}
	w.logger.Debug("clip written",
		slog.String("path", path),
		slog.String("size", humanize.Bytes(uint64(len(clip.PCM)))),
		slog.Duration("duration", clip.Duration()))
	return nil
}

func (w *WavSink) Close() error { return nil }

func writePCMToWav(file *os.File, pcm []byte, sampleRate int) error {
	buffer := &goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
