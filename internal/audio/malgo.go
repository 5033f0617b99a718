//go:build !nocgo

package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

const malgoPeriodsPerSecond = 50

// MalgoSink plays through miniaudio, opening a playback device per clip.
type MalgoSink struct {
	malgoContext *malgo.AllocatedContext
	sampleRate   int
	logger       *slog.Logger
	mu           sync.Mutex
}

func NewMalgoSink(sampleRate int, log *slog.Logger) (*MalgoSink, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	return &MalgoSink{malgoContext: malgoCtx, sampleRate: sampleRate, logger: log}, nil
}

func (m *MalgoSink) Play(ctx context.Context, clip Clip) error {
	if err := checkRate(m.sampleRate, clip); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.malgoContext == nil {
		return fmt.Errorf("malgo sink closed")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(m.sampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(m.sampleRate / malgoPeriodsPerSecond)

	remaining := clip.PCM
	drained := make(chan struct{})
	var once sync.Once
	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSamples []byte, framecount uint32) {
			n := copy(pOutputSample, remaining)
			remaining = remaining[n:]
			clear(pOutputSample[n:])
			if len(remaining) == 0 {
				once.Do(func() { close(drained) })
			}
		},
	}

	device, err := malgo.InitDevice(m.malgoContext.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("failed to initialize device: %w", err)
	}
	defer device.Uninit()
	if err := device.Start(); err != nil {
		return fmt.Errorf("failed to start device: %w", err)
	}

	select {
	case <-drained:
		// Let the last period reach the speaker.
		time.Sleep(2 * time.Second / malgoPeriodsPerSecond)
	case <-ctx.Done():
		_ = device.Stop()
		return ctx.Err()
	}
	return device.Stop()
}

func (m *MalgoSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.malgoContext == nil {
		return nil
	}
	_ = m.malgoContext.Uninit()
	m.malgoContext.Free()
	m.malgoContext = nil
	return nil
}
