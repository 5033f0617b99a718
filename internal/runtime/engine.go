package runtime

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-speaker/internal/audio"
	"github.com/loqalabs/loqa-speaker/internal/config"
	"github.com/loqalabs/loqa-speaker/internal/speech"
	"github.com/loqalabs/loqa-speaker/internal/tts"
)

// NewLoader returns the synthesis backend selected by cfg.Mode.
func NewLoader(cfg config.EngineConfig, logger *slog.Logger) (tts.Loader, error) {
	switch cfg.Mode {
	case "exec":
		return tts.NewExecLoader(cfg.Command, cfg.SampleRate, logger)
	case "mock", "":
		return tts.NewMockLoader(cfg.SampleRate,
			time.Duration(cfg.ChunkDurationMS)*time.Millisecond,
			time.Duration(cfg.LoadDelayMS)*time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}

// PipelineBuilder returns a constructor for pipelines wired from cfg, suitable
// for speech.NewProvider.
func PipelineBuilder(cfg config.Config, logger *slog.Logger, listeners ...speech.Listener) func() (*speech.Pipeline, error) {
	return func() (*speech.Pipeline, error) {
		loader, err := NewLoader(cfg.Engine, logger)
		if err != nil {
			return nil, err
		}
		sink, err := audio.New(cfg.Audio, cfg.Engine.SampleRate, logger)
		if err != nil {
			return nil, fmt.Errorf("open audio sink: %w", err)
		}
		p, err := speech.New(speech.Options{
			Loader:           loader,
			Sink:             sink,
			Logger:           logger,
			ModelID:          cfg.Speech.ModelID,
			DefaultVoice:     cfg.Speech.DefaultVoice,
			DefaultSpeed:     cfg.Speech.DefaultSpeed,
			IdleTimeout:      time.Duration(cfg.Speech.IdleTimeoutSec) * time.Second,
			IdlePollInterval: time.Duration(cfg.Speech.IdlePollMS) * time.Millisecond,
			PollInterval:     time.Duration(cfg.Speech.QueuePollMS) * time.Millisecond,
			StopTimeout:      time.Duration(cfg.Speech.StopTimeoutMS) * time.Millisecond,
			Listeners:        listeners,
		})
		if err != nil {
			_ = sink.Close()
			return nil, err
		}
		return p, nil
	}
}
