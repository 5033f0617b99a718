package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Speech.IdleTimeoutSec != 300 {
		t.Fatalf("expected default idle timeout 300, got %d", cfg.Speech.IdleTimeoutSec)
	}
	if cfg.Speech.DefaultSpeed != 1.1 {
		t.Fatalf("expected default speed 1.1, got %v", cfg.Speech.DefaultSpeed)
	}
	if cfg.Speech.StopTimeoutMS != 2000 {
		t.Fatalf("expected stop timeout 2000, got %d", cfg.Speech.StopTimeoutMS)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_ENABLED", "true")
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_SPEECH_MODEL_ID", "local/kokoro")
	t.Setenv("LOQA_SPEECH_DEFAULT_VOICE", "bf_emma")
	t.Setenv("LOQA_SPEECH_DEFAULT_SPEED", "0.9")
	t.Setenv("LOQA_SPEECH_IDLE_TIMEOUT_S", "60")
	t.Setenv("LOQA_ENGINE_MODE", "exec")
	t.Setenv("LOQA_ENGINE_COMMAND", "python3 kokoro_worker.py")
	t.Setenv("LOQA_AUDIO_BACKEND", "null")
	t.Setenv("LOQA_INTAKE_RATE_PER_SECOND", "2.5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Bus.Enabled {
		t.Fatal("expected bus enabled override")
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Speech.ModelID != "local/kokoro" || cfg.Speech.DefaultVoice != "bf_emma" {
		t.Fatalf("expected speech overrides, got %+v", cfg.Speech)
	}
	if cfg.Speech.DefaultSpeed != 0.9 {
		t.Fatalf("expected speed 0.9, got %v", cfg.Speech.DefaultSpeed)
	}
	if cfg.Speech.IdleTimeoutSec != 60 {
		t.Fatalf("expected idle timeout 60, got %d", cfg.Speech.IdleTimeoutSec)
	}
	if cfg.Engine.Mode != "exec" || cfg.Engine.Command != "python3 kokoro_worker.py" {
		t.Fatalf("expected engine overrides, got %+v", cfg.Engine)
	}
	if cfg.Audio.Backend != "null" {
		t.Fatalf("expected audio backend null, got %s", cfg.Audio.Backend)
	}
	if cfg.Intake.RatePerSecond != 2.5 {
		t.Fatalf("expected intake rate 2.5, got %v", cfg.Intake.RatePerSecond)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speaker.yaml")
	data := []byte(`speech:
  default_voice: am_adam
  idle_timeout_s: 120
audio:
  backend: wav
  wav_dir: /tmp/speaker
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Speech.DefaultVoice != "am_adam" || cfg.Speech.IdleTimeoutSec != 120 {
		t.Fatalf("expected file values, got %+v", cfg.Speech)
	}
	if cfg.Speech.ModelID == "" {
		t.Fatal("expected defaults to survive partial file")
	}
	if cfg.Audio.Backend != "wav" {
		t.Fatalf("expected wav backend, got %s", cfg.Audio.Backend)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"exec without command": func(c *Config) { c.Engine.Mode = "exec" },
		"unknown backend":      func(c *Config) { c.Audio.Backend = "alsa" },
		"zero speed":           func(c *Config) { c.Speech.DefaultSpeed = 0 },
		"bad retention":        func(c *Config) { c.Journal.RetentionMode = "session" },
		"bad log format":       func(c *Config) { c.Telemetry.LogFormat = "xml" },
		"token and user":       func(c *Config) {
			c.Bus.Enabled = true
			c.Bus.Token = "t"
			c.Bus.Username = "u"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
