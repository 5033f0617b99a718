package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"` // json, text
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	TraceStdout    bool   `yaml:"trace_stdout"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Node        NodeConfig      `yaml:"node"`
	Journal     JournalConfig   `yaml:"journal"`
	Speech      SpeechConfig    `yaml:"speech"`
	Engine      EngineConfig    `yaml:"engine"`
	Audio       AudioConfig     `yaml:"audio"`
	Intake      IntakeConfig    `yaml:"intake"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
}

type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"` // ephemeral, persistent
	RetentionDays int    `yaml:"retention_days"`
	MaxEntries    int    `yaml:"max_entries"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// SpeechConfig is read once when the pipeline is constructed.
type SpeechConfig struct {
	ModelID           string  `yaml:"model_id"`
	DefaultVoice      string  `yaml:"default_voice"`
	DefaultSpeed      float64 `yaml:"default_speed"`
	IdleTimeoutSec    int     `yaml:"idle_timeout_s"`
	IdlePollMS        int     `yaml:"idle_poll_ms"`
	QueuePollMS       int     `yaml:"queue_poll_ms"`
	StopTimeoutMS     int     `yaml:"stop_timeout_ms"`
	PreloadOnStart    bool    `yaml:"preload_on_start"`
	LazyStart         bool    `yaml:"lazy_start"`
	MaxHistoryResults int     `yaml:"max_history_results"`
}

type EngineConfig struct {
	Mode            string `yaml:"mode"` // mock, exec
	Command         string `yaml:"command"`
	SampleRate      int    `yaml:"sample_rate"`
	ChunkDurationMS int    `yaml:"chunk_duration_ms"`
	LoadDelayMS     int    `yaml:"load_delay_ms"`
}

type AudioConfig struct {
	Backend  string `yaml:"backend"` // oto, malgo, wav, null
	BufferMS int    `yaml:"buffer_ms"`
	WavDir   string `yaml:"wav_dir"`
}

type IntakeConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Subject       string  `yaml:"subject"`
	DoneSubject   string  `yaml:"done_subject"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-speaker",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8087,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "text",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "loqa-speaker-1",
			HeartbeatInterval: 5000,
		},
		Journal: JournalConfig{
			Path:          "./data/speaker-journal.db",
			RetentionMode: "persistent",
			RetentionDays: 7,
			MaxEntries:    5000,
		},
		Speech: SpeechConfig{
			ModelID:           "prince-canuma/Kokoro-82M",
			DefaultVoice:      "af_heart",
			DefaultSpeed:      1.1,
			IdleTimeoutSec:    300,
			IdlePollMS:        30000,
			QueuePollMS:       50,
			StopTimeoutMS:     2000,
			LazyStart:         true,
			MaxHistoryResults: 50,
		},
		Engine: EngineConfig{
			Mode:            "mock",
			SampleRate:      24000,
			ChunkDurationMS: 400,
			LoadDelayMS:     250,
		},
		Audio: AudioConfig{
			Backend:  "oto",
			BufferMS: 85,
			WavDir:   "./data/wav",
		},
		Intake: IntakeConfig{
			Enabled:       true,
			Subject:       "speech.say",
			DoneSubject:   "speech.done",
			RatePerSecond: 5,
			Burst:         10,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "LOQA_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "LOQA_TELEMETRY_TRACE_STDOUT")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideString(&cfg.Journal.Path, "LOQA_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "LOQA_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "LOQA_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxEntries, "LOQA_JOURNAL_MAX_ENTRIES")
	overrideBool(&cfg.Journal.VacuumOnStart, "LOQA_JOURNAL_VACUUM_ON_START")
	overrideString(&cfg.Speech.ModelID, "LOQA_SPEECH_MODEL_ID")
	overrideString(&cfg.Speech.DefaultVoice, "LOQA_SPEECH_DEFAULT_VOICE")
	overrideFloat(&cfg.Speech.DefaultSpeed, "LOQA_SPEECH_DEFAULT_SPEED")
	overrideInt(&cfg.Speech.IdleTimeoutSec, "LOQA_SPEECH_IDLE_TIMEOUT_S")
	overrideInt(&cfg.Speech.IdlePollMS, "LOQA_SPEECH_IDLE_POLL_MS")
	overrideInt(&cfg.Speech.QueuePollMS, "LOQA_SPEECH_QUEUE_POLL_MS")
	overrideInt(&cfg.Speech.StopTimeoutMS, "LOQA_SPEECH_STOP_TIMEOUT_MS")
	overrideBool(&cfg.Speech.PreloadOnStart, "LOQA_SPEECH_PRELOAD_ON_START")
	overrideBool(&cfg.Speech.LazyStart, "LOQA_SPEECH_LAZY_START")
	overrideString(&cfg.Engine.Mode, "LOQA_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "LOQA_ENGINE_COMMAND")
	overrideInt(&cfg.Engine.SampleRate, "LOQA_ENGINE_SAMPLE_RATE")
	overrideInt(&cfg.Engine.ChunkDurationMS, "LOQA_ENGINE_CHUNK_DURATION_MS")
	overrideInt(&cfg.Engine.LoadDelayMS, "LOQA_ENGINE_LOAD_DELAY_MS")
	overrideString(&cfg.Audio.Backend, "LOQA_AUDIO_BACKEND")
	overrideInt(&cfg.Audio.BufferMS, "LOQA_AUDIO_BUFFER_MS")
	overrideString(&cfg.Audio.WavDir, "LOQA_AUDIO_WAV_DIR")
	overrideBool(&cfg.Intake.Enabled, "LOQA_INTAKE_ENABLED")
	overrideString(&cfg.Intake.Subject, "LOQA_INTAKE_SUBJECT")
	overrideString(&cfg.Intake.DoneSubject, "LOQA_INTAKE_DONE_SUBJECT")
	overrideFloat(&cfg.Intake.RatePerSecond, "LOQA_INTAKE_RATE_PER_SECOND")
	overrideInt(&cfg.Intake.Burst, "LOQA_INTAKE_BURST")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Telemetry.LogFormat {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.Token != "" && cfg.Bus.Username != "" {
			return errors.New("bus.token and bus.username are mutually exclusive")
		}
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
	}
	switch cfg.Journal.RetentionMode {
	case "ephemeral":
	case "persistent":
		if cfg.Journal.Path == "" {
			return errors.New("journal.path must not be empty when retention_mode=persistent")
		}
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	if cfg.Speech.ModelID == "" {
		return errors.New("speech.model_id must not be empty")
	}
	if cfg.Speech.DefaultVoice == "" {
		return errors.New("speech.default_voice must not be empty")
	}
	if cfg.Speech.DefaultSpeed <= 0 {
		return errors.New("speech.default_speed must be positive")
	}
	if cfg.Speech.IdleTimeoutSec <= 0 {
		return errors.New("speech.idle_timeout_s must be positive")
	}
	if cfg.Speech.IdlePollMS <= 0 || cfg.Speech.QueuePollMS <= 0 {
		return errors.New("speech.idle_poll_ms and speech.queue_poll_ms must be positive")
	}
	if cfg.Speech.StopTimeoutMS <= 0 {
		return errors.New("speech.stop_timeout_ms must be positive")
	}
	switch cfg.Engine.Mode {
	case "mock":
	case "exec":
		if cfg.Engine.Command == "" {
			return errors.New("engine.command must be set when mode=exec")
		}
	default:
		return errors.New("engine.mode must be one of mock|exec")
	}
	if cfg.Engine.SampleRate <= 0 {
		return errors.New("engine.sample_rate must be positive")
	}
	switch cfg.Audio.Backend {
	case "oto", "malgo", "null":
	case "wav":
		if cfg.Audio.WavDir == "" {
			return errors.New("audio.wav_dir must be set when backend=wav")
		}
	default:
		return errors.New("audio.backend must be one of oto|malgo|wav|null")
	}
	if cfg.Intake.Enabled && cfg.Bus.Enabled {
		if cfg.Intake.Subject == "" {
			return errors.New("intake.subject must not be empty")
		}
		if cfg.Intake.RatePerSecond < 0 || cfg.Intake.Burst < 0 {
			return errors.New("intake.rate_per_second and intake.burst must be >= 0")
		}
	}
	return nil
}
