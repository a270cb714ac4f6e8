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
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Sync        SyncConfig        `yaml:"sync"`
	Audio       AudioConfig       `yaml:"audio"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Follow      FollowConfig      `yaml:"follow"`
	SlideStore  SlideStoreConfig  `yaml:"slide_store"`
	Hook        HookConfig        `yaml:"hook"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	MaxReconnects  int      `yaml:"max_reconnects"`
	ReconnectWait  int      `yaml:"reconnect_wait_ms"`
	ReconnectCap   int      `yaml:"reconnect_max_wait_ms"`
}

// SyncConfig controls how this instance participates in multi-instance
// slide broadcast: publishing its own slide changes, applying remote
// ones, or both.
type SyncConfig struct {
	Enabled bool   `yaml:"enabled"`
	Role    string `yaml:"role"` // publisher, subscriber, both
}

type AudioConfig struct {
	CaptureSampleRate int    `yaml:"capture_sample_rate"`
	CaptureChannels   int    `yaml:"capture_channels"`
	FrameDurationMS   int    `yaml:"frame_duration_ms"`
	QueueFrames       int    `yaml:"queue_frames"`
	DumpPath          string `yaml:"dump_path"`
}

type RecognitionConfig struct {
	Enabled        bool            `yaml:"enabled"`
	APIKey         string          `yaml:"api_key"`
	TokenURL       string          `yaml:"token_url"`
	StreamURL      string          `yaml:"stream_url"`
	SampleRate     int             `yaml:"sample_rate"`
	TokenExpiresS  int             `yaml:"token_expires_s"`
	ConnectTimeout int             `yaml:"connect_timeout_ms"`
	Reconnect      ReconnectPolicy `yaml:"reconnect"`
}

// ReconnectPolicy is deliberately explicit: recognition minutes are
// metered, so silent retries are opt-in rather than assumed.
type ReconnectPolicy struct {
	Enabled       bool `yaml:"enabled"`
	MaxAttempts   int  `yaml:"max_attempts"`
	InitialWaitMS int  `yaml:"initial_wait_ms"`
	MaxWaitMS     int  `yaml:"max_wait_ms"`
}

type FollowConfig struct {
	Enabled               bool    `yaml:"enabled"`
	MatchThreshold        float64 `yaml:"match_threshold"`
	EndTriggerThreshold   float64 `yaml:"end_trigger_threshold"`
	EndTriggerTailWords   int     `yaml:"end_trigger_tail_words"`
	EnableEndAdvance      bool    `yaml:"enable_end_advance"`
	MinWords              int     `yaml:"min_words"`
	CooldownMS            int     `yaml:"cooldown_ms"`
	MaxLookahead          int     `yaml:"max_lookahead"`
	TranscriptWindowWords int     `yaml:"transcript_window_words"`
}

type SlideStoreConfig struct {
	Path          string `yaml:"path"`
	HistoryLimit  int    `yaml:"history_limit"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// HookConfig names an optional command run after every accepted slide
// change, for presentation programs without a network API.
type HookConfig struct {
	OnAdvance string `yaml:"on_advance"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "followspot-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8091,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			MaxReconnects:  60,
			ReconnectWait:  500,
			ReconnectCap:   15000,
		},
		Sync: SyncConfig{
			Enabled: true,
			Role:    "publisher",
		},
		Audio: AudioConfig{
			CaptureSampleRate: 48000,
			CaptureChannels:   2,
			FrameDurationMS:   50,
			QueueFrames:       32,
		},
		Recognition: RecognitionConfig{
			Enabled:        false,
			TokenURL:       "https://api.assemblyai.com/v2/realtime/token",
			StreamURL:      "wss://api.assemblyai.com/v2/realtime/ws",
			SampleRate:     16000,
			TokenExpiresS:  3600,
			ConnectTimeout: 10000,
			Reconnect: ReconnectPolicy{
				Enabled:       false,
				MaxAttempts:   5,
				InitialWaitMS: 1000,
				MaxWaitMS:     30000,
			},
		},
		Follow: FollowConfig{
			Enabled:               true,
			MatchThreshold:        0.62,
			EndTriggerThreshold:   0.75,
			EndTriggerTailWords:   4,
			EnableEndAdvance:      true,
			MinWords:              3,
			CooldownMS:            2500,
			MaxLookahead:          2,
			TranscriptWindowWords: 80,
		},
		SlideStore: SlideStoreConfig{
			Path:         "./data/followspot-slides.db",
			HistoryLimit: 5000,
		},
		Hook: HookConfig{
			TimeoutMS: 5000,
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
	overrideString(&cfg.RuntimeName, "FOLLOWSPOT_RUNTIME_NAME")
	overrideString(&cfg.Environment, "FOLLOWSPOT_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "FOLLOWSPOT_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "FOLLOWSPOT_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "FOLLOWSPOT_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "FOLLOWSPOT_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "FOLLOWSPOT_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "FOLLOWSPOT_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "FOLLOWSPOT_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "FOLLOWSPOT_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "FOLLOWSPOT_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "FOLLOWSPOT_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "FOLLOWSPOT_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "FOLLOWSPOT_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "FOLLOWSPOT_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Bus.MaxReconnects, "FOLLOWSPOT_BUS_MAX_RECONNECTS")
	overrideInt(&cfg.Bus.ReconnectWait, "FOLLOWSPOT_BUS_RECONNECT_WAIT_MS")
	overrideInt(&cfg.Bus.ReconnectCap, "FOLLOWSPOT_BUS_RECONNECT_MAX_WAIT_MS")
	overrideBool(&cfg.Sync.Enabled, "FOLLOWSPOT_SYNC_ENABLED")
	overrideString(&cfg.Sync.Role, "FOLLOWSPOT_SYNC_ROLE")
	overrideInt(&cfg.Audio.CaptureSampleRate, "FOLLOWSPOT_AUDIO_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Audio.CaptureChannels, "FOLLOWSPOT_AUDIO_CAPTURE_CHANNELS")
	overrideInt(&cfg.Audio.FrameDurationMS, "FOLLOWSPOT_AUDIO_FRAME_DURATION_MS")
	overrideInt(&cfg.Audio.QueueFrames, "FOLLOWSPOT_AUDIO_QUEUE_FRAMES")
	overrideString(&cfg.Audio.DumpPath, "FOLLOWSPOT_AUDIO_DUMP_PATH")
	overrideBool(&cfg.Recognition.Enabled, "FOLLOWSPOT_RECOGNITION_ENABLED")
	overrideString(&cfg.Recognition.APIKey, "FOLLOWSPOT_RECOGNITION_API_KEY")
	overrideString(&cfg.Recognition.TokenURL, "FOLLOWSPOT_RECOGNITION_TOKEN_URL")
	overrideString(&cfg.Recognition.StreamURL, "FOLLOWSPOT_RECOGNITION_STREAM_URL")
	overrideInt(&cfg.Recognition.SampleRate, "FOLLOWSPOT_RECOGNITION_SAMPLE_RATE")
	overrideInt(&cfg.Recognition.TokenExpiresS, "FOLLOWSPOT_RECOGNITION_TOKEN_EXPIRES_S")
	overrideInt(&cfg.Recognition.ConnectTimeout, "FOLLOWSPOT_RECOGNITION_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.Recognition.Reconnect.Enabled, "FOLLOWSPOT_RECOGNITION_RECONNECT_ENABLED")
	overrideInt(&cfg.Recognition.Reconnect.MaxAttempts, "FOLLOWSPOT_RECOGNITION_RECONNECT_MAX_ATTEMPTS")
	overrideInt(&cfg.Recognition.Reconnect.InitialWaitMS, "FOLLOWSPOT_RECOGNITION_RECONNECT_INITIAL_WAIT_MS")
	overrideInt(&cfg.Recognition.Reconnect.MaxWaitMS, "FOLLOWSPOT_RECOGNITION_RECONNECT_MAX_WAIT_MS")
	overrideBool(&cfg.Follow.Enabled, "FOLLOWSPOT_FOLLOW_ENABLED")
	overrideFloat(&cfg.Follow.MatchThreshold, "FOLLOWSPOT_FOLLOW_MATCH_THRESHOLD")
	overrideFloat(&cfg.Follow.EndTriggerThreshold, "FOLLOWSPOT_FOLLOW_END_TRIGGER_THRESHOLD")
	overrideInt(&cfg.Follow.EndTriggerTailWords, "FOLLOWSPOT_FOLLOW_END_TRIGGER_TAIL_WORDS")
	overrideBool(&cfg.Follow.EnableEndAdvance, "FOLLOWSPOT_FOLLOW_ENABLE_END_ADVANCE")
	overrideInt(&cfg.Follow.MinWords, "FOLLOWSPOT_FOLLOW_MIN_WORDS")
	overrideInt(&cfg.Follow.CooldownMS, "FOLLOWSPOT_FOLLOW_COOLDOWN_MS")
	overrideInt(&cfg.Follow.MaxLookahead, "FOLLOWSPOT_FOLLOW_MAX_LOOKAHEAD")
	overrideInt(&cfg.Follow.TranscriptWindowWords, "FOLLOWSPOT_FOLLOW_TRANSCRIPT_WINDOW_WORDS")
	overrideString(&cfg.SlideStore.Path, "FOLLOWSPOT_SLIDE_STORE_PATH")
	overrideInt(&cfg.SlideStore.HistoryLimit, "FOLLOWSPOT_SLIDE_STORE_HISTORY_LIMIT")
	overrideBool(&cfg.SlideStore.VacuumOnStart, "FOLLOWSPOT_SLIDE_STORE_VACUUM_ON_START")
	overrideString(&cfg.Hook.OnAdvance, "FOLLOWSPOT_HOOK_ON_ADVANCE")
	overrideInt(&cfg.Hook.TimeoutMS, "FOLLOWSPOT_HOOK_TIMEOUT_MS")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Sync.Enabled {
		switch cfg.Sync.Role {
		case "publisher", "subscriber", "both":
		default:
			return errors.New("sync.role must be one of publisher|subscriber|both")
		}
	}
	if cfg.Audio.CaptureSampleRate <= 0 {
		return errors.New("audio.capture_sample_rate must be positive")
	}
	if cfg.Audio.CaptureChannels <= 0 {
		return errors.New("audio.capture_channels must be positive")
	}
	if cfg.Audio.FrameDurationMS <= 0 {
		return errors.New("audio.frame_duration_ms must be positive")
	}
	if cfg.Audio.QueueFrames <= 0 {
		return errors.New("audio.queue_frames must be positive")
	}
	if cfg.Recognition.Enabled {
		if cfg.Recognition.APIKey == "" {
			return errors.New("recognition.api_key must be set when recognition is enabled")
		}
		if cfg.Recognition.TokenURL == "" {
			return errors.New("recognition.token_url must not be empty")
		}
		if cfg.Recognition.StreamURL == "" {
			return errors.New("recognition.stream_url must not be empty")
		}
		if cfg.Recognition.SampleRate <= 0 {
			return errors.New("recognition.sample_rate must be positive")
		}
		if cfg.Recognition.Reconnect.Enabled {
			if cfg.Recognition.Reconnect.MaxAttempts <= 0 {
				return errors.New("recognition.reconnect.max_attempts must be >= 1 when reconnect is enabled")
			}
			if cfg.Recognition.Reconnect.InitialWaitMS <= 0 {
				return errors.New("recognition.reconnect.initial_wait_ms must be positive when reconnect is enabled")
			}
		}
	}
	if cfg.Follow.MatchThreshold < 0 || cfg.Follow.MatchThreshold > 1 {
		return errors.New("follow.match_threshold must be within [0,1]")
	}
	if cfg.Follow.EndTriggerThreshold < 0 || cfg.Follow.EndTriggerThreshold > 1 {
		return errors.New("follow.end_trigger_threshold must be within [0,1]")
	}
	if cfg.Follow.EndTriggerTailWords < 0 {
		return errors.New("follow.end_trigger_tail_words must be >= 0")
	}
	if cfg.Follow.MinWords < 0 {
		return errors.New("follow.min_words must be >= 0")
	}
	if cfg.Follow.CooldownMS < 0 {
		return errors.New("follow.cooldown_ms must be >= 0")
	}
	if cfg.Follow.MaxLookahead < 0 {
		return errors.New("follow.max_lookahead must be >= 0")
	}
	if cfg.Follow.TranscriptWindowWords <= 0 {
		return errors.New("follow.transcript_window_words must be positive")
	}
	if cfg.SlideStore.Path == "" {
		return errors.New("slide_store.path must not be empty")
	}
	if cfg.SlideStore.HistoryLimit < 0 {
		return errors.New("slide_store.history_limit must be >= 0")
	}
	if cfg.Hook.OnAdvance != "" && cfg.Hook.TimeoutMS <= 0 {
		return errors.New("hook.timeout_ms must be positive when hook.on_advance is set")
	}
	return nil
}
