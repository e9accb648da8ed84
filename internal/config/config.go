// Package config loads the echosight configuration through viper, merging
// defaults, an optional YAML config file, and ECHOSIGHT_* environment
// variables into a single struct consumed at startup. Components never read
// configuration ambiently; the composition root hands them what they need.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/echosight/echosight/pkg/constants"
	"github.com/echosight/echosight/pkg/errors"
)

// Config is the single configuration object for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Requests  RequestConfig   `mapstructure:"requests"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Image     ImageConfig     `mapstructure:"image"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Voice     VoiceConfig     `mapstructure:"voice"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Projector ProjectorConfig `mapstructure:"projector"`
}

// ServerConfig describes the remote inference endpoint.
type ServerConfig struct {
	// BaseURL is the root of the OpenAI-compatible endpoint.
	BaseURL string `mapstructure:"base_url"`
	// APIKey, when set, is sent as a Bearer token.
	APIKey string `mapstructure:"api_key"`
	// Model is the identifier sent with inference requests.
	Model string `mapstructure:"model"`
	// HealthCheckInterval is how often connectivity is probed.
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	// HealthCheckTimeout bounds a single probe.
	HealthCheckTimeout time.Duration `mapstructure:"health_check_timeout"`
	// ReconnectDelay is the wait before a reconnect attempt after a
	// failed probe.
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	// WarmupOnConnect sends a warmup request after the first successful
	// health check.
	WarmupOnConnect bool `mapstructure:"warmup_on_connect"`
}

// RequestConfig holds the per-request parameters and the two timeout tiers.
type RequestConfig struct {
	ManualTimeout         time.Duration `mapstructure:"manual_timeout"`
	RealtimeTimeout       time.Duration `mapstructure:"realtime_timeout"`
	MaxTokens             int           `mapstructure:"max_tokens"`
	RealtimeMaxTokens     int           `mapstructure:"realtime_max_tokens"`
	Temperature           float64       `mapstructure:"temperature"`
	TopP                  float64       `mapstructure:"top_p"`
	RepetitionPenalty     float64       `mapstructure:"repetition_penalty"`
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests"`
	MinConfidence         int           `mapstructure:"min_confidence"`
	MaxConfidence         int           `mapstructure:"max_confidence"`
}

// RetryConfig holds the backoff schedule for retryable failures.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// ImageConfig holds the downscaling thresholds.
type ImageConfig struct {
	MaxBytes    int `mapstructure:"max_bytes"`
	MaxDim      int `mapstructure:"max_dim"`
	JPEGQuality int `mapstructure:"jpeg_quality"`
}

// RealtimeConfig holds the live-analysis polling parameters.
type RealtimeConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	FrameMaxAge time.Duration `mapstructure:"frame_max_age"`
}

// VoiceConfig holds narration parameters.
type VoiceConfig struct {
	// Enabled toggles spoken feedback entirely.
	Enabled bool `mapstructure:"enabled"`
	// Command is the TTS binary invoked per utterance (e.g. espeak-ng).
	Command string `mapstructure:"command"`
	// Args are extra arguments placed before the utterance text.
	Args []string `mapstructure:"args"`
	// ChunkLength is the maximum utterance length before sentence
	// splitting.
	ChunkLength int `mapstructure:"chunk_length"`
}

// LoggingConfig mirrors pkg/logging.Config.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ProjectorConfig holds result-history parameters.
type ProjectorConfig struct {
	HistoryTTL time.Duration `mapstructure:"history_ttl"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:             constants.DefaultBaseURL,
			Model:               constants.DefaultModel,
			HealthCheckInterval: constants.DefaultHealthCheckInterval,
			HealthCheckTimeout:  constants.DefaultHealthCheckTimeout,
			ReconnectDelay:      constants.DefaultReconnectDelay,
			WarmupOnConnect:     true,
		},
		Requests: RequestConfig{
			ManualTimeout:         constants.DefaultManualTimeout,
			RealtimeTimeout:       constants.DefaultRealtimeTimeout,
			MaxTokens:             constants.DefaultMaxTokens,
			RealtimeMaxTokens:     constants.DefaultRealtimeMaxTokens,
			Temperature:           constants.DefaultTemperature,
			TopP:                  constants.DefaultTopP,
			RepetitionPenalty:     constants.DefaultRepetitionPenalty,
			MaxConcurrentRequests: constants.DefaultMaxConcurrentRequests,
			MinConfidence:         constants.DefaultMinConfidence,
			MaxConfidence:         constants.DefaultMaxConfidence,
		},
		Retry: RetryConfig{
			MaxAttempts: constants.DefaultMaxAttempts,
			BaseDelay:   constants.DefaultRetryBaseDelay,
			MaxDelay:    constants.DefaultRetryMaxDelay,
		},
		Image: ImageConfig{
			MaxBytes:    constants.DefaultMaxImageBytes,
			MaxDim:      constants.DefaultMaxImageDim,
			JPEGQuality: constants.DefaultJPEGQuality,
		},
		Realtime: RealtimeConfig{
			Interval:    constants.DefaultRealtimeInterval,
			FrameMaxAge: constants.DefaultFrameMaxAge,
		},
		Voice: VoiceConfig{
			Enabled:     true,
			Command:     "espeak-ng",
			ChunkLength: constants.DefaultSpeechChunkLength,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
			Output: "stderr",
		},
		Projector: ProjectorConfig{
			HistoryTTL: constants.DefaultHistoryTTL,
		},
	}
}

// Load builds the configuration from defaults, the optional config file, and
// environment variables (prefix ECHOSIGHT_, dots become underscores).
func Load(configFile string) (*Config, error) {
	v := viper.New()

	cfg := Default()
	setDefaults(v, cfg)

	v.SetEnvPrefix("ECHOSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.NewConfigError("config", "reading config file", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.NewConfigError("config", "unmarshaling configuration", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every default so env-only overrides still produce a
// fully populated struct.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.base_url", cfg.Server.BaseURL)
	v.SetDefault("server.api_key", cfg.Server.APIKey)
	v.SetDefault("server.model", cfg.Server.Model)
	v.SetDefault("server.health_check_interval", cfg.Server.HealthCheckInterval)
	v.SetDefault("server.health_check_timeout", cfg.Server.HealthCheckTimeout)
	v.SetDefault("server.reconnect_delay", cfg.Server.ReconnectDelay)
	v.SetDefault("server.warmup_on_connect", cfg.Server.WarmupOnConnect)

	v.SetDefault("requests.manual_timeout", cfg.Requests.ManualTimeout)
	v.SetDefault("requests.realtime_timeout", cfg.Requests.RealtimeTimeout)
	v.SetDefault("requests.max_tokens", cfg.Requests.MaxTokens)
	v.SetDefault("requests.realtime_max_tokens", cfg.Requests.RealtimeMaxTokens)
	v.SetDefault("requests.temperature", cfg.Requests.Temperature)
	v.SetDefault("requests.top_p", cfg.Requests.TopP)
	v.SetDefault("requests.repetition_penalty", cfg.Requests.RepetitionPenalty)
	v.SetDefault("requests.max_concurrent_requests", cfg.Requests.MaxConcurrentRequests)
	v.SetDefault("requests.min_confidence", cfg.Requests.MinConfidence)
	v.SetDefault("requests.max_confidence", cfg.Requests.MaxConfidence)

	v.SetDefault("retry.max_attempts", cfg.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", cfg.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", cfg.Retry.MaxDelay)

	v.SetDefault("image.max_bytes", cfg.Image.MaxBytes)
	v.SetDefault("image.max_dim", cfg.Image.MaxDim)
	v.SetDefault("image.jpeg_quality", cfg.Image.JPEGQuality)

	v.SetDefault("realtime.interval", cfg.Realtime.Interval)
	v.SetDefault("realtime.frame_max_age", cfg.Realtime.FrameMaxAge)

	v.SetDefault("voice.enabled", cfg.Voice.Enabled)
	v.SetDefault("voice.command", cfg.Voice.Command)
	v.SetDefault("voice.args", cfg.Voice.Args)
	v.SetDefault("voice.chunk_length", cfg.Voice.ChunkLength)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("projector.history_ttl", cfg.Projector.HistoryTTL)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return &errors.ValidationError{Field: "server.base_url", Message: "must not be empty"}
	}
	if c.Requests.ManualTimeout <= 0 || c.Requests.RealtimeTimeout <= 0 {
		return &errors.ValidationError{Field: "requests", Message: "timeouts must be positive"}
	}
	if c.Requests.MaxConcurrentRequests < 1 {
		return &errors.ValidationError{
			Field:   "requests.max_concurrent_requests",
			Value:   c.Requests.MaxConcurrentRequests,
			Message: "must be at least 1",
		}
	}
	if c.Requests.MinConfidence > c.Requests.MaxConfidence {
		return &errors.ValidationError{
			Field:   "requests.min_confidence",
			Value:   c.Requests.MinConfidence,
			Message: "must not exceed max_confidence",
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return &errors.ValidationError{
			Field:   "retry.max_attempts",
			Value:   c.Retry.MaxAttempts,
			Message: "must be at least 1",
		}
	}
	if c.Realtime.Interval <= 0 {
		return &errors.ValidationError{Field: "realtime.interval", Message: "must be positive"}
	}
	return nil
}
