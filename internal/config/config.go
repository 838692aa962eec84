package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	WhisperBin       string `env:"WHISPER_BIN" envDefault:"whisper-cli"`
	WhisperModel     string `env:"WHISPER_MODEL" envDefault:"medium"`
	WhisperModelsDir string `env:"WHISPER_MODELS_DIR"`
	DefaultModelsDir string `env:"WHISPER_DEFAULT_MODELS_DIR" envDefault:"./models"`
	FFmpegBin        string `env:"FFMPEG_BIN" envDefault:"ffmpeg"`

	ConvertTimeout time.Duration `env:"CONVERT_TIMEOUT" envDefault:"60s"`
	EngineTimeout  time.Duration `env:"ENGINE_TIMEOUT" envDefault:"10m"`
	TempDir        string        `env:"TEMP_DIR"`
	MaxUploadMB    int64         `env:"MAX_UPLOAD_MB" envDefault:"512"`
	ModelWatch     bool          `env:"MODEL_WATCH" envDefault:"true"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8700"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5m"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"11m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"caption-engine"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"caption-engine"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile    string
	HTTPAddr   string
	LogLevel   string
	WhisperBin string
	Model      string
	ModelsDir  string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.WhisperBin != "" {
		cfg.WhisperBin = overrides.WhisperBin
	}
	if overrides.Model != "" {
		cfg.WhisperModel = overrides.Model
	}
	if overrides.ModelsDir != "" {
		cfg.WhisperModelsDir = overrides.ModelsDir
	}

	return cfg, nil
}

// MaxUploadBytes returns the request body limit, or 0 for no limit.
func (c *Config) MaxUploadBytes() int64 {
	if c.MaxUploadMB <= 0 {
		return 0
	}
	return c.MaxUploadMB << 20
}

// MQTTEnabled reports whether completion events should be published.
func (c *Config) MQTTEnabled() bool {
	return c.MQTTBrokerURL != ""
}
