// Package config loads cortexaffect configuration from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g.
// CORTEXAFFECT_TELEMETRY_SINK=redis.
const EnvPrefix = "CORTEXAFFECT"

// Config holds all service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Sentiment SentimentConfig `mapstructure:"sentiment" yaml:"sentiment"`
	Avatar    AvatarConfig    `mapstructure:"avatar" yaml:"avatar"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig configures the HTTP and WebSocket listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// MaxFrameBytes caps a single landmark frame body.
	MaxFrameBytes int64 `mapstructure:"max_frame_bytes" yaml:"max_frame_bytes"`
}

// TelemetryConfig selects where accepted emotion changes are sent.
type TelemetryConfig struct {
	// Sink is "http", "redis" or "none".
	Sink    string        `mapstructure:"sink" yaml:"sink"`
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Redis   RedisConfig   `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig configures the Redis stream sink.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Stream   string `mapstructure:"stream" yaml:"stream"`
	MaxLen   int64  `mapstructure:"max_len" yaml:"max_len"`
}

// SentimentConfig configures the remote sentiment classifier.
type SentimentConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// MinConfidence demotes weaker verdicts to neutral. 0 accepts everything.
	MinConfidence float64 `mapstructure:"min_confidence" yaml:"min_confidence"`
}

// AvatarConfig configures playback assets.
type AvatarConfig struct {
	BasePath string            `mapstructure:"base_path" yaml:"base_path"`
	Assets   map[string]string `mapstructure:"assets" yaml:"assets"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Dir        string `mapstructure:"dir" yaml:"dir"`
	Console    bool   `mapstructure:"console" yaml:"console"`
	MaxHistory int    `mapstructure:"max_history" yaml:"max_history"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxFrameBytes:   1 << 20,
		},
		Telemetry: TelemetryConfig{
			Sink:    "http",
			URL:     "http://localhost:5013/emotion",
			Timeout: 2 * time.Second,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Stream: "cortex:emotions",
				MaxLen: 10000,
			},
		},
		Sentiment: SentimentConfig{
			URL:     "http://localhost:5001/sentiment",
			Timeout: 10 * time.Second,
		},
		Avatar: AvatarConfig{
			BasePath: "assets/img",
			Assets: map[string]string{
				"IDLE":     "Idle.mp4",
				"HAPPY":    "Happy.mp4",
				"SAD":      "Sad.mp4",
				"SPEAKING": "Speaking.mp4",
				"THINKING": "Thinking.mp4",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Dir:        "~/.cortexaffect/logs",
			Console:    true,
			MaxHistory: 1000,
		},
	}
}

// DefaultPath returns ~/.cortexaffect/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".cortexaffect", "config.yaml"), nil
}

// Load reads configuration from the default location.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath reads configuration from path and merges environment
// overrides. A missing file is created with default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return decode(v)
}

// Watch re-reads path whenever it changes on disk and passes the new
// configuration to onChange. Decode failures go to onError and the
// previous configuration stays in effect.
func Watch(path string, onChange func(*Config), onError func(error)) error {
	path = expandPath(path)

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example: CORTEXAFFECT_SENTIMENT_URL
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Logging.Dir = expandPath(cfg.Logging.Dir)
	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults fills zero values a partial file leaves behind.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Server.MaxFrameBytes == 0 {
		c.Server.MaxFrameBytes = d.Server.MaxFrameBytes
	}
	if c.Telemetry.Sink == "" {
		c.Telemetry.Sink = d.Telemetry.Sink
	}
	if c.Telemetry.Timeout == 0 {
		c.Telemetry.Timeout = d.Telemetry.Timeout
	}
	if c.Telemetry.Redis.Stream == "" {
		c.Telemetry.Redis.Stream = d.Telemetry.Redis.Stream
	}
	if c.Sentiment.URL == "" {
		c.Sentiment.URL = d.Sentiment.URL
	}
	if c.Sentiment.Timeout == 0 {
		c.Sentiment.Timeout = d.Sentiment.Timeout
	}
	if c.Avatar.BasePath == "" {
		c.Avatar.BasePath = d.Avatar.BasePath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.MaxHistory == 0 {
		c.Logging.MaxHistory = d.Logging.MaxHistory
	}
}

// SaveToPath writes the configuration to path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return writeConfigFile(path, c)
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	switch c.Telemetry.Sink {
	case "http":
		if c.Telemetry.URL == "" {
			return fmt.Errorf("telemetry.url is required for the http sink")
		}
	case "redis":
		if c.Telemetry.Redis.Addr == "" {
			return fmt.Errorf("telemetry.redis.addr is required for the redis sink")
		}
	case "none":
	default:
		return fmt.Errorf("invalid telemetry.sink '%s', must be one of: http, redis, none", c.Telemetry.Sink)
	}

	if c.Sentiment.MinConfidence < 0 || c.Sentiment.MinConfidence > 1 {
		return fmt.Errorf("sentiment.min_confidence must be between 0 and 1")
	}

	validStates := map[string]bool{"IDLE": true, "HAPPY": true, "SAD": true, "SPEAKING": true, "THINKING": true}
	for state := range c.Avatar.Assets {
		if !validStates[strings.ToUpper(state)] {
			return fmt.Errorf("avatar.assets: unknown state '%s'", state)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// YAML renders the configuration as it would be written to disk.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

func writeConfigFile(path string, cfg *Config) error {
	data, err := cfg.YAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
