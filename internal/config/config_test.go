package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8090", cfg.Server.Addr)
	assert.Equal(t, "http", cfg.Telemetry.Sink)
	assert.Equal(t, "http://localhost:5013/emotion", cfg.Telemetry.URL)
	assert.Equal(t, "http://localhost:5001/sentiment", cfg.Sentiment.URL)
	assert.Equal(t, 10*time.Second, cfg.Sentiment.Timeout)
	assert.Zero(t, cfg.Sentiment.MinConfidence)
	assert.Equal(t, "assets/img", cfg.Avatar.BasePath)
	assert.Len(t, cfg.Avatar.Assets, 5)
	assert.Equal(t, "info", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromPathCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".cortexaffect", "config.yaml")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "config file should be created")

	assert.Equal(t, Default().Server.Addr, cfg.Server.Addr)
	assert.Equal(t, Default().Telemetry.Timeout, cfg.Telemetry.Timeout)

	again, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Sentiment, again.Sentiment)
}

func TestLoadUsesHomeDirectory(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Addr, cfg.Server.Addr)

	_, err = os.Stat(filepath.Join(home, ".cortexaffect", "config.yaml"))
	assert.NoError(t, err)
}

func TestLoadFromPathPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
telemetry:
  sink: redis
  redis:
    addr: redis:6379
sentiment:
  min_confidence: 0.6
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Telemetry.Sink)
	assert.Equal(t, "redis:6379", cfg.Telemetry.Redis.Addr)
	assert.Equal(t, "cortex:emotions", cfg.Telemetry.Redis.Stream)
	assert.Equal(t, 0.6, cfg.Sentiment.MinConfidence)
	assert.Equal(t, ":8090", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	_, err := LoadFromPath(path)
	require.NoError(t, err)

	t.Setenv("CORTEXAFFECT_SENTIMENT_URL", "http://sentiment:5001/sentiment")
	t.Setenv("CORTEXAFFECT_TELEMETRY_SINK", "none")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "http://sentiment:5001/sentiment", cfg.Sentiment.URL)
	assert.Equal(t, "none", cfg.Telemetry.Sink)
}

func TestSaveToPathRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Server.Addr = "127.0.0.1:9000"
	cfg.Logging.Level = "debug"
	require.NoError(t, cfg.SaveToPath(path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", loaded.Server.Addr)
	assert.Equal(t, "debug", loaded.Logging.Level)
	assert.Equal(t, cfg.Server.ReadTimeout, loaded.Server.ReadTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"none sink", func(c *Config) { c.Telemetry.Sink = "none" }, false},
		{"unknown sink", func(c *Config) { c.Telemetry.Sink = "kafka" }, true},
		{"http sink without url", func(c *Config) { c.Telemetry.URL = "" }, true},
		{"redis sink without addr", func(c *Config) {
			c.Telemetry.Sink = "redis"
			c.Telemetry.Redis.Addr = ""
		}, true},
		{"confidence above one", func(c *Config) { c.Sentiment.MinConfidence = 1.5 }, true},
		{"unknown avatar state", func(c *Config) { c.Avatar.Assets["dancing"] = "Dance.mp4" }, true},
		{"lowercase avatar state", func(c *Config) { c.Avatar.Assets["happy"] = "Joy.mp4" }, false},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	_, err := LoadFromPath(path)
	require.NoError(t, err)

	changes := make(chan *Config, 4)
	require.NoError(t, Watch(path, func(c *Config) { changes <- c }, nil))

	cfg := Default()
	cfg.Logging.Level = "debug"
	require.NoError(t, cfg.SaveToPath(path))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-changes:
			// A truncate can surface as its own write event before the content lands.
			if got.Logging.Level == "debug" {
				return
			}
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".cortexaffect", "logs"), expandPath("~/.cortexaffect/logs"))
	assert.Equal(t, "/var/log/affect", expandPath("/var/log/affect"))
}
