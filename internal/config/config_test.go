package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loganszeto/phoenixkv/internal/util"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "127.0.0.1:6969", cfg.Address())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 60*time.Second, cfg.ReaperInterval.Std())
	assert.Zero(t, cfg.IdleTimeout)
	assert.Empty(t, cfg.HTTPAddr)
	require.NoError(t, cfg.Validate())
}

func TestMerge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Merge(&Config{
		Port:           7000,
		Username:       "root",
		Password:       "admin",
		Debug:          true,
		ReaperInterval: util.Duration(time.Second),
	})
	assert.Equal(t, "127.0.0.1", cfg.Addr)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "root", cfg.Username)
	assert.Equal(t, "admin", cfg.Password)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.Second, cfg.ReaperInterval.Std())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phoenixkv.json")
	body := `{"addr":"0.0.0.0","port":8080,"log_level":"debug","reaper_interval":"5s","idle_timeout":30,"http_addr":":8081"}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.ReaperInterval.Std())
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout.Std())
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, 4096, cfg.ReadBuffer)
	require.NoError(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port":"many"}`), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "port too high", mutate: func(c *Config) { c.Port = 70000 }},
		{name: "bad addr", mutate: func(c *Config) { c.Addr = "not an ip" }},
		{name: "bad level", mutate: func(c *Config) { c.LogLevel = "loud" }},
		{name: "zero interval", mutate: func(c *Config) { c.ReaperInterval = 0 }},
		{name: "negative idle", mutate: func(c *Config) { c.IdleTimeout = util.Duration(-time.Second) }},
		{name: "zero buffer", mutate: func(c *Config) { c.ReadBuffer = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"error": slog.LevelError,
		"WARN":  slog.LevelWarn,
		"info":  slog.LevelInfo,
		"debug": slog.LevelDebug,
		"trace": slog.LevelDebug,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestLoggerDebugFlag(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.LogLevel = "error"
	cfg.Logger(&buf).Debug("hidden")
	assert.Empty(t, buf.String())

	cfg.Debug = true
	cfg.Logger(&buf).Debug("shown")
	assert.Contains(t, buf.String(), "msg=shown")
	assert.Contains(t, buf.String(), "source=")
}
