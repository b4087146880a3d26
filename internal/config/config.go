package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/loganszeto/phoenixkv/internal/util"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	defaultAddr           = "127.0.0.1"
	defaultPort           = 6969
	defaultLogLevel       = "info"
	defaultReaperInterval = 60 * time.Second
	defaultReadBuffer     = 4096
)

// Config is fixed at start-up. Username and Password are carried but never
// checked against requests.
type Config struct {
	Addr           string        `json:"addr,omitempty"`
	Port           int           `json:"port,omitempty"`
	Username       string        `json:"username,omitempty"`
	Password       string        `json:"password,omitempty"`
	Debug          bool          `json:"debug,omitempty"`
	LogLevel       string        `json:"log_level,omitempty"`
	ReaperInterval util.Duration `json:"reaper_interval,omitempty"`
	IdleTimeout    util.Duration `json:"idle_timeout,omitempty"`
	ReadBuffer     int           `json:"read_buffer,omitempty"`
	HTTPAddr       string        `json:"http_addr,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Addr:           defaultAddr,
		Port:           defaultPort,
		LogLevel:       defaultLogLevel,
		ReaperInterval: util.Duration(defaultReaperInterval),
		ReadBuffer:     defaultReadBuffer,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Addr != "" {
		c.Addr = source.Addr
	}
	if source.Port != 0 {
		c.Port = source.Port
	}
	if source.Username != "" {
		c.Username = source.Username
	}
	if source.Password != "" {
		c.Password = source.Password
	}
	if source.Debug {
		c.Debug = true
	}
	if source.LogLevel != "" {
		c.LogLevel = source.LogLevel
	}
	if source.ReaperInterval > 0 {
		c.ReaperInterval = source.ReaperInterval
	}
	if source.IdleTimeout > 0 {
		c.IdleTimeout = source.IdleTimeout
	}
	if source.ReadBuffer > 0 {
		c.ReadBuffer = source.ReadBuffer
	}
	if source.HTTPAddr != "" {
		c.HTTPAddr = source.HTTPAddr
	}
}

// Load reads a JSON config file and merges it over the defaults.
func Load(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if net.ParseIP(c.Addr) == nil && c.Addr != "localhost" {
		return fmt.Errorf("%w: addr %q is not an IP address", ErrInvalidConfig, c.Addr)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.ReaperInterval <= 0 {
		return fmt.Errorf("%w: reaper_interval must be positive", ErrInvalidConfig)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("%w: idle_timeout must not be negative", ErrInvalidConfig)
	}
	if c.ReadBuffer <= 0 {
		return fmt.Errorf("%w: read_buffer must be positive", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) Address() string {
	return net.JoinHostPort(c.Addr, strconv.Itoa(c.Port))
}

// ParseLevel accepts error, warn, info, debug and trace (trace logs at debug).
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return slog.LevelError, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "debug", "trace":
		return slog.LevelDebug, nil
	default:
		return 0, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, s)
	}
}

// Logger builds the process logger. Debug forces the debug level and adds
// source locations.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Debug {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
