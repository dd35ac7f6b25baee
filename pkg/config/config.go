package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blectl/internal/wsf"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the stack and tool configuration
type Config struct {
	LogLevel string `json:"log_level" yaml:"log_level" default:"info"`

	// Runtime
	MsPerTick          uint32 `json:"ms_per_tick" yaml:"ms_per_tick" default:"10"`
	MaxTimers          int    `json:"max_timers" yaml:"max_timers" default:"32"`
	IngressDepth       uint32 `json:"ingress_depth" yaml:"ingress_depth" default:"64"`
	MaxDispatchPerPass int    `json:"max_dispatch_per_pass" yaml:"max_dispatch_per_pass" default:"1024"`

	// Pools lists buffer pools in ascending block length. Empty means
	// wsf.DefaultPoolDescs.
	Pools []wsf.PoolDesc `json:"pools" yaml:"pools"`

	// Link layer
	MaxConn        int    `json:"max_conn" yaml:"max_conn" default:"4"`
	MaxExecuting   int    `json:"max_executing" yaml:"max_executing" default:"4"`
	InitTimeoutMs  uint32 `json:"init_timeout_ms" yaml:"init_timeout_ms" default:"10000"`
	SupervisionMs  uint32 `json:"supervision_ms" yaml:"supervision_ms" default:"4000"`
	BodTimeoutMs   uint32 `json:"bod_timeout_ms" yaml:"bod_timeout_ms" default:"5000"`
	TerminateTicks uint32 `json:"terminate_ticks" yaml:"terminate_ticks" default:"3"`
	ScanChannel    uint8  `json:"scan_channel" yaml:"scan_channel" default:"37"`

	// Host side
	EventDepth   int           `json:"event_depth" yaml:"event_depth" default:"256"`
	RadioLatency time.Duration `json:"radio_latency" yaml:"radio_latency" default:"20ms"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.Pools = append([]wsf.PoolDesc(nil), wsf.DefaultPoolDescs...)
	return cfg
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result. Keys not
// present keep their default values.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(cfg.Pools) == 0 {
		cfg.Pools = append([]wsf.PoolDesc(nil), wsf.DefaultPoolDescs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the stack would otherwise assert on.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	if c.MsPerTick == 0 {
		return fmt.Errorf("%w: ms_per_tick must be positive", ErrInvalidConfig)
	}
	if c.MaxTimers <= 0 || c.MaxConn <= 0 || c.MaxExecuting <= 0 || c.EventDepth <= 0 {
		return fmt.Errorf("%w: max_timers, max_conn, max_executing and event_depth must be positive", ErrInvalidConfig)
	}
	if c.MaxConn > 255 {
		return fmt.Errorf("%w: max_conn %d exceeds 255", ErrInvalidConfig, c.MaxConn)
	}
	if c.BodTimeoutMs == 0 {
		return fmt.Errorf("%w: bod_timeout_ms must be positive", ErrInvalidConfig)
	}
	if c.IngressDepth == 0 {
		return fmt.Errorf("%w: ingress_depth must be positive", ErrInvalidConfig)
	}
	if _, err := wsf.NewBufPool(c.Pools...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// PoolMemory returns the bytes the configured pools occupy.
func (c *Config) PoolMemory() int {
	return wsf.RequiredMemory(c.Pools)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
