// Package config resolves the weighbridged daemon configuration from
// defaults, a TOML file, WEIGHBRIDGE_* environment variables and command-line
// flags, in ascending precedence. It also converts the resolved configuration
// into a scale.SessionConfig and watches the file for changes.
package config

import (
	"fmt"
	"math"
	"time"

	"github.com/scalewire/go-weighbridge/frame"
	"github.com/scalewire/go-weighbridge/logger"
	"github.com/scalewire/go-weighbridge/scale"
	"github.com/scalewire/go-weighbridge/weight"
)

// Framing strategy names accepted in configuration.
const (
	FramingDelimiter = "delimiter"
	FramingPattern   = "pattern"
)

// DefaultListenAddr is where the HTTP API serves when not configured.
const DefaultListenAddr = ":5000"

// Config is the fully resolved daemon configuration.
type Config struct {
	// Serial device.
	Port           string
	BaudRate       int
	ReadTimeout    time.Duration
	PollInterval   time.Duration
	RetryDelay     time.Duration
	ErrorThreshold int
	RecoveryPause  time.Duration
	CloseTimeout   time.Duration
	ProbeTimeout   time.Duration
	FreshTimeout   time.Duration

	// Token extraction and decoding.
	Framing        string
	MatchPolicy    string
	TokenLayout    string
	FixedDivisor   float64
	StableStatuses string

	// HTTP server.
	ListenAddr  string
	CORSOrigins []string

	// Logging.
	LogLevel string
	ErrorLog string

	// Watch the config file and restart the session on changes.
	WatchConfig bool
}

// Default returns a Config with default values.
func Default() Config {
	return Config{
		Port:           "/dev/ttyUSB0",
		BaudRate:       scale.DefaultBaudRate,
		ReadTimeout:    scale.DefaultReadTimeout,
		PollInterval:   scale.DefaultPollInterval,
		RetryDelay:     scale.DefaultRetryDelay,
		ErrorThreshold: scale.DefaultErrorThreshold,
		RecoveryPause:  scale.DefaultRecoveryPause,
		CloseTimeout:   scale.DefaultCloseTimeout,
		ProbeTimeout:   scale.DefaultProbeTimeout,
		FreshTimeout:   scale.DefaultFreshTimeout,
		Framing:        FramingDelimiter,
		MatchPolicy:    frame.MatchAccumulateAll.String(),
		TokenLayout:    weight.LayoutDecimalDigit.String(),
		FixedDivisor:   weight.DefaultFixedDivisor,
		StableStatuses: weight.DefaultStableStatuses,
		ListenAddr:     DefaultListenAddr,
		CORSOrigins:    []string{"*"},
		LogLevel:       "info",
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("baud rate must be positive, got %d", c.BaudRate)
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive, got %v", c.ReadTimeout)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("retry delay must be positive, got %v", c.RetryDelay)
	}
	if c.ErrorThreshold < 1 {
		return fmt.Errorf("error threshold must be at least 1, got %d", c.ErrorThreshold)
	}
	if c.RecoveryPause < 0 {
		return fmt.Errorf("recovery pause must not be negative, got %v", c.RecoveryPause)
	}
	if c.CloseTimeout <= 0 {
		return fmt.Errorf("close timeout must be positive, got %v", c.CloseTimeout)
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe timeout must be positive, got %v", c.ProbeTimeout)
	}
	if c.FreshTimeout <= 0 {
		return fmt.Errorf("fresh timeout must be positive, got %v", c.FreshTimeout)
	}

	if c.Framing != FramingDelimiter && c.Framing != FramingPattern {
		return fmt.Errorf("unknown framing %q (want %q or %q)", c.Framing, FramingDelimiter, FramingPattern)
	}
	if _, err := frame.ParseMatchPolicy(c.MatchPolicy); err != nil {
		return err
	}
	if _, err := weight.ParseLayout(c.TokenLayout); err != nil {
		return err
	}
	if c.FixedDivisor <= 0 || math.IsInf(c.FixedDivisor, 0) || math.IsNaN(c.FixedDivisor) {
		return fmt.Errorf("fixed divisor must be finite and positive, got %v", c.FixedDivisor)
	}
	if c.StableStatuses == "" {
		return fmt.Errorf("stable statuses must not be empty")
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// Level returns the configured logging level. The configuration must have
// been validated.
func (c *Config) Level() logger.Level {
	level, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		return logger.InfoLevel
	}

	return level
}

// ToSessionConfig converts the daemon configuration into a session
// configuration. A nil log keeps the session's default logger.
func (c *Config) ToSessionConfig(log logger.Logger) (*scale.SessionConfig, error) {
	extractor, err := c.buildExtractor()
	if err != nil {
		return nil, err
	}

	decoder, err := c.buildDecoder()
	if err != nil {
		return nil, err
	}

	opts := []scale.SessionOption{
		scale.WithReadTimeout(c.ReadTimeout),
		scale.WithPollInterval(c.PollInterval),
		scale.WithRetryDelay(c.RetryDelay),
		scale.WithErrorThreshold(c.ErrorThreshold),
		scale.WithRecoveryPause(c.RecoveryPause),
		scale.WithCloseTimeout(c.CloseTimeout),
		scale.WithProbeTimeout(c.ProbeTimeout),
		scale.WithFreshTimeout(c.FreshTimeout),
		scale.WithExtractor(extractor),
		scale.WithDecoder(decoder),
	}
	if log != nil {
		opts = append(opts, scale.WithLogger(log))
	}

	return scale.NewSessionConfig(c.Port, c.BaudRate, opts...)
}

func (c *Config) buildExtractor() (frame.Extractor, error) {
	switch c.Framing {
	case FramingDelimiter:
		return frame.NewDelimiterExtractor(frame.STX, frame.ETX), nil
	case FramingPattern:
		policy, err := frame.ParseMatchPolicy(c.MatchPolicy)
		if err != nil {
			return nil, err
		}

		return frame.NewPatternExtractor(policy), nil
	default:
		return nil, fmt.Errorf("unknown framing %q", c.Framing)
	}
}

func (c *Config) buildDecoder() (*weight.Decoder, error) {
	layout, err := weight.ParseLayout(c.TokenLayout)
	if err != nil {
		return nil, err
	}

	return weight.NewDecoder(layout,
		weight.WithFixedDivisor(c.FixedDivisor),
		weight.WithStableStatuses(c.StableStatuses),
	)
}
