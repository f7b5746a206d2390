package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalewire/go-weighbridge/frame"
	"github.com/scalewire/go-weighbridge/logger"
	"github.com/scalewire/go-weighbridge/scale"
	"github.com/scalewire/go-weighbridge/weight"
)

func TestMain(m *testing.M) {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "error"
	}

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		level = logger.ErrorLevel
	}

	logger.SetLevel(level)

	os.Exit(m.Run())
}

func TestDefault_Valid(t *testing.T) {
	r := require.New(t)
	cfg := Default()

	r.NoError(cfg.Validate())

	assert.Equal(t, "/dev/ttyUSB0", cfg.Port)
	assert.Equal(t, scale.DefaultBaudRate, cfg.BaudRate)
	assert.Equal(t, scale.DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, scale.DefaultErrorThreshold, cfg.ErrorThreshold)
	assert.Equal(t, FramingDelimiter, cfg.Framing)
	assert.Equal(t, "accumulate-all", cfg.MatchPolicy)
	assert.Equal(t, "decimal-digit", cfg.TokenLayout)
	assert.Equal(t, weight.DefaultFixedDivisor, cfg.FixedDivisor)
	assert.Equal(t, weight.DefaultStableStatuses, cfg.StableStatuses)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.WatchConfig)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{"EmptyPort", func(c *Config) { c.Port = "" }, "port is required"},
		{"ZeroBaud", func(c *Config) { c.BaudRate = 0 }, "baud rate must be positive"},
		{"NegativeBaud", func(c *Config) { c.BaudRate = -9600 }, "baud rate must be positive"},
		{"ZeroReadTimeout", func(c *Config) { c.ReadTimeout = 0 }, "read timeout must be positive"},
		{"NegativePollInterval", func(c *Config) { c.PollInterval = -time.Second }, "poll interval must be positive"},
		{"ZeroRetryDelay", func(c *Config) { c.RetryDelay = 0 }, "retry delay must be positive"},
		{"ZeroErrorThreshold", func(c *Config) { c.ErrorThreshold = 0 }, "error threshold must be at least 1"},
		{"NegativeRecoveryPause", func(c *Config) { c.RecoveryPause = -time.Millisecond }, "recovery pause must not be negative"},
		{"ZeroCloseTimeout", func(c *Config) { c.CloseTimeout = 0 }, "close timeout must be positive"},
		{"ZeroProbeTimeout", func(c *Config) { c.ProbeTimeout = 0 }, "probe timeout must be positive"},
		{"ZeroFreshTimeout", func(c *Config) { c.FreshTimeout = 0 }, "fresh timeout must be positive"},
		{"UnknownFraming", func(c *Config) { c.Framing = "csv" }, "unknown framing"},
		{"UnknownMatchPolicy", func(c *Config) { c.MatchPolicy = "every-other" }, "unknown match policy"},
		{"UnknownTokenLayout", func(c *Config) { c.TokenLayout = "bcd" }, "unknown token layout"},
		{"ZeroDivisor", func(c *Config) { c.FixedDivisor = 0 }, "fixed divisor must be finite and positive"},
		{"EmptyStableStatuses", func(c *Config) { c.StableStatuses = "" }, "stable statuses must not be empty"},
		{"EmptyListenAddr", func(c *Config) { c.ListenAddr = "" }, "listen address is required"},
		{"UnknownLogLevel", func(c *Config) { c.LogLevel = "verbose" }, "unknown level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestConfig_ToSessionConfig_Delimiter(t *testing.T) {
	r := require.New(t)

	cfg := Default()
	cfg.Port = "/dev/ttyS3"
	cfg.BaudRate = 19200
	cfg.ReadTimeout = 20 * time.Millisecond
	cfg.PollInterval = 250 * time.Millisecond
	cfg.ErrorThreshold = 7

	sc, err := cfg.ToSessionConfig(nil)
	r.NoError(err)

	assert.Equal(t, "/dev/ttyS3", sc.PortName())
	assert.Equal(t, 19200, sc.BaudRate())
	assert.Equal(t, 20*time.Millisecond, sc.ReadTimeout())
	assert.Equal(t, 250*time.Millisecond, sc.PollInterval())
	assert.Equal(t, 7, sc.ErrorThreshold())

	_, ok := sc.Extractor().(*frame.DelimiterExtractor)
	assert.True(t, ok, "delimiter framing builds a DelimiterExtractor")
	assert.Equal(t, weight.LayoutDecimalDigit, sc.Decoder().Layout())
}

func TestConfig_ToSessionConfig_Pattern(t *testing.T) {
	r := require.New(t)

	cfg := Default()
	cfg.Framing = FramingPattern
	cfg.MatchPolicy = "latest-only"
	cfg.TokenLayout = "fixed-divisor"
	cfg.FixedDivisor = 12.53
	cfg.StableStatuses = "bz"

	sc, err := cfg.ToSessionConfig(nil)
	r.NoError(err)

	pe, ok := sc.Extractor().(*frame.PatternExtractor)
	r.True(ok, "pattern framing builds a PatternExtractor")
	assert.Equal(t, frame.MatchLatestOnly, pe.Policy())

	dec := sc.Decoder()
	assert.Equal(t, weight.LayoutFixedDivisor, dec.Layout())
	assert.InDelta(t, 12.53, dec.Divisor(), 1e-9)
	assert.Equal(t, "BZ", dec.StableStatuses())
}

func TestConfig_ToSessionConfig_Logger(t *testing.T) {
	r := require.New(t)

	cfg := Default()
	log := logger.NewMockLogger()

	sc, err := cfg.ToSessionConfig(log)
	r.NoError(err)
	assert.Same(t, log, sc.GetLogger())
}

func TestConfig_ToSessionConfig_BadPort(t *testing.T) {
	cfg := Default()
	cfg.Port = ""

	_, err := cfg.ToSessionConfig(nil)
	require.Error(t, err)
}

func TestConfig_Level(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "debug"
	assert.Equal(t, logger.DebugLevel, cfg.Level())

	cfg.LogLevel = "warn"
	assert.Equal(t, logger.WarnLevel, cfg.Level())

	// Unvalidated garbage falls back rather than crashing the daemon.
	cfg.LogLevel = "verbose"
	assert.Equal(t, logger.InfoLevel, cfg.Level())
}
