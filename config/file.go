package config

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to keep the TOML
// file human-editable.
type FileConfig struct {
	Port           string `toml:"port"`
	BaudRate       int    `toml:"baud_rate"`
	ReadTimeout    string `toml:"read_timeout"`
	PollInterval   string `toml:"poll_interval"`
	RetryDelay     string `toml:"retry_delay"`
	ErrorThreshold int    `toml:"error_threshold"`
	RecoveryPause  string `toml:"recovery_pause"`
	CloseTimeout   string `toml:"close_timeout"`
	ProbeTimeout   string `toml:"probe_timeout"`
	FreshTimeout   string `toml:"fresh_timeout"`

	Framing        string  `toml:"framing"`
	MatchPolicy    string  `toml:"match_policy"`
	TokenLayout    string  `toml:"token_layout"`
	FixedDivisor   float64 `toml:"fixed_divisor"`
	StableStatuses string  `toml:"stable_statuses"`

	ListenAddr  string   `toml:"listen_addr"`
	CORSOrigins []string `toml:"cors_origins"`

	LogLevel string `toml:"log_level"`
	ErrorLog string `toml:"error_log"`

	WatchConfig *bool `toml:"watch_config"`
}

// LoadFile reads and parses a TOML config file.
func LoadFile(path string) (FileConfig, error) {
	var fc FileConfig

	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}

	return fc, nil
}

// DefaultPath returns the default configuration file path,
// ~/.weighbridge/config.toml, or "" when the home directory is unknown.
func DefaultPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".weighbridge", "config.toml")
	}

	return ""
}

// Exists reports whether a file exists at the given path.
func Exists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}

// ApplyFile applies file values onto cfg, skipping fields whose flags were
// explicitly set.
func ApplyFile(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newSetter(changed)

	s.setString("port", fc.Port, &cfg.Port)
	s.setInt("baud", fc.BaudRate, &cfg.BaudRate)

	if err := s.setDuration("read-timeout", fc.ReadTimeout, &cfg.ReadTimeout); err != nil {
		return err
	}
	if err := s.setDuration("poll-interval", fc.PollInterval, &cfg.PollInterval); err != nil {
		return err
	}
	if err := s.setDuration("retry-delay", fc.RetryDelay, &cfg.RetryDelay); err != nil {
		return err
	}
	if err := s.setDuration("recovery-pause", fc.RecoveryPause, &cfg.RecoveryPause); err != nil {
		return err
	}
	if err := s.setDuration("close-timeout", fc.CloseTimeout, &cfg.CloseTimeout); err != nil {
		return err
	}
	if err := s.setDuration("probe-timeout", fc.ProbeTimeout, &cfg.ProbeTimeout); err != nil {
		return err
	}
	if err := s.setDuration("fresh-timeout", fc.FreshTimeout, &cfg.FreshTimeout); err != nil {
		return err
	}

	s.setInt("error-threshold", fc.ErrorThreshold, &cfg.ErrorThreshold)

	s.setString("framing", fc.Framing, &cfg.Framing)
	s.setString("match-policy", fc.MatchPolicy, &cfg.MatchPolicy)
	s.setString("token-layout", fc.TokenLayout, &cfg.TokenLayout)
	s.setFloat("fixed-divisor", fc.FixedDivisor, &cfg.FixedDivisor)
	s.setString("stable-statuses", fc.StableStatuses, &cfg.StableStatuses)

	s.setString("listen", fc.ListenAddr, &cfg.ListenAddr)
	s.setStrings("cors-origins", fc.CORSOrigins, &cfg.CORSOrigins)

	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("error-log", fc.ErrorLog, &cfg.ErrorLog)

	s.setBool("watch-config", fc.WatchConfig, &cfg.WatchConfig)

	return nil
}
