package config

import "os"

// ApplyEnv applies WEIGHBRIDGE_* environment variables onto cfg, skipping
// fields whose flags were explicitly set. It returns an error when a
// variable has an invalid format.
func ApplyEnv(cfg *Config, changed map[string]bool) error {
	s := newSetter(changed)

	s.setString("port", os.Getenv("WEIGHBRIDGE_PORT"), &cfg.Port)

	if err := s.setIntFromString("baud", os.Getenv("WEIGHBRIDGE_BAUD_RATE"), &cfg.BaudRate); err != nil {
		return err
	}

	if err := s.setDuration("read-timeout", os.Getenv("WEIGHBRIDGE_READ_TIMEOUT"), &cfg.ReadTimeout); err != nil {
		return err
	}
	if err := s.setDuration("poll-interval", os.Getenv("WEIGHBRIDGE_POLL_INTERVAL"), &cfg.PollInterval); err != nil {
		return err
	}
	if err := s.setDuration("retry-delay", os.Getenv("WEIGHBRIDGE_RETRY_DELAY"), &cfg.RetryDelay); err != nil {
		return err
	}
	if err := s.setDuration("recovery-pause", os.Getenv("WEIGHBRIDGE_RECOVERY_PAUSE"), &cfg.RecoveryPause); err != nil {
		return err
	}
	if err := s.setDuration("close-timeout", os.Getenv("WEIGHBRIDGE_CLOSE_TIMEOUT"), &cfg.CloseTimeout); err != nil {
		return err
	}
	if err := s.setDuration("probe-timeout", os.Getenv("WEIGHBRIDGE_PROBE_TIMEOUT"), &cfg.ProbeTimeout); err != nil {
		return err
	}
	if err := s.setDuration("fresh-timeout", os.Getenv("WEIGHBRIDGE_FRESH_TIMEOUT"), &cfg.FreshTimeout); err != nil {
		return err
	}

	if err := s.setIntFromString("error-threshold", os.Getenv("WEIGHBRIDGE_ERROR_THRESHOLD"), &cfg.ErrorThreshold); err != nil {
		return err
	}

	s.setString("framing", os.Getenv("WEIGHBRIDGE_FRAMING"), &cfg.Framing)
	s.setString("match-policy", os.Getenv("WEIGHBRIDGE_MATCH_POLICY"), &cfg.MatchPolicy)
	s.setString("token-layout", os.Getenv("WEIGHBRIDGE_TOKEN_LAYOUT"), &cfg.TokenLayout)

	if err := s.setFloatFromString("fixed-divisor", os.Getenv("WEIGHBRIDGE_FIXED_DIVISOR"), &cfg.FixedDivisor); err != nil {
		return err
	}

	s.setString("stable-statuses", os.Getenv("WEIGHBRIDGE_STABLE_STATUSES"), &cfg.StableStatuses)

	s.setString("listen", os.Getenv("WEIGHBRIDGE_LISTEN_ADDR"), &cfg.ListenAddr)
	s.setStringsFromString("cors-origins", os.Getenv("WEIGHBRIDGE_CORS_ORIGINS"), &cfg.CORSOrigins)

	s.setString("log-level", os.Getenv("WEIGHBRIDGE_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("error-log", os.Getenv("WEIGHBRIDGE_ERROR_LOG"), &cfg.ErrorLog)

	s.setBoolFromString("watch-config", os.Getenv("WEIGHBRIDGE_WATCH_CONFIG"), &cfg.WatchConfig)

	return nil
}
