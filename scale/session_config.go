package scale

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scalewire/go-weighbridge/frame"
	"github.com/scalewire/go-weighbridge/logger"
	"github.com/scalewire/go-weighbridge/serialport"
	"github.com/scalewire/go-weighbridge/weight"
)

// Default session tunables.
const (
	DefaultBaudRate = 9600

	// DefaultReadTimeout bounds each device read. Indicators stream several
	// frames per second, so tens of milliseconds keeps the loop responsive
	// to its stop signal without starving throughput.
	DefaultReadTimeout = 50 * time.Millisecond

	// DefaultPollInterval is the idle sleep after a read cycle that yielded
	// no bytes, and the per-read step of bounded ReadOnce calls.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultRetryDelay is the pause after a single device error before the
	// continuous loop reads again.
	DefaultRetryDelay = 100 * time.Millisecond

	// DefaultErrorThreshold is the consecutive device-error count that
	// fails the session and triggers recovery.
	DefaultErrorThreshold = 5

	DefaultCloseTimeout  = 3 * time.Second
	DefaultRecoveryPause = 500 * time.Millisecond
	DefaultProbeTimeout  = 1 * time.Second
	DefaultFreshTimeout  = 2 * time.Second
	DefaultReadChunkSize = 256
)

// Tunable range limits.
const (
	MinReadTimeout = time.Millisecond
	MaxReadTimeout = 10 * time.Second

	MinPollInterval = time.Millisecond
	MaxPollInterval = 10 * time.Second

	MaxErrorThreshold = 100
)

// SessionConfig holds all configuration for a weighing-indicator session.
type SessionConfig struct {
	portName string
	baudRate int

	readTimeout  time.Duration
	pollInterval time.Duration
	retryDelay   time.Duration

	errorThreshold int

	closeTimeout  time.Duration
	recoveryPause time.Duration
	probeTimeout  time.Duration
	freshTimeout  time.Duration

	readChunkSize int

	extractor frame.Extractor
	decoder   *weight.Decoder

	opener serialport.Opener

	logger logger.Logger
}

// NewSessionConfig creates a session configuration for the named serial
// device at the given baud rate.
//
// The line always opens with 8 data bits, no parity and one stop bit, the
// framing every supported indicator uses. opts are functional options
// applied in order; see With* functions.
func NewSessionConfig(portName string, baudRate int, opts ...SessionOption) (*SessionConfig, error) {
	if strings.TrimSpace(portName) == "" {
		return nil, errors.New("scale: port name is empty")
	}
	if baudRate <= 0 {
		return nil, fmt.Errorf("scale: baud rate %d must be positive", baudRate)
	}

	decoder, err := weight.NewDecoder(weight.LayoutDecimalDigit)
	if err != nil {
		return nil, err
	}

	cfg := &SessionConfig{
		portName:       portName,
		baudRate:       baudRate,
		readTimeout:    DefaultReadTimeout,
		pollInterval:   DefaultPollInterval,
		retryDelay:     DefaultRetryDelay,
		errorThreshold: DefaultErrorThreshold,
		closeTimeout:   DefaultCloseTimeout,
		recoveryPause:  DefaultRecoveryPause,
		probeTimeout:   DefaultProbeTimeout,
		freshTimeout:   DefaultFreshTimeout,
		readChunkSize:  DefaultReadChunkSize,
		extractor:      frame.NewDelimiterExtractor(frame.STX, frame.ETX),
		decoder:        decoder,
		opener:         serialport.Open,
		logger:         logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// --- Getters ---

// PortName returns the serial device identifier.
func (cfg *SessionConfig) PortName() string { return cfg.portName }

// BaudRate returns the configured baud rate.
func (cfg *SessionConfig) BaudRate() int { return cfg.baudRate }

// ReadTimeout returns the bound installed on every device read.
func (cfg *SessionConfig) ReadTimeout() time.Duration { return cfg.readTimeout }

// PollInterval returns the idle sleep between empty read cycles.
func (cfg *SessionConfig) PollInterval() time.Duration { return cfg.pollInterval }

// RetryDelay returns the pause after a single device error.
func (cfg *SessionConfig) RetryDelay() time.Duration { return cfg.retryDelay }

// ErrorThreshold returns the consecutive device-error count that fails the
// session.
func (cfg *SessionConfig) ErrorThreshold() int { return cfg.errorThreshold }

// CloseTimeout returns the grace period for the read loop to stop.
func (cfg *SessionConfig) CloseTimeout() time.Duration { return cfg.closeTimeout }

// RecoveryPause returns the pause between device close and reopen during
// recovery.
func (cfg *SessionConfig) RecoveryPause() time.Duration { return cfg.recoveryPause }

// ProbeTimeout returns the bound for the health probe's fresh read.
func (cfg *SessionConfig) ProbeTimeout() time.Duration { return cfg.probeTimeout }

// FreshTimeout returns the default bound for Fresh when the caller passes
// a nonpositive timeout.
func (cfg *SessionConfig) FreshTimeout() time.Duration { return cfg.freshTimeout }

// ReadChunkSize returns the size of the buffer handed to each device read.
func (cfg *SessionConfig) ReadChunkSize() int { return cfg.readChunkSize }

// Extractor returns the configured framing strategy.
func (cfg *SessionConfig) Extractor() frame.Extractor { return cfg.extractor }

// Decoder returns the configured reading decoder.
func (cfg *SessionConfig) Decoder() *weight.Decoder { return cfg.decoder }

// GetLogger returns the configured logger.
func (cfg *SessionConfig) GetLogger() logger.Logger { return cfg.logger }

// --- SessionOption ---

// SessionOption is a functional option for configuring a SessionConfig.
type SessionOption interface {
	apply(*SessionConfig) error
}

type sessionOptFunc func(*SessionConfig) error

func (f sessionOptFunc) apply(cfg *SessionConfig) error { return f(cfg) }

// WithReadTimeout sets the bound installed on every device read.
func WithReadTimeout(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if d < MinReadTimeout || d > MaxReadTimeout {
			return fmt.Errorf("scale: read timeout %v out of range [%v, %v]", d, MinReadTimeout, MaxReadTimeout)
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithPollInterval sets the idle sleep between empty read cycles and the
// per-read step of bounded ReadOnce calls.
func WithPollInterval(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if d < MinPollInterval || d > MaxPollInterval {
			return fmt.Errorf("scale: poll interval %v out of range [%v, %v]", d, MinPollInterval, MaxPollInterval)
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithRetryDelay sets the pause after a single device error before the
// continuous loop reads again.
func WithRetryDelay(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if d <= 0 {
			return errors.New("scale: retry delay must be positive")
		}
		cfg.retryDelay = d

		return nil
	})
}

// WithErrorThreshold sets the consecutive device-error count that fails the
// session and triggers recovery.
func WithErrorThreshold(n int) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if n < 1 || n > MaxErrorThreshold {
			return fmt.Errorf("scale: error threshold %d out of range [1, %d]", n, MaxErrorThreshold)
		}
		cfg.errorThreshold = n

		return nil
	})
}

// WithCloseTimeout sets the grace period for the read loop to stop.
func WithCloseTimeout(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if d <= 0 {
			return errors.New("scale: close timeout must be positive")
		}
		cfg.closeTimeout = d

		return nil
	})
}

// WithRecoveryPause sets the pause between device close and reopen during
// recovery.
func WithRecoveryPause(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if d < 0 {
			return errors.New("scale: recovery pause must not be negative")
		}
		cfg.recoveryPause = d

		return nil
	})
}

// WithProbeTimeout sets the bound for the health probe's fresh read.
func WithProbeTimeout(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if d <= 0 {
			return errors.New("scale: probe timeout must be positive")
		}
		cfg.probeTimeout = d

		return nil
	})
}

// WithFreshTimeout sets the default bound for Fresh when the caller passes
// a nonpositive timeout.
func WithFreshTimeout(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if d <= 0 {
			return errors.New("scale: fresh timeout must be positive")
		}
		cfg.freshTimeout = d

		return nil
	})
}

// WithReadChunkSize sets the size of the buffer handed to each device read.
func WithReadChunkSize(size int) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if size < 1 {
			return errors.New("scale: read chunk size must be >= 1")
		}
		cfg.readChunkSize = size

		return nil
	})
}

// WithExtractor sets the framing strategy used on accumulated bytes.
func WithExtractor(e frame.Extractor) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if e == nil {
			return errors.New("scale: extractor must not be nil")
		}
		cfg.extractor = e

		return nil
	})
}

// WithDecoder sets the reading decoder applied to extracted tokens.
func WithDecoder(d *weight.Decoder) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if d == nil {
			return errors.New("scale: decoder must not be nil")
		}
		cfg.decoder = d

		return nil
	})
}

// WithOpener sets the function used to acquire the device handle. Tests
// substitute one backed by a serialport.MockPort.
func WithOpener(open serialport.Opener) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if open == nil {
			return errors.New("scale: opener must not be nil")
		}
		cfg.opener = open

		return nil
	})
}

// WithLogger sets the logger for the session.
func WithLogger(l logger.Logger) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if l == nil {
			return errors.New("scale: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
