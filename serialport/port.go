package serialport

import (
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	// ErrPortClosed indicates an operation on a port that has been closed.
	ErrPortClosed = errors.New("serialport: port closed")
	// ErrInvalidConfig indicates line settings the device cannot accept.
	ErrInvalidConfig = errors.New("serialport: invalid config")
)

// Parity is the parity discipline of the serial line.
type Parity byte

const (
	// ParityNone disables the parity bit.
	ParityNone Parity = iota
	// ParityOdd sets odd parity.
	ParityOdd
	// ParityEven sets even parity.
	ParityEven
)

// StopBits is the number of stop bits on the serial line.
type StopBits byte

const (
	// OneStopBit uses a single stop bit.
	OneStopBit StopBits = iota
	// OnePointFiveStopBits uses 1.5 stop bits.
	OnePointFiveStopBits
	// TwoStopBits uses two stop bits.
	TwoStopBits
)

// Config holds the line settings used to open a port.
type Config struct {
	BaudRate int
	DataBits int
	Parity   Parity
	StopBits StopBits
}

// DefaultConfig returns 8N1 line settings at the given baud rate, the framing
// every supported indicator variant uses.
func DefaultConfig(baudRate int) Config {
	return Config{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   ParityNone,
		StopBits: OneStopBit,
	}
}

// Validate reports whether the config describes an openable line setting.
func (c *Config) Validate() error {
	if c.BaudRate <= 0 {
		return fmt.Errorf("%w: baud rate %d", ErrInvalidConfig, c.BaudRate)
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("%w: data bits %d", ErrInvalidConfig, c.DataBits)
	}
	if c.Parity > ParityEven {
		return fmt.Errorf("%w: parity %d", ErrInvalidConfig, c.Parity)
	}
	if c.StopBits > TwoStopBits {
		return fmt.Errorf("%w: stop bits %d", ErrInvalidConfig, c.StopBits)
	}

	return nil
}

// Port is the device handle contract the reading pipeline depends on.
//
// Read honors the timeout installed by SetReadTimeout: when no data arrives
// within the timeout, Read returns (0, nil). Implementations must make Close
// safe to call concurrently with a blocked Read, unblocking it.
type Port interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds every subsequent Read call.
	SetReadTimeout(d time.Duration) error

	// ResetInputBuffer discards bytes received by the device but not yet read.
	ResetInputBuffer() error
}

// Opener opens the named serial device with the given line settings.
// The production implementation is Open; tests substitute one backed by
// a MockPort.
type Opener func(name string, cfg Config) (Port, error)
