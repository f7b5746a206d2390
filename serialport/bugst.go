package serialport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Open acquires exclusive access to the named serial device.
//
// Open conforms to the Opener signature.
func Open(name string, cfg Config) (Port, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   parityMode(cfg.Parity),
		StopBits: stopBitsMode(cfg.StopBits),
	}

	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", name, err)
	}

	return &devicePort{name: name, port: p}, nil
}

// devicePort adapts a go.bug.st/serial port to the Port contract, attaching
// the device name to every error.
type devicePort struct {
	name string
	port serial.Port
}

var _ Port = (*devicePort)(nil)

func (p *devicePort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if err != nil {
		return n, fmt.Errorf("serialport: read %s: %w", p.name, err)
	}

	return n, nil
}

func (p *devicePort) Write(b []byte) (int, error) {
	n, err := p.port.Write(b)
	if err != nil {
		return n, fmt.Errorf("serialport: write %s: %w", p.name, err)
	}

	return n, nil
}

func (p *devicePort) Close() error {
	if err := p.port.Close(); err != nil {
		return fmt.Errorf("serialport: close %s: %w", p.name, err)
	}

	return nil
}

func (p *devicePort) SetReadTimeout(d time.Duration) error {
	if err := p.port.SetReadTimeout(d); err != nil {
		return fmt.Errorf("serialport: set read timeout %s: %w", p.name, err)
	}

	return nil
}

func (p *devicePort) ResetInputBuffer() error {
	if err := p.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("serialport: reset input buffer %s: %w", p.name, err)
	}

	return nil
}

func parityMode(p Parity) serial.Parity {
	switch p {
	case ParityOdd:
		return serial.OddParity
	case ParityEven:
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}

func stopBitsMode(s StopBits) serial.StopBits {
	switch s {
	case OnePointFiveStopBits:
		return serial.OnePointFiveStopBits
	case TwoStopBits:
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}
