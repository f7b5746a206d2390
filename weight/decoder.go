package weight

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// ErrDecodeRejected reports a candidate token that does not encode a reading.
// Every decode failure wraps it.
var ErrDecodeRejected = errors.New("weight: token rejected")

const (
	// DefaultFixedDivisor converts gram magnitudes to kilograms.
	DefaultFixedDivisor = 1000.0

	// DefaultStableStatuses is the status letter set reported as stable by
	// the known indicator variants.
	DefaultStableStatuses = "BC"

	// minDecimalDigitToken is the shortest well-formed token in the
	// decimal-digit layout: sign, six digits, decimal count, status.
	minDecimalDigitToken = 9

	// minFixedDivisorToken is the shortest well-formed token in the
	// fixed-divisor layout: sign, one digit, status.
	minFixedDivisorToken = 3
)

// Layout selects how a token's digits map to a weight value.
type Layout byte

const (
	// LayoutDecimalDigit expects the digit before the status letter to give
	// the number of decimal places: the magnitude divides by 10^count.
	LayoutDecimalDigit Layout = iota
	// LayoutFixedDivisor expects no decimal-count digit; the magnitude
	// divides by a fixed divisor configured for the deployed hardware.
	LayoutFixedDivisor
)

// String returns the configuration name of the layout.
func (l Layout) String() string {
	switch l {
	case LayoutDecimalDigit:
		return "decimal-digit"
	case LayoutFixedDivisor:
		return "fixed-divisor"
	default:
		return fmt.Sprintf("unknown(%d)", byte(l))
	}
}

// ParseLayout converts a configuration name into a Layout.
func ParseLayout(name string) (Layout, error) {
	switch name {
	case "decimal-digit":
		return LayoutDecimalDigit, nil
	case "fixed-divisor":
		return LayoutFixedDivisor, nil
	default:
		return 0, fmt.Errorf("weight: unknown token layout %q", name)
	}
}

// Decoder turns candidate tokens into readings according to a fixed token
// layout, scale rule, and stable status set.
type Decoder struct {
	layout  Layout
	divisor float64
	stable  map[byte]struct{}
}

// DecoderOption adjusts a Decoder under construction.
type DecoderOption func(*Decoder) error

// WithFixedDivisor sets the divisor applied to the digit run in the
// fixed-divisor layout. The divisor must be finite and greater than zero;
// empirical calibration constants such as 12.53 are valid.
func WithFixedDivisor(divisor float64) DecoderOption {
	return func(d *Decoder) error {
		if divisor <= 0 || math.IsInf(divisor, 0) || math.IsNaN(divisor) {
			return fmt.Errorf("weight: fixed divisor must be finite and positive, got %v", divisor)
		}
		d.divisor = divisor

		return nil
	}
}

// WithStableStatuses sets the status letters reported as stable. Matching is
// case-insensitive. The set must contain at least one ASCII letter.
func WithStableStatuses(letters string) DecoderOption {
	return func(d *Decoder) error {
		if letters == "" {
			return errors.New("weight: stable status set is empty")
		}

		set := make(map[byte]struct{}, len(letters))
		for i := 0; i < len(letters); i++ {
			c := letters[i]
			if !isLetter(c) {
				return fmt.Errorf("weight: stable status %q is not an ASCII letter", c)
			}
			set[upper(c)] = struct{}{}
		}
		d.stable = set

		return nil
	}
}

// NewDecoder creates a Decoder for the given layout. Without options it uses
// DefaultFixedDivisor and DefaultStableStatuses.
func NewDecoder(layout Layout, opts ...DecoderOption) (*Decoder, error) {
	if layout > LayoutFixedDivisor {
		return nil, fmt.Errorf("weight: unknown token layout %d", layout)
	}

	d := &Decoder{
		layout:  layout,
		divisor: DefaultFixedDivisor,
	}
	if err := WithStableStatuses(DefaultStableStatuses)(d); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Layout returns the decoder's token layout.
func (d *Decoder) Layout() Layout {
	return d.layout
}

// Divisor returns the fixed divisor used by the fixed-divisor layout.
func (d *Decoder) Divisor() float64 {
	return d.divisor
}

// StableStatuses returns the configured stable status letters in sorted order.
func (d *Decoder) StableStatuses() string {
	letters := make([]byte, 0, len(d.stable))
	for c := range d.stable {
		letters = append(letters, c)
	}
	slices.Sort(letters)

	return string(letters)
}

// Decode turns one candidate token into a Reading.
//
// The returned Reading carries the value, stability flag, and raw token; the
// session assigns ID and ObservedAt when it publishes. All failures wrap
// ErrDecodeRejected.
func (d *Decoder) Decode(token string) (Reading, error) {
	switch d.layout {
	case LayoutFixedDivisor:
		return d.decodeFixedDivisor(token)
	default:
		return d.decodeDecimalDigit(token)
	}
}

func (d *Decoder) decodeDecimalDigit(token string) (Reading, error) {
	if len(token) < minDecimalDigitToken {
		return Reading{}, rejectf(token, "shorter than %d characters", minDecimalDigitToken)
	}

	negative, err := parseSign(token)
	if err != nil {
		return Reading{}, err
	}

	status := token[len(token)-1]
	if !isLetter(status) {
		return Reading{}, rejectf(token, "status %q is not a letter", status)
	}

	countChar := token[len(token)-2]
	if countChar < '0' || countChar > '9' {
		return Reading{}, rejectf(token, "decimal count %q is not a digit", countChar)
	}
	decimals := int(countChar - '0')

	magnitude, err := parseMagnitude(token, token[1:len(token)-2])
	if err != nil {
		return Reading{}, err
	}

	value := float64(magnitude) / math.Pow10(decimals)
	if negative {
		value = -value
	}

	return Reading{
		Kilograms: value,
		Stable:    d.isStable(status),
		RawToken:  token,
	}, nil
}

func (d *Decoder) decodeFixedDivisor(token string) (Reading, error) {
	if len(token) < minFixedDivisorToken {
		return Reading{}, rejectf(token, "shorter than %d characters", minFixedDivisorToken)
	}

	negative, err := parseSign(token)
	if err != nil {
		return Reading{}, err
	}

	status := token[len(token)-1]
	if !isLetter(status) {
		return Reading{}, rejectf(token, "status %q is not a letter", status)
	}

	magnitude, err := parseMagnitude(token, token[1:len(token)-1])
	if err != nil {
		return Reading{}, err
	}

	value := float64(magnitude) / d.divisor
	if negative {
		value = -value
	}

	return Reading{
		Kilograms: value,
		Stable:    d.isStable(status),
		RawToken:  token,
	}, nil
}

func (d *Decoder) isStable(status byte) bool {
	_, ok := d.stable[upper(status)]
	return ok
}

// parseSign reads the leading sign character.
func parseSign(token string) (negative bool, err error) {
	switch token[0] {
	case '+':
		return false, nil
	case '-':
		return true, nil
	default:
		return false, rejectf(token, "sign %q is not + or -", token[0])
	}
}

// parseMagnitude validates the digit run and parses it with leading zeros
// collapsed: an all-zero run is 0, never an empty parse.
func parseMagnitude(token, run string) (uint64, error) {
	if run == "" {
		return 0, rejectf(token, "digit run is empty")
	}
	for i := 0; i < len(run); i++ {
		if run[i] < '0' || run[i] > '9' {
			return 0, rejectf(token, "digit run contains %q", run[i])
		}
	}

	trimmed := strings.TrimLeft(run, "0")
	if trimmed == "" {
		trimmed = "0"
	}

	magnitude, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, rejectf(token, "magnitude overflows")
	}

	return magnitude, nil
}

func rejectf(token, format string, args ...any) error {
	detail := fmt.Sprintf(format, args...)
	return fmt.Errorf("%w: token %q: %s", ErrDecodeRejected, token, detail)
}

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}

	return c
}
