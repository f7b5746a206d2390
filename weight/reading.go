// Package weight decodes candidate tokens from a weighing indicator into
// signed, scaled weight readings.
//
// Tokens have the shape sign, digit run, optional decimal-place-count digit,
// status letter. Which shape applies, and how the digit run scales to
// kilograms, varies between indicator protocol variants; the Decoder binds
// those choices at configuration time instead of inferring them from data.
//
// Decoding never panics: every malformed token resolves to an
// ErrDecodeRejected-wrapped error.
package weight

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Reading is one decoded weight observation.
//
// A Reading is immutable once constructed. Kilograms is always finite, and
// RawToken is the exact candidate token that produced the value.
type Reading struct {
	// ID identifies the published reading. The session assigns a monotonic
	// ULID at publish time, so clients polling the cache can tell whether two
	// responses carry the same observation.
	ID ulid.ULID `json:"id"`
	// Kilograms is the signed weight.
	Kilograms float64 `json:"kilograms"`
	// Stable reports whether the indicator flagged the value as settled.
	Stable bool `json:"stable"`
	// RawToken is the exact token the value decoded from.
	RawToken string `json:"raw_token"`
	// ObservedAt is when the session published the reading.
	ObservedAt time.Time `json:"observed_at"`
}
