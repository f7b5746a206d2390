package frame

import "bytes"

const (
	// STX and ETX are the frame markers used by the delimiter-framed
	// indicator variants.
	STX byte = 0x02
	ETX byte = 0x03

	// DefaultMaxFrameLength bounds how many bytes a partial frame may
	// accumulate while waiting for its end marker. A run longer than this
	// without an end marker is treated as noise and dropped.
	DefaultMaxFrameLength = 256
)

// DelimiterExtractor locates frames between a start marker byte and the first
// end marker byte after it. The payload is everything strictly between the
// markers.
//
// Frames are yielded in left-to-right order, one per Extract call. Extracting
// a frame consumes every byte up to and including its end marker, so bytes
// preceding the start marker are discarded as noise. A start marker without an
// end marker is retained as a partial frame until more bytes arrive, up to the
// configured maximum frame length.
type DelimiterExtractor struct {
	start       byte
	end         byte
	maxFrameLen int
}

var _ Extractor = (*DelimiterExtractor)(nil)

// NewDelimiterExtractor creates a DelimiterExtractor with the given frame
// markers and DefaultMaxFrameLength.
func NewDelimiterExtractor(start, end byte) *DelimiterExtractor {
	return NewDelimiterExtractorLimit(start, end, DefaultMaxFrameLength)
}

// NewDelimiterExtractorLimit creates a DelimiterExtractor with an explicit
// partial-frame length limit. A nonpositive limit falls back to
// DefaultMaxFrameLength.
func NewDelimiterExtractorLimit(start, end byte, maxFrameLen int) *DelimiterExtractor {
	if maxFrameLen <= 0 {
		maxFrameLen = DefaultMaxFrameLength
	}

	return &DelimiterExtractor{
		start:       start,
		end:         end,
		maxFrameLen: maxFrameLen,
	}
}

// Extract returns the first complete frame payload in buf.
//
// When no complete frame is present: a buffer without any start marker is all
// noise and the returned rest is empty; a buffer ending in a partial frame
// returns the partial frame (from its start marker) as rest. A payload longer
// than the frame length limit is treated as noise, and scanning resumes after
// its start marker so a genuine frame inside the run is still found.
func (e *DelimiterExtractor) Extract(buf []byte) (string, []byte, bool) {
	work := buf
	for {
		start := bytes.IndexByte(work, e.start)
		if start < 0 {
			// No frame can begin without a start marker.
			return "", nil, false
		}

		rel := bytes.IndexByte(work[start+1:], e.end)
		if rel < 0 {
			if len(work)-(start+1) > e.maxFrameLen {
				// A run this long without an end marker is not a frame.
				// Drop the marker and rescan what follows.
				work = work[start+1:]
				continue
			}

			return "", work[start:], false
		}

		if rel > e.maxFrameLen {
			work = work[start+1:]
			continue
		}

		end := start + 1 + rel

		return string(work[start+1 : end]), work[end+1:], true
	}
}
