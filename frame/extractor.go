package frame

// Extractor scans an accumulation buffer for candidate reading tokens.
//
// Extract returns the next token, the bytes the caller must retain for the
// next read cycle, and whether a token was found. The returned rest may alias
// buf; the caller owns both and must not reuse buf independently afterwards.
// Callers loop until ok is false to drain a buffer holding several frames.
type Extractor interface {
	Extract(buf []byte) (token string, rest []byte, ok bool)
}
