// Package frame turns an arbitrary serial byte stream into candidate reading
// tokens.
//
// Weighing indicators emit readings either wrapped in control-character
// delimiters (one marker opening the frame, another closing it) or as bare
// text matching a fixed sign-digits-letter pattern. The two disciplines are
// modeled as interchangeable Extractor implementations selected at
// configuration time:
//
//   - DelimiterExtractor retains partial frames across read cycles and
//     discards noise surrounding complete frames.
//   - PatternExtractor matches the reading pattern over the whole buffer and
//     never retains partial state; a reading split across two read cycles is
//     lost. The indicator protocols it serves repeat readings continuously,
//     so the next cycle supplies a fresh one.
//
// Extraction never fails: malformed input yields no token and a well-defined
// residual buffer.
package frame
