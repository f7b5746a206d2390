package frame

import (
	"bytes"
	"fmt"
	"regexp"
)

// DefaultPattern matches one reading token: a sign character, one or more
// digits, and one status letter (either case).
const DefaultPattern = `[+-][0-9]+[A-Za-z]`

// MatchPolicy selects which token Extract yields when a buffer holds several
// pattern matches.
type MatchPolicy byte

const (
	// MatchFirstOnly yields the first match and ignores the rest.
	MatchFirstOnly MatchPolicy = iota
	// MatchAccumulateAll yields every match concatenated in order as one
	// candidate token.
	MatchAccumulateAll
	// MatchLatestOnly yields only the most recent match, superseding earlier
	// ones in the same buffer.
	MatchLatestOnly
)

// String returns the configuration name of the policy.
func (p MatchPolicy) String() string {
	switch p {
	case MatchFirstOnly:
		return "first-only"
	case MatchAccumulateAll:
		return "accumulate-all"
	case MatchLatestOnly:
		return "latest-only"
	default:
		return fmt.Sprintf("unknown(%d)", byte(p))
	}
}

// ParseMatchPolicy converts a configuration name into a MatchPolicy.
func ParseMatchPolicy(name string) (MatchPolicy, error) {
	switch name {
	case "first-only":
		return MatchFirstOnly, nil
	case "accumulate-all":
		return MatchAccumulateAll, nil
	case "latest-only":
		return MatchLatestOnly, nil
	default:
		return 0, fmt.Errorf("frame: unknown match policy %q", name)
	}
}

// PatternExtractor scans buffer text for reading tokens of the form
// sign-digits-letter and reduces the matches through its MatchPolicy.
//
// Pattern framing never retains partial state: Extract consumes the whole
// buffer unconditionally, match or not.
type PatternExtractor struct {
	re     *regexp.Regexp
	policy MatchPolicy
}

var _ Extractor = (*PatternExtractor)(nil)

// NewPatternExtractor creates a PatternExtractor using DefaultPattern.
func NewPatternExtractor(policy MatchPolicy) *PatternExtractor {
	return &PatternExtractor{
		re:     regexp.MustCompile(DefaultPattern),
		policy: policy,
	}
}

// Policy returns the extractor's match policy.
func (e *PatternExtractor) Policy() MatchPolicy {
	return e.policy
}

// Extract scans buf for pattern matches and yields at most one candidate
// token per call. The returned rest is always empty.
func (e *PatternExtractor) Extract(buf []byte) (string, []byte, bool) {
	matches := e.re.FindAll(buf, -1)
	if len(matches) == 0 {
		return "", nil, false
	}

	switch e.policy {
	case MatchAccumulateAll:
		return string(bytes.Join(matches, nil)), nil, true
	case MatchLatestOnly:
		return string(matches[len(matches)-1]), nil, true
	default:
		return string(matches[0]), nil, true
	}
}
