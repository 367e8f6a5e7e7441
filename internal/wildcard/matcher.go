package wildcard

import (
	"errors"
	"strings"
)

// ErrInvalidPattern indicates a malformed wildcard pattern.
var ErrInvalidPattern = errors.New("wildcard: invalid pattern")

const (
	// SegmentWildcard matches exactly one segment.
	SegmentWildcard = "*"
	// SuffixWildcard matches zero or more trailing segments. Valid only as
	// the final segment of a pattern.
	SuffixWildcard = "**"
)

// Matches reports whether pattern covers code. Pattern segments are
// dot-delimited; "*" matches exactly one segment at its position and a
// trailing "**" absorbs any number of remaining segments, including zero.
// Comparison is case-insensitive. A malformed pattern matches nothing.
func Matches(pattern, code string) bool {
	pattern = strings.TrimSpace(pattern)
	code = strings.TrimSpace(code)
	if pattern == "" || code == "" {
		return false
	}
	if strings.EqualFold(pattern, code) {
		return true
	}
	if ValidatePattern(pattern) != nil {
		return false
	}

	pSegs := strings.Split(pattern, ".")
	cSegs := strings.Split(code, ".")

	last := len(pSegs) - 1
	if pSegs[last] == SuffixWildcard {
		prefix := pSegs[:last]
		if len(cSegs) < len(prefix) {
			return false
		}
		return segmentsMatch(prefix, cSegs[:len(prefix)])
	}

	if len(pSegs) != len(cSegs) {
		return false
	}
	return segmentsMatch(pSegs, cSegs)
}

// MatchesAny reports whether any of the given patterns covers code.
func MatchesAny(patterns []string, code string) bool {
	for _, p := range patterns {
		if Matches(p, code) {
			return true
		}
	}
	return false
}

// ValidatePattern checks wildcard syntax: non-empty dot-separated segments,
// "**" only in the final position, and no other use of consecutive stars.
func ValidatePattern(pattern string) error {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return ErrInvalidPattern
	}
	segs := strings.Split(pattern, ".")
	for i, seg := range segs {
		if seg == "" {
			return ErrInvalidPattern
		}
		if seg == SuffixWildcard {
			if i != len(segs)-1 {
				return ErrInvalidPattern
			}
			continue
		}
		if strings.Contains(seg, "*") && seg != SegmentWildcard {
			return ErrInvalidPattern
		}
	}
	return nil
}

// IsPattern reports whether value contains any wildcard segment. Concrete
// permission codes return false.
func IsPattern(value string) bool {
	for _, seg := range strings.Split(value, ".") {
		if seg == SegmentWildcard || seg == SuffixWildcard {
			return true
		}
	}
	return false
}

// Normalize trims and lowercases a pattern or code for storage and set
// membership comparisons.
func Normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func segmentsMatch(pattern, code []string) bool {
	for i, seg := range pattern {
		if seg == SegmentWildcard {
			continue
		}
		if !strings.EqualFold(seg, code[i]) {
			return false
		}
	}
	return true
}
