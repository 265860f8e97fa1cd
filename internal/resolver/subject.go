package resolver

import (
	"regexp"
	"strings"
)

var (
	replyPrefix = regexp.MustCompile(`(?i)^\s*(re|fw|fwd|rv|res|aw|tr)\s*:\s*`)
	codeTag     = regexp.MustCompile(`(?i)\[?inc-[a-z0-9]{6}\]?`)
	spaces      = regexp.MustCompile(`\s+`)
)

// minOverlap is the shortest normalised subject that may match by containment
const minOverlap = 10

// NormalizeSubject strips reply and forward prefixes and case codes, and
// lowercases the rest
func NormalizeSubject(subject string) string {
	s := codeTag.ReplaceAllString(subject, " ")
	for {
		stripped := replyPrefix.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	return strings.ToLower(strings.TrimSpace(spaces.ReplaceAllString(s, " ")))
}

// SubjectsMatch compares two normalised subjects: equal, or one contains the
// other and the shorter is longer than minOverlap
func SubjectsMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	return len([]rune(shorter)) > minOverlap && strings.Contains(longer, shorter)
}
