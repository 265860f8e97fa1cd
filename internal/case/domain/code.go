package domain

import (
	"crypto/rand"
	"regexp"
	"strings"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// CodePattern matches a full case code
var CodePattern = regexp.MustCompile(`^INC-[A-Z0-9]{6}$`)

var codeInText = regexp.MustCompile(`\[?(INC-[A-Z0-9]{6})\]?`)

// NewCode draws a random INC-XXXXXX code. Uniqueness is the caller's job.
func NewCode() string {
	const limit = 252 // largest multiple of 36 below 256
	out := make([]byte, 0, 6)
	buf := make([]byte, 16)
	for len(out) < 6 {
		if _, err := rand.Read(buf); err != nil {
			panic(err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == 6 {
				break
			}
		}
	}
	return "INC-" + string(out)
}

// FindCode extracts the first case code mentioned in text
func FindCode(text string) (string, bool) {
	m := codeInText.FindStringSubmatch(strings.ToUpper(text))
	if m == nil {
		return "", false
	}
	return m[1], true
}
