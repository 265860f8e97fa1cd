package notification

import (
	"strings"

	"github.com/google/uuid"
)

// NewMessageID builds an RFC 5322 Message-ID under our own domain
func NewMessageID(domain string) string {
	return "<" + uuid.New().String() + "@" + domain + ">"
}

// IsOwnMessageID reports whether a Message-ID was generated by NewMessageID
// with the same domain
func IsOwnMessageID(id, domain string) bool {
	if domain == "" {
		return false
	}
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(id)), "@"+strings.ToLower(domain)+">")
}
