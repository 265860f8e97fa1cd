package directory

import (
	"strings"
	"time"

	"github.com/fincasdesk/platform/internal/case/domain"
	"github.com/fincasdesk/platform/internal/shared/textnorm"
	"github.com/fincasdesk/platform/internal/shared/types"
)

// Reporter is a resident or owner who reports incidents
type Reporter struct {
	ID             types.ID `json:"id"`
	Email          string   `json:"email,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	Name           string   `json:"name"`
	PhoneSecondary string   `json:"phone_secondary,omitempty"`
	CommunityName  string   `json:"community_name,omitempty"`
	Address        string   `json:"address,omitempty"`
	FloorDoor      string   `json:"floor_door,omitempty"`
	IsActive       bool     `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasStubName reports whether the name is still the one generated at
// creation time from the contact identity.
func (r *Reporter) HasStubName() bool {
	if r.Name == "" {
		return true
	}
	if r.Email != "" && !domain.IsPlaceholderEmail(r.Email) && r.Name == emailLocalPart(r.Email) {
		return true
	}
	return r.Phone != "" && r.Name == phoneStubName(r.Phone)
}

// ContactEmail returns the reporter email unless it is a placeholder
func (r *Reporter) ContactEmail() string {
	if domain.IsPlaceholderEmail(r.Email) {
		return ""
	}
	return r.Email
}

// Provider is a maintenance company serving one category
type Provider struct {
	ID             types.ID        `json:"id"`
	Name           string          `json:"name"`
	ContactPerson  string          `json:"contact_person,omitempty"`
	Category       domain.Category `json:"category"`
	Email          string          `json:"email,omitempty"`
	Phone          string          `json:"phone,omitempty"`
	PhoneEmergency string          `json:"phone_emergency,omitempty"`
	IsDefault      bool            `json:"is_default"`
	IsActive       bool            `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IdentityKind tells email identities from phone identities
type IdentityKind string

const (
	IdentityEmail IdentityKind = "email"
	IdentityPhone IdentityKind = "phone"
)

// Identity is a normalised contact identity
type Identity struct {
	Kind  IdentityKind
	Value string
}

// ParseIdentity classifies raw as an email address or a phone number and
// normalises it.
func ParseIdentity(raw string) Identity {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "@") {
		return Identity{Kind: IdentityEmail, Value: strings.ToLower(strings.TrimPrefix(raw, "mailto:"))}
	}
	return Identity{Kind: IdentityPhone, Value: NormalizePhone(raw)}
}

// NormalizePhone strips the chat-gateway prefix and formatting characters.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "whatsapp:")
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, raw)
}

// PhoneVariants returns the stored forms a phone may have been saved under.
func PhoneVariants(phone string) []string {
	phone = NormalizePhone(phone)
	if phone == "" {
		return nil
	}
	if bare, ok := strings.CutPrefix(phone, "+"); ok {
		return []string{phone, bare}
	}
	return []string{phone, "+" + phone}
}

func emailLocalPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

func phoneStubName(phone string) string {
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) > 4 {
		digits = digits[len(digits)-4:]
	}
	return "WhatsApp " + digits
}

// roomNames are values the extractor sometimes returns as a location that
// are not a floor or door.
var roomNames = []string{
	"bano", "cocina", "salon", "dormitorio", "habitacion", "terraza",
	"balcon", "pasillo", "comedor", "aseo", "lavabo", "despensa", "trastero",
}

// IsValidFloorDoor rejects empty values and values naming a room.
func IsValidFloorDoor(value string) bool {
	if strings.TrimSpace(value) == "" {
		return false
	}
	_, isRoom := textnorm.ContainsAny(value, roomNames)
	return !isRoom
}
