package intake

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/fincasdesk/platform/internal/case/domain"
	"github.com/fincasdesk/platform/internal/directory"
	"github.com/fincasdesk/platform/internal/notification"
)

// EmailPayload is what the inbound mail relay posts for each message
type EmailPayload struct {
	MessageID  string    `json:"message_id"`
	From       string    `json:"from"`
	FromName   string    `json:"from_name"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	Text       string    `json:"text"`
	HTML       string    `json:"html"`
	InReplyTo  string    `json:"in_reply_to"`
	References string    `json:"references"`
	ReceivedAt time.Time `json:"received_at"`
}

// ChatPayload holds the form fields of a chat gateway webhook
type ChatPayload struct {
	MessageSid  string
	From        string
	To          string
	Body        string
	ProfileName string
}

// WebForm is a web incident form submission
type WebForm struct {
	Name          string `json:"name"           validate:"required,max=200"`
	Email         string `json:"email"          validate:"required_without=Phone,omitempty,email"`
	Phone         string `json:"phone"          validate:"required_without=Email,omitempty,max=30"`
	CommunityName string `json:"community_name" validate:"max=200"`
	Address       string `json:"address"        validate:"max=300"`
	FloorDoor     string `json:"floor_door"     validate:"max=100"`
	Subject       string `json:"subject"        validate:"required,max=300"`
	Description   string `json:"description"    validate:"required,max=10000"`
	Category      string `json:"category"       validate:"omitempty,oneof=WATER ELEVATOR ELECTRICITY GARAGE_DOOR CLEANING SECURITY OTHER water elevator electricity garage_door cleaning security other"`
	Urgency       string `json:"urgency"        validate:"omitempty,oneof=urgent high medium low"`
}

var (
	textPolicy = bluemonday.StrictPolicy()
	blockTags  = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/li|/tr|/h[1-6])\s*/?>`)
	blankLines = regexp.MustCompile(`\n{3,}`)
	angleAddr  = regexp.MustCompile(`<([^<>@\s]+@[^<>\s]+)>`)
	messageIDs = regexp.MustCompile(`<[^<>\s]+>`)
)

// HTMLToText strips markup from an HTML body, keeping line breaks
func HTMLToText(body string) string {
	withBreaks := blockTags.ReplaceAllString(body, "$0\n")
	text := html.UnescapeString(textPolicy.Sanitize(withBreaks))
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

// parseAddress accepts "Name <a@b>" or a bare address
func parseAddress(raw string) (addr, name string) {
	raw = strings.TrimSpace(raw)
	if m := angleAddr.FindStringSubmatchIndex(raw); m != nil {
		addr = raw[m[2]:m[3]]
		name = strings.Trim(strings.TrimSpace(raw[:m[0]]), `"`)
		return strings.ToLower(addr), name
	}
	return strings.ToLower(raw), ""
}

// parseReferences splits a References header into message ids
func parseReferences(header string) []string {
	return messageIDs.FindAllString(header, -1)
}

// FromEmail converts a relay payload into an inbound message
func FromEmail(p EmailPayload) domain.InboundMessage {
	from, name := parseAddress(p.From)
	if p.FromName != "" {
		name = p.FromName
	}
	to, _ := parseAddress(p.To)

	body := strings.TrimSpace(p.Text)
	if body == "" && p.HTML != "" {
		body = HTMLToText(p.HTML)
	}
	received := p.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}

	return domain.InboundMessage{
		MessageID:      strings.TrimSpace(p.MessageID),
		Channel:        domain.ChannelEmail,
		Subject:        strings.TrimSpace(p.Subject),
		Body:           body,
		HTMLBody:       p.HTML,
		SenderIdentity: from,
		SenderName:     name,
		Recipient:      to,
		ReplyToID:      strings.TrimSpace(p.InReplyTo),
		ReferenceIDs:   parseReferences(p.References),
		ReceivedAt:     received,
	}
}

// FromChat converts a chat webhook into an inbound message
func FromChat(p ChatPayload, channel domain.Channel) domain.InboundMessage {
	return domain.InboundMessage{
		MessageID:      strings.TrimSpace(p.MessageSid),
		Channel:        channel,
		Body:           strings.TrimSpace(p.Body),
		SenderIdentity: directory.NormalizePhone(p.From),
		SenderName:     strings.TrimSpace(p.ProfileName),
		Recipient:      directory.NormalizePhone(p.To),
		ReceivedAt:     time.Now(),
	}
}

// FromWebForm converts a form submission into an inbound message. Forms
// have no message id of their own.
func FromWebForm(f WebForm) domain.InboundMessage {
	email := strings.ToLower(strings.TrimSpace(f.Email))
	phone := directory.NormalizePhone(f.Phone)
	identity := email
	if identity == "" {
		identity = phone
	}

	form := &domain.FormDetails{
		Email:         email,
		Phone:         phone,
		CommunityName: strings.TrimSpace(f.CommunityName),
		Address:       strings.TrimSpace(f.Address),
		FloorDoor:     strings.TrimSpace(f.FloorDoor),
	}
	if f.Category != "" {
		form.Category = domain.ParseCategory(f.Category)
	}
	if f.Urgency != "" {
		form.Priority = domain.ParsePriority(f.Urgency)
	}

	return domain.InboundMessage{
		MessageID:      "web-" + uuid.New().String(),
		Channel:        domain.ChannelWeb,
		Subject:        strings.TrimSpace(f.Subject),
		Body:           strings.TrimSpace(f.Description),
		SenderIdentity: identity,
		SenderName:     strings.TrimSpace(f.Name),
		ReceivedAt:     time.Now(),
		Form:           form,
	}
}

// SelfLoopFilter recognises mail we sent ourselves
type SelfLoopFilter struct {
	FromAddress     string
	MessageIDDomain string
}

// IsOwn is true when the sender is our from-address or the Message-ID was
// generated by us
func (f SelfLoopFilter) IsOwn(msg domain.InboundMessage) bool {
	if msg.Channel != domain.ChannelEmail {
		return false
	}
	if f.FromAddress != "" && strings.EqualFold(msg.SenderIdentity, f.FromAddress) {
		return true
	}
	return notification.IsOwnMessageID(msg.MessageID, f.MessageIDDomain)
}
