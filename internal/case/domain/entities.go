package domain

import (
	"strings"
	"time"

	"github.com/fincasdesk/platform/internal/shared/types"
)

// Actors recorded on case events
const (
	ActorSystem = "SYSTEM"
	ActorAI     = "AI Agent"
)

// EventType tags a case timeline entry
type EventType string

const (
	EventCaseCreated                EventType = "CASE_CREATED"
	EventStatusChanged              EventType = "STATUS_CHANGED"
	EventMessageReceived            EventType = "MESSAGE_RECEIVED"
	EventInfoRequested              EventType = "INFO_REQUESTED"
	EventInfoRequestFailed          EventType = "INFO_REQUEST_FAILED"
	EventProviderAssigned           EventType = "PROVIDER_ASSIGNED"
	EventProviderNotified           EventType = "PROVIDER_NOTIFIED"
	EventProviderNotificationFailed EventType = "PROVIDER_NOTIFICATION_FAILED"
	EventProviderReply              EventType = "PROVIDER_REPLY"
	EventStatusReplied              EventType = "STATUS_REPLIED"
	EventClosureNotified            EventType = "CLOSURE_NOTIFIED"
	EventClosureNotificationFailed  EventType = "CLOSURE_NOTIFICATION_FAILED"
	EventEscalated                  EventType = "ESCALATED"
	EventCaseClosed                 EventType = "CASE_CLOSED"
	EventAnalysisDegraded           EventType = "ANALYSIS_DEGRADED"
)

// ChangesStatus is true for event types that accompany a status change
func (t EventType) ChangesStatus() bool {
	switch t {
	case EventStatusChanged, EventProviderAssigned, EventEscalated, EventCaseClosed:
		return true
	}
	return false
}

// BusType is the event bus type, e.g. case.status_changed
func (t EventType) BusType() string {
	return "case." + strings.ToLower(string(t))
}

// CaseEvent is an append-only entry in the case timeline
type CaseEvent struct {
	ID          types.ID       `json:"id"`
	CaseID      types.ID       `json:"case_id"`
	Type        EventType      `json:"type"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
	Actor       string         `json:"actor"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Direction of a stored message
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// Message is an inbound or outbound message owned by a case
type Message struct {
	ID         types.ID  `json:"id"`
	CaseID     types.ID  `json:"case_id"`
	ExternalID string    `json:"external_id"`
	InReplyTo  string    `json:"in_reply_to,omitempty"`
	References []string  `json:"references,omitempty"`
	Direction  Direction `json:"direction"`
	Channel    Channel   `json:"channel"`
	From       string    `json:"from"`
	FromName   string    `json:"from_name,omitempty"`
	To         string    `json:"to"`
	Subject    string    `json:"subject,omitempty"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// InboundMessage is the channel-agnostic form every adapter produces
type InboundMessage struct {
	MessageID      string    `json:"message_id"`
	Channel        Channel   `json:"channel"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	HTMLBody       string    `json:"html_body,omitempty"`
	SenderIdentity string    `json:"sender_identity"`
	SenderName     string    `json:"sender_name,omitempty"`
	Recipient      string    `json:"recipient,omitempty"`
	ReplyToID      string    `json:"reply_to_id,omitempty"`
	ReferenceIDs   []string  `json:"reference_ids,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`

	// Form is only set for web submissions
	Form *FormDetails `json:"form,omitempty"`
}

// FormDetails carries the structured fields of a web submission
type FormDetails struct {
	Email         string   `json:"email"`
	Phone         string   `json:"phone"`
	CommunityName string   `json:"community_name,omitempty"`
	Address       string   `json:"address,omitempty"`
	FloorDoor     string   `json:"floor_door,omitempty"`
	Category      Category `json:"category,omitempty"`
	Priority      Priority `json:"priority,omitempty"`
}

// ToMessage converts the inbound message into a stored message for caseID
func (m InboundMessage) ToMessage(caseID types.ID) *Message {
	return &Message{
		ID:         types.NewID(),
		CaseID:     caseID,
		ExternalID: m.MessageID,
		InReplyTo:  m.ReplyToID,
		References: m.ReferenceIDs,
		Direction:  DirectionInbound,
		Channel:    m.Channel,
		From:       m.SenderIdentity,
		FromName:   m.SenderName,
		To:         m.Recipient,
		Subject:    m.Subject,
		Body:       m.Body,
		ReceivedAt: m.ReceivedAt,
	}
}

// Placeholder identities for reporters reached only by phone
const PlaceholderEmailDomain = "wa.placeholder.com"

// PlaceholderEmail builds the synthetic address for a phone-only reporter
func PlaceholderEmail(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	return "whatsapp_" + digits + "@" + PlaceholderEmailDomain
}

func IsPlaceholderEmail(email string) bool {
	return strings.HasSuffix(strings.ToLower(email), "@"+PlaceholderEmailDomain)
}
