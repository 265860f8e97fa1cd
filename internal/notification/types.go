package notification

import (
	"time"
)

// Channel is the outbound transport of a notification
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelChat  Channel = "chat"
)

// Kind says why a notification was sent
type Kind string

const (
	KindFollowUp         Kind = "follow_up"
	KindProviderDispatch Kind = "provider_dispatch"
	KindClosure          Kind = "closure"
	KindStatusReply      Kind = "status_reply"
)

// Notification is one outbound message
type Notification struct {
	ID      string  `json:"id"`
	Kind    Kind    `json:"kind"`
	Channel Channel `json:"channel"`

	// Recipient: an email address or a phone number depending on Channel
	To     string `json:"to"`
	ToName string `json:"to_name,omitempty"`

	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`

	// Threading, email only. MessageID is assigned before the first attempt
	// so retries reuse it.
	MessageID  string   `json:"message_id,omitempty"`
	InReplyTo  string   `json:"in_reply_to,omitempty"`
	References []string `json:"references,omitempty"`

	CaseCode  string    `json:"case_code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DeliveryFailure describes a notification that could not be delivered
type DeliveryFailure struct {
	Channel  Channel `json:"channel"`
	To       string  `json:"to"`
	Attempts int     `json:"attempts"`
	Reason   string  `json:"reason"`
}

func (f *DeliveryFailure) Error() string {
	return "delivery via " + string(f.Channel) + " failed: " + f.Reason
}

// Result is the outcome of a delivery. Exactly one of DeliveryID and Failure
// is set.
type Result struct {
	DeliveryID string           `json:"delivery_id,omitempty"`
	Failure    *DeliveryFailure `json:"failure,omitempty"`
}

func (r Result) OK() bool {
	return r.Failure == nil
}
