package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/fincasdesk/platform/internal/shared/config"
)

// Sender delivers one notification and returns a delivery id
type Sender interface {
	Send(ctx context.Context, n *Notification) (string, error)
}

// SMTPSender sends plain-text mail
type SMTPSender struct {
	cfg    config.SMTPConfig
	dialer *gomail.Dialer
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

// Send returns the Message-ID of the sent mail
func (s *SMTPSender) Send(ctx context.Context, n *Notification) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", backoff.Permanent(err)
	}
	if n.To == "" {
		return "", backoff.Permanent(fmt.Errorf("no recipient"))
	}
	if n.MessageID == "" {
		n.MessageID = NewMessageID(s.cfg.MessageIDDomain)
	}

	m := s.buildMessage(n)
	if err := s.dialer.DialAndSend(m); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return n.MessageID, nil
}

func (s *SMTPSender) buildMessage(n *Notification) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.cfg.FromAddress, s.cfg.FromName)
	if n.ToName != "" {
		m.SetAddressHeader("To", n.To, n.ToName)
	} else {
		m.SetHeader("To", n.To)
	}
	m.SetHeader("Subject", n.Subject)
	m.SetHeader("Message-ID", n.MessageID)
	if n.InReplyTo != "" {
		m.SetHeader("In-Reply-To", n.InReplyTo)
	}
	if refs := threadReferences(n); len(refs) > 0 {
		m.SetHeader("References", strings.Join(refs, " "))
	}
	m.SetBody("text/plain", n.Body)
	return m
}

// threadReferences appends In-Reply-To to References when it is missing
func threadReferences(n *Notification) []string {
	refs := append([]string(nil), n.References...)
	if n.InReplyTo == "" {
		return refs
	}
	for _, r := range refs {
		if r == n.InReplyTo {
			return refs
		}
	}
	return append(refs, n.InReplyTo)
}

// ChatSender posts messages to a chat gateway
type ChatSender struct {
	url        string
	token      string
	from       string
	httpClient *http.Client
}

func NewChatSender(cfg config.ChatConfig) *ChatSender {
	return &ChatSender{
		url:        strings.TrimRight(cfg.GatewayURL, "/"),
		token:      cfg.Token,
		from:       cfg.From,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
	Body string `json:"body"`
}

type chatResponse struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// Send returns the gateway message id. Client errors are not retried.
func (s *ChatSender) Send(ctx context.Context, n *Notification) (string, error) {
	if n.To == "" {
		return "", backoff.Permanent(fmt.Errorf("no recipient"))
	}

	body, err := json.Marshal(chatRequest{From: s.from, To: n.To, Body: n.Body})
	if err != nil {
		return "", backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var out chatResponse
	_ = json.Unmarshal(raw, &out)

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("chat gateway status %d: %s", resp.StatusCode, out.Error)
	case resp.StatusCode >= 400:
		return "", backoff.Permanent(fmt.Errorf("chat gateway status %d: %s", resp.StatusCode, out.Error))
	}
	if out.ID == "" {
		out.ID = "chat-" + uuid.New().String()
	}
	return out.ID, nil
}

// ConsoleSender writes notifications to the log. Used when no transport is
// configured for a channel.
type ConsoleSender struct {
	channel Channel
	log     *slog.Logger
}

func NewConsoleSender(channel Channel, log *slog.Logger) *ConsoleSender {
	return &ConsoleSender{channel: channel, log: log.With("component", "console_sender")}
}

func (s *ConsoleSender) Send(_ context.Context, n *Notification) (string, error) {
	id := n.MessageID
	if id == "" {
		id = string(s.channel) + "-" + uuid.New().String()
	}
	s.log.Info("notification",
		"channel", s.channel,
		"kind", n.Kind,
		"to", n.To,
		"subject", n.Subject,
		"case_code", n.CaseCode,
		"body", n.Body,
	)
	return id, nil
}
