// Package resolver decides whether an inbound message belongs to an open
// case or opens a new one.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fincasdesk/platform/internal/case/domain"
	"github.com/fincasdesk/platform/internal/shared/config"
	apperrors "github.com/fincasdesk/platform/internal/shared/errors"
	"github.com/fincasdesk/platform/internal/shared/metrics"
	"github.com/fincasdesk/platform/internal/shared/types"
)

// Rule names the resolution rule that produced a decision
type Rule string

const (
	RuleCaseCode          Rule = "case_code"
	RuleClosedCaseCode    Rule = "closed_case_code"
	RuleReplyTo           Rule = "reply_to"
	RuleReferences        Rule = "references"
	RuleSameSender        Rule = "same_sender"
	RuleNewCommand        Rule = "new_incident_command"
	RuleOpenConversation  Rule = "open_conversation"
	RuleStaleConversation Rule = "stale_conversation"
	RuleDifferentIncident Rule = "different_incident"
	RuleAlwaysNew         Rule = "always_new"
	RuleNoMatch           Rule = "no_match"
)

// Decision is the outcome of resolving one inbound message. A nil Case
// means a new case must be opened.
type Decision struct {
	Case   *domain.Case
	Rule   Rule
	Reason string
}

// IsNew reports whether the message opens a new case
func (d Decision) IsNew() bool {
	return d.Case == nil
}

func attach(c *domain.Case, rule Rule, reason string) Decision {
	return Decision{Case: c, Rule: rule, Reason: reason}
}

func openNew(rule Rule, reason string) Decision {
	return Decision{Rule: rule, Reason: reason}
}

// Strategy resolves messages of one channel family
type Strategy interface {
	Resolve(ctx context.Context, msg domain.InboundMessage) (Decision, error)
}

// IncidentClassifier tells whether a chat reply describes a different
// problem than the case it would be attached to
type IncidentClassifier interface {
	IsNewIncident(ctx context.Context, c *domain.Case, message string) (bool, string)
}

// Config holds the resolution windows
type Config struct {
	EmailStaleAfter  time.Duration
	SameSenderWindow time.Duration
	ChatFreshness    time.Duration

	// MessageIDDomain marks Message-IDs generated by our own outbound mail
	MessageIDDomain string
}

// NewConfig builds the resolver configuration from the application config
func NewConfig(intake config.IntakeConfig, smtp config.SMTPConfig) Config {
	return Config{
		EmailStaleAfter:  intake.EmailStaleAfter,
		SameSenderWindow: intake.SameSenderWindow,
		ChatFreshness:    intake.ChatFreshness,
		MessageIDDomain:  smtp.MessageIDDomain,
	}
}

// Resolver routes each message to the strategy of its channel
type Resolver struct {
	strategies map[domain.Channel]Strategy
	log        *slog.Logger
}

// New builds a resolver with the email, chat and web strategies
func New(cases domain.Repository, messages domain.MessageRepository, incidents IncidentClassifier, cfg Config, log *slog.Logger) *Resolver {
	log = log.With("component", "resolver")
	shared := &rules{cases: cases, messages: messages, cfg: cfg, now: time.Now}

	email := &EmailStrategy{rules: shared}
	chat := &ChatStrategy{rules: shared, incidents: incidents, log: log}
	web := WebStrategy{}

	return &Resolver{
		strategies: map[domain.Channel]Strategy{
			domain.ChannelEmail: email,
			domain.ChannelChat:  chat,
			domain.ChannelSMS:   chat,
			domain.ChannelWeb:   web,
			domain.ChannelPhone: web,
		},
		log: log,
	}
}

// Resolve finds the case a message belongs to. Ambiguity is never an error:
// when nothing matches the decision is to open a new case.
func (r *Resolver) Resolve(ctx context.Context, msg domain.InboundMessage) (Decision, error) {
	strategy, ok := r.strategies[msg.Channel]
	if !ok {
		return Decision{}, apperrors.BadRequest(fmt.Sprintf("unsupported channel %q", msg.Channel))
	}

	d, err := strategy.Resolve(ctx, msg)
	if err != nil {
		return Decision{}, err
	}

	metrics.RecordResolution(string(msg.Channel), string(d.Rule))
	attrs := []any{"channel", msg.Channel, "message_id", msg.MessageID, "rule", d.Rule, "reason", d.Reason}
	if d.Case != nil {
		attrs = append(attrs, "case_code", d.Case.Code)
	}
	r.log.Debug("message resolved", attrs...)
	return d, nil
}

// rules holds the lookups and the closed/stale policy every strategy shares
type rules struct {
	cases    domain.Repository
	messages domain.MessageRepository
	cfg      Config
	now      func() time.Time
}

// attachable is true for cases that may still receive email threading
func (r *rules) attachable(c *domain.Case) bool {
	return c.IsOpen() && !c.IsStale(r.now(), r.cfg.EmailStaleAfter)
}

// caseByMessageID returns the case owning a stored message, or nil
func (r *rules) caseByMessageID(ctx context.Context, externalID string) (*domain.Case, error) {
	m, err := r.messages.FindMessageByExternalID(ctx, externalID)
	if apperrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.caseByID(ctx, m.CaseID)
}

func (r *rules) caseByID(ctx context.Context, id types.ID) (*domain.Case, error) {
	c, err := r.cases.FindByID(ctx, id)
	if apperrors.IsNotFound(err) {
		return nil, nil
	}
	return c, err
}

// WebStrategy always opens a new case
type WebStrategy struct{}

func (WebStrategy) Resolve(context.Context, domain.InboundMessage) (Decision, error) {
	return openNew(RuleAlwaysNew, "form submissions never thread"), nil
}
