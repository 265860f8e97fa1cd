// Package intake turns channel payloads into inbound messages and runs each
// one through resolution, extraction and the case lifecycle.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fincasdesk/platform/internal/case/domain"
	"github.com/fincasdesk/platform/internal/directory"
	"github.com/fincasdesk/platform/internal/extractor"
	"github.com/fincasdesk/platform/internal/lifecycle"
	"github.com/fincasdesk/platform/internal/resolver"
	apperrors "github.com/fincasdesk/platform/internal/shared/errors"
	"github.com/fincasdesk/platform/internal/shared/metrics"
)

// Inbound outcomes, also used as metric labels
const (
	outcomeCreated   = "created"
	outcomeAttached  = "attached"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeStatus    = "status_query"
	outcomeProvider  = "provider_reply"
	outcomeFailed    = "failed"
)

// CaseResolver picks the case an inbound message belongs to
type CaseResolver interface {
	Resolve(ctx context.Context, msg domain.InboundMessage) (resolver.Decision, error)
}

// Analyzer runs the first analysis of a new report
type Analyzer interface {
	Analyze(ctx context.Context, req extractor.Request) domain.Analysis
}

// Lifecycle is the part of the case lifecycle the pipeline drives
type Lifecycle interface {
	Open(ctx context.Context, p domain.NewCaseParams, inbound *domain.InboundMessage) (*domain.Case, error)
	HandleReply(ctx context.Context, c *domain.Case, msg domain.InboundMessage, known domain.Facts) (*domain.Case, error)
	RecordProviderReply(ctx context.Context, c *domain.Case, msg domain.InboundMessage, provider *directory.Provider) error
	AnswerStatusQuery(ctx context.Context, c *domain.Case, msg domain.InboundMessage) (string, error)
}

// Directory resolves senders to reporters and providers
type Directory interface {
	FindOrCreate(ctx context.Context, identity, displayName string) (*directory.Reporter, error)
	Enrich(ctx context.Context, rep *directory.Reporter, facts domain.Facts) (bool, error)
	KnownFacts(rep *directory.Reporter) domain.Facts
	ProviderByIdentity(ctx context.Context, identity string) (*directory.Provider, error)
}

// Outcome describes what processing one message did
type Outcome struct {
	Case      *domain.Case
	Created   bool
	Duplicate bool
	Ignored   bool
	Reason    string
	Rule      resolver.Rule
	// Reply is the text to answer a chat sender with, if any
	Reply string
}

func (o Outcome) label() string {
	switch {
	case o.Duplicate:
		return outcomeDuplicate
	case o.Ignored:
		return outcomeIgnored
	case o.Created:
		return outcomeCreated
	case o.Rule == ruleStatusQuery:
		return outcomeStatus
	case o.Rule == ruleProviderReply:
		return outcomeProvider
	default:
		return outcomeAttached
	}
}

// Pipeline-level routing decisions that happen before the resolver
const (
	ruleStatusQuery   resolver.Rule = "status_query"
	ruleProviderReply resolver.Rule = "provider_reply"
)

// Pipeline processes one inbound message end to end
type Pipeline struct {
	cases     domain.Repository
	messages  domain.MessageRepository
	resolver  CaseResolver
	analyzer  Analyzer
	lifecycle Lifecycle
	directory Directory
	deduper   Deduper
	selfLoop  SelfLoopFilter
	log       *slog.Logger
}

// NewPipeline wires the pipeline. A nil deduper disables the claim step.
func NewPipeline(
	cases domain.Repository,
	messages domain.MessageRepository,
	res CaseResolver,
	analyzer Analyzer,
	lc Lifecycle,
	dir Directory,
	deduper Deduper,
	selfLoop SelfLoopFilter,
	log *slog.Logger,
) *Pipeline {
	if deduper == nil {
		deduper = NoopDeduper{}
	}
	return &Pipeline{
		cases:     cases,
		messages:  messages,
		resolver:  res,
		analyzer:  analyzer,
		lifecycle: lc,
		directory: dir,
		deduper:   deduper,
		selfLoop:  selfLoop,
		log:       log.With("component", "intake"),
	}
}

// Process handles one message. Duplicates and our own outbound mail are
// reported in the outcome, not as errors.
func (p *Pipeline) Process(ctx context.Context, msg domain.InboundMessage) (Outcome, error) {
	out, err := p.process(ctx, msg)
	if err != nil {
		metrics.RecordInbound(string(msg.Channel), outcomeFailed)
		p.log.Error("inbound message failed", "channel", msg.Channel, "message_id", msg.MessageID, "error", err)
		return Outcome{}, err
	}

	metrics.RecordInbound(string(msg.Channel), out.label())
	attrs := []any{"channel", msg.Channel, "message_id", msg.MessageID, "outcome", out.label()}
	if out.Case != nil {
		attrs = append(attrs, "case_code", out.Case.Code, "status", out.Case.Status)
	}
	if out.Reason != "" {
		attrs = append(attrs, "reason", out.Reason)
	}
	p.log.Info("inbound message processed", attrs...)
	return out, nil
}

func (p *Pipeline) process(ctx context.Context, msg domain.InboundMessage) (Outcome, error) {
	if msg.MessageID == "" {
		return Outcome{}, apperrors.BadRequest("message id is required")
	}
	if strings.TrimSpace(msg.SenderIdentity) == "" {
		return Outcome{}, apperrors.BadRequest("sender is required")
	}
	if p.selfLoop.IsOwn(msg) {
		return Outcome{Ignored: true, Reason: "own outbound message"}, nil
	}

	exists, err := p.messages.MessageExists(ctx, msg.MessageID)
	if err != nil {
		return Outcome{}, err
	}
	if exists {
		return Outcome{Duplicate: true, Reason: "message already stored"}, nil
	}

	claimed, err := p.deduper.Claim(ctx, msg.MessageID)
	if err != nil {
		// the message table still rejects duplicates
		p.log.Warn("message claim unavailable", "message_id", msg.MessageID, "error", err)
		claimed = true
	}
	if !claimed {
		return Outcome{Duplicate: true, Reason: "message being processed"}, nil
	}

	out, err := p.route(ctx, msg)
	if apperrors.IsConflict(err) {
		return Outcome{Duplicate: true, Reason: "message already stored"}, nil
	}
	if err != nil {
		if rerr := p.deduper.Release(ctx, msg.MessageID); rerr != nil {
			p.log.Warn("failed to release message claim", "message_id", msg.MessageID, "error", rerr)
		}
		return Outcome{}, err
	}
	return out, nil
}

func (p *Pipeline) route(ctx context.Context, msg domain.InboundMessage) (Outcome, error) {
	provider, err := p.directory.ProviderByIdentity(ctx, msg.SenderIdentity)
	if err != nil {
		return Outcome{}, err
	}
	if provider != nil {
		return p.providerReply(ctx, msg, provider)
	}

	if msg.Channel.IsMessaging() && lifecycle.IsStatusQuery(msg.Body) {
		if _, isCommand := resolver.NewIncidentCommand(msg.Body); !isCommand {
			out, handled, err := p.statusQuery(ctx, msg)
			if err != nil || handled {
				return out, err
			}
		}
	}

	rep, err := p.directory.FindOrCreate(ctx, msg.SenderIdentity, msg.SenderName)
	if err != nil {
		return Outcome{}, err
	}

	decision, err := p.resolver.Resolve(ctx, msg)
	if err != nil {
		return Outcome{}, err
	}

	if !decision.IsNew() {
		return p.attach(ctx, msg, decision, rep)
	}
	return p.open(ctx, msg, decision, rep)
}

// providerReply attaches a provider message to the case it answers. A
// provider never opens a case.
func (p *Pipeline) providerReply(ctx context.Context, msg domain.InboundMessage, provider *directory.Provider) (Outcome, error) {
	c, err := p.providerCase(ctx, msg)
	if err != nil {
		return Outcome{}, err
	}
	if c == nil {
		p.log.Info("provider message without a case, ignoring", "provider", provider.Name, "message_id", msg.MessageID)
		return Outcome{Ignored: true, Reason: "provider message without a case", Rule: ruleProviderReply}, nil
	}
	if err := p.lifecycle.RecordProviderReply(ctx, c, msg, provider); err != nil {
		return Outcome{}, err
	}
	return Outcome{Case: c, Rule: ruleProviderReply, Reason: provider.Name}, nil
}

func (p *Pipeline) providerCase(ctx context.Context, msg domain.InboundMessage) (*domain.Case, error) {
	if code, ok := domain.FindCode(msg.Subject + "\n" + msg.Body); ok {
		c, err := p.cases.FindByCode(ctx, code)
		if err == nil {
			return c, nil
		}
		if !apperrors.IsNotFound(err) {
			return nil, err
		}
	}

	if msg.ReplyToID == "" {
		return nil, nil
	}
	m, err := p.messages.FindMessageByExternalID(ctx, msg.ReplyToID)
	if apperrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c, err := p.cases.FindByID(ctx, m.CaseID)
	if apperrors.IsNotFound(err) {
		return nil, nil
	}
	return c, err
}

// statusQuery answers a chat status question from the sender's open case.
// handled is false when the sender has no open case.
func (p *Pipeline) statusQuery(ctx context.Context, msg domain.InboundMessage) (Outcome, bool, error) {
	phones := directory.PhoneVariants(directory.NormalizePhone(msg.SenderIdentity))
	if len(phones) == 0 {
		return Outcome{}, false, nil
	}
	c, err := p.cases.FindLatestOpenByPhone(ctx, phones)
	if err != nil || c == nil {
		return Outcome{}, false, err
	}

	reply, err := p.lifecycle.AnswerStatusQuery(ctx, c, msg)
	if err != nil {
		return Outcome{}, true, err
	}
	return Outcome{Case: c, Rule: ruleStatusQuery, Reply: reply}, true, nil
}

func (p *Pipeline) attach(ctx context.Context, msg domain.InboundMessage, d resolver.Decision, rep *directory.Reporter) (Outcome, error) {
	c, err := p.lifecycle.HandleReply(ctx, d.Case, msg, p.directory.KnownFacts(rep))
	if err != nil {
		return Outcome{}, err
	}
	if c.Analysis != nil {
		p.enrich(ctx, rep, c.Analysis.Last.Facts)
	}
	return Outcome{Case: c, Rule: d.Rule, Reason: d.Reason, Reply: acknowledgement(c, false)}, nil
}

func (p *Pipeline) open(ctx context.Context, msg domain.InboundMessage, d resolver.Decision, rep *directory.Reporter) (Outcome, error) {
	known := p.directory.KnownFacts(rep)
	if f := msg.Form; f != nil {
		known.Set(domain.FieldCommunityName, f.CommunityName)
		known.Set(domain.FieldAddress, f.Address)
		known.Set(domain.FieldLocationDetail, f.FloorDoor)
		known.Set(domain.FieldReporterPhone, f.Phone)
		if !known.Has(domain.FieldReporterName) {
			known.Set(domain.FieldReporterName, msg.SenderName)
		}
	}

	a := p.analyzer.Analyze(ctx, extractor.Request{
		Subject:        msg.Subject,
		Body:           msg.Body,
		SenderIdentity: msg.SenderIdentity,
		SenderName:     msg.SenderName,
		Known:          known,
	})
	if f := msg.Form; f != nil {
		if f.Category != "" {
			a.Category = f.Category
		}
		if f.Priority != "" {
			a.Priority = f.Priority
		}
	}

	params := newCaseParams(msg, a, rep)
	params.Analysis = domain.NewAnalysisContext(string(msg.Channel), a)
	params.Analysis.Append(domain.RoleReporter, strings.TrimSpace(msg.Subject+"\n"+msg.Body), params.At)

	c, err := p.lifecycle.Open(ctx, params, &msg)
	if err != nil {
		return Outcome{}, err
	}
	p.enrich(ctx, rep, a.Facts)
	return Outcome{Case: c, Created: true, Rule: d.Rule, Reason: d.Reason, Reply: acknowledgement(c, true)}, nil
}

// newCaseParams pre-fills a case from the analysis facts, then the reporter
// profile, then the raw sender identity
func newCaseParams(msg domain.InboundMessage, a domain.Analysis, rep *directory.Reporter) domain.NewCaseParams {
	facts := a.Facts
	pick := func(values ...string) string {
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
		return ""
	}

	p := domain.NewCaseParams{
		Subject:  pick(msg.Subject, a.Summary, truncate(msg.Body, 80)),
		Body:     msg.Body,
		Channel:  msg.Channel,
		Category: a.Category,
		Priority: a.Priority,
		Complete: a.Complete,
		At:       msg.ReceivedAt,
	}

	var repName, repEmail, repPhone, repCommunity, repAddress, repFloor string
	if rep != nil {
		p.ReporterID = rep.ID
		repEmail, repPhone = rep.Email, rep.Phone
		repCommunity, repAddress, repFloor = rep.CommunityName, rep.Address, rep.FloorDoor
		if !rep.HasStubName() {
			repName = rep.Name
		}
	}

	var senderEmail, senderPhone string
	if strings.Contains(msg.SenderIdentity, "@") {
		senderEmail = strings.ToLower(msg.SenderIdentity)
	} else {
		senderPhone = directory.NormalizePhone(msg.SenderIdentity)
	}
	var formEmail, formPhone string
	if msg.Form != nil {
		formEmail, formPhone = msg.Form.Email, msg.Form.Phone
	}

	p.ReporterName = pick(facts.Get(domain.FieldReporterName), repName, msg.SenderName)
	if p.ReporterName == "" && rep != nil {
		p.ReporterName = rep.Name
	}
	p.ReporterEmail = pick(formEmail, repEmail, senderEmail)
	p.ReporterPhone = directory.NormalizePhone(pick(formPhone, repPhone, senderPhone, facts.Get(domain.FieldReporterPhone)))
	if p.ReporterEmail == "" && p.ReporterPhone != "" {
		p.ReporterEmail = domain.PlaceholderEmail(p.ReporterPhone)
	}
	p.CommunityName = pick(facts.Get(domain.FieldCommunityName), repCommunity)
	p.Address = pick(facts.Get(domain.FieldAddress), repAddress)
	p.LocationDetail = pick(facts.Get(domain.FieldLocationDetail), repFloor)
	return p
}

func (p *Pipeline) enrich(ctx context.Context, rep *directory.Reporter, facts domain.Facts) {
	if rep == nil || len(facts) == 0 {
		return
	}
	if _, err := p.directory.Enrich(ctx, rep, facts); err != nil {
		p.log.Warn("reporter enrichment failed", "reporter_id", rep.ID, "error", err)
	}
}

// acknowledgement is the chat answer to a processed message
func acknowledgement(c *domain.Case, created bool) string {
	var b strings.Builder
	if created {
		fmt.Fprintf(&b, "Hemos registrado tu incidencia %s. Estado: %s.", c.Code, lifecycle.StatusText(c.Status))
	} else {
		fmt.Fprintf(&b, "Hemos añadido tu mensaje a la incidencia %s. Estado: %s.", c.Code, lifecycle.StatusText(c.Status))
	}
	return b.String()
}

// FollowUpQuestions returns the open questions of a case waiting for
// information
func FollowUpQuestions(c *domain.Case) []string {
	if c == nil || c.Status != domain.StatusNeedsInfo || c.Analysis == nil {
		return nil
	}
	return c.Analysis.Last.FollowUpQuestions
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n])
}
