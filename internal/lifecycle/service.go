// Package lifecycle drives cases through their status machine: opening,
// the information loop, provider dispatch, escalation and closure.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fincasdesk/platform/internal/case/domain"
	"github.com/fincasdesk/platform/internal/directory"
	"github.com/fincasdesk/platform/internal/notification"
	apperrors "github.com/fincasdesk/platform/internal/shared/errors"
	"github.com/fincasdesk/platform/internal/shared/events"
	"github.com/fincasdesk/platform/internal/shared/metrics"
	"github.com/fincasdesk/platform/internal/shared/textnorm"
	"github.com/fincasdesk/platform/internal/shared/types"
)

// maxCodeAttempts bounds the case-code collision loop
const maxCodeAttempts = 20

// FollowUpAnalyzer re-runs the fact analysis on a reply
type FollowUpAnalyzer interface {
	ProcessFollowUp(ctx context.Context, prior domain.Analysis, message string, history []domain.Turn, known domain.Facts) domain.Analysis
}

// Providers looks up maintenance providers
type Providers interface {
	DefaultProvider(ctx context.Context, category domain.Category) (*directory.Provider, error)
	Provider(ctx context.Context, id types.ID) (*directory.Provider, error)
}

// Notifier delivers outbound notifications and never fails the caller
type Notifier interface {
	Deliver(ctx context.Context, n *notification.Notification) notification.Result
}

// Config holds the sender identities recorded on outbound messages
type Config struct {
	FromAddress string
	ChatFrom    string
}

// Service is the case lifecycle driver. Writes are committed per step: the
// case row, then each pending event.
type Service struct {
	cases     domain.Repository
	messages  domain.MessageRepository
	analyzer  FollowUpAnalyzer
	providers Providers
	notifier  Notifier
	bus       events.EventBus
	config    Config
	log       *slog.Logger
	now       func() time.Time
}

func NewService(
	cases domain.Repository,
	messages domain.MessageRepository,
	analyzer FollowUpAnalyzer,
	providers Providers,
	notifier Notifier,
	bus events.EventBus,
	config Config,
	log *slog.Logger,
) *Service {
	return &Service{
		cases:     cases,
		messages:  messages,
		analyzer:  analyzer,
		providers: providers,
		notifier:  notifier,
		bus:       bus,
		config:    config,
		log:       log.With("component", "lifecycle"),
		now:       time.Now,
	}
}

// Open creates a case with a fresh code, stores the inbound message and
// starts the flow: a complete case goes to the default provider, an
// incomplete one gets a follow-up request.
func (s *Service) Open(ctx context.Context, p domain.NewCaseParams, inbound *domain.InboundMessage) (*domain.Case, error) {
	c, err := s.create(ctx, p)
	if err != nil {
		return nil, err
	}
	metrics.RecordCaseCreated(string(c.Channel), string(c.Category))
	s.log.Info("case opened", "case_code", c.Code, "status", c.Status, "category", c.Category, "priority", c.Priority, "channel", c.Channel)

	if inbound != nil {
		if err := s.messages.SaveMessage(ctx, inbound.ToMessage(c.ID)); err != nil {
			s.log.Warn("failed to store inbound message", "case_code", c.Code, "message_id", inbound.MessageID, "error", err)
		}
	}

	s.advance(ctx, c)
	return c, nil
}

func (s *Service) create(ctx context.Context, p domain.NewCaseParams) (*domain.Case, error) {
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code := domain.NewCode()
		exists, err := s.cases.CodeExists(ctx, code)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}

		p.Code = code
		c, err := domain.NewCase(p)
		if err != nil {
			return nil, apperrors.BadRequest(err.Error())
		}
		if err := s.cases.Save(ctx, c); err != nil {
			if apperrors.IsConflict(err) {
				s.log.Debug("case code collision", "code", code, "attempt", attempt)
				continue
			}
			return nil, err
		}
		s.flush(ctx, c)
		return c, nil
	}
	return nil, apperrors.Internal(fmt.Errorf("no free case code after %d attempts", maxCodeAttempts))
}

// advance runs the automatic step that follows an analysis
func (s *Service) advance(ctx context.Context, c *domain.Case) {
	switch c.Status {
	case domain.StatusNew:
		if err := s.NotifyDefaultProvider(ctx, c); err != nil {
			s.log.Warn("provider auto-notification failed", "case_code", c.Code, "error", err)
		}
	case domain.StatusNeedsInfo:
		if err := s.RequestInfo(ctx, c); err != nil {
			s.log.Warn("follow-up request failed", "case_code", c.Code, "error", err)
		}
	}
}

// HandleReply attaches a reporter message to an existing case. A case
// waiting for information re-runs the analysis; when the answer completes
// it, the case moves to NEW and is dispatched.
func (s *Service) HandleReply(ctx context.Context, c *domain.Case, msg domain.InboundMessage, known domain.Facts) (*domain.Case, error) {
	if err := s.messages.SaveMessage(ctx, msg.ToMessage(c.ID)); err != nil {
		return nil, err
	}

	at := msg.ReceivedAt
	if at.IsZero() {
		at = s.now()
	}
	c.AppendDescription(msg.Body, at)
	if c.Analysis != nil {
		c.Analysis.Append(domain.RoleReporter, msg.Body, at)
	}
	c.Record(domain.EventMessageReceived, domain.ActorSystem, "Mensaje recibido del vecino", map[string]any{
		"message_id": msg.MessageID,
		"channel":    msg.Channel,
	})

	if c.Status != domain.StatusNeedsInfo {
		return c, s.persist(ctx, c)
	}

	var prior domain.Analysis
	if c.Analysis != nil {
		prior = c.Analysis.Last
	}
	facts := c.KnownFacts().Merge(known)
	a := s.analyzer.ProcessFollowUp(ctx, prior, msg.Body, c.Analysis.History(), facts)
	c.ApplyAnalysis(a)
	if a.Source == domain.SourceAssumedComplete {
		c.Record(domain.EventAnalysisDegraded, domain.ActorSystem, "Información dada por completa sin análisis", map[string]any{
			"source": a.Source,
		})
	}

	if a.Complete {
		if err := c.TransitionTo(domain.StatusNew, domain.ActorAI, "Información completada por el vecino"); err != nil {
			return nil, err
		}
	}
	if err := s.persist(ctx, c); err != nil {
		return nil, err
	}

	s.advance(ctx, c)
	return c, nil
}

// RecordProviderReply stores a provider's message on the case it answers
func (s *Service) RecordProviderReply(ctx context.Context, c *domain.Case, msg domain.InboundMessage, provider *directory.Provider) error {
	if err := s.messages.SaveMessage(ctx, msg.ToMessage(c.ID)); err != nil {
		return err
	}
	c.Record(domain.EventProviderReply, provider.Name, "Respuesta del proveedor", map[string]any{
		"provider_id": provider.ID,
		"message_id":  msg.MessageID,
	})
	return s.persist(ctx, c)
}

// AnswerStatusQuery stores a status question on its case and returns the
// reply text
func (s *Service) AnswerStatusQuery(ctx context.Context, c *domain.Case, msg domain.InboundMessage) (string, error) {
	if err := s.messages.SaveMessage(ctx, msg.ToMessage(c.ID)); err != nil {
		return "", err
	}
	reply := StatusReply(c)
	c.Record(domain.EventStatusReplied, domain.ActorSystem, "Consulta de estado respondida", map[string]any{
		"message_id": msg.MessageID,
		"status":     c.Status,
	})
	return reply, s.persist(ctx, c)
}

// NotifyDefaultProvider dispatches the case to the default provider of its
// category. No default provider is not an error. A failed delivery is
// recorded on the case and does not undo the dispatch.
func (s *Service) NotifyDefaultProvider(ctx context.Context, c *domain.Case) error {
	p, err := s.providers.DefaultProvider(ctx, c.Category)
	if err != nil {
		return err
	}
	if p == nil {
		s.log.Debug("no default provider", "case_code", c.Code, "category", c.Category)
		return nil
	}
	return s.dispatch(ctx, c, p, domain.ActorSystem)
}

// AssignProvider dispatches the case to a chosen provider
func (s *Service) AssignProvider(ctx context.Context, c *domain.Case, providerID types.ID, actor string) error {
	p, err := s.providers.Provider(ctx, providerID)
	if err != nil {
		return err
	}
	if !p.IsActive {
		return apperrors.BadRequest("provider is not active")
	}
	return s.dispatch(ctx, c, p, actor)
}

func (s *Service) dispatch(ctx context.Context, c *domain.Case, p *directory.Provider, actor string) error {
	if err := c.Dispatch(p.ID, p.Name, actor); err != nil {
		return err
	}
	if err := s.persist(ctx, c); err != nil {
		return err
	}

	n := &notification.Notification{
		Kind:     notification.KindProviderDispatch,
		ToName:   p.Name,
		Subject:  providerSubject(c),
		Body:     providerBody(c, p),
		CaseCode: c.Code,
	}
	switch {
	case p.Email != "":
		n.Channel, n.To = notification.ChannelEmail, p.Email
	case p.Phone != "":
		n.Channel, n.To = notification.ChannelChat, p.Phone
	default:
		n.Channel, n.To = notification.ChannelChat, p.PhoneEmergency
	}

	res := s.deliver(ctx, c, n)
	if res.OK() {
		c.Record(domain.EventProviderNotified, domain.ActorSystem, fmt.Sprintf("Proveedor %s notificado", p.Name), map[string]any{
			"provider_id": p.ID,
			"channel":     n.Channel,
			"delivery_id": res.DeliveryID,
		})
	} else {
		c.Record(domain.EventProviderNotificationFailed, domain.ActorSystem, fmt.Sprintf("No se pudo notificar al proveedor %s", p.Name), failureData(res.Failure, map[string]any{
			"provider_id": p.ID,
		}))
	}
	return s.persist(ctx, c)
}

// RequestInfo asks the reporter for the missing facts on the channel the
// case came from. Nothing is sent when no question is open.
func (s *Service) RequestInfo(ctx context.Context, c *domain.Case) error {
	if c.Analysis == nil || len(c.Analysis.Last.FollowUpQuestions) == 0 {
		return nil
	}
	questions := c.Analysis.Last.FollowUpQuestions

	n, reason := s.reporterNotification(ctx, c, notification.KindFollowUp)
	if n == nil {
		c.Record(domain.EventInfoRequestFailed, domain.ActorSystem, "No se pudo solicitar información", map[string]any{"reason": reason})
		return s.persist(ctx, c)
	}
	n.Subject = followUpSubject(c)
	n.Body = followUpBody(c, questions)

	res := s.deliver(ctx, c, n)
	if res.OK() {
		c.Analysis.Append(domain.RoleAssistant, n.Body, s.now())
		c.Record(domain.EventInfoRequested, domain.ActorAI, "Solicitada información adicional", map[string]any{
			"missing_fields": c.Analysis.Last.MissingFields,
			"channel":        n.Channel,
			"delivery_id":    res.DeliveryID,
		})
	} else {
		c.Record(domain.EventInfoRequestFailed, domain.ActorSystem, "No se pudo solicitar información", failureData(res.Failure, nil))
	}
	return s.persist(ctx, c)
}

// Close closes the case and notifies the reporter
func (s *Service) Close(ctx context.Context, c *domain.Case, actor, resolution string) error {
	if err := c.Close(actor, resolution); err != nil {
		return err
	}
	if err := s.persist(ctx, c); err != nil {
		return err
	}

	n, reason := s.reporterNotification(ctx, c, notification.KindClosure)
	if n == nil {
		c.Record(domain.EventClosureNotificationFailed, domain.ActorSystem, "No se pudo notificar el cierre", map[string]any{"reason": reason})
		return s.persist(ctx, c)
	}
	n.Subject = closureSubject(c)
	n.Body = closureBody(c, resolution)

	res := s.deliver(ctx, c, n)
	if res.OK() {
		c.Record(domain.EventClosureNotified, domain.ActorSystem, "Cierre notificado al vecino", map[string]any{
			"channel":     n.Channel,
			"delivery_id": res.DeliveryID,
		})
	} else {
		c.Record(domain.EventClosureNotificationFailed, domain.ActorSystem, "No se pudo notificar el cierre", failureData(res.Failure, nil))
	}
	return s.persist(ctx, c)
}

// Escalate moves a non-terminal case to ESCALATED
func (s *Service) Escalate(ctx context.Context, c *domain.Case, actor, reason string) error {
	if err := c.Escalate(actor, reason); err != nil {
		return err
	}
	return s.persist(ctx, c)
}

// Transition applies a manual status change. Closing, escalating and
// dispatching go through their own operations.
func (s *Service) Transition(ctx context.Context, c *domain.Case, to domain.Status, actor, reason string) error {
	switch to {
	case domain.StatusClosed:
		return s.Close(ctx, c, actor, reason)
	case domain.StatusEscalated:
		return s.Escalate(ctx, c, actor, reason)
	case domain.StatusDispatched:
		return apperrors.BadRequest("assign a provider to dispatch a case")
	}
	if err := c.TransitionTo(to, actor, reason); err != nil {
		return err
	}
	return s.persist(ctx, c)
}

// reporterNotification addresses a notification to the reporter on the
// origin channel, falling back to the other channel when the origin contact
// is missing or a placeholder
func (s *Service) reporterNotification(ctx context.Context, c *domain.Case, kind notification.Kind) (*notification.Notification, string) {
	email := c.ReporterEmail
	if domain.IsPlaceholderEmail(email) {
		email = ""
	}
	phone := c.ReporterPhone

	n := &notification.Notification{Kind: kind, ToName: c.ReporterName, CaseCode: c.Code}
	useEmail := func() {
		n.Channel, n.To = notification.ChannelEmail, email
		s.thread(ctx, c, n)
	}
	useChat := func() {
		n.Channel, n.To = notification.ChannelChat, phone
	}

	if c.Channel.IsMessaging() {
		switch {
		case phone != "":
			useChat()
		case email != "":
			useEmail()
		default:
			return nil, "no reachable contact"
		}
		return n, ""
	}

	switch {
	case email != "":
		useEmail()
	case phone != "":
		useChat()
	default:
		return nil, "no reachable contact"
	}
	return n, ""
}

// thread points an email at the last inbound message of the case
func (s *Service) thread(ctx context.Context, c *domain.Case, n *notification.Notification) {
	last, err := s.messages.LastInbound(ctx, c.ID)
	if err != nil {
		s.log.Warn("failed to load last inbound message", "case_code", c.Code, "error", err)
		return
	}
	if last == nil || last.Channel != domain.ChannelEmail || last.ExternalID == "" {
		return
	}
	n.InReplyTo = last.ExternalID
	n.References = append(append([]string(nil), last.References...), last.ExternalID)
}

// deliver sends n and stores it as an outbound message when it went out
func (s *Service) deliver(ctx context.Context, c *domain.Case, n *notification.Notification) notification.Result {
	res := s.notifier.Deliver(ctx, n)
	if !res.OK() {
		return res
	}

	channel := domain.ChannelEmail
	from := s.config.FromAddress
	if n.Channel == notification.ChannelChat {
		channel = domain.ChannelChat
		from = s.config.ChatFrom
	}
	m := &domain.Message{
		ID:         types.NewID(),
		CaseID:     c.ID,
		ExternalID: res.DeliveryID,
		InReplyTo:  n.InReplyTo,
		References: n.References,
		Direction:  domain.DirectionOutbound,
		Channel:    channel,
		From:       from,
		To:         n.To,
		Subject:    n.Subject,
		Body:       n.Body,
		ReceivedAt: s.now(),
	}
	if err := s.messages.SaveMessage(ctx, m); err != nil {
		s.log.Warn("failed to store outbound message", "case_code", c.Code, "delivery_id", res.DeliveryID, "error", err)
	}
	return res
}

func failureData(f *notification.DeliveryFailure, extra map[string]any) map[string]any {
	data := map[string]any{
		"channel":  f.Channel,
		"attempts": f.Attempts,
		"reason":   f.Reason,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// persist writes the case row and then its pending events
func (s *Service) persist(ctx context.Context, c *domain.Case) error {
	if err := s.cases.Update(ctx, c); err != nil {
		return err
	}
	s.flush(ctx, c)
	return nil
}

// flush appends pending events to the timeline and publishes them. A failed
// event write is logged; the case row is already committed.
func (s *Service) flush(ctx context.Context, c *domain.Case) {
	for _, e := range c.GetDomainEvents() {
		if err := s.cases.AddEvent(ctx, &e); err != nil {
			s.log.Error("failed to append case event", "case_code", c.Code, "event_type", e.Type, "error", err)
			continue
		}
		s.publish(ctx, c, e)
	}
}

func (s *Service) publish(ctx context.Context, c *domain.Case, e domain.CaseEvent) {
	if s.bus == nil {
		return
	}
	event := events.NewEvent(e.Type.BusType(), "lifecycle", map[string]any{
		"case_id":     c.ID,
		"case_code":   c.Code,
		"event_id":    e.ID,
		"description": e.Description,
		"data":        e.Data,
	}).WithActor(e.Actor).WithSubject(c.Code)

	if err := s.bus.Publish(ctx, event); err != nil {
		s.log.Warn("failed to publish case event", "case_code", c.Code, "event_type", event.Type, "error", err)
	}
}

// IsStatusQuery reports whether a chat message asks about case status
func IsStatusQuery(text string) bool {
	_, ok := textnorm.ContainsAny(text, statusKeywords)
	return ok
}

// folded phrases
var statusKeywords = []string{
	"estado", "como va", "que paso", "novedades", "actualizacion", "mis incidencias",
}
