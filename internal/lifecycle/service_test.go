package lifecycle

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fincasdesk/platform/internal/case/domain"
	"github.com/fincasdesk/platform/internal/case/infrastructure"
	"github.com/fincasdesk/platform/internal/directory"
	"github.com/fincasdesk/platform/internal/notification"
	apperrors "github.com/fincasdesk/platform/internal/shared/errors"
	"github.com/fincasdesk/platform/internal/shared/events"
	"github.com/fincasdesk/platform/internal/shared/logger"
)

type fakeAnalyzer struct {
	next  domain.Analysis
	calls int
	known domain.Facts
}

func (f *fakeAnalyzer) ProcessFollowUp(_ context.Context, _ domain.Analysis, _ string, _ []domain.Turn, known domain.Facts) domain.Analysis {
	f.calls++
	f.known = known
	return f.next
}

type fixture struct {
	repo      *infrastructure.MemoryRepository
	directory *directory.Service
	analyzer  *fakeAnalyzer
	email     *notification.MockSender
	chat      *notification.MockSender
	bus       *events.MemoryBus
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Discard()
	f := &fixture{
		repo:      infrastructure.NewMemoryRepository(),
		directory: directory.NewService(directory.NewMemoryRepository(), log),
		analyzer:  &fakeAnalyzer{},
		email:     notification.NewMockSender(),
		chat:      notification.NewMockSender(),
		bus:       events.NewMemoryBus(log),
	}
	dispatcher := notification.NewDispatcher(notification.DispatcherConfig{
		Attempts:        2,
		InitialInterval: time.Millisecond,
		MessageIDDomain: "fincas-agent",
	}, log).
		Register(notification.ChannelEmail, f.email).
		Register(notification.ChannelChat, f.chat)

	f.svc = NewService(f.repo, f.repo, f.analyzer, f.directory, dispatcher, f.bus,
		Config{FromAddress: "incidencias@fincas.local", ChatFrom: "+34910000000"}, log)
	return f
}

func (f *fixture) addDefaultProvider(t *testing.T, category domain.Category) *directory.Provider {
	t.Helper()
	p := &directory.Provider{
		Name:      "Ascensores Norte",
		Category:  category,
		Email:     "avisos@ascensoresnorte.es",
		IsDefault: true,
		IsActive:  true,
	}
	require.NoError(t, f.directory.SaveProvider(context.Background(), p))
	return p
}

func (f *fixture) events(t *testing.T, c *domain.Case) []domain.EventType {
	t.Helper()
	evs, err := f.repo.GetEvents(context.Background(), c.ID, 100, 0)
	require.NoError(t, err)
	out := make([]domain.EventType, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}

func completeAnalysis() domain.Analysis {
	return domain.Analysis{
		Complete: true,
		Category: domain.CategoryElevator,
		Priority: domain.PriorityUrgent,
		Facts:    domain.Facts{domain.FieldReporterName: "Ana Pérez"},
		Source:   domain.SourceFallback,
	}
}

func incompleteAnalysis() domain.Analysis {
	return domain.Analysis{
		Category:          domain.CategoryElevator,
		Priority:          domain.PriorityUrgent,
		MissingFields:     []string{domain.FieldAddress},
		FollowUpQuestions: []string{"¿Cuál es la dirección completa del edificio (calle y número)?"},
		Facts:             domain.Facts{},
		Source:            domain.SourceFallback,
	}
}

func inboundEmail(id, body string) domain.InboundMessage {
	return domain.InboundMessage{
		MessageID:      id,
		Channel:        domain.ChannelEmail,
		Subject:        "Ascensor atascado",
		Body:           body,
		SenderIdentity: "ana@example.com",
		ReceivedAt:     time.Now(),
	}
}

func openParams(a domain.Analysis) domain.NewCaseParams {
	return domain.NewCaseParams{
		Subject:       "Ascensor atascado",
		Body:          "Hay personas atrapadas en el portal 3",
		Channel:       domain.ChannelEmail,
		Category:      a.Category,
		Priority:      a.Priority,
		Complete:      a.Complete,
		ReporterEmail: "ana@example.com",
		ReporterName:  "Ana Pérez",
		Analysis:      domain.NewAnalysisContext(string(domain.ChannelEmail), a),
	}
}

func countStatusEvents(types []domain.EventType) int {
	n := 0
	for _, t := range types {
		if t.ChangesStatus() {
			n++
		}
	}
	return n
}

func TestOpen_CompleteCaseIsDispatched(t *testing.T) {
	f := newFixture(t)
	p := f.addDefaultProvider(t, domain.CategoryElevator)
	msg := inboundEmail("<m1@mail.example.com>", "Hay personas atrapadas en el portal 3")

	c, err := f.svc.Open(context.Background(), openParams(completeAnalysis()), &msg)
	require.NoError(t, err)

	assert.Regexp(t, `^INC-[A-Z0-9]{6}$`, c.Code)
	assert.Equal(t, domain.StatusDispatched, c.Status)
	assert.Equal(t, p.ID, c.AssignedProviderID)
	assert.Equal(t, []domain.EventType{
		domain.EventCaseCreated,
		domain.EventProviderAssigned,
		domain.EventProviderNotified,
	}, f.events(t, c))

	sent := f.email.GetSentNotifications()
	require.Len(t, sent, 1)
	assert.Equal(t, "avisos@ascensoresnorte.es", sent[0].To)
	assert.Equal(t, "["+c.Code+"] Nueva incidencia de Ascensor - Urgente", sent[0].Subject)
	assert.Contains(t, sent[0].Body, "Ana Pérez")

	msgs, err := f.repo.ListMessages(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.DirectionInbound, msgs[0].Direction)
	assert.Equal(t, domain.DirectionOutbound, msgs[1].Direction)
	assert.True(t, notification.IsOwnMessageID(msgs[1].ExternalID, "fincas-agent"))

	var published []string
	for _, e := range f.bus.Published() {
		published = append(published, e.Type)
	}
	assert.Equal(t, []string{"case.case_created", "case.provider_assigned", "case.provider_notified"}, published)
}

func TestOpen_NoDefaultProviderStaysNew(t *testing.T) {
	f := newFixture(t)

	c, err := f.svc.Open(context.Background(), openParams(completeAnalysis()), nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusNew, c.Status)
	assert.Equal(t, []domain.EventType{domain.EventCaseCreated}, f.events(t, c))
	assert.Empty(t, f.email.GetSentNotifications())
}

func TestOpen_ProviderDeliveryFailureKeepsDispatch(t *testing.T) {
	f := newFixture(t)
	f.addDefaultProvider(t, domain.CategoryElevator)
	f.email.SetFailOnSend(true)

	c, err := f.svc.Open(context.Background(), openParams(completeAnalysis()), nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDispatched, c.Status)
	evs := f.events(t, c)
	assert.Equal(t, domain.EventProviderNotificationFailed, evs[len(evs)-1])
	assert.Equal(t, 2, f.email.Calls())
}

func TestOpen_IncompleteCaseAsksForInformation(t *testing.T) {
	f := newFixture(t)
	msg := inboundEmail("<m1@mail.example.com>", "Hay personas atrapadas")

	c, err := f.svc.Open(context.Background(), openParams(incompleteAnalysis()), &msg)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusNeedsInfo, c.Status)
	assert.Equal(t, []domain.EventType{domain.EventCaseCreated, domain.EventInfoRequested}, f.events(t, c))

	sent := f.email.GetSentNotifications()
	require.Len(t, sent, 1)
	assert.Equal(t, "["+c.Code+"] Necesitamos más información", sent[0].Subject)
	assert.Contains(t, sent[0].Body, "1. ¿Cuál es la dirección completa")
	assert.Contains(t, sent[0].Body, "Nombre de quien reporta: Ana Pérez")
	assert.Equal(t, "<m1@mail.example.com>", sent[0].InReplyTo)
	assert.Equal(t, []string{"<m1@mail.example.com>"}, sent[0].References)

	turns := c.Analysis.History()
	require.NotEmpty(t, turns)
	assert.Equal(t, domain.RoleAssistant, turns[len(turns)-1].Role)
}

func TestOpen_RetriesCodeCollisions(t *testing.T) {
	f := newFixture(t)
	repo := &collidingRepo{MemoryRepository: f.repo, collisions: 3}
	f.svc.cases = repo

	c, err := f.svc.Open(context.Background(), openParams(completeAnalysis()), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, c.Code)
	assert.Equal(t, 4, repo.checks)

	repo.collisions = 1000
	_, err = f.svc.Open(context.Background(), openParams(completeAnalysis()), nil)
	require.Error(t, err)
	assert.Equal(t, 4+maxCodeAttempts, repo.checks)
}

type collidingRepo struct {
	*infrastructure.MemoryRepository
	collisions int
	checks     int
}

func (r *collidingRepo) CodeExists(ctx context.Context, code string) (bool, error) {
	r.checks++
	if r.collisions > 0 {
		r.collisions--
		return true, nil
	}
	return r.MemoryRepository.CodeExists(ctx, code)
}

func TestHandleReply_CompletesAndDispatches(t *testing.T) {
	f := newFixture(t)
	f.addDefaultProvider(t, domain.CategoryElevator)
	first := inboundEmail("<m1@mail.example.com>", "Hay personas atrapadas")
	c, err := f.svc.Open(context.Background(), openParams(incompleteAnalysis()), &first)
	require.NoError(t, err)

	done := completeAnalysis()
	done.Facts.Set(domain.FieldAddress, "Calle Mayor 5")
	f.analyzer.next = done

	reply := inboundEmail("<m2@mail.example.com>", "Calle Mayor 5, portal 3")
	c, err = f.svc.HandleReply(context.Background(), c, reply, domain.Facts{domain.FieldReporterPhone: "+34600111222"})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDispatched, c.Status)
	assert.Equal(t, "Calle Mayor 5", c.Address)
	assert.Contains(t, c.Description, "Calle Mayor 5, portal 3")
	assert.Equal(t, "+34600111222", f.analyzer.known.Get(domain.FieldReporterPhone))
	assert.Equal(t, "Ana Pérez", f.analyzer.known.Get(domain.FieldReporterName))

	evs := f.events(t, c)
	assert.Equal(t, []domain.EventType{
		domain.EventCaseCreated,
		domain.EventInfoRequested,
		domain.EventMessageReceived,
		domain.EventStatusChanged,
		domain.EventProviderAssigned,
		domain.EventProviderNotified,
	}, evs)
	// NEEDS_INFO->NEW and NEW->DISPATCHED
	assert.Equal(t, 2, countStatusEvents(evs))
}

func TestHandleReply_StillIncompleteAsksAgain(t *testing.T) {
	f := newFixture(t)
	first := inboundEmail("<m1@mail.example.com>", "Hay personas atrapadas")
	c, err := f.svc.Open(context.Background(), openParams(incompleteAnalysis()), &first)
	require.NoError(t, err)

	f.analyzer.next = incompleteAnalysis()
	c, err = f.svc.HandleReply(context.Background(), c, inboundEmail("<m2@mail.example.com>", "gracias"), nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusNeedsInfo, c.Status)
	sent := f.email.GetSentNotifications()
	require.Len(t, sent, 2)
	assert.Equal(t, "<m2@mail.example.com>", sent[1].InReplyTo)
}

func TestHandleReply_DuplicateMessage(t *testing.T) {
	f := newFixture(t)
	first := inboundEmail("<m1@mail.example.com>", "Hay personas atrapadas")
	c, err := f.svc.Open(context.Background(), openParams(completeAnalysis()), &first)
	require.NoError(t, err)

	_, err = f.svc.HandleReply(context.Background(), c, first, nil)
	assert.True(t, apperrors.IsConflict(err))
	assert.Zero(t, f.analyzer.calls)
}

func TestHandleReply_AssumedCompleteIsRecorded(t *testing.T) {
	f := newFixture(t)
	first := inboundEmail("<m1@mail.example.com>", "Hay personas atrapadas")
	c, err := f.svc.Open(context.Background(), openParams(incompleteAnalysis()), &first)
	require.NoError(t, err)

	assumed := completeAnalysis()
	assumed.Source = domain.SourceAssumedComplete
	f.analyzer.next = assumed

	c, err = f.svc.HandleReply(context.Background(), c, inboundEmail("<m2@mail.example.com>", "ya está"), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNew, c.Status)
	assert.Contains(t, f.events(t, c), domain.EventAnalysisDegraded)
}

func TestClose_FallsBackToChatForPlaceholderEmail(t *testing.T) {
	f := newFixture(t)
	p := openParams(completeAnalysis())
	p.ReporterEmail = domain.PlaceholderEmail("+34600111222")
	p.ReporterPhone = "+34600111222"
	c, err := f.svc.Open(context.Background(), p, nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Close(context.Background(), c, "admin", "Reparado"))

	assert.Equal(t, domain.StatusClosed, c.Status)
	assert.NotNil(t, c.ClosedAt)
	sent := f.chat.GetSentNotifications()
	require.Len(t, sent, 1)
	assert.Equal(t, "+34600111222", sent[0].To)
	assert.Contains(t, sent[0].Body, "Reparado")
	assert.Empty(t, f.email.GetSentNotifications())

	evs := f.events(t, c)
	assert.Equal(t, domain.EventClosureNotified, evs[len(evs)-1])
}

func TestClose_AlreadyClosedIsRejected(t *testing.T) {
	f := newFixture(t)
	c, err := f.svc.Open(context.Background(), openParams(completeAnalysis()), nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.Close(context.Background(), c, "admin", "Reparado"))
	sentBefore := len(f.email.GetSentNotifications())
	eventsBefore := f.events(t, c)

	err = f.svc.Close(context.Background(), c, "admin", "otra vez")
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	err = f.svc.Transition(context.Background(), c, domain.StatusClosed, "admin", "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	assert.Len(t, f.email.GetSentNotifications(), sentBefore)
	assert.Equal(t, eventsBefore, f.events(t, c))
}

func TestClose_ChatOriginWithoutPhoneUsesEmail(t *testing.T) {
	f := newFixture(t)
	p := openParams(completeAnalysis())
	p.Channel = domain.ChannelChat
	c, err := f.svc.Open(context.Background(), p, nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Close(context.Background(), c, "admin", ""))
	assert.Len(t, f.email.GetSentNotifications(), 1)
}

func TestClose_NoContactRecordsFailure(t *testing.T) {
	f := newFixture(t)
	p := openParams(completeAnalysis())
	p.ReporterEmail = ""
	c, err := f.svc.Open(context.Background(), p, nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Close(context.Background(), c, "admin", ""))

	evs, err := f.repo.GetEvents(context.Background(), c.ID, 100, 0)
	require.NoError(t, err)
	last := evs[len(evs)-1]
	assert.Equal(t, domain.EventClosureNotificationFailed, last.Type)
	assert.Equal(t, "no reachable contact", last.Data["reason"])
}

func TestTransition(t *testing.T) {
	f := newFixture(t)
	c, err := f.svc.Open(context.Background(), openParams(completeAnalysis()), nil)
	require.NoError(t, err)

	err = f.svc.Transition(context.Background(), c, domain.StatusInProgress, "admin", "")
	assert.Error(t, err, "NEW cannot jump to IN_PROGRESS")

	err = f.svc.Transition(context.Background(), c, domain.StatusDispatched, "admin", "")
	assert.Error(t, err)

	require.NoError(t, f.svc.Transition(context.Background(), c, domain.StatusValidating, "admin", "revisión"))
	require.NoError(t, f.svc.Transition(context.Background(), c, domain.StatusEscalated, "admin", "urgente"))
	assert.Equal(t, domain.StatusEscalated, c.Status)

	stored, err := f.repo.FindByCode(context.Background(), c.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEscalated, stored.Status)
}

func TestAssignProvider(t *testing.T) {
	f := newFixture(t)
	c, err := f.svc.Open(context.Background(), openParams(completeAnalysis()), nil)
	require.NoError(t, err)

	p := &directory.Provider{Name: "Fontanería Sur", Category: domain.CategoryWater, Phone: "600 222 333", IsActive: true}
	require.NoError(t, f.directory.SaveProvider(context.Background(), p))

	require.NoError(t, f.svc.AssignProvider(context.Background(), c, p.ID, "admin"))
	assert.Equal(t, domain.StatusDispatched, c.Status)
	sent := f.chat.GetSentNotifications()
	require.Len(t, sent, 1)
	assert.Equal(t, "600222333", sent[0].To)
}

func TestAnswerStatusQuery(t *testing.T) {
	f := newFixture(t)
	c, err := f.svc.Open(context.Background(), openParams(completeAnalysis()), nil)
	require.NoError(t, err)

	msg := domain.InboundMessage{MessageID: "SM1", Channel: domain.ChannelChat, Body: "¿Cómo va lo mío?", SenderIdentity: "+34600111222"}
	reply, err := f.svc.AnswerStatusQuery(context.Background(), c, msg)
	require.NoError(t, err)

	assert.Contains(t, reply, c.Code)
	assert.Contains(t, reply, "Nueva - Pendiente de asignación")
	assert.Contains(t, f.events(t, c), domain.EventStatusReplied)
}

func TestIsStatusQuery(t *testing.T) {
	assert.True(t, IsStatusQuery("¿Cuál es el estado?"))
	assert.True(t, IsStatusQuery("Novedades de mis incidencias"))
	assert.True(t, IsStatusQuery("COMO VA LO MÍO"))
	assert.True(t, IsStatusQuery("¿Alguna actualización?"))
	assert.False(t, IsStatusQuery("Hay una fuga en el garaje"))
}

func TestMetricsProjector(t *testing.T) {
	f := newFixture(t)
	projector := NewMetricsProjector(f.bus, logger.Discard())
	require.NoError(t, projector.Start(context.Background()))

	c, err := f.svc.Open(context.Background(), openParams(completeAnalysis()), nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.Escalate(context.Background(), c, "admin", "sin respuesta"))

	for _, e := range f.bus.Published() {
		assert.NoError(t, projector.Handle(context.Background(), e))
		assert.True(t, strings.HasPrefix(e.Type, "case."))
	}
	assert.NoError(t, projector.Handle(context.Background(), events.NewEvent("case.x", "test", "not a map")))
}
