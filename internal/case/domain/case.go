package domain

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/fincasdesk/platform/internal/shared/errors"
	"github.com/fincasdesk/platform/internal/shared/types"
)

// Status is the lifecycle state of a case
type Status string

const (
	StatusNew               Status = "NEW"
	StatusNeedsInfo         Status = "NEEDS_INFO"
	StatusValidating        Status = "VALIDATING"
	StatusDispatched        Status = "DISPATCHED"
	StatusScheduled         Status = "SCHEDULED"
	StatusInProgress        Status = "IN_PROGRESS"
	StatusNeedsConfirmation Status = "NEEDS_CONFIRMATION"
	StatusWaitingInvoice    Status = "WAITING_INVOICE"
	StatusEscalated         Status = "ESCALATED"
	StatusClosed            Status = "CLOSED"
)

// transitions lists the statuses reachable from each status. ESCALATED is
// reachable from every non-terminal status; CLOSED has no exits.
var transitions = map[Status][]Status{
	StatusNew:               {StatusNeedsInfo, StatusValidating, StatusDispatched, StatusEscalated, StatusClosed},
	StatusNeedsInfo:         {StatusNew, StatusEscalated, StatusClosed},
	StatusValidating:        {StatusDispatched, StatusNeedsInfo, StatusEscalated, StatusClosed},
	StatusDispatched:        {StatusScheduled, StatusInProgress, StatusEscalated, StatusClosed},
	StatusScheduled:         {StatusInProgress, StatusEscalated, StatusClosed},
	StatusInProgress:        {StatusNeedsConfirmation, StatusWaitingInvoice, StatusEscalated, StatusClosed},
	StatusNeedsConfirmation: {StatusWaitingInvoice, StatusEscalated, StatusClosed},
	StatusWaitingInvoice:    {StatusEscalated, StatusClosed},
	StatusEscalated:         {StatusValidating, StatusDispatched, StatusScheduled, StatusInProgress, StatusClosed},
	StatusClosed:            nil,
}

// AllStatuses in lifecycle order
var AllStatuses = []Status{
	StatusNew, StatusNeedsInfo, StatusValidating, StatusDispatched, StatusScheduled,
	StatusInProgress, StatusNeedsConfirmation, StatusWaitingInvoice, StatusEscalated, StatusClosed,
}

// CanTransition reports whether the state machine allows from -> to
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool { return s == StatusClosed }

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// Category of the maintenance problem
type Category string

const (
	CategoryWater       Category = "WATER"
	CategoryElevator    Category = "ELEVATOR"
	CategoryElectricity Category = "ELECTRICITY"
	CategoryGarageDoor  Category = "GARAGE_DOOR"
	CategoryCleaning    Category = "CLEANING"
	CategorySecurity    Category = "SECURITY"
	CategoryOther       Category = "OTHER"
)

var AllCategories = []Category{
	CategoryWater, CategoryElevator, CategoryElectricity, CategoryGarageDoor,
	CategoryCleaning, CategorySecurity, CategoryOther,
}

func (c Category) Valid() bool {
	for _, k := range AllCategories {
		if c == k {
			return true
		}
	}
	return false
}

// ParseCategory maps unknown or empty values to OTHER.
func ParseCategory(s string) Category {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return CategoryOther
	}
	return c
}

// Title is the Spanish label used in outbound messages.
func (c Category) Title() string {
	switch c {
	case CategoryWater:
		return "Agua / Fontanería"
	case CategoryElevator:
		return "Ascensor"
	case CategoryElectricity:
		return "Electricidad"
	case CategoryGarageDoor:
		return "Puerta de garaje"
	case CategoryCleaning:
		return "Limpieza"
	case CategorySecurity:
		return "Seguridad"
	default:
		return "Otros"
	}
}

// Priority of a case
type Priority string

const (
	PriorityUrgent Priority = "URGENT"
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// ParsePriority maps unknown or empty values to MEDIUM.
func ParsePriority(s string) Priority {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return PriorityMedium
	}
	return p
}

func (p Priority) Title() string {
	switch p {
	case PriorityUrgent:
		return "Urgente"
	case PriorityHigh:
		return "Alta"
	case PriorityLow:
		return "Baja"
	default:
		return "Media"
	}
}

// Channel a case or message arrived through
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelChat  Channel = "CHAT"
	ChannelSMS   Channel = "SMS"
	ChannelWeb   Channel = "WEB"
	ChannelPhone Channel = "PHONE"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelChat, ChannelSMS, ChannelWeb, ChannelPhone:
		return true
	}
	return false
}

// IsMessaging is true for phone-number based channels
func (c Channel) IsMessaging() bool {
	return c == ChannelChat || c == ChannelSMS
}

// Case is the aggregate root for a reported incident
type Case struct {
	ID          types.ID `json:"id"`
	Code        string   `json:"code"`
	Subject     string   `json:"subject"`
	Description string   `json:"description"`
	Status      Status   `json:"status"`
	Category    Category `json:"category"`
	Priority    Priority `json:"priority"`
	Channel     Channel  `json:"channel"`

	// Reporter contact, denormalised from the directory at intake
	ReporterID    types.ID `json:"reporter_id,omitempty"`
	ReporterEmail string   `json:"reporter_email"`
	ReporterName  string   `json:"reporter_name"`
	ReporterPhone string   `json:"reporter_phone"`

	AssignedProviderID types.ID `json:"assigned_provider_id,omitempty"`

	CommunityName  string `json:"community_name"`
	Address        string `json:"address"`
	LocationDetail string `json:"location_detail"`

	Analysis *AnalysisContext `json:"analysis_context,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`

	Events []CaseEvent `json:"events,omitempty"`

	// pending events, flushed by the repository caller after each write
	domainEvents []CaseEvent
}

// NewCaseParams carries everything known when a case is opened
type NewCaseParams struct {
	Code     string
	Subject  string
	Body     string
	Channel  Channel
	Category Category
	Priority Priority
	Complete bool

	ReporterID    types.ID
	ReporterEmail string
	ReporterName  string
	ReporterPhone string

	CommunityName  string
	Address        string
	LocationDetail string

	Analysis *AnalysisContext
	Actor    string
	At       time.Time
}

// NewCase opens a case in NEW when the analysis is complete, NEEDS_INFO otherwise
func NewCase(p NewCaseParams) (*Case, error) {
	if !CodePattern.MatchString(p.Code) {
		return nil, fmt.Errorf("invalid case code %q", p.Code)
	}
	if !p.Channel.Valid() {
		return nil, fmt.Errorf("invalid channel %q", p.Channel)
	}
	if p.At.IsZero() {
		p.At = time.Now()
	}
	if p.Actor == "" {
		p.Actor = ActorSystem
	}

	status := StatusNeedsInfo
	if p.Complete {
		status = StatusNew
	}

	category := p.Category
	if !category.Valid() {
		category = CategoryOther
	}
	priority := p.Priority
	if !priority.Valid() {
		priority = PriorityMedium
	}

	c := &Case{
		ID:             types.NewID(),
		Code:           p.Code,
		Subject:        strings.TrimSpace(p.Subject),
		Description:    strings.TrimSpace(p.Body),
		Status:         status,
		Category:       category,
		Priority:       priority,
		Channel:        p.Channel,
		ReporterID:     p.ReporterID,
		ReporterEmail:  p.ReporterEmail,
		ReporterName:   p.ReporterName,
		ReporterPhone:  p.ReporterPhone,
		CommunityName:  p.CommunityName,
		Address:        p.Address,
		LocationDetail: p.LocationDetail,
		Analysis:       p.Analysis,
		CreatedAt:      p.At,
		UpdatedAt:      p.At,
	}

	c.addEvent(EventCaseCreated, p.Actor, fmt.Sprintf("Incidencia creada desde %s", strings.ToLower(string(p.Channel))), map[string]any{
		"status":   status,
		"category": category,
		"priority": priority,
		"channel":  p.Channel,
	})

	return c, nil
}

// IsOpen is false only for CLOSED cases
func (c *Case) IsOpen() bool {
	return c.Status != StatusClosed
}

// IsStale reports whether the case was created before now-window
func (c *Case) IsStale(now time.Time, window time.Duration) bool {
	return now.Sub(c.CreatedAt) > window
}

// TransitionTo moves the case to a new status and records exactly one event.
// Moving to the current status is a no-op.
func (c *Case) TransitionTo(to Status, actor, reason string) error {
	eventType := EventStatusChanged
	switch to {
	case StatusClosed:
		eventType = EventCaseClosed
	case StatusEscalated:
		eventType = EventEscalated
	}
	return c.transition(to, eventType, actor, reason, nil)
}

// Close closes the case. ClosedAt is only set the first time. A closed case
// cannot be closed again.
func (c *Case) Close(actor, resolution string) error {
	if c.Status == StatusClosed {
		return apperrors.InvalidTransition(string(c.Status), string(StatusClosed))
	}
	if resolution == "" {
		resolution = "Incidencia cerrada"
	}
	return c.transition(StatusClosed, EventCaseClosed, actor, resolution, map[string]any{"resolution": resolution})
}

// Escalate moves any non-terminal case to ESCALATED
func (c *Case) Escalate(actor, reason string) error {
	if c.Status == StatusEscalated {
		return nil
	}
	return c.transition(StatusEscalated, EventEscalated, actor, reason, nil)
}

// Dispatch assigns the provider and moves the case to DISPATCHED. The
// assignment and the status change share one event.
func (c *Case) Dispatch(providerID types.ID, providerName, actor string) error {
	if providerID.IsZero() {
		return fmt.Errorf("provider is required")
	}
	if !CanTransition(c.Status, StatusDispatched) {
		return apperrors.InvalidTransition(string(c.Status), string(StatusDispatched))
	}
	c.AssignedProviderID = providerID
	return c.transition(StatusDispatched, EventProviderAssigned, actor,
		fmt.Sprintf("Proveedor asignado: %s", providerName),
		map[string]any{"provider_id": providerID, "provider_name": providerName})
}

func (c *Case) transition(to Status, eventType EventType, actor, description string, data map[string]any) error {
	from := c.Status
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return apperrors.InvalidTransition(string(from), string(to))
	}

	now := time.Now()
	c.Status = to
	c.UpdatedAt = now
	if to == StatusClosed && c.ClosedAt == nil {
		c.ClosedAt = &now
	}

	if data == nil {
		data = map[string]any{}
	}
	data["old_status"] = from
	data["new_status"] = to
	if description == "" {
		description = fmt.Sprintf("Estado cambiado de %s a %s", from, to)
	}
	c.addEvent(eventType, actor, description, data)
	return nil
}

// Record appends a non-status event to the timeline
func (c *Case) Record(eventType EventType, actor, description string, data map[string]any) {
	c.UpdatedAt = time.Now()
	c.addEvent(eventType, actor, description, data)
}

// AppendDescription adds inbound text to the append-only description log
func (c *Case) AppendDescription(text string, at time.Time) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if c.Description == "" {
		c.Description = text
	} else {
		c.Description += fmt.Sprintf("\n\n--- %s ---\n%s", at.Format("02/01/2006 15:04"), text)
	}
	c.UpdatedAt = at
}

// ApplyFacts fills empty contact and location fields from extracted facts.
// Known values are never overwritten.
func (c *Case) ApplyFacts(f Facts) {
	fill := func(dst *string, field string) {
		if *dst == "" {
			if v := f.Get(field); v != "" {
				*dst = v
			}
		}
	}
	fill(&c.ReporterName, FieldReporterName)
	fill(&c.ReporterPhone, FieldReporterPhone)
	fill(&c.Address, FieldAddress)
	fill(&c.LocationDetail, FieldLocationDetail)
	fill(&c.CommunityName, FieldCommunityName)
}

// ApplyAnalysis records a fresh analysis: category and priority follow the
// latest reading, facts are write-if-empty.
func (c *Case) ApplyAnalysis(a Analysis) {
	if a.Category.Valid() {
		c.Category = a.Category
	}
	if a.Priority.Valid() {
		c.Priority = a.Priority
	}
	c.ApplyFacts(a.Facts)
	if c.Analysis == nil {
		c.Analysis = NewAnalysisContext(string(c.Channel), a)
	} else {
		c.Analysis.Record(a)
	}
	c.UpdatedAt = time.Now()
}

// KnownFacts lists what the case already holds so it is never re-requested
func (c *Case) KnownFacts() Facts {
	f := Facts{}
	f.Set(FieldReporterName, c.ReporterName)
	f.Set(FieldReporterPhone, c.ReporterPhone)
	f.Set(FieldAddress, c.Address)
	f.Set(FieldLocationDetail, c.LocationDetail)
	f.Set(FieldCommunityName, c.CommunityName)
	if c.ReporterPhone != "" {
		f.Set(FieldReporterContact, c.ReporterPhone)
	} else if c.ReporterEmail != "" && !IsPlaceholderEmail(c.ReporterEmail) {
		f.Set(FieldReporterContact, c.ReporterEmail)
	}
	if c.Description != "" {
		f.Set(FieldProblemDescription, c.Description)
	}
	if c.Analysis != nil {
		for k, v := range c.Analysis.Last.Facts {
			if f.Get(k) == "" {
				f.Set(k, v)
			}
		}
	}
	return f
}

// GetDomainEvents returns and clears pending events
func (c *Case) GetDomainEvents() []CaseEvent {
	events := c.domainEvents
	c.domainEvents = nil
	return events
}

func (c *Case) addEvent(eventType EventType, actor, description string, data map[string]any) {
	if actor == "" {
		actor = ActorSystem
	}
	event := CaseEvent{
		ID:          types.NewID(),
		CaseID:      c.ID,
		Type:        eventType,
		Description: description,
		Data:        data,
		Actor:       actor,
		Timestamp:   time.Now(),
	}

	c.Events = append(c.Events, event)
	c.domainEvents = append(c.domainEvents, event)
}
