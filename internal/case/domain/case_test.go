package domain

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/fincasdesk/platform/internal/shared/errors"
	"github.com/fincasdesk/platform/internal/shared/types"
)

func newTestCase(t *testing.T, complete bool) *Case {
	t.Helper()
	c, err := NewCase(NewCaseParams{
		Code:          NewCode(),
		Subject:       "Ascensor atascado",
		Body:          "Hay personas atrapadas en el portal 3",
		Channel:       ChannelEmail,
		Category:      CategoryElevator,
		Priority:      PriorityUrgent,
		Complete:      complete,
		ReporterEmail: "ana@example.com",
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	c.GetDomainEvents()
	return c
}

// TestNewCase tests creating a new case
func TestNewCase(t *testing.T) {
	c, err := NewCase(NewCaseParams{
		Code:     "INC-AB12CD",
		Subject:  "  Fuga de agua ",
		Body:     "Sale agua del techo",
		Channel:  ChannelEmail,
		Category: Category("PLUMBING"),
		Priority: Priority(""),
		Complete: true,
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if c.ID.IsZero() {
		t.Error("Expected non-zero ID")
	}
	if c.Status != StatusNew {
		t.Errorf("Expected status %s, got %s", StatusNew, c.Status)
	}
	if c.Category != CategoryOther {
		t.Errorf("Expected unknown category to become %s, got %s", CategoryOther, c.Category)
	}
	if c.Priority != PriorityMedium {
		t.Errorf("Expected missing priority to become %s, got %s", PriorityMedium, c.Priority)
	}
	if c.Subject != "Fuga de agua" {
		t.Errorf("Expected trimmed subject, got %q", c.Subject)
	}

	events := c.GetDomainEvents()
	if len(events) != 1 || events[0].Type != EventCaseCreated {
		t.Fatalf("Expected a single %s event, got %+v", EventCaseCreated, events)
	}
	if events[0].Actor != ActorSystem {
		t.Errorf("Expected actor %s, got %s", ActorSystem, events[0].Actor)
	}
	if len(c.GetDomainEvents()) != 0 {
		t.Error("Expected pending events to be drained")
	}
}

func TestNewCaseIncompleteStartsInNeedsInfo(t *testing.T) {
	c := newTestCase(t, false)
	if c.Status != StatusNeedsInfo {
		t.Errorf("Expected status %s, got %s", StatusNeedsInfo, c.Status)
	}
}

func TestNewCaseValidation(t *testing.T) {
	tests := []struct {
		name    string
		params  NewCaseParams
		wantErr bool
	}{
		{"bad code", NewCaseParams{Code: "INC-abc", Channel: ChannelEmail}, true},
		{"bad channel", NewCaseParams{Code: "INC-AB12CD", Channel: Channel("FAX")}, true},
		{"valid", NewCaseParams{Code: "INC-AB12CD", Channel: ChannelWeb}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCase(tt.params)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusNew, StatusNeedsInfo, true},
		{StatusNeedsInfo, StatusNew, true},
		{StatusNew, StatusDispatched, true},
		{StatusNeedsInfo, StatusDispatched, false},
		{StatusDispatched, StatusScheduled, true},
		{StatusScheduled, StatusInProgress, true},
		{StatusInProgress, StatusNeedsConfirmation, true},
		{StatusNeedsConfirmation, StatusWaitingInvoice, true},
		{StatusWaitingInvoice, StatusClosed, true},
		{StatusDispatched, StatusNew, false},
		{StatusClosed, StatusNew, false},
		{StatusClosed, StatusEscalated, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.allowed {
				t.Errorf("Expected %v, got %v", tt.allowed, got)
			}
		})
	}
}

func TestEscalateFromEveryNonTerminalStatus(t *testing.T) {
	for _, s := range AllStatuses {
		if s.IsTerminal() || s == StatusEscalated {
			continue
		}
		if !CanTransition(s, StatusEscalated) {
			t.Errorf("Expected %s to be escalatable", s)
		}
		if !CanTransition(s, StatusClosed) {
			t.Errorf("Expected %s to be closable", s)
		}
	}
}

func TestEveryStatusChangeRecordsOneEvent(t *testing.T) {
	c := newTestCase(t, true)
	steps := []Status{StatusDispatched, StatusScheduled, StatusInProgress, StatusNeedsConfirmation, StatusWaitingInvoice, StatusClosed}

	for i, to := range steps {
		var err error
		if to == StatusDispatched {
			err = c.Dispatch(types.NewID(), "Ascensores Norte", ActorSystem)
		} else {
			err = c.TransitionTo(to, "admin-1", "")
		}
		if err != nil {
			t.Fatalf("step %d (%s): Expected no error, got %v", i, to, err)
		}
		events := c.GetDomainEvents()
		if len(events) != 1 {
			t.Fatalf("step %d (%s): Expected 1 event, got %d", i, to, len(events))
		}
		if !events[0].Type.ChangesStatus() {
			t.Errorf("step %d: event %s does not describe a status change", i, events[0].Type)
		}
		if events[0].Data["new_status"] != to {
			t.Errorf("step %d: Expected new_status %s, got %v", i, to, events[0].Data["new_status"])
		}
	}
}

func TestDispatch(t *testing.T) {
	c := newTestCase(t, true)
	providerID := types.NewID()

	if err := c.Dispatch(providerID, "Ascensores Norte", ActorSystem); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if c.Status != StatusDispatched {
		t.Errorf("Expected status %s, got %s", StatusDispatched, c.Status)
	}
	if c.AssignedProviderID != providerID {
		t.Errorf("Expected provider %s, got %s", providerID, c.AssignedProviderID)
	}
	events := c.GetDomainEvents()
	if len(events) != 1 || events[0].Type != EventProviderAssigned {
		t.Fatalf("Expected a single %s event, got %+v", EventProviderAssigned, events)
	}

	waiting := newTestCase(t, false)
	if err := waiting.Dispatch(providerID, "x", ActorSystem); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("Expected invalid transition from NEEDS_INFO, got %v", err)
	}
	if !waiting.AssignedProviderID.IsZero() {
		t.Error("Expected provider to stay unassigned on rejected dispatch")
	}
}

func TestClose(t *testing.T) {
	c := newTestCase(t, true)

	if err := c.Close("admin-1", "Reparado"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if c.ClosedAt == nil {
		t.Fatal("Expected closed timestamp to be set")
	}
	first := *c.ClosedAt

	// closing again is rejected and keeps the timestamp
	if err := c.Close("admin-1", "otra vez"); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("Expected closed case to reject a second close, got %v", err)
	}
	if !c.ClosedAt.Equal(first) {
		t.Error("Expected closed timestamp to be preserved")
	}

	events := c.GetDomainEvents()
	if len(events) != 1 || events[0].Type != EventCaseClosed {
		t.Fatalf("Expected a single %s event, got %+v", EventCaseClosed, events)
	}

	if err := c.TransitionTo(StatusNew, "admin-1", ""); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("Expected closed case to reject reopening, got %v", err)
	}
	if err := c.Escalate("admin-1", "no"); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("Expected closed case to reject escalation, got %v", err)
	}
}

func TestCloseKeepsExistingTimestamp(t *testing.T) {
	c := newTestCase(t, true)
	earlier := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c.ClosedAt = &earlier

	if err := c.Close("", ""); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !c.ClosedAt.Equal(earlier) {
		t.Errorf("Expected %v, got %v", earlier, c.ClosedAt)
	}
}

func TestAppendDescription(t *testing.T) {
	c := newTestCase(t, false)
	original := c.Description
	at := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	c.AppendDescription("Vivo en Calle Mayor 5", at)
	c.AppendDescription("   ", at)

	want := original + "\n\n--- 01/03/2026 10:30 ---\nVivo en Calle Mayor 5"
	if c.Description != want {
		t.Errorf("Expected %q, got %q", want, c.Description)
	}
}

func TestApplyFactsNeverOverwrites(t *testing.T) {
	c := newTestCase(t, false)
	c.Address = "Calle Mayor 5"

	c.ApplyFacts(Facts{
		FieldAddress:        "Otra calle 9",
		FieldReporterName:   "Ana García",
		FieldLocationDetail: "Portal 3",
	})

	if c.Address != "Calle Mayor 5" {
		t.Errorf("Expected address to be kept, got %q", c.Address)
	}
	if c.ReporterName != "Ana García" {
		t.Errorf("Expected name to be filled, got %q", c.ReporterName)
	}
	if c.LocationDetail != "Portal 3" {
		t.Errorf("Expected location to be filled, got %q", c.LocationDetail)
	}
}

func TestKnownFactsSkipsPlaceholderEmail(t *testing.T) {
	c := newTestCase(t, false)
	c.ReporterEmail = PlaceholderEmail("+34 600-111-222")

	known := c.KnownFacts()
	if known.Has(FieldReporterContact) {
		t.Error("Expected placeholder email not to count as contact")
	}

	c.ReporterPhone = "+34600111222"
	if c.KnownFacts().Get(FieldReporterContact) != "+34600111222" {
		t.Error("Expected phone to count as contact")
	}
}

func TestIsStale(t *testing.T) {
	c := newTestCase(t, true)
	now := c.CreatedAt.Add(31 * 24 * time.Hour)
	if !c.IsStale(now, 30*24*time.Hour) {
		t.Error("Expected case to be stale")
	}
	if c.IsStale(c.CreatedAt.Add(time.Hour), 30*24*time.Hour) {
		t.Error("Expected fresh case")
	}
}

func TestParseEnums(t *testing.T) {
	if ParseCategory(" elevator ") != CategoryElevator {
		t.Error("Expected case-insensitive category parse")
	}
	if ParseCategory("roof") != CategoryOther {
		t.Error("Expected unknown category to map to OTHER")
	}
	if ParsePriority("urgent") != PriorityUrgent {
		t.Error("Expected priority parse")
	}
	if ParsePriority("") != PriorityMedium {
		t.Error("Expected empty priority to map to MEDIUM")
	}
	if _, err := ParseStatus("dispatched"); err != nil {
		t.Errorf("Expected valid status, got %v", err)
	}
	if _, err := ParseStatus("ARCHIVED"); err == nil {
		t.Error("Expected error for unknown status")
	}
}

func TestPlaceholderEmail(t *testing.T) {
	got := PlaceholderEmail("whatsapp:+34 600-111-222")
	if got != "whatsapp_34600111222@wa.placeholder.com" {
		t.Errorf("Unexpected placeholder %q", got)
	}
	if !IsPlaceholderEmail(got) || IsPlaceholderEmail("ana@example.com") {
		t.Error("IsPlaceholderEmail misclassified")
	}
}
