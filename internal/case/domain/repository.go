package domain

import (
	"context"
	"time"

	"github.com/fincasdesk/platform/internal/shared/types"
)

// Repository defines the interface for case persistence
type Repository interface {
	// Save inserts a new case; a code collision yields a Conflict error
	Save(ctx context.Context, c *Case) error
	Update(ctx context.Context, c *Case) error
	FindByID(ctx context.Context, id types.ID) (*Case, error)
	FindByCode(ctx context.Context, code string) (*Case, error)
	CodeExists(ctx context.Context, code string) (bool, error)

	// FindOpenByReporterEmail returns non-closed cases created since the
	// given time, newest first
	FindOpenByReporterEmail(ctx context.Context, email string, since time.Time) ([]*Case, error)
	// FindLatestOpenByPhone returns the most recently updated non-closed
	// case for any of the phone variants, or nil
	FindLatestOpenByPhone(ctx context.Context, phones []string) (*Case, error)

	List(ctx context.Context, filter ListFilter) ([]Case, int, error)

	AddEvent(ctx context.Context, e *CaseEvent) error
	GetEvents(ctx context.Context, caseID types.ID, limit, offset int) ([]CaseEvent, error)
}

// MessageRepository persists case messages
type MessageRepository interface {
	// SaveMessage yields a Conflict error when the external id exists
	SaveMessage(ctx context.Context, m *Message) error
	FindMessageByExternalID(ctx context.Context, externalID string) (*Message, error)
	MessageExists(ctx context.Context, externalID string) (bool, error)
	ListMessages(ctx context.Context, caseID types.ID) ([]Message, error)
	// LastInbound returns the newest inbound message of a case, or nil
	LastInbound(ctx context.Context, caseID types.ID) (*Message, error)
}

// ListFilter defines filters for listing cases
type ListFilter struct {
	Status   *Status   `json:"status,omitempty"`
	Category *Category `json:"category,omitempty"`
	Priority *Priority `json:"priority,omitempty"`
	Channel  *Channel  `json:"channel,omitempty"`
	Search   string    `json:"search,omitempty"`
	Limit    int       `json:"limit,omitempty"`
	Offset   int       `json:"offset,omitempty"`
}
