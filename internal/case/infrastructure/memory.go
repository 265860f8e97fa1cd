package infrastructure

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fincasdesk/platform/internal/case/domain"
	"github.com/fincasdesk/platform/internal/shared/errors"
	"github.com/fincasdesk/platform/internal/shared/types"
)

// MemoryRepository keeps cases and messages in process memory. It backs
// DB_IN_MEMORY runs and the service tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	cases    map[types.ID]*domain.Case
	events   map[types.ID][]domain.CaseEvent
	messages map[string]*domain.Message
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		cases:    make(map[types.ID]*domain.Case),
		events:   make(map[types.ID][]domain.CaseEvent),
		messages: make(map[string]*domain.Message),
	}
}

func (r *MemoryRepository) Save(_ context.Context, c *domain.Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.cases {
		if existing.Code == c.Code {
			return errors.Conflict("case code already exists")
		}
	}
	r.cases[c.ID] = snapshot(c)
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, c *domain.Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cases[c.ID]; !ok {
		return errors.NotFound("case", c.ID.String())
	}
	r.cases[c.ID] = snapshot(c)
	return nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id types.ID) (*domain.Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cases[id]
	if !ok {
		return nil, errors.NotFound("case", id.String())
	}
	return snapshot(c), nil
}

func (r *MemoryRepository) FindByCode(_ context.Context, code string) (*domain.Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.cases {
		if c.Code == code {
			return snapshot(c), nil
		}
	}
	return nil, errors.NotFound("case", code)
}

func (r *MemoryRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	_, err := r.FindByCode(ctx, code)
	if errors.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (r *MemoryRepository) FindOpenByReporterEmail(_ context.Context, email string, since time.Time) ([]*domain.Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Case
	for _, c := range r.cases {
		if c.IsOpen() && strings.EqualFold(c.ReporterEmail, email) && !c.CreatedAt.Before(since) {
			out = append(out, snapshot(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) FindLatestOpenByPhone(_ context.Context, phones []string) (*domain.Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *domain.Case
	for _, c := range r.cases {
		if !c.IsOpen() || c.ReporterPhone == "" {
			continue
		}
		for _, p := range phones {
			if c.ReporterPhone == p && (latest == nil || c.UpdatedAt.After(latest.UpdatedAt)) {
				latest = c
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	return snapshot(latest), nil
}

func (r *MemoryRepository) List(_ context.Context, filter domain.ListFilter) ([]domain.Case, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	var matched []domain.Case
	for _, c := range r.cases {
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		if filter.Category != nil && c.Category != *filter.Category {
			continue
		}
		if filter.Priority != nil && c.Priority != *filter.Priority {
			continue
		}
		if filter.Channel != nil && c.Channel != *filter.Channel {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(c.Code+" "+c.Subject+" "+c.ReporterEmail+" "+c.ReporterName), search) {
			continue
		}
		matched = append(matched, *snapshot(c))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	start := min(max(filter.Offset, 0), total)
	end := min(start+limit, total)
	return matched[start:end], total, nil
}

func (r *MemoryRepository) AddEvent(_ context.Context, e *domain.CaseEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[e.CaseID] = append(r.events[e.CaseID], *e)
	return nil
}

func (r *MemoryRepository) GetEvents(_ context.Context, caseID types.ID, limit, offset int) ([]domain.CaseEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := r.events[caseID]
	if limit <= 0 {
		limit = 100
	}
	start := min(max(offset, 0), len(events))
	end := min(start+limit, len(events))
	out := make([]domain.CaseEvent, end-start)
	copy(out, events[start:end])
	return out, nil
}

func (r *MemoryRepository) SaveMessage(_ context.Context, m *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[m.ExternalID]; ok {
		return errors.Conflict("message already processed")
	}
	cp := *m
	r.messages[m.ExternalID] = &cp
	return nil
}

func (r *MemoryRepository) FindMessageByExternalID(_ context.Context, externalID string) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messages[externalID]
	if !ok {
		return nil, errors.NotFound("message", externalID)
	}
	cp := *m
	return &cp, nil
}

func (r *MemoryRepository) MessageExists(_ context.Context, externalID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.messages[externalID]
	return ok, nil
}

func (r *MemoryRepository) ListMessages(_ context.Context, caseID types.ID) ([]domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Message
	for _, m := range r.messages {
		if m.CaseID == caseID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func (r *MemoryRepository) LastInbound(ctx context.Context, caseID types.ID) (*domain.Message, error) {
	msgs, _ := r.ListMessages(ctx, caseID)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Direction == domain.DirectionInbound {
			return &msgs[i], nil
		}
	}
	return nil, nil
}

// snapshot copies the persisted fields so callers never share state with
// the store. Pending domain events are not carried over.
func snapshot(c *domain.Case) *domain.Case {
	cp := &domain.Case{
		ID:                 c.ID,
		Code:               c.Code,
		Subject:            c.Subject,
		Description:        c.Description,
		Status:             c.Status,
		Category:           c.Category,
		Priority:           c.Priority,
		Channel:            c.Channel,
		ReporterID:         c.ReporterID,
		ReporterEmail:      c.ReporterEmail,
		ReporterName:       c.ReporterName,
		ReporterPhone:      c.ReporterPhone,
		AssignedProviderID: c.AssignedProviderID,
		CommunityName:      c.CommunityName,
		Address:            c.Address,
		LocationDetail:     c.LocationDetail,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
	if c.ClosedAt != nil {
		t := *c.ClosedAt
		cp.ClosedAt = &t
	}
	if c.Analysis != nil {
		if raw, err := c.Analysis.Encode(); err == nil {
			cp.Analysis, _ = domain.DecodeAnalysisContext(raw)
		}
	}
	return cp
}

var (
	_ domain.Repository        = (*MemoryRepository)(nil)
	_ domain.MessageRepository = (*MemoryRepository)(nil)
)
