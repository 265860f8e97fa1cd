package directory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/fincasdesk/platform/internal/case/domain"
	"github.com/fincasdesk/platform/internal/shared/errors"
	"github.com/fincasdesk/platform/internal/shared/types"
)

// MemoryRepository is a Repository held in process memory
type MemoryRepository struct {
	mu        sync.RWMutex
	reporters map[types.ID]Reporter
	providers map[types.ID]Provider
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		reporters: make(map[types.ID]Reporter),
		providers: make(map[types.ID]Provider),
	}
}

func (m *MemoryRepository) FindReporterByID(_ context.Context, id types.ID) (*Reporter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.reporters[id]; ok {
		return &r, nil
	}
	return nil, errors.NotFound("reporter", id.String())
}

func (m *MemoryRepository) FindReporterByEmail(_ context.Context, email string) (*Reporter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.reporters {
		if r.Email != "" && strings.EqualFold(r.Email, email) {
			return &r, nil
		}
	}
	return nil, errors.NotFound("reporter", email)
}

func (m *MemoryRepository) FindReporterByPhone(_ context.Context, phones []string) (*Reporter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.reporters {
		if r.Phone != "" && slices.Contains(phones, r.Phone) {
			return &r, nil
		}
	}
	return nil, errors.NotFound("reporter", strings.Join(phones, ","))
}

func (m *MemoryRepository) CreateReporter(_ context.Context, r *Reporter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contactTaken(r) {
		return errors.Conflict("reporter with this contact already exists")
	}
	m.reporters[r.ID] = *r
	return nil
}

func (m *MemoryRepository) UpdateReporter(_ context.Context, r *Reporter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reporters[r.ID]; !ok {
		return errors.NotFound("reporter", r.ID.String())
	}
	if m.contactTaken(r) {
		return errors.Conflict("reporter with this contact already exists")
	}
	m.reporters[r.ID] = *r
	return nil
}

func (m *MemoryRepository) contactTaken(r *Reporter) bool {
	for id, other := range m.reporters {
		if id == r.ID {
			continue
		}
		if r.Email != "" && strings.EqualFold(other.Email, r.Email) {
			return true
		}
		if r.Phone != "" && other.Phone == r.Phone {
			return true
		}
	}
	return false
}

func (m *MemoryRepository) GetProvider(_ context.Context, id types.ID) (*Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.providers[id]; ok {
		return &p, nil
	}
	return nil, errors.NotFound("provider", id.String())
}

func (m *MemoryRepository) FindProviderByIdentity(_ context.Context, email string, phones []string) (*Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.providers {
		if !p.IsActive {
			continue
		}
		if email != "" && strings.EqualFold(p.Email, email) {
			return &p, nil
		}
		if (p.Phone != "" && slices.Contains(phones, p.Phone)) ||
			(p.PhoneEmergency != "" && slices.Contains(phones, p.PhoneEmergency)) {
			return &p, nil
		}
	}
	return nil, errors.NotFound("provider", email)
}

func (m *MemoryRepository) DefaultProvider(_ context.Context, category domain.Category) (*Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.providers {
		if p.Category == category && p.IsDefault && p.IsActive {
			return &p, nil
		}
	}
	return nil, errors.NotFound("provider", string(category))
}

func (m *MemoryRepository) SaveProvider(_ context.Context, p *Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.IsDefault {
		for id, other := range m.providers {
			if id != p.ID && other.Category == p.Category && other.IsDefault {
				other.IsDefault = false
				m.providers[id] = other
			}
		}
	}
	cp := *p
	cp.Email = strings.ToLower(cp.Email)
	m.providers[p.ID] = cp
	return nil
}

func (m *MemoryRepository) ListProviders(_ context.Context, category *domain.Category) ([]Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Provider
	for _, p := range m.providers {
		if category == nil || p.Category == *category {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

var _ Repository = (*MemoryRepository)(nil)
