package directory

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/fincasdesk/platform/internal/case/domain"
	"github.com/fincasdesk/platform/internal/shared/errors"
	"github.com/fincasdesk/platform/internal/shared/types"
)

// Service is the reporter directory. It looks up and lazily creates
// reporters, enriches them with extracted facts and resolves providers.
type Service struct {
	repo Repository
	log  *slog.Logger
	now  func() time.Time
}

// NewService creates a directory service
func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{repo: repo, log: log.With("component", "directory"), now: time.Now}
}

// FindOrCreate returns the reporter for an email or phone identity, creating
// a stub on first contact. It returns nil, nil when the identity belongs to a
// provider.
func (s *Service) FindOrCreate(ctx context.Context, identity, displayName string) (*Reporter, error) {
	id := ParseIdentity(identity)
	if id.Value == "" {
		return nil, errors.BadRequest("empty reporter identity")
	}

	provider, err := s.ProviderByIdentity(ctx, id.Value)
	if err != nil {
		return nil, err
	}
	if provider != nil {
		s.log.Info("identity belongs to a provider, skipping reporter", "provider", provider.Name)
		return nil, nil
	}

	var rep *Reporter
	switch id.Kind {
	case IdentityEmail:
		rep, err = s.repo.FindReporterByEmail(ctx, id.Value)
	default:
		rep, err = s.repo.FindReporterByPhone(ctx, PhoneVariants(id.Value))
	}
	if err == nil {
		return rep, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	now := s.now()
	rep = &Reporter{
		ID:        types.NewID(),
		Name:      strings.TrimSpace(displayName),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if id.Kind == IdentityEmail {
		rep.Email = id.Value
		if rep.Name == "" {
			rep.Name = emailLocalPart(id.Value)
		}
	} else {
		rep.Phone = id.Value
		rep.Email = domain.PlaceholderEmail(id.Value)
		if rep.Name == "" {
			rep.Name = phoneStubName(id.Value)
		}
	}

	if err := s.repo.CreateReporter(ctx, rep); err != nil {
		return nil, err
	}
	s.log.Info("created reporter", "reporter_id", rep.ID, "kind", id.Kind)
	return rep, nil
}

// Enrich fills empty reporter fields from facts and reports whether
// anything changed. Known values are never overwritten and room names are
// never stored as floor/door.
func (s *Service) Enrich(ctx context.Context, rep *Reporter, facts domain.Facts) (bool, error) {
	if rep == nil {
		return false, nil
	}
	updated := false
	fill := func(dst *string, value string) {
		if *dst == "" && value != "" {
			*dst = value
			updated = true
		}
	}

	if name := facts.Get(domain.FieldReporterName); name != "" && rep.HasStubName() && name != rep.Name {
		rep.Name = name
		updated = true
	}

	phone := NormalizePhone(facts.Get(domain.FieldReporterPhone))
	if phone == "" {
		if contact := facts.Get(domain.FieldReporterContact); contact != "" && !strings.Contains(contact, "@") {
			phone = NormalizePhone(contact)
		}
	}
	if phone != "" && !slices.Contains(PhoneVariants(rep.Phone), phone) {
		if rep.Phone == "" {
			fill(&rep.Phone, phone)
		} else {
			fill(&rep.PhoneSecondary, phone)
		}
	}

	if contact := strings.ToLower(facts.Get(domain.FieldReporterContact)); strings.Contains(contact, "@") && domain.IsPlaceholderEmail(rep.Email) {
		rep.Email = contact
		updated = true
	}

	fill(&rep.CommunityName, facts.Get(domain.FieldCommunityName))
	fill(&rep.Address, facts.Get(domain.FieldAddress))

	if loc := facts.Get(domain.FieldLocationDetail); loc != "" && rep.FloorDoor == "" {
		if IsValidFloorDoor(loc) {
			fill(&rep.FloorDoor, loc)
		} else {
			s.log.Debug("skipping room name as floor/door", "value", loc)
		}
	}

	if !updated {
		return false, nil
	}
	rep.UpdatedAt = s.now()

	err := s.repo.UpdateReporter(ctx, rep)
	if errors.IsConflict(err) {
		// another reporter already owns the contact; keep the rest
		s.log.Warn("reporter contact taken by another reporter", "reporter_id", rep.ID)
		fresh, ferr := s.repo.FindReporterByID(ctx, rep.ID)
		if ferr != nil {
			return false, ferr
		}
		rep.Phone, rep.Email = fresh.Phone, fresh.Email
		err = s.repo.UpdateReporter(ctx, rep)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// KnownFacts returns what the directory already knows about a reporter.
// Generated names and placeholder emails are not facts.
func (s *Service) KnownFacts(rep *Reporter) domain.Facts {
	f := domain.Facts{}
	if rep == nil {
		return f
	}
	if !rep.HasStubName() {
		f.Set(domain.FieldReporterName, rep.Name)
	}
	f.Set(domain.FieldReporterPhone, rep.Phone)
	if rep.Phone != "" {
		f.Set(domain.FieldReporterContact, rep.Phone)
	} else {
		f.Set(domain.FieldReporterContact, rep.ContactEmail())
	}
	f.Set(domain.FieldCommunityName, rep.CommunityName)
	f.Set(domain.FieldAddress, rep.Address)
	if IsValidFloorDoor(rep.FloorDoor) {
		f.Set(domain.FieldLocationDetail, rep.FloorDoor)
	}
	return f
}

// ProviderByIdentity returns the active provider owning an email or phone,
// or nil.
func (s *Service) ProviderByIdentity(ctx context.Context, identity string) (*Provider, error) {
	id := ParseIdentity(identity)
	var (
		p   *Provider
		err error
	)
	if id.Kind == IdentityEmail {
		p, err = s.repo.FindProviderByIdentity(ctx, id.Value, nil)
	} else {
		p, err = s.repo.FindProviderByIdentity(ctx, "", PhoneVariants(id.Value))
	}
	if errors.IsNotFound(err) {
		return nil, nil
	}
	return p, err
}

// DefaultProvider returns the active default provider for a category, or nil.
func (s *Service) DefaultProvider(ctx context.Context, category domain.Category) (*Provider, error) {
	p, err := s.repo.DefaultProvider(ctx, category)
	if errors.IsNotFound(err) {
		return nil, nil
	}
	return p, err
}

func (s *Service) Provider(ctx context.Context, id types.ID) (*Provider, error) {
	return s.repo.GetProvider(ctx, id)
}

func (s *Service) Reporter(ctx context.Context, id types.ID) (*Reporter, error) {
	return s.repo.FindReporterByID(ctx, id)
}

func (s *Service) ListProviders(ctx context.Context, category *domain.Category) ([]Provider, error) {
	return s.repo.ListProviders(ctx, category)
}

// SaveProvider validates and stores a provider
func (s *Service) SaveProvider(ctx context.Context, p *Provider) error {
	details := map[string]string{}
	if strings.TrimSpace(p.Name) == "" {
		details["name"] = "name is required"
	}
	if !p.Category.Valid() {
		details["category"] = "invalid category"
	}
	if p.Email == "" && p.Phone == "" && p.PhoneEmergency == "" {
		details["contact"] = "email or phone is required"
	}
	if len(details) > 0 {
		return errors.Validation("validation failed", details)
	}

	now := s.now()
	if p.ID.IsZero() {
		p.ID = types.NewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.Phone = NormalizePhone(p.Phone)
	p.PhoneEmergency = NormalizePhone(p.PhoneEmergency)
	p.UpdatedAt = now
	return s.repo.SaveProvider(ctx, p)
}
