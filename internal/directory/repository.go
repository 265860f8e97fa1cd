package directory

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/fincasdesk/platform/internal/case/domain"
	"github.com/fincasdesk/platform/internal/shared/database"
	"github.com/fincasdesk/platform/internal/shared/errors"
	"github.com/fincasdesk/platform/internal/shared/types"
)

// Repository persists reporters and providers
type Repository interface {
	FindReporterByID(ctx context.Context, id types.ID) (*Reporter, error)
	FindReporterByEmail(ctx context.Context, email string) (*Reporter, error)
	FindReporterByPhone(ctx context.Context, phones []string) (*Reporter, error)
	CreateReporter(ctx context.Context, r *Reporter) error
	UpdateReporter(ctx context.Context, r *Reporter) error

	GetProvider(ctx context.Context, id types.ID) (*Provider, error)
	// FindProviderByIdentity matches the email or any phone variant against
	// active providers; NotFound when none matches
	FindProviderByIdentity(ctx context.Context, email string, phones []string) (*Provider, error)
	// DefaultProvider returns the active default provider of a category
	DefaultProvider(ctx context.Context, category domain.Category) (*Provider, error)
	// SaveProvider upserts a provider. Marking it default clears the flag on
	// every other provider of the same category.
	SaveProvider(ctx context.Context, p *Provider) error
	ListProviders(ctx context.Context, category *domain.Category) ([]Provider, error)
}

var reporterColumns = []string{
	"id", "COALESCE(email, '')", "COALESCE(phone, '')", "name", "phone_secondary",
	"community_name", "address", "floor_door", "is_active", "created_at", "updated_at",
}

var providerColumns = []string{
	"id", "name", "contact_person", "category", "email", "phone", "phone_emergency",
	"is_default", "is_active", "created_at", "updated_at",
}

// PostgresRepository implements Repository on PostgreSQL
type PostgresRepository struct {
	db  database.TxQuerier
	log *slog.Logger
}

// NewPostgresRepository creates a new directory repository
func NewPostgresRepository(db database.TxQuerier, log *slog.Logger) *PostgresRepository {
	return &PostgresRepository{db: db, log: log.With("component", "directory_repository")}
}

// --- Reporter Operations ---

func (r *PostgresRepository) FindReporterByID(ctx context.Context, id types.ID) (*Reporter, error) {
	return r.findReporter(ctx, squirrel.Eq{"id": id}, id.String())
}

func (r *PostgresRepository) FindReporterByEmail(ctx context.Context, email string) (*Reporter, error) {
	return r.findReporter(ctx, squirrel.Eq{"LOWER(email)": strings.ToLower(email)}, email)
}

func (r *PostgresRepository) FindReporterByPhone(ctx context.Context, phones []string) (*Reporter, error) {
	if len(phones) == 0 {
		return nil, errors.NotFound("reporter", "")
	}
	return r.findReporter(ctx, squirrel.Eq{"phone": phones}, phones[0])
}

func (r *PostgresRepository) findReporter(ctx context.Context, where squirrel.Sqlizer, key string) (*Reporter, error) {
	query, args, err := database.SQL.Select(reporterColumns...).From("reporters").Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build select")
	}

	rep := &Reporter{}
	err = r.db.QueryRow(ctx, query, args...).Scan(
		&rep.ID, &rep.Email, &rep.Phone, &rep.Name, &rep.PhoneSecondary,
		&rep.CommunityName, &rep.Address, &rep.FloorDoor, &rep.IsActive, &rep.CreatedAt, &rep.UpdatedAt,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("reporter", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find reporter")
	}
	return rep, nil
}

// CreateReporter inserts a reporter; a taken email or phone is a Conflict
func (r *PostgresRepository) CreateReporter(ctx context.Context, rep *Reporter) error {
	query, args, err := database.SQL.Insert("reporters").
		Columns("id", "email", "phone", "name", "phone_secondary", "community_name", "address", "floor_door", "is_active", "created_at", "updated_at").
		Values(rep.ID, nullable(rep.Email), nullable(rep.Phone), rep.Name, rep.PhoneSecondary,
			rep.CommunityName, rep.Address, rep.FloorDoor, rep.IsActive, rep.CreatedAt, rep.UpdatedAt).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build insert")
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict("reporter with this contact already exists")
		}
		return errors.Wrap(err, "failed to create reporter")
	}
	return nil
}

func (r *PostgresRepository) UpdateReporter(ctx context.Context, rep *Reporter) error {
	query, args, err := database.SQL.Update("reporters").SetMap(map[string]any{
		"email":           nullable(rep.Email),
		"phone":           nullable(rep.Phone),
		"name":            rep.Name,
		"phone_secondary": rep.PhoneSecondary,
		"community_name":  rep.CommunityName,
		"address":         rep.Address,
		"floor_door":      rep.FloorDoor,
		"is_active":       rep.IsActive,
		"updated_at":      rep.UpdatedAt,
	}).Where(squirrel.Eq{"id": rep.ID}).ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build update")
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict("reporter with this contact already exists")
		}
		return errors.Wrap(err, "failed to update reporter")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("reporter", rep.ID.String())
	}
	return nil
}

// --- Provider Operations ---

func (r *PostgresRepository) GetProvider(ctx context.Context, id types.ID) (*Provider, error) {
	return r.findProvider(ctx, squirrel.Eq{"id": id}, id.String())
}

func (r *PostgresRepository) FindProviderByIdentity(ctx context.Context, email string, phones []string) (*Provider, error) {
	match := squirrel.Or{}
	if email != "" {
		match = append(match, squirrel.Eq{"LOWER(email)": strings.ToLower(email)})
	}
	if len(phones) > 0 {
		match = append(match, squirrel.Eq{"phone": phones}, squirrel.Eq{"phone_emergency": phones})
	}
	if len(match) == 0 {
		return nil, errors.NotFound("provider", "")
	}
	return r.findProvider(ctx, squirrel.And{squirrel.Eq{"is_active": true}, match}, email)
}

func (r *PostgresRepository) DefaultProvider(ctx context.Context, category domain.Category) (*Provider, error) {
	return r.findProvider(ctx, squirrel.Eq{"category": category, "is_default": true, "is_active": true}, string(category))
}

func (r *PostgresRepository) findProvider(ctx context.Context, where squirrel.Sqlizer, key string) (*Provider, error) {
	query, args, err := database.SQL.Select(providerColumns...).From("providers").Where(where).
		OrderBy("updated_at DESC").Limit(1).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build select")
	}

	p, err := scanProvider(r.db.QueryRow(ctx, query, args...))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("provider", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find provider")
	}
	return p, nil
}

func (r *PostgresRepository) SaveProvider(ctx context.Context, p *Provider) error {
	return database.InTx(ctx, r.db, func(tx pgx.Tx) error {
		if p.IsDefault {
			query, args, err := database.SQL.Update("providers").
				Set("is_default", false).
				Set("updated_at", p.UpdatedAt).
				Where(squirrel.Eq{"category": p.Category, "is_default": true}).
				Where(squirrel.NotEq{"id": p.ID}).
				ToSql()
			if err != nil {
				return errors.Wrap(err, "failed to build update")
			}
			if _, err := tx.Exec(ctx, query, args...); err != nil {
				return errors.Wrap(err, "failed to clear default providers")
			}
		}

		query, args, err := database.SQL.Insert("providers").Columns(providerColumns...).Values(
			p.ID, p.Name, p.ContactPerson, p.Category, strings.ToLower(p.Email), p.Phone, p.PhoneEmergency,
			p.IsDefault, p.IsActive, p.CreatedAt, p.UpdatedAt,
		).Suffix(`ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, contact_person = EXCLUDED.contact_person, category = EXCLUDED.category,
			email = EXCLUDED.email, phone = EXCLUDED.phone, phone_emergency = EXCLUDED.phone_emergency,
			is_default = EXCLUDED.is_default, is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at`).
			ToSql()
		if err != nil {
			return errors.Wrap(err, "failed to build upsert")
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return errors.Wrap(err, "failed to save provider")
		}
		return nil
	})
}

func (r *PostgresRepository) ListProviders(ctx context.Context, category *domain.Category) ([]Provider, error) {
	q := database.SQL.Select(providerColumns...).From("providers").OrderBy("category", "name")
	if category != nil {
		q = q.Where(squirrel.Eq{"category": *category})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build select")
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list providers")
	}
	defer rows.Close()

	var providers []Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan provider")
		}
		providers = append(providers, *p)
	}
	return providers, rows.Err()
}

func scanProvider(row pgx.Row) (*Provider, error) {
	p := &Provider{}
	err := row.Scan(
		&p.ID, &p.Name, &p.ContactPerson, &p.Category, &p.Email, &p.Phone, &p.PhoneEmergency,
		&p.IsDefault, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Repository = (*PostgresRepository)(nil)
