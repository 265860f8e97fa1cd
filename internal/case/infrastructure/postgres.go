package infrastructure

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/fincasdesk/platform/internal/case/domain"
	"github.com/fincasdesk/platform/internal/shared/database"
	"github.com/fincasdesk/platform/internal/shared/errors"
	"github.com/fincasdesk/platform/internal/shared/types"
)

var caseColumns = []string{
	"id", "code", "subject", "description", "status", "category", "priority", "channel",
	"reporter_id", "reporter_email", "reporter_name", "reporter_phone",
	"assigned_provider_id", "community_name", "address", "location_detail",
	"analysis_context", "created_at", "updated_at", "closed_at",
}

var messageColumns = []string{
	"id", "case_id", "external_id", "in_reply_to", "refs", "direction", "channel",
	"from_address", "from_name", "to_address", "subject", "body", "received_at",
}

// PostgresRepository implements domain.Repository and domain.MessageRepository
type PostgresRepository struct {
	db  database.Querier
	log *slog.Logger
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db database.Querier, log *slog.Logger) *PostgresRepository {
	return &PostgresRepository{db: db, log: log.With("component", "case_repository")}
}

// Save inserts a new case row. Events are flushed separately through AddEvent.
func (r *PostgresRepository) Save(ctx context.Context, c *domain.Case) error {
	analysis, err := c.Analysis.Encode()
	if err != nil {
		return errors.Wrap(err, "failed to encode analysis context")
	}

	query, args, err := database.SQL.Insert("cases").Columns(caseColumns...).Values(
		c.ID, c.Code, c.Subject, c.Description, c.Status, c.Category, c.Priority, c.Channel,
		c.ReporterID, c.ReporterEmail, c.ReporterName, c.ReporterPhone,
		c.AssignedProviderID, c.CommunityName, c.Address, c.LocationDetail,
		analysis, c.CreatedAt, c.UpdatedAt, c.ClosedAt,
	).ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build insert")
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict("case code already exists")
		}
		return errors.Wrap(err, "failed to save case")
	}
	return nil
}

// Update writes the mutable columns of a case
func (r *PostgresRepository) Update(ctx context.Context, c *domain.Case) error {
	analysis, err := c.Analysis.Encode()
	if err != nil {
		return errors.Wrap(err, "failed to encode analysis context")
	}

	query, args, err := database.SQL.Update("cases").SetMap(map[string]any{
		"subject":              c.Subject,
		"description":          c.Description,
		"status":               c.Status,
		"category":             c.Category,
		"priority":             c.Priority,
		"reporter_name":        c.ReporterName,
		"reporter_phone":       c.ReporterPhone,
		"assigned_provider_id": c.AssignedProviderID,
		"community_name":       c.CommunityName,
		"address":              c.Address,
		"location_detail":      c.LocationDetail,
		"analysis_context":     analysis,
		"updated_at":           c.UpdatedAt,
		"closed_at":            c.ClosedAt,
	}).Where(squirrel.Eq{"id": c.ID}).ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build update")
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update case")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("case", c.ID.String())
	}
	return nil
}

// FindByID finds a case by ID
func (r *PostgresRepository) FindByID(ctx context.Context, id types.ID) (*domain.Case, error) {
	return r.findOne(ctx, squirrel.Eq{"id": id}, id.String())
}

// FindByCode finds a case by its INC-XXXXXX code
func (r *PostgresRepository) FindByCode(ctx context.Context, code string) (*domain.Case, error) {
	return r.findOne(ctx, squirrel.Eq{"code": code}, code)
}

func (r *PostgresRepository) findOne(ctx context.Context, where squirrel.Sqlizer, key string) (*domain.Case, error) {
	query, args, err := database.SQL.Select(caseColumns...).From("cases").Where(where).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build select")
	}

	c, err := r.scanCase(r.db.QueryRow(ctx, query, args...))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("case", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find case")
	}
	return c, nil
}

func (r *PostgresRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	query, args, err := database.SQL.Select("1").From("cases").Where(squirrel.Eq{"code": code}).Limit(1).ToSql()
	if err != nil {
		return false, errors.Wrap(err, "failed to build select")
	}
	var one int
	err = r.db.QueryRow(ctx, query, args...).Scan(&one)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to check case code")
	}
	return true, nil
}

func (r *PostgresRepository) FindOpenByReporterEmail(ctx context.Context, email string, since time.Time) ([]*domain.Case, error) {
	query, args, err := database.SQL.Select(caseColumns...).From("cases").
		Where(squirrel.Eq{"reporter_email": email}).
		Where(squirrel.NotEq{"status": domain.StatusClosed}).
		Where(squirrel.GtOrEq{"created_at": since}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build select")
	}
	return r.queryCases(ctx, query, args)
}

func (r *PostgresRepository) FindLatestOpenByPhone(ctx context.Context, phones []string) (*domain.Case, error) {
	if len(phones) == 0 {
		return nil, nil
	}
	query, args, err := database.SQL.Select(caseColumns...).From("cases").
		Where(squirrel.Eq{"reporter_phone": phones}).
		Where(squirrel.NotEq{"status": domain.StatusClosed}).
		OrderBy("updated_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build select")
	}
	cases, err := r.queryCases(ctx, query, args)
	if err != nil || len(cases) == 0 {
		return nil, err
	}
	return cases[0], nil
}

// List returns cases matching the filter and the total count
func (r *PostgresRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Case, int, error) {
	where := squirrel.And{}
	if filter.Status != nil {
		where = append(where, squirrel.Eq{"status": *filter.Status})
	}
	if filter.Category != nil {
		where = append(where, squirrel.Eq{"category": *filter.Category})
	}
	if filter.Priority != nil {
		where = append(where, squirrel.Eq{"priority": *filter.Priority})
	}
	if filter.Channel != nil {
		where = append(where, squirrel.Eq{"channel": *filter.Channel})
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		where = append(where, squirrel.Or{
			squirrel.ILike{"code": like},
			squirrel.ILike{"subject": like},
			squirrel.ILike{"reporter_email": like},
			squirrel.ILike{"reporter_name": like},
		})
	}

	countQuery, countArgs, err := database.SQL.Select("COUNT(*)").From("cases").Where(where).ToSql()
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to build count")
	}
	var total int
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count cases")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query, args, err := database.SQL.Select(caseColumns...).From("cases").Where(where).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(max(filter.Offset, 0))).
		ToSql()
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to build select")
	}

	found, err := r.queryCases(ctx, query, args)
	if err != nil {
		return nil, 0, err
	}
	cases := make([]domain.Case, 0, len(found))
	for _, c := range found {
		cases = append(cases, *c)
	}
	return cases, total, nil
}

// AddEvent appends a case event
func (r *PostgresRepository) AddEvent(ctx context.Context, e *domain.CaseEvent) error {
	var data []byte
	if e.Data != nil {
		var err error
		if data, err = json.Marshal(e.Data); err != nil {
			return errors.Wrap(err, "failed to marshal event data")
		}
	}

	query, args, err := database.SQL.Insert("case_events").
		Columns("id", "case_id", "event_type", "description", "data", "actor", "created_at").
		Values(e.ID, e.CaseID, e.Type, e.Description, data, e.Actor, e.Timestamp).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build insert")
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return errors.Wrap(err, "failed to save event")
	}
	return nil
}

// GetEvents returns the timeline of a case, oldest first
func (r *PostgresRepository) GetEvents(ctx context.Context, caseID types.ID, limit, offset int) ([]domain.CaseEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query, args, err := database.SQL.
		Select("id", "case_id", "event_type", "description", "data", "actor", "created_at").
		From("case_events").
		Where(squirrel.Eq{"case_id": caseID}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		Offset(uint64(max(offset, 0))).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build select")
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query events")
	}
	defer rows.Close()

	var events []domain.CaseEvent
	for rows.Next() {
		var e domain.CaseEvent
		var data []byte
		if err := rows.Scan(&e.ID, &e.CaseID, &e.Type, &e.Description, &data, &e.Actor, &e.Timestamp); err != nil {
			return nil, errors.Wrap(err, "failed to scan event")
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, errors.Wrap(err, "failed to decode event data")
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SaveMessage stores a message; a repeated external id is a Conflict
func (r *PostgresRepository) SaveMessage(ctx context.Context, m *domain.Message) error {
	refs := m.References
	if refs == nil {
		refs = []string{}
	}
	query, args, err := database.SQL.Insert("case_messages").Columns(messageColumns...).Values(
		m.ID, m.CaseID, m.ExternalID, m.InReplyTo, refs, m.Direction, m.Channel,
		m.From, m.FromName, m.To, m.Subject, m.Body, m.ReceivedAt,
	).ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build insert")
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Conflict("message already processed")
		}
		return errors.Wrap(err, "failed to save message")
	}
	return nil
}

func (r *PostgresRepository) FindMessageByExternalID(ctx context.Context, externalID string) (*domain.Message, error) {
	query, args, err := database.SQL.Select(messageColumns...).From("case_messages").
		Where(squirrel.Eq{"external_id": externalID}).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build select")
	}

	m, err := scanMessage(r.db.QueryRow(ctx, query, args...))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("message", externalID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find message")
	}
	return m, nil
}

func (r *PostgresRepository) MessageExists(ctx context.Context, externalID string) (bool, error) {
	query, args, err := database.SQL.Select("1").From("case_messages").
		Where(squirrel.Eq{"external_id": externalID}).Limit(1).ToSql()
	if err != nil {
		return false, errors.Wrap(err, "failed to build select")
	}
	var one int
	err = r.db.QueryRow(ctx, query, args...).Scan(&one)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to check message")
	}
	return true, nil
}

func (r *PostgresRepository) ListMessages(ctx context.Context, caseID types.ID) ([]domain.Message, error) {
	query, args, err := database.SQL.Select(messageColumns...).From("case_messages").
		Where(squirrel.Eq{"case_id": caseID}).
		OrderBy("received_at ASC").ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build select")
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query messages")
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) LastInbound(ctx context.Context, caseID types.ID) (*domain.Message, error) {
	query, args, err := database.SQL.Select(messageColumns...).From("case_messages").
		Where(squirrel.Eq{"case_id": caseID, "direction": domain.DirectionInbound}).
		OrderBy("received_at DESC").Limit(1).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build select")
	}

	m, err := scanMessage(r.db.QueryRow(ctx, query, args...))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find last inbound message")
	}
	return m, nil
}

func (r *PostgresRepository) queryCases(ctx context.Context, query string, args []any) ([]*domain.Case, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query cases")
	}
	defer rows.Close()

	var cases []*domain.Case
	for rows.Next() {
		c, err := r.scanCase(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan case")
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// scanCase reads one case row. A corrupt analysis context is dropped and
// logged; the case stays usable and the next analysis rebuilds it.
func (r *PostgresRepository) scanCase(row pgx.Row) (*domain.Case, error) {
	c := &domain.Case{}
	var analysis []byte
	err := row.Scan(
		&c.ID, &c.Code, &c.Subject, &c.Description, &c.Status, &c.Category, &c.Priority, &c.Channel,
		&c.ReporterID, &c.ReporterEmail, &c.ReporterName, &c.ReporterPhone,
		&c.AssignedProviderID, &c.CommunityName, &c.Address, &c.LocationDetail,
		&analysis, &c.CreatedAt, &c.UpdatedAt, &c.ClosedAt,
	)
	if err != nil {
		return nil, err
	}

	ac, err := domain.DecodeAnalysisContext(analysis)
	if err != nil {
		r.log.Warn("discarding invalid analysis context", "case_code", c.Code, "error", err)
	}
	c.Analysis = ac
	return c, nil
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	m := &domain.Message{}
	err := row.Scan(
		&m.ID, &m.CaseID, &m.ExternalID, &m.InReplyTo, &m.References, &m.Direction, &m.Channel,
		&m.From, &m.FromName, &m.To, &m.Subject, &m.Body, &m.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

var (
	_ domain.Repository        = (*PostgresRepository)(nil)
	_ domain.MessageRepository = (*PostgresRepository)(nil)
)
