package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fincasdesk/platform/internal/case/domain"
	"github.com/fincasdesk/platform/internal/shared/auth"
	"github.com/fincasdesk/platform/internal/shared/errors"
	"github.com/fincasdesk/platform/internal/shared/types"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Lifecycle is the set of case operations exposed to administrators
type Lifecycle interface {
	Transition(ctx context.Context, c *domain.Case, to domain.Status, actor, reason string) error
	Close(ctx context.Context, c *domain.Case, actor, resolution string) error
	Escalate(ctx context.Context, c *domain.Case, actor, reason string) error
	AssignProvider(ctx context.Context, c *domain.Case, providerID types.ID, actor string) error
}

// Handler provides HTTP handlers for the case module
type Handler struct {
	cases     domain.Repository
	messages  domain.MessageRepository
	lifecycle Lifecycle
}

// NewHandler creates a new case handler
func NewHandler(cases domain.Repository, messages domain.MessageRepository, lc Lifecycle) *Handler {
	return &Handler{cases: cases, messages: messages, lifecycle: lc}
}

// Routes registers the case routes. {caseRef} is a case code or id.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListCases)

	r.Route("/{caseRef}", func(r chi.Router) {
		r.Get("/", h.GetCase)

		// Status transitions
		r.Post("/status", h.ChangeStatus)
		r.Post("/close", h.CloseCase)
		r.Post("/escalate", h.EscalateCase)
		r.Post("/assign", h.AssignProvider)

		// Timeline
		r.Get("/events", h.GetEvents)
		r.Get("/messages", h.GetMessages)
	})

	return r
}

// --- Request types ---

type ChangeStatusRequest struct {
	Status domain.Status `json:"status"`
	Reason string        `json:"reason"`
}

type CloseCaseRequest struct {
	Resolution string `json:"resolution"`
}

type EscalateCaseRequest struct {
	Reason string `json:"reason"`
}

type AssignProviderRequest struct {
	ProviderID types.ID `json:"provider_id"`
}

// --- Handlers ---

func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ListFilter{
		Search: q.Get("search"),
		Limit:  intParam(q.Get("limit"), defaultPageSize),
		Offset: intParam(q.Get("offset"), 0),
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}

	if s := q.Get("status"); s != "" {
		status, err := domain.ParseStatus(s)
		if err != nil {
			writeError(w, errors.BadRequest(err.Error()))
			return
		}
		filter.Status = &status
	}
	if c := q.Get("category"); c != "" {
		category := domain.Category(strings.ToUpper(c))
		if !category.Valid() {
			writeError(w, errors.BadRequest("invalid category"))
			return
		}
		filter.Category = &category
	}
	if p := q.Get("priority"); p != "" {
		priority := domain.Priority(strings.ToUpper(p))
		if !priority.Valid() {
			writeError(w, errors.BadRequest("invalid priority"))
			return
		}
		filter.Priority = &priority
	}
	if ch := q.Get("channel"); ch != "" {
		channel := domain.Channel(strings.ToUpper(ch))
		if !channel.Valid() {
			writeError(w, errors.BadRequest("invalid channel"))
			return
		}
		filter.Channel = &channel
	}

	cases, total, err := h.cases.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  cases,
		"total": total,
	})
}

func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	c := h.getCase(w, r)
	if c == nil {
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	c := h.getCase(w, r)
	if c == nil {
		return
	}

	var req ChangeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if !req.Status.Valid() {
		writeError(w, errors.BadRequest("invalid status"))
		return
	}

	if err := h.lifecycle.Transition(r.Context(), c, req.Status, auth.Actor(r.Context()), req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) CloseCase(w http.ResponseWriter, r *http.Request) {
	c := h.getCase(w, r)
	if c == nil {
		return
	}

	var req CloseCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if err := h.lifecycle.Close(r.Context(), c, auth.Actor(r.Context()), req.Resolution); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) EscalateCase(w http.ResponseWriter, r *http.Request) {
	c := h.getCase(w, r)
	if c == nil {
		return
	}

	var req EscalateCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeError(w, errors.Validation("validation failed", map[string]string{"reason": "is required"}))
		return
	}

	if err := h.lifecycle.Escalate(r.Context(), c, auth.Actor(r.Context()), req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) AssignProvider(w http.ResponseWriter, r *http.Request) {
	c := h.getCase(w, r)
	if c == nil {
		return
	}

	var req AssignProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if req.ProviderID.IsZero() {
		writeError(w, errors.BadRequest("provider_id is required"))
		return
	}

	if err := h.lifecycle.AssignProvider(r.Context(), c, req.ProviderID, auth.Actor(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	c := h.getCase(w, r)
	if c == nil {
		return
	}

	q := r.URL.Query()
	events, err := h.cases.GetEvents(r.Context(), c.ID, intParam(q.Get("limit"), defaultPageSize), intParam(q.Get("offset"), 0))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  events,
		"total": len(events),
	})
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	c := h.getCase(w, r)
	if c == nil {
		return
	}

	messages, err := h.messages.ListMessages(r.Context(), c.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  messages,
		"total": len(messages),
	})
}

// --- Helpers ---

// getCase loads the case named in the URL, writing the error response when
// it cannot
func (h *Handler) getCase(w http.ResponseWriter, r *http.Request) *domain.Case {
	ref := strings.TrimSpace(chi.URLParam(r, "caseRef"))

	var (
		c   *domain.Case
		err error
	)
	if code := strings.ToUpper(ref); domain.CodePattern.MatchString(code) {
		c, err = h.cases.FindByCode(r.Context(), code)
	} else {
		id, perr := types.ParseID(ref)
		if perr != nil {
			writeError(w, errors.BadRequest("invalid case reference"))
			return nil
		}
		c, err = h.cases.FindByID(r.Context(), id)
	}
	if err != nil {
		writeError(w, err)
		return nil
	}
	return c
}

func intParam(raw string, def int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
