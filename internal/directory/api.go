package directory

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fincasdesk/platform/internal/case/domain"
	"github.com/fincasdesk/platform/internal/shared/errors"
	"github.com/fincasdesk/platform/internal/shared/types"
)

// Handler provides HTTP handlers for providers and reporters
type Handler struct {
	svc *Service
}

// NewHandler creates a new directory handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the directory routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/providers", func(r chi.Router) {
		r.Get("/", h.ListProviders)
		r.Post("/", h.CreateProvider)
		r.Route("/{providerID}", func(r chi.Router) {
			r.Get("/", h.GetProvider)
			r.Put("/", h.UpdateProvider)
		})
	})

	r.Get("/reporters/{reporterID}", h.GetReporter)

	return r
}

// ProviderRequest is the body of provider create and update calls
type ProviderRequest struct {
	Name           string          `json:"name"`
	ContactPerson  string          `json:"contact_person"`
	Category       domain.Category `json:"category"`
	Email          string          `json:"email"`
	Phone          string          `json:"phone"`
	PhoneEmergency string          `json:"phone_emergency"`
	IsDefault      bool            `json:"is_default"`
	IsActive       *bool           `json:"is_active"`
}

func (req ProviderRequest) apply(p *Provider) {
	p.Name = req.Name
	p.ContactPerson = req.ContactPerson
	p.Category = req.Category
	p.Email = req.Email
	p.Phone = req.Phone
	p.PhoneEmergency = req.PhoneEmergency
	p.IsDefault = req.IsDefault
	p.IsActive = req.IsActive == nil || *req.IsActive
}

// ListProviders lists providers, optionally by category
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	var category *domain.Category
	if c := r.URL.Query().Get("category"); c != "" {
		cat := domain.Category(c)
		if !cat.Valid() {
			writeError(w, errors.BadRequest("invalid category"))
			return
		}
		category = &cat
	}

	providers, err := h.svc.ListProviders(r.Context(), category)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  providers,
		"total": len(providers),
	})
}

func (h *Handler) GetProvider(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "providerID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid provider ID"))
		return
	}
	p, err := h.svc.Provider(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) CreateProvider(w http.ResponseWriter, r *http.Request) {
	var req ProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	p := &Provider{}
	req.apply(p)
	if err := h.svc.SaveProvider(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) UpdateProvider(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "providerID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid provider ID"))
		return
	}

	var req ProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	p, err := h.svc.Provider(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	req.apply(p)
	if err := h.svc.SaveProvider(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) GetReporter(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "reporterID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid reporter ID"))
		return
	}
	rep, err := h.svc.Reporter(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// --- Helpers ---

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
