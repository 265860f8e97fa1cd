package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fincasdesk/platform/internal/case/domain"
	"github.com/fincasdesk/platform/internal/lifecycle"
	"github.com/fincasdesk/platform/internal/shared/config"
	"github.com/fincasdesk/platform/internal/shared/errors"
	"github.com/fincasdesk/platform/internal/shared/middleware"
)

const maxPayloadBytes = 2 << 20

var validate *validator.Validate

func init() {
	validate = validator.New()

	// report fields by their JSON names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Processor runs one inbound message through the pipeline
type Processor interface {
	Process(ctx context.Context, msg domain.InboundMessage) (Outcome, error)
}

// Handler exposes the inbound webhooks
type Handler struct {
	pipeline Processor
	limiter  *middleware.IPRateLimiter
}

// NewHandler creates the webhook handler with per-IP rate limiting
func NewHandler(pipeline Processor, cfg config.IntakeConfig) *Handler {
	return &Handler{
		pipeline: pipeline,
		limiter:  middleware.NewIPRateLimiter(cfg.WebhookRPS, cfg.WebhookBurst),
	}
}

// Routes registers the intake routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.limiter.Middleware)

	r.Post("/email", h.Email)
	r.Post("/chat", h.Chat)
	r.Post("/web", h.Web)

	return r
}

// --- Response types ---

// Response is the answer to every intake webhook
type Response struct {
	Outcome    string   `json:"outcome"`
	CaseCode   string   `json:"case_code,omitempty"`
	Status     string   `json:"status,omitempty"`
	StatusText string   `json:"status_text,omitempty"`
	Rule       string   `json:"rule,omitempty"`
	Reply      string   `json:"reply,omitempty"`
	Questions  []string `json:"questions,omitempty"`
}

func newResponse(out Outcome) Response {
	resp := Response{Outcome: out.label(), Rule: string(out.Rule), Reply: out.Reply}
	if out.Case != nil {
		resp.CaseCode = out.Case.Code
		resp.Status = string(out.Case.Status)
		resp.Questions = FollowUpQuestions(out.Case)
	}
	if len(resp.Questions) > 0 && resp.Reply != "" {
		resp.Reply += "\n" + numbered(resp.Questions)
	}
	return resp
}

// --- Handlers ---

// Email receives one message from the mail relay
func (h *Handler) Email(w http.ResponseWriter, r *http.Request) {
	var payload EmailPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}
	if payload.MessageID == "" || payload.From == "" {
		writeError(w, errors.BadRequest("message_id and from are required"))
		return
	}

	out, err := h.pipeline.Process(r.Context(), FromEmail(payload))
	if err != nil {
		writeError(w, err)
		return
	}
	// mail is answered by the lifecycle, not in the response
	resp := newResponse(out)
	resp.Reply = ""
	writeJSON(w, http.StatusOK, resp)
}

// Chat receives a form-encoded chat gateway webhook. ?channel=sms marks
// SMS traffic.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, errors.BadRequest("invalid form body"))
		return
	}

	payload := ChatPayload{
		MessageSid:  r.PostFormValue("MessageSid"),
		From:        r.PostFormValue("From"),
		To:          r.PostFormValue("To"),
		Body:        r.PostFormValue("Body"),
		ProfileName: r.PostFormValue("ProfileName"),
	}
	if payload.MessageSid == "" || payload.From == "" {
		writeError(w, errors.BadRequest("MessageSid and From are required"))
		return
	}
	if strings.TrimSpace(payload.Body) == "" {
		writeJSON(w, http.StatusOK, Response{Outcome: outcomeIgnored})
		return
	}

	channel := domain.ChannelChat
	if strings.EqualFold(r.URL.Query().Get("channel"), "sms") {
		channel = domain.ChannelSMS
	}

	out, err := h.pipeline.Process(r.Context(), FromChat(payload, channel))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newResponse(out))
}

// Web receives an incident form submission
func (h *Handler) Web(w http.ResponseWriter, r *http.Request) {
	var form WebForm
	if err := decodeJSON(w, r, &form); err != nil {
		writeError(w, err)
		return
	}
	if err := validateStruct(form); err != nil {
		writeError(w, err)
		return
	}

	out, err := h.pipeline.Process(r.Context(), FromWebForm(form))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := newResponse(out)
	resp.Reply = ""
	if out.Case != nil {
		resp.StatusText = lifecycle.StatusText(out.Case.Status)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// --- Helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err := dec.Decode(dst); err != nil {
		return errors.BadRequest("invalid request body")
	}
	return nil
}

func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.BadRequest(err.Error())
	}

	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fieldMessage(fe)
	}
	return errors.Validation("validation failed", details)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_without":
		return "email or phone is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}

func numbered(items []string) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = fmt.Sprintf("%d. %s", i+1, it)
	}
	return strings.Join(lines, "\n")
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
