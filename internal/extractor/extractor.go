package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/fincasdesk/platform/internal/ai"
	"github.com/fincasdesk/platform/internal/case/domain"
	"github.com/fincasdesk/platform/internal/shared/metrics"
)

// Request is the input of one analysis
type Request struct {
	Subject        string
	Body           string
	SenderIdentity string
	SenderName     string
	// Known holds facts already on the case or the reporter profile
	Known domain.Facts
	// History is the prior conversation, oldest first
	History []domain.Turn
}

// Extractor decides whether a report carries enough information and
// classifies it. Every failure of the completion provider falls back to the
// keyword classifier; no method returns an error.
type Extractor struct {
	completer  ai.Completer
	classifier *Classifier
	log        *slog.Logger
}

// New creates an extractor. A nil completer runs on the keyword classifier
// only.
func New(completer ai.Completer, classifier *Classifier, log *slog.Logger) *Extractor {
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	return &Extractor{completer: completer, classifier: classifier, log: log.With("component", "extractor")}
}

func (e *Extractor) Classifier() *Classifier { return e.classifier }

// Analyze runs the first analysis of a report
func (e *Extractor) Analyze(ctx context.Context, req Request) domain.Analysis {
	known := domain.Facts{}.Merge(req.Known)

	if e.completer != nil {
		messages := historyMessages(req.History)
		messages = append(messages, ai.Message{Role: ai.RoleUser, Content: buildAnalysisPrompt(req)})

		parsed, err := e.complete(ctx, messages)
		if err == nil {
			a := parsed.toAnalysis(domain.CategoryOther)
			a.Facts = a.Facts.Merge(known)
			a = e.finalize(a, a.Facts)
			metrics.RecordExtraction("analyze", string(a.Source))
			return a
		}
		e.log.Warn("ai analysis failed, using keyword fallback", "error", err)
	}

	a := e.Fallback(req)
	metrics.RecordExtraction("analyze", string(a.Source))
	return a
}

// Fallback is the deterministic analysis. It only looks at the current
// message and the known facts.
func (e *Extractor) Fallback(req Request) domain.Analysis {
	category, priority := e.classifier.Classify(req.Subject, req.Body)
	text := req.Subject + "\n" + req.Body

	facts := domain.Facts{}
	facts.Set(domain.FieldReporterName, req.SenderName)
	if !domain.IsPlaceholderEmail(req.SenderIdentity) {
		facts.Set(domain.FieldReporterContact, req.SenderIdentity)
	}
	facts.Set(domain.FieldProblemDescription, truncateRunes(strings.TrimSpace(req.Body), 500))
	facts.Set(domain.FieldCommunityName, e.classifier.Community(req.SenderIdentity, req.Body))
	facts.Merge(req.Known)

	var missing []string
	if !facts.Has(domain.FieldReporterName) {
		missing = append(missing, domain.FieldReporterName)
	}
	if !facts.Has(domain.FieldAddress) && !e.classifier.MentionsAddress(text) {
		missing = append(missing, domain.FieldAddress)
	}
	if !facts.Has(domain.FieldLocationDetail) && !e.classifier.MentionsLocation(text) {
		missing = append(missing, domain.FieldLocationDetail)
	}

	summary := strings.TrimSpace(req.Subject)
	if summary == "" {
		summary = truncateRunes(strings.TrimSpace(req.Body), 80)
	}

	return e.finalize(domain.Analysis{
		Category:      category,
		Priority:      priority,
		MissingFields: missing,
		Facts:         facts,
		Summary:       summary,
		Source:        domain.SourceFallback,
	}, facts)
}

// ProcessFollowUp re-runs the analysis on a reply, seeded with the previous
// analysis so known facts are not requested again.
func (e *Extractor) ProcessFollowUp(ctx context.Context, prior domain.Analysis, message string, history []domain.Turn, known domain.Facts) domain.Analysis {
	seed := domain.Facts{}.Merge(known).Merge(prior.Facts)

	if e.completer != nil {
		messages := historyMessages(history)
		messages = append(messages, ai.Message{Role: ai.RoleUser, Content: buildFollowUpPrompt(prior, message, known)})

		parsed, err := e.complete(ctx, messages)
		if err == nil {
			a := parsed.toAnalysis(prior.Category)
			if parsed.Priority == "" {
				a.Priority = prior.Priority
			}
			if a.Summary == "" {
				a.Summary = prior.Summary
			}
			a.Facts = a.Facts.Merge(seed)
			a = e.finalize(a, a.Facts)
			metrics.RecordExtraction("follow_up", string(a.Source))
			return a
		}
		e.log.Warn("ai follow-up failed, using keyword fallback", "error", err)
	}

	a := e.followUpFallback(prior, message, seed)
	metrics.RecordExtraction("follow_up", string(a.Source))
	return a
}

// followUpFallback re-checks the fields the keyword classifier can see.
// Fields it cannot evaluate stay open while any checkable field is missing;
// once none is, they are assumed answered together and the result is marked
// as assumed complete. That is the degraded last resort and is logged as such.
func (e *Extractor) followUpFallback(prior domain.Analysis, message string, seed domain.Facts) domain.Analysis {
	open := pruneMissing(prior.MissingFields, seed)

	var checkable, unchecked []string
	for _, key := range open {
		switch key {
		case domain.FieldAddress:
			if !e.classifier.MentionsAddress(message) {
				checkable = append(checkable, key)
			}
		case domain.FieldLocationDetail:
			if !e.classifier.MentionsLocation(message) {
				checkable = append(checkable, key)
			}
		default:
			unchecked = append(unchecked, key)
		}
	}

	a := domain.Analysis{
		Category: prior.Category,
		Priority: prior.Priority,
		Facts:    seed,
		Summary:  prior.Summary,
		Source:   domain.SourceFallback,
	}
	if !a.Category.Valid() {
		a.Category = e.classifier.CategoryOf(message)
	}
	if !a.Priority.Valid() {
		a.Priority = domain.PriorityMedium
	}

	switch {
	case len(checkable) > 0:
		// keep prior order so questions are asked the same way
		for _, key := range open {
			if slices.Contains(checkable, key) || slices.Contains(unchecked, key) {
				a.MissingFields = append(a.MissingFields, key)
			}
		}
	case len(unchecked) > 0:
		a.Source = domain.SourceAssumedComplete
		e.log.Warn("degraded follow-up: assuming reply answered the open questions", "assumed_fields", unchecked)
	}
	return e.finalize(a, seed)
}

// IsNewIncident decides whether a chat reply describes a different problem
// than the open case. It asks the completion provider first and falls back
// to keywords.
func (e *Extractor) IsNewIncident(ctx context.Context, c *domain.Case, message string) (bool, string) {
	if e.completer != nil {
		raw, err := e.completer.CompleteJSON(ctx, newIncidentSystemPrompt, []ai.Message{
			{Role: ai.RoleUser, Content: buildNewIncidentPrompt(c, message)},
		})
		if err == nil {
			var out struct {
				IsNew  *bool  `json:"is_new"`
				Reason string `json:"reason"`
			}
			if err = json.Unmarshal([]byte(raw), &out); err == nil && out.IsNew == nil {
				err = errors.New("missing is_new")
			}
			if err == nil {
				metrics.RecordExtraction("new_incident", string(domain.SourceAI))
				return *out.IsNew, out.Reason
			}
		}
		e.log.Warn("ai new-incident check failed, using keyword fallback", "case_code", c.Code, "error", err)
	}

	metrics.RecordExtraction("new_incident", string(domain.SourceFallback))
	return e.newIncidentFallback(c, message)
}

func (e *Extractor) newIncidentFallback(c *domain.Case, message string) (bool, string) {
	if phrase, ok := e.classifier.MentionsAdditionalProblem(message); ok {
		return true, fmt.Sprintf("contiene %q", phrase)
	}
	if cat := e.classifier.CategoryOf(message); cat != domain.CategoryOther && cat != c.Category {
		return true, fmt.Sprintf("categoría distinta: %s", cat)
	}
	return false, "parece la misma incidencia"
}

// finalize prunes known fields, regenerates questions and sets completeness
func (e *Extractor) finalize(a domain.Analysis, known domain.Facts) domain.Analysis {
	if a.Facts == nil {
		a.Facts = domain.Facts{}
	}
	a.MissingFields = pruneMissing(a.MissingFields, known)
	a.FollowUpQuestions = questionsFor(a.MissingFields)
	a.Complete = len(a.MissingFields) == 0
	return a
}

func (e *Extractor) complete(ctx context.Context, messages []ai.Message) (*modelAnalysis, error) {
	raw, err := e.completer.CompleteJSON(ctx, analysisSystemPrompt, messages)
	if err != nil {
		return nil, err
	}
	return parseModelAnalysis(raw)
}

func historyMessages(history []domain.Turn) []ai.Message {
	out := make([]ai.Message, 0, len(history)+1)
	for _, t := range history {
		role := ai.RoleUser
		if t.Role == domain.RoleAssistant {
			role = ai.RoleAssistant
		}
		out = append(out, ai.Message{Role: role, Content: t.Content})
	}
	return out
}

// modelAnalysis is the JSON object the completion provider must return
type modelAnalysis struct {
	HasCompleteInfo   *bool          `json:"has_complete_info"`
	Category          string         `json:"category"`
	Priority          string         `json:"priority"`
	MissingFields     []string       `json:"missing_fields"`
	ExtractedInfo     map[string]any `json:"extracted_info"`
	FollowUpQuestions []string       `json:"follow_up_questions"`
	Summary           string         `json:"summary"`
}

func parseModelAnalysis(raw string) (*modelAnalysis, error) {
	var m modelAnalysis
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("malformed analysis: %w", err)
	}
	if m.HasCompleteInfo == nil {
		return nil, errors.New("malformed analysis: has_complete_info missing")
	}
	if m.ExtractedInfo == nil && m.MissingFields == nil {
		return nil, errors.New("malformed analysis: no extracted_info or missing_fields")
	}
	return &m, nil
}

func (m *modelAnalysis) toAnalysis(defaultCategory domain.Category) domain.Analysis {
	category := defaultCategory
	if strings.TrimSpace(m.Category) != "" {
		category = domain.ParseCategory(m.Category)
	}

	facts := domain.Facts{}
	for k, v := range m.ExtractedInfo {
		facts.Set(normalizeField(k), factString(v))
	}

	missing := m.MissingFields
	if !*m.HasCompleteInfo && len(missing) == 0 {
		// incomplete without a list: check every field the category needs
		for _, key := range FieldsFor(category) {
			if !facts.Has(key) {
				missing = append(missing, key)
			}
		}
	}

	return domain.Analysis{
		Category:      category,
		Priority:      domain.ParsePriority(m.Priority),
		MissingFields: missing,
		Facts:         facts,
		Summary:       strings.TrimSpace(m.Summary),
		Source:        domain.SourceAI,
	}
}

func factString(v any) string {
	switch t := v.(type) {
	case string:
		if strings.EqualFold(t, "null") || strings.EqualFold(t, "none") {
			return ""
		}
		return t
	case bool:
		if t {
			return "Sí"
		}
		return "No"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}
