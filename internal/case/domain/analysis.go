package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Fact names shared by the extractor, the directory and the case
const (
	FieldReporterName       = "reporter_name"
	FieldReporterContact    = "reporter_contact"
	FieldReporterPhone      = "reporter_phone"
	FieldAddress            = "address"
	FieldLocationDetail     = "location_detail"
	FieldProblemDescription = "problem_description"
	FieldCommunityName      = "community_name"

	FieldPortal             = "portal"
	FieldFloorAffected      = "floor_affected"
	FieldPeopleTrapped      = "people_trapped"
	FieldLocationInBuilding = "location_in_building"
	FieldSeverity           = "severity"
	FieldScope              = "scope"
	FieldDoorLocation       = "door_location"
	FieldCanEnterExit       = "can_enter_exit"
	FieldArea               = "area"
	FieldUrgencyDetail      = "urgency_detail"
)

// Facts maps fact names to extracted values
type Facts map[string]string

func (f Facts) Get(field string) string {
	if f == nil {
		return ""
	}
	return strings.TrimSpace(f[field])
}

// Set stores non-empty values only
func (f Facts) Set(field, value string) {
	if v := strings.TrimSpace(value); v != "" {
		f[field] = v
	}
}

func (f Facts) Has(field string) bool {
	return f.Get(field) != ""
}

// Merge copies other's values into f where f has none
func (f Facts) Merge(other Facts) Facts {
	for k, v := range other {
		if !f.Has(k) {
			f.Set(k, v)
		}
	}
	return f
}

// AnalysisSource says which path produced an analysis
type AnalysisSource string

const (
	SourceAI              AnalysisSource = "ai"
	SourceFallback        AnalysisSource = "fallback"
	SourceAssumedComplete AnalysisSource = "assumed_complete"
)

// Analysis is the outcome of one completeness/classification run
type Analysis struct {
	Complete          bool           `json:"complete"`
	Category          Category       `json:"category"`
	Priority          Priority       `json:"priority"`
	MissingFields     []string       `json:"missing_fields"`
	Facts             Facts          `json:"extracted_facts"`
	FollowUpQuestions []string       `json:"follow_up_questions"`
	Summary           string         `json:"summary"`
	Source            AnalysisSource `json:"source"`
}

// Degraded is true when the analysis did not come from the AI provider
func (a Analysis) Degraded() bool {
	return a.Source != SourceAI
}

// Conversation roles
const (
	RoleReporter  = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of the conversation log
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

const analysisContextVersion = 1

// AnalysisContext is the case memory: the last analysis plus an append-only
// conversation log.
type AnalysisContext struct {
	Version      int      `json:"version"`
	Origin       string   `json:"origin,omitempty"`
	Last         Analysis `json:"last_analysis"`
	Conversation []Turn   `json:"conversation"`
}

func NewAnalysisContext(origin string, a Analysis) *AnalysisContext {
	return &AnalysisContext{
		Version:      analysisContextVersion,
		Origin:       origin,
		Last:         a,
		Conversation: []Turn{},
	}
}

// Record replaces the last analysis
func (ac *AnalysisContext) Record(a Analysis) {
	ac.Last = a
}

// Append adds a turn to the conversation log
func (ac *AnalysisContext) Append(role, content string, at time.Time) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	ac.Conversation = append(ac.Conversation, Turn{Role: role, Content: content, At: at})
}

// History returns a copy of the conversation log
func (ac *AnalysisContext) History() []Turn {
	if ac == nil {
		return nil
	}
	out := make([]Turn, len(ac.Conversation))
	copy(out, ac.Conversation)
	return out
}

func (ac *AnalysisContext) Validate() error {
	if ac.Version != analysisContextVersion {
		return fmt.Errorf("unsupported analysis context version %d", ac.Version)
	}
	if ac.Last.Category != "" && !ac.Last.Category.Valid() {
		return fmt.Errorf("invalid category %q", ac.Last.Category)
	}
	if ac.Last.Priority != "" && !ac.Last.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", ac.Last.Priority)
	}
	for i, t := range ac.Conversation {
		if t.Role != RoleReporter && t.Role != RoleAssistant {
			return fmt.Errorf("turn %d: invalid role %q", i, t.Role)
		}
	}
	return nil
}

func (ac *AnalysisContext) Encode() ([]byte, error) {
	if ac == nil {
		return nil, nil
	}
	return json.Marshal(ac)
}

// DecodeAnalysisContext parses and validates a stored context. Empty input
// yields nil.
func DecodeAnalysisContext(raw []byte) (*AnalysisContext, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var ac AnalysisContext
	if err := json.Unmarshal(raw, &ac); err != nil {
		return nil, fmt.Errorf("decode analysis context: %w", err)
	}
	if err := ac.Validate(); err != nil {
		return nil, fmt.Errorf("decode analysis context: %w", err)
	}
	if ac.Conversation == nil {
		ac.Conversation = []Turn{}
	}
	return &ac, nil
}
