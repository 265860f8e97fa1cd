package resolver

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/fincasdesk/platform/internal/case/domain"
	"github.com/fincasdesk/platform/internal/directory"
	"github.com/fincasdesk/platform/internal/shared/textnorm"
)

// ChatStrategy threads chat and SMS messages by the sender's phone number
type ChatStrategy struct {
	*rules
	incidents IncidentClassifier
	log       *slog.Logger
}

func (s *ChatStrategy) Resolve(ctx context.Context, msg domain.InboundMessage) (Decision, error) {
	if phrase, ok := NewIncidentCommand(msg.Body); ok {
		return openNew(RuleNewCommand, phrase), nil
	}

	phones := directory.PhoneVariants(directory.NormalizePhone(msg.SenderIdentity))
	if len(phones) == 0 {
		return openNew(RuleNoMatch, "sender has no phone"), nil
	}

	c, err := s.cases.FindLatestOpenByPhone(ctx, phones)
	if err != nil {
		return Decision{}, err
	}
	if c == nil {
		return openNew(RuleNoMatch, "no open case for this phone"), nil
	}
	if s.now().Sub(c.UpdatedAt) > s.cfg.ChatFreshness {
		return openNew(RuleStaleConversation, c.Code+" has been quiet too long"), nil
	}

	if c.Status == domain.StatusNeedsInfo && s.incidents != nil {
		if isNew, reason := s.incidents.IsNewIncident(ctx, c, msg.Body); isNew {
			s.log.Info("reply describes a different incident", "case_code", c.Code, "reason", reason)
			return openNew(RuleDifferentIncident, reason), nil
		}
	}

	return attach(c, RuleOpenConversation, c.Code), nil
}

// leading words that open a new incident when a message starts with them
var commandWords = []string{"nueva", "nuevo", "reportar", "incidencia"}

// folded phrases that open a new incident wherever they appear
var commandPhrases = []string{
	"nueva incidencia", "nuevo problema", "otra incidencia", "otro problema",
	"reportar nueva", "tengo otro problema", "quiero reportar", "nueva consulta",
	"tengo una nueva", "tengo un nuevo", "hay una nueva", "hay un nuevo",
	"reportar incidencia", "nueva averia", "otra averia",
}

// NewIncidentCommand reports whether a chat message explicitly asks to open a
// new incident, and returns the matching phrase
func NewIncidentCommand(text string) (string, bool) {
	lower := textnorm.Fold(text)
	if lower == "" {
		return "", false
	}
	if p, ok := textnorm.ContainsAny(lower, commandPhrases); ok {
		return p, true
	}
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) > 0 {
		for _, w := range commandWords {
			if words[0] == w {
				return w, true
			}
		}
	}
	return "", false
}
