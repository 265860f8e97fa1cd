package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/fincasdesk/platform/internal/case/domain"
	"github.com/fincasdesk/platform/internal/notification"
	apperrors "github.com/fincasdesk/platform/internal/shared/errors"
)

// EmailStrategy threads mail by case code, In-Reply-To, References and
// finally by sender and subject.
type EmailStrategy struct {
	*rules
}

func (s *EmailStrategy) Resolve(ctx context.Context, msg domain.InboundMessage) (Decision, error) {
	if code, ok := domain.FindCode(msg.Subject); ok {
		c, err := s.cases.FindByCode(ctx, code)
		switch {
		case apperrors.IsNotFound(err):
		case err != nil:
			return Decision{}, err
		case !c.IsOpen():
			// closed cases never receive mail; the code match is final
			return openNew(RuleClosedCaseCode, fmt.Sprintf("%s is closed", code)), nil
		default:
			return attach(c, RuleCaseCode, code), nil
		}
	}

	if id := strings.TrimSpace(msg.ReplyToID); id != "" {
		c, err := s.caseByMessageID(ctx, id)
		if err != nil {
			return Decision{}, err
		}
		if c != nil && s.attachable(c) {
			return attach(c, RuleReplyTo, id), nil
		}
	}

	for _, ref := range msg.ReferenceIDs {
		ref = strings.TrimSpace(ref)
		if ref == "" || notification.IsOwnMessageID(ref, s.cfg.MessageIDDomain) {
			continue
		}
		c, err := s.caseByMessageID(ctx, ref)
		if err != nil {
			return Decision{}, err
		}
		if c != nil && s.attachable(c) {
			return attach(c, RuleReferences, ref), nil
		}
	}

	sender := strings.ToLower(strings.TrimSpace(msg.SenderIdentity))
	if sender != "" {
		recent, err := s.cases.FindOpenByReporterEmail(ctx, sender, s.now().Add(-s.cfg.SameSenderWindow))
		if err != nil {
			return Decision{}, err
		}
		subject := NormalizeSubject(msg.Subject)
		for _, c := range recent {
			if SubjectsMatch(subject, NormalizeSubject(c.Subject)) {
				return attach(c, RuleSameSender, c.Subject), nil
			}
		}
	}

	return openNew(RuleNoMatch, "no thread matched"), nil
}
