package extractor

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fincasdesk/platform/internal/ai"
	"github.com/fincasdesk/platform/internal/case/domain"
	"github.com/fincasdesk/platform/internal/shared/logger"
)

type fakeCompleter struct {
	response string
	err      error
	calls    int
	last     []ai.Message
}

func (f *fakeCompleter) CompleteJSON(_ context.Context, _ string, messages []ai.Message) (string, error) {
	f.calls++
	f.last = messages
	return f.response, f.err
}

func newExtractor(c ai.Completer) *Extractor {
	return New(c, nil, logger.Discard())
}

func TestClassify(t *testing.T) {
	c := DefaultClassifier()

	tests := []struct {
		name     string
		subject  string
		body     string
		category domain.Category
		priority domain.Priority
	}{
		{"elevator trapped", "Ascensor atascado", "Hay personas atrapadas en el portal 3", domain.CategoryElevator, domain.PriorityUrgent},
		{"water default high", "Fuga", "Hay una fuga en la tubería del garaje, mucha agua", domain.CategoryWater, domain.PriorityHigh},
		{"cleaning default low", "Portal sucio", "La escalera necesita limpieza", domain.CategoryCleaning, domain.PriorityLow},
		{"garage medium", "Puerta garaje", "El mando de la puerta del garaje no abre", domain.CategoryGarageDoor, domain.PriorityMedium},
		{"low keyword", "Bombilla", "Hay una bombilla fundida en el rellano, sin prisa", domain.CategoryElectricity, domain.PriorityLow},
		{"nothing matches", "Consulta", "Quería preguntar por la derrama", domain.CategoryOther, domain.PriorityMedium},
		{"accented word boundary", "Humedad", "Humedad en el salón del 2ºB", domain.CategoryWater, domain.PriorityHigh},
		{"no match inside words", "Paraguas", "Me dejé el paraguas en el aguacate", domain.CategoryOther, domain.PriorityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, priority := c.Classify(tt.subject, tt.body)
			assert.Equal(t, tt.category, category)
			assert.Equal(t, tt.priority, priority)
		})
	}
}

func TestClassify_TieKeepsEarlierCategory(t *testing.T) {
	// one WATER hit and one ELECTRICITY hit
	category, _ := DefaultClassifier().Classify("", "el grifo y el enchufe")
	assert.Equal(t, domain.CategoryWater, category)
}

func TestCommunity(t *testing.T) {
	c := DefaultClassifier()

	assert.Equal(t, "Lasfuentes", c.Community("comunidad.lasfuentes@gmail.com", "Hola"))
	assert.Equal(t, "Los Olivos", c.Community("ana@example.com", "Soy vecina de la comunidad de propietarios de los olivos y tenemos una fuga"))
	assert.Equal(t, "Mirador Del Sur", c.Community("x@example.com", "Urbanización Mirador del Sur, portal 2"))
	assert.Empty(t, c.Community("x@example.com", "El edificio no tiene luz"))
}

func TestParseDictionary_RejectsUnknownCategory(t *testing.T) {
	_, err := ParseDictionary([]byte("categories:\n  - category: PLUMBING\n    default_priority: HIGH\n"))
	assert.Error(t, err)
}

func TestFallback_MissingAddress(t *testing.T) {
	a := newExtractor(nil).Analyze(context.Background(), Request{
		Subject:        "Ascensor atascado",
		Body:           "Hay personas atrapadas en el portal 3",
		SenderIdentity: "ana@example.com",
	})

	assert.False(t, a.Complete)
	assert.Equal(t, domain.SourceFallback, a.Source)
	assert.Equal(t, domain.CategoryElevator, a.Category)
	assert.Equal(t, domain.PriorityUrgent, a.Priority)
	assert.Contains(t, a.MissingFields, domain.FieldAddress)
	assert.Contains(t, a.MissingFields, domain.FieldReporterName)
	assert.NotContains(t, a.MissingFields, domain.FieldLocationDetail)
	assert.Len(t, a.FollowUpQuestions, len(a.MissingFields))
}

func TestFallback_KnownFactsAreNotRequested(t *testing.T) {
	known := domain.Facts{}
	known.Set(domain.FieldReporterName, "Ana Pérez")
	known.Set(domain.FieldAddress, "Calle Mayor 1")

	a := newExtractor(nil).Fallback(Request{
		Subject:        "Ascensor atascado",
		Body:           "Hay personas atrapadas en el portal 3",
		SenderIdentity: "ana@example.com",
		Known:          known,
	})

	assert.True(t, a.Complete)
	assert.Empty(t, a.MissingFields)
	assert.Equal(t, "Calle Mayor 1", a.Facts.Get(domain.FieldAddress))
}

func TestFallback_PlaceholderIsNotContact(t *testing.T) {
	a := newExtractor(nil).Fallback(Request{
		Body:           "Se ha ido la luz",
		SenderIdentity: domain.PlaceholderEmail("+34612345678"),
		SenderName:     "Luis",
	})
	assert.False(t, a.Facts.Has(domain.FieldReporterContact))
}

func TestAnalyze_AI(t *testing.T) {
	fake := &fakeCompleter{response: `{
		"has_complete_info": false,
		"category": "water",
		"priority": "URGENT",
		"missing_fields": ["address", "Nombre de quien reporta", "severity"],
		"extracted_info": {"problem_description": "Fuga en el techo", "people_trapped": false, "reporter_contact": null},
		"follow_up_questions": ["¿Dirección?"],
		"summary": "Fuga en el techo"
	}`}

	known := domain.Facts{}
	known.Set(domain.FieldReporterName, "Ana Pérez")

	a := newExtractor(fake).Analyze(context.Background(), Request{
		Subject: "Fuga",
		Body:    "Cae agua del techo",
		Known:   known,
		History: []domain.Turn{{Role: domain.RoleReporter, Content: "hola"}},
	})

	require.Equal(t, 1, fake.calls)
	require.Len(t, fake.last, 2)
	assert.Equal(t, ai.RoleUser, fake.last[0].Role)

	assert.Equal(t, domain.SourceAI, a.Source)
	assert.Equal(t, domain.CategoryWater, a.Category)
	assert.Equal(t, domain.PriorityUrgent, a.Priority)
	if diff := cmp.Diff([]string{domain.FieldAddress, domain.FieldSeverity}, a.MissingFields); diff != "" {
		t.Errorf("missing fields mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, a.Complete)
	assert.Equal(t, "No", a.Facts.Get(domain.FieldPeopleTrapped))
	assert.False(t, a.Facts.Has(domain.FieldReporterContact))
	assert.Len(t, a.FollowUpQuestions, 2)
}

func TestAnalyze_AIFailureFallsBack(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeCompleter
	}{
		{"transport error", &fakeCompleter{err: errors.New("timeout")}},
		{"not json", &fakeCompleter{response: "lo siento"}},
		{"schema violation", &fakeCompleter{response: `{"category":"WATER"}`}},
		{"disabled", &fakeCompleter{err: ai.ErrDisabled}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newExtractor(tt.fake).Analyze(context.Background(), Request{
				Subject: "Sin luz", Body: "Se ha ido la luz en la calle Mayor 3, portal 2", SenderName: "Luis",
			})
			assert.Equal(t, domain.SourceFallback, a.Source)
			assert.Equal(t, domain.CategoryElectricity, a.Category)
			assert.True(t, a.Complete)
		})
	}
}

func TestAnalyze_UnknownEnumsAreCoerced(t *testing.T) {
	fake := &fakeCompleter{response: `{"has_complete_info": true, "category": "PLUMBING", "priority": "ASAP", "missing_fields": [], "extracted_info": {}}`}
	a := newExtractor(fake).Analyze(context.Background(), Request{Body: "x"})
	assert.Equal(t, domain.CategoryOther, a.Category)
	assert.Equal(t, domain.PriorityMedium, a.Priority)
	assert.True(t, a.Complete)
}

func TestProcessFollowUp_NeverReasksKnownFacts(t *testing.T) {
	prior := domain.Analysis{
		Category:      domain.CategoryElevator,
		Priority:      domain.PriorityHigh,
		MissingFields: []string{domain.FieldAddress, domain.FieldReporterName},
		Facts:         domain.Facts{domain.FieldProblemDescription: "ascensor parado"},
		Source:        domain.SourceAI,
	}
	known := domain.Facts{domain.FieldReporterName: "Ana Pérez"}

	// the model forgets the name was given
	fake := &fakeCompleter{response: `{"has_complete_info": false, "missing_fields": ["reporter_name", "address"], "extracted_info": {}}`}
	a := newExtractor(fake).ProcessFollowUp(context.Background(), prior, "gracias", nil, known)

	assert.Equal(t, []string{domain.FieldAddress}, a.MissingFields)
	assert.Equal(t, domain.CategoryElevator, a.Category)
	assert.Equal(t, domain.PriorityHigh, a.Priority)
	assert.Equal(t, "ascensor parado", a.Facts.Get(domain.FieldProblemDescription))
	assert.LessOrEqual(t, len(a.MissingFields), len(prior.MissingFields))
}

func TestProcessFollowUp_Fallback(t *testing.T) {
	prior := domain.Analysis{
		Category:      domain.CategoryWater,
		Priority:      domain.PriorityHigh,
		MissingFields: []string{domain.FieldAddress, domain.FieldLocationDetail, domain.FieldSeverity},
		Source:        domain.SourceFallback,
	}
	ex := newExtractor(&fakeCompleter{err: errors.New("quota")})

	t.Run("still missing location", func(t *testing.T) {
		a := ex.ProcessFollowUp(context.Background(), prior, "Es en la calle Mayor 5", nil, nil)
		assert.False(t, a.Complete)
		assert.Equal(t, []string{domain.FieldLocationDetail, domain.FieldSeverity}, a.MissingFields)
		assert.Equal(t, domain.SourceFallback, a.Source)
	})

	t.Run("assumes the rest", func(t *testing.T) {
		a := ex.ProcessFollowUp(context.Background(), prior, "Calle Mayor 5, portal 2, 3ºB. Sale bastante agua", nil, nil)
		assert.True(t, a.Complete)
		assert.Equal(t, domain.SourceAssumedComplete, a.Source)
		assert.True(t, a.Degraded())
	})
}

func TestProcessFollowUp_FallbackAcrossReplies(t *testing.T) {
	ex := newExtractor(&fakeCompleter{err: errors.New("quota")})
	prior := domain.Analysis{
		Category:      domain.CategoryWater,
		Priority:      domain.PriorityMedium,
		MissingFields: []string{domain.FieldReporterName, domain.FieldAddress},
		Source:        domain.SourceFallback,
	}

	first := ex.ProcessFollowUp(context.Background(), prior, "Hola, gracias", nil, nil)
	require.False(t, first.Complete)
	assert.Equal(t, []string{domain.FieldReporterName, domain.FieldAddress}, first.MissingFields)
	assert.Equal(t, domain.SourceFallback, first.Source)

	second := ex.ProcessFollowUp(context.Background(), first, "Calle Mayor 5", nil, nil)
	assert.True(t, second.Complete)
	assert.Equal(t, domain.SourceAssumedComplete, second.Source)
	assert.True(t, second.Degraded())
}

func TestProcessFollowUp_FallbackCompleteWithoutAssumptions(t *testing.T) {
	ex := newExtractor(&fakeCompleter{err: errors.New("quota")})
	prior := domain.Analysis{
		Category:      domain.CategoryWater,
		MissingFields: []string{domain.FieldAddress},
		Source:        domain.SourceFallback,
	}

	a := ex.ProcessFollowUp(context.Background(), prior, "Calle Mayor 5", nil, nil)
	assert.True(t, a.Complete)
	assert.Equal(t, domain.SourceFallback, a.Source)
}

func TestIsNewIncident(t *testing.T) {
	c := &domain.Case{Code: "INC-ABC123", Category: domain.CategoryWater, Status: domain.StatusNeedsInfo}

	t.Run("ai answer", func(t *testing.T) {
		isNew, reason := newExtractor(&fakeCompleter{response: `{"is_new": true, "reason": "otro problema"}`}).IsNewIncident(context.Background(), c, "x")
		assert.True(t, isNew)
		assert.Equal(t, "otro problema", reason)
	})

	fallback := newExtractor(&fakeCompleter{response: `{"reason": "sin campo"}`})
	tests := []struct {
		message string
		isNew   bool
	}{
		{"Además tengo otro problema con la luz", true},
		{"Ahora tampoco funciona el ascensor", true},
		{"Vivo en el 2ºA, sigue saliendo agua", false},
		{"Me llamo Ana", false},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			isNew, _ := fallback.IsNewIncident(context.Background(), c, tt.message)
			assert.Equal(t, tt.isNew, isNew)
		})
	}
}
