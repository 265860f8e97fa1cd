package extractor

import (
	"slices"
	"strings"

	"github.com/fincasdesk/platform/internal/case/domain"
)

type fieldSpec struct {
	key      string
	label    string
	question string
}

var requiredFields = []fieldSpec{
	{domain.FieldReporterName, "Nombre de quien reporta", "¿Podría indicarnos su nombre y apellidos?"},
	{domain.FieldReporterContact, "Teléfono o email de contacto", "¿En qué teléfono o email podemos contactarle?"},
	{domain.FieldAddress, "Dirección completa (calle y número)", "¿Cuál es la dirección completa del edificio (calle y número)?"},
	{domain.FieldLocationDetail, "Ubicación específica (portal, piso, planta, zona común)", "¿En qué portal, piso o zona exacta se encuentra el problema?"},
	{domain.FieldProblemDescription, "Descripción del problema", "¿Podría describirnos el problema con más detalle?"},
}

var categoryFields = map[domain.Category][]fieldSpec{
	domain.CategoryElevator: {
		{domain.FieldPortal, "Portal donde está el ascensor", "¿En qué portal está el ascensor averiado?"},
		{domain.FieldFloorAffected, "Planta donde se ha quedado parado", "¿En qué planta se ha quedado parado el ascensor?"},
		{domain.FieldPeopleTrapped, "¿Hay personas atrapadas?", "¿Hay alguna persona atrapada dentro del ascensor?"},
	},
	domain.CategoryWater: {
		{domain.FieldLocationInBuilding, "Ubicación exacta de la fuga", "¿Dónde está exactamente la fuga (cocina, baño, portal, garaje...)?"},
		{domain.FieldSeverity, "Gravedad de la fuga", "¿Sale mucha agua? ¿Está afectando a otros vecinos?"},
	},
	domain.CategoryElectricity: {
		{domain.FieldLocationInBuilding, "Zona afectada", "¿Qué zona está afectada (vivienda, zonas comunes, portal)?"},
		{domain.FieldScope, "Alcance del corte", "¿Afecta a todo el edificio o solo a una zona?"},
	},
	domain.CategoryGarageDoor: {
		{domain.FieldDoorLocation, "Puerta afectada", "¿Qué puerta del garaje falla (entrada, salida...)?"},
		{domain.FieldCanEnterExit, "Acceso alternativo", "¿Se puede entrar o salir del garaje por otra vía?"},
	},
	domain.CategoryCleaning: {
		{domain.FieldArea, "Zona a limpiar", "¿Qué zona necesita limpieza?"},
	},
	domain.CategorySecurity: {
		{domain.FieldUrgencyDetail, "Emergencia actual o incidente pasado", "¿Está ocurriendo ahora mismo o ya ha pasado?"},
	},
}

// FieldsFor returns the fact keys a category needs before a case is complete
func FieldsFor(category domain.Category) []string {
	keys := make([]string, 0, len(requiredFields)+3)
	for _, f := range requiredFields {
		keys = append(keys, f.key)
	}
	for _, f := range categoryFields[category] {
		keys = append(keys, f.key)
	}
	return keys
}

func lookupField(key string) (fieldSpec, bool) {
	for _, f := range requiredFields {
		if f.key == key {
			return f, true
		}
	}
	for _, specs := range categoryFields {
		for _, f := range specs {
			if f.key == key {
				return f, true
			}
		}
	}
	return fieldSpec{}, false
}

// Label returns the human label of a fact key, or the key itself
func Label(key string) string {
	if f, ok := lookupField(key); ok {
		return f.label
	}
	return key
}

// normalizeField maps what a model returns as a missing field to a fact key.
// Labels are accepted as well as keys; anything else is kept verbatim.
func normalizeField(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ""
	}
	key := strings.ToLower(strings.ReplaceAll(v, " ", "_"))
	if _, ok := lookupField(key); ok {
		return key
	}
	lower := strings.ToLower(v)
	for _, f := range requiredFields {
		if strings.EqualFold(f.label, v) || (len(lower) >= 4 && strings.HasPrefix(strings.ToLower(f.label), lower)) {
			return f.key
		}
	}
	for _, specs := range categoryFields {
		for _, f := range specs {
			if strings.EqualFold(f.label, v) {
				return f.key
			}
		}
	}
	return v
}

// pruneMissing drops fields that are known, deduplicates, and keeps order
func pruneMissing(missing []string, known domain.Facts) []string {
	out := make([]string, 0, len(missing))
	for _, m := range missing {
		key := normalizeField(m)
		if key == "" || known.Has(key) || slices.Contains(out, key) {
			continue
		}
		// any contact satisfies the contact requirement
		if key == domain.FieldReporterContact && known.Has(domain.FieldReporterPhone) {
			continue
		}
		out = append(out, key)
	}
	return out
}

// questionsFor builds one question per missing field
func questionsFor(missing []string) []string {
	out := make([]string, 0, len(missing))
	for _, key := range missing {
		if f, ok := lookupField(key); ok {
			out = append(out, f.question)
			continue
		}
		out = append(out, "¿Podría indicarnos "+strings.ToLower(strings.TrimSuffix(key, "?"))+"?")
	}
	return out
}
