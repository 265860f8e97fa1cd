package extractor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fincasdesk/platform/internal/case/domain"
)

const analysisSystemPrompt = `Eres el asistente de una administración de fincas que gestiona incidencias de comunidades de vecinos en España.

Analiza cada reporte y decide si hay información suficiente para enviar un técnico, qué datos faltan, la categoría y la prioridad.

DATOS OBLIGATORIOS (claves):
- reporter_name: nombre de quien reporta
- reporter_contact: teléfono o email de contacto
- address: dirección completa del edificio
- location_detail: portal, piso, planta o zona común
- problem_description: descripción del problema

DATOS ADICIONALES SEGÚN CATEGORÍA (claves):
- ELEVATOR: portal, floor_affected, people_trapped
- WATER: location_in_building, severity
- ELECTRICITY: location_in_building, scope
- GARAGE_DOOR: door_location, can_enter_exit
- CLEANING: area
- SECURITY: urgency_detail

CATEGORÍAS: WATER, ELEVATOR, ELECTRICITY, GARAGE_DOOR, CLEANING, SECURITY, OTHER

PRIORIDADES:
- URGENT: personas atrapadas, inundación activa, edificio sin electricidad, emergencia de seguridad en curso
- HIGH: afecta a varios vecinos, fuga contenida, ascensor averiado
- MEDIUM: puede esperar 24-48 horas
- LOW: problemas menores o mantenimiento

No pidas nunca un dato que aparezca en DATOS YA CONOCIDOS.

Responde SIEMPRE con un objeto JSON con exactamente esta estructura:
{
  "has_complete_info": true,
  "category": "WATER",
  "priority": "HIGH",
  "missing_fields": ["claves de los datos que faltan"],
  "extracted_info": {"clave": "valor"},
  "follow_up_questions": ["preguntas en español para el vecino"],
  "summary": "resumen breve"
}`

const newIncidentSystemPrompt = `Analizas mensajes de vecinos para decidir si un mensaje trata de la MISMA incidencia abierta o de una NUEVA incidencia distinta.

Es NUEVA si habla de un problema diferente (por ejemplo antes agua y ahora electricidad), de otra ubicación distinta, o usa expresiones como "tengo otro problema", "además", "otra cosa".
Es la MISMA si aporta datos que se le pidieron (nombre, dirección, detalles), amplía el mismo problema, pregunta por el estado o responde a preguntas previas.

Responde solo con JSON: {"is_new": true, "reason": "explicación breve"}`

func buildAnalysisPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Analiza el siguiente reporte de incidencia.\n\n")
	fmt.Fprintf(&b, "ASUNTO: %s\n\n", orDefault(req.Subject, "(sin asunto)"))
	fmt.Fprintf(&b, "REMITENTE: %s <%s>\n\n", orDefault(req.SenderName, "No especificado"), req.SenderIdentity)
	fmt.Fprintf(&b, "MENSAJE:\n%s\n\n", req.Body)
	writeKnown(&b, req.Known)
	b.WriteString("---\nIndica si tenemos toda la información necesaria y, si falta algo, las preguntas para el vecino.")
	return b.String()
}

func buildFollowUpPrompt(prior domain.Analysis, message string, known domain.Facts) string {
	var b strings.Builder
	b.WriteString("El vecino ha respondido con más información sobre la incidencia.\n\n")
	fmt.Fprintf(&b, "CATEGORÍA ACTUAL: %s\n", prior.Category)
	fmt.Fprintf(&b, "DATOS QUE FALTABAN: %s\n\n", strings.Join(prior.MissingFields, ", "))
	writeKnown(&b, domain.Facts{}.Merge(known).Merge(prior.Facts))
	fmt.Fprintf(&b, "NUEVA RESPUESTA DEL VECINO:\n%s\n\n", message)
	b.WriteString("---\nActualiza el análisis con la nueva información y determina si ya está completa.")
	return b.String()
}

func buildNewIncidentPrompt(c *domain.Case, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INCIDENCIA ABIERTA (%s):\n", c.Code)
	fmt.Fprintf(&b, "- Categoría: %s\n", c.Category)
	fmt.Fprintf(&b, "- Asunto: %s\n", c.Subject)
	fmt.Fprintf(&b, "- Descripción: %s\n", truncateRunes(c.Description, 500))
	fmt.Fprintf(&b, "- Dirección: %s\n", orDefault(c.Address, "No especificada"))
	fmt.Fprintf(&b, "- Estado: %s\n\n", c.Status)
	fmt.Fprintf(&b, "NUEVO MENSAJE:\n%q", message)
	return b.String()
}

func writeKnown(b *strings.Builder, known domain.Facts) {
	if len(known) == 0 {
		return
	}
	raw, err := json.MarshalIndent(known, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintf(b, "DATOS YA CONOCIDOS:\n%s\n\n", raw)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
