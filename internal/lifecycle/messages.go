package lifecycle

import (
	"fmt"
	"strings"

	"github.com/fincasdesk/platform/internal/case/domain"
	"github.com/fincasdesk/platform/internal/directory"
	"github.com/fincasdesk/platform/internal/extractor"
)

var statusTexts = map[domain.Status]string{
	domain.StatusNew:               "Nueva - Pendiente de asignación",
	domain.StatusNeedsInfo:         "Esperando información",
	domain.StatusValidating:        "En validación",
	domain.StatusDispatched:        "Asignada a proveedor",
	domain.StatusScheduled:         "Visita programada",
	domain.StatusInProgress:        "En curso",
	domain.StatusNeedsConfirmation: "Pendiente de confirmación",
	domain.StatusWaitingInvoice:    "Pendiente de factura",
	domain.StatusEscalated:         "Escalada",
	domain.StatusClosed:            "Cerrada",
}

// StatusText is the Spanish status label shown to reporters
func StatusText(s domain.Status) string {
	if t, ok := statusTexts[s]; ok {
		return t
	}
	return string(s)
}

func codeSubject(code, text string) string {
	return fmt.Sprintf("[%s] %s", code, text)
}

func greeting(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return "Hola " + name + ","
	}
	return "Hola,"
}

func followUpSubject(c *domain.Case) string {
	return codeSubject(c.Code, "Necesitamos más información")
}

// followUpBody lists the open questions and what we already know so the
// reporter can correct it
func followUpBody(c *domain.Case, questions []string) string {
	var b strings.Builder
	b.WriteString(greeting(c.ReporterName) + "\n\n")
	fmt.Fprintf(&b, "Hemos registrado su incidencia con el código %s. Para poder gestionarla necesitamos algunos datos más:\n\n", c.Code)
	for i, q := range questions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}

	known := knownLines(c)
	if len(known) > 0 {
		b.WriteString("\nEstos son los datos que ya tenemos. Si alguno no es correcto, indíquenoslo:\n")
		for _, l := range known {
			b.WriteString("- " + l + "\n")
		}
	}

	b.WriteString("\nPuede responder directamente a este mensaje.\n\nGracias.")
	return b.String()
}

func knownLines(c *domain.Case) []string {
	var lines []string
	add := func(label, v string) {
		if v = strings.TrimSpace(v); v != "" {
			lines = append(lines, label+": "+v)
		}
	}
	add(extractor.Label(domain.FieldReporterName), c.ReporterName)
	add("Teléfono", c.ReporterPhone)
	if !domain.IsPlaceholderEmail(c.ReporterEmail) {
		add("Email", c.ReporterEmail)
	}
	add("Comunidad", c.CommunityName)
	add("Dirección", c.Address)
	add("Ubicación", c.LocationDetail)
	add("Tipo de incidencia", c.Category.Title())
	return lines
}

func providerSubject(c *domain.Case) string {
	return codeSubject(c.Code, fmt.Sprintf("Nueva incidencia de %s - %s", c.Category.Title(), c.Priority.Title()))
}

func providerBody(c *domain.Case, p *directory.Provider) string {
	var b strings.Builder
	name := p.ContactPerson
	if name == "" {
		name = p.Name
	}
	b.WriteString(greeting(name) + "\n\n")
	fmt.Fprintf(&b, "Se les ha asignado la incidencia %s.\n\n", c.Code)
	fmt.Fprintf(&b, "Tipo: %s\nPrioridad: %s\n", c.Category.Title(), c.Priority.Title())

	b.WriteString("\nDatos de contacto:\n")
	for _, l := range contactLines(c) {
		b.WriteString("- " + l + "\n")
	}

	b.WriteString("\nUbicación:\n")
	fmt.Fprintf(&b, "- Comunidad: %s\n", orUnknown(c.CommunityName))
	fmt.Fprintf(&b, "- Dirección: %s\n", orUnknown(c.Address))
	fmt.Fprintf(&b, "- Detalle: %s\n", orUnknown(c.LocationDetail))

	fmt.Fprintf(&b, "\nDescripción:\n%s\n", c.Description)
	fmt.Fprintf(&b, "\nPor favor, mantengan el código %s en el asunto de sus respuestas.", c.Code)
	return b.String()
}

func contactLines(c *domain.Case) []string {
	lines := []string{"Nombre: " + orUnknown(c.ReporterName)}
	if c.ReporterPhone != "" {
		lines = append(lines, "Teléfono: "+c.ReporterPhone)
	}
	if c.ReporterEmail != "" && !domain.IsPlaceholderEmail(c.ReporterEmail) {
		lines = append(lines, "Email: "+c.ReporterEmail)
	}
	return lines
}

func closureSubject(c *domain.Case) string {
	return codeSubject(c.Code, "Incidencia cerrada")
}

func closureBody(c *domain.Case, resolution string) string {
	var b strings.Builder
	b.WriteString(greeting(c.ReporterName) + "\n\n")
	fmt.Fprintf(&b, "Le informamos de que la incidencia %s ha sido cerrada.\n", c.Code)
	if resolution = strings.TrimSpace(resolution); resolution != "" {
		fmt.Fprintf(&b, "\nResolución: %s\n", resolution)
	}
	b.WriteString("\nSi el problema persiste, puede escribirnos de nuevo y abriremos una nueva incidencia.\n\nGracias.")
	return b.String()
}

// StatusReply answers a reporter asking about their case
func StatusReply(c *domain.Case) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Incidencia %s\nEstado: %s\n", c.Code, StatusText(c.Status))
	if c.Subject != "" {
		fmt.Fprintf(&b, "Asunto: %s\n", c.Subject)
	}
	fmt.Fprintf(&b, "Última actualización: %s", c.UpdatedAt.Format("02/01/2006 15:04"))
	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "No indicado"
	}
	return s
}
