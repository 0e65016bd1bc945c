package tools

import (
	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

func str(desc string) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.String, Description: desc}
}

var leadProperties = map[string]jsonschema.Definition{
	"contact_name":               str("Nombre completo de la madre, padre o tutor"),
	"contact_phone":              str("Teléfono de contacto"),
	"contact_email":              str("Correo electrónico de contacto"),
	"student_first_name":         str("Nombre del alumno"),
	"student_last_name_paternal": str("Apellido paterno del alumno"),
	"student_last_name_maternal": str("Apellido materno del alumno"),
	"grade_interest":             str("Grado al que desea ingresar"),
	"school_year":                str("Ciclo escolar de interés, p. ej. 2025-2026"),
	"campus":                     str("Plantel de interés"),
	"summary":                    str("Resumen breve de la conversación"),
}

var leadRequired = []string{"contact_name", "contact_phone", "student_first_name", "student_last_name_paternal", "grade_interest"}

func merge(a, b map[string]jsonschema.Definition) map[string]jsonschema.Definition {
	out := make(map[string]jsonschema.Definition, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func function(name Name, desc string, props map[string]jsonschema.Definition, required ...string) openai.Tool {
	if props == nil {
		props = map[string]jsonschema.Definition{}
	}
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        string(name),
			Description: desc,
			Parameters: jsonschema.Definition{
				Type:       jsonschema.Object,
				Properties: props,
				Required:   required,
			},
		},
	}
}

// Specs describes every tool the dispatcher executes, for engines that
// declare tools up front.
func Specs() []openai.Tool {
	visitTime := str(`Hora HH:MM (24 h) o "mañana"/"tarde"`)
	return []openai.Tool{
		function(RequestHandoff, "Transfiere la conversación a una persona del equipo de admisiones.", nil),
		function(CreateLead, "Registra o actualiza al prospecto de esta conversación.", leadProperties, leadRequired...),
		function(ListAvailableAppointments, "Lista horarios de visita disponibles entre dos fechas (inclusive).",
			map[string]jsonschema.Definition{
				"start_date": str("Fecha inicial YYYY-MM-DD"),
				"end_date":   str("Fecha final YYYY-MM-DD"),
			}, "start_date", "end_date"),
		function(ScheduleVisit, "Agenda una visita en el horario exacto indicado y registra al prospecto.",
			merge(leadProperties, map[string]jsonschema.Definition{
				"preferred_date": str("Fecha YYYY-MM-DD"),
				"preferred_time": visitTime,
				"notes":          str("Notas para la visita"),
			}), append([]string{"preferred_date", "preferred_time"}, leadRequired...)...),
		function(CancelVisit, "Cancela una visita agendada. Sin appointment_id cancela la próxima visita del prospecto.",
			map[string]jsonschema.Definition{
				"appointment_id": str("Identificador de la cita"),
				"reason":         str("Motivo de la cancelación"),
			}),
		function(RescheduleVisit, "Mueve una visita agendada a otro horario exacto.",
			map[string]jsonschema.Definition{
				"appointment_id": str("Identificador de la cita"),
				"preferred_date": str("Fecha YYYY-MM-DD"),
				"preferred_time": visitTime,
				"campus":         str("Plantel"),
			}, "preferred_date", "preferred_time"),
		function(GetDirectoryContact, "Busca a una persona o área del directorio institucional.",
			map[string]jsonschema.Definition{"query": str("Nombre, puesto o área")}, "query"),
		function(GetFinanceInfo, "Consulta un concepto financiero (colegiatura, inscripción, etc.).",
			map[string]jsonschema.Definition{
				"capability_slug": str("Identificador de la capacidad, p. ej. finanzas"),
				"item":            str("Concepto a consultar"),
			}, "capability_slug", "item"),
		function(CreateComplaint, "Registra una queja o sugerencia.",
			map[string]jsonschema.Definition{
				"summary":          str("Resumen de la queja"),
				"channel":          str("Canal por el que se recibió"),
				"customer_name":    str("Nombre de quien reporta"),
				"customer_contact": str("Teléfono o correo de quien reporta"),
				"capability_slug":  str("Área relacionada"),
			}, "summary", "channel", "customer_name", "customer_contact"),
	}
}
