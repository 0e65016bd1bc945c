package tools

import (
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/campusline/intake/internal/leads"
	"github.com/campusline/intake/internal/validation"
)

type Name string

const (
	RequestHandoff            Name = "request_handoff"
	CreateLead                Name = "create_lead"
	ListAvailableAppointments Name = "list_available_appointments"
	ScheduleVisit             Name = "schedule_visit"
	CancelVisit               Name = "cancel_visit"
	RescheduleVisit           Name = "reschedule_visit"
	GetDirectoryContact       Name = "get_directory_contact"
	GetFinanceInfo            Name = "get_finance_info"
	CreateComplaint           Name = "create_complaint"
)

// Call is one tool invocation requested by the engine.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Invocation is a parsed tool call. Each tool has its own argument type.
type Invocation interface {
	Tool() Name
}

type HandoffRequest struct{}

type LeadCapture struct {
	Lead leads.Args
}

type AppointmentQuery struct {
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
}

type VisitRequest struct {
	PreferredDate string `json:"preferred_date" validate:"required"`
	PreferredTime string `json:"preferred_time" validate:"required"`
	Campus        string `json:"campus"`
	Notes         string `json:"notes"`
	// filled from the same arguments; checked only when no lead exists yet
	Lead leads.Args `json:"-" validate:"-"`
}

type VisitCancellation struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type VisitReschedule struct {
	AppointmentID string `json:"appointment_id"`
	PreferredDate string `json:"preferred_date" validate:"required"`
	PreferredTime string `json:"preferred_time" validate:"required"`
	Campus        string `json:"campus"`
}

type DirectoryQuery struct {
	Query string `json:"query" validate:"required"`
}

type FinanceQuery struct {
	CapabilitySlug string `json:"capability_slug" validate:"required"`
	Item           string `json:"item" validate:"required"`
}

type ComplaintReport struct {
	Summary         string `json:"summary" validate:"required"`
	Channel         string `json:"channel" validate:"required"`
	CustomerName    string `json:"customer_name" validate:"required"`
	CustomerContact string `json:"customer_contact" validate:"required"`
	CapabilitySlug  string `json:"capability_slug"`
}

// Unrecognized carries a tool name no parser knows.
type Unrecognized struct {
	Name string
}

func (HandoffRequest) Tool() Name    { return RequestHandoff }
func (LeadCapture) Tool() Name       { return CreateLead }
func (AppointmentQuery) Tool() Name  { return ListAvailableAppointments }
func (VisitRequest) Tool() Name      { return ScheduleVisit }
func (VisitCancellation) Tool() Name { return CancelVisit }
func (VisitReschedule) Tool() Name   { return RescheduleVisit }
func (DirectoryQuery) Tool() Name    { return GetDirectoryContact }
func (FinanceQuery) Tool() Name      { return GetFinanceInfo }
func (ComplaintReport) Tool() Name   { return CreateComplaint }
func (u Unrecognized) Tool() Name    { return Name(u.Name) }

// MissingFieldsError lists required arguments that were blank.
type MissingFieldsError struct {
	Tool   Name
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return string(e.Tool) + ": missing required arguments"
}

type parser func(args map[string]string, v *validator.Validate) (Invocation, error)

var parsers = map[Name]parser{
	RequestHandoff: func(map[string]string, *validator.Validate) (Invocation, error) {
		return HandoffRequest{}, nil
	},
	CreateLead: func(args map[string]string, v *validator.Validate) (Invocation, error) {
		var inv LeadCapture
		// lead fields are validated by the upserter
		return inv, bindTo(args, &inv.Lead)
	},
	ListAvailableAppointments: typed[AppointmentQuery](ListAvailableAppointments),
	ScheduleVisit: func(args map[string]string, v *validator.Validate) (Invocation, error) {
		var inv VisitRequest
		if err := bindTo(args, &inv); err != nil {
			return nil, err
		}
		if err := bindTo(args, &inv.Lead); err != nil {
			return nil, err
		}
		return inv, check(v, ScheduleVisit, &inv)
	},
	CancelVisit:         typed[VisitCancellation](CancelVisit),
	RescheduleVisit:     typed[VisitReschedule](RescheduleVisit),
	GetDirectoryContact: typed[DirectoryQuery](GetDirectoryContact),
	GetFinanceInfo:      typed[FinanceQuery](GetFinanceInfo),
	CreateComplaint:     typed[ComplaintReport](CreateComplaint),
}

func typed[T Invocation](name Name) parser {
	return func(args map[string]string, v *validator.Validate) (Invocation, error) {
		var inv T
		if err := bindTo(args, &inv); err != nil {
			return nil, err
		}
		return inv, check(v, name, &inv)
	}
}

func bindTo(args map[string]string, out any) error {
	if err := bind(args, out); err != nil {
		return errors.Join(ErrInvalidArguments, err)
	}
	return nil
}

func check(v *validator.Validate, name Name, inv any) error {
	err := v.Struct(inv)
	if err == nil {
		return nil
	}
	if fields := validation.Fields(err); len(fields) > 0 {
		return &MissingFieldsError{Tool: name, Fields: fields}
	}
	return err
}

// Parse turns a raw call into its typed invocation. Unknown names yield
// Unrecognized with a nil error. A parse error still returns a usable
// invocation value of the right type when the arguments decoded.
func Parse(call Call, v *validator.Validate) (Invocation, error) {
	p, ok := parsers[Name(call.Name)]
	if !ok {
		return Unrecognized{Name: call.Name}, nil
	}
	args, err := decodeArgs(call.Arguments)
	if err != nil {
		return nil, err
	}
	return p(args, v)
}
