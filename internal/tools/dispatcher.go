// Package tools executes the function calls an AI reply asks for. Every call
// yields an output object with a status; no call can fail its siblings.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/campusline/intake/internal/booking"
	"github.com/campusline/intake/internal/db"
	"github.com/campusline/intake/internal/leads"
	"github.com/campusline/intake/internal/metrics"
	"github.com/campusline/intake/internal/models"
	"github.com/campusline/intake/internal/validation"
)

const (
	StatusOK          = "ok"
	StatusEmpty       = "empty"
	StatusCreated     = "created"
	StatusScheduled   = "scheduled"
	StatusCancelled   = "cancelled"
	StatusRescheduled = "rescheduled"
	StatusUnavailable = "unavailable"
	StatusNotFound    = "not_found"
	StatusFailed      = "failed"
	StatusUnhandled   = "unhandled_tool"
)

const (
	errMissingFields    = "missing_fields"
	errInvalidDatetime  = "invalid_datetime"
	errInvalidDateRange = "invalid_date_range"
	errSlotUnavailable  = "slot_unavailable"
	errInvalidArguments = "invalid_arguments"
	errQueryFailed      = "query_failed"
	errPersistence      = "persistence_failed"
	errNotScheduled     = "appointment_not_scheduled"
	errInternal         = "internal_error"
)

// Result is a tool output object. It always carries "status".
type Result map[string]any

func (r Result) Status() string {
	s, _ := r["status"].(string)
	return s
}

type Output struct {
	CallID string `json:"call_id"`
	Tool   string `json:"-"`
	Output Result `json:"output"`
}

// JSON encodes the output object; it cannot fail for the value types the
// dispatcher produces.
func (o Output) JSON() json.RawMessage {
	b, err := json.Marshal(o.Output)
	if err != nil {
		return json.RawMessage(`{"status":"failed","error":"internal_error"}`)
	}
	return b
}

// Scope identifies the chat a turn's tools act for.
type Scope struct {
	OrganizationID string
	ChatID         string
	WAChatID       string
	WAID           string
	Location       *time.Location
}

func (s Scope) identity() leads.Identity {
	return leads.Identity{OrganizationID: s.OrganizationID, WAChatID: s.WAChatID, WAID: s.WAID}
}

func (s Scope) loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

type Dispatcher struct {
	Repo      db.Repository
	Allocator *booking.Allocator
	Scheduler *booking.Scheduler
	Leads     *leads.Upserter
	Validator *validator.Validate
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
	Now       func() time.Time
}

func NewDispatcher(repo db.Repository, scheduler *booking.Scheduler, upserter *leads.Upserter, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		Repo:      repo,
		Allocator: scheduler.Allocator,
		Scheduler: scheduler,
		Leads:     upserter,
		Validator: validation.New(),
		Metrics:   m,
		Logger:    logger.With().Str("component", "tools").Logger(),
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// DispatchAll runs the calls in order. handoff reports whether any of them
// was a request_handoff.
func (d *Dispatcher) DispatchAll(ctx context.Context, scope Scope, calls []Call) (outputs []Output, handoff bool) {
	outputs = make([]Output, 0, len(calls))
	for _, c := range calls {
		out := d.Dispatch(ctx, scope, c)
		if Name(c.Name) == RequestHandoff && out.Output.Status() == StatusOK {
			handoff = true
		}
		outputs = append(outputs, out)
	}
	return outputs, handoff
}

func (d *Dispatcher) Dispatch(ctx context.Context, scope Scope, call Call) (out Output) {
	out = Output{CallID: call.ID, Tool: call.Name}
	log := d.Logger.With().Str("chat_id", scope.ChatID).Str("tool", call.Name).Str("call_id", call.ID).Logger()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("tool panicked")
			out.Output = failed(errInternal)
		}
		status := out.Output.Status()
		d.Metrics.RecordTool(call.Name, status)
		log.Info().Str("status", status).Dur("duration", time.Since(start)).Msg("tool executed")
	}()

	inv, err := Parse(call, d.Validator)
	if err != nil {
		out.Output = d.parseFailure(inv, err)
		log.Debug().Err(err).Msg("tool arguments rejected")
		return out
	}
	out.Output = d.run(ctx, log, scope, inv)
	return out
}

func (d *Dispatcher) parseFailure(inv Invocation, err error) Result {
	var mf *MissingFieldsError
	if errors.As(err, &mf) {
		if _, ok := inv.(AppointmentQuery); ok {
			return failed(errInvalidDateRange)
		}
		return missing(mf.Fields)
	}
	return failed(errInvalidArguments)
}

func (d *Dispatcher) run(ctx context.Context, log zerolog.Logger, scope Scope, inv Invocation) Result {
	switch v := inv.(type) {
	case HandoffRequest:
		return Result{"status": StatusOK, "handoff": true}
	case LeadCapture:
		return d.createLead(ctx, log, scope, v)
	case AppointmentQuery:
		return d.listAppointments(ctx, log, scope, v)
	case VisitRequest:
		return d.scheduleVisit(ctx, log, scope, v)
	case VisitCancellation:
		return d.cancelVisit(ctx, log, scope, v)
	case VisitReschedule:
		return d.rescheduleVisit(ctx, log, scope, v)
	case DirectoryQuery:
		return d.directoryContact(ctx, log, scope, v)
	case FinanceQuery:
		return d.financeInfo(ctx, log, scope, v)
	case ComplaintReport:
		return d.createComplaint(ctx, log, scope, v)
	case Unrecognized:
		log.Warn().Msg("unhandled tool")
		return Result{"status": StatusUnhandled, "tool": v.Name}
	default:
		return Result{"status": StatusUnhandled, "tool": string(inv.Tool())}
	}
}

func failed(code string) Result {
	return Result{"status": StatusFailed, "error": code}
}

func missing(fields []string) Result {
	r := failed(errMissingFields)
	r["fields"] = fields
	return r
}

func (d *Dispatcher) createLead(ctx context.Context, log zerolog.Logger, scope Scope, v LeadCapture) Result {
	res, err := d.Leads.EnsureLead(ctx, d.Repo, scope.identity(), v.Lead)
	if err != nil {
		var mf *leads.MissingFieldsError
		if errors.As(err, &mf) {
			return missing(mf.Fields)
		}
		log.Error().Err(err).Msg("create lead failed")
		return failed(errPersistence)
	}
	return Result{"status": StatusCreated, "lead_id": res.LeadID, "contact_id": res.ContactID}
}

func (d *Dispatcher) listAppointments(ctx context.Context, log zerolog.Logger, scope Scope, v AppointmentQuery) Result {
	slots, err := d.Allocator.ListAvailable(ctx, scope.OrganizationID, v.StartDate, v.EndDate, scope.loc())
	if errors.Is(err, booking.ErrInvalidDateRange) {
		return failed(errInvalidDateRange)
	}
	if err != nil {
		log.Error().Err(err).Msg("list slots failed")
		return failed(errQueryFailed)
	}
	views := make([]Result, 0, len(slots))
	for _, s := range slots {
		views = append(views, Result{
			"slot_id":            s.SlotID,
			"starts_at":          s.StartsAt.In(scope.loc()).Format(time.RFC3339),
			"ends_at":            s.EndsAt.In(scope.loc()).Format(time.RFC3339),
			"campus":             s.Campus,
			"remaining_capacity": s.RemainingCapacity,
		})
	}
	status := StatusOK
	if len(views) == 0 {
		status = StatusEmpty
	}
	return Result{"status": status, "slots": views}
}

// leadResolver upserts the lead from the call's arguments when they are
// complete and otherwise falls back to the chat's existing lead.
func (d *Dispatcher) leadResolver(scope Scope, args leads.Args) booking.LeadResolver {
	return func(ctx context.Context, r db.Repository) (string, error) {
		vErr := d.Leads.Validate(&args)
		if vErr == nil {
			res, err := d.Leads.EnsureLead(ctx, r, scope.identity(), args)
			if err != nil {
				return "", err
			}
			return res.LeadID, nil
		}
		existing, err := leads.LeadForChat(ctx, r, scope.identity())
		if errors.Is(err, db.ErrNotFound) {
			return "", vErr
		}
		if err != nil {
			return "", err
		}
		return existing.ID, nil
	}
}

func (d *Dispatcher) scheduleVisit(ctx context.Context, log zerolog.Logger, scope Scope, v VisitRequest) Result {
	startsAt, note, err := visitStart(v.PreferredDate, v.PreferredTime, scope.loc())
	if err != nil {
		return failed(errInvalidDatetime)
	}
	notes := appendLine(v.Notes, note)

	b, err := d.Scheduler.Book(ctx, booking.BookRequest{
		OrganizationID: scope.OrganizationID,
		StartsAt:       startsAt,
		Campus:         v.Campus,
		Notes:          notes,
		ResolveLead:    d.leadResolver(scope, v.Lead),
	})
	switch {
	case errors.Is(err, booking.ErrSlotUnavailable):
		d.Metrics.RecordSlot("book", "unavailable")
		r := Result{"status": StatusUnavailable, "error": errSlotUnavailable, "requested_start": startsAt.Format(time.RFC3339)}
		if b.LeadID != "" {
			r["lead_id"] = b.LeadID
		}
		return r
	case err != nil:
		var mf *leads.MissingFieldsError
		if errors.As(err, &mf) {
			return missing(mf.Fields)
		}
		d.Metrics.RecordSlot("book", "error")
		log.Error().Err(err).Msg("schedule visit failed")
		return failed(errPersistence)
	}
	d.Metrics.RecordSlot("book", "ok")
	return Result{
		"status":         StatusScheduled,
		"appointment_id": b.Appointment.ID,
		"slot_id":        b.Slot.ID,
		"lead_id":        b.LeadID,
		"starts_at":      b.Appointment.StartsAt.In(scope.loc()).Format(time.RFC3339),
		"campus":         b.Slot.Campus,
		"notes":          b.Appointment.Notes,
	}
}

// targetAppointment resolves the appointment a cancel or reschedule acts on:
// the given id when it belongs to the chat's lead, otherwise that lead's
// next scheduled visit. Appointments of other chats read as not found.
func (d *Dispatcher) targetAppointment(ctx context.Context, scope Scope, id string) (models.Appointment, error) {
	lead, err := leads.LeadForChat(ctx, d.Repo, scope.identity())
	if errors.Is(err, db.ErrNotFound) {
		return models.Appointment{}, booking.ErrAppointmentNotFound
	}
	if err != nil {
		return models.Appointment{}, err
	}
	if id == "" {
		return d.Scheduler.NextForLead(ctx, scope.OrganizationID, lead.ID)
	}
	appt, err := d.Repo.GetAppointment(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return models.Appointment{}, booking.ErrAppointmentNotFound
	}
	if err != nil {
		return models.Appointment{}, err
	}
	if appt.OrganizationID != scope.OrganizationID || appt.LeadID != lead.ID {
		return models.Appointment{}, booking.ErrAppointmentNotFound
	}
	return appt, nil
}

func (d *Dispatcher) cancelVisit(ctx context.Context, log zerolog.Logger, scope Scope, v VisitCancellation) Result {
	target, err := d.targetAppointment(ctx, scope, v.AppointmentID)
	if errors.Is(err, booking.ErrAppointmentNotFound) {
		return Result{"status": StatusNotFound}
	}
	if err != nil {
		log.Error().Err(err).Msg("load appointment failed")
		return failed(errQueryFailed)
	}

	appt, changed, err := d.Scheduler.Cancel(ctx, target.ID)
	if errors.Is(err, booking.ErrAppointmentNotFound) {
		return Result{"status": StatusNotFound}
	}
	if errors.Is(err, booking.ErrAppointmentClosed) {
		return failed(errNotScheduled)
	}
	if err != nil {
		d.Metrics.RecordSlot("cancel", "error")
		log.Error().Err(err).Msg("cancel visit failed")
		return failed(errPersistence)
	}
	if changed {
		d.Metrics.RecordSlot("cancel", "ok")
	}
	return Result{
		"status":            StatusCancelled,
		"appointment_id":    appt.ID,
		"starts_at":         appt.StartsAt.In(scope.loc()).Format(time.RFC3339),
		"already_cancelled": !changed,
	}
}

func (d *Dispatcher) rescheduleVisit(ctx context.Context, log zerolog.Logger, scope Scope, v VisitReschedule) Result {
	startsAt, note, err := visitStart(v.PreferredDate, v.PreferredTime, scope.loc())
	if err != nil {
		return failed(errInvalidDatetime)
	}
	target, err := d.targetAppointment(ctx, scope, v.AppointmentID)
	if errors.Is(err, booking.ErrAppointmentNotFound) {
		return Result{"status": StatusNotFound}
	}
	if err != nil {
		log.Error().Err(err).Msg("load appointment failed")
		return failed(errQueryFailed)
	}

	b, err := d.Scheduler.RescheduleAt(ctx, target.ID, startsAt, v.Campus, note)
	switch {
	case errors.Is(err, booking.ErrAppointmentNotFound), errors.Is(err, booking.ErrAppointmentCancelled):
		return Result{"status": StatusNotFound}
	case errors.Is(err, booking.ErrAppointmentClosed):
		return failed(errNotScheduled)
	case errors.Is(err, booking.ErrSlotUnavailable):
		d.Metrics.RecordSlot("reschedule", "unavailable")
		return Result{"status": StatusUnavailable, "error": errSlotUnavailable, "requested_start": startsAt.Format(time.RFC3339)}
	case err != nil:
		d.Metrics.RecordSlot("reschedule", "error")
		log.Error().Err(err).Msg("reschedule visit failed")
		return failed(errPersistence)
	}
	d.Metrics.RecordSlot("reschedule", "ok")
	return Result{
		"status":         StatusRescheduled,
		"appointment_id": b.Appointment.ID,
		"slot_id":        b.Slot.ID,
		"starts_at":      b.Appointment.StartsAt.In(scope.loc()).Format(time.RFC3339),
	}
}

func (d *Dispatcher) directoryContact(ctx context.Context, log zerolog.Logger, scope Scope, v DirectoryQuery) Result {
	contacts, err := d.Repo.ListDirectoryContacts(ctx, scope.OrganizationID)
	if err != nil {
		log.Error().Err(err).Msg("directory lookup failed")
		return failed(errQueryFailed)
	}
	c, ok := bestContact(v.Query, contacts)
	if !ok {
		return Result{"status": StatusNotFound}
	}
	return shareable(c)
}

func (d *Dispatcher) financeInfo(ctx context.Context, log zerolog.Logger, scope Scope, v FinanceQuery) Result {
	capability, err := d.Repo.GetCapability(ctx, scope.OrganizationID, v.CapabilitySlug)
	if errors.Is(err, db.ErrNotFound) || (err == nil && !capability.Enabled) {
		return Result{"status": StatusNotFound}
	}
	if err != nil {
		log.Error().Err(err).Msg("capability lookup failed")
		return failed(errQueryFailed)
	}
	item, err := d.Repo.GetFinanceItem(ctx, capability.ID, v.Item)
	if errors.Is(err, db.ErrNotFound) {
		return Result{"status": StatusNotFound}
	}
	if err != nil {
		log.Error().Err(err).Msg("finance lookup failed")
		return failed(errQueryFailed)
	}
	out := Result{
		"status": StatusOK,
		"item":   item.Item,
		"value":  item.Value,
	}
	if item.Notes != "" {
		out["notes"] = item.Notes
	}
	if item.ValidFrom != nil {
		out["valid_from"] = item.ValidFrom.Format("2006-01-02")
	}
	if item.ValidUntil != nil {
		out["valid_until"] = item.ValidUntil.Format("2006-01-02")
	}
	return out
}

func (d *Dispatcher) createComplaint(ctx context.Context, log zerolog.Logger, scope Scope, v ComplaintReport) Result {
	c, err := d.Repo.InsertComplaint(ctx, models.Complaint{
		OrganizationID:  scope.OrganizationID,
		ChatID:          scope.ChatID,
		Summary:         v.Summary,
		Channel:         v.Channel,
		CustomerName:    v.CustomerName,
		CustomerContact: v.CustomerContact,
		CapabilitySlug:  v.CapabilitySlug,
	})
	if err != nil {
		log.Error().Err(err).Msg("create complaint failed")
		return failed(errPersistence)
	}
	return Result{"status": StatusCreated, "complaint_id": c.ID}
}

func appendLine(a, b string) string {
	switch {
	case b == "":
		return a
	case a == "":
		return b
	default:
		return fmt.Sprintf("%s\n%s", a, b)
	}
}
