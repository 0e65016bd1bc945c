package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/campusline/intake/internal/db"
	"github.com/campusline/intake/internal/models"
)

const VisitType = "visit"

var (
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrAppointmentCancelled = errors.New("appointment cancelled")
	// ErrAppointmentClosed is returned for appointments that are in progress
	// or completed.
	ErrAppointmentClosed = errors.New("appointment no longer scheduled")
)

// LeadResolver resolves the lead an appointment belongs to. It runs inside
// the booking transaction.
type LeadResolver func(ctx context.Context, r db.Repository) (string, error)

type BookRequest struct {
	OrganizationID string
	StartsAt       time.Time
	Campus         string
	Notes          string
	ResolveLead    LeadResolver
}

type Booking struct {
	Appointment models.Appointment
	Slot        models.AvailabilitySlot
	LeadID      string
}

// Scheduler books, cancels and reschedules appointments against slot
// capacity.
type Scheduler struct {
	Allocator *Allocator
	Now       func() time.Time
}

func NewScheduler(a *Allocator) *Scheduler {
	return &Scheduler{Allocator: a, Now: func() time.Time { return time.Now().UTC() }}
}

func (s *Scheduler) repo() db.Repository {
	return s.Allocator.Repo
}

// Book resolves the lead, reserves the first slot starting exactly at
// req.StartsAt that still has capacity and inserts the appointment, all in
// one transaction. When no slot fits, the lead write is kept and
// ErrSlotUnavailable is returned together with the lead id.
func (s *Scheduler) Book(ctx context.Context, req BookRequest) (Booking, error) {
	var (
		out         Booking
		unavailable bool
	)
	err := s.repo().InTx(ctx, func(r db.Repository) error {
		if req.ResolveLead != nil {
			leadID, err := req.ResolveLead(ctx, r)
			if err != nil {
				return err
			}
			out.LeadID = leadID
		}

		candidates, err := r.FindSlotsByStart(ctx, req.OrganizationID, req.StartsAt)
		if err != nil {
			return fmt.Errorf("find slots: %w", err)
		}
		slot, ok, err := reserveFirst(ctx, r, candidates, req.Campus, "")
		if err != nil {
			return err
		}
		if !ok {
			unavailable = true
			return nil
		}

		slotID := slot.ID
		appt, err := r.InsertAppointment(ctx, models.Appointment{
			OrganizationID: req.OrganizationID,
			LeadID:         out.LeadID,
			SlotID:         &slotID,
			StartsAt:       slot.StartsAt,
			EndsAt:         slot.EndsAt,
			Type:           VisitType,
			Status:         models.AppointmentScheduled,
			Notes:          req.Notes,
		})
		if err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		out.Appointment = appt
		out.Slot = slot
		return nil
	})
	if err != nil {
		return Booking{}, err
	}
	if unavailable {
		return out, ErrSlotUnavailable
	}
	return out, nil
}

func reserveFirst(ctx context.Context, r db.Repository, candidates []models.AvailabilitySlot, campus, skipID string) (models.AvailabilitySlot, bool, error) {
	campus = strings.TrimSpace(campus)
	for _, c := range candidates {
		if c.ID == skipID {
			continue
		}
		if campus != "" && !strings.EqualFold(c.Campus, campus) {
			continue
		}
		slot, err := r.ReserveSlot(ctx, c.ID)
		if errors.Is(err, db.ErrSlotUnavailable) {
			continue
		}
		if err != nil {
			return models.AvailabilitySlot{}, false, fmt.Errorf("reserve slot %s: %w", c.ID, err)
		}
		return slot, true, nil
	}
	return models.AvailabilitySlot{}, false, nil
}

// Cancel marks a scheduled appointment cancelled and gives its capacity
// back. The release happens only on the transition, so cancelling twice is
// harmless. In-progress and completed appointments are left alone.
func (s *Scheduler) Cancel(ctx context.Context, appointmentID string) (models.Appointment, bool, error) {
	var (
		appt    models.Appointment
		changed bool
	)
	err := s.repo().InTx(ctx, func(r db.Repository) error {
		var err error
		appt, changed, err = r.CancelAppointment(ctx, appointmentID, s.Now())
		if errors.Is(err, db.ErrNotFound) {
			return ErrAppointmentNotFound
		}
		if err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}
		if !changed && appt.Status != models.AppointmentCancelled {
			return ErrAppointmentClosed
		}
		if changed && appt.SlotID != nil {
			return s.Allocator.release(ctx, r, *appt.SlotID)
		}
		return nil
	})
	return appt, changed, err
}

// Reschedule moves the appointment onto newSlotID. Repeating the call after
// it committed finds the appointment already on newSlotID and does nothing.
func (s *Scheduler) Reschedule(ctx context.Context, appointmentID, newSlotID, note string) (models.Appointment, error) {
	var appt models.Appointment
	err := s.repo().InTx(ctx, func(r db.Repository) error {
		cur, err := s.lockActive(ctx, r, appointmentID)
		if err != nil {
			return err
		}
		if cur.SlotID != nil && *cur.SlotID == newSlotID {
			appt = cur
			return nil
		}
		if err := s.Allocator.transfer(ctx, r, derefString(cur.SlotID), newSlotID); err != nil {
			return err
		}
		slot, err := r.GetSlot(ctx, newSlotID)
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}
		appt, err = r.MoveAppointment(ctx, cur.ID, slot, appendNote(cur.Notes, note))
		return err
	})
	return appt, err
}

// RescheduleAt moves the appointment onto a slot starting exactly at
// startsAt.
func (s *Scheduler) RescheduleAt(ctx context.Context, appointmentID string, startsAt time.Time, campus, note string) (Booking, error) {
	var out Booking
	err := s.repo().InTx(ctx, func(r db.Repository) error {
		cur, err := s.lockActive(ctx, r, appointmentID)
		if err != nil {
			return err
		}
		out.LeadID = cur.LeadID
		candidates, err := r.FindSlotsByStart(ctx, cur.OrganizationID, startsAt)
		if err != nil {
			return fmt.Errorf("find slots: %w", err)
		}
		currentSlot := derefString(cur.SlotID)
		for _, c := range candidates {
			if c.ID == currentSlot {
				out.Appointment = cur
				out.Slot = c
				return nil
			}
		}
		slot, ok, err := reserveFirst(ctx, r, candidates, campus, currentSlot)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSlotUnavailable
		}
		if currentSlot != "" {
			if err := s.Allocator.release(ctx, r, currentSlot); err != nil {
				return err
			}
		}
		out.Slot = slot
		out.Appointment, err = r.MoveAppointment(ctx, cur.ID, slot, appendNote(cur.Notes, note))
		return err
	})
	return out, err
}

// NextForLead returns the lead's earliest scheduled appointment that has not
// started yet.
func (s *Scheduler) NextForLead(ctx context.Context, orgID, leadID string) (models.Appointment, error) {
	appt, err := s.repo().NextScheduledAppointment(ctx, orgID, leadID, s.Now())
	if errors.Is(err, db.ErrNotFound) {
		return models.Appointment{}, ErrAppointmentNotFound
	}
	return appt, err
}

func (s *Scheduler) lockActive(ctx context.Context, r db.Repository, appointmentID string) (models.Appointment, error) {
	cur, err := r.LockAppointment(ctx, appointmentID)
	if errors.Is(err, db.ErrNotFound) {
		return models.Appointment{}, ErrAppointmentNotFound
	}
	if err != nil {
		return models.Appointment{}, fmt.Errorf("load appointment: %w", err)
	}
	switch cur.Status {
	case models.AppointmentScheduled:
		return cur, nil
	case models.AppointmentCancelled:
		return models.Appointment{}, ErrAppointmentCancelled
	default:
		return models.Appointment{}, ErrAppointmentClosed
	}
}

func appendNote(notes, note string) string {
	note = strings.TrimSpace(note)
	switch {
	case note == "":
		return notes
	case strings.TrimSpace(notes) == "":
		return note
	default:
		return notes + "\n" + note
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
