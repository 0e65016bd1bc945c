// Package booking owns availability-slot capacity and the appointments that
// consume it.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusline/intake/internal/db"
	"github.com/campusline/intake/internal/models"
)

const dateLayout = "2006-01-02"

var (
	ErrSlotUnavailable  = db.ErrSlotUnavailable
	ErrInvalidDateRange = errors.New("invalid date range")
)

// Allocator reserves and releases slot capacity. Every counter change is a
// single conditional update in the repository; nothing here reads a count
// and writes it back.
type Allocator struct {
	Repo   db.Repository
	Logger zerolog.Logger
}

type SlotView struct {
	SlotID            string    `json:"slot_id"`
	StartsAt          time.Time `json:"starts_at"`
	EndsAt            time.Time `json:"ends_at"`
	Campus            string    `json:"campus,omitempty"`
	RemainingCapacity int       `json:"remaining_capacity"`
}

func NewSlotView(s models.AvailabilitySlot) SlotView {
	return SlotView{
		SlotID:            s.ID,
		StartsAt:          s.StartsAt,
		EndsAt:            s.EndsAt,
		Campus:            s.Campus,
		RemainingCapacity: s.RemainingCapacity(),
	}
}

func (a *Allocator) Reserve(ctx context.Context, slotID string) error {
	return reserve(ctx, a.Repo, slotID)
}

func (a *Allocator) Release(ctx context.Context, slotID string) error {
	return a.release(ctx, a.Repo, slotID)
}

// Transfer moves one reservation from oldSlotID to newSlotID. The new slot is
// reserved before the old one is released, both inside one transaction, so a
// failed reservation leaves the old slot untouched.
func (a *Allocator) Transfer(ctx context.Context, oldSlotID, newSlotID string) error {
	if oldSlotID == newSlotID {
		return nil
	}
	return a.Repo.InTx(ctx, func(r db.Repository) error {
		return a.transfer(ctx, r, oldSlotID, newSlotID)
	})
}

func (a *Allocator) transfer(ctx context.Context, r db.Repository, oldSlotID, newSlotID string) error {
	if oldSlotID == newSlotID {
		return nil
	}
	if err := reserve(ctx, r, newSlotID); err != nil {
		return err
	}
	if oldSlotID == "" {
		return nil
	}
	return a.release(ctx, r, oldSlotID)
}

func reserve(ctx context.Context, r db.Repository, slotID string) error {
	if strings.TrimSpace(slotID) == "" {
		return ErrSlotUnavailable
	}
	if _, err := r.ReserveSlot(ctx, slotID); err != nil {
		if errors.Is(err, db.ErrSlotUnavailable) {
			return ErrSlotUnavailable
		}
		return fmt.Errorf("reserve slot %s: %w", slotID, err)
	}
	return nil
}

func (a *Allocator) release(ctx context.Context, r db.Repository, slotID string) error {
	if _, err := r.ReleaseSlot(ctx, slotID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			a.Logger.Warn().Str("slot_id", slotID).Msg("release on missing slot ignored")
			return nil
		}
		return fmt.Errorf("release slot %s: %w", slotID, err)
	}
	return nil
}

// ParseDateRange parses two YYYY-MM-DD dates in loc and returns the
// half-open interval [start, end+1d). Unparsable or reversed dates yield
// ErrInvalidDateRange.
func ParseDateRange(startDate, endDate string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation(dateLayout, strings.TrimSpace(startDate), loc)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidDateRange
	}
	end, err := time.ParseInLocation(dateLayout, strings.TrimSpace(endDate), loc)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidDateRange
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, ErrInvalidDateRange
	}
	return start, end.AddDate(0, 0, 1), nil
}

// ListAvailable returns bookable slots whose start falls on any day in
// [startDate, endDate], ordered by start time. The range is validated before
// the repository is touched.
func (a *Allocator) ListAvailable(ctx context.Context, orgID, startDate, endDate string, loc *time.Location) ([]SlotView, error) {
	from, to, err := ParseDateRange(startDate, endDate, loc)
	if err != nil {
		return nil, err
	}
	slots, err := a.Repo.ListOpenSlots(ctx, orgID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	out := make([]SlotView, 0, len(slots))
	for _, s := range slots {
		if !s.Bookable() {
			continue
		}
		out = append(out, NewSlotView(s))
	}
	return out, nil
}
