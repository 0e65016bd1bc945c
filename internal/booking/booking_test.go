package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusline/intake/internal/db"
	"github.com/campusline/intake/internal/models"
)

const org = "org-1"

var base = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

func newSlot(store *db.MemoryStore, startsAt time.Time, max, count int) models.AvailabilitySlot {
	return store.PutSlot(models.AvailabilitySlot{
		OrganizationID:    org,
		StartsAt:          startsAt,
		EndsAt:            startsAt.Add(time.Hour),
		Campus:            "Centro",
		MaxAppointments:   max,
		AppointmentsCount: count,
		IsActive:          true,
	})
}

func newScheduler(store db.Repository) *Scheduler {
	return NewScheduler(&Allocator{Repo: store, Logger: zerolog.Nop()})
}

func countOf(t *testing.T, store db.Repository, id string) int {
	t.Helper()
	s, err := store.GetSlot(context.Background(), id)
	require.NoError(t, err)
	return s.AppointmentsCount
}

func TestReserve_RejectsUnbookable(t *testing.T) {
	store := db.NewMemoryStore()
	a := &Allocator{Repo: store, Logger: zerolog.Nop()}
	full := newSlot(store, base, 1, 1)
	blocked := store.PutSlot(models.AvailabilitySlot{OrganizationID: org, StartsAt: base, MaxAppointments: 3, IsActive: true, IsBlocked: true})
	inactive := store.PutSlot(models.AvailabilitySlot{OrganizationID: org, StartsAt: base, MaxAppointments: 3})

	for _, id := range []string{full.ID, blocked.ID, inactive.ID, "missing", ""} {
		err := a.Reserve(context.Background(), id)
		assert.ErrorIs(t, err, ErrSlotUnavailable, id)
	}
	assert.Equal(t, 1, countOf(t, store, full.ID))
}

func TestRelease_FloorsAtZero(t *testing.T) {
	store := db.NewMemoryStore()
	a := &Allocator{Repo: store, Logger: zerolog.Nop()}
	s := newSlot(store, base, 2, 0)

	require.NoError(t, a.Release(context.Background(), s.ID))
	require.NoError(t, a.Release(context.Background(), s.ID))
	assert.Equal(t, 0, countOf(t, store, s.ID))
	require.NoError(t, a.Release(context.Background(), "missing"))
}

func TestReserveRelease_InvariantUnderConcurrency(t *testing.T) {
	store := db.NewMemoryStore()
	a := &Allocator{Repo: store, Logger: zerolog.Nop()}
	s := newSlot(store, base, 3, 0)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
	)
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if a.Reserve(context.Background(), s.ID) == nil {
				mu.Lock()
				reserved++
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			_ = a.Release(context.Background(), s.ID)
		}()
	}
	wg.Wait()

	got := countOf(t, store, s.ID)
	assert.GreaterOrEqual(t, got, 0)
	assert.LessOrEqual(t, got, 3)
	assert.LessOrEqual(t, got, reserved)
}

func TestTransfer(t *testing.T) {
	store := db.NewMemoryStore()
	a := &Allocator{Repo: store, Logger: zerolog.Nop()}
	from := newSlot(store, base, 1, 1)
	to := newSlot(store, base.Add(time.Hour), 1, 0)

	require.NoError(t, a.Transfer(context.Background(), from.ID, to.ID))
	assert.Equal(t, 0, countOf(t, store, from.ID))
	assert.Equal(t, 1, countOf(t, store, to.ID))

	// target now full; old slot must stay untouched
	other := newSlot(store, base.Add(2*time.Hour), 1, 1)
	err := a.Transfer(context.Background(), other.ID, to.ID)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.Equal(t, 1, countOf(t, store, other.ID))
	assert.Equal(t, 1, countOf(t, store, to.ID))

	require.NoError(t, a.Transfer(context.Background(), to.ID, to.ID))
	assert.Equal(t, 1, countOf(t, store, to.ID))
}

func TestListAvailable(t *testing.T) {
	store := db.NewMemoryStore()
	a := &Allocator{Repo: store, Logger: zerolog.Nop()}
	late := newSlot(store, base.Add(26*time.Hour), 2, 1)
	early := newSlot(store, base, 3, 0)
	newSlot(store, base.Add(time.Hour), 1, 1)
	newSlot(store, base.AddDate(0, 0, 5), 1, 0)

	slots, err := a.ListAvailable(context.Background(), org, "2025-03-10", "2025-03-11", time.UTC)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, early.ID, slots[0].SlotID)
	assert.Equal(t, 3, slots[0].RemainingCapacity)
	assert.Equal(t, late.ID, slots[1].SlotID)
	assert.Equal(t, 1, slots[1].RemainingCapacity)
}

type countingRepo struct {
	db.Repository
	calls int
}

func (c *countingRepo) ListOpenSlots(ctx context.Context, orgID string, from, to time.Time) ([]models.AvailabilitySlot, error) {
	c.calls++
	return c.Repository.ListOpenSlots(ctx, orgID, from, to)
}

func TestListAvailable_InvalidRangeSkipsStorage(t *testing.T) {
	repo := &countingRepo{Repository: db.NewMemoryStore()}
	a := &Allocator{Repo: repo, Logger: zerolog.Nop()}

	for _, tc := range [][2]string{{"2025-03-10", "2025-03-01"}, {"mañana", "2025-03-01"}, {"2025-03-01", ""}} {
		_, err := a.ListAvailable(context.Background(), org, tc[0], tc[1], time.UTC)
		assert.ErrorIs(t, err, ErrInvalidDateRange)
	}
	assert.Zero(t, repo.calls)
}

func TestBook_CapacityRace(t *testing.T) {
	store := db.NewMemoryStore()
	s := newScheduler(store)
	slot := newSlot(store, base, 1, 0)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.Book(context.Background(), BookRequest{OrganizationID: org, StartsAt: base})
		}(i)
	}
	wg.Wait()

	var ok, unavailable int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrSlotUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, unavailable)
	assert.Equal(t, 1, countOf(t, store, slot.ID))
}

func TestBook_KeepsLeadWhenUnavailable(t *testing.T) {
	store := db.NewMemoryStore()
	s := newScheduler(store)
	resolved := false

	out, err := s.Book(context.Background(), BookRequest{
		OrganizationID: org,
		StartsAt:       base,
		ResolveLead: func(ctx context.Context, r db.Repository) (string, error) {
			resolved = true
			return "lead-1", nil
		},
	})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.True(t, resolved)
	assert.Equal(t, "lead-1", out.LeadID)
}

func TestBook_RollsBackOnLeadFailure(t *testing.T) {
	store := db.NewMemoryStore()
	s := newScheduler(store)
	slot := newSlot(store, base, 1, 0)
	boom := errors.New("boom")

	_, err := s.Book(context.Background(), BookRequest{
		OrganizationID: org,
		StartsAt:       base,
		ResolveLead:    func(context.Context, db.Repository) (string, error) { return "", boom },
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, countOf(t, store, slot.ID))
}

func TestCancel_RestoresCapacityOnce(t *testing.T) {
	store := db.NewMemoryStore()
	s := newScheduler(store)
	slot := newSlot(store, base, 2, 1)

	b, err := s.Book(context.Background(), BookRequest{OrganizationID: org, StartsAt: base})
	require.NoError(t, err)
	assert.Equal(t, 2, countOf(t, store, slot.ID))

	appt, changed, err := s.Cancel(context.Background(), b.Appointment.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.AppointmentCancelled, appt.Status)
	assert.Equal(t, 1, countOf(t, store, slot.ID))

	_, changed, err = s.Cancel(context.Background(), b.Appointment.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, countOf(t, store, slot.ID))

	_, _, err = s.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestReschedule_RetryIsNoop(t *testing.T) {
	store := db.NewMemoryStore()
	s := newScheduler(store)
	a := newSlot(store, base, 1, 0)
	b := newSlot(store, base.Add(24*time.Hour), 1, 0)

	booked, err := s.Book(context.Background(), BookRequest{OrganizationID: org, StartsAt: base})
	require.NoError(t, err)
	require.Equal(t, a.ID, booked.Slot.ID)

	for i := 0; i < 2; i++ {
		appt, err := s.Reschedule(context.Background(), booked.Appointment.ID, b.ID, "cambio")
		require.NoError(t, err)
		assert.Equal(t, b.ID, *appt.SlotID)
		assert.Equal(t, 0, countOf(t, store, a.ID))
		assert.Equal(t, 1, countOf(t, store, b.ID))
	}

	appt, err := store.GetAppointment(context.Background(), booked.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, "cambio", appt.Notes)
	assert.True(t, appt.StartsAt.Equal(b.StartsAt))
}

func TestReschedule_CancelledAppointment(t *testing.T) {
	store := db.NewMemoryStore()
	s := newScheduler(store)
	newSlot(store, base, 1, 0)
	b := newSlot(store, base.Add(time.Hour), 1, 0)

	booked, err := s.Book(context.Background(), BookRequest{OrganizationID: org, StartsAt: base})
	require.NoError(t, err)
	_, _, err = s.Cancel(context.Background(), booked.Appointment.ID)
	require.NoError(t, err)

	_, err = s.Reschedule(context.Background(), booked.Appointment.ID, b.ID, "")
	assert.ErrorIs(t, err, ErrAppointmentCancelled)
	assert.Equal(t, 0, countOf(t, store, b.ID))
}

func TestCancelAndReschedule_OnlyScheduled(t *testing.T) {
	for _, status := range []string{models.AppointmentInProgress, models.AppointmentCompleted} {
		t.Run(status, func(t *testing.T) {
			store := db.NewMemoryStore()
			s := newScheduler(store)
			newSlot(store, base, 2, 0)
			other := newSlot(store, base.Add(time.Hour), 1, 0)

			booked, err := s.Book(context.Background(), BookRequest{OrganizationID: org, StartsAt: base})
			require.NoError(t, err)
			appt := booked.Appointment
			appt.Status = status
			store.PutAppointment(appt)

			_, changed, err := s.Cancel(context.Background(), appt.ID)
			assert.ErrorIs(t, err, ErrAppointmentClosed)
			assert.False(t, changed)
			assert.Equal(t, 1, countOf(t, store, booked.Slot.ID))

			_, err = s.Reschedule(context.Background(), appt.ID, other.ID, "")
			assert.ErrorIs(t, err, ErrAppointmentClosed)
			_, err = s.RescheduleAt(context.Background(), appt.ID, other.StartsAt, "", "")
			assert.ErrorIs(t, err, ErrAppointmentClosed)
			assert.Equal(t, 0, countOf(t, store, other.ID))

			got, err := store.GetAppointment(context.Background(), appt.ID)
			require.NoError(t, err)
			assert.Equal(t, status, got.Status)
			assert.Equal(t, booked.Slot.ID, *got.SlotID)
		})
	}
}

func TestRescheduleAt(t *testing.T) {
	store := db.NewMemoryStore()
	s := newScheduler(store)
	a := newSlot(store, base, 1, 0)
	target := base.Add(48 * time.Hour)
	b := newSlot(store, target, 1, 0)

	booked, err := s.Book(context.Background(), BookRequest{OrganizationID: org, StartsAt: base, Notes: "primera"})
	require.NoError(t, err)

	out, err := s.RescheduleAt(context.Background(), booked.Appointment.ID, target, "", "Preferencia: tarde")
	require.NoError(t, err)
	assert.Equal(t, b.ID, out.Slot.ID)
	assert.Equal(t, "primera\nPreferencia: tarde", out.Appointment.Notes)
	assert.Equal(t, 0, countOf(t, store, a.ID))
	assert.Equal(t, 1, countOf(t, store, b.ID))

	again, err := s.RescheduleAt(context.Background(), booked.Appointment.ID, target, "", "Preferencia: tarde")
	require.NoError(t, err)
	assert.Equal(t, b.ID, again.Slot.ID)
	assert.Equal(t, 1, countOf(t, store, b.ID))

	_, err = s.RescheduleAt(context.Background(), booked.Appointment.ID, base.Add(99*time.Hour), "", "")
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.Equal(t, 1, countOf(t, store, b.ID))
}

func TestNextForLead(t *testing.T) {
	store := db.NewMemoryStore()
	s := newScheduler(store)
	s.Now = func() time.Time { return base.Add(-time.Hour) }
	newSlot(store, base, 2, 0)
	newSlot(store, base.Add(time.Hour), 2, 0)
	lead := func(context.Context, db.Repository) (string, error) { return "lead-1", nil }

	later, err := s.Book(context.Background(), BookRequest{OrganizationID: org, StartsAt: base.Add(time.Hour), ResolveLead: lead})
	require.NoError(t, err)
	first, err := s.Book(context.Background(), BookRequest{OrganizationID: org, StartsAt: base, ResolveLead: lead})
	require.NoError(t, err)

	next, err := s.NextForLead(context.Background(), org, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, first.Appointment.ID, next.ID)
	assert.NotEqual(t, later.Appointment.ID, next.ID)

	_, err = s.NextForLead(context.Background(), org, "nobody")
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}
