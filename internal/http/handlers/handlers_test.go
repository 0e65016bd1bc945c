package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/campusline/intake/internal/ai"
	"github.com/campusline/intake/internal/booking"
	"github.com/campusline/intake/internal/db"
	"github.com/campusline/intake/internal/models"
	"github.com/campusline/intake/internal/notify"
	"github.com/campusline/intake/internal/pipeline"
	"github.com/campusline/intake/internal/session"
	"github.com/campusline/intake/internal/validation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type processorMock struct {
	mock.Mock
}

func (p *processorMock) Process(ctx context.Context, in pipeline.Inbound) (pipeline.Result, error) {
	args := p.Called(in)
	return args.Get(0).(pipeline.Result), args.Error(1)
}

func newHandler(store *db.MemoryStore, proc Processor) *Handler {
	alloc := &booking.Allocator{Repo: store, Logger: zerolog.Nop()}
	return &Handler{
		Repo:      store,
		Pipeline:  proc,
		Allocator: alloc,
		Scheduler: booking.NewScheduler(alloc),
		Sessions:  session.NewManager(store, ai.MockEngine{}, zerolog.Nop()),
		Validator: validation.New(),
		Logger:    zerolog.Nop(),
		Locations: booking.NewLocations("UTC", zerolog.Nop()),
	}
}

func do(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Error.Code
}

func TestProcess_StatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"chat", pipeline.ErrChatNotFound, http.StatusNotFound, "CHAT_NOT_FOUND"},
		{"org", pipeline.ErrOrganizationNotFound, http.StatusNotFound, "ORGANIZATION_NOT_FOUND"},
		{"config", errors.Join(pipeline.ErrMisconfigured, errors.New("org-1")), http.StatusInternalServerError, "MISCONFIGURED"},
		{"send", &notify.SendError{Err: errors.New("timeout")}, http.StatusBadGateway, "SEND_FAILED"},
		{"ai", errors.Join(pipeline.ErrUpstream, context.DeadlineExceeded), http.StatusInternalServerError, "AI_ERROR"},
		{"other", errors.New("db down"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			proc := &processorMock{}
			proc.On("Process", mock.Anything).Return(pipeline.Result{}, tc.err)
			h := newHandler(db.NewMemoryStore(), proc)
			r := gin.New()
			r.POST("/process", h.Process)

			w := do(r, http.MethodPost, "/process", map[string]string{"chat_id": "c1", "message": "hola"})
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, errorCode(t, w))
		})
	}
}

func TestProcess_BodyVariants(t *testing.T) {
	proc := &processorMock{}
	proc.On("Process", pipeline.Inbound{ChatID: "c1", Text: "desde final", MessageID: "wamid.7"}).
		Return(pipeline.Result{Status: pipeline.StatusSent, ChatID: "c1"}, nil).Once()
	proc.On("Process", pipeline.Inbound{ChatID: "c1", Text: "desde text"}).
		Return(pipeline.Result{Status: pipeline.StatusHandoffActive, ChatID: "c1"}, nil).Once()
	h := newHandler(db.NewMemoryStore(), proc)
	r := gin.New()
	r.POST("/process", h.Process)

	w := do(r, http.MethodPost, "/process", map[string]string{"chat_id": "c1", "message": " ", "final_message": "desde final", "message_id": "wamid.7"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, pipeline.StatusSent, res.Status)

	w = do(r, http.MethodPost, "/process", map[string]string{"chat_id": "c1", "text": "desde text"})
	require.Equal(t, http.StatusOK, w.Code)
	proc.AssertExpectations(t)
}

func TestProcess_BadRequests(t *testing.T) {
	proc := &processorMock{}
	h := newHandler(db.NewMemoryStore(), proc)
	r := gin.New()
	r.POST("/process", h.Process)

	for _, body := range []any{`{"chat_id":`, map[string]string{"message": "hola"}, map[string]string{"chat_id": "c1"}} {
		w := do(r, http.MethodPost, "/process", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "%v", body)
		assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))
	}
	proc.AssertNotCalled(t, "Process", mock.Anything)
}

func TestListSlots(t *testing.T) {
	store := db.NewMemoryStore()
	org := store.PutOrganization(models.Organization{Name: "Colegio", Timezone: "UTC"})
	base := time.Date(2030, 5, 6, 9, 0, 0, 0, time.UTC)
	store.PutSlot(models.AvailabilitySlot{OrganizationID: org.ID, StartsAt: base.Add(24 * time.Hour), EndsAt: base.Add(25 * time.Hour), MaxAppointments: 2, IsActive: true})
	store.PutSlot(models.AvailabilitySlot{OrganizationID: org.ID, StartsAt: base, EndsAt: base.Add(time.Hour), MaxAppointments: 2, AppointmentsCount: 1, IsActive: true})
	store.PutSlot(models.AvailabilitySlot{OrganizationID: org.ID, StartsAt: base, EndsAt: base.Add(time.Hour), MaxAppointments: 1, IsActive: true, IsBlocked: true})

	h := newHandler(store, &processorMock{})
	r := gin.New()
	r.GET("/api/slots", h.ListSlots)

	w := do(r, http.MethodGet, "/api/slots?organization_id="+org.ID+"&start_date=2030-05-06&end_date=2030-05-07", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Items []booking.SlotView `json:"items"`
		Count int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.True(t, body.Items[0].StartsAt.Equal(base))
	assert.Equal(t, 1, body.Items[0].RemainingCapacity)

	w = do(r, http.MethodGet, "/api/slots?organization_id="+org.ID+"&start_date=2030-05-07&end_date=2030-05-06", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_DATE_RANGE", errorCode(t, w))

	w = do(r, http.MethodGet, "/api/slots?organization_id=missing&start_date=2030-05-06&end_date=2030-05-07", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAppointmentAdmin(t *testing.T) {
	store := db.NewMemoryStore()
	org := store.PutOrganization(models.Organization{Name: "Colegio", Timezone: "UTC"})
	start := time.Date(2030, 5, 6, 10, 0, 0, 0, time.UTC)
	from := store.PutSlot(models.AvailabilitySlot{OrganizationID: org.ID, StartsAt: start, EndsAt: start.Add(time.Hour), MaxAppointments: 1, AppointmentsCount: 1, IsActive: true})
	to := store.PutSlot(models.AvailabilitySlot{OrganizationID: org.ID, StartsAt: start.Add(2 * time.Hour), EndsAt: start.Add(3 * time.Hour), MaxAppointments: 1, IsActive: true})
	appt, err := store.InsertAppointment(context.Background(), models.Appointment{
		OrganizationID: org.ID, LeadID: "lead-1", SlotID: &from.ID, StartsAt: from.StartsAt, EndsAt: from.EndsAt,
		Type: "visit", Status: models.AppointmentScheduled,
	})
	require.NoError(t, err)

	h := newHandler(store, &processorMock{})
	r := gin.New()
	r.POST("/api/appointments/:id/cancel", h.CancelAppointment)
	r.POST("/api/appointments/:id/reschedule", h.RescheduleAppointment)

	w := do(r, http.MethodPost, "/api/appointments/"+appt.ID+"/reschedule", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/appointments/"+appt.ID+"/reschedule", map[string]string{"slot_id": to.ID, "notes": "cambio por admin"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	gotFrom, _ := store.GetSlot(context.Background(), from.ID)
	gotTo, _ := store.GetSlot(context.Background(), to.ID)
	assert.Equal(t, 0, gotFrom.AppointmentsCount)
	assert.Equal(t, 1, gotTo.AppointmentsCount)

	w = do(r, http.MethodPost, "/api/appointments/"+appt.ID+"/reschedule", map[string]string{"slot_id": from.ID})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodPost, "/api/appointments/"+appt.ID+"/reschedule", map[string]string{"slot_id": "missing"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "SLOT_UNAVAILABLE", errorCode(t, w))

	w = do(r, http.MethodPost, "/api/appointments/"+appt.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodPost, "/api/appointments/"+appt.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["already_cancelled"])
	gotFrom, _ = store.GetSlot(context.Background(), from.ID)
	assert.Equal(t, 0, gotFrom.AppointmentsCount, "second cancel releases nothing")

	w = do(r, http.MethodPost, "/api/appointments/"+appt.ID+"/reschedule", map[string]string{"slot_id": to.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "APPOINTMENT_CANCELLED", errorCode(t, w))

	w = do(r, http.MethodPost, "/api/appointments/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	done := store.PutAppointment(models.Appointment{
		OrganizationID: org.ID, LeadID: "lead-2", SlotID: &to.ID, StartsAt: to.StartsAt, EndsAt: to.EndsAt,
		Type: "visit", Status: models.AppointmentCompleted,
	})
	w = do(r, http.MethodPost, "/api/appointments/"+done.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "APPOINTMENT_CLOSED", errorCode(t, w))
	w = do(r, http.MethodPost, "/api/appointments/"+done.ID+"/reschedule", map[string]string{"slot_id": from.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "APPOINTMENT_CLOSED", errorCode(t, w))
	gotTo, _ = store.GetSlot(context.Background(), to.ID)
	assert.Equal(t, 0, gotTo.AppointmentsCount)
}

func TestConcludeChat(t *testing.T) {
	store := db.NewMemoryStore()
	chat := store.PutChat(models.Chat{OrganizationID: "org-1", WAChatID: "1", RequestedHandoff: true})
	h := newHandler(store, &processorMock{})
	r := gin.New()
	r.POST("/api/chats/:id/conclude", h.ConcludeChat)

	w := do(r, http.MethodPost, "/api/chats/"+chat.ID+"/conclude", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got, _ := store.GetChat(context.Background(), chat.ID)
	assert.False(t, got.RequestedHandoff)

	w = do(r, http.MethodPost, "/api/chats/missing/conclude", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "CHAT_NOT_FOUND", errorCode(t, w))
}

func TestHealthz(t *testing.T) {
	h := newHandler(db.NewMemoryStore(), &processorMock{})
	r := gin.New()
	r.GET("/healthz", h.Healthz)

	w := do(r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthzIntegration(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	store, err := db.New(context.Background(), url)
	if err != nil {
		t.Fatalf("db connect: %v", err)
	}
	defer store.Close()

	h := &Handler{Repo: store, Logger: zerolog.Nop()}

	r := gin.New()
	r.GET("/healthz", h.Healthz)

	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
