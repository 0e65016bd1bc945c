package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/campusline/intake/internal/booking"
	"github.com/campusline/intake/internal/db"
	"github.com/campusline/intake/internal/validation"
)

// @Summary List bookable slots
// @Tags admin
// @Produce json
// @Param organization_id query string true "Organization id"
// @Param start_date query string true "YYYY-MM-DD"
// @Param end_date query string true "YYYY-MM-DD, inclusive"
// @Success 200 {object} map[string]any
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/slots [get]
func (h *Handler) ListSlots(c *gin.Context) {
	orgID := strings.TrimSpace(c.Query("organization_id"))
	if orgID == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "organization_id required", nil)
		return
	}
	org, err := h.Repo.GetOrganization(c.Request.Context(), orgID)
	if errors.Is(err, db.ErrNotFound) {
		writeError(c, http.StatusNotFound, "ORGANIZATION_NOT_FOUND", "Organization not found", orgID)
		return
	}
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load organization", err)
		return
	}

	slots, err := h.Allocator.ListAvailable(c.Request.Context(), org.ID, c.Query("start_date"), c.Query("end_date"), h.Locations.For(org.Timezone))
	if errors.Is(err, booking.ErrInvalidDateRange) {
		writeError(c, http.StatusBadRequest, "INVALID_DATE_RANGE", "start_date and end_date must be YYYY-MM-DD with start <= end", nil)
		return
	}
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list slots", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": slots, "count": len(slots)})
}

// @Summary Cancel an appointment
// @Tags admin
// @Produce json
// @Param id path string true "Appointment id"
// @Success 200 {object} map[string]any
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/appointments/{id}/cancel [post]
func (h *Handler) CancelAppointment(c *gin.Context) {
	appt, changed, err := h.Scheduler.Cancel(c.Request.Context(), c.Param("id"))
	if errors.Is(err, booking.ErrAppointmentNotFound) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Appointment not found", c.Param("id"))
		return
	}
	if errors.Is(err, booking.ErrAppointmentClosed) {
		writeError(c, http.StatusConflict, "APPOINTMENT_CLOSED", "Only scheduled appointments can be cancelled", c.Param("id"))
		return
	}
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "DB_ERROR", "Failed to cancel appointment", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"appointment": appt, "already_cancelled": !changed})
}

type RescheduleRequest struct {
	SlotID string `json:"slot_id" validate:"required"`
	Notes  string `json:"notes"`
}

// @Summary Move an appointment to another slot
// @Tags admin
// @Accept json
// @Produce json
// @Param id path string true "Appointment id"
// @Param body body RescheduleRequest true "Target slot"
// @Success 200 {object} map[string]any
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/appointments/{id}/reschedule [post]
func (h *Handler) RescheduleAppointment(c *gin.Context) {
	var req RescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Missing required fields", validation.Fields(err))
		return
	}

	appt, err := h.Scheduler.Reschedule(c.Request.Context(), c.Param("id"), req.SlotID, strings.TrimSpace(req.Notes))
	switch {
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Appointment not found", c.Param("id"))
	case errors.Is(err, booking.ErrAppointmentCancelled):
		writeError(c, http.StatusConflict, "APPOINTMENT_CANCELLED", "Cancelled appointments cannot be rescheduled", c.Param("id"))
	case errors.Is(err, booking.ErrAppointmentClosed):
		writeError(c, http.StatusConflict, "APPOINTMENT_CLOSED", "Only scheduled appointments can be rescheduled", c.Param("id"))
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(c, http.StatusConflict, "SLOT_UNAVAILABLE", "Target slot is not bookable", req.SlotID)
	case err != nil:
		h.fail(c, http.StatusInternalServerError, "DB_ERROR", "Failed to reschedule appointment", err)
	default:
		c.JSON(http.StatusOK, gin.H{"appointment": appt})
	}
}

// @Summary Conclude a chat
// @Description Closes the active session and clears a pending handoff so the AI answers again.
// @Tags admin
// @Produce json
// @Param id path string true "Chat id"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /api/chats/{id}/conclude [post]
func (h *Handler) ConcludeChat(c *gin.Context) {
	err := h.Sessions.Conclude(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		writeError(c, http.StatusNotFound, "CHAT_NOT_FOUND", "Chat not found", c.Param("id"))
		return
	}
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "DB_ERROR", "Failed to conclude chat", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "concluded"})
}
