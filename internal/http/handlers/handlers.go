package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/campusline/intake/internal/booking"
	"github.com/campusline/intake/internal/db"
	"github.com/campusline/intake/internal/http/middleware"
	"github.com/campusline/intake/internal/pipeline"
	"github.com/campusline/intake/internal/session"
)

// Processor runs one inbound message through the reply pipeline.
type Processor interface {
	Process(ctx context.Context, in pipeline.Inbound) (pipeline.Result, error)
}

type Handler struct {
	Repo      db.Repository
	Pipeline  Processor
	Allocator *booking.Allocator
	Scheduler *booking.Scheduler
	Sessions  *session.Manager
	Validator *validator.Validate
	Logger    zerolog.Logger
	Locations *booking.Locations
}

// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} ErrorResponse
// @Router /healthz [get]
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Repo.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

// fail logs err, reports server errors to Sentry and writes the error
// envelope. The Sentry call is a no-op when no client was initialized.
func (h *Handler) fail(c *gin.Context, status int, code, message string, err error) {
	_ = c.Error(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error().Err(err).Str("request_id", middleware.GetRequestID(c)).Str("code", code).Msg(message)
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("code", code)
			scope.SetTag("request_id", middleware.GetRequestID(c))
			scope.SetRequest(c.Request)
			sentry.CaptureException(err)
		})
	}
	writeError(c, status, code, message, err.Error())
}
