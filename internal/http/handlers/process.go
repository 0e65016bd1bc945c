package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/campusline/intake/internal/notify"
	"github.com/campusline/intake/internal/pipeline"
	"github.com/campusline/intake/internal/validation"
)

// ProcessRequest is the inbound webhook body. The message text may arrive
// under any of message, final_message or text.
type ProcessRequest struct {
	ChatID       string `json:"chat_id" validate:"required"`
	Message      string `json:"message"`
	FinalMessage string `json:"final_message"`
	Text         string `json:"text"`
	MessageID    string `json:"message_id"`
}

func (r ProcessRequest) body() string {
	for _, s := range []string{r.Message, r.FinalMessage, r.Text} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// @Summary Process an inbound chat message
// @Description Generates the AI reply for the message, runs its tool calls and sends the reply.
// @Tags webhook
// @Accept json
// @Produce json
// @Param body body ProcessRequest true "Inbound message"
// @Success 200 {object} pipeline.Result
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /process [post]
func (h *Handler) Process(c *gin.Context) {
	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return
	}
	req.ChatID = strings.TrimSpace(req.ChatID)
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Missing required fields", validation.Fields(err))
		return
	}
	text := req.body()
	if text == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Message text required", []string{"message"})
		return
	}

	res, err := h.Pipeline.Process(c.Request.Context(), pipeline.Inbound{
		ChatID:    req.ChatID,
		Text:      text,
		MessageID: strings.TrimSpace(req.MessageID),
	})
	if err != nil {
		var se *notify.SendError
		switch {
		case errors.Is(err, pipeline.ErrChatNotFound):
			writeError(c, http.StatusNotFound, "CHAT_NOT_FOUND", "Chat not found", req.ChatID)
		case errors.Is(err, pipeline.ErrOrganizationNotFound):
			writeError(c, http.StatusNotFound, "ORGANIZATION_NOT_FOUND", "Organization not found", req.ChatID)
		case errors.Is(err, pipeline.ErrMisconfigured):
			h.fail(c, http.StatusInternalServerError, "MISCONFIGURED", "Organization messaging is not configured", err)
		case errors.As(err, &se):
			h.fail(c, http.StatusBadGateway, "SEND_FAILED", "Failed to deliver reply", err)
		case errors.Is(err, pipeline.ErrUpstream):
			h.fail(c, http.StatusInternalServerError, "AI_ERROR", "AI engine failed", err)
		default:
			h.fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Processing failed", err)
		}
		return
	}
	c.JSON(http.StatusOK, res)
}
