// Package notify delivers the final reply of a turn and records it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusline/intake/internal/db"
	"github.com/campusline/intake/internal/messaging"
	"github.com/campusline/intake/internal/metrics"
	"github.com/campusline/intake/internal/models"
)

// SendError wraps a gateway failure. Nothing was persisted when it is
// returned.
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return "send reply: " + e.Err.Error() }
func (e *SendError) Unwrap() error { return e.Err }

// RecordError is returned when the gateway accepted the reply but storing
// the outbound message, stamping the session or applying the handoff failed.
// The reply reached the user; MessageID is its provider id.
type RecordError struct {
	MessageID string
	Err       error
}

func (e *RecordError) Error() string { return "record delivered reply: " + e.Err.Error() }
func (e *RecordError) Unwrap() error { return e.Err }

// HandoffMarker is implemented by session.Manager.
type HandoffMarker interface {
	MarkHandoff(ctx context.Context, chatID, sessionID string) error
}

type Dispatcher struct {
	Repo     db.Repository
	Gateway  messaging.Gateway
	Sessions HandoffMarker
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	Now      func() time.Time
}

func NewDispatcher(repo db.Repository, gw messaging.Gateway, sessions HandoffMarker, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		Repo:     repo,
		Gateway:  gw,
		Sessions: sessions,
		Metrics:  m,
		Logger:   logger.With().Str("component", "notify").Logger(),
		Now:      time.Now,
	}
}

// Send delivers text to the chat's phone, then stores the outbound message,
// stamps the session and applies the handoff when requested. It returns the
// provider message id. Every bookkeeping step is attempted even when an
// earlier one fails; failures after delivery come back as *RecordError.
func (d *Dispatcher) Send(ctx context.Context, chat models.Chat, session models.ChatSession, org models.Organization, text string, handoff bool) (string, error) {
	to := chat.Phone
	if to == "" {
		to = chat.WAChatID
	}

	msgID, err := d.Gateway.SendText(ctx, org.WAPhoneNumberID, org.WAAccessToken, to, text)
	d.Metrics.RecordSend(err == nil)
	if err != nil {
		d.Logger.Error().Err(err).Str("chat_id", chat.ID).Msg("gateway send failed")
		return "", &SendError{Err: err}
	}

	sessionID := session.ID
	var errs []error
	if _, err := d.Repo.InsertMessage(ctx, models.Message{
		OrganizationID: org.ID,
		ChatID:         chat.ID,
		SessionID:      &sessionID,
		Direction:      models.DirectionOutbound,
		Body:           text,
		ExternalID:     msgID,
	}); err != nil {
		errs = append(errs, fmt.Errorf("store outbound message: %w", err))
	}
	if err := d.Repo.MarkSessionResponded(ctx, session.ID, d.Now()); err != nil {
		errs = append(errs, fmt.Errorf("mark responded: %w", err))
	}
	if handoff {
		if err := d.Sessions.MarkHandoff(ctx, chat.ID, session.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return msgID, &RecordError{MessageID: msgID, Err: errors.Join(errs...)}
	}
	d.Logger.Debug().Str("chat_id", chat.ID).Str("message_id", msgID).Bool("handoff", handoff).Msg("reply sent")
	return msgID, nil
}
