// Package session owns the lifecycle of the AI conversation bound to a chat.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/campusline/intake/internal/ai"
	"github.com/campusline/intake/internal/db"
	"github.com/campusline/intake/internal/models"
)

var (
	// ErrHandoffActive means a human owns the chat; nothing is processed.
	ErrHandoffActive = errors.New("handoff active")
	// ErrAIDisabled means the active session does not answer automatically.
	ErrAIDisabled = errors.New("ai disabled for session")
)

type Manager struct {
	Repo   db.Repository
	Engine ai.Engine
	Logger zerolog.Logger
}

func NewManager(repo db.Repository, engine ai.Engine, logger zerolog.Logger) *Manager {
	return &Manager{Repo: repo, Engine: engine, Logger: logger.With().Str("component", "session").Logger()}
}

// EnsureActiveSession returns the chat's active session, creating one when
// none is active, and makes sure it has an engine conversation. The
// conversation is created outside any storage lock; if a concurrent request
// attached one first, that one is kept.
func (m *Manager) EnsureActiveSession(ctx context.Context, chat models.Chat, topic string) (models.ChatSession, error) {
	if chat.RequestedHandoff {
		return models.ChatSession{}, ErrHandoffActive
	}

	s, created, err := m.Repo.EnsureSession(ctx, chat.ID)
	if err != nil {
		return models.ChatSession{}, fmt.Errorf("ensure session: %w", err)
	}
	if created {
		m.Logger.Info().Str("chat_id", chat.ID).Str("session_id", s.ID).Msg("session created")
	}
	if !s.AIEnabled {
		return s, ErrAIDisabled
	}
	if s.ConversationID != nil && *s.ConversationID != "" {
		return s, nil
	}

	convID, err := m.Engine.CreateConversation(ctx, chat.OrganizationID, topic, chat.ID)
	if err != nil {
		return s, fmt.Errorf("create conversation: %w", err)
	}
	attached, err := m.Repo.AttachConversation(ctx, s.ID, convID)
	if err != nil {
		return s, fmt.Errorf("attach conversation: %w", err)
	}
	if attached.ConversationID == nil || *attached.ConversationID != convID {
		m.Logger.Debug().Str("session_id", s.ID).Msg("conversation attached concurrently, discarding ours")
	}
	return attached, nil
}

// ResetConversation replaces a conversation the engine no longer knows.
// Only the stale id is cleared, so a replacement attached by a concurrent
// request is kept.
func (m *Manager) ResetConversation(ctx context.Context, chat models.Chat, s models.ChatSession, topic string) (models.ChatSession, error) {
	if s.ConversationID != nil {
		if err := m.Repo.DetachConversation(ctx, s.ID, *s.ConversationID); err != nil {
			return s, fmt.Errorf("detach conversation: %w", err)
		}
		m.Logger.Warn().Str("session_id", s.ID).Str("conversation_id", *s.ConversationID).Msg("conversation lost, recreating")
	}
	return m.EnsureActiveSession(ctx, chat, topic)
}

// MarkHandoff moves the session to handover, disables AI and flags the chat,
// in that order.
func (m *Manager) MarkHandoff(ctx context.Context, chatID, sessionID string) error {
	if err := m.Repo.SetSessionHandover(ctx, sessionID); err != nil {
		return fmt.Errorf("session handover: %w", err)
	}
	if err := m.Repo.SetChatHandoff(ctx, chatID, true); err != nil {
		return fmt.Errorf("chat handoff: %w", err)
	}
	m.Logger.Info().Str("chat_id", chatID).Str("session_id", sessionID).Msg("handoff requested")
	return nil
}

// Conclude closes the active session and clears the handoff so the next
// inbound message starts a fresh session.
func (m *Manager) Conclude(ctx context.Context, chatID string) error {
	if err := m.Repo.ConcludeChat(ctx, chatID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return err
		}
		return fmt.Errorf("conclude chat: %w", err)
	}
	m.Logger.Info().Str("chat_id", chatID).Msg("chat concluded")
	return nil
}
