package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/campusline/intake/internal/ai"
	"github.com/campusline/intake/internal/db"
	"github.com/campusline/intake/internal/models"
)

type engineMock struct {
	mock.Mock
	ai.MockEngine
}

func (e *engineMock) CreateConversation(ctx context.Context, orgID, topic, chatID string) (string, error) {
	args := e.Called(orgID, topic, chatID)
	return args.String(0), args.Error(1)
}

func setup(t *testing.T) (*db.MemoryStore, models.Chat) {
	t.Helper()
	store := db.NewMemoryStore()
	chat := store.PutChat(models.Chat{OrganizationID: "org-1", WAChatID: "5215512345678", Phone: "+525512345678"})
	return store, chat
}

func TestEnsureActiveSession_CreatesAndReuses(t *testing.T) {
	store, chat := setup(t)
	engine := &engineMock{}
	engine.On("CreateConversation", "org-1", "Admisiones", chat.ID).Return("conv-1", nil).Once()
	m := NewManager(store, engine, zerolog.Nop())

	s, err := m.EnsureActiveSession(context.Background(), chat, "Admisiones")
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, s.Status)
	assert.True(t, s.AIEnabled)
	require.NotNil(t, s.ConversationID)
	assert.Equal(t, "conv-1", *s.ConversationID)

	again, err := m.EnsureActiveSession(context.Background(), chat, "Admisiones")
	require.NoError(t, err)
	assert.Equal(t, s.ID, again.ID)
	engine.AssertExpectations(t)
}

func TestEnsureActiveSession_HandoffBlocks(t *testing.T) {
	store, chat := setup(t)
	m := NewManager(store, &engineMock{}, zerolog.Nop())
	chat.RequestedHandoff = true

	_, err := m.EnsureActiveSession(context.Background(), chat, "")
	assert.ErrorIs(t, err, ErrHandoffActive)
	got, _ := store.GetChat(context.Background(), chat.ID)
	assert.Nil(t, got.ActiveSessionID, "no session work while blocked")
}

func TestEnsureActiveSession_AIDisabled(t *testing.T) {
	store, chat := setup(t)
	s := store.PutSession(models.ChatSession{ChatID: chat.ID, OrganizationID: "org-1", Status: models.SessionActive, AIEnabled: false})
	chat.ActiveSessionID = &s.ID
	store.PutChat(chat)
	m := NewManager(store, &engineMock{}, zerolog.Nop())

	got, err := m.EnsureActiveSession(context.Background(), chat, "")
	assert.ErrorIs(t, err, ErrAIDisabled)
	assert.Equal(t, s.ID, got.ID)
}

func TestEnsureActiveSession_ReplacesClosedSession(t *testing.T) {
	store, chat := setup(t)
	conv := "conv-old"
	old := store.PutSession(models.ChatSession{ChatID: chat.ID, OrganizationID: "org-1", Status: models.SessionClosed, ConversationID: &conv})
	chat.ActiveSessionID = &old.ID
	store.PutChat(chat)

	engine := &engineMock{}
	engine.On("CreateConversation", "org-1", "", chat.ID).Return("conv-new", nil)
	m := NewManager(store, engine, zerolog.Nop())

	s, err := m.EnsureActiveSession(context.Background(), chat, "")
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, s.ID)
	assert.Equal(t, "conv-new", *s.ConversationID)
}

func TestEnsureActiveSession_LazyAttachAfterFailure(t *testing.T) {
	store, chat := setup(t)
	engine := &engineMock{}
	engine.On("CreateConversation", "org-1", "", chat.ID).Return("", errors.New("engine down")).Once()
	engine.On("CreateConversation", "org-1", "", chat.ID).Return("conv-2", nil).Once()
	m := NewManager(store, engine, zerolog.Nop())

	first, err := m.EnsureActiveSession(context.Background(), chat, "")
	require.Error(t, err)

	second, err := m.EnsureActiveSession(context.Background(), chat, "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "session survives a failed attach")
	assert.Equal(t, "conv-2", *second.ConversationID)
}

func TestEnsureActiveSession_ConcurrentRequestsShareSession(t *testing.T) {
	store, chat := setup(t)
	m := NewManager(store, ai.MockEngine{}, zerolog.Nop())

	var wg sync.WaitGroup
	sessions := make([]models.ChatSession, 8)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.EnsureActiveSession(context.Background(), chat, "")
			assert.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range sessions {
		assert.Equal(t, sessions[0].ID, s.ID)
		assert.Equal(t, *sessions[0].ConversationID, *s.ConversationID)
	}
}

func TestMarkHandoffAndConclude(t *testing.T) {
	store, chat := setup(t)
	m := NewManager(store, ai.MockEngine{}, zerolog.Nop())
	s, err := m.EnsureActiveSession(context.Background(), chat, "")
	require.NoError(t, err)

	require.NoError(t, m.MarkHandoff(context.Background(), chat.ID, s.ID))
	gotSession, _ := store.GetSession(context.Background(), s.ID)
	gotChat, _ := store.GetChat(context.Background(), chat.ID)
	assert.Equal(t, models.SessionHandover, gotSession.Status)
	assert.False(t, gotSession.AIEnabled)
	assert.True(t, gotChat.RequestedHandoff)

	_, err = m.EnsureActiveSession(context.Background(), gotChat, "")
	assert.ErrorIs(t, err, ErrHandoffActive)

	require.NoError(t, m.Conclude(context.Background(), chat.ID))
	gotChat, _ = store.GetChat(context.Background(), chat.ID)
	assert.False(t, gotChat.RequestedHandoff)
	assert.Nil(t, gotChat.ActiveSessionID)
	gotSession, _ = store.GetSession(context.Background(), s.ID)
	assert.Equal(t, models.SessionClosed, gotSession.Status)

	fresh, err := m.EnsureActiveSession(context.Background(), gotChat, "")
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, fresh.ID)
	assert.True(t, fresh.AIEnabled)

	assert.ErrorIs(t, m.Conclude(context.Background(), "missing"), db.ErrNotFound)
}

func TestResetConversation(t *testing.T) {
	store, chat := setup(t)
	engine := &engineMock{}
	engine.On("CreateConversation", "org-1", "", chat.ID).Return("conv-1", nil).Once()
	engine.On("CreateConversation", "org-1", "", chat.ID).Return("conv-2", nil).Once()
	m := NewManager(store, engine, zerolog.Nop())
	ctx := context.Background()

	stale, err := m.EnsureActiveSession(ctx, chat, "")
	require.NoError(t, err)

	fresh, err := m.ResetConversation(ctx, chat, stale, "")
	require.NoError(t, err)
	assert.Equal(t, stale.ID, fresh.ID)
	require.NotNil(t, fresh.ConversationID)
	assert.Equal(t, "conv-2", *fresh.ConversationID)

	// a second reset from the same stale copy keeps the replacement
	again, err := m.ResetConversation(ctx, chat, stale, "")
	require.NoError(t, err)
	assert.Equal(t, "conv-2", *again.ConversationID)
	engine.AssertExpectations(t)
}
