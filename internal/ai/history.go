package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"
)

// History stores the message list of each conversation.
type History interface {
	Create(ctx context.Context, conversationID string, system ...openai.ChatCompletionMessage) error
	Load(ctx context.Context, conversationID string) ([]openai.ChatCompletionMessage, error)
	Append(ctx context.Context, conversationID string, msgs ...openai.ChatCompletionMessage) error
}

// RedisHistory keeps each conversation as a Redis list of JSON messages
// that expires TTL after its last write.
type RedisHistory struct {
	Redis *redis.Client
	TTL   time.Duration
}

func historyKey(conversationID string) string {
	return "conversation:" + conversationID
}

func (h *RedisHistory) Create(ctx context.Context, conversationID string, system ...openai.ChatCompletionMessage) error {
	key := historyKey(conversationID)
	pipe := h.Redis.TxPipeline()
	pipe.Del(ctx, key)
	// sentinel entry so an empty conversation still exists
	pipe.RPush(ctx, key, "{}")
	if err := pushAll(ctx, pipe, key, system); err != nil {
		return err
	}
	h.expire(ctx, pipe, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (h *RedisHistory) Load(ctx context.Context, conversationID string) ([]openai.ChatCompletionMessage, error) {
	raw, err := h.Redis.LRange(ctx, historyKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrConversationNotFound
	}
	out := make([]openai.ChatCompletionMessage, 0, len(raw)-1)
	for _, r := range raw[1:] {
		var m openai.ChatCompletionMessage
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (h *RedisHistory) Append(ctx context.Context, conversationID string, msgs ...openai.ChatCompletionMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	key := historyKey(conversationID)
	n, err := h.Redis.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("append conversation: %w", err)
	}
	if n == 0 {
		return ErrConversationNotFound
	}
	pipe := h.Redis.TxPipeline()
	if err := pushAll(ctx, pipe, key, msgs); err != nil {
		return err
	}
	h.expire(ctx, pipe, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append conversation: %w", err)
	}
	return nil
}

func (h *RedisHistory) expire(ctx context.Context, pipe redis.Pipeliner, key string) {
	if h.TTL > 0 {
		pipe.Expire(ctx, key, h.TTL)
	}
}

func pushAll(ctx context.Context, pipe redis.Pipeliner, key string, msgs []openai.ChatCompletionMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	vals := make([]any, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		vals = append(vals, string(b))
	}
	pipe.RPush(ctx, key, vals...)
	return nil
}

// MemoryHistory is the in-process History used when no Redis is configured.
type MemoryHistory struct {
	mu    sync.Mutex
	convs map[string][]openai.ChatCompletionMessage
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{convs: map[string][]openai.ChatCompletionMessage{}}
}

func (h *MemoryHistory) Create(ctx context.Context, conversationID string, system ...openai.ChatCompletionMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.convs[conversationID] = append([]openai.ChatCompletionMessage{}, system...)
	return nil
}

func (h *MemoryHistory) Load(ctx context.Context, conversationID string) ([]openai.ChatCompletionMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs, ok := h.convs[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return append([]openai.ChatCompletionMessage(nil), msgs...), nil
}

func (h *MemoryHistory) Append(ctx context.Context, conversationID string, msgs ...openai.ChatCompletionMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur, ok := h.convs[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	h.convs[conversationID] = append(cur, msgs...)
	return nil
}
