// Package idempotency keeps inbound message ids so webhook retries of a
// processed message become no-ops.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statePending = "pending"
	stateDone    = "done"

	// PendingTTL bounds how long a crashed request can hold a claim.
	PendingTTL = 5 * time.Minute
)

// Guard claims keys. Claim reports false when the key is already pending or
// done. Release drops a pending claim so a retry can run; Complete keeps the
// key for the guard's TTL and drops any stashed value.
//
// Stash keeps a value next to a key across a Release, so a retry can pick up
// work that already happened (an undelivered reply) instead of redoing it.
type Guard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Complete(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
	Stash(ctx context.Context, key string, value []byte) error
	Stashed(ctx context.Context, key string) ([]byte, bool, error)
}

func InboundKey(chatID, messageID string) string {
	return fmt.Sprintf("inbound:%s:%s", chatID, messageID)
}

type RedisGuard struct {
	Redis *redis.Client
	TTL   time.Duration
}

func (g *RedisGuard) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := g.Redis.SetNX(ctx, key, statePending, PendingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func stashKey(key string) string { return key + ":reply" }

func (g *RedisGuard) Complete(ctx context.Context, key string) error {
	pipe := g.Redis.TxPipeline()
	pipe.Set(ctx, key, stateDone, g.TTL)
	pipe.Del(ctx, stashKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("complete %s: %w", key, err)
	}
	return nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.Redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func (g *RedisGuard) Stash(ctx context.Context, key string, value []byte) error {
	if err := g.Redis.Set(ctx, stashKey(key), value, g.TTL).Err(); err != nil {
		return fmt.Errorf("stash %s: %w", key, err)
	}
	return nil
}

func (g *RedisGuard) Stashed(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := g.Redis.Get(ctx, stashKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("stashed %s: %w", key, err)
	}
	return b, true, nil
}

type memEntry struct {
	state   string
	value   []byte
	expires time.Time
}

type MemoryGuard struct {
	TTL time.Duration
	Now func() time.Time

	mu      sync.Mutex
	keys    map[string]memEntry
	stashes map[string]memEntry
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{TTL: ttl, Now: time.Now, keys: map[string]memEntry{}, stashes: map[string]memEntry{}}
}

func (g *MemoryGuard) ttl() time.Duration {
	if g.TTL <= 0 {
		return 24 * time.Hour
	}
	return g.TTL
}

func (g *MemoryGuard) Claim(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.Now()
	if e, ok := g.keys[key]; ok && now.Before(e.expires) {
		return false, nil
	}
	g.keys[key] = memEntry{state: statePending, expires: now.Add(PendingTTL)}
	return true, nil
}

func (g *MemoryGuard) Complete(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys[key] = memEntry{state: stateDone, expires: g.Now().Add(g.ttl())}
	delete(g.stashes, key)
	return nil
}

func (g *MemoryGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, key)
	return nil
}

func (g *MemoryGuard) Stash(ctx context.Context, key string, value []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stashes[key] = memEntry{value: append([]byte(nil), value...), expires: g.Now().Add(g.ttl())}
	return nil
}

func (g *MemoryGuard) Stashed(ctx context.Context, key string) ([]byte, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.stashes[key]
	if !ok || !g.Now().Before(e.expires) {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}
