package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionStore tracks live session ids so a signed session token can be
// revoked before it expires.
type SessionStore interface {
	Create(ctx context.Context, userID uuid.UUID, sessionID string, ttl time.Duration) error
	Exists(ctx context.Context, userID uuid.UUID, sessionID string) (bool, error)
	Delete(ctx context.Context, userID uuid.UUID, sessionID string) error
	DeleteAllForUser(ctx context.Context, userID uuid.UUID) error
}

const (
	sessionKeyPrefix     = "session:"
	userSessionKeyPrefix = "user_sessions:"
)

type RedisSessionStore struct {
	client *redis.Client
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func (s *RedisSessionStore) Create(ctx context.Context, userID uuid.UUID, sessionID string, ttl time.Duration) error {
	userKey := userSessionKeyPrefix + userID.String()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+sessionID, userID.String(), ttl)
	pipe.SAdd(ctx, userKey, sessionID)
	pipe.Expire(ctx, userKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Exists(ctx context.Context, userID uuid.UUID, sessionID string) (bool, error) {
	owner, err := s.client.Get(ctx, sessionKeyPrefix+sessionID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading session: %w", err)
	}
	return owner == userID.String(), nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, userID uuid.UUID, sessionID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKeyPrefix+sessionID)
	pipe.SRem(ctx, userSessionKeyPrefix+userID.String(), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error {
	userKey := userSessionKeyPrefix + userID.String()

	sids, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	keys := make([]string, 0, len(sids)+1)
	for _, sid := range sids {
		keys = append(keys, sessionKeyPrefix+sid)
	}
	keys = append(keys, userKey)

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("deleting sessions: %w", err)
	}
	return nil
}

// MemorySessionStore keeps sessions in process memory. It is used when
// Redis is unavailable and in tests; sessions do not survive a restart.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]memorySession
	now      func() time.Time
}

type memorySession struct {
	userID    uuid.UUID
	expiresAt time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]memorySession),
		now:      time.Now,
	}
}

func (s *MemorySessionStore) Create(_ context.Context, userID uuid.UUID, sessionID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for sid, sess := range s.sessions {
		if now.After(sess.expiresAt) {
			delete(s.sessions, sid)
		}
	}
	s.sessions[sessionID] = memorySession{userID: userID, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemorySessionStore) Exists(_ context.Context, userID uuid.UUID, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.userID != userID {
		return false, nil
	}
	return s.now().Before(sess.expiresAt), nil
}

func (s *MemorySessionStore) Delete(_ context.Context, _ uuid.UUID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

func (s *MemorySessionStore) DeleteAllForUser(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sid, sess := range s.sessions {
		if sess.userID == userID {
			delete(s.sessions, sid)
		}
	}
	return nil
}

// Count returns the number of live sessions for userID.
func (s *MemorySessionStore) Count(userID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, sess := range s.sessions {
		if sess.userID == userID && s.now().Before(sess.expiresAt) {
			n++
		}
	}
	return n
}
