package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/groupgate/group-gate-bot/types"
)

// RedisSessionStore keeps wizard conversations keyed by (chat, user). One
// key per conversation: writing a new session overwrites whatever state was
// active, which is what keeps wizard states mutually exclusive.
type RedisSessionStore struct {
	client *RedisClient
	ttl    time.Duration
}

func NewRedisSessionStore(redisClient *RedisClient, ttlHours int) *RedisSessionStore {
	ttl := time.Duration(ttlHours) * time.Hour
	if ttlHours <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSessionStore{
		client: redisClient,
		ttl:    ttl,
	}
}

func (s *RedisSessionStore) sessionKey(chatID, userID int64) string {
	return s.client.generateKey("wizard", fmt.Sprintf("%d", chatID), fmt.Sprintf("%d", userID))
}

func (s *RedisSessionStore) GetSession(chatID, userID int64) (*types.Session, error) {
	var session types.Session
	err := s.client.Get(s.sessionKey(chatID, userID), &session)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

func (s *RedisSessionStore) SetSession(session *types.Session) error {
	return s.client.Set(s.sessionKey(session.ChatID, session.UserID), session, s.ttl)
}

func (s *RedisSessionStore) ClearSession(chatID, userID int64) error {
	return s.client.Del(s.sessionKey(chatID, userID))
}
