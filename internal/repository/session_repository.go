package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/vocanalytics/voc/internal/database"
	"github.com/vocanalytics/voc/internal/model"
)

const (
	sessionKeyPrefix     = "voc:session:"
	userSessionKeyPrefix = "voc:user_sessions:"
)

// SessionRepository stores sessions in Redis. Each session is a JSON value
// whose key expires with the session; a per-user set indexes session ids
// so all of a user's sessions can be revoked at once.
type SessionRepository struct {
	rdb *database.Redis
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(rdb *database.Redis) *SessionRepository {
	return &SessionRepository{rdb: rdb}
}

func sessionKey(id string) string { return sessionKeyPrefix + id }
func userSessionsKey(userID string) string { return userSessionKeyPrefix + userID }

// Create stores a new session
func (r *SessionRepository) Create(ctx context.Context, session *model.Session) error {
	ttl := session.ExpiresAt.Sub(session.CreatedAt)
	if ttl <= 0 {
		return fmt.Errorf("create session: non-positive lifetime")
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(session.ID), data, ttl)
	pipe.SAdd(ctx, userSessionsKey(session.UserID), session.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return redisErr("create session", err)
	}
	return nil
}

// Get retrieves a session by ID
func (r *SessionRepository) Get(ctx context.Context, id string) (*model.Session, error) {
	data, err := r.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, redisErr("get session", err)
	}
	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

// Delete removes a session. Deleting an absent session is not an error.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	session, err := r.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, userSessionsKey(session.UserID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return redisErr("delete session", err)
	}
	return nil
}

// DeleteByUser removes every session of userID and returns how many
// live sessions were removed
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	indexKey := userSessionsKey(userID)
	ids, err := r.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, redisErr("list user sessions", err)
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}

	pipe := r.rdb.TxPipeline()
	var del *redis.IntCmd
	if len(keys) > 0 {
		del = pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, indexKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, redisErr("delete user sessions", err)
	}
	if del == nil {
		return 0, nil
	}
	return del.Val(), nil
}

// PurgeExpired removes index entries whose session key has already
// expired. Redis reclaims the session values itself. It returns the
// number of index entries pruned.
func (r *SessionRepository) PurgeExpired(ctx context.Context) (int64, error) {
	var (
		cursor uint64
		pruned int64
	)
	for {
		indexKeys, next, err := r.rdb.Scan(ctx, cursor, userSessionKeyPrefix+"*", 100).Result()
		if err != nil {
			return pruned, redisErr("scan session index", err)
		}
		for _, indexKey := range indexKeys {
			n, err := r.pruneIndex(ctx, indexKey)
			if err != nil {
				return pruned, err
			}
			pruned += n
		}
		cursor = next
		if cursor == 0 {
			return pruned, nil
		}
	}
}

func (r *SessionRepository) pruneIndex(ctx context.Context, indexKey string) (int64, error) {
	ids, err := r.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, redisErr("list session index", err)
	}

	var stale []interface{}
	for _, id := range ids {
		exists, err := r.rdb.Exists(ctx, sessionKey(id)).Result()
		if err != nil {
			return 0, redisErr("check session", err)
		}
		if exists == 0 {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := r.rdb.SRem(ctx, indexKey, stale...).Err(); err != nil {
		return 0, redisErr("prune session index", err)
	}
	return int64(len(stale)), nil
}

// redisErr classifies go-redis failures. Any failure talking to Redis
// other than a missing key means the session store is unavailable.
func redisErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
