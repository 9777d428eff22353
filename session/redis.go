package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound    int64 = 0
	rotateStatusExpired     int64 = 1
	rotateStatusMismatch    int64 = 2
	rotateStatusRotated     int64 = 3
	rotateStatusInvalidBlob int64 = 4
)

// The refresh hash follows the length-prefixed user id; rotatedAt is 8 bytes after
// the hash (after createdAt).
const rotateRefreshScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end

local version = string.byte(data, 1)
local user_len = string.byte(data, 2)
if version ~= 1 or not user_len then
  return {4}
end
local hash_at = 3 + user_len
if #data < hash_at + 32 + 24 - 1 then
  return {4}
end

local user_key = ARGV[4] .. string.sub(data, 3, 2 + user_len)
local stored = string.sub(data, hash_at, hash_at + 31)

if stored ~= ARGV[1] then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", user_key, ARGV[5])
  return {2, data}
end

local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", user_key, ARGV[5])
  return {1}
end

local rotated_at = hash_at + 40
local updated = string.sub(data, 1, hash_at - 1) .. ARGV[2] ..
  string.sub(data, hash_at + 32, rotated_at - 1) .. ARGV[3] ..
  string.sub(data, rotated_at + 8)

redis.call("SET", KEYS[1], updated, "PX", ttl)
return {3, updated}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

const deleteSessionScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
redis.call("DEL", KEYS[1])
local user_len = string.byte(data, 2)
if user_len then
  redis.call("SREM", ARGV[1] .. string.sub(data, 3, 2 + user_len), ARGV[2])
end
return 1
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// RedisStore keeps each session as one binary blob with a TTL equal to its remaining
// lifetime, plus a per-user set of session ids.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore returns a store using prefix for session keys ("as" when empty).
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "as"
	}
	return &RedisStore{redis: rdb, prefix: prefix, now: time.Now}
}

// WithClock overrides the clock used to compute TTLs on Create.
func (s *RedisStore) WithClock(now func() time.Time) *RedisStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *RedisStore) userPrefix() string {
	return s.prefix + "u:"
}

func (s *RedisStore) userKey(userID string) string {
	return s.userPrefix() + userID
}

func (s *RedisStore) Create(ctx context.Context, sess *Session) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}
	ttl := sess.TTL(s.now())
	if ttl <= 0 {
		return ErrExpired
	}

	userKey := s.userKey(sess.UserID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), data, ttl)
		pipe.SAdd(ctx, userKey, sess.ID)
		pipe.PExpire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	sess, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	sess.ID = id
	return sess, nil
}

func (s *RedisStore) Rotate(ctx context.Context, id string, presented, next [32]byte, now time.Time) (*Session, error) {
	var rotatedAt [8]byte
	binary.BigEndian.PutUint64(rotatedAt[:], uint64(now.Unix()))

	result, err := rotateRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.key(id)},
		presented[:],
		next[:],
		rotatedAt[:],
		s.userPrefix(),
		id,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrStoreUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrStoreUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return nil, ErrNotFound
	case rotateStatusExpired:
		return nil, ErrExpired
	case rotateStatusInvalidBlob:
		return nil, ErrCorrupt
	case rotateStatusMismatch, rotateStatusRotated:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: missing session payload", ErrStoreUnavailable)
		}
		blob, ok := parts[1].(string)
		if !ok {
			return nil, fmt.Errorf("%w: invalid session payload", ErrStoreUnavailable)
		}
		sess, err := Decode([]byte(blob))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		sess.ID = id
		if code == rotateStatusMismatch {
			return sess, ErrReuseDetected
		}
		return sess, nil
	default:
		return nil, fmt.Errorf("%w: unknown rotate script status", ErrStoreUnavailable)
	}
}

func (s *RedisStore) Revoke(ctx context.Context, id string) error {
	if err := deleteSessionLua.Run(ctx, s.redis, []string{s.key(id)}, s.userPrefix(), id).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeAllForUser deletes every session in the user's index.
//
// A session created between the SMEMBERS read and the delete survives this call; it
// is caught by the next revoke-all or expires on its own.
func (s *RedisStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)
	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}

	var del *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, keys...)
		pipe.SRem(ctx, userKey, toAny(ids)...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(del.Val()), nil
}

func (s *RedisStore) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	out := make([]*Session, 0, len(ids))
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		sess, err := Decode(data)
		if err != nil {
			continue
		}
		sess.ID = ids[i]
		out = append(out, sess)
	}
	return out, nil
}

// Ping checks Redis availability.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func toAny(ids []string) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
