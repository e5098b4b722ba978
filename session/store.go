package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRefreshHashMismatch is returned when the provided refresh hash does
// not match the stored one: either a replayed token or corruption.
var ErrRefreshHashMismatch = errors.New("refresh hash mismatch")

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrSessionCorrupt is returned when a session blob fails structural checks.
var ErrSessionCorrupt = errors.New("session blob corrupt")

// RevokedError reports an operation against a revoked session, carrying
// the persisted reason so callers can distinguish eviction from signout.
type RevokedError struct {
	Reason RevokeReason
}

func (e *RevokedError) Error() string {
	return "session revoked: " + e.Reason.String()
}

const (
	rotateStatusNotFound    int64 = 0
	rotateStatusExpired     int64 = 1
	rotateStatusMismatch    int64 = 2
	rotateStatusRotated     int64 = 3
	rotateStatusInvalidBlob int64 = 4
	rotateStatusRevoked     int64 = 5
)

// rotateRefreshScript atomically swaps the refresh hash in a session blob.
// Exactly one of N concurrent callers presenting the same provided hash
// observes a match; the rest fail with a mismatch. Offsets mirror the
// layout documented in encoder.go (Lua indexes are 1-based).
const rotateRefreshScript = `
local function read_be64(s, i)
  local v = 0
  for off = 0, 7 do
    local b = string.byte(s, i + off)
    if not b then
      return nil
    end
    v = v * 256 + b
  end
  return v
end

local session_key = KEYS[1]
local session_id = ARGV[1]
local user_prefix = ARGV[2]
local provided_hash = ARGV[3]
local next_hash = ARGV[4]
local now_unix = tonumber(ARGV[5])

local data = redis.call("GET", session_key)
if not data then
  return {0}
end

if #data < 69 or string.byte(data, 1) ~= 1 then
  return {4}
end

local user_len = string.byte(data, 68)
if not user_len or #data < 68 + user_len then
  return {4}
end
local user_id = string.sub(data, 69, 68 + user_len)
local user_index_key = user_prefix .. user_id

if string.byte(data, 2) == 1 then
  return {5, string.byte(data, 3)}
end

local expires_at = read_be64(data, 12)
if not expires_at then
  return {4}
end
if expires_at <= now_unix then
  redis.call("DEL", session_key)
  redis.call("ZREM", user_index_key, session_id)
  return {1}
end

local stored_hash = string.sub(data, 36, 67)
if stored_hash ~= provided_hash then
  return {2}
end

local ttl = redis.call("PTTL", session_key)
if ttl <= 0 then
  redis.call("DEL", session_key)
  redis.call("ZREM", user_index_key, session_id)
  return {1}
end

local updated = string.sub(data, 1, 35) .. next_hash .. string.sub(data, 68)
redis.call("SET", session_key, updated, "PX", ttl)

return {3, updated}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

// revokeSessionScript flips the revoked flag, reason, and timestamp in
// place while preserving the remaining TTL, and drops the session from the
// user's active index. Returns 1 when newly revoked, 2 when it was already
// revoked, 0 when absent or expired.
const revokeSessionScript = `
local session_key = KEYS[1]
local user_index_key = KEYS[2]
local session_id = ARGV[1]
local reason = tonumber(ARGV[2])
local revoked_at = ARGV[3]

redis.call("ZREM", user_index_key, session_id)

local data = redis.call("GET", session_key)
if not data then
  return 0
end
if #data < 69 or string.byte(data, 1) ~= 1 then
  return 0
end
if string.byte(data, 2) == 1 then
  return 2
end

local ttl = redis.call("PTTL", session_key)
if ttl <= 0 then
  redis.call("DEL", session_key)
  return 0
end

local updated = string.sub(data, 1, 1)
  .. string.char(1)
  .. string.char(reason)
  .. string.sub(data, 4, 19)
  .. revoked_at
  .. string.sub(data, 28)
redis.call("SET", session_key, updated, "PX", ttl)

return 1
`

var revokeSessionLua = redis.NewScript(revokeSessionScript)

// Store is a Redis-backed session store handling persistence, per-user
// indexing (ordered by creation time for FIFO eviction), revocation, and
// atomic refresh-token rotation.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the Redis key namespace.
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "acs"
	}
	return &Store{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) userIndexKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// Save persists a session and adds it to the owning user's active index,
// scored by creation time so the oldest session is always first. The score
// carries sub-second resolution: sessions created within the same second
// must still evict in creation order.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	sessionKey := s.key(sess.SessionID)
	userIndexKey := s.userIndexKey(sess.UserID)

	score := float64(sess.CreatedAt)
	if nowUnix := time.Now().Unix(); sess.CreatedAt == nowUnix {
		score = float64(time.Now().UnixMicro()) / 1e6
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey, data, ttl)
		pipe.ZAdd(ctx, userIndexKey, redis.Z{
			Score:  score,
			Member: sess.SessionID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get fetches a session without mutating any Redis state. Returns
// redis.Nil when the session is absent or past its stored expiry.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	sess.SessionID = sessionID
	if time.Now().Unix() > sess.ExpiresAt {
		return nil, redis.Nil
	}

	return sess, nil
}

// ActiveSessionIDs returns the user's non-revoked session IDs ordered
// oldest first. Entries whose backing record has expired are pruned from
// the index opportunistically.
func (s *Store) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.redis.ZRange(ctx, s.userIndexKey(userID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// LiveSessions fetches the user's sessions oldest first, skipping records
// that have expired underneath the index. Stale index entries are removed.
func (s *Store) LiveSessions(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := s.ActiveSessionIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, sid := range ids {
		cmds[i] = pipe.Get(ctx, s.key(sid))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]*Session, 0, len(ids))
	var stale []interface{}
	nowUnix := time.Now().Unix()
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				stale = append(stale, ids[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}

		sess, decErr := Decode(data)
		if decErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, decErr)
		}
		sess.SessionID = ids[i]
		if sess.Revoked || nowUnix > sess.ExpiresAt {
			stale = append(stale, ids[i])
			continue
		}
		sessions = append(sessions, sess)
	}

	if len(stale) > 0 {
		if err := s.redis.ZRem(ctx, s.userIndexKey(userID), stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return sessions, nil
}

// RotateRefreshHash atomically replaces the refresh hash using a Lua
// compare-and-swap. This is the single-winner total order for concurrent
// refresh attempts on the same session: the loser gets
// [ErrRefreshHashMismatch], which the caller reports as token reuse.
func (s *Store) RotateRefreshHash(
	ctx context.Context,
	sessionID string,
	providedHash [32]byte,
	nextHash [32]byte,
) (*Session, error) {
	result, err := rotateRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		sessionID,
		s.userIndexKey(""),
		providedHash[:],
		nextHash[:],
		time.Now().Unix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrRedisUnavailable)
	}

	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrRedisUnavailable)
	}

	switch code {
	case rotateStatusNotFound, rotateStatusExpired:
		return nil, redis.Nil
	case rotateStatusMismatch:
		return nil, ErrRefreshHashMismatch
	case rotateStatusRevoked:
		reason := ReasonNone
		if len(parts) > 1 {
			if raw, ok := parts[1].(int64); ok {
				reason = RevokeReason(raw)
			}
		}
		return nil, &RevokedError{Reason: reason}
	case rotateStatusRotated:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: missing updated session payload", ErrRedisUnavailable)
		}

		var blob []byte
		switch v := parts[1].(type) {
		case string:
			blob = []byte(v)
		case []byte:
			blob = v
		default:
			return nil, fmt.Errorf("%w: invalid updated session payload", ErrRedisUnavailable)
		}

		sess, decErr := Decode(blob)
		if decErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, decErr)
		}
		sess.SessionID = sessionID
		return sess, nil
	case rotateStatusInvalidBlob:
		return nil, ErrSessionCorrupt
	default:
		return nil, fmt.Errorf("%w: unknown rotate script status", ErrRedisUnavailable)
	}
}

// Revoke marks a session revoked in place, preserving its TTL so the
// device's next request can be answered with the persisted reason. Returns
// true when this call performed the revocation, false when the session was
// already revoked or gone.
func (s *Store) Revoke(ctx context.Context, userID, sessionID string, reason RevokeReason, at time.Time) (bool, error) {
	var revokedAt [8]byte
	binary.BigEndian.PutUint64(revokedAt[:], uint64(at.Unix()))

	result, err := revokeSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID), s.userIndexKey(userID)},
		sessionID,
		int(reason),
		revokedAt[:],
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return result == 1, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
