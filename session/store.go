package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when the session does not exist or belongs to
	// another user.
	ErrNotFound = errors.New("session not found")
	// ErrRevoked is returned for operations on a terminal session.
	ErrRevoked = errors.New("session revoked")
	// ErrReuseDetected is returned when a superseded refresh token is
	// presented. The session has been revoked by the time it is returned.
	ErrReuseDetected = fmt.Errorf("%w: refresh token reuse detected", ErrRevoked)
	// ErrRedisUnavailable wraps transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

const (
	statusNotFound int64 = 0
	statusRevoked  int64 = 1
	statusMismatch int64 = 2
	statusApplied  int64 = 3
)

const (
	fieldUserID       = "user_id"
	fieldDeviceID     = "device_id"
	fieldIP           = "ip"
	fieldUserAgent    = "user_agent"
	fieldRefreshHash  = "refresh_hash"
	fieldCreatedAt    = "created_at"
	fieldLastUsedAt   = "last_used_at"
	fieldRevokedAt    = "revoked_at"
	fieldRevokeReason = "revoke_reason"
)

// KEYS: session, index. ARGV: user_id, next_hash, now_ms, session_id.
var rotateLua = redis.NewScript(`
local f = redis.call("HMGET", KEYS[1], "user_id", "revoked_at")
if not f[1] or f[1] ~= ARGV[1] then
  return 0
end
if f[2] and f[2] ~= "" then
  return 1
end
redis.call("HSET", KEYS[1], "refresh_hash", ARGV[2], "last_used_at", ARGV[3])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[4])
return 3
`)

// KEYS: session, index. ARGV: user_id, presented_hash, next_hash, now_ms,
// session_id, reuse_reason.
var validateAndRotateLua = redis.NewScript(`
local f = redis.call("HMGET", KEYS[1], "user_id", "refresh_hash", "revoked_at")
if not f[1] or f[1] ~= ARGV[1] then
  return 0
end
if f[3] and f[3] ~= "" then
  return 1
end
if not f[2] or f[2] == "" or f[2] ~= ARGV[2] then
  redis.call("HSET", KEYS[1], "revoked_at", ARGV[4], "revoke_reason", ARGV[6])
  return 2
end
redis.call("HSET", KEYS[1], "refresh_hash", ARGV[3], "last_used_at", ARGV[4])
redis.call("ZADD", KEYS[2], ARGV[4], ARGV[5])
return 3
`)

// KEYS: session. ARGV: now_ms, reason.
var revokeLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local revoked = redis.call("HGET", KEYS[1], "revoked_at")
if revoked and revoked ~= "" then
  return 1
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[1], "revoke_reason", ARGV[2])
return 3
`)

// Store is the Redis-backed session store. It is safe for concurrent use.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore returns a Store writing under prefix. now may be nil.
func NewStore(client redis.UniversalClient, prefix string, now func() time.Time) *Store {
	if prefix == "" {
		prefix = "as"
	}
	if now == nil {
		now = time.Now
	}
	return &Store{redis: client, prefix: prefix, now: now}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// Create persists a new active session. Its refresh hash is empty until the
// first Rotate, so no refresh token can match it before then.
//
//	Performance: 1 MULTI/EXEC (HSET + ZADD).
func (s *Store) Create(ctx context.Context, in NewSession) (*Session, error) {
	now := s.now().UTC()
	sess := &Session{
		ID:         uuid.NewString(),
		UserID:     in.UserID,
		DeviceID:   in.DeviceID,
		IP:         in.IP,
		UserAgent:  in.UserAgent,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	ms := strconv.FormatInt(now.UnixMilli(), 10)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(sess.ID),
			fieldUserID, sess.UserID,
			fieldDeviceID, sess.DeviceID,
			fieldIP, sess.IP,
			fieldUserAgent, sess.UserAgent,
			fieldRefreshHash, "",
			fieldCreatedAt, ms,
			fieldLastUsedAt, ms,
			fieldRevokedAt, "",
			fieldRevokeReason, "",
		)
		pipe.ZAdd(ctx, s.userKey(sess.UserID), redis.Z{Score: float64(now.UnixMilli()), Member: sess.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return sess, nil
}

// Rotate stores the hash of token as the session's only valid refresh token
// without checking the previous one. Used right after Create.
func (s *Store) Rotate(ctx context.Context, userID, sessionID, token string) error {
	now := s.now().UnixMilli()
	status, err := rotateLua.Run(ctx, s.redis,
		[]string{s.key(sessionID), s.userKey(userID)},
		userID, HashToken(token), now, sessionID,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return statusErr(status)
}

// ValidateAndRotate atomically checks that presented is the current refresh
// token of the session and replaces it with next. A mismatch revokes the
// session and returns ErrReuseDetected; of two concurrent calls presenting
// the same token exactly one succeeds.
//
//	Security: the losing caller of a race is indistinguishable from a thief
//	and is treated as one.
func (s *Store) ValidateAndRotate(ctx context.Context, userID, sessionID, presented, next string) error {
	now := s.now().UnixMilli()
	status, err := validateAndRotateLua.Run(ctx, s.redis,
		[]string{s.key(sessionID), s.userKey(userID)},
		userID, HashToken(presented), HashToken(next), now, sessionID, ReasonReuseDetected,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return statusErr(status)
}

// Revoke marks the session revoked with reason. Revoking an already revoked
// session is a no-op that keeps the original timestamp and reason; revoked
// reports whether this call performed the transition.
func (s *Store) Revoke(ctx context.Context, sessionID, reason string) (revoked bool, err error) {
	status, err := revokeLua.Run(ctx, s.redis,
		[]string{s.key(sessionID)},
		s.now().UnixMilli(), reason,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	switch status {
	case statusApplied:
		return true, nil
	case statusRevoked:
		return false, nil
	default:
		return false, ErrNotFound
	}
}

// RevokeAllForUser revokes every active session of userID except those
// matched by except, and returns how many were revoked.
//
// Each revocation is atomic on its own; a session created concurrently
// with this call may survive it.
func (s *Store) RevokeAllForUser(ctx context.Context, userID, reason string, except Except) (int, error) {
	sessions, err := s.ListForUser(ctx, userID, true)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, sess := range sessions {
		if except.matches(sess) {
			continue
		}
		revoked, err := s.Revoke(ctx, sess.ID, reason)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return n, err
		}
		if revoked {
			n++
		}
	}
	return n, nil
}

// Get loads one session.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decode(sessionID, fields)
}

// ListForUser returns the sessions of userID, most recently used first.
// With activeOnly, revoked sessions are skipped.
//
//	Performance: 1 ZREVRANGE + 1 pipelined HGETALL per session.
func (s *Store) ListForUser(ctx context.Context, userID string, activeOnly bool) ([]*Session, error) {
	ids, err := s.redis.ZRevRange(ctx, s.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]*Session, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		sess, err := decode(ids[i], fields)
		if err != nil {
			return nil, err
		}
		if activeOnly && !sess.Active() {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func statusErr(status int64) error {
	switch status {
	case statusApplied:
		return nil
	case statusRevoked:
		return ErrRevoked
	case statusMismatch:
		return ErrReuseDetected
	default:
		return ErrNotFound
	}
}

func decode(id string, f map[string]string) (*Session, error) {
	created, err := parseMillis(f[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("session %s: created_at: %w", id, err)
	}
	lastUsed, err := parseMillis(f[fieldLastUsedAt])
	if err != nil {
		return nil, fmt.Errorf("session %s: last_used_at: %w", id, err)
	}

	sess := &Session{
		ID:           id,
		UserID:       f[fieldUserID],
		DeviceID:     f[fieldDeviceID],
		IP:           f[fieldIP],
		UserAgent:    f[fieldUserAgent],
		RefreshHash:  f[fieldRefreshHash],
		CreatedAt:    created,
		LastUsedAt:   lastUsed,
		RevokeReason: f[fieldRevokeReason],
	}
	if raw := f[fieldRevokedAt]; raw != "" {
		revoked, err := parseMillis(raw)
		if err != nil {
			return nil, fmt.Errorf("session %s: revoked_at: %w", id, err)
		}
		sess.RevokedAt = &revoked
	}
	return sess, nil
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
