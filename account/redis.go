package account

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lendloop/authcore/twofactor"
)

// Hash fields of a user document. One-time code slots are flattened with a
// per-purpose prefix: "vo" for email verification, "lc" for the login
// challenge.
const (
	fID            = "id"
	fEmail         = "email"
	fUsername      = "username"
	fPasswordHash  = "password_hash"
	fRole          = "role"
	fEmailVerified = "email_verified"
	fTFEnabled     = "tf_enabled"
	fTFMethod      = "tf_method"
	fTFSecret      = "tf_secret"
	fTFPending     = "tf_pending"
	fTOTPStep      = "totp_step"
	fResetHash     = "reset_hash"
	fResetExp      = "reset_expires_at"
	fCreatedAt     = "created_at"
	fUpdatedAt     = "updated_at"

	slotVerification = "vo"
	slotLogin        = "lc"
)

// KEYS: email index, username index, user. ARGV: id, field/value pairs...
var createUserLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 1
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 2
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("SET", KEYS[2], ARGV[1])
redis.call("HSET", KEYS[3], unpack(ARGV, 2))
return 0
`)

// KEYS: user. ARGV: field/value pairs...
var updateExistingLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV))
return 1
`)

// KEYS: user. ARGV: slot, code, mark_verified, now_ms.
var consumeOTPLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
local stored = redis.call("HGET", KEYS[1], ARGV[1] .. "_code")
if not stored or stored == "" or stored ~= ARGV[2] then
  return 0
end
redis.call("HSET", KEYS[1], ARGV[1] .. "_code", "", ARGV[1] .. "_exp", "", ARGV[1] .. "_att", "0", "updated_at", ARGV[4])
if ARGV[3] == "1" then
  redis.call("HSET", KEYS[1], "email_verified", "1")
end
return 1
`)

// KEYS: user. ARGV: slot.
var incrAttemptsLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
return redis.call("HINCRBY", KEYS[1], ARGV[1] .. "_att", 1)
`)

// KEYS: user. ARGV: step.
var advanceStepLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
local last = tonumber(redis.call("HGET", KEYS[1], "totp_step") or "")
if last and tonumber(ARGV[1]) <= last then
  return 0
end
redis.call("HSET", KEYS[1], "totp_step", ARGV[1])
return 1
`)

// errResetChanged aborts a reset transaction whose token was replaced or
// already used.
var errResetChanged = errors.New("account: reset token changed")

// RedisStore keeps each user as a Redis hash with string index keys for
// email, username and reset token hash.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore returns a store writing under prefix. now may be nil.
func NewRedisStore(client redis.UniversalClient, prefix string, now func() time.Time) *RedisStore {
	if prefix == "" {
		prefix = "usr"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{redis: client, prefix: prefix, now: now}
}

func (s *RedisStore) userKey(id string) string     { return s.prefix + ":" + id }
func (s *RedisStore) emailKey(email string) string { return s.prefix + ":email:" + NormalizeEmail(email) }
func (s *RedisStore) nameKey(name string) string   { return s.prefix + ":name:" + normalizeUsername(name) }
func (s *RedisStore) resetKey(hash string) string  { return s.prefix + ":reset:" + hash }

func (s *RedisStore) Create(ctx context.Context, in NewUser) (*User, error) {
	now := s.now().UTC()
	role := in.Role
	if role == "" {
		role = DefaultRole
	}
	u := &User{
		ID:              newID(now),
		Email:           NormalizeEmail(in.Email),
		Username:        in.Username,
		PasswordHash:    in.PasswordHash,
		Role:            role,
		VerificationOTP: cloneOTP(in.VerificationOTP),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	args := append([]interface{}{u.ID}, encodeUser(u)...)
	code, err := createUserLua.Run(ctx, s.redis,
		[]string{s.emailKey(u.Email), s.nameKey(u.Username), s.userKey(u.ID)},
		args...,
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch code {
	case 1:
		return nil, ErrEmailTaken
	case 2:
		return nil, ErrUsernameTaken
	}
	return u, nil
}

func (s *RedisStore) ByID(ctx context.Context, id string) (*User, error) {
	fields, err := s.redis.HGetAll(ctx, s.userKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeUser(fields)
}

func (s *RedisStore) ByLogin(ctx context.Context, login string) (*User, error) {
	u, err := s.byIndex(ctx, s.emailKey(login))
	if errors.Is(err, ErrNotFound) {
		return s.byIndex(ctx, s.nameKey(login))
	}
	return u, err
}

func (s *RedisStore) ByEmail(ctx context.Context, email string) (*User, error) {
	return s.byIndex(ctx, s.emailKey(email))
}

func (s *RedisStore) ByResetTokenHash(ctx context.Context, hash string) (*User, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	u, err := s.byIndex(ctx, s.resetKey(hash))
	if err != nil {
		return nil, err
	}
	// The index can briefly outlive a replaced token.
	if u.ResetTokenHash != hash {
		return nil, ErrNotFound
	}
	return u, nil
}

func (s *RedisStore) SetOTP(ctx context.Context, id string, purpose Purpose, otp *twofactor.OTPState) error {
	fields := encodeOTP(slotFor(purpose), otp)
	return s.updateExisting(ctx, id, fields...)
}

func (s *RedisStore) ConsumeOTP(ctx context.Context, id string, purpose Purpose, code string) (bool, error) {
	if code == "" {
		return false, nil
	}
	mark := "0"
	if purpose == PurposeEmailVerification {
		mark = "1"
	}
	res, err := consumeOTPLua.Run(ctx, s.redis, []string{s.userKey(id)},
		slotFor(purpose), code, mark, s.now().UnixMilli(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res < 0 {
		return false, ErrNotFound
	}
	return res == 1, nil
}

func (s *RedisStore) IncrementOTPAttempts(ctx context.Context, id string, purpose Purpose) (int, error) {
	n, err := incrAttemptsLua.Run(ctx, s.redis, []string{s.userKey(id)}, slotFor(purpose)).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n < 0 {
		return 0, ErrNotFound
	}
	return int(n), nil
}

func (s *RedisStore) SetTwoFactor(ctx context.Context, id string, state twofactor.State) error {
	rec := state.Record()
	fields := []interface{}{
		fTFEnabled, boolField(rec.Enabled),
		fTFMethod, string(rec.Method),
		fTFSecret, rec.AuthenticatorSecret,
		fTFPending, rec.PendingAuthenticatorSecret,
	}
	fields = append(fields, encodeOTP(slotLogin, nil)...)
	return s.updateExisting(ctx, id, fields...)
}

func (s *RedisStore) AdvanceTOTPStep(ctx context.Context, id string, step uint64) (bool, error) {
	res, err := advanceStepLua.Run(ctx, s.redis, []string{s.userKey(id)},
		strconv.FormatUint(step, 10),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res < 0 {
		return false, ErrNotFound
	}
	return res == 1, nil
}

// SetPassword, ConsumeResetToken and SetResetToken touch the reset index as
// well as the user, so they run as optimistic transactions on the user key.
func (s *RedisStore) SetPassword(ctx context.Context, id string, hash string) error {
	return s.replaceReset(ctx, id, "", "", time.Time{}, fPasswordHash, hash)
}

func (s *RedisStore) ConsumeResetToken(ctx context.Context, id, tokenHash, passwordHash string) (bool, error) {
	if tokenHash == "" {
		return false, nil
	}
	err := s.replaceReset(ctx, id, tokenHash, "", time.Time{}, fPasswordHash, passwordHash)
	if errors.Is(err, errResetChanged) {
		return false, nil
	}
	return err == nil, err
}

func (s *RedisStore) SetResetToken(ctx context.Context, id string, hash string, expiresAt time.Time) error {
	return s.replaceReset(ctx, id, "", hash, expiresAt)
}

// replaceReset swaps the reset token for hash. A non-empty expect makes the
// write conditional on the current token.
func (s *RedisStore) replaceReset(ctx context.Context, id, expect, hash string, expiresAt time.Time, extra ...interface{}) error {
	key := s.userKey(id)
	txf := func(tx *redis.Tx) error {
		fields, err := tx.HMGet(ctx, key, fID, fResetHash).Result()
		if err != nil {
			return err
		}
		if fields[0] == nil {
			return ErrNotFound
		}
		previous, _ := fields[1].(string)
		if expect != "" && previous != expect {
			return errResetChanged
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if previous != "" {
				pipe.Del(ctx, s.resetKey(previous))
			}
			values := append([]interface{}{
				fResetHash, hash,
				fResetExp, millisField(expiresAt),
				fUpdatedAt, millisField(s.now()),
			}, extra...)
			pipe.HSet(ctx, key, values...)
			if hash != "" {
				pipe.Set(ctx, s.resetKey(hash), id, 0)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := s.redis.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrNotFound), errors.Is(err, errResetChanged):
			return err
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return fmt.Errorf("%w: reset token update contended", ErrUnavailable)
}

func (s *RedisStore) byIndex(ctx context.Context, indexKey string) (*User, error) {
	id, err := s.redis.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s.ByID(ctx, id)
}

func (s *RedisStore) updateExisting(ctx context.Context, id string, fields ...interface{}) error {
	fields = append(fields, fUpdatedAt, millisField(s.now()))
	ok, err := updateExistingLua.Run(ctx, s.redis, []string{s.userKey(id)}, fields...).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ok == 0 {
		return ErrNotFound
	}
	return nil
}

func slotFor(purpose Purpose) string {
	if purpose == PurposeLogin {
		return slotLogin
	}
	return slotVerification
}

func encodeUser(u *User) []interface{} {
	fields := []interface{}{
		fID, u.ID,
		fEmail, u.Email,
		fUsername, u.Username,
		fPasswordHash, u.PasswordHash,
		fRole, u.Role,
		fEmailVerified, boolField(u.EmailVerified),
		fTFEnabled, boolField(u.TwoFactor.Enabled),
		fTFMethod, string(u.TwoFactor.Method),
		fTFSecret, u.TwoFactor.AuthenticatorSecret,
		fTFPending, u.TwoFactor.PendingAuthenticatorSecret,
		fTOTPStep, strconv.FormatUint(u.TOTPLastStep, 10),
		fResetHash, u.ResetTokenHash,
		fResetExp, millisField(u.ResetTokenExpiresAt),
		fCreatedAt, millisField(u.CreatedAt),
		fUpdatedAt, millisField(u.UpdatedAt),
	}
	fields = append(fields, encodeOTP(slotVerification, u.VerificationOTP)...)
	return append(fields, encodeOTP(slotLogin, u.TwoFactor.LoginChallenge)...)
}

func encodeOTP(slot string, otp *twofactor.OTPState) []interface{} {
	if otp == nil {
		return []interface{}{slot + "_code", "", slot + "_exp", "", slot + "_att", "0"}
	}
	return []interface{}{
		slot + "_code", otp.Code,
		slot + "_exp", millisField(otp.ExpiresAt),
		slot + "_att", strconv.Itoa(otp.Attempts),
	}
}

func decodeUser(f map[string]string) (*User, error) {
	u := &User{
		ID:            f[fID],
		Email:         f[fEmail],
		Username:      f[fUsername],
		PasswordHash:  f[fPasswordHash],
		Role:          f[fRole],
		EmailVerified: f[fEmailVerified] == "1",
		TwoFactor: twofactor.Record{
			Enabled:                    f[fTFEnabled] == "1",
			Method:                     twofactor.Method(f[fTFMethod]),
			AuthenticatorSecret:        f[fTFSecret],
			PendingAuthenticatorSecret: f[fTFPending],
		},
		ResetTokenHash: f[fResetHash],
	}
	u.TOTPLastStep, _ = strconv.ParseUint(f[fTOTPStep], 10, 64)

	var err error
	if u.ResetTokenExpiresAt, err = parseMillisField(f[fResetExp]); err != nil {
		return nil, fmt.Errorf("user %s: %s: %w", u.ID, fResetExp, err)
	}
	if u.CreatedAt, err = parseMillisField(f[fCreatedAt]); err != nil {
		return nil, fmt.Errorf("user %s: %s: %w", u.ID, fCreatedAt, err)
	}
	if u.UpdatedAt, err = parseMillisField(f[fUpdatedAt]); err != nil {
		return nil, fmt.Errorf("user %s: %s: %w", u.ID, fUpdatedAt, err)
	}
	if u.VerificationOTP, err = decodeOTP(slotVerification, f); err != nil {
		return nil, fmt.Errorf("user %s: %w", u.ID, err)
	}
	if u.TwoFactor.LoginChallenge, err = decodeOTP(slotLogin, f); err != nil {
		return nil, fmt.Errorf("user %s: %w", u.ID, err)
	}
	return u, nil
}

// decodeOTP returns nil for a slot without a code. The attempts counter of
// an empty slot is still reported so failed guesses against a cleared slot
// are not lost.
func decodeOTP(slot string, f map[string]string) (*twofactor.OTPState, error) {
	attempts, _ := strconv.Atoi(f[slot+"_att"])
	code := f[slot+"_code"]
	if code == "" {
		if attempts > 0 {
			return &twofactor.OTPState{Attempts: attempts}, nil
		}
		return nil, nil
	}
	exp, err := parseMillisField(f[slot+"_exp"])
	if err != nil {
		return nil, fmt.Errorf("%s_exp: %w", slot, err)
	}
	return &twofactor.OTPState{Code: code, ExpiresAt: exp, Attempts: attempts}, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func millisField(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillisField(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
