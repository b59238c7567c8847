package account

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/lendloop/authcore/twofactor"
)

// MemoryStore keeps users in process memory. Values returned to callers are
// copies; mutating them has no effect on the store.
type MemoryStore struct {
	mu      sync.RWMutex
	now     func() time.Time
	byID    map[string]*User
	byEmail map[string]string
	byName  map[string]string
	byReset map[string]string
}

// NewMemoryStore returns an empty store. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:     now,
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
		byName:  make(map[string]string),
		byReset: make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, in NewUser) (*User, error) {
	email := NormalizeEmail(in.Email)
	name := normalizeUsername(in.Username)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[email]; ok {
		return nil, ErrEmailTaken
	}
	if _, ok := m.byName[name]; ok {
		return nil, ErrUsernameTaken
	}

	now := m.now().UTC()
	role := in.Role
	if role == "" {
		role = DefaultRole
	}
	u := &User{
		ID:              newID(now),
		Email:           email,
		Username:        in.Username,
		PasswordHash:    in.PasswordHash,
		Role:            role,
		VerificationOTP: cloneOTP(in.VerificationOTP),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.byID[u.ID] = u
	m.byEmail[email] = u.ID
	m.byName[name] = u.ID
	return u.clone(), nil
}

func (m *MemoryStore) ByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.get(id)
}

func (m *MemoryStore) ByLogin(_ context.Context, login string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.byEmail[NormalizeEmail(login)]; ok {
		return m.get(id)
	}
	if id, ok := m.byName[normalizeUsername(login)]; ok {
		return m.get(id)
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return m.get(id)
}

func (m *MemoryStore) ByResetTokenHash(_ context.Context, hash string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byReset[hash]
	if !ok || hash == "" {
		return nil, ErrNotFound
	}
	return m.get(id)
}

func (m *MemoryStore) SetOTP(_ context.Context, id string, purpose Purpose, otp *twofactor.OTPState) error {
	return m.update(id, func(u *User) {
		m.setSlot(u, purpose, cloneOTP(otp))
	})
}

func (m *MemoryStore) ConsumeOTP(_ context.Context, id string, purpose Purpose, code string) (bool, error) {
	consumed := false
	err := m.update(id, func(u *User) {
		slot := u.OTP(purpose)
		if slot == nil || slot.Code == "" || subtle.ConstantTimeCompare([]byte(slot.Code), []byte(code)) != 1 {
			return
		}
		m.setSlot(u, purpose, nil)
		if purpose == PurposeEmailVerification {
			u.EmailVerified = true
		}
		consumed = true
	})
	return consumed, err
}

func (m *MemoryStore) IncrementOTPAttempts(_ context.Context, id string, purpose Purpose) (int, error) {
	attempts := 0
	err := m.update(id, func(u *User) {
		slot := u.OTP(purpose)
		if slot == nil {
			slot = &twofactor.OTPState{}
			m.setSlot(u, purpose, slot)
		}
		slot.Attempts++
		attempts = slot.Attempts
	})
	return attempts, err
}

func (m *MemoryStore) SetTwoFactor(_ context.Context, id string, state twofactor.State) error {
	return m.update(id, func(u *User) {
		u.TwoFactor = state.Record()
	})
}

func (m *MemoryStore) AdvanceTOTPStep(_ context.Context, id string, step uint64) (bool, error) {
	advanced := false
	err := m.update(id, func(u *User) {
		if step > u.TOTPLastStep {
			u.TOTPLastStep = step
			advanced = true
		}
	})
	return advanced, err
}

func (m *MemoryStore) SetPassword(_ context.Context, id string, hash string) error {
	return m.update(id, func(u *User) {
		u.PasswordHash = hash
		delete(m.byReset, u.ResetTokenHash)
		u.ResetTokenHash = ""
		u.ResetTokenExpiresAt = time.Time{}
	})
}

func (m *MemoryStore) ConsumeResetToken(_ context.Context, id, tokenHash, passwordHash string) (bool, error) {
	consumed := false
	err := m.update(id, func(u *User) {
		if tokenHash == "" || u.ResetTokenHash != tokenHash {
			return
		}
		u.PasswordHash = passwordHash
		delete(m.byReset, u.ResetTokenHash)
		u.ResetTokenHash = ""
		u.ResetTokenExpiresAt = time.Time{}
		consumed = true
	})
	return consumed, err
}

func (m *MemoryStore) SetResetToken(_ context.Context, id string, hash string, expiresAt time.Time) error {
	return m.update(id, func(u *User) {
		delete(m.byReset, u.ResetTokenHash)
		u.ResetTokenHash = hash
		u.ResetTokenExpiresAt = expiresAt.UTC()
		if hash != "" {
			m.byReset[hash] = u.ID
		}
	})
}

func (m *MemoryStore) get(id string) (*User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.clone(), nil
}

func (m *MemoryStore) update(id string, fn func(*User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	u.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryStore) setSlot(u *User, purpose Purpose, otp *twofactor.OTPState) {
	if purpose == PurposeLogin {
		u.TwoFactor.LoginChallenge = otp
		return
	}
	u.VerificationOTP = otp
}
