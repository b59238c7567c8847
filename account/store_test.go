package account

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lendloop/authcore/twofactor"
)

var fixedNow = time.Unix(1700000000, 0).UTC()

func clock() time.Time { return fixedNow }

func newRedisStore(t *testing.T) Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewRedisStore(rdb, "usr", clock)
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore(clock)) })
	t.Run("redis", func(t *testing.T) { fn(t, newRedisStore(t)) })
}

func createUser(t *testing.T, s Store, email, username string) *User {
	t.Helper()
	u, err := s.Create(context.Background(), NewUser{
		Email:        email,
		Username:     username,
		PasswordHash: "hash",
		VerificationOTP: &twofactor.OTPState{
			Code:      "123456",
			ExpiresAt: fixedNow.Add(10 * time.Minute),
		},
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestCreateAndLookup(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		u := createUser(t, s, " Alice@Example.com ", "Alice_1")

		if u.ID == "" || u.Email != "alice@example.com" || u.Username != "Alice_1" || u.Role != DefaultRole {
			t.Fatalf("unexpected user: %+v", u)
		}
		if u.EmailVerified || u.TwoFactor.Enabled {
			t.Fatal("new users must be unverified with 2FA disabled")
		}

		for _, login := range []string{"alice@example.com", "ALICE@example.com", "alice_1", "Alice_1"} {
			got, err := s.ByLogin(ctx, login)
			if err != nil || got.ID != u.ID {
				t.Fatalf("ByLogin(%q) = %v, %v", login, got, err)
			}
		}
		byID, err := s.ByID(ctx, u.ID)
		if err != nil {
			t.Fatalf("ByID: %v", err)
		}
		if byID.VerificationOTP == nil || byID.VerificationOTP.Code != "123456" {
			t.Fatalf("verification code not stored: %+v", byID.VerificationOTP)
		}
		if !byID.VerificationOTP.ExpiresAt.Equal(fixedNow.Add(10 * time.Minute)) {
			t.Fatalf("unexpected expiry %v", byID.VerificationOTP.ExpiresAt)
		}

		if _, err := s.ByLogin(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := s.ByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestCreateUniqueness(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		createUser(t, s, "alice@example.com", "alice")

		if _, err := s.Create(ctx, NewUser{Email: "ALICE@example.com", Username: "other"}); !errors.Is(err, ErrEmailTaken) {
			t.Fatalf("expected ErrEmailTaken, got %v", err)
		}
		if _, err := s.Create(ctx, NewUser{Email: "bob@example.com", Username: "ALICE"}); !errors.Is(err, ErrUsernameTaken) {
			t.Fatalf("expected ErrUsernameTaken, got %v", err)
		}
	})
}

func TestConcurrentCreateSameEmail(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		var ok atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.Create(context.Background(), NewUser{
					Email:    "race@example.com",
					Username: "racer" + string(rune('a'+i)),
				})
				if err == nil {
					ok.Add(1)
				}
			}(i)
		}
		wg.Wait()
		if ok.Load() != 1 {
			t.Fatalf("expected exactly one account, got %d", ok.Load())
		}
	})
}

func TestConsumeVerificationOTP(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		u := createUser(t, s, "alice@example.com", "alice")

		consumed, err := s.ConsumeOTP(ctx, u.ID, PurposeEmailVerification, "654321")
		if err != nil || consumed {
			t.Fatalf("wrong code must not consume: consumed=%v err=%v", consumed, err)
		}

		consumed, err = s.ConsumeOTP(ctx, u.ID, PurposeEmailVerification, "123456")
		if err != nil || !consumed {
			t.Fatalf("expected consumption: consumed=%v err=%v", consumed, err)
		}
		got, _ := s.ByID(ctx, u.ID)
		if !got.EmailVerified || got.VerificationOTP != nil {
			t.Fatalf("expected verified user with cleared code: %+v", got)
		}

		consumed, _ = s.ConsumeOTP(ctx, u.ID, PurposeEmailVerification, "123456")
		if consumed {
			t.Fatal("a code must be consumable once")
		}
		if _, err := s.ConsumeOTP(ctx, "missing", PurposeLogin, "123456"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound for missing user, got %v", err)
		}
	})
}

func TestConcurrentConsumeSingleWinner(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		u := createUser(t, s, "alice@example.com", "alice")
		challenge := &twofactor.OTPState{Code: "777777", ExpiresAt: fixedNow.Add(time.Minute)}
		if err := s.SetOTP(ctx, u.ID, PurposeLogin, challenge); err != nil {
			t.Fatalf("SetOTP: %v", err)
		}

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if ok, err := s.ConsumeOTP(ctx, u.ID, PurposeLogin, "777777"); err == nil && ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		if wins.Load() != 1 {
			t.Fatalf("expected one consumer, got %d", wins.Load())
		}

		got, _ := s.ByID(ctx, u.ID)
		if got.EmailVerified {
			t.Fatal("consuming a login challenge must not verify the email")
		}
	})
}

func TestOTPAttempts(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		u := createUser(t, s, "alice@example.com", "alice")

		for want := 1; want <= 3; want++ {
			n, err := s.IncrementOTPAttempts(ctx, u.ID, PurposeEmailVerification)
			if err != nil || n != want {
				t.Fatalf("IncrementOTPAttempts = %d, %v; want %d", n, err, want)
			}
		}
		got, _ := s.ByID(ctx, u.ID)
		if got.VerificationOTP.Attempts != 3 || got.VerificationOTP.Code != "123456" {
			t.Fatalf("unexpected slot: %+v", got.VerificationOTP)
		}

		fresh := &twofactor.OTPState{Code: "222222", ExpiresAt: fixedNow.Add(time.Minute)}
		if err := s.SetOTP(ctx, u.ID, PurposeEmailVerification, fresh); err != nil {
			t.Fatalf("SetOTP: %v", err)
		}
		got, _ = s.ByID(ctx, u.ID)
		if got.VerificationOTP.Attempts != 0 || got.VerificationOTP.Code != "222222" {
			t.Fatalf("new code must reset attempts: %+v", got.VerificationOTP)
		}

		if _, err := s.IncrementOTPAttempts(ctx, "missing", PurposeLogin); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestSetTwoFactorDropsChallenge(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		u := createUser(t, s, "alice@example.com", "alice")
		_ = s.SetOTP(ctx, u.ID, PurposeLogin, &twofactor.OTPState{Code: "999999", ExpiresAt: fixedNow.Add(time.Minute)})

		state, _ := twofactor.NewDisabled().BeginAuthenticatorSetup("JBSWY3DPEHPK3PXP").ConfirmAuthenticator()
		if err := s.SetTwoFactor(ctx, u.ID, state); err != nil {
			t.Fatalf("SetTwoFactor: %v", err)
		}

		got, _ := s.ByID(ctx, u.ID)
		if got.TwoFactor.LoginChallenge != nil {
			t.Fatalf("expected challenge cleared, got %+v", got.TwoFactor.LoginChallenge)
		}
		back, err := got.TwoFactorState()
		if err != nil || back != state {
			t.Fatalf("state round trip: %+v, %v", back, err)
		}

		if err := s.SetTwoFactor(ctx, "missing", state); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestResetTokenLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		u := createUser(t, s, "alice@example.com", "alice")
		exp := fixedNow.Add(10 * time.Minute)

		if err := s.SetResetToken(ctx, u.ID, "hash-1", exp); err != nil {
			t.Fatalf("SetResetToken: %v", err)
		}
		if err := s.SetResetToken(ctx, u.ID, "hash-2", exp); err != nil {
			t.Fatalf("SetResetToken: %v", err)
		}
		if _, err := s.ByResetTokenHash(ctx, "hash-1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("replaced token must not resolve, got %v", err)
		}
		got, err := s.ByResetTokenHash(ctx, "hash-2")
		if err != nil || got.ID != u.ID || !got.ResetTokenExpiresAt.Equal(exp) {
			t.Fatalf("ByResetTokenHash = %+v, %v", got, err)
		}

		if err := s.SetPassword(ctx, u.ID, "new-hash"); err != nil {
			t.Fatalf("SetPassword: %v", err)
		}
		if _, err := s.ByResetTokenHash(ctx, "hash-2"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("password change must clear the reset token, got %v", err)
		}
		got, _ = s.ByID(ctx, u.ID)
		if got.PasswordHash != "new-hash" || got.ResetTokenHash != "" || !got.ResetTokenExpiresAt.IsZero() {
			t.Fatalf("unexpected user after SetPassword: %+v", got)
		}

		if err := s.SetPassword(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestAdvanceTOTPStep(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		u := createUser(t, s, "alice@example.com", "alice")

		steps := []struct {
			step uint64
			want bool
		}{
			{56666666, true},
			{56666666, false},
			{56666665, false},
			{56666667, true},
		}
		for _, tc := range steps {
			ok, err := s.AdvanceTOTPStep(ctx, u.ID, tc.step)
			if err != nil || ok != tc.want {
				t.Fatalf("AdvanceTOTPStep(%d) = %v, %v; want %v", tc.step, ok, err, tc.want)
			}
		}
		got, _ := s.ByID(ctx, u.ID)
		if got.TOTPLastStep != 56666667 {
			t.Fatalf("TOTPLastStep = %d", got.TOTPLastStep)
		}

		if _, err := s.AdvanceTOTPStep(ctx, "missing", 1); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestConsumeResetTokenSingleWinner(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		u := createUser(t, s, "alice@example.com", "alice")
		if err := s.SetResetToken(ctx, u.ID, "hash-1", fixedNow.Add(10*time.Minute)); err != nil {
			t.Fatalf("SetResetToken: %v", err)
		}

		if ok, err := s.ConsumeResetToken(ctx, u.ID, "other", "x"); err != nil || ok {
			t.Fatalf("foreign token consumed: %v, %v", ok, err)
		}

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.ConsumeResetToken(ctx, u.ID, "hash-1", "new-hash")
				if err != nil {
					t.Errorf("ConsumeResetToken: %v", err)
					return
				}
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		if wins.Load() != 1 {
			t.Fatalf("expected one consumer, got %d", wins.Load())
		}

		got, _ := s.ByID(ctx, u.ID)
		if got.PasswordHash != "new-hash" || got.ResetTokenHash != "" {
			t.Fatalf("unexpected user after reset: %+v", got)
		}
		if _, err := s.ByResetTokenHash(ctx, "hash-1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("consumed token must not resolve, got %v", err)
		}
	})
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore(clock)
	u := createUser(t, s, "alice@example.com", "alice")
	u.VerificationOTP.Code = "000000"
	u.Role = "admin"

	got, _ := s.ByID(context.Background(), u.ID)
	if got.VerificationOTP.Code != "123456" || got.Role != DefaultRole {
		t.Fatal("mutating a returned user must not affect the store")
	}
}
