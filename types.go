package authcore

import (
	"net/http"
	"time"

	"github.com/lendloop/authcore/account"
	"github.com/lendloop/authcore/session"
	"github.com/lendloop/authcore/twofactor"
)

// Tokens is a freshly minted access and refresh token pair. Callers on the
// HTTP path normally ignore it and write the Cookies of the enclosing result.
type Tokens struct {
	Access  string `json:"-"`
	Refresh string `json:"-"`
}

// Principal identifies the caller of an authenticated operation. It is the
// decoded content of an access token.
type Principal struct {
	UserID    string
	Role      string
	SessionID string
}

// TwoFactorStatus is the caller-visible two-factor configuration.
type TwoFactorStatus struct {
	Enabled      bool             `json:"enabled"`
	Method       twofactor.Method `json:"method,omitempty"`
	SetupPending bool             `json:"setupPending"`
}

// Profile is the public view of a user.
type Profile struct {
	ID              string          `json:"id"`
	Email           string          `json:"email"`
	Username        string          `json:"username"`
	Role            string          `json:"role"`
	IsEmailVerified bool            `json:"isEmailVerified"`
	TwoFactor       TwoFactorStatus `json:"twoFactor"`
	CreatedAt       time.Time       `json:"createdAt"`
}

func newProfile(u *account.User) Profile {
	return Profile{
		ID:              u.ID,
		Email:           u.Email,
		Username:        u.Username,
		Role:            u.Role,
		IsEmailVerified: u.EmailVerified,
		TwoFactor:       statusOf(u),
		CreatedAt:       u.CreatedAt,
	}
}

func statusOf(u *account.User) TwoFactorStatus {
	// corrupt record: report the raw flags
	st, err := u.TwoFactorState()
	if err != nil {
		return TwoFactorStatus{Enabled: u.TwoFactor.Enabled, Method: u.TwoFactor.Method}
	}
	return TwoFactorStatus{
		Enabled:      st.Enabled(),
		Method:       st.Method(),
		SetupPending: st.SetupPending(),
	}
}

// RegisterInput is the body of a sign-up request.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginInput carries credentials. Login is either an email address or a
// username.
type LoginInput struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// LoginResult is returned by Login. When RequiresTwoFactor is set, only the
// 2FA capability cookie is issued and User, SessionID and Tokens are empty.
type LoginResult struct {
	RequiresTwoFactor bool             `json:"requires2FA"`
	Method            twofactor.Method `json:"method,omitempty"`
	User              *Profile         `json:"user,omitempty"`
	SessionID         string           `json:"-"`
	Tokens            Tokens           `json:"-"`
	Cookies           []*http.Cookie   `json:"-"`
}

// AuthResult is returned by every operation that ends with a new or rotated
// session.
type AuthResult struct {
	User      Profile        `json:"user"`
	SessionID string         `json:"-"`
	Tokens    Tokens         `json:"-"`
	Cookies   []*http.Cookie `json:"-"`
}

// RefreshResult carries the rotated token pair.
type RefreshResult struct {
	SessionID string         `json:"-"`
	Tokens    Tokens         `json:"-"`
	Cookies   []*http.Cookie `json:"-"`
}

// AuthenticatorSetup is handed to the user to provision an authenticator
// app, usually as a QR code of OTPAuthURL.
type AuthenticatorSetup struct {
	OTPAuthURL string `json:"otpauthUrl"`
	ManualKey  string `json:"manualKey"`
}

// SessionView is the public view of one device session.
type SessionView struct {
	ID           string     `json:"id"`
	DeviceID     string     `json:"deviceId"`
	IP           string     `json:"ip"`
	UserAgent    string     `json:"userAgent"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastUsedAt   time.Time  `json:"lastUsedAt"`
	RevokedAt    *time.Time `json:"revokedAt,omitempty"`
	RevokeReason string     `json:"revokeReason,omitempty"`
	Current      bool       `json:"current"`
}

func newSessionView(s *session.Session, currentID string) SessionView {
	return SessionView{
		ID:           s.ID,
		DeviceID:     s.DeviceID,
		IP:           s.IP,
		UserAgent:    s.UserAgent,
		CreatedAt:    s.CreatedAt,
		LastUsedAt:   s.LastUsedAt,
		RevokedAt:    s.RevokedAt,
		RevokeReason: s.RevokeReason,
		Current:      s.ID == currentID,
	}
}
