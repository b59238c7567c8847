package twofactor

// Method names the active second factor.
type Method string

const (
	MethodNone          Method = ""
	MethodEmail         Method = "email"
	MethodAuthenticator Method = "authenticator"
)

// Mode is the committed two-factor mode of an account.
type Mode uint8

const (
	// Disabled means login completes after the password check.
	Disabled Mode = iota
	// EmailEnabled sends a code by email on every login.
	EmailEnabled
	// AuthenticatorEnabled requires a code from an authenticator app.
	AuthenticatorEnabled
)

func (m Mode) String() string {
	switch m {
	case EmailEnabled:
		return "email_enabled"
	case AuthenticatorEnabled:
		return "authenticator_enabled"
	default:
		return "disabled"
	}
}

// State is the two-factor configuration of one account.
//
// The committed mode and the authenticator setup in progress are tracked
// separately: starting a setup never changes how the next login behaves, and
// a secret only becomes active through ConfirmAuthenticator. Values are
// immutable; every transition returns a new State.
type State struct {
	mode    Mode
	secret  string
	pending string
}

// NewDisabled returns the initial state of every account.
func NewDisabled() State { return State{} }

func (s State) Mode() Mode { return s.mode }

func (s State) Enabled() bool { return s.mode != Disabled }

// Method returns the login method for the committed mode.
func (s State) Method() Method {
	switch s.mode {
	case EmailEnabled:
		return MethodEmail
	case AuthenticatorEnabled:
		return MethodAuthenticator
	default:
		return MethodNone
	}
}

// Secret returns the active authenticator secret, empty unless the mode is
// AuthenticatorEnabled.
func (s State) Secret() string { return s.secret }

// PendingSecret returns the secret of an unconfirmed authenticator setup.
func (s State) PendingSecret() string { return s.pending }

// SetupPending reports whether an authenticator setup awaits confirmation.
func (s State) SetupPending() bool { return s.pending != "" }

// EnableEmail switches to email codes. Any active or pending authenticator
// secret is discarded.
func (s State) EnableEmail() State {
	return State{mode: EmailEnabled}
}

// BeginAuthenticatorSetup records secret as pending. The committed mode and
// its secret are left untouched; a previous pending secret is replaced.
func (s State) BeginAuthenticatorSetup(secret string) State {
	s.pending = secret
	return s
}

// ConfirmAuthenticator promotes the pending secret to the active one.
func (s State) ConfirmAuthenticator() (State, error) {
	if s.pending == "" {
		return s, ErrNoPendingSetup
	}
	return State{mode: AuthenticatorEnabled, secret: s.pending}, nil
}

// Disable returns to the initial state, clearing every secret.
func (s State) Disable() State {
	return State{}
}

// Record is the persisted shape of a two-factor configuration, including the
// outstanding login challenge that is not part of the state machine.
type Record struct {
	Enabled                    bool      `json:"enabled"`
	Method                     Method    `json:"method,omitempty"`
	AuthenticatorSecret        string    `json:"authenticatorSecret,omitempty"`
	PendingAuthenticatorSecret string    `json:"pendingAuthenticatorSecret,omitempty"`
	LoginChallenge             *OTPState `json:"loginChallenge,omitempty"`
}

// Record converts s to its persisted form. The login challenge is left empty.
func (s State) Record() Record {
	return Record{
		Enabled:                    s.Enabled(),
		Method:                     s.Method(),
		AuthenticatorSecret:        s.secret,
		PendingAuthenticatorSecret: s.pending,
	}
}

// State validates a persisted record and returns the state it describes.
func (r Record) State() (State, error) {
	st := State{pending: r.PendingAuthenticatorSecret}
	switch {
	case !r.Enabled:
		if r.Method != MethodNone || r.AuthenticatorSecret != "" {
			return State{}, ErrInvalidRecord
		}
	case r.Method == MethodEmail:
		if r.AuthenticatorSecret != "" {
			return State{}, ErrInvalidRecord
		}
		st.mode = EmailEnabled
	case r.Method == MethodAuthenticator:
		if r.AuthenticatorSecret == "" {
			return State{}, ErrInvalidRecord
		}
		st.mode = AuthenticatorEnabled
		st.secret = r.AuthenticatorSecret
	default:
		return State{}, ErrInvalidRecord
	}
	return st, nil
}
