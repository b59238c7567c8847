package authcore

import (
	"context"
	"errors"

	"github.com/lendloop/authcore/session"
)

// RouteMode is the per-route override for Validate.
type RouteMode int

const (
	// ModeInherit follows Session.StrictAccess.
	ModeInherit RouteMode = iota
	// ModeJWTOnly checks signature and expiry only. No Redis call.
	ModeJWTOnly
	// ModeStrict also requires the session to exist and be active.
	ModeStrict
)

func (m RouteMode) String() string {
	switch m {
	case ModeInherit:
		return "inherit"
	case ModeJWTOnly:
		return "jwt_only"
	case ModeStrict:
		return "strict"
	default:
		return "invalid"
	}
}

var errInvalidRouteMode = &Error{Kind: KindInternal, Message: "invalid route validation mode"}

// ValidateAccess verifies an access token with the engine's default mode:
// stateless unless Session.StrictAccess is set.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*Principal, error) {
	return e.Validate(ctx, accessToken, ModeInherit)
}

// Validate verifies an access token under routeMode. Strict validation fails
// closed when the session store is unreachable.
func (e *Engine) Validate(ctx context.Context, accessToken string, routeMode RouteMode) (*Principal, error) {
	mode, err := e.resolveRouteMode(routeMode)
	if err != nil {
		return nil, err
	}
	if accessToken == "" {
		return nil, ErrTokenMissing
	}
	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		return nil, tokenError(err)
	}

	if mode == ModeStrict {
		sess, err := e.sessions.Get(ctx, claims.SessionID)
		switch {
		case errors.Is(err, session.ErrNotFound):
			return nil, ErrTokenInvalid
		case err != nil:
			return nil, internalError("load session", err)
		case sess.UserID != claims.UserID:
			return nil, ErrTokenInvalid
		case !sess.Active():
			return nil, ErrSessionRevoked
		}
	}

	return &Principal{
		UserID:    claims.UserID,
		Role:      claims.Role,
		SessionID: claims.SessionID,
	}, nil
}

func (e *Engine) resolveRouteMode(routeMode RouteMode) (RouteMode, error) {
	switch routeMode {
	case ModeInherit:
		if e.config.Session.StrictAccess {
			return ModeStrict, nil
		}
		return ModeJWTOnly, nil
	case ModeJWTOnly, ModeStrict:
		return routeMode, nil
	default:
		return 0, errInvalidRouteMode
	}
}
