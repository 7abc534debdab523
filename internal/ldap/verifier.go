package ldap

import (
	"context"
)

// Verifier checks a password by binding as the user on a dedicated
// connection. That connection is closed right after the bind and never used
// for anything else.
type Verifier struct {
	cfg    *Config
	dialer Dialer
}

func NewVerifier(cfg *Config, dialer Dialer) *Verifier {
	return &Verifier{cfg: cfg, dialer: dialer}
}

// Verify returns nil when password is valid for dn. A wrong password yields
// InvalidCredentials; every other failure keeps its own kind so callers can
// tell "wrong password" from "directory down".
func (v *Verifier) Verify(ctx context.Context, dn, password string) error {
	// An empty simple bind is an unauthenticated bind, which servers accept.
	if password == "" {
		return newError("verify", KindInvalidCredentials, "empty password", nil)
	}

	s, err := OpenSession(ctx, v.cfg, v.dialer, "verify")
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	if err := s.Bind(ctx, dn, password); err != nil {
		return Translate("verify", err)
	}

	LogConnectionEvent(ctx, "authentication_success", map[string]any{"session": "verify"})
	return nil
}
