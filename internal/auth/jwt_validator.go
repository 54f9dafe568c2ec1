package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// TokenValidator checks the registered claims of a parsed token plus the shape of
// the roles claim.
type TokenValidator struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Algorithm jwa.SignatureAlgorithm
	// RequireSubject rejects tokens without a sub claim.
	RequireSubject bool
}

var (
	errNoSubject = errors.New("auth: token missing subject")
	errBadRoles  = errors.New("auth: roles claim must be a list of strings")
)

// Validate checks algorithm, issuer, audience and the time based claims at now.
func (v TokenValidator) Validate(tok jwt.Token, algorithm jwa.SignatureAlgorithm, now time.Time) error {
	switch {
	case tok == nil:
		return errors.New("auth: token is nil")
	case algorithm == "":
		return errors.New("auth: token missing algorithm")
	case v.Algorithm != "" && algorithm != v.Algorithm:
		return fmt.Errorf("auth: unexpected token algorithm %s", algorithm)
	}
	return jwt.Validate(tok, v.options(now)...)
}

func (v TokenValidator) options(now time.Time) []jwt.ValidateOption {
	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithAcceptableSkew(v.ClockSkew),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
		jwt.WithValidator(jwt.ValidatorFunc(v.claimShape)),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.Audience))
	}
	return opts
}

func (v TokenValidator) claimShape(_ context.Context, tok jwt.Token) jwt.ValidationError {
	if v.RequireSubject && strings.TrimSpace(tok.Subject()) == "" {
		return jwt.NewValidationError(errNoSubject)
	}
	raw, ok := tok.Get(rolesClaim)
	if !ok {
		return nil
	}
	switch roles := raw.(type) {
	case []string:
	case []any:
		for _, r := range roles {
			if _, ok := r.(string); !ok {
				return jwt.NewValidationError(errBadRoles)
			}
		}
	default:
		return jwt.NewValidationError(errBadRoles)
	}
	return nil
}
