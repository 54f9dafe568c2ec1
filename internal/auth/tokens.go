package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-promo/internal/common"
)

const (
	defaultAccessTTL = 15 * time.Minute
	rolesClaim       = "roles"

	// RoleAdmin grants access to discount management.
	RoleAdmin = "admin"
)

// Config wires token signing parameters.
type Config struct {
	Secret         string
	Issuer         string
	Audience       string
	ClockSkew      time.Duration
	AccessTokenTTL time.Duration
}

// Service signs and verifies HS256 access tokens.
type Service struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
	signer    jwa.SignatureAlgorithm
	validator TokenValidator
	issuer    string
	audience  string
	clockSkew time.Duration
}

// Claims is the authenticated identity carried by an access token.
type Claims struct {
	Subject string
	Roles   []string
}

// NewService constructs a Service instance with sane defaults.
func NewService(cfg Config) (*Service, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "backend-promo"
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = "backend-promo"
	}
	clockSkew := cfg.ClockSkew
	if clockSkew < 0 {
		clockSkew = 0
	}

	return &Service{
		secret:    []byte(secret),
		accessTTL: accessTTL,
		now:       time.Now,
		signer:    jwa.HS256,
		validator: TokenValidator{
			Issuer:         issuer,
			Audience:       audience,
			ClockSkew:      clockSkew,
			Algorithm:      jwa.HS256,
			RequireSubject: true,
		},
		issuer:    issuer,
		audience:  audience,
		clockSkew: clockSkew,
	}, nil
}

// WithNow allows tests to override the time provider.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Sign issues an access token for subject. A non-positive ttl uses the configured default.
func (s *Service) Sign(subject string, roles []string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, errors.New("auth: subject is required")
	}
	if ttl <= 0 {
		ttl = s.accessTTL
	}
	now := s.now()
	expiresAt := now.Add(ttl)
	builder := jwt.NewBuilder().
		Subject(subject).
		Issuer(s.issuer).
		Audience([]string{s.audience}).
		IssuedAt(now).
		NotBefore(now.Add(-s.clockSkew)).
		Expiration(expiresAt)
	if len(roles) > 0 {
		builder = builder.Claim(rolesClaim, roles)
	}
	token, err := builder.Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(s.signer, s.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

// ParseAccessToken validates an access token and returns its claims.
func (s *Service) ParseAccessToken(token string) (Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Claims{}, unauthorized("missing token", nil)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return Claims{}, unauthorized("invalid token", err)
	}
	if s.validator.Algorithm != "" && algorithm != s.validator.Algorithm {
		return Claims{}, unauthorized("invalid token", fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, s.secret), jwt.WithValidate(false))
	if err != nil {
		return Claims{}, unauthorized("invalid token", err)
	}
	if err := s.validator.Validate(parsed, algorithm, s.now()); err != nil {
		return Claims{}, unauthorized("invalid token", err)
	}
	return Claims{Subject: parsed.Subject(), Roles: rolesOf(parsed)}, nil
}

func rolesOf(tok jwt.Token) []string {
	raw, ok := tok.Get(rolesClaim)
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		roles := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				roles = append(roles, s)
			}
		}
		return roles
	}
	return nil
}

func unauthorized(message string, err error) *common.AppError {
	return common.NewAppError("UNAUTHORIZED", message, http.StatusUnauthorized, err)
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token contains no signatures")
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return "", errors.New("auth: token missing protected headers")
		}
		alg := headers.Algorithm()
		if alg == "" {
			return "", errors.New("auth: token missing algorithm")
		}
		if alg == jwa.NoSignature {
			return "", errors.New("auth: token uses none algorithm")
		}
		if algorithm == "" {
			algorithm = alg
		} else if algorithm != alg {
			return "", fmt.Errorf("auth: mixed token algorithms detected")
		}
	}
	return algorithm, nil
}
