// Package auth issues and validates the bearer tokens that guard the API.
package auth

import (
	"context"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
)

// TokenClaims are the JWT claims carried by an analyst token.
type TokenClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// Principal is the authenticated caller.
type Principal struct {
	Subject string
	Roles   []string
}

// HasAnyRole reports whether the principal holds one of roles.
func (p *Principal) HasAnyRole(roles []string) bool {
	for _, r := range p.Roles {
		if slices.Contains(roles, r) {
			return true
		}
	}
	return false
}

type Config struct {
	Secret   []byte
	Issuer   string
	TokenTTL time.Duration
}

// Service signs and validates HS256 tokens with a shared secret.
type Service struct {
	cfg Config
	now func() time.Time
}

func NewService(cfg Config) (*Service, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.NewValidationError("INVALID_AUTH_CONFIG", "jwt secret must be at least 32 bytes")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "sar-pipeline"
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	return &Service{cfg: cfg, now: time.Now}, nil
}

// GenerateToken issues a token for subject with roles.
func (s *Service) GenerateToken(subject string, roles []string) (string, error) {
	if subject == "" {
		return "", errors.NewValidationError("INVALID_SUBJECT", "token subject is required")
	}
	now := s.now().UTC()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.cfg.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
		},
		Roles: roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
}

// ValidateToken parses token and returns its principal. Every failure is an
// UNAUTHORIZED AppError.
func (s *Service) ValidateToken(token string) (*Principal, error) {
	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.cfg.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, errors.NewUnauthorizedError("invalid or expired token").WithCause(err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, errors.NewUnauthorizedError("token subject is required")
	}
	return &Principal{Subject: claims.Subject, Roles: claims.Roles}, nil
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller stored by WithPrincipal, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
