package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 8 * time.Hour
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
)

// StaffTokenIssuerConfig configures the staff JWT issuer.
type StaffTokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// StaffTokenIssuer issues signed staff session tokens. In production the
// external auth provider mints these; the issuer exists for operator tooling
// and tests.
type StaffTokenIssuer struct {
	config StaffTokenIssuerConfig
	clock  func() time.Time
}

// NewStaffTokenIssuer constructs a StaffTokenIssuer with sane defaults.
func NewStaffTokenIssuer(cfg StaffTokenIssuerConfig) *StaffTokenIssuer {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &StaffTokenIssuer{
		config: StaffTokenIssuerConfig{
			SigningSecret: cfg.SigningSecret,
			Issuer:        cfg.Issuer,
			Audience:      cfg.Audience,
			TokenTTL:      ttl,
			Clock:         clock,
		},
		clock: clock,
	}
}

// IssueStaffToken produces a signed JWT carrying the subject and roles, plus
// its expiry in seconds.
func (i *StaffTokenIssuer) IssueStaffToken(_ context.Context, subject string, roles []string) (string, int64, error) {
	if len(i.config.SigningSecret) == 0 {
		return "", 0, errMissingSigningSecret
	}
	if subject == "" {
		return "", 0, errMissingSubjectClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.config.TokenTTL).UTC()

	claims := StaffClaims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.config.Issuer,
			Audience:  []string{i.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures the staff JWT is well formed and returns its claims.
func (i *StaffTokenIssuer) ValidateToken(tokenString string) (StaffClaims, error) {
	if len(i.config.SigningSecret) == 0 {
		return StaffClaims{}, errMissingSigningSecret
	}

	claims := &StaffClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(i.config.Audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return StaffClaims{}, err
	}
	if claims.Subject == "" {
		return StaffClaims{}, errMissingSubjectClaim
	}
	return *claims, nil
}
