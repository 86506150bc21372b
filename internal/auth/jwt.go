// Package auth holds the credential primitives of the accounts service:
// session tokens, password hashing, OTP codes, the Google identity bridge
// and the bearer-token middleware.
//
// SESSION TOKENS:
// Sessions are stateless. A token is an HS256 JWT whose "sub" claim is the
// internal user ID; there is no server-side session table, so logout is a
// client-side concern and a token stays valid until "exp".
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header:  {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"<userID>","iss":"accounts","iat":...,"exp":...}
//
// Verification needs only the secret, never the database.
//
// REGISTRATION TOKENS:
// A registration code, once consumed, is answered with a short-lived token
// of its own issuer ("accounts/registration") whose subject is the verified
// identifier and whose "kind" claim is email or mobile. Register demands one
// per identifier. The issuers differ, so neither token kind passes for the
// other.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/accounts/internal/apperror"
)

const (
	// DefaultTokenTTL is the session lifetime when none is configured.
	DefaultTokenTTL = 30 * 24 * time.Hour

	tokenIssuer        = "accounts"
	registrationIssuer = "accounts/registration"
)

// TokenService issues and verifies session tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a TokenService. ttl <= 0 selects DefaultTokenTTL.
// Generate a production secret with: openssl rand -hex 32
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL returns the configured session lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

type claims struct {
	jwt.RegisteredClaims
	Kind string `json:"kind,omitempty"`
}

// Issue signs a session token for userID with the configured lifetime and
// returns it together with its expiry.
func (s *TokenService) Issue(userID string) (string, time.Time, error) {
	return s.IssueWithDuration(userID, s.ttl)
}

// IssueWithDuration signs a token with a custom lifetime. A negative d
// produces an already expired token, which tests use.
func (s *TokenService) IssueWithDuration(userID string, d time.Duration) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("auth: cannot issue a token without a subject")
	}
	return s.sign(tokenIssuer, userID, "", d)
}

func (s *TokenService) sign(issuer, subject, kind string, d time.Duration) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(d)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    issuer,
		},
		Kind: kind,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm, issuer and expiry and returns the
// subject. Every failure is reported as apperror.Unauthorized; the cause
// is intentionally dropped.
//
// ALGORITHM CONFUSION:
// jwt.WithValidMethods pins HS256 so a token claiming "none" or an
// asymmetric algorithm is rejected before the key func runs.
func (s *TokenService) Verify(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", apperror.Unauthorized()
	}

	c, err := s.parse(tokenStr, tokenIssuer)
	if err != nil {
		return "", apperror.Unauthorized()
	}
	return c.Subject, nil
}

// IssueRegistration signs a token proving that identifier, an email or a
// mobile number according to kind, passed a registration code. It lives for d.
func (s *TokenService) IssueRegistration(kind, identifier string, d time.Duration) (string, time.Time, error) {
	if kind == "" || identifier == "" {
		return "", time.Time{}, errors.New("auth: registration token needs a kind and an identifier")
	}
	return s.sign(registrationIssuer, identifier, kind, d)
}

// VerifyRegistration accepts a registration token only if it is valid and
// names exactly kind and identifier.
func (s *TokenService) VerifyRegistration(tokenStr, kind, identifier string) error {
	if tokenStr == "" {
		return ErrInvalidRegistrationToken
	}
	c, err := s.parse(tokenStr, registrationIssuer)
	if err != nil || c.Kind != kind || c.Subject != identifier {
		return ErrInvalidRegistrationToken
	}
	return nil
}

// ErrInvalidRegistrationToken is returned by VerifyRegistration for a
// missing, expired, forged or mismatched token.
var ErrInvalidRegistrationToken = errors.New("auth: invalid registration token")

func (s *TokenService) parse(tokenStr, issuer string) (*claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid || c.Subject == "" {
		return nil, errors.New("auth: token has no subject")
	}
	return c, nil
}
