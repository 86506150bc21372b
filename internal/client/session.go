// Package client is the Client Auth Context: a typed client for the
// accounts API that keeps the current session on disk between runs.
//
// The cached session mirrors what the server returned at sign-in: the
// bearer token and the public profile. Expiry is read from the token's own
// exp claim without verifying the signature; the server remains the only
// authority on whether a token is valid.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/accounts/internal/model"
)

// Session is the cached sign-in.
type Session struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expiresAt"`
	User      model.PublicUser `json:"user"`
}

// Expired reports whether the token's exp has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SessionStore persists one Session as a JSON file readable only by the
// owner.
type SessionStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewSessionStore uses path, or <user config dir>/<appName>/session.json
// when path is empty.
func NewSessionStore(path, appName string) (*SessionStore, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("client: could not determine config directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
		if appName == "" {
			appName = "accounts"
		}
		path = filepath.Join(configDir, appName, "session.json")
	}
	return &SessionStore{path: path, now: time.Now}, nil
}

// Path returns the session file location.
func (s *SessionStore) Path() string {
	return s.path
}

// Load returns the cached session, or nil when there is none. A file that
// cannot be parsed, or whose token is malformed or expired, is deleted and
// treated as no session.
func (s *SessionStore) Load() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("client: reading session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil || sess.Token == "" {
		return nil, s.removeLocked()
	}

	exp, err := TokenExpiry(sess.Token)
	if err != nil {
		return nil, s.removeLocked()
	}
	sess.ExpiresAt = exp
	if sess.Expired(s.now()) {
		return nil, s.removeLocked()
	}
	return &sess, nil
}

// Save writes sess, replacing any previous session. ExpiresAt is taken
// from the token.
func (s *SessionStore) Save(sess *Session) error {
	exp, err := TokenExpiry(sess.Token)
	if err != nil {
		return err
	}
	stored := *sess
	stored.ExpiresAt = exp

	data, err := json.MarshalIndent(&stored, "", "  ")
	if err != nil {
		return fmt.Errorf("client: encoding session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("client: creating session directory: %w", err)
	}

	// Write then rename so a crash never leaves a half-written file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("client: writing session: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("client: writing session: %w", err)
	}
	*sess = stored
	return nil
}

// Clear removes the cached session. Clearing an empty store is not an error.
func (s *SessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked()
}

func (s *SessionStore) removeLocked() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("client: removing session: %w", err)
	}
	return nil
}

// ErrMalformedToken is returned for tokens without a readable exp claim.
var ErrMalformedToken = errors.New("client: malformed token")

// TokenExpiry reads the exp claim of a JWT without checking its signature.
func TokenExpiry(token string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("%w: no exp claim", ErrMalformedToken)
	}
	return claims.ExpiresAt.Time, nil
}
