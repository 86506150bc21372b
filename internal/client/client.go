package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/accounts/internal/model"
)

var (
	// ErrNotLoggedIn is returned by protected calls when no session is cached.
	ErrNotLoggedIn = errors.New("client: not logged in")

	// ErrSessionExpired is returned when the server rejects the cached token.
	// The cached session has already been cleared; the user must sign in again.
	ErrSessionExpired = errors.New("client: session expired, please log in again")
)

// APIError is a failure envelope returned by the server.
type APIError struct {
	Status  int
	Kind    string // e.g. "invalid_credentials"
	Message string
	Field   string
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("server returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
}

// Client calls the accounts API and keeps the session in a SessionStore.
//
// Sign-in calls (Login, VerifyOTP, Register, StoreCallback) replace the
// cached session on success. Protected calls send the cached token through
// an AuthTransport.
type Client struct {
	baseURL string
	store   *SessionStore
	base    http.RoundTripper
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTransport sets the transport the client (and its AuthTransport) use.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.base = rt }
}

// WithTimeout bounds each request. The default is 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New creates a Client for the API at baseURL, e.g. "http://localhost:5000".
func New(baseURL string, store *SessionStore, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		store:   store,
		base:    http.DefaultTransport,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the cached session, or nil.
func (c *Client) Session() (*Session, error) {
	return c.store.Load()
}

// =========================================================================
// SIGN-IN
// =========================================================================

// RegisterRequest is the profile sent in the second registration phase.
type RegisterRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Mobile    string `json:"mobile"`
	Age       int    `json:"age,omitempty"`
	Password  string `json:"password,omitempty"`

	// Tokens returned by RegisterVerifyOTP.
	EmailToken  string `json:"emailToken"`
	MobileToken string `json:"mobileToken"`
}

// Verification is the server's answer to a registration code.
type Verification struct {
	Type      model.IdentifierKind `json:"type"`
	Value     string               `json:"value"`
	Token     string               `json:"token"`
	ExpiresAt time.Time            `json:"expiresAt"`
}

// Login signs in with a password.
func (c *Client) Login(ctx context.Context, emailOrMobile, password string) (*Session, error) {
	return c.signIn(ctx, "/api/auth/login", map[string]string{
		"emailOrMobile": emailOrMobile,
		"password":      password,
	})
}

// SendOTP requests a login code and returns the server's confirmation.
func (c *Client) SendOTP(ctx context.Context, kind model.IdentifierKind, value string) (string, error) {
	return c.sendOTP(ctx, "/api/auth/send-otp", kind, value)
}

// VerifyOTP signs in with a login code.
func (c *Client) VerifyOTP(ctx context.Context, kind model.IdentifierKind, value, code string) (*Session, error) {
	return c.signIn(ctx, "/api/auth/verify-otp", map[string]string{
		"type":  string(kind),
		"value": value,
		"otp":   code,
	})
}

// RegisterSendOTP requests a registration code.
func (c *Client) RegisterSendOTP(ctx context.Context, kind model.IdentifierKind, value string) (string, error) {
	return c.sendOTP(ctx, "/api/auth/register/send-otp", kind, value)
}

// RegisterVerifyOTP proves ownership of one registration identifier. The
// returned token goes into RegisterRequest.
func (c *Client) RegisterVerifyOTP(ctx context.Context, kind model.IdentifierKind, value, code string) (*Verification, error) {
	env, err := c.call(ctx, c.plainClient(), http.MethodPost, "/api/auth/register/verify-otp", map[string]string{
		"type":  string(kind),
		"value": value,
		"otp":   code,
	})
	if err != nil {
		return nil, err
	}

	var v Verification
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return nil, fmt.Errorf("client: decoding verification: %w", err)
	}
	if v.Token == "" {
		return nil, errors.New("client: verification response has no token")
	}
	return &v, nil
}

// Register creates the account once both identifiers are verified.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	return c.signIn(ctx, "/api/auth/register", req)
}

// StoreCallback caches the session carried by a Google success redirect,
// e.g. "http://localhost:3000/auth/success?token=...&user=...".
func (c *Client) StoreCallback(callbackURL string) (*Session, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("client: parsing callback URL: %w", err)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return nil, fmt.Errorf("client: sign-in failed: %s", e)
	}

	sess := &Session{Token: q.Get("token")}
	if sess.Token == "" {
		return nil, errors.New("client: callback URL has no token")
	}
	if raw := q.Get("user"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &sess.User); err != nil {
			return nil, fmt.Errorf("client: decoding callback user: %w", err)
		}
	}

	if err := c.store.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Logout tells the server (best effort) and always clears the cache.
func (c *Client) Logout(ctx context.Context) error {
	sess, err := c.store.Load()
	if err == nil && sess != nil {
		_, _ = c.call(ctx, c.authClient(sess.Token), http.MethodPost, "/api/auth/logout", nil)
	}
	return c.store.Clear()
}

// =========================================================================
// PROFILE
// =========================================================================

// Me returns the signed-in user's profile.
func (c *Client) Me(ctx context.Context) (*model.PublicUser, error) {
	var u model.PublicUser
	if err := c.protected(ctx, "/api/users/me", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns a page of accounts. Zero values use the server defaults.
func (c *Client) ListUsers(ctx context.Context, limit, offset int) ([]model.PublicUser, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/users"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var users []model.PublicUser
	if err := c.protected(ctx, path, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// GetUser returns one account by ID.
func (c *Client) GetUser(ctx context.Context, id string) (*model.PublicUser, error) {
	var u model.PublicUser
	if err := c.protected(ctx, "/api/users/"+url.PathEscape(id), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// =========================================================================
// PLUMBING
// =========================================================================

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Field   string          `json:"field"`
}

func (c *Client) plainClient() *http.Client {
	return &http.Client{Transport: c.base, Timeout: c.timeout}
}

func (c *Client) authClient(token string) *http.Client {
	return &http.Client{Transport: NewAuthTransport(c.base, token), Timeout: c.timeout}
}

func (c *Client) sendOTP(ctx context.Context, path string, kind model.IdentifierKind, value string) (string, error) {
	env, err := c.call(ctx, c.plainClient(), http.MethodPost, path, map[string]string{
		"type":  string(kind),
		"value": value,
	})
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

func (c *Client) signIn(ctx context.Context, path string, body any) (*Session, error) {
	env, err := c.call(ctx, c.plainClient(), http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(env.Data, &sess); err != nil {
		return nil, fmt.Errorf("client: decoding session: %w", err)
	}
	if err := c.store.Save(&sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// protected performs an authenticated GET and decodes data into dst. A 401
// clears the cached session.
func (c *Client) protected(ctx context.Context, path string, dst any) error {
	sess, err := c.store.Load()
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNotLoggedIn
	}

	env, err := c.call(ctx, c.authClient(sess.Token), http.MethodGet, path, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		if clearErr := c.store.Clear(); clearErr != nil {
			return errors.Join(ErrSessionExpired, clearErr)
		}
		return ErrSessionExpired
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("client: decoding response: %w", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, hc *http.Client, method, path string, body any) (*envelope, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("client: encoding request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("client: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env)

	if resp.StatusCode >= 300 {
		return nil, &APIError{
			Status:  resp.StatusCode,
			Kind:    env.Error,
			Message: env.Message,
			Field:   env.Field,
		}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("client: decoding response: %w", decodeErr)
	}
	return &env, nil
}
