package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sakif/accounts/internal/auth"
	"github.com/sakif/accounts/internal/model"
	"github.com/sakif/accounts/internal/service"
)

// stubAuth implements handler.Authenticator. Each method returns the
// configured result and records what it was called with.
type stubAuth struct {
	result *service.AuthResult
	proof  *service.RegistrationProof
	err    error

	gotKind       model.IdentifierKind
	gotIdentifier string
	gotPurpose    model.OTPPurpose
	gotCode       string
	gotPassword   string
	gotRegister   service.RegisterInput
	gotIdentity   *auth.GoogleIdentity
}

func (s *stubAuth) Login(_ context.Context, identifier, password string) (*service.AuthResult, error) {
	s.gotIdentifier, s.gotPassword = identifier, password
	return s.result, s.err
}

func (s *stubAuth) RequestOTP(_ context.Context, kind model.IdentifierKind, identifier string, purpose model.OTPPurpose) error {
	s.gotKind, s.gotIdentifier, s.gotPurpose = kind, identifier, purpose
	return s.err
}

func (s *stubAuth) VerifyLoginOTP(_ context.Context, kind model.IdentifierKind, identifier, code string) (*service.AuthResult, error) {
	s.gotKind, s.gotIdentifier, s.gotCode = kind, identifier, code
	s.gotPurpose = model.PurposeLogin
	return s.result, s.err
}

func (s *stubAuth) VerifyRegistrationOTP(_ context.Context, kind model.IdentifierKind, identifier, code string) (*service.RegistrationProof, error) {
	s.gotKind, s.gotIdentifier, s.gotCode = kind, identifier, code
	s.gotPurpose = model.PurposeRegistration
	return s.proof, s.err
}

func (s *stubAuth) Register(_ context.Context, in service.RegisterInput) (*service.AuthResult, error) {
	s.gotRegister = in
	return s.result, s.err
}

func (s *stubAuth) CompleteGoogleAuth(_ context.Context, id *auth.GoogleIdentity) (*service.AuthResult, error) {
	s.gotIdentity = id
	return s.result, s.err
}

type stubUsers struct {
	user  *model.User
	users []model.User
	err   error

	gotID            string
	gotLimit, gotOff int
}

func (s *stubUsers) GetOwnProfile(_ context.Context, userID string) (*model.User, error) {
	s.gotID = userID
	return s.user, s.err
}

func (s *stubUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	s.gotID = id
	return s.user, s.err
}

func (s *stubUsers) List(_ context.Context, limit, offset int) ([]model.User, error) {
	s.gotLimit, s.gotOff = limit, offset
	return s.users, s.err
}

type stubGoogle struct {
	identity *auth.GoogleIdentity
	err      error
	gotCode  string
}

func (s *stubGoogle) AuthURL(state string) string {
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (s *stubGoogle) Exchange(_ context.Context, code string) (*auth.GoogleIdentity, error) {
	s.gotCode = code
	return s.identity, s.err
}

type stubPinger struct{ err error }

func (s stubPinger) PingContext(context.Context) error { return s.err }

// =========================================================================
// HELPERS
// =========================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleUser() *model.User {
	return &model.User{
		ID:               "user-1",
		FirstName:        "Asha",
		LastName:         "Rao",
		Email:            "asha@example.com",
		Mobile:           "9876543210",
		PasswordHash:     "$2a$04$secret-hash",
		GoogleID:         "google-sub",
		IsEmailVerified:  true,
		IsMobileVerified: true,
		CreatedAt:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func sampleResult() *service.AuthResult {
	return &service.AuthResult{
		User:      sampleUser(),
		Token:     "signed.jwt.token",
		ExpiresAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

// envelope is the union of the success and failure shapes.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Count   *int            `json:"count"`
	Error   string          `json:"error"`
	Field   string          `json:"field"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&env), "body: %s", rr.Body.String())
	return env
}
