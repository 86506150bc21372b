package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("user", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("email", "email is required"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Conflict wraps ErrConflict",
			err:       Conflict("user", "email already registered"),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "InvalidOrExpiredOTP shares the credentials sentinel",
			err:       InvalidOrExpiredOTP(),
			target:    ErrInvalidCredentials,
			wantMatch: true,
		},
		{
			name:      "Upstream wraps ErrUpstream",
			err:       Upstream("sms gateway", errors.New("throttled")),
			target:    ErrUpstream,
			wantMatch: true,
		},
		{
			name:      "wrapped by fmt.Errorf still matches",
			err:       fmt.Errorf("service/auth: login: %w", InvalidCredentials()),
			target:    ErrInvalidCredentials,
			wantMatch: true,
		},
		{
			name:      "Unauthorized does NOT match ErrInvalidCredentials",
			err:       Unauthorized(),
			target:    ErrInvalidCredentials,
			wantMatch: false,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("user", "abc123"),
			target:    ErrValidation,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("user", "abc123"),
			wantMessage: "user not found with id abc123",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("firstName", "first name is required"),
			wantMessage: "first name is required",
		},
		{
			name:        "Conflict message includes resource",
			err:         Conflict("user", "mobile already registered"),
			wantMessage: "user conflict: mobile already registered",
		},
		{
			name:        "credentials message does not leak which part failed",
			err:         InvalidCredentials(),
			wantMessage: "invalid credentials",
		},
		{
			name:        "Upstream hides the cause",
			err:         Upstream("email relay", errors.New("dial tcp 10.0.0.1:587: i/o timeout")),
			wantMessage: "email relay is unavailable, please try again",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	err := NotFound("user", "abc123")
	if unwrapped := err.Unwrap(); unwrapped != ErrNotFound {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, ErrNotFound)
	}
}

func TestUpstreamKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Upstream("sms gateway", cause)

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(Upstream(...), cause) = false, want true")
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("email", "invalid email format")

	if err.Field != "email" {
		t.Errorf("Field = %q, want %q", err.Field, "email")
	}
}
