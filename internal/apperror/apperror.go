// Package apperror defines the error taxonomy shared by every layer.
//
// HOW IT FITS TOGETHER:
// Repositories and services return *AppError values (or wrap them with
// fmt.Errorf("...: %w", err)). The HTTP layer never inspects messages; it
// asks errors.Is(err, ErrXxx) and maps the sentinel to a status code.
//
//	repository → apperror.NotFound("user", id)
//	service    → fmt.Errorf("service/users: fetching %s: %w", id, err)
//	handler    → errors.Is(err, apperror.ErrNotFound) → 404
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrValidation           = errors.New("validation error")
	ErrConflict             = errors.New("conflict")
	ErrForbidden            = errors.New("forbidden")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrVerificationRequired = errors.New("verification required")
	ErrRateLimited          = errors.New("rate limited")
	ErrUpstream             = errors.New("upstream failure")
)

type AppError struct {
	Err     error  // sentinel the error belongs to
	Message string // Human-readable error message, safe to show to clients
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

// NotFoundMessage is NotFound with a caller-chosen message, for lookups that
// are not keyed by id (e.g. "no account is registered for this email").
func NotFoundMessage(message string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: message,
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports that a unique attribute (email, mobile, google id) is
// already owned by another account.
func Conflict(resource, message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict: %s", resource, message),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized is returned for missing, malformed, expired or forged
// session tokens. The message never says which.
func Unauthorized() *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: "valid authentication required",
	}
}

// InvalidCredentials is deliberately vague: unknown identifier, missing
// password and wrong password all produce the same value.
func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrInvalidCredentials,
		Message: "invalid credentials",
	}
}

// InvalidOrExpiredOTP covers wrong, expired and already consumed codes.
func InvalidOrExpiredOTP() *AppError {
	return &AppError{
		Err:     ErrInvalidCredentials,
		Message: "invalid or expired OTP",
	}
}

func VerificationRequired(message string) *AppError {
	return &AppError{
		Err:     ErrVerificationRequired,
		Message: message,
	}
}

func RateLimited(message string) *AppError {
	return &AppError{
		Err:     ErrRateLimited,
		Message: message,
	}
}

// Upstream wraps a failure of an external system (mail relay, SMS gateway,
// identity provider). cause is kept for logs; Message stays generic.
func Upstream(service string, cause error) *AppError {
	return &AppError{
		Err:     fmt.Errorf("%w: %s: %w", ErrUpstream, service, cause),
		Message: fmt.Sprintf("%s is unavailable, please try again", service),
	}
}
