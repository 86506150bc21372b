// Package repository declares the storage interfaces the services depend on.
// Implementations live in the sqlite and postgres sub-packages.
//
// ERROR CONTRACT (every implementation):
//   - a lookup that matches nothing returns apperror.ErrNotFound
//   - a write that violates a unique identifier returns apperror.ErrConflict
//   - anything else is wrapped with the backend name and returned as is
package repository

import (
	"context"
	"time"

	"github.com/sakif/accounts/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

type UserRepository interface {
	// Create assigns ID/CreatedAt/UpdatedAt and inserts the user.
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	// GetByEmailOrMobile matches identifier against either column.
	GetByEmailOrMobile(ctx context.Context, identifier string) (*model.User, error)
	GetByIdentifier(ctx context.Context, kind model.IdentifierKind, identifier string) (*model.User, error)
	GetByGoogleID(ctx context.Context, googleID string) (*model.User, error)
	// ExistsByEmailOrMobile reports which of the two identifiers are taken.
	// Empty arguments are never considered taken.
	ExistsByEmailOrMobile(ctx context.Context, email, mobile string) (emailTaken, mobileTaken bool, err error)
	// LinkGoogle attaches googleID to an existing account and marks the
	// email verified and Google-authenticated.
	LinkGoogle(ctx context.Context, id, googleID string) error
	MarkVerified(ctx context.Context, id string, kind model.IdentifierKind) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, opts ListOptions) ([]model.User, error)
}

// OTPRepository stores issued codes. purpose selects the login or the
// registration table; codes of one purpose are invisible to the other.
type OTPRepository interface {
	// Create assigns ID/CreatedAt and inserts the code.
	Create(ctx context.Context, otp *model.OTP) error
	// DeleteForIdentifier removes every code (consumed or not) for the
	// identifier.
	DeleteForIdentifier(ctx context.Context, purpose model.OTPPurpose, kind model.IdentifierKind, identifier string) error
	// FindActive returns the newest unconsumed, unexpired record whose
	// code equals code.
	FindActive(ctx context.Context, purpose model.OTPPurpose, kind model.IdentifierKind, identifier, code string, now time.Time) (*model.OTP, error)
	// Consume marks the record consumed if, and only if, it is still
	// unconsumed. It reports whether this call performed the transition,
	// so two concurrent verifications cannot both succeed.
	Consume(ctx context.Context, purpose model.OTPPurpose, id string, at time.Time) (bool, error)
	// HasVerified reports whether a code for the identifier was consumed
	// at or after since.
	HasVerified(ctx context.Context, purpose model.OTPPurpose, kind model.IdentifierKind, identifier string, since time.Time) (bool, error)
	// PurgeExpired deletes unconsumed codes that expired before before and
	// returns how many were removed.
	PurgeExpired(ctx context.Context, purpose model.OTPPurpose, before time.Time) (int64, error)
}

// OTPTable maps a purpose to its table name. Both backends build their SQL
// from this whitelist, never from caller input.
func OTPTable(purpose model.OTPPurpose) (string, bool) {
	switch purpose {
	case model.PurposeLogin:
		return "login_otps", true
	case model.PurposeRegistration:
		return "registration_otps", true
	}
	return "", false
}
