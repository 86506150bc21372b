package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/accounts/internal/apperror"
	"github.com/sakif/accounts/internal/model"
	"github.com/sakif/accounts/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the SQLite user store.
type UserDB struct {
	conn *sql.DB
}

const userColumns = `id, first_name, last_name, email, mobile, password_hash, google_id, age,
	is_email_verified, is_mobile_verified, is_google_auth, created_at, updated_at, last_login`

// Create inserts a new user and fills in ID and timestamps.
// A duplicate email, mobile or google id returns apperror.ErrConflict.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := u.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.FirstName,
		user.LastName,
		nullString(user.Email),
		nullString(user.Mobile),
		nullString(user.PasswordHash),
		nullString(user.GoogleID),
		nullInt(user.Age),
		user.IsEmailVerified,
		user.IsMobileVerified,
		user.IsGoogleAuth,
		ts(user.CreatedAt),
		ts(user.UpdatedAt),
		nil,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", "email, mobile or google account already registered")
		}
		return fmt.Errorf("sqlite: inserting user: %w", err)
	}
	return nil
}

func (u *UserDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	user, err := u.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return user, nil
}

func (u *UserDB) GetByEmailOrMobile(ctx context.Context, identifier string) (*model.User, error) {
	user, err := u.getOne(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? OR mobile = ? LIMIT 1`,
		identifier, identifier,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFoundMessage("no account found for this email or mobile")
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: looking up user by email or mobile: %w", err)
	}
	return user, nil
}

func (u *UserDB) GetByIdentifier(ctx context.Context, kind model.IdentifierKind, identifier string) (*model.User, error) {
	var query string
	switch kind {
	case model.KindEmail:
		query = `SELECT ` + userColumns + ` FROM users WHERE email = ?`
	case model.KindMobile:
		query = `SELECT ` + userColumns + ` FROM users WHERE mobile = ?`
	default:
		return nil, apperror.ValidationFailed("type", "type must be email or mobile")
	}

	user, err := u.getOne(ctx, query, identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFoundMessage(fmt.Sprintf("no account found for this %s", kind))
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: looking up user by %s: %w", kind, err)
	}
	return user, nil
}

func (u *UserDB) GetByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	user, err := u.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE google_id = ?`, googleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFoundMessage("no account linked to this Google account")
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: looking up user by google id: %w", err)
	}
	return user, nil
}

func (u *UserDB) ExistsByEmailOrMobile(ctx context.Context, email, mobile string) (bool, bool, error) {
	var emailTaken, mobileTaken bool
	err := u.conn.QueryRowContext(ctx,
		`SELECT
			EXISTS(SELECT 1 FROM users WHERE email = ?),
			EXISTS(SELECT 1 FROM users WHERE mobile = ?)`,
		nullString(email), nullString(mobile),
	).Scan(&emailTaken, &mobileTaken)
	if err != nil {
		return false, false, fmt.Errorf("sqlite: checking identifiers: %w", err)
	}
	return emailTaken, mobileTaken, nil
}

func (u *UserDB) LinkGoogle(ctx context.Context, id, googleID string) error {
	res, err := u.conn.ExecContext(ctx,
		`UPDATE users
		 SET google_id = ?, is_google_auth = 1, is_email_verified = 1, updated_at = ?
		 WHERE id = ?`,
		googleID, ts(time.Now()), id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", "google account already linked to another user")
		}
		return fmt.Errorf("sqlite: linking google account to %s: %w", id, err)
	}
	return expectOneRow(res, id)
}

func (u *UserDB) MarkVerified(ctx context.Context, id string, kind model.IdentifierKind) error {
	var query string
	switch kind {
	case model.KindEmail:
		query = `UPDATE users SET is_email_verified = 1, updated_at = ? WHERE id = ?`
	case model.KindMobile:
		query = `UPDATE users SET is_mobile_verified = 1, updated_at = ? WHERE id = ?`
	default:
		return apperror.ValidationFailed("type", "type must be email or mobile")
	}

	res, err := u.conn.ExecContext(ctx, query, ts(time.Now()), id)
	if err != nil {
		return fmt.Errorf("sqlite: marking %s verified for %s: %w", kind, id, err)
	}
	return expectOneRow(res, id)
}

func (u *UserDB) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := u.conn.ExecContext(ctx,
		`UPDATE users SET last_login = ?, updated_at = ? WHERE id = ?`,
		ts(at), ts(at), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating last login for %s: %w", id, err)
	}
	return expectOneRow(res, id)
}

// List returns users newest first.
func (u *UserDB) List(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	rows, err := u.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}
	return users, nil
}

func (u *UserDB) getOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	return scanUser(u.conn.QueryRowContext(ctx, query, args...))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*model.User, error) {
	var (
		user                          model.User
		email, mobile, hash, googleID sql.NullString
		age                           sql.NullInt64
		lastLogin                     sql.NullTime
	)
	err := s.Scan(
		&user.ID,
		&user.FirstName,
		&user.LastName,
		&email,
		&mobile,
		&hash,
		&googleID,
		&age,
		&user.IsEmailVerified,
		&user.IsMobileVerified,
		&user.IsGoogleAuth,
		&user.CreatedAt,
		&user.UpdatedAt,
		&lastLogin,
	)
	if err != nil {
		return nil, err
	}

	user.Email = email.String
	user.Mobile = mobile.String
	user.PasswordHash = hash.String
	user.GoogleID = googleID.String
	user.Age = int(age.Int64)
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLogin = &t
	}
	return &user, nil
}

// expectOneRow turns "UPDATE matched nothing" into apperror.ErrNotFound.
func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}
