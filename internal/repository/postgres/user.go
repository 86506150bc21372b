package postgres

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

var _ repository.UserRepository = (*UserRepository)(nil)

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, first_name, last_name, email, mobile, password_hash, google_id, age,
	is_email_verified, is_mobile_verified, is_google_auth, created_at, updated_at, last_login`

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULL)`,
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
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", "email, mobile or google account already registered")
		}
		return fmt.Errorf("postgres: inserting user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	user, err := r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: getting user %s: %w", id, err)
	}
	return user, nil
}

func (r *UserRepository) GetByEmailOrMobile(ctx context.Context, identifier string) (*model.User, error) {
	user, err := r.getOne(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1 OR mobile = $1 LIMIT 1`,
		identifier,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFoundMessage("no account found for this email or mobile")
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: looking up user by email or mobile: %w", err)
	}
	return user, nil
}

func (r *UserRepository) GetByIdentifier(ctx context.Context, kind model.IdentifierKind, identifier string) (*model.User, error) {
	column, err := identifierColumn(kind)
	if err != nil {
		return nil, err
	}

	user, err := r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = $1`, identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFoundMessage(fmt.Sprintf("no account found for this %s", kind))
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: looking up user by %s: %w", kind, err)
	}
	return user, nil
}

func (r *UserRepository) GetByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	user, err := r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE google_id = $1`, googleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFoundMessage("no account linked to this Google account")
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: looking up user by google id: %w", err)
	}
	return user, nil
}

func (r *UserRepository) ExistsByEmailOrMobile(ctx context.Context, email, mobile string) (bool, bool, error) {
	var emailTaken, mobileTaken bool
	err := r.db.QueryRowContext(ctx,
		`SELECT
			EXISTS(SELECT 1 FROM users WHERE email = $1),
			EXISTS(SELECT 1 FROM users WHERE mobile = $2)`,
		nullString(email), nullString(mobile),
	).Scan(&emailTaken, &mobileTaken)
	if err != nil {
		return false, false, fmt.Errorf("postgres: checking identifiers: %w", err)
	}
	return emailTaken, mobileTaken, nil
}

func (r *UserRepository) LinkGoogle(ctx context.Context, id, googleID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET google_id = $1, is_google_auth = TRUE, is_email_verified = TRUE, updated_at = NOW()
		 WHERE id = $2`,
		googleID, id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", "google account already linked to another user")
		}
		return fmt.Errorf("postgres: linking google account to %s: %w", id, err)
	}
	return expectOneRow(res, id)
}

func (r *UserRepository) MarkVerified(ctx context.Context, id string, kind model.IdentifierKind) error {
	var flag string
	switch kind {
	case model.KindEmail:
		flag = "is_email_verified"
	case model.KindMobile:
		flag = "is_mobile_verified"
	default:
		return apperror.ValidationFailed("type", "type must be email or mobile")
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET `+flag+` = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: marking %s verified for %s: %w", kind, id, err)
	}
	return expectOneRow(res, id)
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login = $1, updated_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("postgres: updating last login for %s: %w", id, err)
	}
	return expectOneRow(res, id)
}

func (r *UserRepository) List(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`,
		opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scanning user: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterating users: %w", err)
	}
	return users, nil
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, query, args...))
}

func identifierColumn(kind model.IdentifierKind) (string, error) {
	switch kind {
	case model.KindEmail:
		return "email", nil
	case model.KindMobile:
		return "mobile", nil
	}
	return "", apperror.ValidationFailed("type", "type must be email or mobile")
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

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}
