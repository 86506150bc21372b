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

var _ repository.OTPRepository = (*OTPRepository)(nil)

type OTPRepository struct {
	db DBTX
}

func NewOTPRepository(db DBTX) *OTPRepository {
	return &OTPRepository{db: db}
}

func otpTable(purpose model.OTPPurpose) (string, error) {
	table, ok := repository.OTPTable(purpose)
	if !ok {
		return "", fmt.Errorf("postgres: unknown OTP purpose %q", purpose)
	}
	return table, nil
}

func (r *OTPRepository) Create(ctx context.Context, otp *model.OTP) error {
	table, err := otpTable(otp.Purpose)
	if err != nil {
		return err
	}

	otp.ID = xid.New().String()
	otp.CreatedAt = time.Now().UTC()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO `+table+` (id, kind, identifier, code, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		otp.ID, string(otp.Kind), otp.Identifier, otp.Code, otp.ExpiresAt, otp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: inserting %s otp: %w", otp.Purpose, err)
	}
	return nil
}

func (r *OTPRepository) DeleteForIdentifier(ctx context.Context, purpose model.OTPPurpose, kind model.IdentifierKind, identifier string) error {
	table, err := otpTable(purpose)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE kind = $1 AND identifier = $2`,
		string(kind), identifier,
	)
	if err != nil {
		return fmt.Errorf("postgres: deleting %s otps: %w", purpose, err)
	}
	return nil
}

func (r *OTPRepository) FindActive(ctx context.Context, purpose model.OTPPurpose, kind model.IdentifierKind, identifier, code string, now time.Time) (*model.OTP, error) {
	table, err := otpTable(purpose)
	if err != nil {
		return nil, err
	}

	var (
		otp        model.OTP
		k          string
		verifiedAt sql.NullTime
	)
	err = r.db.QueryRowContext(ctx,
		`SELECT id, kind, identifier, code, expires_at, consumed, verified_at, created_at
		 FROM `+table+`
		 WHERE kind = $1 AND identifier = $2 AND code = $3 AND NOT consumed AND expires_at > $4
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		string(kind), identifier, code, now,
	).Scan(&otp.ID, &k, &otp.Identifier, &otp.Code, &otp.ExpiresAt, &otp.Consumed, &verifiedAt, &otp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFoundMessage("no active code")
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: finding %s otp: %w", purpose, err)
	}

	otp.Purpose = purpose
	otp.Kind = model.IdentifierKind(k)
	if verifiedAt.Valid {
		t := verifiedAt.Time
		otp.VerifiedAt = &t
	}
	return &otp, nil
}

// Consume flips consumed only while it is still false; RowsAffected tells
// the caller whether it won.
func (r *OTPRepository) Consume(ctx context.Context, purpose model.OTPPurpose, id string, at time.Time) (bool, error) {
	table, err := otpTable(purpose)
	if err != nil {
		return false, err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE `+table+` SET consumed = TRUE, verified_at = $1 WHERE id = $2 AND NOT consumed`,
		at, id,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: consuming %s otp %s: %w", purpose, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: checking rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *OTPRepository) HasVerified(ctx context.Context, purpose model.OTPPurpose, kind model.IdentifierKind, identifier string, since time.Time) (bool, error) {
	table, err := otpTable(purpose)
	if err != nil {
		return false, err
	}

	var ok bool
	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM `+table+`
			WHERE kind = $1 AND identifier = $2 AND consumed AND verified_at >= $3
		)`,
		string(kind), identifier, since,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("postgres: checking %s verification: %w", purpose, err)
	}
	return ok, nil
}

func (r *OTPRepository) PurgeExpired(ctx context.Context, purpose model.OTPPurpose, before time.Time) (int64, error) {
	table, err := otpTable(purpose)
	if err != nil {
		return 0, err
	}

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE NOT consumed AND expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: purging %s otps: %w", purpose, err)
	}
	return res.RowsAffected()
}
