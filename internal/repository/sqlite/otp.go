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

var _ repository.OTPRepository = (*OTPDB)(nil)

// OTPDB is the SQLite OTP store. Login and registration codes live in
// separate tables chosen by repository.OTPTable.
type OTPDB struct {
	conn *sql.DB
}

func otpTable(purpose model.OTPPurpose) (string, error) {
	table, ok := repository.OTPTable(purpose)
	if !ok {
		return "", fmt.Errorf("sqlite: unknown OTP purpose %q", purpose)
	}
	return table, nil
}

func (o *OTPDB) Create(ctx context.Context, otp *model.OTP) error {
	table, err := otpTable(otp.Purpose)
	if err != nil {
		return err
	}

	otp.ID = xid.New().String()
	otp.CreatedAt = time.Now()

	_, err = o.conn.ExecContext(ctx,
		`INSERT INTO `+table+` (id, kind, identifier, code, expires_at, consumed, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		otp.ID,
		string(otp.Kind),
		otp.Identifier,
		otp.Code,
		ts(otp.ExpiresAt),
		ts(otp.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting %s otp: %w", otp.Purpose, err)
	}
	return nil
}

func (o *OTPDB) DeleteForIdentifier(ctx context.Context, purpose model.OTPPurpose, kind model.IdentifierKind, identifier string) error {
	table, err := otpTable(purpose)
	if err != nil {
		return err
	}

	_, err = o.conn.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE kind = ? AND identifier = ?`,
		string(kind), identifier,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting %s otps: %w", purpose, err)
	}
	return nil
}

func (o *OTPDB) FindActive(ctx context.Context, purpose model.OTPPurpose, kind model.IdentifierKind, identifier, code string, now time.Time) (*model.OTP, error) {
	table, err := otpTable(purpose)
	if err != nil {
		return nil, err
	}

	var (
		otp        model.OTP
		k          string
		verifiedAt sql.NullTime
	)
	err = o.conn.QueryRowContext(ctx,
		`SELECT id, kind, identifier, code, expires_at, consumed, verified_at, created_at
		 FROM `+table+`
		 WHERE kind = ? AND identifier = ? AND code = ? AND consumed = 0 AND expires_at > ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		string(kind), identifier, code, ts(now),
	).Scan(
		&otp.ID,
		&k,
		&otp.Identifier,
		&otp.Code,
		&otp.ExpiresAt,
		&otp.Consumed,
		&verifiedAt,
		&otp.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFoundMessage("no active code")
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: finding %s otp: %w", purpose, err)
	}

	otp.Purpose = purpose
	otp.Kind = model.IdentifierKind(k)
	if verifiedAt.Valid {
		t := verifiedAt.Time
		otp.VerifiedAt = &t
	}
	return &otp, nil
}

// Consume is a compare-and-set on the consumed flag: the WHERE clause
// only matches while the row is unconsumed, so exactly one caller sees a
// row affected.
func (o *OTPDB) Consume(ctx context.Context, purpose model.OTPPurpose, id string, at time.Time) (bool, error) {
	table, err := otpTable(purpose)
	if err != nil {
		return false, err
	}

	res, err := o.conn.ExecContext(ctx,
		`UPDATE `+table+` SET consumed = 1, verified_at = ? WHERE id = ? AND consumed = 0`,
		ts(at), id,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: consuming %s otp %s: %w", purpose, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n == 1, nil
}

func (o *OTPDB) HasVerified(ctx context.Context, purpose model.OTPPurpose, kind model.IdentifierKind, identifier string, since time.Time) (bool, error) {
	table, err := otpTable(purpose)
	if err != nil {
		return false, err
	}

	var ok bool
	err = o.conn.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM `+table+`
			WHERE kind = ? AND identifier = ? AND consumed = 1 AND verified_at >= ?
		)`,
		string(kind), identifier, ts(since),
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking %s verification: %w", purpose, err)
	}
	return ok, nil
}

func (o *OTPDB) PurgeExpired(ctx context.Context, purpose model.OTPPurpose, before time.Time) (int64, error) {
	table, err := otpTable(purpose)
	if err != nil {
		return 0, err
	}

	res, err := o.conn.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE consumed = 0 AND expires_at < ?`,
		ts(before),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: purging %s otps: %w", purpose, err)
	}
	return res.RowsAffected()
}
