// Package sqlite implements the repository interfaces on SQLite.
//
// It is the zero-infrastructure backend: local development, the CLI demo
// and every integration test run on it. Production deployments use the
// postgres package instead; both satisfy the same interfaces.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so no C toolchain
// is needed.
//
// TIMESTAMPS:
// The driver stores time.Time as text. Every timestamp is converted to UTC
// before it is written (see ts) so values sort correctly as strings and
// range predicates like expires_at > ? behave.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB owns the connection pool. Users() and OTPs() hand out the typed
// stores that implement the repository interfaces.
type DB struct {
	conn *sql.DB
}

// New opens (creating if needed) the database at dbPath and runs the
// migrations. ":memory:" gives a private in-memory database.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every connection to ":memory:" is a separate, empty database.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// PingContext reports whether the database answers.
func (db *DB) PingContext(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Users returns the user store.
func (db *DB) Users() *UserDB {
	return &UserDB{conn: db.conn}
}

// OTPs returns the OTP store.
func (db *DB) OTPs() *OTPDB {
	return &OTPDB{conn: db.conn}
}

// migrate creates the schema. CREATE ... IF NOT EXISTS keeps it idempotent.
func (db *DB) migrate() error {
	// Identifiers are nullable so UNIQUE only applies to present values.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id                 TEXT PRIMARY KEY,
			first_name         TEXT NOT NULL DEFAULT '',
			last_name          TEXT NOT NULL DEFAULT '',
			email              TEXT UNIQUE,
			mobile             TEXT UNIQUE,
			password_hash      TEXT,
			google_id          TEXT UNIQUE,
			age                INTEGER,
			is_email_verified  INTEGER NOT NULL DEFAULT 0,
			is_mobile_verified INTEGER NOT NULL DEFAULT 0,
			is_google_auth     INTEGER NOT NULL DEFAULT 0,
			created_at         DATETIME NOT NULL,
			updated_at         DATETIME NOT NULL,
			last_login         DATETIME,
			CHECK (email IS NOT NULL OR mobile IS NOT NULL)
		);
		CREATE INDEX IF NOT EXISTS idx_users_created_at ON users(created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	for _, table := range []string{"login_otps", "registration_otps"} {
		_, err = db.conn.Exec(fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %[1]s (
				id          TEXT PRIMARY KEY,
				kind        TEXT NOT NULL CHECK (kind IN ('email', 'mobile')),
				identifier  TEXT NOT NULL,
				code        TEXT NOT NULL,
				expires_at  DATETIME NOT NULL,
				consumed    INTEGER NOT NULL DEFAULT 0,
				verified_at DATETIME,
				created_at  DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_%[1]s_lookup ON %[1]s(kind, identifier, created_at);
		`, table))
		if err != nil {
			return fmt.Errorf("creating %s table: %w", table, err)
		}
	}

	return nil
}

func ts(t time.Time) time.Time {
	return t.UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
