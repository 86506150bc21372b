// Package config builds the service configuration from the environment.
//
// SOURCES, IN ORDER OF PRECEDENCE:
//  1. Real environment variables
//  2. A .env file in the working directory (optional, loaded with godotenv;
//     it never overrides variables that are already set)
//  3. Defaults below
//
// The resulting Config is constructed once in main and passed down
// explicitly. No package reads os.Getenv on its own.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Database drivers understood by the server.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port     int
	LogLevel slog.Level

	DBDriver    string // sqlite | postgres
	DBPath      string // sqlite file, or ":memory:"
	DatabaseURL string // postgres DSN

	JWTSecret string
	TokenTTL  time.Duration

	OTPTTL             time.Duration
	RegistrationWindow time.Duration // how long a verified registration code stays usable
	OTPSendLimit       int           // sends per identifier per OTPSendWindow; 0 disables
	OTPVerifyLimit     int           // verification attempts per identifier per OTPSendWindow; 0 disables
	OTPSendWindow      time.Duration
	OTPDevLog          bool          // log codes for unconfigured channels; sqlite only
	OTPPurgeInterval   time.Duration // 0 disables the expired-code sweeper
	UpstreamTimeout    time.Duration

	Google      GoogleConfig
	FrontendURL string

	SMTP     SMTPConfig
	AWS      AWSConfig
	RedisURL string
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// Enabled reports whether Google sign-in routes should be mounted.
func (g GoogleConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.From != ""
}

type AWSConfig struct {
	Region             string
	AccessKeyID        string
	SecretAccessKey    string
	SNSSenderID        string
	DefaultCountryCode string // prefixed to bare national mobile numbers
}

func (a AWSConfig) Enabled() bool {
	return a.Region != ""
}

// Load reads .env (if present) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: reading .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function. Tests pass a map-backed
// getenv instead of mutating the process environment.
func FromEnv(getenv func(string) string) (Config, error) {
	e := &env{get: getenv}

	cfg := Config{
		Port:        e.int("PORT", 5000),
		DBPath:      e.str("DB_PATH", "data/accounts.db"),
		DatabaseURL: e.str("DATABASE_URL", ""),
		JWTSecret:   e.str("JWT_SECRET", ""),
		TokenTTL:    e.duration("TOKEN_TTL", 30*24*time.Hour),

		OTPTTL:             e.duration("OTP_TTL", 5*time.Minute),
		RegistrationWindow: e.duration("REGISTRATION_WINDOW", 30*time.Minute),
		OTPSendLimit:       e.int("OTP_SEND_LIMIT", 5),
		OTPVerifyLimit:     e.int("OTP_VERIFY_LIMIT", 10),
		OTPSendWindow:      e.duration("OTP_SEND_WINDOW", 15*time.Minute),
		OTPPurgeInterval:   e.duration("OTP_PURGE_INTERVAL", time.Hour),
		UpstreamTimeout:    e.duration("UPSTREAM_TIMEOUT", 10*time.Second),
		OTPDevLog:          e.bool("OTP_DEV_LOG", false),

		FrontendURL: strings.TrimRight(e.str("CLIENT_URL", "http://localhost:3000"), "/"),

		SMTP: SMTPConfig{
			Host:     e.str("SMTP_HOST", ""),
			Port:     e.int("SMTP_PORT", 587),
			Username: e.str("SMTP_USERNAME", ""),
			Password: e.str("SMTP_PASSWORD", ""),
			From:     e.str("SMTP_FROM", ""),
		},
		AWS: AWSConfig{
			Region:             e.str("AWS_REGION", ""),
			AccessKeyID:        e.str("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:    e.str("AWS_SECRET_ACCESS_KEY", ""),
			SNSSenderID:        e.str("SNS_SENDER_ID", ""),
			DefaultCountryCode: e.str("SMS_DEFAULT_COUNTRY_CODE", "+91"),
		},
		RedisURL: e.str("REDIS_URL", ""),
	}

	cfg.DBDriver = e.str("DB_DRIVER", "")
	if cfg.DBDriver == "" {
		cfg.DBDriver = DriverSQLite
		if cfg.DatabaseURL != "" {
			cfg.DBDriver = DriverPostgres
		}
	}

	cfg.Google = GoogleConfig{
		ClientID:     e.str("GOOGLE_CLIENT_ID", ""),
		ClientSecret: e.str("GOOGLE_CLIENT_SECRET", ""),
		CallbackURL:  e.str("GOOGLE_CALLBACK_URL", fmt.Sprintf("http://localhost:%d/api/auth/google/callback", cfg.Port)),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(e.str("LOG_LEVEL", "info"))); err != nil {
		e.fail("LOG_LEVEL", err)
	}

	if e.err != nil {
		return Config{}, e.err
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be set to at least 16 characters"))
	}
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH must not be empty for the sqlite driver"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q is not one of sqlite, postgres", c.DBDriver))
	}
	if c.OTPTTL <= 0 {
		errs = append(errs, errors.New("OTP_TTL must be positive"))
	}
	if c.RegistrationWindow <= 0 {
		errs = append(errs, errors.New("REGISTRATION_WINDOW must be positive"))
	}
	if c.OTPDevLog && c.DBDriver == DriverPostgres {
		errs = append(errs, errors.New("OTP_DEV_LOG writes codes to the log and is refused with the postgres driver"))
	}
	if (c.OTPSendLimit > 0 || c.OTPVerifyLimit > 0) && c.OTPSendWindow <= 0 {
		errs = append(errs, errors.New("OTP_SEND_WINDOW must be positive while a limit is set"))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, errors.New("UPSTREAM_TIMEOUT must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// env collects the first parse error so Load reports it once.
type env struct {
	get func(string) string
	err error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *env) bool(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *env) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("config: invalid %s: %w", key, err)
	}
}
