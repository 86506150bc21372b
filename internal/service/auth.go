// Package service contains the business rules of the accounts API.
//
// LAYERS:
//
//	Handler (HTTP)  → parses requests, writes envelopes
//	Service         → validates, enforces the OTP and login rules, issues tokens
//	Repository      → reads/writes users and codes
//
// Services never see HTTP and never see SQL. Every collaborator comes in
// through the constructor as an interface or a small concrete type, so the
// tests in this package run against in-memory fakes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/accounts/internal/apperror"
	"github.com/sakif/accounts/internal/auth"
	"github.com/sakif/accounts/internal/model"
	"github.com/sakif/accounts/internal/notify"
	"github.com/sakif/accounts/internal/ratelimit"
	"github.com/sakif/accounts/internal/repository"
)

// Notifier delivers a code to its identifier. *notify.Dispatcher is the
// production implementation.
type Notifier interface {
	SendOTP(ctx context.Context, msg notify.OTPMessage) error
}

// PasswordHasher hashes and checks passwords. *auth.PasswordService is the
// production implementation.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(hash, plaintext string) error
}

// Limits caps code sends and code verification attempts per identifier.
// A nil limiter allows everything.
type Limits struct {
	Send   ratelimit.Limiter
	Verify ratelimit.Limiter
}

// AuthConfig holds the timing rules of the OTP flows.
type AuthConfig struct {
	OTPTTL             time.Duration // lifetime of an issued code
	RegistrationWindow time.Duration // how long a verified registration code counts
	UpstreamTimeout    time.Duration // bound on each delivery call
}

// AuthService implements password login, OTP login, two-phase registration
// and Google sign-in.
type AuthService struct {
	users     repository.UserRepository
	otps      repository.OTPRepository
	tokens    *auth.TokenService
	passwords PasswordHasher
	notifier  Notifier
	limits    Limits
	cfg       AuthConfig
	logger    *slog.Logger

	dummyOnce sync.Once
	dummyHash string

	now          func() time.Time
	generateCode func() (string, error)
}

func NewAuthService(
	users repository.UserRepository,
	otps repository.OTPRepository,
	tokens *auth.TokenService,
	passwords PasswordHasher,
	notifier Notifier,
	limits Limits,
	cfg AuthConfig,
	logger *slog.Logger,
) *AuthService {
	if limits.Send == nil {
		limits.Send = ratelimit.Noop{}
	}
	if limits.Verify == nil {
		limits.Verify = ratelimit.Noop{}
	}
	return &AuthService{
		users:        users,
		otps:         otps,
		tokens:       tokens,
		passwords:    passwords,
		notifier:     notifier,
		limits:       limits,
		cfg:          cfg,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		generateCode: auth.GenerateOTP,
	}
}

// AuthResult is what every successful sign-in returns: the account and a
// session token for it.
type AuthResult struct {
	User      *model.User
	Token     string
	ExpiresAt time.Time
}

// =========================================================================
// PASSWORD LOGIN
// =========================================================================

// Login checks a password against the account whose email or mobile equals
// identifier. Unknown accounts, accounts without a password and wrong
// passwords are indistinguishable to the caller, in the error and in the
// time taken: every attempt pays for one hash comparison.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (*AuthResult, error) {
	identifier = normalizeLoginIdentifier(identifier)
	if identifier == "" || password == "" {
		return nil, apperror.ValidationFailed("emailOrMobile", "email/mobile and password are required")
	}

	user, err := s.users.GetByEmailOrMobile(ctx, identifier)
	if errors.Is(err, apperror.ErrNotFound) {
		s.compareDummy(password)
		return nil, apperror.InvalidCredentials()
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: looking up account: %w", err)
	}

	if !user.HasPassword() {
		s.compareDummy(password)
		return nil, apperror.InvalidCredentials()
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("service/auth: checking password for %s: %w", user.ID, err)
	}

	return s.signIn(ctx, user, "password")
}

// compareDummy checks password against a throwaway hash made by the same
// hasher, so it costs what a real comparison costs. The result is ignored.
func (s *AuthService) compareDummy(password string) {
	s.dummyOnce.Do(func() {
		hash, err := s.passwords.Hash("not-a-real-password")
		if err != nil {
			s.logger.Error("creating dummy password hash", slog.String("error", err.Error()))
			return
		}
		s.dummyHash = hash
	})
	if s.dummyHash != "" {
		_ = s.passwords.Verify(s.dummyHash, password)
	}
}

// =========================================================================
// ONE-TIME CODES
// =========================================================================

// RequestOTP issues a code for identifier and delivers it.
//
// Login codes require an existing account and leave earlier codes valid.
// Registration codes require that no account owns the identifier yet and
// replace earlier registration codes for it.
func (s *AuthService) RequestOTP(ctx context.Context, kind model.IdentifierKind, identifier string, purpose model.OTPPurpose) error {
	identifier, err := normalizeIdentifier(kind, identifier)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("otp:%s:%s:%s", purpose, kind, identifier)
	if err := s.checkRate(ctx, s.limits.Send, key, "too many codes requested, please wait before trying again"); err != nil {
		return err
	}

	switch purpose {
	case model.PurposeLogin:
		if _, err := s.users.GetByIdentifier(ctx, kind, identifier); err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				return apperror.NotFoundMessage(fmt.Sprintf("no account found for this %s", kind))
			}
			return fmt.Errorf("service/auth: looking up %s: %w", kind, err)
		}

	case model.PurposeRegistration:
		if err := s.ensureAvailable(ctx, kind, identifier); err != nil {
			return err
		}
		if err := s.otps.DeleteForIdentifier(ctx, purpose, kind, identifier); err != nil {
			return fmt.Errorf("service/auth: clearing old registration codes: %w", err)
		}

	default:
		return apperror.ValidationFailed("purpose", "unknown OTP purpose")
	}

	code, err := s.generateCode()
	if err != nil {
		return fmt.Errorf("service/auth: generating code: %w", err)
	}

	otp := &model.OTP{
		Purpose:    purpose,
		Kind:       kind,
		Identifier: identifier,
		Code:       code,
		ExpiresAt:  s.now().Add(s.cfg.OTPTTL),
	}
	if err := s.otps.Create(ctx, otp); err != nil {
		return fmt.Errorf("service/auth: storing code: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
	defer cancel()

	err = s.notifier.SendOTP(sendCtx, notify.OTPMessage{
		Purpose:   purpose,
		Kind:      kind,
		To:        identifier,
		Code:      code,
		ExpiresIn: s.cfg.OTPTTL,
	})
	if err != nil {
		s.logger.Error("OTP delivery failed",
			slog.String("purpose", string(purpose)),
			slog.String("kind", string(kind)),
			slog.String("to", notify.Mask(identifier)),
			slog.String("error", err.Error()),
		)
		return apperror.Upstream(channelName(kind), err)
	}

	s.logger.Info("OTP sent",
		slog.String("purpose", string(purpose)),
		slog.String("kind", string(kind)),
		slog.String("to", notify.Mask(identifier)),
	)
	return nil
}

// VerifyLoginOTP consumes a login code, marks the identifier verified on the
// account and signs the user in.
func (s *AuthService) VerifyLoginOTP(ctx context.Context, kind model.IdentifierKind, identifier, code string) (*AuthResult, error) {
	identifier, err := normalizeIdentifier(kind, identifier)
	if err != nil {
		return nil, err
	}
	if err := s.consumeCode(ctx, model.PurposeLogin, kind, identifier, code); err != nil {
		return nil, err
	}

	user, err := s.users.GetByIdentifier(ctx, kind, identifier)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.InvalidOrExpiredOTP()
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: looking up %s: %w", kind, err)
	}

	if !user.IsVerified(kind) {
		if err := s.users.MarkVerified(ctx, user.ID, kind); err != nil {
			return nil, fmt.Errorf("service/auth: marking %s verified for %s: %w", kind, user.ID, err)
		}
		user.SetVerified(kind)
	}

	return s.signIn(ctx, user, "otp_"+string(kind))
}

// RegistrationProof is returned for a consumed registration code. Register
// accepts the account only with one proof per identifier.
type RegistrationProof struct {
	Kind       model.IdentifierKind
	Identifier string
	Token      string
	ExpiresAt  time.Time
}

// VerifyRegistrationOTP consumes a registration code and returns a token
// bound to the identifier. No account is touched.
func (s *AuthService) VerifyRegistrationOTP(ctx context.Context, kind model.IdentifierKind, identifier, code string) (*RegistrationProof, error) {
	identifier, err := normalizeIdentifier(kind, identifier)
	if err != nil {
		return nil, err
	}
	if err := s.consumeCode(ctx, model.PurposeRegistration, kind, identifier, code); err != nil {
		return nil, err
	}

	token, exp, err := s.tokens.IssueRegistration(string(kind), identifier, s.cfg.RegistrationWindow)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing registration token: %w", err)
	}
	return &RegistrationProof{Kind: kind, Identifier: identifier, Token: token, ExpiresAt: exp}, nil
}

// consumeCode finds the newest live record matching code and claims it.
// Losing the claim to a concurrent request counts as a miss. Every attempt,
// right or wrong, counts against the verify limit of the identifier.
func (s *AuthService) consumeCode(ctx context.Context, purpose model.OTPPurpose, kind model.IdentifierKind, identifier, code string) error {
	if code == "" {
		return apperror.ValidationFailed("otp", "otp is required")
	}

	key := fmt.Sprintf("verify:%s:%s:%s", purpose, kind, identifier)
	if err := s.checkRate(ctx, s.limits.Verify, key, "too many attempts, please wait before trying again"); err != nil {
		return err
	}

	now := s.now()
	rec, err := s.otps.FindActive(ctx, purpose, kind, identifier, code, now)
	if errors.Is(err, apperror.ErrNotFound) {
		return apperror.InvalidOrExpiredOTP()
	}
	if err != nil {
		return fmt.Errorf("service/auth: finding %s code: %w", purpose, err)
	}

	won, err := s.otps.Consume(ctx, purpose, rec.ID, now)
	if err != nil {
		return fmt.Errorf("service/auth: consuming %s code: %w", purpose, err)
	}
	if !won {
		return apperror.InvalidOrExpiredOTP()
	}
	return nil
}

func (s *AuthService) checkRate(ctx context.Context, l ratelimit.Limiter, key, message string) error {
	ok, err := l.Allow(ctx, key)
	if err != nil {
		// Fail open: a limiter outage must not lock users out.
		s.logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return apperror.RateLimited(message)
	}
	return nil
}

// ensureAvailable fails with Conflict when an account already owns the
// identifier.
func (s *AuthService) ensureAvailable(ctx context.Context, kind model.IdentifierKind, identifier string) error {
	var email, mobile string
	if kind == model.KindEmail {
		email = identifier
	} else {
		mobile = identifier
	}

	emailTaken, mobileTaken, err := s.users.ExistsByEmailOrMobile(ctx, email, mobile)
	if err != nil {
		return fmt.Errorf("service/auth: checking %s availability: %w", kind, err)
	}
	return takenConflict(emailTaken, mobileTaken)
}

func takenConflict(emailTaken, mobileTaken bool) error {
	switch {
	case emailTaken && mobileTaken:
		return apperror.Conflict("user", "email and mobile number are already registered")
	case emailTaken:
		return apperror.Conflict("user", "email is already registered")
	case mobileTaken:
		return apperror.Conflict("user", "mobile number is already registered")
	}
	return nil
}

// =========================================================================
// REGISTRATION
// =========================================================================

// Register creates an account once both its email and its mobile number have
// been proven through registration codes within RegistrationWindow. The
// caller must present the registration token of each identifier; a code
// verified by someone else does not count.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	emailTaken, mobileTaken, err := s.users.ExistsByEmailOrMobile(ctx, in.Email, in.Mobile)
	if err != nil {
		return nil, fmt.Errorf("service/auth: checking identifiers: %w", err)
	}
	if err := takenConflict(emailTaken, mobileTaken); err != nil {
		return nil, err
	}

	since := s.now().Add(-s.cfg.RegistrationWindow)
	for _, id := range []struct {
		kind  model.IdentifierKind
		value string
		token string
		label string
	}{
		{model.KindEmail, in.Email, in.EmailToken, "email"},
		{model.KindMobile, in.Mobile, in.MobileToken, "mobile number"},
	} {
		if err := s.tokens.VerifyRegistration(id.token, string(id.kind), id.value); err != nil {
			return nil, apperror.VerificationRequired(fmt.Sprintf("please verify your %s before registering", id.label))
		}
		ok, err := s.otps.HasVerified(ctx, model.PurposeRegistration, id.kind, id.value, since)
		if err != nil {
			return nil, fmt.Errorf("service/auth: checking %s verification: %w", id.kind, err)
		}
		if !ok {
			return nil, apperror.VerificationRequired(fmt.Sprintf("please verify your %s before registering", id.label))
		}
	}

	user := &model.User{
		FirstName:        in.FirstName,
		LastName:         in.LastName,
		Email:            in.Email,
		Mobile:           in.Mobile,
		Age:              in.Age,
		IsEmailVerified:  true,
		IsMobileVerified: true,
	}
	if in.Password != "" {
		hash, err := s.passwords.Hash(in.Password)
		if err != nil {
			return nil, fmt.Errorf("service/auth: hashing password: %w", err)
		}
		user.PasswordHash = hash
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.Info("user registered", slog.String("userID", user.ID))

	for _, kv := range []struct {
		kind  model.IdentifierKind
		value string
	}{{model.KindEmail, in.Email}, {model.KindMobile, in.Mobile}} {
		if err := s.otps.DeleteForIdentifier(ctx, model.PurposeRegistration, kv.kind, kv.value); err != nil {
			s.logger.Warn("clearing registration codes failed",
				slog.String("userID", user.ID),
				slog.String("kind", string(kv.kind)),
				slog.String("error", err.Error()),
			)
		}
	}

	return s.signIn(ctx, user, "registration")
}

// =========================================================================
// GOOGLE SIGN-IN
// =========================================================================

// CompleteGoogleAuth signs in the owner of a verified Google identity.
//
// Lookup order: linked Google subject, then email. An unknown identity gets
// a new account; a known email without a linked subject gets linked.
func (s *AuthService) CompleteGoogleAuth(ctx context.Context, id *auth.GoogleIdentity) (*AuthResult, error) {
	if id == nil || id.Subject == "" || id.Email == "" {
		return nil, apperror.ValidationFailed("google", "google identity is incomplete")
	}
	email, err := normalizeIdentifier(model.KindEmail, id.Email)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByGoogleID(ctx, id.Subject)
	if err == nil {
		return s.signIn(ctx, user, "google")
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/auth: looking up google subject: %w", err)
	}

	user, err = s.users.GetByIdentifier(ctx, model.KindEmail, email)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		user = &model.User{
			FirstName:       id.GivenName,
			LastName:        id.FamilyName,
			Email:           email,
			GoogleID:        id.Subject,
			IsEmailVerified: true,
			IsGoogleAuth:    true,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("service/auth: creating google user: %w", err)
		}
		s.logger.Info("user registered via Google", slog.String("userID", user.ID))

	case err != nil:
		return nil, fmt.Errorf("service/auth: looking up email: %w", err)

	case user.GoogleID != "":
		// The email belongs to an account linked to a different Google subject.
		return nil, apperror.Conflict("user", "email is linked to another Google account")

	default:
		if err := s.users.LinkGoogle(ctx, user.ID, id.Subject); err != nil {
			return nil, fmt.Errorf("service/auth: linking google account to %s: %w", user.ID, err)
		}
		user.GoogleID = id.Subject
		user.IsGoogleAuth = true
		user.IsEmailVerified = true
		s.logger.Info("google account linked", slog.String("userID", user.ID))
	}

	return s.signIn(ctx, user, "google")
}

// =========================================================================
// SHARED
// =========================================================================

// signIn records the login and issues a session token.
func (s *AuthService) signIn(ctx context.Context, user *model.User, method string) (*AuthResult, error) {
	now := s.now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("service/auth: updating last login for %s: %w", user.ID, err)
	}
	user.LastLogin = &now

	token, exp, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for %s: %w", user.ID, err)
	}

	s.logger.Info("user signed in",
		slog.String("userID", user.ID),
		slog.String("method", method),
	)
	return &AuthResult{User: user, Token: token, ExpiresAt: exp}, nil
}

func channelName(kind model.IdentifierKind) string {
	if kind == model.KindMobile {
		return "SMS service"
	}
	return "email service"
}
