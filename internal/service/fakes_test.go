package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sakif/accounts/internal/apperror"
	"github.com/sakif/accounts/internal/auth"
	"github.com/sakif/accounts/internal/model"
	"github.com/sakif/accounts/internal/notify"
	"github.com/sakif/accounts/internal/repository"
)

// =========================================================================
// FAKES
// =========================================================================

// fakeUserRepo is an in-memory repository.UserRepository. It hands out
// copies, like a real database would, so tests notice when the service
// forgets to persist a change.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  []*model.User // insertion order
	nextID int

	// set to simulate a storage failure
	err error
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{nextID: 1}
}

func (f *fakeUserRepo) find(match func(*model.User) bool) *model.User {
	for _, u := range f.users {
		if match(u) {
			return u
		}
	}
	return nil
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	dup := f.find(func(u *model.User) bool {
		return (user.Email != "" && u.Email == user.Email) ||
			(user.Mobile != "" && u.Mobile == user.Mobile) ||
			(user.GoogleID != "" && u.GoogleID == user.GoogleID)
	})
	if dup != nil {
		return apperror.Conflict("user", "already registered")
	}

	user.ID = fmt.Sprintf("user-%d", f.nextID)
	f.nextID++
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	stored := *user
	f.users = append(f.users, &stored)
	return nil
}

func (f *fakeUserRepo) get(match func(*model.User) bool, notFound error) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u := f.find(match)
	if u == nil {
		return nil, notFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	return f.get(func(u *model.User) bool { return u.ID == id }, apperror.NotFound("user", id))
}

func (f *fakeUserRepo) GetByEmailOrMobile(_ context.Context, identifier string) (*model.User, error) {
	return f.get(func(u *model.User) bool {
		return u.Email == identifier || u.Mobile == identifier
	}, apperror.NotFoundMessage("no account"))
}

func (f *fakeUserRepo) GetByIdentifier(_ context.Context, kind model.IdentifierKind, identifier string) (*model.User, error) {
	return f.get(func(u *model.User) bool {
		if kind == model.KindEmail {
			return u.Email == identifier
		}
		return u.Mobile == identifier
	}, apperror.NotFoundMessage("no account"))
}

func (f *fakeUserRepo) GetByGoogleID(_ context.Context, googleID string) (*model.User, error) {
	return f.get(func(u *model.User) bool { return u.GoogleID == googleID }, apperror.NotFoundMessage("no account"))
}

func (f *fakeUserRepo) ExistsByEmailOrMobile(_ context.Context, email, mobile string) (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, false, f.err
	}
	emailTaken := email != "" && f.find(func(u *model.User) bool { return u.Email == email }) != nil
	mobileTaken := mobile != "" && f.find(func(u *model.User) bool { return u.Mobile == mobile }) != nil
	return emailTaken, mobileTaken, nil
}

func (f *fakeUserRepo) update(id string, fn func(*model.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	u := f.find(func(u *model.User) bool { return u.ID == id })
	if u == nil {
		return apperror.NotFound("user", id)
	}
	fn(u)
	return nil
}

func (f *fakeUserRepo) LinkGoogle(_ context.Context, id, googleID string) error {
	return f.update(id, func(u *model.User) {
		u.GoogleID = googleID
		u.IsGoogleAuth = true
		u.IsEmailVerified = true
	})
}

func (f *fakeUserRepo) MarkVerified(_ context.Context, id string, kind model.IdentifierKind) error {
	return f.update(id, func(u *model.User) { u.SetVerified(kind) })
}

func (f *fakeUserRepo) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	return f.update(id, func(u *model.User) { u.LastLogin = &at })
}

func (f *fakeUserRepo) List(_ context.Context, opts repository.ListOptions) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := []model.User{}
	for i := len(f.users) - 1; i >= 0; i-- {
		out = append(out, *f.users[i])
	}
	if opts.Offset >= len(out) {
		return []model.User{}, nil
	}
	out = out[opts.Offset:]
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeUserRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

// fakeOTPRepo keeps codes in insertion order; newer codes come later.
type fakeOTPRepo struct {
	mu     sync.Mutex
	codes  []*model.OTP
	nextID int
}

var _ repository.OTPRepository = (*fakeOTPRepo)(nil)

func newFakeOTPRepo() *fakeOTPRepo {
	return &fakeOTPRepo{nextID: 1}
}

func (f *fakeOTPRepo) Create(_ context.Context, otp *model.OTP) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	otp.ID = fmt.Sprintf("otp-%d", f.nextID)
	f.nextID++
	otp.CreatedAt = time.Now().UTC()
	stored := *otp
	f.codes = append(f.codes, &stored)
	return nil
}

func (f *fakeOTPRepo) DeleteForIdentifier(_ context.Context, purpose model.OTPPurpose, kind model.IdentifierKind, identifier string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.codes[:0]
	for _, c := range f.codes {
		if c.Purpose == purpose && c.Kind == kind && c.Identifier == identifier {
			continue
		}
		kept = append(kept, c)
	}
	f.codes = kept
	return nil
}

func (f *fakeOTPRepo) FindActive(_ context.Context, purpose model.OTPPurpose, kind model.IdentifierKind, identifier, code string, now time.Time) (*model.OTP, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.codes) - 1; i >= 0; i-- {
		c := f.codes[i]
		if c.Purpose == purpose && c.Kind == kind && c.Identifier == identifier &&
			c.Code == code && !c.Consumed && !c.Expired(now) {
			out := *c
			return &out, nil
		}
	}
	return nil, apperror.NotFoundMessage("no active code")
}

func (f *fakeOTPRepo) Consume(_ context.Context, purpose model.OTPPurpose, id string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.codes {
		if c.ID == id && c.Purpose == purpose {
			if c.Consumed {
				return false, nil
			}
			c.Consumed = true
			c.VerifiedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeOTPRepo) HasVerified(_ context.Context, purpose model.OTPPurpose, kind model.IdentifierKind, identifier string, since time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.codes {
		if c.Purpose == purpose && c.Kind == kind && c.Identifier == identifier &&
			c.Consumed && c.VerifiedAt != nil && !c.VerifiedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeOTPRepo) PurgeExpired(_ context.Context, purpose model.OTPPurpose, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	kept := f.codes[:0]
	for _, c := range f.codes {
		if c.Purpose == purpose && !c.Consumed && c.ExpiresAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, c)
	}
	f.codes = kept
	return n, nil
}

func (f *fakeOTPRepo) all() []model.OTP {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.OTP, 0, len(f.codes))
	for _, c := range f.codes {
		out = append(out, *c)
	}
	return out
}

// fakeNotifier records every message. block makes SendOTP wait for ctx.
type fakeNotifier struct {
	mu    sync.Mutex
	sent  []notify.OTPMessage
	err   error
	block bool
}

func (f *fakeNotifier) SendOTP(ctx context.Context, msg notify.OTPMessage) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

// lastCode returns the most recent code delivered to identifier.
func (f *fakeNotifier) lastCode(t *testing.T, identifier string) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].To == identifier {
			return f.sent[i].Code
		}
	}
	t.Fatalf("no code sent to %s", identifier)
	return ""
}

// countingHasher is a real bcrypt hasher that counts comparisons.
type countingHasher struct {
	*auth.PasswordService
	verifies atomic.Int64
}

func (c *countingHasher) Verify(hash, plaintext string) error {
	c.verifies.Add(1)
	return c.PasswordService.Verify(hash, plaintext)
}

type fakeLimiter struct {
	mu   sync.Mutex
	deny bool
	err  error
	keys []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return !f.deny, f.err
}

// =========================================================================
// HELPERS
// =========================================================================

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type authFixture struct {
	svc      *AuthService
	users    *fakeUserRepo
	otps     *fakeOTPRepo
	notifier *fakeNotifier
	limiter  *fakeLimiter // sends
	verifies *fakeLimiter
	hasher   *countingHasher
	tokens   *auth.TokenService
	clock    *testClock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestAuthService wires an AuthService to fakes. The clock starts at the
// real current time so issued tokens verify against the real clock.
func newTestAuthService(t *testing.T) *authFixture {
	t.Helper()

	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!", 0)
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}

	f := &authFixture{
		users:    newFakeUserRepo(),
		otps:     newFakeOTPRepo(),
		notifier: &fakeNotifier{},
		limiter:  &fakeLimiter{},
		verifies: &fakeLimiter{},
		hasher:   &countingHasher{PasswordService: auth.NewPasswordServiceForTest(4)}, // bcrypt minimum cost keeps tests fast
		tokens:   tokens,
		clock:    &testClock{t: time.Now().UTC()},
	}
	f.svc = NewAuthService(
		f.users,
		f.otps,
		tokens,
		f.hasher,
		f.notifier,
		Limits{Send: f.limiter, Verify: f.verifies},
		AuthConfig{
			OTPTTL:             5 * time.Minute,
			RegistrationWindow: 30 * time.Minute,
			UpstreamTimeout:    time.Second,
		},
		discardLogger(),
	)
	f.svc.now = f.clock.Now
	return f
}

// seedUser stores a user, hashing password when non-empty.
func (f *authFixture) seedUser(t *testing.T, u model.User, password string) *model.User {
	t.Helper()
	if password != "" {
		hash, err := f.svc.passwords.Hash(password)
		if err != nil {
			t.Fatalf("Hash() error = %v", err)
		}
		u.PasswordHash = hash
	}
	if err := f.users.Create(context.Background(), &u); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return &u
}
