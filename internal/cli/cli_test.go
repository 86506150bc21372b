package cli_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/accounts/internal/auth"
	"github.com/sakif/accounts/internal/cli"
	"github.com/sakif/accounts/internal/config"
	"github.com/sakif/accounts/internal/notify"
	"github.com/sakif/accounts/internal/server"
)

type inbox struct {
	mu   sync.Mutex
	last map[string]string
}

func (i *inbox) SendOTP(_ context.Context, msg notify.OTPMessage) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.last[msg.To] = msg.Code
	return nil
}

func (i *inbox) code(to string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.last[to]
}

type harness struct {
	t       *testing.T
	url     string
	session string
	inbox   *inbox
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	box := &inbox{last: map[string]string{}}
	cfg := config.Config{
		DBDriver:           config.DriverSQLite,
		DBPath:             ":memory:",
		JWTSecret:          "cli-test-secret-0123456789",
		TokenTTL:           time.Hour,
		OTPTTL:             5 * time.Minute,
		RegistrationWindow: 30 * time.Minute,
		UpstreamTimeout:    time.Second,
		FrontendURL:        "http://localhost:3000",
	}
	srv, err := server.New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		server.WithNotifier(box),
		server.WithPasswords(auth.NewPasswordServiceForTest(4)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &harness{
		t:       t,
		url:     ts.URL,
		session: filepath.Join(t.TempDir(), "session.json"),
		inbox:   box,
	}
}

// verifyForRegistration runs register-send and register-verify for both
// identifiers and returns the -email-token and -mobile-token flags.
func (h *harness) verifyForRegistration(email, mobile string) []string {
	h.t.Helper()
	var flags []string
	for _, id := range [][2]string{{"email", email}, {"mobile", mobile}} {
		out := h.mustRun("", "register-send", "-type", id[0], "-value", id[1])
		assert.Contains(h.t, out, "OTP sent")

		out = h.mustRun("", "register-verify", "-type", id[0], "-value", id[1], "-code", h.inbox.code(id[1]))
		assert.Contains(h.t, out, id[0]+" verified")
		fields := strings.Fields(out)
		require.NotEmpty(h.t, fields)
		flags = append(flags, "-"+id[0]+"-token", fields[len(fields)-1])
	}
	return flags
}

// run executes one authcli invocation with stdin as its input.
func (h *harness) run(stdin string, args ...string) (int, string, string) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"-server", h.url, "-session", h.session}, args...)
	code := cli.Run(context.Background(), full, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func (h *harness) mustRun(stdin string, args ...string) string {
	h.t.Helper()
	code, out, errOut := h.run(stdin, args...)
	require.Equal(h.t, 0, code, "authcli %v\nstdout: %s\nstderr: %s", args, out, errOut)
	return out
}

func TestRegisterLoginAndProfile(t *testing.T) {
	h := newHarness(t)

	tokens := h.verifyForRegistration("asha@example.com", "9876543210")

	args := append([]string{"register",
		"-first", "Asha", "-last", "Rao", "-email", "asha@example.com", "-mobile", "9876543210", "-password"}, tokens...)
	out := h.mustRun("correct-horse\n", args...)
	assert.Contains(t, out, "Signed in as Asha Rao")

	out = h.mustRun("", "me")
	assert.Contains(t, out, `"email": "asha@example.com"`)

	out = h.mustRun("", "users", "-limit", "5")
	assert.Contains(t, out, "1 user(s)")

	out = h.mustRun("", "logout")
	assert.Contains(t, out, "Logged out")

	code, _, errOut := h.run("", "me")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not logged in")

	out = h.mustRun("correct-horse\n", "login", "-id", "9876543210")
	assert.Contains(t, out, "Signed in as Asha Rao")

	code, _, errOut = h.run("wrong-horse\n", "login", "-id", "9876543210")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "invalid credentials")
}

func TestOTPLogin(t *testing.T) {
	h := newHarness(t)

	code, _, errOut := h.run("", "otp-send", "-type", "email", "-value", "nobody@example.com")
	assert.Equal(t, 1, code)
	assert.NotEmpty(t, errOut)

	tokens := h.verifyForRegistration("ravi@example.com", "9123456789")
	h.mustRun("", append([]string{"register",
		"-first", "Ravi", "-last", "K", "-email", "ravi@example.com", "-mobile", "9123456789"}, tokens...)...)
	h.mustRun("", "logout")

	h.mustRun("", "otp-send", "-type", "email", "-value", "ravi@example.com")
	out := h.mustRun("", "otp-verify", "-type", "email", "-value", "ravi@example.com", "-code", h.inbox.code("ravi@example.com"))
	assert.Contains(t, out, "Signed in as Ravi K")
}

func TestGoogleCallback(t *testing.T) {
	h := newHarness(t)

	tokens, err := auth.NewTokenService("cli-test-secret-0123456789", time.Hour)
	require.NoError(t, err)
	tok, _, err := tokens.Issue("nobody")
	require.NoError(t, err)

	out := h.mustRun("", "google-callback", "-url",
		"http://localhost:3000/auth/success?token="+tok+`&user={"id":"u1","firstName":"Gia","lastName":"Lee"}`)
	assert.Contains(t, out, "Signed in as Gia Lee")

	// The token is well formed but names no account, so the server rejects
	// it and the cached session is dropped.
	code, _, errOut := h.run("", "me")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "session expired")

	code, _, errOut = h.run("", "me")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not logged in")
}

func TestUsageErrors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"frobnicate"}},
		{"login without id", []string{"login"}},
		{"bad identifier type", []string{"otp-send", "-type", "fax", "-value", "x"}},
		{"verify without code", []string{"otp-verify", "-type", "email", "-value", "a@example.com"}},
		{"stray argument", []string{"me", "extra"}},
		{"register without tokens", []string{"register", "-first", "A", "-last", "B", "-email", "a@example.com", "-mobile", "9876543210"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := h.run("", tt.args...)
			assert.Equal(t, 2, code)
			assert.Contains(t, errOut, "usage")
		})
	}
}
