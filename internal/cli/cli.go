// Package cli implements the authcli commands on top of internal/client.
//
// Usage:
//
//	authcli [-server URL] [-session FILE] <command> [flags]
//
// Every command prints a short human-readable result. Sign-in commands
// cache the session; later commands reuse it until it expires or the
// server rejects it.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/sakif/accounts/internal/client"
	"github.com/sakif/accounts/internal/model"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

const defaultServer = "http://localhost:5000"

// App holds the client and the terminal streams for one invocation.
type App struct {
	client *client.Client
	in     *bufio.Reader
	out    io.Writer
}

type command struct {
	usage string
	run   func(a *App, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"login":           {"login -id EMAIL_OR_MOBILE", (*App).login},
	"otp-send":        {"otp-send -type email|mobile -value V", (*App).otpSend},
	"otp-verify":      {"otp-verify -type email|mobile -value V -code C", (*App).otpVerify},
	"register-send":   {"register-send -type email|mobile -value V", (*App).registerSend},
	"register-verify": {"register-verify -type email|mobile -value V -code C", (*App).registerVerify},
	"register":        {"register -first F -last L -email E -email-token T -mobile M -mobile-token T [-age N] [-password]", (*App).register},
	"me":              {"me", (*App).me},
	"users":           {"users [-limit N] [-offset N]", (*App).users},
	"user":            {"user -id ID", (*App).user},
	"logout":          {"logout", (*App).logout},
	"google-callback": {"google-callback -url SUCCESS_URL", (*App).googleCallback},
}

// Run parses args (without the program name) and executes one command. It
// returns the process exit code.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("authcli", flag.ContinueOnError)
	fs.SetOutput(stderr)
	serverURL := fs.String("server", envOr("ACCOUNTS_URL", defaultServer), "accounts API base URL")
	sessionPath := fs.String("session", "", "session file (default: user config dir)")
	fs.Usage = func() { usage(stderr) }

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		usage(stderr)
		return 2
	}

	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", name)
		usage(stderr)
		return 2
	}

	store, err := client.NewSessionStore(*sessionPath, "accounts")
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	app := &App{
		client: client.New(*serverURL, store),
		in:     bufio.NewReader(stdin),
		out:    stdout,
	}
	if err := cmd.run(app, ctx, fs.Args()[1:]); err != nil {
		var usageErr usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(stderr, "%v\nusage: authcli %s\n", err, cmd.usage)
			return 2
		}
		fmt.Fprintln(stderr, "error:", describe(err))
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: authcli [-server URL] [-session FILE] <command> [flags]")
	fmt.Fprintln(w, "commands:")
	for _, name := range []string{
		"login", "otp-send", "otp-verify", "register-send", "register-verify",
		"register", "me", "users", "user", "logout", "google-callback",
	} {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func describe(err error) string {
	var apiErr *client.APIError
	switch {
	case errors.Is(err, client.ErrNotLoggedIn):
		return "not logged in, run `authcli login` or `authcli otp-send` first"
	case errors.Is(err, client.ErrSessionExpired):
		return "session expired, please log in again"
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	}
	return err.Error()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// =========================================================================
// COMMANDS
// =========================================================================

func (a *App) login(ctx context.Context, args []string) error {
	fs := newFlagSet("login")
	id := fs.String("id", "", "email or mobile number")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *id == "" {
		return usageError{"-id is required"}
	}

	password, err := a.promptPassword()
	if err != nil {
		return err
	}

	sess, err := a.client.Login(ctx, *id, password)
	if err != nil {
		return err
	}
	a.printSignedIn(sess)
	return nil
}

func (a *App) otpSend(ctx context.Context, args []string) error {
	kind, value, _, err := parseIdentifier("otp-send", args, false)
	if err != nil {
		return err
	}
	msg, err := a.client.SendOTP(ctx, kind, value)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, msg)
	return nil
}

func (a *App) otpVerify(ctx context.Context, args []string) error {
	kind, value, code, err := parseIdentifier("otp-verify", args, true)
	if err != nil {
		return err
	}
	sess, err := a.client.VerifyOTP(ctx, kind, value, code)
	if err != nil {
		return err
	}
	a.printSignedIn(sess)
	return nil
}

func (a *App) registerSend(ctx context.Context, args []string) error {
	kind, value, _, err := parseIdentifier("register-send", args, false)
	if err != nil {
		return err
	}
	msg, err := a.client.RegisterSendOTP(ctx, kind, value)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, msg)
	return nil
}

func (a *App) registerVerify(ctx context.Context, args []string) error {
	kind, value, code, err := parseIdentifier("register-verify", args, true)
	if err != nil {
		return err
	}
	v, err := a.client.RegisterVerifyOTP(ctx, kind, value, code)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s verified until %s, pass this to register as -%s-token:\n%s\n",
		kind, v.ExpiresAt.Local().Format("15:04"), kind, v.Token)
	return nil
}

func (a *App) register(ctx context.Context, args []string) error {
	fs := newFlagSet("register")
	var req client.RegisterRequest
	fs.StringVar(&req.FirstName, "first", "", "first name")
	fs.StringVar(&req.LastName, "last", "", "last name")
	fs.StringVar(&req.Email, "email", "", "verified email")
	fs.StringVar(&req.Mobile, "mobile", "", "verified mobile number")
	fs.StringVar(&req.EmailToken, "email-token", "", "token printed by register-verify -type email")
	fs.StringVar(&req.MobileToken, "mobile-token", "", "token printed by register-verify -type mobile")
	fs.IntVar(&req.Age, "age", 0, "age (optional)")
	withPassword := fs.Bool("password", false, "prompt for a password")
	if err := parse(fs, args); err != nil {
		return err
	}
	if req.EmailToken == "" || req.MobileToken == "" {
		return usageError{"-email-token and -mobile-token are required, run register-verify first"}
	}

	if *withPassword {
		pw, err := a.promptPassword()
		if err != nil {
			return err
		}
		req.Password = pw
	}

	sess, err := a.client.Register(ctx, req)
	if err != nil {
		return err
	}
	a.printSignedIn(sess)
	return nil
}

func (a *App) me(ctx context.Context, args []string) error {
	if err := parse(newFlagSet("me"), args); err != nil {
		return err
	}
	u, err := a.client.Me(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(u)
}

func (a *App) users(ctx context.Context, args []string) error {
	fs := newFlagSet("users")
	limit := fs.Int("limit", 0, "page size")
	offset := fs.Int("offset", 0, "rows to skip")
	if err := parse(fs, args); err != nil {
		return err
	}
	users, err := a.client.ListUsers(ctx, *limit, *offset)
	if err != nil {
		return err
	}
	for _, u := range users {
		fmt.Fprintf(a.out, "%s\t%s %s\t%s\t%s\n", u.ID, u.FirstName, u.LastName, u.Email, u.Mobile)
	}
	fmt.Fprintf(a.out, "%d user(s)\n", len(users))
	return nil
}

func (a *App) user(ctx context.Context, args []string) error {
	fs := newFlagSet("user")
	id := fs.String("id", "", "user ID")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *id == "" {
		return usageError{"-id is required"}
	}
	u, err := a.client.GetUser(ctx, *id)
	if err != nil {
		return err
	}
	return a.printJSON(u)
}

func (a *App) logout(ctx context.Context, args []string) error {
	if err := parse(newFlagSet("logout"), args); err != nil {
		return err
	}
	if err := a.client.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func (a *App) googleCallback(_ context.Context, args []string) error {
	fs := newFlagSet("google-callback")
	u := fs.String("url", "", "the /auth/success URL the browser landed on")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *u == "" {
		return usageError{"-url is required"}
	}
	sess, err := a.client.StoreCallback(*u)
	if err != nil {
		return err
	}
	a.printSignedIn(sess)
	return nil
}

// =========================================================================
// HELPERS
// =========================================================================

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	if fs.NArg() > 0 {
		return usageError{fmt.Sprintf("unexpected argument %q", fs.Arg(0))}
	}
	return nil
}

func parseIdentifier(name string, args []string, needCode bool) (model.IdentifierKind, string, string, error) {
	fs := newFlagSet(name)
	kind := fs.String("type", "", "email or mobile")
	value := fs.String("value", "", "the email address or mobile number")
	code := fs.String("code", "", "the code you received")
	if err := parse(fs, args); err != nil {
		return "", "", "", err
	}

	k, err := model.ParseIdentifierKind(*kind)
	if err != nil {
		return "", "", "", usageError{"-type must be email or mobile"}
	}
	if *value == "" {
		return "", "", "", usageError{"-value is required"}
	}
	if needCode && *code == "" {
		return "", "", "", usageError{"-code is required"}
	}
	return k, *value, *code, nil
}

// promptPassword reads without echo from a terminal and falls back to a
// plain line when stdin is piped.
func (a *App) promptPassword() (string, error) {
	fmt.Fprint(a.out, "Password: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pw, err := readPassword(fd)
		fmt.Fprintln(a.out)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(pw), nil
	}

	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *App) printSignedIn(sess *client.Session) {
	name := strings.TrimSpace(sess.User.FirstName + " " + sess.User.LastName)
	if name == "" {
		name = sess.User.ID
	}
	fmt.Fprintf(a.out, "Signed in as %s (session valid until %s)\n",
		name, sess.ExpiresAt.Local().Format("2006-01-02 15:04"))
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
