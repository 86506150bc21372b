package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/rs/xid"

	"github.com/sakif/accounts/internal/auth"
)

// GoogleExchanger is the part of *auth.GoogleProvider the handler uses.
type GoogleExchanger interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GoogleIdentity, error)
}

const (
	stateCookie = "oauth_state"
	statePath   = "/api/auth/google"

	errGoogleAuthFailed = "google_auth_failed"
	errAccessDenied     = "access_denied"
)

// GoogleHandler runs the browser redirect dance with Google.
//
// FLOW:
//
//	GET /api/auth/google           → set state cookie, 307 to Google consent
//	GET /api/auth/google/callback  → check state, exchange code, sign in,
//	                                 303 to {frontend}/auth/success?token=&user=
//
// Every failure lands on {frontend}/auth/error?error=<code>. The code is one
// of a fixed set; internal details only go to the log.
type GoogleHandler struct {
	google      GoogleExchanger
	auth        Authenticator
	frontendURL string
	logger      *slog.Logger
}

func NewGoogleHandler(google GoogleExchanger, a Authenticator, frontendURL string, logger *slog.Logger) *GoogleHandler {
	return &GoogleHandler{
		google:      google,
		auth:        a,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

// redirectUser is the minimal profile handed to the frontend in the URL.
type redirectUser struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// HandleLogin redirects the browser to Google.
//
// CSRF PROTECTION VIA STATE:
// A random state goes into a short-lived HttpOnly cookie and into the
// authorization URL. The callback only proceeds when both match.
func (h *GoogleHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     statePath,
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleCallback completes the sign-in started by HandleLogin.
func (h *GoogleHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// --- Step 1: CSRF state ---
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || q.Get("state") != cookie.Value {
		h.logger.Warn("google callback: state mismatch")
		h.fail(w, r, errGoogleAuthFailed)
		return
	}

	// Single use.
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookie,
		Value:  "",
		Path:   statePath,
		MaxAge: -1,
	})

	// --- Step 2: the user may have declined ---
	if e := q.Get("error"); e != "" {
		h.logger.Info("google callback: authorization declined", slog.String("error", e))
		h.fail(w, r, errAccessDenied)
		return
	}

	code := q.Get("code")
	if code == "" {
		h.logger.Warn("google callback: missing code")
		h.fail(w, r, errGoogleAuthFailed)
		return
	}

	// --- Step 3: exchange and verify the ID token ---
	identity, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("google callback: exchange failed", slog.String("error", err.Error()))
		h.fail(w, r, errGoogleAuthFailed)
		return
	}

	// --- Step 4: create, link or find the account ---
	res, err := h.auth.CompleteGoogleAuth(r.Context(), identity)
	if err != nil {
		h.logger.Error("google callback: sign-in failed", slog.String("error", err.Error()))
		h.fail(w, r, errGoogleAuthFailed)
		return
	}

	// --- Step 5: hand the session to the frontend ---
	userJSON, err := json.Marshal(redirectUser{
		ID:        res.User.ID,
		FirstName: res.User.FirstName,
		LastName:  res.User.LastName,
		Email:     res.User.Email,
	})
	if err != nil {
		h.logger.Error("google callback: encoding user", slog.String("error", err.Error()))
		h.fail(w, r, errGoogleAuthFailed)
		return
	}

	v := url.Values{}
	v.Set("token", res.Token)
	v.Set("user", string(userJSON))
	http.Redirect(w, r, h.frontendURL+"/auth/success?"+v.Encode(), http.StatusSeeOther)
}

func (h *GoogleHandler) fail(w http.ResponseWriter, r *http.Request, code string) {
	v := url.Values{}
	v.Set("error", code)
	http.Redirect(w, r, h.frontendURL+"/auth/error?"+v.Encode(), http.StatusSeeOther)
}
