package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/accounts/internal/apperror"
	"github.com/sakif/accounts/internal/auth"
	"github.com/sakif/accounts/internal/model"
	"github.com/sakif/accounts/internal/service"
)

// Authenticator is the part of *service.AuthService the auth handlers use.
type Authenticator interface {
	Login(ctx context.Context, identifier, password string) (*service.AuthResult, error)
	RequestOTP(ctx context.Context, kind model.IdentifierKind, identifier string, purpose model.OTPPurpose) error
	VerifyLoginOTP(ctx context.Context, kind model.IdentifierKind, identifier, code string) (*service.AuthResult, error)
	VerifyRegistrationOTP(ctx context.Context, kind model.IdentifierKind, identifier, code string) (*service.RegistrationProof, error)
	Register(ctx context.Context, in service.RegisterInput) (*service.AuthResult, error)
	CompleteGoogleAuth(ctx context.Context, id *auth.GoogleIdentity) (*service.AuthResult, error)
}

// AuthHandler serves password login, OTP login, registration and logout.
//
//	POST /api/auth/login
//	POST /api/auth/send-otp
//	POST /api/auth/verify-otp
//	POST /api/auth/register/send-otp
//	POST /api/auth/register/verify-otp
//	POST /api/auth/register
//	POST /api/auth/logout           (bearer token)
type AuthHandler struct {
	auth   Authenticator
	logger *slog.Logger
}

func NewAuthHandler(a Authenticator, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: a, logger: logger}
}

// =========================================================================
// REQUEST / RESPONSE SCHEMAS
// =========================================================================

type loginRequest struct {
	EmailOrMobile string `json:"emailOrMobile"`
	Password      string `json:"password"`
}

type otpRequest struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type verifyOTPRequest struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	OTP   string `json:"otp"`
}

type registerRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Mobile    string `json:"mobile"`
	Age       int    `json:"age"`
	Password  string `json:"password"`

	EmailToken  string `json:"emailToken"`
	MobileToken string `json:"mobileToken"`
}

// AuthData is the payload of every successful sign-in.
type AuthData struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expiresAt"`
	User      model.PublicUser `json:"user"`
}

// VerifiedData answers a registration code. Token goes back in the register
// body as emailToken or mobileToken.
type VerifiedData struct {
	Verified  bool      `json:"verified"`
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func authData(res *service.AuthResult) AuthData {
	return AuthData{Token: res.Token, ExpiresAt: res.ExpiresAt, User: res.User.Public()}
}

func parseKind(s string) (model.IdentifierKind, error) {
	kind, err := model.ParseIdentifierKind(s)
	if err != nil {
		return "", apperror.ValidationFailed("type", "type must be email or mobile")
	}
	return kind, nil
}

func sentMessage(kind model.IdentifierKind) string {
	if kind == model.KindMobile {
		return "OTP sent to your mobile number"
	}
	return "OTP sent to your email"
}

// =========================================================================
// HANDLERS
// =========================================================================

// HandleLogin checks a password.
//
// HTTP: POST /api/auth/login
// BODY: {"emailOrMobile": "...", "password": "..."}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.auth.Login(r.Context(), req.EmailOrMobile, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, authData(res))
}

// HandleSendOTP sends a login code to an existing account.
//
// HTTP: POST /api/auth/send-otp
// BODY: {"type": "email"|"mobile", "value": "..."}
func (h *AuthHandler) HandleSendOTP(w http.ResponseWriter, r *http.Request) {
	h.sendOTP(w, r, model.PurposeLogin)
}

// HandleRegisterSendOTP sends a registration code to an unclaimed identifier.
//
// HTTP: POST /api/auth/register/send-otp
func (h *AuthHandler) HandleRegisterSendOTP(w http.ResponseWriter, r *http.Request) {
	h.sendOTP(w, r, model.PurposeRegistration)
}

func (h *AuthHandler) sendOTP(w http.ResponseWriter, r *http.Request, purpose model.OTPPurpose) {
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	kind, err := parseKind(req.Type)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.auth.RequestOTP(r.Context(), kind, req.Value, purpose); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeMessage(w, sentMessage(kind))
}

// HandleVerifyOTP signs in with a login code.
//
// HTTP: POST /api/auth/verify-otp
// BODY: {"type": "email"|"mobile", "value": "...", "otp": "123456"}
func (h *AuthHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	kind, err := parseKind(req.Type)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.auth.VerifyLoginOTP(r.Context(), kind, req.Value, req.OTP)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, authData(res))
}

// HandleRegisterVerifyOTP proves control of an identifier ahead of
// registration.
//
// HTTP: POST /api/auth/register/verify-otp
// BODY: {"type": "email"|"mobile", "value": "...", "otp": "123456"}
func (h *AuthHandler) HandleRegisterVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	kind, err := parseKind(req.Type)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	proof, err := h.auth.VerifyRegistrationOTP(r.Context(), kind, req.Value, req.OTP)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, VerifiedData{
		Verified:  true,
		Type:      string(proof.Kind),
		Value:     proof.Identifier,
		Token:     proof.Token,
		ExpiresAt: proof.ExpiresAt,
	})
}

// HandleRegister creates the account once both identifiers are verified.
//
// HTTP: POST /api/auth/register → 201 Created
// BODY: profile fields plus the emailToken and mobileToken returned by
// register/verify-otp
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.auth.Register(r.Context(), service.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Mobile:    req.Mobile,
		Age:       req.Age,
		Password:  req.Password,

		EmailToken:  req.EmailToken,
		MobileToken: req.MobileToken,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusCreated, authData(res))
}

// HandleLogout acknowledges a logout.
//
// HTTP: POST /api/auth/logout
// Auth: Required
//
// Tokens are stateless, so there is nothing to invalidate server-side; the
// client drops its copy. The token stays valid until it expires.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	h.logger.Info("user logged out", slog.String("userID", userID))
	writeMessage(w, "Logged out successfully")
}
