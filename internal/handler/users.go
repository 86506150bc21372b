package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/accounts/internal/apperror"
	"github.com/sakif/accounts/internal/auth"
	"github.com/sakif/accounts/internal/model"
)

// UserDirectory is the part of *service.UserService the profile handlers use.
type UserDirectory interface {
	GetOwnProfile(ctx context.Context, userID string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	List(ctx context.Context, limit, offset int) ([]model.User, error)
}

// UserHandler serves the profile endpoints. Every route sits behind
// auth.RequireAuth.
//
//	GET /api/users/me
//	GET /api/users?limit=&offset=
//	GET /api/users/{id}
type UserHandler struct {
	users  UserDirectory
	logger *slog.Logger
}

func NewUserHandler(users UserDirectory, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// HandleMe returns the caller's own profile.
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, h.logger, apperror.Unauthorized())
		return
	}

	user, err := h.users.GetOwnProfile(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, user.Public())
}

// HandleList returns a page of accounts, newest first.
func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	users, err := h.users.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	count := len(users)
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    model.PublicUsers(users),
		Count:   &count,
	})
}

// HandleGetByID returns one account.
func (h *UserHandler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, user.Public())
}

// queryInt parses an optional non-negative integer query parameter. Absent
// means 0, which the service turns into its default.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperror.ValidationFailed(name, name+" must be a non-negative integer")
	}
	return n, nil
}
