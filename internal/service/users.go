package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/accounts/internal/apperror"
	"github.com/sakif/accounts/internal/model"
	"github.com/sakif/accounts/internal/repository"
)

// UserService backs the profile endpoints.
//
// Any authenticated caller may list and read every account. There is no
// role model yet; callers that need one must add it here, not in handlers.
type UserService struct {
	users  repository.UserRepository
	logger *slog.Logger
}

func NewUserService(users repository.UserRepository, logger *slog.Logger) *UserService {
	return &UserService{users: users, logger: logger}
}

// GetOwnProfile returns the account behind the caller's token. A token for
// an account that no longer exists is treated as unauthenticated.
func (s *UserService) GetOwnProfile(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, apperror.Unauthorized()
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Warn("token for missing account", slog.String("userID", userID))
			return nil, apperror.Unauthorized()
		}
		return nil, fmt.Errorf("service/users: fetching %s: %w", userID, err)
	}
	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.ValidationFailed("id", "user id is required")
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/users: fetching %s: %w", id, err)
	}
	return user, nil
}

// List returns a page of accounts, newest first. limit defaults to
// DefaultListLimit and is capped at MaxListLimit.
func (s *UserService) List(ctx context.Context, limit, offset int) ([]model.User, error) {
	limit, offset = clampList(limit, offset)
	users, err := s.users.List(ctx, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("service/users: listing: %w", err)
	}
	return users, nil
}
