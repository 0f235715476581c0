package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/foliodesk/backend/internal/db"
	"github.com/foliodesk/backend/internal/lockout"
	"github.com/foliodesk/backend/internal/model"
	"github.com/google/uuid"
)

// UserService backs the staff administration routes. Role and ownership
// gates run in the handler chain before these calls.
type UserService struct {
	store  CredentialStore
	logger *slog.Logger
}

func NewUserService(store CredentialStore) *UserService {
	return &UserService{
		store:  store,
		logger: slog.Default().With("component", "users"),
	}
}

func (s *UserService) List(ctx context.Context) ([]model.UserSummary, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]model.UserSummary, 0, len(users))
	for i := range users {
		out = append(out, users[i].Summary())
	}
	return out, nil
}

func (s *UserService) Get(ctx context.Context, id uuid.UUID) (*model.UserSummary, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	summary := user.Summary()
	return &summary, nil
}

// Deactivate disables an account and ends its refresh session. A main
// admin cannot deactivate their own account.
func (s *UserService) Deactivate(ctx context.Context, caller *model.AuthUser, id uuid.UUID) error {
	if caller != nil && caller.ID == id && caller.Role == model.RoleMainAdmin {
		return ErrConflict
	}
	if err := s.store.SetActive(ctx, id, false); err != nil {
		if db.IsNoRows(err) {
			return ErrNotFound
		}
		return fmt.Errorf("deactivate user: %w", err)
	}
	s.logger.InfoContext(ctx, "user deactivated", "user_id", id, "by", callerID(caller))
	return nil
}

// Unlock clears an active lock and the failure counter.
func (s *UserService) Unlock(ctx context.Context, id uuid.UUID) (*model.UserSummary, error) {
	if _, err := s.store.ApplyLockout(ctx, id, func(cur lockout.State) (lockout.State, error) {
		return lockout.Unlock(cur), nil
	}); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("unlock user: %w", err)
	}
	s.logger.InfoContext(ctx, "user unlocked", "user_id", id)
	return s.Get(ctx, id)
}

func callerID(caller *model.AuthUser) string {
	if caller == nil {
		return ""
	}
	return caller.ID.String()
}
