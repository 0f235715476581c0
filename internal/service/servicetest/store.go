// Package servicetest provides an in-memory credential store with the same
// semantics as the Postgres store, for tests of the service and handler layers.
package servicetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/foliodesk/backend/internal/db"
	"github.com/foliodesk/backend/internal/lockout"
	"github.com/foliodesk/backend/internal/model"
	"github.com/google/uuid"
)

type Store struct {
	mu    sync.Mutex
	users map[uuid.UUID]*model.User
	order []uuid.UUID

	// Err, when set, is returned by every call.
	Err error
}

func NewStore() *Store {
	return &Store{users: make(map[uuid.UUID]*model.User)}
}

// Get returns a copy of the stored record, or nil.
func (s *Store) Get(id uuid.UUID) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

// Mutate edits a stored record in place, for test setup.
func (s *Store) Mutate(id uuid.UUID, fn func(u *model.User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		fn(u)
	}
}

func (s *Store) CreateUser(_ context.Context, nu model.NewUser) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if !nu.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", db.ErrInvalidRole, nu.Role)
	}

	email := strings.ToLower(strings.TrimSpace(nu.Email))
	for _, u := range s.users {
		if u.Email == email {
			return nil, db.ErrDuplicate
		}
	}

	now := time.Now()
	u := &model.User{
		ID:             uuid.New(),
		Email:          email,
		PasswordHash:   nu.PasswordHash,
		NationalIDHash: nu.NationalIDHash,
		Role:           nu.Role,
		FirstName:      nu.FirstName,
		LastName:       nu.LastName,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.users[u.ID] = u
	s.order = append(s.order, u.ID)
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *Store) GetUserByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	u, ok := s.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	out := make([]model.User, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.users[id])
	}
	return out, nil
}

func (s *Store) ApplyLockout(_ context.Context, id uuid.UUID, fn func(lockout.State) (lockout.State, error)) (lockout.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return lockout.State{}, s.Err
	}

	u, ok := s.users[id]
	if !ok {
		return lockout.State{}, db.ErrNotFound
	}
	next, err := fn(u.Lockout)
	if err != nil {
		return lockout.State{}, err
	}
	u.Lockout = next
	return next, nil
}

func (s *Store) SetRefreshToken(_ context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	return s.update(id, func(u *model.User) {
		u.RefreshTokenHash = &tokenHash
		u.RefreshTokenExpiry = &expiresAt
	})
}

func (s *Store) ClearRefreshToken(_ context.Context, id uuid.UUID) error {
	err := s.update(id, func(u *model.User) {
		u.RefreshTokenHash = nil
		u.RefreshTokenExpiry = nil
	})
	if err == db.ErrNotFound {
		return nil
	}
	return err
}

func (s *Store) SetPasswordReset(_ context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	return s.update(id, func(u *model.User) {
		u.PasswordResetTokenHash = &tokenHash
		u.PasswordResetExpiry = &expiresAt
	})
}

func (s *Store) ConsumePasswordReset(_ context.Context, tokenHash string, now time.Time, passwordHash string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return uuid.Nil, s.Err
	}

	for _, u := range s.users {
		if u.PasswordResetTokenHash == nil || *u.PasswordResetTokenHash != tokenHash {
			continue
		}
		if u.PasswordResetExpiry == nil || !u.PasswordResetExpiry.After(now) {
			continue
		}
		u.PasswordHash = passwordHash
		u.PasswordResetTokenHash = nil
		u.PasswordResetExpiry = nil
		u.RefreshTokenHash = nil
		u.RefreshTokenExpiry = nil
		return u.ID, nil
	}
	return uuid.Nil, db.ErrNotFound
}

func (s *Store) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	return s.update(id, func(u *model.User) {
		u.PasswordHash = passwordHash
		u.RefreshTokenHash = nil
		u.RefreshTokenExpiry = nil
	})
}

func (s *Store) UpdateProfile(ctx context.Context, id uuid.UUID, upd model.ProfileUpdate) (*model.User, error) {
	if err := s.update(id, func(u *model.User) {
		u.FirstName = upd.FirstName
		u.LastName = upd.LastName
	}); err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

func (s *Store) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	return s.update(id, func(u *model.User) {
		u.IsActive = active
		if !active {
			u.RefreshTokenHash = nil
			u.RefreshTokenExpiry = nil
		}
	})
}

func (s *Store) update(id uuid.UUID, fn func(u *model.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}

	u, ok := s.users[id]
	if !ok {
		return db.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now()
	return nil
}
