package model

import (
	"time"

	"github.com/foliodesk/backend/internal/lockout"
	"github.com/google/uuid"
)

type Role string

const (
	RoleMainAdmin Role = "main_admin"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleMainAdmin || r == RoleAdmin
}

// User is the credential record. Hash fields never leave the server.
type User struct {
	ID             uuid.UUID
	Email          string
	PasswordHash   string
	NationalIDHash string
	Role           Role
	FirstName      string
	LastName       string
	IsActive       bool

	Lockout lockout.State

	RefreshTokenHash       *string
	RefreshTokenExpiry     *time.Time
	PasswordResetTokenHash *string
	PasswordResetExpiry    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary returns the sanitized view of the record.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:          u.ID,
		Email:       u.Email,
		Role:        u.Role,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		IsActive:    u.IsActive,
		LockedUntil: u.Lockout.LockUntil,
		LastLoginAt: u.Lockout.LastLoginAt,
	}
}

type NewUser struct {
	Email          string
	PasswordHash   string
	NationalIDHash string
	Role           Role
	FirstName      string
	LastName       string
}

type ProfileUpdate struct {
	FirstName string
	LastName  string
}

// AuthUser is the resolved caller attached to a request.
type AuthUser struct {
	ID        uuid.UUID
	Email     string
	Role      Role
	FirstName string
	LastName  string
}

func (u *User) AuthUser() *AuthUser {
	return &AuthUser{
		ID:        u.ID,
		Email:     u.Email,
		Role:      u.Role,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

type UserSummary struct {
	ID          uuid.UUID  `json:"id"`
	Email       string     `json:"email"`
	Role        Role       `json:"role"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	IsActive    bool       `json:"isActive"`
	LockedUntil *time.Time `json:"lockedUntil,omitempty"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

type LoginResult struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresIn  int64
	RefreshExpiresAt time.Time
	User             UserSummary
}

type RefreshResult struct {
	AccessToken string
	ExpiresIn   int64
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	ExpiresIn    int64       `json:"expiresIn"`
	User         UserSummary `json:"user"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

type ForgotPasswordRequest struct {
	Email      string `json:"email"`
	NationalID string `json:"nationalId"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type ProfileUpdateRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type SessionResponse struct {
	Authenticated bool         `json:"authenticated"`
	User          *UserSummary `json:"user,omitempty"`
}
