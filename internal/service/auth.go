package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/foliodesk/backend/internal/config"
	"github.com/foliodesk/backend/internal/db"
	"github.com/foliodesk/backend/internal/lockout"
	"github.com/foliodesk/backend/internal/model"
	"github.com/foliodesk/backend/internal/token"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	refreshCookieName = "foliodesk_refresh"
	minPasswordLength = 8
	// bcrypt rejects longer input
	maxPasswordBytes = 72
	maxNameLength     = 100

	backgroundTimeout = 15 * time.Second
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrMisconfigured      = errors.New("auth config invalid")
)

// CredentialStore is the persistence the auth flow needs. Implementations
// must make each method atomic for a single record.
type CredentialStore interface {
	CreateUser(ctx context.Context, nu model.NewUser) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	ApplyLockout(ctx context.Context, id uuid.UUID, fn func(lockout.State) (lockout.State, error)) (lockout.State, error)
	SetRefreshToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error
	ClearRefreshToken(ctx context.Context, id uuid.UUID) error
	SetPasswordReset(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error
	ConsumePasswordReset(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (uuid.UUID, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdateProfile(ctx context.Context, id uuid.UUID, upd model.ProfileUpdate) (*model.User, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// LockNotifier is told when repeated failures lock an account.
type LockNotifier interface {
	NotifyAccountLocked(ctx context.Context, email string, lockUntil time.Time) error
}

type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
	MaxAge   int
}

type AuthService struct {
	store      CredentialStore
	sender     ResetSender
	notifier   LockNotifier
	tokens     *token.Service
	policy     lockout.Policy
	resetTTL   time.Duration
	bcryptCost int
	cookieCfg  CookieConfig
	dummyHash  []byte
	now        func() time.Time
	logger     *slog.Logger
	pending    sync.WaitGroup
}

type Option func(*AuthService)

// WithClock replaces time.Now for lockout, token and reset expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) {
		s.now = now
	}
}

func WithLockNotifier(n LockNotifier) Option {
	return func(s *AuthService) {
		s.notifier = n
	}
}

func NewAuthService(store CredentialStore, sender ResetSender, cfg config.AuthConfig, opts ...Option) (*AuthService, error) {
	accessTTL, err := parseDuration(cfg.JWTAccessTTL, token.DefaultAccessTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid JWT_ACCESS_TTL", ErrMisconfigured)
	}

	refreshTTL, err := parseDuration(cfg.JWTRefreshTTL, token.DefaultRefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid JWT_REFRESH_TTL", ErrMisconfigured)
	}

	resetTTL, err := parseDuration(cfg.ResetTokenTTL, token.DefaultResetTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid RESET_TOKEN_TTL", ErrMisconfigured)
	}

	threshold, err := parsePositiveInt(cfg.LoginMaxAttempts, lockout.DefaultThreshold)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid LOGIN_MAX_ATTEMPTS", ErrMisconfigured)
	}

	lockoutDuration, err := parseDuration(cfg.LockoutDuration, lockout.DefaultDuration)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid LOGIN_LOCKOUT_DURATION", ErrMisconfigured)
	}

	bcryptCost, err := parsePositiveInt(cfg.BcryptCost, bcrypt.DefaultCost)
	if err != nil || bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: invalid BCRYPT_COST", ErrMisconfigured)
	}

	cookieSecure, err := parseBool(cfg.CookieSecure, true)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid AUTH_COOKIE_SECURE", ErrMisconfigured)
	}

	cookieSameSite, err := parseSameSite(cfg.CookieSameSite)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid AUTH_COOKIE_SAMESITE", ErrMisconfigured)
	}

	if cookieSameSite == http.SameSiteNoneMode && !cookieSecure {
		return nil, fmt.Errorf("%w: SameSite=None requires Secure cookie", ErrMisconfigured)
	}

	cookiePath := cfg.CookiePath
	if strings.TrimSpace(cookiePath) == "" {
		cookiePath = "/api/v1/auth"
	}

	s := &AuthService{
		store:      store,
		sender:     sender,
		policy:     lockout.Policy{Threshold: threshold, Duration: lockoutDuration},
		resetTTL:   resetTTL,
		bcryptCost: bcryptCost,
		cookieCfg: CookieConfig{
			Name:     refreshCookieName,
			Path:     cookiePath,
			Domain:   cfg.CookieDomain,
			Secure:   cookieSecure,
			SameSite: cookieSameSite,
		},
		now:    time.Now,
		logger: slog.Default().With("component", "auth"),
	}
	for _, opt := range opts {
		opt(s)
	}

	tokens, err := token.New(token.Config{
		AccessSecret:  []byte(cfg.JWTAccessSecret),
		RefreshSecret: []byte(cfg.JWTRefreshSecret),
		AccessTTL:     accessTTL,
		RefreshTTL:    refreshTTL,
		Issuer:        cfg.JWTIssuer,
	}, token.WithClock(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMisconfigured, err)
	}
	s.tokens = tokens
	s.cookieCfg.MaxAge = int(tokens.RefreshTTL().Seconds())

	dummy, err := bcrypt.GenerateFromPassword([]byte("timing-equalizer"), bcryptCost)
	if err != nil {
		return nil, err
	}
	s.dummyHash = dummy

	return s, nil
}

func (s *AuthService) CookieConfig() CookieConfig {
	return s.cookieCfg
}

// EnsureAdmin seeds the main admin account when it does not exist yet.
// An empty email disables seeding.
func (s *AuthService) EnsureAdmin(ctx context.Context, cfg config.AdminConfig) error {
	email := normalizeEmail(cfg.Email)
	if email == "" {
		return nil
	}
	if strings.TrimSpace(cfg.Password) == "" {
		return fmt.Errorf("%w: ADMIN_PASSWORD is required with ADMIN_EMAIL", ErrMisconfigured)
	}

	_, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !db.IsNoRows(err) {
		return err
	}

	if err := validatePassword(cfg.Password); err != nil {
		return fmt.Errorf("%w: ADMIN_PASSWORD must be %d characters and at most %d bytes", ErrMisconfigured, minPasswordLength, maxPasswordBytes)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), s.bcryptCost)
	if err != nil {
		return err
	}

	var nidHash []byte
	if nid := strings.TrimSpace(cfg.NationalID); nid != "" {
		nidHash, err = bcrypt.GenerateFromPassword([]byte(nid), s.bcryptCost)
		if err != nil {
			return err
		}
	}

	user, err := s.store.CreateUser(ctx, model.NewUser{
		Email:          email,
		PasswordHash:   string(hash),
		NationalIDHash: string(nidHash),
		Role:           model.RoleMainAdmin,
		FirstName:      cfg.FirstName,
		LastName:       cfg.LastName,
	})
	if err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return nil
		}
		return err
	}

	s.logger.InfoContext(ctx, "main admin account created", "user_id", user.ID)
	return nil
}

// Login verifies credentials under the lockout policy and opens the single
// refresh session of the account.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidInput
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if db.IsNoRows(err) {
			s.burnCompare(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	now := s.now()
	if lockout.IsLocked(user.Lockout, now) {
		return nil, ErrAccountLocked
	}
	if !user.IsActive {
		s.burnCompare(password)
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		var locked bool
		state, err := s.store.ApplyLockout(ctx, user.ID, func(cur lockout.State) (lockout.State, error) {
			next := s.policy.OnFailedAttempt(cur, now)
			locked = !lockout.IsLocked(cur, now) && lockout.IsLocked(next, now)
			return next, nil
		})
		if err != nil {
			return nil, fmt.Errorf("record failed login: %w", err)
		}
		if locked {
			s.onLocked(ctx, user, *state.LockUntil)
		}
		return nil, ErrInvalidCredentials
	}

	state, err := s.store.ApplyLockout(ctx, user.ID, func(cur lockout.State) (lockout.State, error) {
		// a concurrent failure may have locked the account since the first read
		if lockout.IsLocked(cur, now) {
			return cur, ErrAccountLocked
		}
		return lockout.OnSuccessfulAttempt(cur, now), nil
	})
	if err != nil {
		if errors.Is(err, ErrAccountLocked) {
			return nil, ErrAccountLocked
		}
		return nil, fmt.Errorf("record successful login: %w", err)
	}
	user.Lockout = state

	accessToken, _, err := s.tokens.IssueAccessToken(user.ID)
	if err != nil {
		return nil, err
	}
	refreshToken, refreshExp, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetRefreshToken(ctx, user.ID, token.HashSecret(refreshToken), refreshExp); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	s.logger.InfoContext(ctx, "login succeeded", "user_id", user.ID)
	return &model.LoginResult{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresIn:  int64(s.tokens.AccessTTL().Seconds()),
		RefreshExpiresAt: refreshExp,
		User:             user.Summary(),
	}, nil
}

// Refresh exchanges the live refresh token for a new access token. The
// refresh token itself is not rotated.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*model.RefreshResult, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, ErrUnauthorized
	}

	userID, ok := s.tokens.VerifyRefreshToken(refreshToken)
	if !ok {
		return nil, ErrUnauthorized
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	now := s.now()
	if !user.IsActive || user.RefreshTokenHash == nil {
		return nil, ErrUnauthorized
	}
	presented := token.HashSecret(refreshToken)
	if subtle.ConstantTimeCompare([]byte(*user.RefreshTokenHash), []byte(presented)) != 1 {
		return nil, ErrUnauthorized
	}
	if user.RefreshTokenExpiry != nil && !user.RefreshTokenExpiry.After(now) {
		return nil, ErrUnauthorized
	}

	accessToken, _, err := s.tokens.IssueAccessToken(user.ID)
	if err != nil {
		return nil, err
	}
	return &model.RefreshResult{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.tokens.AccessTTL().Seconds()),
	}, nil
}

// Logout ends the refresh session. Repeated calls succeed.
func (s *AuthService) Logout(ctx context.Context, userID uuid.UUID) error {
	if err := s.store.ClearRefreshToken(ctx, userID); err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	return nil
}

// ForgotPassword issues a reset secret when the email and national id match.
// Unknown accounts and mismatches return nil like a real issuance does.
func (s *AuthService) ForgotPassword(ctx context.Context, email, nationalID string) error {
	email = normalizeEmail(email)
	nationalID = strings.TrimSpace(nationalID)
	if email == "" || nationalID == "" {
		return ErrInvalidInput
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if db.IsNoRows(err) {
			s.burnCompare(nationalID)
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}

	if !user.IsActive || user.NationalIDHash == "" {
		s.burnCompare(nationalID)
		return nil
	}
	if bcrypt.CompareHashAndPassword([]byte(user.NationalIDHash), []byte(nationalID)) != nil {
		return nil
	}

	secret, err := token.IssueResetSecret()
	if err != nil {
		return err
	}
	expiresAt := s.now().Add(s.resetTTL)
	if err := s.store.SetPasswordReset(ctx, user.ID, secret.Hash, expiresAt); err != nil {
		return fmt.Errorf("store password reset: %w", err)
	}

	if s.sender != nil {
		s.background(ctx, func(ctx context.Context) {
			if err := s.sender.SendPasswordReset(ctx, user, secret.Plain, expiresAt); err != nil {
				s.logger.ErrorContext(ctx, "password reset delivery failed", "user_id", user.ID, "error", err)
			}
		})
	}
	return nil
}

// ResetPassword consumes a live reset secret and sets the new password.
// Lock state is left alone; resetting is a way out of a lock.
func (s *AuthService) ResetPassword(ctx context.Context, plainToken, newPassword string) error {
	plainToken = strings.TrimSpace(plainToken)
	if plainToken == "" {
		return ErrInvalidInput
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return err
	}

	userID, err := s.store.ConsumePasswordReset(ctx, token.HashSecret(plainToken), s.now(), string(hash))
	if err != nil {
		if db.IsNoRows(err) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("consume password reset: %w", err)
	}

	s.logger.InfoContext(ctx, "password reset completed", "user_id", userID)
	return nil
}

// ChangePassword replaces the password of a logged-in user after checking
// the current one, and ends the refresh session.
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	if current == "" {
		return ErrInvalidInput
	}
	if err := validatePassword(next); err != nil {
		return err
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if db.IsNoRows(err) {
			return ErrUnauthorized
		}
		return fmt.Errorf("load user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// Authenticate resolves a bearer access token to an active, unlocked user.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*model.AuthUser, error) {
	userID, ok := s.tokens.VerifyAccessToken(strings.TrimSpace(accessToken))
	if !ok {
		return nil, ErrUnauthorized
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrUnauthorized
	}
	if lockout.IsLocked(user.Lockout, s.now()) {
		return nil, ErrAccountLocked
	}
	return user.AuthUser(), nil
}

// ResolveOptional is Authenticate for public endpoints: any failure yields nil.
func (s *AuthService) ResolveOptional(ctx context.Context, accessToken string) *model.AuthUser {
	if strings.TrimSpace(accessToken) == "" {
		return nil
	}
	user, err := s.Authenticate(ctx, accessToken)
	if err != nil {
		return nil
	}
	return user
}

func (s *AuthService) Profile(ctx context.Context, userID uuid.UUID) (*model.UserSummary, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	summary := user.Summary()
	return &summary, nil
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID uuid.UUID, upd model.ProfileUpdate) (*model.UserSummary, error) {
	upd.FirstName = strings.TrimSpace(upd.FirstName)
	upd.LastName = strings.TrimSpace(upd.LastName)
	if upd.FirstName == "" || upd.LastName == "" ||
		len(upd.FirstName) > maxNameLength || len(upd.LastName) > maxNameLength {
		return nil, ErrInvalidInput
	}

	user, err := s.store.UpdateProfile(ctx, userID, upd)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	summary := user.Summary()
	return &summary, nil
}

func (s *AuthService) onLocked(ctx context.Context, user *model.User, until time.Time) {
	s.logger.WarnContext(ctx, "account locked after repeated failed logins",
		"user_id", user.ID, "lock_until", until)
	if s.notifier == nil {
		return
	}
	s.background(ctx, func(ctx context.Context) {
		if err := s.notifier.NotifyAccountLocked(ctx, user.Email, until); err != nil {
			s.logger.ErrorContext(ctx, "lock notification failed", "user_id", user.ID, "error", err)
		}
	})
}

// background runs fn off the request path. The request context's values are
// kept but its cancellation is not.
func (s *AuthService) background(ctx context.Context, fn func(ctx context.Context)) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until pending reset deliveries and lock notifications finish.
func (s *AuthService) Wait() {
	s.pending.Wait()
}

func (s *AuthService) burnCompare(value string) {
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(value))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validatePassword(password string) error {
	if strings.TrimSpace(password) == "" {
		return ErrInvalidInput
	}
	if utf8.RuneCountInString(password) < minPasswordLength || len(password) > maxPasswordBytes {
		return ErrInvalidInput
	}
	return nil
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if parsed <= 0 {
		return 0, ErrInvalidInput
	}
	return parsed, nil
}

func parsePositiveInt(value string, fallback int) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if parsed <= 0 {
		return 0, ErrInvalidInput
	}
	return parsed, nil
}

func parseBool(value string, fallback bool) (bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, err
	}
	return parsed, nil
}

func parseSameSite(value string) (http.SameSite, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return http.SameSiteLaxMode, nil
	}
	switch value {
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, ErrInvalidInput
	}
}
