package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foliodesk/backend/internal/config"
	"github.com/foliodesk/backend/internal/db"
	"github.com/foliodesk/backend/internal/model"
	"github.com/foliodesk/backend/internal/service/servicetest"
	"github.com/foliodesk/backend/internal/token"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testPassword   = "correct-horse-battery"
	testNationalID = "1234567890"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentReset struct {
	userID    uuid.UUID
	token     string
	expiresAt time.Time
}

type captureSender struct {
	mu    sync.Mutex
	sent  []sentReset
	fails error
}

func (s *captureSender) SendPasswordReset(_ context.Context, user *model.User, plainToken string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentReset{userID: user.ID, token: plainToken, expiresAt: expiresAt})
	return s.fails
}

func (s *captureSender) last(t *testing.T) sentReset {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent, "no reset notification sent")
	return s.sent[len(s.sent)-1]
}

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTAccessSecret:  "access-secret-for-tests",
		JWTRefreshSecret: "refresh-secret-for-tests",
		JWTIssuer:        "foliodesk-test",
		BcryptCost:       strconv.Itoa(bcrypt.MinCost),
	}
}

type authFixture struct {
	svc    *AuthService
	store  *servicetest.Store
	sender *captureSender
	clock  *fakeClock
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	store := servicetest.NewStore()
	sender := &captureSender{}
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}

	svc, err := NewAuthService(store, sender, testAuthConfig(), WithClock(clock.Now))
	require.NoError(t, err)

	return &authFixture{svc: svc, store: store, sender: sender, clock: clock}
}

// lastReset waits for queued deliveries before reading the captured secret.
func (f *authFixture) lastReset(t *testing.T) sentReset {
	t.Helper()
	f.svc.Wait()
	return f.sender.last(t)
}

func seedUser(t *testing.T, store *servicetest.Store, email string, role model.Role) *model.User {
	t.Helper()
	pw, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	nid, err := bcrypt.GenerateFromPassword([]byte(testNationalID), bcrypt.MinCost)
	require.NoError(t, err)

	user, err := store.CreateUser(context.Background(), model.NewUser{
		Email:          email,
		PasswordHash:   string(pw),
		NationalIDHash: string(nid),
		Role:           role,
		FirstName:      "Ada",
		LastName:       "Lovelace",
	})
	require.NoError(t, err)
	return user
}

func TestNewAuthServiceRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.AuthConfig)
	}{
		{"missing-access-secret", func(c *config.AuthConfig) { c.JWTAccessSecret = "" }},
		{"shared-secret", func(c *config.AuthConfig) { c.JWTRefreshSecret = c.JWTAccessSecret }},
		{"bad-access-ttl", func(c *config.AuthConfig) { c.JWTAccessTTL = "forever" }},
		{"negative-refresh-ttl", func(c *config.AuthConfig) { c.JWTRefreshTTL = "-1h" }},
		{"zero-attempts", func(c *config.AuthConfig) { c.LoginMaxAttempts = "0" }},
		{"bcrypt-cost-too-high", func(c *config.AuthConfig) { c.BcryptCost = "99" }},
		{"samesite-unknown", func(c *config.AuthConfig) { c.CookieSameSite = "sometimes" }},
		{"samesite-none-insecure", func(c *config.AuthConfig) {
			c.CookieSameSite = "none"
			c.CookieSecure = "false"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testAuthConfig()
			tt.mutate(&cfg)
			_, err := NewAuthService(servicetest.NewStore(), nil, cfg)
			require.ErrorIs(t, err, ErrMisconfigured)
		})
	}
}

func TestNewAuthServiceCookieDefaults(t *testing.T) {
	f := newAuthFixture(t)
	cookie := f.svc.CookieConfig()

	assert.Equal(t, "foliodesk_refresh", cookie.Name)
	assert.Equal(t, "/api/v1/auth", cookie.Path)
	assert.True(t, cookie.Secure)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), cookie.MaxAge)
}

func TestNewAuthServiceConfiguredLifetimes(t *testing.T) {
	cfg := testAuthConfig()
	cfg.JWTAccessTTL = "15m"
	cfg.JWTRefreshTTL = "48h"
	store := servicetest.NewStore()
	svc, err := NewAuthService(store, nil, cfg)
	require.NoError(t, err)
	seedUser(t, store, "a@x.com", model.RoleAdmin)

	assert.Equal(t, int((48 * time.Hour).Seconds()), svc.CookieConfig().MaxAge)

	res, err := svc.Login(context.Background(), "a@x.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, int64((15 * time.Minute).Seconds()), res.AccessExpiresIn)
}

func TestLoginSuccess(t *testing.T) {
	f := newAuthFixture(t)
	user := seedUser(t, f.store, "ada@example.com", model.RoleAdmin)

	res, err := f.svc.Login(context.Background(), "  ADA@example.com ", testPassword)
	require.NoError(t, err)

	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, int64((24 * time.Hour).Seconds()), res.AccessExpiresIn)
	assert.Equal(t, user.ID, res.User.ID)
	assert.Equal(t, model.RoleAdmin, res.User.Role)

	stored := f.store.Get(user.ID)
	require.NotNil(t, stored.RefreshTokenHash)
	assert.Equal(t, token.HashSecret(res.RefreshToken), *stored.RefreshTokenHash)
	require.NotNil(t, stored.Lockout.LastLoginAt)
	assert.True(t, stored.Lockout.LastLoginAt.Equal(f.clock.Now()))
}

func TestLoginUnknownAndWrongPasswordLookAlike(t *testing.T) {
	f := newAuthFixture(t)
	seedUser(t, f.store, "ada@example.com", model.RoleAdmin)

	_, unknownErr := f.svc.Login(context.Background(), "nobody@example.com", testPassword)
	_, wrongErr := f.svc.Login(context.Background(), "ada@example.com", "wrong-password")

	require.ErrorIs(t, unknownErr, ErrInvalidCredentials)
	require.ErrorIs(t, wrongErr, ErrInvalidCredentials)
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())
}

func TestLoginRejectsMissingFields(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), "", testPassword)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Login(context.Background(), "ada@example.com", "")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestLoginInactiveAccount(t *testing.T) {
	f := newAuthFixture(t)
	user := seedUser(t, f.store, "ada@example.com", model.RoleAdmin)
	require.NoError(t, f.store.SetActive(context.Background(), user.ID, false))

	_, err := f.svc.Login(context.Background(), "ada@example.com", testPassword)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginLockoutScenario(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.store, "a@x.com", model.RoleAdmin)
	t0 := f.clock.Now()

	for i := 1; i <= 4; i++ {
		_, err := f.svc.Login(ctx, "a@x.com", "nope")
		require.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Equal(t, i, f.store.Get(user.ID).Lockout.FailedLoginCount)
	}

	// fifth failure locks the account but still reports bad credentials
	_, err := f.svc.Login(ctx, "a@x.com", "nope")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	stored := f.store.Get(user.ID)
	require.NotNil(t, stored.Lockout.LockUntil)
	assert.True(t, stored.Lockout.LockUntil.Equal(t0.Add(2*time.Hour)))
	assert.Equal(t, 0, stored.Lockout.FailedLoginCount)

	// locked: even the right password is refused and nothing is counted
	f.clock.Advance(30 * time.Minute)
	_, err = f.svc.Login(ctx, "a@x.com", testPassword)
	require.ErrorIs(t, err, ErrAccountLocked)
	_, err = f.svc.Login(ctx, "a@x.com", "nope")
	require.ErrorIs(t, err, ErrAccountLocked)
	assert.Equal(t, 0, f.store.Get(user.ID).Lockout.FailedLoginCount)

	f.clock.Advance(90*time.Minute + time.Second)
	res, err := f.svc.Login(ctx, "a@x.com", testPassword)
	require.NoError(t, err)
	assert.Nil(t, res.User.LockedUntil)

	stored = f.store.Get(user.ID)
	assert.Nil(t, stored.Lockout.LockUntil)
	assert.Equal(t, 0, stored.Lockout.FailedLoginCount)
}

func TestLoginConcurrentFailuresLockOnce(t *testing.T) {
	f := newAuthFixture(t)
	user := seedUser(t, f.store, "a@x.com", model.RoleAdmin)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Login(context.Background(), "a@x.com", "nope")
		}()
	}
	wg.Wait()

	stored := f.store.Get(user.ID)
	require.NotNil(t, stored.Lockout.LockUntil)
	assert.Equal(t, 0, stored.Lockout.FailedLoginCount)
}

func TestLoginStoreFailureIsNotASentinel(t *testing.T) {
	f := newAuthFixture(t)
	f.store.Err = errors.New("connection reset")

	_, err := f.svc.Login(context.Background(), "a@x.com", testPassword)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefresh(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.store, "a@x.com", model.RoleAdmin)

	login, err := f.svc.Login(ctx, "a@x.com", testPassword)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	res, err := f.svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)

	authed, err := f.svc.Authenticate(ctx, res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, authed.ID)

	// no rotation: the same refresh token keeps working
	_, err = f.svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshRejected(t *testing.T) {
	ctx := context.Background()

	t.Run("after-logout", func(t *testing.T) {
		f := newAuthFixture(t)
		user := seedUser(t, f.store, "a@x.com", model.RoleAdmin)
		login, err := f.svc.Login(ctx, "a@x.com", testPassword)
		require.NoError(t, err)

		require.NoError(t, f.svc.Logout(ctx, user.ID))
		require.NoError(t, f.svc.Logout(ctx, user.ID))

		_, err = f.svc.Refresh(ctx, login.RefreshToken)
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("superseded-by-new-login", func(t *testing.T) {
		f := newAuthFixture(t)
		seedUser(t, f.store, "a@x.com", model.RoleAdmin)
		first, err := f.svc.Login(ctx, "a@x.com", testPassword)
		require.NoError(t, err)
		f.clock.Advance(time.Second)
		second, err := f.svc.Login(ctx, "a@x.com", testPassword)
		require.NoError(t, err)

		_, err = f.svc.Refresh(ctx, first.RefreshToken)
		require.ErrorIs(t, err, ErrUnauthorized)
		_, err = f.svc.Refresh(ctx, second.RefreshToken)
		require.NoError(t, err)
	})

	t.Run("access-token-presented", func(t *testing.T) {
		f := newAuthFixture(t)
		seedUser(t, f.store, "a@x.com", model.RoleAdmin)
		login, err := f.svc.Login(ctx, "a@x.com", testPassword)
		require.NoError(t, err)

		_, err = f.svc.Refresh(ctx, login.AccessToken)
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("expired", func(t *testing.T) {
		f := newAuthFixture(t)
		seedUser(t, f.store, "a@x.com", model.RoleAdmin)
		login, err := f.svc.Login(ctx, "a@x.com", testPassword)
		require.NoError(t, err)

		f.clock.Advance(7*24*time.Hour + time.Second)
		_, err = f.svc.Refresh(ctx, login.RefreshToken)
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("deactivated", func(t *testing.T) {
		f := newAuthFixture(t)
		user := seedUser(t, f.store, "a@x.com", model.RoleAdmin)
		login, err := f.svc.Login(ctx, "a@x.com", testPassword)
		require.NoError(t, err)
		f.store.Mutate(user.ID, func(u *model.User) { u.IsActive = false })

		_, err = f.svc.Refresh(ctx, login.RefreshToken)
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("empty-and-garbage", func(t *testing.T) {
		f := newAuthFixture(t)
		_, err := f.svc.Refresh(ctx, "")
		require.ErrorIs(t, err, ErrUnauthorized)
		_, err = f.svc.Refresh(ctx, "not.a.jwt")
		require.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestForgotPasswordIssuesResetSecret(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.store, "a@x.com", model.RoleAdmin)

	require.NoError(t, f.svc.ForgotPassword(ctx, "A@X.com", testNationalID))

	sent := f.lastReset(t)
	assert.Equal(t, user.ID, sent.userID)
	assert.True(t, sent.expiresAt.Equal(f.clock.Now().Add(time.Hour)))

	stored := f.store.Get(user.ID)
	require.NotNil(t, stored.PasswordResetTokenHash)
	assert.Equal(t, token.HashSecret(sent.token), *stored.PasswordResetTokenHash)
	assert.NotEqual(t, sent.token, *stored.PasswordResetTokenHash)
}

func TestForgotPasswordIndistinguishable(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.store, "a@x.com", model.RoleAdmin)

	errUnknown := f.svc.ForgotPassword(ctx, "nobody@x.com", testNationalID)
	errMismatch := f.svc.ForgotPassword(ctx, "a@x.com", "0000000000")

	assert.NoError(t, errUnknown)
	assert.NoError(t, errMismatch)
	f.svc.Wait()
	assert.Empty(t, f.sender.sent)
	assert.Nil(t, f.store.Get(user.ID).PasswordResetTokenHash)

	require.ErrorIs(t, f.svc.ForgotPassword(ctx, "a@x.com", ""), ErrInvalidInput)
}

func TestForgotPasswordDeliveryFailureIsSwallowed(t *testing.T) {
	f := newAuthFixture(t)
	f.sender.fails = errors.New("relay down")
	seedUser(t, f.store, "a@x.com", model.RoleAdmin)

	require.NoError(t, f.svc.ForgotPassword(context.Background(), "a@x.com", testNationalID))
	f.svc.Wait()
	assert.Len(t, f.sender.sent, 1)
}

// gatedSender holds every delivery until release is closed.
type gatedSender struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	ctxErr  error
}

func newGatedSender() *gatedSender {
	return &gatedSender{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedSender) wait(ctx context.Context) error {
	g.once.Do(func() { close(g.started) })
	<-g.release
	g.ctxErr = ctx.Err()
	return nil
}

func (g *gatedSender) SendPasswordReset(ctx context.Context, _ *model.User, _ string, _ time.Time) error {
	return g.wait(ctx)
}

func (g *gatedSender) NotifyAccountLocked(ctx context.Context, _ string, _ time.Time) error {
	return g.wait(ctx)
}

func returnsWithin(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("call still blocked after %s", d)
	}
}

func TestForgotPasswordDoesNotWaitForDelivery(t *testing.T) {
	store := servicetest.NewStore()
	sender := newGatedSender()
	svc, err := NewAuthService(store, sender, testAuthConfig())
	require.NoError(t, err)
	seedUser(t, store, "a@x.com", model.RoleAdmin)

	ctx, cancel := context.WithCancel(context.Background())
	returnsWithin(t, 2*time.Second, func() {
		assert.NoError(t, svc.ForgotPassword(ctx, "a@x.com", testNationalID))
	})
	cancel()

	<-sender.started
	close(sender.release)
	svc.Wait()
	assert.NoError(t, sender.ctxErr, "delivery must outlive the request context")
}

func TestResetPassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.store, "a@x.com", model.RoleAdmin)

	login, err := f.svc.Login(ctx, "a@x.com", testPassword)
	require.NoError(t, err)

	require.NoError(t, f.svc.ForgotPassword(ctx, "a@x.com", testNationalID))
	plain := f.lastReset(t).token

	require.NoError(t, f.svc.ResetPassword(ctx, plain, "brand-new-password"))

	stored := f.store.Get(user.ID)
	assert.Nil(t, stored.PasswordResetTokenHash)
	assert.Nil(t, stored.RefreshTokenHash)

	_, err = f.svc.Login(ctx, "a@x.com", testPassword)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "a@x.com", "brand-new-password")
	require.NoError(t, err)

	// single use
	require.ErrorIs(t, f.svc.ResetPassword(ctx, plain, "another-password"), ErrInvalidResetToken)

	_, err = f.svc.Refresh(ctx, login.RefreshToken)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestResetPasswordSecondRequestSupersedesFirst(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	seedUser(t, f.store, "a@x.com", model.RoleAdmin)

	require.NoError(t, f.svc.ForgotPassword(ctx, "a@x.com", testNationalID))
	first := f.lastReset(t).token
	require.NoError(t, f.svc.ForgotPassword(ctx, "a@x.com", testNationalID))
	second := f.lastReset(t).token
	require.NotEqual(t, first, second)

	require.ErrorIs(t, f.svc.ResetPassword(ctx, first, "brand-new-password"), ErrInvalidResetToken)
	require.NoError(t, f.svc.ResetPassword(ctx, second, "brand-new-password"))
}

func TestResetPasswordExpired(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	seedUser(t, f.store, "a@x.com", model.RoleAdmin)

	require.NoError(t, f.svc.ForgotPassword(ctx, "a@x.com", testNationalID))
	plain := f.lastReset(t).token

	// expiry itself is already past
	f.clock.Advance(time.Hour)
	require.ErrorIs(t, f.svc.ResetPassword(ctx, plain, "brand-new-password"), ErrInvalidResetToken)

	f.clock.Advance(time.Second)
	require.ErrorIs(t, f.svc.ResetPassword(ctx, plain, "brand-new-password"), ErrInvalidResetToken)
}

func TestResetPasswordJustBeforeExpiry(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	seedUser(t, f.store, "a@x.com", model.RoleAdmin)

	require.NoError(t, f.svc.ForgotPassword(ctx, "a@x.com", testNationalID))
	plain := f.lastReset(t).token

	f.clock.Advance(time.Hour - time.Second)
	require.NoError(t, f.svc.ResetPassword(ctx, plain, "brand-new-password"))
}

func TestResetPasswordValidation(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.svc.ResetPassword(ctx, "", "brand-new-password"), ErrInvalidInput)
	require.ErrorIs(t, f.svc.ResetPassword(ctx, "whatever", "short"), ErrInvalidInput)
	require.ErrorIs(t, f.svc.ResetPassword(ctx, "unknown-token", "brand-new-password"), ErrInvalidResetToken)
}

func TestValidatePasswordLength(t *testing.T) {
	tests := []struct {
		name     string
		password string
		ok       bool
	}{
		{"minimum", "abcdefgh", true},
		{"too-short", "abcdefg", false},
		{"blank", "          ", false},
		{"multibyte-short", "ééééééé", false},
		{"multibyte-minimum", "пароль12", true},
		{"byte-limit", strings.Repeat("a", 72), true},
		{"over-byte-limit", strings.Repeat("a", 73), false},
		{"multibyte-over-byte-limit", strings.Repeat("é", 37), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePassword(tt.password)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidInput)
			}
		})
	}
}

func TestStoreRejectsUnknownRole(t *testing.T) {
	store := servicetest.NewStore()
	_, err := store.CreateUser(context.Background(), model.NewUser{Email: "a@x.com", Role: "owner"})
	require.ErrorIs(t, err, db.ErrInvalidRole)
}

func TestResetPasswordLeavesLockInPlace(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.store, "a@x.com", model.RoleAdmin)

	for i := 0; i < 5; i++ {
		_, _ = f.svc.Login(ctx, "a@x.com", "nope")
	}
	require.NoError(t, f.svc.ForgotPassword(ctx, "a@x.com", testNationalID))
	require.NoError(t, f.svc.ResetPassword(ctx, f.lastReset(t).token, "brand-new-password"))

	assert.NotNil(t, f.store.Get(user.ID).Lockout.LockUntil)
	_, err := f.svc.Login(ctx, "a@x.com", "brand-new-password")
	require.ErrorIs(t, err, ErrAccountLocked)
}

func TestChangePassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.store, "a@x.com", model.RoleAdmin)
	_, err := f.svc.Login(ctx, "a@x.com", testPassword)
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.ChangePassword(ctx, user.ID, "wrong-current", "brand-new-password"), ErrInvalidCredentials)
	require.ErrorIs(t, f.svc.ChangePassword(ctx, user.ID, testPassword, "short"), ErrInvalidInput)
	require.ErrorIs(t, f.svc.ChangePassword(ctx, uuid.New(), testPassword, "brand-new-password"), ErrUnauthorized)

	require.NoError(t, f.svc.ChangePassword(ctx, user.ID, testPassword, "brand-new-password"))
	assert.Nil(t, f.store.Get(user.ID).RefreshTokenHash)

	_, err = f.svc.Login(ctx, "a@x.com", "brand-new-password")
	require.NoError(t, err)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		f := newAuthFixture(t)
		user := seedUser(t, f.store, "a@x.com", model.RoleMainAdmin)
		login, err := f.svc.Login(ctx, "a@x.com", testPassword)
		require.NoError(t, err)

		authed, err := f.svc.Authenticate(ctx, login.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID, authed.ID)
		assert.Equal(t, model.RoleMainAdmin, authed.Role)
	})

	t.Run("expired", func(t *testing.T) {
		f := newAuthFixture(t)
		seedUser(t, f.store, "a@x.com", model.RoleAdmin)
		login, err := f.svc.Login(ctx, "a@x.com", testPassword)
		require.NoError(t, err)

		f.clock.Advance(24*time.Hour + time.Second)
		_, err = f.svc.Authenticate(ctx, login.AccessToken)
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("refresh-token-presented", func(t *testing.T) {
		f := newAuthFixture(t)
		seedUser(t, f.store, "a@x.com", model.RoleAdmin)
		login, err := f.svc.Login(ctx, "a@x.com", testPassword)
		require.NoError(t, err)

		_, err = f.svc.Authenticate(ctx, login.RefreshToken)
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("deactivated", func(t *testing.T) {
		f := newAuthFixture(t)
		user := seedUser(t, f.store, "a@x.com", model.RoleAdmin)
		login, err := f.svc.Login(ctx, "a@x.com", testPassword)
		require.NoError(t, err)
		f.store.Mutate(user.ID, func(u *model.User) { u.IsActive = false })

		_, err = f.svc.Authenticate(ctx, login.AccessToken)
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("locked", func(t *testing.T) {
		f := newAuthFixture(t)
		user := seedUser(t, f.store, "a@x.com", model.RoleAdmin)
		login, err := f.svc.Login(ctx, "a@x.com", testPassword)
		require.NoError(t, err)
		until := f.clock.Now().Add(time.Hour)
		f.store.Mutate(user.ID, func(u *model.User) { u.Lockout.LockUntil = &until })

		_, err = f.svc.Authenticate(ctx, login.AccessToken)
		require.ErrorIs(t, err, ErrAccountLocked)
	})

	t.Run("deleted", func(t *testing.T) {
		f := newAuthFixture(t)
		other := newAuthFixture(t)
		seedUser(t, other.store, "a@x.com", model.RoleAdmin)
		login, err := other.svc.Login(ctx, "a@x.com", testPassword)
		require.NoError(t, err)

		// same secrets, empty store
		_, err = f.svc.Authenticate(ctx, login.AccessToken)
		require.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestResolveOptional(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.store, "a@x.com", model.RoleAdmin)
	login, err := f.svc.Login(ctx, "a@x.com", testPassword)
	require.NoError(t, err)

	assert.Nil(t, f.svc.ResolveOptional(ctx, ""))
	assert.Nil(t, f.svc.ResolveOptional(ctx, "garbage"))

	authed := f.svc.ResolveOptional(ctx, login.AccessToken)
	require.NotNil(t, authed)
	assert.Equal(t, user.ID, authed.ID)
}

func TestProfileAndUpdate(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.store, "a@x.com", model.RoleAdmin)

	profile, err := f.svc.Profile(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", profile.FirstName)

	updated, err := f.svc.UpdateProfile(ctx, user.ID, model.ProfileUpdate{FirstName: " Grace ", LastName: "Hopper"})
	require.NoError(t, err)
	assert.Equal(t, "Grace", updated.FirstName)
	assert.Equal(t, "Hopper", updated.LastName)

	_, err = f.svc.UpdateProfile(ctx, user.ID, model.ProfileUpdate{FirstName: "", LastName: "Hopper"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Profile(ctx, uuid.New())
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestEnsureAdmin(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	cfg := config.AdminConfig{
		Email:      "Root@Example.com",
		Password:   "root-password-1",
		NationalID: testNationalID,
		FirstName:  "Main",
		LastName:   "Admin",
	}

	require.NoError(t, f.svc.EnsureAdmin(ctx, cfg))
	require.NoError(t, f.svc.EnsureAdmin(ctx, cfg))

	users, err := f.store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "root@example.com", users[0].Email)
	assert.Equal(t, model.RoleMainAdmin, users[0].Role)

	_, err = f.svc.Login(ctx, "root@example.com", "root-password-1")
	require.NoError(t, err)
	require.NoError(t, f.svc.ForgotPassword(ctx, "root@example.com", testNationalID))
	f.svc.Wait()
	assert.Len(t, f.sender.sent, 1)
}

func TestEnsureAdminConfig(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.EnsureAdmin(ctx, config.AdminConfig{}))
	require.ErrorIs(t, f.svc.EnsureAdmin(ctx, config.AdminConfig{Email: "root@x.com"}), ErrMisconfigured)
	require.ErrorIs(t, f.svc.EnsureAdmin(ctx, config.AdminConfig{Email: "root@x.com", Password: "short"}), ErrMisconfigured)
}

type countingNotifier struct {
	mu     sync.Mutex
	emails []string
}

func (n *countingNotifier) NotifyAccountLocked(_ context.Context, email string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, email)
	return errors.New("slack unavailable")
}

func TestLockNotifierCalledOncePerLock(t *testing.T) {
	store := servicetest.NewStore()
	notifier := &countingNotifier{}
	svc, err := NewAuthService(store, nil, testAuthConfig(), WithLockNotifier(notifier))
	require.NoError(t, err)
	seedUser(t, store, "a@x.com", model.RoleAdmin)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Login(context.Background(), "a@x.com", "nope")
		}()
	}
	wg.Wait()
	svc.Wait()

	assert.Equal(t, []string{"a@x.com"}, notifier.emails)
}

func TestLockingLoginDoesNotWaitForNotifier(t *testing.T) {
	store := servicetest.NewStore()
	notifier := newGatedSender()
	svc, err := NewAuthService(store, nil, testAuthConfig(), WithLockNotifier(notifier))
	require.NoError(t, err)
	seedUser(t, store, "a@x.com", model.RoleAdmin)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, _ = svc.Login(ctx, "a@x.com", "nope")
	}
	returnsWithin(t, 2*time.Second, func() {
		_, err := svc.Login(ctx, "a@x.com", "nope")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	<-notifier.started
	close(notifier.release)
	svc.Wait()
}
