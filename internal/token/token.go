// Package token mints and verifies the signed credentials used by the auth flow.
//
// Access and refresh tokens are HS256 JWTs signed with separate keys and
// tagged with their kind, so neither can stand in for the other. Password
// reset secrets are opaque random values whose SHA-256 is the stored form.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultAccessTTL  = 24 * time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultResetTTL   = time.Hour

	resetSecretBytes = 32
)

type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

var ErrInvalidConfig = errors.New("token config invalid")

type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

type Service struct {
	cfg Config
	now func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

type claims struct {
	Kind Kind `json:"typ"`
	jwt.RegisteredClaims
}

// ResetSecret pairs the value sent to the user with the value persisted.
type ResetSecret struct {
	Plain string
	Hash  string
}

func New(cfg Config, opts ...Option) (*Service, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, fmt.Errorf("%w: access and refresh secrets are required", ErrInvalidConfig)
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, fmt.Errorf("%w: access and refresh secrets must differ", ErrInvalidConfig)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, fmt.Errorf("%w: token lifetimes must be positive", ErrInvalidConfig)
	}

	s := &Service{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) AccessTTL() time.Duration {
	return s.cfg.AccessTTL
}

func (s *Service) RefreshTTL() time.Duration {
	return s.cfg.RefreshTTL
}

// IssueAccessToken returns a signed access token and its expiry.
func (s *Service) IssueAccessToken(userID uuid.UUID) (string, time.Time, error) {
	return s.issue(KindAccess, userID, s.cfg.AccessSecret, s.cfg.AccessTTL)
}

// IssueRefreshToken returns a signed refresh token and its expiry.
func (s *Service) IssueRefreshToken(userID uuid.UUID) (string, time.Time, error) {
	return s.issue(KindRefresh, userID, s.cfg.RefreshSecret, s.cfg.RefreshTTL)
}

// VerifyAccessToken returns the subject of a valid access token.
// Any defect yields ok == false.
func (s *Service) VerifyAccessToken(raw string) (uuid.UUID, bool) {
	return s.verify(KindAccess, raw, s.cfg.AccessSecret)
}

// VerifyRefreshToken is VerifyAccessToken for refresh tokens.
func (s *Service) VerifyRefreshToken(raw string) (uuid.UUID, bool) {
	return s.verify(KindRefresh, raw, s.cfg.RefreshSecret)
}

func (s *Service) issue(kind Kind, userID uuid.UUID, key []byte, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(ttl)
	c := claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.cfg.Issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, expiresAt, nil
}

func (s *Service) verify(kind Kind, raw string, key []byte) (uuid.UUID, bool) {
	if raw == "" {
		return uuid.Nil, false
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	c := &claims{}
	parsed, err := jwt.ParseWithClaims(raw, c, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, opts...)
	if err != nil || !parsed.Valid || c.Kind != kind {
		return uuid.Nil, false
	}

	userID, err := uuid.Parse(c.Subject)
	if err != nil || userID == uuid.Nil {
		return uuid.Nil, false
	}
	return userID, true
}

// IssueResetSecret generates a fresh password-reset secret.
func IssueResetSecret() (ResetSecret, error) {
	raw := make([]byte, resetSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return ResetSecret{}, fmt.Errorf("generate reset secret: %w", err)
	}
	plain := base64.RawURLEncoding.EncodeToString(raw)
	return ResetSecret{Plain: plain, Hash: HashSecret(plain)}, nil
}

// HashSecret derives the stored form of an opaque secret or token.
func HashSecret(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
