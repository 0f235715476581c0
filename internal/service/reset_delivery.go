package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/foliodesk/backend/internal/config"
	"github.com/foliodesk/backend/internal/model"
	tmpl "github.com/foliodesk/backend/internal/template"
)

// ResetSender hands a plain reset secret to the account holder out of band.
type ResetSender interface {
	SendPasswordReset(ctx context.Context, user *model.User, plainToken string, expiresAt time.Time) error
}

// ResetDeliveryService posts a rendered reset notification to a mail relay webhook.
type ResetDeliveryService struct {
	url        string
	method     string
	authHeader string
	body       string
	resetBase  string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewResetDeliveryService(cfg config.ResetDeliveryConfig) (*ResetDeliveryService, error) {
	timeout := 10 * time.Second
	if strings.TrimSpace(cfg.Timeout) != "" {
		parsed, err := time.ParseDuration(cfg.Timeout)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%w: invalid RESET_WEBHOOK_TIMEOUT", ErrMisconfigured)
		}
		timeout = parsed
	}

	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodPost
	}

	body := cfg.BodyTemplate
	if strings.TrimSpace(body) == "" {
		body = tmpl.DefaultResetBody
	}

	return &ResetDeliveryService{
		url:        strings.TrimSpace(cfg.WebhookURL),
		method:     method,
		authHeader: cfg.AuthHeader,
		body:       body,
		resetBase:  cfg.ResetURLBase,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default().With("component", "reset-delivery"),
	}, nil
}

// SendPasswordReset renders the body and sends it. Without a configured
// webhook the request is dropped with a warning.
func (s *ResetDeliveryService) SendPasswordReset(ctx context.Context, user *model.User, plainToken string, expiresAt time.Time) error {
	if s.url == "" {
		s.logger.WarnContext(ctx, "reset webhook not configured, notification dropped", "user_id", user.ID)
		return nil
	}

	rendered := tmpl.RenderBody(s.body,
		&tmpl.UserData{Email: user.Email, FirstName: user.FirstName, LastName: user.LastName},
		&tmpl.ResetData{Token: plainToken, URL: tmpl.ResetURL(s.resetBase, plainToken), ExpiresAt: expiresAt},
	)

	req, err := http.NewRequestWithContext(ctx, s.method, s.url, bytes.NewBufferString(rendered))
	if err != nil {
		return fmt.Errorf("build reset request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.authHeader != "" {
		req.Header.Set("Authorization", s.authHeader)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver reset notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("deliver reset notification: unexpected status %d", resp.StatusCode)
	}

	s.logger.InfoContext(ctx, "reset notification delivered", "user_id", user.ID)
	return nil
}
