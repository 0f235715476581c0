package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/foliodesk/backend/internal/model"
	"github.com/foliodesk/backend/internal/ratelimit"
	"github.com/foliodesk/backend/internal/service"
	"github.com/gin-gonic/gin"
)

const forgotPasswordMessage = "If the account exists, password reset instructions have been sent."

type AuthHandler struct {
	svc     *service.AuthService
	limiter *ratelimit.Limiter
}

// NewAuthHandler builds the auth endpoints. limiter may be nil.
func NewAuthHandler(svc *service.AuthService, limiter *ratelimit.Limiter) *AuthHandler {
	return &AuthHandler{svc: svc, limiter: limiter}
}

// Login godoc
// @Summary Login
// @Description Returns access and refresh tokens. The refresh token is also set as an HttpOnly cookie.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.LoginRequest true "Email and password"
// @Success 200 {object} model.LoginResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 423 {object} model.ErrorResponse
// @Failure 429 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid request", CodeBadRequest)
		return
	}

	res, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	// a successful login starts the client's login window over
	if err := h.limiter.Reset(c.Request.Context(), ScopeLogin, c.ClientIP()); err != nil {
		slog.WarnContext(c.Request.Context(), "rate limit reset failed", "scope", ScopeLogin, "error", err)
	}

	h.setRefreshCookie(c, res.RefreshToken)
	c.JSON(http.StatusOK, model.LoginResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresIn:    res.AccessExpiresIn,
		User:         res.User,
	})
}

// Refresh godoc
// @Summary Refresh access token
// @Description Takes refreshToken from the body, or the foliodesk_refresh cookie. The refresh token is not rotated.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.RefreshRequest false "Refresh token"
// @Success 200 {object} model.RefreshResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req model.RefreshRequest
	if c.Request.ContentLength != 0 {
		_ = c.ShouldBindJSON(&req)
	}

	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		refreshToken, _ = c.Cookie(h.svc.CookieConfig().Name)
	}

	res, err := h.svc.Refresh(c.Request.Context(), refreshToken)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.RefreshResponse{
		AccessToken: res.AccessToken,
		ExpiresIn:   res.ExpiresIn,
	})
}

// Logout godoc
// @Summary Logout
// @Description Ends the refresh session and clears the cookie. Repeated calls succeed.
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.StatusResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	user := GetAuthUser(c)
	if user == nil {
		abortError(c, http.StatusUnauthorized, "authentication required", CodeUnauthenticated)
		return
	}

	if err := h.svc.Logout(c.Request.Context(), user.ID); err != nil {
		writeAuthError(c, err)
		return
	}

	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, model.StatusResponse{Status: "logged_out"})
}

// ForgotPassword godoc
// @Summary Request a password reset
// @Description Always answers with the same message whether or not the account exists.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.ForgotPasswordRequest true "Email and national id"
// @Success 200 {object} model.MessageResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 429 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/v1/auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req model.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid request", CodeBadRequest)
		return
	}

	if err := h.svc.ForgotPassword(c.Request.Context(), req.Email, req.NationalID); err != nil {
		writeAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.MessageResponse{Status: "ok", Message: forgotPasswordMessage})
}

// ResetPassword godoc
// @Summary Reset password with a reset token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.ResetPasswordRequest true "Reset token and new password"
// @Success 200 {object} model.MessageResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 429 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/v1/auth/reset-password [post]
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req model.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid request", CodeBadRequest)
		return
	}

	if err := h.svc.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		writeAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.MessageResponse{Status: "ok", Message: "Password has been reset."})
}

// ChangePassword godoc
// @Summary Change password
// @Description Requires the current password. Ends the refresh session.
// @Tags auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body model.ChangePasswordRequest true "Current and new password"
// @Success 200 {object} model.StatusResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/v1/auth/password [put]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	user := GetAuthUser(c)
	if user == nil {
		abortError(c, http.StatusUnauthorized, "authentication required", CodeUnauthenticated)
		return
	}

	var req model.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid request", CodeBadRequest)
		return
	}

	if err := h.svc.ChangePassword(c.Request.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		writeAuthError(c, err)
		return
	}

	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, model.StatusResponse{Status: "password_changed"})
}

// Me godoc
// @Summary Get current user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.UserEnvelope
// @Failure 401 {object} model.ErrorResponse
// @Failure 423 {object} model.ErrorResponse
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	user := GetAuthUser(c)
	if user == nil {
		abortError(c, http.StatusUnauthorized, "authentication required", CodeUnauthenticated)
		return
	}

	profile, err := h.svc.Profile(c.Request.Context(), user.ID)
	if err != nil {
		writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.UserEnvelope{Status: "success", Data: profile})
}

// UpdateProfile godoc
// @Summary Update current user's name
// @Tags auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body model.ProfileUpdateRequest true "First and last name"
// @Success 200 {object} model.UserEnvelope
// @Failure 400 {object} model.ErrorResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/v1/auth/profile [put]
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	user := GetAuthUser(c)
	if user == nil {
		abortError(c, http.StatusUnauthorized, "authentication required", CodeUnauthenticated)
		return
	}

	var req model.ProfileUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid request", CodeBadRequest)
		return
	}

	profile, err := h.svc.UpdateProfile(c.Request.Context(), user.ID, model.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.UserEnvelope{Status: "success", Data: profile})
}

// Session godoc
// @Summary Describe the caller's session
// @Description Public. Reports whether the bearer token, if any, identifies a usable account.
// @Tags auth
// @Produce json
// @Success 200 {object} model.SessionResponse
// @Router /api/v1/auth/session [get]
func (h *AuthHandler) Session(c *gin.Context) {
	user := GetAuthUser(c)
	if user == nil {
		c.JSON(http.StatusOK, model.SessionResponse{Authenticated: false})
		return
	}

	profile, err := h.svc.Profile(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusOK, model.SessionResponse{Authenticated: false})
		return
	}
	c.JSON(http.StatusOK, model.SessionResponse{Authenticated: true, User: profile})
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, token string) {
	cfg := h.svc.CookieConfig()
	c.SetSameSite(cfg.SameSite)
	c.SetCookie(cfg.Name, token, cfg.MaxAge, cfg.Path, cfg.Domain, cfg.Secure, true)
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	cfg := h.svc.CookieConfig()
	c.SetSameSite(cfg.SameSite)
	c.SetCookie(cfg.Name, "", -1, cfg.Path, cfg.Domain, cfg.Secure, true)
}

func writeAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		abortError(c, http.StatusBadRequest, "invalid input", CodeBadRequest)
	case errors.Is(err, service.ErrUnauthorized):
		abortError(c, http.StatusUnauthorized, "authentication required", CodeUnauthenticated)
	case errors.Is(err, service.ErrInvalidCredentials):
		abortError(c, http.StatusUnauthorized, "invalid email or password", CodeInvalidCredentials)
	case errors.Is(err, service.ErrInvalidResetToken):
		abortError(c, http.StatusUnauthorized, "invalid or expired reset token", CodeInvalidCredentials)
	case errors.Is(err, service.ErrAccountLocked):
		abortError(c, http.StatusLocked, "account is temporarily locked", CodeLocked)
	case errors.Is(err, service.ErrForbidden):
		abortError(c, http.StatusForbidden, "forbidden", CodeForbiddenRole)
	case errors.Is(err, service.ErrNotFound):
		abortError(c, http.StatusNotFound, "user not found", CodeNotFound)
	case errors.Is(err, service.ErrConflict):
		abortError(c, http.StatusConflict, "operation not allowed on own account", CodeConflict)
	default:
		slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		abortError(c, http.StatusInternalServerError, "server error", CodeServerError)
	}
}
