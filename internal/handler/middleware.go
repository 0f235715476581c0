package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/foliodesk/backend/internal/model"
	"github.com/foliodesk/backend/internal/ratelimit"
	"github.com/foliodesk/backend/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
)

const (
	authUserKey   = "auth_user"
	targetUserKey = "target_user_id"
)

// Error codes carried in the "code" field of every error body.
const (
	CodeBadRequest         = "bad_request"
	CodeMissingID          = "missing_id"
	CodeUnauthenticated    = "unauthenticated"
	CodeInvalidCredentials = "invalid_credentials"
	CodeLocked             = "locked"
	CodeForbiddenRole      = "forbidden_role"
	CodeForbiddenOwnership = "forbidden_ownership"
	CodeRateLimited        = "rate_limited"
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodeServerError        = "server_error"
)

func abortError(c *gin.Context, status int, message, code string) {
	c.JSON(status, model.ErrorResponse{Error: message, Code: code})
	c.Abort()
}

// Protect requires a valid bearer access token for an active, unlocked account.
func Protect(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			abortError(c, http.StatusUnauthorized, "authentication required", CodeUnauthenticated)
			return
		}

		user, err := authService.Authenticate(c.Request.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrAccountLocked):
				abortError(c, http.StatusLocked, "account is temporarily locked", CodeLocked)
			case errors.Is(err, service.ErrUnauthorized):
				abortError(c, http.StatusUnauthorized, "authentication required", CodeUnauthenticated)
			default:
				slog.ErrorContext(c.Request.Context(), "resolve caller failed", "error", err)
				abortError(c, http.StatusInternalServerError, "server error", CodeServerError)
			}
			return
		}

		c.Set(authUserKey, user)
		c.Next()
	}
}

// OptionalAuth attaches the caller when a usable token is present and
// otherwise lets the request through anonymously.
func OptionalAuth(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := bearerToken(c)
		if user := authService.ResolveOptional(c.Request.Context(), token); user != nil {
			c.Set(authUserKey, user)
		}
		c.Next()
	}
}

// Authorize admits callers whose role is one of roles. It must run after Protect.
func Authorize(roles ...model.Role) gin.HandlerFunc {
	allowed := make(map[model.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(c *gin.Context) {
		user := GetAuthUser(c)
		if user == nil {
			abortError(c, http.StatusUnauthorized, "authentication required", CodeUnauthenticated)
			return
		}
		if _, ok := allowed[user.Role]; !ok {
			abortError(c, http.StatusForbidden, "insufficient role", CodeForbiddenRole)
			return
		}
		c.Next()
	}
}

func IsMainAdmin() gin.HandlerFunc {
	return Authorize(model.RoleMainAdmin)
}

// CanManageUser admits the target user themselves or a main admin. The
// target comes from the route parameter, or the JSON body field userId.
func CanManageUser(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, target, ok := resolveTarget(c, param)
		if !ok {
			return
		}
		if user.ID != target && user.Role != model.RoleMainAdmin {
			abortError(c, http.StatusForbidden, "not allowed to manage this user", CodeForbiddenOwnership)
			return
		}
		c.Set(targetUserKey, target)
		c.Next()
	}
}

// CanDeleteUser admits main admins only, for any target.
func CanDeleteUser(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, target, ok := resolveTarget(c, param)
		if !ok {
			return
		}
		if user.Role != model.RoleMainAdmin {
			abortError(c, http.StatusForbidden, "not allowed to delete this user", CodeForbiddenOwnership)
			return
		}
		c.Set(targetUserKey, target)
		c.Next()
	}
}

func resolveTarget(c *gin.Context, param string) (*model.AuthUser, uuid.UUID, bool) {
	user := GetAuthUser(c)
	if user == nil {
		abortError(c, http.StatusUnauthorized, "authentication required", CodeUnauthenticated)
		return nil, uuid.Nil, false
	}

	raw := strings.TrimSpace(c.Param(param))
	if raw == "" && c.Request.ContentLength != 0 {
		var body struct {
			UserID string `json:"userId"`
		}
		// ShouldBindBodyWith keeps the body readable for the handler.
		if err := c.ShouldBindBodyWith(&body, binding.JSON); err == nil {
			raw = strings.TrimSpace(body.UserID)
		}
	}
	if raw == "" {
		abortError(c, http.StatusBadRequest, "user id is required", CodeMissingID)
		return nil, uuid.Nil, false
	}

	target, err := uuid.Parse(raw)
	if err != nil {
		abortError(c, http.StatusBadRequest, "invalid user id", CodeBadRequest)
		return nil, uuid.Nil, false
	}
	return user, target, true
}

func GetAuthUser(c *gin.Context) *model.AuthUser {
	if value, ok := c.Get(authUserKey); ok {
		if user, ok := value.(*model.AuthUser); ok {
			return user
		}
	}
	return nil
}

// GetTargetUserID returns the id checked by an ownership gate.
func GetTargetUserID(c *gin.Context) (uuid.UUID, bool) {
	if value, ok := c.Get(targetUserKey); ok {
		if id, ok := value.(uuid.UUID); ok {
			return id, true
		}
	}
	return uuid.Nil, false
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

// RateLimit counts requests per client IP under scope. Redis failures let
// the request through.
func RateLimit(limiter *ratelimit.Limiter, scope string) gin.HandlerFunc {
	logger := slog.Default().With("component", "ratelimit")

	return func(c *gin.Context) {
		if !limiter.Enabled() {
			c.Next()
			return
		}

		decision, err := limiter.Hit(c.Request.Context(), scope, c.ClientIP())
		if err != nil {
			logger.WarnContext(c.Request.Context(), "rate limiter unavailable", "scope", scope, "error", err)
			c.Next()
			return
		}

		if !decision.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(decision.RetryAfter.Round(time.Second).Seconds())))
			abortError(c, http.StatusTooManyRequests, "too many requests, try again later", CodeRateLimited)
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Next()
	}
}

func RequestLogger() gin.HandlerFunc {
	logger := slog.Default().With("component", "http")

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.InfoContext(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

func CORSMiddleware(allowedOrigins []string, allowCredentials bool) gin.HandlerFunc {
	originMap := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		originMap[trimmed] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if _, ok := originMap[origin]; ok {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				if allowCredentials {
					c.Header("Access-Control-Allow-Credentials", "true")
				}
				c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
