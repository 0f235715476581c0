package handler

import (
	"github.com/foliodesk/backend/internal/model"
	"github.com/foliodesk/backend/internal/ratelimit"
	"github.com/foliodesk/backend/internal/service"
	"github.com/gin-gonic/gin"
)

// Rate-limit scopes for the public auth endpoints.
const (
	ScopeLogin          = "login"
	ScopeForgotPassword = "forgot"
	ScopeResetPassword  = "reset"
)

type RouterDeps struct {
	Auth           *service.AuthService
	Users          *service.UserService
	Limiter        *ratelimit.Limiter
	Health         *HealthHandler
	AllowedOrigins []string
	AllowCreds     bool
}

func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())
	router.Use(CORSMiddleware(deps.AllowedOrigins, deps.AllowCreds))

	router.GET("/", Root)
	router.GET("/ping", Ping)
	router.GET("/openapi.json", OpenAPIDoc)
	if deps.Health != nil {
		router.GET("/healthz", deps.Health.Healthz)
	}

	authHandler := NewAuthHandler(deps.Auth, deps.Limiter)
	protect := Protect(deps.Auth)

	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/login", RateLimit(deps.Limiter, ScopeLogin), authHandler.Login)
		auth.POST("/forgot-password", RateLimit(deps.Limiter, ScopeForgotPassword), authHandler.ForgotPassword)
		auth.POST("/reset-password", RateLimit(deps.Limiter, ScopeResetPassword), authHandler.ResetPassword)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", protect, authHandler.Logout)
		auth.GET("/me", protect, authHandler.Me)
		auth.PUT("/profile", protect, authHandler.UpdateProfile)
		auth.PUT("/password", protect, authHandler.ChangePassword)
		auth.GET("/session", OptionalAuth(deps.Auth), authHandler.Session)
	}

	userHandler := NewUserHandler(deps.Users)
	users := router.Group("/api/v1/users", protect)
	{
		users.GET("", Authorize(model.RoleMainAdmin, model.RoleAdmin), userHandler.ListUsers)
		users.GET("/:id", CanManageUser("id"), userHandler.GetUser)
		users.DELETE("/:id", CanDeleteUser("id"), userHandler.DeactivateUser)
		users.POST("/:id/unlock", IsMainAdmin(), userHandler.UnlockUser)
	}

	return router
}
