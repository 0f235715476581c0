package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/foliodesk/backend/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type redisPinger struct {
	client redis.UniversalClient
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func RedisPinger(client redis.UniversalClient) Pinger {
	if client == nil {
		return nil
	}
	return redisPinger{client: client}
}

type HealthHandler struct {
	postgres Pinger
	redis    Pinger
}

func NewHealthHandler(postgres, redis Pinger) *HealthHandler {
	return &HealthHandler{postgres: postgres, redis: redis}
}

// Ping godoc
// @Summary Liveness probe
// @Tags health
// @Produce json
// @Success 200 {object} model.PingResponse
// @Router /ping [get]
func Ping(c *gin.Context) {
	c.JSON(http.StatusOK, model.PingResponse{Message: "pong"})
}

// Root godoc
// @Summary Service banner
// @Tags health
// @Produce json
// @Success 200 {object} model.RootResponse
// @Router / [get]
func Root(c *gin.Context) {
	c.JSON(http.StatusOK, model.RootResponse{
		Status:  "ok",
		Message: "foliodesk API is running",
	})
}

// Healthz godoc
// @Summary Readiness probe
// @Description Pings Postgres and Redis. Redis is reported as "disabled" when not configured.
// @Tags health
// @Produce json
// @Success 200 {object} model.HealthResponse
// @Failure 503 {object} model.HealthResponse
// @Router /healthz [get]
func (h *HealthHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := model.HealthResponse{
		Status:   "ok",
		Postgres: probe(ctx, h.postgres),
		Redis:    probe(ctx, h.redis),
	}

	status := http.StatusOK
	if resp.Postgres == "down" || resp.Redis == "down" {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func probe(ctx context.Context, p Pinger) string {
	if p == nil {
		return "disabled"
	}
	if err := p.Ping(ctx); err != nil {
		return "down"
	}
	return "up"
}
