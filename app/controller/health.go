package controller

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 3 * time.Second

type dependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status       string                      `json:"status"`
	Dependencies map[string]dependencyStatus `json:"dependencies"`
}

type HealthController struct {
	checks map[string]func(ctx context.Context) error
}

// NewHealthController probes MySQL, and Redis when rdb is not nil.
func NewHealthController(db *sql.DB, rdb *redis.Client) *HealthController {
	checks := map[string]func(ctx context.Context) error{
		"mysql": db.PingContext,
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	}
	return &HealthController{checks: checks}
}

func (h *HealthController) Liveness(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthController) Readiness(ctx echo.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx.Request().Context(), readinessTimeout)
	defer cancel()

	deps := make(map[string]dependencyStatus, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check(checkCtx); err != nil {
			deps[name] = dependencyStatus{Status: "unhealthy", Error: err.Error()}
			healthy = false
			continue
		}
		deps[name] = dependencyStatus{Status: "ok"}
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	return ctx.JSON(code, readinessResponse{Status: status, Dependencies: deps})
}
