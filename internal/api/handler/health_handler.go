package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheck reports whether one dependency is usable
type HealthCheck func(ctx context.Context) error

// Health handles GET /health. It answers 503 when any dependency check fails.
func Health(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status":  "healthy",
			"service": deps.ServiceName,
		}

		if len(deps.HealthChecks) == 0 {
			c.JSON(http.StatusOK, body)
			return
		}

		status := http.StatusOK
		checks := make(map[string]string, len(deps.HealthChecks))
		for name, check := range deps.HealthChecks {
			if err := check(c.Request.Context()); err != nil {
				deps.Logger.Warn("Health check failed",
					slog.String("check", name),
					slog.String("error", err.Error()),
				)
				checks[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}

		if status != http.StatusOK {
			body["status"] = "unhealthy"
		}
		body["checks"] = checks
		c.JSON(status, body)
	}
}
