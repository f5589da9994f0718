package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuongbtq/relops-hardware-controller/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("not connected to RabbitMQ") }

	tests := []struct {
		name     string
		checks   map[string]HealthCheck
		wantCode int
		wantBody string
	}{
		{
			name:     "no checks",
			wantCode: http.StatusOK,
			wantBody: `{"status":"healthy","service":"hc"}`,
		},
		{
			name:     "all dependencies up",
			checks:   map[string]HealthCheck{"postgres": ok, "rabbitmq": ok},
			wantCode: http.StatusOK,
			wantBody: `{"status":"healthy","service":"hc","checks":{"postgres":"ok","rabbitmq":"ok"}}`,
		},
		{
			name:     "broker down",
			checks:   map[string]HealthCheck{"postgres": ok, "rabbitmq": down},
			wantCode: http.StatusServiceUnavailable,
			wantBody: `{"status":"unhealthy","service":"hc","checks":{"postgres":"ok","rabbitmq":"not connected to RabbitMQ"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/health", Health(&Dependencies{
				Logger:       logger.NewDiscard(),
				ServiceName:  "hc",
				HealthChecks: tt.checks,
			}))

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}
