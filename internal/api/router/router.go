package router

import (
	"github.com/cuongbtq/relops-hardware-controller/internal/api/auth"
	"github.com/cuongbtq/relops-hardware-controller/internal/api/dto"
	"github.com/cuongbtq/relops-hardware-controller/internal/api/handler"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) (*gin.Engine, error) {
	if err := dto.RegisterValidators(); err != nil {
		return nil, err
	}

	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(deps.CORSOrigin))

	// Health check endpoint
	r.GET("/health", handler.Health(deps))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Initialize job handler
	jobHandler := handler.NewJobHandler(deps)

	jobs := r.Group("/jobs")
	{
		// OPTIONS /jobs/:worker_id/:worker_group - Preflight, no authorization
		jobs.OPTIONS("/:worker_id/:worker_group", jobHandler.Options)

		// POST /jobs/:worker_id/:worker_group?task_name= - Queue a task
		jobs.POST("/:worker_id/:worker_group",
			auth.RequireTaskScope(deps.Authorizer, deps.Logger),
			jobHandler.CreateJob,
		)

		// GET /jobs - List jobs with filtering and pagination
		jobs.GET("", jobHandler.ListJobs)

		// GET /jobs/:id - Get job status
		jobs.GET("/:id", jobHandler.GetJob)
	}

	return r, nil
}
