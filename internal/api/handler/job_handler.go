package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/relops-hardware-controller/internal/api/auth"
	"github.com/cuongbtq/relops-hardware-controller/internal/api/dispatcher"
	"github.com/cuongbtq/relops-hardware-controller/internal/api/dto"
	"github.com/cuongbtq/relops-hardware-controller/internal/api/storage"
	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /jobs/:worker_id/:worker_group?task_name=<name>
// Queues a remediation task against the machine the worker runs on
func (h *JobHandler) CreateJob(c *gin.Context) {
	var uri dto.SubmitJobURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, dto.FieldErrors(err))
		return
	}

	var query dto.SubmitJobQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, dto.FieldErrors(err))
		return
	}

	h.logger.Info("CreateJob called",
		slog.String("worker_id", uri.WorkerID),
		slog.String("worker_group", uri.WorkerGroup),
		slog.String("task_name", query.TaskName),
		slog.String("client_id", c.GetString(auth.ClientIDKey)),
	)

	job, err := h.jobs.Submit(c.Request.Context(), dispatcher.SubmitRequest{
		WorkerID:    uri.WorkerID,
		WorkerGroup: uri.WorkerGroup,
		TaskName:    query.TaskName,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidTask):
			c.JSON(http.StatusBadRequest, gin.H{
				"task_name": []string{fmt.Sprintf("%q is not a valid choice.", query.TaskName)},
			})
		case errors.Is(err, domain.ErrWorkerNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"tc_worker_id": "TC worker with that ID not found.",
			})
		case errors.Is(err, domain.ErrMachineNotManaged):
			c.JSON(http.StatusNotFound, gin.H{
				"tc_worker_id": "Not managing hardware running that TC worker.",
			})
		case errors.Is(err, domain.ErrMachineBusy):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Machine already has a job in progress",
			})
		case errors.Is(err, domain.ErrScheduleFailed):
			h.logger.Error("Failed to schedule job", slog.String("error", err.Error()))
			c.JSON(http.StatusBadGateway, gin.H{
				"error": "Failed to schedule job",
			})
		default:
			h.logger.Error("Failed to create job", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create job",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, dto.FromJob(job))
}

// Options handles OPTIONS /jobs/:worker_id/:worker_group
// Answers cross-origin preflight with an empty 200
func (h *JobHandler) Options(c *gin.Context) {
	c.Status(http.StatusOK)
}

// GetJob handles GET /jobs/:id
// Retrieves the current state of a job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("id")

	job, err := h.jobs.Status(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Not found.",
			})
			return
		}

		h.logger.Error("Failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// ListJobs handles GET /jobs
// Lists jobs newest first with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.FieldErrors(err))
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"cursor": []string{"Invalid cursor."},
		})
		return
	}

	jobs, err := h.jobs.List(c.Request.Context(), storage.JobFilter{
		WorkerID: req.WorkerID,
		TaskName: req.TaskName,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	// One extra row signals another page
	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i := range jobs {
		resp.Jobs[i] = dto.FromJob(&jobs[i])
	}

	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
	}

	c.JSON(http.StatusOK, resp)
}
