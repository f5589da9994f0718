package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuongbtq/relops-hardware-controller/internal/api/auth"
	"github.com/cuongbtq/relops-hardware-controller/internal/api/dispatcher"
	"github.com/cuongbtq/relops-hardware-controller/internal/api/handler"
	"github.com/cuongbtq/relops-hardware-controller/internal/api/storage"
	"github.com/cuongbtq/relops-hardware-controller/internal/config"
	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
	"github.com/cuongbtq/relops-hardware-controller/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const jobID = "6f1c2a52-3b7e-4f7e-9d0a-2f5b8c1e4a10"

type mockJobs struct {
	mock.Mock
}

func (m *mockJobs) Submit(ctx context.Context, req dispatcher.SubmitRequest) (*domain.Job, error) {
	args := m.Called(ctx, req)
	job, _ := args.Get(0).(*domain.Job)
	return job, args.Error(1)
}

func (m *mockJobs) Status(ctx context.Context, id string) (*domain.Job, error) {
	args := m.Called(ctx, id)
	job, _ := args.Get(0).(*domain.Job)
	return job, args.Error(1)
}

func (m *mockJobs) List(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error) {
	args := m.Called(ctx, filter)
	jobs, _ := args.Get(0).([]domain.Job)
	return jobs, args.Error(1)
}

func queuedJob() *domain.Job {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Job{
		ID:          jobID,
		WorkerID:    "ms-042",
		WorkerGroup: "mdc1",
		TaskName:    "reboot",
		TCWorkerID:  11,
		MachineID:   22,
		TaskID:      "0c4d3f1e-9a8b-4c7d-8e6f-5a4b3c2d1e0f",
		Status:      domain.JobStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func newTestRouter(t *testing.T, jobs handler.JobService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	controller := config.ControllerConfig{
		ServiceName: "relops-hardware-controller",
		TaskNames:   []string{"reboot"},
		CORSOrigin:  "https://tools.taskcluster.net",
	}
	authorizer := auth.New(config.AuthConfig{Clients: []config.AuthClient{
		{ClientID: "ci", AccessToken: "good-token", Scopes: []string{"project:relops-hardware-controller:reboot"}},
	}}, controller)

	r, err := SetupRouter(&handler.Dependencies{
		Logger:      logger.NewDiscard(),
		Jobs:        jobs,
		Authorizer:  authorizer,
		ServiceName: controller.ServiceName,
		CORSOrigin:  controller.CORSOrigin,
	})
	require.NoError(t, err)
	return r
}

func do(r http.Handler, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateJob(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		token      string
		submitErr  error
		callSubmit bool
		wantStatus int
		wantBody   map[string]any
	}{
		{
			name:       "created",
			target:     "/jobs/ms-042/mdc1?task_name=reboot",
			token:      "good-token",
			callSubmit: true,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "no credentials",
			target:     "/jobs/ms-042/mdc1?task_name=reboot",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing task name",
			target:     "/jobs/ms-042/mdc1",
			token:      "good-token",
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]any{"task_name": []any{"This field is required."}},
		},
		{
			name:       "task not allow-listed",
			target:     "/jobs/ms-042/mdc1?task_name=reimage",
			token:      "good-token",
			submitErr:  domain.ErrInvalidTask,
			callSubmit: true,
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]any{"task_name": []any{`"reimage" is not a valid choice.`}},
		},
		{
			name:       "unknown worker",
			target:     "/jobs/ms-042/mdc1?task_name=reboot",
			token:      "good-token",
			submitErr:  domain.ErrWorkerNotFound,
			callSubmit: true,
			wantStatus: http.StatusNotFound,
			wantBody:   map[string]any{"tc_worker_id": "TC worker with that ID not found."},
		},
		{
			name:       "worker without hardware",
			target:     "/jobs/ms-042/mdc1?task_name=reboot",
			token:      "good-token",
			submitErr:  domain.ErrMachineNotManaged,
			callSubmit: true,
			wantStatus: http.StatusNotFound,
			wantBody:   map[string]any{"tc_worker_id": "Not managing hardware running that TC worker."},
		},
		{
			name:       "machine busy",
			target:     "/jobs/ms-042/mdc1?task_name=reboot",
			token:      "good-token",
			submitErr:  domain.ErrMachineBusy,
			callSubmit: true,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "queue unavailable",
			target:     "/jobs/ms-042/mdc1?task_name=reboot",
			token:      "good-token",
			submitErr:  fmt.Errorf("%w: not connected to RabbitMQ", domain.ErrScheduleFailed),
			callSubmit: true,
			wantStatus: http.StatusBadGateway,
			wantBody:   map[string]any{"error": "Failed to schedule job"},
		},
		{
			name:       "unexpected error",
			target:     "/jobs/ms-042/mdc1?task_name=reboot",
			token:      "good-token",
			submitErr:  errors.New("failed to create job: connection reset"),
			callSubmit: true,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := &mockJobs{}
			if tt.callSubmit {
				var job *domain.Job
				if tt.submitErr == nil {
					job = queuedJob()
				}
				jobs.On("Submit", mock.Anything, mock.AnythingOfType("dispatcher.SubmitRequest")).Return(job, tt.submitErr)
			}

			w := do(newTestRouter(t, jobs), http.MethodPost, tt.target, tt.token)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != nil {
				var body map[string]any
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, tt.wantBody, body)
			}
			if tt.wantStatus == http.StatusCreated {
				var body map[string]any
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, jobID, body["id"])
				assert.Equal(t, "queued", body["status"])
				assert.Equal(t, "ms-042", body["worker_id"])
				assert.Equal(t, "mdc1", body["worker_group"])
				assert.EqualValues(t, 11, body["tc_worker_id"])
				assert.EqualValues(t, 22, body["machine_id"])
				assert.NotEmpty(t, body["task_id"])
				jobs.AssertCalled(t, "Submit", mock.Anything, dispatcher.SubmitRequest{
					WorkerID: "ms-042", WorkerGroup: "mdc1", TaskName: "reboot",
				})
			}
			if !tt.callSubmit {
				jobs.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestOptions(t *testing.T) {
	w := do(newTestRouter(t, &mockJobs{}), http.MethodOptions, "/jobs/ms-042/mdc1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "https://tools.taskcluster.net", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestGetJob(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		jobs := &mockJobs{}
		jobs.On("Status", mock.Anything, jobID).Return(queuedJob(), nil)
		r := newTestRouter(t, jobs)

		first := do(r, http.MethodGet, "/jobs/"+jobID, "")
		second := do(r, http.MethodGet, "/jobs/"+jobID, "")

		assert.Equal(t, http.StatusOK, first.Code)
		assert.JSONEq(t, first.Body.String(), second.Body.String())
	})

	t.Run("not found", func(t *testing.T) {
		jobs := &mockJobs{}
		jobs.On("Status", mock.Anything, "nope").Return(nil, domain.ErrJobNotFound)

		w := do(newTestRouter(t, jobs), http.MethodGet, "/jobs/nope", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestListJobs(t *testing.T) {
	first := *queuedJob()
	second := *queuedJob()
	second.ID = "7a2d3b63-4c8f-4a8f-8e1b-3a6c9d2f5b21"
	second.CreatedAt = first.CreatedAt.Add(-time.Minute)
	extra := *queuedJob()
	extra.ID = "8b3e4c74-5d9a-4b9a-9f2c-4b7dae3a6c32"

	jobs := &mockJobs{}
	jobs.On("List", mock.Anything, mock.MatchedBy(func(f storage.JobFilter) bool {
		return f.PageSize == 2 && f.Status == "queued" && f.Cursor == nil
	})).Return([]domain.Job{first, second, extra}, nil)

	w := do(newTestRouter(t, jobs), http.MethodGet, "/jobs?status=queued&page_size=2", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Jobs       []map[string]any `json:"jobs"`
		NextCursor string           `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Jobs, 2)
	assert.Equal(t, second.ID, body.Jobs[1]["id"])
	require.NotEmpty(t, body.NextCursor)

	cursor, err := handler.DecodeJobCursor(body.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, second.ID, cursor.JobID)
	assert.True(t, second.CreatedAt.Equal(cursor.CreatedAt))
}

func TestListJobs_BadInput(t *testing.T) {
	r := newTestRouter(t, &mockJobs{})

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/jobs?status=exploded", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/jobs?cursor=@@@", "").Code)
}

func TestHealth(t *testing.T) {
	w := do(newTestRouter(t, &mockJobs{}), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"relops-hardware-controller"}`, w.Body.String())
}

func TestMetrics(t *testing.T) {
	w := do(newTestRouter(t, &mockJobs{}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
