package dto

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var taskNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

var registerOnce sync.Once

// RegisterValidators installs the custom validation tags on gin's validator
func RegisterValidators() error {
	var err error
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			err = errors.New("unexpected binding validator engine")
			return
		}

		v.RegisterTagNameFunc(fieldName)
		err = v.RegisterValidation("taskname", func(fl validator.FieldLevel) bool {
			return taskNamePattern.MatchString(fl.Field().String())
		})
	})
	return err
}

// fieldName reports validation errors under the request's own parameter names
func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"uri", "form", "json"} {
		if name, _, _ := strings.Cut(f.Tag.Get(tag), ","); name != "" && name != "-" {
			return name
		}
	}
	return f.Name
}

// SubmitJobURI is the path part of a submit request
type SubmitJobURI struct {
	WorkerID    string `uri:"worker_id" binding:"required,max=128"`
	WorkerGroup string `uri:"worker_group" binding:"required,max=128"`
}

// SubmitJobQuery is the query part of a submit request
type SubmitJobQuery struct {
	TaskName string `form:"task_name" binding:"required,taskname"`
}

type ListJobsRequest struct {
	WorkerID string `form:"worker_id" binding:"omitempty,max=128"`
	TaskName string `form:"task_name" binding:"omitempty,taskname"`
	Status   string `form:"status" binding:"omitempty,oneof=queued running succeeded failed"`
	PageSize int    `form:"page_size" binding:"omitempty,min=0"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	ID           string               `json:"id"`
	WorkerID     string               `json:"worker_id"`
	WorkerGroup  string               `json:"worker_group"`
	TaskName     string               `json:"task_name"`
	TCWorkerID   int64                `json:"tc_worker_id"`
	MachineID    int64                `json:"machine_id"`
	TaskID       string               `json:"task_id"`
	Status       string               `json:"status"`
	ResultDetail *domain.ResultDetail `json:"result_detail"`
	CreatedAt    string               `json:"created_at"`
	UpdatedAt    string               `json:"updated_at"`
}

// FromJob converts a stored job to its JSON form
func FromJob(job *domain.Job) JobDTO {
	return JobDTO{
		ID:           job.ID,
		WorkerID:     job.WorkerID,
		WorkerGroup:  job.WorkerGroup,
		TaskName:     job.TaskName,
		TCWorkerID:   job.TCWorkerID,
		MachineID:    job.MachineID,
		TaskID:       job.TaskID,
		Status:       string(job.Status),
		ResultDetail: job.ResultDetail,
		CreatedAt:    job.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:    job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// FieldErrors converts a binding error into a field -> messages map
func FieldErrors(err error) map[string][]string {
	out := map[string][]string{}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["non_field_errors"] = []string{err.Error()}
		return out
	}

	for _, fe := range verrs {
		out[fe.Field()] = append(out[fe.Field()], describe(fe))
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "taskname":
		return fmt.Sprintf("%q is not a valid task name.", fe.Value())
	case "max":
		return fmt.Sprintf("Ensure this field has no more than %s characters.", fe.Param())
	case "oneof":
		return fmt.Sprintf("%q is not a valid choice.", fe.Value())
	default:
		return fmt.Sprintf("Failed on the %q rule.", fe.Tag())
	}
}
