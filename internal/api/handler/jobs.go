package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/genqueue/internal/api/middleware"
	"github.com/kiranshivaraju/genqueue/internal/api/response"
	"github.com/kiranshivaraju/genqueue/internal/jobs"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// JobService defines the job operations the user-facing handlers depend on.
type JobService interface {
	CreateJob(ctx context.Context, params jobs.CreateJobParams) (*models.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ActiveJob(ctx context.Context, userID, sessionID string) (*models.Job, error)
	ListJobsForUser(ctx context.Context, userID string, page store.Page) ([]*models.Job, error)
}

type createJobRequest struct {
	JobType   string         `json:"job_type"`
	InputData map[string]any `json:"input_data"`
	SessionID *string        `json:"session_id"`
}

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewCreateJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var req createJobRequest
		if err := response.Decode(r, &req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
		jobType, err := models.ParseJobType(req.JobType)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
		if req.InputData == nil {
			req.InputData = map[string]any{}
		}

		job, err := svc.CreateJob(r.Context(), jobs.CreateJobParams{
			UserID:    userID,
			SessionID: req.SessionID,
			JobType:   jobType,
			InputData: req.InputData,
		})
		if err != nil {
			var conflict *jobs.ActiveJobExistsError
			switch {
			case errors.As(err, &conflict):
				details := map[string]any{"session_id": conflict.SessionID}
				if conflict.ExistingJobID != uuid.Nil {
					details["existing_job_id"] = conflict.ExistingJobID.String()
				}
				response.Error(w, http.StatusConflict, "ACTIVE_JOB_EXISTS",
					"An active job already exists for this session", details)
			case errors.Is(err, jobs.ErrEnqueueFailed):
				response.Error(w, http.StatusServiceUnavailable, "ENQUEUE_FAILED",
					"Failed to enqueue job for processing", nil)
			case errors.Is(err, jobs.ErrInvalidJob):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			default:
				internalError(w)
			}
			return
		}

		response.Created(w, job)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		page, ok := parsePage(w, r)
		if !ok {
			return
		}

		list, err := svc.ListJobsForUser(r.Context(), userID, page)
		if err != nil {
			internalError(w)
			return
		}
		writeJobs(w, list, page)
	}
}

// NewActiveJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/active.
func NewActiveJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "session_id is required", nil)
			return
		}

		job, err := svc.ActiveJob(r.Context(), userID, sessionID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "No active job for this session", nil)
		case err != nil:
			internalError(w)
		default:
			response.JSON(w, job)
		}
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
// Jobs owned by another user are reported as missing.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}

		job, err := svc.GetJob(r.Context(), id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			jobNotFound(w)
		case err != nil:
			internalError(w)
		case job.UserID != userID:
			jobNotFound(w)
		default:
			response.JSON(w, job)
		}
	}
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// parsePage reads skip and limit. Missing values fall back to the store
// defaults.
func parsePage(w http.ResponseWriter, r *http.Request) (store.Page, bool) {
	var page store.Page
	q := r.URL.Query()
	for name, dst := range map[string]*int{"skip": &page.Skip, "limit": &page.Limit} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				name+" must be a non-negative integer", nil)
			return store.Page{}, false
		}
		*dst = n
	}
	return page.Normalize(), true
}

func writeJobs(w http.ResponseWriter, list []*models.Job, page store.Page) {
	if list == nil {
		list = []*models.Job{}
	}
	response.Collection(w, list, response.PaginationMeta{
		Skip:    page.Skip,
		Limit:   page.Limit,
		Count:   len(list),
		HasMore: len(list) == page.Limit,
	})
}

func jobNotFound(w http.ResponseWriter) {
	response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
}

func internalError(w http.ResponseWriter) {
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
		"An unexpected error occurred", nil)
}
