package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genqueue/internal/api/response"
	"github.com/kiranshivaraju/genqueue/internal/jobs"
	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// AdminService defines the operator job operations.
type AdminService interface {
	ListJobsByStatus(ctx context.Context, status models.JobStatus, page store.Page) ([]*models.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...store.JobUpdateOption) (*models.Job, error)
}

// StatusReporter reports the dispatch queue's state.
type StatusReporter interface {
	Status(ctx context.Context) (queue.Status, error)
}

// NewAdminListJobsHandler returns an http.HandlerFunc for GET /api/v1/admin/jobs.
func NewAdminListJobsHandler(svc AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := models.ParseJobStatus(r.URL.Query().Get("status"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"status must be one of pending, processing, completed, failed", nil)
			return
		}
		page, ok := parsePage(w, r)
		if !ok {
			return
		}

		list, err := svc.ListJobsByStatus(r.Context(), status, page)
		if err != nil {
			internalError(w)
			return
		}
		writeJobs(w, list, page)
	}
}

type updateStatusRequest struct {
	Status       string         `json:"status"`
	ErrorMessage *string        `json:"error_message"`
	OutputData   map[string]any `json:"output_data"`
	ArtifactURL  *string        `json:"artifact_url"`
}

// NewUpdateStatusHandler returns an http.HandlerFunc for
// PATCH /api/v1/admin/jobs/{jobID}/status.
func NewUpdateStatusHandler(svc AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}

		var req updateStatusRequest
		if err := response.Decode(r, &req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
		status, err := models.ParseJobStatus(req.Status)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}

		var opts []store.JobUpdateOption
		if req.ErrorMessage != nil {
			opts = append(opts, store.WithErrorMessage(*req.ErrorMessage))
		}
		if req.OutputData != nil {
			opts = append(opts, store.WithOutput(req.OutputData))
		}
		if req.ArtifactURL != nil {
			opts = append(opts, store.WithArtifactURL(*req.ArtifactURL))
		}

		job, err := svc.UpdateStatus(r.Context(), id, status, opts...)
		switch {
		case errors.Is(err, store.ErrNotFound):
			jobNotFound(w)
		case errors.Is(err, store.ErrInvalidTransition):
			response.Error(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
		case errors.Is(err, jobs.ErrInvalidStatus), errors.Is(err, jobs.ErrInvalidJob):
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		case err != nil:
			internalError(w)
		default:
			response.JSON(w, job)
		}
	}
}

// NewQueueStatusHandler returns an http.HandlerFunc for GET /api/v1/admin/queue.
// A broker error is reported inside the status body, not as a failed request.
func NewQueueStatusHandler(q StatusReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, _ := q.Status(r.Context())
		response.JSON(w, st)
	}
}
