// Package jobs owns the job lifecycle: creation under the one-active-job-per
// session rule, status transitions, and the synchronous run that drives a
// job through the generation capability.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genqueue/internal/metrics"
	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

const (
	enqueueFailedMessage = "Failed to enqueue job for processing"
	queuedMessage        = "Job queued"
	failedMessage        = "Job failed"

	writeTimeout = 10 * time.Second
)

var (
	ErrEnqueueFailed = errors.New("failed to enqueue job")
	ErrInvalidJob    = errors.New("invalid job request")
	ErrInvalidStatus = errors.New("invalid job status")

	// ErrSoftTimeLimit is the cancellation cause the worker attaches to the
	// run context when the soft time limit expires.
	ErrSoftTimeLimit = errors.New("soft time limit exceeded")

	// ErrNotPending means the run found the job already claimed or finished,
	// typically because the delivery was redelivered or a reaper got there first.
	ErrNotPending = errors.New("job is no longer pending")

	ErrNoGenerator = errors.New("no generation capability configured")
)

// ActiveJobExistsError rejects a create while the session already has a
// pending or processing job.
type ActiveJobExistsError struct {
	ExistingJobID uuid.UUID
	SessionID     string
}

func (e *ActiveJobExistsError) Error() string {
	return fmt.Sprintf("session %q already has active job %s", e.SessionID, e.ExistingJobID)
}

// Dispatcher hands a created job to the worker pool.
type Dispatcher interface {
	Enqueue(ctx context.Context, jobID string, payload queue.Payload) bool
}

// Publisher announces status changes. Implementations never fail the caller.
type Publisher interface {
	PublishStatus(ctx context.Context, job *models.Job, status models.JobStatus, message string)
}

// CreateJobParams describes a job request.
type CreateJobParams struct {
	UserID    string
	SessionID *string
	JobType   models.JobType
	InputData map[string]any
}

// Orchestrator coordinates the job store, the dispatcher, the notification
// publisher and the generation capability. The API process builds one
// without a generator, the worker process one without a dispatcher.
type Orchestrator struct {
	store      store.Store
	dispatcher Dispatcher
	publisher  Publisher
	generator  models.Generator
	logger     *slog.Logger
}

func NewOrchestrator(s store.Store, d Dispatcher, p Publisher, g models.Generator, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: s, dispatcher: d, publisher: p, generator: g, logger: logger}
}

// CreateJob persists a pending job and enqueues it. When the broker refuses
// the delivery the job is failed and ErrEnqueueFailed is returned.
func (o *Orchestrator) CreateJob(ctx context.Context, params CreateJobParams) (*models.Job, error) {
	if params.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidJob)
	}
	if !params.JobType.Valid() {
		return nil, fmt.Errorf("%w: unknown job type %q", ErrInvalidJob, params.JobType)
	}
	if params.SessionID != nil && *params.SessionID == "" {
		params.SessionID = nil
	}

	if params.SessionID != nil {
		existing, err := o.store.FindActiveJob(ctx, params.UserID, *params.SessionID)
		switch {
		case err == nil:
			return nil, &ActiveJobExistsError{ExistingJobID: existing.ID, SessionID: *params.SessionID}
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("check active job: %w", err)
		}
	}

	job := &models.Job{
		UserID:    params.UserID,
		SessionID: params.SessionID,
		Type:      params.JobType,
		InputData: params.InputData,
	}
	if err := o.store.InsertJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) && params.SessionID != nil {
			return nil, o.activeJobConflict(ctx, params.UserID, *params.SessionID)
		}
		return nil, fmt.Errorf("insert job: %w", err)
	}
	metrics.JobsCreatedTotal.WithLabelValues(string(job.Type)).Inc()

	o.logger.Info("job created", "job_id", job.ID, "user_id", job.UserID,
		"session_id", job.SessionKey(), "job_type", job.Type)
	o.publish(ctx, job, models.JobStatusPending, queuedMessage)

	if !o.dispatcher.Enqueue(ctx, job.ID.String(), queue.PayloadFor(job)) {
		metrics.EnqueueFailuresTotal.Inc()
		wctx, cancel := detached(ctx)
		defer cancel()

		failed, err := o.store.UpdateJobStatus(wctx, job.ID, models.JobStatusFailed,
			store.WithErrorMessage(enqueueFailedMessage))
		if err != nil {
			o.logger.Error("fail unenqueued job", "job_id", job.ID, "error", err)
			return nil, fmt.Errorf("%w: job %s: %w", ErrEnqueueFailed, job.ID, err)
		}
		o.publish(wctx, failed, models.JobStatusFailed, enqueueFailedMessage)
		return nil, fmt.Errorf("%w: job %s", ErrEnqueueFailed, job.ID)
	}

	return job, nil
}

// activeJobConflict builds the conflict error after the partial unique index
// rejected an insert that raced past the pre-check.
func (o *Orchestrator) activeJobConflict(ctx context.Context, userID, sessionID string) error {
	existing, err := o.store.FindActiveJob(ctx, userID, sessionID)
	if err != nil {
		// The other job finished in between; report the conflict without an id.
		return &ActiveJobExistsError{SessionID: sessionID}
	}
	return &ActiveJobExistsError{ExistingJobID: existing.ID, SessionID: sessionID}
}

func (o *Orchestrator) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return o.store.GetJob(ctx, id)
}

// ActiveJob returns the newest pending or processing job for the session,
// or store.ErrNotFound.
func (o *Orchestrator) ActiveJob(ctx context.Context, userID, sessionID string) (*models.Job, error) {
	return o.store.FindActiveJob(ctx, userID, sessionID)
}

func (o *Orchestrator) ListJobsForUser(ctx context.Context, userID string, page store.Page) ([]*models.Job, error) {
	return o.store.ListJobsByUser(ctx, userID, page)
}

func (o *Orchestrator) ListJobsByStatus(ctx context.Context, status models.JobStatus, page store.Page) ([]*models.Job, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return o.store.ListJobsByStatus(ctx, status, page)
}

// UpdateStatus moves a job to status and announces it. Terminal jobs and
// transitions outside the state machine yield store.ErrInvalidTransition and
// leave the job untouched.
func (o *Orchestrator) UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...store.JobUpdateOption) (*models.Job, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	opts, err := checkUpdateFields(status, opts)
	if err != nil {
		return nil, err
	}

	current, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: job %s is already %s", store.ErrInvalidTransition, id, current.Status)
	}

	job, err := o.store.UpdateJobStatus(ctx, id, status, opts...)
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("Job status updated to %s", status)
	if job.ErrorMessage != nil && status == models.JobStatusFailed {
		msg = *job.ErrorMessage
	}
	o.publish(ctx, job, status, msg)
	return job, nil
}

// checkUpdateFields rejects fields the target status does not own: output
// and artifact belong to COMPLETED, the error message to FAILED. A FAILED
// update without a message gets failedMessage.
func checkUpdateFields(status models.JobStatus, opts []store.JobUpdateOption) ([]store.JobUpdateOption, error) {
	u := store.CollectJobUpdate(opts)
	if (u.OutputData != nil || u.ArtifactURL != nil) && status != models.JobStatusCompleted {
		return nil, fmt.Errorf("%w: output_data and artifact_url are only set on %s", ErrInvalidJob, models.JobStatusCompleted)
	}
	if u.ErrorMessage != nil && status != models.JobStatusFailed {
		return nil, fmt.Errorf("%w: error_message is only set on %s", ErrInvalidJob, models.JobStatusFailed)
	}
	if status == models.JobStatusFailed && (u.ErrorMessage == nil || *u.ErrorMessage == "") {
		opts = append(opts, store.WithErrorMessage(failedMessage))
	}
	return opts, nil
}

// Process drives job id through PROCESSING to a terminal state and reports
// whether the capability succeeded. Capability errors are recorded on the job
// and are not returned; store failures and cancellation are.
func (o *Orchestrator) Process(ctx context.Context, id uuid.UUID) (bool, error) {
	job, err := o.Run(ctx, id)
	if err != nil {
		return false, err
	}
	return job.Status == models.JobStatusCompleted, nil
}

// Run is Process returning the final job row. It publishes nothing; the
// caller owns the notifications for the run.
//
// When ctx ends during the capability call no terminal state is written: a
// soft-limit cause is returned as ErrSoftTimeLimit, anything else as the
// context's cause.
func (o *Orchestrator) Run(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	if o.generator == nil {
		return nil, ErrNoGenerator
	}

	job, err := o.store.UpdateJobStatus(ctx, id, models.JobStatusProcessing)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: %w", ErrNotPending, err)
		}
		return nil, fmt.Errorf("start job %s: %w", id, err)
	}

	result, genErr := o.generator.Generate(ctx, job.Type, job.InputData)
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		if errors.Is(cause, ErrSoftTimeLimit) {
			return job, ErrSoftTimeLimit
		}
		return job, fmt.Errorf("run job %s: %w", id, cause)
	}

	wctx, cancel := detached(ctx)
	defer cancel()

	var final *models.Job
	if genErr != nil {
		o.logger.Warn("generation failed", "job_id", id, "provider", o.generator.Name(), "error", genErr)
		final, err = o.store.UpdateJobStatus(wctx, id, models.JobStatusFailed,
			store.WithErrorMessage(genErr.Error()))
	} else {
		opts := []store.JobUpdateOption{store.WithOutput(result.OutputData)}
		if result.ArtifactURL != nil {
			opts = append(opts, store.WithArtifactURL(*result.ArtifactURL))
		}
		final, err = o.store.UpdateJobStatus(wctx, id, models.JobStatusCompleted, opts...)
	}
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: %w", ErrNotPending, err)
		}
		return nil, fmt.Errorf("finish job %s: %w", id, err)
	}
	return final, nil
}

// Fail marks an active job FAILED with message and announces it. It is a
// no-op returning store.ErrInvalidTransition when the job is already terminal.
func (o *Orchestrator) Fail(ctx context.Context, id uuid.UUID, message string) (*models.Job, error) {
	wctx, cancel := detached(ctx)
	defer cancel()

	job, err := o.store.UpdateJobStatus(wctx, id, models.JobStatusFailed, store.WithErrorMessage(message))
	if err != nil {
		return nil, err
	}
	o.publish(wctx, job, models.JobStatusFailed, message)
	return job, nil
}

// Announce publishes status for job through the configured publisher.
func (o *Orchestrator) Announce(ctx context.Context, job *models.Job, status models.JobStatus, message string) {
	o.publish(ctx, job, status, message)
}

func (o *Orchestrator) publish(ctx context.Context, job *models.Job, status models.JobStatus, message string) {
	if o.publisher == nil {
		return
	}
	o.publisher.PublishStatus(ctx, job, status, message)
}

// detached returns a context for store writes that must land even when the
// run context was cancelled.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
}
