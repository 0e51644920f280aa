package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidTransition is returned when a job is not in a status the
// requested transition may start from. The row is left untouched.
var ErrInvalidTransition = errors.New("invalid job status transition")

const (
	defaultPageLimit = 100
	maxPageLimit     = 500
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	Close()

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	// InsertJob stores a new pending job, assigning ID and timestamps when unset.
	// A second active job for the same (user_id, session_id) yields ErrDuplicateKey.
	InsertJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// FindActiveJob returns the most recent pending or processing job for the pair.
	FindActiveJob(ctx context.Context, userID, sessionID string) (*models.Job, error)
	ListJobsByUser(ctx context.Context, userID string, page Page) ([]*models.Job, error)
	ListJobsByStatus(ctx context.Context, status models.JobStatus, page Page) ([]*models.Job, error)
	// ListStaleJobs returns jobs in status whose last transition happened before cutoff.
	ListStaleJobs(ctx context.Context, status models.JobStatus, cutoff time.Time, limit int) ([]*models.Job, error)
	// UpdateJobStatus moves a job to status only if its current status is one
	// the transition may start from, and returns the updated row.
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...JobUpdateOption) (*models.Job, error)

	// CreateUser stores a new active user, setting timestamps. An existing
	// id yields ErrDuplicateKey.
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	// UpdateUser applies the non-nil fields of upd and returns the updated row.
	UpdateUser(ctx context.Context, id string, upd models.UserUpdate) (*models.User, error)
	ListUsers(ctx context.Context, page Page) ([]*models.User, error)
}

// Page selects a window of a newest-first listing.
type Page struct {
	Skip  int
	Limit int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	return p
}

// JobUpdate holds the optional fields a status update writes.
type JobUpdate struct {
	ErrorMessage *string
	OutputData   map[string]any
	ArtifactURL  *string
}

type JobUpdateOption func(*JobUpdate)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ErrorMessage = &msg
	}
}

func WithOutput(data map[string]any) JobUpdateOption {
	return func(p *JobUpdate) {
		p.OutputData = data
	}
}

func WithArtifactURL(url string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ArtifactURL = &url
	}
}

// CollectJobUpdate applies opts to an empty JobUpdate.
func CollectJobUpdate(opts []JobUpdateOption) *JobUpdate {
	params := &JobUpdate{}
	for _, opt := range opts {
		opt(params)
	}
	return params
}

// prepareUser fills in the fields CreateUser owns.
func prepareUser(user *models.User) {
	now := time.Now().UTC()
	user.IsActive = true
	user.CreatedAt = now
	user.UpdatedAt = now
}

// prepareJob fills in the fields InsertJob owns.
func prepareJob(job *models.Job) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now().UTC()
	job.Status = models.JobStatusPending
	job.CreatedAt = now
	job.UpdatedAt = now
	job.StartedAt = nil
	job.CompletedAt = nil
	if job.InputData == nil {
		job.InputData = map[string]any{}
	}
}

func allowedFromStrings(status models.JobStatus) []string {
	from := models.AllowedFrom(status)
	out := make([]string, len(from))
	for i, s := range from {
		out[i] = string(s)
	}
	return out
}
