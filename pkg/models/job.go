package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a Job. Values are stored lowercase.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobType selects which generation capability handles a job.
type JobType string

const (
	JobTypeText  JobType = "text_generation"
	JobTypeImage JobType = "image_generation"
	JobTypeAudio JobType = "audio_generation"
)

// validTransitions maps a target status to the statuses it may be entered from.
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusProcessing: {JobStatusPending},
	JobStatusCompleted:  {JobStatusProcessing},
	JobStatusFailed:     {JobStatusPending, JobStatusProcessing},
}

// AllowedFrom returns the statuses a job may hold immediately before
// moving to status. It is empty for pending, which is only entered on creation.
func AllowedFrom(status JobStatus) []JobStatus {
	return validTransitions[status]
}

// CanTransition reports whether from -> to is a valid lifecycle step.
func CanTransition(from, to JobStatus) bool {
	for _, s := range validTransitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsActive reports whether the status counts toward the one-active-job-per-session rule.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// ParseJobStatus accepts the lowercase stored form.
func ParseJobStatus(v string) (JobStatus, error) {
	s := JobStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("invalid job status %q", v)
	}
	return s, nil
}

func (t JobType) Valid() bool {
	switch t {
	case JobTypeText, JobTypeImage, JobTypeAudio:
		return true
	}
	return false
}

func ParseJobType(v string) (JobType, error) {
	t := JobType(v)
	if !t.Valid() {
		return "", fmt.Errorf("invalid job type %q: must be one of text_generation, image_generation, audio_generation", v)
	}
	return t, nil
}

// Job is one unit of requested AI work. Clients create it with POST /api/v1/jobs
// and follow it over the WebSocket or by polling GET /api/v1/jobs/{job_id}.
type Job struct {
	ID           uuid.UUID      `db:"id"            json:"id"`
	UserID       string         `db:"user_id"       json:"user_id"`
	SessionID    *string        `db:"session_id"    json:"session_id,omitempty"`
	Type         JobType        `db:"job_type"      json:"job_type"`
	Status       JobStatus      `db:"status"        json:"status"`
	InputData    map[string]any `db:"input_data"    json:"input_data"`
	OutputData   map[string]any `db:"output_data"   json:"output_data,omitempty"`
	ArtifactURL  *string        `db:"artifact_url"  json:"artifact_url,omitempty"`
	ErrorMessage *string        `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time     `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time     `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time      `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"    json:"updated_at"`
}

// SessionKey returns the session id or "" when the job has none.
func (j *Job) SessionKey() string {
	if j.SessionID == nil {
		return ""
	}
	return *j.SessionID
}
