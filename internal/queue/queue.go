// Package queue dispatches job deliveries to workers through a single named
// Redis queue with late acknowledgement and at-least-once delivery.
package queue

import (
	"errors"
	"time"

	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// ErrDeliveriesExhausted is returned by Requeue when the delivery has used
// every attempt it is allowed.
var ErrDeliveriesExhausted = errors.New("delivery attempts exhausted")

// Payload is the message a worker needs to process a job.
type Payload struct {
	JobID     string         `json:"job_id"`
	JobType   models.JobType `json:"job_type"`
	InputData map[string]any `json:"input_data"`
	UserID    string         `json:"user_id"`
	SessionID *string        `json:"session_id,omitempty"`
}

// PayloadFor builds the payload for a freshly created job.
func PayloadFor(job *models.Job) Payload {
	return Payload{
		JobID:     job.ID.String(),
		JobType:   job.Type,
		InputData: job.InputData,
		UserID:    job.UserID,
		SessionID: job.SessionID,
	}
}

// Delivery is one attempt at handing a payload to a worker. Each enqueue
// gets a fresh ULID; a requeue keeps the ID and bumps Attempt.
type Delivery struct {
	ID            string    `json:"id"`
	Queue         string    `json:"queue"`
	Payload       Payload   `json:"payload"`
	Attempt       int       `json:"attempt"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	SoftLimitSecs int       `json:"soft_time_limit"`
	HardLimitSecs int       `json:"hard_time_limit"`
}

func (d Delivery) SoftLimit() time.Duration {
	return time.Duration(d.SoftLimitSecs) * time.Second
}

func (d Delivery) HardLimit() time.Duration {
	return time.Duration(d.HardLimitSecs) * time.Second
}

// Reservation is a delivery held in a worker's processing list. It stays
// there until the worker calls Ack or Requeue.
type Reservation struct {
	Delivery
	WorkerID string

	raw string
}

// Status is a point-in-time view of the queue.
type Status struct {
	ActiveTasks    int                       `json:"active_tasks"`
	ScheduledTasks int                       `json:"scheduled_tasks"`
	ReservedTasks  int                       `json:"reserved_tasks"`
	Active         map[string]int            `json:"active"`
	Workers        []string                  `json:"workers"`
	Queues         map[string][]string       `json:"queues"`
	DefaultQueue   string                    `json:"default_queue"`
	QueueRoutes    map[models.JobType]string `json:"queue_routes"`
	SoftTimeLimit  int                       `json:"soft_time_limit"`
	HardTimeLimit  int                       `json:"hard_time_limit"`
	Error          string                    `json:"error,omitempty"`
}
