package models

import (
	"strings"
	"time"
)

// Message types exchanged with live connections.
const (
	EventJobStatusUpdate = "job_status_update"
	MessageConnection    = "connection"
	MessagePing          = "ping"
	MessagePong          = "pong"
)

// Event is a job status change carried between processes on the
// notification channel and forwarded to the user's live connections.
// It is not persisted.
type Event struct {
	Type      string  `json:"type"`
	UserID    string  `json:"user_id"`
	JobID     string  `json:"job_id"`
	Status    string  `json:"status"`
	SessionID *string `json:"session_id"`
	Message   *string `json:"message"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// NewStatusEvent builds the event for job entering status. The wire status
// is the upper-case state name.
func NewStatusEvent(job *Job, status JobStatus, message string) Event {
	ev := Event{
		Type:      EventJobStatusUpdate,
		UserID:    job.UserID,
		JobID:     job.ID.String(),
		Status:    strings.ToUpper(string(status)),
		SessionID: job.SessionID,
	}
	if message != "" {
		ev.Message = &message
	}
	return ev
}

// Stamp sets Timestamp to now in RFC 3339 with nanoseconds.
func (e *Event) Stamp(now time.Time) {
	e.Timestamp = now.UTC().Format(time.RFC3339Nano)
}

// ConnectionMessage is the welcome frame sent after a WebSocket handshake.
type ConnectionMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

// PingMessage is used for both ping and pong frames; pong echoes the timestamp.
type PingMessage struct {
	Type      string `json:"type"`
	Timestamp any    `json:"timestamp,omitempty"`
}
