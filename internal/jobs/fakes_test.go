package jobs

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	fail     bool
	payloads []queue.Payload
}

func (d *fakeDispatcher) Enqueue(_ context.Context, jobID string, p queue.Payload) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return false
	}
	p.JobID = jobID
	d.payloads = append(d.payloads, p)
	return true
}

type published struct {
	JobID   string
	Status  models.JobStatus
	Message string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) PublishStatus(_ context.Context, job *models.Job, status models.JobStatus, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{JobID: job.ID.String(), Status: status, Message: message})
}

func (p *recordingPublisher) statuses() []models.JobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.JobStatus, len(p.events))
	for i, e := range p.events {
		out[i] = e.Status
	}
	return out
}

type fakeRecoverer struct {
	n   int
	err error
}

func (f *fakeRecoverer) RecoverOrphans(context.Context) (int, error) { return f.n, f.err }
