package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/internal/metrics"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

const (
	pendingTimeoutMessage = "Job timed out waiting in queue"
	reapBatch             = 100
)

// SoftTimeoutMessage is the error recorded when a run overran the soft limit.
func SoftTimeoutMessage(limit time.Duration) string {
	return fmt.Sprintf("Job timed out after %ds", int(limit/time.Second))
}

// HardTimeoutMessage is the error recorded when a run overran the hard limit
// or its worker disappeared.
func HardTimeoutMessage(limit time.Duration) string {
	return fmt.Sprintf("Job timed out after exceeding hard limit of %ds", int(limit/time.Second))
}

// OrphanRecoverer returns deliveries held by dead workers to the queue.
type OrphanRecoverer interface {
	RecoverOrphans(ctx context.Context) (int, error)
}

// SweepResult counts what one reaper pass did.
type SweepResult struct {
	Redelivered   int
	FailedRunning int
	FailedPending int
}

// Reaper fails jobs that no worker will ever finish: runs whose worker died
// or overran the hard limit, and jobs stuck in the queue.
type Reaper struct {
	orch           *Orchestrator
	store          store.Store
	queue          OrphanRecoverer
	hardLimit      time.Duration
	grace          time.Duration
	pendingTimeout time.Duration
	interval       time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

func NewReaper(orch *Orchestrator, s store.Store, q OrphanRecoverer, qcfg config.QueueConfig, rcfg config.ReaperConfig, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		orch:           orch,
		store:          s,
		queue:          q,
		hardLimit:      qcfg.HardTimeLimit,
		grace:          rcfg.ProcessingGrace,
		pendingTimeout: rcfg.PendingTimeout,
		interval:       rcfg.Interval,
		logger:         logger.With("component", "reaper"),
		now:            time.Now,
	}
}

// Run sweeps every interval until ctx ends.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep performs one pass. Orphaned deliveries go back to the queue first so
// a live worker can still pick them up; only then are overdue jobs failed.
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	var errs []error

	if r.queue != nil {
		n, err := r.queue.RecoverOrphans(ctx)
		res.Redelivered = n
		if err != nil {
			errs = append(errs, fmt.Errorf("recover orphans: %w", err))
		}
	}

	now := r.now().UTC()

	n, err := r.failStale(ctx, models.JobStatusProcessing, now.Add(-(r.hardLimit + r.grace)), HardTimeoutMessage(r.hardLimit))
	res.FailedRunning = n
	if err != nil {
		errs = append(errs, err)
	}

	n, err = r.failStale(ctx, models.JobStatusPending, now.Add(-r.pendingTimeout), pendingTimeoutMessage)
	res.FailedPending = n
	if err != nil {
		errs = append(errs, err)
	}

	if res.Redelivered+res.FailedRunning+res.FailedPending > 0 {
		r.logger.Info("sweep finished",
			"redelivered", res.Redelivered, "failed_processing", res.FailedRunning, "failed_pending", res.FailedPending)
	}
	return res, errors.Join(errs...)
}

func (r *Reaper) failStale(ctx context.Context, status models.JobStatus, cutoff time.Time, message string) (int, error) {
	stale, err := r.store.ListStaleJobs(ctx, status, cutoff, reapBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale %s jobs: %w", status, err)
	}

	failed := 0
	for _, job := range stale {
		if _, err := r.orch.Fail(ctx, job.ID, message); err != nil {
			if errors.Is(err, store.ErrInvalidTransition) {
				// Finished between the listing and the update.
				continue
			}
			r.logger.Error("fail stale job", "job_id", job.ID, "status", status, "error", err)
			continue
		}
		failed++
		metrics.ReapedJobsTotal.WithLabelValues(string(status)).Inc()
		r.logger.Warn("stale job failed", "job_id", job.ID, "user_id", job.UserID, "status", status)
	}
	return failed, nil
}
