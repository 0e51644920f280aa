// Package worker runs queued jobs. A Pool reserves deliveries from the queue,
// drives each job through the orchestrator under the soft and hard time
// limits, announces the run, and acknowledges the delivery only once the job
// has reached an outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/genqueue/internal/jobs"
	"github.com/kiranshivaraju/genqueue/internal/metrics"
	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/pkg/models"
	"github.com/oklog/ulid/v2"
)

const (
	processingMessage = "Job processing started"
	completedMessage  = "Job completed successfully"

	errorPause     = time.Second
	cleanupTimeout = 10 * time.Second
)

var (
	errHardTimeLimit = errors.New("hard time limit exceeded")
	errShutdown      = errors.New("worker shutting down")
)

// Queue is the broker side of the pool.
type Queue interface {
	Reserve(ctx context.Context, workerID string, wait time.Duration) (*queue.Reservation, error)
	Ack(ctx context.Context, r *queue.Reservation) error
	Requeue(ctx context.Context, r *queue.Reservation, delay time.Duration) error
	Heartbeat(ctx context.Context, workerID string, ttl time.Duration) error
	Deregister(ctx context.Context, workerID string) error
}

// StoreEnsurer hands out a live store connection for this process.
type StoreEnsurer interface {
	Ensure(ctx context.Context) (store.Store, error)
}

// Runner is the part of the orchestrator a worker drives.
type Runner interface {
	Run(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Fail(ctx context.Context, id uuid.UUID, message string) (*models.Job, error)
	Announce(ctx context.Context, job *models.Job, status models.JobStatus, message string)
}

// Pool is a set of worker slots sharing one worker identity.
type Pool struct {
	queue  Queue
	stores StoreEnsurer
	runner Runner
	logger *slog.Logger

	workerID          string
	concurrency       int
	reserveWait       time.Duration
	heartbeatInterval time.Duration
	softLimit         time.Duration
	hardLimit         time.Duration
	newBackOff        func() backoff.BackOff

	baseCtx    context.Context
	cancelBase context.CancelCauseFunc

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of worker slots.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithWorkerID overrides the generated worker identity.
func WithWorkerID(id string) PoolOption {
	return func(p *Pool) { p.workerID = id }
}

// WithReserveWait sets how long a slot blocks waiting for a delivery.
func WithReserveWait(d time.Duration) PoolOption {
	return func(p *Pool) { p.reserveWait = d }
}

// WithHeartbeatInterval sets how often the worker refreshes its liveness key.
// The key lives for three intervals.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithTimeLimits sets the limits used for deliveries that do not carry their own.
func WithTimeLimits(soft, hard time.Duration) PoolOption {
	return func(p *Pool) {
		p.softLimit = soft
		p.hardLimit = hard
	}
}

// WithRetryBackOff sets the policy that spaces out redeliveries after
// infrastructure errors.
func WithRetryBackOff(f func() backoff.BackOff) PoolOption {
	return func(p *Pool) { p.newBackOff = f }
}

// NewPool creates a worker pool.
func NewPool(q Queue, stores StoreEnsurer, runner Runner, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		queue:             q,
		stores:            stores,
		runner:            runner,
		concurrency:       2,
		workerID:          defaultWorkerID(),
		reserveWait:       5 * time.Second,
		heartbeatInterval: 10 * time.Second,
		softLimit:         90 * time.Second,
		hardLimit:         120 * time.Second,
		newBackOff:        defaultBackOff,
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logger.With("worker_id", p.workerID)
	p.baseCtx, p.cancelBase = context.WithCancelCause(context.Background())
	return p
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, ulid.Make())
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	return b
}

// WorkerID returns the identity the pool registers with the queue.
func (p *Pool) WorkerID() string { return p.workerID }

// Start registers the worker and launches the slots. It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	if err := p.queue.Heartbeat(ctx, p.workerID, p.heartbeatTTL()); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	p.running = true

	p.logger.Info("worker pool starting", "concurrency", p.concurrency)

	for range p.concurrency {
		p.wg.Add(1)
		go p.reserveLoop()
	}

	p.wg.Add(1)
	go p.heartbeatLoop()

	return nil
}

// Stop signals the slots to finish their current job and waits. When ctx
// ends first the running jobs are cancelled. Anything still reserved is
// returned to the queue.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelBase(errShutdown)
		<-done
	}
	p.cancelBase(errShutdown)

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := p.queue.Deregister(dctx, p.workerID); err != nil {
		return fmt.Errorf("deregister worker: %w", err)
	}
	return nil
}

func (p *Pool) heartbeatTTL() time.Duration { return 3 * p.heartbeatInterval }

func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.queue.Heartbeat(p.baseCtx, p.workerID, p.heartbeatTTL()); err != nil {
				p.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

func (p *Pool) reserveLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		r, err := p.queue.Reserve(p.baseCtx, p.workerID, p.reserveWait)
		if err != nil {
			p.logger.Error("reserve failed", "error", err)
			p.sleep(errorPause)
			continue
		}
		if r == nil {
			continue
		}

		metrics.WorkerBusySlots.Inc()
		p.handle(r)
		metrics.WorkerBusySlots.Dec()
	}
}

func (p *Pool) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.stopCh:
	}
}

// handle takes one delivery to an outcome. Every path ends in Ack or Requeue.
func (p *Pool) handle(r *queue.Reservation) {
	ctx := p.baseCtx
	log := p.logger.With("job_id", r.Payload.JobID, "delivery_id", r.ID, "attempt", r.Attempt)

	id, err := uuid.Parse(r.Payload.JobID)
	if err != nil {
		log.Error("dropping delivery with invalid job id", "error", err)
		p.ack(r, log)
		return
	}

	st, err := p.stores.Ensure(ctx)
	if err != nil {
		p.retry(r, fmt.Errorf("ensure store: %w", err), log)
		return
	}

	job, err := st.GetJob(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Warn("job not found, dropping delivery")
		p.ack(r, log)
		metrics.DeliveriesTotal.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		return
	case err != nil:
		p.retry(r, fmt.Errorf("load job: %w", err), log)
		return
	case job.Status != models.JobStatusPending:
		log.Debug("job already claimed, skipping duplicate delivery", "status", job.Status)
		p.ack(r, log)
		metrics.DeliveriesTotal.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		return
	}

	p.runner.Announce(ctx, job, models.JobStatusProcessing, processingMessage)

	soft, hard := r.SoftLimit(), r.HardLimit()
	if soft <= 0 {
		soft = p.softLimit
	}
	if hard <= 0 {
		hard = p.hardLimit
	}

	start := time.Now()
	final, err := p.run(ctx, id, soft, hard)
	metrics.JobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		p.announceFinal(ctx, final)
		p.ack(r, log)
		outcome := metrics.OutcomeCompleted
		if final.Status == models.JobStatusFailed {
			outcome = metrics.OutcomeFailed
		}
		metrics.DeliveriesTotal.WithLabelValues(outcome).Inc()
		log.Debug("job finished", "status", final.Status)

	case errors.Is(err, jobs.ErrSoftTimeLimit):
		log.Warn("job exceeded soft time limit", "limit", soft)
		p.failAndAnnounce(ctx, id, jobs.SoftTimeoutMessage(soft), log)
		p.ack(r, log)
		metrics.DeliveriesTotal.WithLabelValues(metrics.OutcomeSoftTimeout).Inc()

	case errors.Is(err, errHardTimeLimit):
		log.Error("job exceeded hard time limit, abandoning run", "limit", hard)
		p.failAndAnnounce(ctx, id, jobs.HardTimeoutMessage(hard), log)
		p.ack(r, log)
		metrics.DeliveriesTotal.WithLabelValues(metrics.OutcomeHardTimeout).Inc()

	case errors.Is(err, jobs.ErrNotPending):
		log.Debug("job claimed elsewhere during run", "error", err)
		p.ack(r, log)
		metrics.DeliveriesTotal.WithLabelValues(metrics.OutcomeDuplicate).Inc()

	default:
		// Best effort: Fail announces only when the mark lands.
		if _, ferr := p.runner.Fail(ctx, id, err.Error()); ferr != nil {
			log.Warn("could not mark job failed", "error", ferr)
		}
		p.retry(r, err, log)
	}
}

// run executes the job with the soft limit as a cancellation cause and the
// hard limit as a supervisor timer. Past the hard limit the run is cancelled
// and abandoned.
func (p *Pool) run(ctx context.Context, id uuid.UUID, soft, hard time.Duration) (*models.Job, error) {
	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)
	softCtx, cancelSoft := context.WithTimeoutCause(runCtx, soft, jobs.ErrSoftTimeLimit)
	defer cancelSoft()

	type result struct {
		job *models.Job
		err error
	}
	done := make(chan result, 1)
	go func() {
		job, err := p.runner.Run(softCtx, id)
		done <- result{job, err}
	}()

	timer := time.NewTimer(hard)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.job, res.err
	case <-timer.C:
		cancelRun(errHardTimeLimit)
		return nil, errHardTimeLimit
	}
}

// failAndAnnounce records a timeout. If the job reached a terminal state on
// its own in the meantime, that state is announced instead.
func (p *Pool) failAndAnnounce(ctx context.Context, id uuid.UUID, message string, log *slog.Logger) {
	_, err := p.runner.Fail(ctx, id, message)
	if err == nil {
		return
	}
	if !errors.Is(err, store.ErrInvalidTransition) {
		log.Error("mark timed out job failed", "error", err)
		return
	}

	st, serr := p.stores.Ensure(ctx)
	if serr != nil {
		log.Error("reload job after timeout", "error", serr)
		return
	}
	job, serr := st.GetJob(ctx, id)
	if serr != nil {
		log.Error("reload job after timeout", "error", serr)
		return
	}
	if job.Status.IsTerminal() {
		p.announceFinal(ctx, job)
	}
}

func (p *Pool) announceFinal(ctx context.Context, job *models.Job) {
	msg := completedMessage
	if job.Status == models.JobStatusFailed && job.ErrorMessage != nil {
		msg = *job.ErrorMessage
	}
	p.runner.Announce(ctx, job, job.Status, msg)
}

func (p *Pool) ack(r *queue.Reservation, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.baseCtx), cleanupTimeout)
	defer cancel()
	if err := p.queue.Ack(ctx, r); err != nil {
		log.Error("ack failed", "error", err)
	}
}

// retry hands the delivery back to the broker after an infrastructure error.
func (p *Pool) retry(r *queue.Reservation, cause error, log *slog.Logger) {
	delay := p.retryDelay(r.Attempt)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.baseCtx), cleanupTimeout)
	defer cancel()

	err := p.queue.Requeue(ctx, r, delay)
	switch {
	case errors.Is(err, queue.ErrDeliveriesExhausted):
		log.Error("delivery attempts exhausted", "error", cause)
		metrics.DeliveriesTotal.WithLabelValues(metrics.OutcomeExhausted).Inc()
	case err != nil:
		log.Error("requeue failed", "error", err, "cause", cause)
	default:
		log.Warn("delivery requeued", "delay", delay, "error", cause)
		metrics.DeliveriesTotal.WithLabelValues(metrics.OutcomeRequeued).Inc()
	}
}

func (p *Pool) retryDelay(attempt int) time.Duration {
	b := p.newBackOff()
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
		if d == backoff.Stop {
			return 0
		}
	}
	return d
}
