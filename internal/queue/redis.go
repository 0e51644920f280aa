package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/pkg/models"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

const promoteBatch = 100

// promoteScript moves due entries from the delayed set to the pending list
// in one step so a crash cannot lose them in between.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, m in ipairs(due) do
	redis.call('ZREM', KEYS[1], m)
	redis.call('LPUSH', KEYS[2], m)
end
return #due
`)

// RedisDispatcher implements the queue on Redis lists.
//
//	queue:{name}:pending              list, LPUSH in / BLMOVE out (FIFO)
//	queue:{name}:processing:{worker}  list, deliveries reserved by a worker
//	queue:{name}:delayed              sorted set scored by due time (ms)
//	queue:{name}:workers              set of registered worker ids
//	queue:{name}:worker:{worker}      heartbeat key with TTL
type RedisDispatcher struct {
	client        *redis.Client
	name          string
	softLimit     time.Duration
	hardLimit     time.Duration
	maxDeliveries int
	logger        *slog.Logger
	now           func() time.Time
}

// NewRedisDispatcher creates a dispatcher for the queue described by cfg.
func NewRedisDispatcher(client *redis.Client, cfg config.QueueConfig, logger *slog.Logger) *RedisDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisDispatcher{
		client:        client,
		name:          cfg.Name,
		softLimit:     cfg.SoftTimeLimit,
		hardLimit:     cfg.HardTimeLimit,
		maxDeliveries: cfg.MaxDeliveries,
		logger:        logger.With("queue", cfg.Name),
		now:           time.Now,
	}
}

func (d *RedisDispatcher) Name() string { return d.name }

func (d *RedisDispatcher) pendingKey() string { return "queue:" + d.name + ":pending" }
func (d *RedisDispatcher) delayedKey() string { return "queue:" + d.name + ":delayed" }
func (d *RedisDispatcher) workersKey() string { return "queue:" + d.name + ":workers" }

func (d *RedisDispatcher) processingKey(workerID string) string {
	return "queue:" + d.name + ":processing:" + workerID
}

func (d *RedisDispatcher) workerKey(workerID string) string {
	return "queue:" + d.name + ":worker:" + workerID
}

// Enqueue pushes a new delivery for jobID. It reports false on any failure;
// the error is logged rather than returned.
func (d *RedisDispatcher) Enqueue(ctx context.Context, jobID string, payload Payload) bool {
	del := Delivery{
		ID:            ulid.Make().String(),
		Queue:         d.name,
		Payload:       payload,
		Attempt:       1,
		EnqueuedAt:    d.now().UTC(),
		SoftLimitSecs: int(d.softLimit / time.Second),
		HardLimitSecs: int(d.hardLimit / time.Second),
	}
	del.Payload.JobID = jobID

	raw, err := json.Marshal(del)
	if err != nil {
		d.logger.Error("encode delivery", "job_id", jobID, "error", err)
		return false
	}
	if err := d.client.LPush(ctx, d.pendingKey(), raw).Err(); err != nil {
		d.logger.Error("enqueue failed", "job_id", jobID, "error", err)
		return false
	}

	d.logger.Info("job enqueued", "job_id", jobID, "delivery_id", del.ID, "job_type", payload.JobType)
	return true
}

// Reserve moves the oldest pending delivery into workerID's processing list.
// It blocks up to wait and returns nil, nil when nothing arrived.
func (d *RedisDispatcher) Reserve(ctx context.Context, workerID string, wait time.Duration) (*Reservation, error) {
	if _, err := d.promoteDue(ctx); err != nil {
		return nil, err
	}

	var (
		raw string
		err error
	)
	// A zero BLMOVE timeout blocks forever.
	if wait <= 0 {
		raw, err = d.client.LMove(ctx, d.pendingKey(), d.processingKey(workerID), "RIGHT", "LEFT").Result()
	} else {
		raw, err = d.client.BLMove(ctx, d.pendingKey(), d.processingKey(workerID), "RIGHT", "LEFT", wait).Result()
	}
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}

	var del Delivery
	if err := json.Unmarshal([]byte(raw), &del); err != nil {
		// Undecodable entries would be redelivered forever; drop them.
		d.client.LRem(ctx, d.processingKey(workerID), 1, raw)
		return nil, fmt.Errorf("decode delivery: %w", err)
	}

	return &Reservation{Delivery: del, WorkerID: workerID, raw: raw}, nil
}

// Ack removes a finished delivery from the worker's processing list.
func (d *RedisDispatcher) Ack(ctx context.Context, r *Reservation) error {
	if err := d.client.LRem(ctx, d.processingKey(r.WorkerID), 1, r.raw).Err(); err != nil {
		return fmt.Errorf("ack delivery %s: %w", r.ID, err)
	}
	return nil
}

// Requeue schedules another attempt of r after delay. Once the delivery has
// used MaxDeliveries attempts it is dropped and ErrDeliveriesExhausted is returned.
func (d *RedisDispatcher) Requeue(ctx context.Context, r *Reservation, delay time.Duration) error {
	if r.Attempt >= d.maxDeliveries {
		if err := d.Ack(ctx, r); err != nil {
			return err
		}
		return ErrDeliveriesExhausted
	}

	next := r.Delivery
	next.Attempt++
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}

	pipe := d.client.TxPipeline()
	pipe.LRem(ctx, d.processingKey(r.WorkerID), 1, r.raw)
	if delay <= 0 {
		pipe.LPush(ctx, d.pendingKey(), raw)
	} else {
		due := d.now().Add(delay).UnixMilli()
		pipe.ZAdd(ctx, d.delayedKey(), redis.Z{Score: float64(due), Member: raw})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("requeue delivery %s: %w", r.ID, err)
	}
	return nil
}

func (d *RedisDispatcher) promoteDue(ctx context.Context) (int, error) {
	now := strconv.FormatInt(d.now().UnixMilli(), 10)
	n, err := promoteScript.Run(ctx, d.client, []string{d.delayedKey(), d.pendingKey()}, now, promoteBatch).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed deliveries: %w", err)
	}
	return n, nil
}

// Heartbeat registers workerID and refreshes its liveness key for ttl.
func (d *RedisDispatcher) Heartbeat(ctx context.Context, workerID string, ttl time.Duration) error {
	pipe := d.client.TxPipeline()
	pipe.SAdd(ctx, d.workersKey(), workerID)
	pipe.Set(ctx, d.workerKey(workerID), d.now().UTC().Format(time.RFC3339), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("heartbeat %s: %w", workerID, err)
	}
	return nil
}

// Deregister returns anything still reserved by workerID to the queue and
// removes the worker.
func (d *RedisDispatcher) Deregister(ctx context.Context, workerID string) error {
	if _, err := d.drainProcessing(ctx, workerID); err != nil {
		return err
	}
	pipe := d.client.TxPipeline()
	pipe.Del(ctx, d.workerKey(workerID))
	pipe.SRem(ctx, d.workersKey(), workerID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deregister %s: %w", workerID, err)
	}
	return nil
}

// RecoverOrphans requeues deliveries held by workers whose heartbeat expired
// and forgets those workers. It returns how many deliveries were requeued.
func (d *RedisDispatcher) RecoverOrphans(ctx context.Context) (int, error) {
	workers, err := d.client.SMembers(ctx, d.workersKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("list workers: %w", err)
	}

	total := 0
	for _, w := range workers {
		alive, err := d.client.Exists(ctx, d.workerKey(w)).Result()
		if err != nil {
			return total, fmt.Errorf("check worker %s: %w", w, err)
		}
		if alive > 0 {
			continue
		}

		n, err := d.drainProcessing(ctx, w)
		total += n
		if err != nil {
			return total, err
		}
		if err := d.client.SRem(ctx, d.workersKey(), w).Err(); err != nil {
			return total, fmt.Errorf("forget worker %s: %w", w, err)
		}
		if n > 0 {
			d.logger.Warn("recovered deliveries from lost worker", "worker_id", w, "count", n)
		}
	}
	return total, nil
}

func (d *RedisDispatcher) drainProcessing(ctx context.Context, workerID string) (int, error) {
	n := 0
	for {
		err := d.client.LMove(ctx, d.processingKey(workerID), d.pendingKey(), "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("requeue from %s: %w", workerID, err)
		}
		n++
	}
}

// Status reports queue depth and per-worker activity. On a broker error the
// returned Status carries the message and zero counts.
func (d *RedisDispatcher) Status(ctx context.Context) (Status, error) {
	st := Status{
		Active:        map[string]int{},
		Workers:       []string{},
		Queues:        map[string][]string{},
		DefaultQueue:  d.name,
		QueueRoutes:   map[models.JobType]string{},
		SoftTimeLimit: int(d.softLimit / time.Second),
		HardTimeLimit: int(d.hardLimit / time.Second),
	}
	for _, t := range []models.JobType{models.JobTypeText, models.JobTypeImage, models.JobTypeAudio} {
		st.QueueRoutes[t] = d.name
	}

	fail := func(err error) (Status, error) {
		st.ActiveTasks, st.ScheduledTasks, st.ReservedTasks = 0, 0, 0
		st.Active = map[string]int{}
		st.Workers = []string{}
		st.Error = err.Error()
		return st, err
	}

	pending, err := d.client.LLen(ctx, d.pendingKey()).Result()
	if err != nil {
		return fail(fmt.Errorf("pending length: %w", err))
	}
	delayed, err := d.client.ZCard(ctx, d.delayedKey()).Result()
	if err != nil {
		return fail(fmt.Errorf("delayed count: %w", err))
	}
	workers, err := d.client.SMembers(ctx, d.workersKey()).Result()
	if err != nil {
		return fail(fmt.Errorf("list workers: %w", err))
	}

	sort.Strings(workers)
	st.ReservedTasks = int(pending)
	st.ScheduledTasks = int(delayed)
	for _, w := range workers {
		n, err := d.client.LLen(ctx, d.processingKey(w)).Result()
		if err != nil {
			return fail(fmt.Errorf("processing length for %s: %w", w, err))
		}
		st.Active[w] = int(n)
		st.ActiveTasks += int(n)
		st.Workers = append(st.Workers, w)
		st.Queues[w] = []string{d.name}
	}
	return st, nil
}
