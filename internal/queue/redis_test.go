package queue_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/internal/testutil"
	"github.com/kiranshivaraju/genqueue/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testQueue = config.QueueConfig{
	Name:          "ai_jobs",
	SoftTimeLimit: 90 * time.Second,
	HardTimeLimit: 120 * time.Second,
	MaxDeliveries: 2,
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupDispatcher(t *testing.T) *queue.RedisDispatcher {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	return queue.NewRedisDispatcher(testutil.Redis(t), testQueue, quietLogger())
}

func payload(jobID string) queue.Payload {
	session := "s1"
	return queue.Payload{
		JobID:     jobID,
		JobType:   models.JobTypeText,
		InputData: map[string]any{"prompt": "hello"},
		UserID:    "u1",
		SessionID: &session,
	}
}

func TestEnqueue_UnreachableBrokerReturnsFalse(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	d := queue.NewRedisDispatcher(client, testQueue, quietLogger())

	ok := d.Enqueue(context.Background(), "job-1", payload("job-1"))
	assert.False(t, ok)
}

func TestEnqueueReserveAck(t *testing.T) {
	d := setupDispatcher(t)
	ctx := context.Background()

	require.True(t, d.Enqueue(ctx, "job-1", payload("job-1")))
	require.True(t, d.Enqueue(ctx, "job-2", payload("job-2")))

	r, err := d.Reserve(ctx, "w1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "job-1", r.Payload.JobID, "deliveries are FIFO")
	assert.Equal(t, 1, r.Attempt)
	assert.Equal(t, "ai_jobs", r.Queue)
	assert.Equal(t, 90*time.Second, r.SoftLimit())
	assert.Equal(t, 120*time.Second, r.HardLimit())
	assert.Equal(t, "hello", r.Payload.InputData["prompt"])
	assert.NotEmpty(t, r.ID)

	require.NoError(t, d.Heartbeat(ctx, "w1", time.Minute))
	st, err := d.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ActiveTasks)
	assert.Equal(t, 1, st.ReservedTasks)
	assert.Equal(t, []string{"w1"}, st.Workers)

	require.NoError(t, d.Ack(ctx, r))

	st, err = d.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.ActiveTasks)
	assert.Equal(t, 0, st.Active["w1"])
}

func TestReserve_EmptyQueueTimesOut(t *testing.T) {
	d := setupDispatcher(t)

	r, err := d.Reserve(context.Background(), "w1", time.Second)
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = d.Reserve(context.Background(), "w1", 0)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestRequeue_RedeliversWithNextAttempt(t *testing.T) {
	d := setupDispatcher(t)
	ctx := context.Background()
	require.True(t, d.Enqueue(ctx, "job-1", payload("job-1")))

	first, err := d.Reserve(ctx, "w1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)

	require.NoError(t, d.Requeue(ctx, first, 0))

	second, err := d.Reserve(ctx, "w2", time.Second)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Attempt)

	// MaxDeliveries is 2: the next requeue drops it.
	err = d.Requeue(ctx, second, 0)
	assert.ErrorIs(t, err, queue.ErrDeliveriesExhausted)

	r, err := d.Reserve(ctx, "w1", time.Second)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestRequeue_DelayedUntilDue(t *testing.T) {
	d := setupDispatcher(t)
	ctx := context.Background()
	require.True(t, d.Enqueue(ctx, "job-1", payload("job-1")))

	r, err := d.Reserve(ctx, "w1", time.Second)
	require.NoError(t, err)
	require.NoError(t, d.Requeue(ctx, r, 1500*time.Millisecond))

	st, err := d.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ScheduledTasks)
	assert.Equal(t, 0, st.ReservedTasks)

	none, err := d.Reserve(ctx, "w1", 0)
	require.NoError(t, err)
	assert.Nil(t, none)

	time.Sleep(1600 * time.Millisecond)

	again, err := d.Reserve(ctx, "w1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 2, again.Attempt)
}

func TestRecoverOrphans_RequeuesLostWorkerDeliveries(t *testing.T) {
	d := setupDispatcher(t)
	ctx := context.Background()
	require.True(t, d.Enqueue(ctx, "job-1", payload("job-1")))

	require.NoError(t, d.Heartbeat(ctx, "dead", 200*time.Millisecond))
	require.NoError(t, d.Heartbeat(ctx, "alive", time.Minute))
	r, err := d.Reserve(ctx, "dead", time.Second)
	require.NoError(t, err)
	require.NotNil(t, r)

	n, err := d.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "heartbeat still fresh")

	time.Sleep(400 * time.Millisecond)

	n, err = d.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := d.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alive"}, st.Workers)
	assert.Equal(t, 1, st.ReservedTasks)

	redelivered, err := d.Reserve(ctx, "alive", time.Second)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, r.ID, redelivered.ID)
}

func TestDeregister_ReturnsReservedDeliveries(t *testing.T) {
	d := setupDispatcher(t)
	ctx := context.Background()
	require.True(t, d.Enqueue(ctx, "job-1", payload("job-1")))
	require.NoError(t, d.Heartbeat(ctx, "w1", time.Minute))

	_, err := d.Reserve(ctx, "w1", time.Second)
	require.NoError(t, err)

	require.NoError(t, d.Deregister(ctx, "w1"))

	st, err := d.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Workers)
	assert.Equal(t, 1, st.ReservedTasks)
}

func TestStatus_Routes(t *testing.T) {
	d := setupDispatcher(t)

	st, err := d.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ai_jobs", st.DefaultQueue)
	assert.Equal(t, "ai_jobs", st.QueueRoutes[models.JobTypeImage])
	assert.Equal(t, 90, st.SoftTimeLimit)
	assert.Equal(t, 120, st.HardTimeLimit)
	assert.Empty(t, st.Error)
}

func TestStatus_BrokerErrorReported(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	d := queue.NewRedisDispatcher(client, testQueue, quietLogger())

	st, err := d.Status(context.Background())
	require.Error(t, err)
	assert.NotEmpty(t, st.Error)
	assert.Equal(t, 0, st.ActiveTasks)
	assert.Equal(t, "ai_jobs", st.DefaultQueue)
}

func TestPayloadFor(t *testing.T) {
	session := "s1"
	job := &models.Job{UserID: "u1", SessionID: &session, Type: models.JobTypeImage,
		InputData: map[string]any{"prompt": "cat"}}

	p := queue.PayloadFor(job)
	assert.Equal(t, job.ID.String(), p.JobID)
	assert.Equal(t, models.JobTypeImage, p.JobType)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, &session, p.SessionID)
}
