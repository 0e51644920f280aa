package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kiranshivaraju/genqueue/internal/metrics"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// Sink delivers a message to every live connection of a user and reports
// how many received it.
type Sink interface {
	SendToUser(ctx context.Context, userID string, msg []byte) int
}

// Forwarder subscribes to the notification topic and hands each status
// event to the Sink. It resubscribes with exponential backoff whenever the
// subscription breaks.
type Forwarder struct {
	ch         Channel
	topic      string
	sink       Sink
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
	now        func() time.Time
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithBackOff replaces the reconnect policy.
func WithBackOff(fn func() backoff.BackOff) ForwarderOption {
	return func(f *Forwarder) { f.newBackOff = fn }
}

// WithClock sets the time source used to stamp events.
func WithClock(now func() time.Time) ForwarderOption {
	return func(f *Forwarder) { f.now = now }
}

func NewForwarder(ch Channel, topic string, sink Sink, logger *slog.Logger, opts ...ForwarderOption) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Forwarder{
		ch:         ch,
		topic:      topic,
		sink:       sink,
		logger:     logger,
		newBackOff: defaultBackOff,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Run forwards events until ctx is cancelled. It returns nil on shutdown.
func (f *Forwarder) Run(ctx context.Context) error {
	b := f.newBackOff()
	for {
		err := f.consume(ctx, b)
		if ctx.Err() != nil {
			f.logger.Info("notification subscriber stopped", "channel", f.topic)
			return nil
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = time.Second
		}
		metrics.SubscriberReconnectsTotal.Inc()
		f.logger.Warn("notification subscriber disconnected, resubscribing",
			"channel", f.topic, "error", err, "retry_in", wait)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			f.logger.Info("notification subscriber stopped", "channel", f.topic)
			return nil
		case <-t.C:
		}
	}
}

func (f *Forwarder) consume(ctx context.Context, b backoff.BackOff) error {
	sub, err := f.ch.Subscribe(ctx, f.topic)
	if err != nil {
		return err
	}
	defer sub.Close()

	f.logger.Info("notification subscriber listening", "channel", f.topic)
	b.Reset()

	for {
		data, err := sub.Receive(ctx)
		if err != nil {
			return err
		}
		f.handle(ctx, data)
	}
}

func (f *Forwarder) handle(ctx context.Context, data []byte) {
	var ev models.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		f.logger.Warn("invalid notification payload", "error", err, "payload", string(data))
		return
	}
	if ev.Type != models.EventJobStatusUpdate {
		return
	}
	if ev.UserID == "" || ev.JobID == "" || ev.Status == "" {
		f.logger.Debug("notification missing fields", "payload", string(data))
		return
	}

	if ev.Timestamp == "" {
		ev.Stamp(f.now())
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		f.logger.Error("encode forwarded notification", "job_id", ev.JobID, "error", err)
		return
	}

	n := f.sink.SendToUser(ctx, ev.UserID, msg)
	metrics.NotificationsForwardedTotal.Inc()
	f.logger.Info("notification forwarded",
		"user_id", ev.UserID, "job_id", ev.JobID, "status", ev.Status, "connections", n)
}
