package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/genqueue/internal/metrics"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

const publishTimeout = 2 * time.Second

// Notifier publishes job status events. Publishing never fails the caller:
// errors are logged and counted.
type Notifier struct {
	ch     Channel
	topic  string
	logger *slog.Logger
	now    func() time.Time
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithNotifierClock replaces the clock used to stamp events.
func WithNotifierClock(now func() time.Time) NotifierOption {
	return func(n *Notifier) { n.now = now }
}

func NewNotifier(ch Channel, topic string, logger *slog.Logger, opts ...NotifierOption) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{ch: ch, topic: topic, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Publish stamps ev unless it already carries a timestamp and sends it on
// the notification topic. It outlives cancellation of ctx so a status change
// is announced even when the request that caused it has gone away.
func (n *Notifier) Publish(ctx context.Context, ev models.Event) {
	if ev.Timestamp == "" {
		ev.Stamp(n.now())
	}
	data, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("encode notification", "job_id", ev.JobID, "error", err)
		metrics.NotificationsPublishedTotal.WithLabelValues("error").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := n.ch.Publish(ctx, n.topic, data); err != nil {
		n.logger.Error("publish notification failed",
			"job_id", ev.JobID, "user_id", ev.UserID, "status", ev.Status, "error", err)
		metrics.NotificationsPublishedTotal.WithLabelValues("error").Inc()
		return
	}

	metrics.NotificationsPublishedTotal.WithLabelValues("ok").Inc()
	n.logger.Info("notification published", "job_id", ev.JobID, "user_id", ev.UserID, "status", ev.Status)
}

// PublishStatus announces that job entered status.
func (n *Notifier) PublishStatus(ctx context.Context, job *models.Job, status models.JobStatus, message string) {
	n.Publish(ctx, models.NewStatusEvent(job, status, message))
}
