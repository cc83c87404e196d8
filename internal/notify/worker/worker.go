// Package worker polls the notification outbox and delivers pending entries
// through the configured mailer.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Stiven-son/calniq-sub001/internal/notify/mailer"
	"github.com/Stiven-son/calniq-sub001/internal/notify/metrics"
	"github.com/Stiven-son/calniq-sub001/internal/notify/outbox"
)

// Worker polls the outbox and sends pending notifications.
type Worker struct {
	store        outbox.Store
	mailer       mailer.Mailer
	batchSize    int
	pollInterval time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures the Worker.
type Option func(*Worker)

// WithBatchSize sets the maximum number of notifications to fetch per poll.
func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithPollInterval sets the interval between polls.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// New creates a new notification sender worker.
func New(store outbox.Store, m mailer.Mailer, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		store:        store,
		mailer:       m,
		batchSize:    100,
		pollInterval: 5 * time.Second,
		ctx:          ctx,
		cancel:       cancel,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Start begins the polling loop in a background goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *Worker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case <-ticker.C:
			w.poll(w.ctx)
		}
	}
}

// poll claims and delivers a batch of pending notifications. Claiming marks
// the batch as owned by this worker, so a second sender polling the same
// store (the API server next to a cron lifecycle run) never delivers the
// same entry.
func (w *Worker) poll(ctx context.Context) {
	notifications, err := w.store.Claim(ctx, w.batchSize, time.Now())
	if err != nil {
		if w.logger != nil {
			w.logger.Error("failed to claim pending notifications", "error", err)
		}
		return
	}

	if len(notifications) == 0 {
		return
	}

	if w.metrics != nil {
		w.metrics.BatchSize.Observe(float64(len(notifications)))
	}

	for _, n := range notifications {
		if err := w.deliver(ctx, n); err != nil {
			if w.logger != nil {
				w.logger.Error("failed to deliver notification",
					"id", n.ID,
					"kind", n.Kind,
					"tenant_id", n.TenantID,
					"error", err,
				)
			}
			if w.metrics != nil {
				w.metrics.SendFailures.Inc()
			}
			// Leave the entry pending but claimed; it is retried once the
			// claim lease lapses
			continue
		}

		if err := w.store.MarkSent(ctx, n.ID, time.Now()); err != nil {
			if w.logger != nil {
				w.logger.Error("failed to mark notification sent",
					"id", n.ID,
					"error", err,
				)
			}
			// Delivered but not marked - may be re-sent once; the recipient
			// sees a duplicate rather than silence
			continue
		}

		if w.metrics != nil {
			w.metrics.IncSent(string(n.Kind))
		}
	}
}

// deliver sends a single notification through the mailer.
func (w *Worker) deliver(ctx context.Context, n *outbox.Notification) error {
	start := time.Now()
	err := w.mailer.Send(ctx, mailer.Render(n))
	if w.metrics != nil {
		w.metrics.SendDuration.Observe(time.Since(start).Seconds())
	}
	return err
}

// drain delivers remaining pending notifications during shutdown.
func (w *Worker) drain() {
	if w.logger != nil {
		w.logger.Info("draining notification outbox")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	notifications, err := w.store.Claim(ctx, w.batchSize, time.Now())
	if err != nil {
		if w.logger != nil {
			w.logger.Error("failed to claim notifications during drain", "error", err)
		}
		return
	}

	for _, n := range notifications {
		if err := w.deliver(ctx, n); err != nil {
			continue
		}
		if err := w.store.MarkSent(ctx, n.ID, time.Now()); err != nil && w.logger != nil {
			w.logger.Error("failed to mark sent during drain", "id", n.ID, "error", err)
		}
	}
}

// Stop gracefully stops the worker, draining pending notifications.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateMetrics updates the pending depth gauge.
// Call this periodically from a separate goroutine if needed.
func (w *Worker) UpdateMetrics(ctx context.Context) error {
	if w.metrics == nil {
		return nil
	}

	count, err := w.store.CountPending(ctx)
	if err != nil {
		return err
	}

	w.metrics.PendingDepth.Set(float64(count))
	return nil
}

// Cleanup removes delivered notifications older than the retention window.
func (w *Worker) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	return w.store.DeleteSentBefore(ctx, time.Now().Add(-retention))
}
