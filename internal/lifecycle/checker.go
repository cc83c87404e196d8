// Package lifecycle implements the subscription lifecycle checker: a periodic
// batch job that warns tenants before their trial or subscription ends and
// transitions past-due tenants into the expired state.
package lifecycle

//go:generate mockgen -source=checker.go -destination=mocks/mocks.go -package=mocks TenantStore,Outbox,EventPublisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Stiven-son/calniq-sub001/internal/lifecycle/metrics"
	"github.com/Stiven-son/calniq-sub001/internal/notify/outbox"
	"github.com/Stiven-son/calniq-sub001/internal/platform/kafka"
	"github.com/Stiven-son/calniq-sub001/internal/tenant/models"
	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
)

// ErrRunInProgress is returned when a run is requested while another run
// holds the checker lock. Overlapping invocations are skipped, not queued.
var ErrRunInProgress = errors.New("lifecycle run already in progress")

// TenantStore is the tenant persistence surface the checker depends on.
// Expire must be an atomic conditional update that returns true only for the
// caller that actually performed the transition, and it must record note
// together with the transition: once a tenant leaves the selection, the
// notification cannot be recovered by a later run.
type TenantStore interface {
	ListExpiringTrials(ctx context.Context, now time.Time) ([]*models.Tenant, error)
	ListExpiredTrials(ctx context.Context, now time.Time) ([]*models.Tenant, error)
	ListExpiringSubscriptions(ctx context.Context, now time.Time) ([]*models.Tenant, error)
	ListExpiredSubscriptions(ctx context.Context, now time.Time) ([]*models.Tenant, error)
	Expire(ctx context.Context, tenantID id.TenantID, from models.SubscriptionStatus, now time.Time, note *outbox.Notification) (bool, error)
	MarkNotified(ctx context.Context, tenantID id.TenantID, now time.Time) error
}

// Outbox receives pending notifications; delivery happens elsewhere.
type Outbox interface {
	Append(ctx context.Context, n *outbox.Notification) error
}

// EventPublisher receives lifecycle events for downstream consumers.
// Publishing is best-effort and never fails a run.
type EventPublisher interface {
	Produce(ctx context.Context, msg *kafka.Message) error
}

// RunResult summarizes the work performed by a single run.
type RunResult struct {
	TrialsNotified        int
	TrialsExpired         int
	SubscriptionsNotified int
	SubscriptionsExpired  int
	TenantErrors          int
}

// Checker scans the tenant set and applies the lifecycle rules.
type Checker struct {
	store      TenantStore
	outbox     Outbox
	events     EventPublisher
	eventTopic string
	interval   time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger

	runMu sync.Mutex
}

// Option configures the Checker.
type Option func(*Checker)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Checker) {
		c.metrics = m
	}
}

// WithEventPublisher enables lifecycle event publishing.
func WithEventPublisher(p EventPublisher, topic string) Option {
	return func(c *Checker) {
		c.events = p
		if topic != "" {
			c.eventTopic = topic
		}
	}
}

// WithInterval overrides the interval used by Start.
func WithInterval(interval time.Duration) Option {
	return func(c *Checker) {
		if interval > 0 {
			c.interval = interval
		}
	}
}

// New constructs a Checker with required dependencies and options applied.
func New(store TenantStore, ob Outbox, opts ...Option) (*Checker, error) {
	if store == nil || ob == nil {
		return nil, fmt.Errorf("tenant store and outbox are required")
	}
	c := &Checker{
		store:      store,
		outbox:     ob,
		eventTopic: "calniq.tenant.lifecycle",
		interval:   time.Hour,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Start runs the checker periodically until ctx is cancelled.
func (c *Checker) Start(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := c.Run(ctx, time.Now()); err != nil && !errors.Is(err, ErrRunInProgress) {
				c.logger.ErrorContext(ctx, "lifecycle run failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run performs a single lifecycle pass over the tenant set. The reference
// time is injected so runs are deterministic under test. Runs are serialized:
// if another run holds the lock, Run returns ErrRunInProgress immediately.
//
// Per-tenant failures are isolated - one bad record never aborts the batch.
// They are counted in the result and aggregated into the returned error.
func (c *Checker) Run(ctx context.Context, now time.Time) (RunResult, error) {
	if !c.runMu.TryLock() {
		if c.metrics != nil {
			c.metrics.RunsSkipped.Inc()
		}
		return RunResult{}, ErrRunInProgress
	}
	defer c.runMu.Unlock()

	tracer := otel.Tracer("calniq/lifecycle")
	ctx, span := tracer.Start(ctx, "lifecycle.Run")
	defer span.End()

	start := time.Now()
	var res RunResult
	var errs []error

	passes := []struct {
		name string
		run  func(context.Context, time.Time, *RunResult) []error
	}{
		{"expiring_trials", c.notifyExpiringTrials},
		{"expired_trials", c.expireTrials},
		{"expiring_subscriptions", c.notifyExpiringSubscriptions},
		{"expired_subscriptions", c.expireSubscriptions},
	}

	for _, pass := range passes {
		passErrs := pass.run(ctx, now, &res)
		if len(passErrs) > 0 {
			c.logger.WarnContext(ctx, "lifecycle pass completed with errors",
				"pass", pass.name,
				"errors", len(passErrs),
			)
			errs = append(errs, passErrs...)
		}
	}

	res.TenantErrors = len(errs)

	if c.metrics != nil {
		c.metrics.Runs.Inc()
		c.metrics.RunDuration.Observe(time.Since(start).Seconds())
		c.metrics.LastRunUnix.Set(float64(now.Unix()))
		if res.TenantErrors > 0 {
			c.metrics.TenantErrors.Add(float64(res.TenantErrors))
		}
	}

	span.SetAttributes(
		attribute.Int("lifecycle.trials_notified", res.TrialsNotified),
		attribute.Int("lifecycle.trials_expired", res.TrialsExpired),
		attribute.Int("lifecycle.subscriptions_notified", res.SubscriptionsNotified),
		attribute.Int("lifecycle.subscriptions_expired", res.SubscriptionsExpired),
		attribute.Int("lifecycle.tenant_errors", res.TenantErrors),
	)

	c.logger.InfoContext(ctx, "lifecycle run completed",
		"trials_notified", res.TrialsNotified,
		"trials_expired", res.TrialsExpired,
		"subscriptions_notified", res.SubscriptionsNotified,
		"subscriptions_expired", res.SubscriptionsExpired,
		"tenant_errors", res.TenantErrors,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.SetStatus(codes.Error, "run completed with tenant errors")
		return res, err
	}
	return res, nil
}

// notifyExpiringTrials is pass 1: threshold warnings for trials still running.
func (c *Checker) notifyExpiringTrials(ctx context.Context, now time.Time, res *RunResult) []error {
	tenants, err := c.store.ListExpiringTrials(ctx, now)
	if err != nil {
		return []error{fmt.Errorf("list expiring trials: %w", err)}
	}
	return c.notifyPass(ctx, now, tenants, &res.TrialsNotified)
}

// notifyExpiringSubscriptions is pass 3: same rule over active subscriptions.
func (c *Checker) notifyExpiringSubscriptions(ctx context.Context, now time.Time, res *RunResult) []error {
	tenants, err := c.store.ListExpiringSubscriptions(ctx, now)
	if err != nil {
		return []error{fmt.Errorf("list expiring subscriptions: %w", err)}
	}
	return c.notifyPass(ctx, now, tenants, &res.SubscriptionsNotified)
}

// notifyPass applies the threshold + daily-throttle rule to each tenant:
// at most one "ending soon" notification per tenant per calendar day.
func (c *Checker) notifyPass(ctx context.Context, now time.Time, tenants []*models.Tenant, notified *int) []error {
	var errs []error
	for _, tenant := range tenants {
		if !tenant.ShouldNotify(now) {
			continue
		}
		daysLeft := tenant.DaysLeft(now)
		if err := c.outbox.Append(ctx, outbox.NewEndingSoon(tenant, daysLeft, now)); err != nil {
			errs = append(errs, fmt.Errorf("enqueue ending-soon for tenant %s: %w", tenant.ID, err))
			continue
		}
		if err := c.store.MarkNotified(ctx, tenant.ID, now); err != nil {
			// The notification is already queued; a failed stamp means the
			// tenant may be warned again today. Prefer that over silence.
			errs = append(errs, fmt.Errorf("mark tenant %s notified: %w", tenant.ID, err))
			continue
		}
		*notified++
		if c.metrics != nil {
			c.metrics.NotificationsEnqueued.WithLabelValues(string(outbox.KindEndingSoon)).Inc()
		}
		c.logger.InfoContext(ctx, "tenant ending-soon notification enqueued",
			"tenant_id", tenant.ID,
			"status", tenant.Status,
			"days_left", daysLeft,
		)
	}
	return errs
}

// expireTrials is pass 2: trial -> expired for past-due trials.
func (c *Checker) expireTrials(ctx context.Context, now time.Time, res *RunResult) []error {
	tenants, err := c.store.ListExpiredTrials(ctx, now)
	if err != nil {
		return []error{fmt.Errorf("list expired trials: %w", err)}
	}
	return c.expirePass(ctx, now, tenants, models.StatusTrial, &res.TrialsExpired)
}

// expireSubscriptions is pass 4: active -> expired for past-due subscriptions.
func (c *Checker) expireSubscriptions(ctx context.Context, now time.Time, res *RunResult) []error {
	tenants, err := c.store.ListExpiredSubscriptions(ctx, now)
	if err != nil {
		return []error{fmt.Errorf("list expired subscriptions: %w", err)}
	}
	return c.expirePass(ctx, now, tenants, models.StatusActive, &res.SubscriptionsExpired)
}

// expirePass claims each past-due tenant with an atomic conditional update.
// The "expired" notification travels inside the claim, so the transition and
// the enqueue commit or fail together: a crash cannot expire a tenant and
// silently drop the notice. A tenant already claimed by a concurrent run is
// skipped silently, so overlapping invocations produce at most one
// notification per tenant.
func (c *Checker) expirePass(ctx context.Context, now time.Time, tenants []*models.Tenant, from models.SubscriptionStatus, expired *int) []error {
	var errs []error
	for _, tenant := range tenants {
		claimed, err := c.store.Expire(ctx, tenant.ID, from, now, outbox.NewExpired(tenant, now))
		if err != nil {
			errs = append(errs, fmt.Errorf("expire tenant %s: %w", tenant.ID, err))
			continue
		}
		if !claimed {
			continue
		}
		*expired++
		if c.metrics != nil {
			c.metrics.TenantsExpired.WithLabelValues(string(from)).Inc()
			c.metrics.NotificationsEnqueued.WithLabelValues(string(outbox.KindExpired)).Inc()
		}
		c.logger.InfoContext(ctx, "tenant expired",
			"tenant_id", tenant.ID,
			"from", from,
		)

		c.publishExpired(ctx, tenant, from, now)
	}
	return errs
}

// lifecycleEvent is the wire payload published on tenant transitions.
type lifecycleEvent struct {
	TenantID   string    `json:"tenant_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// publishExpired emits a lifecycle event. Failures are logged, never returned:
// event publishing must not affect run outcomes.
func (c *Checker) publishExpired(ctx context.Context, tenant *models.Tenant, from models.SubscriptionStatus, now time.Time) {
	if c.events == nil {
		return
	}
	payload, err := json.Marshal(lifecycleEvent{
		TenantID:   tenant.ID.String(),
		FromStatus: string(from),
		ToStatus:   string(models.StatusExpired),
		OccurredAt: now,
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to encode lifecycle event", "error", err)
		return
	}
	err = c.events.Produce(ctx, &kafka.Message{
		Topic: c.eventTopic,
		Key:   []byte(tenant.ID.String()),
		Value: payload,
		Headers: map[string]string{
			"event_type": "tenant_expired",
		},
	})
	if err != nil {
		c.logger.WarnContext(ctx, "failed to publish lifecycle event",
			"tenant_id", tenant.ID,
			"error", err,
		)
	}
}
