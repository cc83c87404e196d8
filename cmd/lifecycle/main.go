// Command lifecycle runs the subscription lifecycle checker as a standalone
// job: once by default (for cron or a Kubernetes CronJob), or on an interval
// with -loop.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Stiven-son/calniq-sub001/internal/lifecycle"
	lifecyclemetrics "github.com/Stiven-son/calniq-sub001/internal/lifecycle/metrics"
	"github.com/Stiven-son/calniq-sub001/internal/notify/mailer"
	"github.com/Stiven-son/calniq-sub001/internal/notify/outbox"
	notifyworker "github.com/Stiven-son/calniq-sub001/internal/notify/worker"
	"github.com/Stiven-son/calniq-sub001/internal/platform/config"
	"github.com/Stiven-son/calniq-sub001/internal/platform/database"
	"github.com/Stiven-son/calniq-sub001/internal/platform/kafka"
	"github.com/Stiven-son/calniq-sub001/internal/platform/logger"
	tenantstore "github.com/Stiven-son/calniq-sub001/internal/tenant/store"
	"github.com/Stiven-son/calniq-sub001/migrations"
)

func main() {
	loop := flag.Bool("loop", false, "run on an interval instead of once")
	flag.Parse()

	log := logger.New()
	slog.SetDefault(log)

	if err := run(log, *loop); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("lifecycle job failed", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, loop bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()

	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.DatabaseURL
	pool, err := database.New(dbCfg)
	if err != nil {
		return err
	}

	var tenants lifecycle.TenantStore
	var outboxStore outbox.Store
	if pool != nil {
		defer pool.Close() //nolint:errcheck // shutdown path
		if err := migrations.Apply(ctx, pool.DB()); err != nil {
			return err
		}
		tenants = tenantstore.NewPostgres(pool.DB())
		outboxStore = outbox.NewPostgres(pool.DB())
	} else {
		log.Warn("no DATABASE_URL configured, running against in-memory stores")
		memOutbox := outbox.NewMemory()
		tenants = tenantstore.NewMemory(tenantstore.WithOutbox(memOutbox))
		outboxStore = memOutbox
	}

	var producer kafka.Publisher = kafka.NewNoopProducer()
	if len(cfg.KafkaBrokers) > 0 {
		kafkaProducer, err := kafka.New(cfg.KafkaBrokers, log)
		if err != nil {
			return err
		}
		producer = kafkaProducer
	}
	defer producer.Close() //nolint:errcheck // shutdown path

	checker, err := lifecycle.New(tenants, outboxStore,
		lifecycle.WithLogger(log),
		lifecycle.WithMetrics(lifecyclemetrics.New()),
		lifecycle.WithEventPublisher(producer, "calniq.tenant.lifecycle"),
		lifecycle.WithInterval(cfg.CheckInterval),
	)
	if err != nil {
		return err
	}

	var mail mailer.Mailer = mailer.NewLog(log)
	if httpMailer := mailer.NewHTTP(mailer.Config{
		BaseURL: cfg.MailBaseURL,
		APIKey:  cfg.MailAPIKey,
		From:    cfg.MailFrom,
	}); httpMailer != nil {
		mail = httpMailer
	}
	sender := notifyworker.New(outboxStore, mail,
		notifyworker.WithBatchSize(cfg.OutboxBatchSize),
		notifyworker.WithPollInterval(cfg.OutboxPollInterval),
		notifyworker.WithLogger(log),
	)
	sender.Start()

	var runErr error
	if loop {
		runErr = checker.Start(ctx)
		if errors.Is(runErr, context.Canceled) {
			runErr = nil
		}
	} else {
		_, runErr = checker.Run(ctx, time.Now())
	}

	// Stop drains pending notifications before exit so a cron invocation
	// delivers everything it produced.
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sender.Stop(stopCtx); err != nil {
		log.Error("notification drain timed out", "error", err)
	}

	return runErr
}
