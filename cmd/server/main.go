// Command server runs the Calniq API: auth, tenant self-service, the admin
// API, the session guard, the lifecycle checker and the notification sender.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Stiven-son/calniq-sub001/internal/admin"
	"github.com/Stiven-son/calniq-sub001/internal/auth/guard"
	guardmetrics "github.com/Stiven-son/calniq-sub001/internal/auth/guard/metrics"
	authhandler "github.com/Stiven-son/calniq-sub001/internal/auth/handler"
	authservice "github.com/Stiven-son/calniq-sub001/internal/auth/service"
	"github.com/Stiven-son/calniq-sub001/internal/auth/session"
	authstore "github.com/Stiven-son/calniq-sub001/internal/auth/store"
	"github.com/Stiven-son/calniq-sub001/internal/auth/token"
	"github.com/Stiven-son/calniq-sub001/internal/lifecycle"
	lifecyclemetrics "github.com/Stiven-son/calniq-sub001/internal/lifecycle/metrics"
	"github.com/Stiven-son/calniq-sub001/internal/notify/mailer"
	notifymetrics "github.com/Stiven-son/calniq-sub001/internal/notify/metrics"
	"github.com/Stiven-son/calniq-sub001/internal/notify/outbox"
	notifyworker "github.com/Stiven-son/calniq-sub001/internal/notify/worker"
	"github.com/Stiven-son/calniq-sub001/internal/platform/config"
	"github.com/Stiven-son/calniq-sub001/internal/platform/database"
	"github.com/Stiven-son/calniq-sub001/internal/platform/health"
	"github.com/Stiven-son/calniq-sub001/internal/platform/kafka"
	"github.com/Stiven-son/calniq-sub001/internal/platform/logger"
	platformmw "github.com/Stiven-son/calniq-sub001/internal/platform/middleware"
	"github.com/Stiven-son/calniq-sub001/internal/platform/redis"
	tenanthandler "github.com/Stiven-son/calniq-sub001/internal/tenant/handler"
	tenantmw "github.com/Stiven-son/calniq-sub001/internal/tenant/middleware"
	tenantstore "github.com/Stiven-son/calniq-sub001/internal/tenant/store"
	"github.com/Stiven-son/calniq-sub001/migrations"
)

func main() {
	log := logger.New()
	slog.SetDefault(log)

	if err := run(log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()

	// Optional infrastructure. Each subsystem stays nil when unconfigured and
	// the service falls back to in-memory implementations for local dev.
	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.DatabaseURL
	pool, err := database.New(dbCfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close() //nolint:errcheck // shutdown path
		if err := migrations.Apply(ctx, pool.DB()); err != nil {
			return err
		}
	}

	redisClient, err := redis.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck // shutdown path
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

	// Stores.
	var tenants interface {
		lifecycle.TenantStore
		admin.TenantStore
		tenantmw.TenantReader
	}
	var users authservice.UserStore
	var outboxStore outbox.Store
	if pool != nil {
		tenants = tenantstore.NewPostgres(pool.DB())
		users = authstore.NewPostgres(pool.DB())
		outboxStore = outbox.NewPostgres(pool.DB())
	} else {
		log.Warn("no DATABASE_URL configured, using in-memory stores")
		memOutbox := outbox.NewMemory()
		tenants = tenantstore.NewMemory(tenantstore.WithOutbox(memOutbox))
		users = authstore.NewMemory()
		outboxStore = memOutbox
	}

	var sessions session.Store
	if redisClient != nil {
		sessions = session.NewRedis(redisClient)
	} else {
		sessions = session.NewMemory()
	}

	// Notification delivery.
	var mail mailer.Mailer = mailer.NewLog(log)
	if httpMailer := mailer.NewHTTP(mailer.Config{
		BaseURL: cfg.MailBaseURL,
		APIKey:  cfg.MailAPIKey,
		From:    cfg.MailFrom,
	}); httpMailer != nil {
		mail = httpMailer
	}

	notifyMetrics := notifymetrics.New()
	sender := notifyworker.New(outboxStore, mail,
		notifyworker.WithBatchSize(cfg.OutboxBatchSize),
		notifyworker.WithPollInterval(cfg.OutboxPollInterval),
		notifyworker.WithMetrics(notifyMetrics),
		notifyworker.WithLogger(log),
	)

	// Lifecycle checker.
	checker, err := lifecycle.New(tenants, outboxStore,
		lifecycle.WithLogger(log),
		lifecycle.WithMetrics(lifecyclemetrics.New()),
		lifecycle.WithEventPublisher(producer, "calniq.tenant.lifecycle"),
		lifecycle.WithInterval(cfg.CheckInterval),
	)
	if err != nil {
		return err
	}

	// Auth.
	jwtManager := token.NewJWTManager(cfg.JWTSigningKey, time.Hour)
	authSvc := authservice.New(users, sessions,
		authservice.WithLogger(log),
		authservice.WithJWTManager(jwtManager),
		authservice.WithSessionTTL(cfg.SessionTTL),
	)
	sessionGuard := guard.New(users, sessions,
		guard.WithLogger(log),
		guard.WithMetrics(guardmetrics.New()),
		guard.WithLoginPath(cfg.LoginPath),
	)

	// HTTP.
	healthHandler := health.New(envOr("CALNIQ_ENV", "development"))
	if pool != nil {
		healthHandler.RegisterCheck("database", func() error { return pool.Health(context.Background()) })
	}
	if redisClient != nil {
		healthHandler.RegisterCheck("redis", func() error { return redisClient.Health(context.Background()) })
	}

	router := chi.NewRouter()
	router.Use(platformmw.Recovery(log))
	router.Use(platformmw.RequestID)
	router.Use(platformmw.Logger(log))
	router.Use(platformmw.Timeout(30 * time.Second))
	router.Use(platformmw.ContentTypeJSON)
	router.Use(sessionGuard.Authenticate)
	router.Use(sessionGuard.Enforce)

	healthHandler.Register(router)
	router.Handle("/metrics", promhttp.Handler())
	authhandler.New(authSvc, authhandler.WithLogger(log)).Register(router)
	admin.New(tenants, checker, admin.WithLogger(log)).Register(router)
	router.Route("/api", func(r chi.Router) {
		r.Use(tenantmw.RequireActiveSubscription(tenants, log))
		tenanthandler.New(tenants, log).Register(r)
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("http server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	group.Go(func() error {
		sender.Start()
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return sender.Stop(stopCtx)
	})

	group.Go(func() error {
		err := checker.Start(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Housekeeping: expired sessions, delivered-notification retention, and
	// gauge refreshes.
	group.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		retention := time.Duration(cfg.OutboxRetentionDays) * 24 * time.Hour
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if deleted, err := sessions.DeleteExpired(ctx, time.Now()); err != nil {
					log.Error("session cleanup failed", "error", err)
				} else if deleted > 0 {
					log.Info("expired sessions removed", "count", deleted)
				}
				if _, err := sender.Cleanup(ctx, retention); err != nil {
					log.Error("outbox retention cleanup failed", "error", err)
				}
				if err := sender.UpdateMetrics(ctx); err != nil {
					log.Error("outbox metrics refresh failed", "error", err)
				}
				if redisClient != nil {
					redisClient.RecordPoolStats()
				}
			}
		}
	})

	return group.Wait()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
