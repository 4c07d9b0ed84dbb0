package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/tasknest/tasknest/pkg/auth"
	"github.com/tasknest/tasknest/pkg/billing"
	"github.com/tasknest/tasknest/pkg/boards"
	"github.com/tasknest/tasknest/pkg/config"
	"github.com/tasknest/tasknest/pkg/middleware"
	"github.com/tasknest/tasknest/pkg/notify"
	"github.com/tasknest/tasknest/pkg/observability"
	"github.com/tasknest/tasknest/pkg/paystack"
	"github.com/tasknest/tasknest/pkg/rbac"
	"github.com/tasknest/tasknest/pkg/storage"
)

const (
	webhookDedupePrefix = "tasknest:webhook:"
	sweepLockPrefix     = "tasknest:lock:"
)

// app holds the process-wide dependencies shared by serve, worker and sweep
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	otel     *observability.OTelProviders

	db    *sql.DB
	redis *redis.Client

	users    *auth.Store
	boards   *boards.Service
	resolver *rbac.Resolver
	counter  billing.MemberCounter

	subscriptions *billing.Service
	payments      *billing.PaymentService
	rateLimit     *middleware.RateLimitMiddleware
}

// migrationSets lists every schema the process owns, in dependency order
func migrationSets() [][]storage.Migration {
	return [][]storage.Migration{
		auth.Migrations(),
		boards.Migrations(),
		billing.Migrations(),
	}
}

// loadConfig reads configuration and builds the process logger
func loadConfig() (*config.Config, *observability.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithField("version", Version)
	return cfg, logger, nil
}

// newApp opens storage and wires every service. Callers must call close.
func newApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	if cfg.Observability.MetricsEnabled {
		a.metrics = observability.NewMetrics(a.registry)
	} else {
		a.metrics = observability.NewNopMetrics()
	}

	otel, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return nil, err
	}
	a.otel = otel

	a.db, err = storage.OpenPostgres(ctx, cfg.Database.Postgres())
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := storage.Migrate(ctx, a.db, migrationSets()...); err != nil {
			a.close(ctx)
			return nil, err
		}
	}

	if cfg.Redis.Enabled() {
		a.redis, err = storage.NewRedisClient(ctx, cfg.Redis.Storage())
		if err != nil {
			a.close(ctx)
			return nil, err
		}
	}

	if err := a.wire(); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg := a.cfg

	gateway, err := paystack.New(paystack.Config{
		SecretKey:     cfg.Paystack.SecretKey,
		WebhookSecret: cfg.Paystack.WebhookSecret,
		BaseURL:       cfg.Paystack.BaseURL,
		Timeout:       cfg.Billing.GatewayTimeout,
	}, paystack.WithLogger(gatewayLogger(cfg)))
	if err != nil {
		return err
	}

	var sender notify.Sender
	if cfg.SMTP.Host != "" {
		sender = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			Timeout:  cfg.SMTP.Timeout,
		})
	} else {
		a.logger.Warn("SMTP host not configured, billing emails will only be logged")
		sender = notify.NewLogSender(a.logger)
	}
	sender = notify.Instrument(sender, a.metrics, a.logger)

	a.users = auth.NewStore(a.db)
	boardStore := boards.NewPostgresStore(a.db)
	a.counter = boardStore

	resolverOpts := []rbac.Option{rbac.WithLogger(a.logger), rbac.WithMetrics(a.metrics)}
	if cfg.Access.CacheEnabled {
		resolverOpts = append(resolverOpts, rbac.WithCache(rbac.CacheConfig{
			Size: cfg.Access.CacheSize,
			TTL:  cfg.Access.CacheTTL,
		}))
	}
	a.resolver = rbac.NewResolver(boardStore, resolverOpts...)

	pricing := billing.NewPricing(cfg.Billing.BasicPrice, cfg.Billing.MemberPrice, cfg.Billing.TrialDays, cfg.Billing.Currency)
	a.subscriptions = billing.NewService(
		billing.NewPostgresStore(a.db),
		gateway,
		sender,
		a.users,
		pricing,
		billing.WithLogger(a.logger),
		billing.WithMetrics(a.metrics),
		billing.WithGatewayTimeout(cfg.Billing.GatewayTimeout),
		billing.WithMaxBillingAttempts(cfg.Billing.MaxBillingAttempts),
	)

	paymentOpts := []billing.PaymentOption{billing.WithCallbackURL(cfg.Paystack.CallbackURL)}
	if a.redis != nil {
		paymentOpts = append(paymentOpts, billing.WithDeduper(
			storage.NewRedisDeduper(a.redis, webhookDedupePrefix, cfg.Billing.WebhookDedupeTTL)))
	}
	a.payments = billing.NewPaymentService(a.subscriptions, paymentOpts...)

	a.boards = boards.NewService(boardStore, a.users, a.resolver, a.logger,
		billing.NewMemberCountSync(a.subscriptions, boardStore))

	if a.redis != nil && cfg.RateLimit.Enabled {
		a.rateLimit = middleware.NewRateLimitMiddleware(a.redis,
			middleware.RateLimitConfig{RequestsPerWindow: cfg.RateLimit.UserRequests, WindowDuration: cfg.RateLimit.Window},
			middleware.RateLimitConfig{RequestsPerWindow: cfg.RateLimit.AnonymousRequests, WindowDuration: cfg.RateLimit.Window})
	}

	return nil
}

// locker returns a cross-process sweep lock when Redis is configured
func (a *app) locker() billing.Locker {
	if a.redis == nil {
		return nil
	}
	return storage.NewRedisLocker(a.redis, sweepLockPrefix)
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	if a.otel != nil {
		if err := a.otel.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// gatewayLogger builds the logrus logger handed to the Paystack client
func gatewayLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.Observability.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
