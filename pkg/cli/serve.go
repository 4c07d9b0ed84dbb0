package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/tasknest/tasknest/pkg/api"
	"github.com/tasknest/tasknest/pkg/billing"
	"github.com/tasknest/tasknest/pkg/observability"
	"github.com/tasknest/tasknest/pkg/rbac"
)

func newServeCommand() *Command {
	cmd := &Command{
		Name:        "serve",
		Description: "Run the HTTP API",
		Flags:       flag.NewFlagSet("serve", flag.ExitOnError),
		Run:         runServe,
	}
	cmd.Flags.String("addr", "", "Listen address (overrides TASKNEST_HOST/TASKNEST_PORT)")
	cmd.Flags.Bool("with-worker", false, "Also run the billing scheduler in this process")
	return cmd
}

func runServe(args []string) error {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", "", "Listen address (overrides TASKNEST_HOST/TASKNEST_PORT)")
	withWorker := flags.Bool("with-worker", false, "Also run the billing scheduler in this process")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if *addr == "" {
		*addr = cfg.Server.Addr()
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	server := api.NewServer(api.ServerConfig{
		Logger:    logger,
		Metrics:   a.metrics,
		Registry:  a.registry,
		Health:    observability.NewHealthChecker(a.db, a.redis, Version),
		Tokens:    a.users,
		RateLimit: a.rateLimit,
		Boards:    api.NewBoardHandlers(a.boards, rbac.NewMiddleware(a.resolver)),
		Billing:   api.NewBillingHandlers(a.subscriptions, a.payments, a.counter),
	})

	httpServer := &http.Server{
		Addr:         *addr,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var scheduler *billing.Scheduler
	if *withWorker {
		scheduler, err = startScheduler(a)
		if err != nil {
			a.close(ctx)
			return err
		}
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return stopAndClose(ctx, scheduler, a)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Starting TaskNest API on %s", *addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return shutdown.WaitForSignal(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
