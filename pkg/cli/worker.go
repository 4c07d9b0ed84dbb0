package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tasknest/tasknest/pkg/billing"
	"github.com/tasknest/tasknest/pkg/observability"
)

func newWorkerCommand() *Command {
	return &Command{
		Name:        "worker",
		Description: "Run the billing scheduler until interrupted",
		Flags:       flag.NewFlagSet("worker", flag.ExitOnError),
		Run:         runWorker,
	}
}

func newSweepCommand() *Command {
	return &Command{
		Name:        "sweep",
		Description: "Run trial expiration and billing once and print the report",
		Flags:       flag.NewFlagSet("sweep", flag.ExitOnError),
		Run:         runSweep,
	}
}

func runWorker(args []string) error {
	flags := flag.NewFlagSet("worker", flag.ExitOnError)
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	scheduler, err := startScheduler(a)
	if err != nil {
		a.close(ctx)
		return err
	}

	shutdown := observability.NewShutdownManager(logger, nil, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return stopAndClose(ctx, scheduler, a)
	})

	logger.WithField("schedule", cfg.Billing.Schedule).Info("TaskNest billing worker started")
	return shutdown.WaitForSignal(ctx)
}

func runSweep(args []string) error {
	flags := flag.NewFlagSet("sweep", flag.ExitOnError)
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer a.close(ctx)

	scheduler, err := newScheduler(a)
	if err != nil {
		return err
	}

	report, err := scheduler.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	return printReport(os.Stdout, report)
}

func newScheduler(a *app) (*billing.Scheduler, error) {
	return billing.NewScheduler(a.subscriptions, billing.SchedulerConfig{
		Schedule: a.cfg.Billing.Schedule,
		Locker:   a.locker(),
		LockTTL:  a.cfg.Billing.SweepLockTTL,
	})
}

func startScheduler(a *app) (*billing.Scheduler, error) {
	scheduler, err := newScheduler(a)
	if err != nil {
		return nil, err
	}
	if err := scheduler.Start(); err != nil {
		return nil, fmt.Errorf("failed to start billing scheduler: %w", err)
	}
	return scheduler, nil
}

// stopAndClose waits for an in-flight sweep before closing storage.
// scheduler may be nil.
func stopAndClose(ctx context.Context, scheduler *billing.Scheduler, a *app) error {
	var stopErr error
	if scheduler != nil {
		stopErr = scheduler.Stop(ctx)
	}
	return errors.Join(stopErr, a.close(ctx))
}

func printReport(w io.Writer, report *billing.SweepReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
