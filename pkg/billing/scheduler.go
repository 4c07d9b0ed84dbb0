package billing

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tasknest/tasknest/pkg/observability"
)

// DefaultSchedule runs the sweep daily at midnight
const DefaultSchedule = "0 0 * * *"

const sweepLockName = "billing-sweep"

// Locker provides a cross-process mutex. TryLock returns false without error
// when another holder owns the lock.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (bool, func(context.Context) error, error)
}

// SweepReport is the outcome of one scheduler run
type SweepReport struct {
	StartedAt time.Time   `json:"started_at"`
	Trials    SweepResult `json:"trials"`
	Billing   SweepResult `json:"billing"`
}

// Scheduler runs trial expiration and billing sweeps on a cron schedule.
// At most one sweep runs at a time in this process, and with a Locker at
// most one across processes.
type Scheduler struct {
	service  *Service
	clock    Clock
	locker   Locker
	lockTTL  time.Duration
	schedule string
	logger   *observability.Logger
	metrics  *observability.Metrics

	cron    *cron.Cron
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// SchedulerConfig configures a Scheduler
type SchedulerConfig struct {
	Schedule string
	Locker   Locker
	LockTTL  time.Duration
}

// NewScheduler creates a scheduler for service. The clock, logger and
// metrics are taken from the service.
func NewScheduler(service *Service, cfg SchedulerConfig) (*Scheduler, error) {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid billing schedule %q: %w", schedule, err)
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		service:  service,
		clock:    service.clock,
		locker:   cfg.Locker,
		lockTTL:  lockTTL,
		schedule: schedule,
		logger:   service.logger,
		metrics:  service.metrics,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins firing sweeps on the schedule
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		defer observability.RecoverPanic(s.logger, "billing sweep")
		if _, err := s.RunOnce(s.ctx); err != nil {
			if errors.Is(err, ErrSweepInProgress) {
				s.logger.Warn("billing sweep skipped: previous sweep still running")
				return
			}
			s.logger.WithError(err).Error("billing sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule billing sweep: %w", err)
	}
	s.cron.Start()
	s.logger.WithField("schedule", s.schedule).Info("billing scheduler started")
	return nil
}

// Stop prevents new sweeps and waits for an in-flight sweep. If ctx ends
// first the in-flight sweep is cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-stopped.Done()
		return ctx.Err()
	}
}

// Running reports whether a sweep is in flight
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// RunOnce performs one trial expiration pass followed by one billing pass.
// It returns ErrSweepInProgress if another sweep holds the guard.
func (s *Scheduler) RunOnce(ctx context.Context) (*SweepReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.observeRun("skipped")
		return nil, ErrSweepInProgress
	}
	defer s.running.Store(false)

	if s.locker != nil {
		acquired, release, err := s.locker.TryLock(ctx, sweepLockName, s.lockTTL)
		if err != nil {
			s.observeRun("error")
			return nil, fmt.Errorf("failed to acquire sweep lock: %w", err)
		}
		if !acquired {
			s.observeRun("skipped")
			return nil, ErrSweepInProgress
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				s.logger.WithError(err).Warn("failed to release sweep lock")
			}
		}()
	}

	now := s.clock.Now()
	report := &SweepReport{StartedAt: now}

	ctx, span := observability.Tracer().Start(ctx, "billing.sweep")
	defer span.End()
	logger := observability.WithTraceContext(ctx, s.logger)
	logger.WithField("now", now).Info("billing sweep started")

	start := time.Now()
	trials, err := s.service.ProcessTrialExpirations(ctx, now)
	s.observePhase("trial", start)
	report.Trials = trials
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "trial expiration failed")
		s.observeRun("error")
		return report, err
	}

	start = time.Now()
	cycles, err := s.service.ProcessBillingCycles(ctx, now)
	s.observePhase("billing", start)
	report.Billing = cycles
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "billing cycle failed")
		s.observeRun("error")
		return report, err
	}

	span.SetAttributes(
		attribute.Int("billing.trials.expired", trials.Succeeded),
		attribute.Int("billing.charges.succeeded", cycles.Succeeded),
		attribute.Int("billing.charges.failed", cycles.Failed),
	)
	s.observeRun("success")
	if s.metrics != nil {
		s.metrics.SweepLastSuccess.SetToCurrentTime()
	}

	logger.WithFields(map[string]interface{}{
		"trials_expired":  trials.Succeeded,
		"trials_failed":   trials.Failed,
		"charges_ok":      cycles.Succeeded,
		"charges_failed":  cycles.Failed,
		"charges_skipped": cycles.Skipped,
	}).Info("billing sweep finished")
	return report, nil
}

func (s *Scheduler) observeRun(outcome string) {
	if s.metrics != nil {
		s.metrics.SweepRunsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Scheduler) observePhase(phase string, start time.Time) {
	if s.metrics != nil {
		s.metrics.SweepDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	}
}
