// Package billing runs the subscription lifecycle and collects payments.
//
// # Plans and pricing
//
// BASIC is a flat monthly price. TEAM is priced per board member across all
// boards the subscriber owns. Prices are held in minor units (cents) and are
// recomputed from plan and member count on every change; a member count
// change only affects the next cycle's charge.
//
// # Lifecycle
//
//	TRIAL ──activate──▶ ACTIVE ──charge fails──▶ PAST_DUE ──N failures──▶ INACTIVE
//	  │                   ▲                          │
//	  │                   └────────charge ok─────────┘
//	  └──trial ends──▶ INACTIVE
//
// Any non-cancelled subscription may be CANCELLED, which also forgets the
// stored gateway authorization. A user has at most one non-cancelled
// subscription.
//
// # Usage
//
//	svc := billing.NewService(store, gateway, sender, users, billing.DefaultPricing(),
//		billing.WithLogger(logger),
//		billing.WithMetrics(metrics),
//	)
//	sub, err := svc.CreateSubscription(ctx, userID, billing.PlanTeam)
//
// Scheduled work runs through a Scheduler, which guarantees that two sweeps
// never overlap:
//
//	sched, err := billing.NewScheduler(svc, billing.SchedulerConfig{Locker: locker})
//	sched.Start()
//	defer sched.Stop(ctx)
//
// # Related Packages
//
//   - pkg/paystack: Gateway implementation
//   - pkg/notify: email delivery
//   - pkg/boards: membership changes that reprice TEAM subscriptions
package billing
