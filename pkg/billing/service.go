package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tasknest/tasknest/pkg/auth"
	"github.com/tasknest/tasknest/pkg/notify"
	"github.com/tasknest/tasknest/pkg/observability"
)

const maxUpdateRetries = 3

// Service runs the subscription lifecycle. It holds no package-level state;
// construct one per process and share it.
type Service struct {
	store    Store
	gateway  Gateway
	notifier notify.Sender
	users    auth.UserLookup
	pricing  Pricing
	clock    Clock
	logger   *observability.Logger
	metrics  *observability.Metrics

	gatewayTimeout     time.Duration
	maxBillingAttempts int
}

// Option configures a Service
type Option func(*Service)

// WithClock replaces the system clock
func WithClock(clock Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithLogger sets the service logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics records transitions and charges
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithGatewayTimeout bounds each recurring charge
func WithGatewayTimeout(d time.Duration) Option {
	return func(s *Service) { s.gatewayTimeout = d }
}

// WithMaxBillingAttempts sets how many consecutive failed charges move a
// subscription from PAST_DUE to INACTIVE.
func WithMaxBillingAttempts(n int) Option {
	return func(s *Service) { s.maxBillingAttempts = n }
}

// NewService creates a subscription service
func NewService(store Store, gateway Gateway, notifier notify.Sender, users auth.UserLookup, pricing Pricing, opts ...Option) *Service {
	s := &Service{
		store:              store,
		gateway:            gateway,
		notifier:           notifier,
		users:              users,
		pricing:            pricing,
		clock:              SystemClock{},
		logger:             observability.NopLogger(),
		gatewayTimeout:     30 * time.Second,
		maxBillingAttempts: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = notify.NopSender{}
	}
	return s
}

// Price returns the monthly price for plan and memberCount in minor units
func (s *Service) Price(plan Plan, memberCount int) int64 {
	return s.pricing.Price(plan, memberCount)
}

// PricingInfo returns the public price list
func (s *Service) PricingInfo() PricingInfo {
	return s.pricing.Info()
}

// CreateSubscription starts a trial on plan for userID
func (s *Service) CreateSubscription(ctx context.Context, userID string, plan Plan) (*Subscription, error) {
	plan = Plan(strings.ToUpper(string(plan)))
	if !plan.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlan, plan)
	}

	existing, err := s.store.GetSubscriptionForUser(ctx, userID)
	switch {
	case err == nil && existing.Status != StatusCancelled:
		return nil, ErrAlreadyExists
	case err != nil && !errors.Is(err, ErrSubscriptionNotFound):
		return nil, err
	}

	now := s.clock.Now()
	trialEndsAt := now.AddDate(0, 0, s.pricing.TrialDays)
	nextBilling := trialEndsAt
	sub := &Subscription{
		ID:              uuid.NewString(),
		UserID:          userID,
		Plan:            plan,
		Status:          StatusTrial,
		MemberCount:     0,
		MonthlyPrice:    s.pricing.Price(plan, 0),
		Currency:        s.pricing.Currency,
		TrialEndsAt:     &trialEndsAt,
		NextBillingDate: &nextBilling,
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"subscription_id": sub.ID,
		"user_id":         userID,
		"plan":            string(plan),
		"trial_days":      s.pricing.TrialDays,
	}).Info("subscription created")
	s.recordTransition("", StatusTrial)

	s.notifyUser(ctx, userID, notify.KindTrialStarted, map[string]interface{}{
		"Plan":        string(plan),
		"Days":        s.pricing.TrialDays,
		"TrialEndsAt": trialEndsAt.Format("January 2, 2006"),
	})
	return sub, nil
}

// GetSubscription retrieves a subscription by ID
func (s *Service) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	return s.store.GetSubscription(ctx, id)
}

// GetUserSubscription returns the user's current subscription
func (s *Service) GetUserSubscription(ctx context.Context, userID string) (*Subscription, error) {
	return s.store.GetSubscriptionForUser(ctx, userID)
}

// UpdateMemberCount reprices the user's subscription for count members. It
// returns nil, nil when the user has no subscription. The new price applies
// from the next billing cycle; nothing is charged here.
func (s *Service) UpdateMemberCount(ctx context.Context, userID string, count int) (*Subscription, error) {
	if count < 0 {
		return nil, ErrInvalidMemberCount
	}

	current, err := s.store.GetSubscriptionForUser(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sub, err := s.mutate(ctx, current.ID, func(sub *Subscription) bool {
		if sub.MemberCount == count && sub.MonthlyPrice == s.pricing.Price(sub.Plan, count) {
			return false
		}
		sub.MemberCount = count
		sub.MonthlyPrice = s.pricing.Price(sub.Plan, count)
		return true
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"subscription_id": sub.ID,
		"member_count":    count,
		"monthly_price":   sub.MonthlyPrice,
	}).Info("subscription member count updated")
	return sub, nil
}

// ActivateSubscription marks a subscription ACTIVE and schedules the next
// charge one month from now. Cancelled subscriptions stay cancelled.
func (s *Service) ActivateSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	var from Status
	sub, err := s.mutate(ctx, subscriptionID, func(sub *Subscription) bool {
		from = sub.Status
		if sub.Status == StatusCancelled {
			return false
		}
		next := addMonth(s.clock.Now())
		sub.Status = StatusActive
		sub.NextBillingDate = &next
		sub.BillingAttempts = 0
		return true
	})
	if err != nil {
		return nil, err
	}
	if from == StatusCancelled {
		return nil, ErrSubscriptionCancelled
	}

	s.recordTransition(from, StatusActive)
	s.logger.WithField("subscription_id", subscriptionID).Info("subscription activated")
	return sub, nil
}

// applyRenewal advances a subscription past the cycle a recurring charge
// paid for. It only moves the row while NextBillingDate still equals
// billed, so the sweep and a webhook settling the same charge advance it
// once between them. The bool reports whether anything changed.
func (s *Service) applyRenewal(ctx context.Context, subscriptionID string, billed, now time.Time) (*Subscription, bool, error) {
	var from Status
	applied := false
	sub, err := s.mutate(ctx, subscriptionID, func(sub *Subscription) bool {
		from = sub.Status
		applied = false
		if !sub.Status.Billable() || sub.NextBillingDate == nil || !sub.NextBillingDate.Equal(billed) {
			return false
		}
		next := nextCycle(billed, now)
		sub.NextBillingDate = &next
		sub.Status = StatusActive
		sub.BillingAttempts = 0
		applied = true
		return true
	})
	if err != nil {
		return nil, false, err
	}
	if applied && from != StatusActive {
		s.recordTransition(from, StatusActive)
	}
	return sub, applied, nil
}

// AttachCustomer stores the gateway authorization used for recurring charges
func (s *Service) AttachCustomer(ctx context.Context, subscriptionID, customerID string) (*Subscription, error) {
	if customerID == "" {
		return s.store.GetSubscription(ctx, subscriptionID)
	}
	cancelled := false
	sub, err := s.mutate(ctx, subscriptionID, func(sub *Subscription) bool {
		cancelled = sub.Status == StatusCancelled
		if cancelled {
			return false
		}
		if sub.ExternalCustomerID != nil && *sub.ExternalCustomerID == customerID {
			return false
		}
		sub.ExternalCustomerID = &customerID
		return true
	})
	if err != nil {
		return nil, err
	}
	if cancelled {
		return nil, ErrSubscriptionCancelled
	}
	return sub, nil
}

// CancelSubscription cancels the user's subscription and forgets its stored
// authorization. Cancelling twice returns the cancelled subscription.
func (s *Service) CancelSubscription(ctx context.Context, userID string) (*Subscription, error) {
	current, err := s.store.GetSubscriptionForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current.Status == StatusCancelled {
		return current, nil
	}

	var from Status
	sub, err := s.mutate(ctx, current.ID, func(sub *Subscription) bool {
		from = sub.Status
		if sub.Status == StatusCancelled {
			return false
		}
		sub.Status = StatusCancelled
		sub.ExternalCustomerID = nil
		return true
	})
	if err != nil {
		return nil, err
	}
	if from == StatusCancelled {
		return sub, nil
	}

	s.recordTransition(from, StatusCancelled)
	s.logger.WithFields(map[string]interface{}{
		"subscription_id": sub.ID,
		"user_id":         userID,
	}).Info("subscription cancelled")

	s.notifyUser(ctx, userID, notify.KindSubscriptionCancelled, map[string]interface{}{
		"Plan": string(sub.Plan),
	})
	return sub, nil
}

// mutate re-reads the subscription and applies fn until the versioned write
// succeeds. fn returns false to leave the row unchanged.
func (s *Service) mutate(ctx context.Context, id string, fn func(*Subscription) bool) (*Subscription, error) {
	for attempt := 0; ; attempt++ {
		sub, err := s.store.GetSubscription(ctx, id)
		if err != nil {
			return nil, err
		}
		if !fn(sub) {
			return sub, nil
		}
		err = s.store.UpdateSubscription(ctx, sub)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt+1 >= maxUpdateRetries {
			return nil, err
		}
		s.logger.WithField("subscription_id", id).Debug("version conflict, retrying update")
	}
}

func (s *Service) notifyUser(ctx context.Context, userID string, kind notify.Kind, data map[string]interface{}) notify.Result {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("cannot notify user")
		return notify.Result{Err: err}
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["Name"] = user.DisplayName()
	return s.notifier.Send(ctx, notify.Message{To: user.Email, Kind: kind, Data: data})
}

func (s *Service) recordTransition(from, to Status) {
	if s.metrics == nil {
		return
	}
	f := string(from)
	if f == "" {
		f = "NONE"
	}
	s.metrics.SubscriptionTransitions.WithLabelValues(f, string(to)).Inc()
}
