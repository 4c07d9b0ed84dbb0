package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tasknest/tasknest/pkg/notify"
)

// ProcessTrialExpirations moves every TRIAL subscription whose trial ended at
// or before now to INACTIVE and tells its owner. A failure on one
// subscription is logged and does not stop the others.
func (s *Service) ProcessTrialExpirations(ctx context.Context, now time.Time) (SweepResult, error) {
	candidates, err := s.store.ListExpiredTrials(ctx, now)
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to list expired trials: %w", err)
	}

	result := SweepResult{Candidates: len(candidates)}
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		expired := false
		sub, err := s.mutate(ctx, candidate.ID, func(sub *Subscription) bool {
			if sub.Status != StatusTrial || sub.TrialEndsAt == nil || sub.TrialEndsAt.After(now) {
				return false
			}
			sub.Status = StatusInactive
			expired = true
			return true
		})
		switch {
		case err != nil:
			result.Failed++
			s.observeSweep("trial", "error")
			s.logger.WithError(err).WithField("subscription_id", candidate.ID).Error("failed to expire trial")
			continue
		case !expired:
			result.Skipped++
			s.observeSweep("trial", "skipped")
			continue
		}

		result.Succeeded++
		s.observeSweep("trial", "expired")
		s.recordTransition(StatusTrial, StatusInactive)
		s.logger.WithFields(map[string]interface{}{
			"subscription_id": sub.ID,
			"user_id":         sub.UserID,
		}).Info("trial expired")

		s.notifyUser(ctx, sub.UserID, notify.KindTrialExpired, map[string]interface{}{
			"Plan": string(sub.Plan),
		})
	}
	return result, nil
}

// ProcessBillingCycles charges every ACTIVE or PAST_DUE subscription with a
// stored authorization whose billing date is at or before now.
//
// Each charge is recorded as a PENDING payment under a reference derived from
// the subscription, its billing date and attempt number, so a crashed sweep
// that is re-run cannot charge the same attempt twice; a re-run finds the
// record and settles it from the gateway instead. nextBillingDate is advanced
// only after the gateway confirms the charge, and only past the cycle that
// was charged.
func (s *Service) ProcessBillingCycles(ctx context.Context, now time.Time) (SweepResult, error) {
	candidates, err := s.store.ListDueForBilling(ctx, now)
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to list subscriptions due for billing: %w", err)
	}

	result := SweepResult{Candidates: len(candidates)}
	for _, sub := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		outcome, err := s.billSubscription(ctx, sub, now)
		if err != nil {
			s.logger.WithError(err).WithField("subscription_id", sub.ID).Error("failed to bill subscription")
		}
		switch outcome {
		case billCharged:
			result.Succeeded++
		case billFailed:
			result.Failed++
		default:
			result.Skipped++
		}
		s.observeSweep("billing", string(outcome))
	}
	return result, nil
}

type billOutcome string

const (
	billCharged billOutcome = "charged"
	billFailed  billOutcome = "failed"
	billSkipped billOutcome = "skipped"
)

// chargeReference is stable for one attempt on one billing date
func chargeReference(sub *Subscription) string {
	return fmt.Sprintf("sub_%s_%d_%d", sub.ID, sub.NextBillingDate.Unix(), sub.BillingAttempts+1)
}

func (s *Service) billSubscription(ctx context.Context, candidate *Subscription, now time.Time) (billOutcome, error) {
	// the candidate list is as old as the sweep; a webhook may have moved the row since
	sub, err := s.store.GetSubscription(ctx, candidate.ID)
	if err != nil {
		return billSkipped, err
	}
	if !sub.Status.Billable() || !sub.HasPaymentMethod() || sub.NextBillingDate == nil || sub.NextBillingDate.After(now) {
		return billSkipped, nil
	}

	if sub.MonthlyPrice <= 0 {
		// nothing to collect; roll the cycle forward without a gateway call
		_, err := s.mutate(ctx, sub.ID, func(fresh *Subscription) bool {
			if fresh.NextBillingDate == nil || fresh.NextBillingDate.After(now) {
				return false
			}
			next := nextCycle(*fresh.NextBillingDate, now)
			fresh.NextBillingDate = &next
			return true
		})
		if err != nil {
			return billSkipped, err
		}
		return billSkipped, nil
	}

	user, err := s.users.GetUserByID(ctx, sub.UserID)
	if err != nil {
		return billSkipped, fmt.Errorf("failed to load subscription owner: %w", err)
	}

	billed := *sub.NextBillingDate
	payment := &PaymentRecord{
		Reference:      chargeReference(sub),
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		Amount:         sub.MonthlyPrice,
		Currency:       sub.Currency,
		Status:         PaymentPending,
		Plan:           sub.Plan,
		BillingDate:    &billed,
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return s.reconcileCharge(ctx, sub, user.Email, payment.Reference, now)
		}
		return billSkipped, err
	}
	return s.charge(ctx, sub, user.Email, payment, now)
}

func (s *Service) charge(ctx context.Context, sub *Subscription, email string, payment *PaymentRecord, now time.Time) (billOutcome, error) {
	chargeCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	start := time.Now()
	result, chargeErr := s.gateway.ChargeAuthorization(chargeCtx, AuthorizationCharge{
		Email:             email,
		Amount:            payment.Amount,
		Currency:          payment.Currency,
		AuthorizationCode: *sub.ExternalCustomerID,
		Reference:         payment.Reference,
		Metadata: map[string]string{
			"subscriptionId": sub.ID,
			"userId":         sub.UserID,
			"plan":           string(sub.Plan),
		},
	})
	cancel()
	if s.metrics != nil {
		s.metrics.ChargeDuration.Observe(time.Since(start).Seconds())
	}

	if chargeErr != nil {
		s.observeCharge(chargeErr)
		return billFailed, s.recordFailedCharge(ctx, sub, payment, now, chargeErr)
	}
	s.observeCharge(nil)
	gatewayRef := ""
	if result != nil {
		gatewayRef = result.GatewayReference
	}
	return billCharged, s.recordSuccessfulCharge(ctx, sub, payment, gatewayRef, now)
}

// reconcileCharge settles an attempt an earlier run recorded but did not
// finish. A PENDING record is checked with the gateway before anything is
// charged; the gateway not knowing the reference means the earlier run
// stopped before charging, so the charge is made now under the same
// reference.
func (s *Service) reconcileCharge(ctx context.Context, sub *Subscription, email, reference string, now time.Time) (billOutcome, error) {
	payment, err := s.store.GetPayment(ctx, reference)
	if err != nil {
		return billFailed, fmt.Errorf("failed to load recorded charge %s: %w", reference, err)
	}
	logger := s.logger.WithFields(map[string]interface{}{
		"subscription_id": sub.ID,
		"reference":       reference,
		"status":          string(payment.Status),
	})
	logger.Info("reconciling recorded charge")

	switch payment.Status {
	case PaymentSuccess:
		return billCharged, s.recordSuccessfulCharge(ctx, sub, payment, payment.GatewayReference, now)
	case PaymentFailed:
		return billFailed, s.recordFailedCharge(ctx, sub, payment, now, fmt.Errorf("%w: charge %s previously failed", ErrGatewayDeclined, reference))
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	verification, err := s.gateway.VerifyCharge(verifyCtx, reference)
	cancel()
	switch {
	case errors.Is(err, ErrGatewayDeclined):
		logger.Info("recorded charge never reached the gateway, charging now")
		return s.charge(ctx, sub, email, payment, now)
	case err != nil:
		return billFailed, fmt.Errorf("failed to verify recorded charge %s: %w", reference, err)
	case verification.Success:
		s.observeCharge(nil)
		return billCharged, s.recordSuccessfulCharge(ctx, sub, payment, verification.GatewayReference, now)
	case verification.InProgress():
		logger.Info("recorded charge still processing at the gateway")
		return billSkipped, nil
	default:
		declined := fmt.Errorf("%w: %s", ErrGatewayDeclined, verification.Status)
		s.observeCharge(declined)
		return billFailed, s.recordFailedCharge(ctx, sub, payment, now, declined)
	}
}

// recordSuccessfulCharge marks the payment SUCCESS and advances the
// subscription past the billed cycle unless a webhook already did.
func (s *Service) recordSuccessfulCharge(ctx context.Context, sub *Subscription, payment *PaymentRecord, gatewayRef string, now time.Time) error {
	paidAt := now
	if _, err := s.store.CompletePayment(ctx, payment.Reference, PaymentSuccess, gatewayRef, &paidAt); err != nil {
		return fmt.Errorf("failed to record successful charge %s: %w", payment.Reference, err)
	}

	updated, applied, err := s.applyRenewal(ctx, sub.ID, *sub.NextBillingDate, now)
	if err != nil {
		return fmt.Errorf("charge %s succeeded but subscription update failed: %w", payment.Reference, err)
	}

	logger := s.logger.WithFields(map[string]interface{}{
		"subscription_id":   sub.ID,
		"reference":         payment.Reference,
		"amount":            payment.Amount,
		"next_billing_date": updated.NextBillingDate,
	})
	if !applied {
		logger.Info("renewal already applied")
		return nil
	}
	logger.Info("subscription billed")
	return nil
}

// recordFailedCharge marks the payment FAILED and counts the attempt, once,
// against the cycle it was made for.
func (s *Service) recordFailedCharge(ctx context.Context, sub *Subscription, payment *PaymentRecord, now time.Time, chargeErr error) error {
	if _, err := s.store.CompletePayment(ctx, payment.Reference, PaymentFailed, "", nil); err != nil {
		s.logger.WithError(err).WithField("reference", payment.Reference).Error("failed to record failed charge")
	}

	billed := *sub.NextBillingDate
	from := sub.Status
	changed := false
	updated, err := s.mutate(ctx, sub.ID, func(fresh *Subscription) bool {
		changed = false
		if !fresh.Status.Billable() || fresh.NextBillingDate == nil || !fresh.NextBillingDate.Equal(billed) ||
			fresh.BillingAttempts != sub.BillingAttempts {
			return false
		}
		from = fresh.Status
		changed = true
		fresh.BillingAttempts++
		if fresh.BillingAttempts >= s.maxBillingAttempts {
			fresh.Status = StatusInactive
		} else {
			fresh.Status = StatusPastDue
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("charge %s failed (%v) and subscription update failed: %w", payment.Reference, chargeErr, err)
	}
	if !changed {
		return nil
	}

	final := updated.Status == StatusInactive
	if from != updated.Status {
		s.recordTransition(from, updated.Status)
	}
	s.logger.WithError(chargeErr).WithFields(map[string]interface{}{
		"subscription_id": sub.ID,
		"reference":       payment.Reference,
		"attempts":        updated.BillingAttempts,
		"status":          string(updated.Status),
	}).Warn("subscription charge failed")

	s.notifyUser(ctx, sub.UserID, notify.KindPaymentFailed, map[string]interface{}{
		"Amount":   fmt.Sprintf("%.2f", FromMinorUnits(payment.Amount)),
		"Currency": payment.Currency,
		"Final":    final,
	})
	return nil
}

func (s *Service) observeCharge(err error) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case errors.Is(err, ErrGatewayDeclined):
		outcome = "declined"
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	s.metrics.ChargesTotal.WithLabelValues(outcome).Inc()
}

func (s *Service) observeSweep(phase, result string) {
	if s.metrics != nil {
		s.metrics.SweepProcessedTotal.WithLabelValues(phase, result).Inc()
	}
}
