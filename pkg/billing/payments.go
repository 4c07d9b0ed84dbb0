package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tasknest/tasknest/pkg/notify"
	"github.com/tasknest/tasknest/pkg/observability"
)

// Deduper remembers keys it has seen within a retention window
type Deduper interface {
	FirstSeen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// PaymentService handles customer-initiated payments and gateway webhooks
type PaymentService struct {
	subs        *Service
	store       Store
	gateway     Gateway
	deduper     Deduper
	callbackURL string
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// PaymentOption configures a PaymentService
type PaymentOption func(*PaymentService)

// WithDeduper drops replayed webhook deliveries
func WithDeduper(d Deduper) PaymentOption {
	return func(p *PaymentService) { p.deduper = d }
}

// WithCallbackURL sets where the gateway returns the customer after checkout
func WithCallbackURL(url string) PaymentOption {
	return func(p *PaymentService) { p.callbackURL = url }
}

// NewPaymentService creates a PaymentService on top of a subscription service
func NewPaymentService(subs *Service, opts ...PaymentOption) *PaymentService {
	p := &PaymentService{
		subs:    subs,
		store:   subs.store,
		gateway: subs.gateway,
		logger:  subs.logger,
		metrics: subs.metrics,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// VerificationResult is returned by VerifyPayment
type VerificationResult struct {
	Success        bool          `json:"success"`
	Reference      string        `json:"reference"`
	SubscriptionID string        `json:"subscription_id"`
	Status         PaymentStatus `json:"status"`
	Amount         float64       `json:"amount"`
	Plan           Plan          `json:"plan,omitempty"`
	Message        string        `json:"message,omitempty"`
}

// InitializePayment opens a gateway checkout for the subscription's current
// monthly price and records it as PENDING.
func (p *PaymentService) InitializePayment(ctx context.Context, userID, subscriptionID, email string) (*Checkout, error) {
	sub, err := p.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, ErrSubscriptionNotFound
	}
	if sub.Status == StatusCancelled {
		return nil, ErrSubscriptionCancelled
	}
	if sub.MonthlyPrice <= 0 {
		return nil, ErrNothingToCharge
	}

	if email == "" {
		user, err := p.subs.users.GetUserByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load user: %w", err)
		}
		email = user.Email
	}

	reference := fmt.Sprintf("sub_%s_%s", sub.ID, uuid.NewString())
	checkout, err := p.gateway.InitializeCharge(ctx, ChargeRequest{
		Email:       email,
		Amount:      sub.MonthlyPrice,
		Currency:    sub.Currency,
		Reference:   reference,
		CallbackURL: p.callbackURL,
		Metadata: map[string]string{
			"subscriptionId": sub.ID,
			"userId":         userID,
			"plan":           string(sub.Plan),
		},
	})
	if err != nil {
		return nil, err
	}
	if checkout.Reference == "" {
		checkout.Reference = reference
	}

	if err := p.store.CreatePayment(ctx, &PaymentRecord{
		Reference:      checkout.Reference,
		UserID:         userID,
		SubscriptionID: sub.ID,
		Amount:         sub.MonthlyPrice,
		Currency:       sub.Currency,
		Status:         PaymentPending,
		Plan:           sub.Plan,
	}); err != nil {
		return nil, err
	}

	p.logger.WithFields(map[string]interface{}{
		"subscription_id": sub.ID,
		"reference":       checkout.Reference,
		"amount":          sub.MonthlyPrice,
	}).Info("payment initialized")
	return checkout, nil
}

// VerifyPayment asks the gateway for the outcome of reference and applies it.
// Records that are already SUCCESS or FAILED are reported without being
// re-applied. userID scopes the lookup; an empty userID skips the check.
func (p *PaymentService) VerifyPayment(ctx context.Context, userID, reference string) (*VerificationResult, error) {
	record, err := p.store.GetPayment(ctx, reference)
	if err != nil {
		return nil, err
	}
	if userID != "" && record.UserID != userID {
		return nil, ErrPaymentNotFound
	}
	if record.Status.Final() {
		return resultFromRecord(record), nil
	}

	verification, err := p.gateway.VerifyCharge(ctx, reference)
	if err != nil {
		return nil, err
	}

	if verification.InProgress() {
		res := resultFromRecord(record)
		res.Message = "payment is still processing"
		return res, nil
	}
	if !verification.Success {
		if _, err := p.store.CompletePayment(ctx, reference, PaymentFailed, verification.GatewayReference, nil); err != nil {
			return nil, err
		}
		record.Status = PaymentFailed
		res := resultFromRecord(record)
		res.Message = "payment verification failed"
		return res, nil
	}

	if err := p.applySuccess(ctx, record, verification.GatewayReference, verification.AuthorizationCode, verification.PaidAt); err != nil {
		return nil, err
	}
	record.Status = PaymentSuccess
	return resultFromRecord(record), nil
}

// PaymentHistory returns the user's payments, newest first
func (p *PaymentService) PaymentHistory(ctx context.Context, userID string) ([]*PaymentRecord, error) {
	return p.store.ListPaymentsForUser(ctx, userID)
}

// applySuccess moves record to SUCCESS and, on the first transition only,
// stores the authorization, activates the subscription and sends a receipt.
// Recurring charges instead advance the cycle they were billed for.
func (p *PaymentService) applySuccess(ctx context.Context, record *PaymentRecord, gatewayRef, authCode string, paidAt *time.Time) error {
	if paidAt == nil {
		now := p.subs.clock.Now()
		paidAt = &now
	}
	transitioned, err := p.store.CompletePayment(ctx, record.Reference, PaymentSuccess, gatewayRef, paidAt)
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}
	if record.BillingDate != nil {
		_, applied, err := p.subs.applyRenewal(ctx, record.SubscriptionID, *record.BillingDate, p.subs.clock.Now())
		if err != nil {
			return fmt.Errorf("failed to apply renewal %s: %w", record.Reference, err)
		}
		p.logger.WithFields(map[string]interface{}{
			"subscription_id": record.SubscriptionID,
			"reference":       record.Reference,
			"applied":         applied,
		}).Info("renewal payment confirmed")
		return nil
	}
	return p.activateFromPayment(ctx, record.SubscriptionID, authCode, record.Amount, record.Currency, record.Reference)
}

// activateFromPayment is a no-op for cancelled subscriptions; the payment
// stays recorded as SUCCESS.
func (p *PaymentService) activateFromPayment(ctx context.Context, subscriptionID, authCode string, amount int64, currency, reference string) error {
	if authCode != "" {
		_, err := p.subs.AttachCustomer(ctx, subscriptionID, authCode)
		if errors.Is(err, ErrSubscriptionCancelled) {
			p.warnCancelled(subscriptionID, reference)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to store authorization: %w", err)
		}
	}
	sub, err := p.subs.ActivateSubscription(ctx, subscriptionID)
	if errors.Is(err, ErrSubscriptionCancelled) {
		p.warnCancelled(subscriptionID, reference)
		return nil
	}
	if err != nil {
		return err
	}

	next := ""
	if sub.NextBillingDate != nil {
		next = sub.NextBillingDate.Format("January 2, 2006")
	}
	p.subs.notifyUser(ctx, sub.UserID, notify.KindPaymentConfirmation, map[string]interface{}{
		"Amount":          fmt.Sprintf("%.2f", FromMinorUnits(amount)),
		"Currency":        currency,
		"Reference":       reference,
		"NextBillingDate": next,
		"Plan":            string(sub.Plan),
	})
	return nil
}

func (p *PaymentService) warnCancelled(subscriptionID, reference string) {
	p.logger.WithFields(map[string]interface{}{
		"subscription_id": subscriptionID,
		"reference":       reference,
	}).Warn("payment received for cancelled subscription")
}

func resultFromRecord(r *PaymentRecord) *VerificationResult {
	return &VerificationResult{
		Success:        r.Status == PaymentSuccess,
		Reference:      r.Reference,
		SubscriptionID: r.SubscriptionID,
		Status:         r.Status,
		Amount:         FromMinorUnits(r.Amount),
		Plan:           r.Plan,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrPaymentNotFound) || errors.Is(err, ErrSubscriptionNotFound)
}
