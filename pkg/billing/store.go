package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tasknest/tasknest/pkg/storage"
)

// Store persists subscriptions and payment records
type Store interface {
	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	// GetSubscriptionForUser prefers the user's non-cancelled subscription and
	// falls back to the most recent cancelled one.
	GetSubscriptionForUser(ctx context.Context, userID string) (*Subscription, error)
	// UpdateSubscription writes sub if its Version is current and bumps it.
	// It returns ErrVersionConflict otherwise.
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	ListExpiredTrials(ctx context.Context, now time.Time) ([]*Subscription, error)
	ListDueForBilling(ctx context.Context, now time.Time) ([]*Subscription, error)

	CreatePayment(ctx context.Context, p *PaymentRecord) error
	GetPayment(ctx context.Context, reference string) (*PaymentRecord, error)
	// CompletePayment moves a PENDING record to status. It reports false when
	// the record was already final.
	CompletePayment(ctx context.Context, reference string, status PaymentStatus, gatewayRef string, paidAt *time.Time) (bool, error)
	ListPaymentsForUser(ctx context.Context, userID string) ([]*PaymentRecord, error)
}

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

const subscriptionColumns = `id, user_id, plan, status, member_count, monthly_price, currency,
		       trial_ends_at, next_billing_date, external_customer_id, billing_attempts,
		       version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	sub := &Subscription{}
	var (
		trialEndsAt sql.NullTime
		nextBilling sql.NullTime
		customerID  sql.NullString
	)
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.Plan, &sub.Status, &sub.MemberCount, &sub.MonthlyPrice, &sub.Currency,
		&trialEndsAt, &nextBilling, &customerID, &sub.BillingAttempts,
		&sub.Version, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if trialEndsAt.Valid {
		t := trialEndsAt.Time
		sub.TrialEndsAt = &t
	}
	if nextBilling.Valid {
		t := nextBilling.Time
		sub.NextBillingDate = &t
	}
	if customerID.Valid {
		c := customerID.String
		sub.ExternalCustomerID = &c
	}
	return sub, nil
}

// CreateSubscription inserts sub. The partial unique index on user_id for
// non-cancelled rows turns a concurrent duplicate into ErrAlreadyExists.
func (s *PostgresStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	now := s.now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	sub.Version = 1

	query := `
		INSERT INTO subscriptions (id, user_id, plan, status, member_count, monthly_price, currency,
		                           trial_ends_at, next_billing_date, external_customer_id, billing_attempts,
		                           version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.db.ExecContext(ctx, query,
		sub.ID, sub.UserID, string(sub.Plan), string(sub.Status), sub.MemberCount, sub.MonthlyPrice, sub.Currency,
		sub.TrialEndsAt, sub.NextBillingDate, sub.ExternalCustomerID, sub.BillingAttempts,
		sub.Version, sub.CreatedAt, sub.UpdatedAt,
	)
	if storage.IsUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by ID
func (s *PostgresStore) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// GetSubscriptionForUser implements Store
func (s *PostgresStore) GetSubscriptionForUser(ctx context.Context, userID string) (*Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY CASE WHEN status = 'CANCELLED' THEN 1 ELSE 0 END, created_at DESC
		LIMIT 1
	`
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// UpdateSubscription implements Store
func (s *PostgresStore) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	now := s.now().UTC()
	query := `
		UPDATE subscriptions
		SET plan = $1, status = $2, member_count = $3, monthly_price = $4, currency = $5,
		    trial_ends_at = $6, next_billing_date = $7, external_customer_id = $8,
		    billing_attempts = $9, version = version + 1, updated_at = $10
		WHERE id = $11 AND version = $12
	`
	result, err := s.db.ExecContext(ctx, query,
		string(sub.Plan), string(sub.Status), sub.MemberCount, sub.MonthlyPrice, sub.Currency,
		sub.TrialEndsAt, sub.NextBillingDate, sub.ExternalCustomerID,
		sub.BillingAttempts, now, sub.ID, sub.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrVersionConflict
	}
	sub.Version++
	sub.UpdatedAt = now
	return nil
}

// ListExpiredTrials returns TRIAL subscriptions whose trial ended at or before now
func (s *PostgresStore) ListExpiredTrials(ctx context.Context, now time.Time) ([]*Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = 'TRIAL' AND trial_ends_at <= $1
		ORDER BY trial_ends_at ASC
	`
	return s.listSubscriptions(ctx, query, now)
}

// ListDueForBilling returns ACTIVE and PAST_DUE subscriptions with a stored
// authorization whose billing date is at or before now.
func (s *PostgresStore) ListDueForBilling(ctx context.Context, now time.Time) ([]*Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status IN ('ACTIVE', 'PAST_DUE')
		  AND next_billing_date <= $1
		  AND external_customer_id IS NOT NULL
		ORDER BY next_billing_date ASC
	`
	return s.listSubscriptions(ctx, query, now)
}

func (s *PostgresStore) listSubscriptions(ctx context.Context, query string, args ...interface{}) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}
	return subs, nil
}

// CreatePayment inserts a payment record. A reused reference is
// ErrAlreadyExists.
func (s *PostgresStore) CreatePayment(ctx context.Context, p *PaymentRecord) error {
	now := s.now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO payments (reference, user_id, subscription_id, amount, currency, status, plan, billing_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		p.Reference, p.UserID, p.SubscriptionID, p.Amount, p.Currency, string(p.Status), string(p.Plan), p.BillingDate, p.CreatedAt, p.UpdatedAt,
	)
	if storage.IsUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

const paymentColumns = `reference, user_id, subscription_id, amount, currency, status,
		       gateway_reference, plan, billing_date, paid_at, created_at, updated_at`

func scanPayment(row rowScanner) (*PaymentRecord, error) {
	p := &PaymentRecord{}
	var (
		gatewayRef  sql.NullString
		plan        sql.NullString
		billingDate sql.NullTime
		paidAt      sql.NullTime
	)
	if err := row.Scan(
		&p.Reference, &p.UserID, &p.SubscriptionID, &p.Amount, &p.Currency, &p.Status,
		&gatewayRef, &plan, &billingDate, &paidAt, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.GatewayReference = gatewayRef.String
	p.Plan = Plan(plan.String)
	if billingDate.Valid {
		t := billingDate.Time
		p.BillingDate = &t
	}
	if paidAt.Valid {
		t := paidAt.Time
		p.PaidAt = &t
	}
	return p, nil
}

// GetPayment retrieves a payment record by reference
func (s *PostgresStore) GetPayment(ctx context.Context, reference string) (*PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE reference = $1`
	p, err := scanPayment(s.db.QueryRowContext(ctx, query, reference))
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

// CompletePayment implements Store
func (s *PostgresStore) CompletePayment(ctx context.Context, reference string, status PaymentStatus, gatewayRef string, paidAt *time.Time) (bool, error) {
	if !status.Final() {
		return false, fmt.Errorf("cannot complete payment with status %s", status)
	}
	query := `
		UPDATE payments
		SET status = $1, gateway_reference = NULLIF($2, ''), paid_at = $3, updated_at = $4
		WHERE reference = $5 AND status = 'PENDING'
	`
	result, err := s.db.ExecContext(ctx, query, string(status), gatewayRef, paidAt, s.now().UTC(), reference)
	if err != nil {
		return false, fmt.Errorf("failed to complete payment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return true, nil
	}

	if _, err := s.GetPayment(ctx, reference); err != nil {
		return false, err
	}
	return false, nil
}

// ListPaymentsForUser returns a user's payments, newest first
func (s *PostgresStore) ListPaymentsForUser(ctx context.Context, userID string) ([]*PaymentRecord, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}
	return payments, nil
}
