package billing

import "time"

// Plan is a subscription plan
type Plan string

const (
	PlanBasic Plan = "BASIC"
	PlanTeam  Plan = "TEAM"
)

// Valid reports whether p is a known plan
func (p Plan) Valid() bool {
	return p == PlanBasic || p == PlanTeam
}

// Status is the single lifecycle vocabulary for subscriptions
type Status string

const (
	StatusTrial     Status = "TRIAL"
	StatusActive    Status = "ACTIVE"
	StatusPastDue   Status = "PAST_DUE"
	StatusCancelled Status = "CANCELLED"
	StatusInactive  Status = "INACTIVE"
)

// Billable reports whether the billing sweep may charge a subscription in
// this status.
func (s Status) Billable() bool {
	return s == StatusActive || s == StatusPastDue
}

// Subscription is a user's paid plan. Rows are never deleted.
type Subscription struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	Plan               Plan       `json:"plan"`
	Status             Status     `json:"status"`
	MemberCount        int        `json:"member_count"`
	MonthlyPrice       int64      `json:"monthly_price_cents"`
	Currency           string     `json:"currency"`
	TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty"`
	NextBillingDate    *time.Time `json:"next_billing_date,omitempty"`
	ExternalCustomerID *string    `json:"-"`
	BillingAttempts    int        `json:"billing_attempts"`
	Version            int64      `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// HasPaymentMethod reports whether a reusable authorization is on file
func (s *Subscription) HasPaymentMethod() bool {
	return s.ExternalCustomerID != nil && *s.ExternalCustomerID != ""
}

// PaymentStatus is the state of a single charge attempt
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
)

// Final reports whether the status can no longer change
func (s PaymentStatus) Final() bool {
	return s == PaymentSuccess || s == PaymentFailed
}

// PaymentRecord tracks one charge attempt by its idempotency reference
type PaymentRecord struct {
	Reference        string        `json:"reference"`
	UserID           string        `json:"user_id"`
	SubscriptionID   string        `json:"subscription_id"`
	Amount           int64         `json:"amount_cents"`
	Currency         string        `json:"currency"`
	Status           PaymentStatus `json:"status"`
	GatewayReference string        `json:"gateway_reference,omitempty"`
	Plan             Plan          `json:"plan,omitempty"`
	// BillingDate is the cycle a recurring charge pays for; nil for checkouts
	BillingDate      *time.Time    `json:"billing_date,omitempty"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// PricingInfo is the public price list
type PricingInfo struct {
	BasicPrice  float64 `json:"basic_price"`
	MemberPrice float64 `json:"member_price"`
	TrialDays   int     `json:"trial_days"`
	Currency    string  `json:"currency"`
}

// SweepResult summarises one pass over candidate subscriptions
type SweepResult struct {
	Candidates int `json:"candidates"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// CreateSubscriptionRequest is the body of POST /subscriptions
type CreateSubscriptionRequest struct {
	Plan string `json:"plan"`
}

// InitializePaymentRequest is the body of POST /payments/initialize
type InitializePaymentRequest struct {
	SubscriptionID string `json:"subscription_id"`
	Email          string `json:"email"`
}

// VerifyPaymentRequest is the body of POST /payments/verify
type VerifyPaymentRequest struct {
	Reference string `json:"reference"`
}
