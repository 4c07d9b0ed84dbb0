package billing

import (
	"context"
	"time"
)

// ChargeRequest starts a hosted checkout for a first payment
type ChargeRequest struct {
	Email       string
	Amount      int64
	Currency    string
	Reference   string
	CallbackURL string
	Metadata    map[string]string
}

// Checkout is where the customer completes a payment
type Checkout struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code,omitempty"`
	Reference        string `json:"reference"`
}

// Verification is the gateway's view of a transaction
type Verification struct {
	Success           bool
	Status            string
	Amount            int64
	Currency          string
	Reference         string
	GatewayReference  string
	AuthorizationCode string
	Metadata          map[string]string
	PaidAt            *time.Time
}

// InProgress reports whether the gateway has not settled the charge yet
func (v *Verification) InProgress() bool {
	switch v.Status {
	case "pending", "ongoing", "processing", "queued":
		return true
	}
	return false
}

// AuthorizationCharge bills a stored authorization without customer interaction
type AuthorizationCharge struct {
	Email             string
	Amount            int64
	Currency          string
	AuthorizationCode string
	Reference         string
	Metadata          map[string]string
}

// ChargeResult is a successful recurring charge
type ChargeResult struct {
	Reference        string
	GatewayReference string
	Message          string
}

// Gateway is a payment processor. Implementations wrap transient failures in
// ErrGateway and refusals in ErrGatewayDeclined.
type Gateway interface {
	InitializeCharge(ctx context.Context, req ChargeRequest) (*Checkout, error)
	VerifyCharge(ctx context.Context, reference string) (*Verification, error)
	ChargeAuthorization(ctx context.Context, req AuthorizationCharge) (*ChargeResult, error)
	VerifySignature(payload []byte, signature string) error
}
