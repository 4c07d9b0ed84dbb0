package billing

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrAlreadyExists        = errors.New("user already has a subscription")
	ErrInvalidPlan          = errors.New("invalid plan")
	ErrInvalidMemberCount   = errors.New("member count must not be negative")
	ErrVersionConflict      = errors.New("subscription was modified concurrently")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrNothingToCharge      = errors.New("subscription has no amount due")
	ErrSweepInProgress      = errors.New("billing sweep already running")
	// ErrSubscriptionCancelled is returned when a payment would change a
	// subscription that has already been cancelled
	ErrSubscriptionCancelled = errors.New("subscription is cancelled")

	// ErrInvalidSignature is returned when a webhook signature is missing or
	// does not match the payload.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
	// ErrGateway covers transient gateway failures: network errors,
	// timeouts, 5xx responses and unparseable bodies.
	ErrGateway = errors.New("payment gateway error")
	// ErrGatewayDeclined is returned when the processor refuses a charge
	ErrGatewayDeclined = errors.New("payment declined")
)
