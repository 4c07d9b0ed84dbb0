package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tasknest/tasknest/pkg/auth"
)

// Webhook event names
const (
	EventChargeSuccess       = "charge.success"
	EventSubscriptionDisable = "subscription.disable"
	EventSubscriptionCreate  = "subscription.create"
	EventInvoiceCreate       = "invoice.create"
)

// WebhookEvent is the envelope posted by the gateway
type WebhookEvent struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

// WebhookData carries the fields tasknest reads from an event
type WebhookData struct {
	Reference string            `json:"reference"`
	Status    string            `json:"status"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	PaidAt    string            `json:"paid_at"`
	Metadata  map[string]string `json:"-"`
	Customer  struct {
		Email        string `json:"email"`
		CustomerCode string `json:"customer_code"`
	} `json:"customer"`
	Authorization struct {
		AuthorizationCode string `json:"authorization_code"`
		Reusable          bool   `json:"reusable"`
	} `json:"authorization"`
	RawMetadata json.RawMessage `json:"metadata"`
}

// WebhookResult reports what HandleWebhook did with a delivery
type WebhookResult struct {
	Event     string `json:"event"`
	Handled   bool   `json:"handled"`
	Duplicate bool   `json:"duplicate"`
}

// HandleWebhook authenticates and applies a gateway event. The signature is
// checked before anything is parsed or written; a bad signature returns
// ErrInvalidSignature with no side effects.
func (p *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if err := p.gateway.VerifySignature(payload, signature); err != nil {
		p.observeWebhook("unknown", "invalid_signature")
		if errors.Is(err, ErrInvalidSignature) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		p.observeWebhook("unknown", "malformed")
		return nil, fmt.Errorf("%w: failed to parse webhook payload: %v", ErrInvalidPayload, err)
	}
	event.Data.Metadata = ParseMetadata(event.Data.RawMetadata)

	result := &WebhookResult{Event: event.Event}
	key := ""
	if p.deduper != nil && event.Data.Reference != "" {
		key = event.Event + ":" + event.Data.Reference
		first, err := p.deduper.FirstSeen(ctx, key)
		if err != nil {
			// fall through; the payment status guard still makes replays no-ops
			p.logger.WithError(err).Warn("webhook dedupe unavailable")
			key = ""
		} else if !first {
			result.Duplicate = true
			p.observeWebhook(event.Event, "duplicate")
			return result, nil
		}
	}

	handled, err := p.dispatch(ctx, &event)
	if err != nil {
		if key != "" {
			if ferr := p.deduper.Forget(ctx, key); ferr != nil {
				p.logger.WithError(ferr).Warn("failed to release webhook dedupe key")
			}
		}
		p.observeWebhook(event.Event, "error")
		return nil, err
	}

	result.Handled = handled
	if handled {
		p.observeWebhook(event.Event, "handled")
	} else {
		p.observeWebhook(event.Event, "ignored")
	}
	return result, nil
}

func (p *PaymentService) dispatch(ctx context.Context, event *WebhookEvent) (bool, error) {
	logger := p.logger.WithFields(map[string]interface{}{
		"event":     event.Event,
		"reference": event.Data.Reference,
	})

	switch event.Event {
	case EventChargeSuccess:
		logger.Info("processing successful charge")
		return true, p.handleChargeSuccess(ctx, &event.Data)
	case EventSubscriptionDisable:
		logger.Info("processing subscription disable")
		return true, p.handleSubscriptionDisable(ctx, &event.Data)
	case EventSubscriptionCreate, EventInvoiceCreate:
		logger.Debug("webhook acknowledged")
		return false, nil
	default:
		logger.Debug("unhandled webhook event")
		return false, nil
	}
}

func (p *PaymentService) handleChargeSuccess(ctx context.Context, data *WebhookData) error {
	authCode := data.Authorization.AuthorizationCode

	record, err := p.store.GetPayment(ctx, data.Reference)
	switch {
	case err == nil:
		return p.applySuccess(ctx, record, data.Reference, authCode, parsePaidAt(data.PaidAt))
	case !errors.Is(err, ErrPaymentNotFound):
		return err
	}

	// a charge we did not initiate here; fall back to the metadata
	subscriptionID := data.Metadata["subscriptionId"]
	if subscriptionID == "" {
		p.logger.WithField("reference", data.Reference).Warn("charge.success for unknown payment without subscription metadata")
		return nil
	}
	err = p.activateFromPayment(ctx, subscriptionID, authCode, data.Amount, data.Currency, data.Reference)
	if isNotFound(err) {
		p.logger.WithField("subscription_id", subscriptionID).Warn("charge.success for unknown subscription")
		return nil
	}
	return err
}

func (p *PaymentService) handleSubscriptionDisable(ctx context.Context, data *WebhookData) error {
	userID := data.Metadata["userId"]
	if userID == "" && data.Customer.Email != "" {
		user, err := p.subs.users.GetUserByEmail(ctx, data.Customer.Email)
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		userID = user.ID
	}
	if userID == "" {
		return nil
	}

	_, err := p.subs.CancelSubscription(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil
	}
	return err
}

func parsePaidAt(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// ParseMetadata accepts the metadata object in either of the shapes the
// gateway sends: a JSON object or a JSON-encoded string holding one.
func ParseMetadata(raw json.RawMessage) map[string]string {
	out := map[string]string{}
	if len(raw) == 0 {
		return out
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		raw = json.RawMessage(encoded)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return out
	}
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64, bool:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

func (p *PaymentService) observeWebhook(event, result string) {
	if p.metrics != nil {
		p.metrics.WebhookEventsTotal.WithLabelValues(event, result).Inc()
	}
}
