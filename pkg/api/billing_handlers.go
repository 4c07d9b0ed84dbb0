package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tasknest/tasknest/pkg/billing"
	"github.com/tasknest/tasknest/pkg/contextkeys"
	"github.com/tasknest/tasknest/pkg/httputil"
	"github.com/tasknest/tasknest/pkg/middleware"
	"github.com/tasknest/tasknest/pkg/observability"
	"github.com/tasknest/tasknest/pkg/paystack"
)

const maxWebhookBytes = 1 << 20

// SubscriptionService is the subscription surface used by BillingHandlers
type SubscriptionService interface {
	PricingInfo() billing.PricingInfo
	CreateSubscription(ctx context.Context, userID string, plan billing.Plan) (*billing.Subscription, error)
	GetUserSubscription(ctx context.Context, userID string) (*billing.Subscription, error)
	UpdateMemberCount(ctx context.Context, userID string, count int) (*billing.Subscription, error)
	CancelSubscription(ctx context.Context, userID string) (*billing.Subscription, error)
}

// PaymentService is the payment surface used by BillingHandlers
type PaymentService interface {
	InitializePayment(ctx context.Context, userID, subscriptionID, email string) (*billing.Checkout, error)
	VerifyPayment(ctx context.Context, userID, reference string) (*billing.VerificationResult, error)
	PaymentHistory(ctx context.Context, userID string) ([]*billing.PaymentRecord, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*billing.WebhookResult, error)
}

// BillingHandlers handles subscription, payment and gateway webhook requests
type BillingHandlers struct {
	subscriptions SubscriptionService
	payments      PaymentService
	members       billing.MemberCounter
}

// NewBillingHandlers creates a new BillingHandlers. members recounts a
// user's board memberships for PATCH /subscriptions/me/members.
func NewBillingHandlers(subscriptions SubscriptionService, payments PaymentService, members billing.MemberCounter) *BillingHandlers {
	return &BillingHandlers{
		subscriptions: subscriptions,
		payments:      payments,
		members:       members,
	}
}

// RegisterPublicRoutes registers routes that need no bearer token
func (h *BillingHandlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/subscriptions/pricing", h.GetPricing).Methods("GET")
	router.HandleFunc("/payments/webhook/paystack", h.HandleWebhook).Methods("POST")
}

// RegisterRoutes registers authenticated billing routes
func (h *BillingHandlers) RegisterRoutes(router *mux.Router) {
	// Subscriptions
	router.HandleFunc("/subscriptions", h.CreateSubscription).Methods("POST")
	router.HandleFunc("/subscriptions/me", h.GetSubscription).Methods("GET")
	router.HandleFunc("/subscriptions/me/members", h.SyncMemberCount).Methods("PATCH")
	router.HandleFunc("/subscriptions/me", h.CancelSubscription).Methods("DELETE")

	// Payments
	router.HandleFunc("/payments/initialize", h.InitializePayment).Methods("POST")
	router.HandleFunc("/payments/verify", h.VerifyPayment).Methods("POST")
	router.HandleFunc("/payments/history", h.PaymentHistory).Methods("GET")
}

// GetPricing returns the public price list
func (h *BillingHandlers) GetPricing(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.subscriptions.PricingInfo())
}

// CreateSubscription starts a trial for the caller
func (h *BillingHandlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req billing.CreateSubscriptionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w, httputil.RequireNonEmpty("plan", req.Plan)) {
		return
	}

	sub, err := h.subscriptions.CreateSubscription(r.Context(), userID, billing.Plan(req.Plan))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, sub)
}

// GetSubscription returns the caller's current subscription
func (h *BillingHandlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	sub, err := h.subscriptions.GetUserSubscription(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// SyncMemberCount recounts the caller's board members and reprices the
// subscription from the next cycle.
func (h *BillingHandlers) SyncMemberCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	count, err := h.members.CountMembersForOwner(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	sub, err := h.subscriptions.UpdateMemberCount(r.Context(), userID, count)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if sub == nil {
		writeServiceError(w, r, billing.ErrSubscriptionNotFound)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// CancelSubscription cancels the caller's subscription
func (h *BillingHandlers) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	sub, err := h.subscriptions.CancelSubscription(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// InitializePayment opens a gateway checkout for the caller's subscription
func (h *BillingHandlers) InitializePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req billing.InitializePaymentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	subscriptionID := req.SubscriptionID
	if subscriptionID == "" {
		sub, err := h.subscriptions.GetUserSubscription(r.Context(), userID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		subscriptionID = sub.ID
	}

	email := req.Email
	if email == "" {
		if authCtx := middleware.GetAuthContext(r); authCtx != nil && authCtx.User != nil {
			email = authCtx.User.Email
		}
	}

	checkout, err := h.payments.InitializePayment(r.Context(), userID, subscriptionID, email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, checkout)
}

// VerifyPayment confirms a checkout with the gateway
func (h *BillingHandlers) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req billing.VerifyPaymentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w, httputil.RequireNonEmpty("reference", req.Reference)) {
		return
	}

	result, err := h.payments.VerifyPayment(r.Context(), userID, req.Reference)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// PaymentHistory lists the caller's payments
func (h *BillingHandlers) PaymentHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	history, err := h.payments.PaymentHistory(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if history == nil {
		history = []*billing.PaymentRecord{}
	}
	httputil.WriteSuccess(w, history)
}

// HandleWebhook applies a signed gateway event. The raw body is passed
// through untouched so the signature can be checked.
func (h *BillingHandlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	result, err := h.payments.HandleWebhook(r.Context(), payload, r.Header.Get(paystack.SignatureHeader))
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			observability.FromContext(r.Context()).
				WithField("request_id", contextkeys.GetRequestID(r.Context())).
				Warn("webhook rejected: invalid signature")
		}
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}
