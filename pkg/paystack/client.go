package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tasknest/tasknest/pkg/billing"
)

// DefaultBaseURL is the live Paystack API
const DefaultBaseURL = "https://api.paystack.co"

const maxResponseBytes = 1 << 20

// Config holds client settings
type Config struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
	Retry         RetryConfig
}

// Client talks to the Paystack API
type Client struct {
	baseURL       string
	secretKey     string
	webhookSecret string
	httpClient    *http.Client
	retry         *RetryPolicy
	logger        *logrus.Logger
}

var _ billing.Gateway = (*Client)(nil)

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the instrumented default client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a Paystack client. The webhook secret defaults to the secret
// key, which is what Paystack signs with.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("paystack secret key is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid paystack base URL: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	webhookSecret := cfg.WebhookSecret
	if webhookSecret == "" {
		webhookSecret = cfg.SecretKey
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryConfig()
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c := &Client{
		baseURL:       baseURL,
		secretKey:     cfg.SecretKey,
		webhookSecret: webhookSecret,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		retry:  NewRetryPolicy(retry),
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// envelope is the common response shape
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeBody struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// transaction is the subset of a Paystack transaction object tasknest reads
type transaction struct {
	ID              int64           `json:"id"`
	Status          string          `json:"status"`
	Reference       string          `json:"reference"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	PaidAt          string          `json:"paid_at"`
	GatewayResponse string          `json:"gateway_response"`
	Metadata        json.RawMessage `json:"metadata"`
	Authorization   struct {
		AuthorizationCode string `json:"authorization_code"`
		Reusable          bool   `json:"reusable"`
	} `json:"authorization"`
}

type chargeAuthorizationBody struct {
	Email             string            `json:"email"`
	Amount            int64             `json:"amount"`
	Currency          string            `json:"currency,omitempty"`
	AuthorizationCode string            `json:"authorization_code"`
	Reference         string            `json:"reference"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// InitializeCharge implements billing.Gateway
func (c *Client) InitializeCharge(ctx context.Context, req billing.ChargeRequest) (*billing.Checkout, error) {
	var data initializeData
	err := c.do(ctx, http.MethodPost, "/transaction/initialize", initializeBody{
		Email:       req.Email,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	}, &data)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"reference": data.Reference,
		"amount":    req.Amount,
	}).Info("paystack transaction initialized")
	return &billing.Checkout{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        data.Reference,
	}, nil
}

// VerifyCharge implements billing.Gateway. Transient failures are retried.
func (c *Client) VerifyCharge(ctx context.Context, reference string) (*billing.Verification, error) {
	var trx transaction
	err := c.retry.do(ctx, func() error {
		return c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &trx)
	})
	if err != nil {
		return nil, err
	}

	v := &billing.Verification{
		Success:           trx.Status == "success",
		Status:            trx.Status,
		Amount:            trx.Amount,
		Currency:          trx.Currency,
		Reference:         trx.Reference,
		GatewayReference:  fmt.Sprint(trx.ID),
		AuthorizationCode: trx.Authorization.AuthorizationCode,
		Metadata:          billing.ParseMetadata(trx.Metadata),
		PaidAt:            parseTime(trx.PaidAt),
	}
	if !trx.Authorization.Reusable {
		v.AuthorizationCode = ""
	}

	c.logger.WithFields(logrus.Fields{
		"reference": reference,
		"status":    trx.Status,
	}).Info("paystack transaction verified")
	return v, nil
}

// ChargeAuthorization implements billing.Gateway. It is never retried; the
// caller owns the reference and decides whether to try again.
func (c *Client) ChargeAuthorization(ctx context.Context, req billing.AuthorizationCharge) (*billing.ChargeResult, error) {
	var trx transaction
	err := c.do(ctx, http.MethodPost, "/transaction/charge_authorization", chargeAuthorizationBody{
		Email:             req.Email,
		Amount:            req.Amount,
		Currency:          req.Currency,
		AuthorizationCode: req.AuthorizationCode,
		Reference:         req.Reference,
		Metadata:          req.Metadata,
	}, &trx)
	if err != nil {
		return nil, err
	}

	logger := c.logger.WithFields(logrus.Fields{
		"reference": req.Reference,
		"status":    trx.Status,
	})
	if trx.Status != "success" {
		logger.WithField("gateway_response", trx.GatewayResponse).Warn("paystack charge not successful")
		msg := trx.GatewayResponse
		if msg == "" {
			msg = trx.Status
		}
		return nil, fmt.Errorf("%w: %s", billing.ErrGatewayDeclined, msg)
	}

	logger.Info("paystack authorization charged")
	return &billing.ChargeResult{
		Reference:        trx.Reference,
		GatewayReference: fmt.Sprint(trx.ID),
		Message:          trx.GatewayResponse,
	}, nil
}

// VerifySignature implements billing.Gateway
func (c *Client) VerifySignature(payload []byte, signature string) error {
	return VerifySignature(c.webhookSecret, payload, signature)
}

// do sends one request and decodes the envelope's data into out
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).WithField("path", path).Warn("paystack request failed")
		return fmt.Errorf("%w: %s %s: %w", billing.ErrGateway, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", billing.ErrGateway, err)
	}

	c.logger.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("paystack request")

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", billing.ErrGateway, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: credentials rejected (status %d)", billing.ErrGateway, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg := env.Message
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%w: %s", billing.ErrGatewayDeclined, msg)
	case decodeErr != nil:
		return fmt.Errorf("%w: invalid response body: %w", billing.ErrGateway, decodeErr)
	case !env.Status:
		return fmt.Errorf("%w: %s", billing.ErrGatewayDeclined, env.Message)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: invalid response data: %w", billing.ErrGateway, err)
		}
	}
	return nil
}

func parseTime(s string) *time.Time {
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
