package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tasknest/tasknest/pkg/auth"
	"github.com/tasknest/tasknest/pkg/notify"
)

var testNow = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

// memStore is an in-memory Store with the same version and status guards as
// PostgresStore.
type memStore struct {
	mu       sync.Mutex
	subs     map[string]*Subscription
	payments map[string]*PaymentRecord

	// conflicts forces the next N UpdateSubscription calls to fail
	conflicts int
	listErr   error
}

func newMemStore() *memStore {
	return &memStore{subs: map[string]*Subscription{}, payments: map[string]*PaymentRecord{}}
}

func cloneSub(s *Subscription) *Subscription {
	c := *s
	if s.TrialEndsAt != nil {
		t := *s.TrialEndsAt
		c.TrialEndsAt = &t
	}
	if s.NextBillingDate != nil {
		t := *s.NextBillingDate
		c.NextBillingDate = &t
	}
	if s.ExternalCustomerID != nil {
		id := *s.ExternalCustomerID
		c.ExternalCustomerID = &id
	}
	return &c
}

func (m *memStore) put(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.Version == 0 {
		sub.Version = 1
	}
	m.subs[sub.ID] = cloneSub(sub)
}

func (m *memStore) get(id string) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSub(m.subs[id])
}

func (m *memStore) CreateSubscription(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.UserID == sub.UserID && s.Status != StatusCancelled {
			return ErrAlreadyExists
		}
	}
	sub.Version = 1
	sub.CreatedAt = testNow
	sub.UpdatedAt = testNow
	m.subs[sub.ID] = cloneSub(sub)
	return nil
}

func (m *memStore) GetSubscription(_ context.Context, id string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return cloneSub(s), nil
}

func (m *memStore) GetSubscriptionForUser(_ context.Context, userID string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *Subscription
	for _, s := range m.subs {
		if s.UserID != userID {
			continue
		}
		if found == nil || (found.Status == StatusCancelled && s.Status != StatusCancelled) {
			found = s
		}
	}
	if found == nil {
		return nil, ErrSubscriptionNotFound
	}
	return cloneSub(found), nil
}

func (m *memStore) UpdateSubscription(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts > 0 {
		m.conflicts--
		m.subs[sub.ID].Version++
		return ErrVersionConflict
	}
	cur, ok := m.subs[sub.ID]
	if !ok || cur.Version != sub.Version {
		return ErrVersionConflict
	}
	sub.Version++
	m.subs[sub.ID] = cloneSub(sub)
	return nil
}

func (m *memStore) list(match func(*Subscription) bool) []*Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Subscription
	for _, s := range m.subs {
		if match(s) {
			out = append(out, cloneSub(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) ListExpiredTrials(_ context.Context, now time.Time) ([]*Subscription, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.list(func(s *Subscription) bool {
		return s.Status == StatusTrial && s.TrialEndsAt != nil && !s.TrialEndsAt.After(now)
	}), nil
}

func (m *memStore) ListDueForBilling(_ context.Context, now time.Time) ([]*Subscription, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.list(func(s *Subscription) bool {
		return s.Status.Billable() && s.NextBillingDate != nil && !s.NextBillingDate.After(now) && s.ExternalCustomerID != nil
	}), nil
}

func (m *memStore) CreatePayment(_ context.Context, p *PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.Reference]; ok {
		return ErrAlreadyExists
	}
	c := *p
	m.payments[p.Reference] = &c
	return nil
}

func (m *memStore) GetPayment(_ context.Context, reference string) (*PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[reference]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	c := *p
	return &c, nil
}

func (m *memStore) CompletePayment(_ context.Context, reference string, status PaymentStatus, gatewayRef string, paidAt *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[reference]
	if !ok {
		return false, ErrPaymentNotFound
	}
	if p.Status != PaymentPending {
		return false, nil
	}
	p.Status = status
	p.GatewayReference = gatewayRef
	p.PaidAt = paidAt
	return true, nil
}

func (m *memStore) ListPaymentsForUser(_ context.Context, userID string) ([]*PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*PaymentRecord
	for _, p := range m.payments {
		if p.UserID == userID {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memStore) paymentsFor(subscriptionID string) []*PaymentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*PaymentRecord
	for _, p := range m.payments {
		if p.SubscriptionID == subscriptionID {
			c := *p
			out = append(out, &c)
		}
	}
	return out
}

var errStoreDown = errors.New("store unavailable")

// flakyStore fails the next N calls of selected methods before passing the
// rest through to memStore
type flakyStore struct {
	*memStore

	failMu           sync.Mutex
	completeFailures int
	updateFailures   int
}

func (f *flakyStore) take(n *int) bool {
	f.failMu.Lock()
	defer f.failMu.Unlock()
	if *n > 0 {
		*n--
		return true
	}
	return false
}

func (f *flakyStore) CompletePayment(ctx context.Context, reference string, status PaymentStatus, gatewayRef string, paidAt *time.Time) (bool, error) {
	if f.take(&f.completeFailures) {
		return false, errStoreDown
	}
	return f.memStore.CompletePayment(ctx, reference, status, gatewayRef, paidAt)
}

func (f *flakyStore) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	if f.take(&f.updateFailures) {
		return errStoreDown
	}
	return f.memStore.UpdateSubscription(ctx, sub)
}

// fakeGateway records calls and answers from configurable functions
type fakeGateway struct {
	mu      sync.Mutex
	secret  string
	charges []AuthorizationCharge
	inits   []ChargeRequest

	chargeFn func(ctx context.Context, req AuthorizationCharge) (*ChargeResult, error)
	verifyFn func(ctx context.Context, reference string) (*Verification, error)
}

func (g *fakeGateway) InitializeCharge(_ context.Context, req ChargeRequest) (*Checkout, error) {
	g.mu.Lock()
	g.inits = append(g.inits, req)
	g.mu.Unlock()
	return &Checkout{AuthorizationURL: "https://checkout.example/" + req.Reference, Reference: req.Reference}, nil
}

func (g *fakeGateway) VerifyCharge(ctx context.Context, reference string) (*Verification, error) {
	if g.verifyFn != nil {
		return g.verifyFn(ctx, reference)
	}
	return &Verification{Success: true, Reference: reference, GatewayReference: reference, AuthorizationCode: "AUTH_default"}, nil
}

func (g *fakeGateway) ChargeAuthorization(ctx context.Context, req AuthorizationCharge) (*ChargeResult, error) {
	g.mu.Lock()
	g.charges = append(g.charges, req)
	g.mu.Unlock()
	if g.chargeFn != nil {
		return g.chargeFn(ctx, req)
	}
	return &ChargeResult{Reference: req.Reference, GatewayReference: "gw_" + req.Reference}, nil
}

func (g *fakeGateway) VerifySignature(payload []byte, signature string) error {
	if signature == "" || !hmac.Equal([]byte(sign(g.secret, payload)), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

func (g *fakeGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charges)
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type fakeUsers map[string]*auth.User

func (f fakeUsers) GetUserByID(_ context.Context, id string) (*auth.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, auth.ErrUserNotFound
}

func (f fakeUsers) GetUserByEmail(_ context.Context, email string) (*auth.User, error) {
	for _, u := range f {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

// recordingSender captures messages and can simulate failures
type recordingSender struct {
	mu   sync.Mutex
	sent []notify.Message
	fail bool
}

func (r *recordingSender) Send(_ context.Context, msg notify.Message) notify.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	if r.fail {
		return notify.Result{Err: context.DeadlineExceeded}
	}
	return notify.Result{Delivered: true}
}

func (r *recordingSender) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Kind
	for _, m := range r.sent {
		out = append(out, m.Kind)
	}
	return out
}

type testEnv struct {
	store   *memStore
	gateway *fakeGateway
	sender  *recordingSender
	clock   *FixedClock
	users   fakeUsers
	svc     *Service
}

func newTestEnv(opts ...Option) *testEnv {
	env := &testEnv{
		store:   newMemStore(),
		gateway: &fakeGateway{secret: "whsec"},
		sender:  &recordingSender{},
		clock:   NewFixedClock(testNow),
	}
	env.users = fakeUsers{
		"u1": {ID: "u1", Email: "ada@example.com", FirstName: "Ada"},
		"u2": {ID: "u2", Email: "grace@example.com", FirstName: "Grace"},
	}
	env.svc = NewService(env.store, env.gateway, env.sender, env.users, DefaultPricing(), env.options(opts)...)
	return env
}

// newFlakyEnv is newTestEnv with the service writing through a flakyStore.
// env.store still reads the same rows.
func newFlakyEnv(opts ...Option) (*testEnv, *flakyStore) {
	env := newTestEnv(opts...)
	flaky := &flakyStore{memStore: env.store}
	env.svc = NewService(flaky, env.gateway, env.sender, env.users, DefaultPricing(), env.options(opts)...)
	return env, flaky
}

func (env *testEnv) options(opts []Option) []Option {
	return append([]Option{WithClock(env.clock), WithGatewayTimeout(time.Second)}, opts...)
}

func timePtr(t time.Time) *time.Time { return &t }

func strPtr(s string) *string { return &s }
