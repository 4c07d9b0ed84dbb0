package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasknest/tasknest/pkg/notify"
	"github.com/tasknest/tasknest/pkg/observability"
)

func seedActive(env *testEnv, id, userID string, price int64, due time.Time) {
	env.store.put(&Subscription{
		ID:                 id,
		UserID:             userID,
		Plan:               PlanBasic,
		Status:             StatusActive,
		MonthlyPrice:       price,
		Currency:           "USD",
		NextBillingDate:    timePtr(due),
		ExternalCustomerID: strPtr("AUTH_" + id),
	})
}

func TestProcessTrialExpirations(t *testing.T) {
	ctx := context.Background()

	t.Run("expires ended trials only", func(t *testing.T) {
		env := newTestEnv()
		env.store.put(&Subscription{ID: "ended", UserID: "u1", Plan: PlanBasic, Status: StatusTrial, TrialEndsAt: timePtr(testNow.Add(-time.Hour))})
		env.store.put(&Subscription{ID: "boundary", UserID: "u2", Plan: PlanTeam, Status: StatusTrial, TrialEndsAt: timePtr(testNow)})
		env.store.put(&Subscription{ID: "running", UserID: "u3", Plan: PlanBasic, Status: StatusTrial, TrialEndsAt: timePtr(testNow.Add(time.Hour))})

		result, err := env.svc.ProcessTrialExpirations(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, SweepResult{Candidates: 2, Succeeded: 2}, result)

		assert.Equal(t, StatusInactive, env.store.get("ended").Status)
		assert.Equal(t, StatusInactive, env.store.get("boundary").Status)
		assert.Equal(t, StatusTrial, env.store.get("running").Status)
		assert.Equal(t, []notify.Kind{notify.KindTrialExpired, notify.KindTrialExpired}, env.sender.kinds())
	})

	t.Run("second run is a no-op", func(t *testing.T) {
		env := newTestEnv()
		env.store.put(&Subscription{ID: "ended", UserID: "u1", Plan: PlanBasic, Status: StatusTrial, TrialEndsAt: timePtr(testNow.Add(-time.Hour))})

		_, err := env.svc.ProcessTrialExpirations(ctx, testNow)
		require.NoError(t, err)
		result, err := env.svc.ProcessTrialExpirations(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Candidates)
		assert.Len(t, env.sender.kinds(), 1)
	})

	t.Run("list failure is returned", func(t *testing.T) {
		env := newTestEnv()
		env.store.listErr = errors.New("connection reset")
		_, err := env.svc.ProcessTrialExpirations(ctx, testNow)
		assert.ErrorContains(t, err, "connection reset")
	})
}

func TestProcessBillingCycles(t *testing.T) {
	ctx := context.Background()

	t.Run("successful charge advances one month from the billing date", func(t *testing.T) {
		env := newTestEnv()
		due := testNow.Add(-2 * time.Hour)
		seedActive(env, "s1", "u1", 200, due)

		result, err := env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, SweepResult{Candidates: 1, Succeeded: 1}, result)

		sub := env.store.get("s1")
		assert.Equal(t, StatusActive, sub.Status)
		assert.Equal(t, due.AddDate(0, 1, 0), *sub.NextBillingDate)
		assert.Equal(t, 0, sub.BillingAttempts)

		require.Len(t, env.gateway.charges, 1)
		charge := env.gateway.charges[0]
		assert.Equal(t, int64(200), charge.Amount)
		assert.Equal(t, "AUTH_s1", charge.AuthorizationCode)
		assert.Equal(t, "ada@example.com", charge.Email)
		assert.Equal(t, fmt.Sprintf("sub_s1_%d_1", due.Unix()), charge.Reference)

		payments := env.store.paymentsFor("s1")
		require.Len(t, payments, 1)
		assert.Equal(t, PaymentSuccess, payments[0].Status)
		assert.Equal(t, "gw_"+charge.Reference, payments[0].GatewayReference)
		assert.Empty(t, env.sender.kinds())
	})

	t.Run("not yet due is left alone", func(t *testing.T) {
		env := newTestEnv()
		seedActive(env, "s1", "u1", 200, testNow.Add(time.Minute))

		result, err := env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Candidates)
		assert.Equal(t, 0, env.gateway.chargeCount())
	})

	t.Run("without a stored authorization nothing is charged", func(t *testing.T) {
		env := newTestEnv()
		env.store.put(&Subscription{ID: "s1", UserID: "u1", Plan: PlanBasic, Status: StatusActive,
			MonthlyPrice: 200, NextBillingDate: timePtr(testNow.Add(-time.Hour))})

		_, err := env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, 0, env.gateway.chargeCount())
	})

	t.Run("failures go past due then inactive with one notice each", func(t *testing.T) {
		env := newTestEnv()
		due := testNow.Add(-time.Hour)
		seedActive(env, "s1", "u1", 200, due)
		env.gateway.chargeFn = func(context.Context, AuthorizationCharge) (*ChargeResult, error) {
			return nil, fmt.Errorf("%w: insufficient funds", ErrGatewayDeclined)
		}

		for attempt := 1; attempt <= 3; attempt++ {
			result, err := env.svc.ProcessBillingCycles(ctx, testNow)
			require.NoError(t, err)
			assert.Equal(t, 1, result.Failed, "attempt %d", attempt)

			sub := env.store.get("s1")
			assert.Equal(t, attempt, sub.BillingAttempts)
			assert.Equal(t, due, *sub.NextBillingDate, "billing date must not advance on failure")
			if attempt < 3 {
				assert.Equal(t, StatusPastDue, sub.Status)
			} else {
				assert.Equal(t, StatusInactive, sub.Status)
			}
			assert.Len(t, env.sender.kinds(), attempt)
		}

		last := env.sender.sent[2]
		assert.Equal(t, notify.KindPaymentFailed, last.Kind)
		assert.Equal(t, true, last.Data["Final"])
		assert.Equal(t, false, env.sender.sent[0].Data["Final"])

		// inactive subscriptions are no longer swept
		result, err := env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Candidates)
		assert.Equal(t, 3, env.gateway.chargeCount())

		for _, p := range env.store.paymentsFor("s1") {
			assert.Equal(t, PaymentFailed, p.Status)
		}
	})

	t.Run("past due recovers on the next successful charge", func(t *testing.T) {
		env := newTestEnv()
		due := testNow.Add(-time.Hour)
		seedActive(env, "s1", "u1", 200, due)
		fail := true
		env.gateway.chargeFn = func(_ context.Context, req AuthorizationCharge) (*ChargeResult, error) {
			if fail {
				return nil, ErrGatewayDeclined
			}
			return &ChargeResult{Reference: req.Reference}, nil
		}

		_, err := env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		require.Equal(t, StatusPastDue, env.store.get("s1").Status)

		fail = false
		_, err = env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)

		sub := env.store.get("s1")
		assert.Equal(t, StatusActive, sub.Status)
		assert.Equal(t, 0, sub.BillingAttempts)
		assert.Equal(t, due.AddDate(0, 1, 0), *sub.NextBillingDate)
		assert.Len(t, env.store.paymentsFor("s1"), 2)
	})

	t.Run("gateway timeout counts as a failed attempt", func(t *testing.T) {
		env := newTestEnv(WithGatewayTimeout(10 * time.Millisecond))
		seedActive(env, "s1", "u1", 200, testNow.Add(-time.Hour))
		env.gateway.chargeFn = func(ctx context.Context, _ AuthorizationCharge) (*ChargeResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}

		result, err := env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Failed)
		assert.Equal(t, StatusPastDue, env.store.get("s1").Status)
	})

	t.Run("one failing subscription does not stop the others", func(t *testing.T) {
		env := newTestEnv()
		seedActive(env, "a", "u1", 200, testNow.Add(-time.Hour))
		seedActive(env, "b", "u2", 200, testNow.Add(-time.Hour))
		seedActive(env, "c", "ghost", 200, testNow.Add(-time.Hour))
		env.gateway.chargeFn = func(_ context.Context, req AuthorizationCharge) (*ChargeResult, error) {
			if req.AuthorizationCode == "AUTH_a" {
				return nil, ErrGateway
			}
			return &ChargeResult{Reference: req.Reference}, nil
		}

		result, err := env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, SweepResult{Candidates: 3, Succeeded: 1, Failed: 1, Skipped: 1}, result)
		assert.Equal(t, StatusPastDue, env.store.get("a").Status)
		assert.Equal(t, StatusActive, env.store.get("b").Status)
		assert.True(t, env.store.get("b").NextBillingDate.After(testNow))
	})

	t.Run("an attempt already recorded is settled without charging again", func(t *testing.T) {
		env := newTestEnv()
		due := testNow.Add(-time.Hour)
		seedActive(env, "s1", "u1", 200, due)
		ref := fmt.Sprintf("sub_s1_%d_1", due.Unix())
		require.NoError(t, env.store.CreatePayment(ctx, &PaymentRecord{
			Reference: ref, UserID: "u1", SubscriptionID: "s1",
			Amount: 200, Status: PaymentPending, BillingDate: timePtr(due),
		}))

		result, err := env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Succeeded)
		assert.Equal(t, 0, env.gateway.chargeCount())
		assert.Equal(t, due.AddDate(0, 1, 0), *env.store.get("s1").NextBillingDate)

		record, err := env.store.GetPayment(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, PaymentSuccess, record.Status)
	})

	t.Run("zero price rolls the cycle without charging", func(t *testing.T) {
		env := newTestEnv()
		due := testNow.Add(-time.Hour)
		seedActive(env, "s1", "u1", 0, due)

		result, err := env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Skipped)
		assert.Equal(t, 0, env.gateway.chargeCount())
		assert.Equal(t, due.AddDate(0, 1, 0), *env.store.get("s1").NextBillingDate)
	})

	t.Run("charges the repriced amount on the next cycle", func(t *testing.T) {
		env := newTestEnv()
		env.store.put(&Subscription{ID: "s1", UserID: "u1", Plan: PlanTeam, Status: StatusActive, MemberCount: 1,
			MonthlyPrice: 50, Currency: "USD", NextBillingDate: timePtr(testNow.Add(time.Hour)), ExternalCustomerID: strPtr("AUTH_s1")})

		_, err := env.svc.UpdateMemberCount(ctx, "u1", 6)
		require.NoError(t, err)
		assert.Equal(t, 0, env.gateway.chargeCount())

		env.clock.Advance(2 * time.Hour)
		_, err = env.svc.ProcessBillingCycles(ctx, env.clock.Now())
		require.NoError(t, err)
		require.Len(t, env.gateway.charges, 1)
		assert.Equal(t, int64(300), env.gateway.charges[0].Amount)
	})

	t.Run("records charge metrics", func(t *testing.T) {
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		env := newTestEnv(WithMetrics(metrics))
		seedActive(env, "ok", "u1", 200, testNow.Add(-time.Hour))
		seedActive(env, "bad", "u2", 200, testNow.Add(-time.Hour))
		env.gateway.chargeFn = func(_ context.Context, req AuthorizationCharge) (*ChargeResult, error) {
			if req.AuthorizationCode == "AUTH_bad" {
				return nil, ErrGatewayDeclined
			}
			return &ChargeResult{}, nil
		}

		_, err := env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ChargesTotal.WithLabelValues("success")))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ChargesTotal.WithLabelValues("declined")))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SubscriptionTransitions.WithLabelValues("ACTIVE", "PAST_DUE")))
	})
}

func TestProcessBillingCycles_Recovery(t *testing.T) {
	ctx := context.Background()
	due := testNow.Add(-time.Hour)
	firstRef := fmt.Sprintf("sub_s1_%d_1", due.Unix())

	seedPending := func(t *testing.T, env *testEnv) {
		t.Helper()
		seedActive(env, "s1", "u1", 200, due)
		require.NoError(t, env.store.CreatePayment(ctx, &PaymentRecord{
			Reference: firstRef, UserID: "u1", SubscriptionID: "s1",
			Amount: 200, Currency: "USD", Status: PaymentPending, BillingDate: timePtr(due),
		}))
	}

	t.Run("pending attempt unknown to the gateway is charged under its reference", func(t *testing.T) {
		env := newTestEnv()
		seedPending(t, env)
		env.gateway.verifyFn = func(context.Context, string) (*Verification, error) {
			return nil, fmt.Errorf("%w: transaction reference not found", ErrGatewayDeclined)
		}

		result, err := env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Succeeded)
		require.Len(t, env.gateway.charges, 1)
		assert.Equal(t, firstRef, env.gateway.charges[0].Reference)
		assert.Equal(t, due.AddDate(0, 1, 0), *env.store.get("s1").NextBillingDate)
	})

	t.Run("pending attempt the gateway declined counts as a failure", func(t *testing.T) {
		env := newTestEnv()
		seedPending(t, env)
		env.gateway.verifyFn = func(_ context.Context, reference string) (*Verification, error) {
			return &Verification{Success: false, Status: "failed", Reference: reference}, nil
		}

		result, err := env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Failed)
		assert.Equal(t, 0, env.gateway.chargeCount())
		sub := env.store.get("s1")
		assert.Equal(t, StatusPastDue, sub.Status)
		assert.Equal(t, 1, sub.BillingAttempts)

		// the retry is a new attempt with its own reference
		_, err = env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		require.Len(t, env.gateway.charges, 1)
		assert.Equal(t, fmt.Sprintf("sub_s1_%d_2", due.Unix()), env.gateway.charges[0].Reference)
		assert.Equal(t, StatusActive, env.store.get("s1").Status)
	})

	t.Run("pending attempt still processing is left for the next run", func(t *testing.T) {
		env := newTestEnv()
		seedPending(t, env)
		env.gateway.verifyFn = func(_ context.Context, reference string) (*Verification, error) {
			return &Verification{Status: "ongoing", Reference: reference}, nil
		}

		result, err := env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Skipped)
		assert.Equal(t, 0, env.gateway.chargeCount())
		assert.Equal(t, StatusActive, env.store.get("s1").Status)
		record, err := env.store.GetPayment(ctx, firstRef)
		require.NoError(t, err)
		assert.Equal(t, PaymentPending, record.Status)
	})

	t.Run("gateway outage while verifying leaves the attempt pending", func(t *testing.T) {
		env := newTestEnv()
		seedPending(t, env)
		env.gateway.verifyFn = func(context.Context, string) (*Verification, error) {
			return nil, ErrGateway
		}

		result, err := env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Failed)
		sub := env.store.get("s1")
		assert.Equal(t, StatusActive, sub.Status)
		assert.Equal(t, 0, sub.BillingAttempts)
		assert.Equal(t, due, *sub.NextBillingDate)
	})

	t.Run("lost payment write after a charge is settled on the next run", func(t *testing.T) {
		env, flaky := newFlakyEnv()
		seedActive(env, "s1", "u1", 200, due)
		flaky.completeFailures = 1

		_, err := env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, 1, env.gateway.chargeCount())
		assert.Equal(t, due, *env.store.get("s1").NextBillingDate)

		result, err := env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Succeeded)
		assert.Equal(t, 1, env.gateway.chargeCount())
		assert.Equal(t, due.AddDate(0, 1, 0), *env.store.get("s1").NextBillingDate)

		result, err = env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Candidates)
	})

	t.Run("lost subscription write after a charge is settled on the next run", func(t *testing.T) {
		env, flaky := newFlakyEnv()
		seedActive(env, "s1", "u1", 200, due)
		flaky.updateFailures = 1

		_, err := env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		record, err := env.store.GetPayment(ctx, firstRef)
		require.NoError(t, err)
		assert.Equal(t, PaymentSuccess, record.Status)
		assert.Equal(t, due, *env.store.get("s1").NextBillingDate)

		_, err = env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, 1, env.gateway.chargeCount())
		assert.Equal(t, due.AddDate(0, 1, 0), *env.store.get("s1").NextBillingDate)
	})

	t.Run("lost subscription write after a decline counts the attempt once", func(t *testing.T) {
		env, flaky := newFlakyEnv()
		seedActive(env, "s1", "u1", 200, due)
		env.gateway.chargeFn = func(context.Context, AuthorizationCharge) (*ChargeResult, error) {
			return nil, ErrGatewayDeclined
		}
		flaky.updateFailures = 1

		_, err := env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, StatusActive, env.store.get("s1").Status)

		_, err = env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, 1, env.gateway.chargeCount())
		sub := env.store.get("s1")
		assert.Equal(t, StatusPastDue, sub.Status)
		assert.Equal(t, 1, sub.BillingAttempts)
		assert.Equal(t, []notify.Kind{notify.KindPaymentFailed}, env.sender.kinds())
	})

	t.Run("webhook arriving during the charge advances one cycle", func(t *testing.T) {
		env := newTestEnv()
		payments := NewPaymentService(env.svc)
		seedActive(env, "s1", "u1", 200, due)
		env.gateway.chargeFn = func(ctx context.Context, req AuthorizationCharge) (*ChargeResult, error) {
			payload := chargeSuccessPayload(req.Reference, "s1")
			_, err := payments.HandleWebhook(ctx, payload, sign("whsec", payload))
			assert.NoError(t, err)
			return &ChargeResult{Reference: req.Reference, GatewayReference: "gw_1"}, nil
		}

		result, err := env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Succeeded)

		sub := env.store.get("s1")
		assert.Equal(t, StatusActive, sub.Status)
		assert.Equal(t, due.AddDate(0, 1, 0), *sub.NextBillingDate)
		assert.Equal(t, "AUTH_s1", *sub.ExternalCustomerID)
		assert.NotContains(t, env.sender.kinds(), notify.KindPaymentConfirmation)
	})

	t.Run("webhook arriving after the sweep changes nothing", func(t *testing.T) {
		env := newTestEnv()
		payments := NewPaymentService(env.svc)
		seedActive(env, "s1", "u1", 200, due)

		_, err := env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		before := env.store.get("s1")

		payload := chargeSuccessPayload(firstRef, "s1")
		_, err = payments.HandleWebhook(ctx, payload, sign("whsec", payload))
		require.NoError(t, err)
		assert.Equal(t, before, env.store.get("s1"))
	})

	t.Run("row advanced after the candidate list was taken is not charged", func(t *testing.T) {
		env := newTestEnv()
		seedActive(env, "s1", "u1", 200, due)
		seedActive(env, "s2", "u2", 200, due)
		env.gateway.chargeFn = func(_ context.Context, req AuthorizationCharge) (*ChargeResult, error) {
			// while s1 is charged, something else settles s2's cycle
			if req.AuthorizationCode == "AUTH_s1" {
				_, _, err := env.svc.applyRenewal(ctx, "s2", due, testNow)
				assert.NoError(t, err)
			}
			return &ChargeResult{Reference: req.Reference}, nil
		}

		result, err := env.svc.ProcessBillingCycles(ctx, testNow)
		require.NoError(t, err)
		assert.Equal(t, SweepResult{Candidates: 2, Succeeded: 1, Skipped: 1}, result)
		assert.Equal(t, 1, env.gateway.chargeCount())
	})
}
