package billing

import "github.com/tasknest/tasknest/pkg/storage"

// Migrations returns the subscription and payment schema
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     300,
			Description: "Create subscriptions table",
			SQL: `
CREATE TABLE IF NOT EXISTS subscriptions (
    id                    TEXT PRIMARY KEY,
    user_id               TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    plan                  TEXT NOT NULL CHECK (plan IN ('BASIC', 'TEAM')),
    status                TEXT NOT NULL CHECK (status IN ('TRIAL', 'ACTIVE', 'PAST_DUE', 'CANCELLED', 'INACTIVE')),
    member_count          INTEGER NOT NULL DEFAULT 0 CHECK (member_count >= 0),
    monthly_price         BIGINT NOT NULL DEFAULT 0,
    currency              TEXT NOT NULL DEFAULT 'USD',
    trial_ends_at         TIMESTAMPTZ,
    next_billing_date     TIMESTAMPTZ,
    external_customer_id  TEXT,
    billing_attempts      INTEGER NOT NULL DEFAULT 0,
    version               BIGINT NOT NULL DEFAULT 1,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_one_open_per_user
    ON subscriptions (user_id) WHERE status <> 'CANCELLED';

CREATE INDEX IF NOT EXISTS idx_subscriptions_trial_due
    ON subscriptions (trial_ends_at) WHERE status = 'TRIAL';

CREATE INDEX IF NOT EXISTS idx_subscriptions_billing_due
    ON subscriptions (next_billing_date) WHERE status IN ('ACTIVE', 'PAST_DUE');
`,
		},
		{
			Version:     301,
			Description: "Create payments table",
			SQL: `
CREATE TABLE IF NOT EXISTS payments (
    reference          TEXT PRIMARY KEY,
    user_id            TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    subscription_id    TEXT NOT NULL REFERENCES subscriptions(id),
    amount             BIGINT NOT NULL,
    currency           TEXT NOT NULL,
    status             TEXT NOT NULL CHECK (status IN ('PENDING', 'SUCCESS', 'FAILED')),
    gateway_reference  TEXT,
    plan               TEXT,
    paid_at            TIMESTAMPTZ,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_payments_user ON payments (user_id, created_at DESC);
`,
		},
		{
			Version:     302,
			Description: "Record the billed cycle on renewal payments",
			SQL: `
ALTER TABLE payments ADD COLUMN IF NOT EXISTS billing_date TIMESTAMPTZ;
`,
		},
	}
}
