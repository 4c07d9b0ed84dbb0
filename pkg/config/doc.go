// Package config loads tasknest configuration from defaults, an optional YAML
// file and environment variables, then validates it.
//
// # Precedence
//
// Built-in defaults < YAML file named by TASKNEST_CONFIG_FILE < TASKNEST_*
// environment variables.
//
// # Environment
//
// Server:
//
//	TASKNEST_HOST="0.0.0.0"
//	TASKNEST_PORT="8080"
//	TASKNEST_FRONTEND_URL="https://app.tasknest.io"
//
// Storage:
//
//	TASKNEST_DATABASE_URL="postgres://tasknest@localhost/tasknest?sslmode=disable"
//	TASKNEST_REDIS_URL="redis://localhost:6379/0"
//
// Billing:
//
//	TASKNEST_BASIC_PLAN_PRICE="2.00"
//	TASKNEST_MEMBER_PRICE="0.50"
//	TASKNEST_TRIAL_DAYS="14"
//	TASKNEST_BILLING_SCHEDULE="0 0 * * *"
//	TASKNEST_GATEWAY_TIMEOUT="30s"
//	TASKNEST_MAX_BILLING_ATTEMPTS="3"
//
// Payment gateway and email:
//
//	TASKNEST_PAYSTACK_SECRET_KEY="sk_live_..."
//	TASKNEST_PAYSTACK_WEBHOOK_SECRET="..."
//	TASKNEST_SMTP_HOST="smtp.example.com"
//
// Rate limiting (needs Redis):
//
//	TASKNEST_RATE_LIMIT_USER_REQUESTS="600"
//	TASKNEST_RATE_LIMIT_ANONYMOUS_REQUESTS="120"
//	TASKNEST_RATE_LIMIT_WINDOW="1m"
//
// Observability:
//
//	TASKNEST_LOG_LEVEL="debug"
//	TASKNEST_OTEL_ENABLED="true"
//	TASKNEST_OTEL_ENDPOINT="otel-collector:4317"
//
// # YAML
//
//	billing:
//	  basic_price: 2.0
//	  member_price: 0.5
//	  schedule: "0 0 * * *"
//	  gateway_timeout: 30s
package config
