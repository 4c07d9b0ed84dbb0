// Package storage provides the shared persistence plumbing for tasknest:
// PostgreSQL connection setup, a schema migration runner, and the Redis
// client used for cross-process locks and webhook de-duplication.
//
// Domain stores (boards, billing, auth) take a *sql.DB and own their SQL;
// this package only knows how to open, migrate and health-check backends.
//
// # PostgreSQL
//
//	db, err := storage.OpenPostgres(ctx, storage.PostgresConfig{URL: url, MaxOpenConns: 20})
//	err = storage.Migrate(ctx, db, boards.Migrations(), billing.Migrations())
//
// # Redis
//
//	client, err := storage.NewRedisClient(ctx, storage.RedisConfig{URL: "redis://localhost:6379/0"})
//	lock := storage.NewRedisLocker(client, "tasknest:lock:")
//	ok, release, err := lock.TryLock(ctx, "billing-sweep", 30*time.Minute)
//
// Integration tests tagged `integration` start a disposable Postgres with
// testcontainers-go; see testing_integration.go.
package storage
