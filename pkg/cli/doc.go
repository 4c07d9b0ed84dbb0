// Package cli implements the tasknest command.
//
// # Commands
//
// serve: run the HTTP API, optionally with the billing scheduler in-process
//
//	tasknest serve --addr :8080 --with-worker
//
// worker: run the billing scheduler on TASKNEST_BILLING_SCHEDULE until
// SIGINT/SIGTERM. With Redis configured, sweeps take a shared lock so only
// one worker bills at a time.
//
//	tasknest worker
//
// sweep: expire trials and charge due subscriptions once, printing the report
// as JSON. Safe to run from an external cron.
//
//	tasknest sweep
//
// migrate: apply pending schema migrations
//
//	tasknest migrate
//
// token: issue an API token for an existing user
//
//	tasknest token --email ada@example.com --name laptop --ttl 720h
//
// All commands read configuration through package config.
package cli
