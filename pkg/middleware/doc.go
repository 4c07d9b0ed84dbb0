// Package middleware provides the request-scoped HTTP middleware for
// tasknest: request IDs with a context logger, bearer token
// authentication that attaches an auth.AuthContext, and Redis-backed fixed
// window rate limiting keyed by user or client IP.
//
// Board-level authorization lives in pkg/rbac because it needs the board
// access resolver.
package middleware
