// Package api provides the tasknest HTTP API.
//
// # Overview
//
// The API is built on gorilla/mux and organized into handler groups that
// each register their own routes:
//
//   - BoardHandlers: boards and board membership, guarded per route by
//     rbac.Middleware with the minimum role the action needs
//   - BillingHandlers: subscriptions, checkout, payment history and the
//     signed Paystack webhook
//
// # Routes
//
// Public:
//
//	GET  /healthz /readyz /metrics
//	GET  /subscriptions/pricing
//	POST /payments/webhook/paystack        x-paystack-signature
//
// Authenticated (Authorization: Bearer tn_...):
//
//	POST   /boards                         any user
//	GET    /boards                         any user
//	GET    /boards/{boardId}               VIEWER
//	DELETE /boards/{boardId}               OWNER
//	GET    /boards/{boardId}/access        VIEWER
//	GET    /boards/{boardId}/members       VIEWER
//	POST   /boards/{boardId}/members       OWNER
//	PATCH  /boards/{boardId}/members/{id}  OWNER
//	DELETE /boards/{boardId}/members/{id}  OWNER
//	POST   /subscriptions
//	GET    /subscriptions/me
//	PATCH  /subscriptions/me/members
//	DELETE /subscriptions/me
//	POST   /payments/initialize
//	POST   /payments/verify
//	GET    /payments/history
//
// # Errors
//
// Every error body is {"error": "..."}. Not-found errors answer 404, RBAC
// denials 403, duplicate subscriptions 409, validation failures and bad
// webhook signatures 400, declined charges 402, gateway outages 502.
//
// # Usage
//
//	server := api.NewServer(api.ServerConfig{
//		Logger:  logger,
//		Tokens:  authStore,
//		Boards:  api.NewBoardHandlers(boardService, rbac.NewMiddleware(resolver)),
//		Billing: api.NewBillingHandlers(subscriptions, payments, boardStore),
//	})
//	http.ListenAndServe(":8080", server)
package api
