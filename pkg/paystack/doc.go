// Package paystack implements billing.Gateway against the Paystack REST API.
//
// Amounts cross the wire in minor units (kobo, cents). One-off checkouts go
// through /transaction/initialize and are confirmed with
// /transaction/verify/{reference}; recurring charges reuse the authorization
// code from the first successful payment via
// /transaction/charge_authorization.
//
// Webhooks are authenticated with VerifySignature, which compares the
// x-paystack-signature header against an HMAC-SHA512 of the raw body.
//
// # Errors
//
// Transport failures, 5xx responses and unreadable bodies wrap
// billing.ErrGateway. A charge the gateway refuses, or any other 4xx,
// wraps billing.ErrGatewayDeclined. Only verification requests are retried.
package paystack
