// Package auth provides the identity lookup and bearer token resolution the
// rest of tasknest depends on.
//
// Users are created by the registration flow, which lives outside this
// module; tasknest only reads them. API tokens have the form
// "tn_<base64url(32 random bytes)>" and only their SHA-256 hash is stored.
package auth
