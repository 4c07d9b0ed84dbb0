// Package boards manages boards and their memberships.
//
// A board has exactly one owner, recorded on the board row. Other users gain
// access through membership rows carrying VIEWER or EDITOR; OWNER is never
// stored on a membership. PostgresStore also implements rbac.AccessStore so
// the authorization resolver reads ownership and membership in one query.
//
// Membership changes notify MemberHook implementations after the change is
// committed. Hooks are best-effort: their errors are logged, never returned.
package boards
