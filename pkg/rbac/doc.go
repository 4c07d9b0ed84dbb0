// Package rbac provides board-level role-based access control for tasknest.
//
// # Roles
//
// Three roles are totally ordered:
//
//	VIEWER < EDITOR < OWNER
//
// HasRoleOrAbove is the single comparison used everywhere. Unknown role
// values never satisfy anything, so bad data fails closed.
//
// # Effective role
//
// A user's effective role on a board is derived, never stored:
//
//   - the board's owner is always OWNER, whatever membership rows say
//   - otherwise the role on the user's membership row, if any
//   - otherwise no access (nil), which is distinct from VIEWER
//
// # Authorization
//
//	resolver := rbac.NewResolver(boardStore, rbac.WithLogger(logger))
//	role, err := resolver.Authorize(ctx, userID, boardID, rbac.RoleEditor)
//	switch {
//	case errors.Is(err, rbac.ErrBoardNotFound): // 404
//	case errors.Is(err, rbac.ErrForbidden):     // 403
//	}
//
// The resolver is read-only and safe for concurrent use. Identical
// concurrent lookups are collapsed, and an optional short-lived LRU cache can
// absorb hot boards; membership writers call Invalidate after each change.
//
// # HTTP
//
//	mw := rbac.NewMiddleware(resolver)
//	router.Handle("/boards/{boardId}", mw.RequireBoardRole(rbac.RoleViewer)(getBoard))
package rbac
