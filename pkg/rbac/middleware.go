package rbac

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tasknest/tasknest/pkg/contextkeys"
	"github.com/tasknest/tasknest/pkg/httputil"
	"github.com/tasknest/tasknest/pkg/observability"
)

// Middleware guards board-scoped routes
type Middleware struct {
	resolver *Resolver
}

// NewMiddleware creates board authorization middleware
func NewMiddleware(resolver *Resolver) *Middleware {
	return &Middleware{resolver: resolver}
}

// RequireBoardRole authorizes the authenticated user against the board named
// by the {boardId} (or {id}) route variable. The caller's effective role is
// stored on the request context for downstream handlers.
func (m *Middleware) RequireBoardRole(minRole Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := contextkeys.GetUserID(r.Context())
			if userID == "" {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			boardID := boardIDFromRequest(r)
			if boardID == "" {
				httputil.WriteBadRequest(w, "board ID is required")
				return
			}

			role, err := m.resolver.Authorize(r.Context(), userID, boardID, minRole)
			switch {
			case errors.Is(err, ErrBoardNotFound):
				httputil.WriteNotFound(w, "board not found")
				return
			case errors.Is(err, ErrForbidden):
				httputil.WriteForbidden(w, "insufficient board permissions")
				return
			case err != nil:
				observability.FromContext(r.Context()).WithError(err).Error("board authorization failed")
				httputil.WriteInternalError(w)
				return
			}

			ctx := contextkeys.WithBoardRole(r.Context(), role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetBoardRole returns the effective role stored by RequireBoardRole, or nil
func GetBoardRole(r *http.Request) *EffectiveRole {
	role, _ := r.Context().Value(contextkeys.BoardRoleKey).(*EffectiveRole)
	return role
}

func boardIDFromRequest(r *http.Request) string {
	vars := mux.Vars(r)
	if id := vars["boardId"]; id != "" {
		return id
	}
	return vars["id"]
}
