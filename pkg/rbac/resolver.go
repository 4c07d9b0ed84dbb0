package rbac

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/tasknest/tasknest/pkg/observability"
)

var (
	// ErrBoardNotFound is returned when the board does not exist
	ErrBoardNotFound = errors.New("board not found")
	// ErrForbidden is returned when the user has no role or an insufficient one
	ErrForbidden = errors.New("forbidden")
)

// BoardAccess is the raw result of the single owner+membership lookup
type BoardAccess struct {
	OwnerID    string
	MemberRole *Role
}

// AccessStore fetches a board's owner and the caller's membership row in one
// query. It returns ErrBoardNotFound when the board does not exist.
type AccessStore interface {
	LookupBoardAccess(ctx context.Context, boardID, userID string) (*BoardAccess, error)
}

// EffectiveRole is a user's derived role on a board
type EffectiveRole struct {
	BoardID string `json:"board_id"`
	UserID  string `json:"user_id"`
	Role    Role   `json:"role"`
	IsOwner bool   `json:"is_owner"`
}

// Resolver computes effective roles and authorizes board access
type Resolver struct {
	store   AccessStore
	cache   *accessCache
	group   singleflight.Group
	logger  *observability.Logger
	metrics *observability.Metrics
}

// Option configures a Resolver
type Option func(*Resolver)

// WithLogger sets the decision logger
func WithLogger(logger *observability.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// WithMetrics records decisions and cache lookups
func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Resolver) { r.metrics = metrics }
}

// WithCache enables the lookup cache
func WithCache(cfg CacheConfig) Option {
	return func(r *Resolver) { r.cache = newAccessCache(cfg) }
}

// NewResolver creates a board access resolver
func NewResolver(store AccessStore, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveEffectiveRole returns the user's effective role, nil when the user
// has no access, or ErrBoardNotFound.
func (r *Resolver) ResolveEffectiveRole(ctx context.Context, userID, boardID string) (*EffectiveRole, error) {
	access, err := r.lookup(ctx, boardID, userID)
	if err != nil {
		return nil, err
	}

	if access.OwnerID != "" && access.OwnerID == userID {
		return &EffectiveRole{BoardID: boardID, UserID: userID, Role: RoleOwner, IsOwner: true}, nil
	}

	if access.MemberRole == nil {
		return nil, nil
	}
	if !access.MemberRole.Valid() {
		r.logger.WithFields(map[string]interface{}{
			"board_id": boardID,
			"user_id":  userID,
			"role":     string(*access.MemberRole),
		}).Warn("membership row has unknown role, denying access")
		return nil, nil
	}

	return &EffectiveRole{BoardID: boardID, UserID: userID, Role: *access.MemberRole}, nil
}

// Authorize returns the effective role when it satisfies minRole. It fails
// with ErrBoardNotFound or ErrForbidden; neither is ever downgraded to a
// default role.
func (r *Resolver) Authorize(ctx context.Context, userID, boardID string, minRole Role) (*EffectiveRole, error) {
	role, err := r.ResolveEffectiveRole(ctx, userID, boardID)
	outcome := "allowed"
	defer func() {
		if r.metrics != nil {
			r.metrics.AuthorizationDecisions.WithLabelValues(string(minRole), outcome).Inc()
		}
	}()

	if err != nil {
		if errors.Is(err, ErrBoardNotFound) {
			outcome = "not_found"
		} else {
			outcome = "error"
		}
		return nil, err
	}

	if role == nil || !HasRoleOrAbove(role.Role, minRole) {
		outcome = "forbidden"
		fields := map[string]interface{}{
			"board_id":      boardID,
			"user_id":       userID,
			"required_role": string(minRole),
		}
		if role != nil {
			fields["effective_role"] = string(role.Role)
		}
		r.logger.WithFields(fields).Debug("board access denied")
		return nil, ErrForbidden
	}

	r.logger.WithFields(map[string]interface{}{
		"board_id":       boardID,
		"user_id":        userID,
		"effective_role": string(role.Role),
		"required_role":  string(minRole),
	}).Debug("board access granted")

	return role, nil
}

// Invalidate drops any cached lookup for (boardID, userID)
func (r *Resolver) Invalidate(boardID, userID string) {
	if r.cache != nil {
		r.cache.remove(boardID, userID)
	}
}

// InvalidateBoard drops every cached lookup for boardID
func (r *Resolver) InvalidateBoard(boardID string) {
	if r.cache != nil {
		r.cache.removeBoard(boardID)
	}
}

func (r *Resolver) lookup(ctx context.Context, boardID, userID string) (*BoardAccess, error) {
	if r.cache != nil {
		if access, ok := r.cache.get(boardID, userID); ok {
			r.observeCache("hit")
			return access, nil
		}
		r.observeCache("miss")
	}

	// the lookup is shared with every concurrent caller for the key, so it
	// runs detached from the cancellation of whichever caller started it
	key := cacheKey(boardID, userID)
	ch := r.group.DoChan(key, func() (interface{}, error) {
		access, err := r.store.LookupBoardAccess(context.WithoutCancel(ctx), boardID, userID)
		if err != nil {
			return nil, err
		}
		if r.cache != nil {
			r.cache.put(boardID, userID, access)
		}
		return access, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	v, err := res.Val, res.Err
	if err != nil {
		if errors.Is(err, ErrBoardNotFound) {
			return nil, ErrBoardNotFound
		}
		return nil, fmt.Errorf("failed to look up board access: %w", err)
	}

	return v.(*BoardAccess), nil
}

func (r *Resolver) observeCache(result string) {
	if r.metrics != nil {
		r.metrics.AccessCacheLookups.WithLabelValues(result).Inc()
	}
}
