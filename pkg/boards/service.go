package boards

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tasknest/tasknest/pkg/auth"
	"github.com/tasknest/tasknest/pkg/observability"
	"github.com/tasknest/tasknest/pkg/rbac"
)

// MemberEvent describes a committed membership change
type MemberEvent struct {
	BoardID string
	OwnerID string
	UserID  string
}

// MemberHook is notified after membership changes commit. Errors are logged
// and never undo the membership change.
type MemberHook interface {
	OnMemberAdded(ctx context.Context, event MemberEvent) error
	OnMemberRemoved(ctx context.Context, event MemberEvent) error
}

// AccessInvalidator drops cached authorization lookups
type AccessInvalidator interface {
	Invalidate(boardID, userID string)
	InvalidateBoard(boardID string)
}

// Service manages boards and their memberships
type Service struct {
	store       Store
	users       auth.UserLookup
	invalidator AccessInvalidator
	hooks       []MemberHook
	logger      *observability.Logger
}

// NewService creates a board service. invalidator may be nil.
func NewService(store Store, users auth.UserLookup, invalidator AccessInvalidator, logger *observability.Logger, hooks ...MemberHook) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		store:       store,
		users:       users,
		invalidator: invalidator,
		hooks:       hooks,
		logger:      logger,
	}
}

// CreateBoard creates a board owned by ownerID
func (s *Service) CreateBoard(ctx context.Context, ownerID string, req CreateBoardRequest) (*Board, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: board name is required", ErrInvalidRequest)
	}
	board := &Board{Name: name, Description: req.Description, OwnerID: ownerID}
	if err := s.store.CreateBoard(ctx, board); err != nil {
		return nil, err
	}
	return board, nil
}

// GetBoard retrieves a board by ID
func (s *Service) GetBoard(ctx context.Context, boardID string) (*Board, error) {
	return s.store.GetBoard(ctx, boardID)
}

// ListBoards returns the boards a user owns or belongs to
func (s *Service) ListBoards(ctx context.Context, userID string) ([]*Board, error) {
	return s.store.ListBoardsForUser(ctx, userID)
}

// DeleteBoard deletes a board and its memberships, then lets hooks recount
// the owner's members.
func (s *Service) DeleteBoard(ctx context.Context, boardID string) error {
	members, err := s.store.ListMembers(ctx, boardID)
	if err != nil {
		return err
	}
	ownerID, err := s.store.GetBoardOwner(ctx, boardID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteBoard(ctx, boardID); err != nil {
		return err
	}
	if s.invalidator != nil {
		s.invalidator.InvalidateBoard(boardID)
	}
	for _, m := range members {
		s.runRemovedHooks(ctx, MemberEvent{BoardID: boardID, OwnerID: ownerID, UserID: m.UserID})
	}
	return nil
}

// ListMembers returns a board's members
func (s *Service) ListMembers(ctx context.Context, boardID string) ([]*Member, error) {
	return s.store.ListMembers(ctx, boardID)
}

// AddMember grants a user VIEWER or EDITOR on a board. The user is identified
// by ID or, failing that, by email.
func (s *Service) AddMember(ctx context.Context, boardID string, req AddMemberRequest) (*Member, error) {
	role, err := parseAssignableRole(req.Role)
	if err != nil {
		return nil, err
	}

	user, err := s.resolveUser(ctx, req)
	if err != nil {
		return nil, err
	}

	ownerID, err := s.store.GetBoardOwner(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if ownerID == user.ID {
		return nil, ErrOwnerMembership
	}

	member, err := s.store.UpsertMembership(ctx, boardID, user.ID, role)
	if err != nil {
		return nil, err
	}
	member.Email = user.Email

	s.invalidate(boardID, user.ID)
	s.logger.WithFields(map[string]interface{}{
		"board_id": boardID,
		"user_id":  user.ID,
		"role":     string(role),
	}).Info("board member added")

	event := MemberEvent{BoardID: boardID, OwnerID: ownerID, UserID: user.ID}
	for _, hook := range s.hooks {
		if err := hook.OnMemberAdded(ctx, event); err != nil {
			s.logger.WithError(err).WithField("board_id", boardID).Warn("member added hook failed")
		}
	}
	return member, nil
}

// ChangeMemberRole updates an existing member's role
func (s *Service) ChangeMemberRole(ctx context.Context, boardID, userID, roleName string) (*Member, error) {
	role, err := parseAssignableRole(roleName)
	if err != nil {
		return nil, err
	}

	current, err := s.store.GetMembership(ctx, boardID, userID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrMemberNotFound
	}

	member, err := s.store.UpsertMembership(ctx, boardID, userID, role)
	if err != nil {
		return nil, err
	}
	s.invalidate(boardID, userID)
	return member, nil
}

// RemoveMember revokes a user's membership
func (s *Service) RemoveMember(ctx context.Context, boardID, userID string) error {
	ownerID, err := s.store.GetBoardOwner(ctx, boardID)
	if err != nil {
		return err
	}

	removed, err := s.store.DeleteMembership(ctx, boardID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrMemberNotFound
	}

	s.invalidate(boardID, userID)
	s.logger.WithFields(map[string]interface{}{
		"board_id": boardID,
		"user_id":  userID,
	}).Info("board member removed")

	s.runRemovedHooks(ctx, MemberEvent{BoardID: boardID, OwnerID: ownerID, UserID: userID})
	return nil
}

func (s *Service) runRemovedHooks(ctx context.Context, event MemberEvent) {
	for _, hook := range s.hooks {
		if err := hook.OnMemberRemoved(ctx, event); err != nil {
			s.logger.WithError(err).WithField("board_id", event.BoardID).Warn("member removed hook failed")
		}
	}
}

func (s *Service) resolveUser(ctx context.Context, req AddMemberRequest) (*auth.User, error) {
	var (
		user *auth.User
		err  error
	)
	switch {
	case req.UserID != "":
		user, err = s.users.GetUserByID(ctx, req.UserID)
	case req.Email != "":
		user, err = s.users.GetUserByEmail(ctx, strings.TrimSpace(req.Email))
	default:
		return nil, fmt.Errorf("%w: user_id or email is required", ErrInvalidRequest)
	}
	if errors.Is(err, auth.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) invalidate(boardID, userID string) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(boardID, userID)
	}
}

func parseAssignableRole(name string) (rbac.Role, error) {
	role, err := rbac.ParseRole(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !role.Assignable() {
		return "", ErrOwnerRole
	}
	return role, nil
}
