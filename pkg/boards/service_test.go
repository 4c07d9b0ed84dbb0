package boards

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasknest/tasknest/pkg/auth"
	"github.com/tasknest/tasknest/pkg/rbac"
)

type fakeUsers map[string]*auth.User

func (f fakeUsers) GetUserByID(_ context.Context, id string) (*auth.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, auth.ErrUserNotFound
}

func (f fakeUsers) GetUserByEmail(_ context.Context, email string) (*auth.User, error) {
	for _, u := range f {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

type recordingHook struct {
	added   []MemberEvent
	removed []MemberEvent
	err     error
}

func (h *recordingHook) OnMemberAdded(_ context.Context, e MemberEvent) error {
	h.added = append(h.added, e)
	return h.err
}

func (h *recordingHook) OnMemberRemoved(_ context.Context, e MemberEvent) error {
	h.removed = append(h.removed, e)
	return h.err
}

type recordingInvalidator struct {
	pairs  []string
	boards []string
}

func (r *recordingInvalidator) Invalidate(boardID, userID string) {
	r.pairs = append(r.pairs, boardID+"/"+userID)
}

func (r *recordingInvalidator) InvalidateBoard(boardID string) {
	r.boards = append(r.boards, boardID)
}

func newTestService(t *testing.T) (*Service, *recordingHook, *recordingInvalidator) {
	t.Helper()
	store, _ := newSQLiteStore(t)
	users := fakeUsers{
		"owner": {ID: "owner", Email: "owner@example.com"},
		"alice": {ID: "alice", Email: "alice@example.com"},
		"bob":   {ID: "bob", Email: "bob@example.com"},
	}
	hook := &recordingHook{}
	inv := &recordingInvalidator{}
	return NewService(store, users, inv, nil, hook), hook, inv
}

func TestService_AddMember(t *testing.T) {
	ctx := context.Background()
	svc, hook, inv := newTestService(t)

	board, err := svc.CreateBoard(ctx, "owner", CreateBoardRequest{Name: " Launch "})
	require.NoError(t, err)
	assert.Equal(t, "Launch", board.Name)

	t.Run("by email", func(t *testing.T) {
		m, err := svc.AddMember(ctx, board.ID, AddMemberRequest{Email: "ALICE@example.com", Role: "editor"})
		require.NoError(t, err)
		assert.Equal(t, "alice", m.UserID)
		assert.Equal(t, rbac.RoleEditor, m.Role)
		require.Len(t, hook.added, 1)
		assert.Equal(t, MemberEvent{BoardID: board.ID, OwnerID: "owner", UserID: "alice"}, hook.added[0])
		assert.Contains(t, inv.pairs, board.ID+"/alice")
	})

	t.Run("owner role is not assignable", func(t *testing.T) {
		_, err := svc.AddMember(ctx, board.ID, AddMemberRequest{UserID: "bob", Role: "OWNER"})
		assert.ErrorIs(t, err, ErrOwnerRole)
	})

	t.Run("owner cannot become a member", func(t *testing.T) {
		_, err := svc.AddMember(ctx, board.ID, AddMemberRequest{UserID: "owner", Role: "VIEWER"})
		assert.ErrorIs(t, err, ErrOwnerMembership)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := svc.AddMember(ctx, board.ID, AddMemberRequest{Email: "ghost@example.com", Role: "VIEWER"})
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("unknown board", func(t *testing.T) {
		_, err := svc.AddMember(ctx, "missing", AddMemberRequest{UserID: "bob", Role: "VIEWER"})
		assert.ErrorIs(t, err, ErrBoardNotFound)
	})

	t.Run("hook failure does not fail the add", func(t *testing.T) {
		hook.err = errors.New("billing unavailable")
		defer func() { hook.err = nil }()
		_, err := svc.AddMember(ctx, board.ID, AddMemberRequest{UserID: "bob", Role: "VIEWER"})
		assert.NoError(t, err)
	})
}

func TestService_ChangeAndRemoveMember(t *testing.T) {
	ctx := context.Background()
	svc, hook, _ := newTestService(t)

	board, err := svc.CreateBoard(ctx, "owner", CreateBoardRequest{Name: "Ops"})
	require.NoError(t, err)
	_, err = svc.AddMember(ctx, board.ID, AddMemberRequest{UserID: "alice", Role: "VIEWER"})
	require.NoError(t, err)

	m, err := svc.ChangeMemberRole(ctx, board.ID, "alice", "EDITOR")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleEditor, m.Role)

	_, err = svc.ChangeMemberRole(ctx, board.ID, "bob", "EDITOR")
	assert.ErrorIs(t, err, ErrMemberNotFound)

	require.NoError(t, svc.RemoveMember(ctx, board.ID, "alice"))
	require.Len(t, hook.removed, 1)
	assert.Equal(t, "owner", hook.removed[0].OwnerID)

	assert.ErrorIs(t, svc.RemoveMember(ctx, board.ID, "alice"), ErrMemberNotFound)
	assert.Len(t, hook.removed, 1)
}

func TestService_DeleteBoard(t *testing.T) {
	ctx := context.Background()
	svc, hook, inv := newTestService(t)

	board, err := svc.CreateBoard(ctx, "owner", CreateBoardRequest{Name: "Old"})
	require.NoError(t, err)
	_, err = svc.AddMember(ctx, board.ID, AddMemberRequest{UserID: "alice", Role: "VIEWER"})
	require.NoError(t, err)
	_, err = svc.AddMember(ctx, board.ID, AddMemberRequest{UserID: "bob", Role: "EDITOR"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteBoard(ctx, board.ID))
	assert.Len(t, hook.removed, 2)
	assert.Equal(t, []string{board.ID}, inv.boards)

	_, err = svc.GetBoard(ctx, board.ID)
	assert.ErrorIs(t, err, ErrBoardNotFound)

	_, err = svc.CreateBoard(ctx, "owner", CreateBoardRequest{Name: "   "})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
