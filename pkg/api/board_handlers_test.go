package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasknest/tasknest/pkg/boards"
	"github.com/tasknest/tasknest/pkg/rbac"
)

// mockBoardService implements BoardService for testing
type mockBoardService struct {
	createBoardFunc      func(ctx context.Context, ownerID string, req boards.CreateBoardRequest) (*boards.Board, error)
	getBoardFunc         func(ctx context.Context, boardID string) (*boards.Board, error)
	listBoardsFunc       func(ctx context.Context, userID string) ([]*boards.Board, error)
	deleteBoardFunc      func(ctx context.Context, boardID string) error
	listMembersFunc      func(ctx context.Context, boardID string) ([]*boards.Member, error)
	addMemberFunc        func(ctx context.Context, boardID string, req boards.AddMemberRequest) (*boards.Member, error)
	changeMemberRoleFunc func(ctx context.Context, boardID, userID, role string) (*boards.Member, error)
	removeMemberFunc     func(ctx context.Context, boardID, userID string) error
}

func (m *mockBoardService) CreateBoard(ctx context.Context, ownerID string, req boards.CreateBoardRequest) (*boards.Board, error) {
	if m.createBoardFunc != nil {
		return m.createBoardFunc(ctx, ownerID, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockBoardService) GetBoard(ctx context.Context, boardID string) (*boards.Board, error) {
	if m.getBoardFunc != nil {
		return m.getBoardFunc(ctx, boardID)
	}
	return &boards.Board{ID: boardID, Name: "Roadmap", OwnerID: "owner"}, nil
}

func (m *mockBoardService) ListBoards(ctx context.Context, userID string) ([]*boards.Board, error) {
	if m.listBoardsFunc != nil {
		return m.listBoardsFunc(ctx, userID)
	}
	return nil, nil
}

func (m *mockBoardService) DeleteBoard(ctx context.Context, boardID string) error {
	if m.deleteBoardFunc != nil {
		return m.deleteBoardFunc(ctx, boardID)
	}
	return nil
}

func (m *mockBoardService) ListMembers(ctx context.Context, boardID string) ([]*boards.Member, error) {
	if m.listMembersFunc != nil {
		return m.listMembersFunc(ctx, boardID)
	}
	return nil, nil
}

func (m *mockBoardService) AddMember(ctx context.Context, boardID string, req boards.AddMemberRequest) (*boards.Member, error) {
	if m.addMemberFunc != nil {
		return m.addMemberFunc(ctx, boardID, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockBoardService) ChangeMemberRole(ctx context.Context, boardID, userID, role string) (*boards.Member, error) {
	if m.changeMemberRoleFunc != nil {
		return m.changeMemberRoleFunc(ctx, boardID, userID, role)
	}
	return nil, errors.New("not implemented")
}

func (m *mockBoardService) RemoveMember(ctx context.Context, boardID, userID string) error {
	if m.removeMemberFunc != nil {
		return m.removeMemberFunc(ctx, boardID, userID)
	}
	return nil
}

func newBoardServer(svc BoardService) *Server {
	guard := rbac.NewMiddleware(rbac.NewResolver(fakeAccess{}))
	return NewServer(ServerConfig{
		Tokens: testUsers,
		Boards: NewBoardHandlers(svc, guard),
	})
}

func TestBoardHandlers_Authorization(t *testing.T) {
	server := newBoardServer(&mockBoardService{})

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   interface{}
		want   int
	}{
		{"anonymous is rejected", "GET", "/boards/b1", "", nil, http.StatusUnauthorized},
		{"unknown board", "GET", "/boards/nope", "owner", nil, http.StatusNotFound},
		{"non member is forbidden", "GET", "/boards/b1", "alien", nil, http.StatusForbidden},
		{"viewer can read", "GET", "/boards/b1", "viewer", nil, http.StatusOK},
		{"viewer lists members", "GET", "/boards/b1/members", "viewer", nil, http.StatusOK},
		{"editor cannot delete", "DELETE", "/boards/b1", "editor", nil, http.StatusForbidden},
		{"owner deletes", "DELETE", "/boards/b1", "owner", nil, http.StatusNoContent},
		{"viewer cannot remove members", "DELETE", "/boards/b1/members/editor", "viewer", nil, http.StatusForbidden},
		{"owner removes members", "DELETE", "/boards/b1/members/editor", "owner", nil, http.StatusNoContent},
		{"editor cannot add members", "POST", "/boards/b1/members", "editor", boards.AddMemberRequest{UserID: "alien", Role: "VIEWER"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, server, tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestBoardHandlers_GetAccess(t *testing.T) {
	server := newBoardServer(&mockBoardService{})

	w := doRequest(t, server, "GET", "/boards/b1/access", "owner", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var role rbac.EffectiveRole
	decodeBody(t, w, &role)
	assert.Equal(t, rbac.RoleOwner, role.Role)
	assert.True(t, role.IsOwner)

	w = doRequest(t, server, "GET", "/boards/b1/access", "editor", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &role)
	assert.Equal(t, rbac.RoleEditor, role.Role)
	assert.False(t, role.IsOwner)
}

func TestBoardHandlers_CreateBoard(t *testing.T) {
	svc := &mockBoardService{
		createBoardFunc: func(_ context.Context, ownerID string, req boards.CreateBoardRequest) (*boards.Board, error) {
			if req.Name == "" {
				return nil, boards.ErrInvalidRequest
			}
			return &boards.Board{ID: "b2", Name: req.Name, OwnerID: ownerID}, nil
		},
	}
	server := newBoardServer(svc)

	w := doRequest(t, server, "POST", "/boards", "editor", boards.CreateBoardRequest{Name: "Launch"})
	require.Equal(t, http.StatusCreated, w.Code)
	var board boards.Board
	decodeBody(t, w, &board)
	assert.Equal(t, "editor", board.OwnerID)

	w = doRequest(t, server, "POST", "/boards", "editor", boards.CreateBoardRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, server, "POST", "/boards", "editor", map[string]string{"unexpected": "field"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBoardHandlers_ListBoards(t *testing.T) {
	server := newBoardServer(&mockBoardService{})

	w := doRequest(t, server, "GET", "/boards", "viewer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestBoardHandlers_Members(t *testing.T) {
	var added boards.AddMemberRequest
	svc := &mockBoardService{
		addMemberFunc: func(_ context.Context, boardID string, req boards.AddMemberRequest) (*boards.Member, error) {
			added = req
			switch req.Role {
			case "OWNER":
				return nil, boards.ErrOwnerRole
			case "VIEWER", "EDITOR":
			default:
				return nil, boards.ErrInvalidRequest
			}
			if req.Email == "missing@example.com" {
				return nil, boards.ErrUserNotFound
			}
			return &boards.Member{BoardID: boardID, UserID: "alien", Role: rbac.Role(req.Role)}, nil
		},
		changeMemberRoleFunc: func(_ context.Context, boardID, userID, role string) (*boards.Member, error) {
			if userID == "ghost" {
				return nil, boards.ErrMemberNotFound
			}
			return &boards.Member{BoardID: boardID, UserID: userID, Role: rbac.Role(role)}, nil
		},
	}
	server := newBoardServer(svc)

	w := doRequest(t, server, "POST", "/boards/b1/members", "owner", boards.AddMemberRequest{Email: "alien@example.com", Role: "EDITOR"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "alien@example.com", added.Email)

	w = doRequest(t, server, "POST", "/boards/b1/members", "owner", boards.AddMemberRequest{UserID: "alien", Role: "OWNER"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorMessage(t, w), "owner role")

	w = doRequest(t, server, "POST", "/boards/b1/members", "owner", boards.AddMemberRequest{Email: "missing@example.com", Role: "VIEWER"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, server, "PATCH", "/boards/b1/members/viewer", "owner", boards.UpdateMemberRequest{Role: "EDITOR"})
	require.Equal(t, http.StatusOK, w.Code)
	var member boards.Member
	decodeBody(t, w, &member)
	assert.Equal(t, rbac.RoleEditor, member.Role)

	w = doRequest(t, server, "PATCH", "/boards/b1/members/ghost", "owner", boards.UpdateMemberRequest{Role: "EDITOR"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBoardHandlers_InternalErrorsAreHidden(t *testing.T) {
	svc := &mockBoardService{
		getBoardFunc: func(context.Context, string) (*boards.Board, error) {
			return nil, errors.New("pq: connection refused")
		},
	}
	server := newBoardServer(svc)

	w := doRequest(t, server, "GET", "/boards/b1", "owner", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "pq:")
}
