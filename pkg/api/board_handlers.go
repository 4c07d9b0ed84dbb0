package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tasknest/tasknest/pkg/boards"
	"github.com/tasknest/tasknest/pkg/contextkeys"
	"github.com/tasknest/tasknest/pkg/httputil"
	"github.com/tasknest/tasknest/pkg/rbac"
)

// BoardService is the board and membership surface used by BoardHandlers
type BoardService interface {
	CreateBoard(ctx context.Context, ownerID string, req boards.CreateBoardRequest) (*boards.Board, error)
	GetBoard(ctx context.Context, boardID string) (*boards.Board, error)
	ListBoards(ctx context.Context, userID string) ([]*boards.Board, error)
	DeleteBoard(ctx context.Context, boardID string) error
	ListMembers(ctx context.Context, boardID string) ([]*boards.Member, error)
	AddMember(ctx context.Context, boardID string, req boards.AddMemberRequest) (*boards.Member, error)
	ChangeMemberRole(ctx context.Context, boardID, userID, role string) (*boards.Member, error)
	RemoveMember(ctx context.Context, boardID, userID string) error
}

// BoardHandlers handles board and membership HTTP requests
type BoardHandlers struct {
	boards BoardService
	guard  *rbac.Middleware
}

// NewBoardHandlers creates a new BoardHandlers
func NewBoardHandlers(boardService BoardService, guard *rbac.Middleware) *BoardHandlers {
	return &BoardHandlers{
		boards: boardService,
		guard:  guard,
	}
}

// RegisterRoutes registers board routes. router must already authenticate.
func (h *BoardHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/boards", h.CreateBoard).Methods("POST")
	router.HandleFunc("/boards", h.ListBoards).Methods("GET")

	router.Handle("/boards/{boardId}", h.require(rbac.RoleViewer, h.GetBoard)).Methods("GET")
	router.Handle("/boards/{boardId}", h.require(rbac.RoleOwner, h.DeleteBoard)).Methods("DELETE")
	router.Handle("/boards/{boardId}/access", h.require(rbac.RoleViewer, h.GetAccess)).Methods("GET")

	// Members
	router.Handle("/boards/{boardId}/members", h.require(rbac.RoleViewer, h.ListMembers)).Methods("GET")
	router.Handle("/boards/{boardId}/members", h.require(rbac.RoleOwner, h.AddMember)).Methods("POST")
	router.Handle("/boards/{boardId}/members/{userId}", h.require(rbac.RoleOwner, h.UpdateMember)).Methods("PATCH")
	router.Handle("/boards/{boardId}/members/{userId}", h.require(rbac.RoleOwner, h.RemoveMember)).Methods("DELETE")
}

func (h *BoardHandlers) require(role rbac.Role, fn http.HandlerFunc) http.Handler {
	return h.guard.RequireBoardRole(role)(fn)
}

// CreateBoard creates a board owned by the caller
func (h *BoardHandlers) CreateBoard(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req boards.CreateBoardRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	board, err := h.boards.CreateBoard(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, board)
}

// ListBoards lists boards the caller owns or belongs to
func (h *BoardHandlers) ListBoards(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	list, err := h.boards.ListBoards(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*boards.Board{}
	}
	httputil.WriteSuccess(w, list)
}

// GetBoard returns a board
func (h *BoardHandlers) GetBoard(w http.ResponseWriter, r *http.Request) {
	board, err := h.boards.GetBoard(r.Context(), mux.Vars(r)["boardId"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, board)
}

// DeleteBoard deletes a board and all of its memberships
func (h *BoardHandlers) DeleteBoard(w http.ResponseWriter, r *http.Request) {
	if err := h.boards.DeleteBoard(r.Context(), mux.Vars(r)["boardId"]); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetAccess returns the caller's effective role on the board
func (h *BoardHandlers) GetAccess(w http.ResponseWriter, r *http.Request) {
	role := rbac.GetBoardRole(r)
	if role == nil {
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, role)
}

// ListMembers lists a board's members
func (h *BoardHandlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.boards.ListMembers(r.Context(), mux.Vars(r)["boardId"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if members == nil {
		members = []*boards.Member{}
	}
	httputil.WriteSuccess(w, members)
}

// AddMember grants a user a role on the board
func (h *BoardHandlers) AddMember(w http.ResponseWriter, r *http.Request) {
	var req boards.AddMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	member, err := h.boards.AddMember(r.Context(), mux.Vars(r)["boardId"], req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, member)
}

// UpdateMember changes a member's role
func (h *BoardHandlers) UpdateMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}

	var req boards.UpdateMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	member, err := h.boards.ChangeMemberRole(r.Context(), mux.Vars(r)["boardId"], userID, req.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, member)
}

// RemoveMember revokes a user's membership
func (h *BoardHandlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}
	if err := h.boards.RemoveMember(r.Context(), mux.Vars(r)["boardId"], userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// requireUserID answers 401 when the request is anonymous
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := contextkeys.GetUserID(r.Context())
	if userID == "" {
		httputil.WriteUnauthorized(w, "authentication required")
		return "", false
	}
	return userID, true
}
