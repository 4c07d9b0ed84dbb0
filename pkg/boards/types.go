package boards

import (
	"errors"
	"time"

	"github.com/tasknest/tasknest/pkg/rbac"
)

var (
	ErrBoardNotFound  = rbac.ErrBoardNotFound
	ErrMemberNotFound = errors.New("board member not found")
	ErrUserNotFound   = errors.New("user not found")
	// ErrOwnerRole is returned when OWNER is requested through membership
	ErrOwnerRole = errors.New("owner role cannot be assigned to a member")
	// ErrInvalidRequest wraps input validation failures
	ErrInvalidRequest = errors.New("invalid request")
	// ErrOwnerMembership is returned when the board owner is added as a member
	ErrOwnerMembership = errors.New("board owner cannot be added as a member")
)

// Board is a unit of collaborative work owned by one user
type Board struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Member grants a non-owner user a role on a board
type Member struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"board_id"`
	UserID    string    `json:"user_id"`
	Role      rbac.Role `json:"role"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateBoardRequest is the body of POST /boards
type CreateBoardRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// AddMemberRequest is the body of POST /boards/{boardId}/members. Either
// UserID or Email identifies the user.
type AddMemberRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// UpdateMemberRequest is the body of PATCH /boards/{boardId}/members/{userId}
type UpdateMemberRequest struct {
	Role string `json:"role"`
}
