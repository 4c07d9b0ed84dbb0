package boards

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tasknest/tasknest/pkg/rbac"
)

// Store persists boards and memberships
type Store interface {
	rbac.AccessStore

	CreateBoard(ctx context.Context, board *Board) error
	GetBoard(ctx context.Context, boardID string) (*Board, error)
	DeleteBoard(ctx context.Context, boardID string) error
	ListBoardsForUser(ctx context.Context, userID string) ([]*Board, error)
	GetBoardOwner(ctx context.Context, boardID string) (string, error)

	GetMembership(ctx context.Context, boardID, userID string) (*rbac.Role, error)
	UpsertMembership(ctx context.Context, boardID, userID string, role rbac.Role) (*Member, error)
	DeleteMembership(ctx context.Context, boardID, userID string) (bool, error)
	ListMembers(ctx context.Context, boardID string) ([]*Member, error)
	CountMembersForOwner(ctx context.Context, ownerID string) (int, error)
}

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// LookupBoardAccess returns the board's owner and the user's membership role
// in a single query.
func (s *PostgresStore) LookupBoardAccess(ctx context.Context, boardID, userID string) (*rbac.BoardAccess, error) {
	query := `
		SELECT b.owner_id, m.role
		FROM boards b
		LEFT JOIN board_members m ON m.board_id = $1 AND m.user_id = $2
		WHERE b.id = $1
	`
	var (
		access rbac.BoardAccess
		role   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, boardID, userID).Scan(&access.OwnerID, &role)
	if err == sql.ErrNoRows {
		return nil, rbac.ErrBoardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up board access: %w", err)
	}
	if role.Valid {
		r := rbac.Role(role.String)
		access.MemberRole = &r
	}
	return &access, nil
}

// CreateBoard inserts a board, assigning ID and timestamps
func (s *PostgresStore) CreateBoard(ctx context.Context, board *Board) error {
	now := s.now().UTC()
	if board.ID == "" {
		board.ID = uuid.NewString()
	}
	board.CreatedAt = now
	board.UpdatedAt = now

	query := `
		INSERT INTO boards (id, name, description, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.db.ExecContext(ctx, query, board.ID, board.Name, board.Description, board.OwnerID, board.CreatedAt, board.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create board: %w", err)
	}
	return nil
}

// GetBoard retrieves a board by ID
func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (*Board, error) {
	query := `
		SELECT id, name, description, owner_id, created_at, updated_at
		FROM boards
		WHERE id = $1
	`
	b := &Board{}
	err := s.db.QueryRowContext(ctx, query, boardID).Scan(&b.ID, &b.Name, &b.Description, &b.OwnerID, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrBoardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get board: %w", err)
	}
	return b, nil
}

// DeleteBoard removes a board; memberships cascade
func (s *PostgresStore) DeleteBoard(ctx context.Context, boardID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM boards WHERE id = $1", boardID)
	if err != nil {
		return fmt.Errorf("failed to delete board: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrBoardNotFound
	}
	return nil
}

// ListBoardsForUser returns boards the user owns or is a member of
func (s *PostgresStore) ListBoardsForUser(ctx context.Context, userID string) ([]*Board, error) {
	query := `
		SELECT b.id, b.name, b.description, b.owner_id, b.created_at, b.updated_at
		FROM boards b
		WHERE b.owner_id = $1
		   OR EXISTS (SELECT 1 FROM board_members m WHERE m.board_id = b.id AND m.user_id = $1)
		ORDER BY b.created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}
	defer rows.Close()

	var boards []*Board
	for rows.Next() {
		b := &Board{}
		if err := rows.Scan(&b.ID, &b.Name, &b.Description, &b.OwnerID, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan board: %w", err)
		}
		boards = append(boards, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate boards: %w", err)
	}
	return boards, nil
}

// GetBoardOwner returns the owner's user ID
func (s *PostgresStore) GetBoardOwner(ctx context.Context, boardID string) (string, error) {
	var ownerID string
	err := s.db.QueryRowContext(ctx, "SELECT owner_id FROM boards WHERE id = $1", boardID).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return "", ErrBoardNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get board owner: %w", err)
	}
	return ownerID, nil
}

// GetMembership returns the stored role, or nil when there is no row
func (s *PostgresStore) GetMembership(ctx context.Context, boardID, userID string) (*rbac.Role, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		"SELECT role FROM board_members WHERE board_id = $1 AND user_id = $2",
		boardID, userID,
	).Scan(&role)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	r := rbac.Role(role)
	return &r, nil
}

// UpsertMembership inserts a membership or updates the role of an existing one
func (s *PostgresStore) UpsertMembership(ctx context.Context, boardID, userID string, role rbac.Role) (*Member, error) {
	m := &Member{
		ID:        uuid.NewString(),
		BoardID:   boardID,
		UserID:    userID,
		Role:      role,
		CreatedAt: s.now().UTC(),
	}
	query := `
		INSERT INTO board_members (id, board_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (board_id, user_id) DO UPDATE SET role = EXCLUDED.role
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query, m.ID, m.BoardID, m.UserID, string(m.Role), m.CreatedAt).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert membership: %w", err)
	}
	return m, nil
}

// DeleteMembership removes a membership, reporting whether a row existed
func (s *PostgresStore) DeleteMembership(ctx context.Context, boardID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM board_members WHERE board_id = $1 AND user_id = $2", boardID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete membership: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ListMembers returns a board's members with their email addresses
func (s *PostgresStore) ListMembers(ctx context.Context, boardID string) ([]*Member, error) {
	query := `
		SELECT m.id, m.board_id, m.user_id, m.role, COALESCE(u.email, ''), m.created_at
		FROM board_members m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.board_id = $1
		ORDER BY m.created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m := &Member{}
		var role string
		if err := rows.Scan(&m.ID, &m.BoardID, &m.UserID, &role, &m.Email, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.Role = rbac.Role(role)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}
	return members, nil
}

// CountMembersForOwner counts membership rows across every board the user owns
func (s *PostgresStore) CountMembersForOwner(ctx context.Context, ownerID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM board_members m
		JOIN boards b ON b.id = m.board_id
		WHERE b.owner_id = $1
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, ownerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return count, nil
}
