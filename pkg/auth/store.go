package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UserLookup resolves identities by ID or email
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// Store reads users and manages API tokens in PostgreSQL
type Store struct {
	db        *sql.DB
	generator *TokenGenerator
	now       func() time.Time
}

// NewStore creates a new auth store
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:        db,
		generator: NewTokenGenerator(),
		now:       time.Now,
	}
}

// GetUserByID returns ErrUserNotFound when the user does not exist
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, `
		SELECT id, email, first_name, last_name, created_at
		FROM users
		WHERE id = $1
	`, id)
}

// GetUserByEmail matches the email case-insensitively
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, `
		SELECT id, email, first_name, last_name, created_at
		FROM users
		WHERE lower(email) = lower($1)
	`, email)
}

func (s *Store) getUser(ctx context.Context, query string, arg string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// CreateToken issues a token for userID. The plaintext token is returned
// once and never stored.
func (s *Store) CreateToken(ctx context.Context, userID, name string, ttl time.Duration) (*APIToken, string, error) {
	plaintext, hash, prefix, err := s.generator.GenerateToken()
	if err != nil {
		return nil, "", err
	}

	token := &APIToken{
		ID:          uuid.NewString(),
		UserID:      userID,
		TokenHash:   hash,
		TokenPrefix: prefix,
		Name:        name,
		CreatedAt:   s.now().UTC(),
	}
	if ttl > 0 {
		expires := token.CreatedAt.Add(ttl)
		token.ExpiresAt = &expires
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_tokens (id, user_id, token_hash, token_prefix, name, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, token.ID, token.UserID, token.TokenHash, token.TokenPrefix, token.Name, token.ExpiresAt, token.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create token: %w", err)
	}

	return token, plaintext, nil
}

// ResolveToken validates a bearer token and returns its owner
func (s *Store) ResolveToken(ctx context.Context, token string) (*AuthContext, error) {
	if err := s.generator.ValidateTokenFormat(token); err != nil {
		return nil, ErrInvalidToken
	}

	var (
		t         APIToken
		u         User
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.user_id, t.token_prefix, t.name, t.expires_at, t.created_at,
		       u.id, u.email, u.first_name, u.last_name, u.created_at
		FROM api_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = $1 AND t.revoked_at IS NULL
	`, s.generator.HashToken(token)).Scan(
		&t.ID, &t.UserID, &t.TokenPrefix, &t.Name, &expiresAt, &t.CreatedAt,
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token: %w", err)
	}

	now := s.now().UTC()
	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Time
		if !expiresAt.Time.After(now) {
			return nil, ErrInvalidToken
		}
	}

	// last_used_at is informational; a failed update must not reject the request
	if _, err := s.db.ExecContext(ctx, "UPDATE api_tokens SET last_used_at = $1 WHERE id = $2", now, t.ID); err == nil {
		t.LastUsedAt = &now
	}

	return &AuthContext{User: &u, Token: &t}, nil
}

// RevokeToken marks a token revoked. Revoking twice is not an error.
func (s *Store) RevokeToken(ctx context.Context, tokenID string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_tokens SET revoked_at = COALESCE(revoked_at, $1) WHERE id = $2",
		s.now().UTC(), tokenID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return errors.New("token not found")
	}
	return nil
}
