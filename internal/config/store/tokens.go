package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// APIToken represents a persisted API authentication token. Token values are
// stored as SHA-256 digests; the raw value is shown to the operator once at
// creation time.
type APIToken struct {
	ID         string
	TokenHash  string
	Name       string
	Role       string
	UserID     string
	CreatedAt  string
	LastUsedAt string
}

// Token roles understood by the HTTP layer.
const (
	TokenRoleAdmin    = "admin"
	TokenRoleReadOnly = "read-only"
)

// SaveToken inserts a new API token.
func (s *Store) SaveToken(ctx context.Context, token APIToken) error {
	if s.readOnly {
		return fmt.Errorf("config: save token: store opened read-only")
	}
	userID := sql.NullString{String: token.UserID, Valid: token.UserID != ""}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_tokens (id, instance_name, token, name, role, user_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, token.ID, s.instanceName, token.TokenHash, token.Name, token.Role, userID)
	if err != nil {
		return fmt.Errorf("config: save token %q: %w", token.ID, err)
	}
	return nil
}

// LookupToken retrieves a token by its hashed value and stamps last_used_at.
func (s *Store) LookupToken(ctx context.Context, tokenHash string) (APIToken, error) {
	var token APIToken
	var name, userID, lastUsed sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, token, name, role, user_id, created_at, last_used_at
		FROM api_tokens WHERE instance_name = ? AND token = ?
	`, s.instanceName, tokenHash).Scan(
		&token.ID, &token.TokenHash, &name, &token.Role, &userID,
		&token.CreatedAt, &lastUsed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return APIToken{}, NotFoundError{Entity: "api token"}
		}
		return APIToken{}, fmt.Errorf("config: lookup token: %w", err)
	}
	token.Name = name.String
	token.UserID = userID.String
	token.LastUsedAt = lastUsed.String

	if !s.readOnly {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE api_tokens SET last_used_at = CURRENT_TIMESTAMP WHERE id = ?`,
			token.ID,
		); err != nil {
			return APIToken{}, fmt.Errorf("config: stamp token use: %w", err)
		}
	}
	return token, nil
}

// DeleteToken removes an API token by id.
func (s *Store) DeleteToken(ctx context.Context, id string) error {
	if s.readOnly {
		return fmt.Errorf("config: delete token: store opened read-only")
	}
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM api_tokens WHERE instance_name = ? AND id = ?`,
		s.instanceName, id,
	)
	if err != nil {
		return fmt.Errorf("config: delete token %q: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("config: delete token rows affected: %w", err)
	}
	if rows == 0 {
		return NotFoundError{Entity: "api token", Key: id}
	}
	return nil
}

// ListTokens returns all API tokens for the active instance.
func (s *Store) ListTokens(ctx context.Context) ([]APIToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, token, name, role, user_id, created_at, last_used_at
		FROM api_tokens WHERE instance_name = ? ORDER BY created_at
	`, s.instanceName)
	if err != nil {
		return nil, fmt.Errorf("config: list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []APIToken
	for rows.Next() {
		var token APIToken
		var name, userID, lastUsed sql.NullString
		if err := rows.Scan(
			&token.ID, &token.TokenHash, &name, &token.Role, &userID,
			&token.CreatedAt, &lastUsed,
		); err != nil {
			return nil, fmt.Errorf("config: scan token row: %w", err)
		}
		token.Name = name.String
		token.UserID = userID.String
		token.LastUsedAt = lastUsed.String
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: iterate token rows: %w", err)
	}
	return tokens, nil
}
