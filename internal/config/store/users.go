package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// User represents a node user account.
type User struct {
	ID           string
	Name         string
	Role         string
	PasswordHash string
	Disabled     bool
	CreatedAt    string
	UpdatedAt    string
}

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// CreateUser inserts a new user account.
func (s *Store) CreateUser(ctx context.Context, user User) error {
	if s.readOnly {
		return fmt.Errorf("config: create user: store opened read-only")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, instance_name, name, role, password_hash, disabled)
		VALUES (?, ?, ?, ?, ?, ?)
	`, user.ID, s.instanceName, user.Name, user.Role, user.PasswordHash, boolToInt(user.Disabled))
	if err != nil {
		return fmt.Errorf("config: create user %q: %w", user.Name, err)
	}
	return nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	return s.getUserBy(ctx, "id", id)
}

// GetUserByName returns a user by account name.
func (s *Store) GetUserByName(ctx context.Context, name string) (User, error) {
	return s.getUserBy(ctx, "name", name)
}

func (s *Store) getUserBy(ctx context.Context, column, value string) (User, error) {
	var user User
	var disabled int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, name, role, password_hash, disabled, created_at, updated_at
		FROM users WHERE instance_name = ? AND %s = ?
	`, column), s.instanceName, value).Scan(
		&user.ID, &user.Name, &user.Role, &user.PasswordHash, &disabled,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, NotFoundError{Entity: "user", Key: value}
		}
		return User{}, fmt.Errorf("config: get user %q: %w", value, err)
	}
	user.Disabled = disabled != 0
	return user, nil
}

// CountUsers returns the number of user accounts, disabled included.
// Disabled accounts still count: bootstrap is a node-lifetime event and a
// later disable must not reopen it.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE instance_name = ?`, s.instanceName,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("config: count users: %w", err)
	}
	return count, nil
}

// SetUserDisabled flips the disabled flag on a user account.
func (s *Store) SetUserDisabled(ctx context.Context, id string, disabled bool) error {
	if s.readOnly {
		return fmt.Errorf("config: disable user: store opened read-only")
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET disabled = ?, updated_at = CURRENT_TIMESTAMP
		WHERE instance_name = ? AND id = ?
	`, boolToInt(disabled), s.instanceName, id)
	if err != nil {
		return fmt.Errorf("config: set user disabled: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("config: set user disabled rows affected: %w", err)
	}
	if rows == 0 {
		return NotFoundError{Entity: "user", Key: id}
	}
	return nil
}

// ListUsers returns all user accounts for the active instance.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, role, password_hash, disabled, created_at, updated_at
		FROM users WHERE instance_name = ? ORDER BY created_at
	`, s.instanceName)
	if err != nil {
		return nil, fmt.Errorf("config: list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		var disabled int
		if err := rows.Scan(
			&user.ID, &user.Name, &user.Role, &user.PasswordHash, &disabled,
			&user.CreatedAt, &user.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("config: scan user row: %w", err)
		}
		user.Disabled = disabled != 0
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: iterate user rows: %w", err)
	}
	return users, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
