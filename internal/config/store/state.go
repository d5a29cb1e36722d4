package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Node-lifetime state keys.
const stateBootstrapComplete = "bootstrap_complete"

// MarkBootstrapComplete records that the first user has been created. The
// flag is never cleared: bootstrap is a one-time event for the node.
func (s *Store) MarkBootstrapComplete(ctx context.Context) error {
	if s.readOnly {
		return fmt.Errorf("config: mark bootstrap complete: store opened read-only")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO node_state (instance_name, key, value, updated_at)
		VALUES (?, ?, '1', CURRENT_TIMESTAMP)
		ON CONFLICT(instance_name, key) DO UPDATE SET
			value = '1',
			updated_at = CURRENT_TIMESTAMP
	`, s.instanceName, stateBootstrapComplete)
	if err != nil {
		return fmt.Errorf("config: mark bootstrap complete: %w", err)
	}
	return nil
}

// IsBootstrapComplete reports whether the first user has ever been created
// on this node.
func (s *Store) IsBootstrapComplete(ctx context.Context) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM node_state WHERE instance_name = ? AND key = ?`,
		s.instanceName, stateBootstrapComplete,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("config: read bootstrap state: %w", err)
	}
	return value == "1", nil
}
