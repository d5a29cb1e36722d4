package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gatenode-ai/gatenode/internal/config"
)

// LoadNodeSettings returns the persisted settings document for the active
// instance, with provider secrets decrypted back into place. Returns a
// NotFoundError when no document has been persisted yet.
func (s *Store) LoadNodeSettings(ctx context.Context) (config.Settings, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM node_settings WHERE instance_name = ?`,
		s.instanceName,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return config.Settings{}, NotFoundError{Entity: "node settings", Key: s.instanceName}
		}
		return config.Settings{}, fmt.Errorf("config: load node settings: %w", err)
	}

	var settings config.Settings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return config.Settings{}, fmt.Errorf("config: decode node settings: %w", err)
	}

	secrets, err := s.loadProviderSecrets(ctx)
	if err != nil {
		return config.Settings{}, err
	}
	for i := range settings.Providers {
		if key, ok := secrets[settings.Providers[i].Name]; ok {
			settings.Providers[i].APIKey = key
		}
	}

	return settings, nil
}

// SaveNodeSettings persists the settings document. Provider API keys are
// stripped from the document and stored encrypted in provider_secrets so the
// document itself never holds plaintext secrets.
func (s *Store) SaveNodeSettings(ctx context.Context, settings config.Settings) error {
	if s.readOnly {
		return fmt.Errorf("config: save node settings: store opened read-only")
	}

	stripped := settings.Clone()
	secrets := make(map[string]string)
	for i := range stripped.Providers {
		if stripped.Providers[i].APIKey != "" {
			secrets[stripped.Providers[i].Name] = stripped.Providers[i].APIKey
			stripped.Providers[i].APIKey = ""
		}
	}

	doc, err := json.Marshal(stripped)
	if err != nil {
		return fmt.Errorf("config: encode node settings: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO node_settings (instance_name, document, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(instance_name) DO UPDATE SET
				document = excluded.document,
				updated_at = CURRENT_TIMESTAMP
		`, s.instanceName, string(doc)); err != nil {
			return fmt.Errorf("config: save node settings: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM provider_secrets WHERE instance_name = ?`, s.instanceName,
		); err != nil {
			return fmt.Errorf("config: clear provider secrets: %w", err)
		}

		for name, value := range secrets {
			stored := value
			if s.encryptionKey != nil {
				encrypted, err := encryptValue(s.encryptionKey, value)
				if err != nil {
					return fmt.Errorf("config: encrypt provider secret %q: %w", name, err)
				}
				stored = encrypted
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO provider_secrets (instance_name, provider_name, value, updated_at)
				VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			`, s.instanceName, name, stored); err != nil {
				return fmt.Errorf("config: save provider secret %q: %w", name, err)
			}
		}
		return nil
	})
}

func (s *Store) loadProviderSecrets(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider_name, value FROM provider_secrets WHERE instance_name = ?`,
		s.instanceName,
	)
	if err != nil {
		return nil, fmt.Errorf("config: load provider secrets: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("config: scan provider secret row: %w", err)
		}
		if s.encryptionKey != nil {
			decrypted, err := decryptValue(s.encryptionKey, value)
			if err != nil {
				return nil, fmt.Errorf("config: decrypt provider secret %q: %w", name, err)
			}
			value = decrypted
		}
		result[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: iterate provider secret rows: %w", err)
	}
	return result, nil
}
