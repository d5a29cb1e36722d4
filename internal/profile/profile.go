// Package profile stores client connection details on disk so CLI and GUI
// clients can reach a daemon without reading the instance config store.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gatenode-ai/gatenode/internal/config"
)

// Profile holds saved connection details for one instance.
type Profile struct {
	BaseURL   string    `json:"base_url"`
	APIToken  string    `json:"api_token,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Path returns the profile file location for the given instance.
func Path(instanceName string) string {
	return filepath.Join(config.GetInstancePaths(instanceName).Home, "client.json")
}

// Load returns the stored profile for the instance. If the file does not
// exist, (nil, nil) is returned.
func Load(instanceName string) (*Profile, error) {
	data, err := os.ReadFile(Path(instanceName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("profile: read file: %w", err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("profile: decode file: %w", err)
	}
	return &p, nil
}

// Save persists the profile, creating intermediate directories as needed.
// The file is written with owner-only permissions since it holds a token.
func Save(instanceName string, p *Profile) error {
	if p == nil {
		return errors.New("profile: profile is nil")
	}

	path := Path(instanceName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("profile: create directory: %w", err)
	}

	p.UpdatedAt = time.Now().UTC()

	encoded, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("profile: encode: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return fmt.Errorf("profile: write file: %w", err)
	}
	return nil
}

// Remove deletes the stored profile. A missing file is not an error.
func Remove(instanceName string) error {
	if err := os.Remove(Path(instanceName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("profile: remove file: %w", err)
	}
	return nil
}
