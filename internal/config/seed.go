package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadSeedFile reads an optional YAML settings file used to seed a fresh
// node. A missing file is not an error: the defaults apply. The file is
// consulted only before the store holds a persisted configuration; after
// that the store is authoritative.
func LoadSeedFile(path string) (Settings, bool, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return settings, false, nil
		}
		return settings, false, fmt.Errorf("config: read seed file: %w", err)
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, false, fmt.Errorf("config: parse seed file %s: %w", path, err)
	}

	if err := settings.Validate(); err != nil {
		return settings, false, fmt.Errorf("config: seed file %s: %w", path, err)
	}

	return settings, true, nil
}
