// Package testutil provides helpers shared across package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/gatenode-ai/gatenode/internal/config/store"
)

// OpenStore opens a throwaway configuration store rooted in the test's
// temporary directory. The store is closed automatically on cleanup.
func OpenStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Options{
		DBPath: filepath.Join(t.TempDir(), "config.db"),
	})
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
