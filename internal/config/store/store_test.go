package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gatenode-ai/gatenode/internal/config"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "config.db")
	s, err := Open(Options{DBPath: dbPath})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := openTestStore(t)

	if s.InstanceName() != config.DefaultInstance {
		t.Fatalf("instance name = %q", s.InstanceName())
	}

	count, err := s.CountUsers(context.Background())
	if err != nil {
		t.Fatalf("count users on fresh store: %v", err)
	}
	if count != 0 {
		t.Fatalf("fresh store should have zero users, got %d", count)
	}
}

func TestNodeSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.LoadNodeSettings(ctx); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError before first save, got %v", err)
	}

	settings := config.DefaultSettings()
	settings.Server.Port = 9090
	settings.Providers = []config.Provider{
		{Name: "anthropic", Type: config.ProviderAnthropic, BaseURL: "https://api.anthropic.com", APIKey: "sk-secret"},
	}

	if err := s.SaveNodeSettings(ctx, settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	loaded, err := s.LoadNodeSettings(ctx)
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if loaded.Server.Port != 9090 {
		t.Fatalf("port = %d", loaded.Server.Port)
	}
	if loaded.Providers[0].APIKey != "sk-secret" {
		t.Fatalf("provider secret not restored: %q", loaded.Providers[0].APIKey)
	}
}

func TestProviderSecretsEncryptedAtRest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	settings := config.DefaultSettings()
	settings.Providers = []config.Provider{
		{Name: "openai", Type: config.ProviderOpenAI, BaseURL: "https://api.openai.com", APIKey: "sk-plaintext"},
	}
	if err := s.SaveNodeSettings(ctx, settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	var doc string
	if err := s.DB().QueryRow(
		`SELECT document FROM node_settings WHERE instance_name = ?`, s.InstanceName(),
	).Scan(&doc); err != nil {
		t.Fatalf("read document: %v", err)
	}
	if strings.Contains(doc, "sk-plaintext") {
		t.Fatalf("settings document leaks plaintext secret")
	}

	var stored string
	if err := s.DB().QueryRow(
		`SELECT value FROM provider_secrets WHERE provider_name = 'openai'`,
	).Scan(&stored); err != nil {
		t.Fatalf("read secret row: %v", err)
	}
	if strings.Contains(stored, "sk-plaintext") {
		t.Fatalf("provider secret stored in plaintext")
	}
}

func TestSettingsOverwriteReplacesSecrets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	settings := config.DefaultSettings()
	settings.Providers = []config.Provider{
		{Name: "a", Type: config.ProviderCustom, BaseURL: "https://a.example.com", APIKey: "key-a"},
	}
	if err := s.SaveNodeSettings(ctx, settings); err != nil {
		t.Fatalf("first save: %v", err)
	}

	settings.Providers = []config.Provider{
		{Name: "b", Type: config.ProviderCustom, BaseURL: "https://b.example.com", APIKey: "key-b"},
	}
	if err := s.SaveNodeSettings(ctx, settings); err != nil {
		t.Fatalf("second save: %v", err)
	}

	loaded, err := s.LoadNodeSettings(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Providers) != 1 || loaded.Providers[0].Name != "b" {
		t.Fatalf("providers after overwrite: %+v", loaded.Providers)
	}
	if loaded.Providers[0].APIKey != "key-b" {
		t.Fatalf("secret after overwrite: %q", loaded.Providers[0].APIKey)
	}

	var count int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM provider_secrets`).Scan(&count); err != nil {
		t.Fatalf("count secrets: %v", err)
	}
	if count != 1 {
		t.Fatalf("stale secrets left behind: %d", count)
	}
}
