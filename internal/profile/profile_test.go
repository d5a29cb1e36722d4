package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveLoadRemove(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	loaded, err := Load("prof-test")
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if loaded != nil {
		t.Fatal("missing profile should load as nil")
	}

	p := &Profile{
		BaseURL:  "http://127.0.0.1:31145",
		APIToken: "gn_saved",
		UserID:   "u-1",
	}
	if err := Save("prof-test", p); err != nil {
		t.Fatalf("save: %v", err)
	}
	if p.UpdatedAt.IsZero() {
		t.Fatal("save should stamp UpdatedAt")
	}

	info, err := os.Stat(Path("prof-test"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("profile mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err = Load("prof-test")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil || loaded.APIToken != "gn_saved" || loaded.BaseURL != "http://127.0.0.1:31145" {
		t.Fatalf("loaded = %+v", loaded)
	}

	if err := Remove("prof-test"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := Remove("prof-test"); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
}

func TestPathIsInstanceScoped(t *testing.T) {
	a := Path("a")
	b := Path("b")
	if a == b {
		t.Fatal("profiles for different instances must not collide")
	}
	if !strings.HasSuffix(a, "client.json") {
		t.Fatalf("path = %q", a)
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if err := os.MkdirAll(filepath.Dir(Path("corrupt")), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(Path("corrupt"), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load("corrupt"); err == nil {
		t.Fatal("expected decode error")
	}
}
