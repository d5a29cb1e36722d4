package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetGatenodeHome(t *testing.T) {
	home := GetGatenodeHome()

	userHome, _ := os.UserHomeDir()
	expected := filepath.Join(userHome, ".gatenode")

	if home != expected {
		t.Errorf("GetGatenodeHome() = %s; want %s", home, expected)
	}
}

func TestGetInstancePaths(t *testing.T) {
	paths := GetInstancePaths("")

	if !strings.Contains(paths.ConfigDB, "instances/default/config.db") {
		t.Errorf("ConfigDB path incorrect: %s", paths.ConfigDB)
	}
	if !strings.Contains(paths.Socket, "instances/default/gatenode.sock") {
		t.Errorf("Socket path incorrect: %s", paths.Socket)
	}
	if !strings.Contains(paths.Lock, "instances/default/daemon.lock") {
		t.Errorf("Lock path incorrect: %s", paths.Lock)
	}
	if !strings.Contains(paths.Certs, "instances/default/certs") {
		t.Errorf("Certs path incorrect: %s", paths.Certs)
	}
}

func TestGetInstancePathsDefaultsEmptyName(t *testing.T) {
	paths1 := GetInstancePaths("")
	paths2 := GetInstancePaths("default")

	if paths1.ConfigDB != paths2.ConfigDB {
		t.Error("empty string and 'default' should give same paths")
	}
}

func TestExpandPath(t *testing.T) {
	tests := []struct {
		input    string
		contains string
	}{
		{"~/test", "/test"},
		{"~", ""},
		{"/absolute/path", "/absolute/path"},
		{"", ""},
	}

	for _, tt := range tests {
		result := ExpandPath(tt.input)
		if tt.input == "~" {
			home, _ := os.UserHomeDir()
			if result != home {
				t.Errorf("ExpandPath(%q) = %q; want home directory", tt.input, result)
			}
		} else if tt.input != "" && !strings.Contains(result, tt.contains) {
			t.Errorf("ExpandPath(%q) = %q; should contain %q", tt.input, result, tt.contains)
		}
	}
}
