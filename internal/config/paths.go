package config

import (
	"os"
	"path/filepath"
)

const DefaultInstance = "default"

// InstancePaths contains all paths for a gatenode instance.
type InstancePaths struct {
	Home     string // Instance home directory
	Seed     string // Optional YAML seed configuration file path
	ConfigDB string // SQLite configuration store path
	Socket   string // Unix socket path
	Lock     string // Daemon lock file path
	Logs     string // Logs directory
	Certs    string // TLS-forward certificate cache directory
	TempDir  string // Temporary files directory
}

// GetInstancePaths returns all paths for a given instance.
// Empty instance name defaults to "default".
func GetInstancePaths(instanceName string) InstancePaths {
	if instanceName == "" {
		instanceName = DefaultInstance
	}

	instanceDir := filepath.Join(GetGatenodeHome(), "instances", instanceName)

	return InstancePaths{
		Home:     instanceDir,
		Seed:     filepath.Join(instanceDir, "gatenode.yaml"),
		ConfigDB: filepath.Join(instanceDir, "config.db"),
		Socket:   filepath.Join(instanceDir, "gatenode.sock"),
		Lock:     filepath.Join(instanceDir, "daemon.lock"),
		Logs:     filepath.Join(instanceDir, "logs"),
		Certs:    filepath.Join(instanceDir, "certs"),
		TempDir:  filepath.Join(instanceDir, "tmp"),
	}
}

// GetGatenodeHome returns the gatenode home directory (~/.gatenode).
func GetGatenodeHome() string {
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".gatenode")
}

// ExpandPath expands ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == os.PathSeparator {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// EnsureInstanceDirs creates the directory structure for the given instance if it does not exist.
func EnsureInstanceDirs(instanceName string) (InstancePaths, error) {
	paths := GetInstancePaths(instanceName)

	dirs := []string{
		paths.Home,
		paths.Logs,
		paths.Certs,
		paths.TempDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, err
		}
	}

	return paths, nil
}
