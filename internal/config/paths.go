package config

import (
	"os"
	"path/filepath"
)

const appDirName = ".forge"

// DataDir returns the base data directory for forge. It honors FORGE_DATA_DIR
// so tests and parallel daemons can isolate their state.
func DataDir() (string, error) {
	if dir := os.Getenv("FORGE_DATA_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, appDirName), nil
}

// RunsDir returns the directory holding one subdirectory per run id.
func RunsDir() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "runs"), nil
}

// AgentsDir returns the directory scanned for custom agent and team YAML files.
func AgentsDir() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "agents"), nil
}

// StateDir returns the directory used by the flat-file storage backend.
func StateDir() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "state"), nil
}

// DBPath returns the path of the bbolt metadata database.
func DBPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "forge.db"), nil
}

// TokenPath returns the path to the daemon auth token file.
func TokenPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "token"), nil
}

// CoreConfigPath returns the path of the TOML config file.
func CoreConfigPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "config.toml"), nil
}
