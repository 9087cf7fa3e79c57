package config

import (
	"os"
	"path/filepath"
)

const appDirName = ".sharesheet"

// DataDir returns the base data directory.
func DataDir() (string, error) {
	if dir := os.Getenv("SHARESHEET_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, appDirName), nil
}

// ConfigPath returns the path to config.toml.
func ConfigPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "config.toml"), nil
}

// EnvPath returns the path to the optional .env override file.
func EnvPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, ".env"), nil
}

// StorageDBPath returns the default bbolt database path.
func StorageDBPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "sharesheet.db"), nil
}

// StorageDir returns the directory used by the file storage backend.
func StorageDir() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "state"), nil
}

// CatalogPath returns the default package catalog path.
func CatalogPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "packages.yaml"), nil
}
