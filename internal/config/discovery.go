package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultFilename is the config file looked up inside config directories.
const DefaultFilename = "switchyard.yaml"

// Discover finds the config file when --config is not given. Priority:
// $SWITCHYARD_CONFIG, ~/.config/switchyard, /etc/switchyard, ./switchyard.yaml.
func Discover() (string, error) {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "switchyard", DefaultFilename)
		if fileExists(p) {
			return p, nil
		}
	}

	if p := filepath.Join("/etc/switchyard", DefaultFilename); fileExists(p) {
		return p, nil
	}

	if fileExists(DefaultFilename) {
		return DefaultFilename, nil
	}

	return "", fmt.Errorf("no config found (checked: $%s_CONFIG, ~/.config/switchyard, /etc/switchyard, ./%s)", EnvPrefix, DefaultFilename)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
