package service

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Manifest is the manifest.yaml that sits next to a service's entrypoint.
//
//	name: echo
//	version: 1.2.0
//	entrypoint: echo
//	commands: [echo, ping]
type Manifest struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Entrypoint  string   `yaml:"entrypoint"`
	Description string   `yaml:"description,omitempty"`
	Commands    []string `yaml:"commands,omitempty"`
}

// Service is a discovered and validated service.
type Service struct {
	Name        string
	Path        string // absolute service directory
	Entrypoint  string // absolute path to the executable
	Version     *semver.Version
	Description string
	Commands    []string
}

// Handles reports whether the service answers envelopes named name, either
// by its own name or one of its declared commands.
func (s *Service) Handles(name string) bool {
	if s.Name == name {
		return true
	}
	for _, c := range s.Commands {
		if c == name {
			return true
		}
	}
	return false
}

func validateManifest(m *Manifest) (*semver.Version, error) {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if m.Entrypoint == "" {
		return nil, fmt.Errorf("entrypoint is required")
	}
	if strings.Contains(m.Entrypoint, "..") {
		return nil, fmt.Errorf("entrypoint contains path traversal: %s", m.Entrypoint)
	}
	if m.Version == "" {
		return nil, fmt.Errorf("version is required")
	}
	v, err := semver.NewVersion(m.Version)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", m.Version, err)
	}
	for i, c := range m.Commands {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, fmt.Errorf("command %d has an empty name", i)
		}
		m.Commands[i] = c
	}
	return v, nil
}
