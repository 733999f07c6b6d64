// Package service discovers the executables an agent may run and maps an
// envelope name to one of them.
package service

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

const manifestFilename = "manifest.yaml"

// ErrNoService is returned by Resolve when nothing handles a name and no
// default service is configured.
var ErrNoService = errors.New("no service for envelope")

// Registry holds discovered services indexed by name.
type Registry struct {
	services map[string]*Service
	fallback string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]*Service)}
}

// Add registers a service. The first service with a given name wins.
func (r *Registry) Add(s *Service) error {
	if _, exists := r.services[s.Name]; exists {
		return fmt.Errorf("service %q already registered", s.Name)
	}
	r.services[s.Name] = s
	return nil
}

// Get looks a service up by its manifest name.
func (r *Registry) Get(name string) (*Service, bool) {
	s, ok := r.services[name]
	return s, ok
}

// All returns services sorted by name.
func (r *Registry) All() []*Service {
	out := make([]*Service, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetDefault names the service used for envelopes nothing else handles.
func (r *Registry) SetDefault(name string) error {
	if name == "" {
		r.fallback = ""
		return nil
	}
	if _, ok := r.services[name]; !ok {
		return fmt.Errorf("default service %q not found", name)
	}
	r.fallback = name
	return nil
}

// Resolve picks the service for an envelope name: an exact service name,
// then a declared command, then the default service.
func (r *Registry) Resolve(name string) (*Service, error) {
	if s, ok := r.services[name]; ok {
		return s, nil
	}
	for _, s := range r.All() {
		if s.Handles(name) {
			return s, nil
		}
	}
	if r.fallback != "" {
		return r.services[r.fallback], nil
	}
	return nil, fmt.Errorf("%w %q", ErrNoService, name)
}

// DiscoverOptions narrows discovery.
type DiscoverOptions struct {
	// MinVersion is a semver constraint such as ">= 1.0.0". Services whose
	// version does not satisfy it are skipped.
	MinVersion string
}

// Discover scans roots for manifest.yaml files. Broken services are logged
// and skipped; only an unusable root is an error. Roots are processed in
// order and duplicate names keep the first service found.
func Discover(roots []string, opts DiscoverOptions, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var constraint *semver.Constraints
	if opts.MinVersion != "" {
		c, err := semver.NewConstraint(opts.MinVersion)
		if err != nil {
			return nil, fmt.Errorf("invalid version constraint %q: %w", opts.MinVersion, err)
		}
		constraint = c
	}

	absRoots, err := resolveRoots(roots)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	for _, root := range absRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || d.Name() != manifestFilename {
				return nil
			}

			svcPath := filepath.Dir(path)
			svc, err := loadService(svcPath, root)
			if err != nil {
				logger.Warn("failed to load service", "root", root, "path", svcPath, "error", err)
				return nil
			}
			if constraint != nil && !constraint.Check(svc.Version) {
				logger.Info("service skipped by version constraint", "service", svc.Name, "version", svc.Version.String(), "constraint", opts.MinVersion)
				return nil
			}
			if err := registry.Add(svc); err != nil {
				existing, _ := registry.Get(svc.Name)
				logger.Warn("duplicate service ignored (keeping first discovered)", "service", svc.Name, "ignored_path", svc.Path, "kept_path", existing.Path)
				return nil
			}

			logger.Info("loaded service", "service", svc.Name, "path", svc.Path, "version", svc.Version.String())
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan service root %s: %w", root, err)
		}
	}
	return registry, nil
}

func resolveRoots(roots []string) ([]string, error) {
	out := make([]string, 0, len(roots))
	seen := make(map[string]struct{}, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve service root %q: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("service root does not exist: %s", abs)
			}
			return nil, fmt.Errorf("failed to stat service root %s: %w", abs, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("service root is not a directory: %s", abs)
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one service root is required")
	}
	return out, nil
}

func loadService(svcPath, root string) (*Service, error) {
	data, err := os.ReadFile(filepath.Join(svcPath, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	version, err := validateManifest(&m)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	entrypoint := filepath.Join(svcPath, m.Entrypoint)
	if err := validateTrust(entrypoint, svcPath, root); err != nil {
		return nil, fmt.Errorf("trust validation failed: %w", err)
	}

	return &Service{
		Name:        m.Name,
		Path:        svcPath,
		Entrypoint:  entrypoint,
		Version:     version,
		Description: m.Description,
		Commands:    m.Commands,
	}, nil
}

// validateTrust keeps the entrypoint inside its service directory and
// root, requires it to be executable and refuses world-writable
// service directories.
func validateTrust(entrypoint, svcPath, root string) error {
	resolvedEntrypoint, err := filepath.EvalSymlinks(entrypoint)
	if err != nil {
		return fmt.Errorf("failed to resolve entrypoint symlink: %w", err)
	}
	resolvedSvc, err := filepath.EvalSymlinks(svcPath)
	if err != nil {
		return fmt.Errorf("failed to resolve service path symlink: %w", err)
	}
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("failed to resolve service root symlink %s: %w", root, err)
	}

	sep := string(os.PathSeparator)
	if !strings.HasPrefix(resolvedEntrypoint, resolvedRoot+sep) {
		return fmt.Errorf("entrypoint %s is not under service root %s", resolvedEntrypoint, resolvedRoot)
	}
	if !strings.HasPrefix(resolvedEntrypoint, resolvedSvc+sep) {
		return fmt.Errorf("entrypoint %s is not under service directory %s", resolvedEntrypoint, resolvedSvc)
	}

	info, err := os.Stat(resolvedEntrypoint)
	if err != nil {
		return fmt.Errorf("entrypoint not found: %w", err)
	}
	if info.Mode()&0o111 == 0 {
		return fmt.Errorf("entrypoint is not executable: %s", resolvedEntrypoint)
	}

	svcInfo, err := os.Stat(resolvedSvc)
	if err != nil {
		return fmt.Errorf("service directory not found: %w", err)
	}
	if svcInfo.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("service directory is world-writable: %s", resolvedSvc)
	}
	return nil
}
