package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. SWITCHYARD_WORKER_COUNT.
const EnvPrefix = "SWITCHYARD"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads configPath (a file, or a directory holding switchyard.yaml),
// follows includes, applies environment overrides and validates the result.
// When a .checksums file sits next to the root file every source file is
// verified against it.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	visited := make(map[string]bool)
	if err := loadInto(cfg, absPath, visited); err != nil {
		return nil, err
	}

	if err := verifyIfLocked(filepath.Dir(absPath), cfg.SourceFiles); err != nil {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SourceFiles returns the root file and every include it pulls in, without
// checksum verification or validation. config lock uses it to re-hash a
// config that no longer matches its manifest.
func SourceFiles(configPath string) (string, []string, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return "", nil, err
	}
	cfg := Defaults()
	if err := loadInto(cfg, absPath, make(map[string]bool)); err != nil {
		return "", nil, err
	}
	return filepath.Dir(absPath), cfg.SourceFiles, nil
}

func resolveConfigFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, DefaultFilename)
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but %s not found: %s", DefaultFilename, absPath)
		}
	}
	return absPath, nil
}

// loadInto decodes path over cfg, then its includes in order. Later files
// override earlier ones field by field.
func loadInto(cfg *Config, path string, visited map[string]bool) error {
	if visited[path] {
		return fmt.Errorf("circular include detected: %s", path)
	}
	visited[path] = true

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.Include = nil
	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolateEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	cfg.SourceFiles = append(cfg.SourceFiles, path)

	includes := cfg.Include
	baseDir := filepath.Dir(path)
	for i, inc := range includes {
		inc = interpolateEnv(inc)
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(baseDir, inc)
		}
		if _, err := os.Stat(inc); err != nil {
			return fmt.Errorf("include[%d]: file not found: %s\n"+
				"Referenced from: %s", i, inc, path)
		}
		if err := loadInto(cfg, inc, visited); err != nil {
			return fmt.Errorf("include[%d]: %w", i, err)
		}
	}
	cfg.Include = includes
	return nil
}

// interpolateEnv replaces ${VAR} with the variable's value. Unset
// variables are left as written so validation can point at them.
func interpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// applyEnv overlays SWITCHYARD_* variables. Unset variables leave the file
// values alone.
func applyEnv(cfg *Config) error {
	sections := []any{
		&cfg.Service,
		&cfg.Orchestrator,
		&cfg.Agent,
		&cfg.Bridge,
		&cfg.API,
		&cfg.Journal,
		&cfg.Events,
	}
	for _, s := range sections {
		if err := envconfig.Process(EnvPrefix, s); err != nil {
			return err
		}
	}
	return nil
}

func verifyIfLocked(configDir string, files []string) error {
	if _, err := os.Stat(filepath.Join(configDir, ChecksumFilename)); os.IsNotExist(err) {
		return nil
	}
	manifest, err := LoadChecksums(configDir)
	if err != nil {
		return err
	}
	if err := VerifyFiles(manifest, files); err != nil {
		return fmt.Errorf("config integrity check failed: %w\n"+
			"If you edited the file intentionally, run: switchyard config lock", err)
	}
	return nil
}
