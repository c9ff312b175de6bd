package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses the configuration file at configPath, applies
// defaults, verifies integrity checksums when present, and validates.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg, absPath)

	// Integrity verification is opt-in: it runs only when a .checksums
	// manifest exists next to the config file (written by `tend config lock`).
	if err := verifyChecksumIfPresent(absPath); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $TEND_CONFIG, ~/.config/tend/config.yaml, /etc/tend/config.yaml, ./tend.yaml
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("TEND_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(homeDir, ".config", "tend", "config.yaml")
		if _, err := os.Stat(userPath); err == nil {
			return userPath, nil
		}
	}

	systemPath := "/etc/tend/config.yaml"
	if _, err := os.Stat(systemPath); err == nil {
		return systemPath, nil
	}

	legacyPath := "./tend.yaml"
	if _, err := os.Stat(legacyPath); err == nil {
		return legacyPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $TEND_CONFIG, ~/.config/tend/config.yaml, /etc/tend/config.yaml, ./tend.yaml)")
}

// DefaultConfigPath is where `tend init` writes the starter config.
func DefaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "tend", "config.yaml")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".config", "tend", "config.yaml")
}

// ExpandPath resolves a leading ~ and environment placeholders in a
// filesystem path from the config file.
func ExpandPath(path string) string {
	path = interpolateEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
		}
	}
	return filepath.Clean(path)
}

// applyDefaults merges default values into cfg where not explicitly set.
// The ledger path defaults to a state directory next to the config.
func applyDefaults(cfg *Config, configPath string) {
	defaults := Defaults()

	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = filepath.Join(filepath.Dir(configPath), "state", "ledger.db")
	}
	if cfg.Engine.Concurrency == 0 {
		cfg.Engine.Concurrency = defaults.Engine.Concurrency
	}
	if cfg.Engine.MaxAttempts == 0 {
		cfg.Engine.MaxAttempts = defaults.Engine.MaxAttempts
	}
	if cfg.Engine.BackoffBase == 0 {
		cfg.Engine.BackoffBase = defaults.Engine.BackoffBase
	}
	if cfg.Engine.BackoffMax == 0 {
		cfg.Engine.BackoffMax = defaults.Engine.BackoffMax
	}
	if cfg.Engine.OpTimeout == 0 {
		cfg.Engine.OpTimeout = defaults.Engine.OpTimeout
	}
	if cfg.Daemon.Interval == 0 {
		cfg.Daemon.Interval = defaults.Daemon.Interval
	}
	if cfg.Daemon.API.Listen == "" {
		cfg.Daemon.API.Listen = defaults.Daemon.API.Listen
	}

	for i := range cfg.Workspaces {
		ws := &cfg.Workspaces[i]
		if ws.Provider == "" {
			ws.Provider = "github"
		}
		if ws.CloneMethod == "" {
			ws.CloneMethod = CloneSSH
		}
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (caught by validation if required).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs structural validation on the configuration.
// Cross-repo validation (duplicate names, path collisions) belongs to
// the workspace model, which sees the fully resolved spec list.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.Engine.Concurrency < 1 {
		return fmt.Errorf("engine.concurrency must be positive")
	}
	if cfg.Engine.MaxAttempts < 1 {
		return fmt.Errorf("engine.max_attempts must be positive")
	}
	if cfg.Engine.BackoffBase < 0 || cfg.Engine.BackoffMax < 0 {
		return fmt.Errorf("engine backoff durations must not be negative")
	}
	if cfg.Engine.OpTimeout <= 0 {
		return fmt.Errorf("engine.op_timeout must be positive")
	}
	if cfg.Daemon.Interval <= 0 {
		return fmt.Errorf("daemon.interval must be positive")
	}

	if len(cfg.Workspaces) == 0 {
		return fmt.Errorf("at least one workspace is required")
	}

	seen := make(map[string]bool, len(cfg.Workspaces))
	for i, ws := range cfg.Workspaces {
		if ws.Name == "" {
			return fmt.Errorf("workspaces[%d]: name is required", i)
		}
		if seen[ws.Name] {
			return fmt.Errorf("workspaces[%d]: duplicate workspace name %q", i, ws.Name)
		}
		seen[ws.Name] = true

		if ws.BaseDir == "" {
			return fmt.Errorf("workspace %q: base_dir is required", ws.Name)
		}
		if ws.Provider != "github" {
			return fmt.Errorf("workspace %q: provider must be \"github\" (got %q)", ws.Name, ws.Provider)
		}
		if ws.CloneMethod != CloneSSH && ws.CloneMethod != CloneHTTPS {
			return fmt.Errorf("workspace %q: clone_method must be ssh or https (got %q)", ws.Name, ws.CloneMethod)
		}
		if envVarPattern.MatchString(ws.BaseDir) {
			matches := envVarPattern.FindStringSubmatch(ws.BaseDir)
			return fmt.Errorf("workspace %q: environment variable ${%s} is not set", ws.Name, matches[1])
		}
		for j, repo := range ws.Repos {
			if repo.Name == "" {
				return fmt.Errorf("workspace %q: repos[%d]: name is required", ws.Name, j)
			}
		}
	}

	return nil
}

// StarterConfig renders the config written by `tend init`.
func StarterConfig() string {
	starter := Config{
		Workspaces: []WorkspaceConfig{
			{
				Name:        "my-org",
				Provider:    "github",
				BaseDir:     "~/code/github/my-org",
				CloneMethod: CloneSSH,
				Discover:    true,
				Org:         "my-org",
				Exclude:     []string{".github"},
			},
		},
	}
	out, err := yaml.Marshal(&starter)
	if err != nil {
		// Marshaling a static struct cannot fail.
		panic(err)
	}
	return string(out)
}
