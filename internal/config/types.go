package config

import "time"

// Config represents the complete tend configuration.
type Config struct {
	Service    ServiceConfig     `yaml:"service,omitempty"`
	Ledger     LedgerConfig      `yaml:"ledger,omitempty"`
	Engine     EngineConfig      `yaml:"engine,omitempty"`
	Daemon     DaemonConfig      `yaml:"daemon,omitempty"`
	Workspaces []WorkspaceConfig `yaml:"workspaces"`
}

// ServiceConfig defines process-wide settings.
type ServiceConfig struct {
	LogLevel string `yaml:"log_level"`
}

// LedgerConfig defines where the run ledger database lives.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// EngineConfig tunes the execution engine. All values are explicit
// configuration points rather than hard-coded constants.
type EngineConfig struct {
	Concurrency int           `yaml:"concurrency"`
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
	OpTimeout   time.Duration `yaml:"op_timeout"`
}

// DaemonConfig defines daemon-mode settings.
type DaemonConfig struct {
	Interval time.Duration `yaml:"interval"`
	Fetch    bool          `yaml:"fetch"`
	API      APIConfig     `yaml:"api,omitempty"`
}

// APIConfig defines the daemon's HTTP status endpoint.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// CloneMethod selects how remote URLs are built for discovered repos.
type CloneMethod string

const (
	CloneSSH   CloneMethod = "ssh"
	CloneHTTPS CloneMethod = "https"
)

// WorkspaceConfig declares one workspace: a base directory plus the set
// of repositories that should live under it.
type WorkspaceConfig struct {
	Name        string              `yaml:"name"`
	Provider    string              `yaml:"provider,omitempty"`
	BaseDir     string              `yaml:"base_dir"`
	CloneMethod CloneMethod         `yaml:"clone_method,omitempty"`
	Discover    bool                `yaml:"discover,omitempty"`
	Org         string              `yaml:"org,omitempty"`
	Exclude     []string            `yaml:"exclude,omitempty"`
	ExtraRepos  []string            `yaml:"extra_repos,omitempty"`
	Repos       []RepoConfig        `yaml:"repos,omitempty"`
	FlakeDeps   map[string][]string `yaml:"flake_deps,omitempty"`
}

// RepoConfig pins a single repository explicitly: source URL, desired
// ref, and target path relative to the workspace base directory.
type RepoConfig struct {
	Name       string `yaml:"name"`
	URL        string `yaml:"url,omitempty"`
	Ref        string `yaml:"ref,omitempty"`
	Path       string `yaml:"path,omitempty"`
	Shallow    bool   `yaml:"shallow,omitempty"`
	Submodules bool   `yaml:"submodules,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			LogLevel: "info",
		},
		Ledger: LedgerConfig{
			Path: "", // resolved to the state dir at load time
		},
		Engine: EngineConfig{
			Concurrency: 4,
			MaxAttempts: 3,
			BackoffBase: 2 * time.Second,
			BackoffMax:  30 * time.Second,
			OpTimeout:   5 * time.Minute,
		},
		Daemon: DaemonConfig{
			Interval: 15 * time.Minute,
			Fetch:    false,
			API: APIConfig{
				Enabled: false,
				Listen:  "127.0.0.1:7465",
			},
		},
	}
}
