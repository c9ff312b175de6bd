package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/tend/internal/config"
	"github.com/mattjoyce/tend/internal/daemon"
	"github.com/mattjoyce/tend/internal/engine"
	"github.com/mattjoyce/tend/internal/ledger"
	"github.com/mattjoyce/tend/internal/lock"
	"github.com/mattjoyce/tend/internal/log"
	"github.com/mattjoyce/tend/internal/plan"
	"github.com/mattjoyce/tend/internal/probe"
	"github.com/mattjoyce/tend/internal/provider"
	"github.com/mattjoyce/tend/internal/reconcile"
	"github.com/mattjoyce/tend/internal/report"
	"github.com/mattjoyce/tend/internal/tui/watch"
	"github.com/mattjoyce/tend/internal/vcs"
	"github.com/mattjoyce/tend/internal/workspace"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "sync":
		os.Exit(runSync(args))
	case "plan":
		os.Exit(runPlan(args))
	case "status":
		os.Exit(runStatus(args))
	case "list":
		os.Exit(runList(args))
	case "discover":
		os.Exit(runDiscover(args))
	case "init":
		os.Exit(runInit(args))
	case "daemon":
		os.Exit(runDaemon(args))
	case "watch":
		os.Exit(runWatch(args))
	case "flake-update":
		os.Exit(runFlakeUpdate(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "ledger":
		os.Exit(runLedgerNoun(args))
	case "version":
		fmt.Printf("tend version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`tend - Declarative multi-repo workspace manager

Usage:
  tend <command> [flags]

Workspace Commands:
  sync          Reconcile workspaces against their declared state
  plan          Show what sync would do, without doing it
  status        Probe repositories and report drift and unknown dirs
  list          List the repositories each workspace declares
  discover      List repositories visible on the configured provider

Automation Commands:
  daemon        Run sync on an interval, with optional status API
  watch         Live dashboard connected to a running daemon
  flake-update  Propagate a Nix flake input bump through dependents

Maintenance Commands:
  init          Write a starter configuration file
  config lock   Authorize current config (update integrity hashes)
  config check  Validate config syntax and integrity
  ledger show   Show the run ledger for a workspace
  ledger clear  Discard ledger entries (forces a fresh run)

General:
  version       Show version information
  help          Show this help message

Exit codes for sync: 0 all succeeded, 1 partial failure, 2 total failure.
`)
}

// --- Shared helpers ---

func resolveConfigPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	return config.DiscoverConfigPath()
}

func loadConfig(flagValue string) (*config.Config, string, error) {
	path, err := resolveConfigPath(flagValue)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// selectWorkspaces returns the configured workspaces, narrowed to one
// when name is non-empty.
func selectWorkspaces(cfg *config.Config, name string) ([]config.WorkspaceConfig, error) {
	if name == "" {
		return cfg.Workspaces, nil
	}
	for _, ws := range cfg.Workspaces {
		if ws.Name == name {
			return []config.WorkspaceConfig{ws}, nil
		}
	}
	return nil, fmt.Errorf("workspace %q is not configured", name)
}

// buildWorkspace resolves a workspace config into a concrete desired
// state, running provider discovery when the workspace asks for it.
func buildWorkspace(ctx context.Context, wsCfg config.WorkspaceConfig) (workspace.Workspace, error) {
	var discovered []string
	if wsCfg.Discover {
		gh := provider.NewGitHub()
		repos, err := gh.Discover(ctx, wsCfg.Org)
		if err != nil {
			return workspace.Workspace{}, fmt.Errorf("discover %s: %w", wsCfg.Org, err)
		}
		discovered = repos
	}
	return workspace.FromConfig(wsCfg, discovered)
}

func engineConfig(cfg *config.Config, concurrency int) engine.Config {
	ec := engine.Config{
		Concurrency: cfg.Engine.Concurrency,
		MaxAttempts: cfg.Engine.MaxAttempts,
		Backoff: engine.BackoffConfig{
			Base:   cfg.Engine.BackoffBase,
			Max:    cfg.Engine.BackoffMax,
			Jitter: true,
		},
		OpTimeout: cfg.Engine.OpTimeout,
	}
	if concurrency > 0 {
		ec.Concurrency = concurrency
	}
	return ec
}

// openStore opens the SQLite-backed run ledger named by the config.
func openStore(ctx context.Context, cfg *config.Config) (ledger.Store, func(), error) {
	db, err := ledger.OpenSQLite(ctx, config.ExpandPath(cfg.Ledger.Path))
	if err != nil {
		return nil, nil, err
	}
	return ledger.NewSQLiteStore(db), func() { _ = db.Close() }, nil
}

func ledgerLockPath(cfg *config.Config) string {
	return config.ExpandPath(cfg.Ledger.Path) + ".pid"
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// --- Workspace commands ---

func runSync(args []string) int {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	wsName := fs.String("workspace", "", "Only sync the named workspace")
	concurrency := fs.Int("concurrency", 0, "Override worker count")
	quiet := fs.Bool("quiet", false, "Only report repos that needed action")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("tend sync starting", "version", version, "config", path)

	selected, err := selectWorkspaces(cfg, *wsName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	pidLock, err := lock.Acquire(ledgerLockPath(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to acquire lock: %v\n", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := signalContext()
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open ledger: %v\n", err)
		return 1
	}
	defer closeStore()

	rec := reconcile.New(vcs.NewGit(), store, engineConfig(cfg, *concurrency))

	worst := 0
	for _, wsCfg := range selected {
		ws, err := buildWorkspace(ctx, wsCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Workspace %s: %v\n", wsCfg.Name, err)
			worst = maxInt(worst, 2)
			continue
		}

		rep, err := rec.Reconcile(ctx, ws)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Workspace %s: %v\n", wsCfg.Name, err)
			worst = maxInt(worst, 2)
			continue
		}

		report.Render(os.Stdout, rep, *quiet)
		worst = maxInt(worst, rep.ExitCode())

		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "Interrupted; remaining workspaces skipped. Re-run sync to resume.")
			break
		}
	}
	return worst
}

func runPlan(args []string) int {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	wsName := fs.String("workspace", "", "Only plan the named workspace")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)

	selected, err := selectWorkspaces(cfg, *wsName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	rec := reconcile.New(vcs.NewGit(), ledger.NewMemStore(), engineConfig(cfg, 0))

	hasWork := false
	for _, wsCfg := range selected {
		ws, err := buildWorkspace(ctx, wsCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Workspace %s: %v\n", wsCfg.Name, err)
			return 1
		}

		actions, err := rec.Plan(ctx, ws)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Workspace %s: %v\n", wsCfg.Name, err)
			return 1
		}

		fmt.Printf("workspace %s (%s):\n", ws.Name, ws.Root)
		for _, a := range actions {
			if a.Kind != plan.KindSkip {
				hasWork = true
			}
			line := fmt.Sprintf("  %-28s %-16s", a.Spec.Name, a.Kind)
			if a.Reason != "" {
				line += "  " + a.Reason
			}
			fmt.Println(line)
		}
	}

	if hasWork {
		fmt.Println("\nRun 'tend sync' to apply.")
	}
	return 0
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	wsName := fs.String("workspace", "", "Only report the named workspace")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)

	selected, err := selectWorkspaces(cfg, *wsName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	prober := probe.New(vcs.NewGit())

	for _, wsCfg := range selected {
		ws, err := buildWorkspace(ctx, wsCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Workspace %s: %v\n", wsCfg.Name, err)
			return 1
		}

		states, err := prober.ProbeAll(ctx, ws.Root, ws.Specs, cfg.Engine.Concurrency)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Workspace %s: %v\n", wsCfg.Name, err)
			return 1
		}

		fmt.Printf("workspace %s (%s):\n", ws.Name, ws.Root)
		for _, spec := range ws.Specs {
			fmt.Println("  " + describeState(spec, states[spec.Name]))
		}

		if unknown := probe.FindUnknown(ws.Root, ws.Specs); len(unknown) > 0 {
			fmt.Println("  unknown directories (not declared):")
			for _, name := range unknown {
				fmt.Printf("    %s\n", name)
			}
		}
	}
	return 0
}

func describeState(spec workspace.RepoSpec, state probe.RepoState) string {
	switch {
	case state.ProbeErr != "":
		return fmt.Sprintf("%-28s probe error: %s", spec.Name, state.ProbeErr)
	case !state.Present:
		return fmt.Sprintf("%-28s missing", spec.Name)
	case !state.IsRepo:
		return fmt.Sprintf("%-28s exists but is not a git repository", spec.Name)
	default:
		detail := state.Ref
		if detail == "" {
			detail = state.Commit
		}
		if state.Dirty {
			detail += " (dirty)"
		}
		if spec.Ref != "" && spec.Ref != state.Ref {
			detail += fmt.Sprintf(" [wants %s]", spec.Ref)
		}
		return fmt.Sprintf("%-28s %s", spec.Name, detail)
	}
}

func runList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	wsName := fs.String("workspace", "", "Only list the named workspace")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	selected, err := selectWorkspaces(cfg, *wsName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	for _, wsCfg := range selected {
		ws, err := buildWorkspace(ctx, wsCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Workspace %s: %v\n", wsCfg.Name, err)
			return 1
		}

		fmt.Printf("workspace %s (%s): %d repos\n", ws.Name, ws.Root, len(ws.Specs))
		for _, spec := range ws.Specs {
			ref := spec.Ref
			if ref == "" {
				ref = "(default branch)"
			}
			fmt.Printf("  %-28s %-20s %s\n", spec.Name, ref, spec.URL)
		}
	}
	return 0
}

func runDiscover(args []string) int {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	org := fs.String("org", "", "Organisation or user to list (defaults to configured workspaces)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	gh := provider.NewGitHub()

	if *org != "" {
		repos, err := gh.Discover(ctx, *org)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Discovery failed: %v\n", err)
			return 1
		}
		for _, name := range repos {
			fmt.Println(name)
		}
		return 0
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	orgs := map[string]bool{}
	for _, ws := range cfg.Workspaces {
		if ws.Discover && ws.Org != "" {
			orgs[ws.Org] = true
		}
	}
	if len(orgs) == 0 {
		fmt.Fprintln(os.Stderr, "No workspace enables discovery; pass -org explicitly.")
		return 1
	}

	names := make([]string, 0, len(orgs))
	for o := range orgs {
		names = append(names, o)
	}
	sort.Strings(names)

	for _, o := range names {
		repos, err := gh.Discover(ctx, o)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Discovery failed for %s: %v\n", o, err)
			return 1
		}
		for _, name := range repos {
			fmt.Printf("%s/%s\n", o, name)
		}
	}
	return 0
}

func runInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", "", "Where to write the starter config (default: user config dir)")
	force := fs.Bool("force", false, "Overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	target := *path
	if target == "" {
		target = config.DefaultConfigPath()
	}

	if _, err := os.Stat(target); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "Refusing to overwrite %s (use -force)\n", target)
		return 1
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create config directory: %v\n", err)
		return 1
	}
	if err := os.WriteFile(target, []byte(config.StarterConfig()), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
		return 1
	}

	fmt.Printf("Wrote starter config to %s\n", target)
	fmt.Println("Edit it, then run 'tend config check' and 'tend sync'.")
	return 0
}

// --- Automation commands ---

func runDaemon(args []string) int {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	wsName := fs.String("workspace", "", "Only reconcile the named workspace")
	interval := fs.Duration("interval", 0, "Override the configured cycle interval")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("tend daemon starting", "version", version, "config", path)

	pidLock, err := lock.Acquire(ledgerLockPath(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to acquire lock: %v\n", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := signalContext()
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open ledger: %v\n", err)
		return 1
	}
	defer closeStore()

	d := daemon.New(daemon.Options{
		ConfigPath: path,
		Workspace:  *wsName,
		Interval:   *interval,
	}, store, vcs.NewGit(), log.Get())

	if err := d.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("daemon exited", "error", err)
		return 1
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	apiURL := fs.String("url", "", "Daemon API base URL (default: from config)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	url := *apiURL
	if url == "" {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		if !cfg.Daemon.API.Enabled {
			fmt.Fprintln(os.Stderr, "Daemon API is disabled in config; enable it or pass -url.")
			return 1
		}
		url = "http://" + cfg.Daemon.API.Listen
	}

	m := watch.New(url)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Watch TUI failed: %v\n", err)
		return 1
	}
	return 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
