package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mattjoyce/tend/internal/config"
	"github.com/mattjoyce/tend/internal/flake"
	"github.com/mattjoyce/tend/internal/ledger"
	"github.com/mattjoyce/tend/internal/log"
)

// --- config noun ---

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: tend config <lock|check> [flags]")
		return 1
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lock":
		return runConfigLock(actionArgs)
	case "check":
		return runConfigCheck(actionArgs)
	case "help":
		fmt.Println("Usage: tend config <lock|check> [flags]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	manifest, err := config.Lock(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}

	fmt.Printf("Config authorized. Checksums written to %s\n", manifest)
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	// Load validates syntax, defaults, and integrity in one pass.
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration check FAILED: %v\n", err)
		return 1
	}

	found, err := config.Verify(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Integrity check FAILED: %v\n", err)
		return 1
	}

	fmt.Printf("Configuration check PASSED (%s, %d workspaces)\n", path, len(cfg.Workspaces))
	if !found {
		fmt.Println("Note: no checksum manifest present. Run 'tend config lock' to authorize this config.")
	}
	return 0
}

// --- ledger noun ---

func runLedgerNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: tend ledger <show|clear> [flags]")
		return 1
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "show":
		return runLedgerShow(actionArgs)
	case "clear":
		return runLedgerClear(actionArgs)
	case "help":
		fmt.Println("Usage: tend ledger <show|clear> [flags]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown ledger action: %s\n", action)
		return 1
	}
}

func runLedgerShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	wsName := fs.String("workspace", "", "Only show the named workspace")
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

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open ledger: %v\n", err)
		return 1
	}
	defer closeStore()

	for _, wsCfg := range selected {
		entries, err := store.List(ctx, wsCfg.Name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list ledger for %s: %v\n", wsCfg.Name, err)
			return 1
		}

		if len(entries) == 0 {
			fmt.Printf("workspace %s: ledger empty (no interrupted run)\n", wsCfg.Name)
			continue
		}

		fmt.Printf("workspace %s: %d entries\n", wsCfg.Name, len(entries))
		for _, e := range entries {
			fmt.Println("  " + formatEntry(e))
		}
	}
	return 0
}

func formatEntry(e ledger.Entry) string {
	line := fmt.Sprintf("%-28s %-16s %-10s attempts=%d run=%s",
		e.Repo, e.Action, e.Status, e.Attempts, shortRunID(e.RunID))
	if e.Reason != "" {
		line += "  " + e.Reason
	}
	return line
}

func shortRunID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

func runLedgerClear(args []string) int {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	wsName := fs.String("workspace", "", "Only clear the named workspace")
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

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open ledger: %v\n", err)
		return 1
	}
	defer closeStore()

	for _, wsCfg := range selected {
		if err := store.Clear(ctx, wsCfg.Name); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to clear ledger for %s: %v\n", wsCfg.Name, err)
			return 1
		}
		fmt.Printf("Cleared ledger for workspace %s. The next sync starts fresh.\n", wsCfg.Name)
	}
	return 0
}

// --- flake-update ---

func runFlakeUpdate(args []string) int {
	fs := flag.NewFlagSet("flake-update", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	wsName := fs.String("workspace", "", "Workspace holding the flake repos")
	repo := fs.String("repo", "", "Repository whose change should propagate")
	dryRun := fs.Bool("dry-run", false, "Print the chain without running it")
	quiet := fs.Bool("quiet", false, "Suppress per-step output")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *repo == "" {
		fmt.Fprintln(os.Stderr, "Usage: tend flake-update -repo <name> [-workspace <name>] [-dry-run]")
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

	for _, wsCfg := range selected {
		if len(wsCfg.FlakeDeps) == 0 {
			continue
		}

		ws, err := buildWorkspace(ctx, wsCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Workspace %s: %v\n", wsCfg.Name, err)
			return 1
		}

		chain, err := flake.ComputeChain(*repo, ws.FlakeDeps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Workspace %s: %v\n", wsCfg.Name, err)
			return 1
		}
		if len(chain) == 0 {
			continue
		}

		runner := flake.NewRunner(ws.Root, os.Stdout)
		if err := runner.Execute(ctx, chain, *dryRun, *quiet); err != nil {
			fmt.Fprintf(os.Stderr, "Flake update failed in %s: %v\n", wsCfg.Name, err)
			return 1
		}
	}
	return 0
}
