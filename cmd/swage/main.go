// Command swage runs the configured ML pipeline: it executes steps in
// canonical order, records every run in the tracking database, serves
// the HTTP API, and manages the locked configuration.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/swage/internal/api"
	"github.com/mattjoyce/swage/internal/catalog"
	"github.com/mattjoyce/swage/internal/config"
	"github.com/mattjoyce/swage/internal/events"
	"github.com/mattjoyce/swage/internal/inspect"
	"github.com/mattjoyce/swage/internal/invoke"
	"github.com/mattjoyce/swage/internal/lock"
	"github.com/mattjoyce/swage/internal/log"
	"github.com/mattjoyce/swage/internal/params"
	"github.com/mattjoyce/swage/internal/pipeline"
	"github.com/mattjoyce/swage/internal/step"
	"github.com/mattjoyce/swage/internal/storage"
	"github.com/mattjoyce/swage/internal/tracking"
	"github.com/mattjoyce/swage/internal/tui"
	"github.com/mattjoyce/swage/internal/tui/steppick"
	"github.com/mattjoyce/swage/internal/tui/watch"
	"github.com/mattjoyce/swage/internal/workspace"
)

// Populated via -ldflags at release build time.
var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(args []string) int {
	if len(args) < 1 {
		printUsage()
		return 1
	}

	switch args[0] {
	case "--version":
		return runVersion(args[1:])
	case "pipeline":
		return runPipelineNoun(args[1:])
	case "steps":
		return runStepsNoun(args[1:])
	case "runs":
		return runRunsNoun(args[1:])
	case "config":
		return runConfigNoun(args[1:])
	case "system":
		return runSystemNoun(args[1:])
	case "run":
		// Root alias for the most common command.
		if hasHelpFlag(args[1:]) {
			printPipelineRunHelp()
			return 0
		}
		return runPipelineRun(args[1:])
	case "version":
		return runVersion(args[1:])
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Printf(`swage - configuration-driven ML pipeline runner

Usage:
  swage <noun> <action> [flags]

Core Resources (Nouns):
  pipeline    Pipeline execution and planning
  steps       Registered pipeline steps
  runs        Recorded runs and reports
  config      Configuration management and integrity
  system      Service lifecycle and health

Common Commands:
  swage run                   Execute the configured pipeline (alias for 'pipeline run')
  swage pipeline run --pick   Choose the steps to run interactively
  swage steps list            Show the registered steps in canonical order
  swage runs show latest      Report on the most recent run
  swage config check          Validate the configuration
  swage system serve          Start the HTTP API service

Run 'swage <noun> help' for the actions on a noun, or
'swage <noun> <action> --help' for the flags on an action.

Global:
  swage version | --version   Show version information
`)
}

func isHelpToken(s string) bool {
	return s == "help" || s == "--help" || s == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			return true
		}
	}
	return false
}

// --- version ---

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("swage %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

// currentVersionInfo resolves version metadata from the ldflags
// variables, falling back to the VCS stamp Go embeds in the binary.
func currentVersionInfo() versionInfo {
	commit := gitCommit
	buildTime := buildDate

	if commit == "unknown" || buildTime == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			if commit == "unknown" {
				if rev := readBuildSetting(bi, "vcs.revision"); rev != "" {
					commit = rev
				}
			}
			if buildTime == "unknown" {
				if ts := readBuildSetting(bi, "vcs.time"); ts != "" {
					buildTime = ts
				}
			}
		}
	}

	return versionInfo{
		Version:   version,
		Commit:    shortenCommit(commit),
		BuildTime: normalizeBuildTimeUTC(buildTime),
	}
}

func readBuildSetting(bi *debug.BuildInfo, key string) string {
	for _, s := range bi.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) string {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return raw
	}
	return t.UTC().Format(time.RFC3339)
}

// --- pipeline noun ---

func runPipelineNoun(args []string) int {
	if len(args) < 1 {
		printPipelineNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printPipelineNounHelp(os.Stdout)
		return 0
	}

	action, rest := args[0], args[1:]
	switch action {
	case "run":
		if hasHelpFlag(rest) {
			printPipelineRunHelp()
			return 0
		}
		return runPipelineRun(rest)
	default:
		fmt.Fprintf(os.Stderr, "Unknown pipeline action: %s\n", action)
		printPipelineNounHelp(os.Stderr)
		return 1
	}
}

func printPipelineNounHelp(w io.Writer) {
	fmt.Fprintf(w, `Usage: swage pipeline <action> [flags]

Actions:
  run    Execute the selected steps in canonical order

Run 'swage pipeline <action> --help' for flags.
`)
}

func printPipelineRunHelp() {
	fmt.Printf(`Usage: swage pipeline run [flags]

Execute the selected steps strictly in canonical order inside a fresh
scratch directory, recording the run in the tracking database. The
first failing step halts the pipeline.

Flags:
  --config <file>      Config file (single-file mode)
  --config-dir <dir>   Config directory (config.yaml + overlays/)
  --steps <list>       Comma-separated step names, or "all" (default: main.steps)
  --pick               Choose the steps interactively
  --dry-run            Print the runner command lines without executing
`)
}

func runPipelineRun(args []string) int {
	fs := flag.NewFlagSet("pipeline run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	configDir := fs.String("config-dir", "", "Path to config directory")
	steps := fs.String("steps", "", "Comma-separated step names, or \"all\"")
	pick := fs.Bool("pick", false, "Choose the steps interactively")
	dryRun := fs.Bool("dry-run", false, "Print runner command lines without executing")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *steps != "" && *pick {
		fmt.Fprintln(os.Stderr, "Error: use only one of --steps or --pick")
		return 1
	}

	cfg, err := loadConfigTarget(*configPath, *configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rc, err := buildRuntime(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer rc.Close()

	selection := *steps
	if *pick {
		picked, err := steppick.Pick(rc.registry.All())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if len(picked) == 0 {
			fmt.Println("Nothing to run.")
			return 0
		}
		selection = strings.Join(picked, ",")
	}

	if *dryRun {
		plans, err := rc.driver.Plans(ctx, selection)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		for _, p := range plans {
			fmt.Println(p.CommandLine(cfg.Service.Runner))
		}
		return 0
	}

	runLock, err := lock.AcquirePIDLock(lock.RunLockPath(cfg.Service.StatePath))
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			fmt.Fprintf(os.Stderr, "Error: another run is already in progress: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	defer runLock.Release()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	runErr := rc.driver.Run(ctx, selection)
	status := rc.driver.Status()
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Pipeline failed: %v\n", runErr)
		if status.GroupID != "" {
			fmt.Fprintf(os.Stderr, "Inspect with: swage runs show %s\n", status.GroupID)
		}
		return 1
	}

	fmt.Printf("Pipeline completed: %d step(s), group %s\n", len(status.Steps), status.GroupID)
	return 0
}

// --- steps noun ---

func runStepsNoun(args []string) int {
	if len(args) < 1 {
		printStepsNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printStepsNounHelp(os.Stdout)
		return 0
	}

	action, rest := args[0], args[1:]
	switch action {
	case "list":
		if hasHelpFlag(rest) {
			printStepsListHelp()
			return 0
		}
		return runStepsList(rest)
	default:
		fmt.Fprintf(os.Stderr, "Unknown steps action: %s\n", action)
		printStepsNounHelp(os.Stderr)
		return 1
	}
}

func printStepsNounHelp(w io.Writer) {
	fmt.Fprintf(w, `Usage: swage steps <action> [flags]

Actions:
  list    Show the registered steps in canonical order

Run 'swage steps <action> --help' for flags.
`)
}

func printStepsListHelp() {
	fmt.Printf(`Usage: swage steps list [flags]

Show every registered step in canonical execution order, with its
source and whether "all" includes it.

Flags:
  --json    Output as JSON
`)
}

func runStepsList(args []string) int {
	fs := flag.NewFlagSet("steps list", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	steps := step.DefaultRegistry().All()

	if *jsonOut {
		type stepEntry struct {
			Name              string `json:"name"`
			Source            string `json:"source"`
			Location          string `json:"location"`
			IncludedByDefault bool   `json:"included_by_default"`
			Description       string `json:"description,omitempty"`
		}
		entries := make([]stepEntry, 0, len(steps))
		for _, s := range steps {
			entries = append(entries, stepEntry{
				Name:              s.Name,
				Source:            string(s.Source.Kind),
				Location:          stepLocation(s),
				IncludedByDefault: s.IncludedByDefault,
				Description:       s.Description,
			})
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("%-24s %-9s %-28s %s\n", "STEP", "SOURCE", "LOCATION", "DEFAULT")
	for _, s := range steps {
		def := "yes"
		if !s.IncludedByDefault {
			def = "no"
		}
		fmt.Printf("%-24s %-9s %-28s %s\n", s.Name, s.Source.Kind, stepLocation(s), def)
	}
	return 0
}

func stepLocation(s step.Step) string {
	if s.Source.Kind == step.SourceCatalog {
		return s.Source.Component
	}
	return s.Source.Dir
}

// --- runs noun ---

func runRunsNoun(args []string) int {
	if len(args) < 1 {
		printRunsNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printRunsNounHelp(os.Stdout)
		return 0
	}

	action, rest := args[0], args[1:]
	switch action {
	case "list":
		if hasHelpFlag(rest) {
			printRunsListHelp()
			return 0
		}
		return runRunsList(rest)
	case "show":
		if hasHelpFlag(rest) {
			printRunsShowHelp()
			return 0
		}
		return runRunsShow(rest)
	case "browse":
		if hasHelpFlag(rest) {
			printRunsBrowseHelp()
			return 0
		}
		return runRunsBrowse(rest)
	default:
		fmt.Fprintf(os.Stderr, "Unknown runs action: %s\n", action)
		printRunsNounHelp(os.Stderr)
		return 1
	}
}

func printRunsNounHelp(w io.Writer) {
	fmt.Fprintf(w, `Usage: swage runs <action> [flags]

Actions:
  list      List recorded runs, newest first
  show      Report on one run ("latest" for the most recent)
  browse    Browse runs interactively via the API

Run 'swage runs <action> --help' for flags.
`)
}

func printRunsListHelp() {
	fmt.Printf(`Usage: swage runs list [flags]

Flags:
  --config <file>      Config file (single-file mode)
  --config-dir <dir>   Config directory
  --limit <n>          Maximum runs to list (default 20)
  --json               Output as JSON
`)
}

func printRunsShowHelp() {
	fmt.Printf(`Usage: swage runs show <group-id|latest> [flags]

Flags:
  --config <file>      Config file (single-file mode)
  --config-dir <dir>   Config directory
  --json               Output as JSON
`)
}

func printRunsBrowseHelp() {
	fmt.Printf(`Usage: swage runs browse [flags]

Flags:
  --api-url <url>   API server URL (default http://localhost:8080)
  --api-key <key>   API key (or set SWAGE_API_KEY)
`)
}

func runRunsList(args []string) int {
	fs := flag.NewFlagSet("runs list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	configDir := fs.String("config-dir", "", "Path to config directory")
	limit := fs.Int("limit", 20, "Maximum runs to list")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfigTarget(*configPath, *configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.Service.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	groups, err := tracking.New(db).ListGroups(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		type groupRow struct {
			GroupID     string     `json:"group_id"`
			Project     string     `json:"project"`
			Experiment  string     `json:"experiment"`
			Selection   string     `json:"selection"`
			Status      string     `json:"status"`
			StartedAt   time.Time  `json:"started_at"`
			CompletedAt *time.Time `json:"completed_at,omitempty"`
			FailedStep  string     `json:"failed_step,omitempty"`
		}
		rows := make([]groupRow, 0, len(groups))
		for _, g := range groups {
			row := groupRow{
				GroupID:     g.ID,
				Project:     g.Project,
				Experiment:  g.Experiment,
				Selection:   g.Selection,
				Status:      string(g.Status),
				StartedAt:   g.StartedAt,
				CompletedAt: g.CompletedAt,
			}
			if g.FailedStep != nil {
				row.FailedStep = *g.FailedStep
			}
			rows = append(rows, row)
		}
		data, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	if len(groups) == 0 {
		fmt.Println("No runs recorded yet.")
		return 0
	}

	fmt.Printf("%-36s  %-10s  %-20s  %-10s  %s\n", "GROUP", "STATUS", "STARTED", "DURATION", "SELECTION")
	for _, g := range groups {
		fmt.Printf("%-36s  %-10s  %-20s  %-10s  %s\n",
			g.ID,
			g.Status,
			g.StartedAt.Local().Format("2006-01-02 15:04:05"),
			groupDuration(g),
			g.Selection,
		)
	}
	return 0
}

func groupDuration(g tracking.RunGroup) string {
	if g.CompletedAt == nil {
		return "-"
	}
	return g.CompletedAt.Sub(g.StartedAt).Round(10 * time.Millisecond).String()
}

func runRunsShow(args []string) int {
	flagArgs, positionals := splitFlagsAndPositionals(args, configFlagTakesValue)

	fs := flag.NewFlagSet("runs show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	configDir := fs.String("config-dir", "", "Path to config directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(flagArgs); err != nil {
		return 1
	}
	if len(positionals) < 1 {
		fmt.Fprintln(os.Stderr, "Error: run ID required (or \"latest\")")
		fmt.Fprintln(os.Stderr, "Usage: swage runs show <group-id|latest> [--json]")
		return 1
	}
	groupID := positionals[0]

	cfg, err := loadConfigTarget(*configPath, *configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.Service.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()
	store := tracking.New(db)

	if groupID == "latest" {
		g, err := store.LatestGroup(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if g == nil {
			fmt.Fprintln(os.Stderr, "No runs recorded yet.")
			return 1
		}
		groupID = g.ID
	}

	if *jsonOut {
		out, err := inspect.BuildJSONReport(ctx, store, groupID)
		if err != nil {
			return reportError(groupID, err)
		}
		fmt.Println(out)
		return 0
	}

	out, err := inspect.BuildReport(ctx, store, groupID)
	if err != nil {
		return reportError(groupID, err)
	}
	fmt.Print(out)
	return 0
}

func reportError(groupID string, err error) int {
	if errors.Is(err, tracking.ErrGroupNotFound) {
		fmt.Fprintf(os.Stderr, "Error: run %q not found\n", groupID)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return 1
}

func runRunsBrowse(args []string) int {
	fs := flag.NewFlagSet("runs browse", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "API server URL")
	apiKey := fs.String("api-key", os.Getenv("SWAGE_API_KEY"), "API key (or set SWAGE_API_KEY)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or SWAGE_API_KEY env var.")
		return 1
	}

	m := tui.NewBrowser(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// --- system noun ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action, rest := args[0], args[1:]
	switch action {
	case "serve":
		if hasHelpFlag(rest) {
			printSystemServeHelp()
			return 0
		}
		return runSystemServe(rest)
	case "status":
		if hasHelpFlag(rest) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(rest)
	case "watch":
		if hasHelpFlag(rest) {
			printSystemWatchHelp()
			return 0
		}
		return runSystemWatch(rest)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		printSystemNounHelp(os.Stderr)
		return 1
	}
}

func printSystemNounHelp(w io.Writer) {
	fmt.Fprintf(w, `Usage: swage system <action> [flags]

Actions:
  serve     Start the HTTP API service
  status    Offline health checks (config, state database, run lock)
  watch     Watch a running service live in the terminal

Run 'swage system <action> --help' for flags.
`)
}

func printSystemServeHelp() {
	fmt.Printf(`Usage: swage system serve [flags]

Start the HTTP API service. Requires api.enabled=true in the
configuration. The service holds the run lock for its lifetime, so
pipeline runs go through the API while it is up.

Flags:
  --config <file>      Config file (single-file mode)
  --config-dir <dir>   Config directory
`)
}

func printSystemStatusHelp() {
	fmt.Printf(`Usage: swage system status [flags]

Flags:
  --config <file>      Config file (single-file mode)
  --config-dir <dir>   Config directory
  --json               Output as JSON
`)
}

func printSystemWatchHelp() {
	fmt.Printf(`Usage: swage system watch [flags]

Flags:
  --api-url <url>   API server URL (default http://localhost:8080)
  --api-key <key>   API key (or set SWAGE_API_KEY)
`)
}

func runSystemServe(args []string) int {
	fs := flag.NewFlagSet("system serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	configDir := fs.String("config-dir", "", "Path to config directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfigTarget(*configPath, *configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if !cfg.API.Enabled {
		fmt.Fprintln(os.Stderr, "Error: api.enabled is false; enable it with: swage config set api.enabled=true --apply")
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("swage starting", "version", version, "listen", cfg.API.Listen)

	runLock, err := lock.AcquirePIDLock(lock.RunLockPath(cfg.Service.StatePath))
	if err != nil {
		logger.Error("failed to acquire run lock", "error", err)
		return 1
	}
	defer runLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rc, err := buildRuntime(ctx, cfg)
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		return 1
	}
	defer rc.Close()

	server := api.New(api.Config{
		Listen: cfg.API.Listen,
		APIKey: cfg.API.Auth.APIKey,
	}, rc.driver, rc.store, rc.registry, rc.hub, log.WithComponent("api"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	logger.Info("swage running (press Ctrl+C to stop)")
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
		if err := <-errCh; err != nil {
			logger.Error("shutdown error", "error", err)
		}
	case err := <-errCh:
		cancel()
		if err != nil {
			logger.Error("api server failed", "error", err)
			return 1
		}
	}

	logger.Info("swage stopped")
	return 0
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("system status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	configDir := fs.String("config-dir", "", "Path to config directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	type statusCheck struct {
		Name   string `json:"name"`
		OK     bool   `json:"ok"`
		Detail string `json:"detail,omitempty"`
	}
	var checks []statusCheck
	healthy := true
	var activePID int

	cfg, err := loadConfigTarget(*configPath, *configDir)
	if err != nil {
		checks = append(checks, statusCheck{Name: "config_load", OK: false, Detail: err.Error()})
		healthy = false
	} else {
		checks = append(checks, statusCheck{Name: "config_load", OK: true})

		if err := storage.CheckStatePath(cfg.Service.StatePath); err != nil {
			checks = append(checks, statusCheck{Name: "state_db", OK: false, Detail: err.Error()})
			healthy = false
		} else {
			ctx := context.Background()
			db, err := storage.OpenSQLite(ctx, cfg.Service.StatePath)
			if err != nil {
				checks = append(checks, statusCheck{Name: "state_db", OK: false, Detail: err.Error()})
				healthy = false
			} else {
				db.Close()
				checks = append(checks, statusCheck{Name: "state_db", OK: true})
			}
		}

		lockPath := lock.RunLockPath(cfg.Service.StatePath)
		if pl, err := lock.AcquirePIDLock(lockPath); err == nil {
			pl.Release()
			checks = append(checks, statusCheck{Name: "run_lock", OK: true, Detail: "no active run"})
		} else if errors.Is(err, lock.ErrHeld) {
			activePID = readLockPID(lockPath)
			checks = append(checks, statusCheck{Name: "run_lock", OK: true,
				Detail: fmt.Sprintf("run in progress (pid %d)", activePID)})
		} else {
			checks = append(checks, statusCheck{Name: "run_lock", OK: false, Detail: err.Error()})
			healthy = false
		}
	}

	if *jsonOut {
		payload := struct {
			Healthy   bool          `json:"healthy"`
			ActivePID int           `json:"active_pid,omitempty"`
			Checks    []statusCheck `json:"checks"`
		}{Healthy: healthy, ActivePID: activePID, Checks: checks}
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		state := "healthy"
		if !healthy {
			state = "unhealthy"
		}
		fmt.Printf("System status: %s\n", state)
		for _, c := range checks {
			mark := "OK  "
			if !c.OK {
				mark = "FAIL"
			}
			if c.Detail != "" {
				fmt.Printf("  %s %s: %s\n", mark, c.Name, c.Detail)
			} else {
				fmt.Printf("  %s %s\n", mark, c.Name)
			}
		}
	}

	if !healthy {
		return 1
	}
	return 0
}

// readLockPID reads the holder PID from a lock file. Returns 0 when the
// file is unreadable or malformed.
func readLockPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func runSystemWatch(args []string) int {
	fs := flag.NewFlagSet("system watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "API server URL")
	apiKey := fs.String("api-key", os.Getenv("SWAGE_API_KEY"), "API key (or set SWAGE_API_KEY)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or SWAGE_API_KEY env var.")
		return 1
	}

	m := watch.New(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// --- shared runtime wiring ---

// runtimeComponents bundles the pieces a pipeline run or the API
// service needs. Close releases the database handle.
type runtimeComponents struct {
	registry *step.Registry
	store    *tracking.Store
	hub      *events.Hub
	driver   *pipeline.Driver
	db       *sql.DB
}

func (rc *runtimeComponents) Close() error {
	return rc.db.Close()
}

func buildRuntime(ctx context.Context, cfg *config.Config) (*runtimeComponents, error) {
	registry := step.DefaultRegistry()

	db, err := storage.OpenSQLite(ctx, cfg.Service.StatePath)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	store := tracking.New(db)

	repo, err := catalog.ParseRepoRef(cfg.Main.ComponentsRepository)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("components repository: %w", err)
	}
	invoker, err := invoke.New(invoke.Options{
		Runner:     cfg.Service.Runner,
		StepsDir:   cfg.Service.StepsDir,
		Repository: repo,
		Project:    cfg.Main.ProjectName,
		RunGroup:   cfg.Main.ExperimentName,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build invoker: %w", err)
	}
	workspaces, err := workspace.NewFSManager(cfg.Service.ScratchDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("scratch workspace: %w", err)
	}

	hub := events.NewHub(256)
	driver, err := pipeline.New(pipeline.Options{
		Config:     cfg,
		Registry:   registry,
		Workspaces: workspaces,
		Resolver:   params.NewResolver(cfg),
		Invoker:    invoker,
		Tracker:    store,
		Events:     hub,
		Logger:     log.WithComponent("pipeline"),
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	return &runtimeComponents{
		registry: registry,
		store:    store,
		hub:      hub,
		driver:   driver,
		db:       db,
	}, nil
}
