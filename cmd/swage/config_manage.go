package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/swage/internal/config"
	"github.com/mattjoyce/swage/internal/doctor"
	"github.com/mattjoyce/swage/internal/step"
)

// configFlagTakesValue names the config action flags that consume the
// following argument, for splitFlagsAndPositionals.
var configFlagTakesValue = map[string]bool{
	"config":     true,
	"config-dir": true,
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action, rest := args[0], args[1:]
	switch action {
	case "check", "validate":
		if hasHelpFlag(rest) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(rest)
	case "show":
		if hasHelpFlag(rest) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(rest)
	case "get":
		if hasHelpFlag(rest) {
			printConfigGetHelp()
			return 0
		}
		return runConfigGet(rest)
	case "set":
		if hasHelpFlag(rest) {
			printConfigSetHelp()
			return 0
		}
		return runConfigSet(rest)
	case "lock":
		if hasHelpFlag(rest) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(rest)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		printConfigNounHelp(os.Stderr)
		return 1
	}
}

func printConfigNounHelp(w io.Writer) {
	fmt.Fprintf(w, `Usage: swage config <action> [flags]

Actions:
  check    Validate configuration and environment (alias: validate)
  show     Show the effective configuration (defaults applied)
  get      Read one value by dotted path
  set      Change one value (dry-run by default, --apply to write)
  lock     Write the .checksums integrity manifest

Run 'swage config <action> --help' for flags.
`)
}

func printConfigCheckHelp() {
	fmt.Printf(`Usage: swage config check [flags]

Validate the configuration offline: required keys, step selection,
local step directories, runner binary, state path and parameter
ranges. Exit codes: 0 valid, 1 errors, 2 warnings with --strict.

Flags:
  --config <file>      Config file (single-file mode)
  --config-dir <dir>   Config directory (config.yaml + overlays/)
  --strict             Exit 2 when warnings are present
  --remote             Also probe the components repository over the network
  --format <fmt>       Output format: human or json (default human)
  --json               Shorthand for --format json
`)
}

func printConfigShowHelp() {
	fmt.Printf(`Usage: swage config show [section] [flags]

Flags:
  --config <file>      Config file (single-file mode)
  --config-dir <dir>   Config directory
  --json               Output as JSON instead of YAML
`)
}

func printConfigGetHelp() {
	fmt.Printf(`Usage: swage config get <dotted.path> [flags]

Flags:
  --config <file>      Config file (single-file mode)
  --config-dir <dir>   Config directory
  --json               Output as JSON
`)
}

func printConfigSetHelp() {
	fmt.Printf(`Usage: swage config set <dotted.path>=<value> [flags]

Without --apply this is a dry run: the change is shown but nothing is
written. With --apply the change is persisted, validated against the
full configuration and rolled back if it does not load.

Flags:
  --config <file>      Config file (single-file mode)
  --config-dir <dir>   Config directory
  --apply              Write the change to disk
  --dry-run            Show the change without writing (default)
`)
}

func printConfigLockHelp() {
	fmt.Printf(`Usage: swage config lock [flags]

Hash every configuration file with BLAKE3 and write the .checksums
manifest. Loads fail when a locked file was modified without
re-locking.

Flags:
  --config <file>      Config file (single-file mode)
  --config-dir <dir>   Config directory
  --dry-run            Show what would be hashed without writing
  --verbose            Print each file hash
`)
}

// loadConfigTarget loads configuration from an explicit file, an
// explicit directory, or discovery, in that priority order. Integrity
// warnings from directory loads go to stderr.
func loadConfigTarget(configPath, configDir string) (*config.Config, error) {
	if configPath != "" && configDir != "" {
		return nil, fmt.Errorf("use only one of --config or --config-dir")
	}

	if configPath == "" && configDir == "" {
		discovered, err := config.DiscoverConfigDir()
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", discovered)
		info, err := os.Stat(discovered)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return config.Load(discovered)
		}
		configDir = discovered
	}

	if configDir != "" {
		cfg, warnings, err := config.LoadDir(configDir)
		if err != nil {
			return nil, err
		}
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "WARNING: %s\n", w)
		}
		return cfg, nil
	}

	return config.Load(configPath)
}

// splitFlagsAndPositionals separates flag arguments from positionals so
// actions can take flags and positionals in any order. takesValue names
// the flags that consume the following argument.
func splitFlagsAndPositionals(args []string, takesValue map[string]bool) (flags, positionals []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			positionals = append(positionals, arg)
			continue
		}
		flags = append(flags, arg)
		name := strings.TrimLeft(arg, "-")
		if eq := strings.Index(name, "="); eq >= 0 {
			continue
		}
		if takesValue[name] && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	return flags, positionals
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	configDir := fs.String("config-dir", "", "Path to config directory")
	strict := fs.Bool("strict", false, "Exit 2 when warnings are present")
	remote := fs.Bool("remote", false, "Probe the components repository over the network")
	format := fs.String("format", "human", "Output format: human or json")
	jsonOut := fs.Bool("json", false, "Shorthand for --format json")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *jsonOut {
		*format = "json"
	}

	cfg, err := loadConfigTarget(*configPath, *configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	d := doctor.New(cfg, step.DefaultRegistry())
	result := d.Validate()
	if *remote {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		d.Probe(ctx, http.DefaultClient, result)
	}

	switch *format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	case "human":
		fmt.Print(doctor.FormatHuman(result))
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown format %q (use human or json)\n", *format)
		return 1
	}

	if !result.Valid {
		return 1
	}
	if *strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigShow(args []string) int {
	flagArgs, positionals := splitFlagsAndPositionals(args, configFlagTakesValue)

	fs := flag.NewFlagSet("config show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	configDir := fs.String("config-dir", "", "Path to config directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(flagArgs); err != nil {
		return 1
	}

	cfg, err := loadConfigTarget(*configPath, *configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var view any
	if len(positionals) > 0 {
		view, err = cfg.GetPath(positionals[0])
	} else {
		view, err = effectiveView(cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	data, err := yaml.Marshal(view)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

// effectiveView renders the config as plain nested maps, the same shape
// the YAML files have, with defaults applied.
func effectiveView(cfg *config.Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func runConfigGet(args []string) int {
	flagArgs, positionals := splitFlagsAndPositionals(args, configFlagTakesValue)

	fs := flag.NewFlagSet("config get", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	configDir := fs.String("config-dir", "", "Path to config directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(flagArgs); err != nil {
		return 1
	}
	if len(positionals) < 1 {
		fmt.Fprintln(os.Stderr, "Error: key required")
		fmt.Fprintln(os.Stderr, "Usage: swage config get <dotted.path> [--json]")
		return 1
	}
	key := positionals[0]

	cfg, err := loadConfigTarget(*configPath, *configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	value, err := cfg.GetPath(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, err := json.Marshal(map[string]any{"key": key, "value": value})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	switch v := value.(type) {
	case map[string]any, []any:
		data, err := yaml.Marshal(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Print(string(data))
	default:
		fmt.Printf("%v\n", v)
	}
	return 0
}

func runConfigSet(args []string) int {
	flagArgs, positionals := splitFlagsAndPositionals(args, configFlagTakesValue)

	fs := flag.NewFlagSet("config set", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	configDir := fs.String("config-dir", "", "Path to config directory")
	apply := fs.Bool("apply", false, "Write the change to disk")
	dryRun := fs.Bool("dry-run", false, "Show the change without writing (default)")
	if err := fs.Parse(flagArgs); err != nil {
		return 1
	}
	if *apply && *dryRun {
		fmt.Fprintln(os.Stderr, "Error: use only one of --apply or --dry-run")
		return 1
	}
	if len(positionals) < 1 || !strings.Contains(positionals[0], "=") {
		fmt.Fprintln(os.Stderr, "Error: key=value required")
		fmt.Fprintln(os.Stderr, "Usage: swage config set <dotted.path>=<value> [--apply]")
		return 1
	}
	key, value, _ := strings.Cut(positionals[0], "=")

	cfg, err := loadConfigTarget(*configPath, *configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if !*apply {
		current := "(unset)"
		if v, err := cfg.GetPath(key); err == nil {
			current = fmt.Sprintf("%v", v)
		}
		fmt.Printf("Dry run: would set %s=%s (currently %s)\n", key, value, current)
		fmt.Println("Re-run with --apply to write the change.")
		return 0
	}

	if err := cfg.SetPath(key, value, true); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Set %s=%s\n", key, value)

	// Re-load from disk so the post-write validation sees exactly what
	// the next command will.
	fresh, err := loadConfigTarget(*configPath, *configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: change written but reload failed: %v\n", err)
		return 1
	}
	result := doctor.New(fresh, step.DefaultRegistry()).Validate()
	printValidationSummary(result)
	return validationExitCode(result)
}

func printValidationSummary(r *doctor.Result) {
	if !r.Valid {
		fmt.Printf("Validation: failed (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
		for _, e := range r.Errors {
			fmt.Printf("  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		}
		return
	}
	if len(r.Warnings) > 0 {
		fmt.Printf("Validation: ✓ passed with %d warning(s)\n", len(r.Warnings))
		return
	}
	fmt.Println("Validation: ✓ All checks passed")
}

func validationExitCode(r *doctor.Result) int {
	if !r.Valid {
		return 1
	}
	if len(r.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("config lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	configDir := fs.String("config-dir", "", "Path to config directory")
	dryRun := fs.Bool("dry-run", false, "Show what would be hashed without writing")
	verbose := fs.Bool("verbose", false, "Print each file hash")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	dir, relFiles, err := resolveLockTarget(*configPath, *configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	report, err := config.GenerateChecksumsWithReport(dir, relFiles, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *verbose {
		fmt.Printf("Processing directory: %s\n", report.ConfigDir)
		for _, f := range report.Files {
			if !f.Exists {
				fmt.Printf("  SKIP %s: not found\n", f.Filename)
				continue
			}
			fmt.Printf("  HASH %s: %s\n", f.Filename, f.Hash)
		}
		if report.Written {
			fmt.Printf("  WROTE .checksums: %s\n", report.ChecksumPath)
		} else {
			fmt.Printf("  DRY-RUN .checksums: %s (not written)\n", report.ChecksumPath)
		}
	}

	if *dryRun {
		fmt.Printf("Dry run completed for %s (no files written)\n", dir)
		return 0
	}
	fmt.Printf("Locked configuration in %s (%d file(s))\n", dir, len(report.Files))
	return 0
}

// resolveLockTarget maps the config target onto the directory and
// relative file list the checksum generator expects.
func resolveLockTarget(configPath, configDir string) (string, []string, error) {
	if configPath != "" && configDir != "" {
		return "", nil, fmt.Errorf("use only one of --config or --config-dir")
	}

	if configPath != "" {
		return singleFileLockTarget(configPath)
	}

	if configDir == "" {
		discovered, err := config.DiscoverConfigDir()
		if err != nil {
			return "", nil, err
		}
		info, err := os.Stat(discovered)
		if err != nil {
			return "", nil, err
		}
		if !info.IsDir() {
			return singleFileLockTarget(discovered)
		}
		configDir = discovered
	}

	files, err := config.DiscoverConfigFiles(configDir)
	if err != nil {
		return "", nil, err
	}
	var rel []string
	for _, f := range files.AllFiles() {
		rel = append(rel, files.RelName(f))
	}
	return files.Root, rel, nil
}

func singleFileLockTarget(configPath string) (string, []string, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return "", nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", nil, err
	}
	return filepath.Dir(abs), []string{filepath.Base(abs)}, nil
}
