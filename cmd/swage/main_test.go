package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/swage/internal/lock"
	"github.com/mattjoyce/swage/internal/step"
	"github.com/mattjoyce/swage/internal/storage"
	"github.com/mattjoyce/swage/internal/tracking"
)

// captureOutputWithExitCode runs fn with stdout and stderr redirected
// into a pipe and returns the combined output plus the exit code. Tests
// using it must not run in parallel: the redirection is process-global.
func captureOutputWithExitCode(t *testing.T, fn func() int) (string, int) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w
	os.Stderr = w

	outCh := make(chan string)
	go func() {
		data, _ := io.ReadAll(r)
		outCh <- string(data)
	}()

	code := fn()

	w.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr
	out := <-outCh
	r.Close()
	return out, code
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()
	oldVersion, oldCommit, oldDate := version, gitCommit, buildDate
	version, gitCommit, buildDate = v, commit, built
	t.Cleanup(func() {
		version, gitCommit, buildDate = oldVersion, oldCommit, oldDate
	})
}

type configFixture struct {
	Root       string
	ConfigDir  string
	ConfigPath string
	StatePath  string
	StepsDir   string
	ScratchDir string
}

// writeConfigFixture writes a complete configuration whose checks all
// pass: every required key, a shell runner, local step directories with
// MLproject files, and state/scratch paths under the test temp dir.
func writeConfigFixture(t *testing.T) configFixture {
	t.Helper()

	root := t.TempDir()
	fx := configFixture{
		Root:       root,
		ConfigDir:  filepath.Join(root, "config"),
		ConfigPath: filepath.Join(root, "config", "config.yaml"),
		StatePath:  filepath.Join(root, "state", "swage.db"),
		StepsDir:   filepath.Join(root, "src"),
		ScratchDir: filepath.Join(root, "scratch"),
	}

	for _, s := range step.Defaults() {
		if s.Source.Kind != step.SourceLocal {
			continue
		}
		dir := filepath.Join(fx.StepsDir, s.Source.Dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "MLproject"), []byte("name: "+s.Name+"\n"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	if err := os.MkdirAll(fx.ConfigDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	content := fmt.Sprintf(`main:
  project_name: nyc_airbnb
  experiment_name: development
  steps: all
  components_repository: "https://github.com/udacity/build-ml-pipeline-for-short-term-rental-prices#components"

etl:
  sample: "sample1.csv"
  min_price: 10
  max_price: 350

data_check:
  kl_threshold: 0.2

modeling:
  test_size: 0.2
  random_seed: 42
  stratify_by: "neighbourhood_group"
  val_size: 0.2
  max_tfidf_features: 5
  random_forest:
    n_estimators: 100
    max_depth: 15

service:
  log_level: error
  log_format: text
  state_path: %q
  steps_dir: %q
  runner: sh
  scratch_dir: %q
`, fx.StatePath, fx.StepsDir, fx.ScratchDir)
	if err := os.WriteFile(fx.ConfigPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return fx
}

// rewriteFixture replaces one occurrence of old with new in the config
// file, failing the test if old is absent.
func rewriteFixture(t *testing.T, path, old, new string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), old) {
		t.Fatalf("fixture does not contain %q", old)
	}
	updated := strings.Replace(string(data), old, new, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

// --- root dispatch ---

func TestRunCLINoArgsShowsUsage(t *testing.T) {
	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI(nil)
	})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(out, "swage <noun> <action>") {
		t.Fatalf("expected usage output, got: %q", out)
	}
}

func TestRunCLIUnknownCommand(t *testing.T) {
	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"frobnicate"})
	})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(out, "Unknown command: frobnicate") {
		t.Fatalf("expected unknown-command error, got: %q", out)
	}
}

func TestRunCLIRootVersionFlag(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "abc123456789", "2026-01-02T03:04:05Z")

	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"--version"})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	for _, want := range []string{"swage 1.2.3", "commit: abc123456789", "built_at: 2026-01-02T03:04:05Z"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got: %q", want, out)
		}
	}
}

func TestRunVersionJSONOutputIncludesMetadata(t *testing.T) {
	setVersionMetadataForTest(t, "2.0.0-rc.1", "aabbccddeeff00112233", "2026-02-12T11:30:00-05:00")

	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"version", "--json"})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}

	var info versionInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("unmarshal version JSON: %v (output: %q)", err, out)
	}
	if info.Version != "2.0.0-rc.1" {
		t.Fatalf("version = %q", info.Version)
	}
	if info.Commit != "aabbccddeeff" {
		t.Fatalf("expected commit truncated to 12 chars, got %q", info.Commit)
	}
	if info.BuildTime != "2026-02-12T16:30:00Z" {
		t.Fatalf("expected UTC-normalized build time, got %q", info.BuildTime)
	}
}

func TestNounHelpListsActions(t *testing.T) {
	cases := []struct {
		noun string
		want string
	}{
		{"pipeline", "Usage: swage pipeline <action>"},
		{"steps", "Usage: swage steps <action>"},
		{"runs", "Usage: swage runs <action>"},
		{"config", "Usage: swage config <action>"},
		{"system", "Usage: swage system <action>"},
	}
	for _, tc := range cases {
		out, code := captureOutputWithExitCode(t, func() int {
			return runCLI([]string{tc.noun, "help"})
		})
		if code != 0 {
			t.Fatalf("%s help: expected exit 0, got %d", tc.noun, code)
		}
		if !strings.Contains(out, tc.want) {
			t.Fatalf("%s help: expected %q, got: %q", tc.noun, tc.want, out)
		}
	}
}

func TestActionHelpFlagPrintsUsage(t *testing.T) {
	cases := []struct {
		args []string
		want string
	}{
		{[]string{"pipeline", "run", "--help"}, "Usage: swage pipeline run"},
		{[]string{"config", "check", "--help"}, "Usage: swage config check"},
		{[]string{"config", "lock", "--help"}, "Usage: swage config lock"},
		{[]string{"runs", "show", "--help"}, "Usage: swage runs show"},
		{[]string{"system", "serve", "--help"}, "Usage: swage system serve"},
		{[]string{"run", "--help"}, "Usage: swage pipeline run"},
	}
	for _, tc := range cases {
		out, code := captureOutputWithExitCode(t, func() int {
			return runCLI(tc.args)
		})
		if code != 0 {
			t.Fatalf("%v: expected exit 0, got %d", tc.args, code)
		}
		if !strings.Contains(out, tc.want) {
			t.Fatalf("%v: expected %q, got: %q", tc.args, tc.want, out)
		}
	}
}

func TestUnknownNounActionFails(t *testing.T) {
	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "frobnicate"})
	})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(out, "Unknown config action: frobnicate") {
		t.Fatalf("expected unknown-action error, got: %q", out)
	}
}

// --- steps ---

func TestRunStepsListHuman(t *testing.T) {
	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"steps", "list"})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	for _, want := range []string{"download", "basic_cleaning", "test_regression_model", "catalog", "local"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got: %q", want, out)
		}
	}
}

func TestRunStepsListJSON(t *testing.T) {
	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"steps", "list", "--json"})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}

	var entries []struct {
		Name              string `json:"name"`
		Source            string `json:"source"`
		Location          string `json:"location"`
		IncludedByDefault bool   `json:"included_by_default"`
	}
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("unmarshal steps JSON: %v (output: %q)", err, out)
	}
	if len(entries) != 6 {
		t.Fatalf("expected 6 steps, got %d", len(entries))
	}
	if entries[0].Name != "download" || entries[0].Source != "catalog" || entries[0].Location != "get_data" {
		t.Fatalf("unexpected first step: %+v", entries[0])
	}
	last := entries[len(entries)-1]
	if last.Name != "test_regression_model" || last.IncludedByDefault {
		t.Fatalf("expected acceptance step excluded by default, got: %+v", last)
	}
}

// --- config check ---

func TestRunConfigCheckValidConfig(t *testing.T) {
	fx := writeConfigFixture(t)
	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", fx.ConfigPath})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (output: %q)", code, out)
	}
	if !strings.Contains(out, "Configuration valid.") {
		t.Fatalf("expected valid report, got: %q", out)
	}
}

func TestRunConfigCheckJSON(t *testing.T) {
	fx := writeConfigFixture(t)
	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", fx.ConfigPath, "--json"})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (output: %q)", code, out)
	}
	var result struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("unmarshal check JSON: %v (output: %q)", err, out)
	}
	if !result.Valid {
		t.Fatalf("expected valid=true, got: %q", out)
	}
}

func TestRunConfigCheckUnknownStep(t *testing.T) {
	fx := writeConfigFixture(t)
	rewriteFixture(t, fx.ConfigPath, "steps: all", `steps: "download,bogus"`)

	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", fx.ConfigPath})
	})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d (output: %q)", code, out)
	}
	if !strings.Contains(out, "ERROR [steps]") || !strings.Contains(out, "bogus") {
		t.Fatalf("expected unknown-step error, got: %q", out)
	}
}

func TestRunConfigCheckStrictWarnings(t *testing.T) {
	fx := writeConfigFixture(t)
	if err := os.Remove(filepath.Join(fx.StepsDir, "data_check", "MLproject")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", fx.ConfigPath})
	})
	if code != 0 {
		t.Fatalf("warnings without --strict: expected exit 0, got %d (output: %q)", code, out)
	}
	if !strings.Contains(out, "WARN") {
		t.Fatalf("expected warning in report, got: %q", out)
	}

	_, code = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", fx.ConfigPath, "--strict"})
	})
	if code != 2 {
		t.Fatalf("warnings with --strict: expected exit 2, got %d", code)
	}
}

// --- config show / get / set ---

func TestRunConfigShowRendersEffectiveConfig(t *testing.T) {
	fx := writeConfigFixture(t)

	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "show", "--config", fx.ConfigPath})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (output: %q)", code, out)
	}
	for _, want := range []string{"project_name: nyc_airbnb", "log_level: error"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got: %q", want, out)
		}
	}

	out, code = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "show", "etl", "--config", fx.ConfigPath})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (output: %q)", code, out)
	}
	if !strings.Contains(out, "min_price: 10") {
		t.Fatalf("expected etl section, got: %q", out)
	}
}

func TestRunConfigGetReadsValue(t *testing.T) {
	fx := writeConfigFixture(t)

	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "get", "modeling.test_size", "--config", fx.ConfigPath})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (output: %q)", code, out)
	}
	if strings.TrimSpace(out) != "0.2" {
		t.Fatalf("expected bare value 0.2, got: %q", out)
	}

	out, code = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "get", "modeling.test_size", "--config", fx.ConfigPath, "--json"})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (output: %q)", code, out)
	}
	var payload struct {
		Key   string  `json:"key"`
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("unmarshal get JSON: %v (output: %q)", err, out)
	}
	if payload.Key != "modeling.test_size" || payload.Value != 0.2 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestRunConfigGetUnknownKey(t *testing.T) {
	fx := writeConfigFixture(t)
	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "get", "modeling.no_such_key", "--config", fx.ConfigPath})
	})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d (output: %q)", code, out)
	}
}

func TestRunConfigSetDryRunByDefault(t *testing.T) {
	fx := writeConfigFixture(t)
	before, err := os.ReadFile(fx.ConfigPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "set", "service.log_level=debug", "--config", fx.ConfigPath})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (output: %q)", code, out)
	}
	if !strings.Contains(out, "Dry run") || !strings.Contains(out, "--apply") {
		t.Fatalf("expected dry-run notice, got: %q", out)
	}

	after, err := os.ReadFile(fx.ConfigPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(before) != string(after) {
		t.Fatal("dry run must not modify the config file")
	}
}

func TestRunConfigSetApplyPersists(t *testing.T) {
	fx := writeConfigFixture(t)

	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "set", "service.log_level=debug", "--config", fx.ConfigPath, "--apply"})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (output: %q)", code, out)
	}
	for _, want := range []string{"Set service.log_level=debug", "Validation: ✓ All checks passed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got: %q", want, out)
		}
	}

	out, code = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "get", "service.log_level", "--config", fx.ConfigPath})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (output: %q)", code, out)
	}
	if strings.TrimSpace(out) != "debug" {
		t.Fatalf("expected persisted value, got: %q", out)
	}
}

func TestRunConfigSetApplyRejectsInvalidValueAndRollsBack(t *testing.T) {
	fx := writeConfigFixture(t)

	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "set", "service.log_level=noisy", "--config", fx.ConfigPath, "--apply"})
	})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d (output: %q)", code, out)
	}
	if !strings.Contains(out, "validation failed") {
		t.Fatalf("expected validation failure, got: %q", out)
	}

	out, code = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "get", "service.log_level", "--config", fx.ConfigPath})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (output: %q)", code, out)
	}
	if strings.TrimSpace(out) != "error" {
		t.Fatalf("expected original value after rollback, got: %q", out)
	}
}

func TestRunConfigSetRejectsMissingEquals(t *testing.T) {
	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "set", "service.log_level"})
	})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(out, "key=value required") {
		t.Fatalf("expected key=value error, got: %q", out)
	}
}

// --- config lock ---

func TestRunConfigLockWritesChecksums(t *testing.T) {
	fx := writeConfigFixture(t)

	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "lock", "--config-dir", fx.ConfigDir, "--verbose"})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (output: %q)", code, out)
	}
	for _, want := range []string{"HASH config.yaml:", "WROTE .checksums:", "Locked configuration in"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got: %q", want, out)
		}
	}
	if _, err := os.Stat(filepath.Join(fx.ConfigDir, ".checksums")); err != nil {
		t.Fatalf("expected .checksums manifest: %v", err)
	}

	// A locked config loads without integrity warnings.
	out, code = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", fx.ConfigPath})
	})
	if code != 0 {
		t.Fatalf("locked config failed to load: %d (output: %q)", code, out)
	}
}

func TestRunConfigLockDryRun(t *testing.T) {
	fx := writeConfigFixture(t)

	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "lock", "--config-dir", fx.ConfigDir, "--dry-run", "--verbose"})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (output: %q)", code, out)
	}
	for _, want := range []string{"DRY-RUN .checksums:", "(not written)", "Dry run completed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got: %q", want, out)
		}
	}
	if _, err := os.Stat(filepath.Join(fx.ConfigDir, ".checksums")); !os.IsNotExist(err) {
		t.Fatalf("dry run must not write .checksums (err=%v)", err)
	}
}

func TestRunConfigLockDetectsTamper(t *testing.T) {
	fx := writeConfigFixture(t)

	_, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "lock", "--config-dir", fx.ConfigDir})
	})
	if code != 0 {
		t.Fatalf("lock failed: %d", code)
	}

	rewriteFixture(t, fx.ConfigPath, "min_price: 10", "min_price: 5")

	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", fx.ConfigPath})
	})
	if code != 1 {
		t.Fatalf("expected exit 1 for tampered config, got %d (output: %q)", code, out)
	}
	if !strings.Contains(out, "swage config lock") {
		t.Fatalf("expected re-lock hint, got: %q", out)
	}
}

// --- runs ---

func TestRunRunsShowRequiresID(t *testing.T) {
	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"runs", "show"})
	})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(out, "run ID required") {
		t.Fatalf("expected missing-ID error, got: %q", out)
	}
}

func TestRunRunsShowLatestEmptyDB(t *testing.T) {
	fx := writeConfigFixture(t)
	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"runs", "show", "latest", "--config", fx.ConfigPath})
	})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d (output: %q)", code, out)
	}
	if !strings.Contains(out, "No runs recorded yet.") {
		t.Fatalf("expected empty-DB message, got: %q", out)
	}
}

func TestRunRunsListEmptyDB(t *testing.T) {
	fx := writeConfigFixture(t)
	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"runs", "list", "--config", fx.ConfigPath})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (output: %q)", code, out)
	}
	if !strings.Contains(out, "No runs recorded yet.") {
		t.Fatalf("expected empty-DB message, got: %q", out)
	}
}

func TestRunsListAndShowSeededRun(t *testing.T) {
	fx := writeConfigFixture(t)

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, fx.StatePath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	store := tracking.New(db)
	gid, err := store.StartGroup(ctx, "nyc_airbnb", "development", "all")
	if err != nil {
		t.Fatalf("StartGroup: %v", err)
	}
	sid, err := store.StartStep(ctx, gid, "download", 0)
	if err != nil {
		t.Fatalf("StartStep: %v", err)
	}
	exitCode := 0
	if err := store.FinishStep(ctx, sid, tracking.StepSucceeded, &exitCode, nil, nil); err != nil {
		t.Fatalf("FinishStep: %v", err)
	}
	if err := store.FinishGroup(ctx, gid, tracking.GroupSucceeded, nil, nil); err != nil {
		t.Fatalf("FinishGroup: %v", err)
	}
	db.Close()

	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"runs", "list", "--config", fx.ConfigPath})
	})
	if code != 0 {
		t.Fatalf("runs list: expected exit 0, got %d (output: %q)", code, out)
	}
	if !strings.Contains(out, gid) || !strings.Contains(out, "succeeded") {
		t.Fatalf("expected seeded run in list, got: %q", out)
	}

	out, code = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"runs", "show", gid, "--config", fx.ConfigPath})
	})
	if code != 0 {
		t.Fatalf("runs show: expected exit 0, got %d (output: %q)", code, out)
	}
	for _, want := range []string{"Run Report", gid, "[1] download (succeeded)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in report, got: %q", want, out)
		}
	}

	out, code = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"runs", "show", "latest", "--config", fx.ConfigPath, "--json"})
	})
	if code != 0 {
		t.Fatalf("runs show latest: expected exit 0, got %d (output: %q)", code, out)
	}
	var report struct {
		GroupID string `json:"group_id"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("unmarshal report JSON: %v (output: %q)", err, out)
	}
	if report.GroupID != gid || report.Status != "succeeded" {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestRunRunsShowUnknownID(t *testing.T) {
	fx := writeConfigFixture(t)
	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"runs", "show", "no-such-group", "--config", fx.ConfigPath})
	})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d (output: %q)", code, out)
	}
	if !strings.Contains(out, "not found") {
		t.Fatalf("expected not-found error, got: %q", out)
	}
}

// --- system status ---

func TestRunSystemStatusHealthy(t *testing.T) {
	fx := writeConfigFixture(t)
	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"system", "status", "--config", fx.ConfigPath})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (output: %q)", code, out)
	}
	for _, want := range []string{"System status: healthy", "config_load", "state_db", "run_lock"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got: %q", want, out)
		}
	}
}

func TestRunSystemStatusReportsActiveRun(t *testing.T) {
	fx := writeConfigFixture(t)
	if err := os.MkdirAll(filepath.Dir(fx.StatePath), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	held, err := lock.AcquirePIDLock(lock.RunLockPath(fx.StatePath))
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}
	defer held.Release()

	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"system", "status", "--config", fx.ConfigPath, "--json"})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (output: %q)", code, out)
	}

	var payload struct {
		Healthy   bool `json:"healthy"`
		ActivePID int  `json:"active_pid"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("unmarshal status JSON: %v (output: %q)", err, out)
	}
	if !payload.Healthy {
		t.Fatalf("an active run is healthy, got: %q", out)
	}
	if payload.ActivePID != os.Getpid() {
		t.Fatalf("expected active_pid %d, got %d", os.Getpid(), payload.ActivePID)
	}
}

func TestRunSystemStatusUnhealthyOnBadConfig(t *testing.T) {
	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"system", "status", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d (output: %q)", code, out)
	}
	if !strings.Contains(out, "System status: unhealthy") {
		t.Fatalf("expected unhealthy status, got: %q", out)
	}
}

// --- pipeline run ---

func TestRunPipelineRunDryRunPrintsPlans(t *testing.T) {
	fx := writeConfigFixture(t)

	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"pipeline", "run", "--dry-run", "--config", fx.ConfigPath})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (output: %q)", code, out)
	}

	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) != 5 {
		t.Fatalf("expected 5 plan lines, got %d: %q", len(lines), out)
	}
	if !strings.Contains(lines[0], "get_data") || !strings.Contains(lines[0], "--run-name download") {
		t.Fatalf("unexpected first plan line: %q", lines[0])
	}
	if !strings.Contains(lines[4], "--run-name train_random_forest") {
		t.Fatalf("unexpected last plan line: %q", lines[4])
	}
	if strings.Contains(out, "test_regression_model") {
		t.Fatalf("acceptance step must not be in the default selection: %q", out)
	}
	if !strings.Contains(out, "-P min_price=10") {
		t.Fatalf("expected resolved cleaning parameter, got: %q", out)
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "sh run ") {
			t.Fatalf("plan line must start with the runner: %q", line)
		}
	}
}

func TestRunPipelineRunDryRunIncludesAcceptanceWhenNamed(t *testing.T) {
	fx := writeConfigFixture(t)

	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"pipeline", "run", "--dry-run", "--steps", "test_regression_model", "--config", fx.ConfigPath})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (output: %q)", code, out)
	}
	if !strings.Contains(out, "--run-name test_regression_model") {
		t.Fatalf("expected acceptance step plan, got: %q", out)
	}
}

func TestRunPipelineRunRejectsUnknownStep(t *testing.T) {
	fx := writeConfigFixture(t)

	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"pipeline", "run", "--steps", "bogus", "--config", fx.ConfigPath})
	})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d (output: %q)", code, out)
	}
	if !strings.Contains(out, `unknown step "bogus"`) {
		t.Fatalf("expected unknown-step error, got: %q", out)
	}
}

func TestRunPipelineRunStepsPickConflict(t *testing.T) {
	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"pipeline", "run", "--steps", "download", "--pick"})
	})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(out, "only one of --steps or --pick") {
		t.Fatalf("expected conflict error, got: %q", out)
	}
}

func TestRunPipelineRunStubRunnerHappyPath(t *testing.T) {
	fx := writeConfigFixture(t)

	stub := filepath.Join(fx.Root, "bin", "runner.sh")
	if err := os.MkdirAll(filepath.Dir(stub), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(stub, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	rewriteFixture(t, fx.ConfigPath, "runner: sh", "runner: "+stub)

	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"run", "--config", fx.ConfigPath})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (output: %q)", code, out)
	}
	if !strings.Contains(out, "Pipeline completed: 5 step(s)") {
		t.Fatalf("expected completion summary, got: %q", out)
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, fx.StatePath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer db.Close()
	store := tracking.New(db)

	group, err := store.LatestGroup(ctx)
	if err != nil {
		t.Fatalf("LatestGroup: %v", err)
	}
	if group == nil {
		t.Fatal("expected a recorded run group")
	}
	if group.Status != tracking.GroupSucceeded {
		t.Fatalf("expected succeeded group, got %s", group.Status)
	}
	steps, err := store.StepsForGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("StepsForGroup: %v", err)
	}
	if len(steps) != 5 {
		t.Fatalf("expected 5 recorded steps, got %d", len(steps))
	}
	if steps[0].Step != "download" || steps[4].Step != "train_random_forest" {
		t.Fatalf("unexpected step order: first=%s last=%s", steps[0].Step, steps[4].Step)
	}

	entries, err := os.ReadDir(fx.ScratchDir)
	if err != nil {
		t.Fatalf("ReadDir scratch: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected scratch dir cleaned after run, found %d entries", len(entries))
	}
}

func TestRunPipelineRunHeldLockFails(t *testing.T) {
	fx := writeConfigFixture(t)
	if err := os.MkdirAll(filepath.Dir(fx.StatePath), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	held, err := lock.AcquirePIDLock(lock.RunLockPath(fx.StatePath))
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}
	defer held.Release()

	out, code := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"pipeline", "run", "--config", fx.ConfigPath})
	})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d (output: %q)", code, out)
	}
	if !strings.Contains(out, "another run is already in progress") {
		t.Fatalf("expected lock-held error, got: %q", out)
	}
}
