package invoke

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/swage/internal/catalog"
	"github.com/mattjoyce/swage/internal/log"
	"github.com/mattjoyce/swage/internal/step"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

func writeStubRunner(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runner.sh")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write stub runner: %v", err)
	}
	return path
}

func testInvoker(t *testing.T, runner string) *Invoker {
	t.Helper()
	repo, err := catalog.ParseRepoRef("https://github.com/acme/pipeline.git#components")
	if err != nil {
		t.Fatal(err)
	}
	inv, err := New(Options{
		Runner:     runner,
		StepsDir:   filepath.Join(t.TempDir(), "src"),
		Repository: repo,
		Project:    "nyc_airbnb",
		RunGroup:   "development",
		Stdout:     io.Discard,
		Stderr:     io.Discard,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return inv
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(Options{StepsDir: "/x"}); err == nil {
		t.Error("New() without runner succeeded")
	}
	if _, err := New(Options{Runner: "mlflow"}); err == nil {
		t.Error("New() without steps dir succeeded")
	}
}

func TestBuildPlanCatalogStep(t *testing.T) {
	inv := testInvoker(t, "mlflow")

	s, _ := step.DefaultRegistry().Get("download")
	plan, err := inv.BuildPlan(s, map[string]string{"sample": "sample1.csv"})
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}

	if plan.URI != "https://github.com/acme/pipeline.git#components/get_data" {
		t.Errorf("URI = %q", plan.URI)
	}
	if plan.Version != "main" {
		t.Errorf("Version = %q, want main", plan.Version)
	}
	if plan.EnvManager != EnvManagerConda {
		t.Errorf("EnvManager = %q, want conda", plan.EnvManager)
	}
	if plan.RunName != "download" {
		t.Errorf("RunName = %q, want the step name", plan.RunName)
	}
	if plan.ExtraEnv["WANDB_PROJECT"] != "nyc_airbnb" {
		t.Errorf("WANDB_PROJECT = %q", plan.ExtraEnv["WANDB_PROJECT"])
	}
	if plan.ExtraEnv["WANDB_RUN_GROUP"] != "development" {
		t.Errorf("WANDB_RUN_GROUP = %q", plan.ExtraEnv["WANDB_RUN_GROUP"])
	}
}

func TestBuildPlanLocalStep(t *testing.T) {
	inv := testInvoker(t, "mlflow")

	s, _ := step.DefaultRegistry().Get("basic_cleaning")
	plan, err := inv.BuildPlan(s, nil)
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}

	if !filepath.IsAbs(plan.URI) {
		t.Errorf("local URI %q is not absolute", plan.URI)
	}
	if filepath.Base(plan.URI) != "basic_cleaning" {
		t.Errorf("URI = %q, want path ending in basic_cleaning", plan.URI)
	}
	if plan.Version != "" {
		t.Errorf("Version = %q, want empty for local step", plan.Version)
	}
	if plan.EnvManager != EnvManagerLocal {
		t.Errorf("EnvManager = %q, want local", plan.EnvManager)
	}
}

func TestInvokePassesArgsAndEnv(t *testing.T) {
	outDir := t.TempDir()
	t.Setenv("SWAGE_TEST_OUT", outDir)

	script := `#!/bin/bash
printf '%s\n' "$@" > "$SWAGE_TEST_OUT/args.txt"
printf '%s\n%s\n' "$WANDB_PROJECT" "$WANDB_RUN_GROUP" > "$SWAGE_TEST_OUT/env.txt"
`
	inv := testInvoker(t, writeStubRunner(t, script))

	s, _ := step.DefaultRegistry().Get("download")
	plan, err := inv.BuildPlan(s, map[string]string{"sample": "sample1.csv"})
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}

	if err := inv.Invoke(context.Background(), plan); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	args, err := os.ReadFile(filepath.Join(outDir, "args.txt"))
	if err != nil {
		t.Fatalf("stub did not record args: %v", err)
	}
	gotArgs := strings.Split(strings.TrimSpace(string(args)), "\n")
	wantArgs := []string{
		"run", "https://github.com/acme/pipeline.git#components/get_data",
		"-v", "main",
		"-e", "main",
		"--env-manager", "conda",
		"--run-name", "download",
		"-P", "sample=sample1.csv",
	}
	if len(gotArgs) != len(wantArgs) {
		t.Fatalf("stub saw %d args, want %d: %v", len(gotArgs), len(wantArgs), gotArgs)
	}
	for i := range wantArgs {
		if gotArgs[i] != wantArgs[i] {
			t.Errorf("arg[%d] = %q, want %q", i, gotArgs[i], wantArgs[i])
		}
	}

	env, err := os.ReadFile(filepath.Join(outDir, "env.txt"))
	if err != nil {
		t.Fatalf("stub did not record env: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(env)), "\n")
	if len(lines) != 2 || lines[0] != "nyc_airbnb" || lines[1] != "development" {
		t.Errorf("child env = %v, want tracker routing vars", lines)
	}
}

func TestInvokeFailurePropagatesUnchanged(t *testing.T) {
	script := `#!/bin/bash
echo "could not fetch artifact sample.csv:latest" >&2
exit 3
`
	inv := testInvoker(t, writeStubRunner(t, script))

	s, _ := step.DefaultRegistry().Get("basic_cleaning")
	plan, err := inv.BuildPlan(s, nil)
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}

	err = inv.Invoke(context.Background(), plan)
	if err == nil {
		t.Fatal("Run() succeeded, want failure")
	}

	var stepErr *StepExecutionError
	if !errors.As(err, &stepErr) {
		t.Fatalf("error = %T %v, want StepExecutionError", err, err)
	}
	if stepErr.Step != "basic_cleaning" {
		t.Errorf("Step = %q", stepErr.Step)
	}
	if stepErr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", stepErr.ExitCode)
	}
	if !strings.Contains(stepErr.Stderr, "could not fetch artifact") {
		t.Errorf("Stderr = %q, want captured diagnostic", stepErr.Stderr)
	}
}

func TestInvokeCapsStderr(t *testing.T) {
	script := `#!/bin/bash
for i in $(seq 1 4000); do
  echo "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx" >&2
done
exit 1
`
	inv := testInvoker(t, writeStubRunner(t, script))

	s, _ := step.DefaultRegistry().Get("basic_cleaning")
	plan, _ := inv.BuildPlan(s, nil)

	err := inv.Invoke(context.Background(), plan)
	var stepErr *StepExecutionError
	if !errors.As(err, &stepErr) {
		t.Fatalf("error = %v, want StepExecutionError", err)
	}
	if len(stepErr.Stderr) != maxStderrBytes {
		t.Errorf("len(Stderr) = %d, want capped at %d", len(stepErr.Stderr), maxStderrBytes)
	}
}

func TestInvokeCancelledContext(t *testing.T) {
	script := `#!/bin/bash
sleep 30
`
	inv := testInvoker(t, writeStubRunner(t, script))

	s, _ := step.DefaultRegistry().Get("basic_cleaning")
	plan, _ := inv.BuildPlan(s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- inv.Invoke(ctx, plan)
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
}
