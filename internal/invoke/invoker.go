package invoke

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/swage/internal/catalog"
	"github.com/mattjoyce/swage/internal/log"
	"github.com/mattjoyce/swage/internal/step"
)

// maxStderrBytes caps the amount of stderr captured from step execution.
const maxStderrBytes = 64 * 1024

// Options configures an Invoker. Everything the invoker needs is passed
// explicitly; it never reads its configuration from the process
// environment.
type Options struct {
	// Runner is the runner binary, e.g. "mlflow".
	Runner string
	// StepsDir is the root directory containing local step directories.
	StepsDir string
	// Repository locates remote catalog components.
	Repository catalog.RepoRef
	// Project and RunGroup route tracker runs; they are exported to the
	// child as WANDB_PROJECT and WANDB_RUN_GROUP.
	Project  string
	RunGroup string

	// Stdout and Stderr receive the step's live output. Nil defaults to
	// the process's own streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Invoker executes pipeline steps by spawning the runner subprocess.
// It neither retries nor times out: a step runs until it exits, and its
// failure is reported exactly once.
type Invoker struct {
	opts   Options
	logger *slog.Logger
}

// New creates an Invoker from explicit options.
func New(opts Options) (*Invoker, error) {
	if strings.TrimSpace(opts.Runner) == "" {
		return nil, fmt.Errorf("runner is required")
	}
	if strings.TrimSpace(opts.StepsDir) == "" {
		return nil, fmt.Errorf("steps directory is required")
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	return &Invoker{
		opts:   opts,
		logger: log.WithComponent("invoke"),
	}, nil
}

// BuildPlan resolves a step and its parameters into an executable Plan.
// Catalog steps point at the shared repository pinned to the main ref
// and get a fresh dependency environment; local steps point at their
// directory under the steps dir and run with the caller's environment.
func (i *Invoker) BuildPlan(s step.Step, params map[string]string) (*Plan, error) {
	plan := &Plan{
		Step:       s.Name,
		EntryPoint: EntryPointMain,
		RunName:    s.Name,
		Params:     params,
		ExtraEnv: map[string]string{
			"WANDB_PROJECT":   i.opts.Project,
			"WANDB_RUN_GROUP": i.opts.RunGroup,
		},
	}

	switch s.Source.Kind {
	case step.SourceCatalog:
		plan.URI = i.opts.Repository.StepURI(s.Source.Component)
		plan.Version = VersionMain
		plan.EnvManager = EnvManagerConda
	case step.SourceLocal:
		dir, err := filepath.Abs(filepath.Join(i.opts.StepsDir, s.Source.Dir))
		if err != nil {
			return nil, fmt.Errorf("resolve step directory for %q: %w", s.Name, err)
		}
		plan.URI = dir
		plan.EnvManager = EnvManagerLocal
	default:
		return nil, fmt.Errorf("step %q has unknown source kind %q", s.Name, s.Source.Kind)
	}

	return plan, nil
}

// Invoke executes a plan and blocks until the step exits. The child
// inherits the caller's environment plus the plan's tracker routing
// variables. A non-zero exit becomes a StepExecutionError carrying the
// captured stderr; the error is returned as-is, no retry.
func (i *Invoker) Invoke(ctx context.Context, plan *Plan) error {
	if err := validatePlan(plan); err != nil {
		return err
	}

	stderrCap := &cappedWriter{max: maxStderrBytes}

	cmd := exec.CommandContext(ctx, i.opts.Runner, plan.Args()...)
	cmd.Env = append(os.Environ(), plan.EnvList()...)
	cmd.Stdout = i.opts.Stdout
	cmd.Stderr = io.MultiWriter(i.opts.Stderr, stderrCap)

	i.logger.Debug("spawning runner",
		"step", plan.Step,
		"uri", plan.URI,
		"env_manager", plan.EnvManager,
	)

	err := cmd.Run()
	if err == nil {
		i.logger.Info("step completed", "step", plan.Step)
		return nil
	}

	// Cancellation kills the child; report the interruption, not the
	// resulting exit status.
	if ctxErr := ctx.Err(); ctxErr != nil {
		i.logger.Warn("step interrupted", "step", plan.Step, "error", ctxErr)
		return fmt.Errorf("step %q interrupted: %w", plan.Step, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		i.logger.Warn("step exited with non-zero status",
			"step", plan.Step,
			"exit_code", exitErr.ExitCode(),
		)
		return &StepExecutionError{
			Step:     plan.Step,
			ExitCode: exitErr.ExitCode(),
			Stderr:   stderrCap.String(),
		}
	}

	return fmt.Errorf("start runner for step %q: %w", plan.Step, err)
}

// cappedWriter keeps the first max bytes written and discards the rest.
type cappedWriter struct {
	buf bytes.Buffer
	max int
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	if remaining := w.max - w.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			w.buf.Write(p[:remaining])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}

func (w *cappedWriter) String() string {
	return w.buf.String()
}
