package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/swage/internal/config"
	"github.com/mattjoyce/swage/internal/events"
	"github.com/mattjoyce/swage/internal/invoke"
	"github.com/mattjoyce/swage/internal/log"
	"github.com/mattjoyce/swage/internal/params"
	"github.com/mattjoyce/swage/internal/step"
	"github.com/mattjoyce/swage/internal/tracking"
	"github.com/mattjoyce/swage/internal/workspace"
)

// finishTimeout bounds the detached context used for terminal tracking
// records, which must land even when the run context is already cancelled.
const finishTimeout = 5 * time.Second

// Options wires the driver's collaborators.
type Options struct {
	Config     *config.Config
	Registry   *step.Registry
	Workspaces workspace.Manager
	Resolver   *params.Resolver
	Invoker    StepInvoker
	Tracker    Tracker
	Events     *events.Hub
	Logger     *slog.Logger
}

// Driver executes a selection of pipeline steps strictly in order,
// inside one scratch-directory bracket, recording every run.
type Driver struct {
	cfg        *config.Config
	registry   *step.Registry
	workspaces workspace.Manager
	resolver   *params.Resolver
	invoker    StepInvoker
	tracker    Tracker
	events     *events.Hub
	logger     *slog.Logger

	mu     sync.Mutex
	status Status
}

func New(opts Options) (*Driver, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Workspaces == nil {
		return nil, fmt.Errorf("workspace manager is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if opts.Invoker == nil {
		return nil, fmt.Errorf("invoker is required")
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}
	if opts.Events == nil {
		opts.Events = events.NewHub(128)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithComponent("pipeline")
	}
	return &Driver{
		cfg:        opts.Config,
		registry:   opts.Registry,
		workspaces: opts.Workspaces,
		resolver:   opts.Resolver,
		invoker:    opts.Invoker,
		tracker:    opts.Tracker,
		events:     opts.Events,
		logger:     opts.Logger,
		status:     Status{Phase: PhaseIdle},
	}, nil
}

// Run executes the requested selection ("all", comma-separated names, or ""
// to use the configured default) and blocks until the pipeline finishes.
// The first step failure halts the run; its error is returned unchanged.
func (d *Driver) Run(ctx context.Context, requested string) error {
	selection := requested
	if selection == "" {
		selection = d.cfg.Main.Steps
	}

	d.setStatus(func(st *Status) {
		*st = Status{Phase: PhaseSelecting}
	})

	steps, err := d.registry.Resolve(selection)
	if err != nil {
		d.setStatus(func(st *Status) {
			st.Phase = PhaseFailed
			st.Error = err.Error()
		})
		d.logger.Error("Step selection failed", "selection", selection, "error", err)
		return err
	}

	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}

	groupID, err := d.tracker.StartGroup(ctx, d.cfg.Main.ProjectName, d.cfg.Main.ExperimentName, selection)
	if err != nil {
		d.setStatus(func(st *Status) {
			st.Phase = PhaseFailed
			st.Error = err.Error()
		})
		return fmt.Errorf("record run group: %w", err)
	}

	d.setStatus(func(st *Status) {
		st.GroupID = groupID
		st.Steps = names
	})

	d.logger.Info("Starting pipeline run",
		"run_group_id", groupID,
		"selection", selection,
		"steps", names,
	)
	d.events.Publish("pipeline.started", map[string]any{
		"group_id":   groupID,
		"project":    d.cfg.Main.ProjectName,
		"experiment": d.cfg.Main.ExperimentName,
		"selection":  selection,
		"steps":      names,
	})

	started := time.Now()
	runErr := d.workspaces.With(ctx, groupID, func(ws workspace.Workspace) error {
		d.logger.Debug("Execution context created", "run_group_id", groupID, "dir", ws.Dir)
		for i, s := range steps {
			if err := d.runStep(ctx, groupID, ws, i, s); err != nil {
				return err
			}
		}
		return nil
	})

	fctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	if runErr != nil {
		failedStep := d.Status().Step
		msg := runErr.Error()
		var fs *string
		if failedStep != "" {
			fs = &failedStep
		}
		if err := d.tracker.FinishGroup(fctx, groupID, tracking.GroupFailed, fs, &msg); err != nil {
			d.logger.Warn("Could not record run group failure", "run_group_id", groupID, "error", err)
		}
		d.events.Publish("pipeline.failed", map[string]any{
			"group_id":    groupID,
			"failed_step": failedStep,
			"error":       msg,
		})
		d.setStatus(func(st *Status) {
			st.Phase = PhaseFailed
			st.Error = msg
		})
		d.logger.Error("Pipeline run failed",
			"run_group_id", groupID,
			"failed_step", failedStep,
			"error", runErr,
		)
		return runErr
	}

	if err := d.tracker.FinishGroup(fctx, groupID, tracking.GroupSucceeded, nil, nil); err != nil {
		d.logger.Warn("Could not record run group completion", "run_group_id", groupID, "error", err)
	}
	d.events.Publish("pipeline.completed", map[string]any{
		"group_id":    groupID,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	d.setStatus(func(st *Status) {
		st.Phase = PhaseDone
		st.Step = ""
	})
	d.logger.Info("Pipeline run completed",
		"run_group_id", groupID,
		"steps", len(steps),
		"duration", time.Since(started).Round(time.Millisecond).String(),
	)
	return nil
}

func (d *Driver) runStep(ctx context.Context, groupID string, ws workspace.Workspace, position int, s step.Step) error {
	d.setStatus(func(st *Status) {
		st.Phase = PhaseExecuting
		st.StepIndex = position
		st.Step = s.Name
	})
	d.logger.Info("Starting step", "run_group_id", groupID, "step", s.Name, "position", position)
	d.events.Publish("step.started", map[string]any{
		"group_id": groupID,
		"step":     s.Name,
		"position": position,
	})

	stepParams, err := d.resolver.For(s, ws)
	if err != nil {
		d.publishStepFailed(groupID, s.Name, position, err, nil)
		return fmt.Errorf("resolve parameters for step %q: %w", s.Name, err)
	}

	plan, err := d.invoker.BuildPlan(s, stepParams)
	if err != nil {
		d.publishStepFailed(groupID, s.Name, position, err, nil)
		return fmt.Errorf("build plan for step %q: %w", s.Name, err)
	}

	stepRunID, err := d.tracker.StartStep(ctx, groupID, s.Name, position)
	if err != nil {
		d.publishStepFailed(groupID, s.Name, position, err, nil)
		return fmt.Errorf("record step start for %q: %w", s.Name, err)
	}

	started := time.Now()
	invokeErr := d.invoker.Invoke(ctx, plan)

	fctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	if invokeErr != nil {
		var exitCode *int
		var stderr *string
		var execErr *invoke.StepExecutionError
		if errors.As(invokeErr, &execErr) {
			exitCode = &execErr.ExitCode
			if execErr.Stderr != "" {
				stderr = &execErr.Stderr
			}
		}
		msg := invokeErr.Error()
		if err := d.tracker.FinishStep(fctx, stepRunID, tracking.StepFailed, exitCode, &msg, stderr); err != nil {
			d.logger.Warn("Could not record step failure", "step", s.Name, "error", err)
		}
		d.publishStepFailed(groupID, s.Name, position, invokeErr, exitCode)
		return invokeErr
	}

	if err := d.tracker.FinishStep(fctx, stepRunID, tracking.StepSucceeded, nil, nil, nil); err != nil {
		d.logger.Warn("Could not record step completion", "step", s.Name, "error", err)
	}
	d.logger.Info("Step completed",
		"run_group_id", groupID,
		"step", s.Name,
		"duration", time.Since(started).Round(time.Millisecond).String(),
	)
	d.events.Publish("step.completed", map[string]any{
		"group_id":    groupID,
		"step":        s.Name,
		"position":    position,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	return nil
}

func (d *Driver) publishStepFailed(groupID, stepName string, position int, cause error, exitCode *int) {
	d.logger.Error("Step failed", "run_group_id", groupID, "step", stepName, "error", cause)
	payload := map[string]any{
		"group_id": groupID,
		"step":     stepName,
		"position": position,
		"error":    cause.Error(),
	}
	if exitCode != nil {
		payload["exit_code"] = *exitCode
	}
	d.events.Publish("step.failed", payload)
}

// Plans walks the selection the way Run would and returns the invocation
// plans without executing anything. Nothing is recorded; the scratch
// directory is created and removed so side files resolve to real paths.
func (d *Driver) Plans(ctx context.Context, requested string) ([]*invoke.Plan, error) {
	selection := requested
	if selection == "" {
		selection = d.cfg.Main.Steps
	}

	steps, err := d.registry.Resolve(selection)
	if err != nil {
		return nil, err
	}

	var plans []*invoke.Plan
	err = d.workspaces.With(ctx, "plan", func(ws workspace.Workspace) error {
		for _, s := range steps {
			stepParams, err := d.resolver.For(s, ws)
			if err != nil {
				return fmt.Errorf("resolve parameters for step %q: %w", s.Name, err)
			}
			plan, err := d.invoker.BuildPlan(s, stepParams)
			if err != nil {
				return fmt.Errorf("build plan for step %q: %w", s.Name, err)
			}
			plans = append(plans, plan)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plans, nil
}
