package pipeline

import (
	"context"

	"github.com/mattjoyce/swage/internal/invoke"
	"github.com/mattjoyce/swage/internal/step"
	"github.com/mattjoyce/swage/internal/tracking"
)

//go:generate mockgen -destination=mocks/mock_collaborators.go -package=mocks github.com/mattjoyce/swage/internal/pipeline StepInvoker,Tracker

// StepInvoker builds runner invocations and executes them.
type StepInvoker interface {
	BuildPlan(s step.Step, params map[string]string) (*invoke.Plan, error)
	Invoke(ctx context.Context, plan *invoke.Plan) error
}

// Tracker records run groups and their step runs.
type Tracker interface {
	StartGroup(ctx context.Context, project, experiment, selection string) (string, error)
	StartStep(ctx context.Context, groupID, step string, position int) (string, error)
	FinishStep(ctx context.Context, stepRunID string, status tracking.StepStatus, exitCode *int, lastError, stderr *string) error
	FinishGroup(ctx context.Context, groupID string, status tracking.GroupStatus, failedStep, lastError *string) error
}
