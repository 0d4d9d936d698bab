package tracking

import (
	"errors"
	"time"
)

type GroupStatus string

const (
	GroupRunning   GroupStatus = "running"
	GroupSucceeded GroupStatus = "succeeded"
	GroupFailed    GroupStatus = "failed"
)

type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// RunGroup is one pipeline execution: a selection of steps sharing a
// run group name and a scratch directory.
type RunGroup struct {
	ID          string
	Project     string
	Experiment  string
	Selection   string
	Status      GroupStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	FailedStep  *string
	LastError   *string
}

// StepRun is one step execution within a run group.
type StepRun struct {
	ID          string
	GroupID     string
	Step        string
	Position    int
	Status      StepStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	ExitCode    *int
	LastError   *string
	Stderr      *string
}

var (
	ErrGroupNotFound   = errors.New("run group not found")
	ErrStepRunNotFound = errors.New("step run not found")
)
