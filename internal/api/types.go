package api

import "time"

// StartRunRequest is the JSON body for POST /api/v1/runs.
type StartRunRequest struct {
	// Steps is a selection string: "all" or a comma-separated list of
	// step names. Empty falls back to the configured default.
	Steps string `json:"steps,omitempty"`
}

// StartRunResponse is returned when a run was accepted.
type StartRunResponse struct {
	GroupID   string `json:"group_id,omitempty"`
	Status    string `json:"status"`
	Selection string `json:"selection,omitempty"`
}

// StepSummary is one pipeline step in GET /api/v1/steps.
type StepSummary struct {
	Name              string `json:"name"`
	Source            string `json:"source"`
	Location          string `json:"location"`
	IncludedByDefault bool   `json:"included_by_default"`
	Description       string `json:"description,omitempty"`
}

// StepListResponse is returned by GET /api/v1/steps.
type StepListResponse struct {
	Steps []StepSummary `json:"steps"`
}

// RunSummary is one run group in GET /api/v1/runs.
type RunSummary struct {
	GroupID     string     `json:"group_id"`
	Project     string     `json:"project"`
	Experiment  string     `json:"experiment"`
	Selection   string     `json:"selection"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedStep  string     `json:"failed_step,omitempty"`
}

// RunListResponse is returned by GET /api/v1/runs.
type RunListResponse struct {
	Runs []RunSummary `json:"runs"`
}

// StepRunDetail is one step execution in GET /api/v1/runs/{groupID}.
type StepRunDetail struct {
	Step        string     `json:"step"`
	Position    int        `json:"position"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// RunDetailResponse is returned by GET /api/v1/runs/{groupID}.
type RunDetailResponse struct {
	GroupID     string          `json:"group_id"`
	Project     string          `json:"project"`
	Experiment  string          `json:"experiment"`
	Selection   string          `json:"selection"`
	Status      string          `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	FailedStep  string          `json:"failed_step,omitempty"`
	Error       string          `json:"error,omitempty"`
	Steps       []StepRunDetail `json:"steps"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	Phase         string `json:"phase"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	StepsLoaded   int    `json:"steps_loaded"`
}
