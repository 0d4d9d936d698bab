package invoke

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Entry point and version pins shared by every invocation. Remote
// components are always fetched at the main ref; nothing in the
// pipeline selects floating versions.
const (
	EntryPointMain = "main"
	VersionMain    = "main"
)

// Environment manager modes passed to the runner.
const (
	// EnvManagerConda builds a fresh dependency environment from the
	// component's declaration before running it.
	EnvManagerConda = "conda"
	// EnvManagerLocal runs the step with the caller's environment as-is.
	EnvManagerLocal = "local"
)

// Plan is the fully resolved description of one step invocation: what
// the runner will execute, where the code comes from, and with which
// parameters. Plans are recorded alongside run history and rendered by
// dry runs, so they carry everything needed to reproduce the argv.
type Plan struct {
	Step       string            `json:"step"`
	URI        string            `json:"uri"`
	Version    string            `json:"version,omitempty"`
	EntryPoint string            `json:"entry_point"`
	EnvManager string            `json:"env_manager"`
	RunName    string            `json:"run_name"`
	Params     map[string]string `json:"parameters,omitempty"`
	ExtraEnv   map[string]string `json:"env,omitempty"`
}

// Args renders the runner arguments for this plan. Parameters are
// emitted in sorted key order so the argv is deterministic.
func (p *Plan) Args() []string {
	args := []string{"run", p.URI}
	if p.Version != "" {
		args = append(args, "-v", p.Version)
	}
	args = append(args,
		"-e", p.EntryPoint,
		"--env-manager", p.EnvManager,
		"--run-name", p.RunName,
	)
	for _, k := range sortedKeys(p.Params) {
		args = append(args, "-P", k+"="+p.Params[k])
	}
	return args
}

// CommandLine renders the full command for display.
func (p *Plan) CommandLine(runner string) string {
	return runner + " " + strings.Join(p.Args(), " ")
}

// EnvList renders ExtraEnv as KEY=value pairs in sorted key order.
func (p *Plan) EnvList() []string {
	out := make([]string, 0, len(p.ExtraEnv))
	for _, k := range sortedKeys(p.ExtraEnv) {
		out = append(out, k+"="+p.ExtraEnv[k])
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EncodePlan serializes a Plan to JSON and writes it to w.
func EncodePlan(w io.Writer, p *Plan) error {
	if err := validatePlan(p); err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(p); err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}

	return nil
}

// DecodePlan reads and deserializes a Plan from JSON in r.
func DecodePlan(r io.Reader) (*Plan, error) {
	var p Plan

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}

	if err := validatePlan(&p); err != nil {
		return nil, err
	}

	return &p, nil
}

func validatePlan(p *Plan) error {
	if p.Step == "" {
		return fmt.Errorf("plan missing required field: step")
	}
	if p.URI == "" {
		return fmt.Errorf("plan missing required field: uri")
	}
	if p.EntryPoint == "" {
		return fmt.Errorf("plan missing required field: entry_point")
	}
	if p.EnvManager != EnvManagerConda && p.EnvManager != EnvManagerLocal {
		return fmt.Errorf("invalid env_manager %q (must be %q or %q)", p.EnvManager, EnvManagerConda, EnvManagerLocal)
	}
	if p.RunName == "" {
		return fmt.Errorf("plan missing required field: run_name")
	}
	return nil
}
