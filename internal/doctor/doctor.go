// Package doctor validates swage configuration and the step execution
// environment before anything runs.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/mattjoyce/swage/internal/catalog"
	"github.com/mattjoyce/swage/internal/config"
	"github.com/mattjoyce/swage/internal/step"
	"github.com/mattjoyce/swage/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against the step registry and the host.
type Doctor struct {
	cfg      *config.Config
	registry *step.Registry
}

// New creates a Doctor from a loaded config and step registry.
func New(cfg *config.Config, registry *step.Registry) *Doctor {
	return &Doctor{cfg: cfg, registry: registry}
}

// Validate runs all offline checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateRepository(r)
	d.validateSelection(r)
	d.validateLocalSteps(r)
	d.validateRunner(r)
	d.validateStatePath(r)
	d.validateParameters(r)
	d.validateRandomForest(r)
	d.validateAPIConfig(r)

	r.Valid = len(r.Errors) == 0
	return r
}

// Probe checks the components repository over the network and appends
// any failure to r. Kept out of Validate so `config check` stays offline
// by default.
func (d *Doctor) Probe(ctx context.Context, client *http.Client, r *Result) {
	ref, err := catalog.ParseRepoRef(d.cfg.Main.ComponentsRepository)
	if err != nil {
		// validateRepository already reported the parse failure.
		return
	}
	if err := catalog.Probe(ctx, client, ref); err != nil {
		d.addError(r, "catalog", "main.components_repository",
			fmt.Sprintf("components repository unreachable: %v", err))
		r.Valid = false
	}
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateRepository checks that the components repository reference parses.
func (d *Doctor) validateRepository(r *Result) {
	if _, err := catalog.ParseRepoRef(d.cfg.Main.ComponentsRepository); err != nil {
		d.addError(r, "catalog", "main.components_repository",
			fmt.Sprintf("components_repository %q: %v", d.cfg.Main.ComponentsRepository, err))
	}
}

// validateSelection checks that the configured default selection resolves.
func (d *Doctor) validateSelection(r *Result) {
	if _, err := d.registry.Resolve(d.cfg.Main.Steps); err != nil {
		d.addError(r, "steps", "main.steps", err.Error())
	}
}

// validateLocalSteps checks that every locally sourced step has its
// directory under steps_dir, and that the directory looks like a runner
// project.
func (d *Doctor) validateLocalSteps(r *Result) {
	for _, s := range d.registry.All() {
		if s.Source.Kind != step.SourceLocal {
			continue
		}
		dir := filepath.Join(d.cfg.Service.StepsDir, s.Source.Dir)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			d.addError(r, "steps", "service.steps_dir",
				fmt.Sprintf("step %q: directory %q not found", s.Name, dir))
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, "MLproject")); err != nil {
			d.addWarning(r, "steps", "service.steps_dir",
				fmt.Sprintf("step %q: %q has no MLproject file", s.Name, dir))
		}
	}
}

// validateRunner checks that the runner binary is executable from PATH.
func (d *Doctor) validateRunner(r *Result) {
	if _, err := exec.LookPath(d.cfg.Service.Runner); err != nil {
		d.addError(r, "runner", "service.runner",
			fmt.Sprintf("runner %q not found in PATH", d.cfg.Service.Runner))
	}
}

// validateStatePath checks that the tracking database location is usable.
func (d *Doctor) validateStatePath(r *Result) {
	if err := storage.CheckStatePath(d.cfg.Service.StatePath); err != nil {
		d.addError(r, "state", "service.state_path", err.Error())
	}
}

// validateParameters sanity-checks the numeric pipeline parameters.
func (d *Doctor) validateParameters(r *Result) {
	if d.cfg.ETL.MinPrice >= d.cfg.ETL.MaxPrice {
		d.addError(r, "parameters", "etl.min_price",
			fmt.Sprintf("min_price %v must be below max_price %v", d.cfg.ETL.MinPrice, d.cfg.ETL.MaxPrice))
	}
	if d.cfg.DataCheck.KLThreshold <= 0 {
		d.addError(r, "parameters", "data_check.kl_threshold",
			fmt.Sprintf("kl_threshold must be positive (got %v)", d.cfg.DataCheck.KLThreshold))
	}
	if d.cfg.Modeling.TestSize <= 0 || d.cfg.Modeling.TestSize >= 1 {
		d.addError(r, "parameters", "modeling.test_size",
			fmt.Sprintf("test_size must be in (0, 1) (got %v)", d.cfg.Modeling.TestSize))
	}
	if d.cfg.Modeling.ValSize <= 0 || d.cfg.Modeling.ValSize >= 1 {
		d.addError(r, "parameters", "modeling.val_size",
			fmt.Sprintf("val_size must be in (0, 1) (got %v)", d.cfg.Modeling.ValSize))
	}
	if d.cfg.Modeling.MaxTfidfFeatures < 1 {
		d.addError(r, "parameters", "modeling.max_tfidf_features",
			fmt.Sprintf("max_tfidf_features must be at least 1 (got %d)", d.cfg.Modeling.MaxTfidfFeatures))
	}
	if d.cfg.Modeling.StratifyBy == "" {
		d.addWarning(r, "parameters", "modeling.stratify_by",
			"stratify_by is empty; the split will not be stratified")
	}
}

// forestParams mirrors the scikit-learn RandomForestRegressor arguments
// the trainer accepts. The block is forwarded verbatim; decoding it here
// catches typos before they cost a training run.
type forestParams struct {
	NEstimators           int     `mapstructure:"n_estimators"`
	Criterion             string  `mapstructure:"criterion"`
	MaxDepth              int     `mapstructure:"max_depth"`
	MinSamplesSplit       int     `mapstructure:"min_samples_split"`
	MinSamplesLeaf        int     `mapstructure:"min_samples_leaf"`
	MinWeightFractionLeaf float64 `mapstructure:"min_weight_fraction_leaf"`
	MaxFeatures           any     `mapstructure:"max_features"`
	MaxLeafNodes          int     `mapstructure:"max_leaf_nodes"`
	MinImpurityDecrease   float64 `mapstructure:"min_impurity_decrease"`
	Bootstrap             bool    `mapstructure:"bootstrap"`
	OOBScore              bool    `mapstructure:"oob_score"`
	NJobs                 int     `mapstructure:"n_jobs"`
	RandomState           int     `mapstructure:"random_state"`
	Verbose               int     `mapstructure:"verbose"`
	WarmStart             bool    `mapstructure:"warm_start"`
	CCPAlpha              float64 `mapstructure:"ccp_alpha"`
	MaxSamples            float64 `mapstructure:"max_samples"`
}

// validateRandomForest decodes the free-form random_forest block against
// the known trainer parameters. Unknown keys are passed through to the
// trainer anyway, so they only warn.
func (d *Doctor) validateRandomForest(r *Result) {
	block := d.cfg.Modeling.RandomForest
	if block == nil {
		d.addError(r, "modeling", "modeling.random_forest", "random_forest block is missing")
		return
	}

	var meta mapstructure.Metadata
	var fp forestParams
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata: &meta,
		Result:   &fp,
	})
	if err != nil {
		d.addError(r, "modeling", "modeling.random_forest", fmt.Sprintf("build decoder: %v", err))
		return
	}
	if err := dec.Decode(block); err != nil {
		d.addError(r, "modeling", "modeling.random_forest",
			fmt.Sprintf("random_forest block does not decode: %v", err))
		return
	}
	for _, key := range meta.Unused {
		d.addWarning(r, "modeling", "modeling.random_forest."+key,
			fmt.Sprintf("%q is not a recognized trainer parameter; it is forwarded verbatim", key))
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Auth.APIKey == "" {
		d.addWarning(r, "api", "api.auth", "API enabled but no authentication configured")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
