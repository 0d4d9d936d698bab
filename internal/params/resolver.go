// Package params materializes the exact parameter set each pipeline
// step receives. Builders are per step: a step gets precisely the keys
// its component declares, nothing is forwarded wholesale.
package params

import (
	"fmt"
	"strconv"

	"github.com/mattjoyce/swage/internal/artifact"
	"github.com/mattjoyce/swage/internal/config"
	"github.com/mattjoyce/swage/internal/step"
	"github.com/mattjoyce/swage/internal/workspace"
)

// Resolver builds step parameters from the loaded configuration.
type Resolver struct {
	cfg *config.Config
}

// NewResolver creates a resolver over cfg. The config has already been
// validated for the required keys, so builders read fields directly.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// For returns the parameter map for one step. The workspace is where
// side files (the serialized random forest block) are materialized; its
// paths are only ever passed as absolute paths.
func (r *Resolver) For(s step.Step, ws workspace.Workspace) (map[string]string, error) {
	switch s.Name {
	case "download":
		return r.download(), nil
	case "basic_cleaning":
		return r.basicCleaning(), nil
	case "data_check":
		return r.dataCheck(), nil
	case "data_split":
		return r.dataSplit(), nil
	case "train_random_forest":
		return r.trainRandomForest(ws)
	case "test_regression_model":
		return r.testRegressionModel(), nil
	default:
		return nil, fmt.Errorf("no parameters defined for step %q", s.Name)
	}
}

func (r *Resolver) download() map[string]string {
	return map[string]string{
		"sample":               r.cfg.ETL.Sample,
		"artifact_name":        artifact.RawSample,
		"artifact_type":        "raw_data",
		"artifact_description": "Raw file as downloaded",
	}
}

func (r *Resolver) basicCleaning() map[string]string {
	return map[string]string{
		"input_artifact":     artifact.Latest(artifact.RawSample).String(),
		"output_artifact":    artifact.CleanSample,
		"output_type":        "clean_data",
		"output_description": "Data with outliers and null values removed",
		"min_price":          formatFloat(r.cfg.ETL.MinPrice),
		"max_price":          formatFloat(r.cfg.ETL.MaxPrice),
	}
}

func (r *Resolver) dataCheck() map[string]string {
	return map[string]string{
		"csv":          artifact.Latest(artifact.CleanSample).String(),
		"ref":          artifact.Tagged(artifact.CleanSample, artifact.TagReference).String(),
		"kl_threshold": formatFloat(r.cfg.DataCheck.KLThreshold),
		"min_price":    formatFloat(r.cfg.ETL.MinPrice),
		"max_price":    formatFloat(r.cfg.ETL.MaxPrice),
	}
}

func (r *Resolver) dataSplit() map[string]string {
	return map[string]string{
		"input":       artifact.Latest(artifact.CleanSample).String(),
		"test_size":   formatFloat(r.cfg.Modeling.TestSize),
		"random_seed": formatInt(r.cfg.Modeling.RandomSeed),
		"stratify_by": r.cfg.Modeling.StratifyBy,
	}
}

func (r *Resolver) trainRandomForest(ws workspace.Workspace) (map[string]string, error) {
	rfPath, err := WriteRFConfig(ws, r.cfg.Modeling.RandomForest)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"trainval_artifact":  artifact.Latest(artifact.TrainVal).String(),
		"val_size":           formatFloat(r.cfg.Modeling.ValSize),
		"random_seed":        formatInt(r.cfg.Modeling.RandomSeed),
		"stratify_by":        r.cfg.Modeling.StratifyBy,
		"rf_config":          rfPath,
		"max_tfidf_features": formatInt(r.cfg.Modeling.MaxTfidfFeatures),
		"output_artifact":    artifact.ModelExport,
	}, nil
}

func (r *Resolver) testRegressionModel() map[string]string {
	return map[string]string{
		"mlflow_model": artifact.Tagged(artifact.ModelExport, artifact.TagProd).String(),
		"test_dataset": artifact.Latest(artifact.TestData).String(),
	}
}

// formatFloat renders a float the way it was written in YAML: no
// trailing zeros, integral values without a decimal point.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatInt(v int) string {
	return strconv.Itoa(v)
}
