package step

import "fmt"

// SourceKind distinguishes where a step's code comes from.
type SourceKind string

const (
	// SourceCatalog steps are fetched from the shared components
	// repository at a pinned version and run in a fresh environment.
	SourceCatalog SourceKind = "catalog"
	// SourceLocal steps live under the configured steps directory and
	// run with the caller's environment.
	SourceLocal SourceKind = "local"
)

func (k SourceKind) valid() bool {
	return k == SourceCatalog || k == SourceLocal
}

// Source tells the invoker where to find a step's code. Exactly one of
// Component or Dir is set, matching Kind.
type Source struct {
	Kind      SourceKind
	Component string // catalog component name (Kind == SourceCatalog)
	Dir       string // directory under the steps dir (Kind == SourceLocal)
}

// CatalogSource returns a Source for a shared catalog component.
func CatalogSource(component string) Source {
	return Source{Kind: SourceCatalog, Component: component}
}

// LocalSource returns a Source for a step directory in this repository.
func LocalSource(dir string) Source {
	return Source{Kind: SourceLocal, Dir: dir}
}

func (s Source) validate() error {
	if !s.Kind.valid() {
		return fmt.Errorf("invalid source kind %q (valid: catalog, local)", s.Kind)
	}
	switch s.Kind {
	case SourceCatalog:
		if s.Component == "" {
			return fmt.Errorf("catalog source requires a component name")
		}
		if s.Dir != "" {
			return fmt.Errorf("catalog source must not set a local dir")
		}
	case SourceLocal:
		if s.Dir == "" {
			return fmt.Errorf("local source requires a step directory")
		}
		if s.Component != "" {
			return fmt.Errorf("local source must not set a catalog component")
		}
	}
	return nil
}

// Step declares one stage of the pipeline.
type Step struct {
	Name   string
	Source Source
	// IncludedByDefault controls whether the "all" selection runs this
	// step. Promotion-gated steps (model acceptance) opt out and must be
	// named explicitly.
	IncludedByDefault bool
	Description       string
}

// Defaults returns the built-in pipeline steps in execution order.
func Defaults() []Step {
	return []Step{
		{
			Name:              "download",
			Source:            CatalogSource("get_data"),
			IncludedByDefault: true,
			Description:       "Fetch the raw dataset and publish it as sample.csv",
		},
		{
			Name:              "basic_cleaning",
			Source:            LocalSource("basic_cleaning"),
			IncludedByDefault: true,
			Description:       "Drop price outliers and null rows, publish clean_sample.csv",
		},
		{
			Name:              "data_check",
			Source:            LocalSource("data_check"),
			IncludedByDefault: true,
			Description:       "Validate the cleaned data against the pinned reference set",
		},
		{
			Name:              "data_split",
			Source:            CatalogSource("train_val_test_split"),
			IncludedByDefault: true,
			Description:       "Segregate the test set from the train/validation data",
		},
		{
			Name:              "train_random_forest",
			Source:            LocalSource("train_random_forest"),
			IncludedByDefault: true,
			Description:       "Train the random forest and export the model",
		},
		{
			Name:              "test_regression_model",
			Source:            LocalSource("test_regression_model"),
			IncludedByDefault: false,
			Description:       "Score the production-tagged model against the held-out test set",
		},
	}
}
