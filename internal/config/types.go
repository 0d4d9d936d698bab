package config

import "gopkg.in/yaml.v3"

// Config represents the complete swage configuration.
type Config struct {
	Main      MainConfig      `yaml:"main"`
	ETL       ETLConfig       `yaml:"etl"`
	DataCheck DataCheckConfig `yaml:"data_check"`
	Modeling  ModelingConfig  `yaml:"modeling"`
	Service   ServiceConfig   `yaml:"service"`
	API       APIConfig       `yaml:"api,omitempty"`

	// ConfigDir is set when the config was loaded from a directory.
	ConfigDir string `yaml:"-"`
	// SourceFiles maps absolute file paths to their parsed YAML trees,
	// retained for `config set` round-trips.
	SourceFiles map[string]*yaml.Node `yaml:"-"`

	// raw is the merged pre-struct view of every loaded file. Presence
	// checks (Has, required keys) consult it because struct zero values
	// cannot distinguish "absent" from "explicitly zero".
	raw map[string]any
}

// MainConfig identifies the pipeline run and what it executes.
type MainConfig struct {
	ProjectName          string `yaml:"project_name"`
	ExperimentName       string `yaml:"experiment_name"`
	Steps                string `yaml:"steps"`
	ComponentsRepository string `yaml:"components_repository"`
}

// ETLConfig parameterizes the download and cleaning steps.
type ETLConfig struct {
	Sample   string  `yaml:"sample"`
	MinPrice float64 `yaml:"min_price"`
	MaxPrice float64 `yaml:"max_price"`
}

// DataCheckConfig parameterizes the data validation step.
type DataCheckConfig struct {
	KLThreshold float64 `yaml:"kl_threshold"`
}

// ModelingConfig parameterizes the split, training and testing steps.
// RandomForest is free-form: it is serialized verbatim for the trainer.
type ModelingConfig struct {
	TestSize         float64        `yaml:"test_size"`
	RandomSeed       int            `yaml:"random_seed"`
	StratifyBy       string         `yaml:"stratify_by"`
	ValSize          float64        `yaml:"val_size"`
	MaxTfidfFeatures int            `yaml:"max_tfidf_features"`
	RandomForest     map[string]any `yaml:"random_forest"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
	StatePath  string `yaml:"state_path"`
	StepsDir   string `yaml:"steps_dir"`
	Runner     string `yaml:"runner"`
	ScratchDir string `yaml:"scratch_dir,omitempty"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// Defaults returns a Config with the ambient defaults filled in. The
// pipeline sections (main, etl, data_check, modeling) deliberately have
// no defaults: every required key must come from the loaded files.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			LogLevel:  "info",
			LogFormat: "json",
			StatePath: "./data/swage.db",
			StepsDir:  "./src",
			Runner:    "mlflow",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
			Auth: APIAuthConfig{
				APIKey: "",
			},
		},
	}
}

// RequiredKeys lists the dotted paths that must be present in any loaded
// configuration. Load fails with MissingKeyError on the first absence.
func RequiredKeys() []string {
	return []string{
		"main.project_name",
		"main.experiment_name",
		"main.steps",
		"main.components_repository",
		"etl.sample",
		"etl.min_price",
		"etl.max_price",
		"data_check.kl_threshold",
		"modeling.test_size",
		"modeling.random_seed",
		"modeling.stratify_by",
		"modeling.val_size",
		"modeling.max_tfidf_features",
		"modeling.random_forest",
	}
}
