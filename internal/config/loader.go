package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file or directory.
// A directory composes config.yaml with overlays/*.yaml (see LoadDir).
func Load(configPath string) (*Config, error) {
	return loadPath(configPath, true)
}

// loadPath is the shared implementation. verifyHashes is disabled only by
// persistWithValidation, which must validate a just-written candidate that
// has not been re-locked yet.
func loadPath(configPath string, verifyHashes bool) (*Config, error) {
	// Resolve to absolute path for consistent relative path resolution
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		cfg, _, err := loadDir(absPath, verifyHashes)
		return cfg, err
	}

	// Hash-verify against a sibling .checksums manifest when one exists.
	if verifyHashes {
		if err := verifyFileAgainstManifest(absPath); err != nil {
			return nil, err
		}
	}

	raw, node, err := loadRawFile(absPath)
	if err != nil {
		return nil, err
	}

	cfg, err := buildConfig(raw)
	if err != nil {
		return nil, err
	}
	cfg.ConfigDir = filepath.Dir(absPath)
	cfg.SourceFiles = map[string]*yaml.Node{absPath: node}

	return cfg, nil
}

// loadRawFile reads a YAML file, interpolates env vars, and parses it into
// the generic map form used for merging and presence checks. The returned
// node is parsed from the original bytes (no interpolation) so that
// `config set` round-trips preserve ${VAR} placeholders.
func loadRawFile(path string) (map[string]any, *yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	interpolated := interpolateEnv(string(data))

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(interpolated), &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if raw == nil {
		raw = make(map[string]any)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return raw, &node, nil
}

// buildConfig converts the merged raw map into the typed Config, applies
// ambient defaults, and runs the fail-fast checks.
func buildConfig(raw map[string]any) (*Config, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to re-marshal merged config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse merged config: %w", err)
	}
	cfg.raw = raw

	applyConfigDefaults(&cfg)

	if err := checkRequiredKeys(raw); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// deepMergeMap merges src into dst. Nested maps merge recursively; any
// other value from src replaces the destination wholesale.
func deepMergeMap(dst, src map[string]any) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				deepMergeMap(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}

// verifyFileAgainstManifest checks a single config file against the
// .checksums manifest in its directory. A missing manifest skips
// verification; a manifest that does not list the file is an error.
func verifyFileAgainstManifest(path string) error {
	dir := filepath.Dir(path)
	manifest, err := LoadChecksums(dir)
	if err != nil {
		// No .checksums here; nothing to verify against.
		return nil
	}

	name := filepath.Base(path)
	expectedHash, ok := manifest.Hashes[name]
	if !ok {
		return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
			"Run: swage config lock --config-dir %s", name, dir, dir)
	}

	if err := VerifyFileHash(path, expectedHash); err != nil {
		return fmt.Errorf("config verification failed for %s: %w\n"+
			"This indicates tampering or unauthorized modification.\n"+
			"If you edited this file intentionally, run: swage config lock --config-dir %s", path, err, dir)
	}

	return nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.StatePath == "" {
		cfg.Service.StatePath = defaults.Service.StatePath
	}
	if cfg.Service.StepsDir == "" {
		cfg.Service.StepsDir = defaults.Service.StepsDir
	}
	if cfg.Service.Runner == "" {
		cfg.Service.Runner = defaults.Service.Runner
	}

	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API = defaults.API
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
}

// checkRequiredKeys enforces the fail-fast contract: every key in
// RequiredKeys must be present in the merged raw view.
func checkRequiredKeys(raw map[string]any) error {
	for _, key := range RequiredKeys() {
		if _, err := getValue(raw, key); err != nil {
			return &MissingKeyError{Key: key}
		}
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		// Extract variable name from ${VAR}
		varName := envVarPattern.FindStringSubmatch(match)[1]

		// Look up environment variable
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}

		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Service.StatePath == "" {
		return fmt.Errorf("service.state_path is required")
	}

	if cfg.Service.StepsDir == "" {
		return fmt.Errorf("service.steps_dir is required")
	}

	if cfg.Service.Runner == "" {
		return fmt.Errorf("service.runner is required")
	}

	if cfg.Main.Steps == "" {
		return fmt.Errorf("main.steps must not be empty (use \"all\" for the default selection)")
	}

	// API auth validation
	if cfg.API.Enabled {
		if envVarPattern.MatchString(cfg.API.Auth.APIKey) {
			matches := envVarPattern.FindStringSubmatch(cfg.API.Auth.APIKey)
			if len(matches) > 1 {
				return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", matches[1])
			}
			return fmt.Errorf("api.auth.api_key: unresolved environment variable")
		}
	}

	// Unresolved placeholders in the pipeline sections would otherwise
	// flow into step parameters verbatim.
	for _, section := range []string{"main", "etl", "data_check", "modeling"} {
		sub, ok := cfg.raw[section].(map[string]any)
		if !ok {
			continue
		}
		if err := checkUnresolvedEnvVars(sub, section); err != nil {
			return err
		}
	}

	return nil
}

// checkUnresolvedEnvVars recursively checks for ${VAR} placeholders in config values.
func checkUnresolvedEnvVars(data map[string]any, prefix string) error {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if envVarPattern.MatchString(v) {
				// Extract variable name for better error message
				matches := envVarPattern.FindStringSubmatch(v)
				if len(matches) > 1 {
					return fmt.Errorf("%s.%s: environment variable ${%s} is not set", prefix, key, matches[1])
				}
				return fmt.Errorf("%s.%s: unresolved environment variable", prefix, key)
			}
		case map[string]any:
			if err := checkUnresolvedEnvVars(v, prefix+"."+key); err != nil {
				return err
			}
		}
	}
	return nil
}
