package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// LoadDir loads configuration from a config directory: config.yaml plus
// overlays/*.yaml merged in sorted filename order. Overlays are the
// experiment-variation workflow: a later overlay overrides scalars and
// deep-merges mappings from everything before it.
// Returns the compiled config and any integrity warnings.
func LoadDir(configDir string) (*Config, []string, error) {
	return loadDir(configDir, true)
}

func loadDir(configDir string, verifyHashes bool) (*Config, []string, error) {
	// 1. Discover files
	files, err := DiscoverConfigFiles(configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("config discovery: %w", err)
	}

	// 2. Integrity verification
	var warnings []string
	if verifyHashes {
		intResult, err := VerifyIntegrity(files.Root, files)
		if err != nil {
			return nil, nil, fmt.Errorf("integrity check: %w", err)
		}
		if !intResult.Passed {
			return nil, nil, fmt.Errorf("integrity verification failed:\n  %s\nRun 'swage config lock' to authorize the current state",
				joinLines(intResult.Errors))
		}
		warnings = intResult.Warnings
	}

	// 3. Load root config.yaml
	raw, rootNode, err := loadRawFile(files.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config.yaml: %w", err)
	}
	sources := map[string]*yaml.Node{files.Config: rootNode}

	// 4. Merge overlays in sorted order
	for _, path := range files.Overlays {
		overlayRaw, overlayNode, err := loadRawFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load overlay %s: %w", path, err)
		}
		deepMergeMap(raw, overlayRaw)
		sources[path] = overlayNode
	}

	// 5. Build, apply defaults, fail-fast checks
	cfg, err := buildConfig(raw)
	if err != nil {
		return nil, nil, err
	}
	cfg.ConfigDir = files.Root
	cfg.SourceFiles = sources

	return cfg, warnings, nil
}

func joinLines(lines []string) string {
	result := ""
	for i, line := range lines {
		if i > 0 {
			result += "\n  "
		}
		result += line
	}
	return result
}
