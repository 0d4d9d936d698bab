package config

import (
	"fmt"
	"path/filepath"
)

// IntegrityResult collects the outcome of an integrity verification pass.
type IntegrityResult struct {
	Passed   bool
	Errors   []string
	Warnings []string
}

// VerifyIntegrity checks all discovered files against the .checksums manifest.
// A missing manifest is a warning (integrity is opt-in until the first lock);
// once a manifest exists, any unlisted file or hash mismatch is an error.
func VerifyIntegrity(configDir string, files *ConfigFiles) (*IntegrityResult, error) {
	result := &IntegrityResult{Passed: true}

	checksumPath := filepath.Join(configDir, ".checksums")
	manifest, err := LoadChecksums(configDir)
	if err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("no .checksums manifest found at %s; run 'swage config lock' to enable integrity verification", checksumPath))
		return result, nil
	}

	for _, path := range files.AllFiles() {
		name := files.RelName(path)

		expectedHash, inManifest := manifest.Hashes[name]
		if !inManifest {
			result.Passed = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("file %s not in .checksums manifest", name))
			continue
		}

		actualHash, err := ComputeBlake3Hash(path)
		if err != nil {
			result.Passed = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("failed to hash %s: %v", name, err))
			continue
		}

		if actualHash != expectedHash {
			result.Passed = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("hash mismatch for %s (expected %s, got %s)", name, expectedHash, actualHash))
		}
	}

	// Manifest entries whose files vanished are worth flagging too.
	present := make(map[string]bool, len(files.AllFiles()))
	for _, path := range files.AllFiles() {
		present[files.RelName(path)] = true
	}
	for name := range manifest.Hashes {
		if !present[name] {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("file %s is in .checksums but missing from disk", name))
		}
	}

	return result, nil
}
