package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// GetPath retrieves a value from the configuration using a dot-notation
// path. It reads the effective view (defaults applied), so e.g.
// "service.runner" resolves even when no file sets it.
func (c *Config) GetPath(path string) (any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return getValue(m, path)
}

// Has reports whether a dotted path is present in the loaded files. It
// consults the raw merged view, not the defaulted struct, so it answers
// "did any file set this" rather than "does this have a value".
func (c *Config) Has(path string) bool {
	if c.raw == nil {
		return false
	}
	_, err := getValue(c.raw, path)
	return err == nil
}

func getValue(m map[string]any, path string) (any, error) {
	parts := strings.Split(path, ".")
	var current any = m

	for _, part := range parts {
		if part == "" {
			continue
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}

		val, exists := m[part]
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}

	return current, nil
}

func findNode(node *yaml.Node, path string, create bool) (*yaml.Node, error) {
	parts := strings.Split(path, ".")
	current := node

	for _, part := range parts {
		if current.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("not a mapping node")
		}

		found := false
		for i := 0; i < len(current.Content); i += 2 {
			keyNode := current.Content[i]
			if keyNode.Value == part {
				current = current.Content[i+1]
				found = true
				break
			}
		}

		if !found {
			if create {
				// Add new key-value pair to mapping
				keyNode := &yaml.Node{
					Kind:  yaml.ScalarNode,
					Tag:   "!!str",
					Value: part,
				}
				valueNode := &yaml.Node{
					Kind: yaml.MappingNode, // Default to mapping if we have more parts
					Tag:  "!!map",
				}
				// If this is the last part, it will be overwritten by the value anyway
				current.Content = append(current.Content, keyNode, valueNode)
				current = valueNode
			} else {
				return nil, fmt.Errorf("key %q not found", part)
			}
		}
	}

	return current, nil
}

// SetPath modifies a configuration value at the specified path.
func (c *Config) SetPath(path, value string, persist bool) error {
	targetFile := c.resolveTargetFile()
	if targetFile == "" {
		return fmt.Errorf("no valid configuration source found")
	}

	rootNode := c.SourceFiles[targetFile]
	if rootNode == nil || rootNode.Kind != yaml.DocumentNode {
		return fmt.Errorf("no valid configuration source found")
	}

	target, err := findNode(rootNode.Content[0], path, true)
	if err != nil {
		return fmt.Errorf("failed to navigate/create path %q: %w", path, err)
	}

	target.Kind = yaml.ScalarNode
	target.Value = value
	target.Tag = guessTag(value)

	if !persist {
		return nil
	}

	candidate, err := yaml.Marshal(rootNode)
	if err != nil {
		return err
	}

	return c.persistWithValidation(targetFile, candidate)
}

func guessTag(v string) string {
	if v == "true" || v == "false" {
		return "!!bool"
	}
	// Check for integer
	isDigit := true
	for i, c := range v {
		if i == 0 && c == '-' {
			continue
		}
		if c < '0' || c > '9' {
			isDigit = false
			break
		}
	}
	if isDigit && v != "" && v != "-" {
		return "!!int"
	}
	// Floats matter here: modeling values like test_size are fractions.
	if strings.ContainsAny(v, ".eE") {
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			return "!!float"
		}
	}
	return "!!str"
}

func (c *Config) resolveTargetFile() string {
	for f := range c.SourceFiles {
		if filepath.Base(f) == "config.yaml" {
			return f
		}
	}
	for f := range c.SourceFiles {
		return f
	}
	return ""
}

func (c *Config) resolveRootConfigPath(fallback string) string {
	if c.ConfigDir != "" && IsConfigDir(c.ConfigDir) {
		return c.ConfigDir
	}
	for f := range c.SourceFiles {
		if filepath.Base(f) == "config.yaml" {
			return f
		}
	}
	return fallback
}

func (c *Config) persistWithValidation(targetFile string, candidate []byte) error {
	original, err := os.ReadFile(targetFile)
	if err != nil {
		return fmt.Errorf("failed to read original config file: %w", err)
	}

	mode := os.FileMode(0644)
	if info, statErr := os.Stat(targetFile); statErr == nil {
		mode = info.Mode().Perm()
	}

	if err := os.WriteFile(targetFile, candidate, mode); err != nil {
		return fmt.Errorf("failed to persist config change: %w", err)
	}

	// Validate without hash verification: the candidate was just written
	// and has not been re-locked yet.
	rootPath := c.resolveRootConfigPath(targetFile)
	if _, err := loadPath(rootPath, false); err != nil {
		restoreErr := os.WriteFile(targetFile, original, mode)
		if restoreErr != nil {
			return fmt.Errorf("validation failed (%v) and rollback failed (%v)", err, restoreErr)
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}
