package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ConfigFiles is the manifest of files discovered in a config directory.
type ConfigFiles struct {
	Root     string
	Config   string
	Overlays []string
}

// AllFiles returns every discovered file, root config first.
func (cf *ConfigFiles) AllFiles() []string {
	files := []string{cf.Config}
	files = append(files, cf.Overlays...)
	return files
}

// RelName returns a file's manifest key: its path relative to the config
// directory (e.g. "config.yaml", "overlays/prod.yaml").
func (cf *ConfigFiles) RelName(path string) string {
	rel, err := filepath.Rel(cf.Root, path)
	if err != nil {
		return filepath.Base(path)
	}
	return rel
}

// DiscoverConfigDir finds the config location by checking standard locations.
// Priority order: $SWAGE_CONFIG_DIR, ~/.config/swage, /etc/swage, ./config.yaml
func DiscoverConfigDir() (string, error) {
	// 1. Check environment variable
	if dir := os.Getenv("SWAGE_CONFIG_DIR"); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	// 2. Check user config directory
	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "swage")
		if _, err := os.Stat(userConfigDir); err == nil {
			return userConfigDir, nil
		}
	}

	// 3. Check system config directory
	systemConfigDir := "/etc/swage"
	if _, err := os.Stat(systemConfigDir); err == nil {
		return systemConfigDir, nil
	}

	// 4. Fallback to single-file config in current directory
	localConfigPath := "./config.yaml"
	if _, err := os.Stat(localConfigPath); err == nil {
		return localConfigPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $SWAGE_CONFIG_DIR, ~/.config/swage, /etc/swage, ./config.yaml)")
}

// DiscoverConfigFiles walks a config directory and returns the manifest of
// discovered files. Returns error if config.yaml is missing (hard requirement).
func DiscoverConfigFiles(configDir string) (*ConfigFiles, error) {
	absDir, err := filepath.Abs(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config dir %q: %w", configDir, err)
	}

	cf := &ConfigFiles{Root: absDir}

	// config.yaml is mandatory
	configPath := filepath.Join(absDir, "config.yaml")
	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("config.yaml not found in %s: %w", absDir, err)
	}
	cf.Config = configPath

	// Walk overlays/*.yaml
	cf.Overlays, err = walkYAMLDir(filepath.Join(absDir, "overlays"))
	if err != nil {
		return nil, fmt.Errorf("failed to walk overlays/: %w", err)
	}

	return cf, nil
}

// IsConfigDir returns true if the directory looks like a swage config
// directory: config.yaml plus an overlays/ subdirectory. config.yaml alone
// is ambiguous: it could be a single-file setup living in any directory.
func IsConfigDir(dir string) bool {
	if !fileExists(filepath.Join(dir, "config.yaml")) {
		return false
	}
	return dirExists(filepath.Join(dir, "overlays"))
}

// walkYAMLDir returns sorted absolute paths of *.yaml files in dir.
// Returns nil (not error) if the directory doesn't exist.
func walkYAMLDir(dir string) ([]string, error) {
	return walkDirWithExt(dir, ".yaml")
}

func walkDirWithExt(dir, ext string) ([]string, error) {
	if !dirExists(dir) {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ext) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
