package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverConfigFiles(t *testing.T) {
	tmpDir := t.TempDir()

	// Create mandatory config.yaml
	writeTestFile(t, filepath.Join(tmpDir, "config.yaml"), "main:\n  steps: all\n")

	// Create overlays directory with YAML files
	os.MkdirAll(filepath.Join(tmpDir, "overlays"), 0755)
	writeTestFile(t, filepath.Join(tmpDir, "overlays", "local.yaml"), "etl:\n  sample: small.csv\n")
	writeTestFile(t, filepath.Join(tmpDir, "overlays", "prod.yaml"), "etl:\n  max_price: 500\n")
	// Non-YAML files are ignored
	writeTestFile(t, filepath.Join(tmpDir, "overlays", "notes.txt"), "scratch\n")

	cf, err := DiscoverConfigFiles(tmpDir)
	if err != nil {
		t.Fatalf("DiscoverConfigFiles() failed: %v", err)
	}

	if cf.Config != filepath.Join(tmpDir, "config.yaml") {
		t.Errorf("Config = %q", cf.Config)
	}
	if len(cf.Overlays) != 2 {
		t.Fatalf("len(Overlays) = %d, want 2", len(cf.Overlays))
	}
	// Verify alphabetical order
	if filepath.Base(cf.Overlays[0]) != "local.yaml" {
		t.Errorf("Overlays[0] = %q, want local.yaml", filepath.Base(cf.Overlays[0]))
	}
	if filepath.Base(cf.Overlays[1]) != "prod.yaml" {
		t.Errorf("Overlays[1] = %q, want prod.yaml", filepath.Base(cf.Overlays[1]))
	}
}

func TestDiscoverConfigFilesMissingConfigYAML(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := DiscoverConfigFiles(tmpDir)
	if err == nil {
		t.Fatal("DiscoverConfigFiles() should fail when config.yaml is missing")
	}
}

func TestDiscoverConfigFilesMinimal(t *testing.T) {
	tmpDir := t.TempDir()
	writeTestFile(t, filepath.Join(tmpDir, "config.yaml"), "main:\n  steps: all\n")

	cf, err := DiscoverConfigFiles(tmpDir)
	if err != nil {
		t.Fatalf("DiscoverConfigFiles() failed: %v", err)
	}

	if len(cf.Overlays) != 0 {
		t.Errorf("Overlays should be empty, got %d", len(cf.Overlays))
	}
}

func TestConfigFilesAllFiles(t *testing.T) {
	cf := &ConfigFiles{
		Root:     "/etc/swage",
		Config:   "/etc/swage/config.yaml",
		Overlays: []string{"/etc/swage/overlays/prod.yaml"},
	}

	all := cf.AllFiles()
	if len(all) != 2 {
		t.Errorf("AllFiles() returned %d files, want 2", len(all))
	}
	if all[0] != cf.Config {
		t.Errorf("AllFiles()[0] = %q, want root config first", all[0])
	}
}

func TestConfigFilesRelName(t *testing.T) {
	cf := &ConfigFiles{Root: "/etc/swage"}

	if got := cf.RelName("/etc/swage/config.yaml"); got != "config.yaml" {
		t.Errorf("RelName(config) = %q", got)
	}
	if got := cf.RelName("/etc/swage/overlays/prod.yaml"); got != filepath.Join("overlays", "prod.yaml") {
		t.Errorf("RelName(overlay) = %q", got)
	}
}

func TestIsConfigDir(t *testing.T) {
	// Directory with config.yaml + overlays/ → true
	tmpDir := t.TempDir()
	writeTestFile(t, filepath.Join(tmpDir, "config.yaml"), "main:\n  steps: all\n")
	os.MkdirAll(filepath.Join(tmpDir, "overlays"), 0755)

	if !IsConfigDir(tmpDir) {
		t.Error("should detect directory with config.yaml + overlays/ as config dir")
	}

	// Directory with only config.yaml → false (single-file setup)
	tmpDir2 := t.TempDir()
	writeTestFile(t, filepath.Join(tmpDir2, "config.yaml"), "main:\n  steps: all\n")

	if IsConfigDir(tmpDir2) {
		t.Error("bare config.yaml without overlays/ should not be a config dir")
	}

	// Empty directory → false
	tmpDir3 := t.TempDir()
	if IsConfigDir(tmpDir3) {
		t.Error("empty directory should not be a config dir")
	}
}

func TestDiscoverConfigDirEnvVar(t *testing.T) {
	tmpDir := t.TempDir()
	writeTestFile(t, filepath.Join(tmpDir, "config.yaml"), "main:\n  steps: all\n")

	os.Setenv("SWAGE_CONFIG_DIR", tmpDir)
	defer os.Unsetenv("SWAGE_CONFIG_DIR")

	dir, err := DiscoverConfigDir()
	if err != nil {
		t.Fatalf("DiscoverConfigDir() failed: %v", err)
	}
	if dir != tmpDir {
		t.Errorf("DiscoverConfigDir() = %q, want %q", dir, tmpDir)
	}
}
