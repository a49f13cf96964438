// SPDX-License-Identifier: MPL-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Config loading mutates the package-level directory override, so these
// tests run sequentially.

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	SetConfigDirOverride(t.TempDir())
	defer SetConfigDirOverride("")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ContainerEngine != "auto" {
		t.Errorf("ContainerEngine = %q, want auto", cfg.ContainerEngine)
	}
	if cfg.UI.ColorScheme != "auto" {
		t.Errorf("ColorScheme = %q, want auto", cfg.UI.ColorScheme)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `
container_engine: "podman"
tag_suffix:       "t1"
ui: verbose: true
`
	if err := os.WriteFile(filepath.Join(dir, "config.cue"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	SetConfigDirOverride(dir)
	defer SetConfigDirOverride("")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ContainerEngine != "podman" {
		t.Errorf("ContainerEngine = %q, want podman", cfg.ContainerEngine)
	}
	if cfg.TagSuffix != "t1" {
		t.Errorf("TagSuffix = %q, want t1", cfg.TagSuffix)
	}
	if !cfg.UI.Verbose {
		t.Error("UI.Verbose should be true")
	}
	// Untouched fields keep their defaults.
	if cfg.UI.ColorScheme != "auto" {
		t.Errorf("ColorScheme = %q, want default auto", cfg.UI.ColorScheme)
	}
}

func TestLoad_RejectsInvalidEngine(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.cue"), []byte(`container_engine: "moby"`), 0o644); err != nil {
		t.Fatal(err)
	}

	SetConfigDirOverride(dir)
	defer SetConfigDirOverride("")

	if _, err := Load(); err == nil {
		t.Error("invalid engine value should be rejected by the schema")
	}
}

func TestCreateDefaultConfig_Idempotent(t *testing.T) {
	dir := t.TempDir()
	SetConfigDirOverride(dir)
	defer SetConfigDirOverride("")

	if err := CreateDefaultConfig(); err != nil {
		t.Fatalf("first create: %v", err)
	}

	path := filepath.Join(dir, "config.cue")
	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	// Second call must not rewrite the existing file.
	if err := os.WriteFile(path, append(original, []byte("// edited\n")...), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CreateDefaultConfig(); err != nil {
		t.Fatalf("second create: %v", err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(after), "// edited") {
		t.Error("CreateDefaultConfig overwrote an existing config file")
	}
}

func TestGenerateCUE_RoundTrips(t *testing.T) {
	dir := t.TempDir()

	want := DefaultConfig()
	want.ContainerEngine = "docker"
	want.TagSuffix = "ci"
	want.UI.Verbose = true

	if err := os.WriteFile(filepath.Join(dir, "config.cue"), []byte(GenerateCUE(want)), 0o644); err != nil {
		t.Fatal(err)
	}

	SetConfigDirOverride(dir)
	defer SetConfigDirOverride("")

	got, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ContainerEngine != want.ContainerEngine || got.TagSuffix != want.TagSuffix || got.UI.Verbose != want.UI.Verbose {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}
