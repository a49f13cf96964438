// SPDX-License-Identifier: MPL-2.0

package lakefile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLakefile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	t.Parallel()

	lf := Default()
	if lf.BaseImage != DefaultBaseImage {
		t.Errorf("BaseImage = %q", lf.BaseImage)
	}
	if lf.ProjectPath() != "/home/jovyan/work/minio_datalake" {
		t.Errorf("ProjectPath() = %q", lf.ProjectPath())
	}
	if got := lf.SearchPathValue(); got != "/home/jovyan/work/minio_datalake:${PYTHONPATH}" {
		t.Errorf("SearchPathValue() = %q", got)
	}
	if err := lf.Validate(); err != nil {
		t.Errorf("default spec should validate: %v", err)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeLakefile(t, `base_image: "jupyter/pyspark-notebook:spark-3.5.0"`)

	lf, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lf.BaseImage != "jupyter/pyspark-notebook:spark-3.5.0" {
		t.Errorf("BaseImage = %q", lf.BaseImage)
	}
	if lf.Workdir != DefaultWorkdir || lf.Manifest != DefaultManifest {
		t.Errorf("defaults not applied: %+v", lf)
	}
	if lf.FilePath != path {
		t.Errorf("FilePath = %q, want %q", lf.FilePath, path)
	}
}

func TestLoad_FullSpec(t *testing.T) {
	t.Parallel()

	path := writeLakefile(t, `
base_image:      "jupyter/pyspark-notebook:latest"
workdir:         "/srv/lake"
manifest:        "requirements.txt"
project_subdir:  "minio_datalake"
search_path_var: "PYTHONPATH"
env: {
	SPARK_DRIVER_MEMORY: "2g"
}
hooks: {
	pre_build: "echo staging"
}
verify: {
	imports:    ["minio_datalake"]
	check_pins: true
}
`)

	lf, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lf.Workdir != "/srv/lake" {
		t.Errorf("Workdir = %q", lf.Workdir)
	}
	if lf.ProjectPath() != "/srv/lake/minio_datalake" {
		t.Errorf("ProjectPath() = %q", lf.ProjectPath())
	}
	if lf.Env["SPARK_DRIVER_MEMORY"] != "2g" {
		t.Errorf("Env = %v", lf.Env)
	}
	if lf.Hooks.PreBuild != "echo staging" {
		t.Errorf("Hooks.PreBuild = %q", lf.Hooks.PreBuild)
	}
	if !lf.Verify.CheckPins || len(lf.Verify.Imports) != 1 {
		t.Errorf("Verify = %+v", lf.Verify)
	}
}

func TestLoad_SchemaViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"relative workdir", `workdir: "home/jovyan"`},
		{"absolute subdir", `project_subdir: "/abs"`},
		{"escaping subdir", `project_subdir: ".."`},
		{"lowercase env var name", `search_path_var: "pythonpath"`},
		{"manifest with path", `manifest: "conf/requirements.txt"`},
		{"unknown field", `bogus: true`},
		{"empty base image", `base_image: ""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeLakefile(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Errorf("Load should reject %q", tt.content)
			}
		})
	}
}

func TestValidate_SearchPathVarClash(t *testing.T) {
	t.Parallel()

	lf := Default()
	lf.Env = map[string]string{"PYTHONPATH": "/elsewhere"}
	if err := lf.Validate(); err == nil {
		t.Error("env setting the search-path variable directly should be rejected")
	}
}

func TestDiscover_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	lf, err := Discover(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lf.FilePath != "" {
		t.Errorf("FilePath should be empty for built-in defaults, got %q", lf.FilePath)
	}
	if lf.BaseImage != DefaultBaseImage {
		t.Errorf("BaseImage = %q", lf.BaseImage)
	}
}

func TestDiscover_FindsLakefile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := `workdir: "/srv/lake"`
	if err := os.WriteFile(filepath.Join(dir, DefaultFileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	lf, err := Discover(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lf.Workdir != "/srv/lake" {
		t.Errorf("Workdir = %q", lf.Workdir)
	}
}

func TestGenerateCUE_RoundTrip(t *testing.T) {
	t.Parallel()

	orig := Default()
	orig.BaseImage = "jupyter/pyspark-notebook:spark-3.5.0"
	orig.Workdir = "/srv/lake"
	orig.Env = map[string]string{"SPARK_DRIVER_MEMORY": "2g", "APP_MODE": "lab"}
	orig.Hooks.PreBuild = "echo staging"
	orig.Verify.Imports = []string{"minio", "pyspark"}
	orig.Verify.CheckPins = true

	path := writeLakefile(t, GenerateCUE(orig))
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("generated lakefile failed to load: %v", err)
	}

	if loaded.BaseImage != orig.BaseImage || loaded.Workdir != orig.Workdir {
		t.Errorf("round trip lost core fields: %+v", loaded)
	}
	if loaded.Env["SPARK_DRIVER_MEMORY"] != "2g" || loaded.Env["APP_MODE"] != "lab" {
		t.Errorf("round trip lost env: %v", loaded.Env)
	}
	if loaded.Hooks.PreBuild != orig.Hooks.PreBuild {
		t.Errorf("round trip lost hooks: %+v", loaded.Hooks)
	}
	if !loaded.Verify.CheckPins || len(loaded.Verify.Imports) != 2 {
		t.Errorf("round trip lost verify: %+v", loaded.Verify)
	}
}

func TestLoad_Missing(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), DefaultFileName))
	if err == nil {
		t.Fatal("expected error for missing lakefile")
	}
	if !strings.Contains(err.Error(), "failed to load lakefile") {
		t.Errorf("error should carry operation context: %v", err)
	}
}
