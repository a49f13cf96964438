// SPDX-License-Identifier: MPL-2.0

// Package lakefile loads and validates lakefile.cue, the per-project
// provisioning spec. A lakefile declares the four inputs of the pipeline —
// base image, dependency manifest, project tree placement, and search-path
// rule — plus optional hooks and verification expectations. An absent or
// empty lakefile provisions the stock minio_datalake notebook image.
package lakefile

import (
	_ "embed"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"lakeprov/internal/cueutil"
	"lakeprov/internal/issue"
)

const (
	// DefaultFileName is the lakefile name looked up in the build context.
	DefaultFileName = "lakefile.cue"

	// DefaultBaseImage provides Python, Jupyter, and Spark preinstalled.
	DefaultBaseImage = "jupyter/pyspark-notebook:latest"
	// DefaultWorkdir is the notebook user's work directory in that image.
	DefaultWorkdir = "/home/jovyan/work"
	// DefaultManifest is the conventional pip manifest name.
	DefaultManifest = "requirements.txt"
	// DefaultProjectSubdir is where the project tree lands under workdir.
	DefaultProjectSubdir = "minio_datalake"
	// DefaultSearchPathVar is the Python module search path variable.
	DefaultSearchPathVar = "PYTHONPATH"
	// DefaultIgnoreFile filters the project tree copy when present.
	DefaultIgnoreFile = ".lakeignore"
)

//go:embed schema.cue
var schema string

type (
	// Hooks are optional shell snippets around the image build.
	Hooks struct {
		PreBuild  string `json:"pre_build"`
		PostBuild string `json:"post_build"`
	}

	// Verify configures post-build checks.
	Verify struct {
		Imports   []string `json:"imports"`
		CheckPins bool     `json:"check_pins"`
	}

	// Lakefile is the decoded provisioning spec with defaults applied.
	Lakefile struct {
		BaseImage     string            `json:"base_image"`
		Workdir       string            `json:"workdir"`
		Manifest      string            `json:"manifest"`
		ProjectSubdir string            `json:"project_subdir"`
		SearchPathVar string            `json:"search_path_var"`
		Env           map[string]string `json:"env"`
		IgnoreFile    string            `json:"ignore_file"`
		Hooks         Hooks             `json:"hooks"`
		Verify        Verify            `json:"verify"`

		// FilePath is where the lakefile was loaded from; empty when the
		// spec is the built-in default.
		FilePath string `json:"-"`
	}
)

// Default returns the spec that reproduces the original image layout.
func Default() *Lakefile {
	lf := &Lakefile{}
	lf.applyDefaults()
	return lf
}

// Load reads, validates, and decodes a lakefile, then applies defaults.
func Load(path string) (*Lakefile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("load lakefile").
			WithResource(path).
			WithSuggestion("Run 'lakeprov init' to create a lakefile").
			WithSuggestion("Pass --lakefile to point at a different file").
			Wrap(err).
			BuildError()
	}

	result, err := cueutil.ParseAndDecodeString[Lakefile](schema, data, "#Lakefile", cueutil.WithFilename(path))
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("validate lakefile").
			WithResource(path).
			WithSuggestion("Check that the file contains valid CUE syntax").
			WithSuggestion("Field reference: 'lakeprov docs'").
			Wrap(err).
			BuildError()
	}

	lf := result.Value
	lf.FilePath = path
	lf.applyDefaults()

	if err := lf.Validate(); err != nil {
		return nil, issue.WrapWithContext(err, "validate lakefile", path)
	}

	return lf, nil
}

// Discover finds a lakefile in dir, returning the built-in default spec when
// none exists.
func Discover(dir string) (*Lakefile, error) {
	candidate := filepath.Join(dir, DefaultFileName)
	if _, err := os.Stat(candidate); err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to stat %s: %w", candidate, err)
	}
	return Load(candidate)
}

func (lf *Lakefile) applyDefaults() {
	if lf.BaseImage == "" {
		lf.BaseImage = DefaultBaseImage
	}
	if lf.Workdir == "" {
		lf.Workdir = DefaultWorkdir
	}
	if lf.Manifest == "" {
		lf.Manifest = DefaultManifest
	}
	if lf.ProjectSubdir == "" {
		lf.ProjectSubdir = DefaultProjectSubdir
	}
	if lf.SearchPathVar == "" {
		lf.SearchPathVar = DefaultSearchPathVar
	}
	if lf.IgnoreFile == "" {
		lf.IgnoreFile = DefaultIgnoreFile
	}
}

// Validate enforces constraints the CUE schema cannot express or that must
// hold after defaulting.
func (lf *Lakefile) Validate() error {
	if !strings.HasPrefix(lf.Workdir, "/") {
		return fmt.Errorf("workdir must be an absolute path: %q", lf.Workdir)
	}
	if path.Clean(lf.Workdir) != lf.Workdir {
		return fmt.Errorf("workdir must be a clean path: %q", lf.Workdir)
	}

	subdir := lf.ProjectSubdir
	if strings.HasPrefix(subdir, "/") || subdir != path.Clean(subdir) || strings.HasPrefix(subdir, "..") {
		return fmt.Errorf("project_subdir must be a clean relative path: %q", subdir)
	}

	if strings.ContainsAny(lf.Manifest, "/\\") {
		return fmt.Errorf("manifest must be a bare filename in the build context root: %q", lf.Manifest)
	}

	// The search-path variable itself must not also be set through env, or
	// the prepend rule and the literal assignment would race in layer order.
	if _, clash := lf.Env[lf.SearchPathVar]; clash {
		return fmt.Errorf("env must not set %s directly; the project path is prepended automatically", lf.SearchPathVar)
	}

	return nil
}

// GenerateCUE generates a CUE representation of a lakefile, suitable for
// writing as a starter lakefile.cue.
func GenerateCUE(lf *Lakefile) string {
	var sb strings.Builder

	sb.WriteString("// lakeprov provisioning spec\n\n")
	sb.WriteString(fmt.Sprintf("base_image: %q\n", lf.BaseImage))
	sb.WriteString(fmt.Sprintf("workdir: %q\n", lf.Workdir))
	sb.WriteString(fmt.Sprintf("manifest: %q\n", lf.Manifest))
	sb.WriteString(fmt.Sprintf("project_subdir: %q\n", lf.ProjectSubdir))

	if lf.SearchPathVar != DefaultSearchPathVar {
		sb.WriteString(fmt.Sprintf("search_path_var: %q\n", lf.SearchPathVar))
	}
	if lf.IgnoreFile != DefaultIgnoreFile {
		sb.WriteString(fmt.Sprintf("ignore_file: %q\n", lf.IgnoreFile))
	}

	if len(lf.Env) > 0 {
		names := make([]string, 0, len(lf.Env))
		for name := range lf.Env {
			names = append(names, name)
		}
		sort.Strings(names)
		sb.WriteString("\nenv: {\n")
		for _, name := range names {
			sb.WriteString(fmt.Sprintf("\t%s: %q\n", name, lf.Env[name]))
		}
		sb.WriteString("}\n")
	}

	if lf.Hooks.PreBuild != "" || lf.Hooks.PostBuild != "" {
		sb.WriteString("\nhooks: {\n")
		if lf.Hooks.PreBuild != "" {
			sb.WriteString(fmt.Sprintf("\tpre_build: %q\n", lf.Hooks.PreBuild))
		}
		if lf.Hooks.PostBuild != "" {
			sb.WriteString(fmt.Sprintf("\tpost_build: %q\n", lf.Hooks.PostBuild))
		}
		sb.WriteString("}\n")
	}

	if len(lf.Verify.Imports) > 0 || lf.Verify.CheckPins {
		sb.WriteString("\nverify: {\n")
		if len(lf.Verify.Imports) > 0 {
			sb.WriteString("\timports: [")
			for i, module := range lf.Verify.Imports {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(fmt.Sprintf("%q", module))
			}
			sb.WriteString("]\n")
		}
		if lf.Verify.CheckPins {
			sb.WriteString("\tcheck_pins: true\n")
		}
		sb.WriteString("}\n")
	}

	return sb.String()
}

// ProjectPath returns the absolute container path of the project tree,
// the first entry of the extended search path.
func (lf *Lakefile) ProjectPath() string {
	return path.Join(lf.Workdir, lf.ProjectSubdir)
}

// SearchPathValue returns the value assigned to the search-path variable:
// the project path prepended to whatever the base image already exports.
func (lf *Lakefile) SearchPathValue() string {
	return fmt.Sprintf("%s:${%s}", lf.ProjectPath(), lf.SearchPathVar)
}
