// SPDX-License-Identifier: MPL-2.0

package verify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"lakeprov/internal/container"
	"lakeprov/internal/lakefile"
	"lakeprov/internal/manifest"
)

// mockEngine serves inspect values and per-script exit codes so tests can
// steer each check independently.
type mockEngine struct {
	workdir string
	env     []string

	// failScripts maps a substring of the python script to the exit code it
	// should produce; unmatched scripts exit zero.
	failScripts map[string]int
	// outputs maps a script substring to container output.
	outputs map[string]string

	runCalls []container.RunOptions
}

func (m *mockEngine) Name() string { return "mock" }

func (m *mockEngine) Available() bool { return true }

func (m *mockEngine) Version(context.Context) (string, error) { return "0.0.0-test", nil }

func (m *mockEngine) Build(context.Context, container.BuildOptions) error { return nil }

func (m *mockEngine) Remove(context.Context, string, bool) error { return nil }

func (m *mockEngine) ImageExists(context.Context, string) (bool, error) { return true, nil }

func (m *mockEngine) RemoveImage(context.Context, string, bool) error { return nil }

func (m *mockEngine) InspectImage(_ context.Context, _, format string) (string, error) {
	if strings.Contains(format, "WorkingDir") {
		return m.workdir + "\n", nil
	}
	if strings.Contains(format, "Env") {
		return strings.Join(m.env, "\n") + "\n", nil
	}
	return "", fmt.Errorf("unexpected inspect format: %s", format)
}

func (m *mockEngine) Run(_ context.Context, opts container.RunOptions) (*container.RunResult, error) {
	m.runCalls = append(m.runCalls, opts)

	script := opts.Command[len(opts.Command)-1]
	for fragment, output := range m.outputs {
		if strings.Contains(script, fragment) && opts.Stdout != nil {
			fmt.Fprint(opts.Stdout, output)
		}
	}
	for fragment, code := range m.failScripts {
		if strings.Contains(script, fragment) {
			return &container.RunResult{ExitCode: code}, nil
		}
	}
	return &container.RunResult{ExitCode: 0}, nil
}

func newVerifier(t *testing.T, engine container.Engine, spec *lakefile.Lakefile, reqs string) *Verifier {
	t.Helper()
	var m *manifest.Manifest
	if reqs != "" {
		var err error
		m, err = manifest.Parse(strings.NewReader(reqs))
		if err != nil {
			t.Fatalf("manifest.Parse() error = %v", err)
		}
	}
	return &Verifier{
		Engine:   engine,
		Spec:     spec,
		Manifest: m,
		Logger:   log.New(io.Discard),
	}
}

func healthyEngine(spec *lakefile.Lakefile) *mockEngine {
	return &mockEngine{
		workdir: spec.Workdir,
		env: []string{
			"PATH=/usr/local/bin:/usr/bin",
			spec.SearchPathVar + "=" + spec.ProjectPath() + ":/opt/conda/lib",
		},
	}
}

func TestVerifyAllChecksPass(t *testing.T) {
	t.Parallel()

	spec := lakefile.Default()
	spec.Verify.Imports = []string{"minio", "pyspark"}
	spec.Verify.CheckPins = true

	engine := healthyEngine(spec)
	v := newVerifier(t, engine, spec, "minio==7.2.0\npyspark>=3.0\n")

	report, err := v.Verify(context.Background(), "lakeprov:abc123")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !report.OK() {
		t.Errorf("Verify() failed checks: %+v", report.Failed())
	}

	// workdir, search-path, project-dir, two imports, one pin (pyspark is a
	// range, not a pin).
	if len(report.Checks) != 6 {
		t.Errorf("len(Checks) = %d, want 6", len(report.Checks))
	}
}

func TestVerifyWorkdirMismatch(t *testing.T) {
	t.Parallel()

	spec := lakefile.Default()
	engine := healthyEngine(spec)
	engine.workdir = "/tmp"

	v := newVerifier(t, engine, spec, "")
	report, err := v.Verify(context.Background(), "lakeprov:abc123")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	failed := report.Failed()
	if len(failed) != 1 || failed[0].Name != "workdir" {
		t.Fatalf("Failed() = %+v, want single workdir failure", failed)
	}
	if !strings.Contains(failed[0].Detail, spec.Workdir) {
		t.Errorf("failure detail %q missing expected workdir", failed[0].Detail)
	}
}

func TestVerifySearchPathNotFirst(t *testing.T) {
	t.Parallel()

	spec := lakefile.Default()
	engine := healthyEngine(spec)
	engine.env = []string{spec.SearchPathVar + "=/opt/conda/lib:" + spec.ProjectPath()}

	v := newVerifier(t, engine, spec, "")
	report, err := v.Verify(context.Background(), "lakeprov:abc123")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	for _, c := range report.Checks {
		if c.Name == "search-path" && c.OK {
			t.Error("search-path check passed with project path not first")
		}
	}
}

func TestVerifySearchPathUnset(t *testing.T) {
	t.Parallel()

	spec := lakefile.Default()
	engine := healthyEngine(spec)
	engine.env = []string{"PATH=/usr/bin"}

	v := newVerifier(t, engine, spec, "")
	report, err := v.Verify(context.Background(), "lakeprov:abc123")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if report.OK() {
		t.Error("Verify() passed with search-path variable unset")
	}
}

func TestVerifyImportFailure(t *testing.T) {
	t.Parallel()

	spec := lakefile.Default()
	spec.Verify.Imports = []string{"minio", "nonexistent_pkg"}

	engine := healthyEngine(spec)
	engine.failScripts = map[string]int{"import nonexistent_pkg": 1}
	engine.outputs = map[string]string{
		"import nonexistent_pkg": "ModuleNotFoundError: No module named 'nonexistent_pkg'\n",
	}

	v := newVerifier(t, engine, spec, "")
	report, err := v.Verify(context.Background(), "lakeprov:abc123")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	failed := report.Failed()
	if len(failed) != 1 || failed[0].Name != "import:nonexistent_pkg" {
		t.Fatalf("Failed() = %+v, want single import failure", failed)
	}
	if !strings.Contains(failed[0].Detail, "ModuleNotFoundError") {
		t.Errorf("failure detail %q missing container output", failed[0].Detail)
	}
}

func TestVerifyPinMismatch(t *testing.T) {
	t.Parallel()

	spec := lakefile.Default()
	spec.Verify.CheckPins = true

	engine := healthyEngine(spec)
	engine.failScripts = map[string]int{`version("minio")`: 1}
	engine.outputs = map[string]string{`version("minio")`: "7.1.9\n"}

	v := newVerifier(t, engine, spec, "minio==7.2.0\n")
	report, err := v.Verify(context.Background(), "lakeprov:abc123")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	failed := report.Failed()
	if len(failed) != 1 || failed[0].Name != "pin:minio" {
		t.Fatalf("Failed() = %+v, want single pin failure", failed)
	}
	if !strings.Contains(failed[0].Detail, "7.1.9") || !strings.Contains(failed[0].Detail, "7.2.0") {
		t.Errorf("failure detail %q missing versions", failed[0].Detail)
	}
}

func TestVerifyContainersAreThrowaway(t *testing.T) {
	t.Parallel()

	spec := lakefile.Default()
	spec.Verify.Imports = []string{"minio"}

	engine := healthyEngine(spec)
	v := newVerifier(t, engine, spec, "")

	if _, err := v.Verify(context.Background(), "lakeprov:abc123"); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if len(engine.runCalls) == 0 {
		t.Fatal("no containers were run")
	}
	for _, call := range engine.runCalls {
		if !call.Remove {
			t.Errorf("verification container not auto-removed: %+v", call)
		}
	}
}
