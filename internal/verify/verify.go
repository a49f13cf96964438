// SPDX-License-Identifier: MPL-2.0

// Package verify runs post-build checks against a provisioned image: image
// metadata is inspected for the expected working directory and search-path
// extension, and throwaway containers exercise the Python environment for
// importability and version pins.
package verify

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"lakeprov/internal/container"
	"lakeprov/internal/lakefile"
	"lakeprov/internal/manifest"
)

type (
	// Check is the outcome of a single verification.
	Check struct {
		// Name identifies the check (workdir, search-path, import:<module>,
		// pin:<package>).
		Name string
		// OK reports whether the check passed.
		OK bool
		// Detail explains a failure, or carries the observed value.
		Detail string
	}

	// Report aggregates the checks run against one image.
	Report struct {
		Image  string
		Checks []Check
	}

	// Verifier checks a provisioned image against its spec.
	Verifier struct {
		Engine   container.Engine
		Spec     *lakefile.Lakefile
		Manifest *manifest.Manifest

		// Logger receives per-check progress. Defaults to log.Default().
		Logger *log.Logger
	}
)

// OK reports whether every check passed.
func (r *Report) OK() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

// Failed returns the checks that did not pass.
func (r *Report) Failed() []Check {
	var failed []Check
	for _, c := range r.Checks {
		if !c.OK {
			failed = append(failed, c)
		}
	}
	return failed
}

// Verify runs all configured checks against image. A failed check is not an
// error; errors are reserved for the engine being unable to run checks at
// all.
func (v *Verifier) Verify(ctx context.Context, image string) (*Report, error) {
	logger := v.Logger
	if logger == nil {
		logger = log.Default()
	}

	report := &Report{Image: image}

	check, err := v.checkWorkdir(ctx, image)
	if err != nil {
		return nil, err
	}
	report.Checks = append(report.Checks, check)

	check, err = v.checkSearchPath(ctx, image)
	if err != nil {
		return nil, err
	}
	report.Checks = append(report.Checks, check)

	check, err = v.checkProjectDir(ctx, image)
	if err != nil {
		return nil, err
	}
	report.Checks = append(report.Checks, check)

	for _, module := range v.Spec.Verify.Imports {
		check, err := v.checkImport(ctx, image, module)
		if err != nil {
			return nil, err
		}
		report.Checks = append(report.Checks, check)
	}

	if v.Spec.Verify.CheckPins && v.Manifest != nil {
		for _, req := range v.Manifest.Pinned() {
			check, err := v.checkPin(ctx, image, req)
			if err != nil {
				return nil, err
			}
			report.Checks = append(report.Checks, check)
		}
	}

	for _, c := range report.Checks {
		if c.OK {
			logger.Debug("check passed", "check", c.Name)
		} else {
			logger.Warn("check failed", "check", c.Name, "detail", c.Detail)
		}
	}

	return report, nil
}

// checkWorkdir confirms the image's working directory matches the spec.
func (v *Verifier) checkWorkdir(ctx context.Context, image string) (Check, error) {
	got, err := v.Engine.InspectImage(ctx, image, "{{.Config.WorkingDir}}")
	if err != nil {
		return Check{}, fmt.Errorf("failed to inspect image %s: %w", image, err)
	}
	got = strings.TrimSpace(got)

	check := Check{Name: "workdir", OK: got == v.Spec.Workdir, Detail: got}
	if !check.OK {
		check.Detail = fmt.Sprintf("working directory is %q, want %q", got, v.Spec.Workdir)
	}
	return check, nil
}

// checkSearchPath confirms the search-path variable starts with the project
// path. The base image's own value may follow after the separator.
func (v *Verifier) checkSearchPath(ctx context.Context, image string) (Check, error) {
	env, err := v.Engine.InspectImage(ctx, image, "{{range .Config.Env}}{{println .}}{{end}}")
	if err != nil {
		return Check{}, fmt.Errorf("failed to inspect image %s: %w", image, err)
	}

	prefix := v.Spec.SearchPathVar + "="
	wantHead := v.Spec.ProjectPath()
	for _, line := range strings.Split(env, "\n") {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		value := strings.TrimPrefix(line, prefix)
		head, _, _ := strings.Cut(value, ":")
		if head == wantHead {
			return Check{Name: "search-path", OK: true, Detail: value}, nil
		}
		return Check{
			Name:   "search-path",
			Detail: fmt.Sprintf("%s is %q, want %q first", v.Spec.SearchPathVar, value, wantHead),
		}, nil
	}
	return Check{
		Name:   "search-path",
		Detail: fmt.Sprintf("%s is not set in the image", v.Spec.SearchPathVar),
	}, nil
}

// checkProjectDir confirms the project tree landed at its container path.
func (v *Verifier) checkProjectDir(ctx context.Context, image string) (Check, error) {
	script := fmt.Sprintf(
		"import os, sys; sys.exit(0 if os.path.isdir(%q) else 1)", v.Spec.ProjectPath())
	ok, output, err := v.runPython(ctx, image, script)
	if err != nil {
		return Check{}, err
	}

	check := Check{Name: "project-dir", OK: ok, Detail: v.Spec.ProjectPath()}
	if !ok {
		check.Detail = fmt.Sprintf("%s is missing in the image: %s", v.Spec.ProjectPath(), output)
	}
	return check, nil
}

// checkImport confirms a module imports cleanly inside the image.
func (v *Verifier) checkImport(ctx context.Context, image, module string) (Check, error) {
	ok, output, err := v.runPython(ctx, image, fmt.Sprintf("import %s", module))
	if err != nil {
		return Check{}, err
	}

	check := Check{Name: "import:" + module, OK: ok}
	if !ok {
		check.Detail = strings.TrimSpace(output)
	}
	return check, nil
}

// checkPin confirms an exactly-pinned requirement is installed at its pinned
// version.
func (v *Verifier) checkPin(ctx context.Context, image string, req manifest.Requirement) (Check, error) {
	script := fmt.Sprintf(
		"import importlib.metadata, sys\n"+
			"v = importlib.metadata.version(%q)\n"+
			"print(v)\n"+
			"sys.exit(0 if v == %q else 1)", req.Name, req.Version)
	ok, output, err := v.runPython(ctx, image, script)
	if err != nil {
		return Check{}, err
	}

	check := Check{Name: "pin:" + req.Name, OK: ok, Detail: req.Version}
	if !ok {
		check.Detail = fmt.Sprintf("installed %s, want %s", strings.TrimSpace(output), req.Version)
	}
	return check, nil
}

// runPython executes a Python snippet in a throwaway container and reports
// whether it exited zero.
func (v *Verifier) runPython(ctx context.Context, image, script string) (bool, string, error) {
	var buf bytes.Buffer
	result, err := v.Engine.Run(ctx, container.RunOptions{
		Image:   image,
		Command: []string{"python", "-c", script},
		Remove:  true,
		Stdout:  &buf,
		Stderr:  &buf,
	})
	if err != nil {
		return false, "", fmt.Errorf("failed to run verification container: %w", err)
	}
	return result.ExitCode == 0, buf.String(), nil
}
