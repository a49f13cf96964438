// SPDX-License-Identifier: MPL-2.0

// Package hooks runs the lakefile's pre_build/post_build shell snippets.
// Hooks execute in an embedded POSIX shell interpreter rather than the host
// shell, so the same lakefile behaves identically on Linux, macOS, and
// Windows hosts.
package hooks

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Runner executes hook scripts with a fixed working directory and an
// environment extended with LAKEPROV_* variables describing the run.
type Runner struct {
	// Dir is the working directory for hook execution (the build context).
	Dir string
	// Env holds extra variables exported to hooks, in addition to the
	// host environment.
	Env map[string]string
	// Stdout and Stderr receive hook output.
	Stdout io.Writer
	Stderr io.Writer
}

// Validate parses the script without running it, so syntax errors surface
// before the pipeline does any work.
func (r *Runner) Validate(name, script string) error {
	if strings.TrimSpace(script) == "" {
		return nil
	}
	if _, err := syntax.NewParser().Parse(strings.NewReader(script), name); err != nil {
		return fmt.Errorf("%s hook syntax error: %w", name, err)
	}
	return nil
}

// Run executes a hook script. An empty script is a no-op. The returned
// error wraps the shell exit status for failed hooks.
func (r *Runner) Run(ctx context.Context, name, script string) error {
	if strings.TrimSpace(script) == "" {
		return nil
	}

	prog, err := syntax.NewParser().Parse(strings.NewReader(script), name)
	if err != nil {
		return fmt.Errorf("%s hook syntax error: %w", name, err)
	}

	env := os.Environ()
	for k, v := range r.Env {
		env = append(env, k+"="+v)
	}

	stdout := r.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := r.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	runner, err := interp.New(
		interp.Dir(r.Dir),
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(nil, stdout, stderr),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s hook interpreter: %w", name, err)
	}

	if err := runner.Run(ctx, prog); err != nil {
		if status, ok := interp.IsExitStatus(err); ok {
			return fmt.Errorf("%s hook exited with status %d", name, status)
		}
		return fmt.Errorf("%s hook failed: %w", name, err)
	}

	return nil
}
