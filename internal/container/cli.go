// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Build retry policy: transient pull and storage failures are retried with
// exponential backoff; everything else fails immediately.
const (
	defaultBuildAttempts = 3
	defaultBuildBackoff  = 2 * time.Second
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// RunArgsTransformer modifies run arguments after they're built.
	// Used by Podman to inject --userns=keep-id for rootless compatibility.
	RunArgsTransformer func(args []string) []string

	// baseCLIEngine provides the implementation shared by CLI-based engines.
	// Docker and Podman embed this struct; methods identical across engines
	// (Build, Run, Remove, RemoveImage, InspectImage, argument construction)
	// live here, while engine-specific methods (Name, Available, Version,
	// ImageExists) remain on the concrete types.
	baseCLIEngine struct {
		name               string
		binaryPath         string
		execCommand        ExecCommandFunc
		runArgsTransformer RunArgsTransformer
		buildAttempts      int
		buildBackoff       time.Duration
	}

	// BaseCLIEngineOption configures a baseCLIEngine.
	BaseCLIEngineOption func(*baseCLIEngine)
)

// WithExecCommand injects a custom exec.Cmd factory (for tests).
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *baseCLIEngine) {
		e.execCommand = fn
	}
}

// WithBinaryPath overrides the resolved engine binary path (for tests).
func WithBinaryPath(path string) BaseCLIEngineOption {
	return func(e *baseCLIEngine) {
		e.binaryPath = path
	}
}

// WithBuildRetry overrides the build retry policy (for tests).
func WithBuildRetry(attempts int, backoff time.Duration) BaseCLIEngineOption {
	return func(e *baseCLIEngine) {
		e.buildAttempts = attempts
		e.buildBackoff = backoff
	}
}

func newBaseCLIEngine(name, binaryPath string, opts ...BaseCLIEngineOption) *baseCLIEngine {
	e := &baseCLIEngine{
		name:          name,
		binaryPath:    binaryPath,
		execCommand:   exec.CommandContext,
		buildAttempts: defaultBuildAttempts,
		buildBackoff:  defaultBuildBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BinaryPath returns the resolved path of the engine binary, or "" when the
// binary was not found on PATH.
func (e *baseCLIEngine) BinaryPath() string {
	return e.binaryPath
}

// createCommand builds an exec.Cmd for the engine binary with the given args.
func (e *baseCLIEngine) createCommand(ctx context.Context, args ...string) *exec.Cmd {
	return e.execCommand(ctx, e.binaryPath, args...)
}

// runCommandWithOutput runs the engine binary and returns trimmed stdout.
// stderr is captured and folded into the returned error on failure.
func (e *baseCLIEngine) runCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := e.createCommand(ctx, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%s %s: %s: %w", e.name, args[0], msg, err)
		}
		return "", fmt.Errorf("%s %s: %w", e.name, args[0], err)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// buildArgs constructs arguments for an image build.
//
// Generated command: <binary> build [options] <context-dir>
func (e *baseCLIEngine) buildArgs(opts BuildOptions) []string {
	args := []string{"build"}

	if opts.Dockerfile != "" {
		// Resolve the Dockerfile path relative to the context directory.
		dockerfilePath := opts.Dockerfile
		if !filepath.IsAbs(dockerfilePath) && opts.ContextDir != "" {
			dockerfilePath = filepath.Join(opts.ContextDir, dockerfilePath)
		}
		args = append(args, "-f", dockerfilePath)
	}

	if opts.Tag != "" {
		args = append(args, "-t", opts.Tag)
	}

	if opts.NoCache {
		args = append(args, "--no-cache")
	}

	if opts.Pull {
		args = append(args, "--pull")
	}

	for _, k := range sortedKeys(opts.BuildArgs) {
		args = append(args, "--build-arg", fmt.Sprintf("%s=%s", k, opts.BuildArgs[k]))
	}

	args = append(args, opts.ContextDir)

	return args
}

// runArgs constructs arguments for a container run.
//
// Generated command: <binary> run [options] <image> [command...]
func (e *baseCLIEngine) runArgs(opts RunOptions) []string {
	args := []string{"run"}

	if opts.Remove {
		args = append(args, "--rm")
	}

	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}

	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}

	if opts.Entrypoint != nil {
		args = append(args, "--entrypoint", *opts.Entrypoint)
	}

	for _, k := range sortedKeys(opts.Env) {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, opts.Env[k]))
	}

	if e.runArgsTransformer != nil {
		args = e.runArgsTransformer(args)
	}

	args = append(args, opts.Image)
	args = append(args, opts.Command...)

	return args
}

// Build builds an image from a Dockerfile. Transient failures — registry
// connectivity while pulling the base image, storage driver races — are
// retried with exponential backoff; permanent failures return immediately.
func (e *baseCLIEngine) Build(ctx context.Context, opts BuildOptions) error {
	args := e.buildArgs(opts)

	return RetryWithBackoff(ctx, e.buildAttempts, e.buildBackoff, func(attempt int) (bool, error) {
		// stderr is teed into a buffer: the engine reports pull failures
		// there, and exec.ExitError alone carries no message to classify.
		var stderrTail bytes.Buffer
		stderr := io.Writer(&stderrTail)
		if opts.Stderr != nil {
			stderr = io.MultiWriter(opts.Stderr, &stderrTail)
		}

		cmd := e.createCommand(ctx, args...)
		cmd.Stdout = opts.Stdout
		cmd.Stderr = stderr

		err := cmd.Run()
		if err == nil {
			return false, nil
		}

		buildErr := fmt.Errorf("%s build failed for tag %s: %w", e.name, opts.Tag, err)
		if IsTransientError(err) || isTransientMessage(stderrTail.String()) {
			return true, buildErr
		}
		return false, buildErr
	})
}

// Run runs a command in a container.
func (e *baseCLIEngine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	cmd := e.createCommand(ctx, e.runArgs(opts)...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	err := cmd.Run()

	result := &RunResult{}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			result.Error = err
			return result, nil
		}
		return nil, fmt.Errorf("%s run failed: %w", e.name, err)
	}

	return result, nil
}

// Remove removes a container.
func (e *baseCLIEngine) Remove(ctx context.Context, containerID string, force bool) error {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, containerID)

	if _, err := e.runCommandWithOutput(ctx, args...); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", containerID, err)
	}
	return nil
}

// InspectImage inspects an image with the given format template.
func (e *baseCLIEngine) InspectImage(ctx context.Context, image, format string) (string, error) {
	args := []string{"image", "inspect"}
	if format != "" {
		args = append(args, "--format", format)
	}
	args = append(args, image)

	out, err := e.runCommandWithOutput(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("failed to inspect image %s: %w", image, err)
	}
	return out, nil
}

// RemoveImage removes an image.
func (e *baseCLIEngine) RemoveImage(ctx context.Context, image string, force bool) error {
	args := []string{"rmi"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, image)

	if _, err := e.runCommandWithOutput(ctx, args...); err != nil {
		return fmt.Errorf("failed to remove image %s: %w", image, err)
	}
	return nil
}

// sortedKeys returns map keys in lexical order so generated CLI argument
// lists are deterministic.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
