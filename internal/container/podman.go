// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// PodmanEngine implements the Engine interface using the Podman CLI.
type PodmanEngine struct {
	*baseCLIEngine
}

// NewPodmanEngine creates a new Podman engine.
func NewPodmanEngine(opts ...BaseCLIEngineOption) *PodmanEngine {
	path, _ := exec.LookPath("podman")
	base := newBaseCLIEngine("podman", path, opts...)
	// Rootless Podman needs --userns=keep-id so files created by verification
	// containers in bind mounts remain owned by the invoking user.
	if base.runArgsTransformer == nil {
		base.runArgsTransformer = podmanRunArgs
	}
	return &PodmanEngine{baseCLIEngine: base}
}

func podmanRunArgs(args []string) []string {
	return append(args, "--userns=keep-id")
}

// Name returns the engine name.
func (e *PodmanEngine) Name() string {
	return string(EngineTypePodman)
}

// Available checks if Podman is installed and functional.
func (e *PodmanEngine) Available() bool {
	if e.BinaryPath() == "" {
		return false
	}
	cmd := e.createCommand(context.Background(), "version", "--format", "{{.Client.Version}}")
	return cmd.Run() == nil
}

// Version returns the Podman version.
func (e *PodmanEngine) Version(ctx context.Context) (string, error) {
	out, err := e.runCommandWithOutput(ctx, "version", "--format", "{{.Client.Version}}")
	if err != nil {
		return "", fmt.Errorf("failed to get podman version: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// ImageExists checks if an image exists locally.
func (e *PodmanEngine) ImageExists(ctx context.Context, image string) (bool, error) {
	cmd := e.createCommand(ctx, "image", "exists", image)
	// podman image exists uses the exit code as the answer.
	if err := cmd.Run(); err != nil {
		return false, nil
	}
	return true, nil
}
