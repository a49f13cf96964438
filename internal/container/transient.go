// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// transientFragments are engine output signatures of failures that may
// succeed on retry. They cover base-image pull failures (DNS, registry
// connectivity) and storage driver races on rootless engines.
var transientFragments = []string{
	// Network failures while pulling the base image or fetching packages
	// inside the build.
	"Temporary failure resolving",
	"Could not resolve host",
	"TLS handshake timeout",
	"connection timed out",
	"connection refused",
	"i/o timeout",

	// Storage driver races (overlay mounts on rootless Podman).
	"error creating overlay mount",
	"error mounting layer",

	// OCI runtime races.
	"OCI runtime error",
}

// IsTransientError reports whether err is a transient container engine error
// that may succeed on retry: network trouble during an image pull, storage
// driver glitches, or generic engine failures (exit code 125).
//
// Context cancellation and deadline errors are explicitly non-transient
// because retrying a cancelled operation is never useful.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are never transient; the caller stopped the operation.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Exit code 125 is a generic engine error (internal Docker/Podman
	// failure), often a transient storage or cgroup issue.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 125 {
		return true
	}

	return isTransientMessage(err.Error())
}

// isTransientMessage reports whether engine output carries a known transient
// failure signature.
func isTransientMessage(s string) bool {
	for _, fragment := range transientFragments {
		if strings.Contains(s, fragment) {
			return true
		}
	}
	return false
}
