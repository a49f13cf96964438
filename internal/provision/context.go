// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"fmt"
	"os"
	"path/filepath"

	gitignore "github.com/denormal/go-gitignore"
)

// RecipeFileName is the rendered recipe's filename in the staged context.
const RecipeFileName = "Dockerfile"

// stageBuildContext assembles a temporary build context for the engine:
// the dependency manifest at the root (step 3), the ignore-filtered project
// tree under project/ (step 5), and the rendered recipe. The caller owns
// the returned cleanup and must run it whether or not the build succeeds.
func (p *Provisioner) stageBuildContext(recipe string, ignore gitignore.GitIgnore, runID string) (dir string, cleanup func(), err error) {
	parent := filepath.Join(p.opts.CacheDir, "build")
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	stageDir := filepath.Join(parent, "ctx-"+runID)
	if err := os.Mkdir(stageDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create build context: %w", err)
	}

	cleanup = func() {
		_ = os.RemoveAll(stageDir) // Staged context is disposable; error non-critical
	}

	// Step 3: the manifest at the context root, its own copy layer.
	manifestSrc := filepath.Join(p.opts.ContextDir, p.spec.Manifest)
	if err := CopyFile(manifestSrc, filepath.Join(stageDir, p.spec.Manifest)); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to stage manifest: %w", err)
	}

	// Step 5: the filtered project tree.
	if err := CopyTree(p.opts.ContextDir, filepath.Join(stageDir, projectStageDir), ignore, p.opts.CacheDir); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to stage project tree: %w", err)
	}

	if err := os.WriteFile(filepath.Join(stageDir, RecipeFileName), []byte(recipe), 0o644); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to write recipe: %w", err)
	}

	return stageDir, cleanup, nil
}
