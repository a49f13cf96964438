// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	gitignore "github.com/denormal/go-gitignore"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"lakeprov/internal/container"
	"lakeprov/internal/hooks"
	"lakeprov/internal/lakefile"
	"lakeprov/internal/manifest"
)

// TagPrefix is the repository part of provisioned image tags.
const TagPrefix = "lakeprov"

// runIDAlphabet keeps run identifiers usable in image tags and filenames.
const runIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// ErrBuildFailed wraps engine build failures so callers can classify them.
var ErrBuildFailed = errors.New("image build failed")

type (
	// Options configures a provisioning run.
	Options struct {
		// ContextDir is the build context root (the project checkout).
		ContextDir string

		// CacheDir holds the cache index and staged build contexts.
		CacheDir string

		// TagSuffix is appended to provisioned image tags. Primarily for
		// test isolation so parallel runs don't compete for tags.
		TagSuffix string

		// Force bypasses the image cache and disables the engine layer
		// cache for the build.
		Force bool

		// SkipHooks disables lakefile hooks for this run.
		SkipHooks bool

		// Stdout and Stderr receive engine build output and hook output.
		Stdout io.Writer
		Stderr io.Writer

		// Logger receives structured progress logs. Defaults to
		// log.Default().
		Logger *log.Logger
	}

	// Result is the outcome of a successful provisioning run.
	Result struct {
		// ImageTag is the provisioned image tag.
		ImageTag string

		// Recipe is the rendered container recipe.
		Recipe string

		// CacheHit is true when an image with identical inputs already
		// existed and no build ran.
		CacheHit bool

		// RunID uniquely identifies this run.
		RunID string

		// Manifest is the parsed dependency manifest, for verification.
		Manifest *manifest.Manifest
	}

	// Provisioner runs the six-step pipeline against a container engine.
	Provisioner struct {
		engine container.Engine
		spec   *lakefile.Lakefile
		opts   Options
	}
)

// New creates a Provisioner. Options are normalized: relative context dirs
// are resolved, and writers and logger get safe defaults.
func New(engine container.Engine, spec *lakefile.Lakefile, opts Options) (*Provisioner, error) {
	if spec == nil {
		spec = lakefile.Default()
	}

	if opts.ContextDir == "" {
		opts.ContextDir = "."
	}
	abs, err := filepath.Abs(opts.ContextDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve context directory: %w", err)
	}
	opts.ContextDir = abs

	if opts.CacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve cache directory: %w", err)
		}
		opts.CacheDir = filepath.Join(home, ".cache", "lakeprov")
	}

	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	return &Provisioner{engine: engine, spec: spec, opts: opts}, nil
}

// Spec returns the provisioning spec in effect.
func (p *Provisioner) Spec() *lakefile.Lakefile {
	return p.spec
}

// Provision runs the pipeline. Steps are strictly ordered and the run is
// atomic: the first failure aborts everything, the staged context is
// removed, and no cache entry is written.
func (p *Provisioner) Provision(ctx context.Context) (*Result, error) {
	logger := p.opts.Logger

	// Steps 1–2: base image selection and working directory are declared in
	// the spec; validation is their only build-time failure mode here.
	if err := p.spec.Validate(); err != nil {
		return nil, err
	}

	runID, err := gonanoid.Generate(runIDAlphabet, 10)
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}

	// Step 3 (validation half): the manifest must exist and parse before
	// any container work is paid for.
	m, err := manifest.Load(filepath.Join(p.opts.ContextDir, p.spec.Manifest))
	if err != nil {
		return nil, err
	}
	logger.Debug("parsed dependency manifest",
		"manifest", p.spec.Manifest, "requirements", len(m.Requirements))

	// Hook syntax errors surface before any container work is paid for.
	hookRunner := &hooks.Runner{
		Dir:    p.opts.ContextDir,
		Stdout: p.opts.Stdout,
		Stderr: p.opts.Stderr,
	}
	if err := hookRunner.Validate("pre_build", p.spec.Hooks.PreBuild); err != nil {
		return nil, err
	}
	if err := hookRunner.Validate("post_build", p.spec.Hooks.PostBuild); err != nil {
		return nil, err
	}

	ignore, err := LoadIgnore(p.opts.ContextDir, p.spec.IgnoreFile)
	if err != nil {
		return nil, err
	}

	recipe, err := RenderRecipe(p.spec)
	if err != nil {
		return nil, err
	}

	cacheKey, err := p.cacheKey(recipe, ignore)
	if err != nil {
		return nil, err
	}
	tag := p.imageTag(cacheKey)

	result := &Result{
		ImageTag: tag,
		Recipe:   recipe,
		RunID:    runID,
		Manifest: m,
	}

	if !p.opts.Force {
		exists, _ := p.engine.ImageExists(ctx, tag) //nolint:errcheck // Error treated as "not found"
		if exists {
			logger.Info("image cache hit", "tag", tag)
			result.CacheHit = true
			return result, nil
		}
	}

	hookRunner.Env = map[string]string{
		"LAKEPROV_RUN_ID":     runID,
		"LAKEPROV_IMAGE_TAG":  tag,
		"LAKEPROV_BASE_IMAGE": p.spec.BaseImage,
		"LAKEPROV_CONTEXT":    p.opts.ContextDir,
	}

	if !p.opts.SkipHooks {
		if err := hookRunner.Run(ctx, "pre_build", p.spec.Hooks.PreBuild); err != nil {
			return nil, err
		}
	}

	// Steps 3 and 5 (staging half) plus the rendered recipe.
	stageDir, cleanup, err := p.stageBuildContext(recipe, ignore, runID)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	logger.Info("building image",
		"tag", tag, "base", p.spec.BaseImage, "engine", p.engine.Name())

	// Steps 1, 2, 4, 5, 6 execute inside the engine build, in recipe order.
	buildOpts := container.BuildOptions{
		ContextDir: stageDir,
		Dockerfile: RecipeFileName,
		Tag:        tag,
		NoCache:    p.opts.Force,
		Stdout:     p.opts.Stdout,
		Stderr:     p.opts.Stderr,
	}
	if err := p.engine.Build(ctx, buildOpts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildFailed, err)
	}

	// Record the image only after a fully successful build.
	if err := p.recordImage(tag, cacheKey); err != nil {
		logger.Warn("failed to update cache index", "err", err)
	}

	if !p.opts.SkipHooks {
		if err := hookRunner.Run(ctx, "post_build", p.spec.Hooks.PostBuild); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// ImageTag returns the tag a provisioning run would produce, without
// building anything. Useful for cache inspection.
func (p *Provisioner) ImageTag(ctx context.Context) (string, error) {
	if err := p.spec.Validate(); err != nil {
		return "", err
	}
	if _, err := manifest.Load(filepath.Join(p.opts.ContextDir, p.spec.Manifest)); err != nil {
		return "", err
	}
	ignore, err := LoadIgnore(p.opts.ContextDir, p.spec.IgnoreFile)
	if err != nil {
		return "", err
	}
	recipe, err := RenderRecipe(p.spec)
	if err != nil {
		return "", err
	}
	key, err := p.cacheKey(recipe, ignore)
	if err != nil {
		return "", err
	}
	return p.imageTag(key), nil
}

// cacheKey hashes every input of the run: base image reference, manifest
// contents, the ignore-filtered project tree, and the rendered recipe.
func (p *Provisioner) cacheKey(recipe string, ignore gitignore.GitIgnore) (string, error) {
	h := sha256.New()

	fmt.Fprintf(h, "image:%s\n", p.spec.BaseImage)

	manifestHash, err := HashFile(filepath.Join(p.opts.ContextDir, p.spec.Manifest))
	if err != nil {
		return "", fmt.Errorf("failed to hash manifest: %w", err)
	}
	fmt.Fprintf(h, "manifest:%s\n", manifestHash)

	treeHash, err := HashTree(p.opts.ContextDir, ignore, p.opts.CacheDir)
	if err != nil {
		return "", fmt.Errorf("failed to hash project tree: %w", err)
	}
	fmt.Fprintf(h, "tree:%s\n", treeHash)

	fmt.Fprintf(h, "recipe:%s\n", HashBytes([]byte(recipe)))

	return hex.EncodeToString(h.Sum(nil)), nil
}

// imageTag constructs the image tag from a cache key, with the optional
// suffix for tag isolation.
func (p *Provisioner) imageTag(cacheKey string) string {
	if p.opts.TagSuffix != "" {
		return fmt.Sprintf("%s:%s-%s", TagPrefix, cacheKey[:12], p.opts.TagSuffix)
	}
	return fmt.Sprintf("%s:%s", TagPrefix, cacheKey[:12])
}

// recordImage upserts the built image into the cache index.
func (p *Provisioner) recordImage(tag, cacheKey string) error {
	path := IndexPath(p.opts.CacheDir)
	idx, err := LoadIndex(path)
	if err != nil {
		return err
	}
	idx.Upsert(IndexEntry{
		Tag:       tag,
		BaseImage: p.spec.BaseImage,
		CacheKey:  cacheKey,
		Lakefile:  p.spec.FilePath,
		CreatedAt: time.Now().UTC(),
	})
	return SaveIndex(path, idx)
}
