// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"

	"lakeprov/internal/container"
	"lakeprov/internal/lakefile"
	"lakeprov/internal/manifest"
)

// mockEngine records every call so tests can assert what the pipeline asked
// the engine to do.
type mockEngine struct {
	mu sync.Mutex

	buildCalls       []container.BuildOptions
	imageExistsCalls []string

	imageExists bool
	buildErr    error

	// stagedFiles captures the staged context at build time, before the
	// pipeline's deferred cleanup removes it.
	stagedFiles map[string]string
}

func (m *mockEngine) Name() string { return "mock" }

func (m *mockEngine) Available() bool { return true }

func (m *mockEngine) Version(context.Context) (string, error) { return "0.0.0-test", nil }

func (m *mockEngine) Remove(context.Context, string, bool) error { return nil }

func (m *mockEngine) RemoveImage(context.Context, string, bool) error { return nil }

func (m *mockEngine) Build(_ context.Context, opts container.BuildOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buildCalls = append(m.buildCalls, opts)
	if m.buildErr != nil {
		return m.buildErr
	}
	m.stagedFiles = snapshotDir(opts.ContextDir)
	return nil
}

func (m *mockEngine) Run(context.Context, container.RunOptions) (*container.RunResult, error) {
	return &container.RunResult{ExitCode: 0}, nil
}

func (m *mockEngine) ImageExists(_ context.Context, image string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imageExistsCalls = append(m.imageExistsCalls, image)
	return m.imageExists, nil
}

func (m *mockEngine) InspectImage(context.Context, string, string) (string, error) {
	return "", nil
}

func snapshotDir(root string) map[string]string {
	files := map[string]string{}
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		data, _ := os.ReadFile(path)
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	return files
}

func newTestContext(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "requirements.txt"), "minio==7.2.0\npyspark==3.5.0\n")
	writeFile(t, filepath.Join(dir, "datalake.py"), "class DataLake: pass\n")
	writeFile(t, filepath.Join(dir, "notebooks", "demo.ipynb"), "{}\n")
	return dir
}

func newTestProvisioner(t *testing.T, engine container.Engine, spec *lakefile.Lakefile, opts Options) *Provisioner {
	t.Helper()
	if opts.ContextDir == "" {
		opts.ContextDir = newTestContext(t)
	}
	if opts.CacheDir == "" {
		opts.CacheDir = t.TempDir()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	p, err := New(engine, spec, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestProvisionBuildsImage(t *testing.T) {
	t.Parallel()

	engine := &mockEngine{}
	cacheDir := t.TempDir()
	p := newTestProvisioner(t, engine, nil, Options{CacheDir: cacheDir})

	result, err := p.Provision(context.Background())
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	if result.CacheHit {
		t.Error("CacheHit = true on first build")
	}
	if !strings.HasPrefix(result.ImageTag, TagPrefix+":") {
		t.Errorf("ImageTag = %q, want %q prefix", result.ImageTag, TagPrefix+":")
	}
	if result.Manifest == nil || len(result.Manifest.Requirements) != 2 {
		t.Errorf("Manifest not parsed: %+v", result.Manifest)
	}

	if len(engine.buildCalls) != 1 {
		t.Fatalf("build calls = %d, want 1", len(engine.buildCalls))
	}
	build := engine.buildCalls[0]
	if build.Tag != result.ImageTag {
		t.Errorf("build tag = %q, want %q", build.Tag, result.ImageTag)
	}
	if build.Dockerfile != RecipeFileName {
		t.Errorf("build dockerfile = %q, want %q", build.Dockerfile, RecipeFileName)
	}
	if build.NoCache {
		t.Error("NoCache = true without --force")
	}

	// The staged context must hold the manifest at the root, the project
	// tree under project/, and the rendered recipe.
	for _, want := range []string{
		"requirements.txt",
		"Dockerfile",
		"project/requirements.txt",
		"project/datalake.py",
		"project/notebooks/demo.ipynb",
	} {
		if _, ok := engine.stagedFiles[want]; !ok {
			t.Errorf("staged context missing %s; have %v", want, engine.stagedFiles)
		}
	}
	if engine.stagedFiles["Dockerfile"] != result.Recipe {
		t.Error("staged recipe differs from Result.Recipe")
	}

	// A successful build is recorded in the cache index.
	idx, err := LoadIndex(IndexPath(cacheDir))
	if err != nil {
		t.Fatalf("LoadIndex() error = %v", err)
	}
	if _, ok := idx.Lookup(result.ImageTag); !ok {
		t.Errorf("cache index missing entry for %s", result.ImageTag)
	}

	// The staged context is removed after the run.
	entries, err := os.ReadDir(filepath.Join(cacheDir, "build"))
	if err != nil {
		t.Fatalf("failed to read staging directory: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("staging directory not cleaned: %v", entries)
	}
}

func TestProvisionCacheHit(t *testing.T) {
	t.Parallel()

	engine := &mockEngine{imageExists: true}
	p := newTestProvisioner(t, engine, nil, Options{})

	result, err := p.Provision(context.Background())
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if !result.CacheHit {
		t.Error("CacheHit = false with existing image")
	}
	if len(engine.buildCalls) != 0 {
		t.Errorf("build calls = %d on cache hit, want 0", len(engine.buildCalls))
	}
	if len(engine.imageExistsCalls) != 1 {
		t.Errorf("imageExists calls = %d, want 1", len(engine.imageExistsCalls))
	}
}

func TestProvisionForceRebuild(t *testing.T) {
	t.Parallel()

	engine := &mockEngine{imageExists: true}
	p := newTestProvisioner(t, engine, nil, Options{Force: true})

	result, err := p.Provision(context.Background())
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if result.CacheHit {
		t.Error("CacheHit = true with --force")
	}
	if len(engine.imageExistsCalls) != 0 {
		t.Error("image existence checked despite --force")
	}
	if len(engine.buildCalls) != 1 {
		t.Fatalf("build calls = %d, want 1", len(engine.buildCalls))
	}
	if !engine.buildCalls[0].NoCache {
		t.Error("NoCache = false with --force")
	}
}

func TestProvisionMissingManifest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "datalake.py"), "pass\n")

	engine := &mockEngine{}
	p := newTestProvisioner(t, engine, nil, Options{ContextDir: dir})

	_, err := p.Provision(context.Background())
	if !errors.Is(err, manifest.ErrManifestMissing) {
		t.Fatalf("Provision() error = %v, want ErrManifestMissing", err)
	}
	if len(engine.buildCalls) != 0 || len(engine.imageExistsCalls) != 0 {
		t.Error("engine was called despite missing manifest")
	}
}

func TestProvisionBuildFailureIsAtomic(t *testing.T) {
	t.Parallel()

	engine := &mockEngine{buildErr: errors.New("exit status 1")}
	cacheDir := t.TempDir()
	p := newTestProvisioner(t, engine, nil, Options{CacheDir: cacheDir})

	_, err := p.Provision(context.Background())
	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("Provision() error = %v, want ErrBuildFailed", err)
	}

	// No cache entry and no leftover staged context after a failed build.
	idx, loadErr := LoadIndex(IndexPath(cacheDir))
	if loadErr != nil {
		t.Fatalf("LoadIndex() error = %v", loadErr)
	}
	if len(idx.Images) != 0 {
		t.Errorf("cache index has %d entries after failed build, want 0", len(idx.Images))
	}
	entries, readErr := os.ReadDir(filepath.Join(cacheDir, "build"))
	if readErr != nil {
		t.Fatalf("failed to read staging directory: %v", readErr)
	}
	if len(entries) != 0 {
		t.Errorf("staging directory not cleaned after failure: %v", entries)
	}
}

func TestProvisionRunsHooks(t *testing.T) {
	t.Parallel()

	spec := lakefile.Default()
	spec.Hooks.PreBuild = `printf '%s' "$LAKEPROV_IMAGE_TAG" > pre_build_tag.txt`
	spec.Hooks.PostBuild = `printf 'done' > post_build.txt`

	engine := &mockEngine{}
	contextDir := newTestContext(t)
	p := newTestProvisioner(t, engine, spec, Options{ContextDir: contextDir})

	result, err := p.Provision(context.Background())
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	tag, err := os.ReadFile(filepath.Join(contextDir, "pre_build_tag.txt"))
	if err != nil {
		t.Fatalf("pre_build hook did not run: %v", err)
	}
	if string(tag) != result.ImageTag {
		t.Errorf("hook saw LAKEPROV_IMAGE_TAG = %q, want %q", tag, result.ImageTag)
	}
	if _, err := os.Stat(filepath.Join(contextDir, "post_build.txt")); err != nil {
		t.Errorf("post_build hook did not run: %v", err)
	}
}

func TestProvisionSkipHooks(t *testing.T) {
	t.Parallel()

	spec := lakefile.Default()
	spec.Hooks.PreBuild = `printf 'ran' > hook_ran.txt`

	engine := &mockEngine{}
	contextDir := newTestContext(t)
	p := newTestProvisioner(t, engine, spec, Options{ContextDir: contextDir, SkipHooks: true})

	if _, err := p.Provision(context.Background()); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(contextDir, "hook_ran.txt")); !os.IsNotExist(err) {
		t.Error("hook ran despite SkipHooks")
	}
}

func TestProvisionHookSyntaxError(t *testing.T) {
	t.Parallel()

	spec := lakefile.Default()
	spec.Hooks.PostBuild = "if true; then"

	engine := &mockEngine{}
	p := newTestProvisioner(t, engine, spec, Options{})

	_, err := p.Provision(context.Background())
	if err == nil || !strings.Contains(err.Error(), "syntax error") {
		t.Fatalf("Provision() error = %v, want hook syntax error", err)
	}
	if len(engine.buildCalls) != 0 || len(engine.imageExistsCalls) != 0 {
		t.Error("engine was called despite invalid hook script")
	}
}

func TestProvisionFailingHookAborts(t *testing.T) {
	t.Parallel()

	spec := lakefile.Default()
	spec.Hooks.PreBuild = "exit 3"

	engine := &mockEngine{}
	p := newTestProvisioner(t, engine, spec, Options{})

	_, err := p.Provision(context.Background())
	if err == nil {
		t.Fatal("Provision() succeeded despite failing pre_build hook")
	}
	if len(engine.buildCalls) != 0 {
		t.Error("build ran despite failing pre_build hook")
	}
}

func TestImageTagStable(t *testing.T) {
	t.Parallel()

	contextDir := newTestContext(t)
	engine := &mockEngine{}

	first := newTestProvisioner(t, engine, nil, Options{ContextDir: contextDir})
	second := newTestProvisioner(t, engine, nil, Options{ContextDir: contextDir})

	tag1, err := first.ImageTag(context.Background())
	if err != nil {
		t.Fatalf("ImageTag() error = %v", err)
	}
	tag2, err := second.ImageTag(context.Background())
	if err != nil {
		t.Fatalf("ImageTag() error = %v", err)
	}
	if tag1 != tag2 {
		t.Errorf("identical inputs produced different tags: %s vs %s", tag1, tag2)
	}

	// Changing the manifest must change the tag.
	writeFile(t, filepath.Join(contextDir, "requirements.txt"), "minio==7.2.1\n")
	tag3, err := first.ImageTag(context.Background())
	if err != nil {
		t.Fatalf("ImageTag() error = %v", err)
	}
	if tag3 == tag1 {
		t.Error("tag unchanged after manifest edit")
	}
}

func TestImageTagSuffix(t *testing.T) {
	t.Parallel()

	contextDir := newTestContext(t)
	p := newTestProvisioner(t, &mockEngine{}, nil, Options{ContextDir: contextDir, TagSuffix: "test"})

	tag, err := p.ImageTag(context.Background())
	if err != nil {
		t.Fatalf("ImageTag() error = %v", err)
	}
	if !strings.HasSuffix(tag, "-test") {
		t.Errorf("ImageTag() = %q, want -test suffix", tag)
	}
}

func TestProvisionInvalidSpec(t *testing.T) {
	t.Parallel()

	spec := lakefile.Default()
	spec.Workdir = "relative/path"

	engine := &mockEngine{}
	p := newTestProvisioner(t, engine, spec, Options{})

	if _, err := p.Provision(context.Background()); err == nil {
		t.Fatal("Provision() succeeded with relative workdir")
	}
	if len(engine.buildCalls) != 0 {
		t.Error("engine called despite invalid spec")
	}
}
