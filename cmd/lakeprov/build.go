// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"lakeprov/internal/lakefile"
	"lakeprov/internal/provision"
	"lakeprov/internal/verify"
)

var (
	buildContext    string
	buildLakefile   string
	buildTagSuffix  string
	buildForce      bool
	buildSkipHooks  bool
	buildSkipVerify bool

	// buildCmd runs the full provisioning pipeline
	buildCmd = &cobra.Command{
		Use:   "build",
		Short: "Build the provisioned image for the current project",
		Long: `Build the provisioned image for the current project.

The pipeline copies the dependency manifest, installs it with pip,
copies the project tree, and extends the module search path - in that
order, as separate image layers. When an image with identical inputs
already exists the build is skipped entirely.

After a successful build the image is checked against the spec:
working directory, search path, project placement, and any imports or
version pins the lakefile declares.`,
		RunE: runBuild,
	}
)

func init() {
	buildCmd.Flags().StringVarP(&buildContext, "context", "c", ".", "build context directory")
	buildCmd.Flags().StringVar(&buildLakefile, "lakefile", "", "lakefile path (default is <context>/lakefile.cue)")
	buildCmd.Flags().StringVar(&buildTagSuffix, "tag-suffix", "", "suffix appended to the image tag")
	buildCmd.Flags().BoolVarP(&buildForce, "force", "f", false, "rebuild even if a cached image exists")
	buildCmd.Flags().BoolVar(&buildSkipHooks, "skip-hooks", false, "skip pre_build and post_build hooks")
	buildCmd.Flags().BoolVar(&buildSkipVerify, "skip-verify", false, "skip post-build verification")
}

func runBuild(cmd *cobra.Command, args []string) error {
	spec, err := loadSpec(buildContext, buildLakefile)
	if err != nil {
		return err
	}

	engine, err := newEngine()
	if err != nil {
		return err
	}

	tagSuffix := buildTagSuffix
	if tagSuffix == "" {
		tagSuffix = cfg.TagSuffix
	}

	p, err := provision.New(engine, spec, provision.Options{
		ContextDir: buildContext,
		CacheDir:   cfg.CacheDir,
		TagSuffix:  tagSuffix,
		Force:      buildForce,
		SkipHooks:  buildSkipHooks,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		Logger:     log.Default(),
	})
	if err != nil {
		return err
	}

	result, err := p.Provision(cmd.Context())
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	if result.CacheHit {
		fmt.Printf("%s Reusing cached image %s\n",
			SuccessStyle.Render("✓"), TagStyle.Render(result.ImageTag))
	} else {
		fmt.Printf("%s Built image %s\n",
			SuccessStyle.Render("✓"), TagStyle.Render(result.ImageTag))
	}

	if buildSkipVerify {
		return nil
	}

	v := &verify.Verifier{
		Engine:   engine,
		Spec:     spec,
		Manifest: result.Manifest,
		Logger:   log.Default(),
	}
	report, err := v.Verify(cmd.Context(), result.ImageTag)
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}
	printReport(report)
	if !report.OK() {
		return &ExitError{Code: 1, Err: fmt.Errorf("image %s failed verification", result.ImageTag)}
	}

	return nil
}

// loadSpec resolves the provisioning spec for a build context: an explicit
// --lakefile path wins, otherwise the context is searched and the built-in
// defaults apply when no lakefile exists.
func loadSpec(contextDir, lakefilePath string) (*lakefile.Lakefile, error) {
	if lakefilePath != "" {
		return lakefile.Load(lakefilePath)
	}
	return lakefile.Discover(contextDir)
}
