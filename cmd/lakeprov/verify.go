// SPDX-License-Identifier: MPL-2.0

package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"lakeprov/internal/manifest"
	"lakeprov/internal/provision"
	"lakeprov/internal/verify"
)

var (
	verifyContext  string
	verifyLakefile string

	// verifyCmd checks a provisioned image against its spec
	verifyCmd = &cobra.Command{
		Use:   "verify [image]",
		Short: "Check a provisioned image against its spec",
		Long: `Check a provisioned image against its spec.

Inspects the image for the expected working directory and search-path
extension, confirms the project tree landed at its container path, and
runs any imports and version pins the lakefile declares in throwaway
containers.

Without an image argument the tag is computed from the current build
context, the same way 'lakeprov build' would.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runVerify,
	}
)

func init() {
	verifyCmd.Flags().StringVarP(&verifyContext, "context", "c", ".", "build context directory")
	verifyCmd.Flags().StringVar(&verifyLakefile, "lakefile", "", "lakefile path (default is <context>/lakefile.cue)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	spec, err := loadSpec(verifyContext, verifyLakefile)
	if err != nil {
		return err
	}

	engine, err := newEngine()
	if err != nil {
		return err
	}

	var image string
	if len(args) > 0 {
		image = args[0]
	} else {
		p, err := provision.New(nil, spec, provision.Options{
			ContextDir: verifyContext,
			CacheDir:   cfg.CacheDir,
			TagSuffix:  cfg.TagSuffix,
			Logger:     log.Default(),
		})
		if err != nil {
			return err
		}
		image, err = p.ImageTag(cmd.Context())
		if err != nil {
			return err
		}
	}

	exists, err := engine.ImageExists(cmd.Context(), image)
	if err != nil {
		return err
	}
	if !exists {
		return &ExitError{Code: 1, Err: fmt.Errorf("image %s not found; run 'lakeprov build' first", image)}
	}

	m, err := loadOptionalManifest(filepath.Join(verifyContext, spec.Manifest))
	if err != nil {
		return err
	}

	v := &verify.Verifier{
		Engine:   engine,
		Spec:     spec,
		Manifest: m,
		Logger:   log.Default(),
	}
	report, err := v.Verify(cmd.Context(), image)
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	printReport(report)
	if !report.OK() {
		return &ExitError{Code: 1, Err: fmt.Errorf("image %s failed verification", image)}
	}
	return nil
}

// loadOptionalManifest reads the manifest when it exists. A missing file is
// fine (pin checks become no-ops), but a manifest that exists and cannot be
// parsed is an error the user needs to see, not a silent skip.
func loadOptionalManifest(path string) (*manifest.Manifest, error) {
	m, err := manifest.Load(path)
	if err != nil {
		if errors.Is(err, manifest.ErrManifestMissing) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// printReport writes one line per check, pass or fail.
func printReport(report *verify.Report) {
	fmt.Printf("%s %s\n", SubtitleStyle.Render("Verifying"), TagStyle.Render(report.Image))
	for _, c := range report.Checks {
		if c.OK {
			fmt.Printf("  %s %s\n", SuccessStyle.Render("✓"), c.Name)
		} else {
			fmt.Printf("  %s %s: %s\n", ErrorStyle.Render("✗"), c.Name, c.Detail)
		}
	}
}
