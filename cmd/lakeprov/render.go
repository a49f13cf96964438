// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"lakeprov/internal/provision"
)

var (
	renderContext  string
	renderLakefile string
	renderTag      bool

	// renderCmd prints the generated recipe without building anything
	renderCmd = &cobra.Command{
		Use:   "render",
		Short: "Print the generated container recipe without building",
		Long: `Print the generated container recipe without building.

Useful for inspecting exactly what 'lakeprov build' would feed the
container engine. With --tag the computed image tag is printed instead,
which also reveals whether a rebuild would hit the cache.`,
		RunE: runRender,
	}
)

func init() {
	renderCmd.Flags().StringVarP(&renderContext, "context", "c", ".", "build context directory")
	renderCmd.Flags().StringVar(&renderLakefile, "lakefile", "", "lakefile path (default is <context>/lakefile.cue)")
	renderCmd.Flags().BoolVar(&renderTag, "tag", false, "print the computed image tag instead of the recipe")
}

func runRender(cmd *cobra.Command, args []string) error {
	spec, err := loadSpec(renderContext, renderLakefile)
	if err != nil {
		return err
	}

	if renderTag {
		// Tag computation needs the full input hash, so it goes through the
		// provisioner; the engine is never touched.
		p, err := provision.New(nil, spec, provision.Options{
			ContextDir: renderContext,
			CacheDir:   cfg.CacheDir,
			TagSuffix:  cfg.TagSuffix,
			Logger:     log.Default(),
		})
		if err != nil {
			return err
		}
		tag, err := p.ImageTag(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(tag)
		return nil
	}

	recipe, err := provision.RenderRecipe(spec)
	if err != nil {
		return err
	}
	fmt.Print(recipe)
	return nil
}
