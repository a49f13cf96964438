// SPDX-License-Identifier: MPL-2.0

package main

import (
	_ "embed"
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

//go:embed docs.md
var referenceDocs string

// docsCmd renders the embedded reference documentation
var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Show the lakeprov reference documentation",
	Long:  "Render the embedded reference documentation: pipeline steps, lakefile fields, hooks, caching, and configuration.",
	RunE: func(cmd *cobra.Command, args []string) error {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
		if err != nil {
			// Fall back to the raw markdown when the terminal renderer
			// cannot be constructed.
			fmt.Print(referenceDocs)
			return nil
		}

		out, err := renderer.Render(referenceDocs)
		if err != nil {
			fmt.Print(referenceDocs)
			return nil
		}
		fmt.Print(out)
		return nil
	},
}
