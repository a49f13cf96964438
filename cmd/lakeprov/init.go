// SPDX-License-Identifier: MPL-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"lakeprov/internal/lakefile"
)

var (
	initForce bool

	// initCmd creates a new lakefile.cue
	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Create a lakefile.cue in the current directory",
		Long: `Create a lakefile.cue in the current directory.

An interactive form asks for the base image, working directory, and
project layout; the answers are written as a starter lakefile. Every
field has a sensible default, so accepting everything reproduces the
stock notebook image layout.`,
		RunE: runInit,
	}
)

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing lakefile.cue")
}

func runInit(cmd *cobra.Command, args []string) error {
	filename := lakefile.DefaultFileName
	if len(args) > 0 {
		filename = args[0]
	}

	if _, err := os.Stat(filename); err == nil && !initForce {
		return fmt.Errorf("file '%s' already exists. Use --force to overwrite", filename)
	}

	spec := lakefile.Default()
	checkPins := false

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Base image").
				Description("Image providing Python, Jupyter, and Spark").
				Value(&spec.BaseImage).
				Validate(notEmpty("base image")),
			huh.NewInput().
				Title("Working directory").
				Description("Absolute path inside the image").
				Value(&spec.Workdir).
				Validate(func(s string) error {
					if !strings.HasPrefix(s, "/") {
						return errors.New("must be an absolute path")
					}
					return nil
				}),
			huh.NewInput().
				Title("Dependency manifest").
				Description("pip requirements file at the context root").
				Value(&spec.Manifest).
				Validate(notEmpty("manifest")),
			huh.NewInput().
				Title("Project subdirectory").
				Description("Where the project tree lands under the working directory").
				Value(&spec.ProjectSubdir).
				Validate(notEmpty("project subdirectory")),
			huh.NewConfirm().
				Title("Verify version pins after builds?").
				Description("Checks every pinned requirement inside the built image").
				Value(&checkPins),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		return err
	}
	spec.Verify.CheckPins = checkPins

	if err := spec.Validate(); err != nil {
		return err
	}

	if err := os.WriteFile(filename, []byte(lakefile.GenerateCUE(spec)), 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	absPath, _ := filepath.Abs(filename)
	fmt.Printf("%s Created %s\n", SuccessStyle.Render("✓"), absPath)
	fmt.Println()
	fmt.Println(SubtitleStyle.Render("Next steps:"))
	fmt.Println("  1. Put your requirements in " + spec.Manifest)
	fmt.Println("  2. Run 'lakeprov build' to provision the image")
	fmt.Println("  3. Run 'lakeprov verify' to check the result")

	return nil
}

func notEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s must not be empty", field)
		}
		return nil
	}
}
