// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"lakeprov/internal/config"
	"lakeprov/internal/container"
	"lakeprov/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// verbose enables debug-level logging and full error chains
	verbose bool
	// cfgDir allows specifying a custom config directory
	cfgDir string
	// engineName selects the container engine (auto, docker, podman)
	engineName string

	// cfg is the loaded global configuration, available to all subcommands
	// after initRootConfig runs.
	cfg = config.DefaultConfig()

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "lakeprov",
		Short: "Provision datalake notebook images",
		Long: TitleStyle.Render("lakeprov") + SubtitleStyle.Render(" - Provision datalake notebook images") + `

lakeprov builds container images for Python datalake projects: it layers
a project tree and its pip dependencies onto a Jupyter/PySpark base
image, prepends the project to the module search path, and caches the
result by content hash so identical inputs never rebuild.

The pipeline is declared in an optional 'lakefile.cue'; without one the
stock notebook layout is provisioned.

` + SubtitleStyle.Render("Quick Start:") + `
  1. Put a requirements.txt next to your project sources
  2. Run 'lakeprov build' in the project directory
  3. Start a notebook from the printed image tag

` + SubtitleStyle.Render("Examples:") + `
  lakeprov build            Build (or reuse) the provisioned image
  lakeprov build --force    Rebuild, bypassing both caches
  lakeprov render           Print the generated recipe without building
  lakeprov verify           Check the provisioned image against its spec
  lakeprov init             Create a lakefile.cue interactively
  lakeprov clean            Remove cached provisioned images`,
	}
)

func init() {
	cobra.OnInitialize(initRootConfig)

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgDir, "config", "", "config directory (default is $HOME/.config/lakeprov)")
	rootCmd.PersistentFlags().StringVar(&engineName, "engine", "", "container engine to use (auto, docker, podman)")

	// Add subcommands
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(docsCmd)
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// initRootConfig reads the config file and environment variables if set.
func initRootConfig() {
	if cfgDir != "" {
		config.SetConfigDirOverride(cfgDir)
	}

	loaded, err := config.Load()
	if err != nil {
		// Surface config problems but keep running on defaults.
		fmt.Fprintln(os.Stderr, WarningStyle.Render("Warning: ")+formatErrorForDisplay(err, verbose))
	} else {
		cfg = loaded
	}

	// Apply verbose from config if not set via flag
	if !verbose {
		verbose = cfg.UI.Verbose
	}
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
}

// newEngine resolves the container engine from the --engine flag or config.
func newEngine() (container.Engine, error) {
	preferred := engineName
	if preferred == "" {
		preferred = cfg.ContainerEngine
	}
	return container.NewEngine(container.EngineType(preferred))
}

// formatErrorForDisplay formats an error for user display. Actionable errors
// carry suggestions; verbose mode shows the full chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	return issue.Describe(err, verboseMode)
}
