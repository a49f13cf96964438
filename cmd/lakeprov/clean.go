// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"lakeprov/internal/container"
	"lakeprov/internal/provision"
)

var (
	cleanForce bool

	// cleanCmd removes cached provisioned images
	cleanCmd = &cobra.Command{
		Use:   "clean [tag...]",
		Short: "Remove cached provisioned images",
		Long: `Remove cached provisioned images.

Without arguments every image recorded in the cache index is removed
from the engine and the index is emptied. With tag arguments only those
images are removed. Leftover staged build contexts are pruned either
way.`,
		RunE: runClean,
	}
)

func init() {
	cleanCmd.Flags().BoolVarP(&cleanForce, "force", "f", false, "force image removal even if containers use it")
}

func runClean(cmd *cobra.Command, args []string) error {
	engine, err := newEngine()
	if err != nil {
		return err
	}

	indexPath := provision.IndexPath(cfg.CacheDir)
	idx, err := provision.LoadIndex(indexPath)
	if err != nil {
		return err
	}

	targets := args
	if len(targets) == 0 {
		for _, entry := range idx.Images {
			targets = append(targets, entry.Tag)
		}
	}

	removed, failed := cleanImages(cmd.Context(), engine, idx, targets, cleanForce, cmd.OutOrStdout())

	if err := provision.SaveIndex(indexPath, idx); err != nil {
		return err
	}

	// Prune staged build contexts left behind by interrupted runs.
	stagingDir := filepath.Join(cfg.CacheDir, "build")
	if err := os.RemoveAll(stagingDir); err != nil {
		fmt.Printf("%s failed to prune staging directory: %v\n", WarningStyle.Render("!"), err)
	}

	if removed == 0 && failed == 0 {
		fmt.Println(SubtitleStyle.Render("Nothing to clean"))
	}
	return nil
}

// cleanImages removes the target images from the engine and drops them from
// the index. The index entry is dropped even when the engine removal fails
// (the image may already be gone), but only successful removals count toward
// removed.
func cleanImages(ctx context.Context, engine container.Engine, idx *provision.Index, targets []string, force bool, out io.Writer) (removed, failed int) {
	for _, tag := range targets {
		if _, ok := idx.Lookup(tag); !ok {
			fmt.Fprintf(out, "%s %s is not in the cache index\n", WarningStyle.Render("!"), TagStyle.Render(tag))
			continue
		}
		err := engine.RemoveImage(ctx, tag, force)
		idx.Remove(tag)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s failed to remove %s: %v\n", WarningStyle.Render("!"), TagStyle.Render(tag), err)
			continue
		}
		removed++
		fmt.Fprintf(out, "%s Removed %s\n", SuccessStyle.Render("✓"), TagStyle.Render(tag))
	}
	return removed, failed
}
