package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Greyisheep/database-session-demo/internal/config"
	"github.com/Greyisheep/database-session-demo/internal/session"
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Inspect and maintain the artifact registry",
}

var artifactsStatCmd = &cobra.Command{
	Use:   "stat <hash>",
	Short: "Show a stored artifact's metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  runArtifactsStat,
}

var artifactsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete blobs no session references anymore",
	RunE:  runArtifactsSweep,
}

func init() {
	artifactsCmd.AddCommand(artifactsStatCmd, artifactsSweepCmd)
	rootCmd.AddCommand(artifactsCmd)
}

func runArtifactsStat(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, cfg *config.Config, store *session.Store) error {
		info, err := store.Artifacts().Stat(ctx, args[0])
		if err != nil {
			return fmt.Errorf("stat artifact: %w", err)
		}

		fmt.Printf("Hash: %s\n", info.Hash)
		fmt.Printf("MIME: %s\n", info.MIME)
		fmt.Printf("Size: %d bytes\n", info.Size)
		fmt.Printf("References: %d\n", info.RefCount)
		fmt.Printf("Created: %s\n", formatTime(info.CreatedAt))
		fmt.Printf("Updated: %s\n", formatTime(info.UpdatedAt))
		return nil
	})
}

func runArtifactsSweep(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, cfg *config.Config, store *session.Store) error {
		swept, err := store.Artifacts().Sweep(ctx)
		if err != nil {
			return fmt.Errorf("sweeping artifacts: %w", err)
		}
		fmt.Printf("Reclaimed %d artifact(s)\n", swept)
		return nil
	})
}
