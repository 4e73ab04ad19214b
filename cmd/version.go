package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Greyisheep/database-session-demo/internal/config"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and configuration",
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	fmt.Printf("sessiond %s\n", AppVersion)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Println("Configuration:")
	fmt.Printf("  App name: %s\n", cfg.AppName)
	fmt.Printf("  Responder: %s\n", cfg.Responder)
	fmt.Printf("  Model: %s\n", cfg.ModelName)
	fmt.Printf("  Database: %s:%d/%s\n", cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDBName)
	fmt.Printf("  History limit: %d\n", cfg.HistoryLimit)
	fmt.Printf("  Artifact limit: %d MiB\n", cfg.MaxArtifactBytes>>20)

	// Presence only; never echo the key itself beyond its edges.
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		masked := "configured"
		if len(key) > 8 {
			masked = key[:4] + "..." + key[len(key)-4:]
		}
		fmt.Printf("  GEMINI_API_KEY: %s\n", masked)
	} else {
		fmt.Println("  GEMINI_API_KEY: not set (the scripted responder still works)")
	}

	return nil
}
