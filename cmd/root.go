package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/facegate/internal/config"
	"github.com/example/facegate/internal/logging"
)

var (
	configPath string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "facegate",
	Short: "Face enrollment and recognition service",
	Long: `Facegate enrolls people from camera captures or uploaded images and
recognizes them by comparing face embeddings against the stored gallery.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		built, err := logging.NewLogger(loaded.Log.Level, loaded.Log.Development)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		cfg, logger = loaded, built
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
}
