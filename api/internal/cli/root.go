// Package cli holds the photo-critic commands: serve, bot, analyze and purge.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"photo-critic/api/internal/config"
	"photo-critic/api/internal/logger"
)

// Version is set at build time with -ldflags "-X photo-critic/api/internal/cli.Version=...".
var Version = "dev"

var (
	cfgFile string
	envFile string
	logMode string

	cfg *config.Config
	log *zap.Logger

	rootCmd = &cobra.Command{
		Use:           "photo-critic",
		Short:         "Photo critique service backed by GPT or Gemini",
		Long:          "photo-critic sends a photo to a multimodal model, gets a critique for the viewer's level and optionally marks problem zones on the image.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			c, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			mode := c.Server.Mode
			if logMode != "" {
				mode = logMode
			}
			l, err := logger.New(mode)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			cfg, log = c, l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				_ = log.Sync()
			}
		},
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logMode, "log-mode", "", "logger mode: release or debug (default: server.mode)")
}
