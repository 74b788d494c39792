package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var purgeOlderThan time.Duration

func newPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete stored critiques older than --older-than",
		RunE: func(cmd *cobra.Command, args []string) error {
			if purgeOlderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			history, closeDB, err := openHistory(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeDB()
			if !history.Enabled() {
				return errors.New("history is disabled: set DATABASE_URL")
			}
			n, err := history.PurgeOlderThan(cmd.Context(), purgeOlderThan)
			if err != nil {
				return err
			}
			log.Info("purged critiques", zap.Int64("rows", n), zap.Duration("older_than", purgeOlderThan))
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d critiques\n", n)
			return nil
		},
		Example: `photo-critic purge --older-than 720h`,
	}
	cmd.Flags().DurationVar(&purgeOlderThan, "older-than", 30*24*time.Hour, "Age threshold")
	return cmd
}

func init() { rootCmd.AddCommand(newPurgeCmd()) }
