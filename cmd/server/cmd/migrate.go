package cmd

import (
	"github.com/spf13/cobra"

	"receiptvault/internal/app/server/config"
	"receiptvault/internal/infrastructure/storage"
	"receiptvault/internal/utils/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the record store schema",
	Long: `migrate applies pending postgres migrations, or creates the DynamoDB table
with its ByUpdatedAt index. It is a no-op for the memory store.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cmd.Flags())
		if err != nil {
			return err
		}
		log := logger.New(cfg.Env)

		if err := storage.Prepare(cmd.Context(), cfg, log); err != nil {
			return err
		}
		log.Info("store schema is up to date", "store", cfg.Store.Driver)
		return nil
	},
}
