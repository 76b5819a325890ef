package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"receiptvault/cmd/client/cmd/receipts"
	"receiptvault/cmd/client/cmd/sync"
	"receiptvault/internal/app/client"
	"receiptvault/internal/app/client/config"
	"receiptvault/internal/utils/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "receiptvault",
	Short: "Receipt vault device client",
	Long: `receiptvault keeps a local copy of your receipts and syncs it with the
receipt vault server.

Edits are stored locally first and sent with "push" or "sync". Settings are
read from ~/.receiptvault/config.yaml, the environment (SERVER_ADDRESS,
TOKEN, DB_PATH) and flags.`,
	PersistentPreRunE:  setupApp,
	PersistentPostRunE: closeApp,
	SilenceUsage:       true,
	SilenceErrors:      true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func setupApp(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Env)

	app, err := client.New(cfg, log)
	if err != nil {
		return fmt.Errorf("init client: %w", err)
	}

	cmd.SetContext(client.WithApp(cmd.Context(), app))
	return nil
}

func closeApp(cmd *cobra.Command, _ []string) error {
	app, err := client.FromContext(cmd.Context())
	if err != nil {
		return nil
	}
	return app.Close()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ~/.receiptvault/config.yaml)")
	pf.String("server-address", "", "sync server URL")
	pf.String("token", "", "bearer token")
	pf.String("db-path", "", "local SQLite database")
	pf.String("app-env", "", "log style: local, dev or prod")

	rootCmd.AddCommand(sync.PullCmd, sync.PushCmd, sync.FullCmd, sync.SyncCmd)
	rootCmd.AddCommand(receipts.EditCmd, receipts.ListCmd)
}
