package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "receiptvault-server",
	Short: "Receipt sync server",
	Long: `receiptvault-server keeps the receipts of every owner in one record store
and reconciles device copies through delta pull, batch push and full sync.

Settings come from the environment (optionally a .env file); flags override them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("app-env", "local", "environment: local, dev or prod")
	pf.String("store-driver", "postgres", "record store: postgres, dynamodb or memory")
	pf.String("database-uri", "", "postgres connection string")
	pf.String("migrations-path", "migrations", "directory with postgres migrations")
	pf.String("dynamodb-table", "ReceiptVault", "DynamoDB table name")
	pf.String("dynamodb-endpoint", "", "custom DynamoDB endpoint, e.g. DynamoDB Local")
	pf.String("aws-region", "eu-west-1", "AWS region")

	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
}
