package sync

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"receiptvault/internal/app/client"
)

var PullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Fetch receipts changed on the server since the last sync",
	Long: `pull asks the server for every receipt modified after the stored cursor.
On the first run there is no cursor and a full sync is made instead.`,
	RunE: run(func(ctx context.Context, app *client.App) (*client.SyncResult, error) {
		return app.Pull(ctx)
	}),
}

var PushCmd = &cobra.Command{
	Use:   "push",
	Short: "Send local edits to the server",
	RunE: run(func(ctx context.Context, app *client.App) (*client.SyncResult, error) {
		return app.Push(ctx)
	}),
}

var FullCmd = &cobra.Command{
	Use:   "full",
	Short: "Download the complete receipt set and reset the cursor",
	RunE: run(func(ctx context.Context, app *client.App) (*client.SyncResult, error) {
		return app.Full(ctx)
	}),
}

var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull, push local edits and pull again if the server changed them",
	RunE: run(func(ctx context.Context, app *client.App) (*client.SyncResult, error) {
		if err := app.CheckConnection(ctx); err != nil {
			return nil, fmt.Errorf("server unreachable: %w", err)
		}
		return app.Sync(ctx)
	}),
}

func run(op func(ctx context.Context, app *client.App) (*client.SyncResult, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		start := time.Now()
		result, err := op(cmd.Context(), app)
		if result != nil {
			printResult(cmd.OutOrStdout(), result, time.Since(start))
		}
		if err != nil {
			return fmt.Errorf("%s: %w", cmd.Name(), err)
		}
		return nil
	}
}

func printResult(w io.Writer, r *client.SyncResult, took time.Duration) {
	fmt.Fprintf(w, "pulled %d, accepted %d, merged %d, conflicts %d, rejected %d, not found %d (%v)\n",
		r.Pulled, r.Accepted, r.Merged, r.Conflicts, r.Rejected, r.NotFound, took.Round(time.Millisecond))

	const shown = 5
	for i, p := range r.Problems {
		if i == shown {
			fmt.Fprintf(w, "  ... and %d more\n", len(r.Problems)-shown)
			break
		}
		fmt.Fprintf(w, "  - %s\n", p)
	}
}
