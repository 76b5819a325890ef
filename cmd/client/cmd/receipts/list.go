package receipts

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"receiptvault/internal/app/client"
	"receiptvault/internal/domain/sync"
)

var listFormat string

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "List receipts stored on this device",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		receipts, err := app.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}

		if listFormat == "json" {
			return printJSON(cmd.OutOrStdout(), receipts)
		}
		return printTable(cmd.OutOrStdout(), receipts)
	},
}

func init() {
	ListCmd.Flags().StringVar(&listFormat, "format", "table", "output format: table or json")
}

func printTable(out io.Writer, receipts []*client.LocalReceipt) error {
	if len(receipts) == 0 {
		fmt.Fprintln(out, "no receipts")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tVERSION\tSTATE\tUPDATED")
	for _, r := range receipts {
		state := "synced"
		if r.Dirty {
			state = "pending"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			r.RecordID, title(r), r.ServerVersion, state, r.UpdatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

// title picks the most human field available.
func title(r *client.LocalReceipt) string {
	for _, name := range []string{sync.FieldDisplayName, sync.FieldExtractedMerchantName} {
		if s, ok := r.Fields[name].AsString(); ok && s != "" {
			return s
		}
	}
	return "-"
}

type jsonReceipt struct {
	RecordID      string         `json:"recordId"`
	ServerVersion int64          `json:"serverVersion"`
	Fields        map[string]any `json:"fields"`
	Pending       []string       `json:"pendingFields,omitempty"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

func printJSON(out io.Writer, receipts []*client.LocalReceipt) error {
	items := make([]jsonReceipt, 0, len(receipts))
	for _, r := range receipts {
		items = append(items, jsonReceipt{
			RecordID:      r.RecordID,
			ServerVersion: r.ServerVersion,
			Fields:        r.Fields.Interface(),
			Pending:       r.EditedFields,
			UpdatedAt:     r.UpdatedAt,
		})
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}
