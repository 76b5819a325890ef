package receipts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"receiptvault/internal/app/client"
	"receiptvault/internal/domain/receipt"
)

var (
	setFields  []string
	nullFields []string
)

var EditCmd = &cobra.Command{
	Use:   "edit <receipt-id>",
	Short: "Change fields of a local receipt",
	Long: `edit changes fields of a receipt on this device, creating it if needed.
The change is sent to the server on the next push.

Values are parsed as JSON when possible and taken as plain strings otherwise:

  receiptvault edit r1 --set displayName=Lunch --set warrantyMonths=24 \
    --set userTags='["work","travel"]' --null category`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		fields, err := parseFields(setFields, nullFields)
		if err != nil {
			return err
		}

		rec, err := app.Edit(cmd.Context(), args[0], fields)
		if err != nil {
			return fmt.Errorf("edit: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s edited locally, pending fields: %s\n",
			rec.RecordID, strings.Join(rec.EditedFields, ", "))
		return nil
	},
}

func init() {
	EditCmd.Flags().StringArrayVar(&setFields, "set", nil, "field=value, repeatable")
	EditCmd.Flags().StringArrayVar(&nullFields, "null", nil, "field to set to null, repeatable")
}

func parseFields(set, null []string) (receipt.Fields, error) {
	fields := make(receipt.Fields, len(set)+len(null))

	for _, kv := range set {
		name, raw, ok := strings.Cut(kv, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("--set %q: want field=value", kv)
		}
		fields[name] = parseValue(raw)
	}
	for _, name := range null {
		fields[strings.TrimSpace(name)] = receipt.Null()
	}
	return fields, nil
}

func parseValue(raw string) receipt.Value {
	var v receipt.Value
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return receipt.String(raw)
}
