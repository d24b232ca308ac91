package main

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/charity-cli/internal/ingest"
)

var ingestOpts ingest.Options

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Load a CSV or XLSX file of organization names as a new batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read upload")
		}

		env, err := initEngine(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		b, up, err := ingest.Ingest(ctx, env.Store, filepath.Base(args[0]), data, ingestOpts)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"batch":         b,
			"name_column":   up.NameColumn,
			"number_column": up.NumberColumn,
			"skipped_rows":  up.Skipped,
		})
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestOpts.BatchName, "name", "", "batch name (default: file name)")
	ingestCmd.Flags().StringVar(&ingestOpts.NameColumn, "name-column", "", "header of the organization name column (default: name)")
	ingestCmd.Flags().StringVar(&ingestOpts.NumberColumn, "number-column", "", "header of a charity number column")
	rootCmd.AddCommand(ingestCmd)
}
