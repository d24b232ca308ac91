package main

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/charity-cli/internal/export"
)

var (
	exportFormat string
	exportOut    string
	exportOpts   export.Options
)

var exportCmd = &cobra.Command{
	Use:   "export <batch-id>",
	Short: "Write a batch report as a multi-tab XLSX workbook or a flat CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if exportFormat != "xlsx" && exportFormat != "csv" {
			return eris.Errorf("invalid format %q (want xlsx or csv)", exportFormat)
		}

		env, err := initEngine(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := export.Load(ctx, env.Store, args[0])
		if err != nil {
			return err
		}

		out := exportOut
		if out == "" {
			out = "batch_" + args[0] + "." + exportFormat
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return eris.Wrap(err, "create output dir")
		}
		f, err := os.Create(out)
		if err != nil {
			return eris.Wrap(err, "create output file")
		}
		defer f.Close() //nolint:errcheck

		if exportFormat == "csv" {
			err = export.WriteCSV(f, rep.Records)
		} else {
			err = export.WriteXLSX(f, rep, exportOpts)
		}
		if err != nil {
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrap(err, "close output file")
		}

		zap.L().Info("export written",
			zap.String("batch_id", args[0]),
			zap.String("path", out),
			zap.Int("records", len(rep.Records)),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "xlsx", "output format: xlsx or csv")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output path (default batch_<id>.<format>)")
	exportCmd.Flags().BoolVar(&exportOpts.SkipCandidates, "no-candidates", false, "omit the resolution candidates tab")
	exportCmd.Flags().BoolVar(&exportOpts.SkipOwnership, "no-ownership", false, "omit the ownership tab")
	exportCmd.Flags().BoolVar(&exportOpts.SkipFinancial, "no-financial", false, "omit the financial data tab")
	exportCmd.Flags().BoolVar(&exportOpts.SkipEnriched, "no-enriched", false, "omit the enriched data tab")
	rootCmd.AddCommand(exportCmd)
}
