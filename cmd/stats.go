package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/charity-cli/internal/model"
)

var (
	batchesLimit  int
	batchesOffset int
)

var statsCmd = &cobra.Command{
	Use:   "stats <batch-id>",
	Short: "Print record counts, statuses and financial totals for a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		b, err := env.Store.GetBatch(ctx, args[0])
		if err != nil {
			return err
		}
		stats, err := env.Store.BatchStats(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), struct {
			Batch *model.Batch      `json:"batch"`
			Stats *model.BatchStats `json:"stats"`
		}{b, stats})
	},
}

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "List batches, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		batches, err := env.Store.ListBatches(ctx, batchesLimit, batchesOffset)
		if err != nil {
			return err
		}
		if batches == nil {
			batches = []model.Batch{}
		}
		return printJSON(cmd.OutOrStdout(), batches)
	},
}

func init() {
	batchesCmd.Flags().IntVar(&batchesLimit, "limit", 50, "max batches to list")
	batchesCmd.Flags().IntVar(&batchesOffset, "offset", 0, "batches to skip")
	rootCmd.AddCommand(statsCmd, batchesCmd)
}
