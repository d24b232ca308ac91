package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/charity-cli/internal/batch"
	"github.com/sells-group/charity-cli/internal/model"
)

var (
	processUseAI       bool
	processConcurrency int
)

var processCmd = &cobra.Command{
	Use:   "process <batch-id>",
	Short: "Resolve every eligible record of a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd, args[0], false)
	},
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <batch-id>",
	Short: "Reset unresolved records of a batch to pending and resolve them again",
	Long:  "Records in no_match, manual_review or multiple_matches are reset and resolved again. Rejected and matched records are left alone.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd, args[0], true)
	},
}

func runBatch(cmd *cobra.Command, batchID string, reprocess bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	useAI := processUseAI || cfg.Resolve.UseAI
	env, err := initEngine(ctx, aiMode(useAI))
	if err != nil {
		return err
	}
	defer env.Close()

	concurrency := processConcurrency
	if concurrency <= 0 {
		concurrency = cfg.Batch.Concurrency
	}
	opts := batch.Options{UseAI: useAI, Concurrency: concurrency}

	var b *model.Batch
	if reprocess {
		b, err = env.Batches.Reprocess(ctx, batchID, opts)
	} else {
		b, err = env.Batches.Process(ctx, batchID, opts)
	}
	if b != nil {
		zap.L().Info("batch run complete",
			zap.String("batch_id", b.ID),
			zap.String("status", string(b.Status)),
			zap.Int("processed", b.ProcessedRecords),
			zap.Int("matched", b.MatchedRecords),
			zap.Int("failed", b.FailedRecords),
		)
		if perr := printJSON(cmd.OutOrStdout(), b); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

func init() {
	for _, c := range []*cobra.Command{processCmd, reprocessCmd} {
		c.Flags().BoolVar(&processUseAI, "ai", false, "use AI disambiguation for ambiguous matches")
		c.Flags().IntVar(&processConcurrency, "concurrency", 0, "records resolved in parallel (default from config)")
		rootCmd.AddCommand(c)
	}
}
