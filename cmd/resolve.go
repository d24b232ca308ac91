package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/charity-cli/internal/resolve"
)

var resolveUseAI bool

var resolveCmd = &cobra.Command{
	Use:   "resolve <record-id>",
	Short: "Clear a record's resolution and resolve it again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		useAI := resolveUseAI || cfg.Resolve.UseAI
		env, err := initEngine(ctx, aiMode(useAI))
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Resolver.Reresolve(ctx, args[0], resolve.Options{UseAI: useAI})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveUseAI, "ai", false, "use AI disambiguation for ambiguous matches")
	rootCmd.AddCommand(resolveCmd)
}
