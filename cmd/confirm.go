package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	confirmCandidate string
	confirmNumber    string
	confirmReject    bool
)

var confirmCmd = &cobra.Command{
	Use:   "confirm <record-id>",
	Short: "Confirm a record's match by candidate or charity number, or reject it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		given := 0
		for _, set := range []bool{confirmCandidate != "", confirmNumber != "", confirmReject} {
			if set {
				given++
			}
		}
		if given != 1 {
			return eris.New("exactly one of --candidate, --number or --reject is required")
		}

		env, err := initEngine(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Resolver.Confirm(ctx, args[0], confirmCandidate, confirmNumber)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

func init() {
	confirmCmd.Flags().StringVar(&confirmCandidate, "candidate", "", "candidate id to select")
	confirmCmd.Flags().StringVar(&confirmNumber, "number", "", "charity number to look up and apply")
	confirmCmd.Flags().BoolVar(&confirmReject, "reject", false, "reject the record")
	rootCmd.AddCommand(confirmCmd)
}
