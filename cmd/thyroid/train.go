package main

import (
	"os"

	"github.com/spf13/cobra"
)

// TrainCmd runs the full pipeline once.
func TrainCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Run ingest, validate, transform, train, evaluate and push",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *opts, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			final, err := rt.trigger().Train(cmd.Context())
			if err != nil {
				printFailure(os.Stderr, err)
				return err
			}
			printFinal(cmd.OutOrStdout(), final)
			return nil
		},
	}
}
