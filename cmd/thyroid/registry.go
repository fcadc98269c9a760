package main

import (
	"github.com/spf13/cobra"
)

// RegistryCmd groups the promotion registry commands.
func RegistryCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the per-cluster promotion registry",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print each cluster's current model and its history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *opts, false)
			if err != nil {
				return err
			}
			recs, err := rt.reg.Records()
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), rt.reg.Path(), recs)
			return nil
		},
	})
	return cmd
}
