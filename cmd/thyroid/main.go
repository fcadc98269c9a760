package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var opts globalOptions
	rootCmd := &cobra.Command{
		Use:   "thyroid",
		Short: "Cluster-then-classify training pipeline for thyroid diagnosis",
		Long: `thyroid ingests the thyroid dataset, clusters it, trains and promotes one
classifier per cluster, and serves batch predictions from the promoted models.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "pipeline config file (env THYROID_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&opts.rootDir, "root", "", "directory config paths and artifacts are relative to (env THYROID_ROOT_DIR)")

	rootCmd.AddCommand(TrainCmd(&opts))
	rootCmd.AddCommand(PredictCmd(&opts))
	rootCmd.AddCommand(ServeCmd(&opts))
	rootCmd.AddCommand(RegistryCmd(&opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
