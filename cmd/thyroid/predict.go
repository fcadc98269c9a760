package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/animus-labs/thyroid/internal/dataset"
	"github.com/animus-labs/thyroid/internal/inference"
	"github.com/animus-labs/thyroid/internal/platform/env"
)

// PredictCmd labels the rows of a raw CSV file.
func PredictCmd(opts *globalOptions) *cobra.Command {
	var descriptorPath, outputPath string

	cmd := &cobra.Command{
		Use:   "predict <input.csv>",
		Short: "Label raw records with the models of an exported run",
		Long: `Reads a CSV with the raw dataset columns (the target column is optional and
ignored) and writes it back with a predicted "label" and "cluster" column.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if descriptorPath == "" {
				descriptorPath = env.String("THYROID_DESCRIPTOR", "")
			}
			if descriptorPath == "" {
				return errors.New("--descriptor or THYROID_DESCRIPTOR is required")
			}
			logger, err := newLogger(os.Stderr)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), logger, "")
			if err != nil {
				return err
			}
			p, err := inference.LoadWithStore(cmd.Context(), descriptorPath, store)
			if err != nil {
				return err
			}
			input, err := dataset.ReadCSVFile(args[0])
			if err != nil {
				return err
			}
			preds, err := p.PredictTable(input)
			if err != nil {
				return err
			}

			out := dataset.Table{Header: append(append([]string(nil), input.Header...), "cluster", "label")}
			for i, row := range input.Rows {
				out.Rows = append(out.Rows, append(append([]string(nil), row...), fmt.Sprint(int(preds[i].Cluster)), preds[i].Label))
			}
			if outputPath == "" {
				printPredictions(cmd.OutOrStdout(), preds)
				return nil
			}
			if err := dataset.WriteCSVFile(outputPath, out); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "wrote %d predictions to %s\n", len(preds), outputPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&descriptorPath, "descriptor", "", "inference descriptor written by the push stage (env THYROID_DESCRIPTOR)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the labelled CSV here instead of printing")
	return cmd
}
