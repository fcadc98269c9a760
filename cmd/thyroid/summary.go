package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/animus-labs/thyroid/internal/domain"
	"github.com/animus-labs/thyroid/internal/inference"
)

var (
	headerColor = color.New(color.Bold)
	okColor     = color.New(color.FgHiGreen)
	keptColor   = color.New(color.FgYellow)
	failColor   = color.New(color.FgRed, color.Bold)
	dimColor    = color.New(color.FgHiBlack)
)

func printFinal(w io.Writer, final domain.FinalArtifact) {
	headerColor.Fprintf(w, "Run %s (%s)\n", final.Timestamp, final.RunID)
	for k, acc := range final.ModelAccuracy {
		status := keptColor.Sprint("kept incumbent")
		if k < len(final.Accepted) && final.Accepted[k] {
			status = okColor.Sprint("promoted")
		}
		fmt.Fprintf(w, "  %-9s model_accuracy=%.4f  %s\n", domain.ClusterID(k), acc, status)
	}
	for _, p := range final.ExportedPaths {
		fmt.Fprintf(w, "  exported %s\n", p)
	}
	fmt.Fprintf(w, "  descriptor %s\n", final.DescriptorPath)
}

func printFailure(w io.Writer, err error) {
	var se *domain.StageError
	if errors.As(err, &se) {
		failColor.Fprintf(w, "%s failed (%s error)\n", se.Stage, se.Kind)
		fmt.Fprintf(w, "  %s: %v\n", se.Op, se.Err)
		return
	}
	failColor.Fprintf(w, "pipeline failed: %v\n", err)
}

func printRecords(w io.Writer, path string, recs []domain.PromotionRecord) {
	headerColor.Fprintf(w, "Registry %s\n", path)
	if len(recs) == 0 {
		dimColor.Fprintln(w, "  no promoted models")
		return
	}
	for _, rec := range recs {
		fmt.Fprintf(w, "  %-9s %s", rec.Cluster, okColor.Sprint(rec.BestModelPath))
		if rec.UpdatedAt != "" {
			dimColor.Fprintf(w, " (since %s)", rec.UpdatedAt)
		}
		fmt.Fprintln(w)
		for _, h := range rec.History {
			dimColor.Fprintf(w, "      %s  %s\n", h.Timestamp, h.ModelPath)
		}
	}
}

func printPredictions(w io.Writer, preds []inference.Prediction) {
	for i, p := range preds {
		fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, p.Cluster, p.Label)
	}
}
