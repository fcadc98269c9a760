// Package evaluation scores fitted classifiers on a train/test split and
// picks one above a rising accuracy floor.
package evaluation

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/animus-labs/thyroid/internal/ml"
)

// MaxTrainTestGap rejects candidates whose train and test accuracies diverge
// by at least this much.
const MaxTrainTestGap = 0.90

// Candidate is a fitted model offered for evaluation.
type Candidate struct {
	Name  string
	Model ml.Classifier
}

// Split is the data a candidate is scored on.
type Split struct {
	TrainX mat.Matrix
	TrainY []int
	TestX  mat.Matrix
	TestY  []int
}

// MetricReport describes the accepted candidate.
type MetricReport struct {
	Name          string
	Model         ml.Classifier
	TrainAccuracy float64
	TestAccuracy  float64
	ModelAccuracy float64
	// Index is the candidate's position in the input list.
	Index int
	// Rank counts the acceptances that happened before this one.
	Rank int
}

// HarmonicMean combines train and test accuracy. Equal inputs return that
// value unchanged and two zeros give zero.
func HarmonicMean(train, test float64) float64 {
	switch {
	case train == test:
		return train
	case train+test == 0:
		return 0
	}
	return 2 * train * test / (train + test)
}

// Evaluate scans candidates in order. A candidate is accepted when its
// combined score is at least the current floor and its train/test gap is
// below MaxTrainTestGap; each acceptance raises the floor to its score, so
// a later candidate with an equal score replaces an earlier one. The bool
// is false when nothing was accepted.
func Evaluate(candidates []Candidate, split Split, floor float64, logger *slog.Logger) (MetricReport, bool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		report   MetricReport
		accepted bool
		rank     int
	)
	for i, c := range candidates {
		trainAcc, err := ml.Score(c.Model, split.TrainX, split.TrainY)
		if err != nil {
			return MetricReport{}, false, fmt.Errorf("evaluate %s on train: %w", c.Name, err)
		}
		testAcc, err := ml.Score(c.Model, split.TestX, split.TestY)
		if err != nil {
			return MetricReport{}, false, fmt.Errorf("evaluate %s on test: %w", c.Name, err)
		}
		score := HarmonicMean(trainAcc, testAcc)
		gap := math.Abs(trainAcc - testAcc)
		logger.Info("candidate evaluated", "model", c.Name, "index", i,
			"train_accuracy", trainAcc, "test_accuracy", testAcc,
			"model_accuracy", score, "gap", gap, "floor", floor)

		if score >= floor && gap < MaxTrainTestGap {
			floor = score
			report = MetricReport{
				Name:          c.Name,
				Model:         c.Model,
				TrainAccuracy: trainAcc,
				TestAccuracy:  testAcc,
				ModelAccuracy: score,
				Index:         i,
				Rank:          rank,
			}
			accepted = true
			rank++
		}
	}
	if !accepted {
		logger.Info("no model matched base accuracy", "floor", floor)
	}
	return report, accepted, nil
}
