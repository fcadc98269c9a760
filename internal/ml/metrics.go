package ml

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Accuracy is the fraction of predictions equal to the true labels.
func Accuracy(yTrue, yPred []int) (float64, error) {
	if len(yTrue) != len(yPred) {
		return 0, fmt.Errorf("accuracy: %d labels but %d predictions", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return 0, fmt.Errorf("accuracy: no samples")
	}
	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue)), nil
}

// Score predicts X with c and returns the accuracy against y.
func Score(c Classifier, X mat.Matrix, y []int) (float64, error) {
	pred, err := c.Predict(X)
	if err != nil {
		return 0, err
	}
	return Accuracy(y, pred)
}
