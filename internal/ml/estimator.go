// Package ml contains the estimators the model search can tune, the k-means
// partitioner used for clustering, and the codec that persists fitted models.
package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Classifier is a supervised estimator over a numeric feature matrix.
type Classifier interface {
	// Kind returns the registry identifier, e.g. "tree.DecisionTreeClassifier".
	Kind() string
	Fit(X mat.Matrix, y []int) error
	Predict(X mat.Matrix) ([]int, error)
}

var (
	ErrNotFitted      = errors.New("estimator is not fitted")
	ErrNonFiniteInput = errors.New("input contains NaN or Inf")
)

func checkFitInput(X mat.Matrix, y []int) (int, int, error) {
	if X == nil {
		return 0, 0, errors.New("feature matrix is required")
	}
	r, c := X.Dims()
	if r != len(y) {
		return 0, 0, fmt.Errorf("feature rows %d do not match label count %d", r, len(y))
	}
	if err := checkFinite(X); err != nil {
		return 0, 0, err
	}
	return r, c, nil
}

func checkPredictInput(X mat.Matrix, nFeatures int) (int, error) {
	if X == nil {
		return 0, errors.New("feature matrix is required")
	}
	r, c := X.Dims()
	if c != nFeatures {
		return 0, fmt.Errorf("got %d features, model was fitted with %d", c, nFeatures)
	}
	return r, checkFinite(X)
}

func checkFinite(X mat.Matrix) error {
	r, c := X.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := X.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w at row %d column %d", ErrNonFiniteInput, i, j)
			}
		}
	}
	return nil
}

// denseRows copies X into row slices, which the tree and neighbour code
// index far more often than gonum's At accessor would like.
func denseRows(X mat.Matrix) [][]float64 {
	r, c := X.Dims()
	out := make([][]float64, r)
	for i := 0; i < r; i++ {
		row := make([]float64, c)
		for j := 0; j < c; j++ {
			row[j] = X.At(i, j)
		}
		out[i] = row
	}
	return out
}

func uniqueSorted(y []int) []int {
	seen := map[int]bool{}
	out := make([]int, 0)
	for _, v := range y {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}

// argmaxVote returns the class with the most weight; ties go to the
// smallest class value.
func argmaxVote(votes map[int]float64) int {
	best, bestWeight, found := 0, math.Inf(-1), false
	for class, w := range votes {
		if !found || w > bestWeight || (w == bestWeight && class < best) {
			best, bestWeight, found = class, w, true
		}
	}
	return best
}
