package ml

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

type KNNParams struct {
	NNeighbors int `yaml:"n_neighbors" json:"n_neighbors"`
	// Weights is "uniform" or "distance".
	Weights string `yaml:"weights" json:"weights"`
	// P is the Minkowski power, 1 for manhattan and 2 for euclidean.
	P float64 `yaml:"p" json:"p"`
}

// KNeighbors is a brute-force k-nearest-neighbours classifier.
type KNeighbors struct {
	Params KNNParams   `json:"params"`
	Points [][]float64 `json:"points"`
	Labels []int       `json:"labels"`
}

func NewKNeighbors(params map[string]any) (*KNeighbors, error) {
	p := KNNParams{NNeighbors: 5, Weights: "uniform", P: 2}
	if err := DecodeParams(KNeighborsKind, params, &p); err != nil {
		return nil, err
	}
	switch {
	case p.NNeighbors <= 0:
		return nil, fmt.Errorf("%s: n_neighbors must be > 0", KNeighborsKind)
	case p.Weights != "uniform" && p.Weights != "distance":
		return nil, fmt.Errorf("%s: weights must be uniform or distance, got %q", KNeighborsKind, p.Weights)
	case p.P < 1:
		return nil, fmt.Errorf("%s: p must be >= 1", KNeighborsKind)
	}
	return &KNeighbors{Params: p}, nil
}

func (k *KNeighbors) Kind() string { return KNeighborsKind }

func (k *KNeighbors) Fit(X mat.Matrix, y []int) error {
	r, _, err := checkFitInput(X, y)
	if err != nil {
		return err
	}
	if r < k.Params.NNeighbors {
		return fmt.Errorf("%s: n_neighbors=%d exceeds %d samples", KNeighborsKind, k.Params.NNeighbors, r)
	}
	k.Points = denseRows(X)
	k.Labels = append([]int(nil), y...)
	return nil
}

func (k *KNeighbors) Predict(X mat.Matrix) ([]int, error) {
	if len(k.Points) == 0 {
		return nil, ErrNotFitted
	}
	r, err := checkPredictInput(X, len(k.Points[0]))
	if err != nil {
		return nil, err
	}
	out := make([]int, r)
	row := make([]float64, len(k.Points[0]))
	for i := 0; i < r; i++ {
		mat.Row(row, i, X)
		out[i] = k.predictRow(row)
	}
	return out, nil
}

type neighbour struct {
	dist  float64
	label int
}

func (k *KNeighbors) predictRow(row []float64) int {
	nb := make([]neighbour, len(k.Points))
	for i, p := range k.Points {
		nb[i] = neighbour{dist: minkowski(row, p, k.Params.P), label: k.Labels[i]}
	}
	sort.SliceStable(nb, func(a, b int) bool { return nb[a].dist < nb[b].dist })
	nb = nb[:k.Params.NNeighbors]

	votes := map[int]float64{}
	if k.Params.Weights == "distance" {
		// exact matches outvote everything else
		for _, n := range nb {
			if n.dist == 0 {
				votes[n.label]++
			}
		}
		if len(votes) > 0 {
			return argmaxVote(votes)
		}
		for _, n := range nb {
			votes[n.label] += 1 / n.dist
		}
		return argmaxVote(votes)
	}
	for _, n := range nb {
		votes[n.label]++
	}
	return argmaxVote(votes)
}

func minkowski(a, b []float64, p float64) float64 {
	var sum float64
	for i := range a {
		d := math.Abs(a[i] - b[i])
		switch p {
		case 1:
			sum += d
		case 2:
			sum += d * d
		default:
			sum += math.Pow(d, p)
		}
	}
	switch p {
	case 1:
		return sum
	case 2:
		return math.Sqrt(sum)
	default:
		return math.Pow(sum, 1/p)
	}
}
