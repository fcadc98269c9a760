package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// LogisticParams configures multinomial logistic regression.
type LogisticParams struct {
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate"`
	MaxIter      int     `yaml:"max_iter" json:"max_iter"`
	L2           float64 `yaml:"l2" json:"l2"`
	Tol          float64 `yaml:"tol" json:"tol"`
	FitIntercept bool    `yaml:"fit_intercept" json:"fit_intercept"`
}

// LogisticRegression is a softmax classifier trained by batch gradient
// descent on standardized features.
type LogisticRegression struct {
	Params  LogisticParams `json:"params"`
	Classes []int          `json:"classes"`
	Mean    []float64      `json:"mean"`
	Scale   []float64      `json:"scale"`
	// Weights is row-major, one row per class.
	Weights []float64 `json:"weights"`
	Bias    []float64 `json:"bias"`
}

func NewLogisticRegression(params map[string]any) (*LogisticRegression, error) {
	p := LogisticParams{LearningRate: 0.5, MaxIter: 300, Tol: 1e-6, FitIntercept: true}
	if err := DecodeParams(LogisticRegressionKind, params, &p); err != nil {
		return nil, err
	}
	switch {
	case p.LearningRate <= 0:
		return nil, fmt.Errorf("%s: learning_rate must be > 0", LogisticRegressionKind)
	case p.MaxIter <= 0:
		return nil, fmt.Errorf("%s: max_iter must be > 0", LogisticRegressionKind)
	case p.L2 < 0:
		return nil, fmt.Errorf("%s: l2 must be >= 0", LogisticRegressionKind)
	}
	return &LogisticRegression{Params: p}, nil
}

func (m *LogisticRegression) Kind() string { return LogisticRegressionKind }

func (m *LogisticRegression) Fit(X mat.Matrix, y []int) error {
	r, c, err := checkFitInput(X, y)
	if err != nil {
		return err
	}
	classes := uniqueSorted(y)
	if len(classes) < 2 {
		return fmt.Errorf("%s: needs samples of at least 2 classes, got %d", LogisticRegressionKind, len(classes))
	}
	k := len(classes)
	classIdx := make(map[int]int, k)
	for i, cl := range classes {
		classIdx[cl] = i
	}

	m.Mean = make([]float64, c)
	m.Scale = make([]float64, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		m.Mean[j], m.Scale[j] = mean, std
	}
	xs := m.standardize(X)

	target := mat.NewDense(r, k, nil)
	for i, label := range y {
		target.Set(i, classIdx[label], 1)
	}

	w := mat.NewDense(k, c, nil)
	b := make([]float64, k)
	var probs, gradW mat.Dense
	for iter := 0; iter < m.Params.MaxIter; iter++ {
		m.probabilities(&probs, xs, w, b)
		probs.Sub(&probs, target)

		gradW.Mul(probs.T(), xs)
		gradW.Scale(1/float64(r), &gradW)
		if m.Params.L2 > 0 {
			gradW.Add(&gradW, scaled(m.Params.L2, w))
		}
		maxGrad := mat.Norm(&gradW, math.Inf(1))
		if m.Params.FitIntercept {
			for j := 0; j < k; j++ {
				g := mat.Sum(probs.ColView(j)) / float64(r)
				b[j] -= m.Params.LearningRate * g
				maxGrad = math.Max(maxGrad, math.Abs(g))
			}
		}
		gradW.Scale(m.Params.LearningRate, &gradW)
		w.Sub(w, &gradW)
		if maxGrad < m.Params.Tol {
			break
		}
	}

	m.Classes = classes
	m.Weights = append([]float64(nil), w.RawMatrix().Data...)
	m.Bias = b
	return nil
}

func (m *LogisticRegression) Predict(X mat.Matrix) ([]int, error) {
	if len(m.Classes) == 0 {
		return nil, ErrNotFitted
	}
	r, err := checkPredictInput(X, len(m.Mean))
	if err != nil {
		return nil, err
	}
	if r == 0 {
		return []int{}, nil
	}
	w := mat.NewDense(len(m.Classes), len(m.Mean), append([]float64(nil), m.Weights...))
	var probs mat.Dense
	m.probabilities(&probs, m.standardize(X), w, m.Bias)
	out := make([]int, r)
	for i := 0; i < r; i++ {
		best := 0
		for j := 1; j < len(m.Classes); j++ {
			if probs.At(i, j) > probs.At(i, best) {
				best = j
			}
		}
		out[i] = m.Classes[best]
	}
	return out, nil
}

func (m *LogisticRegression) standardize(X mat.Matrix) *mat.Dense {
	r, c := X.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 {
		return (v - m.Mean[j]) / m.Scale[j]
	}, X)
	return out
}

// probabilities writes the row-wise softmax of xs*w^T + b into dst.
func (m *LogisticRegression) probabilities(dst *mat.Dense, xs, w *mat.Dense, b []float64) {
	dst.Reset()
	dst.Mul(xs, w.T())
	r, k := dst.Dims()
	for i := 0; i < r; i++ {
		row := dst.RawRowView(i)
		maxZ := math.Inf(-1)
		for j := 0; j < k; j++ {
			row[j] += b[j]
			maxZ = math.Max(maxZ, row[j])
		}
		var sum float64
		for j := 0; j < k; j++ {
			row[j] = math.Exp(row[j] - maxZ)
			sum += row[j]
		}
		for j := 0; j < k; j++ {
			row[j] /= sum
		}
	}
}

func scaled(f float64, a mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Scale(f, a)
	return &out
}
