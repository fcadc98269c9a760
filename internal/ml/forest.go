package ml

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// ForestParams configures a bagged ensemble of decision trees.
type ForestParams struct {
	NEstimators    int    `yaml:"n_estimators" json:"n_estimators"`
	Criterion      string `yaml:"criterion" json:"criterion"`
	MaxDepth       int    `yaml:"max_depth" json:"max_depth"`
	MinSamplesLeaf int    `yaml:"min_samples_leaf" json:"min_samples_leaf"`
	// MaxFeatures is "sqrt", "log2" or "all".
	MaxFeatures string `yaml:"max_features" json:"max_features"`
	RandomState int64  `yaml:"random_state" json:"random_state"`
}

type RandomForest struct {
	Params    ForestParams    `json:"params"`
	NFeatures int             `json:"n_features"`
	Trees     []*DecisionTree `json:"trees"`
}

func NewRandomForest(params map[string]any) (*RandomForest, error) {
	p := ForestParams{NEstimators: 100, Criterion: CriterionGini, MinSamplesLeaf: 1, MaxFeatures: "sqrt"}
	if err := DecodeParams(RandomForestKind, params, &p); err != nil {
		return nil, err
	}
	if p.NEstimators <= 0 {
		return nil, fmt.Errorf("%s: n_estimators must be > 0", RandomForestKind)
	}
	switch p.MaxFeatures {
	case "sqrt", "log2", "all":
	default:
		return nil, fmt.Errorf("%s: max_features must be sqrt, log2 or all, got %q", RandomForestKind, p.MaxFeatures)
	}
	if err := p.treeParams().validate(RandomForestKind); err != nil {
		return nil, err
	}
	return &RandomForest{Params: p}, nil
}

func (f *RandomForest) Kind() string { return RandomForestKind }

func (p ForestParams) treeParams() TreeParams {
	tp := defaultTreeParams()
	tp.Criterion = p.Criterion
	tp.MaxDepth = p.MaxDepth
	tp.MinSamplesLeaf = p.MinSamplesLeaf
	return tp
}

func (p ForestParams) featureCount(n int) int {
	var k int
	switch p.MaxFeatures {
	case "sqrt":
		k = int(math.Sqrt(float64(n)))
	case "log2":
		k = int(math.Log2(float64(n)))
	default:
		k = n
	}
	return max(1, min(k, n))
}

func (f *RandomForest) Fit(X mat.Matrix, y []int) error {
	r, c, err := checkFitInput(X, y)
	if err != nil {
		return err
	}
	if r == 0 {
		return fmt.Errorf("%s: no samples", RandomForestKind)
	}
	rows := denseRows(X)
	seed := uint64(f.Params.RandomState)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b9))

	f.NFeatures = c
	f.Trees = make([]*DecisionTree, f.Params.NEstimators)
	for t := range f.Trees {
		sample := make([]int, r)
		for i := range sample {
			sample[i] = rng.IntN(r)
		}
		tree := &DecisionTree{
			Params:      f.Params.treeParams(),
			maxFeatures: f.Params.featureCount(c),
			rng:         rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64())),
		}
		tree.fitRows(rows, c, y, sample)
		f.Trees[t] = tree
	}
	return nil
}

func (f *RandomForest) Predict(X mat.Matrix) ([]int, error) {
	if len(f.Trees) == 0 {
		return nil, ErrNotFitted
	}
	r, err := checkPredictInput(X, f.NFeatures)
	if err != nil {
		return nil, err
	}
	out := make([]int, r)
	row := make([]float64, f.NFeatures)
	for i := 0; i < r; i++ {
		mat.Row(row, i, X)
		votes := map[int]float64{}
		for _, t := range f.Trees {
			votes[t.predictRow(row)]++
		}
		out[i] = argmaxVote(votes)
	}
	return out, nil
}
