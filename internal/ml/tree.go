package ml

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
)

const (
	CriterionGini    = "gini"
	CriterionEntropy = "entropy"
)

// TreeParams configures a CART decision tree.
type TreeParams struct {
	Criterion       string `yaml:"criterion" json:"criterion"`
	MaxDepth        int    `yaml:"max_depth" json:"max_depth"`
	MinSamplesSplit int    `yaml:"min_samples_split" json:"min_samples_split"`
	MinSamplesLeaf  int    `yaml:"min_samples_leaf" json:"min_samples_leaf"`
	RandomState     int64  `yaml:"random_state" json:"random_state"`
}

func defaultTreeParams() TreeParams {
	return TreeParams{Criterion: CriterionGini, MinSamplesSplit: 2, MinSamplesLeaf: 1}
}

func (p TreeParams) validate(kind string) error {
	switch {
	case p.Criterion != CriterionGini && p.Criterion != CriterionEntropy:
		return fmt.Errorf("%s: criterion must be gini or entropy, got %q", kind, p.Criterion)
	case p.MaxDepth < 0:
		return fmt.Errorf("%s: max_depth must be >= 0 (0 means unlimited)", kind)
	case p.MinSamplesSplit < 2:
		return fmt.Errorf("%s: min_samples_split must be >= 2", kind)
	case p.MinSamplesLeaf < 1:
		return fmt.Errorf("%s: min_samples_leaf must be >= 1", kind)
	}
	return nil
}

type treeNode struct {
	Leaf      bool    `json:"leaf,omitempty"`
	Class     int     `json:"class"`
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
}

// DecisionTree is a binary CART classifier. Nodes are stored flat so the
// fitted tree serializes without pointers.
type DecisionTree struct {
	Params    TreeParams `json:"params"`
	NFeatures int        `json:"n_features"`
	Nodes     []treeNode `json:"nodes"`

	// per-split feature subsampling, used by RandomForest only
	maxFeatures int
	rng         *rand.Rand
}

func NewDecisionTree(params map[string]any) (*DecisionTree, error) {
	p := defaultTreeParams()
	if err := DecodeParams(DecisionTreeKind, params, &p); err != nil {
		return nil, err
	}
	if err := p.validate(DecisionTreeKind); err != nil {
		return nil, err
	}
	return &DecisionTree{Params: p}, nil
}

func (t *DecisionTree) Kind() string { return DecisionTreeKind }

func (t *DecisionTree) Fit(X mat.Matrix, y []int) error {
	r, c, err := checkFitInput(X, y)
	if err != nil {
		return err
	}
	if r == 0 {
		return fmt.Errorf("%s: no samples", DecisionTreeKind)
	}
	idx := make([]int, r)
	for i := range idx {
		idx[i] = i
	}
	t.fitRows(denseRows(X), c, y, idx)
	return nil
}

func (t *DecisionTree) fitRows(rows [][]float64, nFeatures int, y []int, idx []int) {
	if t.rng == nil {
		seed := uint64(t.Params.RandomState)
		t.rng = rand.New(rand.NewPCG(seed, seed^0x5bd1e995))
	}
	b := &treeBuilder{
		tree:    t,
		rows:    rows,
		y:       y,
		classes: uniqueSorted(subsetLabels(y, idx)),
	}
	b.classIdx = make(map[int]int, len(b.classes))
	for i, cl := range b.classes {
		b.classIdx[cl] = i
	}
	t.NFeatures = nFeatures
	t.Nodes = t.Nodes[:0]
	b.build(idx, 0)
}

func (t *DecisionTree) Predict(X mat.Matrix) ([]int, error) {
	if len(t.Nodes) == 0 {
		return nil, ErrNotFitted
	}
	r, err := checkPredictInput(X, t.NFeatures)
	if err != nil {
		return nil, err
	}
	out := make([]int, r)
	row := make([]float64, t.NFeatures)
	for i := 0; i < r; i++ {
		mat.Row(row, i, X)
		out[i] = t.predictRow(row)
	}
	return out, nil
}

func (t *DecisionTree) predictRow(row []float64) int {
	n := 0
	for !t.Nodes[n].Leaf {
		if row[t.Nodes[n].Feature] <= t.Nodes[n].Threshold {
			n = t.Nodes[n].Left
		} else {
			n = t.Nodes[n].Right
		}
	}
	return t.Nodes[n].Class
}

type treeBuilder struct {
	tree     *DecisionTree
	rows     [][]float64
	y        []int
	classes  []int
	classIdx map[int]int
}

type split struct {
	feature   int
	threshold float64
	impurity  float64
}

func (b *treeBuilder) build(idx []int, depth int) int {
	p := b.tree.Params
	counts := b.counts(idx)
	node := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, treeNode{Leaf: true, Class: b.majority(counts)})

	parent := impurity(p.Criterion, counts, len(idx))
	if parent == 0 ||
		(p.MaxDepth > 0 && depth >= p.MaxDepth) ||
		len(idx) < p.MinSamplesSplit ||
		len(idx) < 2*p.MinSamplesLeaf {
		return node
	}
	best, ok := b.bestSplit(idx, parent)
	if !ok {
		return node
	}

	var left, right []int
	for _, i := range idx {
		if b.rows[i][best.feature] <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.tree.Nodes[node] = treeNode{Feature: best.feature, Threshold: best.threshold, Left: l, Right: r, Class: b.tree.Nodes[node].Class}
	return node
}

func (b *treeBuilder) bestSplit(idx []int, parent float64) (split, bool) {
	p := b.tree.Params
	n := len(idx)
	best := split{impurity: parent}
	found := false
	sorted := make([]int, n)
	k := len(b.classes)
	for _, f := range b.features() {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool { return b.rows[sorted[a]][f] < b.rows[sorted[c]][f] })
		left := make([]int, k)
		right := b.counts(sorted)
		for i := 0; i < n-1; i++ {
			ci := b.classIdx[b.y[sorted[i]]]
			left[ci]++
			right[ci]--
			nl, nr := i+1, n-i-1
			v, next := b.rows[sorted[i]][f], b.rows[sorted[i+1]][f]
			if v == next || nl < p.MinSamplesLeaf || nr < p.MinSamplesLeaf {
				continue
			}
			imp := (float64(nl)*impurity(p.Criterion, left, nl) + float64(nr)*impurity(p.Criterion, right, nr)) / float64(n)
			if imp < best.impurity-1e-12 {
				best = split{feature: f, threshold: (v + next) / 2, impurity: imp}
				found = true
			}
		}
	}
	return best, found
}

func (b *treeBuilder) features() []int {
	n := b.tree.NFeatures
	if b.tree.maxFeatures <= 0 || b.tree.maxFeatures >= n {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	perm := b.tree.rng.Perm(n)[:b.tree.maxFeatures]
	sort.Ints(perm)
	return perm
}

func (b *treeBuilder) counts(idx []int) []int {
	out := make([]int, len(b.classes))
	for _, i := range idx {
		out[b.classIdx[b.y[i]]]++
	}
	return out
}

func (b *treeBuilder) majority(counts []int) int {
	best := 0
	for i := 1; i < len(counts); i++ {
		if counts[i] > counts[best] {
			best = i
		}
	}
	return b.classes[best]
}

func impurity(criterion string, counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	var out float64
	switch criterion {
	case CriterionEntropy:
		for _, c := range counts {
			if c > 0 {
				p := float64(c) / float64(n)
				out -= p * math.Log2(p)
			}
		}
	default:
		out = 1
		for _, c := range counts {
			p := float64(c) / float64(n)
			out -= p * p
		}
	}
	return out
}

func subsetLabels(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = y[j]
	}
	return out
}
