package ml

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

type KMeansParams struct {
	NClusters   int     `yaml:"n_clusters" json:"n_clusters"`
	NInit       int     `yaml:"n_init" json:"n_init"`
	MaxIter     int     `yaml:"max_iter" json:"max_iter"`
	Tol         float64 `yaml:"tol" json:"tol"`
	RandomState int64   `yaml:"random_state" json:"random_state"`
}

// KMeans partitions rows into NClusters groups using Lloyd iterations from
// k-means++ seeds, keeping the restart with the lowest inertia.
type KMeans struct {
	Params    KMeansParams `json:"params"`
	Centroids [][]float64  `json:"centroids"`
	Inertia   float64      `json:"inertia"`
}

func NewKMeans(params map[string]any) (*KMeans, error) {
	p := KMeansParams{NClusters: 8, NInit: 10, MaxIter: 300, Tol: 1e-4}
	if err := DecodeParams(KMeansKind, params, &p); err != nil {
		return nil, err
	}
	switch {
	case p.NClusters < 1:
		return nil, fmt.Errorf("%s: n_clusters must be >= 1", KMeansKind)
	case p.NInit < 1:
		return nil, fmt.Errorf("%s: n_init must be >= 1", KMeansKind)
	case p.MaxIter < 1:
		return nil, fmt.Errorf("%s: max_iter must be >= 1", KMeansKind)
	}
	return &KMeans{Params: p}, nil
}

func (k *KMeans) Kind() string { return KMeansKind }

// Fit computes centroids and returns the cluster label of every row.
func (k *KMeans) Fit(X mat.Matrix) ([]int, error) {
	if X == nil {
		return nil, fmt.Errorf("%s: feature matrix is required", KMeansKind)
	}
	if err := checkFinite(X); err != nil {
		return nil, err
	}
	rows := denseRows(X)
	if len(rows) < k.Params.NClusters {
		return nil, fmt.Errorf("%s: n_samples=%d should be >= n_clusters=%d", KMeansKind, len(rows), k.Params.NClusters)
	}
	seed := uint64(k.Params.RandomState)
	rng := rand.New(rand.NewPCG(seed, seed^0x2545f491))

	var bestLabels []int
	bestInertia := math.Inf(1)
	var bestCentroids [][]float64
	for run := 0; run < k.Params.NInit; run++ {
		centroids := k.seed(rows, rng)
		labels, inertia := k.lloyd(rows, centroids)
		if inertia < bestInertia {
			bestInertia, bestCentroids, bestLabels = inertia, centroids, labels
		}
	}
	k.Centroids = bestCentroids
	k.Inertia = bestInertia
	return bestLabels, nil
}

// Predict assigns each row to its nearest centroid.
func (k *KMeans) Predict(X mat.Matrix) ([]int, error) {
	if len(k.Centroids) == 0 {
		return nil, ErrNotFitted
	}
	r, err := checkPredictInput(X, len(k.Centroids[0]))
	if err != nil {
		return nil, err
	}
	out := make([]int, r)
	row := make([]float64, len(k.Centroids[0]))
	for i := 0; i < r; i++ {
		mat.Row(row, i, X)
		out[i], _ = nearest(row, k.Centroids)
	}
	return out, nil
}

// seed picks initial centroids with k-means++ weighting.
func (k *KMeans) seed(rows [][]float64, rng *rand.Rand) [][]float64 {
	centroids := [][]float64{append([]float64(nil), rows[rng.IntN(len(rows))]...)}
	d2 := make([]float64, len(rows))
	for len(centroids) < k.Params.NClusters {
		var total float64
		for i, r := range rows {
			_, d2[i] = nearest(r, centroids)
			total += d2[i]
		}
		pick := 0
		if total > 0 {
			target := rng.Float64() * total
			for i, d := range d2 {
				target -= d
				if target <= 0 {
					pick = i
					break
				}
			}
		} else {
			pick = rng.IntN(len(rows))
		}
		centroids = append(centroids, append([]float64(nil), rows[pick]...))
	}
	return centroids
}

func (k *KMeans) lloyd(rows [][]float64, centroids [][]float64) ([]int, float64) {
	labels := make([]int, len(rows))
	dims := len(rows[0])
	var inertia float64
	for iter := 0; iter < k.Params.MaxIter; iter++ {
		inertia = 0
		for i, r := range rows {
			var d float64
			labels[i], d = nearest(r, centroids)
			inertia += d
		}
		sums := make([][]float64, len(centroids))
		counts := make([]int, len(centroids))
		for c := range sums {
			sums[c] = make([]float64, dims)
		}
		for i, r := range rows {
			floats.Add(sums[labels[i]], r)
			counts[labels[i]]++
		}
		var shift float64
		for c := range centroids {
			if counts[c] == 0 {
				// reseed an empty cluster on the worst-fitting row
				far := farthest(rows, labels, centroids)
				sums[c] = append([]float64(nil), rows[far]...)
				counts[c] = 1
				labels[far] = c
			}
			floats.Scale(1/float64(counts[c]), sums[c])
			shift += sqDist(sums[c], centroids[c])
			centroids[c] = sums[c]
		}
		if shift <= k.Params.Tol {
			break
		}
	}
	inertia = 0
	for i, r := range rows {
		var d float64
		labels[i], d = nearest(r, centroids)
		inertia += d
	}
	return labels, inertia
}

func nearest(row []float64, centroids [][]float64) (int, float64) {
	best, bestD := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDist(row, centroid); d < bestD {
			best, bestD = c, d
		}
	}
	return best, bestD
}

func farthest(rows [][]float64, labels []int, centroids [][]float64) int {
	best, bestD := 0, -1.0
	for i, r := range rows {
		if d := sqDist(r, centroids[labels[i]]); d > bestD {
			best, bestD = i, d
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
