package preprocess

import (
	"encoding/json"
	"math"
	"sort"
)

// Cell is a float that round-trips NaN through JSON as null.
type Cell float64

func (c Cell) MarshalJSON() ([]byte, error) {
	if math.IsNaN(float64(c)) {
		return []byte("null"), nil
	}
	return json.Marshal(float64(c))
}

func (c *Cell) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = Cell(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*c = Cell(f)
	return nil
}

// KNNImputer fills missing values with the mean of the k nearest reference
// rows that have the value, using a NaN-aware euclidean distance.
type KNNImputer struct {
	K         int       `json:"k"`
	Reference [][]Cell  `json:"reference"`
	Means     []float64 `json:"means"`
}

func NewKNNImputer(k int) *KNNImputer {
	if k < 1 {
		k = 1
	}
	return &KNNImputer{K: k}
}

// Fit stores rows as the donor pool.
func (m *KNNImputer) Fit(rows [][]float64) {
	m.Reference = make([][]Cell, len(rows))
	var width int
	if len(rows) > 0 {
		width = len(rows[0])
	}
	sums := make([]float64, width)
	counts := make([]int, width)
	for i, row := range rows {
		ref := make([]Cell, len(row))
		for j, v := range row {
			ref[j] = Cell(v)
			if !math.IsNaN(v) {
				sums[j] += v
				counts[j]++
			}
		}
		m.Reference[i] = ref
	}
	m.Means = make([]float64, width)
	for j := range sums {
		if counts[j] > 0 {
			m.Means[j] = sums[j] / float64(counts[j])
		}
	}
}

// Transform fills the NaN cells of rows in place.
func (m *KNNImputer) Transform(rows [][]float64) {
	type donor struct {
		dist float64
		row  int
	}
	for _, row := range rows {
		var missing []int
		for j, v := range row {
			if math.IsNaN(v) {
				missing = append(missing, j)
			}
		}
		if len(missing) == 0 {
			continue
		}
		dists := make([]float64, len(m.Reference))
		for i, ref := range m.Reference {
			dists[i] = nanEuclidean(row, ref)
		}
		for _, j := range missing {
			donors := make([]donor, 0, len(m.Reference))
			for i, ref := range m.Reference {
				if !math.IsNaN(float64(ref[j])) && !math.IsNaN(dists[i]) {
					donors = append(donors, donor{dists[i], i})
				}
			}
			if len(donors) == 0 {
				row[j] = m.Means[j]
				continue
			}
			sort.SliceStable(donors, func(a, b int) bool { return donors[a].dist < donors[b].dist })
			n := min(m.K, len(donors))
			var sum float64
			for _, d := range donors[:n] {
				sum += float64(m.Reference[d.row][j])
			}
			row[j] = sum / float64(n)
		}
	}
}

// nanEuclidean scales the distance over shared coordinates up to the full
// width. It is NaN when the rows share no coordinate.
func nanEuclidean(a []float64, b []Cell) float64 {
	var sum float64
	present := 0
	for j := range a {
		x, y := a[j], float64(b[j])
		if math.IsNaN(x) || math.IsNaN(y) {
			continue
		}
		d := x - y
		sum += d * d
		present++
	}
	if present == 0 {
		return math.NaN()
	}
	return math.Sqrt(float64(len(a)) / float64(present) * sum)
}
