package preprocess

import (
	"math/rand/v2"
	"sort"
)

// Oversample duplicates randomly chosen rows of every minority class until
// all classes match the majority count. The input order is kept and the
// duplicates are appended.
func Oversample(rows [][]float64, y []int, seed int64) ([][]float64, []int) {
	byClass := map[int][]int{}
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]int, 0, len(byClass))
	majority := 0
	for class, idx := range byClass {
		classes = append(classes, class)
		majority = max(majority, len(idx))
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x85ebca6b))
	outRows := append([][]float64(nil), rows...)
	outY := append([]int(nil), y...)
	for _, class := range classes {
		idx := byClass[class]
		for n := len(idx); n < majority; n++ {
			pick := idx[rng.IntN(len(idx))]
			outRows = append(outRows, append([]float64(nil), rows[pick]...))
			outY = append(outY, class)
		}
	}
	return outRows, outY
}
