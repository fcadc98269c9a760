package dataset

import (
	"errors"
	"math"
	"math/rand/v2"
)

// ShuffledIndex returns a seeded permutation of 0..n-1.
func ShuffledIndex(n int, seed int64) []int {
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	return rng.Perm(n)
}

// TrainTestSplit shuffles the rows with seed and holds out ceil(testSize*n)
// rows for the test split.
func TrainTestSplit(t Table, testSize float64, seed int64) (Table, Table, error) {
	if testSize <= 0 || testSize >= 1 {
		return Table{}, Table{}, errors.New("test size must be in (0, 1)")
	}
	n := len(t.Rows)
	if n < 2 {
		return Table{}, Table{}, ErrEmpty
	}
	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest >= n {
		nTest = n - 1
	}
	perm := ShuffledIndex(n, seed)
	return t.Subset(perm[nTest:]), t.Subset(perm[:nTest]), nil
}

// StratifiedKFold assigns every row to one of k folds so that each class is
// spread round-robin across folds. It returns the test indices of each fold.
func StratifiedKFold(y []int, k int, seed int64) ([][]int, error) {
	if k < 2 {
		return nil, errors.New("cv must be >= 2")
	}
	if len(y) < k {
		return nil, errors.New("cv must not exceed the number of rows")
	}
	byClass := map[int][]int{}
	classes := make([]int, 0)
	for _, i := range ShuffledIndex(len(y), seed) {
		if _, ok := byClass[y[i]]; !ok {
			classes = append(classes, y[i])
		}
		byClass[y[i]] = append(byClass[y[i]], i)
	}
	folds := make([][]int, k)
	next := 0
	for _, class := range classes {
		for _, i := range byClass[class] {
			folds[next%k] = append(folds[next%k], i)
			next++
		}
	}
	return folds, nil
}
