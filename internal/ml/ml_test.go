package ml

import (
	"bytes"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// blobs returns n rows per class around well separated centres.
func blobs(n int, classes int, seed uint64) (*mat.Dense, []int) {
	rng := rand.New(rand.NewPCG(seed, seed))
	X := mat.NewDense(n*classes, 2, nil)
	y := make([]int, 0, n*classes)
	for c := 0; c < classes; c++ {
		for i := 0; i < n; i++ {
			row := c*n + i
			X.Set(row, 0, float64(c*10)+rng.NormFloat64())
			X.Set(row, 1, float64(c*-5)+rng.NormFloat64())
			y = append(y, c)
		}
	}
	return X, y
}

func TestClassifiersSeparateBlobs(t *testing.T) {
	X, y := blobs(30, 3, 1)
	for _, kind := range Kinds() {
		t.Run(kind, func(t *testing.T) {
			params := map[string]any{}
			if kind == RandomForestKind {
				params["n_estimators"] = 10
				params["random_state"] = 7
			}
			c, err := NewEstimator(kind, params)
			if err != nil {
				t.Fatalf("NewEstimator: %v", err)
			}
			if err := c.Fit(X, y); err != nil {
				t.Fatalf("Fit: %v", err)
			}
			acc, err := Score(c, X, y)
			if err != nil {
				t.Fatalf("Score: %v", err)
			}
			if acc < 0.95 {
				t.Fatalf("accuracy=%v, want >= 0.95", acc)
			}
		})
	}
}

func TestNewEstimatorRejects(t *testing.T) {
	cases := []struct {
		name   string
		kind   string
		params map[string]any
	}{
		{"unknown kind", "svm.SVC", nil},
		{"unknown param", DecisionTreeKind, map[string]any{"max_leaves": 3}},
		{"wrong type", KNeighborsKind, map[string]any{"n_neighbors": "five"}},
		{"bad criterion", DecisionTreeKind, map[string]any{"criterion": "mse"}},
		{"bad weights", KNeighborsKind, map[string]any{"weights": "gaussian"}},
		{"bad max_features", RandomForestKind, map[string]any{"max_features": "half"}},
		{"zero iterations", LogisticRegressionKind, map[string]any{"max_iter": 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewEstimator(tc.kind, tc.params); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if _, err := NewEstimator("svm.SVC", nil); !errors.Is(err, ErrUnknownEstimator) {
		t.Fatalf("err=%v, want ErrUnknownEstimator", err)
	}
}

func TestFitRejectsBadInput(t *testing.T) {
	X := mat.NewDense(2, 1, []float64{1, math.NaN()})
	tree, _ := NewDecisionTree(nil)
	if err := tree.Fit(X, []int{0, 1}); !errors.Is(err, ErrNonFiniteInput) {
		t.Fatalf("err=%v, want ErrNonFiniteInput", err)
	}
	if err := tree.Fit(mat.NewDense(2, 1, []float64{1, 2}), []int{0}); err == nil {
		t.Fatalf("expected row/label mismatch error")
	}
	lr, _ := NewLogisticRegression(nil)
	if err := lr.Fit(mat.NewDense(2, 1, []float64{1, 2}), []int{1, 1}); err == nil {
		t.Fatalf("expected single-class error")
	}
	knn, _ := NewKNeighbors(map[string]any{"n_neighbors": 3})
	if err := knn.Fit(mat.NewDense(2, 1, []float64{1, 2}), []int{0, 1}); err == nil {
		t.Fatalf("expected n_neighbors error")
	}
}

func TestPredictBeforeFit(t *testing.T) {
	tree, _ := NewDecisionTree(nil)
	if _, err := tree.Predict(mat.NewDense(1, 1, []float64{0})); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("err=%v, want ErrNotFitted", err)
	}
}

func TestTreeMaxDepthLimitsNodes(t *testing.T) {
	X, y := blobs(20, 4, 3)
	tree, err := NewDecisionTree(map[string]any{"max_depth": 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := tree.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if len(tree.Nodes) != 3 {
		t.Fatalf("nodes=%d, want 3 for a stump", len(tree.Nodes))
	}
}

func TestKNNDistanceWeightsPreferExactMatch(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{0, 1, 1.1})
	knn, _ := NewKNeighbors(map[string]any{"n_neighbors": 3, "weights": "distance"})
	if err := knn.Fit(X, []int{0, 1, 1}); err != nil {
		t.Fatal(err)
	}
	pred, err := knn.Predict(mat.NewDense(1, 1, []float64{0}))
	if err != nil {
		t.Fatal(err)
	}
	if pred[0] != 0 {
		t.Fatalf("pred=%d, want 0", pred[0])
	}
}

func TestKMeansDeterministic(t *testing.T) {
	X, _ := blobs(25, 2, 5)
	fit := func() ([]int, *KMeans) {
		km, err := NewKMeans(map[string]any{"n_clusters": 2, "random_state": 42})
		if err != nil {
			t.Fatal(err)
		}
		labels, err := km.Fit(X)
		if err != nil {
			t.Fatal(err)
		}
		return labels, km
	}
	a, km := fit()
	b, _ := fit()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("row %d: labels differ between seeded runs", i)
		}
	}
	// the blobs are far apart so each must land in one cluster
	for i := 1; i < 25; i++ {
		if a[i] != a[0] || a[25+i] != a[25] {
			t.Fatalf("blob split across clusters")
		}
	}
	if a[0] == a[25] {
		t.Fatalf("both blobs in one cluster")
	}
	pred, err := km.Predict(X)
	if err != nil {
		t.Fatal(err)
	}
	for i := range pred {
		if pred[i] != a[i] {
			t.Fatalf("Predict disagrees with Fit at row %d", i)
		}
	}
}

func TestKMeansTooFewRows(t *testing.T) {
	km, _ := NewKMeans(map[string]any{"n_clusters": 3})
	if _, err := km.Fit(mat.NewDense(2, 1, []float64{1, 2})); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCodecRoundTripPredictions(t *testing.T) {
	X, y := blobs(15, 2, 9)
	forest, _ := NewRandomForest(map[string]any{"n_estimators": 5, "random_state": 1})
	if err := forest.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	want, _ := forest.Predict(X)

	var buf bytes.Buffer
	if err := Encode(&buf, forest); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	m, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Kind() != RandomForestKind {
		t.Fatalf("kind=%s", m.Kind())
	}
	got, err := m.(Classifier).Predict(X)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("row %d: %d != %d after decode", i, got[i], want[i])
		}
	}
}

func TestLoadClassifierRejectsKMeans(t *testing.T) {
	path := t.TempDir() + "/km.json"
	km := &KMeans{Centroids: [][]float64{{0}}}
	if err := Save(path, km); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadClassifier(path); err == nil {
		t.Fatalf("expected kind error")
	}
	if _, err := LoadKMeans(path); err != nil {
		t.Fatalf("LoadKMeans: %v", err)
	}
}

func TestAccuracy(t *testing.T) {
	acc, err := Accuracy([]int{0, 1, 1, 0}, []int{0, 1, 0, 0})
	if err != nil || acc != 0.75 {
		t.Fatalf("acc=%v err=%v", acc, err)
	}
	if _, err := Accuracy(nil, nil); err == nil {
		t.Fatalf("expected empty error")
	}
}

func TestMergeParamsOverlay(t *testing.T) {
	fixed := map[string]any{"max_depth": 3, "criterion": "gini"}
	merged := MergeParams(fixed, map[string]any{"max_depth": 5})
	if merged["max_depth"] != 5 || merged["criterion"] != "gini" {
		t.Fatalf("merged=%v", merged)
	}
	if fixed["max_depth"] != 3 {
		t.Fatalf("fixed params mutated")
	}
}
