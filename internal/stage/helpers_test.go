package stage

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/animus-labs/thyroid/internal/dataset"
	"github.com/animus-labs/thyroid/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testModelSpace = `grid_search:
  module: model_selection
  class: GridSearchCV
  params:
    cv: 3
    n_jobs: 2
model_selection:
  module_0:
    module: linear_model
    class: LogisticRegression
    params:
      max_iter: 100
    search_param_grid:
      learning_rate: [0.5]
  module_1:
    module: tree
    class: DecisionTreeClassifier
    search_param_grid:
      max_depth: [2, 4]
`

func writeFile(t *testing.T, path, body string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// separable returns n rows whose label follows the sign of the first feature.
func separable(n int, offset float64, seed uint64) dataset.Labeled {
	rng := rand.New(rand.NewPCG(seed, seed))
	X := mat.NewDense(n, 2, nil)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		label := i % 2
		X.Set(i, 0, offset+float64(label*6)+rng.NormFloat64())
		X.Set(i, 1, rng.NormFloat64())
		y[i] = label
	}
	return dataset.Labeled{Columns: []string{"f0", "f1"}, Target: "Class", X: X, Y: y}
}

// writeClusters writes train and test files for the given cluster counts
// and returns the matching transform artifact.
func writeClusters(t *testing.T, trainClusters, testClusters int) domain.DataTransformArtifact {
	t.Helper()
	dir := t.TempDir()
	a := domain.DataTransformArtifact{
		Success:  true,
		Message:  "ok",
		TrainDir: filepath.Join(dir, "train"),
		TestDir:  filepath.Join(dir, "test"),
	}
	for k := 0; k < trainClusters; k++ {
		c := domain.ClusterID(k)
		if err := dataset.WriteLabeledCSV(filepath.Join(a.TrainDir, domain.TrainFileName(c)), separable(60, float64(k*20), uint64(k+1))); err != nil {
			t.Fatal(err)
		}
	}
	for k := 0; k < testClusters; k++ {
		c := domain.ClusterID(k)
		if err := dataset.WriteLabeledCSV(filepath.Join(a.TestDir, domain.TestFileName(c)), separable(20, float64(k*20), uint64(k+100))); err != nil {
			t.Fatal(err)
		}
	}
	return a
}

var rawColumns = []string{"age", "sex", "on_thyroxine", "TSH", "TBG", "referral_source", "Class"}

const rawSchema = `columns:
  age: int64
  sex: object
  on_thyroxine: object
  TSH: float64
  TBG: float64
  referral_source: object
  Class: object
numerical_columns: [age, TSH, TBG]
categorical_columns: [sex, on_thyroxine, referral_source, Class]
target_column: Class
`

// rawDataset builds a thyroid-like CSV where TSH separates the classes.
func rawDataset(n int) string {
	rng := rand.New(rand.NewPCG(3, 3))
	var b strings.Builder
	b.WriteString(strings.Join(rawColumns, ",") + "\n")
	sources := []string{"SVHC", "SVI", "other"}
	for i := 0; i < n; i++ {
		class, tsh := "negative", 1+rng.Float64()
		if i%3 == 0 {
			class, tsh = "primary_hypothyroid", 40+rng.Float64()*10
		}
		tshCell := fmt.Sprintf("%.2f", tsh)
		if i%11 == 0 {
			tshCell = "?"
		}
		sex := "F"
		if i%2 == 0 {
			sex = "M"
		}
		thyroxine := "f"
		if i%5 == 0 {
			thyroxine = "t"
		}
		fmt.Fprintf(&b, "%d,%s,%s,%s,?,%s,%s\n", 20+rng.IntN(60), sex, thyroxine, tshCell, sources[i%3], class)
	}
	return b.String()
}
