package registry

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/animus-labs/thyroid/internal/domain"
	"github.com/animus-labs/thyroid/internal/ml"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model_evaluation", "model_evaluation.yaml")
	return New(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBestModelNoIncumbentCreatesFile(t *testing.T) {
	r := newRegistry(t)
	_, _, ok, err := r.BestModel(0)
	if err != nil {
		t.Fatalf("BestModel: %v", err)
	}
	if ok {
		t.Fatalf("expected no incumbent")
	}
	if _, err := os.Stat(r.Path()); err != nil {
		t.Fatalf("registry file not created: %v", err)
	}
	doc, err := r.Read()
	if err != nil || len(doc.Clusters) != 0 {
		t.Fatalf("doc=%+v err=%v", doc, err)
	}
}

func TestUpdateSamePathTwice(t *testing.T) {
	r := newRegistry(t)
	if err := r.Update(0, "/models/P.json", "t1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Update(0, "/models/P.json", "t2"); err != nil {
		t.Fatal(err)
	}
	rec, ok, err := r.Record(0)
	if err != nil || !ok {
		t.Fatalf("Record: ok=%v err=%v", ok, err)
	}
	if rec.BestModelPath != "/models/P.json" {
		t.Fatalf("best=%s, want P", rec.BestModelPath)
	}
	if len(rec.History) != 1 || rec.History[0].ModelPath != "/models/P.json" || rec.History[0].Timestamp != "t2" {
		t.Fatalf("history=%+v", rec.History)
	}
}

func TestUpdateAccretesHistoryPerCluster(t *testing.T) {
	r := newRegistry(t)
	steps := []struct {
		cluster domain.ClusterID
		path    string
		ts      string
	}{
		{0, "a", "t1"},
		{1, "x", "t1"},
		{0, "b", "t2"},
		{0, "c", "t3"},
	}
	for _, s := range steps {
		if err := r.Update(s.cluster, s.path, s.ts); err != nil {
			t.Fatal(err)
		}
	}
	records, err := r.Records()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].Cluster != 0 || records[1].Cluster != 1 {
		t.Fatalf("records=%+v", records)
	}
	c0 := records[0]
	if c0.BestModelPath != "c" || len(c0.History) != 2 ||
		c0.History[0] != (domain.HistoryEntry{Timestamp: "t2", ModelPath: "a"}) ||
		c0.History[1] != (domain.HistoryEntry{Timestamp: "t3", ModelPath: "b"}) {
		t.Fatalf("cluster0=%+v", c0)
	}
	if len(records[1].History) != 0 {
		t.Fatalf("cluster1 history=%+v", records[1].History)
	}
}

func TestBestModelLoadsIncumbent(t *testing.T) {
	r := newRegistry(t)
	model, err := ml.NewDecisionTree(nil)
	if err != nil {
		t.Fatal(err)
	}
	X := mat.NewDense(4, 1, []float64{0, 1, 10, 11})
	if err := model.Fit(X, []int{0, 0, 1, 1}); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "cluster0", "model.json")
	if err := ml.Save(path, model); err != nil {
		t.Fatal(err)
	}
	if err := r.Update(0, path, "t1"); err != nil {
		t.Fatal(err)
	}
	got, gotPath, ok, err := r.BestModel(0)
	if err != nil || !ok || gotPath != path {
		t.Fatalf("ok=%v path=%s err=%v", ok, gotPath, err)
	}
	if got.Kind() != ml.DecisionTreeKind {
		t.Fatalf("kind=%s", got.Kind())
	}
	if _, _, ok, _ := r.BestModel(1); ok {
		t.Fatalf("cluster 1 should have no incumbent")
	}
}

func TestReadRejectsUnknownKeys(t *testing.T) {
	r := newRegistry(t)
	if err := os.MkdirAll(filepath.Dir(r.Path()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(r.Path(), []byte("cluster0:\n  best_model: x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Read(); err == nil {
		t.Fatalf("expected decode error for untyped layout")
	}
}

func TestEmptyFileReadsAsEmpty(t *testing.T) {
	r := newRegistry(t)
	if err := os.MkdirAll(filepath.Dir(r.Path()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(r.Path(), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, ok, err := r.BestModel(0); err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}
