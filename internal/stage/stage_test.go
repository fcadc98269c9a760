package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/animus-labs/thyroid/internal/config"
	"github.com/animus-labs/thyroid/internal/dataset"
	"github.com/animus-labs/thyroid/internal/domain"
	"github.com/animus-labs/thyroid/internal/registry"
	"github.com/animus-labs/thyroid/internal/storage/objectstore"
)

func TestClusterSplitsMismatch(t *testing.T) {
	a := writeClusters(t, 3, 2)
	_, err := ClusterSplits(a)
	if !errors.Is(err, ErrClusterMismatch) {
		t.Fatalf("err=%v, want ErrClusterMismatch", err)
	}
	trainer := NewTrainer(config.TrainerConfig{ModelDir: t.TempDir(), ModelFileName: "model.json"}, quietLogger())
	_, err = trainer.Run(context.Background(), a)
	if !errors.Is(err, ErrClusterMismatch) {
		t.Fatalf("trainer err=%v, want ErrClusterMismatch", err)
	}
	if kind, _ := domain.KindOf(err); kind != domain.KindData {
		t.Fatalf("kind=%s, want data", kind)
	}
}

func TestClusterSplitsOrderedByID(t *testing.T) {
	a := writeClusters(t, 3, 3)
	a.NumClusters = 3
	splits, err := ClusterSplits(a)
	if err != nil {
		t.Fatal(err)
	}
	for k, sp := range splits {
		if int(sp.Cluster) != k || filepath.Base(sp.TrainPath) != domain.TrainFileName(sp.Cluster) {
			t.Fatalf("split %d = %+v", k, sp)
		}
	}
	a.NumClusters = 4
	if _, err := ClusterSplits(a); !errors.Is(err, ErrClusterMismatch) {
		t.Fatalf("err=%v, want mismatch against declared cluster count", err)
	}
}

func TestTrainerTwoClusters(t *testing.T) {
	a := writeClusters(t, 2, 2)
	root := t.TempDir()
	cfg := config.TrainerConfig{
		ModelDir:        filepath.Join(root, "model_trainer", "ts"),
		ModelFileName:   "model.json",
		BaseAccuracy:    0.5,
		ModelConfigPath: writeFile(t, filepath.Join(root, "config", "model.yaml"), testModelSpace),
	}
	out, err := NewTrainer(cfg, quietLogger()).Run(context.Background(), a)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.ClusterModelPaths) != 2 || len(out.ModelAccuracy) != 2 {
		t.Fatalf("artifact=%+v", out)
	}
	for k, p := range out.ClusterModelPaths {
		if p != ClusterModelPath(cfg.ModelDir, "model.json", domain.ClusterID(k)) {
			t.Fatalf("path %d = %s", k, p)
		}
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("model file %s: %v", p, err)
		}
		if acc := out.ModelAccuracy[k]; acc < 0 || acc > 1 {
			t.Fatalf("model_accuracy[%d]=%v", k, acc)
		}
	}
}

func TestTrainerFailsWhenFloorUnreachable(t *testing.T) {
	a := writeClusters(t, 1, 1)
	root := t.TempDir()
	cfg := config.TrainerConfig{
		ModelDir:        filepath.Join(root, "models"),
		ModelFileName:   "model.json",
		BaseAccuracy:    1.0,
		ModelConfigPath: writeFile(t, filepath.Join(root, "model.yaml"), testModelSpace),
	}
	_, err := NewTrainer(cfg, quietLogger()).Run(context.Background(), a)
	if kind, _ := domain.KindOf(err); err == nil || kind != domain.KindModel {
		t.Fatalf("err=%v, want model error", err)
	}
}

func trainedArtifact(t *testing.T, a domain.DataTransformArtifact, root string) domain.ModelTrainerArtifact {
	t.Helper()
	cfg := config.TrainerConfig{
		ModelDir:        filepath.Join(root, "models"),
		ModelFileName:   "model.json",
		BaseAccuracy:    0.5,
		ModelConfigPath: writeFile(t, filepath.Join(root, "model.yaml"), testModelSpace),
	}
	out, err := NewTrainer(cfg, quietLogger()).Run(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestEvaluationPromotion(t *testing.T) {
	a := writeClusters(t, 2, 2)
	root := t.TempDir()
	trained := trainedArtifact(t, a, root)
	regPath := filepath.Join(root, "model_evaluation", "model_evaluation.yaml")
	reg := registry.New(regPath, quietLogger())

	first, err := NewEvaluation(config.EvaluationConfig{RegistryPath: regPath, Timestamp: "t1"}, reg, quietLogger()).
		Run(context.Background(), a, trained)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	for k, ok := range first.Accepted {
		if !ok {
			t.Fatalf("cluster %d: first model must be accepted without incumbent", k)
		}
		if first.ClusterModelPaths[k] != trained.ClusterModelPaths[k] {
			t.Fatalf("cluster %d best=%s", k, first.ClusterModelPaths[k])
		}
	}

	// same models again: the new model ties the incumbent and, being last,
	// is accepted, which records the incumbent in history
	second, err := NewEvaluation(config.EvaluationConfig{RegistryPath: regPath, Timestamp: "t2"}, reg, quietLogger()).
		Run(context.Background(), a, trained)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	for k := range second.Accepted {
		rec, _, err := reg.Record(domain.ClusterID(k))
		if err != nil {
			t.Fatal(err)
		}
		if rec.BestModelPath != trained.ClusterModelPaths[k] {
			t.Fatalf("cluster %d best=%s", k, rec.BestModelPath)
		}
		if second.Accepted[k] && (len(rec.History) != 1 || rec.History[0].Timestamp != "t2") {
			t.Fatalf("cluster %d history=%+v", k, rec.History)
		}
	}
}

func TestEvaluationRejectsModelCountMismatch(t *testing.T) {
	a := writeClusters(t, 2, 2)
	trained := domain.ModelTrainerArtifact{Success: true, ClusterModelPaths: []string{"x"}, ModelAccuracy: []float64{0.9}}
	regPath := filepath.Join(t.TempDir(), "reg.yaml")
	_, err := NewEvaluation(config.EvaluationConfig{RegistryPath: regPath}, nil, quietLogger()).Run(context.Background(), a, trained)
	if !errors.Is(err, ErrClusterMismatch) {
		t.Fatalf("err=%v, want ErrClusterMismatch", err)
	}
}

type recordingStore struct {
	puts map[string][]byte
}

func (r *recordingStore) Put(_ context.Context, bucket, key string, body io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	r.puts[bucket+"/"+key] = data
	return nil
}

func (r *recordingStore) Get(context.Context, string, string) (io.ReadCloser, objectstore.ObjectInfo, error) {
	return nil, objectstore.ObjectInfo{}, errors.New("not implemented")
}

func (r *recordingStore) Stat(_ context.Context, bucket, key string) (objectstore.ObjectInfo, error) {
	return objectstore.ObjectInfo{Key: key, Size: int64(len(r.puts[bucket+"/"+key]))}, nil
}

func TestPusherExportsAndUploads(t *testing.T) {
	root := t.TempDir()
	m0 := writeFile(t, filepath.Join(root, "models", "cluster0", "model.json"), `{"kind":"a"}`)
	m1 := writeFile(t, filepath.Join(root, "models", "cluster1", "model.json"), `{"kind":"b"}`)
	cfg := config.PusherConfig{
		ExportDir:      filepath.Join(root, "saved_models", "ts"),
		Bucket:         "thyroid-models",
		DescriptorPath: filepath.Join(root, "model_pusher", "ts", "descriptor.json"),
		Timestamp:      "ts",
	}
	store := &recordingStore{puts: map[string][]byte{}}
	ingest := domain.DataIngestionArtifact{Success: true, TrainFilePath: "train.csv"}
	transform := domain.DataTransformArtifact{Success: true, PreprocessorPath: "pre.json", ClusterModelPath: "km.json"}
	eval := domain.ModelEvaluationArtifact{Success: true, ClusterModelPaths: []string{m0, m1}}

	out, err := NewPusher(cfg, store, quietLogger()).Run(context.Background(), ingest, transform, eval)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.ExportedPaths) != 2 || len(out.ObjectKeys) != 2 {
		t.Fatalf("artifact=%+v", out)
	}
	data, err := os.ReadFile(out.ExportedPaths[1])
	if err != nil || !bytes.Equal(data, []byte(`{"kind":"b"}`)) {
		t.Fatalf("exported=%q err=%v", data, err)
	}
	if got := store.puts["thyroid-models/models/ts/cluster1/model.json"]; string(got) != `{"kind":"b"}` {
		t.Fatalf("uploaded=%q", got)
	}
	d, err := domain.ReadDescriptor(cfg.DescriptorPath)
	if err != nil {
		t.Fatalf("ReadDescriptor: %v", err)
	}
	if d.ClusterModelPath != "km.json" || len(d.ModelPaths) != 2 || d.Bucket != "thyroid-models" {
		t.Fatalf("descriptor=%+v", d)
	}
}

func TestInferDType(t *testing.T) {
	cases := []struct {
		values []string
		want   string
	}{
		{[]string{"1", "2", "?"}, config.DTypeInt64},
		{[]string{"1", "2.5"}, config.DTypeFloat64},
		{[]string{"2.5", "3"}, config.DTypeFloat64},
		{[]string{"f", "1"}, config.DTypeObject},
		{[]string{"?", ""}, ""},
	}
	for _, tc := range cases {
		if got := InferDType(tc.values); got != tc.want {
			t.Fatalf("InferDType(%v)=%q, want %q", tc.values, got, tc.want)
		}
	}
}

func ingestFixture(t *testing.T) (domain.DataIngestionArtifact, string, string) {
	t.Helper()
	root := t.TempDir()
	src := writeFile(t, filepath.Join(root, "source.csv"), rawDataset(90))
	schemaPath := writeFile(t, filepath.Join(root, "config", "schema.yaml"), rawSchema)
	cfg := config.IngestionConfig{
		DownloadURL:      src,
		RawDataDir:       filepath.Join(root, "raw"),
		IngestedTrainDir: filepath.Join(root, "ingested", "train"),
		IngestedTestDir:  filepath.Join(root, "ingested", "test"),
		TestSize:         0.2,
		Seed:             42,
	}
	a, err := NewIngestion(cfg, quietLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("ingestion: %v", err)
	}
	return a, schemaPath, root
}

func TestIngestionSplitsLocalFile(t *testing.T) {
	a, _, _ := ingestFixture(t)
	train, err := dataset.ReadCSVFile(a.TrainFilePath)
	if err != nil {
		t.Fatal(err)
	}
	test, err := dataset.ReadCSVFile(a.TestFilePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(train.Rows) != 72 || len(test.Rows) != 18 {
		t.Fatalf("train=%d test=%d, want 72/18", len(train.Rows), len(test.Rows))
	}
}

func TestValidationPassesAndFails(t *testing.T) {
	ingest, schemaPath, root := ingestFixture(t)
	cfg := config.ValidationConfig{SchemaFilePath: schemaPath, ReportFilePath: filepath.Join(root, "validation", "report.json")}
	out, err := NewValidation(cfg, quietLogger()).Run(context.Background(), ingest)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var report ValidationReport
	data, _ := os.ReadFile(out.ReportFilePath)
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatal(err)
	}
	if !report.Passed || len(report.Checks) != 4 || len(report.Drift) != 3 {
		t.Fatalf("report=%+v", report)
	}

	// an extra declared column fails the count check
	badSchema := writeFile(t, filepath.Join(root, "config", "bad.yaml"),
		rawSchemaWith("age: int64", "age: float64\n  extra: object"))
	cfg.SchemaFilePath = badSchema
	_, err = NewValidation(cfg, quietLogger()).Run(context.Background(), ingest)
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("err=%v, want ErrValidationFailed", err)
	}
	data, _ = os.ReadFile(cfg.ReportFilePath)
	report = ValidationReport{}
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatal(err)
	}
	if report.Checks[1].Passed || !report.Checks[2].Skipped || !report.Checks[3].Skipped {
		t.Fatalf("column count should fail and gate later checks: %+v", report.Checks)
	}
}

func TestTransformWritesEveryCluster(t *testing.T) {
	ingest, schemaPath, root := ingestFixture(t)
	validation := domain.DataValidationArtifact{Success: true, SchemaFilePath: schemaPath}
	cfg := config.TransformConfig{
		TrainDir:         filepath.Join(root, "transformed", "train"),
		TestDir:          filepath.Join(root, "transformed", "test"),
		PreprocessorPath: filepath.Join(root, "preprocessed", "preprocessed.json"),
		ClusterModelPath: filepath.Join(root, "cluster_model", "cluster.json"),
		NumClusters:      3,
		DropColumns:      []string{"TBG"},
		OneHotColumns:    []string{"referral_source"},
		ValueMaps:        map[string]map[string]float64{"sex": {"F": 0, "M": 1}},
		ImputerNeighbors: 3,
		Oversample:       true,
		Seed:             42,
	}
	out, err := NewTransform(cfg, quietLogger()).Run(context.Background(), ingest, validation)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	splits, err := ClusterSplits(out)
	if err != nil {
		t.Fatalf("ClusterSplits: %v", err)
	}
	if len(splits) != 3 {
		t.Fatalf("splits=%d, want 3", len(splits))
	}
	total := 0
	for _, sp := range splits {
		tbl, err := dataset.ReadCSVFile(sp.TrainPath)
		if err != nil {
			t.Fatal(err)
		}
		if tbl.Header[len(tbl.Header)-1] != "Class" {
			t.Fatalf("last column %q, want Class", tbl.Header[len(tbl.Header)-1])
		}
		total += len(tbl.Rows)
	}
	// oversampling balances two classes, so the total is even and never shrinks
	if total < 72 || total%2 != 0 {
		t.Fatalf("train rows across clusters=%d", total)
	}
	for _, p := range []string{cfg.PreprocessorPath, cfg.ClusterModelPath} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("%s: %v", p, err)
		}
	}
}

func rawSchemaWith(old, replacement string) string {
	return string(bytes.Replace([]byte(rawSchema), []byte(old), []byte(replacement), 1))
}
