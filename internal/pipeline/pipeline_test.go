package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/animus-labs/thyroid/internal/config"
	"github.com/animus-labs/thyroid/internal/domain"
	"github.com/animus-labs/thyroid/internal/registry"
	"github.com/animus-labs/thyroid/internal/stage"
)

const pipelineConfig = `training_pipeline_config:
  pipeline_name: thyroid
  artifact_dir: artifact
data_ingestion_config:
  dataset_download_url: data/hypothyroid.csv
  raw_data_dir: raw_data
  ingested_dir: ingested_data
  ingested_train_dir: train
  ingested_test_dir: test
  test_size: 0.2
  random_seed: 7
data_validation_config:
  schema_dir: config
  schema_file: schema.yaml
  report_file_name: report.json
data_transform_config:
  transform_dir: transformed_data
  train_dir: train
  test_dir: test
  preprocessed_object_dir: preprocessed
  preprocessed_object_file_name: preprocessed.json
  cluster_model_dir: cluster_model
  cluster_model_name: cluster.json
  n_clusters: 2
  imputer_neighbors: 3
  oversample: true
  drop_columns: [TBG]
  one_hot_columns: [referral_source]
  value_maps:
    sex: {F: 0, M: 1}
model_trainer_config:
  model_file_name: model.json
  base_accuracy: 0.6
  model_config_dir: config
  model_config_file_name: model.yaml
model_evaluation_config:
  model_evaluation_file_name: model_evaluation.yaml
model_pusher_config:
  model_export_dir: saved_models
`

const pipelineSchema = `columns:
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

const modelSpace = `grid_search:
  module: model_selection
  class: GridSearchCV
  params:
    cv: 3
model_selection:
  module_0:
    module: linear_model
    class: LogisticRegression
    search_param_grid:
      learning_rate: [0.5]
  module_1:
    module: tree
    class: DecisionTreeClassifier
    search_param_grid:
      max_depth: [3]
`

// thyroidCSV builds rows where age forms two well separated groups and TSH
// alone decides the class, so both clusters hold both classes.
func thyroidCSV(n int) string {
	rng := rand.New(rand.NewPCG(5, 5))
	var b strings.Builder
	b.WriteString("age,sex,on_thyroxine,TSH,TBG,referral_source,Class\n")
	sources := []string{"SVHC", "SVI", "other"}
	for i := 0; i < n; i++ {
		age := 20 + rng.IntN(5)
		if i%2 == 1 {
			age = 75 + rng.IntN(5)
		}
		class, tsh := "negative", 1+rng.Float64()
		if i%3 == 0 {
			class, tsh = "primary_hypothyroid", 6+rng.Float64()
		}
		sex := []string{"F", "M"}[rng.IntN(2)]
		thyroxine := []string{"f", "t"}[rng.IntN(2)]
		fmt.Fprintf(&b, "%d,%s,%s,%.3f,?,%s,%s\n", age, sex, thyroxine, tsh, sources[rng.IntN(3)], class)
	}
	return b.String()
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func setupRoot(t *testing.T, schema string) (string, config.File) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config", "config.yaml"), pipelineConfig)
	writeFile(t, filepath.Join(root, "config", "schema.yaml"), schema)
	writeFile(t, filepath.Join(root, "config", "model.yaml"), modelSpace)
	writeFile(t, filepath.Join(root, "data", "hypothyroid.csv"), thyroidCSV(120))
	file, err := config.Load(filepath.Join(root, "config", "config.yaml"))
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return root, file
}

type memLedger struct {
	mu     sync.Mutex
	stages []string
	runIDs map[string]bool
}

func (m *memLedger) Record(_ context.Context, runID, _ string, a domain.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, a.StageName())
	if m.runIDs == nil {
		m.runIDs = map[string]bool{}
	}
	m.runIDs[runID] = true
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunEndToEnd(t *testing.T) {
	root, file := setupRoot(t, pipelineSchema)
	resolver, err := config.NewResolver(file, root, "2026-01-02-03-04-05")
	if err != nil {
		t.Fatal(err)
	}
	ledger := &memLedger{}
	p := New(resolver, Options{Logger: quietLogger(), Ledger: ledger})
	p.newRunID = func() string { return "run-1" }

	final, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.RunID != "run-1" || final.Timestamp != "2026-01-02-03-04-05" {
		t.Fatalf("final=%+v", final)
	}
	if len(final.ExportedPaths) != 2 || len(final.ModelAccuracy) != 2 || len(final.Accepted) != 2 {
		t.Fatalf("final=%+v", final)
	}
	for _, ok := range final.Accepted {
		if !ok {
			t.Fatalf("first run must promote every cluster: %v", final.Accepted)
		}
	}
	if !slices.Equal(ledger.stages, domain.Stages) {
		t.Fatalf("ledger stages=%v", ledger.stages)
	}
	d, err := domain.ReadDescriptor(final.DescriptorPath)
	if err != nil {
		t.Fatalf("ReadDescriptor: %v", err)
	}
	if len(d.ModelPaths) != 2 {
		t.Fatalf("descriptor=%+v", d)
	}
	reg := registry.New(resolver.EvaluationConfig().RegistryPath, quietLogger())
	recs, err := reg.Records()
	if err != nil || len(recs) != 2 {
		t.Fatalf("records=%v err=%v", recs, err)
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	// schema declares one column too many
	bad := strings.Replace(pipelineSchema, "  Class: object\n", "  Class: object\n  extra: object\n", 1)
	root, file := setupRoot(t, bad)
	resolver, err := config.NewResolver(file, root, "2026-01-02-03-04-05")
	if err != nil {
		t.Fatal(err)
	}
	ledger := &memLedger{}
	_, err = New(resolver, Options{Logger: quietLogger(), Ledger: ledger}).Run(context.Background())
	if !errors.Is(err, stage.ErrValidationFailed) {
		t.Fatalf("err=%v, want ErrValidationFailed", err)
	}
	if !slices.Equal(ledger.stages, []string{domain.StageIngest}) {
		t.Fatalf("ledger stages=%v", ledger.stages)
	}
	if _, err := os.Stat(filepath.Join(resolver.ArtifactDir(), "data_transform")); !os.IsNotExist(err) {
		t.Fatalf("transform must not run, stat err=%v", err)
	}
}

func TestTriggerRejectsConcurrentRun(t *testing.T) {
	root, file := setupRoot(t, pipelineSchema)
	trig := NewTrigger(file, root, Options{Logger: quietLogger()})
	trig.mu.Lock()
	trig.active = true
	trig.mu.Unlock()
	if _, err := trig.Train(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("err=%v, want ErrRunInProgress", err)
	}
}

func TestTriggerSecondRunKeepsHistory(t *testing.T) {
	root, file := setupRoot(t, pipelineSchema)
	ledger := &memLedger{}
	trig := NewTrigger(file, root, Options{Logger: quietLogger(), Ledger: ledger})
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	trig.now = func() time.Time { return clock }

	first, err := trig.Train(context.Background())
	if err != nil {
		t.Fatalf("first Train: %v", err)
	}
	clock = clock.Add(time.Minute)
	second, err := trig.Train(context.Background())
	if err != nil {
		t.Fatalf("second Train: %v", err)
	}
	if first.Timestamp == second.Timestamp || first.RunID == second.RunID {
		t.Fatalf("runs share identity: %+v %+v", first, second)
	}
	if trig.Running() {
		t.Fatalf("trigger must be idle after Train returns")
	}
	if len(ledger.runIDs) != 2 {
		t.Fatalf("ledger run ids=%v", ledger.runIDs)
	}

	resolver, err := config.NewResolver(file, root, second.Timestamp)
	if err != nil {
		t.Fatal(err)
	}
	recs, err := registry.New(resolver.EvaluationConfig().RegistryPath, quietLogger()).Records()
	if err != nil {
		t.Fatal(err)
	}
	for i, rec := range recs {
		if second.Accepted[i] && len(rec.History) != 1 {
			t.Fatalf("cluster %d promoted twice, history=%+v", i, rec.History)
		}
		if !second.Accepted[i] && len(rec.History) != 0 {
			t.Fatalf("cluster %d kept incumbent, history=%+v", i, rec.History)
		}
	}
}
