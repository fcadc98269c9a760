package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/animus-labs/thyroid/internal/config"
	"github.com/animus-labs/thyroid/internal/dataset"
	"github.com/animus-labs/thyroid/internal/domain"
)

// Check is one schema check in the validation report.
type Check struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Skipped bool   `json:"skipped,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// ColumnDrift compares one numeric column between the train and test split.
type ColumnDrift struct {
	Column       string  `json:"column"`
	TrainMean    float64 `json:"train_mean"`
	TrainStd     float64 `json:"train_std"`
	TestMean     float64 `json:"test_mean"`
	TestStd      float64 `json:"test_std"`
	MeanShift    float64 `json:"mean_shift"`
	TrainMissing int     `json:"train_missing"`
	TestMissing  int     `json:"test_missing"`
}

// ValidationReport is written as JSON next to the validation artifact.
type ValidationReport struct {
	GeneratedAt string        `json:"generated_at"`
	SchemaFile  string        `json:"schema_file"`
	TrainFile   string        `json:"train_file"`
	TestFile    string        `json:"test_file"`
	Passed      bool          `json:"passed"`
	Checks      []Check       `json:"checks"`
	Drift       []ColumnDrift `json:"drift,omitempty"`
}

// Validation checks the ingested splits against the schema file.
type Validation struct {
	cfg    config.ValidationConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewValidation(cfg config.ValidationConfig, logger *slog.Logger) *Validation {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validation{cfg: cfg, logger: logger, now: time.Now}
}

func (s *Validation) Run(ctx context.Context, ingest domain.DataIngestionArtifact) (domain.DataValidationArtifact, error) {
	const stage = domain.StageValidate
	if err := domain.Require(ingest); err != nil {
		return domain.DataValidationArtifact{}, domain.Wrap(stage, "require ingestion", domain.KindData, err)
	}
	s.logger.Info("stage started", "stage", stage, "schema", s.cfg.SchemaFilePath)

	schema, err := config.LoadSchema(s.cfg.SchemaFilePath)
	if err != nil {
		return domain.DataValidationArtifact{}, domain.Wrap(stage, "load schema", domain.KindConfig, err)
	}
	report := s.validate(schema, ingest)
	if err := writeJSON(s.cfg.ReportFilePath, report); err != nil {
		return domain.DataValidationArtifact{}, domain.Wrap(stage, "write report", domain.KindIO, err)
	}
	for _, c := range report.Checks {
		s.logger.Info("validation check", "stage", stage, "check", c.Name, "passed", c.Passed, "skipped", c.Skipped, "detail", c.Detail)
	}
	if !report.Passed {
		var failed []string
		for _, c := range report.Checks {
			if !c.Passed && !c.Skipped {
				failed = append(failed, c.Name+": "+c.Detail)
			}
		}
		err := fmt.Errorf("%w: %s (report %s)", ErrValidationFailed, strings.Join(failed, "; "), s.cfg.ReportFilePath)
		return domain.DataValidationArtifact{}, domain.Wrap(stage, "validate", domain.KindData, err)
	}

	s.logger.Info("stage finished", "stage", stage, "report", s.cfg.ReportFilePath)
	return domain.DataValidationArtifact{
		Success:        true,
		Message:        "data validation completed",
		SchemaFilePath: s.cfg.SchemaFilePath,
		ReportFilePath: s.cfg.ReportFilePath,
	}, nil
}

// validate runs the checks in order; a failed check skips the rest.
func (s *Validation) validate(schema config.Schema, ingest domain.DataIngestionArtifact) ValidationReport {
	report := ValidationReport{
		GeneratedAt: s.now().UTC().Format(time.RFC3339),
		SchemaFile:  s.cfg.SchemaFilePath,
		TrainFile:   ingest.TrainFilePath,
		TestFile:    ingest.TestFilePath,
	}
	var train, test dataset.Table
	checks := []struct {
		name string
		run  func() (bool, string)
	}{
		{"files_exist", func() (bool, string) {
			var err error
			if train, err = dataset.ReadCSVFile(ingest.TrainFilePath); err != nil {
				return false, err.Error()
			}
			if test, err = dataset.ReadCSVFile(ingest.TestFilePath); err != nil {
				return false, err.Error()
			}
			return true, ""
		}},
		{"column_count", func() (bool, string) {
			want := len(schema.Columns)
			if len(train.Header) != want || len(test.Header) != want {
				return false, fmt.Sprintf("schema has %d columns, train has %d, test has %d", want, len(train.Header), len(test.Header))
			}
			return true, ""
		}},
		{"column_names", func() (bool, string) {
			want := schema.GroupedColumns()
			slices.Sort(want)
			for _, t := range []dataset.Table{train, test} {
				got := slices.Clone(t.Header)
				slices.Sort(got)
				if !slices.Equal(got, want) {
					return false, fmt.Sprintf("columns %v do not match schema %v", got, want)
				}
			}
			return true, ""
		}},
		{"column_dtypes", func() (bool, string) {
			var bad []string
			for _, col := range schema.Columns {
				for side, t := range map[string]dataset.Table{"train": train, "test": test} {
					values, _ := t.Column(col.Name)
					if got := InferDType(values); !dtypeCompatible(col.DType, got) {
						bad = append(bad, fmt.Sprintf("%s.%s is %s, want %s", side, col.Name, got, col.DType))
					}
				}
			}
			slices.Sort(bad)
			return len(bad) == 0, strings.Join(bad, ", ")
		}},
	}
	report.Passed = true
	for _, c := range checks {
		if !report.Passed {
			report.Checks = append(report.Checks, Check{Name: c.name, Skipped: true})
			continue
		}
		ok, detail := c.run()
		report.Checks = append(report.Checks, Check{Name: c.name, Passed: ok, Detail: detail})
		report.Passed = ok
	}
	if report.Checks[0].Passed {
		report.Drift = numericDrift(schema.NumericalColumns, train, test)
	}
	return report
}

// InferDType classifies raw CSV values as int64, float64 or object. Missing
// values are ignored and an all-missing column yields "".
func InferDType(values []string) string {
	dtype := ""
	for _, v := range values {
		v = strings.TrimSpace(v)
		if dataset.IsMissing(v) {
			continue
		}
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			if dtype == "" {
				dtype = config.DTypeInt64
			}
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			dtype = config.DTypeFloat64
			continue
		}
		return config.DTypeObject
	}
	return dtype
}

// dtypeCompatible accepts integers in float columns and all-missing columns.
func dtypeCompatible(declared, inferred string) bool {
	switch {
	case inferred == "" || declared == inferred:
		return true
	case declared == config.DTypeFloat64 && inferred == config.DTypeInt64:
		return true
	}
	return false
}

func numericDrift(columns []string, train, test dataset.Table) []ColumnDrift {
	out := make([]ColumnDrift, 0, len(columns))
	for _, col := range columns {
		trainVals, trainMissing, ok1 := numericValues(train, col)
		testVals, testMissing, ok2 := numericValues(test, col)
		if !ok1 || !ok2 {
			continue
		}
		d := ColumnDrift{Column: col, TrainMissing: trainMissing, TestMissing: testMissing}
		d.TrainMean, d.TrainStd = meanStd(trainVals)
		d.TestMean, d.TestStd = meanStd(testVals)
		if d.TrainStd > 0 {
			d.MeanShift = math.Abs(d.TestMean-d.TrainMean) / d.TrainStd
		}
		out = append(out, d)
	}
	return out
}

func numericValues(t dataset.Table, col string) ([]float64, int, bool) {
	values, err := t.Column(col)
	if err != nil {
		return nil, 0, false
	}
	out := make([]float64, 0, len(values))
	missing := 0
	for _, v := range values {
		f, err := dataset.ParseFloat(strings.TrimSpace(v))
		if err != nil {
			return nil, 0, false
		}
		if math.IsNaN(f) {
			missing++
			continue
		}
		out = append(out, f)
	}
	return out, missing, true
}

func meanStd(xs []float64) (float64, float64) {
	switch len(xs) {
	case 0:
		return 0, 0
	case 1:
		return xs[0], 0
	}
	return stat.MeanStdDev(xs, nil)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
