// Package inference labels raw thyroid records with the models named by an
// inference descriptor.
package inference

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/animus-labs/thyroid/internal/dataset"
	"github.com/animus-labs/thyroid/internal/domain"
	"github.com/animus-labs/thyroid/internal/ml"
	"github.com/animus-labs/thyroid/internal/preprocess"
	"github.com/animus-labs/thyroid/internal/storage/objectstore"
)

// ErrNoRecords is returned when a prediction request carries no rows.
var ErrNoRecords = errors.New("no records to predict")

// Prediction is the outcome for one input row.
type Prediction struct {
	Cluster domain.ClusterID `json:"cluster"`
	Class   int              `json:"class"`
	Label   string           `json:"label"`
}

// Predictor is immutable after Load and safe for concurrent use.
type Predictor struct {
	descriptor domain.InferenceDescriptor
	columns    []string
	pre        *preprocess.Preprocessor
	clusters   *ml.KMeans
	models     []ml.Classifier
}

// Load reads the descriptor and every artifact it names from local disk.
func Load(descriptorPath string) (*Predictor, error) {
	return LoadWithStore(context.Background(), descriptorPath, nil)
}

// LoadWithStore is Load, except that a cluster model missing on disk is
// first downloaded from the descriptor's bucket when store is non-nil.
func LoadWithStore(ctx context.Context, descriptorPath string, store objectstore.Store) (*Predictor, error) {
	d, err := domain.ReadDescriptor(descriptorPath)
	if err != nil {
		return nil, err
	}
	if err := fetchMissingModels(ctx, d, store); err != nil {
		return nil, err
	}
	pre, err := preprocess.Load(d.PreprocessorPath)
	if err != nil {
		return nil, fmt.Errorf("load preprocessor: %w", err)
	}
	clusters, err := ml.LoadKMeans(d.ClusterModelPath)
	if err != nil {
		return nil, fmt.Errorf("load cluster model: %w", err)
	}
	models := make([]ml.Classifier, len(d.ModelPaths))
	for k, path := range d.ModelPaths {
		if models[k], err = ml.LoadClassifier(path); err != nil {
			return nil, fmt.Errorf("load model for %s: %w", domain.ClusterID(k), err)
		}
	}
	p := &Predictor{descriptor: d, pre: pre, clusters: clusters, models: models}
	if d.TrainFilePath != "" {
		train, err := dataset.ReadCSVFile(d.TrainFilePath)
		if err != nil {
			return nil, fmt.Errorf("read training header: %w", err)
		}
		for _, col := range train.Header {
			if col != pre.Target {
				p.columns = append(p.columns, col)
			}
		}
	}
	return p, nil
}

func fetchMissingModels(ctx context.Context, d domain.InferenceDescriptor, store objectstore.Store) error {
	if store == nil || d.Bucket == "" {
		return nil
	}
	for k, path := range d.ModelPaths {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			continue
		}
		if k >= len(d.ObjectKeys) || d.ObjectKeys[k] == "" {
			return fmt.Errorf("model for %s missing locally and has no object key", domain.ClusterID(k))
		}
		if err := objectstore.FetchFile(ctx, store, d.Bucket, d.ObjectKeys[k], path); err != nil {
			return fmt.Errorf("fetch model for %s: %w", domain.ClusterID(k), err)
		}
	}
	return nil
}

func (p *Predictor) Descriptor() domain.InferenceDescriptor { return p.descriptor }

// Columns lists the raw input columns expected by PredictRecords.
func (p *Predictor) Columns() []string { return slices.Clone(p.columns) }

// PredictRecords aligns column-keyed records to the training header. Absent
// keys are treated as missing values; unknown keys are rejected.
func (p *Predictor) PredictRecords(records []map[string]string) ([]Prediction, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	if len(p.columns) == 0 {
		return nil, errors.New("descriptor has no training file to align records with")
	}
	known := make(map[string]bool, len(p.columns))
	for _, c := range p.columns {
		known[c] = true
	}
	t := dataset.Table{Header: p.columns, Rows: make([][]string, len(records))}
	for i, rec := range records {
		for key := range rec {
			if !known[key] && key != p.pre.Target {
				return nil, fmt.Errorf("record %d: unknown column %q", i+1, key)
			}
		}
		row := make([]string, len(p.columns))
		for j, col := range p.columns {
			v, ok := rec[col]
			if !ok || strings.TrimSpace(v) == "" {
				v = dataset.MissingValue
			}
			row[j] = v
		}
		t.Rows[i] = row
	}
	return p.PredictTable(t)
}

// PredictTable labels every row of a raw table.
func (p *Predictor) PredictTable(t dataset.Table) ([]Prediction, error) {
	if len(t.Rows) == 0 {
		return nil, ErrNoRecords
	}
	if _, ok := t.Index(p.pre.Target); ok {
		var err error
		if t, err = t.Drop(p.pre.Target); err != nil {
			return nil, err
		}
	}
	rows, _, err := p.pre.Transform(t)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	X := p.pre.Labeled(rows, nil).X
	assigned, err := p.clusters.Predict(X)
	if err != nil {
		return nil, fmt.Errorf("assign clusters: %w", err)
	}

	byCluster := map[int][]int{}
	for i, k := range assigned {
		byCluster[k] = append(byCluster[k], i)
	}
	out := make([]Prediction, len(rows))
	for k, idx := range byCluster {
		if k < 0 || k >= len(p.models) {
			return nil, fmt.Errorf("%s has no exported model", domain.ClusterID(k))
		}
		classes, err := p.models[k].Predict(dataset.SelectRows(X, idx))
		if err != nil {
			return nil, fmt.Errorf("predict %s: %w", domain.ClusterID(k), err)
		}
		for j, i := range idx {
			label, err := domain.LabelFor(classes[j])
			if err != nil {
				return nil, err
			}
			out[i] = Prediction{Cluster: domain.ClusterID(k), Class: classes[j], Label: label}
		}
	}
	return out, nil
}

// Labels returns only the label strings of preds.
func Labels(preds []Prediction) []string {
	out := make([]string, len(preds))
	for i, p := range preds {
		out[i] = p.Label
	}
	return out
}
