// Package registry persists the best model of every cluster across runs,
// together with the ordered history of models each promotion superseded.
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/thyroid/internal/domain"
	"github.com/animus-labs/thyroid/internal/ml"
)

// Document is the on-disk layout of the registry file.
type Document struct {
	Clusters map[domain.ClusterID]domain.PromotionRecord `yaml:"clusters"`
}

// Registry reads and updates one registry file. The mutex serializes
// updates within a process; separate processes are not coordinated.
type Registry struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

func New(path string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{path: path, logger: logger}
}

func (r *Registry) Path() string { return r.path }

// Read returns the current document. A missing or empty file reads as an
// empty registry.
func (r *Registry) Read() (Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read()
}

func (r *Registry) read() (Document, error) {
	doc := Document{Clusters: map[domain.ClusterID]domain.PromotionRecord{}}
	raw, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("read registry: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return doc, fmt.Errorf("decode registry %s: %w", r.path, err)
	}
	if doc.Clusters == nil {
		doc.Clusters = map[domain.ClusterID]domain.PromotionRecord{}
	}
	return doc, nil
}

// Records returns every cluster record ordered by cluster id.
func (r *Registry) Records() ([]domain.PromotionRecord, error) {
	doc, err := r.Read()
	if err != nil {
		return nil, err
	}
	out := make([]domain.PromotionRecord, 0, len(doc.Clusters))
	for _, rec := range doc.Clusters {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cluster < out[j].Cluster })
	return out, nil
}

// Record returns the cluster's record, if one exists.
func (r *Registry) Record(cluster domain.ClusterID) (domain.PromotionRecord, bool, error) {
	doc, err := r.Read()
	if err != nil {
		return domain.PromotionRecord{}, false, err
	}
	rec, ok := doc.Clusters[cluster]
	return rec, ok, nil
}

// BestModel loads the incumbent model of cluster. When the registry file does
// not exist yet an empty one is created. ok is false when there is no
// incumbent.
func (r *Registry) BestModel(cluster domain.ClusterID) (model ml.Classifier, path string, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, statErr := os.Stat(r.path); errors.Is(statErr, os.ErrNotExist) {
		empty := Document{Clusters: map[domain.ClusterID]domain.PromotionRecord{}}
		if err := r.write(empty); err != nil {
			return nil, "", false, err
		}
		return nil, "", false, nil
	}
	doc, err := r.read()
	if err != nil {
		return nil, "", false, err
	}
	rec, found := doc.Clusters[cluster]
	if !found || rec.BestModelPath == "" {
		return nil, "", false, nil
	}
	model, err = ml.LoadClassifier(rec.BestModelPath)
	if err != nil {
		return nil, "", false, fmt.Errorf("load incumbent of %s: %w", cluster, err)
	}
	return model, rec.BestModelPath, true, nil
}

// Update makes modelPath the cluster's best model. A previous best is
// appended to the history under timestamp, even when it is the same path.
func (r *Registry) Update(cluster domain.ClusterID, modelPath, timestamp string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.read()
	if err != nil {
		return err
	}
	rec, found := doc.Clusters[cluster]
	rec.Cluster = cluster
	if found && rec.BestModelPath != "" {
		rec.History = append(rec.History, domain.HistoryEntry{Timestamp: timestamp, ModelPath: rec.BestModelPath})
	}
	rec.BestModelPath = modelPath
	rec.UpdatedAt = timestamp
	doc.Clusters[cluster] = rec
	if err := r.write(doc); err != nil {
		return err
	}
	r.logger.Info("registry updated", "cluster", cluster.String(), "model_path", modelPath, "history", len(rec.History))
	return nil
}

// write replaces the registry file through a temp file and rename so a crash
// leaves either the old or the new document.
func (r *Registry) write(doc Document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return err
	}
	committed = true
	return nil
}
