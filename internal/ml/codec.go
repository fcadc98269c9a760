package ml

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Model is anything the codec can persist.
type Model interface {
	Kind() string
}

type envelope struct {
	Kind  string          `json:"kind"`
	Model json.RawMessage `json:"model"`
}

var zeroModels = map[string]func() Model{
	LogisticRegressionKind: func() Model { return &LogisticRegression{} },
	DecisionTreeKind:       func() Model { return &DecisionTree{} },
	RandomForestKind:       func() Model { return &RandomForest{} },
	KNeighborsKind:         func() Model { return &KNeighbors{} },
	KMeansKind:             func() Model { return &KMeans{} },
}

// Encode writes m as a kind-tagged JSON document.
func Encode(w io.Writer, m Model) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	enc := json.NewEncoder(w)
	return enc.Encode(envelope{Kind: m.Kind(), Model: body})
}

// Decode reads a document written by Encode.
func Decode(r io.Reader) (Model, error) {
	var env envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	zero, ok := zeroModels[env.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEstimator, env.Kind)
	}
	m := zero()
	if err := json.Unmarshal(env.Model, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
	}
	return m, nil
}

// Save writes m to path, creating parent directories.
func Save(path string, m Model) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, m); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func Load(path string) (Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// LoadClassifier loads path and requires a supervised model.
func LoadClassifier(path string) (Classifier, error) {
	m, err := Load(path)
	if err != nil {
		return nil, err
	}
	c, ok := m.(Classifier)
	if !ok {
		return nil, fmt.Errorf("%s holds %s, not a classifier", path, m.Kind())
	}
	return c, nil
}

func LoadKMeans(path string) (*KMeans, error) {
	m, err := Load(path)
	if err != nil {
		return nil, err
	}
	k, ok := m.(*KMeans)
	if !ok {
		return nil, fmt.Errorf("%s holds %s, not %s", path, m.Kind(), KMeansKind)
	}
	return k, nil
}
