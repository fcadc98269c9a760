// Package preprocess turns raw thyroid records into the numeric feature
// matrix the clustering and classification models are fitted on.
package preprocess

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/animus-labs/thyroid/internal/dataset"
	"github.com/animus-labs/thyroid/internal/domain"
)

// Options configures a new Preprocessor.
type Options struct {
	DropColumns      []string
	OneHotColumns    []string
	ValueMaps        map[string]map[string]float64
	Target           string
	ImputerNeighbors int
}

// ErrUnseenCategory is returned when a categorical value was not present
// in the training split.
var ErrUnseenCategory = errors.New("unseen category")

// OneHot lists the indicator columns kept for one categorical column. The
// first category in sorted order is dropped and kept as Baseline.
type OneHot struct {
	Column     string   `json:"column"`
	Baseline   string   `json:"baseline,omitempty"`
	Categories []string `json:"categories"`
}

// indicators appends the encoding of v. Missing values encode as all zeros.
func (oh OneHot) indicators(row []float64, v string) ([]float64, error) {
	v = strings.TrimSpace(v)
	known := dataset.IsMissing(v) || v == oh.Baseline
	for _, cat := range oh.Categories {
		if v == cat {
			known = true
			row = append(row, 1)
		} else {
			row = append(row, 0)
		}
	}
	if !known {
		return nil, fmt.Errorf("column %q value %q: %w", oh.Column, v, ErrUnseenCategory)
	}
	return row, nil
}

// Preprocessor is fitted on the training split and replayed on the test
// split and on inference records.
type Preprocessor struct {
	DropColumns    []string                      `json:"drop_columns"`
	ValueMaps      map[string]map[string]float64 `json:"value_maps,omitempty"`
	BinaryColumns  []string                      `json:"binary_columns"`
	NumericColumns []string                      `json:"numeric_columns"`
	OneHot         []OneHot                      `json:"one_hot"`
	Target         string                        `json:"target"`
	FeatureColumns []string                      `json:"feature_columns"`
	Imputer        *KNNImputer                   `json:"imputer"`

	binary map[string]bool
}

func New(opts Options) (*Preprocessor, error) {
	if strings.TrimSpace(opts.Target) == "" {
		return nil, errors.New("target column is required")
	}
	return &Preprocessor{
		DropColumns: append([]string(nil), opts.DropColumns...),
		ValueMaps:   opts.ValueMaps,
		Target:      opts.Target,
		OneHot:      oneHotStubs(opts.OneHotColumns),
		Imputer:     NewKNNImputer(opts.ImputerNeighbors),
	}, nil
}

func oneHotStubs(cols []string) []OneHot {
	out := make([]OneHot, len(cols))
	for i, c := range cols {
		out[i] = OneHot{Column: c}
	}
	return out
}

// Fit learns the column roles, one-hot categories and imputer donors from
// train, which must contain the target column.
func (p *Preprocessor) Fit(train dataset.Table) error {
	t, err := p.dropColumns(train)
	if err != nil {
		return err
	}
	if _, ok := t.Index(p.Target); !ok {
		return fmt.Errorf("target column %q not found", p.Target)
	}
	oneHot := map[string]int{}
	for i, oh := range p.OneHot {
		if _, ok := t.Index(oh.Column); !ok {
			return fmt.Errorf("one-hot column %q not found", oh.Column)
		}
		oneHot[oh.Column] = i
	}

	p.BinaryColumns, p.NumericColumns = nil, nil
	for _, col := range t.Header {
		if col == p.Target {
			continue
		}
		values, _ := t.Column(col)
		if i, ok := oneHot[col]; ok {
			cats := distinct(values)
			p.OneHot[i].Baseline, p.OneHot[i].Categories = "", nil
			if len(cats) > 0 {
				p.OneHot[i].Baseline, p.OneHot[i].Categories = cats[0], cats[1:]
			}
			continue
		}
		if _, ok := p.ValueMaps[col]; !ok && isBinary(values) {
			p.BinaryColumns = append(p.BinaryColumns, col)
		}
		p.NumericColumns = append(p.NumericColumns, col)
	}
	p.FeatureColumns = append([]string(nil), p.NumericColumns...)
	for _, oh := range p.OneHot {
		for _, cat := range oh.Categories {
			p.FeatureColumns = append(p.FeatureColumns, oh.Column+"_"+cat)
		}
	}
	p.index()

	rows, err := p.encode(t)
	if err != nil {
		return err
	}
	p.Imputer.Fit(rows)
	return nil
}

// Transform encodes and imputes t. Labels are returned when t carries the
// target column and are nil otherwise.
func (p *Preprocessor) Transform(t dataset.Table) ([][]float64, []int, error) {
	if len(p.FeatureColumns) == 0 {
		return nil, nil, errors.New("preprocessor is not fitted")
	}
	if p.binary == nil {
		p.index()
	}
	rows, err := p.encode(t)
	if err != nil {
		return nil, nil, err
	}
	p.Imputer.Transform(rows)

	var labels []int
	if col, ok := t.Index(p.Target); ok {
		labels = make([]int, len(t.Rows))
		for i, row := range t.Rows {
			if labels[i], err = parseLabel(row[col]); err != nil {
				return nil, nil, fmt.Errorf("row %d: %w", i+1, err)
			}
		}
	}
	return rows, labels, nil
}

// FitTransform fits on train and returns its transformed rows.
func (p *Preprocessor) FitTransform(train dataset.Table) ([][]float64, []int, error) {
	if err := p.Fit(train); err != nil {
		return nil, nil, err
	}
	return p.Transform(train)
}

// Labeled packs transformed rows into a labeled matrix with the fitted
// feature names.
func (p *Preprocessor) Labeled(rows [][]float64, y []int) dataset.Labeled {
	l := dataset.Labeled{Columns: p.FeatureColumns, Target: p.Target, Y: y}
	if len(rows) > 0 {
		data := make([]float64, 0, len(rows)*len(p.FeatureColumns))
		for _, r := range rows {
			data = append(data, r...)
		}
		l.X = mat.NewDense(len(rows), len(p.FeatureColumns), data)
	}
	return l
}

func (p *Preprocessor) index() {
	p.binary = make(map[string]bool, len(p.BinaryColumns))
	for _, c := range p.BinaryColumns {
		p.binary[c] = true
	}
}

func (p *Preprocessor) dropColumns(t dataset.Table) (dataset.Table, error) {
	present := make([]string, 0, len(p.DropColumns))
	for _, c := range p.DropColumns {
		if _, ok := t.Index(c); ok {
			present = append(present, c)
		}
	}
	return t.Drop(present...)
}

func (p *Preprocessor) encode(t dataset.Table) ([][]float64, error) {
	numeric := make([]int, len(p.NumericColumns))
	for i, col := range p.NumericColumns {
		idx, ok := t.Index(col)
		if !ok {
			return nil, fmt.Errorf("column %q not found", col)
		}
		numeric[i] = idx
	}
	oneHot := make([]int, len(p.OneHot))
	for i, oh := range p.OneHot {
		idx, ok := t.Index(oh.Column)
		if !ok {
			return nil, fmt.Errorf("column %q not found", oh.Column)
		}
		oneHot[i] = idx
	}

	out := make([][]float64, len(t.Rows))
	for r, raw := range t.Rows {
		row := make([]float64, 0, len(p.FeatureColumns))
		for i, col := range p.NumericColumns {
			v, err := p.encodeCell(col, cell(raw, numeric[i]))
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", r+1, err)
			}
			row = append(row, v)
		}
		for i, oh := range p.OneHot {
			var err error
			if row, err = oh.indicators(row, cell(raw, oneHot[i])); err != nil {
				return nil, fmt.Errorf("row %d: %w", r+1, err)
			}
		}
		out[r] = row
	}
	return out, nil
}

func (p *Preprocessor) encodeCell(col, raw string) (float64, error) {
	v := strings.TrimSpace(raw)
	if dataset.IsMissing(v) {
		return math.NaN(), nil
	}
	if m, ok := p.ValueMaps[col]; ok {
		if mapped, ok := m[v]; ok {
			return mapped, nil
		}
		return math.NaN(), nil
	}
	if p.binary[col] {
		switch strings.ToLower(v) {
		case "f":
			return 0, nil
		case "t":
			return 1, nil
		}
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("column %q: value %q is not numeric", col, raw)
	}
	return f, nil
}

func cell(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}

// parseLabel accepts a class label string or its integer encoding.
func parseLabel(v string) (int, error) {
	if class, err := domain.ClassFor(v); err == nil {
		return class, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 || n >= domain.NumClasses {
		return 0, fmt.Errorf("unknown class label %q", v)
	}
	return n, nil
}

func distinct(values []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if dataset.IsMissing(v) || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func isBinary(values []string) bool {
	found := false
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if dataset.IsMissing(v) {
			continue
		}
		if v != "f" && v != "t" {
			return false
		}
		found = true
	}
	return found
}

// Save writes the fitted preprocessor as JSON.
func (p *Preprocessor) Save(path string) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode preprocessor: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func Load(path string) (*Preprocessor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Preprocessor
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode preprocessor %s: %w", path, err)
	}
	if p.Imputer == nil {
		p.Imputer = NewKNNImputer(1)
	}
	p.index()
	return &p, nil
}
