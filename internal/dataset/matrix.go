package dataset

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// Labeled is a numeric feature matrix with integer class labels.
type Labeled struct {
	Columns []string
	Target  string
	X       *mat.Dense
	Y       []int
}

func (l Labeled) Rows() int { return len(l.Y) }

// ParseFloat parses a numeric cell; missing cells become NaN.
func ParseFloat(v string) (float64, error) {
	if IsMissing(v) {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(v, 64)
}

// ReadLabeledCSV reads a transformed split: every column but the last is a
// feature and the last column is the integer class label.
func ReadLabeledCSV(path string) (Labeled, error) {
	t, err := ReadCSVFile(path)
	if err != nil {
		return Labeled{}, err
	}
	l, err := LabeledFromTable(t)
	if err != nil {
		return Labeled{}, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

func LabeledFromTable(t Table) (Labeled, error) {
	if len(t.Header) < 2 {
		return Labeled{}, fmt.Errorf("need at least one feature and a target column, got %d columns", len(t.Header))
	}
	if len(t.Rows) == 0 {
		return Labeled{}, ErrEmpty
	}
	nFeatures := len(t.Header) - 1
	data := make([]float64, 0, len(t.Rows)*nFeatures)
	y := make([]int, len(t.Rows))
	for i, row := range t.Rows {
		if len(row) != len(t.Header) {
			return Labeled{}, fmt.Errorf("row %d has %d fields, want %d", i+1, len(row), len(t.Header))
		}
		for j := 0; j < nFeatures; j++ {
			v, err := ParseFloat(row[j])
			if err != nil {
				return Labeled{}, fmt.Errorf("row %d column %q: %w", i+1, t.Header[j], err)
			}
			data = append(data, v)
		}
		label, err := strconv.ParseFloat(row[nFeatures], 64)
		if err != nil || label != math.Trunc(label) {
			return Labeled{}, fmt.Errorf("row %d: label %q is not an integer", i+1, row[nFeatures])
		}
		y[i] = int(label)
	}
	return Labeled{
		Columns: append([]string(nil), t.Header[:nFeatures]...),
		Target:  t.Header[nFeatures],
		X:       mat.NewDense(len(t.Rows), nFeatures, data),
		Y:       y,
	}, nil
}

// WriteLabeledCSV writes features followed by the label column. Zero rows
// produce a header-only file.
func WriteLabeledCSV(path string, l Labeled) error {
	header := append(append([]string(nil), l.Columns...), l.Target)
	rows := make([][]string, 0, len(l.Y))
	for i := range l.Y {
		row := make([]string, 0, len(header))
		for j := range l.Columns {
			row = append(row, strconv.FormatFloat(l.X.At(i, j), 'g', -1, 64))
		}
		row = append(row, strconv.Itoa(l.Y[i]))
		rows = append(rows, row)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return WriteCSVFile(path, Table{Header: header, Rows: rows})
}

// SelectRows copies the given rows of X into a new matrix.
func SelectRows(X mat.Matrix, idx []int) *mat.Dense {
	_, c := X.Dims()
	if len(idx) == 0 {
		return nil
	}
	out := mat.NewDense(len(idx), c, nil)
	for i, r := range idx {
		for j := 0; j < c; j++ {
			out.Set(i, j, X.At(r, j))
		}
	}
	return out
}

// SelectLabels copies the given positions of y.
func SelectLabels(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, r := range idx {
		out[i] = y[r]
	}
	return out
}

// Subset returns the rows at idx of a labeled matrix.
func (l Labeled) Subset(idx []int) Labeled {
	return Labeled{
		Columns: l.Columns,
		Target:  l.Target,
		X:       SelectRows(l.X, idx),
		Y:       SelectLabels(l.Y, idx),
	}
}
