// Package dataset holds the tabular representations the pipeline moves
// between stages: raw string tables read from CSV and numeric matrices fed to
// estimators.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrEmpty is returned when a table or matrix has no data rows.
var ErrEmpty = errors.New("dataset has no rows")

// MissingValue marks an unknown cell in the raw thyroid data.
const MissingValue = "?"

// IsMissing reports whether a raw cell is empty or the missing marker.
func IsMissing(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || v == MissingValue
}

// Table is a header plus string rows, as read from CSV.
type Table struct {
	Header []string
	Rows   [][]string
}

func ReadCSV(r io.Reader) (Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return Table{}, errors.New("csv has no header")
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	return Table{Header: header, Rows: records[1:]}, nil
}

func ReadCSVFile(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, err
	}
	defer f.Close()
	t, err := ReadCSV(f)
	if err != nil {
		return Table{}, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func WriteCSVFile(path string, t Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(t.Header); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Index returns the position of a column in the header.
func (t Table) Index(name string) (int, bool) {
	for i, h := range t.Header {
		if h == name {
			return i, true
		}
	}
	return -1, false
}

// Column returns a copy of one column's values.
func (t Table) Column(name string) ([]string, error) {
	idx, ok := t.Index(name)
	if !ok {
		return nil, fmt.Errorf("column %q not found", name)
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out, nil
}

// Drop returns a table without the named columns. Unknown names are an error.
func (t Table) Drop(names ...string) (Table, error) {
	drop := make(map[int]bool, len(names))
	for _, name := range names {
		idx, ok := t.Index(name)
		if !ok {
			return Table{}, fmt.Errorf("drop column %q: not found", name)
		}
		drop[idx] = true
	}
	keep := make([]int, 0, len(t.Header))
	for i := range t.Header {
		if !drop[i] {
			keep = append(keep, i)
		}
	}
	return t.project(keep), nil
}

func (t Table) project(keep []int) Table {
	header := make([]string, len(keep))
	for j, idx := range keep {
		header[j] = t.Header[idx]
	}
	rows := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		out := make([]string, len(keep))
		for j, idx := range keep {
			if idx < len(row) {
				out[j] = row[idx]
			}
		}
		rows[i] = out
	}
	return Table{Header: header, Rows: rows}
}

// Subset returns the rows at the given positions, in that order.
func (t Table) Subset(idx []int) Table {
	rows := make([][]string, len(idx))
	for i, j := range idx {
		rows[i] = append([]string(nil), t.Rows[j]...)
	}
	return Table{Header: append([]string(nil), t.Header...), Rows: rows}
}
