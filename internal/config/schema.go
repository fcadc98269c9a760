package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Column dtypes understood by validation.
const (
	DTypeInt64   = "int64"
	DTypeFloat64 = "float64"
	DTypeObject  = "object"
)

type Column struct {
	Name  string
	DType string
}

// ColumnList keeps the declaration order of the schema's columns mapping.
type ColumnList []Column

func (c *ColumnList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: columns must be a mapping", node.Line)
	}
	out := make(ColumnList, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: dtype of %q must be a scalar", value.Line, key.Value)
		}
		out = append(out, Column{Name: key.Value, DType: strings.TrimSpace(value.Value)})
	}
	*c = out
	return nil
}

// Schema mirrors config/schema.yaml.
type Schema struct {
	Columns            ColumnList `yaml:"columns"`
	NumericalColumns   []string   `yaml:"numerical_columns"`
	CategoricalColumns []string   `yaml:"categorical_columns"`
	TargetColumn       string     `yaml:"target_column"`
}

func LoadSchema(path string) (Schema, error) {
	var s Schema
	if err := decodeFile(path, &s); err != nil {
		return Schema{}, err
	}
	if err := s.Validate(); err != nil {
		return Schema{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (s Schema) Validate() error {
	verr := &ValidationError{}
	if len(s.Columns) == 0 {
		verr.Add("columns is required")
	}
	if strings.TrimSpace(s.TargetColumn) == "" {
		verr.Add("target_column is required")
	}
	seen := make(map[string]bool, len(s.Columns))
	for _, col := range s.Columns {
		if seen[col.Name] {
			verr.Add(fmt.Sprintf("column %q declared twice", col.Name))
		}
		seen[col.Name] = true
		switch col.DType {
		case DTypeInt64, DTypeFloat64, DTypeObject:
		default:
			verr.Add(fmt.Sprintf("column %q has unsupported dtype %q", col.Name, col.DType))
		}
	}
	if s.TargetColumn != "" && !seen[s.TargetColumn] {
		verr.Add(fmt.Sprintf("target column %q is not declared in columns", s.TargetColumn))
	}
	return verr.OrNil()
}

// DType returns the declared dtype of a column.
func (s Schema) DType(name string) (string, bool) {
	for _, col := range s.Columns {
		if col.Name == name {
			return col.DType, true
		}
	}
	return "", false
}

// GroupedColumns returns the numerical and categorical names together.
func (s Schema) GroupedColumns() []string {
	out := make([]string, 0, len(s.NumericalColumns)+len(s.CategoricalColumns))
	out = append(out, s.NumericalColumns...)
	out = append(out, s.CategoricalColumns...)
	return out
}
