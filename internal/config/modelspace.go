package config

import (
	"cmp"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelSpace mirrors config/model.yaml: one grid-search driver and a set of
// model slots to tune.
type ModelSpace struct {
	GridSearch     DriverSpec          `yaml:"grid_search"`
	ModelSelection map[string]SlotSpec `yaml:"model_selection"`

	// slotOrder is the declaration order of model_selection in the file.
	slotOrder []string
}

type DriverSpec struct {
	Module string         `yaml:"module"`
	Class  string         `yaml:"class"`
	Params map[string]any `yaml:"params"`
}

type SlotSpec struct {
	Module          string           `yaml:"module"`
	Class           string           `yaml:"class"`
	Params          map[string]any   `yaml:"params"`
	SearchParamGrid map[string][]any `yaml:"search_param_grid"`
}

// Identifier is the registry key of the driver, e.g. "model_selection.GridSearchCV".
func (d DriverSpec) Identifier() string { return identifier(d.Module, d.Class) }

// Identifier is the registry key of the slot's estimator.
func (s SlotSpec) Identifier() string { return identifier(s.Module, s.Class) }

func identifier(module, class string) string {
	module = strings.TrimPrefix(strings.TrimSpace(module), "sklearn.")
	class = strings.TrimSpace(class)
	if module == "" {
		return class
	}
	return module + "." + class
}

func LoadModelSpace(path string) (ModelSpace, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ModelSpace{}, fmt.Errorf("read %s: %w", path, err)
	}
	var m ModelSpace
	if err := decodeBytes(path, raw, &m); err != nil {
		return ModelSpace{}, err
	}
	var doc struct {
		ModelSelection yaml.Node `yaml:"model_selection"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return ModelSpace{}, fmt.Errorf("%s: %w", path, err)
	}
	m.slotOrder = mappingKeys(&doc.ModelSelection)
	if err := m.Validate(); err != nil {
		return ModelSpace{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func mappingKeys(node *yaml.Node) []string {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	keys := make([]string, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keys = append(keys, node.Content[i].Value)
	}
	return keys
}

// SlotIDs returns the slot ids in declaration order. Slots without a
// recorded position follow in natural order, so module_2 precedes module_10.
func (m ModelSpace) SlotIDs() []string {
	ids := make([]string, 0, len(m.ModelSelection))
	seen := make(map[string]bool, len(m.ModelSelection))
	for _, id := range m.slotOrder {
		if _, ok := m.ModelSelection[id]; ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	rest := make([]string, 0, len(m.ModelSelection)-len(ids))
	for id := range m.ModelSelection {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	slices.SortFunc(rest, compareSlotIDs)
	return append(ids, rest...)
}

// compareSlotIDs orders ids by their non-numeric prefix, then by the value
// of a trailing number.
func compareSlotIDs(a, b string) int {
	pa, na, okA := splitNumericSuffix(a)
	pb, nb, okB := splitNumericSuffix(b)
	if pa == pb && okA && okB && na != nb {
		return cmp.Compare(na, nb)
	}
	return cmp.Compare(a, b)
}

func splitNumericSuffix(id string) (string, int, bool) {
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	n, err := strconv.Atoi(id[i:])
	if err != nil {
		return id, 0, false
	}
	return id[:i], n, true
}

func (m ModelSpace) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(m.GridSearch.Class) == "" {
		verr.Add("grid_search.class is required")
	}
	if len(m.ModelSelection) == 0 {
		verr.Add("model_selection must declare at least one model")
	}
	for _, id := range m.SlotIDs() {
		slot := m.ModelSelection[id]
		if strings.TrimSpace(slot.Class) == "" {
			verr.Add(fmt.Sprintf("model_selection.%s.class is required", id))
		}
		for key, values := range slot.SearchParamGrid {
			if len(values) == 0 {
				verr.Add(fmt.Sprintf("model_selection.%s.search_param_grid.%s is empty", id, key))
			}
		}
	}
	return verr.OrNil()
}
