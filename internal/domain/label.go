package domain

import (
	"fmt"
	"strings"
)

// Class labels of the diagnosis target, keyed by their integer encoding.
var classLabels = []string{
	"negative",
	"compensated_hypothyroid",
	"primary_hypothyroid",
	"secondary_hypothyroid",
}

// NumClasses is the cardinality of the target.
const NumClasses = 4

// LabelFor maps an integer class prediction to its label string.
func LabelFor(class int) (string, error) {
	if class < 0 || class >= len(classLabels) {
		return "", fmt.Errorf("unknown class %d", class)
	}
	return classLabels[class], nil
}

// ClassFor maps a label string to its integer encoding.
func ClassFor(label string) (int, error) {
	l := strings.TrimSpace(label)
	for i, candidate := range classLabels {
		if candidate == l {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown class label %q", label)
}
