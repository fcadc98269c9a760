package ml

import (
	"errors"
	"fmt"
	"sort"
)

// Registry identifiers of the built-in estimators.
const (
	LogisticRegressionKind = "linear_model.LogisticRegression"
	DecisionTreeKind       = "tree.DecisionTreeClassifier"
	RandomForestKind       = "ensemble.RandomForestClassifier"
	KNeighborsKind         = "neighbors.KNeighborsClassifier"
	KMeansKind             = "cluster.KMeans"
)

// ErrUnknownEstimator is returned for identifiers outside the registry.
var ErrUnknownEstimator = errors.New("unknown estimator")

// Factory builds an unfitted classifier from typed parameters given as a map.
type Factory func(params map[string]any) (Classifier, error)

var factories = map[string]Factory{
	LogisticRegressionKind: func(p map[string]any) (Classifier, error) { return NewLogisticRegression(p) },
	DecisionTreeKind:       func(p map[string]any) (Classifier, error) { return NewDecisionTree(p) },
	RandomForestKind:       func(p map[string]any) (Classifier, error) { return NewRandomForest(p) },
	KNeighborsKind:         func(p map[string]any) (Classifier, error) { return NewKNeighbors(p) },
}

// NewEstimator builds the classifier registered under kind.
func NewEstimator(kind string, params map[string]any) (Classifier, error) {
	factory, ok := factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownEstimator, kind, Kinds())
	}
	return factory(params)
}

// Kinds lists the registered classifier identifiers.
func Kinds() []string {
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MergeParams overlays grid values on fixed params without mutating either.
func MergeParams(fixed, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(fixed)+len(overlay))
	for k, v := range fixed {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
