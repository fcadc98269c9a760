// Package search turns a declarative model space into tuned estimators: one
// grid search per model slot, then selection of the best slot above a floor.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"

	"github.com/animus-labs/thyroid/internal/config"
	"github.com/animus-labs/thyroid/internal/ml"
)

// ErrNoQualifyingModel is returned when no searched model beats the floor.
var ErrNoQualifyingModel = errors.New("no model matched base accuracy")

// CandidateModel is an untrained estimator waiting for its grid search.
type CandidateModel struct {
	SlotID    string
	Kind      string
	Name      string
	Params    map[string]any
	Grid      map[string][]any
	Estimator ml.Classifier
}

// SearchedModel is the outcome of searching one CandidateModel.
type SearchedModel struct {
	SlotID     string
	Original   ml.Classifier
	Best       ml.Classifier
	BestParams Point
	BestScore  float64
}

// Factory builds candidates from a model space and searches them with the
// configured driver.
type Factory struct {
	space  config.ModelSpace
	driver *GridSearchCV
	logger *slog.Logger
}

func NewFactory(space config.ModelSpace, logger *slog.Logger) (*Factory, error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	driver, err := NewDriver(space.GridSearch.Identifier(), space.GridSearch.Params, logger)
	if err != nil {
		return nil, err
	}
	return &Factory{space: space, driver: driver, logger: logger}, nil
}

// NewFactoryFromFile loads the model space at path.
func NewFactoryFromFile(path string, logger *slog.Logger) (*Factory, error) {
	space, err := config.LoadModelSpace(path)
	if err != nil {
		return nil, err
	}
	return NewFactory(space, logger)
}

// Initialize instantiates one unfitted estimator per slot, in slot-id order.
func (f *Factory) Initialize() ([]CandidateModel, error) {
	ids := f.space.SlotIDs()
	out := make([]CandidateModel, 0, len(ids))
	for _, id := range ids {
		slot := f.space.ModelSelection[id]
		kind := slot.Identifier()
		est, err := ml.NewEstimator(kind, slot.Params)
		if err != nil {
			return nil, fmt.Errorf("model_selection.%s: %w", id, err)
		}
		out = append(out, CandidateModel{
			SlotID:    id,
			Kind:      kind,
			Name:      fmt.Sprintf("%s.%s", slot.Module, slot.Class),
			Params:    slot.Params,
			Grid:      slot.SearchParamGrid,
			Estimator: est,
		})
	}
	return out, nil
}

// Search runs the driver for every candidate. The first failure aborts the
// whole search.
func (f *Factory) Search(ctx context.Context, candidates []CandidateModel, X mat.Matrix, y []int) ([]SearchedModel, error) {
	out := make([]SearchedModel, 0, len(candidates))
	for _, c := range candidates {
		f.logger.Info("grid search started", "slot", c.SlotID, "model", c.Name, "points", len(ExpandGrid(c.Grid)))
		res, err := f.driver.Fit(ctx, c.Kind, c.Params, c.Grid, X, y)
		if err != nil {
			return nil, fmt.Errorf("model_selection.%s: %w", c.SlotID, err)
		}
		f.logger.Info("grid search finished", "slot", c.SlotID, "model", c.Name,
			"best_params", res.BestParams.String(), "best_score", res.BestScore)
		out = append(out, SearchedModel{
			SlotID:     c.SlotID,
			Original:   c.Estimator,
			Best:       res.Best,
			BestParams: res.BestParams,
			BestScore:  res.BestScore,
		})
	}
	return out, nil
}

// BestModel returns the searched model with the highest CV score strictly
// above floor. The floor is never lowered.
func BestModel(searched []SearchedModel, floor float64) (SearchedModel, error) {
	var best *SearchedModel
	for i := range searched {
		if searched[i].BestScore > floor {
			best = &searched[i]
			floor = searched[i].BestScore
		}
	}
	if best == nil {
		return SearchedModel{}, fmt.Errorf("%w %.4f", ErrNoQualifyingModel, floor)
	}
	return *best, nil
}

// Run initializes, searches and selects in one call. It returns the winner
// and every searched model so callers can evaluate all of them.
func (f *Factory) Run(ctx context.Context, X mat.Matrix, y []int, floor float64) (SearchedModel, []SearchedModel, error) {
	candidates, err := f.Initialize()
	if err != nil {
		return SearchedModel{}, nil, err
	}
	searched, err := f.Search(ctx, candidates, X, y)
	if err != nil {
		return SearchedModel{}, nil, err
	}
	best, err := BestModel(searched, floor)
	if err != nil {
		return SearchedModel{}, searched, err
	}
	return best, searched, nil
}
