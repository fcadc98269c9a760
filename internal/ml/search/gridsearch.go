package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/animus-labs/thyroid/internal/dataset"
	"github.com/animus-labs/thyroid/internal/ml"
)

// GridSearchKind is the registry identifier of the exhaustive grid-search driver.
const GridSearchKind = "model_selection.GridSearchCV"

// GridSearchParams configures the driver.
type GridSearchParams struct {
	CV      int  `yaml:"cv" json:"cv"`
	NJobs   int  `yaml:"n_jobs" json:"n_jobs"`
	Verbose int  `yaml:"verbose" json:"verbose"`
	Refit   bool `yaml:"refit" json:"refit"`
	// FoldSeed shuffles rows before they are dealt into stratified folds.
	FoldSeed int64 `yaml:"fold_seed" json:"fold_seed"`
}

// GridSearchCV scores every point of a parameter grid with stratified k-fold
// cross-validation and refits the best point on the full training data.
type GridSearchCV struct {
	Params GridSearchParams
	logger *slog.Logger
}

// Point is one assignment of grid values.
type Point map[string]any

func (p Point) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, p[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Result is the outcome of one grid search.
type Result struct {
	Best       ml.Classifier
	BestParams Point
	BestScore  float64
	// Scores holds the mean CV accuracy per grid point, NaN for points whose
	// fits failed.
	Scores []float64
	Points []Point
}

// NewDriver builds the grid-search driver registered under kind.
func NewDriver(kind string, params map[string]any, logger *slog.Logger) (*GridSearchCV, error) {
	if kind != GridSearchKind {
		return nil, fmt.Errorf("%w: search driver %q (known: [%s])", ml.ErrUnknownEstimator, kind, GridSearchKind)
	}
	p := GridSearchParams{CV: 5, NJobs: 1, Refit: true}
	if err := ml.DecodeParams(GridSearchKind, params, &p); err != nil {
		return nil, err
	}
	switch {
	case p.CV < 2:
		return nil, fmt.Errorf("%s: cv must be >= 2", GridSearchKind)
	case p.NJobs == 0 || p.NJobs < -1:
		return nil, fmt.Errorf("%s: n_jobs must be -1 or >= 1", GridSearchKind)
	case !p.Refit:
		return nil, fmt.Errorf("%s: refit=false leaves no fitted estimator to evaluate", GridSearchKind)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GridSearchCV{Params: p, logger: logger}, nil
}

func (g *GridSearchCV) workers() int {
	if g.Params.NJobs == -1 {
		return runtime.NumCPU()
	}
	return g.Params.NJobs
}

// ExpandGrid returns the cartesian product of grid in sorted key order, the
// last key varying fastest. An empty grid yields one empty point.
func ExpandGrid(grid map[string][]any) []Point {
	keys := make([]string, 0, len(grid))
	for k := range grid {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	points := []Point{{}}
	for _, k := range keys {
		next := make([]Point, 0, len(points)*len(grid[k]))
		for _, p := range points {
			for _, v := range grid[k] {
				q := make(Point, len(p)+1)
				for pk, pv := range p {
					q[pk] = pv
				}
				q[k] = v
				next = append(next, q)
			}
		}
		points = next
	}
	return points
}

// Fit searches grid for the estimator kind with fixed params applied under
// every point.
func (g *GridSearchCV) Fit(ctx context.Context, kind string, fixed map[string]any, grid map[string][]any, X mat.Matrix, y []int) (Result, error) {
	points := ExpandGrid(grid)
	// reject bad params before spending any fits
	for _, p := range points {
		if _, err := ml.NewEstimator(kind, ml.MergeParams(fixed, p)); err != nil {
			return Result{}, err
		}
	}
	folds, err := dataset.StratifiedKFold(y, g.Params.CV, g.Params.FoldSeed)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", GridSearchKind, err)
	}
	n := len(y)
	trainIdx := make([][]int, len(folds))
	for f, test := range folds {
		inTest := make(map[int]bool, len(test))
		for _, i := range test {
			inTest[i] = true
		}
		for i := 0; i < n; i++ {
			if !inTest[i] {
				trainIdx[f] = append(trainIdx[f], i)
			}
		}
	}

	scores := make([][]float64, len(points))
	for i := range scores {
		scores[i] = make([]float64, len(folds))
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers())
	for pi, p := range points {
		for f := range folds {
			eg.Go(func() error {
				if err := egCtx.Err(); err != nil {
					return err
				}
				score, err := g.fitFold(kind, ml.MergeParams(fixed, p), X, y, trainIdx[f], folds[f])
				if err != nil {
					g.logger.Warn("fold fit failed", "model", kind, "params", p.String(), "fold", f, "error", err)
					score = math.NaN()
				}
				scores[pi][f] = score
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{Points: points, Scores: make([]float64, len(points)), BestScore: math.Inf(-1)}
	best := -1
	for pi, p := range points {
		res.Scores[pi] = mean(scores[pi])
		level := slog.LevelDebug
		if g.Params.Verbose > 0 {
			level = slog.LevelInfo
		}
		g.logger.Log(ctx, level, "grid point scored", "model", kind, "params", p.String(), "cv_accuracy", res.Scores[pi])
		if !math.IsNaN(res.Scores[pi]) && res.Scores[pi] > res.BestScore {
			best = pi
			res.BestScore = res.Scores[pi]
		}
	}
	if best < 0 {
		return Result{}, fmt.Errorf("%s: all %d fits failed for %s", GridSearchKind, len(points)*len(folds), kind)
	}
	res.BestParams = points[best]

	est, err := ml.NewEstimator(kind, ml.MergeParams(fixed, res.BestParams))
	if err != nil {
		return Result{}, err
	}
	if err := est.Fit(X, y); err != nil {
		return Result{}, fmt.Errorf("refit %s: %w", kind, err)
	}
	res.Best = est
	return res, nil
}

func (g *GridSearchCV) fitFold(kind string, params map[string]any, X mat.Matrix, y []int, train, test []int) (float64, error) {
	if len(train) == 0 || len(test) == 0 {
		return 0, errors.New("empty fold")
	}
	est, err := ml.NewEstimator(kind, params)
	if err != nil {
		return 0, err
	}
	if err := est.Fit(dataset.SelectRows(X, train), dataset.SelectLabels(y, train)); err != nil {
		return 0, err
	}
	return ml.Score(est, dataset.SelectRows(X, test), dataset.SelectLabels(y, test))
}

// mean is NaN when any fold failed, so a point never wins on partial folds.
func mean(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		if math.IsNaN(x) {
			return math.NaN()
		}
		s += x
	}
	return s / float64(len(xs))
}
