package stage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/animus-labs/thyroid/internal/config"
	"github.com/animus-labs/thyroid/internal/dataset"
	"github.com/animus-labs/thyroid/internal/domain"
	"github.com/animus-labs/thyroid/internal/evaluation"
	"github.com/animus-labs/thyroid/internal/ml"
	"github.com/animus-labs/thyroid/internal/registry"
)

// Evaluation decides, per cluster, whether the freshly trained model
// replaces the incumbent recorded in the promotion registry.
type Evaluation struct {
	cfg      config.EvaluationConfig
	registry *registry.Registry
	logger   *slog.Logger
}

func NewEvaluation(cfg config.EvaluationConfig, reg *registry.Registry, logger *slog.Logger) *Evaluation {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = registry.New(cfg.RegistryPath, logger)
	}
	return &Evaluation{cfg: cfg, registry: reg, logger: logger}
}

func (s *Evaluation) Run(ctx context.Context, transform domain.DataTransformArtifact, trainer domain.ModelTrainerArtifact) (domain.ModelEvaluationArtifact, error) {
	const stage = domain.StageEvaluate
	fail := func(op string, kind domain.ErrorKind, err error) (domain.ModelEvaluationArtifact, error) {
		return domain.ModelEvaluationArtifact{}, domain.Wrap(stage, op, kind, err)
	}
	if err := domain.Require(transform); err != nil {
		return fail("require transform", domain.KindData, err)
	}
	if err := domain.Require(trainer); err != nil {
		return fail("require trainer", domain.KindModel, err)
	}
	splits, err := ClusterSplits(transform)
	if err != nil {
		return fail("list cluster files", domain.KindData, err)
	}
	if len(splits) != len(trainer.ClusterModelPaths) || len(splits) != len(trainer.ModelAccuracy) {
		return fail("match trained models", domain.KindData,
			fmt.Errorf("%w: %d clusters, %d trained models", ErrClusterMismatch, len(splits), len(trainer.ClusterModelPaths)))
	}
	s.logger.Info("stage started", "stage", stage, "registry", s.registry.Path())

	out := domain.ModelEvaluationArtifact{RegistryPath: s.registry.Path()}
	for i, sp := range splits {
		if err := ctx.Err(); err != nil {
			return fail("evaluate", domain.KindIO, err)
		}
		promote, err := s.decide(sp, trainer.ClusterModelPaths[i], trainer.ModelAccuracy[i])
		if err != nil {
			return fail("evaluate "+sp.Cluster.String(), kindForDecision(err), err)
		}
		if promote {
			if err := s.registry.Update(sp.Cluster, trainer.ClusterModelPaths[i], s.cfg.Timestamp); err != nil {
				return fail("update registry", domain.KindIO, err)
			}
		}
		rec, ok, err := s.registry.Record(sp.Cluster)
		if err != nil {
			return fail("read registry", domain.KindIO, err)
		}
		if !ok {
			return fail("read registry", domain.KindModel, fmt.Errorf("%s has no promoted model", sp.Cluster))
		}
		out.ClusterModelPaths = append(out.ClusterModelPaths, rec.BestModelPath)
		out.Accepted = append(out.Accepted, promote)
	}

	out.Success = true
	out.Message = "model evaluation completed"
	s.logger.Info("stage finished", "stage", stage, "accepted", out.Accepted)
	return out, nil
}

// decide returns true when the trained model should become the cluster's
// best. Without an incumbent it always is. Otherwise the incumbent and the
// new model are evaluated in that order against the new model's own
// combined accuracy, and the new model wins only if it is the accepted one.
func (s *Evaluation) decide(sp ClusterSplit, modelPath string, floor float64) (bool, error) {
	logger := s.logger.With("cluster", sp.Cluster.String())
	trained, err := ml.LoadClassifier(modelPath)
	if err != nil {
		return false, err
	}
	incumbent, incumbentPath, ok, err := s.registry.BestModel(sp.Cluster)
	if err != nil {
		return false, err
	}
	if !ok {
		logger.Info("no incumbent, accepting trained model", "model_path", modelPath)
		return true, nil
	}
	train, err := dataset.ReadLabeledCSV(sp.TrainPath)
	if err != nil {
		return false, err
	}
	test, err := dataset.ReadLabeledCSV(sp.TestPath)
	if err != nil {
		return false, err
	}
	candidates := []evaluation.Candidate{
		{Name: "incumbent:" + incumbent.Kind(), Model: incumbent},
		{Name: "trained:" + trained.Kind(), Model: trained},
	}
	split := evaluation.Split{TrainX: train.X, TrainY: train.Y, TestX: test.X, TestY: test.Y}
	report, accepted, err := evaluation.Evaluate(candidates, split, floor, logger)
	if err != nil {
		return false, err
	}
	promote := accepted && report.Index == 1
	logger.Info("promotion decision", "promote", promote, "incumbent_path", incumbentPath,
		"model_path", modelPath, "floor", floor, "accepted", accepted, "accepted_index", report.Index)
	return promote, nil
}

func kindForDecision(err error) domain.ErrorKind {
	switch {
	case errors.Is(err, dataset.ErrEmpty):
		return domain.KindData
	case errors.Is(err, fs.ErrNotExist):
		return domain.KindIO
	}
	return domain.KindModel
}
