package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/animus-labs/thyroid/internal/config"
	"github.com/animus-labs/thyroid/internal/dataset"
	"github.com/animus-labs/thyroid/internal/domain"
	"github.com/animus-labs/thyroid/internal/evaluation"
	"github.com/animus-labs/thyroid/internal/ml"
	"github.com/animus-labs/thyroid/internal/ml/search"
)

// Trainer runs the model search and the evaluator once per cluster and
// persists each cluster's winner. Any cluster failure aborts the stage.
type Trainer struct {
	cfg    config.TrainerConfig
	logger *slog.Logger
}

func NewTrainer(cfg config.TrainerConfig, logger *slog.Logger) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{cfg: cfg, logger: logger}
}

func (s *Trainer) Run(ctx context.Context, transform domain.DataTransformArtifact) (domain.ModelTrainerArtifact, error) {
	const stage = domain.StageTrain
	fail := func(op string, kind domain.ErrorKind, err error) (domain.ModelTrainerArtifact, error) {
		return domain.ModelTrainerArtifact{}, domain.Wrap(stage, op, kind, err)
	}
	if err := domain.Require(transform); err != nil {
		return fail("require transform", domain.KindData, err)
	}
	splits, err := ClusterSplits(transform)
	if err != nil {
		return fail("list cluster files", domain.KindData, err)
	}
	factory, err := search.NewFactoryFromFile(s.cfg.ModelConfigPath, s.logger)
	if err != nil {
		return fail("load model space", domain.KindConfig, err)
	}
	s.logger.Info("stage started", "stage", stage, "clusters", len(splits), "base_accuracy", s.cfg.BaseAccuracy)

	out := domain.ModelTrainerArtifact{ModelDir: s.cfg.ModelDir}
	for _, sp := range splits {
		if err := ctx.Err(); err != nil {
			return fail("train", domain.KindIO, err)
		}
		report, op, kind, err := s.trainCluster(ctx, factory, sp)
		if err != nil {
			return fail(fmt.Sprintf("%s %s", op, sp.Cluster), kind, err)
		}
		path := ClusterModelPath(s.cfg.ModelDir, s.cfg.ModelFileName, sp.Cluster)
		if err := ml.Save(path, report.Model); err != nil {
			return fail("save model "+sp.Cluster.String(), domain.KindIO, err)
		}
		s.logger.Info("cluster model saved", "stage", stage, "cluster", sp.Cluster.String(),
			"model", report.Name, "train_accuracy", report.TrainAccuracy,
			"test_accuracy", report.TestAccuracy, "model_accuracy", report.ModelAccuracy, "path", path)

		out.ClusterModelPaths = append(out.ClusterModelPaths, path)
		out.TrainAccuracy = append(out.TrainAccuracy, report.TrainAccuracy)
		out.TestAccuracy = append(out.TestAccuracy, report.TestAccuracy)
		out.ModelAccuracy = append(out.ModelAccuracy, report.ModelAccuracy)
	}

	out.Success = true
	out.Message = fmt.Sprintf("trained %d cluster models", len(splits))
	s.logger.Info("stage finished", "stage", stage, "model_accuracy", out.ModelAccuracy)
	return out, nil
}

func (s *Trainer) trainCluster(ctx context.Context, factory *search.Factory, sp ClusterSplit) (evaluation.MetricReport, string, domain.ErrorKind, error) {
	train, err := dataset.ReadLabeledCSV(sp.TrainPath)
	if err != nil {
		return evaluation.MetricReport{}, "read train file", kindForRead(err), err
	}
	test, err := dataset.ReadLabeledCSV(sp.TestPath)
	if err != nil {
		return evaluation.MetricReport{}, "read test file", kindForRead(err), err
	}
	best, searched, err := factory.Run(ctx, train.X, train.Y, s.cfg.BaseAccuracy)
	if err != nil {
		return evaluation.MetricReport{}, "search models", kindForSearch(err), err
	}
	s.logger.Info("best cross-validated model", "cluster", sp.Cluster.String(),
		"slot", best.SlotID, "params", best.BestParams.String(), "cv_accuracy", best.BestScore)

	candidates := make([]evaluation.Candidate, len(searched))
	for i, m := range searched {
		candidates[i] = evaluation.Candidate{Name: m.SlotID + ":" + m.Best.Kind(), Model: m.Best}
	}
	split := evaluation.Split{TrainX: train.X, TrainY: train.Y, TestX: test.X, TestY: test.Y}
	report, ok, err := evaluation.Evaluate(candidates, split, s.cfg.BaseAccuracy, s.logger.With("cluster", sp.Cluster.String()))
	if err != nil {
		return evaluation.MetricReport{}, "evaluate models", domain.KindModel, err
	}
	if !ok {
		return evaluation.MetricReport{}, "evaluate models", domain.KindModel,
			fmt.Errorf("%w %.4f on train/test evaluation", search.ErrNoQualifyingModel, s.cfg.BaseAccuracy)
	}
	return report, "", "", nil
}

func kindForRead(err error) domain.ErrorKind {
	if errors.Is(err, dataset.ErrEmpty) {
		return domain.KindData
	}
	return domain.KindIO
}

func kindForSearch(err error) domain.ErrorKind {
	var verr *config.ValidationError
	if errors.Is(err, ml.ErrUnknownEstimator) || errors.As(err, &verr) {
		return domain.KindConfig
	}
	return domain.KindModel
}
