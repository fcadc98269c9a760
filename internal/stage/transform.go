package stage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/animus-labs/thyroid/internal/config"
	"github.com/animus-labs/thyroid/internal/dataset"
	"github.com/animus-labs/thyroid/internal/domain"
	"github.com/animus-labs/thyroid/internal/ml"
	"github.com/animus-labs/thyroid/internal/preprocess"
)

// Transform encodes the ingested splits, clusters the training rows and
// writes one train and one test file per cluster id.
type Transform struct {
	cfg    config.TransformConfig
	logger *slog.Logger
}

func NewTransform(cfg config.TransformConfig, logger *slog.Logger) *Transform {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transform{cfg: cfg, logger: logger}
}

func (s *Transform) Run(ctx context.Context, ingest domain.DataIngestionArtifact, validation domain.DataValidationArtifact) (domain.DataTransformArtifact, error) {
	const stage = domain.StageTransform
	fail := func(op string, kind domain.ErrorKind, err error) (domain.DataTransformArtifact, error) {
		return domain.DataTransformArtifact{}, domain.Wrap(stage, op, kind, err)
	}
	if err := domain.Require(ingest); err != nil {
		return fail("require ingestion", domain.KindData, err)
	}
	if err := domain.Require(validation); err != nil {
		return fail("require validation", domain.KindData, err)
	}
	s.logger.Info("stage started", "stage", stage, "clusters", s.cfg.NumClusters)

	schema, err := config.LoadSchema(validation.SchemaFilePath)
	if err != nil {
		return fail("load schema", domain.KindConfig, err)
	}
	train, err := dataset.ReadCSVFile(ingest.TrainFilePath)
	if err != nil {
		return fail("read train split", domain.KindIO, err)
	}
	test, err := dataset.ReadCSVFile(ingest.TestFilePath)
	if err != nil {
		return fail("read test split", domain.KindIO, err)
	}

	pre, err := preprocess.New(preprocess.Options{
		DropColumns:      s.cfg.DropColumns,
		OneHotColumns:    s.cfg.OneHotColumns,
		ValueMaps:        s.cfg.ValueMaps,
		Target:           schema.TargetColumn,
		ImputerNeighbors: s.cfg.ImputerNeighbors,
	})
	if err != nil {
		return fail("build preprocessor", domain.KindConfig, err)
	}
	trainRows, trainY, err := pre.FitTransform(train)
	if err != nil {
		return fail("preprocess train split", domain.KindData, err)
	}
	testRows, testY, err := pre.Transform(test)
	if err != nil {
		return fail("preprocess test split", domain.KindData, err)
	}
	if testY == nil {
		return fail("preprocess test split", domain.KindData, fmt.Errorf("test split has no %q column", schema.TargetColumn))
	}
	if s.cfg.Oversample {
		before := len(trainRows)
		trainRows, trainY = preprocess.Oversample(trainRows, trainY, s.cfg.Seed)
		s.logger.Info("train split oversampled", "stage", stage, "rows_before", before, "rows_after", len(trainRows))
	}
	if err := pre.Save(s.cfg.PreprocessorPath); err != nil {
		return fail("save preprocessor", domain.KindIO, err)
	}

	trainSet := pre.Labeled(trainRows, trainY)
	testSet := pre.Labeled(testRows, testY)
	if trainSet.X == nil {
		return fail("cluster", domain.KindData, dataset.ErrEmpty)
	}
	km, err := ml.NewKMeans(map[string]any{"n_clusters": s.cfg.NumClusters, "random_state": s.cfg.Seed})
	if err != nil {
		return fail("build cluster model", domain.KindConfig, err)
	}
	trainClusters, err := km.Fit(trainSet.X)
	if err != nil {
		return fail("fit cluster model", domain.KindModel, err)
	}
	var testClusters []int
	if testSet.X != nil {
		if testClusters, err = km.Predict(testSet.X); err != nil {
			return fail("assign test clusters", domain.KindModel, err)
		}
	}
	if err := ml.Save(s.cfg.ClusterModelPath, km); err != nil {
		return fail("save cluster model", domain.KindIO, err)
	}

	trainIdx := groupByCluster(trainClusters, s.cfg.NumClusters)
	testIdx := groupByCluster(testClusters, s.cfg.NumClusters)
	for k := 0; k < s.cfg.NumClusters; k++ {
		c := domain.ClusterID(k)
		trainPath := filepath.Join(s.cfg.TrainDir, domain.TrainFileName(c))
		testPath := filepath.Join(s.cfg.TestDir, domain.TestFileName(c))
		if err := dataset.WriteLabeledCSV(trainPath, trainSet.Subset(trainIdx[k])); err != nil {
			return fail("write cluster train file", domain.KindIO, err)
		}
		if err := dataset.WriteLabeledCSV(testPath, subsetOrEmpty(testSet, testIdx[k])); err != nil {
			return fail("write cluster test file", domain.KindIO, err)
		}
		s.logger.Info("cluster written", "stage", stage, "cluster", c.String(),
			"train_rows", len(trainIdx[k]), "test_rows", len(testIdx[k]))
	}

	s.logger.Info("stage finished", "stage", stage, "features", len(pre.FeatureColumns))
	return domain.DataTransformArtifact{
		Success:          true,
		Message:          "data transform completed",
		TrainDir:         s.cfg.TrainDir,
		TestDir:          s.cfg.TestDir,
		NumClusters:      s.cfg.NumClusters,
		PreprocessorPath: s.cfg.PreprocessorPath,
		ClusterModelPath: s.cfg.ClusterModelPath,
	}, nil
}

func groupByCluster(labels []int, k int) [][]int {
	out := make([][]int, k)
	for i, c := range labels {
		out[c] = append(out[c], i)
	}
	return out
}

func subsetOrEmpty(l dataset.Labeled, idx []int) dataset.Labeled {
	if l.X == nil {
		return dataset.Labeled{Columns: l.Columns, Target: l.Target}
	}
	return l.Subset(idx)
}
