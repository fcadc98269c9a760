package stage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/animus-labs/thyroid/internal/config"
	"github.com/animus-labs/thyroid/internal/dataset"
	"github.com/animus-labs/thyroid/internal/domain"
)

// Ingestion fetches the raw dataset and splits it into train and test files.
type Ingestion struct {
	cfg    config.IngestionConfig
	client *http.Client
	logger *slog.Logger
}

func NewIngestion(cfg config.IngestionConfig, logger *slog.Logger) *Ingestion {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestion{cfg: cfg, client: &http.Client{Timeout: 2 * time.Minute}, logger: logger}
}

// WithHTTPClient replaces the client used for http(s) sources.
func (s *Ingestion) WithHTTPClient(c *http.Client) *Ingestion {
	if c != nil {
		s.client = c
	}
	return s
}

func (s *Ingestion) Run(ctx context.Context) (domain.DataIngestionArtifact, error) {
	const stage = domain.StageIngest
	s.logger.Info("stage started", "stage", stage, "source", s.cfg.DownloadURL)

	raw, err := s.fetch(ctx)
	if err != nil {
		return domain.DataIngestionArtifact{}, domain.Wrap(stage, "fetch dataset", domain.KindIO, err)
	}
	if len(raw.Rows) == 0 {
		return domain.DataIngestionArtifact{}, domain.Wrap(stage, "fetch dataset", domain.KindData, dataset.ErrEmpty)
	}
	rawPath := filepath.Join(s.cfg.RawDataDir, config.RawDataFileName)
	if err := dataset.WriteCSVFile(rawPath, raw); err != nil {
		return domain.DataIngestionArtifact{}, domain.Wrap(stage, "write raw data", domain.KindIO, err)
	}

	train, test, err := dataset.TrainTestSplit(raw, s.cfg.TestSize, s.cfg.Seed)
	if err != nil {
		return domain.DataIngestionArtifact{}, domain.Wrap(stage, "split", domain.KindData, err)
	}
	trainPath := filepath.Join(s.cfg.IngestedTrainDir, config.RawDataFileName)
	testPath := filepath.Join(s.cfg.IngestedTestDir, config.RawDataFileName)
	if err := dataset.WriteCSVFile(trainPath, train); err != nil {
		return domain.DataIngestionArtifact{}, domain.Wrap(stage, "write train split", domain.KindIO, err)
	}
	if err := dataset.WriteCSVFile(testPath, test); err != nil {
		return domain.DataIngestionArtifact{}, domain.Wrap(stage, "write test split", domain.KindIO, err)
	}

	s.logger.Info("stage finished", "stage", stage, "rows", len(raw.Rows),
		"train_rows", len(train.Rows), "test_rows", len(test.Rows))
	return domain.DataIngestionArtifact{
		Success:       true,
		Message:       "data ingestion completed",
		RawFilePath:   rawPath,
		TrainFilePath: trainPath,
		TestFilePath:  testPath,
	}, nil
}

func (s *Ingestion) fetch(ctx context.Context) (dataset.Table, error) {
	src := s.cfg.DownloadURL
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return dataset.ReadCSVFile(strings.TrimPrefix(src, "file://"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return dataset.Table{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return dataset.Table{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return dataset.Table{}, fmt.Errorf("GET %s: %s", src, resp.Status)
	}
	return dataset.ReadCSV(resp.Body)
}
