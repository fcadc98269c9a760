package config

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

const (
	dataIngestionDir   = "data_ingestion"
	dataValidationDir  = "data_validation"
	dataTransformDir   = "data_transform"
	modelTrainerDir    = "model_trainer"
	modelEvaluationDir = "model_evaluation"
	modelPusherDir     = "model_pusher"

	// RawDataFileName is the file name of the downloaded and ingested dataset.
	RawDataFileName = "thyroid_classification.csv"
	// DescriptorFileName is the inference descriptor written by the push stage.
	DescriptorFileName = "descriptor.json"
)

type IngestionConfig struct {
	DownloadURL      string
	RawDataDir       string
	IngestedTrainDir string
	IngestedTestDir  string
	TestSize         float64
	Seed             int64
}

type ValidationConfig struct {
	SchemaFilePath string
	ReportFilePath string
}

type TransformConfig struct {
	TrainDir         string
	TestDir          string
	PreprocessorPath string
	ClusterModelPath string
	NumClusters      int
	DropColumns      []string
	OneHotColumns    []string
	ValueMaps        map[string]map[string]float64
	ImputerNeighbors int
	Oversample       bool
	Seed             int64
}

type TrainerConfig struct {
	ModelDir        string
	ModelFileName   string
	BaseAccuracy    float64
	ModelConfigPath string
}

type EvaluationConfig struct {
	RegistryPath string
	Timestamp    string
}

type PusherConfig struct {
	ExportDir      string
	Bucket         string
	DescriptorPath string
	Timestamp      string
}

// Resolver turns the loaded configuration into per-stage configs rooted at one
// run timestamp, so every stage of a run writes below the same artifact root.
type Resolver struct {
	file      File
	rootDir   string
	timestamp string
}

func NewResolver(file File, rootDir, timestamp string) (*Resolver, error) {
	if strings.TrimSpace(rootDir) == "" {
		return nil, errors.New("root dir is required")
	}
	if _, err := time.Parse(TimestampLayout, timestamp); err != nil {
		return nil, errors.New("timestamp must use layout " + TimestampLayout)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{file: file, rootDir: rootDir, timestamp: timestamp}, nil
}

// NewTimestamp formats t with TimestampLayout.
func NewTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

func (r *Resolver) Timestamp() string { return r.timestamp }

func (r *Resolver) File() File { return r.file }

// ArtifactDir is <root>/<pipeline_name>/<artifact_dir>.
func (r *Resolver) ArtifactDir() string {
	tp := r.file.TrainingPipeline
	return filepath.Join(r.rootDir, tp.PipelineName, tp.ArtifactDir)
}

func (r *Resolver) stageDir(stage string) string {
	return filepath.Join(r.ArtifactDir(), stage, r.timestamp)
}

func (r *Resolver) IngestionConfig() IngestionConfig {
	sec := r.file.DataIngestion
	base := r.stageDir(dataIngestionDir)
	ingested := filepath.Join(base, sec.IngestedDir)

	downloadURL := sec.DatasetDownloadURL
	if !strings.Contains(downloadURL, "://") && !filepath.IsAbs(downloadURL) {
		downloadURL = filepath.Join(r.rootDir, downloadURL)
	}
	seed := int64(42)
	if sec.RandomSeed != nil {
		seed = *sec.RandomSeed
	}
	return IngestionConfig{
		DownloadURL:      downloadURL,
		RawDataDir:       filepath.Join(base, sec.RawDataDir),
		IngestedTrainDir: filepath.Join(ingested, sec.IngestedTrainDir),
		IngestedTestDir:  filepath.Join(ingested, sec.IngestedTestDir),
		TestSize:         sec.TestSize,
		Seed:             seed,
	}
}

func (r *Resolver) ValidationConfig() ValidationConfig {
	sec := r.file.DataValidation
	return ValidationConfig{
		SchemaFilePath: filepath.Join(r.rootDir, sec.SchemaDir, sec.SchemaFile),
		ReportFilePath: filepath.Join(r.stageDir(dataValidationDir), sec.ReportFileName),
	}
}

func (r *Resolver) TransformConfig() TransformConfig {
	sec := r.file.DataTransform
	base := r.stageDir(dataTransformDir)
	transformed := filepath.Join(base, sec.TransformDir)
	oversample := true
	if sec.Oversample != nil {
		oversample = *sec.Oversample
	}
	seed := int64(42)
	if r.file.DataIngestion.RandomSeed != nil {
		seed = *r.file.DataIngestion.RandomSeed
	}
	return TransformConfig{
		TrainDir:         filepath.Join(transformed, sec.TrainDir),
		TestDir:          filepath.Join(transformed, sec.TestDir),
		PreprocessorPath: filepath.Join(base, sec.PreprocessedObjectDir, sec.PreprocessedObjectFileName),
		ClusterModelPath: filepath.Join(base, sec.ClusterModelDir, sec.ClusterModelName),
		NumClusters:      sec.NumClusters,
		DropColumns:      append([]string(nil), sec.DropColumns...),
		OneHotColumns:    append([]string(nil), sec.OneHotColumns...),
		ValueMaps:        sec.ValueMaps,
		ImputerNeighbors: sec.ImputerNeighbors,
		Oversample:       oversample,
		Seed:             seed,
	}
}

func (r *Resolver) TrainerConfig() TrainerConfig {
	sec := r.file.ModelTrainer
	return TrainerConfig{
		ModelDir:        r.stageDir(modelTrainerDir),
		ModelFileName:   sec.ModelFileName,
		BaseAccuracy:    sec.BaseAccuracy,
		ModelConfigPath: filepath.Join(r.rootDir, sec.ModelConfigDir, sec.ModelConfigFileName),
	}
}

// EvaluationConfig points at the cross-run registry file, which is not
// namespaced by the run timestamp.
func (r *Resolver) EvaluationConfig() EvaluationConfig {
	return EvaluationConfig{
		RegistryPath: filepath.Join(r.ArtifactDir(), modelEvaluationDir, r.file.ModelEvaluation.FileName),
		Timestamp:    r.timestamp,
	}
}

func (r *Resolver) PusherConfig() PusherConfig {
	sec := r.file.ModelPusher
	return PusherConfig{
		ExportDir:      filepath.Join(r.rootDir, sec.ExportDir, r.timestamp),
		Bucket:         strings.TrimSpace(sec.Bucket),
		DescriptorPath: filepath.Join(r.stageDir(modelPusherDir), DescriptorFileName),
		Timestamp:      r.timestamp,
	}
}
