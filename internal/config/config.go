// Package config loads the pipeline configuration, the dataset schema and the
// model search space, and resolves per-run artifact locations.
package config

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	DefaultConfigPath = "config/config.yaml"
	TimestampLayout   = "2006-01-02-15-04-05"
)

// File mirrors config/config.yaml.
type File struct {
	TrainingPipeline TrainingPipelineSection `yaml:"training_pipeline_config"`
	DataIngestion    DataIngestionSection    `yaml:"data_ingestion_config"`
	DataValidation   DataValidationSection   `yaml:"data_validation_config"`
	DataTransform    DataTransformSection    `yaml:"data_transform_config"`
	ModelTrainer     ModelTrainerSection     `yaml:"model_trainer_config"`
	ModelEvaluation  ModelEvaluationSection  `yaml:"model_evaluation_config"`
	ModelPusher      ModelPusherSection      `yaml:"model_pusher_config"`
}

type TrainingPipelineSection struct {
	PipelineName string `yaml:"pipeline_name"`
	ArtifactDir  string `yaml:"artifact_dir"`
}

type DataIngestionSection struct {
	DatasetDownloadURL string  `yaml:"dataset_download_url"`
	RawDataDir         string  `yaml:"raw_data_dir"`
	IngestedDir        string  `yaml:"ingested_dir"`
	IngestedTrainDir   string  `yaml:"ingested_train_dir"`
	IngestedTestDir    string  `yaml:"ingested_test_dir"`
	TestSize           float64 `yaml:"test_size"`
	RandomSeed         *int64  `yaml:"random_seed"`
}

type DataValidationSection struct {
	SchemaDir      string `yaml:"schema_dir"`
	SchemaFile     string `yaml:"schema_file"`
	ReportFileName string `yaml:"report_file_name"`
}

type DataTransformSection struct {
	TransformDir               string                        `yaml:"transform_dir"`
	TrainDir                   string                        `yaml:"train_dir"`
	TestDir                    string                        `yaml:"test_dir"`
	PreprocessedObjectDir      string                        `yaml:"preprocessed_object_dir"`
	PreprocessedObjectFileName string                        `yaml:"preprocessed_object_file_name"`
	ClusterModelDir            string                        `yaml:"cluster_model_dir"`
	ClusterModelName           string                        `yaml:"cluster_model_name"`
	NumClusters                int                           `yaml:"n_clusters"`
	DropColumns                []string                      `yaml:"drop_columns"`
	OneHotColumns              []string                      `yaml:"one_hot_columns"`
	ValueMaps                  map[string]map[string]float64 `yaml:"value_maps"`
	ImputerNeighbors           int                           `yaml:"imputer_neighbors"`
	Oversample                 *bool                         `yaml:"oversample"`
}

type ModelTrainerSection struct {
	ModelFileName       string  `yaml:"model_file_name"`
	BaseAccuracy        float64 `yaml:"base_accuracy"`
	ModelConfigDir      string  `yaml:"model_config_dir"`
	ModelConfigFileName string  `yaml:"model_config_file_name"`
}

type ModelEvaluationSection struct {
	FileName string `yaml:"model_evaluation_file_name"`
}

type ModelPusherSection struct {
	ExportDir string `yaml:"model_export_dir"`
	Bucket    string `yaml:"bucket"`
}

// Load reads and validates the pipeline configuration file.
func Load(path string) (File, error) {
	var f File
	if err := decodeFile(path, &f); err != nil {
		return File{}, err
	}
	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func (f *File) applyDefaults() {
	if f.DataIngestion.TestSize == 0 {
		f.DataIngestion.TestSize = 0.2
	}
	if f.DataIngestion.RandomSeed == nil {
		seed := int64(42)
		f.DataIngestion.RandomSeed = &seed
	}
	if f.DataTransform.NumClusters == 0 {
		f.DataTransform.NumClusters = 2
	}
	if f.DataTransform.ImputerNeighbors == 0 {
		f.DataTransform.ImputerNeighbors = 3
	}
	if f.DataTransform.Oversample == nil {
		on := true
		f.DataTransform.Oversample = &on
	}
	if f.ModelEvaluation.FileName == "" {
		f.ModelEvaluation.FileName = "model_evaluation.yaml"
	}
	if f.DataValidation.ReportFileName == "" {
		f.DataValidation.ReportFileName = "report.json"
	}
}

func (f File) Validate() error {
	verr := &ValidationError{}
	required := []struct {
		key, value string
	}{
		{"training_pipeline_config.pipeline_name", f.TrainingPipeline.PipelineName},
		{"training_pipeline_config.artifact_dir", f.TrainingPipeline.ArtifactDir},
		{"data_ingestion_config.dataset_download_url", f.DataIngestion.DatasetDownloadURL},
		{"data_ingestion_config.raw_data_dir", f.DataIngestion.RawDataDir},
		{"data_ingestion_config.ingested_dir", f.DataIngestion.IngestedDir},
		{"data_ingestion_config.ingested_train_dir", f.DataIngestion.IngestedTrainDir},
		{"data_ingestion_config.ingested_test_dir", f.DataIngestion.IngestedTestDir},
		{"data_validation_config.schema_dir", f.DataValidation.SchemaDir},
		{"data_validation_config.schema_file", f.DataValidation.SchemaFile},
		{"data_transform_config.transform_dir", f.DataTransform.TransformDir},
		{"data_transform_config.train_dir", f.DataTransform.TrainDir},
		{"data_transform_config.test_dir", f.DataTransform.TestDir},
		{"data_transform_config.preprocessed_object_dir", f.DataTransform.PreprocessedObjectDir},
		{"data_transform_config.preprocessed_object_file_name", f.DataTransform.PreprocessedObjectFileName},
		{"data_transform_config.cluster_model_dir", f.DataTransform.ClusterModelDir},
		{"data_transform_config.cluster_model_name", f.DataTransform.ClusterModelName},
		{"model_trainer_config.model_file_name", f.ModelTrainer.ModelFileName},
		{"model_trainer_config.model_config_dir", f.ModelTrainer.ModelConfigDir},
		{"model_trainer_config.model_config_file_name", f.ModelTrainer.ModelConfigFileName},
		{"model_pusher_config.model_export_dir", f.ModelPusher.ExportDir},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			verr.Add(r.key + " is required")
		}
	}

	if u := strings.TrimSpace(f.DataIngestion.DatasetDownloadURL); u != "" && strings.Contains(u, "://") {
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https" && parsed.Scheme != "file") {
			verr.Add("data_ingestion_config.dataset_download_url must be an http(s) or file url or a path")
		}
	}
	if ts := f.DataIngestion.TestSize; ts <= 0 || ts >= 1 {
		verr.Add("data_ingestion_config.test_size must be in (0, 1)")
	}
	if f.DataTransform.NumClusters < 1 {
		verr.Add("data_transform_config.n_clusters must be >= 1")
	}
	if f.DataTransform.ImputerNeighbors < 1 {
		verr.Add("data_transform_config.imputer_neighbors must be >= 1")
	}
	if ba := f.ModelTrainer.BaseAccuracy; ba < 0 || ba > 1 {
		verr.Add("model_trainer_config.base_accuracy must be in [0, 1]")
	}
	return verr.OrNil()
}
