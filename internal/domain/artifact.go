package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Artifact is the output contract of one pipeline stage.
type Artifact interface {
	StageName() string
	Succeeded() bool
	Summary() string
}

// Require returns an error when a predecessor artifact is missing or did not
// succeed. Downstream stages call it before reading any payload field.
func Require(a Artifact) error {
	if a == nil {
		return errors.New("predecessor artifact is missing")
	}
	if !a.Succeeded() {
		msg := strings.TrimSpace(a.Summary())
		if msg == "" {
			msg = "not successful"
		}
		return fmt.Errorf("%s artifact: %s", a.StageName(), msg)
	}
	return nil
}

type DataIngestionArtifact struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	RawFilePath   string `json:"raw_file_path"`
	TrainFilePath string `json:"train_file_path"`
	TestFilePath  string `json:"test_file_path"`
}

func (a DataIngestionArtifact) StageName() string { return StageIngest }
func (a DataIngestionArtifact) Succeeded() bool   { return a.Success }
func (a DataIngestionArtifact) Summary() string   { return a.Message }

type DataValidationArtifact struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	SchemaFilePath string `json:"schema_file_path"`
	ReportFilePath string `json:"report_file_path"`
}

func (a DataValidationArtifact) StageName() string { return StageValidate }
func (a DataValidationArtifact) Succeeded() bool   { return a.Success }
func (a DataValidationArtifact) Summary() string   { return a.Message }

type DataTransformArtifact struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	TrainDir         string `json:"transform_train_dir"`
	TestDir          string `json:"transform_test_dir"`
	NumClusters      int    `json:"n_clusters"`
	PreprocessorPath string `json:"preprocessor_path"`
	ClusterModelPath string `json:"cluster_model_path"`
}

func (a DataTransformArtifact) StageName() string { return StageTransform }
func (a DataTransformArtifact) Succeeded() bool   { return a.Success }
func (a DataTransformArtifact) Summary() string   { return a.Message }

// ModelTrainerArtifact carries one entry per cluster in every slice, indexed
// by cluster id.
type ModelTrainerArtifact struct {
	Success           bool      `json:"success"`
	Message           string    `json:"message"`
	ModelDir          string    `json:"model_dir"`
	ClusterModelPaths []string  `json:"cluster_model_paths"`
	TrainAccuracy     []float64 `json:"train_accuracy"`
	TestAccuracy      []float64 `json:"test_accuracy"`
	ModelAccuracy     []float64 `json:"model_accuracy"`
}

func (a ModelTrainerArtifact) StageName() string { return StageTrain }
func (a ModelTrainerArtifact) Succeeded() bool   { return a.Success }
func (a ModelTrainerArtifact) Summary() string   { return a.Message }

type ModelEvaluationArtifact struct {
	Success           bool     `json:"success"`
	Message           string   `json:"message"`
	RegistryPath      string   `json:"registry_path"`
	ClusterModelPaths []string `json:"cluster_model_paths"`
	Accepted          []bool   `json:"accepted"`
}

func (a ModelEvaluationArtifact) StageName() string { return StageEvaluate }
func (a ModelEvaluationArtifact) Succeeded() bool   { return a.Success }
func (a ModelEvaluationArtifact) Summary() string   { return a.Message }

type ModelPusherArtifact struct {
	Success        bool     `json:"success"`
	Message        string   `json:"message"`
	ExportDir      string   `json:"export_dir"`
	ExportedPaths  []string `json:"exported_paths"`
	ObjectKeys     []string `json:"object_keys,omitempty"`
	DescriptorPath string   `json:"descriptor_path"`
}

func (a ModelPusherArtifact) StageName() string { return StagePush }
func (a ModelPusherArtifact) Succeeded() bool   { return a.Success }
func (a ModelPusherArtifact) Summary() string   { return a.Message }

// FinalArtifact summarizes one completed pipeline run.
type FinalArtifact struct {
	RunID          string    `json:"run_id"`
	Timestamp      string    `json:"timestamp"`
	DescriptorPath string    `json:"descriptor_path"`
	ExportedPaths  []string  `json:"exported_paths"`
	ModelAccuracy  []float64 `json:"model_accuracy"`
	Accepted       []bool    `json:"accepted"`
}
