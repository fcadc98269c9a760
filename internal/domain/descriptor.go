package domain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// InferenceDescriptor names everything the serve path needs to label new
// records with the models exported by one run.
type InferenceDescriptor struct {
	RunTimestamp     string   `json:"run_timestamp"`
	TrainFilePath    string   `json:"train_file_path"`
	PreprocessorPath string   `json:"preprocessor_path"`
	ClusterModelPath string   `json:"cluster_model_path"`
	ModelPaths       []string `json:"model_paths"`
	Bucket           string   `json:"bucket,omitempty"`
	ObjectKeys       []string `json:"object_keys,omitempty"`
}

func (d InferenceDescriptor) Validate() error {
	switch {
	case d.PreprocessorPath == "":
		return fmt.Errorf("descriptor: preprocessor_path is required")
	case d.ClusterModelPath == "":
		return fmt.Errorf("descriptor: cluster_model_path is required")
	case len(d.ModelPaths) == 0:
		return fmt.Errorf("descriptor: model_paths is empty")
	}
	return nil
}

func WriteDescriptor(path string, d InferenceDescriptor) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func ReadDescriptor(path string) (InferenceDescriptor, error) {
	var d InferenceDescriptor
	data, err := os.ReadFile(path)
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("decode descriptor %s: %w", path, err)
	}
	return d, d.Validate()
}
