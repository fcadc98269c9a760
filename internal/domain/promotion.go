package domain

// HistoryEntry records a model path that was superseded during the run
// identified by Timestamp.
type HistoryEntry struct {
	Timestamp string `yaml:"timestamp" json:"timestamp"`
	ModelPath string `yaml:"model_path" json:"model_path"`
}

// PromotionRecord is the persisted best-model state of one cluster.
type PromotionRecord struct {
	Cluster       ClusterID      `yaml:"cluster" json:"cluster"`
	BestModelPath string         `yaml:"best_model_path" json:"best_model_path"`
	UpdatedAt     string         `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
	History       []HistoryEntry `yaml:"history,omitempty" json:"history,omitempty"`
}
