// Package stage implements the pipeline stages. Every stage checks its
// predecessors' artifacts, does its work under a timestamped directory and
// returns its own artifact or a *domain.StageError.
package stage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/animus-labs/thyroid/internal/domain"
)

var (
	// ErrClusterMismatch is returned when the per-cluster train and test
	// files do not cover the same cluster ids.
	ErrClusterMismatch = errors.New("train and test cluster files differ")
	// ErrValidationFailed is returned when ingested data does not match the schema.
	ErrValidationFailed = errors.New("data validation failed")
)

// ClusterSplit locates the transformed data of one cluster.
type ClusterSplit struct {
	Cluster   domain.ClusterID
	TrainPath string
	TestPath  string
}

var clusterFilePattern = regexp.MustCompile(`^(train|test)_cluster(\d+)\.csv$`)

// ClusterSplits lists the per-cluster files of a transform artifact ordered
// by cluster id. Both sides must hold exactly clusters 0..K-1.
func ClusterSplits(a domain.DataTransformArtifact) ([]ClusterSplit, error) {
	train, err := clusterIDs(a.TrainDir, "train")
	if err != nil {
		return nil, err
	}
	test, err := clusterIDs(a.TestDir, "test")
	if err != nil {
		return nil, err
	}
	if len(train) != len(test) {
		return nil, fmt.Errorf("%w: %d train files, %d test files", ErrClusterMismatch, len(train), len(test))
	}
	if a.NumClusters > 0 && len(train) != a.NumClusters {
		return nil, fmt.Errorf("%w: found %d cluster files, transform produced %d clusters", ErrClusterMismatch, len(train), a.NumClusters)
	}
	if len(train) == 0 {
		return nil, fmt.Errorf("no cluster files in %s", a.TrainDir)
	}
	out := make([]ClusterSplit, len(train))
	for k := range out {
		c := domain.ClusterID(k)
		if !train[c] || !test[c] {
			return nil, fmt.Errorf("%w: %s is missing a train or test file", ErrClusterMismatch, c)
		}
		out[k] = ClusterSplit{
			Cluster:   c,
			TrainPath: filepath.Join(a.TrainDir, domain.TrainFileName(c)),
			TestPath:  filepath.Join(a.TestDir, domain.TestFileName(c)),
		}
	}
	return out, nil
}

func clusterIDs(dir, prefix string) (map[domain.ClusterID]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := map[domain.ClusterID]bool{}
	for _, e := range entries {
		m := clusterFilePattern.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil || m[1] != prefix {
			continue
		}
		n, _ := strconv.Atoi(m[2])
		out[domain.ClusterID(n)] = true
	}
	return out, nil
}

// ClusterModelPath is <model dir>/clusterN/<file name>.
func ClusterModelPath(modelDir, fileName string, c domain.ClusterID) string {
	return filepath.Join(modelDir, c.String(), fileName)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
