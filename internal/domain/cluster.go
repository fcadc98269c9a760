package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ClusterID identifies one partition produced by the clustering model.
type ClusterID int

func (c ClusterID) String() string {
	return "cluster" + strconv.Itoa(int(c))
}

// ParseClusterID accepts "cluster3" or "3".
func ParseClusterID(s string) (ClusterID, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "cluster")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid cluster id %q", s)
	}
	return ClusterID(n), nil
}

// TrainFileName and TestFileName name the per-cluster transformed splits.
func TrainFileName(c ClusterID) string { return fmt.Sprintf("train_%s.csv", c) }
func TestFileName(c ClusterID) string  { return fmt.Sprintf("test_%s.csv", c) }
