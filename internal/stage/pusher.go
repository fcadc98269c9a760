package stage

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/animus-labs/thyroid/internal/config"
	"github.com/animus-labs/thyroid/internal/domain"
	"github.com/animus-labs/thyroid/internal/storage/objectstore"
)

// Pusher copies each cluster's promoted model to the export directory,
// optionally uploads it to the object store, and writes the inference
// descriptor.
type Pusher struct {
	cfg    config.PusherConfig
	store  objectstore.Store
	logger *slog.Logger
}

// NewPusher builds the push stage. A nil store disables uploads.
func NewPusher(cfg config.PusherConfig, store objectstore.Store, logger *slog.Logger) *Pusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pusher{cfg: cfg, store: store, logger: logger}
}

func (s *Pusher) Run(ctx context.Context, ingest domain.DataIngestionArtifact, transform domain.DataTransformArtifact, eval domain.ModelEvaluationArtifact) (domain.ModelPusherArtifact, error) {
	const stage = domain.StagePush
	fail := func(op string, kind domain.ErrorKind, err error) (domain.ModelPusherArtifact, error) {
		return domain.ModelPusherArtifact{}, domain.Wrap(stage, op, kind, err)
	}
	for _, a := range []domain.Artifact{ingest, transform, eval} {
		if err := domain.Require(a); err != nil {
			return fail("require "+a.StageName(), domain.KindData, err)
		}
	}
	s.logger.Info("stage started", "stage", stage, "export_dir", s.cfg.ExportDir)

	out := domain.ModelPusherArtifact{ExportDir: s.cfg.ExportDir, DescriptorPath: s.cfg.DescriptorPath}
	upload := s.store != nil && s.cfg.Bucket != ""
	for k, src := range eval.ClusterModelPaths {
		c := domain.ClusterID(k)
		dst := filepath.Join(s.cfg.ExportDir, c.String(), filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return fail("export "+c.String(), domain.KindIO, err)
		}
		out.ExportedPaths = append(out.ExportedPaths, dst)

		if upload {
			key := objectstore.ModelKey(s.cfg.Timestamp, c, dst)
			info, err := objectstore.PutFile(ctx, s.store, s.cfg.Bucket, key, dst, "application/json")
			if err != nil {
				return fail("upload "+c.String(), domain.KindIO, err)
			}
			out.ObjectKeys = append(out.ObjectKeys, key)
			s.logger.Info("model uploaded", "stage", stage, "cluster", c.String(), "bucket", s.cfg.Bucket, "key", key, "etag", info.ETag, "size", info.Size)
		}
		s.logger.Info("model exported", "stage", stage, "cluster", c.String(), "path", dst)
	}

	descriptor := domain.InferenceDescriptor{
		RunTimestamp:     s.cfg.Timestamp,
		TrainFilePath:    ingest.TrainFilePath,
		PreprocessorPath: transform.PreprocessorPath,
		ClusterModelPath: transform.ClusterModelPath,
		ModelPaths:       out.ExportedPaths,
		ObjectKeys:       out.ObjectKeys,
	}
	if upload {
		descriptor.Bucket = s.cfg.Bucket
	}
	if err := domain.WriteDescriptor(s.cfg.DescriptorPath, descriptor); err != nil {
		return fail("write descriptor", domain.KindIO, err)
	}

	out.Success = true
	out.Message = "model push completed"
	s.logger.Info("stage finished", "stage", stage, "descriptor", s.cfg.DescriptorPath, "exported", len(out.ExportedPaths))
	return out, nil
}
