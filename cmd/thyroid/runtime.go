package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/animus-labs/thyroid/internal/config"
	"github.com/animus-labs/thyroid/internal/ledger"
	"github.com/animus-labs/thyroid/internal/pipeline"
	"github.com/animus-labs/thyroid/internal/platform/env"
	platformstore "github.com/animus-labs/thyroid/internal/platform/objectstore"
	"github.com/animus-labs/thyroid/internal/platform/postgres"
	"github.com/animus-labs/thyroid/internal/registry"
	"github.com/animus-labs/thyroid/internal/storage/objectstore"
)

type globalOptions struct {
	configPath string
	rootDir    string
}

func (o globalOptions) resolve() (configPath, rootDir string) {
	rootDir = o.rootDir
	if rootDir == "" {
		rootDir = env.String("THYROID_ROOT_DIR", ".")
	}
	configPath = o.configPath
	if configPath == "" {
		configPath = env.String("THYROID_CONFIG", filepath.Join(rootDir, config.DefaultConfigPath))
	}
	return configPath, rootDir
}

func newLogger(w io.Writer) (*slog.Logger, error) {
	level, err := env.LogLevel("THYROID_LOG_LEVEL", slog.LevelInfo)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// runtime holds what every command shares: the loaded config, the registry
// and the optional object store and ledger database.
type runtime struct {
	logger  *slog.Logger
	file    config.File
	rootDir string
	reg     *registry.Registry
	store   objectstore.Store
	ledger  *ledger.Ledger
	db      *sql.DB
}

// openRuntime loads the config. withBackends also connects the object store
// and ledger when their environment is set.
func openRuntime(ctx context.Context, opts globalOptions, withBackends bool) (*runtime, error) {
	logger, err := newLogger(os.Stdout)
	if err != nil {
		return nil, err
	}
	configPath, rootDir := opts.resolve()
	file, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	rt := &runtime{logger: logger, file: file, rootDir: rootDir}
	// the registry path does not depend on the run timestamp
	resolver, err := config.NewResolver(file, rootDir, config.NewTimestamp(time.Now()))
	if err != nil {
		return nil, err
	}
	rt.reg = registry.New(resolver.EvaluationConfig().RegistryPath, logger)
	if !withBackends {
		return rt, nil
	}

	if rt.store, err = openStore(ctx, logger, file.ModelPusher.Bucket); err != nil {
		return nil, err
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("database config: %w", err)
	}
	if dbCfg.Enabled() {
		db, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			return nil, fmt.Errorf("database unavailable: %w", err)
		}
		l := ledger.New(db)
		if err := l.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		rt.db, rt.ledger = db, l
		logger.Info("run ledger enabled")
	}
	return rt, nil
}

// openStore connects to MinIO when THYROID_MINIO_ENDPOINT is set and
// returns a nil Store otherwise. A non-empty bucket overrides the env bucket.
func openStore(ctx context.Context, logger *slog.Logger, bucket string) (objectstore.Store, error) {
	storeCfg, err := platformstore.ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("object store config: %w", err)
	}
	if !storeCfg.Enabled() {
		return nil, nil
	}
	if b := strings.TrimSpace(bucket); b != "" {
		storeCfg.Bucket = b
	}
	startupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, err := objectstore.NewMinioStore(startupCtx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("object store unavailable: %w", err)
	}
	logger.Info("object store enabled", "endpoint", storeCfg.Endpoint, "bucket", storeCfg.Bucket)
	return store, nil
}

func (rt *runtime) trigger() *pipeline.Trigger {
	opts := pipeline.Options{Logger: rt.logger, Registry: rt.reg, Store: rt.store}
	if rt.ledger != nil {
		opts.Ledger = rt.ledger
	}
	return pipeline.NewTrigger(rt.file, rt.rootDir, opts)
}

func (rt *runtime) Close() {
	if rt.db != nil {
		_ = rt.db.Close()
	}
}
