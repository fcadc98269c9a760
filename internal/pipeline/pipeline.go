// Package pipeline runs the training stages in order for one timestamped run.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/thyroid/internal/config"
	"github.com/animus-labs/thyroid/internal/domain"
	"github.com/animus-labs/thyroid/internal/registry"
	"github.com/animus-labs/thyroid/internal/stage"
	"github.com/animus-labs/thyroid/internal/storage/objectstore"
)

// ErrRunInProgress is returned by Trigger.Train while another run is active.
var ErrRunInProgress = errors.New("a training run is already in progress")

// Recorder persists completed stage artifacts.
type Recorder interface {
	Record(ctx context.Context, runID, runTimestamp string, a domain.Artifact) error
}

// Options carries the optional collaborators of a run. Zero values disable
// uploads and the ledger and open the registry named by the resolver.
type Options struct {
	Logger     *slog.Logger
	Store      objectstore.Store
	Ledger     Recorder
	Registry   *registry.Registry
	HTTPClient *http.Client
}

type Pipeline struct {
	resolver *config.Resolver
	opts     Options
	logger   *slog.Logger
	newRunID func() string
}

func New(resolver *config.Resolver, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{resolver: resolver, opts: opts, logger: logger, newRunID: uuid.NewString}
}

// Run executes Ingest, Validate, Transform, Train, Evaluate and Push. The
// first stage error ends the run; directories written so far are kept.
func (p *Pipeline) Run(ctx context.Context) (domain.FinalArtifact, error) {
	r := p.resolver
	runID := p.newRunID()
	ts := r.Timestamp()
	logger := p.logger.With("run_id", runID, "timestamp", ts)
	logger.Info("pipeline started", "artifact_dir", r.ArtifactDir())
	started := time.Now()

	reg := p.opts.Registry
	if reg == nil {
		reg = registry.New(r.EvaluationConfig().RegistryPath, logger)
	}
	completed := func(a domain.Artifact) {
		logger.Info("stage completed", "stage", a.StageName(), "message", a.Summary())
		if p.opts.Ledger == nil {
			return
		}
		if err := p.opts.Ledger.Record(ctx, runID, ts, a); err != nil {
			logger.Warn("ledger write failed", "stage", a.StageName(), "err", err)
		}
	}
	failed := func(err error) (domain.FinalArtifact, error) {
		logger.Error("pipeline failed", "err", err, "duration", time.Since(started).String())
		return domain.FinalArtifact{}, err
	}

	ingest, err := stage.NewIngestion(r.IngestionConfig(), logger).WithHTTPClient(p.opts.HTTPClient).Run(ctx)
	if err != nil {
		return failed(err)
	}
	completed(ingest)

	validation, err := stage.NewValidation(r.ValidationConfig(), logger).Run(ctx, ingest)
	if err != nil {
		return failed(err)
	}
	completed(validation)

	transform, err := stage.NewTransform(r.TransformConfig(), logger).Run(ctx, ingest, validation)
	if err != nil {
		return failed(err)
	}
	completed(transform)

	trained, err := stage.NewTrainer(r.TrainerConfig(), logger).Run(ctx, transform)
	if err != nil {
		return failed(err)
	}
	completed(trained)

	evaluated, err := stage.NewEvaluation(r.EvaluationConfig(), reg, logger).Run(ctx, transform, trained)
	if err != nil {
		return failed(err)
	}
	completed(evaluated)

	pushed, err := stage.NewPusher(r.PusherConfig(), p.opts.Store, logger).Run(ctx, ingest, transform, evaluated)
	if err != nil {
		return failed(err)
	}
	completed(pushed)

	logger.Info("pipeline finished", "duration", time.Since(started).String(), "descriptor", pushed.DescriptorPath)
	return domain.FinalArtifact{
		RunID:          runID,
		Timestamp:      ts,
		DescriptorPath: pushed.DescriptorPath,
		ExportedPaths:  pushed.ExportedPaths,
		ModelAccuracy:  trained.ModelAccuracy,
		Accepted:       evaluated.Accepted,
	}, nil
}

// Trigger starts one run at a time, each with a fresh timestamp.
type Trigger struct {
	file    config.File
	rootDir string
	opts    Options
	now     func() time.Time

	mu     sync.Mutex
	active bool
}

func NewTrigger(file config.File, rootDir string, opts Options) *Trigger {
	return &Trigger{file: file, rootDir: rootDir, opts: opts, now: time.Now}
}

// Train runs the full pipeline. A call made while a run is active returns
// ErrRunInProgress without waiting.
func (t *Trigger) Train(ctx context.Context) (domain.FinalArtifact, error) {
	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		return domain.FinalArtifact{}, ErrRunInProgress
	}
	t.active = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.active = false
		t.mu.Unlock()
	}()

	resolver, err := config.NewResolver(t.file, t.rootDir, config.NewTimestamp(t.now()))
	if err != nil {
		return domain.FinalArtifact{}, domain.Wrap("pipeline", "resolve config", domain.KindConfig, err)
	}
	return New(resolver, t.opts).Run(ctx)
}

// Running reports whether a run is active.
func (t *Trigger) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
