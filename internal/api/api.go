// Package api exposes the training trigger, batch prediction and the
// promotion registry over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/animus-labs/thyroid/internal/domain"
	"github.com/animus-labs/thyroid/internal/inference"
	"github.com/animus-labs/thyroid/internal/pipeline"
	"github.com/animus-labs/thyroid/internal/platform/httpserver"
	"github.com/animus-labs/thyroid/internal/storage/objectstore"
)

const maxPredictBody = 8 << 20

type Trainer interface {
	Train(ctx context.Context) (domain.FinalArtifact, error)
}

type Predictor interface {
	PredictRecords(records []map[string]string) ([]inference.Prediction, error)
}

type RecordLister interface {
	Records() ([]domain.PromotionRecord, error)
}

type Config struct {
	Service  string
	Trainer  Trainer
	Registry RecordLister
	// Store restores exported models missing on local disk. Optional.
	Store objectstore.Store
	// LoadPredictor opens the descriptor written by a run.
	LoadPredictor func(descriptorPath string) (Predictor, error)
	// DescriptorPath is loaded at startup when set.
	DescriptorPath  string
	ReadinessChecks []httpserver.ReadinessCheck
	Logger          *slog.Logger
}

type Server struct {
	cfg    Config
	logger *slog.Logger

	mu             sync.RWMutex
	predictor      Predictor
	descriptorPath string
}

func New(cfg Config) (*Server, error) {
	if cfg.Service == "" {
		cfg.Service = "thyroid"
	}
	if cfg.Trainer == nil || cfg.Registry == nil {
		return nil, errors.New("trainer and registry are required")
	}
	if cfg.LoadPredictor == nil {
		store := cfg.Store
		cfg.LoadPredictor = func(path string) (Predictor, error) {
			return inference.LoadWithStore(context.Background(), path, store)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger}
	if cfg.DescriptorPath != "" {
		if err := s.loadPredictor(cfg.DescriptorPath); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Handler returns the routed handler wrapped in the platform middleware.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", httpserver.Healthz(s.cfg.Service)).Methods(http.MethodGet)
	checks := append([]httpserver.ReadinessCheck{{
		Name: "registry",
		Check: func(context.Context) error {
			_, err := s.cfg.Registry.Records()
			return err
		},
	}}, s.cfg.ReadinessChecks...)
	r.HandleFunc("/readyz", httpserver.ReadyzWithChecks(s.cfg.Service, checks...)).Methods(http.MethodGet)
	r.HandleFunc("/train", s.train).Methods(http.MethodPost)
	r.HandleFunc("/predict", s.predict).Methods(http.MethodPost)
	r.HandleFunc("/registry", s.registry).Methods(http.MethodGet)
	return httpserver.Wrap(s.logger, s.cfg.Service, r)
}

func (s *Server) loadPredictor(path string) error {
	p, err := s.cfg.LoadPredictor(path)
	if err != nil {
		return fmt.Errorf("load descriptor %s: %w", path, err)
	}
	s.mu.Lock()
	s.predictor, s.descriptorPath = p, path
	s.mu.Unlock()
	s.logger.Info("predictor loaded", "descriptor", path)
	return nil
}

func (s *Server) train(w http.ResponseWriter, r *http.Request) {
	final, err := s.cfg.Trainer.Train(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.loadPredictor(final.DescriptorPath); err != nil {
		s.logger.Warn("keeping previous predictor", "err", err)
	}
	httpserver.WriteJSON(w, http.StatusOK, final)
}

type predictRequest struct {
	Records []map[string]string `json:"records"`
}

type predictResponse struct {
	Descriptor  string                 `json:"descriptor"`
	Labels      []string               `json:"labels"`
	Predictions []inference.Prediction `json:"predictions"`
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	p, descriptor := s.predictor, s.descriptorPath
	s.mu.RUnlock()
	if p == nil {
		httpserver.WriteJSON(w, http.StatusServiceUnavailable, errorBody{Error: "not_ready", Message: "no trained model is loaded"})
		return
	}
	var req predictRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPredictBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		httpserver.WriteJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_json", Message: err.Error()})
		return
	}
	preds, err := p.PredictRecords(req.Records)
	if err != nil {
		s.writeError(w, r, domain.Wrap("predict", "predict records", domain.KindData, err))
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, predictResponse{
		Descriptor:  descriptor,
		Labels:      inference.Labels(preds),
		Predictions: preds,
	})
}

func (s *Server) registry(w http.ResponseWriter, r *http.Request) {
	recs, err := s.cfg.Registry.Records()
	if err != nil {
		s.writeError(w, r, domain.Wrap(domain.StageEvaluate, "read registry", domain.KindIO, err))
		return
	}
	if recs == nil {
		recs = []domain.PromotionRecord{}
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"clusters": recs})
}

type errorBody struct {
	Error     string `json:"error"`
	Stage     string `json:"stage,omitempty"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	body := errorBody{Error: "internal", Message: err.Error(), RequestID: requestID}
	status := http.StatusInternalServerError

	var se *domain.StageError
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		status, body.Error = http.StatusConflict, "conflict"
	case errors.As(err, &se):
		body.Error, body.Stage = string(se.Kind), se.Stage
		status = statusFor(se.Kind)
	}
	if status >= 500 {
		s.logger.Error("request failed", "request_id", requestID, "err", err)
	}
	httpserver.WriteJSON(w, status, body)
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindConfig, domain.KindData:
		return http.StatusBadRequest
	case domain.KindModel:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
