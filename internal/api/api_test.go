package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/animus-labs/thyroid/internal/domain"
	"github.com/animus-labs/thyroid/internal/inference"
	"github.com/animus-labs/thyroid/internal/ml/search"
	"github.com/animus-labs/thyroid/internal/pipeline"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type stubTrainer struct {
	final domain.FinalArtifact
	err   error
}

func (s stubTrainer) Train(context.Context) (domain.FinalArtifact, error) { return s.final, s.err }

type stubPredictor struct {
	err error
}

func (s stubPredictor) PredictRecords(records []map[string]string) ([]inference.Prediction, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]inference.Prediction, len(records))
	for i := range records {
		out[i] = inference.Prediction{Cluster: 1, Class: 2, Label: "primary_hypothyroid"}
	}
	return out, nil
}

type stubRegistry struct {
	recs []domain.PromotionRecord
	err  error
}

func (s stubRegistry) Records() ([]domain.PromotionRecord, error) { return s.recs, s.err }

func newServer(t *testing.T, trainer Trainer, pred Predictor, reg RecordLister) http.Handler {
	t.Helper()
	s, err := New(Config{
		Trainer:  trainer,
		Registry: reg,
		LoadPredictor: func(string) (Predictor, error) {
			if pred == nil {
				return nil, errors.New("no descriptor")
			}
			return pred, nil
		},
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return s.Handler()
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, "http://example.test"+path, strings.NewReader(body)))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestTrainErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
		wantStage  string
	}{
		{"config", domain.Wrap(domain.StageTrain, "load model space", domain.KindConfig, errors.New("bad yaml")), http.StatusBadRequest, "config", domain.StageTrain},
		{"data", domain.Wrap(domain.StageValidate, "validate", domain.KindData, errors.New("schema")), http.StatusBadRequest, "data", domain.StageValidate},
		{"model", domain.Wrap(domain.StageTrain, "search", domain.KindModel, search.ErrNoQualifyingModel), http.StatusUnprocessableEntity, "model", domain.StageTrain},
		{"io", domain.Wrap(domain.StagePush, "copy", domain.KindIO, errors.New("disk full")), http.StatusInternalServerError, "io", domain.StagePush},
		{"busy", pipeline.ErrRunInProgress, http.StatusConflict, "conflict", ""},
		{"plain", errors.New("boom"), http.StatusInternalServerError, "internal", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newServer(t, stubTrainer{err: tc.err}, nil, stubRegistry{})
			rec := do(h, http.MethodPost, "/train", "")
			if rec.Code != tc.wantStatus {
				t.Fatalf("status=%d, want %d", rec.Code, tc.wantStatus)
			}
			body := decode(t, rec)
			if body["error"] != tc.wantError {
				t.Fatalf("error=%v, want %s", body["error"], tc.wantError)
			}
			if stage, _ := body["stage"].(string); stage != tc.wantStage {
				t.Fatalf("stage=%q, want %q", stage, tc.wantStage)
			}
			if body["request_id"] == "" || body["message"] == "" {
				t.Fatalf("body=%v", body)
			}
		})
	}
}

func TestTrainThenPredict(t *testing.T) {
	final := domain.FinalArtifact{RunID: "r1", Timestamp: "ts", DescriptorPath: "/tmp/descriptor.json"}
	h := newServer(t, stubTrainer{final: final}, stubPredictor{}, stubRegistry{})

	rec := do(h, http.MethodPost, "/train", "")
	if rec.Code != http.StatusOK || decode(t, rec)["run_id"] != "r1" {
		t.Fatalf("train status=%d body=%s", rec.Code, rec.Body)
	}

	rec = do(h, http.MethodPost, "/predict", `{"records":[{"age":"41","TSH":"9.1"},{"age":"30"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("predict status=%d body=%s", rec.Code, rec.Body)
	}
	var resp predictResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Descriptor != final.DescriptorPath || len(resp.Labels) != 2 || resp.Labels[0] != "primary_hypothyroid" {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestPredictErrors(t *testing.T) {
	h := newServer(t, stubTrainer{}, nil, stubRegistry{})
	if rec := do(h, http.MethodPost, "/predict", `{"records":[]}`); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("no model: status=%d", rec.Code)
	}

	h = newServer(t, stubTrainer{final: domain.FinalArtifact{DescriptorPath: "d"}}, stubPredictor{err: inference.ErrNoRecords}, stubRegistry{})
	do(h, http.MethodPost, "/train", "")
	if rec := do(h, http.MethodPost, "/predict", `{"rows":[]}`); rec.Code != http.StatusBadRequest || decode(t, rec)["error"] != "invalid_json" {
		t.Fatalf("unknown field: status=%d body=%s", rec.Code, rec.Body)
	}
	rec := do(h, http.MethodPost, "/predict", `{"records":[]}`)
	if rec.Code != http.StatusBadRequest || decode(t, rec)["error"] != "data" {
		t.Fatalf("empty records: status=%d body=%s", rec.Code, rec.Body)
	}
}

func TestRegistryAndProbes(t *testing.T) {
	recs := []domain.PromotionRecord{{Cluster: 0, BestModelPath: "m0.json", History: []domain.HistoryEntry{{Timestamp: "t1", ModelPath: "old.json"}}}}
	h := newServer(t, stubTrainer{}, nil, stubRegistry{recs: recs})

	rec := do(h, http.MethodGet, "/registry", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"best_model_path":"m0.json"`) {
		t.Fatalf("registry status=%d body=%s", rec.Code, rec.Body)
	}
	if rec := do(h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Fatalf("readyz status=%d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/train", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /train status=%d, want 405", rec.Code)
	}

	broken := newServer(t, stubTrainer{}, nil, stubRegistry{err: errors.New("corrupt registry")})
	if rec := do(broken, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d, want 503", rec.Code)
	}
	if rec := do(broken, http.MethodGet, "/registry", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("registry status=%d, want 500", rec.Code)
	}
}
