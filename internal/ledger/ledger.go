// Package ledger appends one row per completed pipeline stage to a Postgres
// table. Rows are never updated; each carries a sha256 over its content.
package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/thyroid/internal/domain"
)

const createTable = `CREATE TABLE IF NOT EXISTS pipeline_stage_events (
	event_id BIGSERIAL PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	run_id UUID NOT NULL,
	run_timestamp TEXT NOT NULL,
	stage TEXT NOT NULL,
	message TEXT NOT NULL,
	payload JSONB NOT NULL,
	integrity_sha256 TEXT NOT NULL
)`

// Execer is the subset of *sql.DB the ledger needs.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Entry struct {
	OccurredAt   time.Time
	RunID        string
	RunTimestamp string
	Stage        string
	Message      string
	Payload      any
}

func (e Entry) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if strings.TrimSpace(e.RunID) == "" {
		return errors.New("RunID is required")
	}
	if strings.TrimSpace(e.Stage) == "" {
		return errors.New("Stage is required")
	}
	return nil
}

type Ledger struct {
	db  Execer
	now func() time.Time
}

func New(db Execer) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// EnsureSchema creates the events table when it does not exist yet.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}

// Record appends the artifact of a completed stage.
func (l *Ledger) Record(ctx context.Context, runID, runTimestamp string, a domain.Artifact) error {
	if a == nil {
		return errors.New("artifact is required")
	}
	return l.Insert(ctx, Entry{
		OccurredAt:   l.now().UTC(),
		RunID:        runID,
		RunTimestamp: runTimestamp,
		Stage:        a.StageName(),
		Message:      a.Summary(),
		Payload:      a,
	})
}

func (l *Ledger) Insert(ctx context.Context, entry Entry) error {
	if l.db == nil {
		return errors.New("db is required")
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	payload := entry.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	integrity, err := ComputeIntegritySHA256(entry, payloadJSON)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(
		ctx,
		`INSERT INTO pipeline_stage_events (
			occurred_at,
			run_id,
			run_timestamp,
			stage,
			message,
			payload,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		entry.OccurredAt.UTC(),
		strings.TrimSpace(entry.RunID),
		strings.TrimSpace(entry.RunTimestamp),
		strings.TrimSpace(entry.Stage),
		strings.TrimSpace(entry.Message),
		payloadJSON,
		integrity,
	)
	if err != nil {
		return fmt.Errorf("insert stage event: %w", err)
	}
	return nil
}

func ComputeIntegritySHA256(entry Entry, payloadJSON []byte) (string, error) {
	type integrityInput struct {
		OccurredAt   time.Time       `json:"occurred_at"`
		RunID        string          `json:"run_id"`
		RunTimestamp string          `json:"run_timestamp,omitempty"`
		Stage        string          `json:"stage"`
		Message      string          `json:"message,omitempty"`
		Payload      json.RawMessage `json:"payload"`
	}
	blob, err := json.Marshal(integrityInput{
		OccurredAt:   entry.OccurredAt.UTC(),
		RunID:        strings.TrimSpace(entry.RunID),
		RunTimestamp: strings.TrimSpace(entry.RunTimestamp),
		Stage:        strings.TrimSpace(entry.Stage),
		Message:      strings.TrimSpace(entry.Message),
		Payload:      payloadJSON,
	})
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}
