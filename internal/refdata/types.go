// Package refdata implements the reference-data ingestion core: the country
// ISO index, the country/ESD/postal-map loaders, and the per-run accounting
// shared between them.
package refdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// RunState tracks where a loader run is in its lifecycle.
type RunState string

const (
	StatePending    RunState = "pending"
	StateOpening    RunState = "opening"
	StateReading    RunState = "reading"
	StateFlushing   RunState = "flushing"
	StateCommitting RunState = "committing"
	StateDone       RunState = "done"
	StateAborted    RunState = "aborted"
)

// Outcome is the terminal disposition of a run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// LoadRun is the record of a single loader invocation.
type LoadRun struct {
	RunID        uuid.UUID `json:"run_id"`
	Stage        string    `json:"stage"`
	State        RunState  `json:"state"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	RowsIn       int64     `json:"rows_in"`
	RowsWritten  int64     `json:"rows_written"`
	RowsRejected int64     `json:"rows_rejected"`
	Outcome      Outcome   `json:"outcome"`
	FirstError   string    `json:"first_error,omitempty"`
}

// Duration returns the wall-clock duration of the run.
func (r LoadRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func newRun(stage string) LoadRun {
	return LoadRun{
		RunID:     uuid.New(),
		Stage:     stage,
		State:     StatePending,
		StartedAt: time.Now(),
		Outcome:   OutcomeSuccess,
	}
}

// finish stamps the end time, settles the terminal state, and records the
// first error, if any. A failed run lands in Aborted; success and partial
// land in Done.
func (r *LoadRun) finish(outcome Outcome, err error) {
	r.FinishedAt = time.Now()
	r.Outcome = outcome
	if outcome == OutcomeFailed {
		r.State = StateAborted
	} else {
		r.State = StateDone
	}
	if err != nil && r.FirstError == "" {
		r.FirstError = err.Error()
	}
}

// Sentinel error kinds. Loaders wrap these so callers (the orchestrator, the
// CLI exit-code mapping) can classify failures without string matching.
var (
	// ErrInputMissing indicates a source file was not found or unreadable.
	ErrInputMissing = errors.New("input file missing or unreadable")

	// ErrInputMalformed indicates the source header or encoding is unusable.
	ErrInputMalformed = errors.New("input malformed")

	// ErrRejectRate indicates the cumulative reject rate exceeded the guard.
	ErrRejectRate = errors.New("reject rate exceeded")
)

// StorageError wraps a database failure that aborted a batch or run.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// rowError is a single-row validation failure. Counted, never fatal on its
// own; the reject-rate guard decides when accumulation becomes fatal.
type rowError struct {
	Line   int64
	Reason string
}

func (e rowError) Error() string { return fmt.Sprintf("row %d: %s", e.Line, e.Reason) }
