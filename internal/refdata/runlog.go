package refdata

import (
	"context"
	"log/slog"
)

const insertLoadRunSQL = `
INSERT INTO load_runs (run_id, stage, started_at, finished_at, rows_in, rows_written, rows_rejected, outcome, first_error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// RecordRun persists a finished load run to the load_runs audit table.
// Failure to record is logged, not propagated: the audit trail must never
// change a load's outcome.
func RecordRun(ctx context.Context, db DBTX, run LoadRun) {
	_, err := db.Exec(ctx, insertLoadRunSQL,
		run.RunID,
		run.Stage,
		run.StartedAt,
		run.FinishedAt,
		run.RowsIn,
		run.RowsWritten,
		run.RowsRejected,
		string(run.Outcome),
		nullIfEmpty(run.FirstError),
	)
	if err != nil {
		slog.Warn("failed to record load run",
			"run_id", run.RunID,
			"stage", run.Stage,
			"error", err,
		)
	}
}
