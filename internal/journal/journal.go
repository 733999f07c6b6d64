// Package journal keeps an audit trail of envelopes passing through the
// orchestrator. Nothing is ever replayed from it.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mattjoyce/switchyard/internal/protocol"
)

// Stage is the point in the pipeline an entry was recorded at.
type Stage string

const (
	StageAccepted   Stage = "accepted"
	StageDispatched Stage = "dispatched"
	StageCompleted  Stage = "completed"
	StageDropped    Stage = "dropped"
)

// timeLayout is fixed width so recorded_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// NoWorker marks entries not tied to a worker slot.
const NoWorker = -1

// Entry is one dispatch_log row.
type Entry struct {
	ID            int64
	RecordedAt    time.Time
	Stage         Stage
	Name          string
	Kind          string
	CorrelationID string
	Worker        int
	Message       string
	Error         string
}

// Journal writes and reads dispatch_log.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db, now: time.Now}
}

// Record appends an entry for env. worker is NoWorker when the stage has
// no slot; errMsg may be empty.
func (j *Journal) Record(ctx context.Context, stage Stage, env protocol.Envelope, worker int, errMsg string) error {
	var w sql.NullInt64
	if worker != NoWorker {
		w = sql.NullInt64{Int64: int64(worker), Valid: true}
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO dispatch_log(recorded_at, stage, name, kind, correlation_id, worker, message, error)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);`,
		j.now().UTC().Format(timeLayout),
		string(stage),
		env.Name(),
		env.Kind().String(),
		env.CorrelationKey(),
		w,
		env.Message(),
		nullIfEmpty(errMsg),
	)
	if err != nil {
		return fmt.Errorf("record %s entry: %w", stage, err)
	}
	return nil
}

// Show returns every entry for a correlation id, oldest first.
func (j *Journal) Show(ctx context.Context, correlationID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT id, recorded_at, stage, name, kind, correlation_id, worker, message, error
FROM dispatch_log
WHERE correlation_id = ?
ORDER BY id ASC;`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	return scanEntries(rows)
}

// Recent returns the newest entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, recorded_at, stage, name, kind, correlation_id, worker, message, error
FROM dispatch_log
ORDER BY id DESC
LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	return scanEntries(rows)
}

// Prune deletes entries older than retention.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := j.now().Add(-retention).UTC().Format(timeLayout)
	res, err := j.db.ExecContext(ctx, "DELETE FROM dispatch_log WHERE recorded_at < ?;", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			recordedAt string
			stage      string
			worker     sql.NullInt64
			message    sql.NullString
			errMsg     sql.NullString
		)
		if err := rows.Scan(&e.ID, &recordedAt, &stage, &e.Name, &e.Kind, &e.CorrelationID, &worker, &message, &errMsg); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		t, err := time.Parse(timeLayout, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parse recorded_at %q: %w", recordedAt, err)
		}
		e.RecordedAt = t
		e.Stage = Stage(stage)
		e.Worker = NoWorker
		if worker.Valid {
			e.Worker = int(worker.Int64)
		}
		e.Message = message.String
		e.Error = errMsg.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
