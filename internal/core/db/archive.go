package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/solatis/tripwire/internal/auditlog"
	"github.com/solatis/tripwire/internal/engine"
	"github.com/solatis/tripwire/internal/types"
)

// timeLayout is fixed width so TEXT timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrRunNotFound is returned by Run for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Run is an archived run summary.
type Run struct {
	ID               types.RunID
	StartedAt        time.Time
	FinishedAt       time.Time // zero while the run is active or was lost
	Outcome          engine.Outcome
	CyclesExecuted   int
	ActionsCompleted int
}

type runRow struct {
	RunID            string         `db:"run_id"`
	StartedAt        string         `db:"started_at"`
	FinishedAt       sql.NullString `db:"finished_at"`
	Outcome          sql.NullString `db:"outcome"`
	CyclesExecuted   int            `db:"cycles_executed"`
	ActionsCompleted int            `db:"actions_completed"`
}

type entryRow struct {
	EntryID    int64  `db:"entry_id"`
	RunID      string `db:"run_id"`
	Category   string `db:"category"`
	Message    string `db:"message"`
	Payload    string `db:"payload"`
	RecordedAt string `db:"recorded_at"`
}

// Archive persists runs and their audit entries. It is write-only from
// the engine's side: nothing is read back into a running engine.
type Archive struct {
	q *Queries
}

var (
	_ auditlog.Sink      = (*Archive)(nil)
	_ engine.RunObserver = (*Archive)(nil)
)

// NewArchive wraps loaded queries.
func NewArchive(q *Queries) *Archive {
	return &Archive{q: q}
}

// Archive stores one audit entry.
func (a *Archive) Archive(ctx context.Context, runID types.RunID, e auditlog.Entry) error {
	_, err := a.q.Exec(ctx, "insert-log-entry",
		string(runID), string(e.Category), e.Message, e.Payload, e.Timestamp.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("archive entry: %w", err)
	}
	return nil
}

// RunStarted inserts the run row.
func (a *Archive) RunStarted(ctx context.Context, runID types.RunID, at time.Time) error {
	if _, err := a.q.Exec(ctx, "create-run", string(runID), at.UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("archive run start: %w", err)
	}
	return nil
}

// RunFinished records the outcome and final counters.
func (a *Archive) RunFinished(ctx context.Context, s engine.Status, at time.Time) error {
	res, err := a.q.Exec(ctx, "finish-run",
		at.UTC().Format(timeLayout), string(s.Outcome), s.CyclesExecuted, s.ActionsCompleted, string(s.RunID))
	if err != nil {
		return fmt.Errorf("archive run finish: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("archive run finish: %w: %s", ErrRunNotFound, s.RunID)
	}
	return nil
}

// Runs lists the most recent runs, newest first.
func (a *Archive) Runs(ctx context.Context, limit int) ([]Run, error) {
	var rows []runRow
	if err := a.q.Select(ctx, "list-runs", &rows, limit); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]Run, 0, len(rows))
	for _, r := range rows {
		run, err := r.toRun()
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// Run returns one run.
func (a *Archive) Run(ctx context.Context, id types.RunID) (Run, error) {
	var row runRow
	err := a.q.Get(ctx, "get-run", &row, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return row.toRun()
}

// Entries returns a run's archived entries in recording order, optionally
// restricted to one category.
func (a *Archive) Entries(ctx context.Context, id types.RunID, category auditlog.Category) ([]auditlog.Entry, error) {
	var rows []entryRow
	var err error
	if category == "" {
		err = a.q.Select(ctx, "list-log-entries", &rows, string(id))
	} else {
		err = a.q.Select(ctx, "list-log-entries-by-category", &rows, string(id), string(category))
	}
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	out := make([]auditlog.Entry, 0, len(rows))
	for _, r := range rows {
		ts, err := time.Parse(timeLayout, r.RecordedAt)
		if err != nil {
			return nil, fmt.Errorf("entry %d: bad timestamp %q: %w", r.EntryID, r.RecordedAt, err)
		}
		out = append(out, auditlog.Entry{
			Category:  auditlog.Category(r.Category),
			Message:   r.Message,
			Payload:   r.Payload,
			Timestamp: ts,
		})
	}
	return out, nil
}

func (r runRow) toRun() (Run, error) {
	run := Run{
		ID:               types.RunID(r.RunID),
		Outcome:          engine.Outcome(r.Outcome.String),
		CyclesExecuted:   r.CyclesExecuted,
		ActionsCompleted: r.ActionsCompleted,
	}
	var err error
	if run.StartedAt, err = time.Parse(timeLayout, r.StartedAt); err != nil {
		return Run{}, fmt.Errorf("run %s: bad start time: %w", r.RunID, err)
	}
	if r.FinishedAt.Valid {
		if run.FinishedAt, err = time.Parse(timeLayout, r.FinishedAt.String); err != nil {
			return Run{}, fmt.Errorf("run %s: bad finish time: %w", r.RunID, err)
		}
	}
	return run, nil
}
