// Package history keeps a write-only audit log of finished render jobs in
// SQLite. It is never read back into the job registry.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/rendergw/internal/render"
	"github.com/mattjoyce/rendergw/internal/storage"
)

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectEntry = `SELECT id, composition_id, status, progress, parameters, output_path, error,
  start_time, end_time, estimated_duration, actual_duration, recorded_at
FROM render_log`

// Entry is one recorded job outcome.
type Entry struct {
	ID                string            `json:"id"`
	CompositionID     string            `json:"compositionId"`
	Status            render.Status     `json:"status"`
	Progress          int               `json:"progress"`
	Parameters        render.Parameters `json:"parameters"`
	OutputPath        string            `json:"outputPath,omitempty"`
	Error             string            `json:"error,omitempty"`
	StartTime         time.Time         `json:"startTime"`
	EndTime           *time.Time        `json:"endTime,omitempty"`
	EstimatedDuration *float64          `json:"estimatedDuration,omitempty"`
	ActualDuration    *float64          `json:"actualDuration,omitempty"`
	RecordedAt        time.Time         `json:"recordedAt"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	CompositionID string
	Status        render.Status
	Limit         int
}

// Store writes and lists entries.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the database at path, creating it if needed.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// New wraps an already bootstrapped database.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores job's current state. Recording the same job again replaces
// the earlier row.
func (s *Store) Record(ctx context.Context, job *render.Job) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}

	var endTime sql.NullString
	if job.EndTime != nil {
		endTime = sql.NullString{String: job.EndTime.UTC().Format(timeLayout), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO render_log(
  id, composition_id, status, progress, parameters, output_path, error,
  start_time, end_time, estimated_duration, actual_duration, recorded_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		job.ID, job.CompositionID, string(job.Status), job.Progress, string(params),
		nullString(job.OutputPath), nullString(job.Error),
		job.StartTime.UTC().Format(timeLayout), endTime,
		nullFloat(job.EstimatedDuration), nullFloat(job.ActualDuration),
		s.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", job.ID, err)
	}
	return nil
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.CompositionID != "" {
		where = append(where, "composition_id = ?")
		args = append(args, f.CompositionID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	query := selectEntry
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return out, nil
}

// ErrNotFound is returned by Get for an unknown job id.
var ErrNotFound = errors.New("history entry not found")

// Get returns the entry for one job.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntry+" WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get history entry %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get history entry %s: %w", id, err)
		}
		return nil, fmt.Errorf("job %q: %w", id, ErrNotFound)
	}
	e, err := scanEntry(rows)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Summary counts entries per status.
func (s *Store) Summary(ctx context.Context) (map[render.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM render_log GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("summarize history: %w", err)
	}
	defer rows.Close()

	out := make(map[render.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("summarize history: %w", err)
		}
		out[render.Status(status)] = n
	}
	return out, rows.Err()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e                  Entry
		status, params     string
		outputPath, errMsg sql.NullString
		startS, recordedS  string
		endS               sql.NullString
		estimated, actual  sql.NullFloat64
	)
	if err := rows.Scan(&e.ID, &e.CompositionID, &status, &e.Progress, &params, &outputPath, &errMsg,
		&startS, &endS, &estimated, &actual, &recordedS); err != nil {
		return Entry{}, fmt.Errorf("scan history row: %w", err)
	}

	e.Status = render.Status(status)
	e.OutputPath = outputPath.String
	e.Error = errMsg.String
	if err := json.Unmarshal([]byte(params), &e.Parameters); err != nil {
		return Entry{}, fmt.Errorf("decode parameters of %s: %w", e.ID, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, startS); err == nil {
		e.StartTime = t
	}
	if t, err := time.Parse(time.RFC3339Nano, recordedS); err == nil {
		e.RecordedAt = t
	}
	if endS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, endS.String); err == nil {
			e.EndTime = &t
		}
	}
	if estimated.Valid {
		v := estimated.Float64
		e.EstimatedDuration = &v
	}
	if actual.Valid {
		v := actual.Float64
		e.ActualDuration = &v
	}
	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
