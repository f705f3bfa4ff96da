// Package history records process runs and their steps in a SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Step statuses.
const (
	StepRunning   = "running"
	StepCompleted = "completed"
	StepSkipped   = "skipped"
	StepFailed    = "failed"
)

// ErrRunNotFound is returned by GetRun for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded process run.
type Run struct {
	ID            string
	ProcessID     string
	Status        string
	StepCount     int
	ArtifactCount int
	Duration      time.Duration
	FailedStep    string
	FailurePhase  string
	ErrorMessage  string
	StartedAt     time.Time
	FinishedAt    *time.Time
	Summary       map[string]interface{}
}

// StepExecution is one recorded step of a run.
type StepExecution struct {
	ID            int64
	RunID         string
	Step          string
	Task          string
	Kind          string
	Title         string
	Status        string
	Duration      time.Duration
	ArtifactCount int
	Result        string // JSON encoded step result
	ErrorMessage  string
	FailurePhase  string
	RecordedAt    time.Time
}

// Store manages the SQLite database for run history
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new Store instance and initializes the database
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000", // Must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	store := &Store{db: db, dbPath: dbPath}
	if err := store.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return store, nil
}

// execWithRetry executes a SQL statement with exponential backoff retry on lock errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StartRun inserts a running run.
func (s *Store) StartRun(ctx context.Context, run *Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, process_id, status, step_count, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.ProcessID, StatusRunning, run.StepCount, run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun marks a run succeeded and stores its summary.
func (s *Store) FinishRun(ctx context.Context, runID string, finishedAt time.Time, duration time.Duration, artifacts int, summary map[string]interface{}) error {
	summaryJSON := "{}"
	if len(summary) > 0 {
		data, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
		summaryJSON = string(data)
	}
	return s.updateRun(ctx, runID,
		`UPDATE pipeline_runs SET status = ?, finished_at = ?, duration_ms = ?, artifact_count = ?, summary = ? WHERE id = ?`,
		StatusSucceeded, finishedAt.UTC(), duration.Milliseconds(), artifacts, summaryJSON, runID)
}

// FailRun marks a run failed.
func (s *Store) FailRun(ctx context.Context, runID string, finishedAt time.Time, step, phase, message string) error {
	return s.updateRun(ctx, runID,
		`UPDATE pipeline_runs SET status = ?, finished_at = ?, failed_step = ?, failure_phase = ?, error_message = ? WHERE id = ?`,
		StatusFailed, finishedAt.UTC(), nullString(step), nullString(phase), message, runID)
}

func (s *Store) updateRun(ctx context.Context, runID, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// RecordStep inserts a step row and returns its id.
func (s *Store) RecordStep(ctx context.Context, step *StepExecution) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO step_executions
		(run_id, step_name, task_name, kind, title, status, duration_ms, artifact_count, result, error_message, failure_phase)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.RunID, step.Step, nullString(step.Task), nullString(step.Kind), nullString(step.Title), step.Status,
		step.Duration.Milliseconds(), step.ArtifactCount, nullString(step.Result), nullString(step.ErrorMessage), nullString(step.FailurePhase))
	if err != nil {
		return 0, fmt.Errorf("insert step %s: %w", step.Step, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get step id: %w", err)
	}
	step.ID = id
	return id, nil
}

// FinishStep moves the running row of a step to its final status. When the
// step has no running row (it failed before starting) a new row is inserted.
func (s *Store) FinishStep(ctx context.Context, step *StepExecution) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE step_executions SET status = ?, duration_ms = ?, artifact_count = ?, result = ?, error_message = ?, failure_phase = ?
		WHERE run_id = ? AND step_name = ? AND status = ?`,
		step.Status, step.Duration.Milliseconds(), step.ArtifactCount, nullString(step.Result),
		nullString(step.ErrorMessage), nullString(step.FailurePhase), step.RunID, step.Step, StepRunning)
	if err != nil {
		return fmt.Errorf("update step %s: %w", step.Step, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	_, err = s.RecordStep(ctx, step)
	return err
}

// ListRuns returns the most recent runs, newest first. A limit <= 0 returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := runColumns + ` ORDER BY started_at DESC, rowid DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run. An unknown id returns ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, runColumns+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetSteps returns the steps of a run in recording order.
func (s *Store) GetSteps(ctx context.Context, runID string) ([]*StepExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, step_name, task_name, kind, title, status, duration_ms, artifact_count,
		result, error_message, failure_phase, recorded_at
		FROM step_executions WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []*StepExecution
	for rows.Next() {
		var st StepExecution
		var task, kind, title, result, errMsg, phase sql.NullString
		var durationMs int64
		if err := rows.Scan(&st.ID, &st.RunID, &st.Step, &task, &kind, &title, &st.Status, &durationMs,
			&st.ArtifactCount, &result, &errMsg, &phase, &st.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Task = task.String
		st.Kind = kind.String
		st.Title = title.String
		st.Result = result.String
		st.ErrorMessage = errMsg.String
		st.FailurePhase = phase.String
		st.Duration = time.Duration(durationMs) * time.Millisecond
		steps = append(steps, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

// DeleteRunsBefore removes runs started before cutoff together with their steps.
func (s *Store) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM step_executions WHERE run_id IN (SELECT id FROM pipeline_runs WHERE started_at < ?)`, cutoff.UTC()); err != nil {
		return 0, fmt.Errorf("delete steps: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM pipeline_runs WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete runs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return res.RowsAffected()
}

const runColumns = `SELECT id, process_id, status, step_count, artifact_count, duration_ms,
	failed_step, failure_phase, error_message, started_at, finished_at, summary FROM pipeline_runs`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var failedStep, phase, errMsg, summary sql.NullString
	var finishedAt sql.NullTime
	var durationMs int64
	err := row.Scan(&run.ID, &run.ProcessID, &run.Status, &run.StepCount, &run.ArtifactCount, &durationMs,
		&failedStep, &phase, &errMsg, &run.StartedAt, &finishedAt, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.Duration = time.Duration(durationMs) * time.Millisecond
	run.FailedStep = failedStep.String
	run.FailurePhase = phase.String
	run.ErrorMessage = errMsg.String
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	if summary.Valid && summary.String != "" {
		if err := json.Unmarshal([]byte(summary.String), &run.Summary); err != nil {
			return nil, fmt.Errorf("unmarshal summary of run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
