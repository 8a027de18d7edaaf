// Package store persists validation jobs and their results in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"odatacheck/internal/rules"
)

// Job states.
const (
	StatusQueued   = "queued"
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// ErrNotFound is returned for unknown job IDs.
var ErrNotFound = errors.New("job not found")

// Job is one validation run submitted through the API or recorded by the CLI.
type Job struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Services   []string   `json:"services"`
	Selector   string     `json:"selector,omitempty"`
	RunID      string     `json:"run_id,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Schema creates the tables JobStore uses. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS validation_jobs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	services    TEXT[] NOT NULL,
	selector    TEXT NOT NULL DEFAULT '',
	run_id      TEXT NOT NULL DEFAULT '',
	exit_code   INTEGER,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS validation_results (
	id          BIGSERIAL PRIMARY KEY,
	job_id      TEXT NOT NULL REFERENCES validation_jobs(id) ON DELETE CASCADE,
	service     TEXT NOT NULL,
	rule_id     TEXT NOT NULL,
	level       TEXT NOT NULL,
	verdict     TEXT NOT NULL,
	waived      BOOLEAN NOT NULL DEFAULT FALSE,
	message     TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	has_detail  BOOLEAN NOT NULL DEFAULT FALSE,
	detail_rule TEXT NOT NULL DEFAULT '',
	method      TEXT NOT NULL DEFAULT '',
	url         TEXT NOT NULL DEFAULT '',
	request_headers JSONB NOT NULL DEFAULT '{}',
	status      INTEGER NOT NULL DEFAULT 0,
	payload     TEXT NOT NULL DEFAULT '',
	detail_error TEXT NOT NULL DEFAULT ''
);
ALTER TABLE validation_results ADD COLUMN IF NOT EXISTS request_headers JSONB NOT NULL DEFAULT '{}';
CREATE INDEX IF NOT EXISTS validation_results_job_idx ON validation_results (job_id, id);`

// JobStore implements job persistence over sqlx.
type JobStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// New wraps an open database. timeout bounds every statement.
func New(db *sqlx.DB, timeout time.Duration) *JobStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &JobStore{db: db, timeout: timeout}
}

// Open connects to PostgreSQL, verifies the connection and applies Schema.
func Open(ctx context.Context, dsn string) (*JobStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := New(db, 0)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *JobStore) Close() error {
	return s.db.Close()
}

// Migrate applies Schema.
func (s *JobStore) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *JobStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// CreateJob records a queued job.
func (s *JobStore) CreateJob(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if job.Status == "" {
		job.Status = StatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Services == nil {
		job.Services = []string{}
	}
	query := `
		INSERT INTO validation_jobs (id, status, services, selector, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.ExecContext(ctx, query, job.ID, job.Status, pq.Array(job.Services), job.Selector, job.CreatedAt); err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	return nil
}

// StartJob marks a job as running.
func (s *JobStore) StartJob(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `UPDATE validation_jobs SET status = $2 WHERE id = $1`, id, StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to start job %s: %w", id, err)
	}
	return expectOneRow(res, id)
}

// FinishJob records the outcome of a job. Exit code 3 (or a non-empty
// error) marks the job failed.
func (s *JobStore) FinishJob(ctx context.Context, id, runID string, exitCode int, errMsg string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		UPDATE validation_jobs
		SET status = $2, run_id = $3, exit_code = $4, error = $5, finished_at = $6
		WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, id, finalStatus(exitCode, errMsg), runID, exitCode, errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to finish job %s: %w", id, err)
	}
	return expectOneRow(res, id)
}

func finalStatus(exitCode int, errMsg string) string {
	if exitCode >= 3 || errMsg != "" {
		return StatusFailed
	}
	return StatusFinished
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type jobRow struct {
	ID         string         `db:"id"`
	Status     string         `db:"status"`
	Services   pq.StringArray `db:"services"`
	Selector   string         `db:"selector"`
	RunID      string         `db:"run_id"`
	ExitCode   sql.NullInt64  `db:"exit_code"`
	Error      string         `db:"error"`
	CreatedAt  time.Time      `db:"created_at"`
	FinishedAt sql.NullTime   `db:"finished_at"`
}

func (r jobRow) job() Job {
	j := Job{
		ID:        r.ID,
		Status:    r.Status,
		Services:  []string(r.Services),
		Selector:  r.Selector,
		RunID:     r.RunID,
		Error:     r.Error,
		CreatedAt: r.CreatedAt,
	}
	if r.ExitCode.Valid {
		code := int(r.ExitCode.Int64)
		j.ExitCode = &code
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time
		j.FinishedAt = &t
	}
	return j
}

// GetJob returns a job by ID, or ErrNotFound.
func (s *JobStore) GetJob(ctx context.Context, id string) (*Job, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT id, status, services, selector, run_id, exit_code, error, created_at, finished_at
		FROM validation_jobs
		WHERE id = $1`
	var row jobRow
	if err := s.db.QueryRowxContext(ctx, query, id).StructScan(&row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	j := row.job()
	return &j, nil
}

// resultRow is one stored row: a result with one of its details, or a
// result without details.
type resultRow struct {
	Service        string `db:"service"`
	RuleID         string `db:"rule_id"`
	Level          string `db:"level"`
	Verdict        string `db:"verdict"`
	Waived         bool   `db:"waived"`
	Message        string `db:"message"`
	Error          string `db:"error"`
	HasDetail      bool   `db:"has_detail"`
	DetailRule     string `db:"detail_rule"`
	Method         string `db:"method"`
	URL            string `db:"url"`
	// RequestHeaders is the JSON object of the (already redacted) headers.
	RequestHeaders string `db:"request_headers"`
	Status         int    `db:"status"`
	Payload        string `db:"payload"`
	DetailError    string `db:"detail_error"`
}

func rowsForResult(r rules.Result) []resultRow {
	base := resultRow{
		Service: r.Service,
		RuleID:  r.RuleID,
		Level:   string(r.Level),
		Verdict: string(r.Verdict),
		Waived:  r.Waived,
		Message: r.Message,
		Error:   r.Error,
	}
	if len(r.Details) == 0 {
		return []resultRow{base}
	}
	rows := make([]resultRow, 0, len(r.Details))
	for _, d := range r.Details {
		row := base
		row.HasDetail = true
		row.DetailRule = d.Rule
		row.Method = d.Method
		row.URL = d.URL
		row.RequestHeaders = encodeHeaders(d.RequestHeaders)
		row.DetailError = d.ErrorMessage
		if d.Response != nil {
			row.Status = d.Response.StatusCode
			row.Payload = d.Response.Payload
		}
		rows = append(rows, row)
	}
	return rows
}

// SaveResult stores r under jobID, one row per detail, in one transaction.
func (s *JobStore) SaveResult(ctx context.Context, jobID string, r rules.Result) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO validation_results
		(job_id, service, rule_id, level, verdict, waived, message, error,
		 has_detail, detail_rule, method, url, request_headers, status, payload, detail_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	for _, row := range rowsForResult(r) {
		if _, err := tx.ExecContext(ctx, query,
			jobID, row.Service, row.RuleID, row.Level, row.Verdict, row.Waived, row.Message, row.Error,
			row.HasDetail, row.DetailRule, row.Method, row.URL, row.RequestHeaders, row.Status, row.Payload, row.DetailError); err != nil {
			return fmt.Errorf("failed to save result %s for job %s: %w", r.RuleID, jobID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit result %s: %w", r.RuleID, err)
	}
	return nil
}

// ListResults returns the results stored for a job in insertion order,
// with their details reassembled.
func (s *JobStore) ListResults(ctx context.Context, jobID string) ([]rules.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT service, rule_id, level, verdict, waived, message, error,
		       has_detail, detail_rule, method, url, request_headers, status, payload, detail_error
		FROM validation_results
		WHERE job_id = $1
		ORDER BY id`
	var rows []resultRow
	if err := s.db.SelectContext(ctx, &rows, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to list results for job %s: %w", jobID, err)
	}
	return assembleResults(rows), nil
}

func encodeHeaders(h map[string]string) string {
	if len(h) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// decodeHeaders returns nil for an empty or unreadable object.
func decodeHeaders(raw string) map[string]string {
	var h map[string]string
	if err := json.Unmarshal([]byte(raw), &h); err != nil || len(h) == 0 {
		return nil
	}
	return h
}

func assembleResults(rows []resultRow) []rules.Result {
	var out []rules.Result
	index := make(map[string]int)
	for _, row := range rows {
		key := row.Service + "\x00" + row.RuleID
		i, ok := index[key]
		if !ok {
			out = append(out, rules.Result{
				RuleID:  row.RuleID,
				Service: row.Service,
				Level:   rules.Level(row.Level),
				Verdict: rules.Verdict(row.Verdict),
				Message: row.Message,
				Waived:  row.Waived,
				Error:   row.Error,
			})
			i = len(out) - 1
			index[key] = i
		}
		if !row.HasDetail {
			continue
		}
		d := rules.Detail{
			Rule:           row.DetailRule,
			URL:            row.URL,
			Method:         row.Method,
			RequestHeaders: decodeHeaders(row.RequestHeaders),
			ErrorMessage:   row.DetailError,
		}
		if row.Status != 0 || row.Payload != "" {
			d.Response = &rules.ResponseInfo{StatusCode: row.Status, Payload: row.Payload}
		}
		out[i].Details = append(out[i].Details, d)
	}
	return out
}
