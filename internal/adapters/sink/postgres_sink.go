package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

var tableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// PostgresSink stores one row per result. Re-delivery of a job is a no-op.
type PostgresSink struct {
	db        *sql.DB
	tableName string
}

func NewPostgresSink(db *sql.DB, table string) (*PostgresSink, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres sink: nil db")
	}
	if table == "" {
		table = "diagnostic_results"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("postgres sink: invalid table name %q", table)
	}
	return &PostgresSink{db: db, tableName: table}, nil
}

func (p *PostgresSink) Name() string { return "postgres" }

// EnsureSchema creates the results table when missing.
func (p *PostgresSink) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+p.tableName+` (
	job_id       TEXT PRIMARY KEY,
	patient_id   TEXT,
	exam_id      TEXT,
	status       TEXT NOT NULL,
	label        TEXT,
	confidence   DOUBLE PRECISION,
	urgency      TEXT NOT NULL,
	reason       TEXT,
	failed_stage TEXT,
	degraded     BOOLEAN NOT NULL DEFAULT FALSE,
	latency_ms   BIGINT NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL,
	detail       JSONB NOT NULL
)`)
	return err
}

func (p *PostgresSink) OnResult(ctx context.Context, r domain.DiagnosticResult) error {
	detail, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(p.tableName)
	b.WriteString(" (job_id, patient_id, exam_id, status, label, confidence, urgency, reason, failed_stage, degraded, latency_ms, completed_at, detail)")
	b.WriteString(" VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)")
	b.WriteString(" ON CONFLICT (job_id) DO NOTHING")

	_, err = p.db.ExecContext(ctx, b.String(),
		r.JobID,
		r.PatientID,
		r.ExamID,
		string(r.Status),
		string(r.Label),
		r.Confidence,
		r.Urgency.String(),
		string(r.Reason),
		string(r.FailedStage),
		r.Degraded,
		r.Latency.Milliseconds(),
		r.CompletedAt,
		detail,
	)
	if err != nil {
		return fmt.Errorf("insert result %s: %w", r.JobID, err)
	}
	return nil
}

// CountByStatus summarises stored results as status/urgency -> count.
func (p *PostgresSink) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT status, urgency, COUNT(*) FROM "+p.tableName+" GROUP BY status, urgency")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var status, urgency string
		var n int64
		if err := rows.Scan(&status, &urgency, &n); err != nil {
			return nil, err
		}
		out[status+"/"+urgency] = n
	}
	return out, rows.Err()
}

var _ ports.ResultSink = (*PostgresSink)(nil)
