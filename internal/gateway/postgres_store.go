package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PostgresStore persists decision logs in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed decision log.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ LogStore = (*PostgresStore)(nil)

func (p *PostgresStore) CreateLog(ctx context.Context, entry *RequestLog) error {
	var scores []byte
	if len(entry.Scores) > 0 {
		var err error
		scores, err = json.Marshal(entry.Scores)
		if err != nil {
			return err
		}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO gateway_request_logs (
			id, trace_id, system_id, decision, stage, reason, status_code,
			latency_ms, scores, provider, model, fallback, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID, entry.TraceID, entry.SystemID, string(entry.Decision), string(entry.Stage),
		entry.Reason, entry.StatusCode, entry.LatencyMs, scores,
		nullString(entry.Provider), nullString(entry.Model), entry.Fallback, entry.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListLogs(ctx context.Context, systemID string, limit int) ([]*RequestLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, trace_id, system_id, decision, stage, reason, status_code,
		       latency_ms, scores, provider, model, fallback, created_at
		FROM gateway_request_logs
		WHERE system_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, systemID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*RequestLog
	for rows.Next() {
		var (
			l               RequestLog
			decision, stage string
			scores          []byte
			provider, model sql.NullString
		)
		if err := rows.Scan(
			&l.ID, &l.TraceID, &l.SystemID, &decision, &stage, &l.Reason, &l.StatusCode,
			&l.LatencyMs, &scores, &provider, &model, &l.Fallback, &l.CreatedAt,
		); err != nil {
			return nil, err
		}
		l.Decision = Decision(decision)
		l.Stage = Stage(stage)
		l.Provider = provider.String
		l.Model = model.String
		if len(scores) > 0 {
			if err := json.Unmarshal(scores, &l.Scores); err != nil {
				return nil, err
			}
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
