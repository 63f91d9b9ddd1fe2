package escalation

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PostgresStore persists escalations in PostgreSQL. Dedupe relies on the
// partial unique indexes review_items_one_pending and incidents_one_open.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escalation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) CreateReviewItem(ctx context.Context, item *ReviewItem) (bool, error) {
	var contextJSON []byte
	if item.Context != nil {
		var err error
		contextJSON, err = json.Marshal(item.Context)
		if err != nil {
			return false, err
		}
	}
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO review_items (
			id, system_id, dedupe_key, title, severity, status, sla_deadline, context, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (dedupe_key) WHERE status = 'pending' DO NOTHING`,
		item.ID, item.SystemID, item.DedupeKey, item.Title, string(item.Severity),
		item.Status, item.SLADeadline, contextJSON, item.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (p *PostgresStore) CreateIncident(ctx context.Context, inc *Incident) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO incidents (
			id, system_id, dedupe_key, title, severity, incident_type, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (dedupe_key) WHERE status = 'open' DO NOTHING`,
		inc.ID, inc.SystemID, inc.DedupeKey, inc.Title, string(inc.Severity),
		inc.Type, inc.Status, inc.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}
