package governance

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mbd888/govgate/internal/idgen"
)

// PostgresStore reads governance facts from PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed policy store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) GetSystem(ctx context.Context, id string) (*GovernedSystem, error) {
	var sys GovernedSystem
	var lockReason, epURL, epCred, epModel, epFormat sql.NullString
	var rateLimit sql.NullInt64
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, registry_locked, lock_reason, deployment_status, requires_approval,
		       endpoint_url, endpoint_credential_ref, endpoint_model, endpoint_format,
		       rate_limit, created_at, updated_at
		FROM governed_systems WHERE id = $1`, id,
	).Scan(
		&sys.ID, &sys.Name, &sys.RegistryLocked, &lockReason, &sys.DeploymentStatus, &sys.RequiresApproval,
		&epURL, &epCred, &epModel, &epFormat,
		&rateLimit, &sys.CreatedAt, &sys.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSystemNotFound
	}
	if err != nil {
		return nil, err
	}
	sys.LockReason = lockReason.String
	sys.RateLimit = rateLimit.Int64
	if epURL.Valid && epURL.String != "" {
		sys.Endpoint = &EndpointConfig{
			URL:           epURL.String,
			CredentialRef: epCred.String,
			Model:         epModel.String,
			Format:        epFormat.String,
		}
	}
	return &sys, nil
}

func (p *PostgresStore) LatestRiskAssessment(ctx context.Context, systemID string) (*RiskAssessment, error) {
	var a RiskAssessment
	err := p.db.QueryRowContext(ctx, `
		SELECT id, system_id, risk_tier, uri_score, assessed_at
		FROM risk_assessments
		WHERE system_id = $1
		ORDER BY assessed_at DESC
		LIMIT 1`, systemID,
	).Scan(&a.ID, &a.SystemID, &a.Tier, &a.URIScore, &a.AssessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoAssessment
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *PostgresStore) ActiveBindings(ctx context.Context, tier RiskTier) ([]*PolicyBinding, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, risk_tier, action_type, description, auto_enforce, active
		FROM policy_bindings
		WHERE risk_tier = $1 AND active = true
		ORDER BY id`, string(tier))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*PolicyBinding
	for rows.Next() {
		b := &PolicyBinding{}
		if err := rows.Scan(&b.ID, &b.Tier, &b.Action, &b.Description, &b.AutoEnforce, &b.Active); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *PostgresStore) RecentEvaluations(ctx context.Context, systemID string, limit int) ([]*EvaluationRun, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, system_id, engine_type, overall_score, status, fail_closed, created_at
		FROM evaluation_runs
		WHERE system_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, systemID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*EvaluationRun
	for rows.Next() {
		r := &EvaluationRun{}
		var score sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.SystemID, &r.EngineType, &score, &r.Status, &r.FailClosed, &r.CreatedAt); err != nil {
			return nil, err
		}
		if score.Valid {
			r.OverallScore = Score(score.Float64)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LockSystem is a single conditional update, so of any number of concurrent
// callers exactly one sees a row affected.
func (p *PostgresStore) LockSystem(ctx context.Context, systemID, reason string) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE governed_systems SET
			registry_locked = true,
			deployment_status = 'blocked',
			lock_reason = $2,
			updated_at = NOW()
		WHERE id = $1 AND registry_locked = false`,
		systemID, reason,
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

// EnsureApprovalRequest relies on the partial unique index
// approval_requests_one_pending (system_id WHERE status = 'pending').
func (p *PostgresStore) EnsureApprovalRequest(ctx context.Context, systemID, reason string) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO approval_requests (id, system_id, status, reason, created_at)
		VALUES ($1, $2, 'pending', $3, NOW())
		ON CONFLICT (system_id) WHERE status = 'pending' DO NOTHING`,
		idgen.WithPrefix("apr_"), systemID, reason,
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
