package governance

import "context"

// Store is the policy store as seen by the gateway.
type Store interface {
	GetSystem(ctx context.Context, id string) (*GovernedSystem, error)
	// LatestRiskAssessment returns ErrNoAssessment when none exists.
	LatestRiskAssessment(ctx context.Context, systemID string) (*RiskAssessment, error)
	ActiveBindings(ctx context.Context, tier RiskTier) ([]*PolicyBinding, error)
	// RecentEvaluations returns at most limit runs, newest first.
	RecentEvaluations(ctx context.Context, systemID string, limit int) ([]*EvaluationRun, error)

	// LockSystem locks the system and marks it blocked if it is not locked
	// already. It reports whether this call performed the transition.
	LockSystem(ctx context.Context, systemID, reason string) (bool, error)
	// EnsureApprovalRequest creates a pending approval request unless one
	// already exists. It reports whether one was created.
	EnsureApprovalRequest(ctx context.Context, systemID, reason string) (bool, error)
}
