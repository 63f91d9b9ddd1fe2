// Package governance reads the governance facts the gateway enforces: lock
// state, risk tier, policy bindings, evaluation history and approval state.
//
// The gateway writes to this store in exactly two places: the critical-tier
// auto-lock (LockSystem) and approval request auto-creation
// (EnsureApprovalRequest). Everything else is owned by other services.
package governance

import (
	"errors"
	"time"
)

var (
	ErrSystemNotFound = errors.New("governance: system not found")
	ErrNoAssessment   = errors.New("governance: no risk assessment on record")
)

// DeploymentStatus is the lifecycle stage of a governed system.
type DeploymentStatus string

const (
	StatusDraft           DeploymentStatus = "draft"
	StatusPendingApproval DeploymentStatus = "pending_approval"
	StatusApproved        DeploymentStatus = "approved"
	StatusDeployed        DeploymentStatus = "deployed"
	StatusBlocked         DeploymentStatus = "blocked"
)

// Cleared reports whether the status satisfies an approval requirement.
func (s DeploymentStatus) Cleared() bool {
	return s == StatusApproved || s == StatusDeployed
}

// RiskTier is the coarse compliance classification of a system.
type RiskTier string

const (
	TierLow      RiskTier = "low"
	TierMedium   RiskTier = "medium"
	TierHigh     RiskTier = "high"
	TierCritical RiskTier = "critical"
)

// HighRisk reports whether the tier is high or critical.
func (t RiskTier) HighRisk() bool {
	return t == TierHigh || t == TierCritical
}

// Valid reports whether t is a known tier.
func (t RiskTier) Valid() bool {
	switch t {
	case TierLow, TierMedium, TierHigh, TierCritical:
		return true
	}
	return false
}

// Endpoint wire formats.
const (
	FormatOpenAI  = "openai"
	FormatGeneric = "generic"
)

// EndpointConfig points a system at its own model backend. CredentialRef
// names the secret (an environment variable) holding the API key; the key
// itself is never stored.
type EndpointConfig struct {
	URL           string `json:"url" yaml:"url"`
	CredentialRef string `json:"credentialRef,omitempty" yaml:"credentialRef"`
	Model         string `json:"model,omitempty" yaml:"model"`
	Format        string `json:"format,omitempty" yaml:"format"`
}

// GovernedSystem is an AI system under governance.
type GovernedSystem struct {
	ID               string           `json:"id" yaml:"id"`
	Name             string           `json:"name" yaml:"name"`
	RegistryLocked   bool             `json:"registryLocked" yaml:"registryLocked"`
	LockReason       string           `json:"lockReason,omitempty" yaml:"lockReason"`
	DeploymentStatus DeploymentStatus `json:"deploymentStatus" yaml:"deploymentStatus"`
	RequiresApproval bool             `json:"requiresApproval" yaml:"requiresApproval"`
	Endpoint         *EndpointConfig  `json:"endpoint,omitempty" yaml:"endpoint"`
	// RateLimit overrides the gateway's default per-window limit when > 0.
	RateLimit int64     `json:"rateLimit,omitempty" yaml:"rateLimit"`
	CreatedAt time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`
}

// RiskAssessment is a point-in-time risk classification. The most recent
// one is authoritative.
type RiskAssessment struct {
	ID         string    `json:"id" yaml:"id"`
	SystemID   string    `json:"systemId" yaml:"systemId"`
	Tier       RiskTier  `json:"riskTier" yaml:"riskTier"`
	URIScore   float64   `json:"uriScore" yaml:"uriScore"`
	AssessedAt time.Time `json:"assessedAt" yaml:"assessedAt"`
}

// ActionType is what a policy binding requires for its tier.
type ActionType string

const (
	ActionApprovalRequired ActionType = "approval_required"
	ActionHITLMandatory    ActionType = "hitl_mandatory"
	ActionNotify           ActionType = "notify"
)

// PolicyBinding maps a risk tier to a required action.
type PolicyBinding struct {
	ID          string     `json:"id" yaml:"id"`
	Tier        RiskTier   `json:"riskTier" yaml:"riskTier"`
	Action      ActionType `json:"actionType" yaml:"actionType"`
	Description string     `json:"description" yaml:"description"`
	AutoEnforce bool       `json:"autoEnforce" yaml:"autoEnforce"`
	Active      bool       `json:"active" yaml:"active"`
}

// EvalStatus is the state of an evaluation run.
type EvalStatus string

const (
	EvalCompleted EvalStatus = "completed"
	EvalFailed    EvalStatus = "failed"
	EvalRunning   EvalStatus = "running"
)

// EvaluationRun is one run of an evaluation engine against a system.
// OverallScore is nil until the run completes.
type EvaluationRun struct {
	ID           string     `json:"id" yaml:"id"`
	SystemID     string     `json:"systemId" yaml:"systemId"`
	EngineType   string     `json:"engineType" yaml:"engineType"`
	OverallScore *float64   `json:"overallScore" yaml:"overallScore"`
	Status       EvalStatus `json:"status" yaml:"status"`
	FailClosed   bool       `json:"failClosed" yaml:"failClosed"`
	CreatedAt    time.Time  `json:"createdAt" yaml:"createdAt"`
}

// ApprovalStatus is the state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalRequest asks a human to approve a system for deployment.
type ApprovalRequest struct {
	ID        string         `json:"id"`
	SystemID  string         `json:"systemId"`
	Status    ApprovalStatus `json:"status"`
	Reason    string         `json:"reason"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Score returns a pointer to v, for building EvaluationRun literals.
func Score(v float64) *float64 { return &v }
