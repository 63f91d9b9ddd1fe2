// Package gateway is the request admission pipeline. Every inference call
// made on behalf of a governed AI system passes through Service.Invoke,
// which applies the lock, rate-limit, risk-policy, evaluation, approval and
// content-safety gates in a fixed order, calls the model, scans the reply,
// and records exactly one decision log entry per request.
package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mbd888/govgate/internal/invoker"
)

var ErrInvalidRequest = errors.New("gateway: invalid request")

// RefusalMessage replaces a model reply that failed the output scan.
const RefusalMessage = "I'm sorry, but I can't provide that response. It was withheld by the content safety policy for this system."

// Decision is the verdict reported to the caller and the decision log.
type Decision string

const (
	DecisionAllow          Decision = "ALLOW"
	DecisionWarn           Decision = "WARN"
	DecisionBlock          Decision = "BLOCK"
	DecisionPermanentBlock Decision = "PERMANENT_BLOCK"
	DecisionFailClosed     Decision = "FAIL_CLOSED"
	DecisionRateLimited    Decision = "RATE_LIMITED"
	DecisionError          Decision = "ERROR"
)

// Stage names a step of the pipeline. The stage recorded on a decision is
// the one that produced it.
type Stage string

const (
	StageLoadSystem   Stage = "load_system"
	StageLockCheck    Stage = "lock_check"
	StageRateLimit    Stage = "rate_limit"
	StageRiskPolicy   Stage = "risk_policy"
	StageEvalGate     Stage = "eval_gate"
	StageApprovalGate Stage = "approval_gate"
	StageInputSafety  Stage = "input_safety"
	StageInvoke       Stage = "invoke"
	StageOutputSafety Stage = "output_safety"
	StageComplete     Stage = "complete"
)

// Kind classifies a non-success outcome for the caller.
type Kind string

const (
	KindRateLimited       Kind = "rate_limited"       // transient; retry after RetryAfter
	KindGovernanceBlocked Kind = "governance_blocked" // terminal until an administrator unlocks the system
	KindComplianceBlocked Kind = "compliance_blocked" // terminal until the named remediation happens
	KindContentBlocked    Kind = "content_blocked"    // this request only
	KindUpstreamFailure   Kind = "upstream_failure"
	KindInternalError     Kind = "internal_error"
	KindNotFound          Kind = "not_found"
)

// BlockError is a terminal non-success outcome of the pipeline. Gates return
// it as a value; it is never a panic or an untyped error.
type BlockError struct {
	Kind     Kind
	Code     string
	Decision Decision
	Stage    Stage
	Status   int
	// Reason is safe to show to the caller.
	Reason string
	// Requires names the remediation, when there is one.
	Requires   string
	RetryAfter time.Duration
	TraceID    string

	cause error
}

func (e *BlockError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("gateway: %s at %s: %s: %v", e.Decision, e.Stage, e.Code, e.cause)
	}
	return fmt.Sprintf("gateway: %s at %s: %s", e.Decision, e.Stage, e.Code)
}

func (e *BlockError) Unwrap() error { return e.cause }

// failClosed builds the denial for a gate that could not evaluate. The
// cause is kept for logs and never shown to the caller.
func failClosed(stage Stage, cause error) *BlockError {
	return &BlockError{
		Kind:     KindInternalError,
		Code:     "fail_closed",
		Decision: DecisionFailClosed,
		Stage:    stage,
		Status:   http.StatusServiceUnavailable,
		Reason:   "governance checks are unavailable; request denied",
		cause:    cause,
	}
}

// InvokeRequest is the inbound request body.
type InvokeRequest struct {
	SystemID string            `json:"systemId"`
	TraceID  string            `json:"traceId"`
	Messages []invoker.Message `json:"messages"`
}

// Result is a completed call. Decision is ALLOW or WARN, or BLOCK when the
// reply was replaced with RefusalMessage.
type Result struct {
	Content   string   `json:"content"`
	Decision  Decision `json:"decision"`
	LatencyMs int64    `json:"latencyMs"`
	TraceID   string   `json:"traceId"`
	Provider  string   `json:"provider,omitempty"`
	Model     string   `json:"model,omitempty"`
	Fallback  bool     `json:"fallback"`
	Warnings  []string `json:"warnings,omitempty"`
	Stage     Stage    `json:"stage,omitempty"`
}
