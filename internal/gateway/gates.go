package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/mbd888/govgate/internal/escalation"
	"github.com/mbd888/govgate/internal/governance"
	"github.com/mbd888/govgate/internal/logging"
)

// GateResult is what a gate decided. A nil Block means the gate passed.
// Escalations are raised after the decision is logged, whether or not the
// gate blocked.
type GateResult struct {
	Block       *BlockError
	Escalations []escalation.Escalation
}

// Passed reports whether the request may continue.
func (g GateResult) Passed() bool { return g.Block == nil }

const autoLockReason = "auto-locked: critical risk tier"

// checkLock denies every request to a locked system.
func (s *Service) checkLock(sys *governance.GovernedSystem, traceID string) GateResult {
	if !sys.RegistryLocked {
		return GateResult{}
	}
	reason := sys.LockReason
	if reason == "" {
		reason = "system is locked in the governance registry"
	}
	be := &BlockError{
		Kind:     KindGovernanceBlocked,
		Code:     "registry_locked",
		Decision: DecisionPermanentBlock,
		Stage:    StageLockCheck,
		Status:   http.StatusUnavailableForLegalReasons,
		Reason:   reason,
		Requires: "administrative unlock",
	}
	return GateResult{
		Block:       be,
		Escalations: []escalation.Escalation{blockEscalation(sys.ID, traceID, be, escalation.SeverityHigh, nil)},
	}
}

// loadRiskTier fetches the authoritative risk tier. A system with no
// assessment cannot be classified and is denied.
func (s *Service) loadRiskTier(ctx context.Context, sys *governance.GovernedSystem, traceID string) (governance.RiskTier, GateResult) {
	ra, err := s.policies.LatestRiskAssessment(ctx, sys.ID)
	switch {
	case errors.Is(err, governance.ErrNoAssessment):
		be := &BlockError{
			Kind:     KindComplianceBlocked,
			Code:     "no_risk_assessment",
			Decision: DecisionFailClosed,
			Stage:    StageRiskPolicy,
			Status:   http.StatusUnavailableForLegalReasons,
			Reason:   "no risk assessment on record for system",
			Requires: "complete a risk assessment",
		}
		return "", GateResult{
			Block:       be,
			Escalations: []escalation.Escalation{blockEscalation(sys.ID, traceID, be, escalation.SeverityHigh, nil)},
		}
	case err != nil:
		return "", GateResult{Block: failClosed(StageRiskPolicy, err)}
	case !ra.Tier.Valid():
		return "", GateResult{Block: failClosed(StageRiskPolicy, fmt.Errorf("unknown risk tier %q", ra.Tier))}
	}
	return ra.Tier, GateResult{}
}

// enforceRiskPolicy applies the tier's auto-enforced policy bindings. A
// critical tier locks the system; only the request that performs the lock
// transition raises the incident.
func (s *Service) enforceRiskPolicy(ctx context.Context, sys *governance.GovernedSystem, tier governance.RiskTier, traceID string) GateResult {
	if tier == governance.TierCritical {
		locked, err := s.policies.LockSystem(ctx, sys.ID, autoLockReason)
		if err != nil {
			return GateResult{Block: failClosed(StageRiskPolicy, err)}
		}
		res := GateResult{Block: &BlockError{
			Kind:     KindGovernanceBlocked,
			Code:     "auto_locked",
			Decision: DecisionPermanentBlock,
			Stage:    StageRiskPolicy,
			Status:   http.StatusUnavailableForLegalReasons,
			Reason:   autoLockReason,
			Requires: "risk review and administrative unlock",
		}}
		if locked {
			gwAutoLocks.Inc()
			logging.L(ctx).Warn("system auto-locked", "system_id", sys.ID, "risk_tier", string(tier))
			res.Escalations = append(res.Escalations, escalation.Escalation{
				SystemID:     sys.ID,
				TraceID:      traceID,
				Title:        fmt.Sprintf("System %s auto-locked: critical risk tier", sys.ID),
				Severity:     escalation.SeverityCritical,
				DedupeKey:    "autolock:" + sys.ID,
				Incident:     true,
				IncidentType: escalation.IncidentAutoLock,
				Context: map[string]any{
					"traceId":  traceID,
					"riskTier": string(tier),
					"reason":   autoLockReason,
				},
			})
		}
		return res
	}

	bindings, err := s.policies.ActiveBindings(ctx, tier)
	if err != nil {
		return GateResult{Block: failClosed(StageRiskPolicy, err)}
	}

	var res GateResult
	for _, b := range bindings {
		if !b.AutoEnforce {
			continue
		}
		switch b.Action {
		case governance.ActionApprovalRequired:
			if res.Block != nil || sys.DeploymentStatus.Cleared() {
				continue
			}
			reason := b.Description
			if reason == "" {
				reason = fmt.Sprintf("deployment approval required for %s risk tier", tier)
			}
			res.Block = &BlockError{
				Kind:     KindComplianceBlocked,
				Code:     "approval_required",
				Decision: DecisionBlock,
				Stage:    StageRiskPolicy,
				Status:   http.StatusForbidden,
				Reason:   reason,
				Requires: "deployment approval",
			}
		case governance.ActionHITLMandatory:
			title := "Human review required"
			if b.Description != "" {
				title += ": " + b.Description
			}
			sev := escalation.SeverityMedium
			if tier.HighRisk() {
				sev = escalation.SeverityHigh
			}
			res.Escalations = append(res.Escalations, escalation.Escalation{
				SystemID:  sys.ID,
				TraceID:   traceID,
				Title:     title,
				Severity:  sev,
				DedupeKey: "hitl:" + sys.ID,
				Context: map[string]any{
					"traceId":   traceID,
					"riskTier":  string(tier),
					"bindingId": b.ID,
				},
			})
		}
	}
	if res.Block != nil {
		res.Escalations = append(res.Escalations, blockEscalation(sys.ID, traceID, res.Block, escalation.SeverityMedium, nil))
	}
	return res
}

// checkEvaluations reports, in order of precedence, a high-risk system that
// was never evaluated, an evaluation that failed to run, and a completed
// evaluation scoring below the threshold. Running evaluations are ignored.
func (s *Service) checkEvaluations(ctx context.Context, sys *governance.GovernedSystem, tier governance.RiskTier, traceID string) GateResult {
	runs, err := s.policies.RecentEvaluations(ctx, sys.ID, s.cfg.EvalHistory)
	if err != nil {
		return GateResult{Block: failClosed(StageEvalGate, err)}
	}

	var (
		completed int
		failed    []string
		low       []string
	)
	scores := map[string]float64{}
	for _, r := range runs {
		if r.Status == governance.EvalCompleted {
			completed++
		}
		switch {
		case r.Status == governance.EvalFailed, r.FailClosed:
			failed = appendUnique(failed, r.EngineType)
		case r.Status == governance.EvalCompleted && r.OverallScore == nil:
			failed = appendUnique(failed, r.EngineType)
		case r.Status == governance.EvalCompleted && *r.OverallScore < s.cfg.EvalThreshold:
			low = append(low, fmt.Sprintf("%s=%.1f", r.EngineType, *r.OverallScore))
			if _, seen := scores[r.EngineType]; !seen {
				scores[r.EngineType] = *r.OverallScore
			}
		}
	}

	var be *BlockError
	var extra map[string]any
	switch {
	case tier.HighRisk() && completed == 0:
		be = &BlockError{
			Kind:     KindComplianceBlocked,
			Code:     "no_evaluations",
			Decision: DecisionFailClosed,
			Stage:    StageEvalGate,
			Status:   http.StatusUnavailableForLegalReasons,
			Reason:   "no evaluations for high-risk system",
			Requires: "complete an evaluation run",
		}
	case len(failed) > 0:
		sort.Strings(failed)
		be = &BlockError{
			Kind:     KindComplianceBlocked,
			Code:     "evaluation_failed",
			Decision: DecisionFailClosed,
			Stage:    StageEvalGate,
			Status:   http.StatusUnavailableForLegalReasons,
			Reason:   "evaluation failed for engines: " + strings.Join(failed, ", "),
			Requires: "re-run the failed evaluations",
		}
		extra = map[string]any{"engines": failed}
	case len(low) > 0:
		be = &BlockError{
			Kind:     KindComplianceBlocked,
			Code:     "evaluation_below_threshold",
			Decision: DecisionBlock,
			Stage:    StageEvalGate,
			Status:   http.StatusUnavailableForLegalReasons,
			Reason:   fmt.Sprintf("evaluation score below %g%%: %s", s.cfg.EvalThreshold, strings.Join(low, ", ")),
			Requires: fmt.Sprintf("improve to >=%g%%", s.cfg.EvalThreshold),
		}
		extra = map[string]any{"scores": scores, "threshold": s.cfg.EvalThreshold}
	default:
		return GateResult{}
	}
	return GateResult{
		Block:       be,
		Escalations: []escalation.Escalation{blockEscalation(sys.ID, traceID, be, escalation.SeverityHigh, extra)},
	}
}

// checkApproval denies systems that require approval and have not been
// approved. A system awaiting approval gets an approval request opened if
// none is pending.
func (s *Service) checkApproval(ctx context.Context, sys *governance.GovernedSystem, traceID string) GateResult {
	if !sys.RequiresApproval || sys.DeploymentStatus.Cleared() {
		return GateResult{}
	}
	if sys.DeploymentStatus == governance.StatusPendingApproval {
		created, err := s.policies.EnsureApprovalRequest(ctx, sys.ID, "gateway request received while approval pending")
		switch {
		case err != nil:
			s.errLog.Error("approval request write failed", "system_id", sys.ID, "trace_id", traceID, "error", err)
		case created:
			logging.L(ctx).Info("approval request opened", "system_id", sys.ID)
		}
	}
	be := &BlockError{
		Kind:     KindComplianceBlocked,
		Code:     "approval_required",
		Decision: DecisionBlock,
		Stage:    StageApprovalGate,
		Status:   http.StatusForbidden,
		Reason:   fmt.Sprintf("deployment approval required (status: %s)", sys.DeploymentStatus),
		Requires: "deployment approval",
	}
	return GateResult{
		Block:       be,
		Escalations: []escalation.Escalation{blockEscalation(sys.ID, traceID, be, escalation.SeverityMedium, nil)},
	}
}

// blockEscalation builds the review item raised for a blocking decision.
// One pending item per system, stage, block code and severity, so a
// pending lower-severity item never hides a more urgent one and each
// distinct block reason gets its own review.
func blockEscalation(systemID, traceID string, be *BlockError, sev escalation.Severity, extra map[string]any) escalation.Escalation {
	fields := map[string]any{
		"traceId":  traceID,
		"decision": string(be.Decision),
		"code":     be.Code,
		"reason":   be.Reason,
	}
	if be.Requires != "" {
		fields["requires"] = be.Requires
	}
	for k, v := range extra {
		fields[k] = v
	}
	return escalation.Escalation{
		SystemID:  systemID,
		TraceID:   traceID,
		Title:     fmt.Sprintf("Request blocked at %s: %s", be.Stage, be.Reason),
		Severity:  sev,
		DedupeKey: fmt.Sprintf("block:%s:%s:%s:%s", systemID, be.Stage, be.Code, sev),
		Context:   fields,
	}
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
