package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/mbd888/govgate/internal/escalation"
	"github.com/mbd888/govgate/internal/governance"
	"github.com/mbd888/govgate/internal/idgen"
	"github.com/mbd888/govgate/internal/invoker"
	"github.com/mbd888/govgate/internal/logging"
	"github.com/mbd888/govgate/internal/ratelimit"
	"github.com/mbd888/govgate/internal/scanner"
	"github.com/mbd888/govgate/internal/traces"
	"go.opentelemetry.io/otel/trace"
)

// Defaults for the evaluation gate.
const (
	DefaultEvalThreshold = 70.0
	DefaultEvalHistory   = 10
)

const maxMessages = 256

// Admitter counts a request against a system's rate limit.
type Admitter interface {
	Admit(ctx context.Context, systemID string, limit int64) (ratelimit.Decision, error)
}

// ContentScanner classifies text for content safety.
type ContentScanner interface {
	Scan(text string) *scanner.Result
}

// ModelInvoker calls the model backend for an admitted request.
type ModelInvoker interface {
	Invoke(ctx context.Context, endpoint *governance.EndpointConfig, messages []invoker.Message) (*invoker.Reply, error)
}

// Escalator raises review items and incidents. It must not fail the caller.
type Escalator interface {
	Escalate(ctx context.Context, esc escalation.Escalation) escalation.Outcome
}

// Config tunes the evaluation gate.
type Config struct {
	EvalThreshold float64
	EvalHistory   int
}

// Service runs the admission pipeline.
type Service struct {
	policies  governance.Store
	limiter   Admitter
	scanner   ContentScanner
	invoker   ModelInvoker
	logs      LogStore
	escalator Escalator
	cfg       Config
	errLog    *slog.Logger
	now       func() time.Time
}

// NewService creates the pipeline. escalator may be nil. logger receives
// recovered failures until WithErrorLog replaces it.
func NewService(policies governance.Store, limiter Admitter, scan ContentScanner, inv ModelInvoker, logs LogStore, esc Escalator, logger *slog.Logger) *Service {
	return &Service{
		policies:  policies,
		limiter:   limiter,
		scanner:   scan,
		invoker:   inv,
		logs:      logs,
		escalator: esc,
		cfg:       Config{EvalThreshold: DefaultEvalThreshold, EvalHistory: DefaultEvalHistory},
		errLog:    logger,
		now:       time.Now,
	}
}

// WithConfig overrides the evaluation gate settings. Zero fields keep their
// defaults.
func (s *Service) WithConfig(cfg Config) *Service {
	if cfg.EvalThreshold > 0 {
		s.cfg.EvalThreshold = cfg.EvalThreshold
	}
	if cfg.EvalHistory > 0 {
		s.cfg.EvalHistory = cfg.EvalHistory
	}
	return s
}

// WithErrorLog sets the logger for failures recovered inside the pipeline
// (decision log writes, approval request writes, panics).
func (s *Service) WithErrorLog(l *slog.Logger) *Service {
	if l != nil {
		s.errLog = l
	}
	return s
}

// pass is the state of one trip through the pipeline.
type pass struct {
	req         InvokeRequest
	traceID     string
	start       time.Time
	stage       Stage
	system      *governance.GovernedSystem
	reply       *invoker.Reply
	scores      map[string]float64
	warnings    []string
	reason      string
	escalations []escalation.Escalation
}

// Invoke runs one request through the pipeline. On success it returns a
// Result, which may carry the refusal message if the reply was blocked. Any
// other terminal outcome is returned as a *BlockError. Exactly one decision
// log entry is written either way, before Invoke returns.
//
// The pipeline does not observe cancellation of ctx: a caller that goes
// away does not abort the model call or lose the log entry.
func (s *Service) Invoke(ctx context.Context, req InvokeRequest) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	traceID := req.TraceID
	if !idgen.ValidTraceID(traceID) {
		traceID = idgen.New()
	}

	ctx = logging.WithTraceID(context.WithoutCancel(ctx), traceID)
	ctx, span := traces.StartSpan(ctx, "gateway.invoke",
		traces.SystemID(req.SystemID),
		traces.GatewayTraceID(traceID),
	)
	defer span.End()

	p := &pass{req: req, traceID: traceID, start: s.now(), scores: map[string]float64{}}
	res, be := s.run(ctx, p)
	if be != nil {
		span.SetAttributes(traces.Decision(string(be.Decision)), traces.Stage(string(be.Stage)))
		if be.Status >= http.StatusInternalServerError {
			traces.Fail(span, be)
		}
	} else {
		span.SetAttributes(traces.Decision(string(res.Decision)), traces.Stage(string(res.Stage)))
	}
	return s.finish(ctx, p, res, be)
}

func (s *Service) run(ctx context.Context, p *pass) (res *Result, be *BlockError) {
	defer func() {
		if r := recover(); r != nil {
			gwPanics.Inc()
			s.errLog.Error("gateway pipeline panic",
				"system_id", p.req.SystemID,
				"trace_id", p.traceID,
				"stage", string(p.stage),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			res = nil
			be = &BlockError{
				Kind:     KindInternalError,
				Code:     "internal_error",
				Decision: DecisionError,
				Stage:    p.stage,
				Status:   http.StatusInternalServerError,
				Reason:   "internal error",
				cause:    fmt.Errorf("panic: %v", r),
			}
		}
	}()

	if be := s.gate(ctx, p, StageLoadSystem, func(ctx context.Context) GateResult {
		return s.loadSystem(ctx, p)
	}); be != nil {
		return nil, be
	}
	sys := p.system

	if be := s.gate(ctx, p, StageLockCheck, func(context.Context) GateResult {
		return s.checkLock(sys, p.traceID)
	}); be != nil {
		return nil, be
	}

	if be := s.gate(ctx, p, StageRateLimit, func(ctx context.Context) GateResult {
		return s.admit(ctx, sys)
	}); be != nil {
		return nil, be
	}

	var tier governance.RiskTier
	if be := s.gate(ctx, p, StageRiskPolicy, func(ctx context.Context) GateResult {
		t, g := s.loadRiskTier(ctx, sys, p.traceID)
		if !g.Passed() {
			return g
		}
		tier = t
		trace.SpanFromContext(ctx).SetAttributes(traces.RiskTier(string(t)))
		return s.enforceRiskPolicy(ctx, sys, t, p.traceID)
	}); be != nil {
		return nil, be
	}

	if be := s.gate(ctx, p, StageEvalGate, func(ctx context.Context) GateResult {
		return s.checkEvaluations(ctx, sys, tier, p.traceID)
	}); be != nil {
		return nil, be
	}

	if be := s.gate(ctx, p, StageApprovalGate, func(ctx context.Context) GateResult {
		return s.checkApproval(ctx, sys, p.traceID)
	}); be != nil {
		return nil, be
	}

	if be := s.gate(ctx, p, StageInputSafety, func(context.Context) GateResult {
		return s.scanContent(p, StageInputSafety, userText(p.req.Messages))
	}); be != nil {
		return nil, be
	}

	if be := s.gate(ctx, p, StageInvoke, func(ctx context.Context) GateResult {
		return s.callModel(ctx, p)
	}); be != nil {
		return nil, be
	}

	res = &Result{
		Content:  p.reply.Content,
		TraceID:  p.traceID,
		Provider: p.reply.Provider,
		Model:    p.reply.Model,
		Fallback: p.reply.UsedFallback,
	}
	if be := s.gate(ctx, p, StageOutputSafety, func(context.Context) GateResult {
		return s.scanContent(p, StageOutputSafety, p.reply.Content)
	}); be != nil {
		gwRefusals.Inc()
		res.Content = RefusalMessage
		res.Decision = DecisionBlock
		res.Stage = StageOutputSafety
		p.reason = be.Reason
	} else {
		res.Decision = DecisionAllow
		if len(p.warnings) > 0 {
			res.Decision = DecisionWarn
		}
		res.Stage = StageComplete
	}
	res.Warnings = p.warnings
	return res, nil
}

// gate runs one stage under its own span and latency measurement.
func (s *Service) gate(ctx context.Context, p *pass, stage Stage, fn func(context.Context) GateResult) *BlockError {
	p.stage = stage
	ctx, span := traces.StartSpan(ctx, "gateway."+string(stage), traces.Stage(string(stage)))
	defer span.End()

	start := time.Now()
	g := fn(ctx)
	gwStageLatency.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())

	p.escalations = append(p.escalations, g.Escalations...)
	if g.Block != nil {
		span.SetAttributes(traces.Decision(string(g.Block.Decision)))
	}
	return g.Block
}

func (s *Service) loadSystem(ctx context.Context, p *pass) GateResult {
	sys, err := s.policies.GetSystem(ctx, p.req.SystemID)
	switch {
	case errors.Is(err, governance.ErrSystemNotFound):
		return GateResult{Block: &BlockError{
			Kind:     KindNotFound,
			Code:     "system_not_found",
			Decision: DecisionBlock,
			Stage:    StageLoadSystem,
			Status:   http.StatusNotFound,
			Reason:   "governed system not found",
		}}
	case err != nil:
		return GateResult{Block: failClosed(StageLoadSystem, err)}
	}
	p.system = sys
	return GateResult{}
}

func (s *Service) admit(ctx context.Context, sys *governance.GovernedSystem) GateResult {
	d, err := s.limiter.Admit(ctx, sys.ID, sys.RateLimit)
	if err != nil {
		return GateResult{Block: failClosed(StageRateLimit, err)}
	}
	if d.Allowed {
		return GateResult{}
	}
	return GateResult{Block: &BlockError{
		Kind:       KindRateLimited,
		Code:       "rate_limited",
		Decision:   DecisionRateLimited,
		Stage:      StageRateLimit,
		Status:     http.StatusTooManyRequests,
		Reason:     fmt.Sprintf("rate limit of %d requests per window exceeded", d.Limit),
		RetryAfter: d.ResetIn,
	}}
}

// scanContent runs the content scanner for the input or output stage.
func (s *Service) scanContent(p *pass, stage Stage, text string) GateResult {
	direction := "input"
	if stage == StageOutputSafety {
		direction = "output"
	}
	r := s.scanner.Scan(text)
	for engine, score := range r.Scores {
		p.scores[direction+"."+string(engine)] = score
	}
	if r.Verdict == scanner.Warn {
		for _, reason := range r.Reasons {
			p.warnings = append(p.warnings, direction+":"+reason)
		}
	}
	if r.Verdict != scanner.Block {
		return GateResult{}
	}

	engines := r.BlockingEngines()
	names := make([]string, len(engines))
	for i, e := range engines {
		names[i] = string(e)
	}
	be := &BlockError{
		Kind:     KindContentBlocked,
		Code:     "content_blocked",
		Decision: DecisionBlock,
		Stage:    stage,
		Status:   http.StatusUnprocessableEntity,
		Reason:   fmt.Sprintf("%s blocked by content policy: %s", direction, strings.Join(names, ", ")),
	}
	if stage == StageOutputSafety {
		be.Status = http.StatusOK
	}

	harmful := slices.Contains(engines, scanner.EngineSafety)
	sev := escalation.SeverityHigh
	if harmful {
		sev = escalation.SeverityCritical
	}
	esc := blockEscalation(p.system.ID, p.traceID, be, sev, map[string]any{
		"engines": names,
		"matches": r.Reasons,
	})
	if harmful {
		esc.Incident = true
		esc.IncidentType = escalation.IncidentContentSafety
	}
	return GateResult{Block: be, Escalations: []escalation.Escalation{esc}}
}

func (s *Service) callModel(ctx context.Context, p *pass) GateResult {
	reply, err := s.invoker.Invoke(ctx, p.system.Endpoint, p.req.Messages)
	if err != nil {
		be := &BlockError{
			Kind:     KindUpstreamFailure,
			Code:     "upstream_failure",
			Decision: DecisionError,
			Stage:    StageInvoke,
			Status:   http.StatusBadGateway,
			Reason:   "model provider unavailable",
			cause:    err,
		}
		var ue *invoker.UpstreamError
		if errors.As(err, &ue) && ue.Retryable {
			be.Status = http.StatusServiceUnavailable
		}
		return GateResult{Block: be}
	}
	p.reply = reply
	return GateResult{}
}

// finish writes the decision log, raises escalations and shapes the return
// value. Neither the log write nor the escalations can change the outcome.
func (s *Service) finish(ctx context.Context, p *pass, res *Result, be *BlockError) (*Result, error) {
	latency := s.now().Sub(p.start)

	entry := &RequestLog{
		ID:        idgen.WithPrefix("rlog_"),
		TraceID:   p.traceID,
		SystemID:  p.req.SystemID,
		LatencyMs: latency.Milliseconds(),
		Scores:    p.scores,
		CreatedAt: s.now(),
	}
	if be != nil {
		be.TraceID = p.traceID
		entry.Decision = be.Decision
		entry.Stage = be.Stage
		entry.Reason = be.Reason
		entry.StatusCode = be.Status
	} else {
		res.LatencyMs = latency.Milliseconds()
		entry.Decision = res.Decision
		entry.Stage = res.Stage
		entry.Reason = p.reason
		entry.StatusCode = http.StatusOK
		entry.Provider = res.Provider
		entry.Model = res.Model
		entry.Fallback = res.Fallback
	}
	s.writeLog(ctx, entry)

	gwDecisions.WithLabelValues(string(entry.Decision), string(entry.Stage)).Inc()
	gwLatency.Observe(latency.Seconds())

	if s.escalator != nil {
		for _, esc := range p.escalations {
			s.escalator.Escalate(ctx, esc)
		}
	}

	logger := logging.L(ctx)
	if be != nil {
		attrs := []any{
			"system_id", p.req.SystemID,
			"decision", string(be.Decision),
			"stage", string(be.Stage),
			"code", be.Code,
			"latency_ms", entry.LatencyMs,
		}
		if be.cause != nil {
			attrs = append(attrs, "error", be.cause)
		}
		logger.Warn("gateway request denied", attrs...)
		return nil, be
	}
	logger.Info("gateway request completed",
		"system_id", p.req.SystemID,
		"decision", string(res.Decision),
		"provider", res.Provider,
		"fallback", res.Fallback,
		"latency_ms", entry.LatencyMs,
	)
	return res, nil
}

func (s *Service) writeLog(ctx context.Context, entry *RequestLog) {
	if s.logs == nil {
		return
	}
	if err := s.logs.CreateLog(ctx, entry); err != nil {
		gwLogWriteFailures.Inc()
		s.errLog.Error("decision log write failed",
			"log_id", entry.ID,
			"trace_id", entry.TraceID,
			"system_id", entry.SystemID,
			"decision", string(entry.Decision),
			"stage", string(entry.Stage),
			"error", err,
		)
	}
}

func validateRequest(req InvokeRequest) error {
	if strings.TrimSpace(req.SystemID) == "" {
		return fmt.Errorf("%w: systemId is required", ErrInvalidRequest)
	}
	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrInvalidRequest)
	}
	if len(req.Messages) > maxMessages {
		return fmt.Errorf("%w: at most %d messages allowed", ErrInvalidRequest, maxMessages)
	}
	for i, m := range req.Messages {
		switch m.Role {
		case "system", "user", "assistant":
		default:
			return fmt.Errorf("%w: messages[%d].role must be system, user or assistant", ErrInvalidRequest, i)
		}
	}
	return nil
}

// userText is the text the input scan sees: every user turn.
func userText(messages []invoker.Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Content)
	}
	return b.String()
}
