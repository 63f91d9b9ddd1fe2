package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/govgate/internal/idgen"
	"github.com/mbd888/govgate/internal/logging"
	"github.com/mbd888/govgate/internal/retry"
)

// Emitter writes escalations with a short bounded retry.
type Emitter struct {
	store   Store
	pub     Publisher
	subject string
	logger  *slog.Logger
	errLog  *slog.Logger
	backoff retry.Policy
	now     func() time.Time
}

// NewEmitter creates an emitter. errLog receives escalations that could not
// be written; it defaults to logger.
func NewEmitter(store Store, logger, errLog *slog.Logger) *Emitter {
	if errLog == nil {
		errLog = logger
	}
	return &Emitter{
		store:   store,
		logger:  logger,
		errLog:  errLog,
		backoff: retry.Policy{Attempts: 2, BaseDelay: 50 * time.Millisecond, MaxDelay: 200 * time.Millisecond},
		now:     time.Now,
	}
}

// WithPublisher also publishes each created item to subject.
func (e *Emitter) WithPublisher(pub Publisher, subject string) *Emitter {
	e.pub = pub
	e.subject = subject
	return e
}

// WithRetry overrides the attempt count and base delay.
func (e *Emitter) WithRetry(attempts int, delay time.Duration) *Emitter {
	e.backoff.Attempts = attempts
	e.backoff.BaseDelay = delay
	return e
}

// Escalate writes a review item and, for critical or incident-flagged
// escalations, an incident. It never returns an error to the caller; the
// Outcome carries it for logging and tests.
func (e *Emitter) Escalate(ctx context.Context, esc Escalation) Outcome {
	if e == nil || e.store == nil {
		return Outcome{}
	}
	if !esc.Severity.Valid() {
		esc.Severity = SeverityMedium
	}
	now := e.now()

	var out Outcome
	item := &ReviewItem{
		ID:          idgen.WithPrefix("rev_"),
		SystemID:    esc.SystemID,
		DedupeKey:   esc.DedupeKey,
		Title:       esc.Title,
		Severity:    esc.Severity,
		Status:      StatusPending,
		SLADeadline: now.Add(esc.Severity.SLA()),
		Context:     esc.Context,
		CreatedAt:   now,
	}
	if item.DedupeKey == "" {
		item.DedupeKey = item.ID
	}
	created, err := e.write(ctx, "review_item", func() (bool, error) {
		return e.store.CreateReviewItem(ctx, item)
	})
	if err != nil {
		out.Err = err
		e.fail(ctx, "review_item", esc, err)
	} else {
		out.ReviewCreated = created
		if created {
			e.publish(ctx, "review_item.created", item)
		}
	}

	if esc.Incident || esc.Severity == SeverityCritical {
		inc := &Incident{
			ID:        idgen.WithPrefix("inc_"),
			SystemID:  esc.SystemID,
			DedupeKey: item.DedupeKey,
			Title:     esc.Title,
			Severity:  esc.Severity,
			Type:      esc.IncidentType,
			Status:    StatusOpen,
			CreatedAt: now,
		}
		if inc.Type == "" {
			inc.Type = IncidentCompliance
		}
		created, err := e.write(ctx, "incident", func() (bool, error) {
			return e.store.CreateIncident(ctx, inc)
		})
		if err != nil {
			out.Err = errors.Join(out.Err, err)
			e.fail(ctx, "incident", esc, err)
		} else {
			out.IncidentCreated = created
			if created {
				e.publish(ctx, "incident.created", inc)
			}
		}
	}
	return out
}

func (e *Emitter) write(ctx context.Context, kind string, fn func() (bool, error)) (bool, error) {
	var created bool
	err := e.backoff.Do(ctx, func() error {
		var err error
		created, err = fn()
		return err
	})
	if err != nil {
		escalationWrites.WithLabelValues(kind, "failed").Inc()
		return false, err
	}
	if created {
		escalationWrites.WithLabelValues(kind, "created").Inc()
	} else {
		escalationWrites.WithLabelValues(kind, "deduped").Inc()
	}
	return created, nil
}

func (e *Emitter) fail(ctx context.Context, kind string, esc Escalation, err error) {
	e.errLog.Error("escalation write failed",
		"kind", kind,
		"system_id", esc.SystemID,
		"trace_id", esc.TraceID,
		"dedupe_key", esc.DedupeKey,
		"severity", string(esc.Severity),
		"error", err,
	)
	logging.L(ctx).Warn("escalation dropped", "kind", kind, "system_id", esc.SystemID)
}

type event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (e *Emitter) publish(ctx context.Context, eventType string, data any) {
	if e.pub == nil {
		return
	}
	payload, err := json.Marshal(event{Type: eventType, Data: data})
	if err != nil {
		e.logger.Warn("escalation event marshal failed", "type", eventType, "error", err)
		return
	}
	if err := e.pub.Publish(ctx, e.subject, payload); err != nil {
		escalationPublishErrors.Inc()
		e.logger.Warn("escalation publish failed", "type", eventType, "subject", e.subject, "error", err)
	}
}
