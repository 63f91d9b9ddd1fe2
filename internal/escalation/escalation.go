// Package escalation raises human-review items and incidents for blocking
// gateway decisions. Writes are best-effort: a failed escalation is logged
// and counted but never changes the decision already made.
package escalation

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidSeverity = errors.New("escalation: invalid severity")

// Severity orders how urgently a human must look at an item.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SLA returns the review deadline offset for the severity.
func (s Severity) SLA() time.Duration {
	switch s {
	case SeverityCritical:
		return 4 * time.Hour
	case SeverityHigh:
		return 24 * time.Hour
	case SeverityMedium:
		return 72 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ReviewItem is a human-in-the-loop work item.
type ReviewItem struct {
	ID          string         `json:"id"`
	SystemID    string         `json:"systemId"`
	DedupeKey   string         `json:"dedupeKey"`
	Title       string         `json:"title"`
	Severity    Severity       `json:"severity"`
	Status      string         `json:"status"`
	SLADeadline time.Time      `json:"slaDeadline"`
	Context     map[string]any `json:"context,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Incident is raised for critical outcomes.
type Incident struct {
	ID        string    `json:"id"`
	SystemID  string    `json:"systemId"`
	DedupeKey string    `json:"dedupeKey"`
	Title     string    `json:"title"`
	Severity  Severity  `json:"severity"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Item statuses written by the gateway.
const (
	StatusPending = "pending"
	StatusOpen    = "open"
)

// Incident types.
const (
	IncidentAutoLock      = "auto_lock"
	IncidentContentSafety = "content_safety"
	IncidentCompliance    = "compliance"
)

// Store persists review items and incidents. Both creates are
// insert-if-absent on the dedupe key among pending items / open incidents
// and report whether a row was written.
type Store interface {
	CreateReviewItem(ctx context.Context, item *ReviewItem) (bool, error)
	CreateIncident(ctx context.Context, inc *Incident) (bool, error)
}

// Publisher delivers escalation events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Escalation describes one thing a human should look at.
type Escalation struct {
	SystemID  string
	TraceID   string
	Title     string
	Severity  Severity
	DedupeKey string
	Context   map[string]any
	// Incident raises an Incident alongside the review item. Critical
	// severity always raises one.
	Incident     bool
	IncidentType string
}

// Outcome reports what an Escalate call actually wrote.
type Outcome struct {
	ReviewCreated   bool
	IncidentCreated bool
	Err             error
}
