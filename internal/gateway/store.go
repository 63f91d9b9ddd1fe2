package gateway

import (
	"context"
	"time"
)

// RequestLog is the immutable record of one admission decision.
type RequestLog struct {
	ID         string             `json:"id"`
	TraceID    string             `json:"traceId"`
	SystemID   string             `json:"systemId"`
	Decision   Decision           `json:"decision"`
	Stage      Stage              `json:"stage"`
	Reason     string             `json:"reason,omitempty"`
	StatusCode int                `json:"statusCode"`
	LatencyMs  int64              `json:"latencyMs"`
	Scores     map[string]float64 `json:"scores,omitempty"`
	Provider   string             `json:"provider,omitempty"`
	Model      string             `json:"model,omitempty"`
	Fallback   bool               `json:"fallback"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// LogStore persists decision logs. Entries are append-only.
type LogStore interface {
	CreateLog(ctx context.Context, entry *RequestLog) error
	ListLogs(ctx context.Context, systemID string, limit int) ([]*RequestLog, error)
}
