package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes escalation events on a core NATS connection.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("govgate"),
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("escalation: connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

// Publish implements Publisher. Core NATS publish is asynchronous; ctx is
// only checked before sending.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.conn.Publish(subject, data)
}

// Conn exposes the connection for health checks.
func (p *NATSPublisher) Conn() *nats.Conn {
	return p.conn
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
