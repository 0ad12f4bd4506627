package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Subjects for bridge lifecycle events.
const (
	SubjectDepositConfirmed = "bridge.deposit.confirmed"
	SubjectDepositAllocated = "bridge.deposit.allocated"
	SubjectClaimSigned      = "bridge.claim.signed"
	SubjectQueueStatus      = "bridge.queue.status"
	SubjectRefundRequested  = "bridge.queue.refund_requested"
)

// Event is the envelope published on every subject.
type Event struct {
	ID        string      `json:"id"`
	Subject   string      `json:"subject"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Publisher publishes lifecycle events to NATS. A nil Publisher is valid and
// drops everything, so the core runs without a broker.
type Publisher struct {
	conn   *nats.Conn
	logger *logrus.Logger
}

// Connect dials NATS. An empty URL returns a nil publisher.
func Connect(url string, reconnectWait time.Duration, maxReconnects int, logger *logrus.Logger) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	conn, err := nats.Connect(url,
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, logger: logger}, nil
}

// Publish sends the payload on subject. Publishing is best-effort: a broker
// failure is logged, never propagated into the request path.
func (p *Publisher) Publish(subject string, payload interface{}) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(Event{
		ID:        uuid.New().String(),
		Subject:   subject,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		p.logger.WithError(err).WithField("subject", subject).Warn("event marshal failed")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.WithError(err).WithField("subject", subject).Warn("event publish failed")
	}
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
}
