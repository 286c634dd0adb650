// Package events publishes run progress and summaries to NATS JetStream so
// external observers can follow a backup without holding a callback into the
// pipeline. Delivery is fire-and-forget; losing an event is acceptable.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const streamName = "COMMKEEP_BACKUP"

// Publisher wraps NATS JetStream for publishing backup events.
type Publisher struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewPublisher connects to NATS and sets up a JetStream context.
func NewPublisher(url string) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	return &Publisher{nc: nc, js: js}, nil
}

// EnsureStream ensures the backup event stream exists.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	info, err := p.js.StreamInfo(streamName)
	if err == nil && info != nil {
		return nil
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:       streamName,
		Subjects:   []string{"backup.*.>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     7 * 24 * time.Hour,
	})
	if err != nil {
		if err == nats.ErrStreamNameAlreadyInUse {
			return nil
		}
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Progress publishes one progress notification. The dedup id folds repeated
// publishes of the same acknowledgement into one event.
func (p *Publisher) Progress(account string, stream string, lastID int64, payload any) error {
	subject := fmt.Sprintf("backup.%s.progress", account)
	msgID := fmt.Sprintf("progress|%s|%s|%d", account, stream, lastID)
	return p.publish(subject, payload, msgID)
}

// Summary publishes the final report of one run.
func (p *Publisher) Summary(account string, payload any) error {
	subject := fmt.Sprintf("backup.%s.summary", account)
	msgID := fmt.Sprintf("summary|%s|%s", account, uuid.NewString())
	return p.publish(subject, payload, msgID)
}

func (p *Publisher) publish(subject string, payload any, msgID string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := p.js.Publish(subject, data, nats.MsgId(msgID)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
