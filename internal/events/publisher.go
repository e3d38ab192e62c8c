package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher emits domain events. Publish returns once the payload has been
// durably accepted by the bus.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
}

// JetStreamPublisher publishes JSON payloads to JetStream, retrying transient
// failures with backoff. Duplicates are acceptable downstream.
type JetStreamPublisher struct {
	js       jetstream.JetStream
	attempts int
	backoff  time.Duration
}

func NewJetStreamPublisher(js jetstream.JetStream) *JetStreamPublisher {
	return &JetStreamPublisher{
		js:       js,
		attempts: 3,
		backoff:  100 * time.Millisecond,
	}
}

func (p *JetStreamPublisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", subject, err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if _, err := p.js.Publish(ctx, subject, data); err == nil {
			return nil
		} else {
			lastErr = err
			log.Printf("[NATS] publish to %s failed (attempt %d/%d): %v", subject, attempt, p.attempts, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff * time.Duration(attempt)):
		}
	}

	return fmt.Errorf("publish to %s: %w", subject, lastErr)
}
