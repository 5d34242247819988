package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// OutboundPublisher drains the publish channel and republishes audit
// envelopes to NATS for downstream consumers. Subjects follow the
// pattern pulley.events.{event_type}. A failed publish is non-fatal:
// consumers can always catch up from the audit log in Postgres.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan Envelope
}

// outboundEvent is the wire form of a published envelope.
type outboundEvent struct {
	Sequence  int64           `json:"sequence"`
	EventType string          `json:"event_type"`
	Component string          `json:"component"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan Envelope) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the publisher loop. Blocks until ctx is cancelled or the
// channel closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, env); err != nil {
				log.Printf("WARN: outbound publish failed seq=%d: %v", env.Sequence, err)
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(outboundEvent{
		Sequence:  env.Sequence,
		EventType: env.Type.String(),
		Component: env.Component,
		Payload:   env.Payload,
		Timestamp: env.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("pulley.events.%s", env.Type.String())
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "PULLEY_EVENTS",
		Subjects:  []string{"pulley.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream PULLEY_EVENTS")
	return nil
}
