package xmsg

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamName holds all cross-venue traffic, one subject per destination.
const StreamName = "PULLEY_XMSG"

// frame is the wire wrapper carrying the sender identity alongside the
// (type, data) payload.
type frame struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

// NATSMessenger carries cross-venue messages over JetStream. Each venue
// listens on pulley.xmsg.<venue>; JetStream's redelivery gives the
// at-least-once contract, and the allocator's replay protection absorbs
// the duplicates that contract implies.
type NATSMessenger struct {
	js       jetstream.JetStream
	localID  string
	consumer jetstream.ConsumeContext
}

func NewNATSMessenger(js jetstream.JetStream, localID string) *NATSMessenger {
	return &NATSMessenger{js: js, localID: localID}
}

func (m *NATSMessenger) Send(ctx context.Context, destination string, payload []byte) error {
	data, err := json.Marshal(frame{Origin: m.localID, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	subject := fmt.Sprintf("pulley.xmsg.%s", destination)
	if _, err := m.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe consumes the local venue's subject and feeds each inbound
// frame to handler. Explicit ACK after the handler returns; handler
// panics are not recovered.
func (m *NATSMessenger) Subscribe(ctx context.Context, handler Handler) error {
	consumer, err := m.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       fmt.Sprintf("xmsg-%s", m.localID),
		FilterSubject: fmt.Sprintf("pulley.xmsg.%s", m.localID),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create xmsg consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var f frame
		if err := json.Unmarshal(msg.Data(), &f); err != nil {
			log.Printf("WARN: malformed xmsg frame on %s: %v", msg.Subject(), err)
			msg.Ack() // poison message, redelivery cannot help
			return
		}
		handler(f.Origin, f.Payload)
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume xmsg: %w", err)
	}

	m.consumer = cc
	log.Printf("INFO: xmsg listening as %s", m.localID)
	return nil
}

// Stop halts the inbound consumer.
func (m *NATSMessenger) Stop() {
	if m.consumer != nil {
		m.consumer.Stop()
	}
}

// EnsureStream creates the cross-venue stream if it doesn't exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"pulley.xmsg.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
