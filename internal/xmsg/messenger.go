package xmsg

import (
	"context"
	"sync"
)

// Messenger is the opaque remote channel: at-least-once delivery,
// unordered across distinct requests, no delivery deadline. The caller
// correlates responses purely by request ID.
type Messenger interface {
	Send(ctx context.Context, destination string, payload []byte) error
}

// Handler receives inbound messages as (origin, payload).
type Handler func(origin string, payload []byte)

// SentMessage is one captured Loopback dispatch.
type SentMessage struct {
	Destination string
	Payload     []byte
}

// Loopback is an in-process Messenger that captures sends for inspection
// and lets tests inject inbound messages. It performs no delivery of its
// own.
type Loopback struct {
	mu      sync.Mutex
	sent    []SentMessage
	handler Handler
}

func NewLoopback() *Loopback {
	return &Loopback{}
}

func (l *Loopback) Send(_ context.Context, destination string, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, SentMessage{Destination: destination, Payload: payload})
	return nil
}

// SetHandler installs the inbound handler used by Deliver.
func (l *Loopback) SetHandler(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

// Deliver injects an inbound message as if it arrived from origin.
func (l *Loopback) Deliver(origin string, payload []byte) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h != nil {
		h(origin, payload)
	}
}

// Sent returns a copy of all captured dispatches.
func (l *Loopback) Sent() []SentMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]SentMessage, len(l.sent))
	copy(out, l.sent)
	return out
}
