package event

import (
	"encoding/json"
	"sync"
	"time"
)

// Recorder receives audit events from the core components. Implementations
// must tolerate being called under component locks, so Record must not
// call back into any component.
type Recorder interface {
	Record(eventType EventType, component string, payload interface{})
}

// ChannelRecorder assigns sequence numbers and fans envelopes out to a
// blocking persist channel and a non-blocking publish channel. The persist
// send blocks so no audit event is lost; the publish send drops on full
// since downstream consumers can rebuild from the audit log.
type ChannelRecorder struct {
	mu       sync.Mutex
	sequence int64

	persistChan chan<- Envelope
	publishChan chan<- Envelope
}

func NewChannelRecorder(persistChan, publishChan chan<- Envelope) *ChannelRecorder {
	return &ChannelRecorder{
		persistChan: persistChan,
		publishChan: publishChan,
	}
}

func (r *ChannelRecorder) Record(eventType EventType, component string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payloads are plain structs of scalars; a marshal failure is a
		// programming error, not a runtime condition. Record the envelope
		// without a payload rather than dropping the event.
		data = nil
	}

	r.mu.Lock()
	seq := r.sequence
	r.sequence++
	r.mu.Unlock()

	env := Envelope{
		Sequence:  seq,
		Type:      eventType,
		Component: component,
		Payload:   data,
		Timestamp: time.Now(),
	}

	if r.persistChan != nil {
		r.persistChan <- env
	}

	if r.publishChan != nil {
		select {
		case r.publishChan <- env:
		default:
			// Dropped — publisher consumers catch up from the audit log
		}
	}
}

// Sequence returns the next sequence number to be assigned.
func (r *ChannelRecorder) Sequence() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sequence
}

// NopRecorder discards all events. Used in tests that do not assert on
// the audit stream.
type NopRecorder struct{}

func (NopRecorder) Record(EventType, string, interface{}) {}

// MemoryRecorder collects envelopes in memory for test assertions.
type MemoryRecorder struct {
	mu        sync.Mutex
	Envelopes []Envelope
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(eventType EventType, component string, payload interface{}) {
	data, _ := json.Marshal(payload)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.Envelopes = append(r.Envelopes, Envelope{
		Sequence:  int64(len(r.Envelopes)),
		Type:      eventType,
		Component: component,
		Payload:   data,
		Timestamp: time.Now(),
	})
}

// CountOf returns how many recorded envelopes carry the given type.
func (r *MemoryRecorder) CountOf(eventType EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, env := range r.Envelopes {
		if env.Type == eventType {
			n++
		}
	}
	return n
}

// Last returns the most recently recorded envelope, or nil if none.
func (r *MemoryRecorder) Last() *Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.Envelopes) == 0 {
		return nil
	}
	env := r.Envelopes[len(r.Envelopes)-1]
	return &env
}
