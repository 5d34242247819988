package xmsg

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// MessageType discriminates remote-operation payloads. Wire payloads are
// (type, data) tuples; the data encoding behind the tuple is the codec
// boundary — remote venues never see component internals.
type MessageType int32

const (
	MessageTypeUnknown MessageType = iota
	MessageTypeVaultDeposit
	MessageTypeLimitOrder
	MessageTypeProfitCheck
	MessageTypeResponse
)

func (mt MessageType) String() string {
	switch mt {
	case MessageTypeVaultDeposit:
		return "VaultDeposit"
	case MessageTypeLimitOrder:
		return "LimitOrder"
	case MessageTypeProfitCheck:
		return "ProfitCheck"
	case MessageTypeResponse:
		return "Response"
	default:
		return "Unknown"
	}
}

// RequestID correlates a dispatched remote operation with its response.
// Derived from a hash over the dispatch parameters plus a monotonic nonce,
// so it is unique per dispatch.
type RequestID [32]byte

func (id RequestID) String() string { return hex.EncodeToString(id[:]) }

func (id RequestID) IsZero() bool { return id == RequestID{} }

func (id RequestID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *RequestID) UnmarshalText(b []byte) error {
	raw, err := hex.DecodeString(string(b))
	if err != nil {
		return fmt.Errorf("request id: %w", err)
	}
	if len(raw) != len(id) {
		return fmt.Errorf("request id: want %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return nil
}

// ParseRequestID decodes the hex form produced by String.
func ParseRequestID(s string) (RequestID, error) {
	var id RequestID
	err := id.UnmarshalText([]byte(s))
	return id, err
}

// Payload is the decoded (type, data) wire tuple.
type Payload struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode builds the wire form of a (type, data) tuple.
func Encode(t MessageType, v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", t, err)
	}
	raw, err := json.Marshal(Payload{Type: t, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return raw, nil
}

// Decode parses a wire payload back into its (type, data) tuple.
func Decode(b []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

// DecodeData unmarshals the tuple's data half into v.
func (p Payload) DecodeData(v interface{}) error {
	if err := json.Unmarshal(p.Data, v); err != nil {
		return fmt.Errorf("decode %s data: %w", p.Type, err)
	}
	return nil
}

// RequestData is the data half of an outbound remote operation.
type RequestData struct {
	RequestID RequestID `json:"request_id"`
	Asset     string    `json:"asset"`
	Amount    int64     `json:"amount"`
}

// ResponseData is the data half of an inbound remote result. Amount is the
// signed outcome: positive profit, negative loss, zero for pure acks.
type ResponseData struct {
	RequestID RequestID `json:"request_id"`
	Success   bool      `json:"success"`
	Amount    int64     `json:"amount"`
}
