package allocator

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/ctib-core/Pulley/internal/xmsg"
	"github.com/google/uuid"
)

// RequestState tracks the lifecycle of a dispatched remote operation.
// There is no timeout state: a request that never receives a response
// stays Dispatched forever, holding any pre-committed allocation until
// manually compensated.
type RequestState int32

const (
	RequestStateDispatched RequestState = iota
	RequestStateResolved
	RequestStateReplayRejected
)

func (s RequestState) String() string {
	switch s {
	case RequestStateDispatched:
		return "Dispatched"
	case RequestStateResolved:
		return "Resolved"
	case RequestStateReplayRejected:
		return "ReplayRejected"
	default:
		return "Unknown"
	}
}

// CrossChainRequest is the stored record of one remote dispatch.
type CrossChainRequest struct {
	ID          xmsg.RequestID
	Destination string
	Type        xmsg.MessageType
	Asset       string
	Amount      int64
	Timestamp   time.Time
	State       RequestState
}

// ProcessedChecker is the durable second tier behind the in-memory
// processed-request set, so replay protection survives restarts. A nil
// checker leaves only the in-memory tier.
type ProcessedChecker interface {
	IsProcessed(ctx context.Context, id xmsg.RequestID) (bool, error)
	MarkProcessed(ctx context.Context, req *CrossChainRequest) error
}

// deriveRequestID hashes the dispatch parameters plus a monotonic nonce.
// The nonce alone guarantees per-dispatch uniqueness; the rest binds the
// ID to what was actually dispatched.
func deriveRequestID(
	allocator uuid.UUID,
	destination string,
	msgType xmsg.MessageType,
	asset string,
	amount, nonce int64,
	ts time.Time,
) xmsg.RequestID {
	h := sha256.New()
	h.Write(allocator[:])
	h.Write([]byte(destination))

	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(msgType))
	h.Write(buf[:4])
	h.Write([]byte(asset))
	binary.LittleEndian.PutUint64(buf[:], uint64(amount))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(nonce))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(ts.UnixMicro()))
	h.Write(buf[:])

	var id xmsg.RequestID
	copy(id[:], h.Sum(nil))
	return id
}
