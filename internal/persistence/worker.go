package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/ctib-core/Pulley/internal/event"
	"github.com/ctib-core/Pulley/internal/observability"
)

// Worker drains the persist channel and batch-writes audit events to
// Postgres. The channel uses BLOCKING sends from the recorder, so if this
// worker falls behind the components stall — guaranteeing no audit event
// is lost.
//
// Cross-chain lifecycle events are additionally mirrored into
// audit.cross_chain_requests in the same transaction.
type Worker struct {
	writer       *AuditWriter
	inputChan    <-chan event.Envelope
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan event.Envelope,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewAuditWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Run batches incoming envelopes and flushes either when the batch is
// full or the flush timeout expires. Blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]event.Envelope, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case env, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			batch = append(batch, env)
			if len(batch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					log.Printf("ERROR: batch flush failed after retries: %v", err)
				}
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					log.Printf("ERROR: timeout flush failed after retries: %v", err)
				}
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never drops
// audit events — it retries until the write succeeds or the context is
// cancelled, and attempts one last flush on shutdown.
func (w *Worker) flushWithRetry(ctx context.Context, batch []event.Envelope) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: audit flush retry %d (backoff=%v, events=%d)",
				attempt, backoff, len(batch))
			select {
			case <-ctx.Done():
				if finalErr := w.flush(context.Background(), batch); finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: audit flush succeeded after %d retries", attempt)
			}
			return nil
		}

		if w.metrics != nil {
			w.metrics.PersistRetry.Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []event.Envelope) error {
	start := time.Now()

	rows := make([]EventRow, 0, len(batch))
	var requests []RequestRow
	for _, env := range batch {
		rows = append(rows, EventRow{
			Sequence:  env.Sequence,
			EventType: env.Type.String(),
			Component: env.Component,
			Payload:   env.Payload,
			Timestamp: env.Timestamp,
		})
		if r, ok := requestRowFor(env); ok {
			requests = append(requests, r)
		}
	}

	tx, err := w.writer.DB().BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteEventBatch(ctx, tx, rows); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_events").Inc()
		}
		return err
	}
	for _, r := range requests {
		if err := w.writer.UpsertRequest(ctx, tx, r); err != nil {
			if w.metrics != nil {
				w.metrics.PersistErrors.WithLabelValues("write_requests").Inc()
			}
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(rows)))
		w.metrics.PersistEventsWritten.Add(float64(len(rows)))
		w.metrics.PersistLastSequence.Set(float64(rows[len(rows)-1].Sequence))
	}
	return nil
}

// dispatchedPayload matches the allocator's dispatch event payload.
type dispatchedPayload struct {
	RequestID   string `json:"request_id"`
	Destination string `json:"destination"`
	Type        string `json:"type"`
	Asset       string `json:"asset"`
	Amount      int64  `json:"amount"`
}

// resolvedPayload matches the allocator's response event payload.
type resolvedPayload struct {
	RequestID string `json:"request_id"`
	Origin    string `json:"origin"`
}

// requestRowFor derives the request-table mirror row from a cross-chain
// lifecycle envelope, if it is one.
func requestRowFor(env event.Envelope) (RequestRow, bool) {
	switch env.Type {
	case event.EventTypeCrossChainDispatched:
		var p dispatchedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Printf("WARN: malformed dispatch payload seq=%d: %v", env.Sequence, err)
			return RequestRow{}, false
		}
		return RequestRow{
			RequestID:   p.RequestID,
			Destination: p.Destination,
			MessageType: p.Type,
			Asset:       p.Asset,
			Amount:      p.Amount,
			State:       "Dispatched",
			UpdatedAt:   env.Timestamp,
		}, true

	case event.EventTypeCrossChainResolved, event.EventTypeCrossChainReplayRejected:
		var p resolvedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Printf("WARN: malformed response payload seq=%d: %v", env.Sequence, err)
			return RequestRow{}, false
		}
		state := "Resolved"
		if env.Type == event.EventTypeCrossChainReplayRejected {
			state = "ReplayRejected"
		}
		return RequestRow{
			RequestID:   p.RequestID,
			Destination: p.Origin,
			MessageType: "",
			State:       state,
			UpdatedAt:   env.Timestamp,
		}, true
	}
	return RequestRow{}, false
}
