package persistence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ctib-core/Pulley/internal/allocator"
	"github.com/ctib-core/Pulley/internal/event"
	"github.com/ctib-core/Pulley/internal/testutil"
	"github.com/ctib-core/Pulley/internal/xmsg"
)

func TestWorkerPersistsBatch(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	if err := NewMigrator(db, "../../migrations").Up(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	input := make(chan event.Envelope, 16)
	worker := NewWorker(db, input, 4, 5*time.Millisecond, nil)

	done := make(chan struct{})
	go func() {
		worker.Run(context.Background())
		close(done)
	}()

	dispatch, _ := json.Marshal(map[string]interface{}{
		"request_id":  "aa11",
		"destination": "nest-vault-1",
		"type":        "VaultDeposit",
		"asset":       "USDC",
		"amount":      int64(500),
	})
	resolve, _ := json.Marshal(map[string]interface{}{
		"request_id": "aa11",
		"origin":     "nest-vault-1",
	})

	now := time.Now()
	input <- event.Envelope{Sequence: 0, Type: event.EventTypeTokensMinted, Component: "token", Timestamp: now}
	input <- event.Envelope{Sequence: 1, Type: event.EventTypeCrossChainDispatched, Component: "allocator", Payload: dispatch, Timestamp: now}
	input <- event.Envelope{Sequence: 2, Type: event.EventTypeCrossChainResolved, Component: "allocator", Payload: resolve, Timestamp: now}
	close(input)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not drain")
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM audit.events`).Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 3 {
		t.Errorf("events = %d, want 3", count)
	}

	var state string
	err := db.QueryRow(`SELECT state FROM audit.cross_chain_requests WHERE request_id = 'aa11'`).Scan(&state)
	if err != nil {
		t.Fatalf("request row: %v", err)
	}
	if state != "Resolved" {
		t.Errorf("state = %q, want Resolved", state)
	}
}

func TestWriterIdempotentOnConflict(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	writer := NewAuditWriter(db)
	rows := []EventRow{
		{Sequence: 10, EventType: "TokensMinted", Component: "token", Timestamp: time.Now()},
	}

	for i := 0; i < 2; i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := writer.WriteEventBatch(ctx, tx, rows); err != nil {
			t.Fatalf("write batch: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM audit.events WHERE sequence = 10`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("duplicate flush wrote %d rows, want 1", count)
	}
}

func TestRequestCheckerRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	checker := NewRequestChecker(db)

	var id xmsg.RequestID
	id[0] = 0xAB

	processed, err := checker.IsProcessed(ctx, id)
	if err != nil {
		t.Fatalf("is processed: %v", err)
	}
	if processed {
		t.Fatal("unmarked request reported processed")
	}

	req := &allocator.CrossChainRequest{
		ID:          id,
		Destination: "nest-vault-1",
		Type:        xmsg.MessageTypeVaultDeposit,
		Asset:       "USDC",
		Amount:      500,
	}
	if err := checker.MarkProcessed(ctx, req); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	// Marking twice is a no-op
	if err := checker.MarkProcessed(ctx, req); err != nil {
		t.Fatalf("re-mark processed: %v", err)
	}

	processed, err = checker.IsProcessed(ctx, id)
	if err != nil {
		t.Fatalf("is processed: %v", err)
	}
	if !processed {
		t.Error("marked request not reported processed")
	}
}
