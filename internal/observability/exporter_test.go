package observability

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ctib-core/Pulley/internal/event"
)

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

// One registry per test binary: promauto registers globally, so all
// exporter assertions share this metrics instance.
func TestExporterProjectsEventStream(t *testing.T) {
	m := NewMetrics()
	input := make(chan event.Envelope, 16)
	exporter := NewExporter(m, input)

	done := make(chan struct{})
	go func() {
		exporter.Run(context.Background())
		close(done)
	}()

	input <- event.Envelope{
		Type: event.EventTypeLiquidityProvided,
		Payload: mustMarshal(t, map[string]interface{}{
			"asset": "USDC", "amount": int64(1_000),
		}),
	}
	input <- event.Envelope{
		Type: event.EventTypeTradingLossRecorded,
		Payload: mustMarshal(t, map[string]interface{}{
			"loss": int64(250), "covered": true,
		}),
	}
	input <- event.Envelope{
		Type: event.EventTypeCoverageBurned,
		Payload: mustMarshal(t, map[string]interface{}{
			"amount": int64(250),
		}),
	}
	input <- event.Envelope{
		Type: event.EventTypeFundsAllocated,
		Payload: mustMarshal(t, map[string]interface{}{
			"asset": "USDC", "amount": int64(10_000),
			"insurance": int64(1_000), "vault": int64(4_500), "limit_order": int64(4_500),
		}),
	}
	input <- event.Envelope{
		Type: event.EventTypeCrossChainDispatched,
		Payload: mustMarshal(t, map[string]interface{}{
			"request_id": "aa", "type": "VaultDeposit",
		}),
	}
	input <- event.Envelope{
		Type: event.EventTypeCrossChainResolved,
		Payload: mustMarshal(t, map[string]interface{}{
			"request_id": "aa", "success": true, "amount": int64(40),
		}),
	}
	input <- event.Envelope{Type: event.EventTypeCrossChainReplayRejected}
	// Malformed payload is skipped, not fatal
	input <- event.Envelope{Type: event.EventTypeTradingProfitRecorded, Payload: []byte("{")}
	close(input)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("exporter did not drain")
	}

	if got := testutil.ToFloat64(m.LiquidityProvided.WithLabelValues("USDC")); got != 1_000 {
		t.Errorf("liquidity provided = %v, want 1000", got)
	}
	if got := testutil.ToFloat64(m.TradingLosses); got != 250 {
		t.Errorf("trading losses = %v, want 250", got)
	}
	if got := testutil.ToFloat64(m.CoverageBurns); got != 1 {
		t.Errorf("coverage burns = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CoverageBurnedAmount); got != 250 {
		t.Errorf("coverage burned amount = %v, want 250", got)
	}
	if got := testutil.ToFloat64(m.FundsAllocated.WithLabelValues("vault")); got != 4_500 {
		t.Errorf("vault allocation counter = %v, want 4500", got)
	}
	if got := testutil.ToFloat64(m.RequestsDispatched.WithLabelValues("VaultDeposit")); got != 1 {
		t.Errorf("dispatched = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RequestsResolved.WithLabelValues("success")); got != 1 {
		t.Errorf("resolved = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ReplaysRejected); got != 1 {
		t.Errorf("replays rejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TradingProfits); got != 0 {
		t.Errorf("profits after malformed payload = %v, want 0", got)
	}
}
