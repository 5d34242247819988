package allocator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ctib-core/Pulley/internal/allocator"
	"github.com/ctib-core/Pulley/internal/assets"
	"github.com/ctib-core/Pulley/internal/engine"
	"github.com/ctib-core/Pulley/internal/event"
	"github.com/ctib-core/Pulley/internal/pool"
	"github.com/ctib-core/Pulley/internal/token"
	"github.com/ctib-core/Pulley/internal/xmsg"
	"github.com/google/uuid"
)

const (
	testAsset   = "USDC"
	remoteVenue = "nest-vault-1"
)

type fixture struct {
	alloc   *allocator.CrossChainAllocator
	ledger  *pool.TradingLedger
	eng     *engine.LiquidityEngine
	tok     *token.StableValueToken
	custody *assets.MemoryCustody
	lb      *xmsg.Loopback
	rec     *event.MemoryRecorder
	admin   uuid.UUID
	allocID uuid.UUID
}

func newFixture(t *testing.T, durable allocator.ProcessedChecker) *fixture {
	t.Helper()

	f := &fixture{
		admin:   uuid.New(),
		allocID: uuid.New(),
		custody: assets.NewMemoryCustody(),
		lb:      xmsg.NewLoopback(),
		rec:     event.NewMemoryRecorder(),
	}

	engineID, crossChain, poolID := uuid.New(), uuid.New(), uuid.New()

	f.tok = token.NewStableValueToken(f.admin, event.NopRecorder{})
	if err := f.tok.SetEngine(f.admin, engineID); err != nil {
		t.Fatal(err)
	}
	if err := f.tok.SetCrossChain(f.admin, crossChain); err != nil {
		t.Fatal(err)
	}

	f.eng = engine.NewLiquidityEngine(engineID, crossChain, f.tok, f.custody, nil, event.NopRecorder{})
	if err := f.eng.SetAssetAllowed(f.admin, testAsset, true); err != nil {
		t.Fatal(err)
	}

	f.ledger = pool.NewTradingLedger(poolID, uuid.New(), f.eng, f.custody, nil, event.NopRecorder{}, pool.SweepConfig{})
	if err := f.ledger.SetAssetSupported(f.admin, testAsset, true); err != nil {
		t.Fatal(err)
	}

	f.alloc = allocator.NewCrossChainAllocator(
		f.allocID, "pulley-local", f.eng, f.ledger, f.custody, nil, f.rec, f.lb, durable)
	if err := f.alloc.SetSupportedAsset(f.admin, testAsset, true); err != nil {
		t.Fatal(err)
	}
	return f
}

// receiveFunds credits the allocator and runs the three-way split.
func (f *fixture) receiveFunds(t *testing.T, amount int64) {
	t.Helper()
	f.custody.Credit(f.allocID, testAsset, amount)
	if err := f.alloc.ReceiveFundsFromTradingPool(context.Background(), f.admin); err != nil {
		t.Fatal(err)
	}
}

func response(t *testing.T, id xmsg.RequestID, success bool, amount int64) []byte {
	t.Helper()
	raw, err := xmsg.Encode(xmsg.MessageTypeResponse, xmsg.ResponseData{
		RequestID: id, Success: success, Amount: amount,
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestReceiveFunds_SplitsExactly(t *testing.T) {
	f := newFixture(t, nil)
	f.receiveFunds(t, 10_000)

	insurance, vault, orders := f.alloc.Allocations()
	if insurance != 1_000 || vault != 4_500 || orders != 4_500 {
		t.Errorf("split = %d/%d/%d, want 1000/4500/4500", insurance, vault, orders)
	}
	if insurance+vault+orders != 10_000 {
		t.Error("split must sum exactly to the input")
	}
	if got := f.alloc.TotalInvested(); got != 10_000 {
		t.Errorf("TotalInvested = %d, want 10000", got)
	}
	// Insurance slice is forwarded to the engine immediately
	if got := f.eng.TotalInsuranceBacking(); got != 1_000 {
		t.Errorf("engine backing = %d, want 1000", got)
	}
	bal, _ := f.custody.Balance(context.Background(), f.allocID, testAsset)
	if bal != 9_000 {
		t.Errorf("allocator custody = %d, want 9000 after forwarding", bal)
	}
}

func TestReceiveFunds_RemainderToVault(t *testing.T) {
	f := newFixture(t, nil)
	f.receiveFunds(t, 10_003)

	insurance, vault, orders := f.alloc.Allocations()
	if insurance+vault+orders != 10_003 {
		t.Errorf("split %d/%d/%d does not sum to 10003", insurance, vault, orders)
	}
	if insurance != 1_000 {
		t.Errorf("insurance = %d, want 1000", insurance)
	}
	if orders != 4_501 {
		t.Errorf("orders = %d, want 4501", orders)
	}
}

func TestDeployToNestVault(t *testing.T) {
	f := newFixture(t, nil)
	f.receiveFunds(t, 10_000)
	ctx := context.Background()

	id, err := f.alloc.DeployToNestVault(ctx, f.admin, remoteVenue, testAsset, 3_000)
	if err != nil {
		t.Fatalf("DeployToNestVault: %v", err)
	}

	_, vault, _ := f.alloc.Allocations()
	if vault != 1_500 {
		t.Errorf("vault allocation = %d, want 1500 (pre-committed)", vault)
	}

	req, ok := f.alloc.Request(id)
	if !ok {
		t.Fatal("request not stored")
	}
	if req.State != allocator.RequestStateDispatched {
		t.Errorf("state = %s, want Dispatched", req.State)
	}
	if req.Destination != remoteVenue || req.Amount != 3_000 {
		t.Errorf("request = %+v", req)
	}

	sent := f.lb.Sent()
	if len(sent) != 1 || sent[0].Destination != remoteVenue {
		t.Fatalf("Sent() = %+v", sent)
	}

	// Over-allocation fails without dispatching
	if _, err := f.alloc.DeployToNestVault(ctx, f.admin, remoteVenue, testAsset, 1_501); !errors.Is(err, allocator.ErrInsufficientFunds) {
		t.Errorf("got %v, want ErrInsufficientFunds", err)
	}
	if len(f.lb.Sent()) != 1 {
		t.Error("failed deploy must not dispatch")
	}
}

func TestHandleResponse_VaultSuccess(t *testing.T) {
	f := newFixture(t, nil)
	f.receiveFunds(t, 10_000)
	ctx := context.Background()

	id, err := f.alloc.DeployToNestVault(ctx, f.admin, remoteVenue, testAsset, 3_000)
	if err != nil {
		t.Fatal(err)
	}

	profitsBefore := f.ledger.TotalTradingProfits()
	if err := f.alloc.HandleResponse(ctx, remoteVenue, response(t, id, true, 150)); err != nil {
		t.Fatalf("HandleResponse: %v", err)
	}

	if got := f.alloc.VaultProfit(); got != 150 {
		t.Errorf("VaultProfit = %d, want 150", got)
	}
	// Unconditional P&L report to the trading ledger
	if got := f.ledger.TotalTradingProfits() - profitsBefore; got != 150 {
		t.Errorf("ledger profit delta = %d, want 150", got)
	}
	req, _ := f.alloc.Request(id)
	if req.State != allocator.RequestStateResolved {
		t.Errorf("state = %s, want Resolved", req.State)
	}
}

func TestHandleResponse_VaultFailureCompensates(t *testing.T) {
	f := newFixture(t, nil)
	f.receiveFunds(t, 10_000)
	ctx := context.Background()

	id, err := f.alloc.DeployToNestVault(ctx, f.admin, remoteVenue, testAsset, 3_000)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.alloc.HandleResponse(ctx, remoteVenue, response(t, id, false, 0)); err != nil {
		t.Fatalf("HandleResponse: %v", err)
	}

	_, vault, _ := f.alloc.Allocations()
	if vault != 4_500 {
		t.Errorf("vault allocation = %d, want 4500 (restored)", vault)
	}
	if got := f.alloc.VaultProfit(); got != 0 {
		t.Errorf("VaultProfit = %d, want 0", got)
	}
}

func TestHandleResponse_Replay(t *testing.T) {
	f := newFixture(t, nil)
	f.receiveFunds(t, 10_000)
	ctx := context.Background()

	id, err := f.alloc.DeployToNestVault(ctx, f.admin, remoteVenue, testAsset, 3_000)
	if err != nil {
		t.Fatal(err)
	}

	resp := response(t, id, true, 150)
	if err := f.alloc.HandleResponse(ctx, remoteVenue, resp); err != nil {
		t.Fatal(err)
	}

	insBefore, vaultBefore, ordersBefore := f.alloc.Allocations()
	profitBefore := f.alloc.VaultProfit()
	ledgerProfitBefore := f.ledger.TotalTradingProfits()

	if err := f.alloc.HandleResponse(ctx, remoteVenue, resp); !errors.Is(err, allocator.ErrRequestAlreadyProcessed) {
		t.Fatalf("replay: got %v, want ErrRequestAlreadyProcessed", err)
	}

	// Replay must leave every counter unchanged
	ins, vault, orders := f.alloc.Allocations()
	if ins != insBefore || vault != vaultBefore || orders != ordersBefore {
		t.Error("replay changed allocations")
	}
	if f.alloc.VaultProfit() != profitBefore {
		t.Error("replay changed vault profit")
	}
	if f.ledger.TotalTradingProfits() != ledgerProfitBefore {
		t.Error("replay changed ledger profits")
	}
	if n := f.rec.CountOf(event.EventTypeCrossChainReplayRejected); n != 1 {
		t.Errorf("ReplayRejected events = %d, want 1", n)
	}
}

func TestHandleResponse_OriginMismatch(t *testing.T) {
	f := newFixture(t, nil)
	f.receiveFunds(t, 10_000)
	ctx := context.Background()

	id, err := f.alloc.DeployToNestVault(ctx, f.admin, remoteVenue, testAsset, 3_000)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.alloc.HandleResponse(ctx, "spoofed-venue", response(t, id, true, 150)); !errors.Is(err, allocator.ErrOriginMismatch) {
		t.Fatalf("got %v, want ErrOriginMismatch", err)
	}

	// A spoofed response must not consume the request
	if err := f.alloc.HandleResponse(ctx, remoteVenue, response(t, id, true, 150)); err != nil {
		t.Fatalf("genuine response after spoof attempt: %v", err)
	}
}

func TestHandleResponse_UnknownRequest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var id xmsg.RequestID
	id[0] = 0xAB
	if err := f.alloc.HandleResponse(ctx, remoteVenue, response(t, id, true, 1)); !errors.Is(err, allocator.ErrUnknownRequest) {
		t.Errorf("got %v, want ErrUnknownRequest", err)
	}
}

func TestLimitOrder_ThresholdDistribution(t *testing.T) {
	f := newFixture(t, nil)
	f.receiveFunds(t, 10_000)
	ctx := context.Background()

	if err := f.alloc.SetProfitThreshold(f.admin, 100); err != nil {
		t.Fatal(err)
	}

	id, err := f.alloc.ExecuteLimitOrder(ctx, f.admin, remoteVenue, testAsset, 2_000)
	if err != nil {
		t.Fatalf("ExecuteLimitOrder: %v", err)
	}
	// Orders do not pre-commit funds
	_, _, orders := f.alloc.Allocations()
	if orders != 4_500 {
		t.Errorf("order allocation = %d, want 4500", orders)
	}

	insBefore, _, _ := f.alloc.Allocations()
	if err := f.alloc.HandleResponse(ctx, remoteVenue, response(t, id, true, 200)); err != nil {
		t.Fatal(err)
	}

	// 200 >= threshold 100: bucket drained through the 1/99 split
	if got := f.alloc.LimitOrderProfit(); got != 0 {
		t.Errorf("LimitOrderProfit = %d, want 0 after distribution", got)
	}
	insAfter, _, _ := f.alloc.Allocations()
	if got := insAfter - insBefore; got != 2 {
		t.Errorf("insurance bucket delta = %d, want 2 (1%% of 200)", got)
	}
	if n := f.rec.CountOf(event.EventTypeProfitThresholdReached); n != 1 {
		t.Errorf("threshold events = %d, want 1", n)
	}
	if n := f.rec.CountOf(event.EventTypeRemoteProfitDistributed); n != 1 {
		t.Errorf("distribution events = %d, want 1", n)
	}
}

func TestProfitCheck_LossConsumesInsuranceBucket(t *testing.T) {
	f := newFixture(t, nil)
	f.receiveFunds(t, 10_000) // insurance bucket 1000

	// Give the pool enough value that the reported loss stays below the
	// coverage threshold (no engine involvement on the pool side).
	seedTrader := uuid.New()
	f.custody.Credit(seedTrader, testAsset, 50_000)
	ctx := context.Background()
	if err := f.ledger.DepositAsset(ctx, seedTrader, testAsset, 50_000); err != nil {
		t.Fatal(err)
	}

	id, err := f.alloc.CheckRemoteProfit(ctx, f.admin, remoteVenue, testAsset)
	if err != nil {
		t.Fatalf("CheckRemoteProfit: %v", err)
	}

	if err := f.alloc.HandleResponse(ctx, remoteVenue, response(t, id, true, -400)); err != nil {
		t.Fatal(err)
	}

	ins, _, _ := f.alloc.Allocations()
	if ins != 600 {
		t.Errorf("insurance bucket = %d, want 600 after covering 400", ins)
	}
	// The loss also lands in the trading ledger unconditionally
	if got := f.ledger.TotalTradingLosses(); got != 400 {
		t.Errorf("ledger losses = %d, want 400", got)
	}
	if got := f.ledger.TotalPoolValue(); got != 49_600 {
		t.Errorf("pool value = %d, want 49600", got)
	}
}

func TestProfitCheck_PartialCoverage(t *testing.T) {
	f := newFixture(t, nil)
	f.receiveFunds(t, 1_000) // insurance bucket 100

	seedTrader := uuid.New()
	f.custody.Credit(seedTrader, testAsset, 50_000)
	ctx := context.Background()
	if err := f.ledger.DepositAsset(ctx, seedTrader, testAsset, 50_000); err != nil {
		t.Fatal(err)
	}

	id, err := f.alloc.CheckRemoteProfit(ctx, f.admin, remoteVenue, testAsset)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.alloc.HandleResponse(ctx, remoteVenue, response(t, id, true, -250)); err != nil {
		t.Fatal(err)
	}

	ins, _, _ := f.alloc.Allocations()
	if ins != 0 {
		t.Errorf("insurance bucket = %d, want 0 (fully consumed)", ins)
	}
	if n := f.rec.CountOf(event.EventTypeRemoteLossCovered); n != 1 {
		t.Errorf("RemoteLossCovered events = %d, want 1", n)
	}
}

// memChecker is a durable-tier stand-in shared across allocator instances.
type memChecker struct {
	seen map[xmsg.RequestID]bool
}

func newMemChecker() *memChecker {
	return &memChecker{seen: make(map[xmsg.RequestID]bool)}
}

func (c *memChecker) IsProcessed(_ context.Context, id xmsg.RequestID) (bool, error) {
	return c.seen[id], nil
}

func (c *memChecker) MarkProcessed(_ context.Context, req *allocator.CrossChainRequest) error {
	c.seen[req.ID] = true
	return nil
}

func TestReplayProtection_SurvivesRestart(t *testing.T) {
	durable := newMemChecker()
	f := newFixture(t, durable)
	f.receiveFunds(t, 10_000)
	ctx := context.Background()

	id, err := f.alloc.DeployToNestVault(ctx, f.admin, remoteVenue, testAsset, 1_000)
	if err != nil {
		t.Fatal(err)
	}
	resp := response(t, id, true, 50)
	if err := f.alloc.HandleResponse(ctx, remoteVenue, resp); err != nil {
		t.Fatal(err)
	}

	// A fresh allocator sharing the durable tier rejects the replay even
	// without the in-memory request state.
	restarted := newFixture(t, durable)
	if err := restarted.alloc.HandleResponse(ctx, remoteVenue, resp); !errors.Is(err, allocator.ErrRequestAlreadyProcessed) {
		t.Errorf("post-restart replay: got %v, want ErrRequestAlreadyProcessed", err)
	}
}

func TestHandleResponse_Malformed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.alloc.HandleResponse(ctx, remoteVenue, []byte("{not json")); !errors.Is(err, allocator.ErrMalformedResponse) {
		t.Errorf("bad json: got %v, want ErrMalformedResponse", err)
	}

	raw, _ := xmsg.Encode(xmsg.MessageTypeVaultDeposit, xmsg.RequestData{})
	if err := f.alloc.HandleResponse(ctx, remoteVenue, raw); !errors.Is(err, allocator.ErrMalformedResponse) {
		t.Errorf("wrong type: got %v, want ErrMalformedResponse", err)
	}
}
