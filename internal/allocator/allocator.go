package allocator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ctib-core/Pulley/internal/assets"
	"github.com/ctib-core/Pulley/internal/engine"
	"github.com/ctib-core/Pulley/internal/event"
	fpmath "github.com/ctib-core/Pulley/internal/math"
	"github.com/ctib-core/Pulley/internal/permission"
	"github.com/ctib-core/Pulley/internal/pool"
	"github.com/ctib-core/Pulley/internal/xmsg"
	"github.com/google/uuid"
)

var (
	ErrZeroAmount              = errors.New("zero amount")
	ErrInsufficientFunds       = errors.New("insufficient allocation")
	ErrRequestAlreadyProcessed = errors.New("request already processed")
	ErrOriginMismatch          = errors.New("response origin mismatch")
	ErrUnknownRequest          = errors.New("unknown request")
	ErrMalformedResponse       = errors.New("malformed response")
)

// CrossChainAllocator splits funds received from the trading pool into
// three fixed-percentage buckets, dispatches asynchronous operations to
// remote venues, and reconciles their responses idempotently.
//
// Dispatch and response are separate calls correlated only by request ID.
// The replay check and mark-as-processed are one atomic step under the
// allocator mutex.
type CrossChainAllocator struct {
	mu sync.Mutex

	id         uuid.UUID // custody account
	localVenue string    // messaging identity

	eng       *engine.LiquidityEngine
	ledger    *pool.TradingLedger
	custody   assets.Custody
	registry  *assets.Registry
	gate      permission.Gate
	recorder  event.Recorder
	messenger xmsg.Messenger
	durable   ProcessedChecker // optional second tier

	nonce     int64
	requests  map[xmsg.RequestID]*CrossChainRequest
	processed *processedLRU

	insuranceAllocation  int64
	vaultAllocation      int64
	limitOrderAllocation int64
	totalInvested        int64

	vaultProfit      int64
	limitOrderProfit int64
	profitThreshold  int64
}

func NewCrossChainAllocator(
	id uuid.UUID,
	localVenue string,
	eng *engine.LiquidityEngine,
	ledger *pool.TradingLedger,
	custody assets.Custody,
	gate permission.Gate,
	recorder event.Recorder,
	messenger xmsg.Messenger,
	durable ProcessedChecker,
) *CrossChainAllocator {
	if recorder == nil {
		recorder = event.NopRecorder{}
	}
	return &CrossChainAllocator{
		id:         id,
		localVenue: localVenue,
		eng:        eng,
		ledger:     ledger,
		custody:    custody,
		registry:   assets.NewRegistry(),
		gate:       gate,
		recorder:   recorder,
		messenger:  messenger,
		durable:    durable,
		requests:   make(map[xmsg.RequestID]*CrossChainRequest),
		processed:  newProcessedLRU(processedCapacity),
	}
}

// ID returns the allocator's custody account identity.
func (a *CrossChainAllocator) ID() uuid.UUID { return a.id }

// ReceiveFundsFromTradingPool splits the allocator's current balance of
// every supported asset 10/45/45 into the insurance, vault, and limit-order
// buckets, forwarding the insurance slice to the engine immediately.
//
// The split is computed against the balance at call time — callers must
// not run it concurrently with an unsettled deposit.
func (a *CrossChainAllocator) ReceiveFundsFromTradingPool(ctx context.Context, caller uuid.UUID) error {
	if err := permission.Check(a.gate, caller, permission.OpReceiveFunds); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, asset := range a.registry.List() {
		balance, err := a.custody.Balance(ctx, a.id, asset)
		if err != nil {
			return fmt.Errorf("allocator balance %s: %w", asset, err)
		}
		if balance <= 0 {
			continue
		}

		split := fpmath.SplitFunds(balance)
		a.insuranceAllocation += split.Insurance
		a.vaultAllocation += split.Vault
		a.limitOrderAllocation += split.LimitOrder
		a.totalInvested += balance

		if split.Insurance > 0 {
			if err := a.eng.InsuranceBackingMint(ctx, a.id, asset, split.Insurance); err != nil {
				return fmt.Errorf("forward insurance slice: %w", err)
			}
		}

		a.recorder.Record(event.EventTypeFundsAllocated, "allocator", allocationPayload{
			Asset: asset, Amount: balance,
			Insurance: split.Insurance, Vault: split.Vault, LimitOrder: split.LimitOrder,
		})
	}
	return nil
}

// DeployToNestVault pre-commits amount from the vault allocation and
// dispatches a vault deposit to destination. The decrement is restored
// only by a failed response (or a failed send); a response that never
// arrives holds it forever.
func (a *CrossChainAllocator) DeployToNestVault(ctx context.Context, caller uuid.UUID, destination, asset string, amount int64) (xmsg.RequestID, error) {
	if amount <= 0 {
		return xmsg.RequestID{}, ErrZeroAmount
	}
	if err := a.registry.Require(asset); err != nil {
		return xmsg.RequestID{}, err
	}
	if err := permission.Check(a.gate, caller, permission.OpDeployToVault); err != nil {
		return xmsg.RequestID{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if amount > a.vaultAllocation {
		return xmsg.RequestID{}, fmt.Errorf("%w: vault has %d, need %d", ErrInsufficientFunds, a.vaultAllocation, amount)
	}
	a.vaultAllocation -= amount

	id, err := a.dispatchLocked(ctx, destination, xmsg.MessageTypeVaultDeposit, asset, amount)
	if err != nil {
		a.vaultAllocation += amount // nothing left the allocator
		return xmsg.RequestID{}, err
	}
	return id, nil
}

// ExecuteLimitOrder dispatches a remote limit order. No funds are
// pre-committed, so a failed order needs no compensation.
func (a *CrossChainAllocator) ExecuteLimitOrder(ctx context.Context, caller uuid.UUID, destination, asset string, amount int64) (xmsg.RequestID, error) {
	if amount <= 0 {
		return xmsg.RequestID{}, ErrZeroAmount
	}
	if err := a.registry.Require(asset); err != nil {
		return xmsg.RequestID{}, err
	}
	if err := permission.Check(a.gate, caller, permission.OpExecuteLimitOrder); err != nil {
		return xmsg.RequestID{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dispatchLocked(ctx, destination, xmsg.MessageTypeLimitOrder, asset, amount)
}

// CheckRemoteProfit asks destination for its current result for asset.
func (a *CrossChainAllocator) CheckRemoteProfit(ctx context.Context, caller uuid.UUID, destination, asset string) (xmsg.RequestID, error) {
	if err := a.registry.Require(asset); err != nil {
		return xmsg.RequestID{}, err
	}
	if err := permission.Check(a.gate, caller, permission.OpCheckRemoteProfit); err != nil {
		return xmsg.RequestID{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dispatchLocked(ctx, destination, xmsg.MessageTypeProfitCheck, asset, 0)
}

// dispatchLocked stores a pending request and sends it. Called with a.mu
// held.
func (a *CrossChainAllocator) dispatchLocked(ctx context.Context, destination string, msgType xmsg.MessageType, asset string, amount int64) (xmsg.RequestID, error) {
	now := time.Now()
	a.nonce++
	id := deriveRequestID(a.id, destination, msgType, asset, amount, a.nonce, now)

	payload, err := xmsg.Encode(msgType, xmsg.RequestData{RequestID: id, Asset: asset, Amount: amount})
	if err != nil {
		return xmsg.RequestID{}, err
	}
	if err := a.messenger.Send(ctx, destination, payload); err != nil {
		return xmsg.RequestID{}, fmt.Errorf("dispatch %s: %w", msgType, err)
	}

	a.requests[id] = &CrossChainRequest{
		ID:          id,
		Destination: destination,
		Type:        msgType,
		Asset:       asset,
		Amount:      amount,
		Timestamp:   now,
		State:       RequestStateDispatched,
	}

	a.recorder.Record(event.EventTypeCrossChainDispatched, "allocator", requestPayload{
		RequestID: id.String(), Destination: destination,
		Type: msgType.String(), Asset: asset, Amount: amount,
	})
	return id, nil
}

// HandleResponse reconciles one inbound remote result. Replay protection
// first, origin verification second; only then is the request marked
// processed and its effects applied. Every resolved response reports its
// signed result to the trading ledger, separate from any
// threshold-triggered distribution.
func (a *CrossChainAllocator) HandleResponse(ctx context.Context, origin string, payload []byte) error {
	p, err := xmsg.Decode(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if p.Type != xmsg.MessageTypeResponse {
		return fmt.Errorf("%w: unexpected type %s", ErrMalformedResponse, p.Type)
	}
	var resp xmsg.ResponseData
	if err := p.DecodeData(&resp); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	processed := a.processed.Contains(resp.RequestID)
	if !processed && a.durable != nil {
		processed, err = a.durable.IsProcessed(ctx, resp.RequestID)
		if err != nil {
			return fmt.Errorf("replay check: %w", err)
		}
		if processed {
			// Warm the LRU so repeat replays stay off the database
			a.processed.Add(resp.RequestID)
		}
	}
	if processed {
		if req, ok := a.requests[resp.RequestID]; ok && req.State == RequestStateResolved {
			req.State = RequestStateReplayRejected
		}
		a.recorder.Record(event.EventTypeCrossChainReplayRejected, "allocator", responsePayload{
			RequestID: resp.RequestID.String(), Origin: origin,
		})
		return ErrRequestAlreadyProcessed
	}

	req, ok := a.requests[resp.RequestID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, resp.RequestID)
	}
	if origin != req.Destination {
		return fmt.Errorf("%w: got %s, want %s", ErrOriginMismatch, origin, req.Destination)
	}

	a.processed.Add(resp.RequestID)
	if a.durable != nil {
		if err := a.durable.MarkProcessed(ctx, req); err != nil {
			a.processed.Remove(resp.RequestID)
			return fmt.Errorf("mark processed: %w", err)
		}
	}

	switch req.Type {
	case xmsg.MessageTypeVaultDeposit:
		if resp.Success {
			a.vaultProfit += resp.Amount
			a.checkThresholdLocked(&a.vaultProfit, "vault")
		} else {
			// Compensation: the pre-committed decrement is restored
			a.vaultAllocation += req.Amount
		}

	case xmsg.MessageTypeLimitOrder:
		if resp.Success {
			a.limitOrderProfit += resp.Amount
			a.checkThresholdLocked(&a.limitOrderProfit, "limit_order")
		}

	case xmsg.MessageTypeProfitCheck:
		a.distributeProfitLossLocked(resp.Amount)
	}

	if resp.Amount > 0 {
		if err := a.ledger.RecordTradingProfit(a.id, resp.Amount); err != nil {
			return fmt.Errorf("report profit: %w", err)
		}
	} else if resp.Amount < 0 {
		if err := a.ledger.RecordTradingLoss(a.id, -resp.Amount); err != nil {
			return fmt.Errorf("report loss: %w", err)
		}
	}

	req.State = RequestStateResolved
	a.recorder.Record(event.EventTypeCrossChainResolved, "allocator", responsePayload{
		RequestID: resp.RequestID.String(), Origin: origin,
		Success: resp.Success, Amount: resp.Amount,
	})
	return nil
}

// checkThresholdLocked drains the bucket through distribution once it
// reaches the configured threshold. The reset-to-zero is the hysteresis
// that prevents repeated tiny distributions. Called with a.mu held.
func (a *CrossChainAllocator) checkThresholdLocked(bucket *int64, name string) {
	if a.profitThreshold <= 0 || *bucket < a.profitThreshold {
		return
	}

	amount := *bucket
	*bucket = 0

	a.recorder.Record(event.EventTypeProfitThresholdReached, "allocator", thresholdPayload{
		Bucket: name, Amount: amount, Threshold: a.profitThreshold,
	})
	a.distributeProfitLossLocked(amount)
}

// distributeProfitLossLocked applies the 1% insurance / 99% trader split
// on profit, or consumes the insurance allocation bucket on loss (full or
// partial; any uncovered remainder is surfaced via the event only).
// Called with a.mu held.
func (a *CrossChainAllocator) distributeProfitLossLocked(amount int64) {
	switch {
	case amount > 0:
		insuranceShare, traderShare := fpmath.SplitProfit(amount)
		a.insuranceAllocation += insuranceShare
		a.recorder.Record(event.EventTypeRemoteProfitDistributed, "allocator", remoteProfitPayload{
			InsuranceShare: insuranceShare, TraderShare: traderShare,
		})

	case amount < 0:
		loss := -amount
		covered := fpmath.MinInt64(loss, a.insuranceAllocation)
		a.insuranceAllocation -= covered
		a.recorder.Record(event.EventTypeRemoteLossCovered, "allocator", remoteLossPayload{
			Loss: loss, Covered: covered, Uncovered: loss - covered,
		})
	}
}

// SetSupportedAsset updates the allocator's asset allow-list.
func (a *CrossChainAllocator) SetSupportedAsset(caller uuid.UUID, asset string, supported bool) error {
	if err := permission.Check(a.gate, caller, permission.OpSetAllocatorAsset); err != nil {
		return err
	}
	a.registry.SetAllowed(asset, supported)
	return nil
}

// SetProfitThreshold configures the distribution trigger. Zero disables
// threshold-triggered distribution entirely.
func (a *CrossChainAllocator) SetProfitThreshold(caller uuid.UUID, threshold int64) error {
	if threshold < 0 {
		return ErrZeroAmount
	}
	if err := permission.Check(a.gate, caller, permission.OpSetProfitThreshold); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.profitThreshold = threshold
	return nil
}

// Allocations returns the three bucket balances.
func (a *CrossChainAllocator) Allocations() (insurance, vault, limitOrder int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.insuranceAllocation, a.vaultAllocation, a.limitOrderAllocation
}

func (a *CrossChainAllocator) TotalInvested() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalInvested
}

func (a *CrossChainAllocator) VaultProfit() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.vaultProfit
}

func (a *CrossChainAllocator) LimitOrderProfit() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.limitOrderProfit
}

func (a *CrossChainAllocator) ProfitThreshold() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.profitThreshold
}

// Request returns a copy of the stored request, if any.
func (a *CrossChainAllocator) Request(id xmsg.RequestID) (CrossChainRequest, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	req, ok := a.requests[id]
	if !ok {
		return CrossChainRequest{}, false
	}
	return *req, true
}

// Requests returns a snapshot of every stored request.
func (a *CrossChainAllocator) Requests() []CrossChainRequest {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]CrossChainRequest, 0, len(a.requests))
	for _, req := range a.requests {
		out = append(out, *req)
	}
	return out
}

type allocationPayload struct {
	Asset      string `json:"asset"`
	Amount     int64  `json:"amount"`
	Insurance  int64  `json:"insurance"`
	Vault      int64  `json:"vault"`
	LimitOrder int64  `json:"limit_order"`
}

type requestPayload struct {
	RequestID   string `json:"request_id"`
	Destination string `json:"destination"`
	Type        string `json:"type"`
	Asset       string `json:"asset"`
	Amount      int64  `json:"amount"`
}

type responsePayload struct {
	RequestID string `json:"request_id"`
	Origin    string `json:"origin"`
	Success   bool   `json:"success,omitempty"`
	Amount    int64  `json:"amount,omitempty"`
}

type thresholdPayload struct {
	Bucket    string `json:"bucket"`
	Amount    int64  `json:"amount"`
	Threshold int64  `json:"threshold"`
}

type remoteProfitPayload struct {
	InsuranceShare int64 `json:"insurance_share"`
	TraderShare    int64 `json:"trader_share"`
}

type remoteLossPayload struct {
	Loss      int64 `json:"loss"`
	Covered   int64 `json:"covered"`
	Uncovered int64 `json:"uncovered"`
}
