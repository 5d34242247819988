package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ctib-core/Pulley/internal/assets"
	"github.com/ctib-core/Pulley/internal/engine"
	"github.com/ctib-core/Pulley/internal/event"
	fpmath "github.com/ctib-core/Pulley/internal/math"
	"github.com/ctib-core/Pulley/internal/permission"
	"github.com/google/uuid"
)

var (
	ErrZeroAmount        = errors.New("zero amount")
	ErrInsufficientFunds = errors.New("insufficient pool balance")
)

// LossThresholdPercent is the relative loss size above which coverage via
// the liquidity engine is attempted. Smaller losses are absorbed directly
// into pool value.
const LossThresholdPercent = 5

// SweepConfig makes the sweep trigger explicit policy. An asset balance is
// swept in full once it reaches MinSweepBalance * TriggerMultiplier.
type SweepConfig struct {
	TriggerMultiplier int64
	MinSweepBalance   int64
}

func (c SweepConfig) threshold() int64 {
	return c.MinSweepBalance * c.TriggerMultiplier
}

// TradingLedger tracks aggregate pool value and P&L for the trading venue.
// Losses above the relative threshold are pushed to the liquidity engine's
// insurance coverage; covered losses feed the dynamic profit-share ratio
// that routes a growing slice of future profits to insurance providers.
type TradingLedger struct {
	mu sync.Mutex

	id        uuid.UUID // pool custody account
	collector uuid.UUID // fixed sweep destination

	eng      *engine.LiquidityEngine
	custody  assets.Custody
	registry *assets.Registry
	gate     permission.Gate
	recorder event.Recorder
	sweep    SweepConfig

	// Invoked before withdrawal bookkeeping so stale cross-chain P&L
	// cannot be bypassed by a fast withdrawal. Externally fulfilled.
	reconcileHook func()

	balances map[string]int64 // per-asset pool holdings

	totalPoolValue             int64
	totalTradingLosses         int64
	totalTradingProfits        int64
	pendingProfitDistribution  int64
	totalLossesCoveredByPulley int64
	pulleyTokenProfitShare     int64 // always within [20, 80]
}

func NewTradingLedger(
	id, collector uuid.UUID,
	eng *engine.LiquidityEngine,
	custody assets.Custody,
	gate permission.Gate,
	recorder event.Recorder,
	sweep SweepConfig,
) *TradingLedger {
	if recorder == nil {
		recorder = event.NopRecorder{}
	}
	return &TradingLedger{
		id:                     id,
		collector:              collector,
		eng:                    eng,
		custody:                custody,
		registry:               assets.NewRegistry(),
		gate:                   gate,
		recorder:               recorder,
		sweep:                  sweep,
		balances:               make(map[string]int64),
		pulleyTokenProfitShare: fpmath.ProfitShareFloor,
	}
}

// ID returns the pool's custody account identity.
func (l *TradingLedger) ID() uuid.UUID { return l.id }

// SetReconcileHook installs the pending-P&L reconciliation hook run at the
// top of every withdrawal.
func (l *TradingLedger) SetReconcileHook(hook func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reconcileHook = hook
}

// DepositAsset pulls amount of asset into pool custody. The custody pull
// happens before bookkeeping, so a failed transfer changes nothing.
func (l *TradingLedger) DepositAsset(ctx context.Context, caller uuid.UUID, asset string, amount int64) error {
	if amount <= 0 {
		return ErrZeroAmount
	}
	if err := l.registry.Require(asset); err != nil {
		return err
	}
	if err := permission.Check(l.gate, caller, permission.OpDepositAsset); err != nil {
		return err
	}

	if err := l.custody.TransferFrom(ctx, caller, l.id, asset, amount); err != nil {
		return fmt.Errorf("pool deposit: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[asset] += amount
	l.totalPoolValue += amount

	l.recorder.Record(event.EventTypeAssetDeposited, "pool", assetPayload{
		Account: caller, Asset: asset, Amount: amount, PoolValue: l.totalPoolValue,
	})
	return nil
}

// WithdrawAsset returns amount of asset to the caller. The reconciliation
// hook runs first; bookkeeping completes before the outbound transfer.
func (l *TradingLedger) WithdrawAsset(ctx context.Context, caller uuid.UUID, asset string, amount int64) error {
	if amount <= 0 {
		return ErrZeroAmount
	}
	if err := l.registry.Require(asset); err != nil {
		return err
	}
	if err := permission.Check(l.gate, caller, permission.OpWithdrawAsset); err != nil {
		return err
	}

	l.mu.Lock()

	if l.reconcileHook != nil {
		l.reconcileHook()
	}

	if l.balances[asset] < amount {
		have := l.balances[asset]
		l.mu.Unlock()
		return fmt.Errorf("%w: have %d %s, need %d", ErrInsufficientFunds, have, asset, amount)
	}

	l.balances[asset] -= amount
	l.totalPoolValue = fpmath.ClampSub(l.totalPoolValue, amount)

	l.recorder.Record(event.EventTypeAssetWithdrawn, "pool", assetPayload{
		Account: caller, Asset: asset, Amount: amount, PoolValue: l.totalPoolValue,
	})
	l.mu.Unlock()

	if err := l.custody.TransferFrom(ctx, l.id, caller, asset, amount); err != nil {
		return fmt.Errorf("pool withdrawal: %w", err)
	}
	return nil
}

// RecordTradingLoss books a realized loss. Losses above
// LossThresholdPercent of pool value attempt insurance coverage; a covered
// loss leaves pool value intact and recomputes the profit-share ratio.
// Uncovered losses are absorbed into pool value, clamped at zero.
func (l *TradingLedger) RecordTradingLoss(caller uuid.UUID, lossUSD int64) error {
	if lossUSD <= 0 {
		return ErrZeroAmount
	}
	if err := permission.Check(l.gate, caller, permission.OpRecordLoss); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalTradingLosses += lossUSD

	covered := false
	if lossUSD*100 > LossThresholdPercent*l.totalPoolValue {
		ok, err := l.eng.CoverTradingLoss(l.id, lossUSD)
		if err != nil {
			return fmt.Errorf("loss coverage: %w", err)
		}
		covered = ok
	}

	if covered {
		l.totalLossesCoveredByPulley += lossUSD
		l.pulleyTokenProfitShare = fpmath.ComputeProfitShare(l.totalLossesCoveredByPulley, l.totalTradingLosses)
	} else {
		l.totalPoolValue = fpmath.ClampSub(l.totalPoolValue, lossUSD)
	}

	l.recorder.Record(event.EventTypeTradingLossRecorded, "pool", lossPayload{
		Loss: lossUSD, Covered: covered,
		PoolValue: l.totalPoolValue, ProfitShare: l.pulleyTokenProfitShare,
	})
	return nil
}

// RecordTradingProfit books a realized profit into pool value and the
// pending distribution bucket.
func (l *TradingLedger) RecordTradingProfit(caller uuid.UUID, profitUSD int64) error {
	if profitUSD <= 0 {
		return ErrZeroAmount
	}
	if err := permission.Check(l.gate, caller, permission.OpRecordProfit); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalTradingProfits += profitUSD
	l.totalPoolValue += profitUSD
	l.pendingProfitDistribution += profitUSD

	l.recorder.Record(event.EventTypeTradingProfitRecorded, "pool", profitPayload{
		Profit: profitUSD, Pending: l.pendingProfitDistribution,
	})
	return nil
}

// DistributeProfits drains the pending bucket. If insurance has ever
// covered a loss, the current profit-share percentage goes to the
// liquidity engine; otherwise the pool keeps everything. A no-op with
// zero shares when nothing is pending.
func (l *TradingLedger) DistributeProfits(caller uuid.UUID) (pulleyShare, poolShare int64, err error) {
	if err := permission.Check(l.gate, caller, permission.OpDistributeProfits); err != nil {
		return 0, 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pending := l.pendingProfitDistribution
	if pending == 0 {
		return 0, 0, nil
	}
	l.pendingProfitDistribution = 0

	if l.totalLossesCoveredByPulley > 0 {
		pulleyShare = fpmath.PercentOf(pending, l.pulleyTokenProfitShare)
		poolShare = pending - pulleyShare
	} else {
		poolShare = pending
	}

	if pulleyShare > 0 {
		// The insurance slice leaves the pool
		l.totalPoolValue = fpmath.ClampSub(l.totalPoolValue, pulleyShare)
		if err := l.eng.DistributeProfits(l.id, pulleyShare); err != nil {
			return 0, 0, fmt.Errorf("forward insurance share: %w", err)
		}
	}

	l.recorder.Record(event.EventTypeProfitsDistributed, "pool", distributionPayload{
		PulleyShare: pulleyShare, PoolShare: poolShare,
	})
	return pulleyShare, poolShare, nil
}

// SweepToCollector moves every supported asset whose balance has reached
// the configured threshold to the collection account, in full. State is
// zeroed before each outbound transfer.
func (l *TradingLedger) SweepToCollector(ctx context.Context, caller uuid.UUID) error {
	if err := permission.Check(l.gate, caller, permission.OpSweepToCollector); err != nil {
		return err
	}

	threshold := l.sweep.threshold()
	if threshold <= 0 {
		return nil
	}

	type sweptAsset struct {
		asset  string
		amount int64
	}

	l.mu.Lock()
	var swept []sweptAsset
	for _, asset := range l.registry.List() {
		bal := l.balances[asset]
		if bal <= 0 || bal < threshold {
			continue
		}
		l.balances[asset] = 0
		l.totalPoolValue = fpmath.ClampSub(l.totalPoolValue, bal)
		swept = append(swept, sweptAsset{asset: asset, amount: bal})

		l.recorder.Record(event.EventTypeAssetsSwept, "pool", sweepPayload{
			Asset: asset, Amount: bal, PoolValue: l.totalPoolValue,
		})
	}
	l.mu.Unlock()

	for _, s := range swept {
		if err := l.custody.TransferFrom(ctx, l.id, l.collector, s.asset, s.amount); err != nil {
			return fmt.Errorf("sweep %s: %w", s.asset, err)
		}
	}
	return nil
}

// SetAssetSupported updates the pool's asset allow-list.
func (l *TradingLedger) SetAssetSupported(caller uuid.UUID, asset string, supported bool) error {
	if err := permission.Check(l.gate, caller, permission.OpSetPoolAsset); err != nil {
		return err
	}
	l.registry.SetAllowed(asset, supported)
	return nil
}

// Balance returns the pool's holdings of asset.
func (l *TradingLedger) Balance(asset string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[asset]
}

// Balances returns a snapshot of all per-asset holdings.
func (l *TradingLedger) Balances() map[string]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]int64, len(l.balances))
	for asset, amount := range l.balances {
		out[asset] = amount
	}
	return out
}

func (l *TradingLedger) TotalPoolValue() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalPoolValue
}

func (l *TradingLedger) TotalTradingLosses() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalTradingLosses
}

func (l *TradingLedger) TotalTradingProfits() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalTradingProfits
}

func (l *TradingLedger) PendingProfitDistribution() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pendingProfitDistribution
}

func (l *TradingLedger) TotalLossesCoveredByPulley() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalLossesCoveredByPulley
}

func (l *TradingLedger) PulleyTokenProfitShare() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pulleyTokenProfitShare
}

type assetPayload struct {
	Account   uuid.UUID `json:"account"`
	Asset     string    `json:"asset"`
	Amount    int64     `json:"amount"`
	PoolValue int64     `json:"pool_value"`
}

type lossPayload struct {
	Loss        int64 `json:"loss"`
	Covered     bool  `json:"covered"`
	PoolValue   int64 `json:"pool_value"`
	ProfitShare int64 `json:"profit_share"`
}

type profitPayload struct {
	Profit  int64 `json:"profit"`
	Pending int64 `json:"pending"`
}

type distributionPayload struct {
	PulleyShare int64 `json:"pulley_share"`
	PoolShare   int64 `json:"pool_share"`
}

type sweepPayload struct {
	Asset     string `json:"asset"`
	Amount    int64  `json:"amount"`
	PoolValue int64  `json:"pool_value"`
}
