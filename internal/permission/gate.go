package permission

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNotPermitted is returned verbatim by every gated entry point when the
// gate denies the caller. Authorization failures are fatal to the call and
// never retried automatically.
var ErrNotPermitted = errors.New("caller not permitted for operation")

// Operation identifies a gated state-mutating entry point.
type Operation string

const (
	OpProvideLiquidity    Operation = "engine.provide_liquidity"
	OpWithdrawLiquidity   Operation = "engine.withdraw_liquidity"
	OpInsuranceBacking    Operation = "engine.insurance_backing_mint"
	OpCoverTradingLoss    Operation = "engine.cover_trading_loss"
	OpDistributeToEngine  Operation = "engine.distribute_profits"
	OpSetEngineAsset      Operation = "engine.set_asset_allowed"
	OpDepositAsset        Operation = "pool.deposit_asset"
	OpWithdrawAsset       Operation = "pool.withdraw_asset"
	OpRecordLoss          Operation = "pool.record_trading_loss"
	OpRecordProfit        Operation = "pool.record_trading_profit"
	OpDistributeProfits   Operation = "pool.distribute_profits"
	OpSweepToCollector    Operation = "pool.sweep_to_collector"
	OpSetPoolAsset        Operation = "pool.set_asset_supported"
	OpReceiveFunds        Operation = "allocator.receive_funds"
	OpDeployToVault       Operation = "allocator.deploy_to_nest_vault"
	OpExecuteLimitOrder   Operation = "allocator.execute_limit_order"
	OpCheckRemoteProfit   Operation = "allocator.check_remote_profit"
	OpSetAllocatorAsset   Operation = "allocator.set_supported_asset"
	OpSetProfitThreshold  Operation = "allocator.set_profit_threshold"
)

// Gate is the external permission collaborator. The core only queries it;
// grant/revoke governance lives outside this repository.
type Gate interface {
	HasPermission(caller uuid.UUID, op Operation) bool
}

// Check queries the gate and maps a denial to ErrNotPermitted. A nil gate
// permits everything — components are wired with OpenGate in tests.
func Check(g Gate, caller uuid.UUID, op Operation) error {
	if g == nil {
		return nil
	}
	if !g.HasPermission(caller, op) {
		return ErrNotPermitted
	}
	return nil
}

// StaticGate is an in-memory allow-list keyed by caller+operation.
// Deployment scaffolding: the production gate is an external service
// satisfying the Gate interface.
type StaticGate struct {
	mu      sync.RWMutex
	allowed map[uuid.UUID]map[Operation]bool
}

func NewStaticGate() *StaticGate {
	return &StaticGate{
		allowed: make(map[uuid.UUID]map[Operation]bool),
	}
}

// Allow grants caller the given operations.
func (g *StaticGate) Allow(caller uuid.UUID, ops ...Operation) {
	g.mu.Lock()
	defer g.mu.Unlock()

	perms, ok := g.allowed[caller]
	if !ok {
		perms = make(map[Operation]bool)
		g.allowed[caller] = perms
	}
	for _, op := range ops {
		perms[op] = true
	}
}

func (g *StaticGate) HasPermission(caller uuid.UUID, op Operation) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.allowed[caller][op]
}

// OpenGate permits every caller for every operation.
type OpenGate struct{}

func (OpenGate) HasPermission(uuid.UUID, Operation) bool { return true }
