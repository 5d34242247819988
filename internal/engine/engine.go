package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ctib-core/Pulley/internal/assets"
	"github.com/ctib-core/Pulley/internal/event"
	fpmath "github.com/ctib-core/Pulley/internal/math"
	"github.com/ctib-core/Pulley/internal/permission"
	"github.com/ctib-core/Pulley/internal/token"
	"github.com/google/uuid"
)

var (
	ErrZeroAmount           = errors.New("zero amount")
	ErrInsufficientReserves = errors.New("insufficient asset reserves")
	ErrInsufficientTokens   = errors.New("insufficient owned tokens")
)

// Provider is a liquidity contributor's position. Zeroed balances persist
// as inactive roster entries; records are never deleted.
type Provider struct {
	AssetsDeposited   int64
	PulleyTokensOwned int64
	DepositTime       time.Time
}

// Active reports whether the provider currently holds a claim.
func (p Provider) Active() bool {
	return p.PulleyTokensOwned > 0
}

// LiquidityEngine holds real asset reserves per supported asset, tracks
// each provider's proportional claim, and mints/burns the stable token.
// It is the only component allowed to consume the token's insurance
// reserve for loss coverage.
//
// All value is measured at a fixed 1:1 unit-of-account rate, so a deposit
// of N asset units is worth N.
type LiquidityEngine struct {
	mu sync.Mutex

	id         uuid.UUID // custody account and token engine identity
	crossChain uuid.UUID // token cross-chain identity, for insurance-sourced mints

	token    *token.StableValueToken
	custody  assets.Custody
	registry *assets.Registry
	gate     permission.Gate
	recorder event.Recorder

	providers   map[uuid.UUID]*Provider
	roster      []uuid.UUID       // append-only enumeration order
	rosterIndex map[uuid.UUID]int // provider -> roster position

	reserves map[string]int64 // per-asset balance, never negative

	totalBackingValue     int64
	totalInsuranceBacking int64
	totalLossesCovered    int64
}

func NewLiquidityEngine(
	id, crossChain uuid.UUID,
	tok *token.StableValueToken,
	custody assets.Custody,
	gate permission.Gate,
	recorder event.Recorder,
) *LiquidityEngine {
	if recorder == nil {
		recorder = event.NopRecorder{}
	}
	return &LiquidityEngine{
		id:          id,
		crossChain:  crossChain,
		token:       tok,
		custody:     custody,
		registry:    assets.NewRegistry(),
		gate:        gate,
		recorder:    recorder,
		providers:   make(map[uuid.UUID]*Provider),
		rosterIndex: make(map[uuid.UUID]int),
		reserves:    make(map[string]int64),
	}
}

// ID returns the engine's custody account identity.
func (e *LiquidityEngine) ID() uuid.UUID { return e.id }

// ProvideLiquidity pulls amount of asset into engine custody, credits the
// caller's provider record, and mints that many stable tokens to them.
// The custody pull happens strictly before any state mutation, so a failed
// transfer leaves the engine untouched.
func (e *LiquidityEngine) ProvideLiquidity(ctx context.Context, caller uuid.UUID, asset string, amount int64) error {
	if amount <= 0 {
		return ErrZeroAmount
	}
	if err := e.registry.Require(asset); err != nil {
		return err
	}
	if err := permission.Check(e.gate, caller, permission.OpProvideLiquidity); err != nil {
		return err
	}

	if err := e.custody.TransferFrom(ctx, caller, e.id, asset, amount); err != nil {
		return fmt.Errorf("provide liquidity: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	usdValue := amount // fixed 1:1 rate

	e.reserves[asset] += amount
	p := e.providerLocked(caller)
	p.AssetsDeposited += usdValue
	p.PulleyTokensOwned += usdValue
	p.DepositTime = time.Now()
	e.totalBackingValue += usdValue

	if err := e.token.Mint(e.id, caller, usdValue); err != nil {
		return fmt.Errorf("mint on deposit: %w", err)
	}

	e.recorder.Record(event.EventTypeLiquidityProvided, "engine", liquidityPayload{
		Provider: caller, Asset: asset, Amount: amount, Tokens: usdValue,
	})
	return nil
}

// InsuranceBackingMint routes cross-chain funds back as pooled insurance.
// Same custody mechanics as ProvideLiquidity, but the value lands in
// totalInsuranceBacking instead of any provider record, and the token mint
// runs under the cross-chain identity so the deposit is marked
// insurance-sourced.
func (e *LiquidityEngine) InsuranceBackingMint(ctx context.Context, caller uuid.UUID, asset string, amount int64) error {
	if amount <= 0 {
		return ErrZeroAmount
	}
	if err := e.registry.Require(asset); err != nil {
		return err
	}
	if err := permission.Check(e.gate, caller, permission.OpInsuranceBacking); err != nil {
		return err
	}

	if err := e.custody.TransferFrom(ctx, caller, e.id, asset, amount); err != nil {
		return fmt.Errorf("insurance backing: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.reserves[asset] += amount
	e.totalInsuranceBacking += amount

	if err := e.token.Mint(e.crossChain, caller, amount); err != nil {
		return fmt.Errorf("insurance mint: %w", err)
	}

	e.recorder.Record(event.EventTypeInsuranceBackingMinted, "engine", liquidityPayload{
		Provider: caller, Asset: asset, Amount: amount, Tokens: amount,
	})
	return nil
}

// WithdrawLiquidity redeems tokensToRedeem of the caller's claim for a
// proportional amount of asset. All state is updated and tokens burned
// before the outbound custody transfer, so reentrant callers never observe
// stale provider state against already-decremented reserves.
func (e *LiquidityEngine) WithdrawLiquidity(ctx context.Context, caller uuid.UUID, asset string, tokensToRedeem int64) error {
	if tokensToRedeem <= 0 {
		return ErrZeroAmount
	}
	if err := e.registry.Require(asset); err != nil {
		return err
	}
	if err := permission.Check(e.gate, caller, permission.OpWithdrawLiquidity); err != nil {
		return err
	}

	e.mu.Lock()

	p, ok := e.providers[caller]
	if !ok || p.PulleyTokensOwned < tokensToRedeem {
		owned := int64(0)
		if ok {
			owned = p.PulleyTokensOwned
		}
		e.mu.Unlock()
		return fmt.Errorf("%w: own %d, redeem %d", ErrInsufficientTokens, owned, tokensToRedeem)
	}

	assetToReturn := fpmath.ProportionalShare(p.AssetsDeposited, tokensToRedeem, p.PulleyTokensOwned)
	if e.reserves[asset] < assetToReturn {
		e.mu.Unlock()
		return fmt.Errorf("%w: reserve %d, need %d", ErrInsufficientReserves, e.reserves[asset], assetToReturn)
	}

	p.AssetsDeposited -= assetToReturn
	p.PulleyTokensOwned -= tokensToRedeem
	e.reserves[asset] -= assetToReturn
	e.totalBackingValue = fpmath.ClampSub(e.totalBackingValue, assetToReturn)

	if err := e.token.Burn(e.id, caller, tokensToRedeem); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("burn on withdrawal: %w", err)
	}

	e.recorder.Record(event.EventTypeLiquidityWithdrawn, "engine", liquidityPayload{
		Provider: caller, Asset: asset, Amount: assetToReturn, Tokens: tokensToRedeem,
	})
	e.mu.Unlock()

	if err := e.custody.TransferFrom(ctx, e.id, caller, asset, assetToReturn); err != nil {
		return fmt.Errorf("withdraw transfer: %w", err)
	}
	return nil
}

// CoverTradingLoss consumes insurance reserve to absorb lossUSD. An
// insufficient reserve is a normal outcome reported as false, not an
// error — the caller absorbs the loss into pool value instead.
//
// totalInsuranceBacking is decremented without clamping; callers are
// responsible for ensuring prior top-ups are sufficient.
func (e *LiquidityEngine) CoverTradingLoss(caller uuid.UUID, lossUSD int64) (bool, error) {
	if lossUSD <= 0 {
		return false, ErrZeroAmount
	}
	if err := permission.Check(e.gate, caller, permission.OpCoverTradingLoss); err != nil {
		return false, err
	}

	if !e.token.CanCoverLoss(lossUSD) {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalLossesCovered += lossUSD
	e.totalInsuranceBacking -= lossUSD

	if err := e.token.BurnForCoverage(e.id, lossUSD); err != nil {
		return false, fmt.Errorf("coverage burn: %w", err)
	}

	e.recorder.Record(event.EventTypeTradingLossCovered, "engine", coveragePayload{
		Loss: lossUSD, TotalCovered: e.totalLossesCovered,
	})
	return true, nil
}

// DistributeProfits reflects externally realized profit into the backing
// value and the token's reserve fund.
func (e *LiquidityEngine) DistributeProfits(caller uuid.UUID, amount int64) error {
	if amount <= 0 {
		return ErrZeroAmount
	}
	if err := permission.Check(e.gate, caller, permission.OpDistributeToEngine); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalBackingValue += amount
	if err := e.token.UpdateReserveFund(e.id, amount, true); err != nil {
		return fmt.Errorf("reserve update: %w", err)
	}

	e.recorder.Record(event.EventTypeEngineProfitDistributed, "engine", profitPayload{Amount: amount})
	return nil
}

// SetAssetAllowed updates the engine's asset allow-list.
func (e *LiquidityEngine) SetAssetAllowed(caller uuid.UUID, asset string, allowed bool) error {
	if err := permission.Check(e.gate, caller, permission.OpSetEngineAsset); err != nil {
		return err
	}
	e.registry.SetAllowed(asset, allowed)
	return nil
}

// Provider returns a copy of the provider's record and whether it exists.
func (e *LiquidityEngine) Provider(addr uuid.UUID) (Provider, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.providers[addr]
	if !ok {
		return Provider{}, false
	}
	return *p, true
}

// Providers returns the roster in first-deposit order, inactive entries
// included.
func (e *LiquidityEngine) Providers() []uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]uuid.UUID, len(e.roster))
	copy(out, e.roster)
	return out
}

// Reserve returns the current balance held for asset.
func (e *LiquidityEngine) Reserve(asset string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reserves[asset]
}

// Reserves returns a snapshot of all per-asset balances.
func (e *LiquidityEngine) Reserves() map[string]int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]int64, len(e.reserves))
	for asset, amount := range e.reserves {
		out[asset] = amount
	}
	return out
}

func (e *LiquidityEngine) TotalBackingValue() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalBackingValue
}

func (e *LiquidityEngine) TotalInsuranceBacking() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalInsuranceBacking
}

func (e *LiquidityEngine) TotalLossesCovered() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalLossesCovered
}

// providerLocked returns the caller's record, appending a fresh roster
// entry on first deposit. Called with e.mu held.
func (e *LiquidityEngine) providerLocked(addr uuid.UUID) *Provider {
	if p, ok := e.providers[addr]; ok {
		return p
	}
	p := &Provider{}
	e.providers[addr] = p
	e.rosterIndex[addr] = len(e.roster)
	e.roster = append(e.roster, addr)
	return p
}

type liquidityPayload struct {
	Provider uuid.UUID `json:"provider"`
	Asset    string    `json:"asset"`
	Amount   int64     `json:"amount"`
	Tokens   int64     `json:"tokens"`
}

type coveragePayload struct {
	Loss         int64 `json:"loss"`
	TotalCovered int64 `json:"total_covered"`
}

type profitPayload struct {
	Amount int64 `json:"amount"`
}
