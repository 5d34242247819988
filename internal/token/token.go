package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ctib-core/Pulley/internal/event"
	fpmath "github.com/ctib-core/Pulley/internal/math"
	"github.com/google/uuid"
)

var (
	ErrZeroAddress             = errors.New("zero address")
	ErrZeroAmount              = errors.New("zero amount")
	ErrNotMinter               = errors.New("caller is not a configured minter")
	ErrNotAdmin                = errors.New("caller is not the admin")
	ErrIdentityAlreadySet      = errors.New("identity already configured")
	ErrInsufficientTokens      = errors.New("insufficient token balance")
	ErrInsufficientReserveFund = errors.New("insufficient insurance reserve")
)

// StableValueToken is the fungible balance ledger backing the protocol.
// Besides per-account balances it tracks two scalars: reserveFund, the
// cumulative net backing value behind outstanding supply, and
// insuranceFunds, the sub-portion of reserve sourced from cross-chain
// deposits — the only balance usable for loss coverage.
//
// Mutations are restricted to two identities, each settable exactly once
// by the admin: the liquidity engine and the cross-chain allocator.
type StableValueToken struct {
	mu sync.Mutex

	admin      uuid.UUID
	engine     uuid.UUID // zero until SetEngine
	crossChain uuid.UUID // zero until SetCrossChain

	balances       map[uuid.UUID]int64
	totalSupply    int64
	reserveFund    int64
	insuranceFunds int64

	recorder event.Recorder
}

func NewStableValueToken(admin uuid.UUID, recorder event.Recorder) *StableValueToken {
	if recorder == nil {
		recorder = event.NopRecorder{}
	}
	return &StableValueToken{
		admin:    admin,
		balances: make(map[uuid.UUID]int64),
		recorder: recorder,
	}
}

// SetEngine configures the liquidity engine identity. One-shot: a second
// call fails with ErrIdentityAlreadySet.
func (t *StableValueToken) SetEngine(caller, id uuid.UUID) error {
	return t.setIdentity(caller, id, &t.engine)
}

// SetCrossChain configures the cross-chain allocator identity. One-shot.
func (t *StableValueToken) SetCrossChain(caller, id uuid.UUID) error {
	return t.setIdentity(caller, id, &t.crossChain)
}

func (t *StableValueToken) setIdentity(caller, id uuid.UUID, slot *uuid.UUID) error {
	if id == uuid.Nil {
		return ErrZeroAddress
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if caller != t.admin {
		return ErrNotAdmin
	}
	if *slot != uuid.Nil {
		return ErrIdentityAlreadySet
	}
	*slot = id
	return nil
}

// Mint credits to's balance and raises reserveFund by amount. Restricted
// to the engine and cross-chain identities; a cross-chain mint marks the
// deposit as insurance-sourced by raising insuranceFunds too.
func (t *StableValueToken) Mint(caller, to uuid.UUID, amount int64) error {
	if to == uuid.Nil {
		return ErrZeroAddress
	}
	if amount <= 0 {
		return ErrZeroAmount
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requireMinter(caller); err != nil {
		return err
	}

	t.balances[to] += amount
	t.totalSupply += amount
	t.reserveFund += amount
	if caller == t.crossChain {
		t.insuranceFunds += amount
	}

	t.recorder.Record(event.EventTypeTokensMinted, "token", mintPayload{
		To: to, Amount: amount, InsuranceSourced: caller == t.crossChain,
	})
	t.recorder.Record(event.EventTypeReserveFundUpdated, "token", reservePayload{
		ReserveFund: t.reserveFund, InsuranceFunds: t.insuranceFunds,
	})
	return nil
}

// Burn debits from's balance and lowers reserveFund symmetrically, clamped
// at zero. A cross-chain burn also releases the insurance sub-fund when it
// suffices; an under-funded sub-fund leaves insuranceFunds untouched.
func (t *StableValueToken) Burn(caller, from uuid.UUID, amount int64) error {
	if from == uuid.Nil {
		return ErrZeroAddress
	}
	if amount <= 0 {
		return ErrZeroAmount
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requireMinter(caller); err != nil {
		return err
	}
	if t.balances[from] < amount {
		return fmt.Errorf("%w: have %d, burn %d", ErrInsufficientTokens, t.balances[from], amount)
	}

	if caller == t.crossChain && t.insuranceFunds >= amount {
		t.insuranceFunds -= amount
	}
	t.reserveFund = fpmath.ClampSub(t.reserveFund, amount)
	t.balances[from] -= amount
	t.totalSupply -= amount

	t.recorder.Record(event.EventTypeTokensBurned, "token", burnPayload{From: from, Amount: amount})
	t.recorder.Record(event.EventTypeReserveFundUpdated, "token", reservePayload{
		ReserveFund: t.reserveFund, InsuranceFunds: t.insuranceFunds,
	})
	return nil
}

// BurnForCoverage consumes insurance reserve to absorb a trading loss. No
// holder balance moves — this is reserve consumption, not a transfer.
// Engine-only.
func (t *StableValueToken) BurnForCoverage(caller uuid.UUID, amount int64) error {
	if amount <= 0 {
		return ErrZeroAmount
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if caller != t.engine || t.engine == uuid.Nil {
		return ErrNotMinter
	}
	if t.insuranceFunds < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientReserveFund, t.insuranceFunds, amount)
	}

	t.insuranceFunds -= amount
	t.reserveFund = fpmath.ClampSub(t.reserveFund, amount)

	t.recorder.Record(event.EventTypeCoverageBurned, "token", coveragePayload{Amount: amount})
	t.recorder.Record(event.EventTypeReserveFundUpdated, "token", reservePayload{
		ReserveFund: t.reserveFund, InsuranceFunds: t.insuranceFunds,
	})
	return nil
}

// UpdateReserveFund adjusts reserveFund without touching supply. Used to
// reflect externally realized profit. Engine-only.
func (t *StableValueToken) UpdateReserveFund(caller uuid.UUID, amount int64, increase bool) error {
	if amount <= 0 {
		return ErrZeroAmount
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if caller != t.engine || t.engine == uuid.Nil {
		return ErrNotMinter
	}

	if increase {
		t.reserveFund += amount
	} else {
		t.reserveFund = fpmath.ClampSub(t.reserveFund, amount)
	}

	t.recorder.Record(event.EventTypeReserveFundUpdated, "token", reservePayload{
		ReserveFund: t.reserveFund, InsuranceFunds: t.insuranceFunds,
	})
	return nil
}

// CanCoverLoss reports whether the insurance sub-fund can absorb amount.
func (t *StableValueToken) CanCoverLoss(amount int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insuranceFunds >= amount
}

func (t *StableValueToken) ReserveFund() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reserveFund
}

func (t *StableValueToken) InsuranceFunds() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insuranceFunds
}

func (t *StableValueToken) TotalSupply() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalSupply
}

func (t *StableValueToken) BalanceOf(account uuid.UUID) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[account]
}

// requireMinter is called with t.mu held.
func (t *StableValueToken) requireMinter(caller uuid.UUID) error {
	if caller == uuid.Nil {
		return ErrZeroAddress
	}
	if (caller == t.engine && t.engine != uuid.Nil) ||
		(caller == t.crossChain && t.crossChain != uuid.Nil) {
		return nil
	}
	return ErrNotMinter
}

type mintPayload struct {
	To               uuid.UUID `json:"to"`
	Amount           int64     `json:"amount"`
	InsuranceSourced bool      `json:"insurance_sourced"`
}

type burnPayload struct {
	From   uuid.UUID `json:"from"`
	Amount int64     `json:"amount"`
}

type coveragePayload struct {
	Amount int64 `json:"amount"`
}

type reservePayload struct {
	ReserveFund    int64 `json:"reserve_fund"`
	InsuranceFunds int64 `json:"insurance_funds"`
}
