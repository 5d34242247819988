package assets

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrTransferFailed wraps every custody failure. Callers branch on this
// sentinel; the underlying cause stays in the chain for logging.
var ErrTransferFailed = errors.New("asset transfer failed")

// Custody is the external asset-movement collaborator. The core never holds
// balances itself — it instructs custody to move amounts between account
// identities and trusts the returned error as the only signal of success.
type Custody interface {
	// TransferFrom moves amount of asset from one account to another.
	TransferFrom(ctx context.Context, from, to uuid.UUID, asset string, amount int64) error

	// Balance reports the current holdings of owner in asset.
	Balance(ctx context.Context, owner uuid.UUID, asset string) (int64, error)
}

// MemoryCustody is an in-process Custody backed by a balance map. It serves
// tests and the single-binary deployment mode; a production deployment
// substitutes a settlement-backed implementation.
type MemoryCustody struct {
	mu       sync.Mutex
	balances map[uuid.UUID]map[string]int64
}

func NewMemoryCustody() *MemoryCustody {
	return &MemoryCustody{
		balances: make(map[uuid.UUID]map[string]int64),
	}
}

// Credit mints amount of asset into owner's account. Test and bootstrap
// helper; not part of the Custody interface.
func (c *MemoryCustody) Credit(owner uuid.UUID, asset string, amount int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credit(owner, asset, amount)
}

func (c *MemoryCustody) credit(owner uuid.UUID, asset string, amount int64) {
	holdings, ok := c.balances[owner]
	if !ok {
		holdings = make(map[string]int64)
		c.balances[owner] = holdings
	}
	holdings[asset] += amount
}

func (c *MemoryCustody) TransferFrom(_ context.Context, from, to uuid.UUID, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: non-positive amount %d", ErrTransferFailed, amount)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.balances[from][asset] < amount {
		return fmt.Errorf("%w: %s has %d %s, need %d",
			ErrTransferFailed, from, c.balances[from][asset], asset, amount)
	}
	c.balances[from][asset] -= amount
	c.credit(to, asset, amount)
	return nil
}

func (c *MemoryCustody) Balance(_ context.Context, owner uuid.UUID, asset string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[owner][asset], nil
}

// FailingCustody rejects every transfer. Tests use it to exercise the
// compensation paths behind ErrTransferFailed.
type FailingCustody struct{}

func (FailingCustody) TransferFrom(context.Context, uuid.UUID, uuid.UUID, string, int64) error {
	return fmt.Errorf("%w: custody unavailable", ErrTransferFailed)
}

func (FailingCustody) Balance(context.Context, uuid.UUID, string) (int64, error) {
	return 0, fmt.Errorf("%w: custody unavailable", ErrTransferFailed)
}
