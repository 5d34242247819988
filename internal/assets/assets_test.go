package assets_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ctib-core/Pulley/internal/assets"
	"github.com/google/uuid"
)

func TestRegistry_DenyUnknownAsset(t *testing.T) {
	reg := assets.NewRegistry()

	if reg.IsAllowed("USDC") {
		t.Error("unregistered asset should be denied")
	}
	if err := reg.Require("USDC"); !errors.Is(err, assets.ErrAssetNotSupported) {
		t.Errorf("got %v, want ErrAssetNotSupported", err)
	}
}

func TestRegistry_SetAllowedAndRevoke(t *testing.T) {
	reg := assets.NewRegistry()

	reg.SetAllowed("USDC", true)
	reg.SetAllowed("DAI", true)

	if !reg.IsAllowed("USDC") || !reg.IsAllowed("DAI") {
		t.Fatal("allowed assets should pass")
	}

	reg.SetAllowed("USDC", false)
	if reg.IsAllowed("USDC") {
		t.Error("revoked asset should be denied")
	}
	if !reg.IsAllowed("DAI") {
		t.Error("revoking one asset should not affect another")
	}

	// Re-enable keeps original roster position
	reg.SetAllowed("USDC", true)
	got := reg.List()
	want := []string{"USDC", "DAI"}
	if len(got) != len(want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestMemoryCustody_TransferFrom(t *testing.T) {
	custody := assets.NewMemoryCustody()
	alice, bob := uuid.New(), uuid.New()
	ctx := context.Background()

	custody.Credit(alice, "USDC", 1_000_000)

	if err := custody.TransferFrom(ctx, alice, bob, "USDC", 400_000); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	aliceBal, _ := custody.Balance(ctx, alice, "USDC")
	bobBal, _ := custody.Balance(ctx, bob, "USDC")
	if aliceBal != 600_000 || bobBal != 400_000 {
		t.Errorf("balances = %d/%d, want 600000/400000", aliceBal, bobBal)
	}
}

func TestMemoryCustody_InsufficientBalance(t *testing.T) {
	custody := assets.NewMemoryCustody()
	alice, bob := uuid.New(), uuid.New()
	ctx := context.Background()

	custody.Credit(alice, "USDC", 100)

	err := custody.TransferFrom(ctx, alice, bob, "USDC", 101)
	if !errors.Is(err, assets.ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}

	// Failed transfer must not move anything
	aliceBal, _ := custody.Balance(ctx, alice, "USDC")
	if aliceBal != 100 {
		t.Errorf("balance after failed transfer = %d, want 100", aliceBal)
	}
}

func TestMemoryCustody_RejectsNonPositive(t *testing.T) {
	custody := assets.NewMemoryCustody()
	ctx := context.Background()

	for _, amount := range []int64{0, -5} {
		err := custody.TransferFrom(ctx, uuid.New(), uuid.New(), "USDC", amount)
		if !errors.Is(err, assets.ErrTransferFailed) {
			t.Errorf("amount %d: got %v, want ErrTransferFailed", amount, err)
		}
	}
}
