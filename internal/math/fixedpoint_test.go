package math_test

import (
	"testing"

	fpmath "github.com/ctib-core/Pulley/internal/math"
)

func TestMulDiv_NoOverflow(t *testing.T) {
	// 9e18-adjacent intermediate would overflow int64; big.Int path must not.
	got := fpmath.MulDiv(3_000_000_000_000, 3_000_000_000, 1_000_000_000)
	if got != 9_000_000_000_000 {
		t.Errorf("got %d, want 9_000_000_000_000", got)
	}
}

func TestProportionalShare_Exact(t *testing.T) {
	// Redeem 300 of 1000 tokens against 1000 deposited: owed 300.
	got := fpmath.ProportionalShare(1000, 300, 1000)
	if got != 300 {
		t.Errorf("got %d, want 300", got)
	}
}

func TestProportionalShare_RoundingTolerance(t *testing.T) {
	cases := []struct {
		deposited, redeemed, owned int64
	}{
		{1000, 333, 1000},
		{999, 100, 777},
		{1_000_000, 1, 3},
		{7, 3, 11},
	}

	for _, c := range cases {
		got := fpmath.ProportionalShare(c.deposited, c.redeemed, c.owned)
		exact := float64(c.deposited) * float64(c.redeemed) / float64(c.owned)
		diff := exact - float64(got)
		if diff < 0 {
			diff = -diff
		}
		if diff > 1 {
			t.Errorf("ProportionalShare(%d, %d, %d) = %d, exact %.4f, off by more than 1 unit",
				c.deposited, c.redeemed, c.owned, got, exact)
		}
	}
}

func TestProportionalShare_ZeroInputs(t *testing.T) {
	if got := fpmath.ProportionalShare(1000, 0, 1000); got != 0 {
		t.Errorf("zero redeemed: got %d, want 0", got)
	}
	if got := fpmath.ProportionalShare(1000, 100, 0); got != 0 {
		t.Errorf("zero owned: got %d, want 0", got)
	}
}

func TestClampSub(t *testing.T) {
	if got := fpmath.ClampSub(100, 30); got != 70 {
		t.Errorf("got %d, want 70", got)
	}
	if got := fpmath.ClampSub(30, 100); got != 0 {
		t.Errorf("got %d, want 0 (clamped)", got)
	}
	if got := fpmath.ClampSub(100, 100); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestSplitFunds_SumsExactly(t *testing.T) {
	amounts := []int64{1, 2, 3, 9, 10, 99, 100, 101, 1_000_003, 7_777_777_777}

	for _, amount := range amounts {
		alloc := fpmath.SplitFunds(amount)
		if alloc.Total() != amount {
			t.Errorf("SplitFunds(%d): buckets sum to %d", amount, alloc.Total())
		}

		// Insurance within ±1 of 10%.
		want := amount * 10 / 100
		diff := alloc.Insurance - want
		if diff < -1 || diff > 1 {
			t.Errorf("SplitFunds(%d): insurance %d not within 1 of %d", amount, alloc.Insurance, want)
		}
	}
}

func TestSplitFunds_RemainderToVault(t *testing.T) {
	// 101: insurance=10, orders=45, vault takes 46 (45 + remainder 1)
	alloc := fpmath.SplitFunds(101)
	if alloc.Insurance != 10 || alloc.LimitOrder != 45 || alloc.Vault != 46 {
		t.Errorf("got %+v, want {10 46 45}", alloc)
	}
}

func TestComputeProfitShare_Bounds(t *testing.T) {
	cases := []struct {
		covered, total, want int64
	}{
		{0, 0, 20},    // no losses: floor
		{0, 1000, 20}, // nothing covered: floor
		{500, 1000, 50},
		{1000, 1000, 80},  // fully covered: cap
		{2000, 1000, 80},  // covered > total still capped
		{600, 10000, 23},  // 600*60/10000 = 3
		{1, 1_000_000, 20}, // tiny coverage rounds to floor
	}

	for _, c := range cases {
		got := fpmath.ComputeProfitShare(c.covered, c.total)
		if got != c.want {
			t.Errorf("ComputeProfitShare(%d, %d) = %d, want %d", c.covered, c.total, got, c.want)
		}
		if got < 20 || got > 80 {
			t.Errorf("ComputeProfitShare(%d, %d) = %d out of [20, 80]", c.covered, c.total, got)
		}
	}
}

func TestSplitProfit(t *testing.T) {
	insurance, trader := fpmath.SplitProfit(10_000)
	if insurance != 100 {
		t.Errorf("insurance share: got %d, want 100", insurance)
	}
	if trader != 9_900 {
		t.Errorf("trader share: got %d, want 9_900", trader)
	}
	if insurance+trader != 10_000 {
		t.Errorf("shares do not sum: %d + %d", insurance, trader)
	}

	// Remainder goes to trader.
	insurance, trader = fpmath.SplitProfit(99)
	if insurance != 0 || trader != 99 {
		t.Errorf("got (%d, %d), want (0, 99)", insurance, trader)
	}
}
