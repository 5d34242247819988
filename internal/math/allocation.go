package math

// Allocation percentages for funds received by the cross-chain allocator.
// Fixed protocol constants; the rounding remainder goes to the vault bucket
// so the three components always sum exactly to the input.
const (
	InsurancePercent  int64 = 10
	VaultPercent      int64 = 45
	LimitOrderPercent int64 = 45
)

// Profit-share bounds for the dynamic pulley-token profit share.
const (
	ProfitShareFloor int64 = 20
	ProfitShareCap   int64 = 80
	profitShareRange int64 = ProfitShareCap - ProfitShareFloor
)

// Profit split applied by the allocator when remote profit is distributed.
const (
	InsuranceProfitPercent int64 = 1
	TraderProfitPercent    int64 = 99
)

// FundAllocation is the derived three-way split of an amount. Transient:
// computed per call, never persisted.
type FundAllocation struct {
	Insurance  int64
	Vault      int64
	LimitOrder int64
}

// SplitFunds divides amount into the fixed 10/45/45 buckets. Integer
// rounding leaves a remainder of at most 2 units; it is assigned to the
// vault bucket so Insurance + Vault + LimitOrder == amount exactly.
func SplitFunds(amount int64) FundAllocation {
	insurance := PercentOf(amount, InsurancePercent)
	orders := PercentOf(amount, LimitOrderPercent)
	vault := amount - insurance - orders

	return FundAllocation{
		Insurance:  insurance,
		Vault:      vault,
		LimitOrder: orders,
	}
}

// Total returns the sum of the three buckets.
func (a FundAllocation) Total() int64 {
	return a.Insurance + a.Vault + a.LimitOrder
}

// ComputeProfitShare recomputes the pulley-token profit share from the
// historical coverage ratio:
//
//	share = 20 + min(60, coveredLosses * 60 / totalLosses)
//
// The insurance side's share scales linearly with how much of the
// historical losses it has absorbed, floored at 20 and capped at 80.
func ComputeProfitShare(coveredLosses, totalLosses int64) int64 {
	if totalLosses <= 0 {
		return ProfitShareFloor
	}

	bump := MulDiv(coveredLosses, profitShareRange, totalLosses)
	if bump > profitShareRange {
		bump = profitShareRange
	}
	return ProfitShareFloor + bump
}

// SplitProfit divides a remote profit into the 1% insurance share and the
// 99% trader share. The trader share takes the rounding remainder.
func SplitProfit(amount int64) (insuranceShare, traderShare int64) {
	insuranceShare = PercentOf(amount, InsuranceProfitPercent)
	traderShare = amount - insuranceShare
	return insuranceShare, traderShare
}
