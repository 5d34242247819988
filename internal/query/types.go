package query

import "github.com/google/uuid"

// StatusResponse summarizes the whole system for API queries.
type StatusResponse struct {
	TokenSupply    int64 `json:"token_supply"`
	ReserveFund    int64 `json:"reserve_fund"`
	InsuranceFunds int64 `json:"insurance_funds"`

	PoolValue       int64 `json:"pool_value"`
	TotalInvested   int64 `json:"total_invested"`
	PendingRequests int   `json:"pending_requests"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// EngineResponse represents the liquidity engine's aggregates.
type EngineResponse struct {
	TotalBackingValue     int64            `json:"total_backing_value"`
	TotalInsuranceBacking int64            `json:"total_insurance_backing"`
	TotalLossesCovered    int64            `json:"total_losses_covered"`
	Reserves              map[string]int64 `json:"reserves"`
	ProviderCount         int              `json:"provider_count"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// ProviderResponse represents one liquidity provider's claim.
type ProviderResponse struct {
	Provider        uuid.UUID `json:"provider"`
	AssetsDeposited int64     `json:"assets_deposited"`
	TokensOwned     int64     `json:"tokens_owned"`
	DepositTime     int64     `json:"deposit_time"`
	Active          bool      `json:"active"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// PoolResponse represents the trading ledger's aggregates.
type PoolResponse struct {
	TotalPoolValue            int64            `json:"total_pool_value"`
	TotalTradingLosses        int64            `json:"total_trading_losses"`
	TotalTradingProfits       int64            `json:"total_trading_profits"`
	PendingProfitDistribution int64            `json:"pending_profit_distribution"`
	LossesCoveredByInsurance  int64            `json:"losses_covered_by_insurance"`
	ProfitSharePercent        int64            `json:"profit_share_percent"`
	Balances                  map[string]int64 `json:"balances"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// AllocatorResponse represents the cross-chain allocator's aggregates.
type AllocatorResponse struct {
	InsuranceAllocation  int64 `json:"insurance_allocation"`
	VaultAllocation      int64 `json:"vault_allocation"`
	LimitOrderAllocation int64 `json:"limit_order_allocation"`
	TotalInvested        int64 `json:"total_invested"`
	VaultProfit          int64 `json:"vault_profit"`
	LimitOrderProfit     int64 `json:"limit_order_profit"`
	ProfitThreshold      int64 `json:"profit_threshold"`
	PendingRequests      int   `json:"pending_requests"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// RequestResponse represents one cross-chain request's lifecycle row.
type RequestResponse struct {
	RequestID   string `json:"request_id"`
	Destination string `json:"destination"`
	MessageType string `json:"message_type"`
	Asset       string `json:"asset"`
	Amount      int64  `json:"amount"`
	State       string `json:"state"`
	UpdatedAt   int64  `json:"updated_at"`
}

// EventResponse represents one audit log entry.
type EventResponse struct {
	Sequence  int64  `json:"sequence"`
	EventType string `json:"event_type"`
	Component string `json:"component"`
	Payload   []byte `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}
