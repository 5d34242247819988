package event

import (
	"time"
)

// EventType discriminator for audit event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota

	// StableValueToken
	EventTypeTokensMinted
	EventTypeTokensBurned
	EventTypeCoverageBurned
	EventTypeReserveFundUpdated

	// LiquidityEngine
	EventTypeLiquidityProvided
	EventTypeLiquidityWithdrawn
	EventTypeInsuranceBackingMinted
	EventTypeTradingLossCovered
	EventTypeEngineProfitDistributed

	// TradingLedger
	EventTypeAssetDeposited
	EventTypeAssetWithdrawn
	EventTypeTradingLossRecorded
	EventTypeTradingProfitRecorded
	EventTypeProfitsDistributed
	EventTypeAssetsSwept

	// CrossChainAllocator
	EventTypeFundsAllocated
	EventTypeCrossChainDispatched
	EventTypeCrossChainResolved
	EventTypeCrossChainReplayRejected
	EventTypeProfitThresholdReached
	EventTypeRemoteProfitDistributed
	EventTypeRemoteLossCovered
)

// Envelope wraps every audit event in the log.
type Envelope struct {
	// Global monotonic sequence assigned by the recorder
	Sequence int64

	// Event type discriminator
	Type EventType

	// Component that emitted the event
	Component string

	// JSON-encoded event-specific data
	Payload []byte

	// Emission time
	Timestamp time.Time
}

func (et EventType) String() string {
	switch et {
	case EventTypeTokensMinted:
		return "TokensMinted"
	case EventTypeTokensBurned:
		return "TokensBurned"
	case EventTypeCoverageBurned:
		return "CoverageBurned"
	case EventTypeReserveFundUpdated:
		return "ReserveFundUpdated"
	case EventTypeLiquidityProvided:
		return "LiquidityProvided"
	case EventTypeLiquidityWithdrawn:
		return "LiquidityWithdrawn"
	case EventTypeInsuranceBackingMinted:
		return "InsuranceBackingMinted"
	case EventTypeTradingLossCovered:
		return "TradingLossCovered"
	case EventTypeEngineProfitDistributed:
		return "EngineProfitDistributed"
	case EventTypeAssetDeposited:
		return "AssetDeposited"
	case EventTypeAssetWithdrawn:
		return "AssetWithdrawn"
	case EventTypeTradingLossRecorded:
		return "TradingLossRecorded"
	case EventTypeTradingProfitRecorded:
		return "TradingProfitRecorded"
	case EventTypeProfitsDistributed:
		return "ProfitsDistributed"
	case EventTypeAssetsSwept:
		return "AssetsSwept"
	case EventTypeFundsAllocated:
		return "FundsAllocated"
	case EventTypeCrossChainDispatched:
		return "CrossChainDispatched"
	case EventTypeCrossChainResolved:
		return "CrossChainResolved"
	case EventTypeCrossChainReplayRejected:
		return "CrossChainReplayRejected"
	case EventTypeProfitThresholdReached:
		return "ProfitThresholdReached"
	case EventTypeRemoteProfitDistributed:
		return "RemoteProfitDistributed"
	case EventTypeRemoteLossCovered:
		return "RemoteLossCovered"
	default:
		return "Unknown"
	}
}
