package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ctib-core/Pulley/internal/allocator"
	"github.com/ctib-core/Pulley/internal/engine"
	"github.com/ctib-core/Pulley/internal/pool"
	"github.com/ctib-core/Pulley/internal/token"
	"github.com/ctib-core/Pulley/internal/xmsg"
)

// QueryService serves read-only views of the system. Aggregates come from
// the live components; request and event history comes from the audit log
// in Postgres. All responses carry as_of_sequence, the highest audit
// sequence persisted at query time, so callers can reason about freshness.
type QueryService struct {
	token  *token.StableValueToken
	eng    *engine.LiquidityEngine
	ledger *pool.TradingLedger
	alloc  *allocator.CrossChainAllocator
	db     *sql.DB // nil when running without Postgres
}

func NewQueryService(
	tok *token.StableValueToken,
	eng *engine.LiquidityEngine,
	ledger *pool.TradingLedger,
	alloc *allocator.CrossChainAllocator,
	db *sql.DB,
) *QueryService {
	return &QueryService{
		token:  tok,
		eng:    eng,
		ledger: ledger,
		alloc:  alloc,
		db:     db,
	}
}

// GetStatus returns the system-wide summary.
func (qs *QueryService) GetStatus(ctx context.Context) (*StatusResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	return &StatusResponse{
		TokenSupply:     qs.token.TotalSupply(),
		ReserveFund:     qs.token.ReserveFund(),
		InsuranceFunds:  qs.token.InsuranceFunds(),
		PoolValue:       qs.ledger.TotalPoolValue(),
		TotalInvested:   qs.alloc.TotalInvested(),
		PendingRequests: qs.countPending(),
		AsOfSequence:    asOfSeq,
	}, nil
}

// GetEngine returns the liquidity engine's aggregates.
func (qs *QueryService) GetEngine(ctx context.Context) (*EngineResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	return &EngineResponse{
		TotalBackingValue:     qs.eng.TotalBackingValue(),
		TotalInsuranceBacking: qs.eng.TotalInsuranceBacking(),
		TotalLossesCovered:    qs.eng.TotalLossesCovered(),
		Reserves:              qs.eng.Reserves(),
		ProviderCount:         len(qs.eng.Providers()),
		AsOfSequence:          asOfSeq,
	}, nil
}

// GetProvider returns one liquidity provider's claim. Missing providers
// resolve to a zero, inactive record rather than an error.
func (qs *QueryService) GetProvider(ctx context.Context, addr uuid.UUID) (*ProviderResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	p, _ := qs.eng.Provider(addr)

	resp := &ProviderResponse{
		Provider:        addr,
		AssetsDeposited: p.AssetsDeposited,
		TokensOwned:     p.PulleyTokensOwned,
		Active:          p.Active(),
		AsOfSequence:    asOfSeq,
	}
	if !p.DepositTime.IsZero() {
		resp.DepositTime = p.DepositTime.Unix()
	}
	return resp, nil
}

// GetPool returns the trading ledger's aggregates.
func (qs *QueryService) GetPool(ctx context.Context) (*PoolResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	return &PoolResponse{
		TotalPoolValue:            qs.ledger.TotalPoolValue(),
		TotalTradingLosses:        qs.ledger.TotalTradingLosses(),
		TotalTradingProfits:       qs.ledger.TotalTradingProfits(),
		PendingProfitDistribution: qs.ledger.PendingProfitDistribution(),
		LossesCoveredByInsurance:  qs.ledger.TotalLossesCoveredByPulley(),
		ProfitSharePercent:        qs.ledger.PulleyTokenProfitShare(),
		Balances:                  qs.ledger.Balances(),
		AsOfSequence:              asOfSeq,
	}, nil
}

// GetAllocator returns the cross-chain allocator's aggregates.
func (qs *QueryService) GetAllocator(ctx context.Context) (*AllocatorResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	insurance, vault, limitOrder := qs.alloc.Allocations()

	return &AllocatorResponse{
		InsuranceAllocation:  insurance,
		VaultAllocation:      vault,
		LimitOrderAllocation: limitOrder,
		TotalInvested:        qs.alloc.TotalInvested(),
		VaultProfit:          qs.alloc.VaultProfit(),
		LimitOrderProfit:     qs.alloc.LimitOrderProfit(),
		ProfitThreshold:      qs.alloc.ProfitThreshold(),
		PendingRequests:      qs.countPending(),
		AsOfSequence:         asOfSeq,
	}, nil
}

// GetRequest resolves a request ID against the live allocator first and
// falls back to the audit mirror, so requests from before a restart are
// still answerable.
func (qs *QueryService) GetRequest(ctx context.Context, id string) (*RequestResponse, error) {
	reqID, err := xmsg.ParseRequestID(id)
	if err != nil {
		return nil, fmt.Errorf("parse request id: %w", err)
	}

	if req, ok := qs.alloc.Request(reqID); ok {
		return &RequestResponse{
			RequestID:   req.ID.String(),
			Destination: req.Destination,
			MessageType: req.Type.String(),
			Asset:       req.Asset,
			Amount:      req.Amount,
			State:       req.State.String(),
			UpdatedAt:   req.Timestamp.Unix(),
		}, nil
	}

	if qs.db == nil {
		return nil, nil
	}

	var r RequestResponse
	var updatedAt sql.NullTime
	err = qs.db.QueryRowContext(ctx, `
		SELECT request_id, destination, message_type, asset, amount, state, updated_at
		FROM audit.cross_chain_requests
		WHERE request_id = $1
	`, id).Scan(&r.RequestID, &r.Destination, &r.MessageType, &r.Asset, &r.Amount, &r.State, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		r.UpdatedAt = updatedAt.Time.Unix()
	}
	return &r, nil
}

// ListRequests returns a snapshot of the live allocator's requests.
// Order is unspecified.
func (qs *QueryService) ListRequests(ctx context.Context) ([]RequestResponse, error) {
	reqs := qs.alloc.Requests()

	out := make([]RequestResponse, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, RequestResponse{
			RequestID:   req.ID.String(),
			Destination: req.Destination,
			MessageType: req.Type.String(),
			Asset:       req.Asset,
			Amount:      req.Amount,
			State:       req.State.String(),
			UpdatedAt:   req.Timestamp.Unix(),
		})
	}
	return out, nil
}

// ListEvents returns audit log entries after the given sequence,
// ascending, for cursor-based pagination.
func (qs *QueryService) ListEvents(ctx context.Context, afterSequence int64, limit int) ([]EventResponse, error) {
	if qs.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, event_type, component, payload, timestamp
		FROM audit.events
		WHERE sequence > $1
		ORDER BY sequence ASC
		LIMIT $2
	`, afterSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventResponse
	for rows.Next() {
		var e EventResponse
		var ts sql.NullTime
		if err := rows.Scan(&e.Sequence, &e.EventType, &e.Component, &e.Payload, &ts); err != nil {
			return nil, err
		}
		if ts.Valid {
			e.Timestamp = ts.Time.Unix()
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- helpers ---

func (qs *QueryService) countPending() int {
	n := 0
	for _, req := range qs.alloc.Requests() {
		if req.State == allocator.RequestStateDispatched {
			n++
		}
	}
	return n
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	if qs.db == nil {
		return 0, nil
	}

	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) FROM audit.events
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
