package observability

import (
	"context"
	"encoding/json"

	"github.com/ctib-core/Pulley/internal/event"
)

// Exporter projects the audit event stream onto Prometheus counters. It
// consumes a drop-on-full copy of the publish stream, so counts are
// best-effort under pressure — the audit log remains the source of truth.
// Gauges are sampled from live component state elsewhere.
type Exporter struct {
	metrics   *Metrics
	inputChan <-chan event.Envelope
}

func NewExporter(metrics *Metrics, inputChan <-chan event.Envelope) *Exporter {
	return &Exporter{metrics: metrics, inputChan: inputChan}
}

// Run drains the channel until ctx is cancelled or the channel closes.
func (e *Exporter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-e.inputChan:
			if !ok {
				return nil
			}
			e.apply(env)
		}
	}
}

// payloadFields is the superset of audit payload fields the exporter
// reads. Unknown fields are ignored per envelope type.
type payloadFields struct {
	Asset      string `json:"asset"`
	Amount     int64  `json:"amount"`
	Loss       int64  `json:"loss"`
	Profit     int64  `json:"profit"`
	Insurance  int64  `json:"insurance"`
	Vault      int64  `json:"vault"`
	LimitOrder int64  `json:"limit_order"`
	Pulley     int64  `json:"pulley_share"`
	Pool       int64  `json:"pool_share"`
	Type       string `json:"type"`
	Success    bool   `json:"success"`
}

func (e *Exporter) apply(env event.Envelope) {
	m := e.metrics
	if m == nil {
		return
	}

	var p payloadFields
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
	}

	switch env.Type {
	case event.EventTypeCoverageBurned:
		m.CoverageBurns.Inc()
		m.CoverageBurnedAmount.Add(float64(p.Amount))

	case event.EventTypeLiquidityProvided, event.EventTypeInsuranceBackingMinted:
		m.LiquidityProvided.WithLabelValues(p.Asset).Add(float64(p.Amount))

	case event.EventTypeLiquidityWithdrawn:
		m.LiquidityWithdrawn.WithLabelValues(p.Asset).Add(float64(p.Amount))

	case event.EventTypeTradingLossCovered:
		m.LossesCovered.Add(float64(p.Loss))

	case event.EventTypeTradingLossRecorded:
		m.TradingLosses.Add(float64(p.Loss))

	case event.EventTypeTradingProfitRecorded:
		m.TradingProfits.Add(float64(p.Profit))

	case event.EventTypeProfitsDistributed:
		m.ProfitsDistributed.WithLabelValues("pulley").Add(float64(p.Pulley))
		m.ProfitsDistributed.WithLabelValues("pool").Add(float64(p.Pool))

	case event.EventTypeAssetsSwept:
		m.AssetsSwept.WithLabelValues(p.Asset).Add(float64(p.Amount))

	case event.EventTypeFundsAllocated:
		m.FundsAllocated.WithLabelValues("insurance").Add(float64(p.Insurance))
		m.FundsAllocated.WithLabelValues("vault").Add(float64(p.Vault))
		m.FundsAllocated.WithLabelValues("limit_order").Add(float64(p.LimitOrder))

	case event.EventTypeCrossChainDispatched:
		m.RequestsDispatched.WithLabelValues(p.Type).Inc()

	case event.EventTypeCrossChainResolved:
		outcome := "failure"
		if p.Success {
			outcome = "success"
		}
		m.RequestsResolved.WithLabelValues(outcome).Inc()

	case event.EventTypeCrossChainReplayRejected:
		m.ReplaysRejected.Inc()
	}
}
