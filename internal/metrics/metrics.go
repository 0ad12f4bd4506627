package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the relayer's prometheus collectors on a dedicated registry
// so tests can instantiate it without global registration conflicts.
type Metrics struct {
	Registry *prometheus.Registry

	ClaimsSigned      prometheus.Counter
	DepositsConfirmed prometheus.Counter
	Broadcasts        prometheus.Counter
	BroadcastRetries  prometheus.Counter
	RefundsRequested  prometheus.Counter
	HotWalletBalance  prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		ClaimsSigned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_claims_signed_total",
			Help: "Number of EIP-712 claims signed and persisted.",
		}),
		DepositsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_deposits_confirmed_total",
			Help: "Number of EVM deposits that reached the required depth.",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_dfc_broadcasts_total",
			Help: "Number of outbound DFC transactions broadcast.",
		}),
		BroadcastRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_dfc_broadcast_retries_total",
			Help: "Number of retried DFC broadcast attempts.",
		}),
		RefundsRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_queue_refunds_requested_total",
			Help: "Number of queue entries moved to REFUND_REQUESTED.",
		}),
		HotWalletBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_hot_wallet_balance_dfi",
			Help: "Last observed spendable DFI balance of the hot wallet.",
		}),
	}

	registry.MustRegister(
		m.ClaimsSigned,
		m.DepositsConfirmed,
		m.Broadcasts,
		m.BroadcastRetries,
		m.RefundsRequested,
		m.HotWalletBalance,
	)
	return m
}
