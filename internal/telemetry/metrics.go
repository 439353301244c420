package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes per-strategy balance gauges and a kernel error-class
// counter alongside the CSV telemetry (grounded on chidi150c-coinbase's
// prometheus usage), scraped by the operator's existing Prometheus setup.
type Metrics struct {
	BTCBalance  prometheus.Gauge
	USDTBalance prometheus.Gauge
	Errors      *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry, strategyName string) *Metrics {
	m := &Metrics{
		BTCBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pivottrader",
			Subsystem:   strategyName,
			Name:        "btc_balance",
			Help:        "Estimated strategy book value in BTC.",
		}),
		USDTBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pivottrader",
			Subsystem:   strategyName,
			Name:        "usdt_balance",
			Help:        "Estimated strategy book value in USDT.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pivottrader",
			Subsystem: strategyName,
			Name:      "kernel_errors_total",
			Help:      "Count of kernel error classifications by kind.",
		}, []string{"kind"}),
	}
	registry.MustRegister(m.BTCBalance, m.USDTBalance, m.Errors)
	return m
}

// Observe updates the balance gauges from a freshly built Snapshot.
func (m *Metrics) Observe(snap Snapshot) {
	m.BTCBalance.Set(snap.BTCBalance)
	m.USDTBalance.Set(snap.USDTBalance)
}
