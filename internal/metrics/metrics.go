// Package metrics provides Prometheus instrumentation for the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PremiumsCollected accumulates collected premium value per event.
	PremiumsCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coverx_premiums_collected_total",
		Help: "Cumulative premium collected, settlement currency",
	}, []string{"event_id"})

	// CoverageUnitsSold accumulates sold coverage units per event.
	CoverageUnitsSold = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coverx_coverage_units_sold_total",
		Help: "Cumulative coverage units sold",
	}, []string{"event_id"})

	// HedgeFills counts per-venue hedge executions by result.
	HedgeFills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coverx_hedge_fills_total",
		Help: "Hedge order slices, partitioned by venue and result",
	}, []string{"venue", "result"})

	// HedgeDiverted accumulates hedge budget diverted into reserves after
	// venue failures.
	HedgeDiverted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coverx_hedge_diverted_total",
		Help: "Hedge budget diverted to reserves after venue failures",
	})

	// PayoutsPaid accumulates redemption payouts partitioned by layer.
	PayoutsPaid = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coverx_payouts_paid_total",
		Help: "Redemption payouts, partitioned by capital layer",
	}, []string{"layer"})

	// BreakerTrips counts circuit breaker trips by breaker id.
	BreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coverx_breaker_trips_total",
		Help: "Circuit breaker trips",
	}, []string{"breaker"})

	// EmergencyStop reports whether the global emergency latch is set.
	EmergencyStop = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coverx_emergency_stop",
		Help: "1 when the global emergency latch is set",
	})

	// OracleReports counts accepted oracle reports by result.
	OracleReports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coverx_oracle_reports_total",
		Help: "Oracle reports, partitioned by result",
	}, []string{"result"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
