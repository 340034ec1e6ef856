package waterfall

import (
	"context"
	"sync"

	"coverx/internal/hedge"
	"coverx/internal/oracle"
)

// Metric names fed to the circuit breakers. The oracle and hedge engines own
// the names of the readings they record.
const (
	MetricPoolLossRatio    = "pool_loss_ratio"
	MetricRealizedLoss     = "realized_loss"
	MetricOracleFailures   = oracle.MetricFailures
	MetricHedgeSlippage    = hedge.MetricSlippage
	MetricHedgeCorrelation = "hedge_correlation"
	MetricVolume           = "volume"
	MetricTotalLiquidity   = "total_liquidity"
)

// Stats is the process-wide risk metrics snapshot. Gauges report the latest
// observed level; counters accumulate between breaker checks and drain on
// read, so a sum-aggregated breaker window sees each unit of loss or volume
// exactly once.
type Stats struct {
	mu       sync.Mutex
	gauges   map[string]float64
	counters map[string]float64
}

func NewStats() *Stats {
	return &Stats{
		gauges:   map[string]float64{},
		counters: map[string]float64{},
	}
}

// SetGauge records the current level of a ratio-style metric.
func (s *Stats) SetGauge(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges[name] = value
}

// Add accumulates a volume-style metric until the next breaker read.
func (s *Stats) Add(name string, delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name] += delta
}

// Metric returns the current value for name. Counters drain on read; gauges
// do not. Unknown names read as zero so a misconfigured breaker stays quiet
// instead of failing every sweep.
func (s *Stats) Metric(_ context.Context, name string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.counters[name]; ok {
		s.counters[name] = 0
		return v, nil
	}
	return s.gauges[name], nil
}
