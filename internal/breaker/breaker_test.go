package breaker

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"coverx/internal/config"
	"coverx/internal/models"
	"coverx/internal/repository/memory"
)

type stubSource struct {
	values map[string]float64
}

func (s *stubSource) Metric(_ context.Context, name string) (float64, error) {
	return s.values[name], nil
}

func testEngine(t *testing.T, specs ...config.BreakerSpec) (*Engine, *stubSource, *time.Time) {
	t.Helper()
	src := &stubSource{values: map[string]float64{}}
	eng := New(memory.New(), src, zap.NewNop(), config.BreakerConfig{
		WindowCapacity: 8,
		Defaults:       specs,
	})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }
	return eng, src, &now
}

func TestRingOverwritesOldest(t *testing.T) {
	r := NewRing(3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		r.Push(Sample{Value: float64(i), At: base.Add(time.Duration(i) * time.Second)})
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	snap := r.Snapshot()
	if snap[0].Value != 2 || snap[2].Value != 4 {
		t.Fatalf("Snapshot = %v, want values 2..4 oldest first", snap)
	}
}

func TestRingWindowCutoff(t *testing.T) {
	r := NewRing(8)
	base := time.Now()
	for i := 0; i < 4; i++ {
		r.Push(Sample{Value: float64(i), At: base.Add(time.Duration(i) * time.Minute)})
	}
	window := r.Window(base.Add(time.Minute)) // strictly after
	if len(window) != 2 {
		t.Fatalf("window has %d samples, want 2", len(window))
	}
	if window[0].Value != 2 {
		t.Fatalf("window[0].Value = %v, want 2", window[0].Value)
	}
}

func TestCheckStrictThreshold(t *testing.T) {
	eng, src, _ := testEngine(t, config.BreakerSpec{
		ID: "loss", Metric: "realized_loss", Threshold: 100,
		Window: time.Hour, Cooldown: time.Hour, Aggregate: "sum", Enabled: true,
	})
	ctx := context.Background()

	src.values["realized_loss"] = 100 // exactly at threshold must not trip
	tripped, err := eng.Check(ctx, "loss")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if tripped {
		t.Fatal("tripped at aggregate == threshold, want strictly greater")
	}

	src.values["realized_loss"] = 0.01 // sum now 100.01
	tripped, err = eng.Check(ctx, "loss")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !tripped {
		t.Fatal("aggregate exceeded threshold but breaker did not trip")
	}

	state, err := eng.Repo.GetBreakerState(ctx, "loss")
	if err != nil || state == nil {
		t.Fatalf("GetBreakerState: state=%v err=%v", state, err)
	}
	if state.Status != models.BreakerTriggered {
		t.Fatalf("Status = %q, want %q", state.Status, models.BreakerTriggered)
	}
	if state.TripCount != 1 {
		t.Fatalf("TripCount = %d, want 1", state.TripCount)
	}
	if state.CoolingDownUntil == nil {
		t.Fatal("CoolingDownUntil not set on trip")
	}
}

func TestCooldownReturnsToActive(t *testing.T) {
	eng, src, now := testEngine(t, config.BreakerSpec{
		ID: "loss", Metric: "realized_loss", Threshold: 10,
		Window: time.Minute, Cooldown: 30 * time.Minute, Aggregate: "sum", Enabled: true,
	})
	ctx := context.Background()

	src.values["realized_loss"] = 50
	if tripped, _ := eng.Check(ctx, "loss"); !tripped {
		t.Fatal("expected trip")
	}

	// Still cooling down: Check reports tripped without sampling.
	*now = now.Add(10 * time.Minute)
	src.values["realized_loss"] = 0
	if tripped, _ := eng.Check(ctx, "loss"); !tripped {
		t.Fatal("breaker cleared before cooldown elapsed")
	}

	// After the cooldown the breaker re-arms; the old sample has aged out of
	// the one-minute window, so the healthy reading leaves it active.
	*now = now.Add(25 * time.Minute)
	tripped, err := eng.Check(ctx, "loss")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if tripped {
		t.Fatal("breaker still tripped after cooldown with healthy metric")
	}
	state, _ := eng.Repo.GetBreakerState(ctx, "loss")
	if state.Status != models.BreakerActive {
		t.Fatalf("Status = %q, want %q", state.Status, models.BreakerActive)
	}
	if state.TriggeredAt != nil || state.CoolingDownUntil != nil {
		t.Fatal("trip timestamps not cleared after cooldown")
	}
}

func TestAvgAggregate(t *testing.T) {
	eng, src, now := testEngine(t, config.BreakerSpec{
		ID: "slip", Metric: "avg_slippage", Threshold: 0.05,
		Window: time.Hour, Cooldown: time.Hour, Aggregate: "avg", Enabled: true,
	})
	ctx := context.Background()

	for _, v := range []float64{0.02, 0.04} {
		src.values["avg_slippage"] = v
		if tripped, _ := eng.Check(ctx, "slip"); tripped {
			t.Fatalf("tripped at avg below threshold (sample %v)", v)
		}
		*now = now.Add(time.Minute)
	}

	src.values["avg_slippage"] = 0.12 // avg (0.02+0.04+0.12)/3 = 0.06 > 0.05
	if tripped, _ := eng.Check(ctx, "slip"); !tripped {
		t.Fatal("avg exceeded threshold but breaker did not trip")
	}
}

func TestInvertedMetric(t *testing.T) {
	eng, src, _ := testEngine(t, config.BreakerSpec{
		ID: "liq", Metric: "total_liquidity", Threshold: 0.001, // trips below 1000
		Window: time.Minute, Cooldown: time.Hour, Aggregate: "avg",
		Inverted: true, Enabled: true,
	})
	ctx := context.Background()

	src.values["total_liquidity"] = 5000
	if tripped, _ := eng.Check(ctx, "liq"); tripped {
		t.Fatal("tripped with healthy liquidity")
	}

	if err := eng.Reset(ctx, "liq"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	src.values["total_liquidity"] = 500 // 1/500 = 0.002 > 0.001
	if tripped, _ := eng.Check(ctx, "liq"); !tripped {
		t.Fatal("liquidity collapse did not trip inverted breaker")
	}
}

func TestCriticalLatchesEmergency(t *testing.T) {
	eng, src, _ := testEngine(t, config.BreakerSpec{
		ID: "insolvency", Metric: "solvency_gap", Threshold: 0,
		Window: time.Minute, Cooldown: time.Hour, Aggregate: "sum",
		Critical: true, Enabled: true,
	})
	ctx := context.Background()

	src.values["solvency_gap"] = 1
	if tripped, _ := eng.Check(ctx, "insolvency"); !tripped {
		t.Fatal("expected trip")
	}
	if !eng.EmergencyStopped() {
		t.Fatal("critical trip did not latch emergency stop")
	}
	if err := eng.Guard("buy_coverage"); err == nil {
		t.Fatal("Guard allowed operation under emergency stop")
	}

	// Resetting the breaker must not clear the latch.
	if err := eng.Reset(ctx, "insolvency"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !eng.EmergencyStopped() {
		t.Fatal("breaker reset cleared the emergency latch")
	}
	if err := eng.SetEmergency(ctx, false); err != nil {
		t.Fatalf("SetEmergency: %v", err)
	}
	if eng.EmergencyStopped() {
		t.Fatal("latch still set after explicit clear")
	}
}

func TestRestoreReloadsWindowAndLatch(t *testing.T) {
	spec := config.BreakerSpec{
		ID: "loss", Metric: "realized_loss", Threshold: 100,
		Window: time.Hour, Cooldown: time.Hour, Aggregate: "sum",
		Critical: true, Enabled: true,
	}
	eng, src, _ := testEngine(t, spec)
	ctx := context.Background()

	src.values["realized_loss"] = 60
	if _, err := eng.Check(ctx, "loss"); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := eng.SetEmergency(ctx, true); err != nil {
		t.Fatalf("SetEmergency: %v", err)
	}

	// Fresh engine over the same store, as after a restart.
	restarted := New(eng.Repo, src, zap.NewNop(), config.BreakerConfig{WindowCapacity: 8, Defaults: []config.BreakerSpec{spec}})
	restarted.Now = eng.Now
	if err := restarted.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !restarted.EmergencyStopped() {
		t.Fatal("Restore did not reload emergency latch")
	}

	// The restored 60 plus a fresh 50 crosses the threshold.
	src.values["realized_loss"] = 50
	if tripped, _ := restarted.Check(ctx, "loss"); !tripped {
		t.Fatal("restored window was not used in the aggregate")
	}
}

func TestDisabledBreakerNeverTrips(t *testing.T) {
	eng, src, _ := testEngine(t, config.BreakerSpec{
		ID: "loss", Metric: "realized_loss", Threshold: 1,
		Window: time.Hour, Cooldown: time.Hour, Aggregate: "sum", Enabled: false,
	})
	ctx := context.Background()
	src.values["realized_loss"] = 1e9
	tripped, err := eng.Check(ctx, "loss")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if tripped {
		t.Fatal("disabled breaker tripped")
	}
	state, _ := eng.Repo.GetBreakerState(ctx, "loss")
	if state.Status != models.BreakerDisabled {
		t.Fatalf("Status = %q, want %q", state.Status, models.BreakerDisabled)
	}
}
