// Package breaker implements windowed circuit breakers over engine health
// metrics. Each breaker samples one metric, keeps a bounded window of recent
// observations, and trips when the windowed aggregate exceeds its threshold.
// Critical breakers additionally latch a global emergency stop that blocks
// all risk-increasing operations until an operator clears it.
package breaker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"coverx/internal/config"
	"coverx/internal/fault"
	"coverx/internal/metrics"
	"coverx/internal/models"
	"coverx/internal/repository"
)

const emergencySettingKey = "emergency_stop"

// MetricsSource supplies current metric values by name. The waterfall stats
// collector implements this.
type MetricsSource interface {
	Metric(ctx context.Context, name string) (float64, error)
}

type Engine struct {
	Repo   repository.Repository
	Source MetricsSource
	Logger *zap.Logger
	Cfg    config.BreakerConfig

	// Now is swapped in tests.
	Now func() time.Time

	mu        sync.Mutex
	specs     map[string]config.BreakerSpec
	order     []string
	rings     map[string]*Ring
	emergency bool
}

func New(repo repository.Repository, source MetricsSource, logger *zap.Logger, cfg config.BreakerConfig) *Engine {
	e := &Engine{
		Repo:   repo,
		Source: source,
		Logger: logger,
		Cfg:    cfg,
		Now:    func() time.Time { return time.Now().UTC() },
		specs:  map[string]config.BreakerSpec{},
		rings:  map[string]*Ring{},
	}
	for _, spec := range cfg.Defaults {
		e.specs[spec.ID] = spec
		e.order = append(e.order, spec.ID)
		e.rings[spec.ID] = NewRing(cfg.WindowCapacity)
	}
	return e
}

// Restore reloads persisted breaker windows and the emergency latch so a
// restarted process does not begin with empty state.
func (e *Engine) Restore(ctx context.Context) error {
	states, err := e.Repo.ListBreakerStates(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range states {
		ring, ok := e.rings[st.ID]
		if !ok || len(st.WindowJSON) == 0 {
			continue
		}
		var samples []Sample
		if err := json.Unmarshal(st.WindowJSON, &samples); err != nil {
			e.Logger.Warn("discarding unreadable breaker window", zap.String("breaker", st.ID), zap.Error(err))
			continue
		}
		for _, s := range samples {
			ring.Push(s)
		}
	}
	setting, err := e.Repo.GetSetting(ctx, emergencySettingKey)
	if err != nil {
		return err
	}
	if setting != nil && setting.Value == "1" {
		e.emergency = true
		metrics.EmergencyStop.Set(1)
	}
	return nil
}

// EmergencyStopped reports whether the global latch is set.
func (e *Engine) EmergencyStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emergency
}

// Guard returns a tripped fault when the latch blocks op. Risk-increasing
// entry points call this first.
func (e *Engine) Guard(op string) error {
	if e.EmergencyStopped() {
		return fault.New(fault.KindTripped, op, "emergency stop is latched")
	}
	return nil
}

// SetEmergency flips the global latch by operator action.
func (e *Engine) SetEmergency(ctx context.Context, on bool) error {
	e.mu.Lock()
	e.emergency = on
	e.mu.Unlock()
	value := "0"
	if on {
		value = "1"
		metrics.EmergencyStop.Set(1)
	} else {
		metrics.EmergencyStop.Set(0)
	}
	return e.Repo.SaveSetting(ctx, &models.Setting{Key: emergencySettingKey, Value: value})
}

// CheckAll samples and evaluates every enabled breaker. Per-breaker failures
// are logged and do not abort the sweep.
func (e *Engine) CheckAll(ctx context.Context) {
	e.mu.Lock()
	ids := make([]string, len(e.order))
	copy(ids, e.order)
	e.mu.Unlock()
	for _, id := range ids {
		if _, err := e.Check(ctx, id); err != nil {
			e.Logger.Error("breaker check failed", zap.String("breaker", id), zap.Error(err))
		}
	}
}

// Check samples the breaker's metric, evaluates the windowed aggregate, and
// returns whether the breaker is tripped afterwards. A breaker whose cooldown
// has elapsed returns to active before the new sample is evaluated.
func (e *Engine) Check(ctx context.Context, id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	spec, ok := e.specs[id]
	if !ok {
		return false, fault.Newf(fault.KindValidation, "breaker.check", "unknown breaker %q", id)
	}
	now := e.Now()

	state, err := e.Repo.GetBreakerState(ctx, id)
	if err != nil {
		return false, err
	}
	if state == nil {
		state = &models.BreakerState{ID: id, Status: models.BreakerActive}
	}
	if !spec.Enabled {
		if state.Status != models.BreakerDisabled {
			state.Status = models.BreakerDisabled
			if err := e.saveLocked(ctx, state, id); err != nil {
				return false, err
			}
		}
		return false, nil
	}
	if state.Status == models.BreakerDisabled {
		state.Status = models.BreakerActive
	}

	if state.Status == models.BreakerTriggered || state.Status == models.BreakerCoolingDown {
		if state.CoolingDownUntil != nil && now.After(*state.CoolingDownUntil) {
			state.Status = models.BreakerActive
			state.TriggeredAt = nil
			state.CoolingDownUntil = nil
			e.Logger.Info("breaker cooldown elapsed", zap.String("breaker", id))
		} else {
			return true, e.saveLocked(ctx, state, id)
		}
	}

	value, err := e.Source.Metric(ctx, spec.Metric)
	if err != nil {
		return false, fault.Wrap(fault.KindDependency, "breaker.check", err)
	}
	if spec.Inverted {
		// Low readings on an inverted metric are the danger signal; the
		// reciprocal maps them above the threshold. A zero reading is the
		// worst case and always trips.
		if value > 0 {
			value = 1 / value
		} else {
			value = spec.Threshold + 1
		}
	}

	ring := e.rings[id]
	ring.Push(Sample{Value: value, At: now})

	window := ring.Window(now.Add(-spec.Window))
	agg := aggregate(spec.Aggregate, window)

	if agg > spec.Threshold {
		until := now.Add(spec.Cooldown)
		state.Status = models.BreakerTriggered
		state.TriggeredAt = &now
		state.CoolingDownUntil = &until
		state.TripCount++
		metrics.BreakerTrips.WithLabelValues(id).Inc()
		e.Logger.Warn("breaker tripped",
			zap.String("breaker", id),
			zap.String("metric", spec.Metric),
			zap.Float64("aggregate", agg),
			zap.Float64("threshold", spec.Threshold),
			zap.Time("cooling_down_until", until))
		if spec.Critical && !e.emergency {
			e.emergency = true
			metrics.EmergencyStop.Set(1)
			e.Logger.Error("critical breaker latched emergency stop", zap.String("breaker", id))
			if err := e.Repo.SaveSetting(ctx, &models.Setting{Key: emergencySettingKey, Value: "1"}); err != nil {
				return true, err
			}
		}
		return true, e.saveLocked(ctx, state, id)
	}

	return false, e.saveLocked(ctx, state, id)
}

// Reset clears a tripped breaker by operator action. The sample window is
// dropped so stale readings cannot re-trip it immediately. The emergency
// latch is left alone; clearing that is a separate, explicit call.
func (e *Engine) Reset(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.specs[id]; !ok {
		return fault.Newf(fault.KindValidation, "breaker.reset", "unknown breaker %q", id)
	}
	state, err := e.Repo.GetBreakerState(ctx, id)
	if err != nil {
		return err
	}
	if state == nil {
		state = &models.BreakerState{ID: id}
	}
	state.Status = models.BreakerActive
	state.TriggeredAt = nil
	state.CoolingDownUntil = nil
	e.rings[id].Reset()
	e.Logger.Info("breaker reset", zap.String("breaker", id))
	return e.saveLocked(ctx, state, id)
}

// States returns the persisted view of every configured breaker.
func (e *Engine) States(ctx context.Context) ([]models.BreakerState, error) {
	return e.Repo.ListBreakerStates(ctx)
}

func (e *Engine) saveLocked(ctx context.Context, state *models.BreakerState, id string) error {
	raw, err := json.Marshal(e.rings[id].Snapshot())
	if err != nil {
		return err
	}
	state.WindowJSON = raw
	return e.Repo.SaveBreakerState(ctx, state)
}

func aggregate(mode string, window []Sample) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, s := range window {
		sum += s.Value
	}
	if mode == "avg" {
		return sum / float64(len(window))
	}
	return sum
}
