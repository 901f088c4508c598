package motion

import (
	"math"
	"time"
)

// EstimatorConfig bounds the cadence window.
type EstimatorConfig struct {
	Horizon time.Duration // sliding window length
}

// Estimator keeps a sliding window of step timestamps over the horizon
// and reports cadence in steps per minute. Silence must be observable
// as "stopped", so the daemon calls Tick every sampling period even
// when no step arrived; entries older than the horizon are evicted on
// every call and the reported cadence decays to zero on its own.
type Estimator struct {
	horizon time.Duration
	steps   []time.Time
}

// NewEstimator creates a cadence estimator.
func NewEstimator(cfg EstimatorConfig) *Estimator {
	return &Estimator{horizon: cfg.Horizon}
}

// OnStep records a step and returns the updated cadence. Events that do
// not advance the window are ignored, keeping the window strictly
// monotonic.
func (e *Estimator) OnStep(event StepEvent) int {
	if n := len(e.steps); n > 0 && !event.Timestamp.After(e.steps[n-1]) {
		return e.cadenceAt(e.steps[n-1])
	}
	e.steps = append(e.steps, event.Timestamp)
	return e.cadenceAt(event.Timestamp)
}

// Tick re-evaluates the window at the given time without recording a
// step.
func (e *Estimator) Tick(now time.Time) int {
	return e.cadenceAt(now)
}

func (e *Estimator) cadenceAt(now time.Time) int {
	e.evict(now)
	return int(math.Round(float64(len(e.steps)) * 60 / e.horizon.Seconds()))
}

func (e *Estimator) evict(now time.Time) {
	cutoff := now.Add(-e.horizon)
	i := 0
	for i < len(e.steps) && !e.steps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		e.steps = append(e.steps[:0], e.steps[i:]...)
	}
}
