// Package motion turns raw acceleration samples into step events and a
// smoothed cadence estimate.
package motion

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/strided/internal/sensor"
)

// StepEvent marks one detected footfall.
type StepEvent struct {
	Timestamp time.Time
}

// DetectorConfig tunes peak detection for a specific mechanical setup.
// The thresholds are relative to the adaptive baseline; Refractory
// suppresses double-counting from belt bounce.
type DetectorConfig struct {
	RiseThreshold float64       // m/s^2 above baseline that counts as a peak
	FallThreshold float64       // m/s^2 below baseline that counts as a trough
	Refractory    time.Duration // minimum spacing between steps
	BaselineAlpha float64       // EWMA weight of each new sample, (0, 1)
}

// Detector emits a StepEvent on each rising baseline crossing that
// completes a full peak-trough-peak cycle. The signal oscillates around
// a slowly-adapting baseline so mount orientation and gravity offset do
// not need calibration.
type Detector struct {
	cfg    DetectorConfig
	logger *logrus.Logger

	baseline  float64
	seeded    bool
	inPeak    bool
	sawTrough bool
	lastStep  time.Time
	haveStep  bool
}

// NewDetector creates a step detector. A nil logger disables logging.
func NewDetector(cfg DetectorConfig, logger *logrus.Logger) *Detector {
	if logger == nil {
		logger = logrus.New()
	}
	return &Detector{cfg: cfg, logger: logger}
}

// Observe feeds one sample through the detector. The returned bool is
// true when the sample completed a step.
//
// The first sample only seeds the baseline. A sample identical to the
// baseline changes nothing. A flat signal therefore never fires, and a
// stopped machine goes silent within one refractory period.
func (d *Detector) Observe(sample sensor.Sample) (StepEvent, bool) {
	if !d.seeded {
		d.baseline = sample.Value
		d.seeded = true
		return StepEvent{}, false
	}

	base := d.baseline
	d.baseline += d.cfg.BaselineAlpha * (sample.Value - base)

	switch {
	case sample.Value >= base+d.cfg.RiseThreshold:
		if d.inPeak {
			return StepEvent{}, false
		}
		d.inPeak = true
		if !d.sawTrough {
			return StepEvent{}, false
		}
		if d.haveStep && sample.Timestamp.Sub(d.lastStep) < d.cfg.Refractory {
			return StepEvent{}, false
		}
		d.sawTrough = false
		d.lastStep = sample.Timestamp
		d.haveStep = true
		d.logger.WithField("at", sample.Timestamp).Debug("Step detected")
		return StepEvent{Timestamp: sample.Timestamp}, true

	case sample.Value <= base-d.cfg.FallThreshold:
		d.inPeak = false
		d.sawTrough = true
	}

	return StepEvent{}, false
}
