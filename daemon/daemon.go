// Package daemon wires the sensing pipeline together and drives it:
// it pulls accelerometer samples on a fixed tick, turns them into
// steps, steps into cadence, cadence into speed, and publishes the
// result as RSC notifications.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/strided/internal/sensor"
	"github.com/srg/strided/motion"
	"github.com/srg/strided/peripheral"
	"github.com/srg/strided/rsc"
)

const (
	// DefaultSamplePeriod matches a 50 Hz accelerometer stream.
	DefaultSamplePeriod = 20 * time.Millisecond

	// DefaultSensorFailureLimit is how many consecutive read failures
	// are tolerated before the daemon shuts down.
	DefaultSensorFailureLimit = 50
)

// ErrSensorLost reports that the sample source failed too many times
// in a row to keep running.
var ErrSensorLost = errors.New("sample source lost")

// Config configures the sampling loop.
type Config struct {
	SamplePeriod       time.Duration // 0 = use default
	SensorFailureLimit int           // 0 = use default
}

// Daemon owns the pipeline lifecycle. Build one with New and drive it
// with Run; Run blocks until ctx cancellation or a fatal error.
type Daemon struct {
	cfg        Config
	source     sensor.Source
	detector   *motion.Detector
	estimator  *motion.Estimator
	mapper     rsc.Mapper
	peripheral *peripheral.Peripheral
	logger     *logrus.Logger
}

// New assembles a daemon from pre-built pipeline stages.
func New(
	cfg Config,
	source sensor.Source,
	detector *motion.Detector,
	estimator *motion.Estimator,
	mapper rsc.Mapper,
	p *peripheral.Peripheral,
	logger *logrus.Logger,
) *Daemon {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.SamplePeriod <= 0 {
		cfg.SamplePeriod = DefaultSamplePeriod
	}
	if cfg.SensorFailureLimit <= 0 {
		cfg.SensorFailureLimit = DefaultSensorFailureLimit
	}

	return &Daemon{
		cfg:        cfg,
		source:     source,
		detector:   detector,
		estimator:  estimator,
		mapper:     mapper,
		peripheral: p,
		logger:     logger,
	}
}

// Run starts the peripheral and the sampling loop. It returns nil on
// context cancellation, or the fatal error that stopped the pipeline.
// The peripheral is always stopped on the way out, so the service is
// unregistered and subscribers are released on every exit path.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.peripheral.Start(ctx); err != nil {
		return err
	}
	defer d.peripheral.Stop()

	d.logger.WithFields(logrus.Fields{
		"sample_period": d.cfg.SamplePeriod,
		"failure_limit": d.cfg.SensorFailureLimit,
	}).Info("Sampling loop started")

	ticker := time.NewTicker(d.cfg.SamplePeriod)
	defer ticker.Stop()

	var (
		failures int
		last     rsc.Measurement
		notified bool
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Shutting down")
			return nil

		case err := <-d.peripheral.Err():
			return fmt.Errorf("peripheral failed: %w", err)

		case <-ticker.C:
			sample, err := d.source.Read()
			if err != nil {
				failures++
				d.logger.WithError(err).WithField("consecutive", failures).Warn("Sensor read failed")
				if failures >= d.cfg.SensorFailureLimit {
					return fmt.Errorf("%w: %d consecutive read failures: %w", ErrSensorLost, failures, err)
				}
				continue
			}
			failures = 0

			var cadence int
			if event, ok := d.detector.Observe(sample); ok {
				cadence = d.estimator.OnStep(event)
			} else {
				cadence = d.estimator.Tick(sample.Timestamp)
			}

			m := d.mapper.Map(cadence)
			if notified && m == last {
				continue
			}
			last = m
			notified = true

			d.logger.WithFields(logrus.Fields{
				"cadence": cadence,
				"speed":   m.SpeedMetersPerSecond(),
			}).Debug("Measurement changed")
			d.peripheral.Notify(m)
		}
	}
}
