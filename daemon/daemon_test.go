package daemon_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/strided/daemon"
	"github.com/srg/strided/internal/sensor"
	"github.com/srg/strided/internal/testutils"
	"github.com/srg/strided/motion"
	"github.com/srg/strided/peripheral"
	"github.com/srg/strided/rsc"
)

// virtualPeriod is the virtual clock step of the synthetic waveform.
// The real ticker runs much faster so ten virtual seconds of pipeline
// take well under a second of wall time.
const virtualPeriod = 20 * time.Millisecond

// fadingSource plays a 2 Hz stride waveform for activeReads samples,
// then goes flat, like a runner stepping off the machine.
type fadingSource struct {
	inner       *sensor.SyntheticSource
	mu          sync.Mutex
	reads       int
	activeReads int
}

func (f *fadingSource) Read() (sensor.Sample, error) {
	sample, err := f.inner.Read()
	f.mu.Lock()
	f.reads++
	flat := f.reads > f.activeReads
	f.mu.Unlock()
	if flat {
		sample.Value = 0
	}
	return sample, err
}

func (f *fadingSource) Close() error { return f.inner.Close() }

// failingSource errors on every read.
type failingSource struct{}

func (failingSource) Read() (sensor.Sample, error) {
	return sensor.Sample{}, &sensor.ReadError{Err: errors.New("i2c bus hang")}
}

func (failingSource) Close() error { return nil }

type DaemonTestSuite struct {
	suite.Suite

	stack  *testutils.FakeStack
	logger *logrus.Logger
}

func (s *DaemonTestSuite) SetupTest() {
	s.stack = testutils.NewFakeStack()
	s.logger = logrus.New()
	s.logger.SetOutput(io.Discard)
}

func (s *DaemonTestSuite) newDaemon(src sensor.Source) (*daemon.Daemon, *peripheral.Peripheral) {
	p := peripheral.New(s.stack, peripheral.Config{
		DeviceName:       "Treadmill Pi",
		AdvertiseBackoff: time.Millisecond,
		DrainTimeout:     time.Second,
	}, s.logger)

	det := motion.NewDetector(motion.DetectorConfig{
		RiseThreshold: 3,
		FallThreshold: 3,
		Refractory:    250 * time.Millisecond,
		BaselineAlpha: 0.05,
	}, s.logger)
	est := motion.NewEstimator(motion.EstimatorConfig{Horizon: 5 * time.Second})

	d := daemon.New(daemon.Config{
		SamplePeriod:       time.Millisecond,
		SensorFailureLimit: 10,
	}, src, det, est, rsc.NewMapper(rsc.DefaultMapperConfig()), p, s.logger)

	return d, p
}

// collect subscribes a fake central and returns a snapshot accessor.
func (s *DaemonTestSuite) collect() (func() []rsc.Measurement, func()) {
	var (
		mu       sync.Mutex
		received []rsc.Measurement
	)
	release := s.stack.Subscribe("aa:bb:cc:dd:ee:ff", func(payload []byte) error {
		m, err := rsc.Decode(payload)
		if err != nil {
			return err
		}
		mu.Lock()
		received = append(received, m)
		mu.Unlock()
		return nil
	})
	snapshot := func() []rsc.Measurement {
		mu.Lock()
		defer mu.Unlock()
		out := make([]rsc.Measurement, len(received))
		copy(out, received)
		return out
	}
	return snapshot, release
}

func (s *DaemonTestSuite) waitFor(cond func() bool, msg string) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	s.Fail(msg)
}

func (s *DaemonTestSuite) TestSteadyStrideProducesMeasurements() {
	// GOAL: Verify the full pipeline from waveform to notification
	//
	// TEST SCENARIO: Steady 2 Hz stride waveform → subscribed central
	// receives measurements converging on ~120 machine cadence

	src := sensor.NewSyntheticSource(sensor.SyntheticConfig{
		Frequency: 2,
		Amplitude: 8,
		Period:    virtualPeriod,
	})
	d, _ := s.newDaemon(src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	s.waitFor(func() bool { return s.stack.Registered() }, "service never registered")
	snapshot, release := s.collect()
	defer release()

	// 180 equivalent running spm is the steady-state value for 120
	// machine cadence.
	s.waitFor(func() bool {
		ms := snapshot()
		return len(ms) > 0 && ms[len(ms)-1].Cadence >= 170
	}, "pipeline never converged on a steady cadence")

	last := snapshot()
	s.NotZero(last[len(last)-1].Speed)

	cancel()
	s.Require().NoError(<-done)
}

func (s *DaemonTestSuite) TestCadenceDecaysToZeroAfterStopping() {
	// GOAL: Verify the reported measurement returns to zero when
	// strides stop
	//
	// TEST SCENARIO: Waveform goes flat → cadence window empties →
	// final notification carries a zero measurement

	src := &fadingSource{
		inner: sensor.NewSyntheticSource(sensor.SyntheticConfig{
			Frequency: 2,
			Amplitude: 8,
			Period:    virtualPeriod,
		}),
		activeReads: 500, // 10 virtual seconds of striding
	}
	d, _ := s.newDaemon(src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	s.waitFor(func() bool { return s.stack.Registered() }, "service never registered")
	snapshot, release := s.collect()
	defer release()

	var sawMoving bool
	s.waitFor(func() bool {
		ms := snapshot()
		if len(ms) == 0 {
			return false
		}
		last := ms[len(ms)-1]
		if last.Cadence > 0 {
			sawMoving = true
		}
		return sawMoving && last == (rsc.Measurement{})
	}, "measurement never decayed back to zero")

	cancel()
	s.Require().NoError(<-done)
}

func (s *DaemonTestSuite) TestSensorLossIsFatal() {
	// GOAL: Verify persistent sensor failure shuts the daemon down
	//
	// TEST SCENARIO: Every read fails → failure limit reached → Run
	// returns ErrSensorLost and the peripheral is stopped

	d, p := s.newDaemon(failingSource{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := d.Run(ctx)

	s.Require().ErrorIs(err, daemon.ErrSensorLost)
	s.Equal(peripheral.StateIdle, p.State())
	s.True(s.stack.Closed())
}

func (s *DaemonTestSuite) TestCancellationIsCleanShutdown() {
	// GOAL: Verify context cancellation is not reported as an error
	//
	// TEST SCENARIO: Cancel mid-run → Run returns nil → peripheral
	// unregistered and idle

	src := sensor.NewSyntheticSource(sensor.SyntheticConfig{
		Frequency: 2,
		Amplitude: 8,
		Period:    virtualPeriod,
	})
	d, p := s.newDaemon(src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	s.waitFor(func() bool { return p.State() == peripheral.StateAdvertising }, "peripheral never reached advertising")
	cancel()

	select {
	case err := <-done:
		s.Require().NoError(err)
	case <-time.After(5 * time.Second):
		s.Fail("daemon did not shut down")
	}
	s.Equal(peripheral.StateIdle, p.State())
}

func TestDaemonTestSuite(t *testing.T) {
	suite.Run(t, new(DaemonTestSuite))
}
