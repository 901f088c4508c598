package peripheral_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/strided/internal/testutils"
	"github.com/srg/strided/peripheral"
	"github.com/srg/strided/rsc"
)

// PeripheralTestSuite drives the peripheral against an in-memory
// stack.
type PeripheralTestSuite struct {
	suite.Suite

	stack  *testutils.FakeStack
	logger *logrus.Logger
	cancel context.CancelFunc
}

func (s *PeripheralTestSuite) SetupTest() {
	s.stack = testutils.NewFakeStack()
	s.logger = logrus.New()
	s.logger.SetOutput(io.Discard)
}

func (s *PeripheralTestSuite) newPeripheral(cfg peripheral.Config) (*peripheral.Peripheral, context.Context) {
	if cfg.DeviceName == "" {
		cfg.DeviceName = "Treadmill Pi"
	}
	if cfg.AdvertiseBackoff == 0 {
		cfg.AdvertiseBackoff = 20 * time.Millisecond
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = time.Second
	}

	p := peripheral.New(s.stack, cfg, s.logger)
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	return p, ctx
}

func (s *PeripheralTestSuite) TearDownTest() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// waitFor polls cond until it holds or the deadline passes.
func (s *PeripheralTestSuite) waitFor(cond func() bool, msg string) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	s.Fail(msg)
}

func (s *PeripheralTestSuite) TestStartRegistersAndAdvertises() {
	// GOAL: Verify the lifecycle state ordering on startup
	//
	// TEST SCENARIO: Start → service registered before advertising →
	// state reaches advertising with the configured name

	p, ctx := s.newPeripheral(peripheral.Config{})

	s.Require().NoError(p.Start(ctx))
	defer p.Stop()

	s.True(s.stack.Registered(), "service must be registered before advertising starts")
	s.GreaterOrEqual(int(p.State()), int(peripheral.StateRegistered))

	s.waitFor(func() bool { return p.State() == peripheral.StateAdvertising }, "peripheral never reached advertising")
	s.Equal("Treadmill Pi", s.stack.AdvertisedName())

	svc := s.stack.Service()
	s.Equal(rsc.ServiceUUID, svc.UUID)
	s.Len(svc.Characteristics, 2)
}

func (s *PeripheralTestSuite) TestRegistrationFailureIsFatal() {
	// GOAL: Verify a service registration failure aborts Start
	//
	// TEST SCENARIO: Stack rejects Register → Start returns a
	// RegistrationError → state stays idle

	s.stack.FailRegister(errors.New("hci down"))
	p, ctx := s.newPeripheral(peripheral.Config{})

	err := p.Start(ctx)

	var regErr *peripheral.RegistrationError
	s.Require().ErrorAs(err, &regErr)
	s.Equal(peripheral.StateIdle, p.State())
	s.Zero(s.stack.AdvertiseAttempts())
}

func (s *PeripheralTestSuite) TestAdvertiseRetriesThenFails() {
	// GOAL: Verify advertising failures are retried with backoff and
	// eventually surface on Err()
	//
	// TEST SCENARIO: Every advertise attempt fails → attempts reach
	// the retry limit → fatal RegistrationError delivered on Err()

	const retries = 3
	for i := 0; i < retries; i++ {
		s.stack.QueueAdvertiseError(errors.New("adv set busy"))
	}

	p, ctx := s.newPeripheral(peripheral.Config{AdvertiseRetries: retries})
	s.Require().NoError(p.Start(ctx))
	defer p.Stop()

	select {
	case err := <-p.Err():
		var regErr *peripheral.RegistrationError
		s.Require().ErrorAs(err, &regErr)
		s.Equal("advertising", regErr.Op)
	case <-time.After(2 * time.Second):
		s.Fail("fatal advertising error never surfaced")
	}

	s.Equal(retries, s.stack.AdvertiseAttempts())
}

func (s *PeripheralTestSuite) TestNotifyWithoutSubscribersIsNoop() {
	// GOAL: Verify Notify does nothing without subscribers
	//
	// TEST SCENARIO: Start, no centrals → Notify → no payload sent
	// anywhere, no panic

	p, ctx := s.newPeripheral(peripheral.Config{})
	s.Require().NoError(p.Start(ctx))
	defer p.Stop()

	s.NotPanics(func() { p.Notify(rsc.Measurement{Speed: 100, Cadence: 50}) })
	s.Zero(p.Subscribers())
}

func (s *PeripheralTestSuite) TestSubscriberReceivesNotifications() {
	// GOAL: Verify a subscribed central receives encoded measurements
	//
	// TEST SCENARIO: Central subscribes → Notify → payload arrives
	// and decodes back to the original measurement

	p, ctx := s.newPeripheral(peripheral.Config{})
	s.Require().NoError(p.Start(ctx))
	defer p.Stop()

	var (
		mu       sync.Mutex
		payloads [][]byte
	)
	release := s.stack.Subscribe("aa:bb:cc:dd:ee:ff", func(payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		payloads = append(payloads, payload)
		return nil
	})
	defer release()

	s.Equal(1, p.Subscribers())

	want := rsc.Measurement{Speed: 1144, Cadence: 180}
	p.Notify(want)

	s.waitFor(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(payloads) == 1
	}, "notification never delivered")

	mu.Lock()
	got, err := rsc.Decode(payloads[0])
	mu.Unlock()
	s.Require().NoError(err)
	s.Equal(want, got)
}

func (s *PeripheralTestSuite) TestSendFailureDropsSubscriberSilently() {
	// GOAL: Verify a mid-notification send failure detaches only the
	// failing central
	//
	// TEST SCENARIO: Two centrals, one fails on send → failing one is
	// dropped, the other keeps receiving, peripheral stays advertising

	p, ctx := s.newPeripheral(peripheral.Config{})
	s.Require().NoError(p.Start(ctx))
	defer p.Stop()
	s.waitFor(func() bool { return p.State() == peripheral.StateAdvertising }, "peripheral never reached advertising")

	releaseBad := s.stack.Subscribe("bad", func([]byte) error {
		return errors.New("att timeout")
	})
	defer releaseBad()

	var (
		mu   sync.Mutex
		good int
	)
	releaseGood := s.stack.Subscribe("good", func([]byte) error {
		mu.Lock()
		defer mu.Unlock()
		good++
		return nil
	})
	defer releaseGood()

	s.Equal(2, p.Subscribers())
	p.Notify(rsc.Measurement{Speed: 1, Cadence: 1})

	s.waitFor(func() bool { return p.Subscribers() == 1 }, "failing subscriber never dropped")

	p.Notify(rsc.Measurement{Speed: 2, Cadence: 2})
	s.waitFor(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return good >= 2
	}, "healthy subscriber stopped receiving")

	s.Equal(peripheral.StateAdvertising, p.State())
}

func (s *PeripheralTestSuite) TestResubscriptionSurvivesStaleRelease() {
	// GOAL: Verify a late release from an earlier subscription does
	// not tear down the same central's re-subscription
	//
	// TEST SCENARIO: Central subscribes, re-subscribes under the same
	// address → old subscription's release fires afterwards → the new
	// subscription stays registered and keeps receiving

	p, ctx := s.newPeripheral(peripheral.Config{})
	s.Require().NoError(p.Start(ctx))
	defer p.Stop()

	const central = "aa:bb:cc:dd:ee:ff"

	releaseOld := s.stack.Subscribe(central, func([]byte) error { return nil })

	var (
		mu       sync.Mutex
		received int
	)
	releaseNew := s.stack.Subscribe(central, func([]byte) error {
		mu.Lock()
		defer mu.Unlock()
		received++
		return nil
	})
	defer releaseNew()

	// The notify handler of the first subscription returns late.
	releaseOld()

	s.Equal(1, p.Subscribers(), "re-subscription must survive the stale release")

	p.Notify(rsc.Measurement{Speed: 512, Cadence: 160})
	s.waitFor(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received == 1
	}, "re-subscribed central never received the notification")
}

func (s *PeripheralTestSuite) TestStopReturnsToIdle() {
	// GOAL: Verify Stop is clean and idempotent from any state
	//
	// TEST SCENARIO: Start with a subscriber → Stop twice → state is
	// idle, stack closed, Notify afterwards is a no-op

	p, ctx := s.newPeripheral(peripheral.Config{})
	s.Require().NoError(p.Start(ctx))

	release := s.stack.Subscribe("aa:bb:cc:dd:ee:ff", func([]byte) error { return nil })
	defer release()

	p.Stop()
	p.Stop()

	s.Equal(peripheral.StateIdle, p.State())
	s.True(s.stack.Closed())
	s.NotPanics(func() { p.Notify(rsc.Measurement{Speed: 9, Cadence: 9}) })
}

func (s *PeripheralTestSuite) TestStopBeforeStart() {
	// GOAL: Verify Stop from idle does not blow up
	//
	// TEST SCENARIO: Never started → Stop → still idle, stack closed

	p, _ := s.newPeripheral(peripheral.Config{})

	s.NotPanics(p.Stop)
	s.Equal(peripheral.StateIdle, p.State())
}

func TestPeripheralTestSuite(t *testing.T) {
	suite.Run(t, new(PeripheralTestSuite))
}
