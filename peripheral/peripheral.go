package peripheral

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/strided/internal/groutine"
	"github.com/srg/strided/internal/ringchan"
	"github.com/srg/strided/rsc"
)

// State is the peripheral lifecycle state. Transitions only move
// forward (Idle -> Registered -> Advertising) until Stop, which
// returns to Idle from any state.
type State int32

const (
	StateIdle State = iota
	StateRegistered
	StateAdvertising
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRegistered:
		return "registered"
	case StateAdvertising:
		return "advertising"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	// DefaultQueueDepth is the per-subscriber notification queue
	// depth. A slow central loses its oldest queued measurement
	// rather than stalling the sampling loop.
	DefaultQueueDepth = 8

	// DefaultDrainTimeout bounds how long Stop waits for notify
	// dispatchers to finish.
	DefaultDrainTimeout = 2 * time.Second

	// DefaultAdvertiseRetries is how many consecutive advertise
	// failures are tolerated before the peripheral gives up.
	DefaultAdvertiseRetries = 5

	// DefaultAdvertiseBackoff is the pause between advertise retries.
	DefaultAdvertiseBackoff = 2 * time.Second
)

// Config configures the GATT peripheral.
type Config struct {
	DeviceName       string        // Advertised local name
	AdvertiseRetries int           // 0 = use default
	AdvertiseBackoff time.Duration // 0 = use default
	QueueDepth       int           // Per-subscriber queue depth, 0 = use default
	DrainTimeout     time.Duration // 0 = use default
}

// subscriber is one central with an active measurement subscription.
// Payloads flow through a bounded queue so one slow central cannot
// block the sampling loop or the other subscribers.
type subscriber struct {
	central string
	send    Sender
	queue   *ringchan.RingChannel[[]byte]
}

// Peripheral exposes the RSC service over a Stack and fans
// measurement notifications out to subscribed centrals.
type Peripheral struct {
	stack  Stack
	cfg    Config
	logger *logrus.Logger

	state       atomic.Int32
	subscribers *hashmap.Map[string, *subscriber]
	wg          sync.WaitGroup
	errC        chan error
	cancel      context.CancelFunc
	stopOnce    sync.Once
}

// New creates a Peripheral over the given stack. It does not touch
// the stack until Start.
func New(stack Stack, cfg Config, logger *logrus.Logger) *Peripheral {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.AdvertiseRetries == 0 {
		cfg.AdvertiseRetries = DefaultAdvertiseRetries
	}
	if cfg.AdvertiseBackoff == 0 {
		cfg.AdvertiseBackoff = DefaultAdvertiseBackoff
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}

	return &Peripheral{
		stack:       stack,
		cfg:         cfg,
		logger:      logger,
		subscribers: hashmap.New[string, *subscriber](),
		errC:        make(chan error, 1),
	}
}

// Start registers the RSC service and begins advertising. Service
// registration failure is fatal and returned directly; advertising
// runs in the background and reports persistent failure on Err().
func (p *Peripheral) Start(ctx context.Context) error {
	svc := ServiceSpec{
		UUID: rsc.ServiceUUID,
		Characteristics: []CharacteristicSpec{
			{UUID: rsc.MeasurementUUID, Notify: true},
			{UUID: rsc.SensorLocationUUID, Value: []byte{rsc.SensorLocationTopOfShoe}},
		},
	}

	if err := p.stack.Register(svc, p.attach); err != nil {
		return &RegistrationError{Op: "service registration", Err: err}
	}
	p.state.Store(int32(StateRegistered))
	p.logger.WithField("service", rsc.ServiceUUID).Info("Registered RSC service")

	advCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	groutine.Go(advCtx, "peripheral-advertise", func(ctx context.Context) {
		defer p.wg.Done()
		p.advertiseLoop(ctx)
	})

	return nil
}

// advertiseLoop keeps the advertisement alive. Stack.Advertise blocks
// while the advertisement is active, so every return either means a
// clean shutdown or a failure worth retrying.
func (p *Peripheral) advertiseLoop(ctx context.Context) {
	failures := 0

	for {
		p.state.Store(int32(StateAdvertising))
		p.logger.WithFields(logrus.Fields{
			"name":    p.cfg.DeviceName,
			"service": rsc.ServiceUUID,
		}).Info("Advertising")

		started := time.Now()
		err := p.stack.Advertise(ctx, p.cfg.DeviceName, rsc.ServiceUUID)

		if ctx.Err() != nil {
			return
		}

		// An advertisement that ran for a while before failing is a
		// fresh outage, not part of the previous retry run.
		if time.Since(started) > p.cfg.AdvertiseBackoff {
			failures = 0
		}
		if err == nil {
			// Advertising stopped without a cause; treat as failure
			// so the supervisor restarts it.
			err = fmt.Errorf("advertising stopped unexpectedly")
		}

		p.state.Store(int32(StateRegistered))
		failures++
		p.logger.WithError(err).WithField("failures", failures).Warn("Advertising failed")

		if failures >= p.cfg.AdvertiseRetries {
			p.fail(&RegistrationError{Op: "advertising", Err: err})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.AdvertiseBackoff):
		}
	}
}

// attach is called by the stack when a central subscribes to the
// measurement characteristic. It spawns a dispatcher goroutine that
// drains the subscriber's queue; a send failure detaches the central
// without disturbing anyone else.
func (p *Peripheral) attach(central string, send Sender) (release func()) {
	sub := &subscriber{
		central: central,
		send:    send,
		queue:   ringchan.New[[]byte](p.cfg.QueueDepth),
	}
	p.subscribers.Set(central, sub)
	p.logger.WithFields(logrus.Fields{
		"central":     central,
		"subscribers": p.subscribers.Len(),
	}).Info("Central subscribed")

	p.wg.Add(1)
	groutine.Go(context.Background(), "notify-"+central, func(ctx context.Context) {
		defer p.wg.Done()
		p.dispatch(ctx, sub)
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			p.detach(sub)
		})
	}
}

// dispatch delivers queued payloads to one central until its queue is
// closed or a send fails.
func (p *Peripheral) dispatch(ctx context.Context, sub *subscriber) {
	for payload := range sub.queue.C() {
		if err := sub.send(payload); err != nil {
			// The central went away mid-notification. Drop it and
			// keep serving the rest.
			p.logger.WithError(err).WithFields(logrus.Fields{
				"central":    sub.central,
				"dispatcher": groutine.GetName(ctx),
			}).Warn("Notification send failed, dropping subscriber")
			p.detach(sub)
			return
		}
	}
}

func (p *Peripheral) detach(sub *subscriber) {
	// A central can unsubscribe and re-subscribe under the same
	// address, and the old subscription's release may land after the
	// new attach. Only the registry entry belonging to this exact
	// subscription may be removed; a stale release just shuts down its
	// own dispatcher.
	if cur, ok := p.subscribers.Get(sub.central); ok && cur == sub {
		p.subscribers.Del(sub.central)
		p.logger.WithFields(logrus.Fields{
			"central":     sub.central,
			"subscribers": p.subscribers.Len(),
		}).Info("Central unsubscribed")
	}
	sub.queue.Close()
}

// Notify fans the measurement out to every subscribed central. It is
// a no-op when the peripheral is stopped or nobody is subscribed, and
// it never blocks the caller.
func (p *Peripheral) Notify(m rsc.Measurement) {
	if p.State() == StateIdle {
		return
	}
	if p.subscribers.Len() == 0 {
		return
	}

	payload := m.Encode()
	p.subscribers.Range(func(_ string, sub *subscriber) bool {
		if dropped := sub.queue.ForceSend(payload); dropped {
			p.logger.WithField("central", sub.central).Debug("Subscriber queue full, dropped oldest measurement")
		}
		return true
	})
}

// State returns the current lifecycle state.
func (p *Peripheral) State() State {
	return State(p.state.Load())
}

// Subscribers returns the number of centrals with an active
// measurement subscription.
func (p *Peripheral) Subscribers() int {
	return p.subscribers.Len()
}

// Err reports the first fatal peripheral failure. The daemon treats
// anything received here as a reason to shut down.
func (p *Peripheral) Err() <-chan error {
	return p.errC
}

func (p *Peripheral) fail(err error) {
	select {
	case p.errC <- err:
	default:
	}
}

// Stop tears the peripheral down: stops advertising, detaches every
// subscriber, waits for dispatchers to drain (bounded by
// DrainTimeout) and closes the stack. Safe to call from any state and
// more than once.
func (p *Peripheral) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}

		p.subscribers.Range(func(_ string, sub *subscriber) bool {
			p.detach(sub)
			return true
		})

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(p.cfg.DrainTimeout):
			p.logger.Warn("Timed out waiting for notify dispatchers to drain")
		}

		if err := p.stack.Close(); err != nil {
			p.logger.WithError(err).Warn("Failed to close BLE stack")
		}

		p.state.Store(int32(StateIdle))
		p.logger.Info("Peripheral stopped")
	})
}
