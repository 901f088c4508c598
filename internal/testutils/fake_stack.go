// Package testutils provides test doubles shared across packages.
package testutils

import (
	"context"
	"sync"

	"github.com/srg/strided/peripheral"
)

// FakeStack is an in-memory peripheral.Stack. It records registration
// and advertising activity and lets tests drive central subscriptions
// without BLE hardware.
type FakeStack struct {
	mu sync.Mutex

	service peripheral.ServiceSpec
	attach  peripheral.AttachFunc

	registered        bool
	registerErr       error
	advertiseErrs     []error
	advertiseAttempts int
	advertisedName    string
	closed            bool
}

// NewFakeStack returns an empty fake stack.
func NewFakeStack() *FakeStack {
	return &FakeStack{}
}

// FailRegister makes the next Register call return err.
func (f *FakeStack) FailRegister(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerErr = err
}

// QueueAdvertiseError makes the next Advertise call fail with err
// instead of blocking. Queue several to exercise retry paths.
func (f *FakeStack) QueueAdvertiseError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advertiseErrs = append(f.advertiseErrs, err)
}

// Register implements peripheral.Stack.
func (f *FakeStack) Register(svc peripheral.ServiceSpec, attach peripheral.AttachFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.registerErr != nil {
		return f.registerErr
	}
	f.service = svc
	f.attach = attach
	f.registered = true
	return nil
}

// Advertise implements peripheral.Stack. Unless an error is queued it
// blocks until ctx is canceled, mirroring the production stack.
func (f *FakeStack) Advertise(ctx context.Context, name string, serviceUUIDs ...string) error {
	f.mu.Lock()
	f.advertiseAttempts++
	f.advertisedName = name
	if len(f.advertiseErrs) > 0 {
		err := f.advertiseErrs[0]
		f.advertiseErrs = f.advertiseErrs[1:]
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()

	<-ctx.Done()
	return nil
}

// Close implements peripheral.Stack.
func (f *FakeStack) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Subscribe simulates a central subscribing to the notify
// characteristic. It returns the release function the stack would
// call on unsubscribe. send receives every notification payload.
func (f *FakeStack) Subscribe(central string, send peripheral.Sender) (release func()) {
	f.mu.Lock()
	attach := f.attach
	f.mu.Unlock()

	if attach == nil {
		return func() {}
	}
	return attach(central, send)
}

// Registered reports whether Register succeeded.
func (f *FakeStack) Registered() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registered
}

// Service returns the registered service spec.
func (f *FakeStack) Service() peripheral.ServiceSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.service
}

// AdvertiseAttempts returns how many times Advertise was called.
func (f *FakeStack) AdvertiseAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.advertiseAttempts
}

// AdvertisedName returns the name passed to the last Advertise call.
func (f *FakeStack) AdvertisedName() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.advertisedName
}

// Closed reports whether Close was called.
func (f *FakeStack) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
