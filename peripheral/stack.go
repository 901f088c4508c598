// Package peripheral manages the GATT server side of the device: it
// registers the RSC service with the host's BLE stack, keeps the
// advertisement alive, tracks subscribed centrals, and fans
// measurement notifications out to them.
package peripheral

import "context"

// Sender delivers one notification payload to a subscribed central.
type Sender func(payload []byte) error

// AttachFunc is invoked by a Stack when a central subscribes to a
// notifying characteristic. The returned release function is called
// exactly once when the subscription ends, from any goroutine.
type AttachFunc func(central string, send Sender) (release func())

// CharacteristicSpec describes one characteristic of a registered
// service. Value is served on reads; Notify enables subscriptions.
type CharacteristicSpec struct {
	UUID   string
	Value  []byte
	Notify bool
}

// ServiceSpec describes a primary GATT service.
type ServiceSpec struct {
	UUID            string
	Characteristics []CharacteristicSpec
}

// Stack abstracts the host BLE stack. The production implementation
// wraps go-ble's Linux HCI device; tests substitute a fake.
type Stack interface {
	// Register adds the service to the GATT database. attach is
	// called for every central subscription on a Notify
	// characteristic.
	Register(svc ServiceSpec, attach AttachFunc) error

	// Advertise broadcasts connectable advertisements carrying the
	// device name and service UUIDs. It blocks until ctx is canceled
	// (returning nil) or the stack fails.
	Advertise(ctx context.Context, name string, serviceUUIDs ...string) error

	// Close releases the underlying device.
	Close() error
}

// RegistrationError reports a failure to stand up the GATT service or
// its advertisement. It is fatal to the daemon.
type RegistrationError struct {
	Op  string
	Err error
}

func (e *RegistrationError) Error() string {
	return "peripheral " + e.Op + " failed: " + e.Err.Error()
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}
