package main

import (
	"errors"

	"github.com/srg/strided/daemon"
	"github.com/srg/strided/peripheral"
)

// FormatUserError rewrites well-known failures into actionable
// messages; anything else passes through unchanged.
func FormatUserError(err error) string {
	var regErr *peripheral.RegistrationError
	if errors.As(err, &regErr) {
		return regErr.Error() + " (is bluetoothd stopped and the adapter up?)"
	}
	if errors.Is(err, daemon.ErrSensorLost) {
		return err.Error() + " (check the accelerometer wiring and serial port)"
	}
	return err.Error()
}
