// Package rsc implements the Running Speed and Cadence side of the
// pipeline: mapping cadence to speed and encoding the RSC Measurement
// characteristic payload.
package rsc

// Bluetooth SIG assigned numbers for the Running Speed and Cadence
// profile.
const (
	// ServiceUUID is the RSC primary service.
	ServiceUUID = "1814"
	// MeasurementUUID is the RSC Measurement characteristic (notify).
	MeasurementUUID = "2a53"
	// SensorLocationUUID is the Sensor Location characteristic (read).
	SensorLocationUUID = "2a5d"
)

// SensorLocationTopOfShoe is the Sensor Location value this device
// reports.
const SensorLocationTopOfShoe byte = 0x01
